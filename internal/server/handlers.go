package server

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/infodancer/outlook-mcp/internal/cache"
	"github.com/infodancer/outlook-mcp/internal/mailstore"
	"github.com/infodancer/outlook-mcp/internal/rpc"
)

// maxRetries bounds handler-level retries of transient store failures.
const maxRetries = 2

type listResult struct {
	Emails     []mailstore.EmailSummary `json:"emails"`
	TotalCount int                      `json:"total_count"`
	Folder     string                   `json:"folder"`
}

type searchResult struct {
	Emails     []mailstore.EmailSummary `json:"emails"`
	TotalCount int                      `json:"total_count"`
	Query      string                   `json:"query"`
}

func (s *Server) handleInitialize(sess *rpc.Session, raw []byte, logger *slog.Logger) (any, *rpc.ErrorObject) {
	var p initializeParams
	if eo := decodeParams(logger, "initialize", raw, &p); eo != nil {
		return nil, eo
	}
	if p.ClientName == "" {
		return nil, rpc.InvalidParams("client_name is required")
	}

	if eo := sess.BeginInitialize(p.ClientName, p.ClientVersion); eo != nil {
		return nil, eo
	}
	logger.Info("session initialized", "client_name", p.ClientName, "client_version", p.ClientVersion)
	sess.CompleteInitialize()

	return map[string]any{
		"server_name":    serverName,
		"server_version": serverVersion,
		"capabilities": map[string]any{
			"methods": []string{
				"get_folders", "list_inbox_emails", "list_emails",
				"get_email", "search_emails", "send_email",
			},
			"notifications": []string{"send_email"},
			"batching":      false,
			"sanitize_html": s.cfg.Security.SanitizeHTML,
		},
	}, nil
}

func (s *Server) handleGetFolders(ctx context.Context, raw []byte, logger *slog.Logger) (any, *rpc.ErrorObject) {
	var p struct{}
	if eo := decodeParams(logger, "get_folders", raw, &p); eo != nil {
		return nil, eo
	}

	v, err := s.cache.GetOrFill(ctx, cache.TierFolder, cache.FolderListKey(), func(ctx context.Context) (any, int64, error) {
		var folders []mailstore.Folder
		err := s.guard.DoWithRetry(ctx, maxRetries, func(store mailstore.Store) error {
			var err error
			folders, err = store.ListFolders(ctx)
			return err
		})
		if err != nil {
			return nil, 0, err
		}
		folders = s.applyFolderPolicy(folders)
		return folders, mailstore.FolderSizeEstimate(folders), nil
	})
	if err != nil {
		return nil, rpc.FromStoreError(err, true)
	}
	return map[string]any{"folders": v.([]mailstore.Folder)}, nil
}

func (s *Server) handleListInbox(ctx context.Context, raw []byte, logger *slog.Logger) (any, *rpc.ErrorObject) {
	var p listParams
	if eo := decodeParams(logger, "list_inbox_emails", raw, &p); eo != nil {
		return nil, eo
	}
	limit, eo := normalizeLimit(p.Limit)
	if eo != nil {
		return nil, eo
	}

	inboxID, err := s.resolveInbox(ctx)
	if err != nil {
		return nil, rpc.FromStoreError(err, true)
	}
	return s.listFolder(ctx, inboxID, p.UnreadOnly, limit)
}

func (s *Server) handleListEmails(ctx context.Context, raw []byte, logger *slog.Logger) (any, *rpc.ErrorObject) {
	var p listParams
	if eo := decodeParams(logger, "list_emails", raw, &p); eo != nil {
		return nil, eo
	}
	if strings.TrimSpace(p.FolderID) == "" {
		return nil, rpc.InvalidParams("folder_id is required")
	}
	limit, eo := normalizeLimit(p.Limit)
	if eo != nil {
		return nil, eo
	}
	if !s.folderAllowed(p.FolderID) {
		return nil, rpc.PermissionDenied(fmt.Sprintf("folder %s is not accessible", p.FolderID))
	}
	return s.listFolder(ctx, p.FolderID, p.UnreadOnly, limit)
}

// listFolder is the shared body of list_inbox_emails and list_emails.
func (s *Server) listFolder(ctx context.Context, folderID string, unreadOnly bool, limit int) (any, *rpc.ErrorObject) {
	key := cache.ListKey(folderID, unreadOnly, limit)
	v, err := s.cache.GetOrFill(ctx, cache.TierSummary, key, func(ctx context.Context) (any, int64, error) {
		var emails []mailstore.EmailSummary
		err := s.guard.DoWithRetry(ctx, maxRetries, func(store mailstore.Store) error {
			var err error
			emails, err = store.ListEmails(ctx, folderID, unreadOnly, limit)
			return err
		})
		if err != nil {
			return nil, 0, err
		}
		return emails, mailstore.SummarySizeEstimate(emails), nil
	})
	if err != nil {
		return nil, rpc.FromStoreError(err, true)
	}

	emails := v.([]mailstore.EmailSummary)
	return listResult{Emails: emails, TotalCount: len(emails), Folder: folderID}, nil
}

func (s *Server) handleGetEmail(ctx context.Context, raw []byte, logger *slog.Logger) (any, *rpc.ErrorObject) {
	var p getEmailParams
	if eo := decodeParams(logger, "get_email", raw, &p); eo != nil {
		return nil, eo
	}
	if strings.TrimSpace(p.EmailID) == "" {
		return nil, rpc.InvalidParams("email_id is required")
	}
	format := mailstore.BodyFormat(p.BodyFormat)
	if format == "" {
		format = mailstore.BodyFormatHTML
	}
	if !mailstore.ValidBodyFormat(format) {
		return nil, rpc.InvalidParams(fmt.Sprintf("invalid body_format %q", p.BodyFormat))
	}

	v, err := s.cache.GetOrFill(ctx, cache.TierEmail, cache.EmailKey(p.EmailID), func(ctx context.Context) (any, int64, error) {
		var email *mailstore.EmailFull
		err := s.guard.DoWithRetry(ctx, maxRetries, func(store mailstore.Store) error {
			var err error
			email, err = store.GetEmail(ctx, p.EmailID)
			return err
		})
		if err != nil {
			return nil, 0, err
		}
		return email, email.SizeEstimate(), nil
	})
	if err != nil {
		return nil, rpc.FromStoreError(err, false)
	}

	email := shapeEmail(v.(*mailstore.EmailFull), p, format, s.cfg.Security.MaxEmailSizeBytes, logger)
	return map[string]any{"email": email}, nil
}

// shapeEmail applies the response options to a copy of the cached
// message: body/attachment stripping, format selection, and the size
// cap. The cached value itself is never mutated.
func shapeEmail(src *mailstore.EmailFull, p getEmailParams, format mailstore.BodyFormat, maxSize int64, logger *slog.Logger) *mailstore.EmailFull {
	email := *src
	email.Attachments = append([]mailstore.Attachment(nil), src.Attachments...)

	if p.IncludeBody != nil && !*p.IncludeBody {
		email.BodyText = ""
		email.BodyHTML = ""
	} else {
		switch format {
		case mailstore.BodyFormatText:
			email.BodyHTML = ""
		case mailstore.BodyFormatHTML:
			// Keep HTML when present, fall back to text.
			if email.BodyHTML != "" {
				email.BodyText = ""
			}
		}
	}
	if p.IncludeAttachments != nil && !*p.IncludeAttachments {
		email.Attachments = nil
	}

	if maxSize > 0 {
		if over := int64(len(email.BodyText)+len(email.BodyHTML)) - maxSize; over > 0 {
			logger.Warn("truncating oversized email body", "email_size", len(email.BodyText)+len(email.BodyHTML), "max_size", maxSize)
			if int64(len(email.BodyHTML)) > maxSize {
				email.BodyHTML = email.BodyHTML[:maxSize]
				email.BodyText = ""
			} else if n := maxSize - int64(len(email.BodyHTML)); int64(len(email.BodyText)) > n {
				email.BodyText = email.BodyText[:n]
			}
			email.Truncated = true
		}
	}
	return &email
}

func (s *Server) handleSearchEmails(ctx context.Context, raw []byte, logger *slog.Logger) (any, *rpc.ErrorObject) {
	var p searchParams
	if eo := decodeParams(logger, "search_emails", raw, &p); eo != nil {
		return nil, eo
	}
	if strings.TrimSpace(p.Query) == "" {
		return nil, rpc.InvalidParams("query is required")
	}
	limit, eo := normalizeLimit(p.Limit)
	if eo != nil {
		return nil, eo
	}
	if p.FolderID != "" && !s.folderAllowed(p.FolderID) {
		return nil, rpc.PermissionDenied(fmt.Sprintf("folder %s is not accessible", p.FolderID))
	}

	key := cache.SearchKey(p.Query, p.FolderID, limit)
	v, err := s.cache.GetOrFill(ctx, cache.TierSummary, key, func(ctx context.Context) (any, int64, error) {
		var emails []mailstore.EmailSummary
		err := s.guard.DoWithRetry(ctx, maxRetries, func(store mailstore.Store) error {
			var err error
			emails, err = store.Search(ctx, p.Query, p.FolderID, limit)
			return err
		})
		if err != nil {
			return nil, 0, err
		}
		return emails, mailstore.SummarySizeEstimate(emails), nil
	})
	if err != nil {
		// Store-side search failures get the search_failed code;
		// availability and policy failures keep their own codes.
		if mailstore.IsKind(err, mailstore.KindPermanent) {
			return nil, rpc.SearchFailed("mail store search failed")
		}
		return nil, rpc.FromStoreError(err, true)
	}

	emails := v.([]mailstore.EmailSummary)
	return searchResult{Emails: emails, TotalCount: len(emails), Query: p.Query}, nil
}

func (s *Server) handleSendEmail(ctx context.Context, raw []byte, logger *slog.Logger) (any, *rpc.ErrorObject) {
	var p sendParams
	if eo := decodeParams(logger, "send_email", raw, &p); eo != nil {
		return nil, eo
	}
	msg, eo := validateSend(&p)
	if eo != nil {
		return nil, eo
	}

	var emailID string
	err := s.guard.DoWithRetry(ctx, maxRetries, func(store mailstore.Store) error {
		var err error
		emailID, err = store.Send(ctx, msg)
		return err
	})
	if err != nil {
		return nil, rpc.FromStoreError(err, false)
	}

	// The sent message lands in Sent Items; stale listings must not
	// survive it.
	s.invalidateAfterSend(ctx, logger)
	logger.Info("email sent", "recipients", len(msg.Recipients()), "attachments", len(msg.Attachments))

	return map[string]any{
		"email_id":      emailID,
		"status":        "sent",
		"saved_to_sent": msg.SaveToSent,
	}, nil
}

// invalidateAfterSend drops the folder tree and any cached listing or
// search that could include the Sent Items folder.
func (s *Server) invalidateAfterSend(ctx context.Context, logger *slog.Logger) {
	n := s.cache.Invalidate("list:")
	n += s.cache.Invalidate("search:")
	n += s.cache.Invalidate(cache.FolderListKey())
	logger.Debug("invalidated cache after send", "entries", n)
}

// resolveInbox returns the inbox folder id, cached alongside the folder
// tree.
func (s *Server) resolveInbox(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.inboxID != "" {
		id := s.inboxID
		s.mu.Unlock()
		return id, nil
	}
	s.mu.Unlock()

	var id string
	err := s.guard.DoWithRetry(ctx, maxRetries, func(store mailstore.Store) error {
		var err error
		id, err = store.ResolveInbox(ctx)
		return err
	})
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	s.inboxID = id
	s.mu.Unlock()
	return id, nil
}

// folderAllowed applies the allowed/blocked folder policy to an id or
// display name.
func (s *Server) folderAllowed(folder string) bool {
	for _, blocked := range s.cfg.Security.BlockedFolders {
		if strings.EqualFold(folder, blocked) {
			return false
		}
	}
	if len(s.cfg.Security.AllowedFolders) == 0 {
		return true
	}
	for _, allowed := range s.cfg.Security.AllowedFolders {
		if strings.EqualFold(folder, allowed) {
			return true
		}
	}
	return false
}

// applyFolderPolicy filters the folder tree to what the policy exposes.
func (s *Server) applyFolderPolicy(folders []mailstore.Folder) []mailstore.Folder {
	out := make([]mailstore.Folder, 0, len(folders))
	for _, f := range folders {
		if !s.folderAllowed(f.ID) && !s.folderAllowed(f.Name) {
			continue
		}
		if !s.folderAllowed(f.Name) || !s.folderAllowed(f.ID) {
			f.Accessible = false
		}
		out = append(out, f)
	}
	return out
}
