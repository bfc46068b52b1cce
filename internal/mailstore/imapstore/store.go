// Package imapstore implements mailstore.Store against an IMAP server
// for reads and an SMTP server for send. It is the reference backend;
// any store with equivalent folder and message semantics can stand in.
package imapstore

import (
	"context"
	"fmt"
	"io"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/jordan-wright/email"

	"github.com/infodancer/outlook-mcp/internal/mailstore"
)

// maxBodyBytes bounds how much of a message body is read per fetch.
const maxBodyBytes = 50 << 20

// Options configures a connection.
type Options struct {
	// IMAPAddress is the host:port of the IMAP server (implicit TLS).
	IMAPAddress string

	// SMTPAddress is the host:port of the SMTP submission endpoint.
	SMTPAddress string

	Username string
	Password string

	// FromAddress is the envelope sender for outgoing mail.
	FromAddress string
}

// Store is one live IMAP connection. It is not safe for concurrent use;
// the pool guarantees exclusive access per operation.
type Store struct {
	opts   Options
	client *imapclient.Client

	// selected tracks the currently selected mailbox to avoid
	// redundant SELECT round trips.
	selected string
}

// Dialer returns a mailstore.Dialer that opens one connection per call.
func Dialer(opts Options) mailstore.Dialer {
	return mailstore.DialerFunc(func(ctx context.Context) (mailstore.Store, error) {
		return Dial(ctx, opts)
	})
}

// Dial connects and authenticates.
func Dial(ctx context.Context, opts Options) (*Store, error) {
	client, err := imapclient.DialTLS(opts.IMAPAddress, nil)
	if err != nil {
		return nil, mailstore.NewError(mailstore.KindUnavailable, "dial", err)
	}
	if err := client.Login(opts.Username, opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, mailstore.NewError(mailstore.KindPermissionDenied, "login", err)
	}
	return &Store{opts: opts, client: client}, nil
}

// Probe implements mailstore.Store.
func (s *Store) Probe(ctx context.Context) error {
	if err := s.client.Noop().Wait(); err != nil {
		return mailstore.NewError(mailstore.KindUnavailable, "probe", err)
	}
	return nil
}

// ListFolders implements mailstore.Store.
func (s *Store) ListFolders(ctx context.Context) ([]mailstore.Folder, error) {
	listCmd := s.client.List("", "*", &imap.ListOptions{
		ReturnStatus: &imap.StatusOptions{
			NumMessages: true,
			NumUnseen:   true,
		},
	})
	mailboxes, err := listCmd.Collect()
	if err != nil {
		return nil, translate("list_folders", err)
	}

	folders := make([]mailstore.Folder, 0, len(mailboxes))
	for _, mbox := range mailboxes {
		folder := mailstore.Folder{
			ID:         mbox.Mailbox,
			Name:       leafName(mbox.Mailbox, mbox.Delim),
			FullPath:   "/" + strings.ReplaceAll(mbox.Mailbox, string(mbox.Delim), "/"),
			FolderType: mailstore.FolderTypeMail,
			Accessible: true,
		}
		if parent := parentName(mbox.Mailbox, mbox.Delim); parent != "" {
			folder.ParentID = parent
		}
		for _, attr := range mbox.Attrs {
			switch attr {
			case imap.MailboxAttrNoSelect:
				folder.Accessible = false
			case imap.MailboxAttrHasChildren:
				folder.HasSubfolders = true
			}
		}
		if mbox.Status != nil {
			if mbox.Status.NumMessages != nil {
				folder.ItemCount = int(*mbox.Status.NumMessages)
			}
			if mbox.Status.NumUnseen != nil {
				folder.UnreadCount = int(*mbox.Status.NumUnseen)
			}
		}
		folders = append(folders, folder)
	}
	return folders, nil
}

// ResolveInbox implements mailstore.Store. IMAP reserves the INBOX name
// case-insensitively.
func (s *Store) ResolveInbox(ctx context.Context) (string, error) {
	return "INBOX", nil
}

// ListEmails implements mailstore.Store.
func (s *Store) ListEmails(ctx context.Context, folderID string, unreadOnly bool, limit int) ([]mailstore.EmailSummary, error) {
	if err := s.selectFolder(folderID); err != nil {
		return nil, err
	}

	criteria := &imap.SearchCriteria{}
	if unreadOnly {
		criteria.NotFlag = []imap.Flag{imap.FlagSeen}
	}
	searchData, err := s.client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, translate("list_emails", err)
	}

	uids := searchData.AllUIDs()
	// Highest UIDs are the newest; trim before fetching.
	if len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}
	summaries, err := s.fetchSummaries(folderID, uids)
	if err != nil {
		return nil, err
	}
	reverse(summaries)
	return summaries, nil
}

// GetEmail implements mailstore.Store.
func (s *Store) GetEmail(ctx context.Context, emailID string) (*mailstore.EmailFull, error) {
	folderID, uid, err := splitEmailID(emailID)
	if err != nil {
		return nil, err
	}
	if err := s.selectFolder(folderID); err != nil {
		return nil, err
	}

	uidSet := imap.UIDSet{}
	uidSet.AddNum(uid)
	fetchCmd := s.client.Fetch(uidSet, &imap.FetchOptions{
		Envelope:   true,
		Flags:      true,
		RFC822Size: true,
		UID:        true,
		BodySection: []*imap.FetchItemBodySection{
			{Specifier: imap.PartSpecifierNone, Peek: true},
		},
	})

	var found *mailstore.EmailFull
	for {
		msg := fetchCmd.Next()
		if msg == nil {
			break
		}
		full, err := s.readFullMessage(folderID, msg)
		if err != nil {
			_ = fetchCmd.Close()
			return nil, err
		}
		found = full
	}
	if err := fetchCmd.Close(); err != nil {
		return nil, translate("get_email", err)
	}
	if found == nil {
		return nil, mailstore.Errorf(mailstore.KindNotFound, "get_email", "email %s not found", emailID)
	}
	return found, nil
}

// Search implements mailstore.Store. The query is passed to the server
// as IMAP TEXT search, which covers headers and body.
func (s *Store) Search(ctx context.Context, query, folderID string, limit int) ([]mailstore.EmailSummary, error) {
	if folderID == "" {
		folderID = "INBOX"
	}
	if err := s.selectFolder(folderID); err != nil {
		return nil, err
	}

	searchData, err := s.client.UIDSearch(&imap.SearchCriteria{
		Text: []string{query},
	}, nil).Wait()
	if err != nil {
		return nil, translate("search", err)
	}

	uids := searchData.AllUIDs()
	if len(uids) > limit {
		uids = uids[len(uids)-limit:]
	}
	summaries, err := s.fetchSummaries(folderID, uids)
	if err != nil {
		return nil, err
	}
	reverse(summaries)
	return summaries, nil
}

// Send implements mailstore.Store. Delivery goes over SMTP; IMAP
// servers append to the sent folder themselves or via client APPEND,
// which submission endpoints commonly handle.
func (s *Store) Send(ctx context.Context, msg *mailstore.OutgoingEmail) (string, error) {
	e := email.NewEmail()
	e.From = s.opts.FromAddress
	e.To = msg.To
	e.Cc = msg.CC
	e.Bcc = msg.BCC
	e.Subject = msg.Subject
	switch msg.BodyFormat {
	case mailstore.BodyFormatHTML:
		e.HTML = []byte(msg.Body)
	default:
		e.Text = []byte(msg.Body)
	}
	if msg.Importance == mailstore.ImportanceHigh {
		e.Headers.Set("X-Priority", "1")
	}
	for _, path := range msg.Attachments {
		if _, err := e.AttachFile(path); err != nil {
			return "", mailstore.Errorf(mailstore.KindInvalidArgument, "send", "cannot attach %s: %v", path, err)
		}
	}

	host := s.opts.SMTPAddress
	if i := strings.LastIndex(host, ":"); i >= 0 {
		host = host[:i]
	}
	auth := smtp.PlainAuth("", s.opts.Username, s.opts.Password, host)
	if err := e.Send(s.opts.SMTPAddress, auth); err != nil {
		return "", translate("send", err)
	}

	id := e.Headers.Get("Message-Id")
	if id == "" {
		id = fmt.Sprintf("sent-%s", msg.Subject)
	}
	return id, nil
}

// Close implements mailstore.Store.
func (s *Store) Close() error {
	if err := s.client.Logout().Wait(); err != nil {
		return s.client.Close()
	}
	return s.client.Close()
}

// selectFolder issues SELECT when the mailbox changes.
func (s *Store) selectFolder(folderID string) error {
	if s.selected == folderID {
		return nil
	}
	if _, err := s.client.Select(folderID, &imap.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		s.selected = ""
		if isNotFound(err) {
			return mailstore.Errorf(mailstore.KindNotFound, "select", "folder %s not found", folderID)
		}
		return translate("select", err)
	}
	s.selected = folderID
	return nil
}

// fetchSummaries retrieves envelope-level data for the given UIDs.
func (s *Store) fetchSummaries(folderID string, uids []imap.UID) ([]mailstore.EmailSummary, error) {
	if len(uids) == 0 {
		return []mailstore.EmailSummary{}, nil
	}
	uidSet := imap.UIDSet{}
	for _, uid := range uids {
		uidSet.AddNum(uid)
	}

	fetchCmd := s.client.Fetch(uidSet, &imap.FetchOptions{
		Envelope:   true,
		Flags:      true,
		RFC822Size: true,
		UID:        true,
	})
	buffers, err := fetchCmd.Collect()
	if err != nil {
		return nil, translate("fetch", err)
	}

	summaries := make([]mailstore.EmailSummary, 0, len(buffers))
	for _, buf := range buffers {
		summaries = append(summaries, summaryFromBuffer(folderID, buf))
	}
	return summaries, nil
}

// readFullMessage drains one streamed fetch result into an EmailFull.
func (s *Store) readFullMessage(folderID string, msg *imapclient.FetchMessageData) (*mailstore.EmailFull, error) {
	var (
		uid      imap.UID
		envelope *imap.Envelope
		flags    []imap.Flag
		size     int64
		raw      []byte
	)

	for {
		item := msg.Next()
		if item == nil {
			break
		}
		switch data := item.(type) {
		case imapclient.FetchItemDataUID:
			uid = data.UID
		case imapclient.FetchItemDataEnvelope:
			envelope = data.Envelope
		case imapclient.FetchItemDataFlags:
			flags = data.Flags
		case imapclient.FetchItemDataRFC822Size:
			size = data.Size
		case imapclient.FetchItemDataBodySection:
			if data.Literal != nil {
				var err error
				raw, err = io.ReadAll(io.LimitReader(data.Literal, maxBodyBytes))
				if err != nil {
					return nil, translate("fetch", err)
				}
			}
		}
	}

	full := &mailstore.EmailFull{
		EmailSummary: summaryFields(folderID, uid, envelope, flags, size),
	}
	bodyText, bodyHTML, attachments := parseBody(raw)
	full.BodyText = bodyText
	full.BodyHTML = bodyHTML
	full.Attachments = attachments
	full.HasAttachments = len(attachments) > 0
	if full.BodyPreview == "" {
		full.BodyPreview = mailstore.Preview(bodyText)
	}
	if envelope != nil {
		full.CC = addressList(envelope.Cc)
		full.BCC = addressList(envelope.Bcc)
	}
	return full, nil
}

// splitEmailID decodes the "folder:uid" message id form.
func splitEmailID(emailID string) (folder string, uid imap.UID, err error) {
	i := strings.LastIndex(emailID, ":")
	if i <= 0 || i == len(emailID)-1 {
		return "", 0, mailstore.Errorf(mailstore.KindInvalidArgument, "get_email", "malformed email id %q", emailID)
	}
	n, convErr := strconv.ParseUint(emailID[i+1:], 10, 32)
	if convErr != nil {
		return "", 0, mailstore.Errorf(mailstore.KindInvalidArgument, "get_email", "malformed email id %q", emailID)
	}
	return emailID[:i], imap.UID(n), nil
}

// emailID encodes a message id from its folder and UID.
func emailID(folder string, uid imap.UID) string {
	return fmt.Sprintf("%s:%d", folder, uid)
}

func leafName(mailbox string, delim rune) string {
	if delim == 0 {
		return mailbox
	}
	parts := strings.Split(mailbox, string(delim))
	return parts[len(parts)-1]
}

func parentName(mailbox string, delim rune) string {
	if delim == 0 {
		return ""
	}
	i := strings.LastIndex(mailbox, string(delim))
	if i < 0 {
		return ""
	}
	return mailbox[:i]
}

func reverse(list []mailstore.EmailSummary) {
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
}
