package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/infodancer/outlook-mcp/internal/mailstore"
	"github.com/infodancer/outlook-mcp/internal/rpc"
)

const (
	defaultLimit = 50
	maxLimit     = 1000
)

type initializeParams struct {
	ClientName    string          `json:"client_name"`
	ClientVersion string          `json:"client_version"`
	Capabilities  json.RawMessage `json:"capabilities"`
}

type listParams struct {
	FolderID   string `json:"folder_id"`
	UnreadOnly bool   `json:"unread_only"`
	Limit      *int   `json:"limit"`
}

type getEmailParams struct {
	EmailID            string `json:"email_id"`
	IncludeBody        *bool  `json:"include_body"`
	IncludeAttachments *bool  `json:"include_attachments"`
	BodyFormat         string `json:"body_format"`
}

type searchParams struct {
	Query    string `json:"query"`
	FolderID string `json:"folder_id"`
	Limit    *int   `json:"limit"`
}

type sendParams struct {
	To          []string `json:"to"`
	CC          []string `json:"cc"`
	BCC         []string `json:"bcc"`
	Subject     string   `json:"subject"`
	Body        string   `json:"body"`
	BodyFormat  string   `json:"body_format"`
	Importance  string   `json:"importance"`
	Attachments []string `json:"attachments"`
	SaveToSent  *bool    `json:"save_to_sent"`
}

// knownFields maps each method to the parameter names it understands.
// Unknown fields are accepted but logged.
var knownFields = map[string][]string{
	"initialize":        {"client_name", "client_version", "capabilities"},
	"get_folders":       {},
	"list_inbox_emails": {"unread_only", "limit"},
	"list_emails":       {"folder_id", "unread_only", "limit"},
	"get_email":         {"email_id", "include_body", "include_attachments", "body_format"},
	"search_emails":     {"query", "folder_id", "limit"},
	"send_email":        {"to", "cc", "bcc", "subject", "body", "body_format", "importance", "attachments", "save_to_sent"},
}

// decodeParams unmarshals raw params into dst, logging any fields the
// method does not define. A missing params member decodes to defaults.
func decodeParams(logger *slog.Logger, method string, raw json.RawMessage, dst any) *rpc.ErrorObject {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] != '{' {
		return rpc.InvalidParams("params must be an object")
	}

	var seen map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &seen); err != nil {
		return rpc.InvalidParams("malformed params: " + err.Error())
	}
	known := knownFields[method]
	for field := range seen {
		found := false
		for _, k := range known {
			if field == k {
				found = true
				break
			}
		}
		if !found {
			logger.Warn("ignoring unknown parameter", "field", field)
			delete(seen, field)
		}
	}

	cleaned, err := json.Marshal(seen)
	if err != nil {
		return rpc.InvalidParams("malformed params: " + err.Error())
	}
	if err := json.Unmarshal(cleaned, dst); err != nil {
		return rpc.InvalidParams("invalid parameter type: " + err.Error())
	}
	return nil
}

// normalizeLimit applies the default and range rules for list limits.
func normalizeLimit(limit *int) (int, *rpc.ErrorObject) {
	if limit == nil {
		return defaultLimit, nil
	}
	if *limit < 1 || *limit > maxLimit {
		return 0, rpc.InvalidParams(fmt.Sprintf("limit must be between 1 and %d", maxLimit))
	}
	return *limit, nil
}

// validateSend applies the syntactic rules for outgoing mail.
func validateSend(p *sendParams) (*mailstore.OutgoingEmail, *rpc.ErrorObject) {
	if len(p.To) == 0 {
		return nil, rpc.InvalidParams("to must contain at least one recipient")
	}
	for _, group := range [][]string{p.To, p.CC, p.BCC} {
		for _, addr := range group {
			if !mailstore.ValidAddress(addr) {
				return nil, rpc.InvalidParams(fmt.Sprintf("invalid email address %q", addr))
			}
		}
	}
	if !mailstore.ValidBodyFormat(mailstore.BodyFormat(p.BodyFormat)) {
		return nil, rpc.InvalidParams(fmt.Sprintf("invalid body_format %q", p.BodyFormat))
	}
	if !mailstore.ValidImportance(mailstore.Importance(p.Importance)) {
		return nil, rpc.InvalidParams(fmt.Sprintf("invalid importance %q", p.Importance))
	}
	// Attachment paths are checked up front so a bad path fails before
	// the request consumes a connection.
	for _, path := range p.Attachments {
		f, err := os.Open(path)
		if err != nil {
			return nil, rpc.InvalidParams(fmt.Sprintf("attachment %q is not readable", path))
		}
		info, err := f.Stat()
		f.Close()
		if err != nil || info.IsDir() {
			return nil, rpc.InvalidParams(fmt.Sprintf("attachment %q is not a regular file", path))
		}
	}

	msg := &mailstore.OutgoingEmail{
		To:          p.To,
		CC:          p.CC,
		BCC:         p.BCC,
		Subject:     p.Subject,
		Body:        p.Body,
		BodyFormat:  mailstore.BodyFormat(p.BodyFormat),
		Importance:  mailstore.Importance(p.Importance),
		Attachments: p.Attachments,
		SaveToSent:  true,
	}
	if msg.BodyFormat == "" {
		msg.BodyFormat = mailstore.BodyFormatText
	}
	if msg.Importance == "" {
		msg.Importance = mailstore.ImportanceNormal
	}
	if p.SaveToSent != nil {
		msg.SaveToSent = *p.SaveToSent
	}
	return msg, nil
}
