package mailstore

import (
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"
)

// FolderType classifies what a folder holds.
type FolderType string

const (
	FolderTypeMail     FolderType = "Mail"
	FolderTypeCalendar FolderType = "Calendar"
	FolderTypeContacts FolderType = "Contacts"
	FolderTypeNotes    FolderType = "Notes"
	FolderTypeTasks    FolderType = "Tasks"
	FolderTypeOther    FolderType = "Other"
)

// Importance is the message priority flag.
type Importance string

const (
	ImportanceLow    Importance = "Low"
	ImportanceNormal Importance = "Normal"
	ImportanceHigh   Importance = "High"
)

// BodyFormat selects the representation of an outgoing message body.
type BodyFormat string

const (
	BodyFormatText BodyFormat = "text"
	BodyFormatHTML BodyFormat = "html"
	BodyFormatRTF  BodyFormat = "rtf"
)

// PreviewLimit is the maximum length of a body preview in characters.
const PreviewLimit = 255

// Folder describes one folder in the store's tree. The ID is opaque and
// stable for the lifetime of a server run.
type Folder struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	FullPath      string     `json:"full_path"`
	ParentID      string     `json:"parent_id,omitempty"`
	ItemCount     int        `json:"item_count"`
	UnreadCount   int        `json:"unread_count"`
	FolderType    FolderType `json:"folder_type"`
	Accessible    bool       `json:"accessible"`
	HasSubfolders bool       `json:"has_subfolders"`
}

// EmailSummary is the listing view of a message. SizeBytes of zero means
// the store did not report a size.
type EmailSummary struct {
	ID             string     `json:"id"`
	Subject        string     `json:"subject"`
	SenderName     string     `json:"sender_name"`
	SenderEmail    string     `json:"sender_email"`
	Recipients     []string   `json:"recipients"`
	ReceivedTime   time.Time  `json:"received_time"`
	SentTime       time.Time  `json:"sent_time"`
	IsRead         bool       `json:"is_read"`
	HasAttachments bool       `json:"has_attachments"`
	Importance     Importance `json:"importance"`
	FolderID       string     `json:"folder_id"`
	SizeBytes      int64      `json:"size_bytes"`
	BodyPreview    string     `json:"body_preview"`
}

// Attachment describes one attachment without its content.
type Attachment struct {
	Name      string `json:"name"`
	SizeBytes int64  `json:"size_bytes"`
	MimeType  string `json:"mime_type"`
}

// EmailFull is the complete view of a message. BodyHTML is returned raw;
// sanitization is the caller's concern.
type EmailFull struct {
	EmailSummary

	BodyText    string       `json:"body_text"`
	BodyHTML    string       `json:"body_html"`
	CC          []string     `json:"cc"`
	BCC         []string     `json:"bcc"`
	Attachments []Attachment `json:"attachments"`

	// Truncated is set when the body was cut to fit the configured
	// size cap.
	Truncated bool `json:"truncated,omitempty"`
}

// OutgoingEmail is a message to be sent. Attachment entries are local file
// paths readable by the server process.
type OutgoingEmail struct {
	To          []string   `json:"to"`
	CC          []string   `json:"cc,omitempty"`
	BCC         []string   `json:"bcc,omitempty"`
	Subject     string     `json:"subject"`
	Body        string     `json:"body"`
	BodyFormat  BodyFormat `json:"body_format,omitempty"`
	Importance  Importance `json:"importance,omitempty"`
	Attachments []string   `json:"attachments,omitempty"`
	SaveToSent  bool       `json:"save_to_sent"`
}

// Recipients returns all recipient addresses across to/cc/bcc.
func (m *OutgoingEmail) Recipients() []string {
	all := make([]string, 0, len(m.To)+len(m.CC)+len(m.BCC))
	all = append(all, m.To...)
	all = append(all, m.CC...)
	all = append(all, m.BCC...)
	return all
}

// ValidAddress reports whether addr parses as a bare RFC 5322 address.
func ValidAddress(addr string) bool {
	if addr == "" || strings.ContainsAny(addr, "\r\n") {
		return false
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return false
	}
	// Reject display-name forms; the wire format carries bare addresses.
	return parsed.Address == addr
}

// ValidImportance reports whether s is one of the known importance values.
// The empty string is valid and means Normal.
func ValidImportance(s Importance) bool {
	switch s {
	case "", ImportanceLow, ImportanceNormal, ImportanceHigh:
		return true
	default:
		return false
	}
}

// ValidBodyFormat reports whether s is one of the known body formats.
// The empty string is valid and means html.
func ValidBodyFormat(s BodyFormat) bool {
	switch s {
	case "", BodyFormatText, BodyFormatHTML, BodyFormatRTF:
		return true
	default:
		return false
	}
}

// Preview derives a body preview from plain text: whitespace collapsed and
// truncated to PreviewLimit characters on a rune boundary.
func Preview(bodyText string) string {
	s := strings.Join(strings.Fields(bodyText), " ")
	if utf8.RuneCountInString(s) <= PreviewLimit {
		return s
	}
	runes := []rune(s)
	return string(runes[:PreviewLimit])
}

// SizeEstimate approximates the in-memory footprint of a full email for
// cache accounting.
func (e *EmailFull) SizeEstimate() int64 {
	n := int64(len(e.Subject) + len(e.BodyText) + len(e.BodyHTML) + len(e.BodyPreview))
	for _, r := range e.Recipients {
		n += int64(len(r))
	}
	for _, r := range e.CC {
		n += int64(len(r))
	}
	for _, r := range e.BCC {
		n += int64(len(r))
	}
	for _, a := range e.Attachments {
		n += int64(len(a.Name) + len(a.MimeType))
	}
	// Fixed overhead for the struct itself and time fields.
	return n + 256
}

// SummarySizeEstimate approximates the footprint of a summary list for
// cache accounting.
func SummarySizeEstimate(list []EmailSummary) int64 {
	var n int64
	for i := range list {
		s := &list[i]
		n += int64(len(s.ID) + len(s.Subject) + len(s.SenderName) + len(s.SenderEmail) + len(s.BodyPreview) + len(s.FolderID))
		for _, r := range s.Recipients {
			n += int64(len(r))
		}
		n += 192
	}
	return n
}

// FolderSizeEstimate approximates the footprint of a folder list for
// cache accounting.
func FolderSizeEstimate(list []Folder) int64 {
	var n int64
	for i := range list {
		f := &list[i]
		n += int64(len(f.ID) + len(f.Name) + len(f.FullPath) + len(f.ParentID))
		n += 96
	}
	return n
}
