package imapstore

import (
	"strings"
	"testing"

	"github.com/emersion/go-imap/v2"

	"github.com/infodancer/outlook-mcp/internal/mailstore"
)

func TestEmailIDRoundTrip(t *testing.T) {
	tests := []struct {
		folder string
		uid    uint32
	}{
		{"INBOX", 1},
		{"Sent Items", 4294967295},
		{"Archive/2026:Q1", 17},
	}
	for _, tt := range tests {
		id := emailID(tt.folder, imap.UID(tt.uid))
		folder, uid, err := splitEmailID(id)
		if err != nil {
			t.Fatalf("splitEmailID(%q): %v", id, err)
		}
		if folder != tt.folder || uint32(uid) != tt.uid {
			t.Errorf("splitEmailID(%q) = %q, %d", id, folder, uid)
		}
	}
}

func TestSplitEmailIDRejectsMalformed(t *testing.T) {
	for _, id := range []string{"", "INBOX", "INBOX:", ":5", "INBOX:notanumber", "INBOX:-3"} {
		if _, _, err := splitEmailID(id); err == nil {
			t.Errorf("splitEmailID(%q) succeeded", id)
		} else if !mailstore.IsKind(err, mailstore.KindInvalidArgument) {
			t.Errorf("splitEmailID(%q) error kind = %v, want invalid argument", id, err)
		}
	}
}

func TestMailboxNames(t *testing.T) {
	if got := leafName("Archive/2026/Q1", '/'); got != "Q1" {
		t.Errorf("leafName = %q, want Q1", got)
	}
	if got := parentName("Archive/2026/Q1", '/'); got != "Archive/2026" {
		t.Errorf("parentName = %q, want Archive/2026", got)
	}
	if got := leafName("INBOX", '/'); got != "INBOX" {
		t.Errorf("leafName = %q, want INBOX", got)
	}
	if got := parentName("INBOX", '/'); got != "" {
		t.Errorf("parentName = %q, want empty", got)
	}
	if got := leafName("INBOX", 0); got != "INBOX" {
		t.Errorf("leafName without delimiter = %q, want INBOX", got)
	}
}

func TestParseBodyMultipart(t *testing.T) {
	raw := strings.Join([]string{
		"From: sender@example.com",
		"To: rcpt@example.com",
		"Subject: parts",
		"MIME-Version: 1.0",
		`Content-Type: multipart/mixed; boundary="outer"`,
		"",
		"--outer",
		"Content-Type: text/plain; charset=utf-8",
		"",
		"plain body",
		"--outer",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>html body</p>",
		"--outer",
		"Content-Type: application/pdf",
		`Content-Disposition: attachment; filename="report.pdf"`,
		"",
		"%PDF-1.4 fake",
		"--outer--",
		"",
	}, "\r\n")

	text, html, attachments := parseBody([]byte(raw))
	if !strings.Contains(text, "plain body") {
		t.Errorf("text = %q", text)
	}
	if !strings.Contains(html, "html body") {
		t.Errorf("html = %q", html)
	}
	if len(attachments) != 1 {
		t.Fatalf("attachments = %d, want 1", len(attachments))
	}
	if attachments[0].Name != "report.pdf" || attachments[0].MimeType != "application/pdf" {
		t.Errorf("attachment = %+v", attachments[0])
	}
	if attachments[0].SizeBytes <= 0 {
		t.Errorf("attachment size = %d, want positive", attachments[0].SizeBytes)
	}
}

func TestParseBodyPlainFallback(t *testing.T) {
	text, html, attachments := parseBody([]byte("just bytes, no headers"))
	if text == "" || html != "" || attachments != nil {
		t.Errorf("fallback = %q, %q, %v", text, html, attachments)
	}
}

func TestParseBodyEmpty(t *testing.T) {
	text, html, attachments := parseBody(nil)
	if text != "" || html != "" || attachments != nil {
		t.Errorf("empty parse = %q, %q, %v", text, html, attachments)
	}
}
