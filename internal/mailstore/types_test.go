package mailstore

import (
	"strings"
	"testing"
)

func TestValidAddress(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"user@example.com", true},
		{"first.last+tag@sub.example.com", true},
		{"", false},
		{"not-an-address", false},
		{"User Name <user@example.com>", false},
		{"user@example.com\r\nBcc: evil@example.com", false},
		{"user@", false},
	}
	for _, tt := range tests {
		if got := ValidAddress(tt.addr); got != tt.want {
			t.Errorf("ValidAddress(%q) = %v, want %v", tt.addr, got, tt.want)
		}
	}
}

func TestValidImportance(t *testing.T) {
	for _, v := range []Importance{"", ImportanceLow, ImportanceNormal, ImportanceHigh} {
		if !ValidImportance(v) {
			t.Errorf("ValidImportance(%q) = false", v)
		}
	}
	for _, v := range []Importance{"urgent", "normal", "HIGH"} {
		if ValidImportance(v) {
			t.Errorf("ValidImportance(%q) = true", v)
		}
	}
}

func TestValidBodyFormat(t *testing.T) {
	for _, v := range []BodyFormat{"", BodyFormatText, BodyFormatHTML, BodyFormatRTF} {
		if !ValidBodyFormat(v) {
			t.Errorf("ValidBodyFormat(%q) = false", v)
		}
	}
	if ValidBodyFormat("markdown") {
		t.Error("ValidBodyFormat(markdown) = true")
	}
}

func TestPreview(t *testing.T) {
	if got := Preview("  hello\n\tworld  "); got != "hello world" {
		t.Errorf("Preview collapsed = %q, want 'hello world'", got)
	}

	long := strings.Repeat("word ", 100)
	got := Preview(long)
	if len([]rune(got)) != PreviewLimit {
		t.Errorf("Preview length = %d runes, want %d", len([]rune(got)), PreviewLimit)
	}

	// Truncation must not split a multi-byte rune.
	wide := strings.Repeat("é", PreviewLimit+10)
	got = Preview(wide)
	if len([]rune(got)) != PreviewLimit {
		t.Errorf("Preview wide length = %d runes, want %d", len([]rune(got)), PreviewLimit)
	}
	for _, r := range got {
		if r != 'é' {
			t.Fatalf("Preview corrupted rune %q", r)
		}
	}

	if got := Preview(""); got != "" {
		t.Errorf("Preview empty = %q", got)
	}
}

func TestRecipients(t *testing.T) {
	msg := OutgoingEmail{
		To:  []string{"a@example.com"},
		CC:  []string{"b@example.com"},
		BCC: []string{"c@example.com", "d@example.com"},
	}
	got := msg.Recipients()
	if len(got) != 4 {
		t.Fatalf("Recipients() returned %d addresses, want 4", len(got))
	}
	if got[0] != "a@example.com" || got[3] != "d@example.com" {
		t.Errorf("Recipients() = %v", got)
	}
}

func TestSizeEstimates(t *testing.T) {
	email := EmailFull{
		EmailSummary: EmailSummary{Subject: "hi"},
		BodyText:     strings.Repeat("x", 1000),
	}
	if got := email.SizeEstimate(); got < 1000 {
		t.Errorf("SizeEstimate() = %d, want at least the body length", got)
	}

	list := []EmailSummary{{Subject: "a"}, {Subject: "b"}}
	if got := SummarySizeEstimate(list); got <= 0 {
		t.Errorf("SummarySizeEstimate() = %d, want positive", got)
	}
	if SummarySizeEstimate(nil) != 0 {
		t.Error("SummarySizeEstimate(nil) != 0")
	}

	folders := []Folder{{ID: "f1", Name: "Inbox"}}
	if got := FolderSizeEstimate(folders); got <= 0 {
		t.Errorf("FolderSizeEstimate() = %d, want positive", got)
	}
}
