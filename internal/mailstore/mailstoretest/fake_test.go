package mailstoretest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/infodancer/outlook-mcp/internal/mailstore"
)

func TestListEmailsOrderAndLimit(t *testing.T) {
	f := New()
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		f.AddEmail("folder-inbox", mailstore.EmailFull{
			EmailSummary: mailstore.EmailSummary{
				Subject:      string(rune('a' + i)),
				ReceivedTime: base.Add(time.Duration(i) * time.Hour),
			},
		})
	}

	got, err := f.ListEmails(context.Background(), "folder-inbox", false, 3)
	if err != nil {
		t.Fatalf("ListEmails: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	// Newest first.
	if got[0].Subject != "e" || got[2].Subject != "c" {
		t.Errorf("order = %q, %q, %q", got[0].Subject, got[1].Subject, got[2].Subject)
	}
}

func TestListEmailsUnreadOnly(t *testing.T) {
	f := New()
	f.AddEmail("folder-inbox", mailstore.EmailFull{EmailSummary: mailstore.EmailSummary{Subject: "read", IsRead: true}})
	unreadID := f.AddEmail("folder-inbox", mailstore.EmailFull{EmailSummary: mailstore.EmailSummary{Subject: "unread"}})

	got, err := f.ListEmails(context.Background(), "folder-inbox", true, 10)
	if err != nil {
		t.Fatalf("ListEmails: %v", err)
	}
	if len(got) != 1 || got[0].ID != unreadID {
		t.Errorf("unread listing = %+v", got)
	}
}

func TestListEmailsErrors(t *testing.T) {
	f := New()
	f.AddFolder(mailstore.Folder{ID: "folder-locked", Name: "Locked", Accessible: false})

	_, err := f.ListEmails(context.Background(), "folder-nope", false, 10)
	if !mailstore.IsKind(err, mailstore.KindNotFound) {
		t.Errorf("unknown folder error = %v, want not_found", err)
	}

	_, err = f.ListEmails(context.Background(), "folder-locked", false, 10)
	if !mailstore.IsKind(err, mailstore.KindPermissionDenied) {
		t.Errorf("inaccessible folder error = %v, want permission_denied", err)
	}
}

func TestGetEmailNotFound(t *testing.T) {
	f := New()
	if _, err := f.GetEmail(context.Background(), "email-9999"); !mailstore.IsKind(err, mailstore.KindNotFound) {
		t.Errorf("error = %v, want not_found", err)
	}
}

func TestSearchMatchesSubjectAndBody(t *testing.T) {
	f := New()
	f.AddEmail("folder-inbox", mailstore.EmailFull{
		EmailSummary: mailstore.EmailSummary{Subject: "Quarterly report"},
	})
	f.AddEmail("folder-inbox", mailstore.EmailFull{
		EmailSummary: mailstore.EmailSummary{Subject: "lunch"},
		BodyText:     "the REPORT is attached",
	})
	f.AddEmail("folder-sent", mailstore.EmailFull{
		EmailSummary: mailstore.EmailSummary{Subject: "report copy"},
	})

	got, err := f.Search(context.Background(), "report", "", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("all-folder search = %d results, want 3", len(got))
	}

	got, err = f.Search(context.Background(), "report", "folder-inbox", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("scoped search = %d results, want 2", len(got))
	}
}

func TestSendSavesToSentItems(t *testing.T) {
	f := New()
	id, err := f.Send(context.Background(), &mailstore.OutgoingEmail{
		To:         []string{"rcpt@example.com"},
		Subject:    "hello",
		Body:       "body",
		SaveToSent: true,
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	saved, err := f.GetEmail(context.Background(), id)
	if err != nil {
		t.Fatalf("GetEmail after send: %v", err)
	}
	if saved.FolderID != "folder-sent" || !saved.IsRead {
		t.Errorf("saved copy = %+v", saved.EmailSummary)
	}

	id, err = f.Send(context.Background(), &mailstore.OutgoingEmail{
		To:      []string{"rcpt@example.com"},
		Subject: "no copy",
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := f.GetEmail(context.Background(), id); !mailstore.IsKind(err, mailstore.KindNotFound) {
		t.Errorf("unsaved send should not be retrievable, got %v", err)
	}
}

func TestFailInjection(t *testing.T) {
	f := New()
	boom := mailstore.Errorf(mailstore.KindTransient, "list_folders", "flaky")
	f.Fail["list_folders"] = boom

	if _, err := f.ListFolders(context.Background()); !errors.Is(err, boom) {
		t.Errorf("error = %v, want injected failure", err)
	}
	if got := f.Calls("list_folders"); got != 1 {
		t.Errorf("Calls = %d, want 1", got)
	}
}

func TestCloseAndReopen(t *testing.T) {
	f := New()
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := f.Probe(context.Background()); !mailstore.IsKind(err, mailstore.KindUnavailable) {
		t.Errorf("probe after close = %v, want unavailable", err)
	}

	// Dialing reopens the fake.
	store, err := f.Dialer().Dial(context.Background())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	if err := store.Probe(context.Background()); err != nil {
		t.Errorf("probe after redial = %v", err)
	}
}

func TestLatencyHonorsContext(t *testing.T) {
	f := New()
	f.Latency = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := f.Probe(ctx)
	if !mailstore.IsKind(err, mailstore.KindTimeout) {
		t.Errorf("error = %v, want timeout", err)
	}
}
