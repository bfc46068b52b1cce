// Package mailstoretest provides an in-memory mailstore.Store for tests.
// The fake is safe for concurrent use even though real stores are not, so
// pool misuse shows up as counter anomalies rather than data races.
package mailstoretest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/infodancer/outlook-mcp/internal/mailstore"
)

// Fake is an in-memory mail store. The zero value is unusable; use New.
type Fake struct {
	mu      sync.Mutex
	folders []mailstore.Folder
	emails  map[string]*mailstore.EmailFull
	inboxID string
	nextID  int
	closed  bool

	// Latency is applied to every operation before it runs.
	Latency time.Duration

	// Fail maps an operation name (probe, list_folders, resolve_inbox,
	// list_emails, get_email, search, send) to the error it should return.
	Fail map[string]error

	calls map[string]*atomic.Int64
}

// New creates a fake store with a default folder tree (Inbox, Sent Items,
// Drafts) and no messages.
func New() *Fake {
	f := &Fake{
		emails: make(map[string]*mailstore.EmailFull),
		Fail:   make(map[string]error),
		calls:  make(map[string]*atomic.Int64),
	}
	f.folders = []mailstore.Folder{
		{ID: "folder-inbox", Name: "Inbox", FullPath: "/Inbox", FolderType: mailstore.FolderTypeMail, Accessible: true},
		{ID: "folder-sent", Name: "Sent Items", FullPath: "/Sent Items", FolderType: mailstore.FolderTypeMail, Accessible: true},
		{ID: "folder-drafts", Name: "Drafts", FullPath: "/Drafts", FolderType: mailstore.FolderTypeMail, Accessible: true},
	}
	f.inboxID = "folder-inbox"
	return f
}

// Dialer returns a mailstore.Dialer that hands out this same fake for
// every pool handle. Dialing reopens the fake, so retiring one handle
// does not strand the others.
func (f *Fake) Dialer() mailstore.Dialer {
	return mailstore.DialerFunc(func(ctx context.Context) (mailstore.Store, error) {
		f.Reopen()
		return f, nil
	})
}

// Calls returns how many times the named operation ran.
func (f *Fake) Calls(op string) int64 {
	f.mu.Lock()
	c, ok := f.calls[op]
	f.mu.Unlock()
	if !ok {
		return 0
	}
	return c.Load()
}

// AddFolder appends a folder to the tree.
func (f *Fake) AddFolder(folder mailstore.Folder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.folders = append(f.folders, folder)
}

// AddEmail stores a message and returns its assigned ID. The folder must
// already exist.
func (f *Fake) AddEmail(folderID string, email mailstore.EmailFull) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	if email.ID == "" {
		email.ID = fmt.Sprintf("email-%04d", f.nextID)
	}
	email.FolderID = folderID
	if email.BodyPreview == "" {
		email.BodyPreview = mailstore.Preview(email.BodyText)
	}
	f.emails[email.ID] = &email
	for i := range f.folders {
		if f.folders[i].ID == folderID {
			f.folders[i].ItemCount++
			if !email.IsRead {
				f.folders[i].UnreadCount++
			}
		}
	}
	return email.ID
}

func (f *Fake) enter(ctx context.Context, op string) error {
	f.mu.Lock()
	c, ok := f.calls[op]
	if !ok {
		c = &atomic.Int64{}
		f.calls[op] = c
	}
	closed := f.closed
	failErr := f.Fail[op]
	latency := f.Latency
	f.mu.Unlock()

	c.Add(1)

	if closed {
		return mailstore.Errorf(mailstore.KindUnavailable, op, "store closed")
	}
	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return mailstore.NewError(mailstore.KindTimeout, op, ctx.Err())
		}
	}
	if err := ctx.Err(); err != nil {
		return mailstore.NewError(mailstore.KindTimeout, op, err)
	}
	return failErr
}

// Probe implements mailstore.Store.
func (f *Fake) Probe(ctx context.Context) error {
	return f.enter(ctx, "probe")
}

// ListFolders implements mailstore.Store.
func (f *Fake) ListFolders(ctx context.Context) ([]mailstore.Folder, error) {
	if err := f.enter(ctx, "list_folders"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]mailstore.Folder, len(f.folders))
	copy(out, f.folders)
	return out, nil
}

// ResolveInbox implements mailstore.Store.
func (f *Fake) ResolveInbox(ctx context.Context) (string, error) {
	if err := f.enter(ctx, "resolve_inbox"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inboxID, nil
}

// ListEmails implements mailstore.Store.
func (f *Fake) ListEmails(ctx context.Context, folderID string, unreadOnly bool, limit int) ([]mailstore.EmailSummary, error) {
	if err := f.enter(ctx, "list_emails"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	found := false
	for i := range f.folders {
		if f.folders[i].ID == folderID {
			if !f.folders[i].Accessible {
				return nil, mailstore.Errorf(mailstore.KindPermissionDenied, "list_emails", "folder %s is not accessible", folderID)
			}
			found = true
			break
		}
	}
	if !found {
		return nil, mailstore.Errorf(mailstore.KindNotFound, "list_emails", "folder %s not found", folderID)
	}

	var out []mailstore.EmailSummary
	for _, e := range f.emails {
		if e.FolderID != folderID {
			continue
		}
		if unreadOnly && e.IsRead {
			continue
		}
		out = append(out, e.EmailSummary)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ReceivedTime.After(out[j].ReceivedTime)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []mailstore.EmailSummary{}
	}
	return out, nil
}

// GetEmail implements mailstore.Store.
func (f *Fake) GetEmail(ctx context.Context, emailID string) (*mailstore.EmailFull, error) {
	if err := f.enter(ctx, "get_email"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.emails[emailID]
	if !ok {
		return nil, mailstore.Errorf(mailstore.KindNotFound, "get_email", "email %s not found", emailID)
	}
	out := *e
	return &out, nil
}

// Search implements mailstore.Store. Matching is a case-insensitive
// substring check on subject and body text.
func (f *Fake) Search(ctx context.Context, query, folderID string, limit int) ([]mailstore.EmailSummary, error) {
	if err := f.enter(ctx, "search"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	q := strings.ToLower(query)
	var out []mailstore.EmailSummary
	for _, e := range f.emails {
		if folderID != "" && e.FolderID != folderID {
			continue
		}
		if strings.Contains(strings.ToLower(e.Subject), q) || strings.Contains(strings.ToLower(e.BodyText), q) {
			out = append(out, e.EmailSummary)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ReceivedTime.After(out[j].ReceivedTime)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	if out == nil {
		out = []mailstore.EmailSummary{}
	}
	return out, nil
}

// Send implements mailstore.Store. Sent messages land in Sent Items when
// SaveToSent is set.
func (f *Fake) Send(ctx context.Context, msg *mailstore.OutgoingEmail) (string, error) {
	if err := f.enter(ctx, "send"); err != nil {
		return "", err
	}
	f.mu.Lock()
	f.nextID++
	id := fmt.Sprintf("email-%04d", f.nextID)
	f.mu.Unlock()

	if msg.SaveToSent {
		now := time.Now()
		f.mu.Lock()
		f.emails[id] = &mailstore.EmailFull{
			EmailSummary: mailstore.EmailSummary{
				ID:           id,
				Subject:      msg.Subject,
				Recipients:   msg.To,
				ReceivedTime: now,
				SentTime:     now,
				IsRead:       true,
				Importance:   mailstore.ImportanceNormal,
				FolderID:     "folder-sent",
				BodyPreview:  mailstore.Preview(msg.Body),
			},
			BodyText: msg.Body,
			CC:       msg.CC,
			BCC:      msg.BCC,
		}
		f.mu.Unlock()
	}
	return id, nil
}

// Close implements mailstore.Store.
func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Reopen clears the closed flag so a shared fake can be reused across
// pool handle rebuilds.
func (f *Fake) Reopen() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = false
}
