// Package mailstore defines the contract between the bridge server and the
// underlying mail store. The server core only ever talks to a Store; the
// concrete implementation (Outlook object model, IMAP, a test fake) is
// chosen at startup.
package mailstore

import "context"

// Store is one live connection to a mail store. A Store is not safe for
// concurrent use; the connection pool guarantees a single borrower at a time.
type Store interface {
	// Probe performs a cheap health check. It must not touch user data.
	Probe(ctx context.Context) error

	// ListFolders walks the store's folder tree and returns every reachable
	// folder. Folders the identity cannot open are returned with
	// Accessible=false rather than omitted.
	ListFolders(ctx context.Context) ([]Folder, error)

	// ResolveInbox returns the folder ID of the default inbox for the
	// active mail identity.
	ResolveInbox(ctx context.Context) (string, error)

	// ListEmails returns summaries from the given folder ordered by
	// received time descending. limit must be in [1, 1000].
	ListEmails(ctx context.Context, folderID string, unreadOnly bool, limit int) ([]EmailSummary, error)

	// GetEmail returns the full email for the given ID.
	GetEmail(ctx context.Context, emailID string) (*EmailFull, error)

	// Search returns summaries matching the query. The query syntax is
	// store-specific and passed through untouched. folderID may be empty
	// to search the whole store. An empty result is not an error.
	Search(ctx context.Context, query, folderID string, limit int) ([]EmailSummary, error)

	// Send delivers the message through the identity's outgoing pipeline
	// and returns the store-assigned ID once the message is queued.
	Send(ctx context.Context, msg *OutgoingEmail) (string, error)

	// Close releases the underlying connection. The store must not be used
	// after Close returns.
	Close() error
}

// Dialer opens new Store connections for the pool.
type Dialer interface {
	Dial(ctx context.Context) (Store, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context) (Store, error)

// Dial implements Dialer.
func (f DialerFunc) Dial(ctx context.Context) (Store, error) { return f(ctx) }
