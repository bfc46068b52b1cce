package rpc

import (
	"sync"

	"github.com/google/uuid"
)

// SessionState tracks a connection through its handshake and teardown.
type SessionState int

const (
	SessionNew SessionState = iota
	SessionInitializing
	SessionReady
	SessionClosing
	SessionClosed
)

// String returns the state name for logging.
func (s SessionState) String() string {
	switch s {
	case SessionNew:
		return "new"
	case SessionInitializing:
		return "initializing"
	case SessionReady:
		return "ready"
	case SessionClosing:
		return "closing"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Session is one client connection's handshake state. Safe for
// concurrent use; requests on a session are processed in arrival order
// but responses may be written concurrently.
type Session struct {
	id string

	mu            sync.Mutex
	state         SessionState
	clientName    string
	clientVersion string
}

// NewSession creates a session in the new state.
func NewSession() *Session {
	return &Session{id: uuid.NewString()}
}

// ID returns the session identifier, used only for logging.
func (s *Session) ID() string { return s.id }

// State returns the current state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Client returns the name and version the client reported during the
// handshake.
func (s *Session) Client() (name, version string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clientName, s.clientVersion
}

// BeginInitialize moves new -> initializing. It fails once the handshake
// has already started or finished.
func (s *Session) BeginInitialize(clientName, clientVersion string) *ErrorObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionNew {
		return InvalidRequest("session already initialized")
	}
	s.state = SessionInitializing
	s.clientName = clientName
	s.clientVersion = clientVersion
	return nil
}

// CompleteInitialize moves initializing -> ready once the handshake
// response has been emitted.
func (s *Session) CompleteInitialize() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == SessionInitializing {
		s.state = SessionReady
	}
}

// RequireReady rejects any operation before the handshake has finished
// or after teardown has begun.
func (s *Session) RequireReady() *ErrorObject {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case SessionReady:
		return nil
	case SessionClosing, SessionClosed:
		return InvalidRequest("session is closing")
	default:
		return SessionUninitialized()
	}
}

// BeginClose moves the session into closing.
func (s *Session) BeginClose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != SessionClosed {
		s.state = SessionClosing
	}
}

// Close marks the session fully closed.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = SessionClosed
}
