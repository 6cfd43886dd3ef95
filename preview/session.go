package preview

import (
	"sync"

	"github.com/hazyhaar/artipeek/artifact"
)

// State is a session's position in its lifecycle.
type State int

const (
	Idle State = iota
	Loading
	Ready
	HandedOff
	Closed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case HandedOff:
		return "handed_off"
	case Closed:
		return "closed"
	}
	return "unknown"
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool { return s == HandedOff || s == Closed }

// Session is one activation of a link: it owns the overlay and, once
// available, the handle. State transitions happen under the controller's
// lock.
type Session struct {
	Link *artifact.Link

	mu      sync.Mutex
	state   State
	handle  artifact.Handle
	overlay Overlay
	err     error

	resolved     chan struct{}
	resolvedOnce sync.Once
}

func newSession(link *artifact.Link) *Session {
	return &Session{Link: link, resolved: make(chan struct{})}
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Handle returns the handle the session displayed or handed off.
func (s *Session) Handle() artifact.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Err returns the extraction or handoff error that closed the session.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Done is closed once extraction has resolved, successfully or not, or a
// cached handle has been served.
func (s *Session) Done() <-chan struct{} { return s.resolved }

func (s *Session) set(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) resolve() { s.resolvedOnce.Do(func() { close(s.resolved) }) }

// SessionInfo is a snapshot row for diagnostics.
type SessionInfo struct {
	Ref    string             `json:"ref"`
	Label  string             `json:"label"`
	Kind   artifact.MediaKind `json:"kind"`
	State  string             `json:"state"`
	Handle artifact.Handle    `json:"handle,omitempty"`
}
