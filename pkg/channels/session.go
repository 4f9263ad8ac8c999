package channels

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrClosed     = errors.New("gateway session closed")
	ErrAuthFailed = errors.New("gateway authentication failed")
)

type State int

const (
	StateDisconnected State = iota
	StateAuthenticating
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Session is the lifecycle of one gateway login:
// disconnected -> authenticating -> ready -> disconnected ..., and finally
// closed. Closed is terminal.
type Session struct {
	mu        sync.Mutex
	state     State
	sessionID string
	closeErr  error
	ready     chan struct{}
	closed    chan struct{}
}

func NewSession() *Session {
	return &Session{
		ready:  make(chan struct{}),
		closed: make(chan struct{}),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionID is the id from the last READY, kept across disconnects so
// dispatches during a reconnect still carry it.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

func (s *Session) MarkAuthenticating() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.resetReadyLocked()
	s.state = StateAuthenticating
}

func (s *Session) MarkReady(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.state = StateReady
	s.sessionID = sessionID
	select {
	case <-s.ready:
	default:
		close(s.ready)
	}
}

func (s *Session) MarkDisconnected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.resetReadyLocked()
	s.state = StateDisconnected
}

// MarkClosed ends the session. err is what WaitReady reports afterwards;
// nil means ErrClosed.
func (s *Session) MarkClosed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	if err == nil {
		err = ErrClosed
	}
	s.state = StateClosed
	s.closeErr = err
	close(s.closed)
}

// WaitReady blocks until the session is authenticated.
func (s *Session) WaitReady(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateClosed {
		err := s.closeErr
		s.mu.Unlock()
		return err
	}
	if s.state == StateReady {
		s.mu.Unlock()
		return nil
	}
	ready := s.ready
	s.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-s.closed:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.closeErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// WaitClosed blocks until MarkClosed has been called.
func (s *Session) WaitClosed(ctx context.Context) error {
	select {
	case <-s.closed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) resetReadyLocked() {
	select {
	case <-s.ready:
		s.ready = make(chan struct{})
	default:
	}
}
