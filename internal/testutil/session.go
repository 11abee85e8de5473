package testutil

import (
	"context"
	"sync"

	"github.com/vk/pagirun/internal/session"
)

// FailingSession wraps a session.Session, counts Run and Close calls and
// optionally fails one Run call.
type FailingSession struct {
	session.Session

	// FailAt is the 1-based Run call that fails with Err. Zero disables
	// failures.
	FailAt int
	Err    error

	mu      sync.Mutex
	runs    int
	closes  int
	fetches [][]session.Handle
}

func (s *FailingSession) Run(ctx context.Context, feed session.FeedDict, fetches []session.Handle) (session.FetchDict, error) {
	s.mu.Lock()
	s.runs++
	n := s.runs
	s.fetches = append(s.fetches, append([]session.Handle(nil), fetches...))
	s.mu.Unlock()

	if s.FailAt > 0 && n == s.FailAt {
		return nil, s.Err
	}
	return s.Session.Run(ctx, feed, fetches)
}

func (s *FailingSession) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	return s.Session.Close(ctx)
}

// Runs returns how often Run was called.
func (s *FailingSession) Runs() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// Closes returns how often Close was called.
func (s *FailingSession) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// Fetches returns the handles requested by every Run call.
func (s *FailingSession) Fetches() [][]session.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]session.Handle(nil), s.fetches...)
}

// SessionFactory wraps every session created by Inner in a FailingSession.
type SessionFactory struct {
	Inner  session.Factory
	FailAt int
	Err    error
	// NewErr fails NewSession itself.
	NewErr error

	mu       sync.Mutex
	sessions []*FailingSession
}

func (f *SessionFactory) NewSession(ctx context.Context, g *session.Graph) (session.Session, error) {
	if f.NewErr != nil {
		return nil, f.NewErr
	}
	inner, err := f.Inner.NewSession(ctx, g)
	if err != nil {
		return nil, err
	}
	s := &FailingSession{Session: inner, FailAt: f.FailAt, Err: f.Err}
	f.mu.Lock()
	f.sessions = append(f.sessions, s)
	f.mu.Unlock()
	return s, nil
}

// Sessions returns every session created so far.
func (f *SessionFactory) Sessions() []*FailingSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*FailingSession(nil), f.sessions...)
}
