package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mikeboe/deep-research/pkg/history"
)

// Session is the state one user works with: configuration, history and the
// single in-flight submission guard. It is passed explicitly to every
// component instead of living in globals.
type Session struct {
	ID        uuid.UUID
	CreatedAt time.Time
	Config    *Configuration
	History   *history.Tracker

	mu   sync.RWMutex
	busy bool
}

func New() *Session {
	return &Session{
		ID:        uuid.New(),
		CreatedAt: time.Now(),
		Config:    NewConfiguration(),
		History:   history.NewTracker(),
	}
}

// Begin claims the session for one submission. It fails with ErrBusy while
// another submission is running.
func (s *Session) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return ErrBusy
	}
	s.busy = true
	return nil
}

// End releases the claim taken by Begin.
func (s *Session) End() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

func (s *Session) Busy() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.busy
}

// View runs fn with read access to the configuration. fn must not call back
// into the session.
func (s *Session) View(fn func(c *Configuration)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.Config)
}

// Update runs fn against a copy of the configuration and keeps the copy only
// if fn succeeds. It fails with ErrBusy while a submission is running.
func (s *Session) Update(fn func(c *Configuration) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return ErrBusy
	}
	next := s.Config.Clone()
	if err := fn(next); err != nil {
		return err
	}
	*s.Config = *next
	return nil
}

// Registry holds the sessions of a multi-user server.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
	// Defaults seeds each new session's configuration.
	Defaults func(c *Configuration)
}

func NewRegistry(defaults func(c *Configuration)) *Registry {
	return &Registry{
		sessions: make(map[uuid.UUID]*Session),
		Defaults: defaults,
	}
}

func (r *Registry) Create() *Session {
	s := New()
	if r.Defaults != nil {
		r.Defaults(s.Config)
	}

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s
}

func (r *Registry) Get(id uuid.UUID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) Delete(id uuid.UUID) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}
