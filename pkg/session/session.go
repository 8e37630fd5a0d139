// Package session holds the service's single authenticated identity.
// The service speaks to the git host as exactly one user at a time; a new
// login replaces the previous identity. Access is mutex-guarded so that a
// concurrent login or logout can never tear a username/token pair.
package session

import (
	"sync"

	"github.com/mscno/ginproc/pkg/errs"
)

// Session pairs a username with the personal access token obtained for it.
type Session struct {
	Username string
	Token    string
}

// Store guards the single service-wide session.
type Store struct {
	mu      sync.RWMutex
	current *Session
}

func NewStore() *Store {
	return &Store{}
}

// Set replaces the current session.
func (s *Store) Set(username, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = &Session{Username: username, Token: token}
}

// Get returns a snapshot of the current session, or errs.ErrNoSession when
// no login has succeeded since startup or the last logout.
func (s *Store) Get() (Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return Session{}, errs.ErrNoSession
	}
	return *s.current, nil
}

// Clear drops the current session. Always succeeds, no remote call.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
}
