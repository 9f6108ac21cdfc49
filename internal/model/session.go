package model

import (
	"sync"
	"time"
)

// SessionState is the Broker Client's shared credential envelope: the
// portal session cookie, the SSO user id, and the iserver authenticated
// flag. Lifecycle is owned by the Session Keeper (SPEC_FULL.md §3): the
// broker client sets it when a session is obtained or loaded from shared
// storage, and the Tick Streamer only marks it unauthenticated when the
// socket reports so.
type SessionState struct {
	mu sync.RWMutex

	cpCookie      string
	ssoUserID     string
	authenticated bool
	refreshedAt   time.Time
}

// Snapshot is an immutable copy of the session state at a point in time.
type Snapshot struct {
	CPCookie      string
	SSOUserID     string
	Authenticated bool
	RefreshedAt   time.Time
}

// Snapshot returns a consistent read of the current session state.
func (s *SessionState) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Snapshot{
		CPCookie:      s.cpCookie,
		SSOUserID:     s.ssoUserID,
		Authenticated: s.authenticated,
		RefreshedAt:   s.refreshedAt,
	}
}

// Set replaces the session state. Called by the broker client after
// ObtainSession succeeds or LoadSession reads a shared snapshot.
func (s *SessionState) Set(cpCookie, ssoUserID string, authenticated bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cpCookie = cpCookie
	s.ssoUserID = ssoUserID
	s.authenticated = authenticated
	s.refreshedAt = time.Now()
}

// MarkUnauthenticated flags the session unusable without discarding the
// cookie, so the Session Keeper can still attempt a soft reauth against it.
func (s *SessionState) MarkUnauthenticated() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authenticated = false
}

// IsAuthenticated reports the last known authentication verdict.
func (s *SessionState) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authenticated
}

// CPCookie returns the current session cookie value, or "" if none.
func (s *SessionState) CPCookie() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cpCookie
}
