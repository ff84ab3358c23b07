// Package session issues and revokes the credentials that keep a browser
// logged in after the authorization-code flow completes.
package session

import (
	"context"
	"errors"
	"sync"
	"time"
)

var (
	// ErrNotFound is returned for unknown or expired session ids
	ErrNotFound = errors.New("session not found")
	// ErrStateMismatch is returned when the callback state does not match the bound state
	ErrStateMismatch = errors.New("state mismatch")
	// ErrTooManyStates is returned when the pending state limit is reached
	ErrTooManyStates = errors.New("too many pending login states")
)

const (
	// sweepEvery is the number of writes between expiry sweeps
	sweepEvery = 256
	// DefaultMaxPendingStates bounds unconsumed states held by a MemoryStore
	DefaultMaxPendingStates = 100_000
)

// Record is the server-side half of a session
type Record struct {
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// StateStore binds authorization state values server-side so each can be used once
type StateStore interface {
	SaveState(ctx context.Context, state string, ttl time.Duration) error
	// ConsumeState removes the state and reports whether it was present
	ConsumeState(ctx context.Context, state string) (bool, error)
}

// SessionStore maps opaque session ids to records
type SessionStore interface {
	Create(ctx context.Context, id string, rec Record, ttl time.Duration) error
	Get(ctx context.Context, id string) (*Record, error)
	Delete(ctx context.Context, id string) error
}

// timedEntry wraps a value with its expiry
type timedEntry[T any] struct {
	value     T
	expiresAt time.Time
}

func (e timedEntry[T]) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// MemoryStore keeps state and sessions in process. Suitable for a single
// instance; use RedisStore when more than one replica serves callbacks.
type MemoryStore struct {
	mu        sync.Mutex
	states    map[string]timedEntry[struct{}]
	sessions  map[string]timedEntry[Record]
	maxStates int
	writes    int
	now       func() time.Time
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		states:    make(map[string]timedEntry[struct{}]),
		sessions:  make(map[string]timedEntry[Record]),
		maxStates: DefaultMaxPendingStates,
		now:       time.Now,
	}
}

// SaveState binds a state value until ttl elapses. Once maxStates
// unexpired states are pending, new ones are refused.
func (s *MemoryStore) SaveState(_ context.Context, state string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.maybeSweep(now)
	if len(s.states) >= s.maxStates {
		s.sweep(now)
		if len(s.states) >= s.maxStates {
			return ErrTooManyStates
		}
	}
	s.states[state] = timedEntry[struct{}]{expiresAt: now.Add(ttl)}
	return nil
}

// ConsumeState removes the state; expired states count as absent
func (s *MemoryStore) ConsumeState(_ context.Context, state string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.states[state]
	if !ok {
		return false, nil
	}
	delete(s.states, state)
	return !entry.expired(s.now()), nil
}

// Create stores a session record
func (s *MemoryStore) Create(_ context.Context, id string, rec Record, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.maybeSweep(now)
	s.sessions[id] = timedEntry[Record]{value: rec, expiresAt: now.Add(ttl)}
	return nil
}

// Get returns the record for id or ErrNotFound
func (s *MemoryStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[id]
	if !ok || entry.expired(s.now()) {
		delete(s.sessions, id)
		return nil, ErrNotFound
	}
	rec := entry.value
	return &rec, nil
}

// Delete removes a session; unknown ids are not an error
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Len reports the number of live entries, for tests and metrics
func (s *MemoryStore) Len() (states, sessions int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep(s.now())
	return len(s.states), len(s.sessions)
}

// maybeSweep runs a full sweep once every sweepEvery writes. Caller holds mu.
func (s *MemoryStore) maybeSweep(now time.Time) {
	s.writes++
	if s.writes%sweepEvery == 0 {
		s.sweep(now)
	}
}

// sweep drops expired entries. Caller holds mu.
func (s *MemoryStore) sweep(now time.Time) {
	for k, e := range s.states {
		if e.expired(now) {
			delete(s.states, k)
		}
	}
	for k, e := range s.sessions {
		if e.expired(now) {
			delete(s.sessions, k)
		}
	}
}
