package identity

import (
	"context"
	"strings"
	"sync"
	"time"

	"rideops.org/internal/catalog"
)

// InMemory implements Store with in-process concurrency safety. Used in tests
// and for running the API without PostgreSQL.
type InMemory struct {
	mu      sync.RWMutex
	byID    map[string]*Identity
	byEmail map[string]string
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty identity store.
func NewInMemory() *InMemory {
	return &InMemory{
		byID:    make(map[string]*Identity),
		byEmail: make(map[string]string),
	}
}

func (s *InMemory) Create(ctx context.Context, id *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(id.Email)
	if _, ok := s.byEmail[email]; ok {
		return ErrAlreadyExists
	}
	cp := cloneIdentity(id)
	s.byID[id.ID] = cp
	s.byEmail[email] = id.ID
	return nil
}

func (s *InMemory) FindByID(ctx context.Context, id string) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneIdentity(rec), nil
}

func (s *InMemory) FindByEmail(ctx context.Context, email string) (*Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byEmail[strings.ToLower(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneIdentity(s.byID[id]), nil
}

func (s *InMemory) Update(ctx context.Context, id *Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.byID[id.ID]
	if !ok {
		return ErrNotFound
	}
	if !strings.EqualFold(old.Email, id.Email) {
		delete(s.byEmail, strings.ToLower(old.Email))
		s.byEmail[strings.ToLower(id.Email)] = id.ID
	}
	s.byID[id.ID] = cloneIdentity(id)
	return nil
}

func (s *InMemory) Deactivate(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	rec.Active = false
	rec.DeactivatedAt = &at
	rec.UpdatedAt = at
	return nil
}

// RegisterFailedAttempt holds the write lock for the whole transition, which
// gives the same increment-and-conditionally-set atomicity the SQL store gets
// from a single UPDATE.
func (s *InMemory) RegisterFailedAttempt(ctx context.Context, id string, threshold int, lockFor time.Duration, now time.Time) (int, *time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return 0, nil, ErrNotFound
	}
	if rec.LockUntil != nil && !now.Before(*rec.LockUntil) {
		// Lazy unlock: the expired lock clears and only this attempt counts.
		rec.LoginAttempts = 1
		rec.LockUntil = nil
	} else {
		rec.LoginAttempts++
		if rec.LoginAttempts >= threshold && rec.LockUntil == nil {
			until := now.Add(lockFor)
			rec.LockUntil = &until
		}
	}
	rec.UpdatedAt = now
	var lock *time.Time
	if rec.LockUntil != nil {
		u := *rec.LockUntil
		lock = &u
	}
	return rec.LoginAttempts, lock, nil
}

func (s *InMemory) RecordLogin(ctx context.Context, id string, at time.Time, origin string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	rec.LoginAttempts = 0
	rec.LockUntil = nil
	rec.LastLogin = &at
	rec.LastLoginOrigin = origin
	rec.UpdatedAt = at
	return nil
}

func cloneIdentity(in *Identity) *Identity {
	out := *in
	out.Permissions = append([]catalog.Permission(nil), in.Permissions...)
	out.AllowedIPs = append([]string(nil), in.AllowedIPs...)
	out.AllowedRegions = append([]string(nil), in.AllowedRegions...)
	if in.LockUntil != nil {
		t := *in.LockUntil
		out.LockUntil = &t
	}
	if in.LastLogin != nil {
		t := *in.LastLogin
		out.LastLogin = &t
	}
	if in.AccessValidFrom != nil {
		t := *in.AccessValidFrom
		out.AccessValidFrom = &t
	}
	if in.AccessValidUntil != nil {
		t := *in.AccessValidUntil
		out.AccessValidUntil = &t
	}
	if in.DeactivatedAt != nil {
		t := *in.DeactivatedAt
		out.DeactivatedAt = &t
	}
	return &out
}
