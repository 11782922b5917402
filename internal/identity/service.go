package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"rideops.org/internal/catalog"
	"rideops.org/internal/ids"
	"rideops.org/internal/obs"
)

// Lockout policy: fixed threshold and duration, no decay of stale attempts.
const (
	LockThreshold = 5
	LockDuration  = 2 * time.Hour
)

// Service owns the administrative account lifecycle and the lockout state
// machine.
type Service struct {
	store   Store
	catalog *catalog.Catalog
	now     func() time.Time
}

// Option configures Service behavior.
type Option func(*Service)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs the identity service around a store and the role
// catalog.
func NewService(store Store, cat *catalog.Catalog, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	if cat == nil {
		return nil, fmt.Errorf("%w: catalog is required", ErrInvalidInput)
	}
	svc := &Service{store: store, catalog: cat, now: time.Now}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// CreateParams carries everything needed to provision an account.
type CreateParams struct {
	Email            string
	Password         string
	Name             string
	Role             catalog.Role
	OrganizationID   string
	AllowedIPs       []string
	AllowedRegions   []string
	TwoFactorEnabled bool
	AccessValidFrom  *time.Time
	AccessValidUntil *time.Time
	CreatedBy        string
}

// Create provisions a new administrative account. Permissions, hierarchy
// level and organization kind are computed from the role; tenant and regulator
// roles require an organization affiliation, platform staff must not carry
// one.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Identity, error) {
	email := strings.TrimSpace(strings.ToLower(p.Email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if strings.TrimSpace(p.Password) == "" {
		return nil, fmt.Errorf("%w: password is required", ErrInvalidInput)
	}
	if !s.catalog.IsValid(p.Role) {
		return nil, fmt.Errorf("%w: unknown role %s", ErrInvalidInput, p.Role)
	}
	kind := s.catalog.OrganizationKind(p.Role)
	orgID := strings.TrimSpace(p.OrganizationID)
	if kind == catalog.KindPlatform && orgID != "" {
		return nil, fmt.Errorf("%w: platform staff must not carry an organization", ErrInvalidInput)
	}
	if kind != catalog.KindPlatform && orgID == "" {
		return nil, fmt.Errorf("%w: organization is required for %s roles", ErrInvalidInput, kind)
	}

	hash, err := HashPassword(p.Password)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	id := &Identity{
		ID:               ids.New(),
		Email:            email,
		PasswordHash:     hash,
		Name:             strings.TrimSpace(p.Name),
		Role:             p.Role,
		Permissions:      s.catalog.Permissions(p.Role),
		HierarchyLevel:   s.catalog.HierarchyLevel(p.Role),
		OrganizationID:   orgID,
		OrganizationKind: kind,
		AllowedIPs:       dedupe(p.AllowedIPs),
		AllowedRegions:   dedupe(p.AllowedRegions),
		TwoFactorEnabled: p.TwoFactorEnabled,
		Active:           true,
		Verified:         true,
		AccessValidFrom:  p.AccessValidFrom,
		AccessValidUntil: p.AccessValidUntil,
		CreatedBy:        strings.TrimSpace(p.CreatedBy),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := s.store.Create(ctx, id); err != nil {
		return nil, err
	}
	return id, nil
}

// Authenticate resolves email+password to an identity, driving the lockout
// machine. A lock that is still active rejects the attempt before the
// credential is evaluated.
func (s *Service) Authenticate(ctx context.Context, email, password, origin string) (*Identity, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, ErrBadCredentials
	}
	id, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	if !id.Active {
		return nil, ErrInactive
	}
	if id.LockedAt(now) {
		return nil, ErrLocked
	}
	if err := VerifyPassword(id.PasswordHash, password); err != nil {
		attempts, lockUntil, regErr := s.store.RegisterFailedAttempt(ctx, id.ID, LockThreshold, LockDuration, now)
		if regErr != nil {
			obs.LogError("register failed login attempt", regErr, map[string]any{"identity_id": id.ID})
		} else {
			id.LoginAttempts = attempts
			id.LockUntil = lockUntil
			if lockUntil != nil {
				obs.LoginLockout()
			}
		}
		return nil, ErrBadCredentials
	}

	// Success: reset counter and stamp last login. Never fails the decision.
	if err := s.store.RecordLogin(ctx, id.ID, now, origin); err != nil {
		obs.LogError("record successful login", err, map[string]any{"identity_id": id.ID})
	} else {
		id.LoginAttempts = 0
		id.LockUntil = nil
		id.LastLogin = &now
		id.LastLoginOrigin = origin
	}
	return id, nil
}

// ChangeRole switches the role and recomputes the derived permission set and
// hierarchy level. Recomputation is an explicit call here, never a hook
// hidden inside a save.
func (s *Service) ChangeRole(ctx context.Context, id string, role catalog.Role) (*Identity, error) {
	if !s.catalog.IsValid(role) {
		return nil, fmt.Errorf("%w: unknown role %s", ErrInvalidInput, role)
	}
	rec, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	oldKind := rec.OrganizationKind
	newKind := s.catalog.OrganizationKind(role)
	if oldKind != newKind {
		return nil, fmt.Errorf("%w: role change across organization kinds is not supported", ErrInvalidInput)
	}
	rec.Role = role
	rec.Permissions = s.catalog.Permissions(role)
	rec.HierarchyLevel = s.catalog.HierarchyLevel(role)
	rec.UpdatedAt = s.now().UTC()
	if err := s.store.Update(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Deactivate soft-disables the account; it takes effect on the very next
// request because identity is re-resolved from the store each time.
func (s *Service) Deactivate(ctx context.Context, id string) error {
	return s.store.Deactivate(ctx, id, s.now().UTC())
}

// Get loads an identity by id.
func (s *Service) Get(ctx context.Context, id string) (*Identity, error) {
	return s.store.FindByID(ctx, id)
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
