package authz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rideops.org/internal/audit"
	"rideops.org/internal/catalog"
	"rideops.org/internal/identity"
	"rideops.org/internal/obs"
	"rideops.org/internal/token"
)

// Authenticate resolves the bearer credential to an identity and runs the
// account-level checks: active, lock, validity window, IP allow-list. It is
// the first guard of every chain.
type Authenticate struct {
	tokens     *token.Manager
	identities identity.Store
	ledger     *audit.Ledger
	now        func() time.Time
}

func NewAuthenticate(tokens *token.Manager, identities identity.Store, ledger *audit.Ledger) *Authenticate {
	return &Authenticate{tokens: tokens, identities: identities, ledger: ledger, now: time.Now}
}

func (g *Authenticate) Name() string { return "authenticate" }

func (g *Authenticate) Evaluate(ctx context.Context, rc *Context) error {
	if rc.Credential == "" {
		return ErrMissingCredential
	}
	claims, err := g.tokens.Verify(rc.Credential)
	if err != nil {
		if errors.Is(err, token.ErrExpired) {
			return ErrExpiredCredential
		}
		return ErrInvalidCredential
	}
	id, err := g.identities.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return ErrInvalidCredential
		}
		return fmt.Errorf("%w: resolve identity: %v", ErrInfrastructure, err)
	}
	now := g.now().UTC()
	if !id.Active || !id.Verified {
		return ErrAccountInactive
	}
	if id.LockedAt(now) {
		return ErrAccountLocked
	}
	if id.AccessValidFrom != nil && now.Before(*id.AccessValidFrom) {
		return ErrAccessNotYetValid
	}
	if id.AccessValidUntil != nil && now.After(*id.AccessValidUntil) {
		return ErrAccessExpired
	}
	if !id.IPAllowed(rc.ClientAddress) {
		// A valid credential from an address outside the allow-list is a
		// potential credential-theft signal, not a routine denial.
		appendDenial(ctx, g.ledger, rc, id, &audit.Entry{
			Action:   audit.ActionUnauthorizedIP,
			Severity: audit.SeverityHigh,
			Details: map[string]any{
				"allowed_ips": id.AllowedIPs,
			},
		})
		return ErrIPNotAllowed
	}
	rc.Identity = id
	return nil
}

// UpdateLastLogin stamps last-seen data. Strictly best-effort: failures are
// logged and never block subsequent guards.
type UpdateLastLogin struct {
	identities identity.Store
	now        func() time.Time
}

func NewUpdateLastLogin(identities identity.Store) *UpdateLastLogin {
	return &UpdateLastLogin{identities: identities, now: time.Now}
}

func (g *UpdateLastLogin) Name() string { return "update_last_login" }

func (g *UpdateLastLogin) Evaluate(ctx context.Context, rc *Context) error {
	if rc.Identity == nil {
		return nil
	}
	if err := g.identities.RecordLogin(ctx, rc.Identity.ID, g.now().UTC(), rc.ClientAddress); err != nil {
		obs.LogError("update last login", err, map[string]any{"identity_id": rc.Identity.ID})
	}
	return nil
}

// TimeAccess re-checks the validity window. Kept separable so call sites can
// opt in per operation even when authentication happened earlier.
type TimeAccess struct {
	now func() time.Time
}

func NewTimeAccess() *TimeAccess { return &TimeAccess{now: time.Now} }

func (g *TimeAccess) Name() string { return "time_access" }

func (g *TimeAccess) Evaluate(ctx context.Context, rc *Context) error {
	if rc.Identity == nil {
		return ErrMissingCredential
	}
	now := g.now().UTC()
	if rc.Identity.AccessValidFrom != nil && now.Before(*rc.Identity.AccessValidFrom) {
		return ErrAccessNotYetValid
	}
	if rc.Identity.AccessValidUntil != nil && now.After(*rc.Identity.AccessValidUntil) {
		return ErrAccessExpired
	}
	return nil
}

// Permission requires any of the named permissions.
type Permission struct {
	ledger   *audit.Ledger
	required []catalog.Permission
}

func NewPermission(ledger *audit.Ledger, required ...catalog.Permission) *Permission {
	return &Permission{ledger: ledger, required: required}
}

func (g *Permission) Name() string { return "permission" }

func (g *Permission) Evaluate(ctx context.Context, rc *Context) error {
	if rc.Identity == nil {
		return ErrMissingCredential
	}
	for _, p := range g.required {
		if rc.Identity.HasPermission(p) {
			appendRoutine(ctx, g.ledger, rc)
			return nil
		}
	}
	appendDenial(ctx, g.ledger, rc, rc.Identity, &audit.Entry{
		Action:   audit.ActionUnauthorizedPermission,
		Severity: audit.SeverityMedium,
		Details: map[string]any{
			"required_permissions": g.required,
			"actual_permissions":   rc.Identity.Permissions,
		},
	})
	return ErrMissingPermission
}

// Role requires membership in an allowed role set.
type Role struct {
	ledger  *audit.Ledger
	allowed []catalog.Role
}

func NewRole(ledger *audit.Ledger, allowed ...catalog.Role) *Role {
	return &Role{ledger: ledger, allowed: allowed}
}

func (g *Role) Name() string { return "role" }

func (g *Role) Evaluate(ctx context.Context, rc *Context) error {
	if rc.Identity == nil {
		return ErrMissingCredential
	}
	for _, r := range g.allowed {
		if rc.Identity.Role == r {
			appendRoutine(ctx, g.ledger, rc)
			return nil
		}
	}
	appendDenial(ctx, g.ledger, rc, rc.Identity, &audit.Entry{
		Action:   audit.ActionUnauthorizedRole,
		Severity: audit.SeverityMedium,
		Details: map[string]any{
			"required_roles": g.allowed,
			"actual_role":    rc.Identity.Role,
		},
	})
	return ErrMissingRole
}

// Organization enforces the tenant isolation boundary. Platform staff bypass
// the check before any organization fields are compared; everyone else must
// match the target organization exactly.
type Organization struct {
	ledger *audit.Ledger
}

func NewOrganization(ledger *audit.Ledger) *Organization {
	return &Organization{ledger: ledger}
}

func (g *Organization) Name() string { return "organization" }

func (g *Organization) Evaluate(ctx context.Context, rc *Context) error {
	if rc.Identity == nil {
		return ErrMissingCredential
	}
	if rc.Identity.OrganizationKind == catalog.KindPlatform {
		return nil
	}
	if rc.TargetOrganization != "" && rc.TargetOrganization == rc.Identity.OrganizationID {
		return nil
	}
	// Cross-tenant attempts are scored more severely than missing
	// permissions.
	appendDenial(ctx, g.ledger, rc, rc.Identity, &audit.Entry{
		Action:   audit.ActionUnauthorizedOrganization,
		Severity: audit.SeverityHigh,
		Details: map[string]any{
			"target_organization": rc.TargetOrganization,
			"actor_organization":  rc.Identity.OrganizationID,
		},
	})
	return ErrOrganizationMismatch
}

// Region enforces the geographic boundary. An empty allowed-region list means
// unrestricted; an operation that names no region passes.
type Region struct {
	ledger *audit.Ledger
}

func NewRegion(ledger *audit.Ledger) *Region { return &Region{ledger: ledger} }

func (g *Region) Name() string { return "region" }

func (g *Region) Evaluate(ctx context.Context, rc *Context) error {
	if rc.Identity == nil {
		return ErrMissingCredential
	}
	if rc.TargetRegion == "" || rc.Identity.RegionAllowed(rc.TargetRegion) {
		return nil
	}
	appendDenial(ctx, g.ledger, rc, rc.Identity, &audit.Entry{
		Action:   audit.ActionUnauthorizedRegion,
		Severity: audit.SeverityMedium,
		Details: map[string]any{
			"target_region":   rc.TargetRegion,
			"allowed_regions": rc.Identity.AllowedRegions,
		},
	})
	return ErrRegionMismatch
}

// appendDenial writes the denial entry before the denial is returned, so the
// ledger and the decision stay consistent. A failed write is logged, never
// escalated: the decision is already final.
func appendDenial(ctx context.Context, ledger *audit.Ledger, rc *Context, actor *identity.Identity, e *audit.Entry) {
	if ledger == nil {
		return
	}
	e.Status = audit.StatusDenied
	if actor != nil {
		e.ActorID = actor.ID
		e.ActorEmail = actor.Email
	}
	fillFromContext(e, rc)
	if err := ledger.Append(ctx, e); err != nil {
		obs.LogError("append denial audit entry", err, map[string]any{"action": e.Action})
	}
}

// appendRoutine writes the success entry for a gated operation unless the
// call site marked it non-auditable. At most one routine entry is written per
// request even when several gating guards succeed.
func appendRoutine(ctx context.Context, ledger *audit.Ledger, rc *Context) {
	if ledger == nil || rc.SuppressRoutineAudit || rc.Operation == "" {
		return
	}
	rc.SuppressRoutineAudit = true
	e := &audit.Entry{
		Action: rc.Operation,
		Status: audit.StatusSuccess,
	}
	if rc.Identity != nil {
		e.ActorID = rc.Identity.ID
		e.ActorEmail = rc.Identity.Email
	}
	fillFromContext(e, rc)
	if err := ledger.Append(ctx, e); err != nil {
		obs.LogError("append routine audit entry", err, map[string]any{"action": e.Action})
	}
}

func fillFromContext(e *audit.Entry, rc *Context) {
	e.OriginIP = rc.ClientAddress
	e.UserAgent = rc.UserAgent
	e.SessionID = rc.SessionID
	e.CorrelationID = rc.CorrelationID
	if rc.Operation != "" {
		if e.Details == nil {
			e.Details = map[string]any{}
		}
		if _, ok := e.Details["operation"]; !ok {
			e.Details["operation"] = rc.Operation
		}
	}
}
