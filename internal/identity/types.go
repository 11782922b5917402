package identity

import (
	"time"

	"rideops.org/internal/catalog"
)

// Status is the derived lifecycle state of an administrative account.
type Status string

const (
	StatusActive      Status = "active"
	StatusLocked      Status = "locked"
	StatusDeactivated Status = "deactivated"
	StatusUnverified  Status = "unverified"
)

// Identity is an administrative account. Permissions and HierarchyLevel are
// always derived from Role through the catalog; Role is the source of truth.
type Identity struct {
	ID               string
	Email            string
	PasswordHash     string
	Name             string
	Role             catalog.Role
	Permissions      []catalog.Permission
	HierarchyLevel   int
	OrganizationID   string
	OrganizationKind catalog.OrganizationKind
	AllowedIPs       []string
	AllowedRegions   []string
	TwoFactorEnabled bool
	LoginAttempts    int
	LockUntil        *time.Time
	Active           bool
	Verified         bool
	AccessValidFrom  *time.Time
	AccessValidUntil *time.Time
	LastLogin        *time.Time
	LastLoginOrigin  string
	CreatedBy        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DeactivatedAt    *time.Time
}

// Status derives the lifecycle state at the given instant. Deactivation
// short-circuits every other state; a lock that has already elapsed does not
// count as locked (the lazy unlock happens on the next recorded attempt).
func (i *Identity) Status(now time.Time) Status {
	switch {
	case !i.Active:
		return StatusDeactivated
	case !i.Verified:
		return StatusUnverified
	case i.LockedAt(now):
		return StatusLocked
	default:
		return StatusActive
	}
}

// LockedAt reports whether the identity is under an active lock.
func (i *Identity) LockedAt(now time.Time) bool {
	return i.LockUntil != nil && now.Before(*i.LockUntil)
}

// HasPermission reports whether the identity carries the permission.
func (i *Identity) HasPermission(p catalog.Permission) bool {
	for _, have := range i.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

// WithinAccessWindow reports whether now falls inside the optional validity
// window. Nil bounds are open.
func (i *Identity) WithinAccessWindow(now time.Time) bool {
	if i.AccessValidFrom != nil && now.Before(*i.AccessValidFrom) {
		return false
	}
	if i.AccessValidUntil != nil && now.After(*i.AccessValidUntil) {
		return false
	}
	return true
}

// IPAllowed reports whether the caller address passes the optional allow-list.
// An empty list means unrestricted.
func (i *Identity) IPAllowed(addr string) bool {
	if len(i.AllowedIPs) == 0 {
		return true
	}
	for _, ip := range i.AllowedIPs {
		if ip == addr {
			return true
		}
	}
	return false
}

// RegionAllowed reports whether the target region passes the optional
// allowed-region list. An empty list means unrestricted.
func (i *Identity) RegionAllowed(region string) bool {
	if len(i.AllowedRegions) == 0 {
		return true
	}
	for _, r := range i.AllowedRegions {
		if r == region {
			return true
		}
	}
	return false
}
