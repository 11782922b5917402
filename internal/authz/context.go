package authz

import "rideops.org/internal/identity"

// Context is the strongly-typed request context every guard sees. A transport
// layer fills it from the inbound request; the Authenticate guard resolves
// Identity; later guards read, never write.
type Context struct {
	// Credential is the opaque bearer credential presented by the caller.
	Credential string
	// Identity is resolved by the Authenticate guard.
	Identity *identity.Identity

	TargetOrganization string
	TargetRegion       string
	ClientAddress      string
	UserAgent          string
	Operation          string

	SessionID     string
	CorrelationID string

	// SuppressRoutineAudit skips the LOW-severity success entry on
	// permission- and role-gated operations. Denial entries are never
	// suppressed.
	SuppressRoutineAudit bool
}
