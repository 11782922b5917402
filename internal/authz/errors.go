package authz

import "errors"

// Failure taxonomy. Authentication- and authorization-class failures are
// terminal for the request; only infrastructure failures are retryable.
var (
	ErrMissingCredential    = errors.New("authz: missing credential")
	ErrInvalidCredential    = errors.New("authz: invalid credential")
	ErrExpiredCredential    = errors.New("authz: expired credential")
	ErrAccountInactive      = errors.New("authz: account inactive")
	ErrAccountLocked        = errors.New("authz: account locked")
	ErrAccessNotYetValid    = errors.New("authz: access window not yet valid")
	ErrAccessExpired        = errors.New("authz: access window expired")
	ErrIPNotAllowed         = errors.New("authz: ip address not allowed")
	ErrMissingPermission    = errors.New("authz: missing permission")
	ErrMissingRole          = errors.New("authz: missing role")
	ErrOrganizationMismatch = errors.New("authz: organization mismatch")
	ErrRegionMismatch       = errors.New("authz: region mismatch")
	ErrInfrastructure       = errors.New("authz: infrastructure failure")
)

// Class is the abstract outcome bucket a transport layer renders from.
type Class int

const (
	ClassAuthentication Class = iota
	ClassAuthorization
	ClassInfrastructure
)

// ClassOf maps a pipeline failure onto its outcome class. Unknown errors are
// treated as infrastructure failures, the only retryable class.
func ClassOf(err error) Class {
	switch {
	case errors.Is(err, ErrMissingCredential),
		errors.Is(err, ErrInvalidCredential),
		errors.Is(err, ErrExpiredCredential),
		errors.Is(err, ErrAccountInactive),
		errors.Is(err, ErrAccountLocked),
		errors.Is(err, ErrAccessNotYetValid),
		errors.Is(err, ErrAccessExpired):
		return ClassAuthentication
	case errors.Is(err, ErrIPNotAllowed),
		errors.Is(err, ErrMissingPermission),
		errors.Is(err, ErrMissingRole),
		errors.Is(err, ErrOrganizationMismatch),
		errors.Is(err, ErrRegionMismatch):
		return ClassAuthorization
	default:
		return ClassInfrastructure
	}
}
