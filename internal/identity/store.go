package identity

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound       = errors.New("identity: not found")
	ErrAlreadyExists  = errors.New("identity: already exists")
	ErrInvalidInput   = errors.New("identity: invalid input")
	ErrLocked         = errors.New("identity: account locked")
	ErrInactive       = errors.New("identity: account deactivated")
	ErrBadCredentials = errors.New("identity: bad credentials")
)

// Store describes persistence operations required by the identity subsystem.
type Store interface {
	Create(ctx context.Context, id *Identity) error
	FindByID(ctx context.Context, id string) (*Identity, error)
	FindByEmail(ctx context.Context, email string) (*Identity, error)
	Update(ctx context.Context, id *Identity) error
	// Deactivate soft-disables the account; records are never physically
	// deleted in normal operation.
	Deactivate(ctx context.Context, id string, at time.Time) error

	// RegisterFailedAttempt applies the failed-login transition as one atomic
	// store-level operation: if an existing lock has already expired the
	// counter resets to 1 and the lock clears (lazy unlock); otherwise the
	// counter increments, and when it reaches threshold on an unlocked record
	// the lock is set to now+lockFor. Returns the resulting counter and lock.
	// Implementations must not realize this as read-modify-write from
	// application memory; concurrent failed attempts would under-count.
	RegisterFailedAttempt(ctx context.Context, id string, threshold int, lockFor time.Duration, now time.Time) (attempts int, lockUntil *time.Time, err error)

	// RecordLogin resets the attempt counter, clears any lock and stamps the
	// last-login fields. Callers treat failures as best-effort.
	RecordLogin(ctx context.Context, id string, at time.Time, origin string) error
}
