package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"rideops.org/internal/ids"
	"rideops.org/internal/obs"
)

// RetentionPeriod is the horizon beyond which entries are not guaranteed to
// be retrievable and may be physically purged.
const RetentionPeriod = 2 * 365 * 24 * time.Hour

const defaultQueryLimit = 100

// Publisher receives every successfully appended entry. The SSE stream
// implements it; a nil publisher is fine.
type Publisher interface {
	Publish(Entry)
}

// Ledger is the service surface over the append-only store.
type Ledger struct {
	store Store
	pub   Publisher
	now   func() time.Time
}

// Option configures Ledger behavior.
type Option func(*Ledger)

// WithPublisher fans appended entries out to subscribers.
func WithPublisher(p Publisher) Option {
	return func(l *Ledger) { l.pub = p }
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Ledger) {
		if fn != nil {
			l.now = fn
		}
	}
}

// NewLedger constructs the ledger around a store.
func NewLedger(store Store, opts ...Option) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidInput)
	}
	l := &Ledger{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Append classifies and persists one entry. The caller's explicit category
// and severity win over inference. The returned error informs the caller but
// by contract must never alter an authorization decision that has already
// been made.
func (l *Ledger) Append(ctx context.Context, e *Entry) error {
	if e == nil || strings.TrimSpace(e.Action) == "" {
		return fmt.Errorf("%w: action is required", ErrInvalidInput)
	}
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.now().UTC()
	}
	if e.Status == "" {
		e.Status = StatusSuccess
	}
	Classify(e)
	if err := l.store.Append(ctx, e); err != nil {
		obs.AuditAppend("error")
		return err
	}
	obs.AuditAppend("ok")
	if l.pub != nil {
		l.pub.Publish(*e)
	}
	return nil
}

// Review applies the one-time review transition and returns the updated
// entry.
func (l *Ledger) Review(ctx context.Context, id, reviewer, notes string) (*Entry, error) {
	id = strings.TrimSpace(id)
	reviewer = strings.TrimSpace(reviewer)
	if id == "" || reviewer == "" {
		return nil, fmt.Errorf("%w: entry id and reviewer are required", ErrInvalidInput)
	}
	if err := l.store.MarkReviewed(ctx, id, reviewer, notes, l.now().UTC()); err != nil {
		return nil, err
	}
	return l.store.Entry(ctx, id)
}

// Entry loads a single entry by id.
func (l *Ledger) Entry(ctx context.Context, id string) (*Entry, error) {
	return l.store.Entry(ctx, id)
}

// horizon is the oldest instant any read surface will reach back to.
func (l *Ledger) horizon() time.Time {
	return l.now().UTC().Add(-RetentionPeriod)
}

// windowStart clamps a trailing window to the retention horizon.
func (l *Ledger) windowStart(window time.Duration) time.Time {
	start := l.now().UTC().Add(-window)
	if h := l.horizon(); start.Before(h) {
		return h
	}
	return start
}

// EntriesByActor lists an actor's entries, newest first.
func (l *Ledger) EntriesByActor(ctx context.Context, actorID string, limit int) ([]Entry, error) {
	return l.store.ListByActor(ctx, actorID, l.horizon(), clampLimit(limit))
}

// EntriesByAction lists entries for one action name, newest first.
func (l *Ledger) EntriesByAction(ctx context.Context, action string, limit int) ([]Entry, error) {
	return l.store.ListByAction(ctx, action, l.horizon(), clampLimit(limit))
}

// EntriesBySeverity lists entries of one severity, newest first.
func (l *Ledger) EntriesBySeverity(ctx context.Context, sev Severity, limit int) ([]Entry, error) {
	return l.store.ListBySeverity(ctx, sev, l.horizon(), clampLimit(limit))
}

// SecurityEvents lists security-category entries within the trailing window.
func (l *Ledger) SecurityEvents(ctx context.Context, window time.Duration, limit int) ([]Entry, error) {
	return l.store.ListByCategory(ctx, CategorySecurity, l.windowStart(window), clampLimit(limit))
}

// FailedLogins lists failed-login entries within the trailing window.
func (l *Ledger) FailedLogins(ctx context.Context, window time.Duration, limit int) ([]Entry, error) {
	return l.store.ListByAction(ctx, ActionFailedLogin, l.windowStart(window), clampLimit(limit))
}

// UnauthorizedAttempts lists denial entries within the trailing window.
func (l *Ledger) UnauthorizedAttempts(ctx context.Context, window time.Duration, limit int) ([]Entry, error) {
	return l.store.ListUnauthorized(ctx, l.windowStart(window), clampLimit(limit))
}

// ActorCategoryRollup counts one actor's entries per category over N days.
func (l *Ledger) ActorCategoryRollup(ctx context.Context, actorID string, days int) (map[Category]int, error) {
	return l.store.ActorCategoryRollup(ctx, actorID, l.windowStart(daysWindow(days)))
}

// ActionRollup aggregates count, distinct actors and last occurrence per
// action over N days.
func (l *Ledger) ActionRollup(ctx context.Context, days int) ([]ActionStat, error) {
	return l.store.ActionRollup(ctx, l.windowStart(daysWindow(days)))
}

// PurgeExpired physically removes entries older than the retention horizon.
// Scheduling is the operator's concern.
func (l *Ledger) PurgeExpired(ctx context.Context) (int, error) {
	return l.store.PurgeBefore(ctx, l.horizon())
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return defaultQueryLimit
	}
	return limit
}

func daysWindow(days int) time.Duration {
	if days <= 0 {
		days = 30
	}
	return time.Duration(days) * 24 * time.Hour
}
