package audit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newTestLedger(t *testing.T, now *time.Time, opts ...Option) (*Ledger, *InMemory) {
	t.Helper()
	store := NewInMemory()
	opts = append(opts, WithClock(func() time.Time { return *now }))
	l, err := NewLedger(store, opts...)
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}
	return l, store
}

func TestAppendClassifiesAndStamps(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	l, _ := newTestLedger(t, &now)

	e := &Entry{ActorID: "adm-1", Action: ActionFailedLogin, Status: StatusFailed}
	if err := l.Append(context.Background(), e); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if e.ID == "" || !e.CreatedAt.Equal(now) {
		t.Fatalf("id/timestamp not stamped: %q %v", e.ID, e.CreatedAt)
	}
	if e.Category != CategorySecurity || e.Severity != SeverityHigh || !e.RequiresReview {
		t.Fatalf("classification wrong: %s %s review=%v", e.Category, e.Severity, e.RequiresReview)
	}
}

func TestAppendRejectsEmptyAction(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	l, _ := newTestLedger(t, &now)
	if err := l.Append(context.Background(), &Entry{ActorID: "adm-1"}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput, got %v", err)
	}
}

func TestReviewTransitionsExactlyOnce(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	l, _ := newTestLedger(t, &now)

	e := &Entry{ActorID: "adm-1", Action: ActionUnauthorizedOrganization, Status: StatusDenied}
	if err := l.Append(context.Background(), e); err != nil {
		t.Fatalf("Append: %v", err)
	}

	reviewed, err := l.Review(context.Background(), e.ID, "compliance-1", "credential theft ruled out")
	if err != nil {
		t.Fatalf("Review: %v", err)
	}
	if !reviewed.IsReviewed || reviewed.ReviewedBy != "compliance-1" || reviewed.ReviewedAt == nil {
		t.Fatalf("review fields not set: %+v", reviewed)
	}

	if _, err := l.Review(context.Background(), e.ID, "compliance-2", "second opinion"); !errors.Is(err, ErrAlreadyReviewed) {
		t.Fatalf("second review must fail, got %v", err)
	}
}

func TestRetentionHorizonHidesOldEntries(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	l, store := newTestLedger(t, &now)

	old := &Entry{ActorID: "adm-1", Action: "VIEW_ANALYTICS", CreatedAt: now.Add(-RetentionPeriod - time.Hour)}
	fresh := &Entry{ActorID: "adm-1", Action: "VIEW_ANALYTICS", CreatedAt: now.Add(-time.Hour)}
	for _, e := range []*Entry{old, fresh} {
		if err := l.Append(context.Background(), e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := l.EntriesByActor(context.Background(), "adm-1", 10)
	if err != nil {
		t.Fatalf("EntriesByActor: %v", err)
	}
	if len(got) != 1 || got[0].ID != fresh.ID {
		t.Fatalf("retention filtering broken: %d entries", len(got))
	}

	purged, err := l.PurgeExpired(context.Background())
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged %d, want 1", purged)
	}
	if _, err := store.Entry(context.Background(), old.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old entry should be gone, got %v", err)
	}
}

func TestWindowQueries(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	l, _ := newTestLedger(t, &now)

	ctx := context.Background()
	appendAt := func(action string, age time.Duration, actor string) {
		e := &Entry{ActorID: actor, Action: action, CreatedAt: now.Add(-age)}
		if err := l.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	appendAt(ActionFailedLogin, time.Hour, "adm-1")
	appendAt(ActionFailedLogin, 48*time.Hour, "adm-1")
	appendAt(ActionUnauthorizedIP, 2*time.Hour, "adm-2")
	appendAt("VIEW_ANALYTICS", time.Hour, "adm-2")

	failed, err := l.FailedLogins(ctx, 24*time.Hour, 10)
	if err != nil {
		t.Fatalf("FailedLogins: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("failed logins in window: %d, want 1", len(failed))
	}

	security, err := l.SecurityEvents(ctx, 24*time.Hour, 10)
	if err != nil {
		t.Fatalf("SecurityEvents: %v", err)
	}
	if len(security) != 2 {
		t.Fatalf("security events in window: %d, want 2", len(security))
	}

	unauthorized, err := l.UnauthorizedAttempts(ctx, 24*time.Hour, 10)
	if err != nil {
		t.Fatalf("UnauthorizedAttempts: %v", err)
	}
	if len(unauthorized) != 1 || unauthorized[0].Action != ActionUnauthorizedIP {
		t.Fatalf("unexpected unauthorized attempts: %+v", unauthorized)
	}
}

func TestRollups(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	l, _ := newTestLedger(t, &now)

	ctx := context.Background()
	entries := []*Entry{
		{ActorID: "adm-1", Action: "APPROVE_DRIVER", CreatedAt: now.Add(-time.Hour)},
		{ActorID: "adm-1", Action: "APPROVE_DRIVER", CreatedAt: now.Add(-2 * time.Hour)},
		{ActorID: "adm-2", Action: "APPROVE_DRIVER", CreatedAt: now.Add(-3 * time.Hour)},
		{ActorID: "adm-1", Action: "BLOCK_USER", CreatedAt: now.Add(-4 * time.Hour)},
	}
	for _, e := range entries {
		if err := l.Append(ctx, e); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	rollup, err := l.ActorCategoryRollup(ctx, "adm-1", 7)
	if err != nil {
		t.Fatalf("ActorCategoryRollup: %v", err)
	}
	if rollup[CategoryDriverManagement] != 2 || rollup[CategoryUserManagement] != 1 {
		t.Fatalf("unexpected rollup: %v", rollup)
	}

	stats, err := l.ActionRollup(ctx, 7)
	if err != nil {
		t.Fatalf("ActionRollup: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("action rows: %d, want 2", len(stats))
	}
	top := stats[0]
	if top.Action != "APPROVE_DRIVER" || top.Count != 3 || top.Actors != 2 {
		t.Fatalf("unexpected top action: %+v", top)
	}
	if !top.LastOccurred.Equal(now.Add(-time.Hour)) {
		t.Fatalf("last occurrence %v", top.LastOccurred)
	}
}

type capturePublisher struct {
	entries []Entry
}

func (c *capturePublisher) Publish(e Entry) { c.entries = append(c.entries, e) }

func TestAppendPublishes(t *testing.T) {
	now := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	pub := &capturePublisher{}
	l, _ := newTestLedger(t, &now, WithPublisher(pub))

	if err := l.Append(context.Background(), &Entry{ActorID: "adm-1", Action: "VIEW_ANALYTICS"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if len(pub.entries) != 1 || pub.entries[0].Action != "VIEW_ANALYTICS" {
		t.Fatalf("publisher not invoked: %+v", pub.entries)
	}
}
