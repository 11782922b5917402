package audit

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety. Used in tests
// and for running the API without PostgreSQL.
type InMemory struct {
	mu      sync.RWMutex
	entries []Entry
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty audit store.
func NewInMemory() *InMemory {
	return &InMemory{}
}

func (s *InMemory) Append(ctx context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *e)
	return nil
}

func (s *InMemory) Entry(ctx context.Context, id string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.entries {
		if s.entries[i].ID == id {
			cp := s.entries[i]
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *InMemory) MarkReviewed(ctx context.Context, id, reviewer, notes string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries {
		if s.entries[i].ID != id {
			continue
		}
		if s.entries[i].IsReviewed {
			return ErrAlreadyReviewed
		}
		s.entries[i].IsReviewed = true
		s.entries[i].ReviewedBy = reviewer
		s.entries[i].ReviewedAt = &at
		s.entries[i].ReviewNotes = notes
		return nil
	}
	return ErrNotFound
}

func (s *InMemory) ListByActor(ctx context.Context, actorID string, since time.Time, limit int) ([]Entry, error) {
	return s.list(since, limit, func(e *Entry) bool { return e.ActorID == actorID })
}

func (s *InMemory) ListByAction(ctx context.Context, action string, since time.Time, limit int) ([]Entry, error) {
	return s.list(since, limit, func(e *Entry) bool { return e.Action == action })
}

func (s *InMemory) ListBySeverity(ctx context.Context, sev Severity, since time.Time, limit int) ([]Entry, error) {
	return s.list(since, limit, func(e *Entry) bool { return e.Severity == sev })
}

func (s *InMemory) ListByCategory(ctx context.Context, cat Category, since time.Time, limit int) ([]Entry, error) {
	return s.list(since, limit, func(e *Entry) bool { return e.Category == cat })
}

func (s *InMemory) ListUnauthorized(ctx context.Context, since time.Time, limit int) ([]Entry, error) {
	return s.list(since, limit, func(e *Entry) bool {
		return strings.Contains(strings.ToUpper(e.Action), "UNAUTHORIZED")
	})
}

func (s *InMemory) ActorCategoryRollup(ctx context.Context, actorID string, since time.Time) (map[Category]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[Category]int)
	for i := range s.entries {
		e := &s.entries[i]
		if e.ActorID != actorID || e.CreatedAt.Before(since) {
			continue
		}
		out[e.Category]++
	}
	return out, nil
}

func (s *InMemory) ActionRollup(ctx context.Context, since time.Time) ([]ActionStat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	type agg struct {
		count  int
		actors map[string]struct{}
		last   time.Time
	}
	byAction := make(map[string]*agg)
	for i := range s.entries {
		e := &s.entries[i]
		if e.CreatedAt.Before(since) {
			continue
		}
		a, ok := byAction[e.Action]
		if !ok {
			a = &agg{actors: make(map[string]struct{})}
			byAction[e.Action] = a
		}
		a.count++
		a.actors[e.ActorID] = struct{}{}
		if e.CreatedAt.After(a.last) {
			a.last = e.CreatedAt
		}
	}
	out := make([]ActionStat, 0, len(byAction))
	for action, a := range byAction {
		out = append(out, ActionStat{
			Action:       action,
			Count:        a.count,
			Actors:       len(a.actors),
			LastOccurred: a.last,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Action < out[j].Action
	})
	return out, nil
}

func (s *InMemory) PurgeBefore(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	purged := 0
	for i := range s.entries {
		if s.entries[i].CreatedAt.Before(cutoff) {
			purged++
			continue
		}
		kept = append(kept, s.entries[i])
	}
	s.entries = kept
	return purged, nil
}

func (s *InMemory) list(since time.Time, limit int, match func(*Entry) bool) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Entry
	// Newest first.
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := &s.entries[i]
		if e.CreatedAt.Before(since) || !match(e) {
			continue
		}
		out = append(out, *e)
	}
	return out, nil
}
