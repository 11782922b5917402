package stream

import (
	"context"
	"sync"

	"rideops.org/internal/audit"
)

// Stream fan-outs audit entries to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]subscriber
	next int
}

type subscriber struct {
	ch  chan audit.Entry
	min audit.Severity
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]subscriber)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// every published entry. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan audit.Entry {
	return s.SubscribeSeverity(ctx, audit.SeverityLow)
}

// SubscribeSeverity registers a subscriber that only receives entries at or
// above min.
func (s *Stream) SubscribeSeverity(ctx context.Context, min audit.Severity) <-chan audit.Entry {
	ch := make(chan audit.Entry, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = subscriber{ch: ch, min: min}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the entry to all subscribers. It satisfies audit.Publisher
// so a Ledger can feed the stream directly.
func (s *Stream) Publish(e audit.Entry) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subs {
		if e.Severity.Rank() < sub.min.Rank() {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}
