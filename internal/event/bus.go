package event

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryBus delivers each event to every subscriber before Publish
// returns. A panicking subscriber is logged and skipped.
type InMemoryBus struct {
	mu          sync.RWMutex
	subscribers map[string]subscriber
	seq         int
}

type subscriber struct {
	seq int
	h   Handler
}

func NewBus() *InMemoryBus {
	return &InMemoryBus{
		subscribers: make(map[string]subscriber),
	}
}

func (b *InMemoryBus) Publish(ctx context.Context, e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp == "" {
		e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}

	b.mu.RLock()
	subs := make([]subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	// Deliver in subscription order.
	sort.Slice(subs, func(i, j int) bool { return subs[i].seq < subs[j].seq })
	for _, s := range subs {
		deliver(ctx, s.h, e)
	}
}

func deliver(ctx context.Context, h Handler, e Event) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("event subscriber panicked", "type", e.Type, "event_id", e.ID, "panic", rec)
		}
	}()
	h(ctx, e)
}

func (b *InMemoryBus) Subscribe(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	b.seq++
	b.subscribers[id] = subscriber{seq: b.seq, h: h}

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subscribers, id)
	}
}
