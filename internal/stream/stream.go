// Package stream fans alert notifications out to live subscribers such as the
// admin server-sent events feed.
package stream

import (
	"context"
	"sync"
	"sync/atomic"

	"backoffice.dev/internal/alerts"
)

const subscriberBuffer = 16

// Hub broadcasts notifications to all active subscribers. It satisfies
// alerts.Publisher so the dispatcher can feed it directly.
type Hub struct {
	mu      sync.RWMutex
	subs    map[int]chan alerts.Notification
	next    int
	dropped atomic.Uint64
}

func New() *Hub {
	return &Hub{subs: make(map[int]chan alerts.Notification)}
}

// Subscribe registers a subscriber. The channel is closed when ctx ends.
func (h *Hub) Subscribe(ctx context.Context) <-chan alerts.Notification {
	ch := make(chan alerts.Notification, subscriberBuffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Enqueue publishes n without blocking; slow subscribers miss it.
func (h *Hub) Enqueue(n alerts.Notification) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- n:
		default:
			h.dropped.Add(1)
		}
	}
	return len(h.subs) > 0
}

// Subscribers reports the number of live subscribers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped counts notifications skipped because a subscriber was full.
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}
