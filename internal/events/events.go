// Package events carries the notifications a raffle engine emits and the
// sinks that deliver them: an in-memory ring buffer for the API, a Redis
// publisher for external indexers and a fan-out combining both.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type classifies a notification.
type Type string

const (
	TypeParticipantEntered Type = "participant.entered"
	TypeDrawRequested      Type = "draw.requested"
	TypeWinnerPicked       Type = "winner.picked"
)

// Notification is a single engine notification. Sequence is assigned by the
// engine and is strictly increasing per engine instance.
type Notification struct {
	ID        string    `json:"id"`
	Sequence  uint64    `json:"sequence"`
	Type      Type      `json:"type"`
	Player    string    `json:"player,omitempty"`
	RequestID uint64    `json:"request_id,omitempty"`
	Winner    string    `json:"winner,omitempty"`
	Amount    int64     `json:"amount,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// String returns the JSON form.
func (n Notification) String() string {
	data, _ := json.Marshal(n)
	return string(data)
}

// Notifier receives notifications. Implementations must not block: the
// engine calls Notify while holding its critical section.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Handler processes notifications as they occur.
type Handler func(Notification)

// Filter decides whether a notification should be passed to a handler.
type Filter func(Notification) bool

// RingBuffer is a thread-safe circular buffer of notifications.
type RingBuffer struct {
	mu       sync.RWMutex
	items    []Notification
	size     int
	head     int
	count    int
	handlers []handlerEntry
	nextID   int64
}

type handlerEntry struct {
	id      int64
	filter  Filter
	handler Handler
}

// NewRingBuffer creates a ring buffer holding the last size notifications.
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1000
	}
	return &RingBuffer{
		items: make([]Notification, size),
		size:  size,
	}
}

// Notify stores n and passes it to subscribed handlers.
func (rb *RingBuffer) Notify(_ context.Context, n Notification) {
	rb.mu.Lock()
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now().UTC()
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}

	rb.items[rb.head] = n
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}

	handlers := make([]handlerEntry, len(rb.handlers))
	copy(handlers, rb.handlers)
	rb.mu.Unlock()

	for _, h := range handlers {
		if h.filter == nil || h.filter(n) {
			h.handler(n)
		}
	}
}

// Subscribe registers a handler for all notifications.
func (rb *RingBuffer) Subscribe(handler Handler) func() {
	return rb.SubscribeFiltered(nil, handler)
}

// SubscribeFiltered registers a handler with a filter and returns the
// function that removes it.
func (rb *RingBuffer) SubscribeFiltered(filter Filter, handler Handler) func() {
	rb.mu.Lock()
	id := rb.nextID
	rb.nextID++
	rb.handlers = append(rb.handlers, handlerEntry{id: id, filter: filter, handler: handler})
	rb.mu.Unlock()

	return func() {
		rb.mu.Lock()
		defer rb.mu.Unlock()
		for i, h := range rb.handlers {
			if h.id == id {
				rb.handlers = append(rb.handlers[:i], rb.handlers[i+1:]...)
				return
			}
		}
	}
}

// Recent returns the most recent n notifications, newest first.
func (rb *RingBuffer) Recent(n int) []Notification {
	return rb.collect(n, nil)
}

// RecentByType returns the most recent n notifications of type t, newest first.
func (rb *RingBuffer) RecentByType(t Type, n int) []Notification {
	return rb.collect(n, func(x Notification) bool { return x.Type == t })
}

func (rb *RingBuffer) collect(n int, filter Filter) []Notification {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n <= 0 || rb.count == 0 {
		return nil
	}

	var result []Notification
	for i := 0; i < rb.count && len(result) < n; i++ {
		idx := (rb.head - 1 - i + rb.size) % rb.size
		if filter == nil || filter(rb.items[idx]) {
			result = append(result, rb.items[idx])
		}
	}
	return result
}

// Count returns the number of buffered notifications.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Fanout delivers every notification to each sink in order. All sinks see
// the same notification ID.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, n Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	for _, sink := range f {
		if sink != nil {
			sink.Notify(ctx, n)
		}
	}
}

// NoOp discards notifications.
type NoOp struct{}

func (NoOp) Notify(context.Context, Notification) {}
