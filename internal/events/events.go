// Package events fans deployment progress and state notifications out to
// in-process subscribers, websocket clients and an optional Redis channel.
package events

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Type names a notification kind
type Type string

const (
	// TypeStateChanged carries a deployment progress event
	TypeStateChanged Type = "state_changed"

	// TypeConditionRaised is published when a standing condition is raised
	TypeConditionRaised Type = "condition_raised"

	// TypeConditionCleared is published when a standing condition is cleared
	TypeConditionCleared Type = "condition_cleared"

	// TypeUpdateChecked is published after every update check
	TypeUpdateChecked Type = "update_checked"

	// TypeSecretsSynced is published after a secret sync outside a deployment
	TypeSecretsSynced Type = "secrets_synced"
)

const (
	// DefaultBufferSize is the per-subscriber queue length
	DefaultBufferSize = 32

	sinkTimeout = 2 * time.Second
)

// Event is a single notification
type Event struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

// Publisher accepts notifications
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Sink forwards events outside the process
type Sink interface {
	Send(ctx context.Context, ev Event) error
	Close() error
}

type subscriber struct {
	ch chan Event
}

// Hub delivers each published event to every current subscriber.
// A subscriber whose queue is full misses the event; publishing never blocks.
type Hub struct {
	bufferSize int
	sinks      []Sink

	mu      sync.RWMutex
	subs    map[*subscriber]struct{}
	dropped atomic.Int64
}

// NewHub creates a hub with the given per-subscriber buffer
func NewHub(bufferSize int, sinks ...Sink) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Hub{
		bufferSize: bufferSize,
		sinks:      sinks,
		subs:       make(map[*subscriber]struct{}),
	}
}

// Publish implements Publisher
func (h *Hub) Publish(ctx context.Context, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	h.mu.RLock()
	for sub := range h.subs {
		select {
		case sub.ch <- ev:
		default:
			h.dropped.Add(1)
			slog.Debug("Dropping event for slow subscriber", "type", ev.Type)
		}
	}
	h.mu.RUnlock()

	for _, sink := range h.sinks {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
		if err := sink.Send(sendCtx, ev); err != nil {
			slog.Warn("Failed to forward event", "type", ev.Type, "error", err)
		}
		cancel()
	}
}

// Subscribe registers a new subscriber. The returned function unsubscribes
// and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe() (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, h.bufferSize)}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, sub)
			h.mu.Unlock()
			close(sub.ch)
		})
	}
}

// SubscriberCount returns the number of live subscribers
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber was full
func (h *Hub) Dropped() int64 {
	return h.dropped.Load()
}

// Close closes every sink
func (h *Hub) Close() error {
	var firstErr error
	for _, sink := range h.sinks {
		if err := sink.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
