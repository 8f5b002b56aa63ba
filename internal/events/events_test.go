package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
	closed bool
}

func (s *recordingSink) Send(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func TestHub_FanOut(t *testing.T) {
	t.Parallel()

	hub := NewHub(4)
	first, unsubFirst := hub.Subscribe()
	second, unsubSecond := hub.Subscribe()
	defer unsubFirst()
	defer unsubSecond()

	hub.Publish(context.Background(), Event{Type: TypeStateChanged, Data: map[string]string{"status": "pulling"}})

	for _, ch := range []<-chan Event{first, second} {
		select {
		case ev := <-ch:
			assert.Equal(t, TypeStateChanged, ev.Type)
			assert.False(t, ev.Timestamp.IsZero())
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestHub_SlowSubscriberDrops(t *testing.T) {
	t.Parallel()

	hub := NewHub(2)
	ch, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	for i := 0; i < 5; i++ {
		hub.Publish(context.Background(), Event{Type: TypeStateChanged, Data: i})
	}

	assert.Len(t, ch, 2)
	assert.Equal(t, int64(3), hub.Dropped())
	assert.Equal(t, 0, (<-ch).Data)
	assert.Equal(t, 1, (<-ch).Data)
}

func TestHub_Unsubscribe(t *testing.T) {
	t.Parallel()

	hub := NewHub(1)
	ch, unsubscribe := hub.Subscribe()
	require.Equal(t, 1, hub.SubscriberCount())

	unsubscribe()
	unsubscribe()
	assert.Equal(t, 0, hub.SubscriberCount())

	_, open := <-ch
	assert.False(t, open)

	// publishing with no subscribers is fine
	hub.Publish(context.Background(), Event{Type: TypeUpdateChecked})
}

func TestHub_SinkErrorsDoNotStopDelivery(t *testing.T) {
	t.Parallel()

	failing := &recordingSink{err: errors.New("connection refused")}
	healthy := &recordingSink{}
	hub := NewHub(1, failing, healthy)

	ch, unsubscribe := hub.Subscribe()
	defer unsubscribe()

	hub.Publish(context.Background(), Event{Type: TypeConditionRaised})

	assert.Len(t, ch, 1)
	assert.Len(t, failing.events, 1)
	assert.Len(t, healthy.events, 1)

	require.NoError(t, hub.Close())
	assert.True(t, failing.closed)
	assert.True(t, healthy.closed)
}

func TestHub_DefaultBuffer(t *testing.T) {
	t.Parallel()

	hub := NewHub(0)
	ch, unsubscribe := hub.Subscribe()
	defer unsubscribe()
	assert.Equal(t, DefaultBufferSize, cap(ch))
}
