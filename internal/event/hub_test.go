package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
	signal chan struct{}
}

func newRecorder() *recorder {
	return &recorder{signal: make(chan struct{}, 64)}
}

func (r *recorder) handle(_ context.Context, ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.signal <- struct{}{}
}

func (r *recorder) wait(t *testing.T, n int) []Event {
	t.Helper()
	for {
		r.mu.Lock()
		if len(r.events) >= n {
			got := append([]Event(nil), r.events...)
			r.mu.Unlock()
			return got
		}
		r.mu.Unlock()
		select {
		case <-r.signal:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %d events", n)
		}
	}
}

func TestSubscribeBeforeStartFails(t *testing.T) {
	h := NewHub(nil)
	_, err := h.Subscribe(ChannelMessageCreated, func(context.Context, Event) {})
	assert.ErrorIs(t, err, ErrHubNotStarted)
}

func TestPublishDelivers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub(nil)
	h.Start(ctx)

	rec := newRecorder()
	_, err := h.Subscribe(ChannelMessageCreated, rec.handle)
	require.NoError(t, err)

	h.Publish(ctx, Event{Channel: ChannelMessageCreated, SessionID: "s1", Payload: map[string]any{"text": "hi"}})

	events := rec.wait(t, 1)
	assert.Equal(t, "s1", events[0].SessionID)
	assert.Equal(t, "hi", events[0].Payload["text"])
}

func TestDeliveryIsChannelScoped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub(nil)
	h.Start(ctx)

	messages := newRecorder()
	ended := newRecorder()
	_, err := h.Subscribe(ChannelMessageCreated, messages.handle)
	require.NoError(t, err)
	_, err = h.Subscribe(ChannelSessionEnded, ended.handle)
	require.NoError(t, err)

	h.Publish(ctx, Event{Channel: ChannelSessionEnded, SessionID: "s1"})

	events := ended.wait(t, 1)
	assert.Equal(t, ChannelSessionEnded, events[0].Channel)
	messages.mu.Lock()
	assert.Empty(t, messages.events)
	messages.mu.Unlock()
}

func TestDeliveryPreservesOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub(nil)
	h.Start(ctx)

	rec := newRecorder()
	_, err := h.Subscribe(ChannelMessageCreated, rec.handle)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		h.Publish(ctx, Event{Channel: ChannelMessageCreated, Payload: map[string]any{"seq": i}})
	}

	events := rec.wait(t, 10)
	for i, ev := range events[:10] {
		assert.Equal(t, i, ev.Payload["seq"])
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub(nil)
	h.Start(ctx)

	rec := newRecorder()
	sub, err := h.Subscribe(ChannelMessageCreated, rec.handle)
	require.NoError(t, err)

	h.Publish(ctx, Event{Channel: ChannelMessageCreated})
	rec.wait(t, 1)

	sub.Cancel()
	h.Publish(ctx, Event{Channel: ChannelMessageCreated})

	// Give the loop a beat to (not) deliver.
	time.Sleep(50 * time.Millisecond)
	rec.mu.Lock()
	assert.Len(t, rec.events, 1)
	rec.mu.Unlock()
}

func TestStartIsIdempotent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	h := NewHub(nil)
	h.Start(ctx)
	h.Start(ctx)

	rec := newRecorder()
	_, err := h.Subscribe(ChannelPanelUpdated, rec.handle)
	require.NoError(t, err)

	h.Publish(ctx, Event{Channel: ChannelPanelUpdated})
	events := rec.wait(t, 1)
	assert.Len(t, events, 1)
}
