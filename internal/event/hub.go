// Package event provides the in-process pub/sub hub carrying conversation
// and panel events between the ingest surface and the panel core.
package event

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Channel is a named event stream identity used for subscription.
type Channel string

const (
	// ChannelMessageCreated carries inbound conversation messages.
	ChannelMessageCreated Channel = "conversation.message.created"
	// ChannelSessionEnded carries conversation-ended signals.
	ChannelSessionEnded Channel = "conversation.session.ended"
	// ChannelPanelUpdated carries panel state snapshots for stream consumers.
	ChannelPanelUpdated Channel = "panel.state.updated"
)

// ErrHubNotStarted is returned by Subscribe before the delivery loop is
// running. Callers are expected to retry on a later opportunity.
var ErrHubNotStarted = errors.New("event hub not started")

// Event is one delivery on a channel. Payload is loosely structured for
// conversation events and a typed snapshot for panel updates.
type Event struct {
	Channel   Channel
	SessionID string
	Payload   map[string]any
	Data      any
}

// Handler consumes one event. Handlers run sequentially on the hub's
// delivery goroutine; each handler completes before the next delivery.
type Handler func(ctx context.Context, ev Event)

// Subscription is an opaque handle for one registered handler.
type Subscription struct {
	id      int
	channel Channel
	hub     *Hub
}

// Channel returns the channel this subscription is registered on.
func (s *Subscription) Channel() Channel {
	return s.channel
}

// Cancel removes the subscription from the hub.
func (s *Subscription) Cancel() {
	if s == nil || s.hub == nil {
		return
	}
	s.hub.cancel(s)
}

// Hub fans events out to subscribed handlers. Delivery is single-threaded:
// one queue, one loop, handlers invoked one at a time.
type Hub struct {
	logger *slog.Logger

	mu       sync.Mutex
	started  bool
	nextID   int
	handlers map[Channel]map[int]Handler
	queue    chan queued
	done     chan struct{}
}

type queued struct {
	ctx context.Context
	ev  Event
}

// NewHub creates a hub. Subscribe fails until Start is called.
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		logger:   log.With(slog.String("component", "event_hub")),
		handlers: map[Channel]map[int]Handler{},
		queue:    make(chan queued, 256),
		done:     make(chan struct{}),
	}
}

// Start launches the delivery loop. It runs until ctx is cancelled.
func (h *Hub) Start(ctx context.Context) {
	h.mu.Lock()
	if h.started {
		h.mu.Unlock()
		return
	}
	h.started = true
	h.mu.Unlock()

	go func() {
		defer close(h.done)
		for {
			select {
			case <-ctx.Done():
				return
			case item := <-h.queue:
				h.deliver(item.ctx, item.ev)
			}
		}
	}()
}

// Subscribe registers a handler for a channel. It fails while the hub is
// not started; callers retry until the delivery infrastructure is ready.
func (h *Hub) Subscribe(channel Channel, handler Handler) (*Subscription, error) {
	if handler == nil {
		return nil, errors.New("handler is required")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.started {
		return nil, ErrHubNotStarted
	}
	h.nextID++
	id := h.nextID
	if h.handlers[channel] == nil {
		h.handlers[channel] = map[int]Handler{}
	}
	h.handlers[channel][id] = handler
	return &Subscription{id: id, channel: channel, hub: h}, nil
}

// Publish enqueues an event for delivery. Publishing to a stopped or full
// hub drops the event with a warning; no event in this system is fatal.
func (h *Hub) Publish(ctx context.Context, ev Event) {
	select {
	case h.queue <- queued{ctx: ctx, ev: ev}:
	case <-h.done:
		h.logger.Warn("publish after hub stop", slog.String("channel", string(ev.Channel)))
	default:
		h.logger.Warn("event queue full, dropping event", slog.String("channel", string(ev.Channel)))
	}
}

func (h *Hub) deliver(ctx context.Context, ev Event) {
	h.mu.Lock()
	registered := h.handlers[ev.Channel]
	handlers := make([]Handler, 0, len(registered))
	for _, fn := range registered {
		handlers = append(handlers, fn)
	}
	h.mu.Unlock()

	for _, fn := range handlers {
		fn(ctx, ev)
	}
}

func (h *Hub) cancel(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if registered, ok := h.handlers[sub.channel]; ok {
		delete(registered, sub.id)
	}
}
