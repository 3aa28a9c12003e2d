// Package subscription manages idempotent, retryable registration of event
// handlers against the pub/sub hub.
package subscription

import (
	"log/slog"
	"sync"

	"github.com/moodlens/moodlens/internal/event"
)

// Broker is the subscribe capability consumed by the manager. It may fail
// until the underlying delivery infrastructure is ready.
type Broker interface {
	Subscribe(channel event.Channel, handler event.Handler) (*event.Subscription, error)
}

// Manager establishes and holds one subscription handle per channel.
// EnsureSubscribed is idempotent and safe to call repeatedly: a channel
// that already holds a handle is skipped, and a failed attempt records
// nothing so the next call re-attempts it.
type Manager struct {
	broker Broker
	logger *slog.Logger

	mu      sync.Mutex
	handles map[event.Channel]*event.Subscription
}

// NewManager creates a subscription manager over the given broker.
func NewManager(log *slog.Logger, broker Broker) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		broker:  broker,
		logger:  log.With(slog.String("component", "subscription")),
		handles: map[event.Channel]*event.Subscription{},
	}
}

// EnsureSubscribed attempts to subscribe every listed channel to its
// handler. Failures are logged and left for a later retry; they are never
// fatal. It reports whether every channel now holds a handle.
func (m *Manager) EnsureSubscribed(channels []event.Channel, handlers map[event.Channel]event.Handler) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	complete := true
	for _, channel := range channels {
		if _, ok := m.handles[channel]; ok {
			continue
		}
		handler, ok := handlers[channel]
		if !ok || handler == nil {
			m.logger.Warn("no handler registered for channel", slog.String("channel", string(channel)))
			complete = false
			continue
		}
		sub, err := m.broker.Subscribe(channel, handler)
		if err != nil {
			m.logger.Debug("subscribe attempt failed", slog.String("channel", string(channel)), slog.Any("error", err))
			complete = false
			continue
		}
		m.handles[channel] = sub
		m.logger.Info("subscribed", slog.String("channel", string(channel)))
	}
	return complete
}

// Subscribed reports whether the channel currently holds a handle.
func (m *Manager) Subscribed(channel event.Channel) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.handles[channel]
	return ok
}

// CancelAll releases every held handle. Used at panel teardown.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for channel, sub := range m.handles {
		sub.Cancel()
		delete(m.handles, channel)
	}
}
