// Package panels manages one panel orchestrator per observed session and
// wires them to the event hub, the history fetcher, and the stores.
package panels

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/moodlens/moodlens/internal/event"
	"github.com/moodlens/moodlens/internal/history"
	"github.com/moodlens/moodlens/internal/panel"
	"github.com/moodlens/moodlens/internal/records"
	"github.com/moodlens/moodlens/internal/subscription"
)

// Store is the persistence surface the service consumes: panel
// configuration, persisted results, and the conversation log.
type Store interface {
	history.LogProvider
	GetResult(ctx context.Context, sessionID string) (records.Result, error)
	GetPanelConfig(ctx context.Context, sessionID string) (panel.Config, error)
	UpsertPanelConfig(ctx context.Context, sessionID string, cfg panel.Config) error
	AppendMessage(ctx context.Context, sessionID, author, content string) error
}

// Options tune service behavior.
type Options struct {
	// Defaults is the trigger configuration used until a stored one is
	// delivered.
	Defaults panel.Config
	// HistoryBaseDelay and HistoryMaxAttempts tune the initial-fetch
	// retry schedule.
	HistoryBaseDelay   time.Duration
	HistoryMaxAttempts int
	// SubscribeRetryInterval and SubscribeRetryAttempts bound the timer
	// retry for hub subscription.
	SubscribeRetryInterval time.Duration
	SubscribeRetryAttempts int
	// Clock drives fetch retries; nil means the system clock.
	Clock history.Clock
}

type entry struct {
	orch    *panel.Orchestrator
	fetcher *history.Fetcher
}

// Service owns the per-session panels.
type Service struct {
	logger   *slog.Logger
	hub      *event.Hub
	subs     *subscription.Manager
	analyzer panel.Analyzer
	store    Store
	opts     Options

	mu       sync.Mutex
	sessions map[string]*entry
	closed   bool
}

// NewService creates the panels service.
func NewService(log *slog.Logger, hub *event.Hub, analyzer panel.Analyzer, store Store, opts Options) *Service {
	if log == nil {
		log = slog.Default()
	}
	if opts.SubscribeRetryInterval <= 0 {
		opts.SubscribeRetryInterval = 2 * time.Second
	}
	if opts.SubscribeRetryAttempts <= 0 {
		opts.SubscribeRetryAttempts = 10
	}
	return &Service{
		logger:   log.With(slog.String("service", "panels")),
		hub:      hub,
		subs:     subscription.NewManager(log, hub),
		analyzer: analyzer,
		store:    store,
		opts:     opts,
		sessions: map[string]*entry{},
	}
}

// Start subscribes to the conversation channels, retrying on a bounded
// timer until both subscriptions hold.
func (s *Service) Start(ctx context.Context) {
	channels := []event.Channel{event.ChannelMessageCreated, event.ChannelSessionEnded}
	handlers := map[event.Channel]event.Handler{
		event.ChannelMessageCreated: s.onMessage,
		event.ChannelSessionEnded:   s.onSessionEnded,
	}
	if s.subs.EnsureSubscribed(channels, handlers) {
		return
	}
	go func() {
		ticker := time.NewTicker(s.opts.SubscribeRetryInterval)
		defer ticker.Stop()
		for attempt := 0; attempt < s.opts.SubscribeRetryAttempts; attempt++ {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if s.subs.EnsureSubscribed(channels, handlers) {
					return
				}
			}
		}
		s.logger.Warn("subscription retries exhausted")
	}()
}

// Close tears down all panels and releases the subscriptions.
func (s *Service) Close() {
	s.subs.CancelAll()
	s.mu.Lock()
	s.closed = true
	for id, e := range s.sessions {
		e.fetcher.Close()
		delete(s.sessions, id)
	}
	s.mu.Unlock()
}

// Attach returns the panel for a session, creating and seeding it on first
// use. Creation delivers the stored configuration and persisted result as
// events and starts the initial history fetch.
func (s *Service) Attach(ctx context.Context, sessionID string) *panel.Orchestrator {
	s.mu.Lock()
	if e, ok := s.sessions[sessionID]; ok {
		s.mu.Unlock()
		return e.orch
	}
	if s.closed {
		s.mu.Unlock()
		return panel.NewOrchestrator(s.logger, sessionID, s.analyzer, s.opts.Defaults)
	}
	orch := panel.NewOrchestrator(s.logger, sessionID, s.analyzer, s.opts.Defaults)
	fetcher := history.NewFetcher(s.logger, s.store, orch, s.opts.Clock, sessionID, s.opts.HistoryBaseDelay, s.opts.HistoryMaxAttempts)
	s.sessions[sessionID] = &entry{orch: orch, fetcher: fetcher}
	s.mu.Unlock()

	orch.SetObserver(func(snap panel.Snapshot) {
		s.hub.Publish(context.Background(), event.Event{
			Channel:   event.ChannelPanelUpdated,
			SessionID: snap.SessionID,
			Data:      snap,
		})
	})

	s.deliverConfig(ctx, orch, sessionID)
	s.deliverPersisted(ctx, orch, sessionID)
	go fetcher.AttemptInitialFetch(ctx)
	return orch
}

func (s *Service) deliverConfig(ctx context.Context, orch *panel.Orchestrator, sessionID string) {
	cfg, err := s.store.GetPanelConfig(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, records.ErrNotFound) {
			// Defaults stay in effect; config delivery errors are never fatal.
			s.logger.Warn("panel config load failed", slog.String("session_id", sessionID), slog.Any("error", err))
		}
		return
	}
	orch.Dispatch(ctx, panel.ConfigEvent{Config: cfg})
}

func (s *Service) deliverPersisted(ctx context.Context, orch *panel.Orchestrator, sessionID string) {
	rec, err := s.store.GetResult(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, records.ErrNotFound) {
			s.logger.Warn("persisted result load failed", slog.String("session_id", sessionID), slog.Any("error", err))
		}
		return
	}
	orch.Dispatch(ctx, panel.PersistedStateEvent{Emotion: string(rec.Emotion), Reason: rec.Reason})
}

func (s *Service) onMessage(ctx context.Context, ev event.Event) {
	if ev.SessionID == "" {
		return
	}
	orch := s.Attach(ctx, ev.SessionID)
	orch.Dispatch(ctx, panel.MessageEvent{Payload: ev.Payload})
}

func (s *Service) onSessionEnded(ctx context.Context, ev event.Event) {
	if ev.SessionID == "" {
		return
	}
	orch := s.Attach(ctx, ev.SessionID)
	orch.Dispatch(ctx, panel.SessionEndedEvent{})

	// The ended path gets one fetch of its own; the success guard makes it
	// a no-op when the initial fetch already landed.
	s.mu.Lock()
	e := s.sessions[ev.SessionID]
	s.mu.Unlock()
	if e != nil {
		if _, err := e.fetcher.FetchNow(ctx); err != nil {
			s.logger.Debug("history fetch on session end failed", slog.String("session_id", ev.SessionID), slog.Any("error", err))
		}
	}
}

// IngestMessage records an inbound message and publishes it on the hub.
func (s *Service) IngestMessage(ctx context.Context, sessionID, author, text string) error {
	if err := s.store.AppendMessage(ctx, sessionID, author, text); err != nil {
		return err
	}
	s.publishMessage(ctx, sessionID, author, text)
	return nil
}

// SimulateMessage injects a synthetic inbound message event. It follows
// the same delivery path as a real inbound event but is not recorded in
// the conversation log.
func (s *Service) SimulateMessage(ctx context.Context, sessionID, text string) {
	s.publishMessage(ctx, sessionID, "", text)
}

func (s *Service) publishMessage(ctx context.Context, sessionID, author, text string) {
	payload := map[string]any{"text": text}
	if author != "" {
		payload["author"] = author
	}
	s.hub.Publish(ctx, event.Event{
		Channel:   event.ChannelMessageCreated,
		SessionID: sessionID,
		Payload:   payload,
	})
}

// EndSession publishes the conversation-ended event for a session.
func (s *Service) EndSession(ctx context.Context, sessionID string) {
	s.hub.Publish(ctx, event.Event{
		Channel:   event.ChannelSessionEnded,
		SessionID: sessionID,
	})
}

// ManualCalculate forces analysis of the buffered text for a session.
func (s *Service) ManualCalculate(ctx context.Context, sessionID string) (*panel.Result, error) {
	return s.Attach(ctx, sessionID).ManualCalculate(ctx)
}

// Snapshot returns the current panel view for a session.
func (s *Service) Snapshot(ctx context.Context, sessionID string) panel.Snapshot {
	return s.Attach(ctx, sessionID).Snapshot()
}

// UpdateConfig stores a new trigger configuration and redelivers it to the
// live panel.
func (s *Service) UpdateConfig(ctx context.Context, sessionID string, cfg panel.Config) error {
	if err := s.store.UpsertPanelConfig(ctx, sessionID, cfg); err != nil {
		return err
	}
	s.Attach(ctx, sessionID).Dispatch(ctx, panel.ConfigEvent{Config: cfg})
	return nil
}
