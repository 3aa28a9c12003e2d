// Package history retrieves the complete conversation log for a session
// with a bounded, backoff-based retry schedule.
package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/moodlens/moodlens/internal/panel"
)

// LogProvider reads the full conversation log for a session. An empty
// result means "no data yet", not an error.
type LogProvider interface {
	ConversationLog(ctx context.Context, sessionID string) ([]panel.HistoryEntry, error)
}

// Sink receives a successfully fetched history.
type Sink interface {
	SetHistory(ctx context.Context, entries []panel.HistoryEntry)
}

// Fetcher drives the initial-fetch state machine for one session:
// Idle -> Fetching -> {Succeeded, Retrying, GaveUp}. Retries are scheduled
// on the injected clock with linear backoff (baseDelay * attempts) and a
// bounded attempt count. Once a fetch succeeds, every further request is a
// no-op returning the cached entries.
type Fetcher struct {
	logger    *slog.Logger
	provider  LogProvider
	sink      Sink
	clock     Clock
	sessionID string

	baseDelay   time.Duration
	maxAttempts int

	mu        sync.Mutex
	attempts  int
	succeeded bool
	cached    []panel.HistoryEntry
	active    bool
}

// NewFetcher creates a fetcher for the given session.
func NewFetcher(log *slog.Logger, provider LogProvider, sink Sink, clock Clock, sessionID string, baseDelay time.Duration, maxAttempts int) *Fetcher {
	if log == nil {
		log = slog.Default()
	}
	if clock == nil {
		clock = SystemClock()
	}
	if baseDelay <= 0 {
		baseDelay = 300 * time.Millisecond
	}
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Fetcher{
		logger:      log.With(slog.String("component", "history"), slog.String("session_id", sessionID)),
		provider:    provider,
		sink:        sink,
		clock:       clock,
		sessionID:   sessionID,
		baseDelay:   baseDelay,
		maxAttempts: maxAttempts,
		active:      true,
	}
}

// Close deactivates the fetcher. Scheduled retries check the active flag
// before acting, so a torn-down panel is never mutated.
func (f *Fetcher) Close() {
	f.mu.Lock()
	f.active = false
	f.mu.Unlock()
}

// Succeeded reports whether a fetch has completed successfully.
func (f *Fetcher) Succeeded() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.succeeded
}

// Attempts returns the number of fetch calls made by the retry machine.
func (f *Fetcher) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

// AttemptInitialFetch runs one fetch attempt and schedules bounded retries
// until the log yields entries or the attempt budget is exhausted.
func (f *Fetcher) AttemptInitialFetch(ctx context.Context) {
	f.mu.Lock()
	if !f.active || f.succeeded {
		f.mu.Unlock()
		return
	}
	f.mu.Unlock()

	// Retries outlive the triggering request.
	f.attempt(context.WithoutCancel(ctx))
}

func (f *Fetcher) attempt(ctx context.Context) {
	f.mu.Lock()
	if !f.active || f.succeeded || f.attempts >= f.maxAttempts {
		f.mu.Unlock()
		return
	}
	f.attempts++
	attempt := f.attempts
	f.mu.Unlock()

	entries, err := f.fetchOnce(ctx)
	if err == nil && len(entries) > 0 {
		f.markSucceeded(ctx, entries)
		return
	}
	if err != nil {
		f.logger.Debug("history fetch failed", slog.Int("attempt", attempt), slog.Any("error", err))
	} else {
		f.logger.Debug("history not available yet", slog.Int("attempt", attempt))
	}

	if attempt >= f.maxAttempts {
		f.logger.Info("history fetch gave up", slog.Int("attempts", attempt))
		return
	}
	f.clock.AfterFunc(f.baseDelay*time.Duration(attempt), func() {
		f.attempt(ctx)
	})
}

// FetchNow performs a single fetch outside the retry machine, used on the
// conversation-ended path. The success guard still applies: once succeeded
// it returns the cached entries without another provider call.
func (f *Fetcher) FetchNow(ctx context.Context) ([]panel.HistoryEntry, error) {
	f.mu.Lock()
	if f.succeeded {
		cached := f.cached
		f.mu.Unlock()
		return cached, nil
	}
	if !f.active {
		f.mu.Unlock()
		return nil, nil
	}
	f.mu.Unlock()

	entries, err := f.fetchOnce(ctx)
	if err != nil {
		return nil, err
	}
	if len(entries) > 0 {
		f.markSucceeded(ctx, entries)
	}
	return entries, nil
}

func (f *Fetcher) fetchOnce(ctx context.Context) ([]panel.HistoryEntry, error) {
	return f.provider.ConversationLog(ctx, f.sessionID)
}

func (f *Fetcher) markSucceeded(ctx context.Context, entries []panel.HistoryEntry) {
	f.mu.Lock()
	if !f.active || f.succeeded {
		f.mu.Unlock()
		return
	}
	f.succeeded = true
	f.cached = entries
	f.mu.Unlock()

	f.logger.Info("history fetched", slog.Int("entries", len(entries)))
	if f.sink != nil {
		f.sink.SetHistory(ctx, entries)
	}
}
