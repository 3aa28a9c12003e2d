package panel

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"sync"
)

// ErrNoTranscript indicates a manual calculation was requested while no
// conversation text is buffered. It is the one panel error surfaced
// directly to the user instead of through State.Error.
var ErrNoTranscript = errors.New("no conversation text to analyze")

// AnalyzerResponse is what the analysis backend returns: either a
// structured emotion/reason pair, or a raw JSON string that needs one
// parse step.
type AnalyzerResponse struct {
	Emotion string
	Reason  string
	Raw     string
}

// Analyzer performs one sentiment analysis call. Implementations may also
// persist the result server-side keyed by session.
type Analyzer interface {
	Analyze(ctx context.Context, sessionID, text string) (AnalyzerResponse, error)
}

// RunOptions tune a single RunAnalysis invocation.
type RunOptions struct {
	// Force bypasses the trigger policy.
	Force bool
	// OverrideText analyzes the given text instead of the buffered
	// conversation.
	OverrideText string
}

// Orchestrator owns the panel state for one session and drives analysis
// calls. At most one analysis is in flight at a time; concurrent requests
// are dropped, not queued.
type Orchestrator struct {
	sessionID string
	analyzer  Analyzer
	logger    *slog.Logger

	mu         sync.Mutex
	buffer     Buffer
	state      State
	cfg        Config
	emotionSet bool
	onUpdate   func(Snapshot)
}

// NewOrchestrator creates an orchestrator for the given session.
func NewOrchestrator(log *slog.Logger, sessionID string, analyzer Analyzer, defaults Config) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		sessionID: sessionID,
		analyzer:  analyzer,
		logger:    log.With(slog.String("component", "panel"), slog.String("session_id", sessionID)),
		state:     State{Emotion: EmotionUnknown},
		cfg:       defaults,
	}
}

// SetObserver registers a callback invoked with a snapshot after every
// state change. The callback runs outside the orchestrator lock.
func (o *Orchestrator) SetObserver(fn func(Snapshot)) {
	o.mu.Lock()
	o.onUpdate = fn
	o.mu.Unlock()
}

// Snapshot returns the current panel view.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// Config returns the current trigger configuration.
func (o *Orchestrator) Config() Config {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.cfg
}

// BufferedText returns the trimmed buffered conversation text.
func (o *Orchestrator) BufferedText() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return strings.TrimSpace(o.buffer.Text())
}

// Dispatch routes one typed event into the orchestrator. Message and
// session-end events may trigger an analysis call; config and persisted
// deliveries only update state.
func (o *Orchestrator) Dispatch(ctx context.Context, event Event) {
	switch ev := event.(type) {
	case MessageEvent:
		o.handleMessage(ctx, ev)
	case SessionEndedEvent:
		o.handleSessionEnded(ctx)
	case ConfigEvent:
		o.handleConfig(ev.Config)
	case PersistedStateEvent:
		o.handlePersisted(ev)
	default:
		o.logger.Warn("unhandled panel event", slog.Any("event", event))
	}
}

func (o *Orchestrator) handleMessage(ctx context.Context, ev MessageEvent) {
	o.mu.Lock()
	text, ok := o.buffer.SetFromMessage(ev.Payload)
	if !ok {
		o.mu.Unlock()
		// Extraction misses are silently ignored; the payload shape is not
		// contractually fixed.
		o.logger.Debug("inbound message without usable text")
		return
	}
	o.state.Text = text
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.notify(snap)

	o.RunAnalysis(ctx, ContextMessage, RunOptions{})
}

func (o *Orchestrator) handleSessionEnded(ctx context.Context) {
	o.mu.Lock()
	o.state.ConversationEnded = true
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.notify(snap)

	o.RunAnalysis(ctx, ContextEnd, RunOptions{})
}

func (o *Orchestrator) handleConfig(cfg Config) {
	o.mu.Lock()
	o.cfg = cfg
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.notify(snap)
}

func (o *Orchestrator) handlePersisted(ev PersistedStateEvent) {
	o.mu.Lock()
	if o.emotionSet || strings.TrimSpace(ev.Emotion) == "" {
		// Seed-once: a live result always wins over a later delivery.
		o.mu.Unlock()
		return
	}
	o.state.Emotion = NormalizeEmotion(ev.Emotion)
	o.state.Reason = ev.Reason
	o.emotionSet = true
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.notify(snap)
}

// SetHistory replaces the buffered conversation with the fetched history
// and triggers an end-context analysis when no result is present yet.
func (o *Orchestrator) SetHistory(ctx context.Context, entries []HistoryEntry) {
	o.mu.Lock()
	text := o.buffer.SetFromHistory(entries)
	o.state.Text = text
	hasResult := o.emotionSet
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.notify(snap)

	if !hasResult {
		o.RunAnalysis(ctx, ContextEnd, RunOptions{})
	}
}

// ManualCalculate forces analysis of the currently buffered text. With no
// text buffered it surfaces a user-visible error and makes no call.
func (o *Orchestrator) ManualCalculate(ctx context.Context) (*Result, error) {
	if o.BufferedText() == "" {
		o.mu.Lock()
		o.state.Error = ErrNoTranscript.Error()
		snap := o.snapshotLocked()
		o.mu.Unlock()
		o.notify(snap)
		return nil, ErrNoTranscript
	}
	return o.RunAnalysis(ctx, ContextManual, RunOptions{Force: true}), nil
}

// RunAnalysis runs one gated, single-flight analysis call.
//
// A nil result means nothing happened: empty text, policy denial, or a
// dropped concurrent request. Failures are surfaced via State.Error, never
// returned.
func (o *Orchestrator) RunAnalysis(ctx context.Context, actx Context, opts RunOptions) *Result {
	o.mu.Lock()
	text := strings.TrimSpace(opts.OverrideText)
	if text == "" {
		text = strings.TrimSpace(o.buffer.Text())
	}
	if text == "" {
		// Nothing to analyze; not an error.
		o.state.Loaded = true
		snap := o.snapshotLocked()
		o.mu.Unlock()
		o.notify(snap)
		return nil
	}
	if !opts.Force && !ShouldAnalyze(actx, o.cfg, false) {
		o.mu.Unlock()
		return nil
	}
	if o.state.Analyzing {
		// Single-flight: the concurrent request is dropped, not queued.
		o.mu.Unlock()
		o.logger.Debug("analysis already in flight, request dropped", slog.String("context", string(actx)))
		return nil
	}
	o.state.Analyzing = true
	o.state.Loaded = false
	o.state.Error = ""
	o.state.Text = text
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.notify(snap)

	resp, err := o.analyzer.Analyze(ctx, o.sessionID, text)

	var result *Result
	o.mu.Lock()
	if err == nil {
		result, err = resultFromResponse(resp)
	}
	if err != nil {
		o.state.Error = analysisErrorMessage(err)
		// Prior emotion/reason are deliberately preserved.
	} else {
		o.state.Emotion = result.Emotion
		o.state.Reason = result.Reason
		o.emotionSet = true
	}
	o.state.Analyzing = false
	o.state.Loaded = true
	snap = o.snapshotLocked()
	o.mu.Unlock()
	o.notify(snap)

	if err != nil {
		o.logger.Warn("analysis failed", slog.String("context", string(actx)), slog.Any("error", err))
		return nil
	}
	o.logger.Info("analysis complete", slog.String("context", string(actx)), slog.String("emotion", string(result.Emotion)))
	return result
}

// resultFromResponse accepts either a structured response or a raw JSON
// string requiring one parse step.
func resultFromResponse(resp AnalyzerResponse) (*Result, error) {
	emotion := strings.TrimSpace(resp.Emotion)
	reason := resp.Reason
	if emotion == "" && strings.TrimSpace(resp.Raw) != "" {
		var parsed struct {
			Emotion string `json:"emotion"`
			Reason  string `json:"reason"`
		}
		if err := json.Unmarshal([]byte(resp.Raw), &parsed); err != nil {
			return nil, errors.New("unparseable analysis response")
		}
		emotion = parsed.Emotion
		reason = parsed.Reason
	}
	return &Result{
		Emotion: NormalizeEmotion(emotion),
		Reason:  reason,
		Raw:     resp.Raw,
	}, nil
}

func analysisErrorMessage(err error) string {
	if err == nil {
		return "sentiment analysis failed"
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return "sentiment analysis failed"
	}
	return msg
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	return Snapshot{
		SessionID: o.sessionID,
		State:     o.state,
		Config:    o.cfg,
		Display:   DisplayFor(o.state.Emotion),
	}
}

func (o *Orchestrator) notify(snap Snapshot) {
	o.mu.Lock()
	fn := o.onUpdate
	o.mu.Unlock()
	if fn != nil {
		fn(snap)
	}
}
