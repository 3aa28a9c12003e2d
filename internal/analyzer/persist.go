package analyzer

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/moodlens/moodlens/internal/panel"
)

// ResultWriter stores the latest analysis result keyed by session.
type ResultWriter interface {
	SaveResult(ctx context.Context, sessionID string, emotion panel.Emotion, reason string) error
}

// PersistingClient decorates an analyzer with server-side persistence of
// the result. Persistence failures are logged and do not fail the
// analysis.
type PersistingClient struct {
	inner  panel.Analyzer
	store  ResultWriter
	logger *slog.Logger
}

// NewPersistingClient wraps the inner analyzer with result persistence.
func NewPersistingClient(log *slog.Logger, inner panel.Analyzer, store ResultWriter) *PersistingClient {
	if log == nil {
		log = slog.Default()
	}
	return &PersistingClient{
		inner:  inner,
		store:  store,
		logger: log.With(slog.String("component", "analyzer_persist")),
	}
}

// Analyze runs the inner analysis and stores the parsed verdict.
func (c *PersistingClient) Analyze(ctx context.Context, sessionID, text string) (panel.AnalyzerResponse, error) {
	resp, err := c.inner.Analyze(ctx, sessionID, text)
	if err != nil {
		return resp, err
	}
	emotion, reason := verdictFields(resp)
	if emotion == "" || c.store == nil {
		return resp, nil
	}
	if saveErr := c.store.SaveResult(ctx, sessionID, panel.NormalizeEmotion(emotion), reason); saveErr != nil {
		c.logger.Warn("persist analysis result failed",
			slog.String("session_id", sessionID),
			slog.Any("error", saveErr),
		)
	}
	return resp, nil
}

func verdictFields(resp panel.AnalyzerResponse) (string, string) {
	if strings.TrimSpace(resp.Emotion) != "" {
		return resp.Emotion, resp.Reason
	}
	if strings.TrimSpace(resp.Raw) == "" {
		return "", ""
	}
	var parsed struct {
		Emotion string `json:"emotion"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(resp.Raw), &parsed); err != nil {
		return "", ""
	}
	return parsed.Emotion, parsed.Reason
}
