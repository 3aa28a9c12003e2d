// Package analyzer implements the sentiment analysis collaborators: an
// OpenAI-backed client producing structured emotion verdicts, and a
// persisting decorator that stores results keyed by session.
package analyzer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/responses"

	"github.com/moodlens/moodlens/internal/config"
	"github.com/moodlens/moodlens/internal/panel"
)

const sentimentInstructions = `You are a sentiment analyst for customer conversations.
Classify the overall sentiment of the conversation you are given as exactly one of:
positive, negative, neutral.
Give a one-sentence reason grounded in the conversation text.
Respond only with the requested JSON.`

var sentimentSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"emotion": map[string]any{
			"type": "string",
			"enum": []string{"positive", "negative", "neutral"},
		},
		"reason": map[string]any{
			"type": "string",
		},
	},
	"required":             []string{"emotion", "reason"},
	"additionalProperties": false,
}

// OpenAIClient performs sentiment analysis through the OpenAI Responses API
// with a strict JSON schema output.
type OpenAIClient struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewOpenAIClient creates a client from analyzer configuration.
func NewOpenAIClient(log *slog.Logger, cfg config.AnalyzerConfig) *OpenAIClient {
	if log == nil {
		log = slog.Default()
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")))
	}
	client := openai.NewClient(opts...)
	return &OpenAIClient{
		client:  &client,
		model:   cfg.Model,
		timeout: cfg.Timeout(),
		logger:  log.With(slog.String("component", "analyzer")),
	}
}

// Analyze classifies the sentiment of one conversation text. The raw model
// output is always returned; the structured fields are filled when the
// output parses cleanly, otherwise the caller performs the parse step.
func (c *OpenAIClient) Analyze(ctx context.Context, sessionID, text string) (panel.AnalyzerResponse, error) {
	if c.client == nil {
		return panel.AnalyzerResponse{}, fmt.Errorf("analyzer client not configured")
	}
	if strings.TrimSpace(c.model) == "" {
		return panel.AnalyzerResponse{}, fmt.Errorf("analyzer model not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	format := responses.ResponseFormatTextConfigUnionParam{
		OfJSONSchema: &responses.ResponseFormatTextJSONSchemaConfigParam{
			Name:        "SentimentVerdict",
			Schema:      sentimentSchema,
			Strict:      openai.Bool(true),
			Description: openai.String("Conversation sentiment verdict"),
			Type:        "json_schema",
		},
	}
	params := responses.ResponseNewParams{
		Model:           c.model,
		MaxOutputTokens: openai.Int(300),
		Instructions:    openai.String(sentimentInstructions),
		Input: responses.ResponseNewParamsInputUnion{
			OfInputItemList: []responses.ResponseInputItemUnionParam{
				responses.ResponseInputItemParamOfMessage(text, responses.EasyInputMessageRoleUser),
			},
		},
		Text: responses.ResponseTextConfigParam{
			Format: format,
		},
	}

	started := time.Now()
	resp, err := c.client.Responses.New(ctx, params)
	if err != nil {
		return panel.AnalyzerResponse{}, fmt.Errorf("sentiment analysis request: %w", err)
	}
	raw := strings.TrimSpace(resp.OutputText())
	c.logger.Debug("analysis call complete",
		slog.String("session_id", sessionID),
		slog.Duration("latency", time.Since(started)),
	)

	out := panel.AnalyzerResponse{Raw: raw}
	var parsed struct {
		Emotion string `json:"emotion"`
		Reason  string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(raw), &parsed); err == nil {
		out.Emotion = parsed.Emotion
		out.Reason = parsed.Reason
	}
	return out, nil
}
