// Package panel implements the sentiment panel orchestration core: the
// conversation buffer, trigger policy, and the analysis orchestrator that
// reconciles results from live analysis, persisted records, and
// configuration deliveries.
package panel

import "strings"

// Emotion is the normalized sentiment classification.
type Emotion string

const (
	EmotionPositive Emotion = "positive"
	EmotionNegative Emotion = "negative"
	EmotionNeutral  Emotion = "neutral"
	EmotionUnknown  Emotion = "unknown"
)

// NormalizeEmotion lower-cases a raw emotion value and restricts it to the
// known set. Anything unrecognized maps to EmotionUnknown.
func NormalizeEmotion(raw string) Emotion {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(EmotionPositive):
		return EmotionPositive
	case string(EmotionNegative):
		return EmotionNegative
	case string(EmotionNeutral):
		return EmotionNeutral
	default:
		return EmotionUnknown
	}
}

// Context tags the reason an analysis was requested. It gates the trigger
// policy and is never persisted.
type Context string

const (
	ContextMessage Context = "message"
	ContextEnd     Context = "end"
	ContextManual  Context = "manual"
	ContextForced  Context = "forced"
)

// Config is the panel trigger configuration. Deliveries replace it
// wholesale; there is no partial merge.
type Config struct {
	CalculateEveryMessage bool `json:"calculate_every_message"`
	CalculateOnSessionEnd bool `json:"calculate_on_session_end"`
	ShowCalculateButton   bool `json:"show_calculate_button"`
}

// State is the panel's observable state. It is owned and mutated only by
// the Orchestrator.
//
// Analyzing and Loaded are mutually exclusive during one analysis call:
// Loaded is false while Analyzing is true, and both are restored
// (Analyzing=false, Loaded=true) on every exit path.
type State struct {
	Text              string  `json:"text"`
	ConversationEnded bool    `json:"conversation_ended"`
	Emotion           Emotion `json:"emotion"`
	Reason            string  `json:"reason,omitempty"`
	Error             string  `json:"error,omitempty"`
	Loaded            bool    `json:"loaded"`
	Analyzing         bool    `json:"analyzing"`
}

// Result is the outcome of one successful analysis call.
type Result struct {
	Emotion Emotion `json:"emotion"`
	Reason  string  `json:"reason,omitempty"`
	Raw     string  `json:"raw,omitempty"`
}

// Snapshot is the read-only view exposed to the embedding host, combining
// state, configuration, and the derived display fields.
type Snapshot struct {
	SessionID string  `json:"session_id"`
	State     State   `json:"state"`
	Config    Config  `json:"config"`
	Display   Display `json:"display"`
}
