package panel

import "strings"

// Display holds the presentational mapping derived from an emotion. The
// mapping is pure; rendering belongs to the embedding host.
type Display struct {
	Label string `json:"label"`
	Icon  string `json:"icon"`
	Badge string `json:"badge"`
}

var displayByEmotion = map[Emotion]Display{
	EmotionPositive: {Label: "Positive", Icon: "smile", Badge: "badge-positive"},
	EmotionNegative: {Label: "Negative", Icon: "frown", Badge: "badge-negative"},
	EmotionNeutral:  {Label: "Neutral", Icon: "meh", Badge: "badge-neutral"},
	EmotionUnknown:  {Label: "Unknown", Icon: "question", Badge: "badge-muted"},
}

// DisplayFor maps an emotion to its display fields. Unrecognized values
// get the unknown mapping.
func DisplayFor(emotion Emotion) Display {
	if d, ok := displayByEmotion[emotion]; ok {
		return d
	}
	return displayByEmotion[EmotionUnknown]
}

// DisplayLabel returns the capitalized label for an emotion.
func DisplayLabel(emotion Emotion) string {
	if d, ok := displayByEmotion[emotion]; ok {
		return d.Label
	}
	value := strings.TrimSpace(string(emotion))
	if value == "" {
		return displayByEmotion[EmotionUnknown].Label
	}
	return strings.ToUpper(value[:1]) + strings.ToLower(value[1:])
}
