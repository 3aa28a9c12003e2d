package panel

import (
	"encoding/json"
	"fmt"
	"strings"
)

// UnknownAuthor is the sentinel used when a history entry carries no author.
const UnknownAuthor = "Unknown"

// HistoryEntry is one ordered entry of a fetched conversation log.
type HistoryEntry struct {
	Content string `json:"content"`
	Author  string `json:"author,omitempty"`
}

// textProbePaths is the ordered list of payload fields probed for a usable
// message text. Inbound event shapes are not contractually fixed, so
// extraction is best-effort.
var textProbePaths = [][]string{
	{"text"},
	{"content"},
	{"message", "text"},
	{"message", "content"},
	{"body"},
}

// Buffer holds the current textual representation of the conversation.
// It accepts incremental single-message updates and full-history
// replacements.
type Buffer struct {
	text string
}

// Text returns the buffered conversation text.
func (b *Buffer) Text() string {
	return b.text
}

// SetFromMessage extracts a best-effort text payload from a heterogeneous
// inbound event and replaces the buffer with it. It returns the extracted
// text and whether anything usable was found; on a miss the buffer is left
// unchanged and the caller must not proceed to analysis.
func (b *Buffer) SetFromMessage(raw map[string]any) (string, bool) {
	text, ok := ExtractMessageText(raw)
	if !ok {
		return "", false
	}
	b.text = text
	return text, true
}

// SetFromHistory serializes the ordered conversation entries into one
// transcript and replaces the buffer with it. The whole transcript is
// analyzed in one call; there is no point analyzing per-entry.
func (b *Buffer) SetFromHistory(entries []HistoryEntry) string {
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		author := strings.TrimSpace(entry.Author)
		if author == "" {
			author = UnknownAuthor
		}
		lines = append(lines, fmt.Sprintf("%s: %s", author, entry.Content))
	}
	b.text = strings.Join(lines, "\n")
	return b.text
}

// ExtractMessageText probes the candidate payload paths in order and falls
// back to serializing the raw content. It reports false when nothing
// usable is found.
func ExtractMessageText(raw map[string]any) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	for _, path := range textProbePaths {
		if text, ok := stringAtPath(raw, path); ok {
			return text, true
		}
	}
	// No known field matched; serialize whatever content was delivered.
	if content, ok := raw["content"]; ok && content != nil {
		if encoded, err := json.Marshal(content); err == nil {
			text := strings.TrimSpace(string(encoded))
			if text != "" && text != `""` && text != "{}" && text != "null" {
				return text, true
			}
		}
	}
	return "", false
}

func stringAtPath(raw map[string]any, path []string) (string, bool) {
	current := any(raw)
	for _, key := range path {
		node, ok := current.(map[string]any)
		if !ok {
			return "", false
		}
		current, ok = node[key]
		if !ok {
			return "", false
		}
	}
	text, ok := current.(string)
	if !ok {
		return "", false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", false
	}
	return text, true
}
