package models

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Chat represents a conversation container in the chat system. It carries the ordered messages
// of the conversation, its title and the time it was created, in Unix milliseconds.
type Chat struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt int64     `json:"createdAt"`

	// TitleLocked is set once the title was derived from the first user message or chosen by
	// the user. A locked title is never derived again.
	TitleLocked bool `json:"titleLocked,omitempty"`
}

// Quality selects between the fast and the smart model of a provider.
type Quality string

// Options alters how a provider answers a prompt.
type Options struct {
	Search  bool
	Tutor   bool
	Quality Quality
}

// Prompt is what the user sends: text, an optional image as data URL, and the answer options.
type Prompt struct {
	Text  string
	Image string

	Options
}

const (
	// DefaultTitle is the title of a conversation that has no messages yet.
	DefaultTitle = "New chat"

	// QualityFast favors latency.
	QualityFast Quality = "fast"
	// QualitySmart favors answer quality and enables reasoning where the provider supports it.
	QualitySmart Quality = "smart"

	titleMaxRunes = 30
	imageTitle    = "[Image]"
)

// ParseQuality parses s into a Quality. An empty string is QualityFast.
func ParseQuality(s string) (Quality, error) {
	switch Quality(strings.ToLower(strings.TrimSpace(s))) {
	case "", QualityFast:
		return QualityFast, nil
	case QualitySmart:
		return QualitySmart, nil
	}
	return "", fmt.Errorf("unknown quality %q", s)
}

// DeriveTitle returns the title of a conversation whose first message is m: its text cut to 30
// runes, with an ellipsis when longer. A message with only an image is titled "[Image]".
func DeriveTitle(m Message) string {
	text := m.Content
	if text == "" {
		text = DefaultTitle
		if m.Image != "" {
			text = imageTitle
		}
	}

	if utf8.RuneCountInString(text) <= titleMaxRunes {
		return text
	}
	return string([]rune(text)[:titleMaxRunes]) + "..."
}

// HistoryText returns the text of m as it should be sent back to a provider. Reasoning segments
// of model messages are dropped.
func (m Message) HistoryText() string {
	if m.Role != RoleModel {
		return m.Content
	}
	return StripThinking(m.Content)
}
