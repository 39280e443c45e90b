package models

import (
	"regexp"
	"strings"
)

// Reasoning segment sentinels, matched case-sensitively.
const (
	ThinkOpen  = "<think>"
	ThinkClose = "</think>"
)

var thinkBlockRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

// Segments holds the parts of a model answer: the reasoning and the user facing text.
type Segments struct {
	Thinking string
	Display  string
}

// Closed reports whether text has a complete reasoning segment, i.e. whether the part after it
// is final.
func Closed(text string) bool {
	start := strings.Index(text, ThinkOpen)
	if start < 0 {
		return false
	}
	return strings.Contains(text[start+len(ThinkOpen):], ThinkClose)
}

// SplitThinking separates the reasoning segment of text from its answer.
//
// Without an opening sentinel the whole text is the answer. When the segment is still open, the
// rest of the text is reasoning and there is no answer yet. Once the closing sentinel arrived,
// the answer is everything after it, trimmed. Running it on every prefix of a growing text never
// changes an answer that was already final.
func SplitThinking(text string) Segments {
	start := strings.Index(text, ThinkOpen)
	if start < 0 {
		return Segments{Display: text}
	}
	rest := text[start+len(ThinkOpen):]

	end := strings.Index(rest, ThinkClose)
	if end < 0 {
		return Segments{Thinking: rest}
	}

	return Segments{
		Thinking: rest[:end],
		Display:  strings.TrimSpace(rest[end+len(ThinkClose):]),
	}
}

// StripThinking removes every closed reasoning segment from text. If nothing is left, text is
// returned unchanged.
func StripThinking(text string) string {
	clean := strings.TrimSpace(thinkBlockRe.ReplaceAllString(text, ""))
	if clean == "" {
		return text
	}
	return clean
}
