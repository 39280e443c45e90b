package services

import (
	"strings"

	"github.com/MegaGrindStone/oceep-web-ui/internal/models"
)

// Prompts are the system prompts sent to a provider. Tutor and Search are appended to System
// when the matching option is enabled.
type Prompts struct {
	System string
	Tutor  string
	Search string
}

// Models are the model names a provider picks from, depending on the requested quality.
type Models struct {
	Fast  string
	Smart string
}

// DefaultPrompts returns the prompts used when the configuration doesn't set them.
func DefaultPrompts() Prompts {
	return Prompts{
		System: "You are Oceep, a helpful assistant. Answer in the language of the user and format answers with Markdown.",
		Tutor: "Act as a patient tutor. Don't give the final answer right away: explain the underlying concepts " +
			"step by step, ask guiding questions and check the understanding of the user.",
		Search: "Ground your answer on up-to-date web search results and cite your sources.",
	}
}

func (p Prompts) system(opts models.Options) string {
	parts := []string{p.System}
	if opts.Tutor && p.Tutor != "" {
		parts = append(parts, p.Tutor)
	}
	if opts.Search && p.Search != "" {
		parts = append(parts, p.Search)
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}

func (m Models) pick(q models.Quality) string {
	if q == models.QualitySmart && m.Smart != "" {
		return m.Smart
	}
	return m.Fast
}

// thinkTagger wraps reasoning deltas in think sentinels, so providers that report reasoning out
// of band produce the same text as models that inline it.
type thinkTagger struct {
	open bool
	// closed is set once the reasoning segment ended. Only the first segment is shown as
	// reasoning, so later reasoning deltas are dropped.
	closed bool
}

// reasoning returns the text to emit for a reasoning delta.
func (t *thinkTagger) reasoning(s string) string {
	if s == "" || t.closed {
		return ""
	}
	if !t.open {
		t.open = true
		return models.ThinkOpen + s
	}
	return s
}

// answer returns the text to emit for an answer delta, closing an open reasoning segment first.
func (t *thinkTagger) answer(s string) string {
	if s == "" {
		return ""
	}
	return t.close() + s
}

// close returns the closing sentinel if a reasoning segment is open.
func (t *thinkTagger) close() string {
	if !t.open {
		return ""
	}
	t.open = false
	t.closed = true
	return models.ThinkClose
}
