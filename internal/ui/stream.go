// Package ui renders conversations to a terminal.
package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/MegaGrindStone/oceep-web-ui/internal/conversation"
	"github.com/MegaGrindStone/oceep-web-ui/internal/models"
	"github.com/fatih/color"
)

// StreamRenderer prints a growing model answer as it streams in. Reasoning is printed dim and
// the answer in the default color. Only the part that is new since the previous update is
// written, so w never has to support rewriting.
type StreamRenderer struct {
	mu sync.Mutex
	w  io.Writer

	thinking string
	display  string
	started  bool

	dim *color.Color
	red *color.Color
}

// NewStreamRenderer returns a renderer writing to w.
func NewStreamRenderer(w io.Writer) *StreamRenderer {
	return &StreamRenderer{
		w:   w,
		dim: color.New(color.Faint),
		red: color.New(color.FgRed),
	}
}

// Started reports whether anything was printed yet.
func (r *StreamRenderer) Started() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

// Update prints what content added since the last call.
func (r *StreamRenderer) Update(content string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	segs := models.SplitThinking(content)

	if added, ok := strings.CutPrefix(segs.Thinking, r.thinking); ok && added != "" {
		if r.thinking == "" {
			added = strings.TrimLeft(added, "\n")
		}
		r.dim.Fprint(r.w, added)
		r.thinking = segs.Thinking
		r.started = true
	}

	if segs.Display == "" {
		return
	}
	added, ok := strings.CutPrefix(segs.Display, r.display)
	if !ok {
		// The answer was replaced rather than extended, start over on a new line.
		fmt.Fprintln(r.w)
		added = segs.Display
	}
	if added == "" {
		return
	}
	if r.display == "" && r.thinking != "" {
		fmt.Fprint(r.w, "\n\n")
	}
	fmt.Fprint(r.w, added)
	r.display = segs.Display
	r.started = true
}

// Finish ends the rendering of a reply with its result.
func (r *StreamRenderer) Finish(res conversation.Result) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		fmt.Fprintln(r.w)
	}

	switch res.Outcome {
	case conversation.OutcomeCancelled:
		r.dim.Fprintln(r.w, "[stopped]")
	case conversation.OutcomeFailed:
		r.red.Fprintln(r.w, conversation.ErrorText(res.Err))
	}
}
