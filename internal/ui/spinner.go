package ui

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/briandowns/spinner"
)

// Spinner wraps a terminal spinner shown while a reply has not started yet.
type Spinner struct {
	s    *spinner.Spinner
	once sync.Once
}

// NewSpinner creates a spinner with the given message, drawn on stderr.
func NewSpinner(msg string) *Spinner {
	return newSpinner(msg, os.Stderr)
}

func newSpinner(msg string, w io.Writer) *Spinner {
	s := spinner.New(spinner.CharSets[14], 80*time.Millisecond, spinner.WithWriter(w))
	s.Suffix = "  " + msg
	_ = s.Color("cyan")
	return &Spinner{s: s}
}

// Start begins the spinner animation.
func (sp *Spinner) Start() {
	sp.s.Start()
}

// Stop halts the spinner and clears the line. Only the first call has an effect, so it can be
// called from every update of a stream.
func (sp *Spinner) Stop() {
	sp.once.Do(sp.s.Stop)
}
