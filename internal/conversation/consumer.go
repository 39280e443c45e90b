package conversation

import (
	"iter"
	"strings"

	"github.com/MegaGrindStone/oceep-web-ui/internal/models"
)

// MessageUpdater applies fn to the message identified by id. Implementations replace the whole
// message list, so fn must return the updated message instead of mutating shared state.
type MessageUpdater interface {
	UpdateMessage(id string, fn func(models.Message) models.Message)
}

// Stopper is polled between fragments. Once Stopped reports true, no further fragment is applied.
type Stopper interface {
	Stopped() bool
}

// Outcome is how a consumption ended.
type Outcome int

const (
	// OutcomeCompleted means the producer was exhausted.
	OutcomeCompleted Outcome = iota
	// OutcomeCancelled means the stop flag was raised before the producer ended.
	OutcomeCancelled
	// OutcomeFailed means the producer yielded an error.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	}
	return "unknown"
}

// Result describes a finished consumption.
type Result struct {
	Outcome Outcome
	// Content is the final content of the target message.
	Content string
	// Err is the producer error when Outcome is OutcomeFailed.
	Err error
}

const (
	errorPrefix         = "Error: "
	unknownErrorMessage = "unknown error"
)

// ErrorText returns the user visible text of err.
func ErrorText(err error) string {
	if err == nil || err.Error() == "" {
		return errorPrefix + unknownErrorMessage
	}
	return errorPrefix + err.Error()
}

func failureContent(partial string, err error) string {
	if partial == "" {
		return ErrorText(err)
	}
	return partial + "\n\n" + ErrorText(err)
}

// Consume folds fragments into the message id of u, in the order they are yielded.
//
// Text fragments are appended to the accumulated text, which becomes the message content.
// Citation fragments replace the grounding metadata of the message. The stop flag is checked
// before each fragment; once raised, the producer is abandoned and the content stays as it was.
// A producer error appends the error text to whatever was already streamed. Whichever way it
// returns, the message is no longer streaming afterwards.
func Consume(u MessageUpdater, id string, fragments iter.Seq2[models.Fragment, error], stop Stopper) (res Result) {
	var acc strings.Builder

	defer func() {
		res.Content = acc.String()
		if res.Outcome == OutcomeFailed {
			res.Content = failureContent(res.Content, res.Err)
		}
		content := res.Content
		u.UpdateMessage(id, func(m models.Message) models.Message {
			m.Content = content
			m.IsStreaming = false
			return m
		})
	}()

	for f, err := range fragments {
		if stop.Stopped() {
			res.Outcome = OutcomeCancelled
			return res
		}
		if err != nil {
			res.Outcome = OutcomeFailed
			res.Err = err
			return res
		}

		switch f.Kind {
		case models.FragmentCitations:
			citations := f.Citations
			u.UpdateMessage(id, func(m models.Message) models.Message {
				m.GroundingMetadata = citations
				return m
			})
		case models.FragmentText:
			acc.WriteString(f.Text)
			content := acc.String()
			u.UpdateMessage(id, func(m models.Message) models.Message {
				m.Content = content
				return m
			})
		}
	}

	if stop.Stopped() {
		res.Outcome = OutcomeCancelled
		return res
	}
	res.Outcome = OutcomeCompleted
	return res
}
