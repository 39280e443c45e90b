package conversation

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/MegaGrindStone/oceep-web-ui/internal/models"
	"github.com/google/uuid"
)

// Provider represents a large language model API. Send accepts the conversation history that
// precedes the prompt and returns an iterator of the response fragments. Failures, whether
// raised before the first fragment or mid-stream, are yielded as errors.
type Provider interface {
	Send(ctx context.Context, history []models.Message, prompt models.Prompt) iter.Seq2[models.Fragment, error]
}

// ImageGenerator generates an image for a prompt and returns it as a data URL.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Change is delivered to listeners after every update of a conversation.
type Change struct {
	// Chat is the conversation after the update.
	Chat models.Chat
	// Message is the updated message. It is nil when the change is not about a single message,
	// e.g. for appended or removed messages, or a new title.
	Message *models.Message
}

var (
	// ErrStreamActive is returned when a request is made while a reply is still streaming.
	ErrStreamActive = errors.New("a reply is already streaming in this conversation")
	// ErrEmptyPrompt is returned when the prompt has neither text nor image.
	ErrEmptyPrompt = errors.New("prompt is empty")
	// ErrInvalidIndex is returned when a message index can't be regenerated.
	ErrInvalidIndex = errors.New("message can't be regenerated")
)

const errLoggerKey = "err"

// Conversation owns the message list of one chat and at most one streaming request into it.
// The message list is replaced as a whole on every update, so a snapshot handed out to a reader
// is never modified afterwards.
type Conversation struct {
	mu     sync.RWMutex
	chat   models.Chat
	active *Stream

	notify func(Change)
	logger *slog.Logger
}

// New returns a conversation over chat. Changes are reported to notify, which may be nil.
func New(chat models.Chat, notify func(Change), logger *slog.Logger) *Conversation {
	if notify == nil {
		notify = func(Change) {}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Conversation{
		chat:   chat,
		notify: notify,
		logger: logger.With(slog.String("chatID", chat.ID)),
	}
}

// ID returns the chat ID.
func (c *Conversation) ID() string {
	return c.chat.ID
}

// Snapshot returns the current state of the chat.
func (c *Conversation) Snapshot() models.Chat {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.chat
}

// Streaming reports whether a reply is streaming.
func (c *Conversation) Streaming() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.active != nil
}

// Stop raises the stop flag of the streaming request, if any, and reports whether there was one.
func (c *Conversation) Stop() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.active == nil {
		return false
	}
	c.active.Stop()
	return true
}

// Rename sets the title of the chat. A blank title is ignored. The new title is never replaced by
// a derived one.
func (c *Conversation) Rename(title string) {
	title = strings.TrimSpace(title)
	if title == "" {
		return
	}

	c.mu.Lock()
	c.chat.Title = title
	c.chat.TitleLocked = true
	ch := Change{Chat: c.chat}
	c.mu.Unlock()

	c.notify(ch)
}

// UpdateMessage implements MessageUpdater.
func (c *Conversation) UpdateMessage(id string, fn func(models.Message) models.Message) {
	c.mu.Lock()
	idx := slices.IndexFunc(c.chat.Messages, func(m models.Message) bool { return m.ID == id })
	if idx == -1 {
		c.mu.Unlock()
		return
	}
	ch := c.replaceLocked(func(msgs []models.Message) []models.Message {
		msgs[idx] = fn(msgs[idx])
		return msgs
	})
	updated := ch.Chat.Messages[idx]
	ch.Message = &updated
	c.mu.Unlock()

	c.notify(ch)
}

// replaceLocked hands fn a copy of the message list and installs the list it returns. The first
// time the list becomes non-empty, the title is derived from the first user message.
func (c *Conversation) replaceLocked(fn func([]models.Message) []models.Message) Change {
	wasEmpty := len(c.chat.Messages) == 0
	msgs := fn(slices.Clone(c.chat.Messages))

	if wasEmpty && len(msgs) > 0 && !c.chat.TitleLocked && msgs[0].Role == models.RoleUser {
		c.chat.Title = models.DeriveTitle(msgs[0])
		c.chat.TitleLocked = true
	}
	c.chat.Messages = msgs

	return Change{Chat: c.chat}
}

// Send appends the prompt and an empty streaming reply to the conversation, then streams the
// answer of p into the reply on a new goroutine. A conversation accepts one streaming request at
// a time.
func (c *Conversation) Send(ctx context.Context, p Provider, prompt models.Prompt) (*Stream, error) {
	prepare := func(msgs []models.Message) (int, models.Prompt, error) {
		return len(msgs), prompt, nil
	}
	return c.start(ctx, prepare, c.streamRunner(p))
}

// Regenerate drops the model message at index together with the user message that prompted it,
// and everything after them, then sends that user message again.
func (c *Conversation) Regenerate(ctx context.Context, p Provider, index int, opts models.Options) (*Stream, error) {
	prepare := func(msgs []models.Message) (int, models.Prompt, error) {
		if index <= 0 || index >= len(msgs) {
			return 0, models.Prompt{}, fmt.Errorf("%w: index %d out of range", ErrInvalidIndex, index)
		}
		if msgs[index].Role != models.RoleModel || msgs[index-1].Role != models.RoleUser {
			return 0, models.Prompt{}, fmt.Errorf("%w: message %d is not an answer to a user message", ErrInvalidIndex, index)
		}
		user := msgs[index-1]
		return index - 1, models.Prompt{Text: user.Content, Image: user.Image, Options: opts}, nil
	}
	return c.start(ctx, prepare, c.streamRunner(p))
}

// GenerateImage appends the prompt and a reply that is filled with the image g generates for it.
func (c *Conversation) GenerateImage(ctx context.Context, g ImageGenerator, prompt string) (*Stream, error) {
	prepare := func(msgs []models.Message) (int, models.Prompt, error) {
		return len(msgs), models.Prompt{Text: prompt}, nil
	}
	run := func(ctx context.Context, _ []models.Message, p models.Prompt, s *Stream) Result {
		return generateImage(ctx, c, s.ID, g, p.Text)
	}
	return c.start(ctx, prepare, run)
}

type preparer func(msgs []models.Message) (keep int, prompt models.Prompt, err error)

type runner func(ctx context.Context, history []models.Message, prompt models.Prompt, s *Stream) Result

func (c *Conversation) streamRunner(p Provider) runner {
	return func(ctx context.Context, history []models.Message, prompt models.Prompt, s *Stream) Result {
		return Consume(c, s.ID, p.Send(ctx, history, prompt), s)
	}
}

func (c *Conversation) start(ctx context.Context, prepare preparer, run runner) (*Stream, error) {
	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return nil, ErrStreamActive
	}

	keep, prompt, err := prepare(c.chat.Messages)
	if err != nil {
		c.mu.Unlock()
		return nil, err
	}
	prompt.Text = strings.TrimSpace(prompt.Text)
	if prompt.Text == "" && prompt.Image == "" {
		c.mu.Unlock()
		return nil, ErrEmptyPrompt
	}

	history := c.chat.Messages[:keep:keep]
	user := models.Message{
		ID:      uuid.New().String(),
		Role:    models.RoleUser,
		Content: prompt.Text,
		Image:   prompt.Image,
	}
	reply := models.Message{
		ID:          uuid.New().String(),
		Role:        models.RoleModel,
		IsStreaming: true,
	}
	ch := c.replaceLocked(func(msgs []models.Message) []models.Message {
		return append(msgs[:keep], user, reply)
	})

	s := newStream(reply.ID)
	c.active = s
	c.mu.Unlock()

	c.notify(ch)

	go func() {
		defer close(s.done)
		defer c.release(s)
		// The reply was finalized while the panic unwound; only the process is saved here.
		defer func() {
			if r := recover(); r != nil {
				s.result = Result{Outcome: OutcomeFailed, Err: fmt.Errorf("reply panicked: %v", r)}
				msgs := c.Snapshot().Messages
				if idx := slices.IndexFunc(msgs, func(m models.Message) bool { return m.ID == s.ID }); idx != -1 {
					s.result.Content = msgs[idx].Content
				}
				c.logger.Error("Reply panicked",
					slog.String("messageID", s.ID),
					slog.String(errLoggerKey, s.result.Err.Error()))
			}
		}()

		s.result = run(ctx, history, prompt, s)

		switch s.result.Outcome {
		case OutcomeFailed:
			c.logger.Error("Reply failed",
				slog.String("messageID", s.ID),
				slog.String(errLoggerKey, s.result.Err.Error()))
		case OutcomeCancelled:
			c.logger.Info("Reply stopped", slog.String("messageID", s.ID))
		default:
			c.logger.Debug("Reply completed", slog.String("messageID", s.ID))
		}
	}()

	return s, nil
}

func (c *Conversation) release(s *Stream) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == s {
		c.active = nil
	}
}

func generateImage(ctx context.Context, u MessageUpdater, id string, g ImageGenerator, prompt string) (res Result) {
	var image string

	defer func() {
		switch res.Outcome {
		case OutcomeFailed:
			res.Content = ErrorText(res.Err)
		default:
			res.Content = fmt.Sprintf("Generated image for: %q", prompt)
		}
		content := res.Content
		u.UpdateMessage(id, func(m models.Message) models.Message {
			m.Content = content
			m.Image = image
			m.IsStreaming = false
			return m
		})
	}()

	img, err := g.Generate(ctx, prompt)
	if err != nil {
		res.Outcome = OutcomeFailed
		res.Err = err
		return res
	}
	image = img
	res.Outcome = OutcomeCompleted
	return res
}
