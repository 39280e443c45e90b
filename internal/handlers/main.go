package handlers

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"strings"
	"time"

	oceep "github.com/MegaGrindStone/oceep-web-ui"
	"github.com/MegaGrindStone/oceep-web-ui/internal/conversation"
	"github.com/MegaGrindStone/oceep-web-ui/internal/models"
	"github.com/tmaxmax/go-sse"
	"github.com/yuin/goldmark"
)

// Main handles the core functionality of the chat application, managing server-sent events,
// HTML templates, and the interactions between the conversations and the provider.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template
	markdown  goldmark.Markdown

	library  *conversation.Library
	provider conversation.Provider
	// imageGen is nil when the provider can't generate images.
	imageGen conversation.ImageGenerator

	logger *slog.Logger
}

const (
	chatsSSETopic = "chats"

	errLoggerKey = "err"
)

// SSE event types for real-time updates.
var (
	chatsSSEType        = sse.Type("chats")
	messagesSSEType     = sse.Type("messages")
	closeMessageSSEType = sse.Type("closeMessage")
)

// NewMain creates a new Main instance serving the conversations of library. It initializes the
// SSE server, parses the HTML templates from the embedded filesystem and starts publishing every
// change of the library to the connected clients. imageGen may be nil.
func NewMain(
	provider conversation.Provider,
	imageGen conversation.ImageGenerator,
	library *conversation.Library,
	logger *slog.Logger,
) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.New("").Funcs(templateFuncs).ParseFS(
		oceep.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	m := Main{
		sseSrv: &sse.Server{
			OnSession: func(s *sse.Session) (sse.Subscription, bool) {
				// We start with default topics that all clients should subscribe to
				topics := []string{sse.DefaultTopic, chatsSSETopic}

				// We create a message-specific topic if the client requests updates for a particular message
				messageID := s.Req.URL.Query().Get("message_id")
				if messageID != "" {
					topics = append(topics, messageIDTopic(messageID))
				}

				return sse.Subscription{
					Client:      s,
					LastEventID: s.LastEventID,
					Topics:      topics,
				}, true
			},
		},
		templates: tmpl,
		markdown:  newMarkdown(),
		library:   library,
		provider:  provider,
		imageGen:  imageGen,
		logger:    logger.With(slog.String("module", "main")),
	}

	library.OnChange(m.publishChange)

	return m, nil
}

func messageIDTopic(messageID string) string {
	return fmt.Sprintf("message-%s", messageID)
}

// HandleSSE serves the server-sent events of the chat list and, when the message_id query is set,
// of a streaming message.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

// publishChange pushes a change of a conversation to the subscribed clients. A changed message is
// re-rendered as a whole and sent to its topic; structural changes refresh the chat list.
func (m Main) publishChange(ch conversation.Change) {
	if ch.Message == nil {
		m.publishChats()
		return
	}
	if ch.Message.Role != models.RoleModel {
		return
	}

	topic := messageIDTopic(ch.Message.ID)

	body, err := m.renderAIBody(ch.Chat, *ch.Message)
	if err != nil {
		m.logger.Error("Failed to render message",
			slog.String("messageID", ch.Message.ID),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	msg := sse.Message{
		Type: messagesSSEType,
	}
	msg.AppendData(body)
	if err := m.sseSrv.Publish(&msg, topic); err != nil {
		m.logger.Error("Failed to publish message",
			slog.String("messageID", ch.Message.ID),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	if ch.Message.IsStreaming {
		return
	}

	e := &sse.Message{Type: closeMessageSSEType}
	e.AppendData("bye")
	_ = m.sseSrv.Publish(e, topic)

	m.publishChats()
}

func (m Main) publishChats() {
	divs, err := m.chatDivs("")
	if err != nil {
		m.logger.Error("Failed to generate chat divs", slog.String(errLoggerKey, err.Error()))
		return
	}

	msg := sse.Message{
		Type: chatsSSEType,
	}
	msg.AppendData(divs)
	if err := m.sseSrv.Publish(&msg, chatsSSETopic); err != nil {
		m.logger.Error("Failed to publish chats", slog.String(errLoggerKey, err.Error()))
	}
}

func (m Main) chatDivs(activeID string) (string, error) {
	var sb strings.Builder
	for _, ch := range m.chatViews(activeID) {
		if err := m.templates.ExecuteTemplate(&sb, "chat_title", ch); err != nil {
			return "", fmt.Errorf("failed to execute chat_title template: %w", err)
		}
	}
	return sb.String(), nil
}

// Shutdown gracefully terminates the Main instance's SSE server. It broadcasts a close message to all
// connected clients and waits up to 5 seconds for connections to terminate. After the timeout, any
// remaining connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	e := &sse.Message{Type: sse.Type("closeChat")}
	// Events without data are dropped by browsers
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}
