package handlers

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/oceep-web-ui/internal/conversation"
)

type homePageData struct {
	Chats []chat

	CurrentChatID string
	CurrentTitle  string
	Messages      []message

	// StreamingMessageID is the ID of the reply streaming in the current chat, if any.
	StreamingMessageID string

	ImageEnabled bool
}

// HandleHome renders the chat list and the chat selected by the chat_id query. Without a known
// chat_id the newest chat is shown.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	conv, err := m.library.Get(r.URL.Query().Get("chat_id"))
	if err != nil {
		conv = m.library.Latest()
	}

	data, err := m.chatboxData(conv)
	if err != nil {
		m.logger.Error("Failed to prepare home page",
			slog.String("chatID", conv.ID()),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		m.logger.Error("Failed to execute home template", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (m Main) chatboxData(conv *conversation.Conversation) (homePageData, error) {
	ch := conv.Snapshot()

	msgs, err := m.messageViews(ch)
	if err != nil {
		return homePageData{}, fmt.Errorf("failed to render messages: %w", err)
	}

	data := homePageData{
		Chats:         m.chatViews(ch.ID),
		CurrentChatID: ch.ID,
		CurrentTitle:  ch.Title,
		Messages:      msgs,
		ImageEnabled:  m.imageGen != nil,
	}
	for _, msg := range ch.Messages {
		if msg.IsStreaming {
			data.StreamingMessageID = msg.ID
		}
	}
	return data, nil
}
