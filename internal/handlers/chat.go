package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/MegaGrindStone/oceep-web-ui/internal/conversation"
	"github.com/MegaGrindStone/oceep-web-ui/internal/models"
)

const maxImageSize = 10 << 20

var errImageGenerationUnsupported = errors.New("image generation is not supported by the configured provider")

// HandleChats sends a prompt into a chat through HTTP POST requests. It accepts the prompt through
// the "message" form field, an optional "image" file, the "search", "tutor" and "quality" options
// and an optional "chat_id". If no chat_id is provided, it creates a new chat. When
// "generate_image" is set, the prompt is sent to the image generator instead of the provider.
//
// The reply is streamed through Server-Sent Events on the topic of the reply message. The handler
// renders either a complete chatbox for new chats or the two new messages for existing chats.
// Sending into a chat that is still streaming answers 409 Conflict.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	image, err := formImage(r)
	if err != nil {
		m.logger.Error("Invalid image", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	msg := strings.TrimSpace(r.FormValue("message"))
	generate := r.FormValue("generate_image") != ""
	if msg == "" && (image == "" || generate) {
		m.logger.Error("Message is required")
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}
	if generate && m.imageGen == nil {
		http.Error(w, errImageGenerationUnsupported.Error(), http.StatusNotImplemented)
		return
	}

	opts, err := formOptions(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	chatID := r.FormValue("chat_id")
	// We track if this is a new chat to determine the appropriate template rendering strategy
	isNewChat := false
	var conv *conversation.Conversation
	if chatID == "" {
		conv = m.library.New()
		isNewChat = true
	} else {
		conv, err = m.library.Get(chatID)
		if err != nil {
			m.respondError(w, "Failed to get chat", err)
			return
		}
	}

	// The reply outlives the request, so it isn't bound to the request context.
	if generate {
		_, err = conv.GenerateImage(context.Background(), m.imageGen, msg)
	} else {
		_, err = conv.Send(context.Background(), m.provider, models.Prompt{Text: msg, Image: image, Options: opts})
	}
	if err != nil {
		m.respondError(w, "Failed to send message", err)
		return
	}

	if isNewChat {
		m.renderChatbox(w, conv)
		return
	}

	ch := conv.Snapshot()
	if len(ch.Messages) < 2 {
		http.Error(w, "chat changed while sending", http.StatusInternalServerError)
		return
	}
	views, err := m.messageViews(ch)
	if err != nil {
		m.respondError(w, "Failed to render messages", err)
		return
	}

	if err := m.templates.ExecuteTemplate(w, "user_message", views[len(views)-2]); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := m.templates.ExecuteTemplate(w, "ai_message", views[len(views)-1]); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleStop raises the stop flag of the reply streaming in the chat given by the "chat_id" form
// field. The partial reply is kept. Stopping a chat that isn't streaming does nothing.
func (m Main) HandleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	conv, err := m.library.Get(r.FormValue("chat_id"))
	if err != nil {
		m.respondError(w, "Failed to get chat", err)
		return
	}

	if conv.Stop() {
		m.logger.Info("Stop requested", slog.String("chatID", conv.ID()))
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleRegenerate replaces the model message at the "index" form field of a chat with a new
// answer to the user message before it. Later messages are dropped. It renders the whole chatbox.
func (m Main) HandleRegenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	index, err := strconv.Atoi(r.FormValue("index"))
	if err != nil {
		http.Error(w, "Invalid index", http.StatusBadRequest)
		return
	}
	opts, err := formOptions(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conv, err := m.library.Get(r.FormValue("chat_id"))
	if err != nil {
		m.respondError(w, "Failed to get chat", err)
		return
	}

	if _, err := conv.Regenerate(context.Background(), m.provider, index, opts); err != nil {
		m.respondError(w, "Failed to regenerate message", err)
		return
	}

	m.renderChatbox(w, conv)
}

// HandleRename sets the title of a chat from the "title" form field and renders the chat list.
func (m Main) HandleRename(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	title := strings.TrimSpace(r.FormValue("title"))
	if title == "" {
		http.Error(w, "Title is required", http.StatusBadRequest)
		return
	}

	chatID := r.FormValue("chat_id")
	if err := m.library.Rename(chatID, title); err != nil {
		m.respondError(w, "Failed to rename chat", err)
		return
	}

	divs, err := m.chatDivs(chatID)
	if err != nil {
		m.respondError(w, "Failed to render chats", err)
		return
	}
	_, _ = io.WriteString(w, divs)
}

// HandleDelete deletes a chat, stopping its reply if it is streaming, and redirects to the newest
// remaining chat.
func (m Main) HandleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := m.library.Delete(r.FormValue("chat_id")); err != nil {
		m.respondError(w, "Failed to delete chat", err)
		return
	}

	http.Redirect(w, r, "/?chat_id="+m.library.Latest().ID(), http.StatusSeeOther)
}

func (m Main) renderChatbox(w http.ResponseWriter, conv *conversation.Conversation) {
	data, err := m.chatboxData(conv)
	if err != nil {
		m.respondError(w, "Failed to render chat", err)
		return
	}
	if err := m.templates.ExecuteTemplate(w, "chatbox", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (m Main) respondError(w http.ResponseWriter, msg string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, conversation.ErrStreamActive):
		status = http.StatusConflict
	case errors.Is(err, conversation.ErrEmptyPrompt), errors.Is(err, conversation.ErrInvalidIndex):
		status = http.StatusBadRequest
	case errors.Is(err, conversation.ErrNotFound):
		status = http.StatusNotFound
	}

	logger := m.logger.Error
	if status != http.StatusInternalServerError {
		logger = m.logger.Warn
	}
	logger(msg, slog.Int("status", status), slog.String(errLoggerKey, err.Error()))

	http.Error(w, err.Error(), status)
}

func formOptions(r *http.Request) (models.Options, error) {
	quality, err := models.ParseQuality(r.FormValue("quality"))
	if err != nil {
		return models.Options{}, err
	}
	return models.Options{
		Search:  r.FormValue("search") != "",
		Tutor:   r.FormValue("tutor") != "",
		Quality: quality,
	}, nil
}

// formImage returns the uploaded "image" file as a data URL, or an empty string when there is
// none.
func formImage(r *http.Request) (string, error) {
	file, _, err := r.FormFile("image")
	if errors.Is(err, http.ErrMissingFile) || errors.Is(err, http.ErrNotMultipart) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxImageSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	if len(data) > maxImageSize {
		return "", fmt.Errorf("image is larger than %d bytes", maxImageSize)
	}
	if len(data) == 0 {
		return "", nil
	}

	mimeType := http.DetectContentType(data)
	if !strings.HasPrefix(mimeType, "image/") {
		return "", fmt.Errorf("unsupported image type %s", mimeType)
	}
	return models.DataURL(mimeType, data), nil
}
