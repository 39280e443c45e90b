package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MegaGrindStone/oceep-web-ui/internal/models"
	"github.com/google/uuid"
)

// Store defines the key-value string store the chat list is persisted to. Get reports false when
// the key has no value.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// ErrNotFound is returned when a chat ID is unknown.
var ErrNotFound = errors.New("chat not found")

// SessionsKey is the store key of the serialized chat list.
const SessionsKey = "oceep_sessions"

// Library manages the list of conversations, newest first, and saves it to a Store after every
// change.
type Library struct {
	mu    sync.RWMutex
	convs []*Conversation

	listenersMu sync.RWMutex
	listeners   []func(Change)

	saveMu sync.Mutex
	store  Store

	logger *slog.Logger
}

// Open restores the library from store. A missing, corrupt or empty payload results in a library
// holding exactly one new, empty conversation.
func Open(ctx context.Context, store Store, logger *slog.Logger) (*Library, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Library{
		store:  store,
		logger: logger.With(slog.String("module", "library")),
	}

	chats, err := l.restore(ctx)
	if err != nil {
		return nil, err
	}
	for _, chat := range chats {
		l.convs = append(l.convs, l.newConversation(chat))
	}
	if len(l.convs) == 0 {
		l.convs = append(l.convs, l.newConversation(emptyChat()))
	}

	if err := l.save(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Library) restore(ctx context.Context) ([]models.Chat, error) {
	payload, ok, err := l.store.Get(ctx, SessionsKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load chats: %w", err)
	}
	if !ok {
		return nil, nil
	}

	var chats []models.Chat
	if err := json.Unmarshal([]byte(payload), &chats); err != nil {
		l.logger.Warn("Discarding corrupt chats payload", slog.String(errLoggerKey, err.Error()))
		return nil, nil
	}

	// Nothing streams right after a restart, whatever the payload says.
	for i := range chats {
		if chats[i].ID == "" {
			chats[i].ID = uuid.New().String()
		}
		if len(chats[i].Messages) > 0 {
			chats[i].TitleLocked = true
		}
		for j := range chats[i].Messages {
			chats[i].Messages[j].IsStreaming = false
		}
	}
	return chats, nil
}

func emptyChat() models.Chat {
	return models.Chat{
		ID:        uuid.New().String(),
		Title:     models.DefaultTitle,
		CreatedAt: time.Now().UnixMilli(),
	}
}

func (l *Library) newConversation(chat models.Chat) *Conversation {
	return New(chat, l.changed, l.logger)
}

// OnChange registers fn to be called after every change of any conversation. Structural changes
// and finished replies are saved before fn is called.
func (l *Library) OnChange(fn func(Change)) {
	l.listenersMu.Lock()
	defer l.listenersMu.Unlock()
	l.listeners = append(l.listeners, fn)
}

func (l *Library) changed(ch Change) {
	// Token updates of a streaming reply are not saved; the final update of the reply is.
	if ch.Message == nil || !ch.Message.IsStreaming {
		if err := l.save(context.Background()); err != nil {
			l.logger.Error("Failed to save chats", slog.String(errLoggerKey, err.Error()))
		}
	}

	l.listenersMu.RLock()
	listeners := slices.Clone(l.listeners)
	l.listenersMu.RUnlock()

	for _, fn := range listeners {
		fn(ch)
	}
}

func (l *Library) save(ctx context.Context) error {
	l.saveMu.Lock()
	defer l.saveMu.Unlock()

	payload, err := json.Marshal(l.List())
	if err != nil {
		return fmt.Errorf("failed to marshal chats: %w", err)
	}
	if err := l.store.Set(ctx, SessionsKey, string(payload)); err != nil {
		return fmt.Errorf("failed to save chats: %w", err)
	}
	return nil
}

// List returns a snapshot of every chat, newest first.
func (l *Library) List() []models.Chat {
	l.mu.RLock()
	defer l.mu.RUnlock()

	chats := make([]models.Chat, len(l.convs))
	for i, c := range l.convs {
		chats[i] = c.Snapshot()
	}
	return chats
}

// Get returns the conversation with the given ID.
func (l *Library) Get(id string) (*Conversation, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	idx := slices.IndexFunc(l.convs, func(c *Conversation) bool { return c.ID() == id })
	if idx == -1 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return l.convs[idx], nil
}

// Latest returns the newest conversation. A library is never empty.
func (l *Library) Latest() *Conversation {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.convs[0]
}

// New creates an empty conversation in front of the list.
func (l *Library) New() *Conversation {
	c := l.newConversation(emptyChat())

	l.mu.Lock()
	l.convs = slices.Insert(l.convs, 0, c)
	l.mu.Unlock()

	l.changed(Change{Chat: c.Snapshot()})
	return c
}

// Delete removes the conversation with the given ID, stopping its streaming reply if any. When the
// last conversation is deleted, a new empty one takes its place.
func (l *Library) Delete(id string) error {
	l.mu.Lock()
	idx := slices.IndexFunc(l.convs, func(c *Conversation) bool { return c.ID() == id })
	if idx == -1 {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	deleted := l.convs[idx]
	l.convs = slices.Delete(l.convs, idx, idx+1)
	if len(l.convs) == 0 {
		l.convs = append(l.convs, l.newConversation(emptyChat()))
	}
	first := l.convs[0]
	l.mu.Unlock()

	deleted.Stop()
	l.changed(Change{Chat: first.Snapshot()})
	return nil
}

// Rename sets the title of the conversation with the given ID.
func (l *Library) Rename(id, title string) error {
	c, err := l.Get(id)
	if err != nil {
		return err
	}
	c.Rename(title)
	return nil
}

// StopAll raises the stop flag of every streaming reply.
func (l *Library) StopAll() {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, c := range l.convs {
		c.Stop()
	}
}
