package ui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/MegaGrindStone/oceep-web-ui/internal/models"
	"github.com/fatih/color"
)

// PrintChats writes one line per chat: its ID, title, message count and creation time. The chat
// with activeID is marked.
func PrintChats(w io.Writer, chats []models.Chat, activeID string) {
	if len(chats) == 0 {
		fmt.Fprintln(w, "No chats yet.")
		return
	}

	cyan := color.New(color.FgCyan)
	dim := color.New(color.FgHiBlack)

	for _, ch := range chats {
		marker := " "
		if ch.ID == activeID {
			marker = "*"
		}
		fmt.Fprintf(w, "%s ", marker)
		cyan.Fprint(w, ch.ID)
		fmt.Fprintf(w, "  %s ", ch.Title)
		dim.Fprintf(w, "(%d messages, %s)\n", len(ch.Messages), createdAt(ch.CreatedAt))
	}
}

func createdAt(ms int64) string {
	if ms == 0 {
		return "unknown"
	}
	return time.UnixMilli(ms).Format("2006-01-02 15:04")
}

// PrintChat writes the whole transcript of ch.
func PrintChat(w io.Writer, ch models.Chat) {
	bold := color.New(color.Bold)
	cyan := color.New(color.FgCyan)
	dim := color.New(color.Faint)

	bold.Fprintln(w, ch.Title)
	for _, msg := range ch.Messages {
		fmt.Fprintln(w)
		if msg.Role == models.RoleUser {
			cyan.Fprint(w, "> ")
			fmt.Fprintln(w, msg.Content)
			if msg.Image != "" {
				dim.Fprintln(w, "  [image attached]")
			}
			continue
		}

		segs := models.SplitThinking(msg.Content)
		if t := strings.TrimSpace(segs.Thinking); t != "" {
			dim.Fprintln(w, t)
			fmt.Fprintln(w)
		}
		if segs.Display != "" {
			fmt.Fprintln(w, segs.Display)
		}
		if msg.Image != "" {
			dim.Fprintln(w, "[generated image]")
		}
		for i, src := range msg.GroundingMetadata.Sources() {
			dim.Fprintf(w, "  [%d] %s - %s\n", i+1, src.Title, src.URI)
		}
	}
}
