package ui_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/MegaGrindStone/oceep-web-ui/internal/conversation"
	"github.com/MegaGrindStone/oceep-web-ui/internal/models"
	"github.com/MegaGrindStone/oceep-web-ui/internal/ui"
	"github.com/fatih/color"
)

func init() {
	color.NoColor = true
}

func render(updates ...string) (*ui.StreamRenderer, *bytes.Buffer) {
	var buf bytes.Buffer
	r := ui.NewStreamRenderer(&buf)
	for _, u := range updates {
		r.Update(u)
	}
	return r, &buf
}

func TestStreamRendererText(t *testing.T) {
	r, buf := render("Hel", "Hello", "Hello", "Hello world")
	r.Finish(conversation.Result{Outcome: conversation.OutcomeCompleted})

	if got := buf.String(); got != "Hello world\n" {
		t.Errorf("output = %q, want %q", got, "Hello world\n")
	}
}

func TestStreamRendererThinking(t *testing.T) {
	r, buf := render(
		"<think>",
		"<think>\nplan",
		"<think>\nplan it",
		"<think>\nplan it</think>",
		"<think>\nplan it</think>\n\nAns",
		"<think>\nplan it</think>\n\nAnswer",
	)
	if !r.Started() {
		t.Error("expected renderer to be started")
	}
	r.Finish(conversation.Result{Outcome: conversation.OutcomeCompleted})

	want := "plan it\n\nAnswer\n"
	if got := buf.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestStreamRendererReplacedAnswer(t *testing.T) {
	_, buf := render("abc", "xyz")
	if got := buf.String(); got != "abc\nxyz" {
		t.Errorf("output = %q, want %q", got, "abc\nxyz")
	}
}

func TestStreamRendererFinish(t *testing.T) {
	tests := []struct {
		name    string
		updates []string
		res     conversation.Result
		want    string
	}{
		{
			name:    "stopped",
			updates: []string{"part"},
			res:     conversation.Result{Outcome: conversation.OutcomeCancelled},
			want:    "part\n[stopped]\n",
		},
		{
			name:    "failed",
			updates: []string{"part"},
			res:     conversation.Result{Outcome: conversation.OutcomeFailed, Err: errors.New("boom")},
			want:    "part\nError: boom\n",
		},
		{
			name: "failed before any text",
			res:  conversation.Result{Outcome: conversation.OutcomeFailed, Err: errors.New("boom")},
			want: "Error: boom\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, buf := render(tt.updates...)
			r.Finish(tt.res)
			if got := buf.String(); got != tt.want {
				t.Errorf("output = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrintChats(t *testing.T) {
	var buf bytes.Buffer
	ui.PrintChats(&buf, nil, "")
	if !strings.Contains(buf.String(), "No chats yet.") {
		t.Errorf("unexpected output for no chats: %q", buf.String())
	}

	buf.Reset()
	chats := []models.Chat{
		{ID: "a", Title: "First", Messages: make([]models.Message, 2)},
		{ID: "b", Title: "Second"},
	}
	ui.PrintChats(&buf, chats, "b")

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if !strings.HasPrefix(lines[0], "  a  First (2 messages") {
		t.Errorf("unexpected first line %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "* b  Second (0 messages, unknown)") {
		t.Errorf("unexpected second line %q", lines[1])
	}
}

func TestPrintChat(t *testing.T) {
	ch := models.Chat{
		ID:    "a",
		Title: "Weather",
		Messages: []models.Message{
			{ID: "1", Role: models.RoleUser, Content: "Is it raining?"},
			{
				ID:      "2",
				Role:    models.RoleModel,
				Content: "<think>check</think>No.",
				GroundingMetadata: &models.GroundingMetadata{Chunks: []models.GroundingChunk{
					{Web: &models.WebSource{URI: "https://example.com", Title: "Example"}},
				}},
			},
		},
	}

	var buf bytes.Buffer
	ui.PrintChat(&buf, ch)
	out := buf.String()

	for _, want := range []string{"Weather\n", "> Is it raining?\n", "check\n", "No.\n", "[1] Example - https://example.com"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output %q", want, out)
		}
	}
	if strings.Contains(out, "<think>") {
		t.Errorf("sentinels leaked into output %q", out)
	}
}
