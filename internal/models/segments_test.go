package models_test

import (
	"strings"
	"testing"

	"github.com/MegaGrindStone/oceep-web-ui/internal/models"
)

func TestSplitThinking(t *testing.T) {
	tests := []struct {
		name         string
		text         string
		wantThinking string
		wantDisplay  string
	}{
		{
			name:        "No sentinel",
			text:        "  plain answer \n",
			wantDisplay: "  plain answer \n",
		},
		{
			name:         "Open segment",
			text:         "<think>still reasoning",
			wantThinking: "still reasoning",
		},
		{
			name:         "Closed segment",
			text:         "<think>reason</think> answer ",
			wantThinking: "reason",
			wantDisplay:  "answer",
		},
		{
			name:         "Empty segment",
			text:         "<think></think>answer",
			wantThinking: "",
			wantDisplay:  "answer",
		},
		{
			name:         "Only first segment is split",
			text:         "<think>a</think>b<think>c</think>d",
			wantThinking: "a",
			wantDisplay:  "b<think>c</think>d",
		},
		{
			name:         "Closing sentinel before opening one",
			text:         "</think>x<think>y",
			wantThinking: "y",
		},
		{
			name:        "Case sensitive",
			text:        "<THINK>loud</THINK>",
			wantDisplay: "<THINK>loud</THINK>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := models.SplitThinking(tt.text)
			if got.Thinking != tt.wantThinking {
				t.Errorf("SplitThinking() thinking = %q, want %q", got.Thinking, tt.wantThinking)
			}
			if got.Display != tt.wantDisplay {
				t.Errorf("SplitThinking() display = %q, want %q", got.Display, tt.wantDisplay)
			}
		})
	}
}

func TestSplitThinkingAcrossFragments(t *testing.T) {
	first := "<think>reason"
	got := models.SplitThinking(first)
	if got.Display != "" || got.Thinking != "reason" {
		t.Errorf("after first fragment = %+v, want thinking %q and no display", got, "reason")
	}

	got = models.SplitThinking(first + "</think> answer")
	if got.Display != "answer" || got.Thinking != "reason" {
		t.Errorf("after second fragment = %+v, want thinking %q and display %q", got, "reason", "answer")
	}
}

func TestSplitThinkingFinalizedDisplayIsStable(t *testing.T) {
	final := "<think>plan the reply</think>\n\nHello there, general Kenobi."

	var finalized string
	for i := range len(final) + 1 {
		prefix := final[:i]
		got := models.SplitThinking(prefix)
		if !models.Closed(prefix) {
			continue
		}
		if !strings.HasPrefix(got.Display, finalized) {
			t.Fatalf("display at prefix %d = %q, lost finalized %q", i, got.Display, finalized)
		}
		finalized = got.Display
	}
	if finalized != "Hello there, general Kenobi." {
		t.Errorf("final display = %q", finalized)
	}
}

func TestStripThinking(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "No segment", text: "answer", want: "answer"},
		{name: "Closed segments", text: "<think>a\nb</think> one <think>c</think>two", want: "one two"},
		{name: "Open segment kept", text: "<think>unfinished", want: "<think>unfinished"},
		{name: "Only reasoning", text: "<think>all</think>", want: "<think>all</think>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := models.StripThinking(tt.text); got != tt.want {
				t.Errorf("StripThinking() = %q, want %q", got, tt.want)
			}
		})
	}
}
