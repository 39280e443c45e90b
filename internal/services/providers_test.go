package services_test

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MegaGrindStone/oceep-web-ui/internal/models"
	"github.com/MegaGrindStone/oceep-web-ui/internal/services"
)

type capturedRequest struct {
	path   string
	header http.Header
	body   map[string]any
}

func sseServer(t *testing.T, events []string, captured *capturedRequest) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			captured.path = r.URL.Path
			captured.header = r.Header.Clone()
			bs, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(bs, &captured.body)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, ev := range events {
			fmt.Fprint(w, ev)
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func anthropicDelta(deltaType, field, text string) string {
	bs, _ := json.Marshal(map[string]any{
		"type":  "content_block_delta",
		"delta": map[string]string{"type": deltaType, field: text},
	})
	return "event: content_block_delta\ndata: " + string(bs) + "\n\n"
}

func TestAnthropicSend(t *testing.T) {
	var captured capturedRequest
	srv := sseServer(t, []string{
		"event: message_start\ndata: {\"type\":\"message_start\"}\n\n",
		anthropicDelta("thinking_delta", "thinking", "Hmm"),
		anthropicDelta("text_delta", "text", "Hello"),
		anthropicDelta("text_delta", "text", " there"),
		"event: message_stop\ndata: {\"type\":\"message_stop\"}\n\n",
	}, &captured)

	a := services.NewAnthropic("key", srv.URL, services.Models{Fast: "claude-fast", Smart: "claude-smart"},
		services.Prompts{System: "sys"}, 1024, discardLogger())

	history := []models.Message{
		{Role: models.RoleUser, Content: "Hi"},
		{Role: models.RoleModel, Content: "<think>old</think>Hello"},
	}
	text, _, err := collect(t, a.Send(context.Background(), history, models.Prompt{
		Text:    "How are you?",
		Options: models.Options{Quality: models.QualitySmart},
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "<think>Hmm</think>Hello there"; text != want {
		t.Errorf("got %q, want %q", text, want)
	}

	if captured.path != "/messages" {
		t.Errorf("unexpected path %q", captured.path)
	}
	if captured.header.Get("x-api-key") != "key" {
		t.Errorf("missing api key header")
	}
	if captured.body["model"] != "claude-smart" {
		t.Errorf("expected smart model, got %v", captured.body["model"])
	}
	if captured.body["system"] != "sys" {
		t.Errorf("unexpected system prompt %v", captured.body["system"])
	}
	msgs, _ := captured.body["messages"].([]any)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if bs, _ := json.Marshal(msgs[1]); strings.Contains(string(bs), "<think>") {
		t.Errorf("history sent with thinking: %s", bs)
	}
}

func TestAnthropicErrors(t *testing.T) {
	t.Run("error event", func(t *testing.T) {
		srv := sseServer(t, []string{
			anthropicDelta("text_delta", "text", "Part"),
			"event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":\"overloaded_error\",\"message\":\"Overloaded\"}}\n\n",
		}, nil)
		a := services.NewAnthropic("key", srv.URL, services.Models{Fast: "m"}, services.Prompts{}, 1024, discardLogger())

		text, _, err := collect(t, a.Send(context.Background(), nil, models.Prompt{Text: "Hi"}))
		if err == nil || !strings.Contains(err.Error(), "Overloaded") {
			t.Errorf("expected overloaded error, got %v", err)
		}
		if text != "Part" {
			t.Errorf("expected partial text, got %q", text)
		}
	})

	t.Run("status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "bad key", http.StatusUnauthorized)
		}))
		defer srv.Close()
		a := services.NewAnthropic("key", srv.URL, services.Models{Fast: "m"}, services.Prompts{}, 1024, discardLogger())

		_, _, err := collect(t, a.Send(context.Background(), nil, models.Prompt{Text: "Hi"}))
		if err == nil || !strings.Contains(err.Error(), "401") {
			t.Errorf("expected status error, got %v", err)
		}
	})

	t.Run("invalid image", func(t *testing.T) {
		a := services.NewAnthropic("key", "http://127.0.0.1:0", services.Models{Fast: "m"}, services.Prompts{}, 1024,
			discardLogger())

		_, _, err := collect(t, a.Send(context.Background(), nil, models.Prompt{Image: "not a data url"}))
		if err == nil {
			t.Error("expected error for invalid image")
		}
	})
}

func openRouterChunk(t *testing.T, delta map[string]any) string {
	t.Helper()
	bs, err := json.Marshal(map[string]any{"choices": []any{map[string]any{"delta": delta}}})
	if err != nil {
		t.Fatal(err)
	}
	return "data: " + string(bs) + "\n\n"
}

func TestOpenRouterSend(t *testing.T) {
	var captured capturedRequest
	citation := func(url, title string) map[string]any {
		return map[string]any{
			"type":         "url_citation",
			"url_citation": map[string]string{"url": url, "title": title},
		}
	}
	srv := sseServer(t, []string{
		": OPENROUTER PROCESSING\n\n",
		openRouterChunk(t, map[string]any{"reasoning": "Searching"}),
		openRouterChunk(t, map[string]any{"content": "Go is "}),
		openRouterChunk(t, map[string]any{"content": "great.", "annotations": []any{citation("https://go.dev", "Go")}}),
		openRouterChunk(t, map[string]any{"annotations": []any{
			citation("https://go.dev", "Go"),
			citation("https://pkg.go.dev", "Packages"),
		}}),
		"data: [DONE]\n\n",
	}, &captured)

	o := services.NewOpenRouter("key", srv.URL, services.Models{Fast: "fast", Smart: "smart"},
		services.Prompts{System: "sys", Search: "search"}, services.LLMParameters{}, discardLogger())

	text, citations, err := collect(t, o.Send(context.Background(), nil, models.Prompt{
		Text:    "Is Go good?",
		Options: models.Options{Search: true, Quality: models.QualitySmart},
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "<think>Searching</think>Go is great."; text != want {
		t.Errorf("got %q, want %q", text, want)
	}

	if len(citations) != 2 {
		t.Fatalf("expected 2 citation fragments, got %d", len(citations))
	}
	last := citations[len(citations)-1].Sources()
	if len(last) != 2 || last[0].URI != "https://go.dev" || last[1].URI != "https://pkg.go.dev" {
		t.Errorf("unexpected sources %+v", last)
	}
	if first := citations[0].Sources(); len(first) != 1 {
		t.Errorf("earlier citation fragment mutated: %+v", first)
	}

	if captured.path != "/chat/completions" {
		t.Errorf("unexpected path %q", captured.path)
	}
	if captured.header.Get("Authorization") != "Bearer key" {
		t.Errorf("missing authorization header")
	}
	if captured.body["model"] != "smart" {
		t.Errorf("expected smart model, got %v", captured.body["model"])
	}
	if _, ok := captured.body["plugins"]; !ok {
		t.Error("expected web plugin for search")
	}
	if _, ok := captured.body["reasoning"]; !ok {
		t.Error("expected reasoning for smart quality")
	}
}

func TestOpenRouterImagePrompt(t *testing.T) {
	var captured capturedRequest
	srv := sseServer(t, []string{openRouterChunk(t, map[string]any{"content": "A cat."}), "data: [DONE]\n\n"}, &captured)

	o := services.NewOpenRouter("key", srv.URL, services.Models{Fast: "fast"}, services.Prompts{System: "sys"},
		services.LLMParameters{}, discardLogger())

	image := models.DataURL("image/png", []byte{0x89, 'P', 'N', 'G'})
	text, _, err := collect(t, o.Send(context.Background(), nil, models.Prompt{Text: "What is this?", Image: image}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "A cat." {
		t.Errorf("got %q", text)
	}

	msgs, _ := captured.body["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("expected system and user messages, got %d", len(msgs))
	}
	user, _ := msgs[1].(map[string]any)
	parts, ok := user["content"].([]any)
	if !ok || len(parts) != 2 {
		t.Fatalf("expected image and text parts, got %v", user["content"])
	}
	if _, ok := captured.body["plugins"]; ok {
		t.Error("unexpected web plugin without search")
	}
}

func TestOpenRouterErrorChunk(t *testing.T) {
	srv := sseServer(t, []string{
		openRouterChunk(t, map[string]any{"content": "Par"}),
		"data: {\"error\":{\"code\":502,\"message\":\"upstream failed\"}}\n\n",
	}, nil)

	o := services.NewOpenRouter("key", srv.URL, services.Models{Fast: "fast"}, services.Prompts{},
		services.LLMParameters{}, discardLogger())

	text, _, err := collect(t, o.Send(context.Background(), nil, models.Prompt{Text: "Hi"}))
	if err == nil || !strings.Contains(err.Error(), "upstream failed") {
		t.Errorf("expected upstream error, got %v", err)
	}
	if text != "Par" {
		t.Errorf("expected partial text, got %q", text)
	}
}

func TestOpenAISend(t *testing.T) {
	chunk := func(content string) string {
		bs, _ := json.Marshal(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion.chunk",
			"model":   "gpt-4o-mini",
			"choices": []any{map[string]any{"index": 0, "delta": map[string]string{"content": content}}},
		})
		return "data: " + string(bs) + "\n\n"
	}

	var captured capturedRequest
	srv := sseServer(t, []string{chunk("Hello"), chunk(", "), chunk("world"), "data: [DONE]\n\n"}, &captured)

	o := services.NewOpenAI("key", srv.URL, services.Models{Fast: "gpt-4o-mini"}, "", services.Prompts{System: "sys"},
		services.LLMParameters{}, discardLogger())

	text, _, err := collect(t, o.Send(context.Background(), nil, models.Prompt{Text: "Hi"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Hello, world" {
		t.Errorf("got %q", text)
	}
	if captured.path != "/chat/completions" {
		t.Errorf("unexpected path %q", captured.path)
	}
	if captured.body["stream"] != true {
		t.Error("expected streaming request")
	}
}

func TestOpenAIGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/generations" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"created":1,"data":[{"b64_json":"aW1n"}]}`)
	}))
	defer srv.Close()

	o := services.NewOpenAI("key", srv.URL, services.Models{Fast: "gpt-4o-mini"}, "dall-e-3", services.Prompts{},
		services.LLMParameters{}, discardLogger())

	img, err := o.Generate(context.Background(), "a cat")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if img != "data:image/png;base64,aW1n" {
		t.Errorf("got %q", img)
	}

	noModel := services.NewOpenAI("key", srv.URL, services.Models{Fast: "gpt-4o-mini"}, "", services.Prompts{},
		services.LLMParameters{}, discardLogger())
	if _, err := noModel.Generate(context.Background(), "a cat"); err == nil {
		t.Error("expected error without image model")
	}
}

func TestOllamaSend(t *testing.T) {
	var captured capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.path = r.URL.Path
		bs, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(bs, &captured.body)

		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, c := range []string{"Hel", "lo", ""} {
			line, _ := json.Marshal(map[string]any{
				"model":   "llama",
				"message": map[string]string{"role": "assistant", "content": c},
				"done":    c == "",
			})
			fmt.Fprintf(w, "%s\n", line)
		}
	}))
	defer srv.Close()

	temp := float32(0.2)
	o, err := services.NewOllama(srv.URL, services.Models{Fast: "llama"}, services.Prompts{System: "sys"},
		services.LLMParameters{Temperature: &temp}, discardLogger())
	if err != nil {
		t.Fatalf("failed to create ollama: %v", err)
	}

	text, _, err := collect(t, o.Send(context.Background(), nil, models.Prompt{Text: "Hi"}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Hello" {
		t.Errorf("got %q", text)
	}
	if captured.path != "/api/chat" {
		t.Errorf("unexpected path %q", captured.path)
	}
	opts, _ := captured.body["options"].(map[string]any)
	if _, ok := opts["temperature"]; !ok {
		t.Errorf("expected temperature option, got %v", captured.body["options"])
	}
}

func TestProviderStopsWhenConsumerBreaks(t *testing.T) {
	events := make([]string, 0, 10)
	for i := range 10 {
		events = append(events, anthropicDelta("text_delta", "text", fmt.Sprintf("%d", i)))
	}
	srv := sseServer(t, events, nil)
	a := services.NewAnthropic("key", srv.URL, services.Models{Fast: "m"}, services.Prompts{}, 1024, discardLogger())

	got := 0
	for _, err := range a.Send(context.Background(), nil, models.Prompt{Text: "Hi"}) {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		got++
		if got == 2 {
			break
		}
	}
	if got != 2 {
		t.Errorf("expected to stop after 2 fragments, got %d", got)
	}
}
