package services

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"

	"github.com/MegaGrindStone/oceep-web-ui/internal/models"
	"github.com/tmaxmax/go-sse"
)

// Anthropic provides an interface to the Anthropic API for large language model interactions. It
// implements the Provider interface and handles streaming chat completions using Claude models.
type Anthropic struct {
	apiKey    string
	baseURL   string
	models    Models
	prompts   Prompts
	maxTokens int

	client *http.Client

	logger *slog.Logger
}

type anthropicChatRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    string             `json:"system,omitempty"`
	MaxTokens int                `json:"max_tokens,omitempty"`
	Stream    bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type   string                `json:"type"`
	Text   string                `json:"text,omitempty"`
	Source *anthropicImageSource `json:"source,omitempty"`
}

type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicStreamResponse struct {
	Type  string `json:"type"`
	Delta struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		Thinking string `json:"thinking"`
	} `json:"delta"`
}

type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

const (
	anthropicAPIEndpoint = "https://api.anthropic.com/v1"
)

// NewAnthropic creates a new Anthropic instance with the specified API key and maximum token limit.
// An empty baseURL means the public Anthropic endpoint.
func NewAnthropic(apiKey, baseURL string, ms Models, prompts Prompts, maxTokens int, logger *slog.Logger) Anthropic {
	if baseURL == "" {
		baseURL = anthropicAPIEndpoint
	}
	return Anthropic{
		apiKey:    apiKey,
		baseURL:   baseURL,
		models:    ms,
		prompts:   prompts,
		maxTokens: maxTokens,
		client:    &http.Client{},
		logger:    logger.With(slog.String("module", "anthropic")),
	}
}

func anthropicMessages(history []models.Message, prompt models.Prompt) ([]anthropicMessage, error) {
	msgs := make([]anthropicMessage, 0, len(history)+1)
	for _, msg := range history {
		text := msg.HistoryText()
		if text == "" {
			continue
		}
		role := "user"
		if msg.Role == models.RoleModel {
			role = "assistant"
		}
		msgs = append(msgs, anthropicMessage{
			Role:    role,
			Content: []anthropicContent{{Type: "text", Text: text}},
		})
	}

	var contents []anthropicContent
	if prompt.Image != "" {
		mimeType, data, err := models.ParseDataURL(prompt.Image)
		if err != nil {
			return nil, fmt.Errorf("error decoding image: %w", err)
		}
		contents = append(contents, anthropicContent{
			Type: "image",
			Source: &anthropicImageSource{
				Type:      "base64",
				MediaType: mimeType,
				Data:      base64.StdEncoding.EncodeToString(data),
			},
		})
	}
	if prompt.Text != "" {
		contents = append(contents, anthropicContent{Type: "text", Text: prompt.Text})
	}

	return append(msgs, anthropicMessage{Role: "user", Content: contents}), nil
}

// Send streams responses from the Anthropic API for a given sequence of messages. Thinking deltas
// are wrapped in think sentinels. The context can be used to cancel ongoing requests.
func (a Anthropic) Send(
	ctx context.Context,
	history []models.Message,
	prompt models.Prompt,
) iter.Seq2[models.Fragment, error] {
	return func(yield func(models.Fragment, error) bool) {
		msgs, err := anthropicMessages(history, prompt)
		if err != nil {
			yield(models.Fragment{}, err)
			return
		}

		reqBody := anthropicChatRequest{
			Model:     a.models.pick(prompt.Quality),
			Messages:  msgs,
			Stream:    true,
			System:    a.prompts.system(prompt.Options),
			MaxTokens: a.maxTokens,
		}

		jsonBody, err := json.Marshal(reqBody)
		if err != nil {
			yield(models.Fragment{}, fmt.Errorf("error marshaling request: %w", err))
			return
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			a.baseURL+"/messages", bytes.NewBuffer(jsonBody))
		if err != nil {
			yield(models.Fragment{}, fmt.Errorf("error creating request: %w", err))
			return
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-api-key", a.apiKey)
		req.Header.Set("anthropic-version", "2023-06-01")

		resp, err := a.client.Do(req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield(models.Fragment{}, fmt.Errorf("error sending request: %w", err))
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(resp.Body)
			yield(models.Fragment{}, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body)))
			return
		}

		var tagger thinkTagger
		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				yield(models.Fragment{}, fmt.Errorf("error reading response: %w", err))
				return
			}
			switch ev.Type {
			case "error":
				var e anthropicError
				if err := json.Unmarshal([]byte(ev.Data), &e); err != nil {
					yield(models.Fragment{}, fmt.Errorf("error unmarshaling error: %w", err))
					return
				}
				yield(models.Fragment{}, fmt.Errorf("anthropic error %s: %s", e.Error.Type, e.Error.Message))
				return
			case "message_stop":
				if closing := tagger.close(); closing != "" {
					yield(models.TextFragment(closing), nil)
				}
				return
			case "content_block_delta":
				var res anthropicStreamResponse
				if err := json.Unmarshal([]byte(ev.Data), &res); err != nil {
					yield(models.Fragment{}, fmt.Errorf("error unmarshaling response: %w", err))
					return
				}
				var text string
				switch res.Delta.Type {
				case "thinking_delta":
					text = tagger.reasoning(res.Delta.Thinking)
				default:
					text = tagger.answer(res.Delta.Text)
				}
				if text == "" {
					continue
				}
				if !yield(models.TextFragment(text), nil) {
					return
				}
			default:
				continue
			}
		}
	}
}
