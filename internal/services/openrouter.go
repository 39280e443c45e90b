package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"slices"

	"github.com/MegaGrindStone/oceep-web-ui/internal/models"
	"github.com/tmaxmax/go-sse"
)

// OpenRouter provides an implementation of the Provider interface for interacting with
// OpenRouter's language models. Search requests enable the web plugin, whose URL citations are
// reported as citations.
type OpenRouter struct {
	apiKey  string
	baseURL string
	models  Models
	prompts Prompts

	params LLMParameters

	client *http.Client

	logger *slog.Logger
}

type openRouterChatRequest struct {
	Model       string               `json:"model"`
	Messages    []openRouterMessage  `json:"messages"`
	Stream      bool                 `json:"stream"`
	Plugins     []openRouterPlugin   `json:"plugins,omitempty"`
	Reasoning   *openRouterReasoning `json:"reasoning,omitempty"`
	Temperature *float32             `json:"temperature,omitempty"`
	TopP        *float32             `json:"top_p,omitempty"`
	Stop        []string             `json:"stop,omitempty"`
	Seed        *int                 `json:"seed,omitempty"`
	MaxTokens   *int                 `json:"max_tokens,omitempty"`
}

type openRouterMessage struct {
	Role string `json:"role"`
	// Content is either a string or a list of openRouterContentPart.
	Content any `json:"content"`
}

type openRouterContentPart struct {
	Type     string              `json:"type"`
	Text     string              `json:"text,omitempty"`
	ImageURL *openRouterImageURL `json:"image_url,omitempty"`
}

type openRouterImageURL struct {
	URL string `json:"url"`
}

type openRouterPlugin struct {
	ID string `json:"id"`
}

type openRouterReasoning struct {
	Effort string `json:"effort"`
}

type openRouterStreamingResponse struct {
	Choices []openRouterStreamingChoice `json:"choices"`
	Error   *openRouterError            `json:"error,omitempty"`
}

type openRouterStreamingChoice struct {
	Delta openRouterDelta `json:"delta"`
}

type openRouterDelta struct {
	Content     string                 `json:"content"`
	Reasoning   string                 `json:"reasoning"`
	Annotations []openRouterAnnotation `json:"annotations"`
}

type openRouterAnnotation struct {
	Type        string `json:"type"`
	URLCitation struct {
		URL   string `json:"url"`
		Title string `json:"title"`
	} `json:"url_citation"`
}

type openRouterError struct {
	Code    any    `json:"code"`
	Message string `json:"message"`
}

const (
	openRouterAPIEndpoint = "https://openrouter.ai/api/v1"
)

// NewOpenRouter creates a new OpenRouter instance with the specified API key. An empty baseURL
// means the public OpenRouter endpoint.
func NewOpenRouter(
	apiKey, baseURL string,
	ms Models,
	prompts Prompts,
	params LLMParameters,
	logger *slog.Logger,
) OpenRouter {
	if baseURL == "" {
		baseURL = openRouterAPIEndpoint
	}
	return OpenRouter{
		apiKey:  apiKey,
		baseURL: baseURL,
		models:  ms,
		prompts: prompts,
		params:  params,
		client:  &http.Client{},
		logger:  logger.With(slog.String("module", "openrouter")),
	}
}

// Send streams responses from the OpenRouter API for a given sequence of messages. Reasoning deltas
// are wrapped in think sentinels. The context can be used to cancel ongoing requests.
func (o OpenRouter) Send(
	ctx context.Context,
	history []models.Message,
	prompt models.Prompt,
) iter.Seq2[models.Fragment, error] {
	return func(yield func(models.Fragment, error) bool) {
		resp, err := o.doRequest(ctx, history, prompt)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield(models.Fragment{}, fmt.Errorf("error sending request: %w", err))
			return
		}
		defer resp.Body.Close()

		var (
			tagger    thinkTagger
			citations models.GroundingMetadata
		)
		for ev, err := range sse.Read(resp.Body, nil) {
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				yield(models.Fragment{}, fmt.Errorf("error reading response: %w", err))
				return
			}

			o.logger.Debug("Received event", slog.String("event", ev.Data))

			if ev.Data == "" {
				continue
			}
			if ev.Data == "[DONE]" {
				break
			}

			var res openRouterStreamingResponse
			if err := json.Unmarshal([]byte(ev.Data), &res); err != nil {
				yield(models.Fragment{}, fmt.Errorf("error unmarshaling response: %w", err))
				return
			}
			if res.Error != nil {
				yield(models.Fragment{}, fmt.Errorf("openrouter error %v: %s", res.Error.Code, res.Error.Message))
				return
			}

			if len(res.Choices) == 0 {
				continue
			}
			delta := res.Choices[0].Delta

			if text := tagger.reasoning(delta.Reasoning); text != "" {
				if !yield(models.TextFragment(text), nil) {
					return
				}
			}
			if text := tagger.answer(delta.Content); text != "" {
				if !yield(models.TextFragment(text), nil) {
					return
				}
			}

			if added := addURLCitations(&citations, delta.Annotations); added {
				// Every citation fragment carries all the sources seen so far.
				snapshot := models.GroundingMetadata{Chunks: slices.Clone(citations.Chunks)}
				if !yield(models.CitationsFragment(&snapshot), nil) {
					return
				}
			}
		}

		if closing := tagger.close(); closing != "" {
			yield(models.TextFragment(closing), nil)
		}
	}
}

func addURLCitations(g *models.GroundingMetadata, annotations []openRouterAnnotation) bool {
	added := false
	for _, a := range annotations {
		if a.Type != "url_citation" || a.URLCitation.URL == "" {
			continue
		}
		dup := slices.ContainsFunc(g.Chunks, func(c models.GroundingChunk) bool {
			return c.Web != nil && c.Web.URI == a.URLCitation.URL
		})
		if dup {
			continue
		}
		g.Chunks = append(g.Chunks, models.GroundingChunk{
			Web: &models.WebSource{URI: a.URLCitation.URL, Title: a.URLCitation.Title},
		})
		added = true
	}
	return added
}

func openRouterMessages(history []models.Message, prompt models.Prompt) []openRouterMessage {
	msgs := make([]openRouterMessage, 0, len(history)+1)
	for _, msg := range history {
		text := msg.HistoryText()
		if text == "" {
			continue
		}
		role := "user"
		if msg.Role == models.RoleModel {
			role = "assistant"
		}
		msgs = append(msgs, openRouterMessage{Role: role, Content: text})
	}

	if prompt.Image == "" {
		return append(msgs, openRouterMessage{Role: "user", Content: prompt.Text})
	}

	parts := []openRouterContentPart{
		{Type: "image_url", ImageURL: &openRouterImageURL{URL: prompt.Image}},
	}
	if prompt.Text != "" {
		parts = append(parts, openRouterContentPart{Type: "text", Text: prompt.Text})
	}
	return append(msgs, openRouterMessage{Role: "user", Content: parts})
}

func (o OpenRouter) doRequest(
	ctx context.Context,
	history []models.Message,
	prompt models.Prompt,
) (*http.Response, error) {
	msgs := openRouterMessages(history, prompt)
	msgs = slices.Insert(msgs, 0, openRouterMessage{
		Role:    "system",
		Content: o.prompts.system(prompt.Options),
	})

	reqBody := openRouterChatRequest{
		Model:       o.models.pick(prompt.Quality),
		Messages:    msgs,
		Stream:      true,
		Temperature: o.params.Temperature,
		TopP:        o.params.TopP,
		Stop:        o.params.Stop,
		Seed:        o.params.Seed,
		MaxTokens:   o.params.MaxTokens,
	}
	if prompt.Search {
		reqBody.Plugins = []openRouterPlugin{{ID: "web"}}
	}
	if prompt.Quality == models.QualitySmart {
		reqBody.Reasoning = &openRouterReasoning{Effort: "high"}
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	o.logger.Debug("Request Body", slog.Int("bytes", len(jsonBody)), slog.String("model", reqBody.Model))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		o.baseURL+"/chat/completions", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)
	req.Header.Set("HTTP-Referer", "https://github.com/MegaGrindStone/oceep-web-ui/")
	req.Header.Set("X-Title", "Oceep")

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(body))
	}

	return resp, nil
}
