package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"slices"

	"github.com/MegaGrindStone/oceep-web-ui/internal/models"
	"github.com/ollama/ollama/api"
)

// Ollama provides an implementation of the Provider interface for interacting with Ollama's
// language models. It manages connections to an Ollama server instance and handles streaming chat
// completions.
type Ollama struct {
	host    string
	models  Models
	prompts Prompts

	params LLMParameters

	client *api.Client

	logger *slog.Logger
}

// NewOllama creates a new Ollama instance with the specified host URL. The host parameter should be
// a valid URL pointing to an Ollama server.
func NewOllama(host string, ms Models, prompts Prompts, params LLMParameters, logger *slog.Logger) (Ollama, error) {
	u, err := url.Parse(host)
	if err != nil {
		return Ollama{}, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}

	return Ollama{
		host:    host,
		models:  ms,
		prompts: prompts,
		params:  params,
		client:  api.NewClient(u, &http.Client{}),
		logger:  logger.With(slog.String("module", "ollama")),
	}, nil
}

func ollamaMessages(history []models.Message, prompt models.Prompt) ([]api.Message, error) {
	msgs := make([]api.Message, 0, len(history)+1)
	for _, msg := range history {
		text := msg.HistoryText()
		if text == "" {
			continue
		}
		role := "user"
		if msg.Role == models.RoleModel {
			role = "assistant"
		}
		msgs = append(msgs, api.Message{Role: role, Content: text})
	}

	um := api.Message{Role: "user", Content: prompt.Text}
	if prompt.Image != "" {
		_, data, err := models.ParseDataURL(prompt.Image)
		if err != nil {
			return nil, fmt.Errorf("error decoding image: %w", err)
		}
		um.Images = []api.ImageData{data}
	}
	return append(msgs, um), nil
}

func (o Ollama) options() map[string]any {
	opts := map[string]any{}
	if o.params.Temperature != nil {
		opts["temperature"] = *o.params.Temperature
	}
	if o.params.TopP != nil {
		opts["top_p"] = *o.params.TopP
	}
	if o.params.Stop != nil {
		opts["stop"] = o.params.Stop
	}
	if o.params.PresencePenalty != nil {
		opts["presence_penalty"] = *o.params.PresencePenalty
	}
	if o.params.FrequencyPenalty != nil {
		opts["frequency_penalty"] = *o.params.FrequencyPenalty
	}
	if o.params.Seed != nil {
		opts["seed"] = *o.params.Seed
	}
	if o.params.MaxTokens != nil {
		opts["num_predict"] = *o.params.MaxTokens
	}
	return opts
}

// Send implements the Provider interface by streaming responses from the Ollama model. The response
// is streamed incrementally, allowing for real-time processing of model outputs.
func (o Ollama) Send(
	ctx context.Context,
	history []models.Message,
	prompt models.Prompt,
) iter.Seq2[models.Fragment, error] {
	return func(yield func(models.Fragment, error) bool) {
		msgs, err := ollamaMessages(history, prompt)
		if err != nil {
			yield(models.Fragment{}, err)
			return
		}
		msgs = slices.Insert(msgs, 0, api.Message{
			Role:    "system",
			Content: o.prompts.system(prompt.Options),
		})

		t := true
		req := api.ChatRequest{
			Model:    o.models.pick(prompt.Quality),
			Messages: msgs,
			Stream:   &t,
			Options:  o.options(),
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stopped := false
		if err := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
			if stopped || res.Message.Content == "" {
				return nil
			}
			if !yield(models.TextFragment(res.Message.Content), nil) {
				stopped = true
				cancel()
			}
			return nil
		}); err != nil {
			if stopped || errors.Is(err, context.Canceled) {
				return
			}
			yield(models.Fragment{}, fmt.Errorf("error sending request: %w", err))
		}
	}
}
