package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"slices"

	"github.com/MegaGrindStone/oceep-web-ui/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAI provides an implementation of the Provider and ImageGenerator interfaces for OpenAI's
// models.
type OpenAI struct {
	models     Models
	imageModel string
	prompts    Prompts

	params LLMParameters

	client *goopenai.Client

	logger *slog.Logger
}

// NewOpenAI creates a new OpenAI instance with the specified API key. An empty baseURL means the
// public OpenAI endpoint.
func NewOpenAI(
	apiKey, baseURL string,
	ms Models,
	imageModel string,
	prompts Prompts,
	params LLMParameters,
	logger *slog.Logger,
) OpenAI {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return OpenAI{
		models:     ms,
		imageModel: imageModel,
		prompts:    prompts,
		params:     params,
		client:     goopenai.NewClientWithConfig(cfg),
		logger:     logger.With(slog.String("module", "openai")),
	}
}

func openAIRole(r models.Role) string {
	if r == models.RoleModel {
		return goopenai.ChatMessageRoleAssistant
	}
	return goopenai.ChatMessageRoleUser
}

func openAIMessages(history []models.Message, prompt models.Prompt) []goopenai.ChatCompletionMessage {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(history)+1)
	for _, msg := range history {
		text := msg.HistoryText()
		if text == "" {
			continue
		}
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    openAIRole(msg.Role),
			Content: text,
		})
	}

	if prompt.Image == "" {
		return append(msgs, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleUser,
			Content: prompt.Text,
		})
	}

	parts := []goopenai.ChatMessagePart{
		{
			Type:     goopenai.ChatMessagePartTypeImageURL,
			ImageURL: &goopenai.ChatMessageImageURL{URL: prompt.Image},
		},
	}
	if prompt.Text != "" {
		parts = append(parts, goopenai.ChatMessagePart{
			Type: goopenai.ChatMessagePartTypeText,
			Text: prompt.Text,
		})
	}
	return append(msgs, goopenai.ChatCompletionMessage{
		Role:         goopenai.ChatMessageRoleUser,
		MultiContent: parts,
	})
}

// Send is a wrapper around the OpenAI chat completion streaming API.
func (o OpenAI) Send(
	ctx context.Context,
	history []models.Message,
	prompt models.Prompt,
) iter.Seq2[models.Fragment, error] {
	return func(yield func(models.Fragment, error) bool) {
		msgs := openAIMessages(history, prompt)
		msgs = slices.Insert(msgs, 0, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: o.prompts.system(prompt.Options),
		})
		if prompt.Search {
			o.logger.Debug("Search grounding is not supported, answering without it")
		}

		req := o.chatRequest(o.models.pick(prompt.Quality), msgs)

		reqJSON, err := json.Marshal(req)
		if err == nil {
			o.logger.Debug("Request", slog.String("req", string(reqJSON)))
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream, err := o.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield(models.Fragment{}, fmt.Errorf("error sending request: %w", err))
			return
		}
		defer stream.Close()

		for {
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				if errors.Is(err, context.Canceled) {
					return
				}
				yield(models.Fragment{}, fmt.Errorf("error receiving response: %w", err))
				return
			}

			if len(response.Choices) == 0 {
				continue
			}

			if res := response.Choices[0].Delta; res.Content != "" {
				if !yield(models.TextFragment(res.Content), nil) {
					return
				}
			}
		}
	}
}

// Generate is a wrapper around the OpenAI image generation API.
func (o OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	if o.imageModel == "" {
		return "", errors.New("image model is not configured")
	}

	resp, err := o.client.CreateImage(ctx, goopenai.ImageRequest{
		Prompt:         prompt,
		Model:          o.imageModel,
		N:              1,
		Size:           goopenai.CreateImageSize1024x1024,
		ResponseFormat: goopenai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return "", errors.New("no image generated")
	}

	return "data:image/png;base64," + resp.Data[0].B64JSON, nil
}

func (o OpenAI) chatRequest(model string, messages []goopenai.ChatCompletionMessage) goopenai.ChatCompletionRequest {
	req := goopenai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
		Stream:   true,
	}

	if o.params.Temperature != nil {
		req.Temperature = *o.params.Temperature
	}
	if o.params.TopP != nil {
		req.TopP = *o.params.TopP
	}
	if o.params.Stop != nil {
		req.Stop = o.params.Stop
	}
	if o.params.PresencePenalty != nil {
		req.PresencePenalty = *o.params.PresencePenalty
	}
	if o.params.Seed != nil {
		req.Seed = o.params.Seed
	}
	if o.params.FrequencyPenalty != nil {
		req.FrequencyPenalty = *o.params.FrequencyPenalty
	}
	if o.params.MaxTokens != nil {
		req.MaxTokens = *o.params.MaxTokens
	}

	return req
}
