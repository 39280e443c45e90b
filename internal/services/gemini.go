package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/MegaGrindStone/oceep-web-ui/internal/models"
	"google.golang.org/genai"
)

// Gemini provides an implementation of the Provider and ImageGenerator interfaces for Google's
// Gemini models. Search requests are grounded with Google Search, and the grounding metadata of
// the response is reported as citations.
type Gemini struct {
	models     Models
	imageModel string
	prompts    Prompts

	client *genai.Client

	logger *slog.Logger
}

// NewGemini creates a new Gemini instance with the specified API key. An empty baseURL means the
// public Gemini API endpoint.
func NewGemini(
	ctx context.Context,
	apiKey, baseURL string,
	ms Models,
	imageModel string,
	prompts Prompts,
	logger *slog.Logger,
) (Gemini, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL != "" {
		cfg.HTTPOptions.BaseURL = baseURL
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return Gemini{}, fmt.Errorf("error creating gemini client: %w", err)
	}

	return Gemini{
		models:     ms,
		imageModel: imageModel,
		prompts:    prompts,
		client:     client,
		logger:     logger.With(slog.String("module", "gemini")),
	}, nil
}

func geminiContents(history []models.Message, prompt models.Prompt) ([]*genai.Content, error) {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, msg := range history {
		text := msg.HistoryText()
		if text == "" {
			continue
		}
		role := genai.Role(genai.RoleUser)
		if msg.Role == models.RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(text, role))
	}

	var parts []*genai.Part
	if prompt.Image != "" {
		mimeType, data, err := models.ParseDataURL(prompt.Image)
		if err != nil {
			return nil, fmt.Errorf("error decoding image: %w", err)
		}
		parts = append(parts, genai.NewPartFromBytes(data, mimeType))
	}
	if prompt.Text != "" {
		parts = append(parts, genai.NewPartFromText(prompt.Text))
	}
	contents = append(contents, genai.NewContentFromParts(parts, genai.RoleUser))

	return contents, nil
}

func geminiGrounding(g *genai.GroundingMetadata) *models.GroundingMetadata {
	res := &models.GroundingMetadata{
		WebSearchQueries: g.WebSearchQueries,
	}
	for _, c := range g.GroundingChunks {
		if c == nil || c.Web == nil {
			continue
		}
		res.Chunks = append(res.Chunks, models.GroundingChunk{
			Web: &models.WebSource{URI: c.Web.URI, Title: c.Web.Title},
		})
	}
	return res
}

// Send streams the answer of the Gemini model selected by the prompt quality. Thoughts, requested
// for the smart quality, are wrapped in think sentinels.
func (g Gemini) Send(
	ctx context.Context,
	history []models.Message,
	prompt models.Prompt,
) iter.Seq2[models.Fragment, error] {
	return func(yield func(models.Fragment, error) bool) {
		contents, err := geminiContents(history, prompt)
		if err != nil {
			yield(models.Fragment{}, err)
			return
		}

		cfg := &genai.GenerateContentConfig{
			SystemInstruction: genai.NewContentFromText(g.prompts.system(prompt.Options), genai.RoleUser),
		}
		if prompt.Search {
			cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
		}
		if prompt.Quality == models.QualitySmart {
			cfg.ThinkingConfig = &genai.ThinkingConfig{IncludeThoughts: true}
		}

		model := g.models.pick(prompt.Quality)
		g.logger.Debug("Request", slog.String("model", model), slog.Int("contents", len(contents)))

		var tagger thinkTagger
		for resp, err := range g.client.Models.GenerateContentStream(ctx, model, contents, cfg) {
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				yield(models.Fragment{}, fmt.Errorf("error receiving response: %w", err))
				return
			}
			if len(resp.Candidates) == 0 {
				continue
			}

			cand := resp.Candidates[0]
			if cand.Content != nil {
				for _, part := range cand.Content.Parts {
					if part == nil || part.Text == "" {
						continue
					}
					var text string
					if part.Thought {
						text = tagger.reasoning(part.Text)
					} else {
						text = tagger.answer(part.Text)
					}
					if !yield(models.TextFragment(text), nil) {
						return
					}
				}
			}
			if cand.GroundingMetadata != nil {
				if !yield(models.CitationsFragment(geminiGrounding(cand.GroundingMetadata)), nil) {
					return
				}
			}
		}

		if closing := tagger.close(); closing != "" {
			yield(models.TextFragment(closing), nil)
		}
	}
}

// Generate creates an image for prompt with the configured Imagen model.
func (g Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	if g.imageModel == "" {
		return "", errors.New("image model is not configured")
	}

	resp, err := g.client.Models.GenerateImages(ctx, g.imageModel, prompt, nil)
	if err != nil {
		return "", fmt.Errorf("error sending request: %w", err)
	}
	if len(resp.GeneratedImages) == 0 || resp.GeneratedImages[0].Image == nil {
		return "", errors.New("no image generated")
	}

	img := resp.GeneratedImages[0].Image
	mimeType := img.MIMEType
	if mimeType == "" {
		mimeType = "image/png"
	}
	return models.DataURL(mimeType, img.ImageBytes), nil
}
