package config

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MegaGrindStone/oceep-web-ui/internal/conversation"
	"github.com/MegaGrindStone/oceep-web-ui/internal/services"
)

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider string `yaml:"provider"`

	// Model answers fast requests, SmartModel smart ones. SmartModel defaults to Model.
	Model      string `yaml:"model"`
	SmartModel string `yaml:"smartModel"`

	BaseURL    string                 `yaml:"baseURL"`
	Parameters services.LLMParameters `yaml:"parameters"`
}

type geminiConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	ImageModel    string `yaml:"imageModel"`
}

type openAIConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	ImageModel    string `yaml:"imageModel"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

type anthropicConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	MaxTokens     int    `yaml:"maxTokens"`
}

type openRouterConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
}

func (b *BaseLLMConfig) base() *BaseLLMConfig {
	return b
}

func (b BaseLLMConfig) models() (services.Models, error) {
	if b.Model == "" {
		return services.Models{}, fmt.Errorf("model is required")
	}
	return services.Models{Fast: b.Model, Smart: b.SmartModel}, nil
}

func (g *geminiConfig) apiKeyEnv() string    { return "GEMINI_API_KEY" }
func (g *geminiConfig) hasAPIKey() bool      { return g.APIKey != "" }
func (g *geminiConfig) setAPIKey(key string) { g.APIKey = key }

func (g *geminiConfig) newGemini(ctx context.Context, prompts services.Prompts, logger *slog.Logger) (services.Gemini, error) {
	ms, err := g.models()
	if err != nil {
		return services.Gemini{}, err
	}
	if g.APIKey == "" {
		return services.Gemini{}, fmt.Errorf("apiKey is required")
	}
	return services.NewGemini(ctx, g.APIKey, g.BaseURL, ms, g.ImageModel, prompts, logger)
}

func (g *geminiConfig) provider(
	ctx context.Context,
	prompts services.Prompts,
	logger *slog.Logger,
) (conversation.Provider, error) {
	return g.newGemini(ctx, prompts, logger)
}

func (g *geminiConfig) imageGenerator(
	ctx context.Context,
	prompts services.Prompts,
	logger *slog.Logger,
) (conversation.ImageGenerator, error) {
	if g.ImageModel == "" {
		return nil, ErrImageUnsupported
	}
	return g.newGemini(ctx, prompts, logger)
}

func (o *openAIConfig) apiKeyEnv() string    { return "OPENAI_API_KEY" }
func (o *openAIConfig) hasAPIKey() bool      { return o.APIKey != "" }
func (o *openAIConfig) setAPIKey(key string) { o.APIKey = key }

func (o *openAIConfig) newOpenAI(prompts services.Prompts, logger *slog.Logger) (services.OpenAI, error) {
	ms, err := o.models()
	if err != nil {
		return services.OpenAI{}, err
	}
	if o.APIKey == "" {
		return services.OpenAI{}, fmt.Errorf("apiKey is required")
	}
	return services.NewOpenAI(o.APIKey, o.BaseURL, ms, o.ImageModel, prompts, o.Parameters, logger), nil
}

func (o *openAIConfig) provider(
	_ context.Context,
	prompts services.Prompts,
	logger *slog.Logger,
) (conversation.Provider, error) {
	return o.newOpenAI(prompts, logger)
}

func (o *openAIConfig) imageGenerator(
	_ context.Context,
	prompts services.Prompts,
	logger *slog.Logger,
) (conversation.ImageGenerator, error) {
	if o.ImageModel == "" {
		return nil, ErrImageUnsupported
	}
	return o.newOpenAI(prompts, logger)
}

// Ollama needs no key; its host takes the place of one and falls back to OLLAMA_HOST, the
// variable the ollama CLI reads.
func (o *ollamaConfig) apiKeyEnv() string     { return "OLLAMA_HOST" }
func (o *ollamaConfig) hasAPIKey() bool       { return o.Host != "" }
func (o *ollamaConfig) setAPIKey(host string) { o.Host = host }

func (o *ollamaConfig) provider(
	_ context.Context,
	prompts services.Prompts,
	logger *slog.Logger,
) (conversation.Provider, error) {
	ms, err := o.models()
	if err != nil {
		return nil, err
	}
	host := o.Host
	if host == "" {
		host = "http://127.0.0.1:11434"
	}
	return services.NewOllama(host, ms, prompts, o.Parameters, logger)
}

func (o *ollamaConfig) imageGenerator(
	context.Context,
	services.Prompts,
	*slog.Logger,
) (conversation.ImageGenerator, error) {
	return nil, ErrImageUnsupported
}

func (a *anthropicConfig) apiKeyEnv() string    { return "ANTHROPIC_API_KEY" }
func (a *anthropicConfig) hasAPIKey() bool      { return a.APIKey != "" }
func (a *anthropicConfig) setAPIKey(key string) { a.APIKey = key }

func (a *anthropicConfig) provider(
	_ context.Context,
	prompts services.Prompts,
	logger *slog.Logger,
) (conversation.Provider, error) {
	ms, err := a.models()
	if err != nil {
		return nil, err
	}
	if a.MaxTokens == 0 {
		return nil, fmt.Errorf("maxTokens is required")
	}
	if a.APIKey == "" {
		return nil, fmt.Errorf("apiKey is required")
	}
	return services.NewAnthropic(a.APIKey, a.BaseURL, ms, prompts, a.MaxTokens, logger), nil
}

func (a *anthropicConfig) imageGenerator(
	context.Context,
	services.Prompts,
	*slog.Logger,
) (conversation.ImageGenerator, error) {
	return nil, ErrImageUnsupported
}

func (o *openRouterConfig) apiKeyEnv() string    { return "OPENROUTER_API_KEY" }
func (o *openRouterConfig) hasAPIKey() bool      { return o.APIKey != "" }
func (o *openRouterConfig) setAPIKey(key string) { o.APIKey = key }

func (o *openRouterConfig) provider(
	_ context.Context,
	prompts services.Prompts,
	logger *slog.Logger,
) (conversation.Provider, error) {
	ms, err := o.models()
	if err != nil {
		return nil, err
	}
	if o.APIKey == "" {
		return nil, fmt.Errorf("apiKey is required")
	}
	return services.NewOpenRouter(o.APIKey, o.BaseURL, ms, prompts, o.Parameters, logger), nil
}

func (o *openRouterConfig) imageGenerator(
	context.Context,
	services.Prompts,
	*slog.Logger,
) (conversation.ImageGenerator, error) {
	return nil, ErrImageUnsupported
}
