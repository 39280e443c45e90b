package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/MegaGrindStone/oceep-web-ui/internal/conversation"
	"github.com/MegaGrindStone/oceep-web-ui/internal/services"
	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the configuration shared by the web server and the terminal client.
type Config struct {
	Port     string `yaml:"port"`
	LogLevel string `yaml:"logLevel"`

	SystemPrompt string `yaml:"systemPrompt"`
	TutorPrompt  string `yaml:"tutorPrompt"`
	SearchPrompt string `yaml:"searchPrompt"`

	LLM   LLM         `yaml:"llm"`
	Store StoreConfig `yaml:"store"`

	dir string
}

// LLM builds the services of the configured provider.
type LLM interface {
	provider(ctx context.Context, prompts services.Prompts, logger *slog.Logger) (conversation.Provider, error)
	imageGenerator(ctx context.Context, prompts services.Prompts, logger *slog.Logger) (conversation.ImageGenerator, error)
	base() *BaseLLMConfig
	apiKeyEnv() string
	hasAPIKey() bool
	setAPIKey(key string)
}

// StoreConfig selects where the chat list is saved.
type StoreConfig struct {
	// Type is either "bolt" (the default) or "redis".
	Type string `yaml:"type"`

	Path string `yaml:"path"`

	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// Store is a conversation.Store holding resources that must be released.
type Store interface {
	conversation.Store
	io.Closer
}

// overrides are read from OCEEP_* environment variables and win over the file.
type overrides struct {
	Port          string `env:"PORT"`
	LogLevel      string `env:"LOG_LEVEL"`
	APIKey        string `env:"API_KEY"`
	Model         string `env:"MODEL"`
	SmartModel    string `env:"SMART_MODEL"`
	StoreType     string `env:"STORE_TYPE"`
	StorePath     string `env:"STORE_PATH"`
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
}

const (
	defaultPort = "8080"

	configFileName = "config.yaml"
	envFileName    = ".env"
	storeFileName  = "store.db"

	envPrefix = "OCEEP_"
)

// ErrImageUnsupported is returned by ImageGenerator when the configured provider can't generate
// images.
var ErrImageUnsupported = errors.New("image generation is not supported by the configured provider")

// Dir returns the directory holding the configuration, the .env file and the default store.
func Dir() (string, error) {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("error getting user config dir: %w", err)
	}
	return filepath.Join(cfgDir, "oceep"), nil
}

// Load reads the configuration in dir. The .env file next to config.yaml is loaded first, without
// overriding variables that are already set, then OCEEP_* variables override the file values.
func Load(dir string) (Config, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return Config{}, fmt.Errorf("error creating config directory: %w", err)
	}

	if err := godotenv.Load(filepath.Join(dir, envFileName)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("error loading env file: %w", err)
	}

	cfgFile, err := os.Open(filepath.Join(dir, configFileName))
	if err != nil {
		return Config{}, fmt.Errorf("error opening config file: %w", err)
	}
	defer cfgFile.Close()

	cfg, err := Decode(cfgFile)
	if err != nil {
		return Config{}, err
	}
	cfg.dir = dir

	return cfg, nil
}

// Decode parses a yaml configuration from r and applies the environment overrides.
func Decode(r io.Reader) (Config, error) {
	cfg := Config{}
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("error decoding config file: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}

	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	return cfg, nil
}

// UnmarshalYAML decodes the configuration, choosing the LLM implementation from llm.provider.
func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port         string         `yaml:"port"`
		LogLevel     string         `yaml:"logLevel"`
		SystemPrompt string         `yaml:"systemPrompt"`
		TutorPrompt  string         `yaml:"tutorPrompt"`
		SearchPrompt string         `yaml:"searchPrompt"`
		LLM          map[string]any `yaml:"llm"`
		Store        StoreConfig    `yaml:"store"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	c.LogLevel = rawConfig.LogLevel
	c.SystemPrompt = rawConfig.SystemPrompt
	c.TutorPrompt = rawConfig.TutorPrompt
	c.SearchPrompt = rawConfig.SearchPrompt
	c.Store = rawConfig.Store

	llmProvider, ok := rawConfig.LLM["provider"].(string)
	if !ok {
		return fmt.Errorf("llm provider is required")
	}

	llmRawYAML, err := yaml.Marshal(rawConfig.LLM)
	if err != nil {
		return err
	}

	var llm LLM
	switch llmProvider {
	case "gemini":
		llm = &geminiConfig{}
	case "openai":
		llm = &openAIConfig{}
	case "ollama":
		llm = &ollamaConfig{}
	case "anthropic":
		llm = &anthropicConfig{}
	case "openrouter":
		llm = &openRouterConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
		return err
	}

	c.LLM = llm

	return nil
}

func (c *Config) applyEnv() error {
	var o overrides
	if err := env.ParseWithOptions(&o, env.Options{Prefix: envPrefix}); err != nil {
		return fmt.Errorf("error parsing environment: %w", err)
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Port, o.Port)
	set(&c.LogLevel, o.LogLevel)
	set(&c.Store.Type, o.StoreType)
	set(&c.Store.Path, o.StorePath)
	set(&c.Store.Addr, o.RedisAddr)
	set(&c.Store.Password, o.RedisPassword)

	if c.LLM == nil {
		return nil
	}
	b := c.LLM.base()
	set(&b.Model, o.Model)
	set(&b.SmartModel, o.SmartModel)

	switch {
	case o.APIKey != "":
		c.LLM.setAPIKey(o.APIKey)
	case !c.LLM.hasAPIKey():
		if key := os.Getenv(c.LLM.apiKeyEnv()); key != "" {
			c.LLM.setAPIKey(key)
		}
	}
	return nil
}

// Prompts returns the configured system prompts, falling back to the defaults for the empty ones.
func (c Config) Prompts() services.Prompts {
	p := services.DefaultPrompts()
	if c.SystemPrompt != "" {
		p.System = c.SystemPrompt
	}
	if c.TutorPrompt != "" {
		p.Tutor = c.TutorPrompt
	}
	if c.SearchPrompt != "" {
		p.Search = c.SearchPrompt
	}
	return p
}

// Provider returns the configured chat provider.
func (c Config) Provider(ctx context.Context, logger *slog.Logger) (conversation.Provider, error) {
	if c.LLM == nil {
		return nil, fmt.Errorf("llm is not configured")
	}
	return c.LLM.provider(ctx, c.Prompts(), logger)
}

// ImageGenerator returns the image generator of the configured provider, or ErrImageUnsupported.
func (c Config) ImageGenerator(ctx context.Context, logger *slog.Logger) (conversation.ImageGenerator, error) {
	if c.LLM == nil {
		return nil, fmt.Errorf("llm is not configured")
	}
	return c.LLM.imageGenerator(ctx, c.Prompts(), logger)
}

// OpenStore opens the configured store. The bolt database defaults to store.db in the
// configuration directory.
func (c Config) OpenStore() (Store, error) {
	switch strings.ToLower(c.Store.Type) {
	case "", "bolt":
		path := c.Store.Path
		if path == "" {
			path = filepath.Join(c.dir, storeFileName)
		}
		db, err := services.NewBoltDB(path)
		if err != nil {
			return nil, err
		}
		return db, nil
	case "redis":
		if c.Store.Addr == "" {
			return nil, fmt.Errorf("redis addr is required")
		}
		return services.NewRedis(c.Store.Addr, c.Store.Password, c.Store.DB, c.Store.Prefix), nil
	default:
		return nil, fmt.Errorf("unknown store type: %s", c.Store.Type)
	}
}

// Level returns the configured log level. An empty or unknown level is slog.LevelInfo.
func (c Config) Level() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Logger returns a text logger writing to w at the configured level.
func (c Config) Logger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: c.Level()}))
}
