package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/MegaGrindStone/mycochat/internal/assistant"
	"github.com/MegaGrindStone/mycochat/internal/handlers"
	"github.com/MegaGrindStone/mycochat/internal/logger"
	"github.com/MegaGrindStone/mycochat/internal/services"
	"gopkg.in/yaml.v3"
)

type llmConfig interface {
	llm(ctx context.Context, logger *slog.Logger) (assistant.LLM, error)
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type config struct {
	Port         string            `yaml:"port"`
	DataDir      string            `yaml:"dataDir"`
	UploadDir    string            `yaml:"uploadDir"`
	SystemPrompt string            `yaml:"systemPrompt"`
	TitlePrompt  string            `yaml:"titlePrompt"`
	Temperature  *float32          `yaml:"temperature"`
	Safety       map[string]string `yaml:"safety"`
	TurnTimeout  time.Duration     `yaml:"turnTimeout"`
	RateLimit    rateLimitConfig   `yaml:"rateLimit"`
	Log          logConfig         `yaml:"log"`
	LLM          llmConfig         `yaml:"llm"`
}

type rateLimitConfig struct {
	RequestsPerMinute int `yaml:"requestsPerMinute"`
	Burst             int `yaml:"burst"`
}

type logConfig struct {
	Debug  bool `yaml:"debug"`
	JSON   bool `yaml:"json"`
	Pretty bool `yaml:"pretty"`
}

type geminiConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
}

type openAIConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	BaseURL       string `yaml:"baseURL"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

type anthropicConfig struct {
	BaseLLMConfig  `yaml:",inline"`
	APIKey         string `yaml:"apiKey"`
	Endpoint       string `yaml:"endpoint"`
	MaxTokens      int    `yaml:"maxTokens"`
	ThinkingBudget int    `yaml:"thinkingBudget"`
}

type openRouterConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	Endpoint      string `yaml:"endpoint"`
}

const (
	defaultPort        = "8080"
	defaultGeminiModel = "gemini-2.0-flash-thinking-exp"
	defaultOllamaHost  = "http://localhost:11434"
)

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port         string            `yaml:"port"`
		DataDir      string            `yaml:"dataDir"`
		UploadDir    string            `yaml:"uploadDir"`
		SystemPrompt string            `yaml:"systemPrompt"`
		TitlePrompt  string            `yaml:"titlePrompt"`
		Temperature  *float32          `yaml:"temperature"`
		Safety       map[string]string `yaml:"safety"`
		TurnTimeout  time.Duration     `yaml:"turnTimeout"`
		RateLimit    rateLimitConfig   `yaml:"rateLimit"`
		Log          logConfig         `yaml:"log"`
		LLM          map[string]any    `yaml:"llm"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	c.DataDir = rawConfig.DataDir
	c.UploadDir = rawConfig.UploadDir
	c.SystemPrompt = rawConfig.SystemPrompt
	c.TitlePrompt = rawConfig.TitlePrompt
	c.Temperature = rawConfig.Temperature
	c.Safety = rawConfig.Safety
	c.TurnTimeout = rawConfig.TurnTimeout
	c.RateLimit = rawConfig.RateLimit
	c.Log = rawConfig.Log

	llmProvider, ok := rawConfig.LLM["provider"].(string)
	if !ok {
		return fmt.Errorf("llm provider is required")
	}

	llmRawYAML, err := yaml.Marshal(rawConfig.LLM)
	if err != nil {
		return err
	}

	var llm llmConfig
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

// defaultConfig is used when no config file exists: Gemini with the key taken from the environment.
func defaultConfig() config {
	return config{
		Port: defaultPort,
		LLM: &geminiConfig{
			BaseLLMConfig: BaseLLMConfig{Provider: "gemini", Model: defaultGeminiModel},
		},
	}
}

// loadConfig reads the YAML config at path. A missing file yields the defaults.
func loadConfig(path string) (config, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}
	defer f.Close()

	cfg := config{}
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return config{}, fmt.Errorf("error decoding config file: %w", err)
	}
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	if err := cfg.validate(); err != nil {
		return config{}, err
	}
	return cfg, nil
}

func (c config) validate() error {
	if t := c.Temperature; t != nil && (math.IsNaN(float64(*t)) || *t < 0 || *t > 1) {
		return fmt.Errorf("temperature must be between 0 and 1, got %v", *c.Temperature)
	}
	if c.Safety != nil {
		if err := services.ValidateSafety(c.Safety); err != nil {
			return fmt.Errorf("invalid safety settings: %w", err)
		}
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("rate limit must not be negative")
	}
	return nil
}

func (c config) dataDir() (string, error) {
	if c.DataDir != "" {
		return c.DataDir, nil
	}
	return defaultConfigDir()
}

func (c config) assistantOptions() assistant.Options {
	return assistant.Options{
		SystemPrompt: c.SystemPrompt,
		TitlePrompt:  c.TitlePrompt,
		Temperature:  c.Temperature,
		Safety:       c.Safety,
	}
}

func (c config) handlerOptions() handlers.Options {
	return handlers.Options{
		UploadDir:         c.UploadDir,
		RequestsPerMinute: c.RateLimit.RequestsPerMinute,
		Burst:             c.RateLimit.Burst,
		TurnTimeout:       c.TurnTimeout,
	}
}

func (c config) logger(debug bool) *slog.Logger {
	return logger.New(
		logger.WithDebug(debug || c.Log.Debug),
		logger.WithJSON(c.Log.JSON),
		logger.WithPretty(c.Log.Pretty),
	)
}

func defaultConfigDir() (string, error) {
	cfgDir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("error getting user config dir: %w", err)
	}
	return filepath.Join(cfgDir, "mycochat"), nil
}

func (g geminiConfig) llm(ctx context.Context, logger *slog.Logger) (assistant.LLM, error) {
	model := g.Model
	if model == "" {
		model = defaultGeminiModel
	}

	apiKey := g.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GEMINI_API_KEY")
	}
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
	}
	return services.NewGemini(ctx, apiKey, model, logger)
}

func (o openAIConfig) llm(_ context.Context, logger *slog.Logger) (assistant.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	return services.NewOpenAI(apiKey, o.BaseURL, o.Model, logger), nil
}

func (o ollamaConfig) llm(_ context.Context, logger *slog.Logger) (assistant.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = defaultOllamaHost
	}
	return services.NewOllama(host, o.Model, logger)
}

func (a anthropicConfig) llm(_ context.Context, logger *slog.Logger) (assistant.LLM, error) {
	if a.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if a.MaxTokens == 0 {
		return nil, fmt.Errorf("max_tokens is required")
	}
	if a.ThinkingBudget >= a.MaxTokens {
		return nil, fmt.Errorf("thinkingBudget must be lower than maxTokens")
	}

	apiKey := a.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return services.NewAnthropic(apiKey, a.Endpoint, a.Model, a.MaxTokens, a.ThinkingBudget, logger), nil
}

func (o openRouterConfig) llm(_ context.Context, logger *slog.Logger) (assistant.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENROUTER_API_KEY")
	}
	return services.NewOpenRouter(apiKey, o.Endpoint, o.Model, logger), nil
}
