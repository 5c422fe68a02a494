package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Ollama  OllamaConfig
	LLM     LLMConfig
	Search  SearchConfig
	Lights  LightsConfig
	Turn    TurnConfig
	Master  MasterConfig
	Log     LogConfig
	Client  ClientConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type StorageConfig struct {
	DataDir string
}

type OllamaConfig struct {
	BaseURL    string
	EmbedModel string
}

type LLMConfig struct {
	Provider         string // "openrouter" or "gemini"
	Model            string
	OpenRouterAPIKey string
	GeminiAPIKey     string
}

type SearchConfig struct {
	BaseURL string
}

type LightsConfig struct {
	BridgeURL string
	Token     string
}

// TurnConfig bounds every phase of a conversational turn.
type TurnConfig struct {
	HistoryLimit     int
	LoadTimeout      time.Duration
	MemoryTimeout    time.Duration
	GenerationBudget time.Duration
	FactWriteTimeout time.Duration
	ToolTimeout      time.Duration
	// FeedbackOffsets is a comma-separated list of durations at which
	// "still working" status events fire while no output has streamed.
	FeedbackOffsets string
}

type MasterConfig struct {
	ConfigFile string
}

type LogConfig struct {
	Level string
}

// ClientConfig is used by the CLI subcommands that talk to a running server.
type ClientConfig struct {
	Token string
}

const (
	ProviderOpenRouter = "openrouter"
	ProviderGemini     = "gemini"
)

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 4100,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "nomic-embed-text",
		},
		LLM: LLMConfig{
			Provider: ProviderOpenRouter,
			Model:    "anthropic/claude-sonnet-4",
		},
		Search: SearchConfig{
			BaseURL: "https://html.duckduckgo.com/html/",
		},
		Turn: TurnConfig{
			HistoryLimit:     20,
			LoadTimeout:      3 * time.Second,
			MemoryTimeout:    2 * time.Second,
			GenerationBudget: 90 * time.Second,
			FactWriteTimeout: 2 * time.Second,
			ToolTimeout:      20 * time.Second,
			FeedbackOffsets:  "3s,8s,15s",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/mira/config.json, then applies MIRA_* environment
// overrides. Secrets are read from the environment only.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func validate(cfg Config) error {
	switch cfg.LLM.Provider {
	case ProviderOpenRouter:
		if cfg.LLM.OpenRouterAPIKey == "" {
			return fmt.Errorf("missing required config: OpenRouter API key. Set it via environment variable %s", envName("llm.openrouter_api_key"))
		}
	case ProviderGemini:
		if cfg.LLM.GeminiAPIKey == "" {
			return fmt.Errorf("missing required config: Gemini API key. Set it via environment variable %s", envName("llm.gemini_api_key"))
		}
	default:
		return fmt.Errorf("invalid llm.provider %q: want %q or %q", cfg.LLM.Provider, ProviderOpenRouter, ProviderGemini)
	}

	if cfg.Turn.HistoryLimit <= 0 {
		return fmt.Errorf("turn.history_limit must be positive, got %d", cfg.Turn.HistoryLimit)
	}
	if _, err := ParseOffsets(cfg.Turn.FeedbackOffsets); err != nil {
		return fmt.Errorf("turn.feedback_offsets: %w", err)
	}
	return nil
}

// Addr returns the host:port the HTTP server listens on.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
