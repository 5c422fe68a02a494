package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "MIRA_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "MIRA_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "storage.data_dir", typ: kString, env: "MIRA_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "ollama.base_url", typ: kString, env: "MIRA_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "ollama.embed_model", typ: kString, env: "MIRA_OLLAMA_EMBED_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.EmbedModel = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.EmbedModel },
	},
	{
		key: "llm.provider", typ: kString, env: "MIRA_LLM_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.LLM.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Provider },
	},
	{
		key: "llm.model", typ: kString, env: "MIRA_LLM_MODEL",
		apply:   func(cfg *Config, v any) { cfg.LLM.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.Model },
	},
	{
		key: "llm.openrouter_api_key", typ: kString, env: "MIRA_OPENROUTER_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.OpenRouterAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.OpenRouterAPIKey },
	},
	{
		key: "llm.gemini_api_key", typ: kString, env: "MIRA_GEMINI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.LLM.GeminiAPIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.LLM.GeminiAPIKey },
	},
	{
		key: "search.base_url", typ: kString, env: "MIRA_SEARCH_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Search.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Search.BaseURL },
	},
	{
		key: "lights.bridge_url", typ: kString, env: "MIRA_LIGHTS_BRIDGE_URL",
		apply:   func(cfg *Config, v any) { cfg.Lights.BridgeURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Lights.BridgeURL },
	},
	{
		key: "lights.token", typ: kString, env: "MIRA_LIGHTS_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Lights.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Lights.Token },
	},
	{
		key: "turn.history_limit", typ: kInt, env: "MIRA_TURN_HISTORY_LIMIT",
		apply:   func(cfg *Config, v any) { cfg.Turn.HistoryLimit = v.(int) },
		extract: func(cfg Config) any { return cfg.Turn.HistoryLimit },
	},
	{
		key: "turn.load_timeout", typ: kDuration, env: "MIRA_TURN_LOAD_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Turn.LoadTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Turn.LoadTimeout },
	},
	{
		key: "turn.memory_timeout", typ: kDuration, env: "MIRA_TURN_MEMORY_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Turn.MemoryTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Turn.MemoryTimeout },
	},
	{
		key: "turn.generation_budget", typ: kDuration, env: "MIRA_TURN_GENERATION_BUDGET",
		apply:   func(cfg *Config, v any) { cfg.Turn.GenerationBudget = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Turn.GenerationBudget },
	},
	{
		key: "turn.fact_write_timeout", typ: kDuration, env: "MIRA_TURN_FACT_WRITE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Turn.FactWriteTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Turn.FactWriteTimeout },
	},
	{
		key: "turn.tool_timeout", typ: kDuration, env: "MIRA_TURN_TOOL_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Turn.ToolTimeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Turn.ToolTimeout },
	},
	{
		key: "turn.feedback_offsets", typ: kString, env: "MIRA_TURN_FEEDBACK_OFFSETS",
		apply:   func(cfg *Config, v any) { cfg.Turn.FeedbackOffsets = v.(string) },
		extract: func(cfg Config) any { return cfg.Turn.FeedbackOffsets },
	},
	{
		key: "master.config_file", typ: kString, env: "MIRA_MASTER_CONFIG_FILE",
		apply:   func(cfg *Config, v any) { cfg.Master.ConfigFile = v.(string) },
		extract: func(cfg Config) any { return cfg.Master.ConfigFile },
	},
	{
		key: "log.level", typ: kString, env: "MIRA_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "client.token", typ: kString, env: "MIRA_TOKEN",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Client.Token = v.(string) },
		extract: func(cfg Config) any { return cfg.Client.Token },
	},
}

func envName(key string) string {
	for _, s := range specs {
		if s.key == key {
			return s.env
		}
	}
	return ""
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kBool:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if bv, err := strconv.ParseBool(v); err == nil {
					s.apply(cfg, bv)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kFloat:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if f, err := strconv.ParseFloat(v, 64); err == nil {
					s.apply(cfg, f)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse float from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				if d, err := time.ParseDuration(v); err == nil {
					s.apply(cfg, d)
				} else {
					fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from config key %s=%q: %v. Using default value.\n", s.key, v, err)
				}
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kBool:
			if b, err := strconv.ParseBool(raw); err == nil {
				s.apply(cfg, b)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse bool from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kFloat:
			if f, err := strconv.ParseFloat(raw, 64); err == nil {
				s.apply(cfg, f)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse float from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
