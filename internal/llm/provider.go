package llm

import (
	"context"
	"fmt"

	"github.com/kalambet/mira/internal/config"
)

// New builds the provider selected by cfg.LLM.Provider.
func New(ctx context.Context, cfg config.Config) (Provider, error) {
	switch cfg.LLM.Provider {
	case config.ProviderOpenRouter:
		return NewOpenRouter(cfg.LLM.OpenRouterAPIKey, cfg.LLM.Model), nil
	case config.ProviderGemini:
		return NewGemini(ctx, cfg.LLM.GeminiAPIKey, cfg.LLM.Model)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}
