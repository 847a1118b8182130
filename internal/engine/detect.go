package engine

import (
	"fmt"
	"strings"
)

// DetectConfig holds parameters for backend selection.
type DetectConfig struct {
	Provider string // "mistral", "openai" or "ollama"
	BaseURL  string
	APIKey   string
}

// Detect returns the Engine for the configured provider.
func Detect(cfg DetectConfig) (Engine, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "mistral", "openai":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("provider %q requires an API key", cfg.Provider)
		}
		return NewOpenAIEngine(cfg.APIKey, cfg.BaseURL), nil
	case "ollama":
		return NewOllamaEngine(cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
