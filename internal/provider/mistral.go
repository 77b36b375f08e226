package provider

import "go.uber.org/zap"

// NewMistralProvider creates a provider for the Mistral "La Plateforme"
// API, which is OpenAI-compatible apart from its endpoint.
func NewMistralProvider(cfg ProviderConfig, logger *zap.Logger) *OpenAIProvider {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.mistral.ai/v1"
	}
	return NewOpenAIProvider(cfg, logger)
}
