package llm

import "github.com/example/nlagent/internal/config"

// New selects a provider from the resolved settings.
// LLM_PROVIDER picks explicitly; otherwise the first configured API key
// wins. No credentials at all yields the Disabled client.
func New(cfg *config.Settings, logs *InteractionLog) Client {
	switch cfg.Provider {
	case "openai":
		if cfg.OpenAIAPIKey != "" {
			return &OpenAIClient{APIKey: cfg.OpenAIAPIKey, Model: cfg.Model, BaseURL: cfg.OpenAIBase, Logs: logs}
		}
	case "gemini":
		if cfg.GoogleAPIKey != "" {
			return &GeminiClient{APIKey: cfg.GoogleAPIKey, Model: geminiModel(cfg.Model), Logs: logs}
		}
	}

	if cfg.OpenAIAPIKey != "" {
		return &OpenAIClient{APIKey: cfg.OpenAIAPIKey, Model: cfg.Model, BaseURL: cfg.OpenAIBase, Logs: logs}
	}
	if cfg.GoogleAPIKey != "" {
		return &GeminiClient{APIKey: cfg.GoogleAPIKey, Model: geminiModel(cfg.Model), Logs: logs}
	}
	return Disabled{}
}

// geminiModel swaps the OpenAI default for a Gemini one when the model was
// never overridden.
func geminiModel(model string) string {
	if model == "" || model == "gpt-4o-mini" {
		return "gemini-1.5-flash"
	}
	return model
}
