package llm

import (
	"github.com/comigor/chatcore/internal/config"
	"github.com/comigor/chatcore/internal/message"
	"github.com/sashabaranov/go-openai"
)

// NewClient creates a new OpenAI client
func NewClient(cfg config.LLMConfig) *openai.Client {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	return openai.NewClientWithConfig(config)
}

// ModelOptions converts the configured model list.
func ModelOptions(cfg config.LLMConfig) []message.ModelOption {
	out := make([]message.ModelOption, 0, len(cfg.Models))
	for _, m := range cfg.Models {
		label := m.Label
		if label == "" {
			label = m.Value
		}
		out = append(out, message.ModelOption{Label: label, Value: m.Value})
	}
	return out
}
