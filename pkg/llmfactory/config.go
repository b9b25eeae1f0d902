package llmfactory

import (
	"strings"

	"github.com/effective-security/mcpagent/pkg/llms"
)

// DefaultModel is used when the configuration does not name a model.
const DefaultModel = "claude-3-5-sonnet-latest"

// DefaultMaxTokens is the default limit of generated tokens per call.
const DefaultMaxTokens = 1000

// ProviderConfig specifies the model provider
type ProviderConfig struct {
	// Provider specifies the type of provider: ANTHROPIC
	Provider string `json:"provider,omitempty" yaml:"provider,omitempty" validate:"omitempty,oneof=ANTHROPIC anthropic"`
	// Model specifies the model name
	Model string `json:"model,omitempty" yaml:"model,omitempty"`
	// MaxTokens specifies the max number of tokens to generate per call
	MaxTokens int `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty" validate:"gte=0"`
	// Token is the API key, usually set as ${ANTHROPIC_API_KEY}
	Token string `json:"token,omitempty" yaml:"token,omitempty"`
	// BaseURL overrides the API endpoint
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	// SystemPrompt is sent as the system instruction of every call
	SystemPrompt string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
}

// ProviderType returns the provider type, ANTHROPIC when not specified
func (c *ProviderConfig) ProviderType() llms.ProviderType {
	if c.Provider == "" {
		return llms.ProviderAnthropic
	}
	return llms.ProviderType(strings.ToUpper(c.Provider))
}
