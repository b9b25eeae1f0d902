package llmfactory

import (
	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/mcpagent/pkg/llms/anthropic"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpagent", "llmfactory")

// ErrUnsupportedProvider is returned for a provider type without an implementation.
var ErrUnsupportedProvider = errors.New("unsupported provider type")

// NewLLM is a wrapper for CreateLLM to allow for overriding the default implementation.
var NewLLM = CreateLLM

// CreateLLM creates the model client for the configured provider.
func CreateLLM(cfg *ProviderConfig) (llms.Model, error) {
	provType := cfg.ProviderType()
	switch provType {
	case llms.ProviderAnthropic:
		return newAnthropic(cfg)
	}
	return nil, errors.WithMessagef(ErrUnsupportedProvider, "%s", provType)
}

func newAnthropic(cfg *ProviderConfig) (llms.Model, error) {
	model := values.StringsCoalesce(cfg.Model, DefaultModel)
	opts := []anthropic.Option{
		anthropic.WithModel(model),
		anthropic.WithMaxTokens(values.NumbersCoalesce(cfg.MaxTokens, DefaultMaxTokens)),
	}
	if cfg.Token != "" {
		opts = append(opts, anthropic.WithToken(cfg.Token))
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropic.WithBaseURL(cfg.BaseURL))
	}
	if cfg.SystemPrompt != "" {
		opts = append(opts, anthropic.WithSystemPrompt(cfg.SystemPrompt))
	}

	llm, err := anthropic.New(opts...)
	if err != nil {
		return nil, err
	}
	logger.KV(xlog.DEBUG, "status", "created", "provider", llms.ProviderAnthropic, "model", model)
	return llm, nil
}
