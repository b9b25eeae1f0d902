package conversation

import (
	"time"

	"github.com/effective-security/mcpagent/pkg/llms"
)

// DefaultMaxTurns is the default limit of model calls per query
const DefaultMaxTurns = 25

// Option is a function that can be used to modify the behavior of the Engine Config.
type Option func(*Config)

// Config of the Engine
type Config struct {
	// Timeout bounds the whole turn loop of a query, 0 means no deadline
	Timeout time.Duration
	// MaxTurns is the maximum number of model calls per query
	MaxTurns int
	// SystemPrompt overrides the system instruction of the model
	SystemPrompt string
	// CallbackHandler receives the events of the turn loop
	CallbackHandler Callback
	// CallOptions are passed to every model call
	CallOptions []llms.CallOption
}

// NewConfig returns the Config with the options applied
func NewConfig(opts ...Option) *Config {
	cfg := &Config{
		MaxTurns: DefaultMaxTurns,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithTimeout sets the per query deadline
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

// WithMaxTurns sets the maximum number of model calls per query,
// values below 1 keep the default.
func WithMaxTurns(maxTurns int) Option {
	return func(c *Config) {
		if maxTurns > 0 {
			c.MaxTurns = maxTurns
		}
	}
}

// WithSystemPrompt sets the system instruction
func WithSystemPrompt(prompt string) Option {
	return func(c *Config) {
		c.SystemPrompt = prompt
	}
}

// WithCallback sets the callback handler
func WithCallback(callback Callback) Option {
	return func(c *Config) {
		c.CallbackHandler = callback
	}
}

// WithCallOptions adds model call options
func WithCallOptions(opts ...llms.CallOption) Option {
	return func(c *Config) {
		c.CallOptions = append(c.CallOptions, opts...)
	}
}
