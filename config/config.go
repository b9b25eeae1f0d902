// Package config provides the configuration of the mcpagent process.
package config

import (
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/pkg/llmfactory"
	"github.com/effective-security/mcpagent/pkg/schema"
	"github.com/effective-security/x/configloader"
	"github.com/effective-security/x/values"
	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
)

// ScriptPathEnvVarName overrides server.script_path when set
const ScriptPathEnvVarName = "SERVER_SCRIPT_PATH"

// Defaults
const (
	DefaultListen           = "127.0.0.1:8000"
	DefaultMaxTurns         = 25
	DefaultTranscriptFormat = "json"
	DefaultLogLevel         = "INFO"
)

// Startup behaviors when the first connect fails
const (
	// OnConnectFailureRefuse exits the process
	OnConnectFailureRefuse = "refuse"
	// OnConnectFailureDegraded serves requests, queries fail until a connect succeeds
	OnConnectFailureDegraded = "degraded"
)

var (
	// DefaultAllowedOrigins allows any origin
	DefaultAllowedOrigins = []string{"*"}
	// DefaultAllowedMethods allows any CORS method
	DefaultAllowedMethods = []string{"*"}
	// DefaultAllowedHeaders allows any CORS header
	DefaultAllowedHeaders = []string{"*"}
)

// Config of the mcpagent
type Config struct {
	// Server specifies the tool server to launch
	Server ServerConfig `json:"server" yaml:"server"`
	// LLM specifies the model provider
	LLM llmfactory.ProviderConfig `json:"llm" yaml:"llm"`
	// Query specifies the limits of a query
	Query QueryConfig `json:"query" yaml:"query"`
	// HTTP specifies the front end
	HTTP HTTPConfig `json:"http" yaml:"http"`
	// Transcript specifies where finished queries are recorded
	Transcript TranscriptConfig `json:"transcript" yaml:"transcript"`
	// Startup specifies the startup behavior
	Startup StartupConfig `json:"startup" yaml:"startup"`
	// Log specifies the logging
	Log LogConfig `json:"log" yaml:"log"`
}

// ServerConfig specifies the tool server script
type ServerConfig struct {
	// ScriptPath is the path of the server script, .py or .js
	ScriptPath string `json:"script_path" yaml:"script_path" validate:"required"`
	// Python is the interpreter of .py scripts
	Python string `json:"python,omitempty" yaml:"python,omitempty"`
	// Node is the interpreter of .js scripts
	Node string `json:"node,omitempty" yaml:"node,omitempty"`
	// Env is the list of KEY=VALUE added to the server environment
	Env []string `json:"env,omitempty" yaml:"env,omitempty"`
	// Args are passed to the interpreter before the script path
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`
}

// QueryConfig specifies the limits of a query
type QueryConfig struct {
	// Timeout bounds the whole query, for example 2m. Empty or 0 means no deadline.
	Timeout string `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// MaxTurns is the maximum number of model calls per query
	MaxTurns int `json:"max_turns,omitempty" yaml:"max_turns,omitempty" validate:"gte=0"`
}

// TimeoutDuration returns the parsed timeout
func (c *QueryConfig) TimeoutDuration() (time.Duration, error) {
	if c.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid query timeout %q", c.Timeout)
	}
	if d < 0 {
		return 0, errors.Newf("invalid query timeout %q", c.Timeout)
	}
	return d, nil
}

// HTTPConfig specifies the front end
type HTTPConfig struct {
	// Listen is the address to listen on
	Listen string `json:"listen,omitempty" yaml:"listen,omitempty"`
	// AllowedOrigins for CORS, * allows any
	AllowedOrigins []string `json:"allowed_origins,omitempty" yaml:"allowed_origins,omitempty"`
	// AllowedMethods for CORS
	AllowedMethods []string `json:"allowed_methods,omitempty" yaml:"allowed_methods,omitempty"`
	// AllowedHeaders for CORS
	AllowedHeaders []string `json:"allowed_headers,omitempty" yaml:"allowed_headers,omitempty"`
	// AllowCredentials for CORS, true when not set
	AllowCredentials *bool `json:"allow_credentials,omitempty" yaml:"allow_credentials,omitempty"`
}

// Credentials returns true when CORS credentials are allowed
func (c *HTTPConfig) Credentials() bool {
	return c.AllowCredentials == nil || *c.AllowCredentials
}

// TranscriptConfig specifies the transcripts
type TranscriptConfig struct {
	// Dir is the folder of transcript files, empty disables transcripts
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
	// Format is json or yaml
	Format string `json:"format,omitempty" yaml:"format,omitempty" validate:"omitempty,oneof=json yaml"`
}

// StartupConfig specifies the startup behavior
type StartupConfig struct {
	// OnConnectFailure is refuse or degraded
	OnConnectFailure string `json:"on_connect_failure,omitempty" yaml:"on_connect_failure,omitempty" validate:"omitempty,oneof=refuse degraded"`
}

// LogConfig specifies the logging
type LogConfig struct {
	// Level is one of CRITICAL, ERROR, WARNING, NOTICE, INFO, DEBUG, TRACE
	Level string `json:"level,omitempty" yaml:"level,omitempty" validate:"omitempty,oneof=CRITICAL ERROR WARNING NOTICE INFO DEBUG TRACE"`
}

// Load returns the configuration from the YAML or JSON file,
// with environment variables expanded, defaults applied and validated.
func Load(file string) (*Config, error) {
	cfg := new(Config)
	if err := configloader.UnmarshalAndExpand(file, cfg); err != nil {
		return nil, errors.Wrapf(err, "failed to load config %s", file)
	}

	cfg.Server.ScriptPath = values.StringsCoalesce(os.Getenv(ScriptPathEnvVarName), cfg.Server.ScriptPath)
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetDefaults fills the values that are not set
func (c *Config) SetDefaults() {
	c.LLM.Provider = strings.ToUpper(values.StringsCoalesce(c.LLM.Provider, "ANTHROPIC"))
	c.LLM.Model = values.StringsCoalesce(c.LLM.Model, llmfactory.DefaultModel)
	c.LLM.MaxTokens = values.NumbersCoalesce(c.LLM.MaxTokens, llmfactory.DefaultMaxTokens)

	c.Query.MaxTurns = values.NumbersCoalesce(c.Query.MaxTurns, DefaultMaxTurns)

	c.HTTP.Listen = values.StringsCoalesce(c.HTTP.Listen, DefaultListen)
	if len(c.HTTP.AllowedOrigins) == 0 {
		c.HTTP.AllowedOrigins = DefaultAllowedOrigins
	}
	if len(c.HTTP.AllowedMethods) == 0 {
		c.HTTP.AllowedMethods = DefaultAllowedMethods
	}
	if len(c.HTTP.AllowedHeaders) == 0 {
		c.HTTP.AllowedHeaders = DefaultAllowedHeaders
	}

	c.Transcript.Format = strings.ToLower(values.StringsCoalesce(c.Transcript.Format, DefaultTranscriptFormat))
	c.Startup.OnConnectFailure = strings.ToLower(values.StringsCoalesce(c.Startup.OnConnectFailure, OnConnectFailureRefuse))
	c.Log.Level = strings.ToUpper(values.StringsCoalesce(c.Log.Level, DefaultLogLevel))
}

// Validate returns an error if the configuration is not valid
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	if _, err := c.Query.TimeoutDuration(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}
	return nil
}

// JSONSchema returns the schema of the configuration file
func JSONSchema() *jsonschema.Schema {
	return schema.JSONSchema(reflect.TypeOf(Config{}))
}
