package transport

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/x/values"
	"github.com/effective-security/xlog"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpagent", "transport")

var (
	// ErrUnsupportedScriptType is returned when the server script is neither .py nor .js.
	ErrUnsupportedScriptType = errors.New("server script must be a .py or .js file")
	// ErrTransport is returned when the server process can not be started or stopped.
	ErrTransport = errors.New("transport failure")
)

// Default interpreters
const (
	DefaultPython = "python"
	DefaultNode   = "node"
)

// ScriptKind identifies the interpreter family of a server script.
type ScriptKind string

const (
	ScriptPython ScriptKind = "python"
	ScriptNode   ScriptKind = "node"
)

// ResolveScriptKind returns the script kind by the file suffix.
func ResolveScriptKind(path string) (ScriptKind, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".py":
		return ScriptPython, nil
	case ".js":
		return ScriptNode, nil
	}
	return "", errors.WithMessagef(ErrUnsupportedScriptType, "%q", path)
}

// Channel is the protocol surface of an open stdio stream.
//
//go:generate mockgen -source=transport.go -destination=../mocks/mocktransport/channel_mock.gen.go -package mocktransport
type Channel interface {
	// Initialize performs the session handshake.
	Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	// ListTools returns one page of the tools offered by the server.
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	// CallTool invokes a tool on the server.
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
	// Close terminates the stream and the child process.
	Close() error
}

// NewChannel is a wrapper for NewStdioChannel to allow for overriding the default implementation.
var NewChannel = NewStdioChannel

// NewStdioChannel spawns the command and speaks MCP over its stdio.
// The env entries are added to the current process environment.
func NewStdioChannel(command string, env []string, args ...string) (Channel, error) {
	c, err := client.NewStdioMCPClient(command, env, args...)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Options for opening a Transport
type Options struct {
	// Python is the interpreter for .py scripts
	Python string
	// Node is the interpreter for .js scripts
	Node string
	// Env is additional environment in KEY=VALUE form
	Env []string
	// Args are extra interpreter arguments, placed before the script path
	Args []string
}

// Option configures Options
type Option func(*Options)

// WithPython sets the interpreter for .py scripts
func WithPython(python string) Option {
	return func(o *Options) {
		o.Python = python
	}
}

// WithNode sets the interpreter for .js scripts
func WithNode(node string) Option {
	return func(o *Options) {
		o.Node = node
	}
}

// WithEnv adds KEY=VALUE entries to the child environment
func WithEnv(env ...string) Option {
	return func(o *Options) {
		o.Env = append(o.Env, env...)
	}
}

// WithArgs adds interpreter arguments
func WithArgs(args ...string) Option {
	return func(o *Options) {
		o.Args = append(o.Args, args...)
	}
}

// Transport is an open connection to a tool server process.
type Transport struct {
	Channel

	path    string
	command string

	closeOnce sync.Once
	closeErr  error
}

// Open spawns the server script and returns the open Transport.
// No process is spawned when the script kind is not supported.
func Open(ctx context.Context, path string, opts ...Option) (*Transport, error) {
	kind, err := ResolveScriptKind(path)
	if err != nil {
		return nil, err
	}

	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}

	command := values.StringsCoalesce(o.Python, DefaultPython)
	if kind == ScriptNode {
		command = values.StringsCoalesce(o.Node, DefaultNode)
	}

	if err = ctx.Err(); err != nil {
		return nil, errors.Mark(errors.Wrap(err, "transport: open canceled"), ErrTransport)
	}

	args := append(append([]string{}, o.Args...), path)
	ch, err := NewChannel(command, o.Env, args...)
	if err != nil {
		logger.ContextKV(ctx, xlog.ERROR,
			"status", "spawn_failed",
			"command", command,
			"script", path,
			"err", err.Error())
		return nil, errors.Mark(errors.Wrapf(err, "transport: failed to start %s %s", command, path), ErrTransport)
	}

	logger.ContextKV(ctx, xlog.INFO,
		"status", "spawned",
		"command", command,
		"script", path)

	return &Transport{
		Channel: ch,
		path:    path,
		command: command,
	}, nil
}

// Path returns the server script path
func (t *Transport) Path() string {
	return t.path
}

// Command returns the interpreter used to run the script
func (t *Transport) Command() string {
	return t.command
}

// Close releases the child process and its stream.
// It is safe to call Close more than once.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		if err := t.Channel.Close(); err != nil {
			t.closeErr = errors.Mark(errors.Wrapf(err, "transport: failed to close %s", t.path), ErrTransport)
		}
		logger.KV(xlog.DEBUG, "status", "closed", "script", t.path)
	})
	return t.closeErr
}
