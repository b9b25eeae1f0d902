package session

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/mcpagent/pkg/metricskey"
	"github.com/effective-security/mcpagent/tools"
	"github.com/effective-security/mcpagent/transport"
	"github.com/effective-security/xlog"
	"github.com/mark3labs/mcp-go/mcp"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpagent", "session")

var (
	// ErrBusy is returned when a query is already in flight on the session.
	ErrBusy = errors.New("session is busy")
	// ErrNotConnected is returned when the session has no open transport.
	ErrNotConnected = errors.New("session is not connected")
)

// DefaultClientInfo identifies this client in the handshake.
var DefaultClientInfo = mcp.Implementation{
	Name:    "mcpagent",
	Version: "1.0.0",
}

// Option configures the Session
type Option func(*Session)

// WithClientInfo sets the client identity sent in the handshake
func WithClientInfo(info mcp.Implementation) Option {
	return func(s *Session) {
		s.clientInfo = info
	}
}

// WithTransportOptions sets the options used to open the transport
func WithTransportOptions(opts ...transport.Option) Option {
	return func(s *Session) {
		s.transportOpts = append(s.transportOpts, opts...)
	}
}

// Session is a connection to a tool server.
type Session struct {
	clientInfo    mcp.Implementation
	transportOpts []transport.Option

	lock       sync.RWMutex
	tr         *transport.Transport
	path       string
	tools      []tools.Descriptor
	modelTools []llms.Tool
	serverInfo *mcp.InitializeResult

	busy atomic.Bool
}

// New returns a disconnected Session
func New(opts ...Option) *Session {
	s := &Session{
		clientInfo: DefaultClientInfo,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect opens the transport to the server script, performs the handshake
// and lists the tools.
// Connect holds the query lease while it runs, and returns ErrBusy
// when a query is in flight.
// An unsupported script path is rejected before the current transport is touched.
// Otherwise a previously open transport is closed first, and
// on failure the new transport is closed and the session stays disconnected.
func (s *Session) Connect(ctx context.Context, path string) error {
	if !s.busy.CompareAndSwap(false, true) {
		return errors.WithStack(ErrBusy)
	}
	defer s.busy.Store(false)

	if _, err := transport.ResolveScriptKind(path); err != nil {
		return err
	}

	s.lock.Lock()
	defer s.lock.Unlock()

	s.closeLocked()

	err := s.connectLocked(ctx, path)
	if err != nil {
		metricskey.StatsSessionConnects.IncrCounter(1, "failed")
		logger.ContextKV(ctx, xlog.ERROR,
			"status", "connect_failed",
			"script", path,
			"err", err.Error())
		return err
	}

	metricskey.StatsSessionConnects.IncrCounter(1, "connected")
	logger.ContextKV(ctx, xlog.INFO,
		"status", "connected",
		"script", path,
		"server", s.serverInfo.ServerInfo.Name,
		"tools", tools.Names(s.tools))
	return nil
}

func (s *Session) connectLocked(ctx context.Context, path string) error {
	tr, err := transport.Open(ctx, path, s.transportOpts...)
	if err != nil {
		return err
	}

	info, err := tools.Handshake(ctx, tr, s.clientInfo)
	if err != nil {
		s.release(tr)
		return err
	}

	list, err := tools.List(ctx, tr)
	if err != nil {
		s.release(tr)
		return err
	}

	s.tr = tr
	s.path = path
	s.serverInfo = info
	s.tools = list
	s.modelTools = tools.ToLLMTools(list)
	return nil
}

func (s *Session) release(tr *transport.Transport) {
	if err := tr.Close(); err != nil {
		logger.KV(xlog.WARNING,
			"status", "close_failed",
			"script", tr.Path(),
			"err", err.Error())
	}
}

// Shutdown closes the transport, if any.
// It is safe to call on a session that never connected,
// cleanup failures are logged.
// Shutdown does not wait for the query lease: it is the final cleanup
// and runs after the front end has stopped accepting queries.
func (s *Session) Shutdown() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.closeLocked()
}

func (s *Session) closeLocked() {
	if s.tr == nil {
		return
	}
	path := s.path
	s.release(s.tr)

	s.tr = nil
	s.path = ""
	s.tools = nil
	s.modelTools = nil
	s.serverInfo = nil

	logger.KV(xlog.INFO, "status", "disconnected", "script", path)
}

// Connected returns true when the session has an open transport
func (s *Session) Connected() bool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.tr != nil
}

// Path returns the script path of the connected server
func (s *Session) Path() string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.path
}

// Tools returns the descriptors of the tools offered by the server
func (s *Session) Tools() []tools.Descriptor {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return slices.Clone(s.tools)
}

// ModelTools returns the tools in the shape the model consumes
func (s *Session) ModelTools() []llms.Tool {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return slices.Clone(s.modelTools)
}

// ServerInfo returns the handshake result, or nil when not connected
func (s *Session) ServerInfo() *mcp.InitializeResult {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.serverInfo
}

// CallTool executes the tool call on the connected server.
func (s *Session) CallTool(ctx context.Context, call llms.ToolCall) (*tools.Result, error) {
	s.lock.RLock()
	tr := s.tr
	s.lock.RUnlock()

	if tr == nil {
		return nil, ErrNotConnected
	}

	started := time.Now()
	res, err := tools.Call(ctx, tr, call)
	metricskey.PerfToolCall.MeasureSince(started, call.Name)
	if err != nil {
		metricskey.StatsToolCallsFailed.IncrCounter(1, call.Name)
		return nil, err
	}
	if res.IsError {
		metricskey.StatsToolCallsErrorResult.IncrCounter(1, call.Name)
	} else {
		metricskey.StatsToolCallsSucceeded.IncrCounter(1, call.Name)
	}
	return res, nil
}

// Acquire takes the single query lease of the session.
// The returned function releases the lease, it is safe to call more than once.
func (s *Session) Acquire() (func(), error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			s.busy.Store(false)
		})
	}, nil
}
