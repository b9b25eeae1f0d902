package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/mcpagent/pkg/metricskey"
	"github.com/effective-security/mcpagent/session"
	"github.com/effective-security/mcpagent/tools"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpagent", "httpapi")

// Banner is returned by GET /
const Banner = "MCP agent: POST /query to ask the model with tools"

// MaxRequestSize limits the request body
const MaxRequestSize = 1 << 20

// Engine runs the queries
type Engine interface {
	SubmitQuery(ctx context.Context, text string) ([]llms.Message, error)
}

// Session is the tool session shown and managed by the front end
type Session interface {
	Connected() bool
	Connect(ctx context.Context, path string) error
	Path() string
	Tools() []tools.Descriptor
}

// QueryRequest is the body of POST /query
type QueryRequest struct {
	Query string `json:"query"`
}

// QueryResponse is the body returned by POST /query
type QueryResponse struct {
	Messages []llms.Message `json:"messages"`
}

// ToolsResponse is the body returned by GET /tools
type ToolsResponse struct {
	Server string             `json:"server"`
	Tools  []tools.Descriptor `json:"tools"`
}

// ConnectResponse is the body returned by POST /connect and GET /healthz
type ConnectResponse struct {
	Connected bool     `json:"connected"`
	Tools     []string `json:"tools,omitempty"`
}

// ErrorResponse is the body of failed requests
type ErrorResponse struct {
	Error string `json:"error"`
}

// Server is the HTTP handler of the agent
type Server struct {
	engine     Engine
	sess       Session
	scriptPath string
	cors       CORS
	handler    http.Handler
}

// Option configures the Server
type Option func(*Server)

// WithCORS sets the cross origin policy
func WithCORS(cors CORS) Option {
	return func(s *Server) {
		s.cors = cors
	}
}

// New returns the Server, scriptPath is used by POST /connect
func New(engine Engine, sess Session, scriptPath string, opts ...Option) *Server {
	s := &Server{
		engine:     engine,
		sess:       sess,
		scriptPath: scriptPath,
		cors:       DefaultCORS,
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.root)
	mux.HandleFunc("POST /query", s.query)
	mux.HandleFunc("GET /tools", s.tools)
	mux.HandleFunc("POST /connect", s.connect)
	mux.HandleFunc("GET /healthz", s.healthz)

	s.handler = s.cors.handler(instrument(mux))
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) root(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": Banner})
}

func (s *Server) query(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req QueryRequest
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRequestSize))
	if err == nil {
		err = json.Unmarshal(body, &req)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	messages, err := s.engine.SubmitQuery(ctx, req.Query)
	if err != nil {
		logger.ContextKV(ctx, xlog.ERROR,
			"status", "query_failed",
			"request_id", RequestID(ctx),
			"query", slices.StringUpto(req.Query, 64),
			"err", err.Error())

		switch {
		case errors.Is(err, session.ErrNotConnected):
			writeError(w, http.StatusServiceUnavailable, "tool server is not connected")
		case errors.Is(err, session.ErrBusy):
			writeError(w, http.StatusTooManyRequests, "query in progress")
		default:
			writeError(w, http.StatusInternalServerError, "failed to process query")
		}
		return
	}

	writeJSON(w, http.StatusOK, QueryResponse{Messages: messages})
}

func (s *Server) tools(w http.ResponseWriter, _ *http.Request) {
	if !s.sess.Connected() {
		writeError(w, http.StatusServiceUnavailable, "tool server is not connected")
		return
	}
	list := s.sess.Tools()
	if list == nil {
		list = []tools.Descriptor{}
	}
	writeJSON(w, http.StatusOK, ToolsResponse{
		Server: s.sess.Path(),
		Tools:  list,
	})
}

func (s *Server) connect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.sess.Connect(ctx, s.scriptPath); err != nil {
		logger.ContextKV(ctx, xlog.ERROR,
			"status", "connect_failed",
			"request_id", RequestID(ctx),
			"script", s.scriptPath,
			"err", err.Error())

		if errors.Is(err, session.ErrBusy) {
			writeError(w, http.StatusTooManyRequests, "query in progress")
			return
		}
		writeError(w, http.StatusBadGateway, "failed to connect to tool server")
		return
	}
	writeJSON(w, http.StatusOK, ConnectResponse{
		Connected: true,
		Tools:     tools.Names(s.sess.Tools()),
	})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ConnectResponse{Connected: s.sess.Connected()})
}

// statusRecorder captures the response status
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// instrument assigns the request ID, logs and measures the request
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()

		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = NewRequestID()
		}
		w.Header().Set(RequestIDHeader, id)
		r = r.WithContext(WithRequestID(r.Context(), id))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metricskey.PerfHTTPRequest.MeasureSince(started, r.Method, route)
		metricskey.StatsHTTPRequests.IncrCounter(1, r.Method, route, strconv.Itoa(rec.status))

		logger.ContextKV(r.Context(), xlog.DEBUG,
			"status", "http_request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"code", rec.status,
			"duration", time.Since(started).String())
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.KV(xlog.ERROR, "status", "write_failed", "err", err.Error())
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
