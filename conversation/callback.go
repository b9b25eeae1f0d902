package conversation

import (
	"context"
	"time"

	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/mcpagent/tools"
)

// Query describes one submitted query
type Query struct {
	// ID is the unique ID of the query
	ID string `json:"id"`
	// Text is the user input
	Text string `json:"query"`
	// Model is the name of the model that serves the query
	Model string `json:"model"`
	// StartedAt is the time the query was accepted
	StartedAt time.Time `json:"started_at"`
}

// Callback receives the events of the turn loop.
// The callbacks are called synchronously from the query goroutine.
type Callback interface {
	OnQueryStart(ctx context.Context, q *Query)
	// OnQueryEnd is called once per query with the final or partial history,
	// err is nil when the query succeeded.
	OnQueryEnd(ctx context.Context, q *Query, messages []llms.Message, err error)
	OnModelCallStart(ctx context.Context, q *Query, messages []llms.Message)
	OnModelCallEnd(ctx context.Context, q *Query, resp *llms.ContentResponse)
	OnModelCallError(ctx context.Context, q *Query, err error)
	OnToolStart(ctx context.Context, q *Query, call llms.ToolCall)
	OnToolEnd(ctx context.Context, q *Query, call llms.ToolCall, result *tools.Result)
	OnToolError(ctx context.Context, q *Query, call llms.ToolCall, err error)
}
