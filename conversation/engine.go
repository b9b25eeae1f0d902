package conversation

import (
	"context"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/mcpagent/pkg/metricskey"
	"github.com/effective-security/mcpagent/session"
	"github.com/effective-security/mcpagent/tools"
	xslices "github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
	"github.com/google/uuid"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpagent", "conversation")

// Session is the tool session a query runs against.
type Session interface {
	// Connected returns true when tools can be called
	Connected() bool
	// Acquire takes the single query lease, or returns session.ErrBusy
	Acquire() (func(), error)
	// ModelTools returns the tool definitions for the model
	ModelTools() []llms.Tool
	// CallTool executes a tool call
	CallTool(ctx context.Context, call llms.ToolCall) (*tools.Result, error)
}

// Engine runs queries against the model and the tool session.
type Engine struct {
	llm  llms.Model
	sess Session
	cfg  *Config
}

// New returns the Engine
func New(llm llms.Model, sess Session, opts ...Option) *Engine {
	return &Engine{
		llm:  llm,
		sess: sess,
		cfg:  NewConfig(opts...),
	}
}

// Model returns the model used by the engine
func (e *Engine) Model() llms.Model {
	return e.llm
}

// SubmitQuery runs the turn loop for the query text and returns the history:
// the user message, the intermediate assistant and tool result messages,
// and the final assistant text.
//
// On failure the history so far is returned with the error.
// Only one query runs on a session at a time, others fail with session.ErrBusy.
func (e *Engine) SubmitQuery(ctx context.Context, text string) ([]llms.Message, error) {
	release, err := e.sess.Acquire()
	if err != nil {
		metricskey.StatsQueriesFailed.IncrCounter(1, e.llm.GetName(), "busy")
		return nil, err
	}
	defer release()

	if !e.sess.Connected() {
		metricskey.StatsQueriesFailed.IncrCounter(1, e.llm.GetName(), "not_connected")
		return nil, errors.WithStack(session.ErrNotConnected)
	}

	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	q := &Query{
		ID:        uuid.NewString(),
		Text:      text,
		Model:     e.llm.GetName(),
		StartedAt: time.Now().UTC(),
	}

	cb := e.cfg.CallbackHandler
	if cb != nil {
		cb.OnQueryStart(ctx, q)
	}

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "query_start",
		"id", q.ID,
		"query", xslices.StringUpto(text, 64))

	messages, turns, err := e.run(ctx, q)
	metricskey.PerfQuery.MeasureSince(q.StartedAt, q.Model)

	if cb != nil {
		cb.OnQueryEnd(ctx, q, messages, err)
	}

	if err != nil {
		metricskey.StatsQueriesFailed.IncrCounter(1, q.Model, failureReason(err))
		logger.ContextKV(ctx, xlog.ERROR,
			"status", "query_failed",
			"id", q.ID,
			"turns", turns,
			"err", err.Error())
		return messages, err
	}

	metricskey.StatsQueriesSucceeded.IncrCounter(1, q.Model)
	logger.ContextKV(ctx, xlog.INFO,
		"status", "query_done",
		"id", q.ID,
		"turns", turns,
		"messages", len(messages),
		"duration", time.Since(q.StartedAt).String())
	return messages, nil
}

// run is the turn loop, it returns the history and the number of model calls
func (e *Engine) run(ctx context.Context, q *Query) ([]llms.Message, int, error) {
	messages := []llms.Message{llms.MessageFromText(llms.RoleUser, q.Text)}

	// the tool list is a snapshot for the whole query
	callOpts := slices.Clone(e.cfg.CallOptions)
	if list := e.sess.ModelTools(); len(list) > 0 {
		callOpts = append(callOpts, llms.WithTools(list))
	}
	if e.cfg.SystemPrompt != "" {
		callOpts = append(callOpts, llms.WithSystemPrompt(e.cfg.SystemPrompt))
	}

	turns := 0
	for {
		if turns >= e.cfg.MaxTurns {
			return messages, turns, errors.WithMessagef(ErrTurnLimit, "%d model calls", turns)
		}
		turns++

		resp, err := e.generate(ctx, q, messages, callOpts)
		if err != nil {
			return messages, turns, err
		}

		if text, ok := resp.FinalText(); ok {
			messages = append(messages, llms.MessageFromText(llms.RoleAssistant, text))
			return messages, turns, nil
		}

		messages = append(messages, llms.MessageFromParts(llms.RoleAssistant, resp.Content...))

		messages, err = e.executeToolCalls(ctx, q, messages, resp.ToolCalls())
		if err != nil {
			return messages, turns, err
		}
	}
}

// generate performs one model call
func (e *Engine) generate(ctx context.Context, q *Query, messages []llms.Message, callOpts []llms.CallOption) (*llms.ContentResponse, error) {
	cb := e.cfg.CallbackHandler
	if cb != nil {
		cb.OnModelCallStart(ctx, q, messages)
	}

	started := time.Now()
	resp, err := e.llm.GenerateContent(ctx, messages, callOpts...)
	metricskey.PerfLLMCall.MeasureSince(started, q.Model)

	if err == nil && (resp == nil || len(resp.Content) == 0) {
		err = errors.New("empty response")
	}
	if err != nil {
		metricskey.StatsLLMCallsFailed.IncrCounter(1, q.Model)
		err = errors.Mark(errors.Wrap(err, "failed to generate content"), ErrModelRequest)
		if cb != nil {
			cb.OnModelCallError(ctx, q, err)
		}
		return nil, err
	}

	metricskey.StatsLLMCallsSucceeded.IncrCounter(1, q.Model)
	metricskey.StatsLLMInputTokens.IncrCounter(float64(resp.Usage.InputTokens), q.Model)
	metricskey.StatsLLMOutputTokens.IncrCounter(float64(resp.Usage.OutputTokens), q.Model)

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "llm_call",
		"id", q.ID,
		"model", q.Model,
		"parts", len(resp.Content),
		"stop_reason", resp.StopReason,
		"input_tokens", resp.Usage.InputTokens,
		"output_tokens", resp.Usage.OutputTokens)

	if cb != nil {
		cb.OnModelCallEnd(ctx, q, resp)
	}
	return resp, nil
}

// executeToolCalls runs the tool calls sequentially, in order,
// and appends one tool result message per call.
// The first failed call aborts the query.
func (e *Engine) executeToolCalls(ctx context.Context, q *Query, messages []llms.Message, calls []llms.ToolCall) ([]llms.Message, error) {
	cb := e.cfg.CallbackHandler
	for _, call := range calls {
		if cb != nil {
			cb.OnToolStart(ctx, q, call)
		}

		res, err := e.sess.CallTool(ctx, call)
		if err != nil {
			logger.ContextKV(ctx, xlog.ERROR,
				"status", "tool_call_failed",
				"id", q.ID,
				"tool", call.Name,
				"call_id", call.ID,
				"err", err.Error())
			if cb != nil {
				cb.OnToolError(ctx, q, call, err)
			}
			return messages, &ToolExecutionError{
				Tool:   call.Name,
				CallID: call.ID,
				Err:    err,
			}
		}

		logger.ContextKV(ctx, xlog.DEBUG,
			"status", "tool_call",
			"id", q.ID,
			"tool", call.Name,
			"call_id", call.ID,
			"is_error", res.IsError,
			"result", xslices.StringUpto(res.Content, 64))

		if cb != nil {
			cb.OnToolEnd(ctx, q, call, res)
		}
		messages = append(messages, llms.MessageFromParts(llms.RoleUser, res.ToLLM()))
	}
	return messages, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrToolExecution):
		return "tool"
	case errors.Is(err, ErrTurnLimit):
		return "turn_limit"
	case errors.Is(err, ErrModelRequest):
		return "model"
	}
	return "other"
}
