package callbacks

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/effective-security/mcpagent/conversation"
	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/mcpagent/pkg/llmutils"
	"github.com/effective-security/mcpagent/tools"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
)

// ensure that the callbacks implement the correct interfaces
var (
	_ conversation.Callback = (*Noop)(nil)
	_ conversation.Callback = (*Printer)(nil)
	_ conversation.Callback = (*PackageLogger)(nil)
	_ conversation.Callback = (*Fanout)(nil)
)

// Mode defines the mode for callback printing
type Mode int

const (
	// ModeDefault is the default mode for callback printing
	ModeDefault Mode = iota
	// ModeVerbose is the verbose mode for callback printing
	ModeVerbose
)

// maxPrintLen limits the payloads printed in verbose mode
const maxPrintLen = 512

// Fanout is a callback handler that forwards the events to multiple callbacks.
type Fanout struct {
	callbacks []conversation.Callback
}

func NewFanout(callbacks ...conversation.Callback) *Fanout {
	return &Fanout{callbacks: callbacks}
}

func (l *Fanout) Add(callback conversation.Callback) {
	l.callbacks = append(l.callbacks, callback)
}

func (l *Fanout) OnQueryStart(ctx context.Context, q *conversation.Query) {
	for _, callback := range l.callbacks {
		callback.OnQueryStart(ctx, q)
	}
}

func (l *Fanout) OnQueryEnd(ctx context.Context, q *conversation.Query, messages []llms.Message, err error) {
	for _, callback := range l.callbacks {
		callback.OnQueryEnd(ctx, q, messages, err)
	}
}

func (l *Fanout) OnModelCallStart(ctx context.Context, q *conversation.Query, messages []llms.Message) {
	for _, callback := range l.callbacks {
		callback.OnModelCallStart(ctx, q, messages)
	}
}

func (l *Fanout) OnModelCallEnd(ctx context.Context, q *conversation.Query, resp *llms.ContentResponse) {
	for _, callback := range l.callbacks {
		callback.OnModelCallEnd(ctx, q, resp)
	}
}

func (l *Fanout) OnModelCallError(ctx context.Context, q *conversation.Query, err error) {
	for _, callback := range l.callbacks {
		callback.OnModelCallError(ctx, q, err)
	}
}

func (l *Fanout) OnToolStart(ctx context.Context, q *conversation.Query, call llms.ToolCall) {
	for _, callback := range l.callbacks {
		callback.OnToolStart(ctx, q, call)
	}
}

func (l *Fanout) OnToolEnd(ctx context.Context, q *conversation.Query, call llms.ToolCall, res *tools.Result) {
	for _, callback := range l.callbacks {
		callback.OnToolEnd(ctx, q, call, res)
	}
}

func (l *Fanout) OnToolError(ctx context.Context, q *conversation.Query, call llms.ToolCall, err error) {
	for _, callback := range l.callbacks {
		callback.OnToolError(ctx, q, call, err)
	}
}

// Noop does nothing.
type Noop struct{}

func NewNoop() *Noop {
	return &Noop{}
}

func (l *Noop) OnQueryStart(context.Context, *conversation.Query) {}
func (l *Noop) OnQueryEnd(context.Context, *conversation.Query, []llms.Message, error) {
}
func (l *Noop) OnModelCallStart(context.Context, *conversation.Query, []llms.Message) {}
func (l *Noop) OnModelCallEnd(context.Context, *conversation.Query, *llms.ContentResponse) {
}
func (l *Noop) OnModelCallError(context.Context, *conversation.Query, error) {}
func (l *Noop) OnToolStart(context.Context, *conversation.Query, llms.ToolCall) {}
func (l *Noop) OnToolEnd(context.Context, *conversation.Query, llms.ToolCall, *tools.Result) {
}
func (l *Noop) OnToolError(context.Context, *conversation.Query, llms.ToolCall, error) {}

// Printer is a callback handler that prints to the Writer.
type Printer struct {
	Out  io.Writer
	Mode Mode

	lock sync.Mutex
}

func NewPrinter(out io.Writer, mode Mode) *Printer {
	return &Printer{Out: out, Mode: mode}
}

func (l *Printer) OnQueryStart(ctx context.Context, q *conversation.Query) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Query Start: %s\n", q.ID)
	fmt.Fprintf(l.Out, "Input: %s\n", q.Text)
}

func (l *Printer) OnQueryEnd(ctx context.Context, q *conversation.Query, messages []llms.Message, err error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	if err != nil {
		fmt.Fprintf(l.Out, "Query Error: %s: %s\n", q.ID, err.Error())
	} else {
		fmt.Fprintf(l.Out, "Query End: %s, %d messages\n", q.ID, len(messages))
	}
	if l.Mode == ModeVerbose {
		llmutils.PrintMessages(l.Out, messages, maxPrintLen)
	}
}

func (l *Printer) OnModelCallStart(ctx context.Context, q *conversation.Query, messages []llms.Message) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "LLM Call: %s model, %d messages\n", q.Model, len(messages))
}

func (l *Printer) OnModelCallEnd(ctx context.Context, q *conversation.Query, resp *llms.ContentResponse) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "LLM Call End: %s model, %d parts, stop reason %q\n", q.Model, len(resp.Content), resp.StopReason)
	if l.Mode == ModeVerbose {
		if text, ok := resp.FinalText(); ok {
			fmt.Fprintln(l.Out, slices.StringUpto(text, maxPrintLen))
		}
	}
}

func (l *Printer) OnModelCallError(ctx context.Context, q *conversation.Query, err error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "LLM Call Error: %s model: %s\n", q.Model, err.Error())
}

func (l *Printer) OnToolStart(ctx context.Context, q *conversation.Query, call llms.ToolCall) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Start: %s (%s)\n", call.Name, call.ID)
	fmt.Fprintf(l.Out, "Input: %s\n", string(call.Arguments))
}

func (l *Printer) OnToolEnd(ctx context.Context, q *conversation.Query, call llms.ToolCall, res *tools.Result) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool End: %s (%s)\n", call.Name, call.ID)
	if l.Mode == ModeVerbose {
		fmt.Fprintf(l.Out, "Output: %s\n", slices.StringUpto(res.Content, maxPrintLen))
	}
}

func (l *Printer) OnToolError(ctx context.Context, q *conversation.Query, call llms.ToolCall, err error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	fmt.Fprintf(l.Out, "Tool Error: %s (%s): %s\n", call.Name, call.ID, err.Error())
}

// PackageLogger is a callback handler that prints to the logger.
type PackageLogger struct {
	logger *xlog.PackageLogger
}

func NewPackageLogger(logger *xlog.PackageLogger) *PackageLogger {
	return &PackageLogger{logger: logger}
}

func (l *PackageLogger) OnQueryStart(ctx context.Context, q *conversation.Query) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "query_start",
		"id", q.ID,
		"input", slices.StringUpto(q.Text, 256),
	)
}

func (l *PackageLogger) OnQueryEnd(ctx context.Context, q *conversation.Query, messages []llms.Message, err error) {
	if err != nil {
		l.logger.ContextKV(ctx, xlog.ERROR,
			"event", "query_error",
			"id", q.ID,
			"messages", len(messages),
			"err", err.Error(),
		)
		return
	}
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "query_end",
		"id", q.ID,
		"messages", len(messages))
}

func (l *PackageLogger) OnModelCallStart(ctx context.Context, q *conversation.Query, messages []llms.Message) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "llm_call_start",
		"id", q.ID,
		"model", q.Model,
		"messages", len(messages),
	)
}

func (l *PackageLogger) OnModelCallEnd(ctx context.Context, q *conversation.Query, resp *llms.ContentResponse) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "llm_call_end",
		"id", q.ID,
		"model", q.Model,
		"parts", len(resp.Content),
		"tool_calls", len(resp.ToolCalls()),
	)
}

func (l *PackageLogger) OnModelCallError(ctx context.Context, q *conversation.Query, err error) {
	l.logger.ContextKV(ctx, xlog.ERROR,
		"event", "llm_call_error",
		"id", q.ID,
		"model", q.Model,
		"err", err.Error(),
	)
}

func (l *PackageLogger) OnToolStart(ctx context.Context, q *conversation.Query, call llms.ToolCall) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_start",
		"id", q.ID,
		"tool", call.Name,
		"input", slices.StringUpto(string(call.Arguments), 256),
	)
}

func (l *PackageLogger) OnToolEnd(ctx context.Context, q *conversation.Query, call llms.ToolCall, res *tools.Result) {
	l.logger.ContextKV(ctx, xlog.DEBUG,
		"event", "tool_end",
		"id", q.ID,
		"tool", call.Name,
		"is_error", res.IsError,
		"output", slices.StringUpto(res.Content, 256),
	)
}

func (l *PackageLogger) OnToolError(ctx context.Context, q *conversation.Query, call llms.ToolCall, err error) {
	l.logger.ContextKV(ctx, xlog.ERROR,
		"event", "tool_error",
		"id", q.ID,
		"tool", call.Name,
		"err", err.Error(),
	)
}
