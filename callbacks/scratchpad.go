package callbacks

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/effective-security/mcpagent/conversation"
	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/mcpagent/pkg/llmutils"
	"github.com/effective-security/mcpagent/tools"
)

// ensure Scratchpad implements conversation.Callback
var _ conversation.Callback = (*Scratchpad)(nil)

var TimeNowFn = time.Now

type RunStats struct {
	QueryID string
	Model   string
	Failed  bool

	Duration            time.Duration
	TotalMessages       uint32
	LLMBytesOut         uint64
	LLMBytesIn          uint64
	LLMInputTokens      uint64
	LLMOutputTokens     uint64
	LLMCalls            uint32
	LLMCallsFailed      uint32
	ToolsCalls          uint32
	ToolsCallsSucceeded uint32
	ToolsCallsFailed    uint32
	ToolsErrorResults   uint32
}

// Scratchpad is a callback handler that records a trace and the stats of each query.
// A run starts with the query and stays available until EndRun.
type Scratchpad struct {
	runs map[string]*run
	mode Mode
	lock sync.Mutex
}

func NewScratchpad(mode Mode) *Scratchpad {
	return &Scratchpad{
		runs: make(map[string]*run),
		mode: mode,
	}
}

// EndRun returns the stats and the trace of the query, and forgets the run.
func (l *Scratchpad) EndRun(queryID string) (*RunStats, []byte) {
	l.lock.Lock()
	run := l.runs[queryID]
	delete(l.runs, queryID)
	l.lock.Unlock()

	if run == nil {
		return nil, nil
	}

	stats := run.stats
	if stats.Duration == 0 {
		stats.Duration = time.Since(run.started)
	}

	run.print(fmt.Sprintf("Tool calls: %d, Failed: %d, Error results: %d",
		stats.ToolsCalls,
		stats.ToolsCallsFailed,
		stats.ToolsErrorResults,
	))
	run.print(fmt.Sprintf("LLM calls: %d, Failed: %d, Messages: %d, Bytes Out: %d, Bytes In: %d, Input Tokens: %d, Output Tokens: %d",
		stats.LLMCalls,
		stats.LLMCallsFailed,
		stats.TotalMessages,
		stats.LLMBytesOut,
		stats.LLMBytesIn,
		stats.LLMInputTokens,
		stats.LLMOutputTokens,
	))
	run.print(fmt.Sprintf("*** Run Ended. Duration: %s ***", stats.Duration))

	return &stats, run.w.Bytes()
}

// QueryIDs returns the sorted IDs of the recorded runs
func (l *Scratchpad) QueryIDs() []string {
	l.lock.Lock()
	defer l.lock.Unlock()
	return slices.Sorted(maps.Keys(l.runs))
}

func (l *Scratchpad) getRun(q *conversation.Query) *run {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.runs[q.ID]
}

func (l *Scratchpad) OnQueryStart(ctx context.Context, q *conversation.Query) {
	r := &run{
		stats: RunStats{
			QueryID: q.ID,
			Model:   q.Model,
		},
		queryID: q.ID,
		started: TimeNowFn(),
	}

	l.lock.Lock()
	l.runs[q.ID] = r
	l.lock.Unlock()

	r.print("*** Run Started ***")
	r.print("Input:", q.Text)
}

func (l *Scratchpad) OnQueryEnd(ctx context.Context, q *conversation.Query, messages []llms.Message, err error) {
	run := l.getRun(q)
	if run == nil {
		return
	}
	run.stats.Duration = time.Since(run.started)
	if err != nil {
		run.stats.Failed = true
		run.print("*** Error ***", err.Error())
		run.print(l.printMessages(messages))
		return
	}
	if l.mode == ModeVerbose {
		run.print(l.printMessages(messages))
	}
	run.print("Output:", llmutils.EnsureEndsWithNewline(finalText(messages)))
}

func finalText(messages []llms.Message) string {
	if len(messages) == 0 {
		return ""
	}
	return messages[len(messages)-1].GetContent()
}

func (l *Scratchpad) printMessages(messages []llms.Message) string {
	var buf strings.Builder
	buf.WriteString("Messages:\n")
	for idx, msg := range messages {
		fmt.Fprintf(&buf, "[%d] %s:\n", idx, msg.Role)
		if msg.IsText() {
			buf.WriteString("  - text\n")
			continue
		}
		textParts := 0
		toolParts := 0
		toolResultParts := 0
		for _, part := range msg.Parts {
			switch typ := part.(type) {
			case llms.TextContent:
				textParts++
			case llms.ToolCall:
				toolParts++
				buf.WriteString("  - ")
				buf.WriteString(typ.String())
				buf.WriteString("\n")
			case llms.ToolResult:
				toolResultParts++
				buf.WriteString("  - ")
				buf.WriteString(typ.String())
				buf.WriteString("\n")
			}
		}

		fmt.Fprintf(&buf, "  - %d texts, %d tool calls, %d tool results\n", textParts, toolParts, toolResultParts)
	}
	return buf.String()
}

func (l *Scratchpad) OnModelCallStart(ctx context.Context, q *conversation.Query, messages []llms.Message) {
	run := l.getRun(q)
	if run == nil {
		return
	}

	atomic.AddUint64(&run.stats.LLMBytesOut, llmutils.CountMessagesContentSize(messages))
	atomic.AddUint32(&run.stats.LLMCalls, 1)
	count := uint32(len(messages))
	atomic.AddUint32(&run.stats.TotalMessages, count)

	run.print("*** LLM Call ***", fmt.Sprintf("%s model, %d messages", q.Model, count))
	if l.mode == ModeVerbose {
		run.print(l.printMessages(messages))
	}
}

func (l *Scratchpad) OnModelCallEnd(ctx context.Context, q *conversation.Query, resp *llms.ContentResponse) {
	run := l.getRun(q)
	if run == nil {
		return
	}

	atomic.AddUint64(&run.stats.LLMBytesIn, llmutils.CountResponseContentSize(resp))
	atomic.AddUint64(&run.stats.LLMInputTokens, uint64(resp.Usage.InputTokens))
	atomic.AddUint64(&run.stats.LLMOutputTokens, uint64(resp.Usage.OutputTokens))

	run.print("*** LLM Call End ***", fmt.Sprintf("%s model, %d input tokens, %d output tokens, stop reason %s",
		q.Model, resp.Usage.InputTokens, resp.Usage.OutputTokens, resp.StopReason))
}

func (l *Scratchpad) OnModelCallError(ctx context.Context, q *conversation.Query, err error) {
	run := l.getRun(q)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.LLMCallsFailed, 1)
	run.print("*** LLM Call Error ***", err.Error())
}

func (l *Scratchpad) OnToolStart(ctx context.Context, q *conversation.Query, call llms.ToolCall) {
	run := l.getRun(q)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.ToolsCalls, 1)
	run.print(call.Name, "*** Tool Start ***")
	run.print(call.Name, "Input:", string(call.Arguments))
}

func (l *Scratchpad) OnToolEnd(ctx context.Context, q *conversation.Query, call llms.ToolCall, res *tools.Result) {
	run := l.getRun(q)
	if run == nil {
		return
	}
	if res.IsError {
		atomic.AddUint32(&run.stats.ToolsErrorResults, 1)
	} else {
		atomic.AddUint32(&run.stats.ToolsCallsSucceeded, 1)
	}
	if l.mode == ModeVerbose {
		run.print(call.Name, "Output:", res.Content)
	}
	run.print(call.Name, "*** Tool End ***")
}

func (l *Scratchpad) OnToolError(ctx context.Context, q *conversation.Query, call llms.ToolCall, err error) {
	run := l.getRun(q)
	if run == nil {
		return
	}
	atomic.AddUint32(&run.stats.ToolsCallsFailed, 1)
	run.print(call.Name, "*** Tool Error ***", err.Error())
}

type run struct {
	queryID string
	w       bytes.Buffer
	started time.Time
	lock    sync.Mutex
	stats   RunStats
}

// print writes the entries to the run's output.
// The entries are written in the following format:
// [timestamp queryID] entry entry\n
func (r *run) print(entries ...string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	now := TimeNowFn()
	ts := now.Format("2006-01-02 15:04:05")

	_, _ = r.w.WriteString(ts)
	_, _ = r.w.WriteString(" ")
	_, _ = r.w.WriteString(r.queryID)
	_, _ = r.w.WriteString(" ")

	for i, entry := range entries {
		if i > 0 {
			_, _ = r.w.WriteString(" ")
		}
		_, _ = r.w.WriteString(entry)
	}
	_, _ = r.w.WriteString("\n")
}
