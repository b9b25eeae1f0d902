package callbacks

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/conversation"
	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/mcpagent/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixedNow(t *testing.T) {
	TimeNowFn = func() time.Time {
		return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	}
	t.Cleanup(func() {
		TimeNowFn = time.Now
	})
}

func TestScratchpad_Run(t *testing.T) {
	fixedNow(t)

	ctx := context.Background()
	q := &conversation.Query{ID: "q1", Text: "Add 2 and 2", Model: "claude"}
	call := llms.ToolCall{ID: "toolu_1", Name: "adder", Arguments: json.RawMessage(`{"a":2,"b":2}`)}
	messages := []llms.Message{
		llms.MessageFromText(llms.RoleUser, q.Text),
		llms.MessageFromParts(llms.RoleAssistant, call),
		llms.MessageFromParts(llms.RoleUser, llms.ToolResult{ToolCallID: "toolu_1", Name: "adder", Content: "4"}),
		llms.MessageFromText(llms.RoleAssistant, "4"),
	}

	sp := NewScratchpad(ModeVerbose)
	sp.OnQueryStart(ctx, q)
	sp.OnModelCallStart(ctx, q, messages[:1])
	sp.OnModelCallEnd(ctx, q, &llms.ContentResponse{
		Content: []llms.ContentPart{call},
		Usage:   llms.Usage{InputTokens: 10, OutputTokens: 5},
	})
	sp.OnToolStart(ctx, q, call)
	sp.OnToolEnd(ctx, q, call, &tools.Result{ToolCallID: "toolu_1", Name: "adder", Content: "4"})
	sp.OnToolStart(ctx, q, call)
	sp.OnToolEnd(ctx, q, call, &tools.Result{ToolCallID: "toolu_1", Name: "adder", Content: "nope", IsError: true})
	sp.OnModelCallStart(ctx, q, messages[:3])
	sp.OnModelCallEnd(ctx, q, &llms.ContentResponse{
		Content: []llms.ContentPart{llms.TextPart("4")},
		Usage:   llms.Usage{InputTokens: 20, OutputTokens: 1},
	})
	sp.OnQueryEnd(ctx, q, messages, nil)
	assert.Equal(t, []string{"q1"}, sp.QueryIDs())

	stats, out := sp.EndRun("q1")
	require.NotNil(t, stats)
	assert.Equal(t, "q1", stats.QueryID)
	assert.Equal(t, "claude", stats.Model)
	assert.False(t, stats.Failed)
	assert.Equal(t, uint32(2), stats.LLMCalls)
	assert.Equal(t, uint32(4), stats.TotalMessages)
	assert.Equal(t, uint64(30), stats.LLMInputTokens)
	assert.Equal(t, uint64(6), stats.LLMOutputTokens)
	assert.Equal(t, uint32(2), stats.ToolsCalls)
	assert.Equal(t, uint32(1), stats.ToolsCallsSucceeded)
	assert.Equal(t, uint32(1), stats.ToolsErrorResults)
	assert.Greater(t, stats.LLMBytesOut, uint64(0))
	assert.Greater(t, stats.LLMBytesIn, uint64(0))

	text := string(out)
	assert.True(t, strings.HasPrefix(text, "2026-01-02 03:04:05 q1 *** Run Started ***\n"))
	assert.Contains(t, text, "adder *** Tool Start ***")
	assert.Contains(t, text, "adder Output: 4")
	assert.Contains(t, text, "ToolCall: toolu_1 (adder)")
	assert.Contains(t, text, "Tool calls: 2, Failed: 0, Error results: 1")
	assert.Contains(t, text, "*** Run Ended.")

	// the run is forgotten
	assert.Empty(t, sp.QueryIDs())
	stats, out = sp.EndRun("q1")
	assert.Nil(t, stats)
	assert.Nil(t, out)
}

func TestScratchpad_Failed(t *testing.T) {
	fixedNow(t)

	ctx := context.Background()
	q := &conversation.Query{ID: "q2", Text: "hi", Model: "claude"}
	call := llms.ToolCall{ID: "toolu_1", Name: "adder"}

	sp := NewScratchpad(ModeDefault)
	sp.OnQueryStart(ctx, q)
	sp.OnModelCallStart(ctx, q, nil)
	sp.OnModelCallError(ctx, q, errors.New("overloaded"))
	sp.OnToolStart(ctx, q, call)
	sp.OnToolError(ctx, q, call, errors.New("broken pipe"))
	sp.OnQueryEnd(ctx, q, []llms.Message{llms.MessageFromText(llms.RoleUser, "hi")}, errors.New("failed"))

	stats, out := sp.EndRun("q2")
	require.NotNil(t, stats)
	assert.True(t, stats.Failed)
	assert.Equal(t, uint32(1), stats.LLMCallsFailed)
	assert.Equal(t, uint32(1), stats.ToolsCallsFailed)
	assert.Contains(t, string(out), "*** Error *** failed")
	assert.Contains(t, string(out), "adder *** Tool Error *** broken pipe")
}

func TestScratchpad_UnknownQuery(t *testing.T) {
	ctx := context.Background()
	q := &conversation.Query{ID: "unknown"}

	sp := NewScratchpad(ModeVerbose)
	// events without a started run are ignored
	sp.OnModelCallStart(ctx, q, nil)
	sp.OnModelCallEnd(ctx, q, &llms.ContentResponse{})
	sp.OnModelCallError(ctx, q, errors.New("x"))
	sp.OnToolStart(ctx, q, llms.ToolCall{})
	sp.OnToolEnd(ctx, q, llms.ToolCall{}, &tools.Result{})
	sp.OnToolError(ctx, q, llms.ToolCall{}, errors.New("x"))
	sp.OnQueryEnd(ctx, q, nil, nil)

	stats, out := sp.EndRun("unknown")
	assert.Nil(t, stats)
	assert.Nil(t, out)
}
