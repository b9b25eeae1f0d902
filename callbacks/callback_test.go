package callbacks_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/callbacks"
	"github.com/effective-security/mcpagent/conversation"
	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/mcpagent/tools"
	"github.com/effective-security/xlog"
	"github.com/stretchr/testify/assert"
)

var (
	query = &conversation.Query{ID: "q1", Text: "Add 2 and 2", Model: "claude"}
	call  = llms.ToolCall{ID: "toolu_1", Name: "adder", Arguments: json.RawMessage(`{"a":2,"b":2}`)}
	final = []llms.Message{
		llms.MessageFromText(llms.RoleUser, "Add 2 and 2"),
		llms.MessageFromText(llms.RoleAssistant, "4"),
	}
)

func fire(cb conversation.Callback) {
	ctx := context.Background()
	cb.OnQueryStart(ctx, query)
	cb.OnModelCallStart(ctx, query, final[:1])
	cb.OnModelCallEnd(ctx, query, &llms.ContentResponse{
		Content:    []llms.ContentPart{llms.TextPart("4")},
		StopReason: "end_turn",
	})
	cb.OnModelCallError(ctx, query, errors.New("overloaded"))
	cb.OnToolStart(ctx, query, call)
	cb.OnToolEnd(ctx, query, call, &tools.Result{ToolCallID: "toolu_1", Name: "adder", Content: "4"})
	cb.OnToolError(ctx, query, call, errors.New("broken pipe"))
	cb.OnQueryEnd(ctx, query, final, nil)
	cb.OnQueryEnd(ctx, query, final[:1], errors.New("failed"))
}

func TestPrinter(t *testing.T) {
	var buf bytes.Buffer
	fire(callbacks.NewPrinter(&buf, callbacks.ModeVerbose))

	res := buf.String()
	assert.Contains(t, res, "Query Start: q1")
	assert.Contains(t, res, "Input: Add 2 and 2")
	assert.Contains(t, res, "LLM Call: claude model, 1 messages")
	assert.Contains(t, res, `LLM Call End: claude model, 1 parts, stop reason "end_turn"`)
	assert.Contains(t, res, "LLM Call Error: claude model: overloaded")
	assert.Contains(t, res, "Tool Start: adder (toolu_1)")
	assert.Contains(t, res, `Input: {"a":2,"b":2}`)
	assert.Contains(t, res, "Tool End: adder (toolu_1)")
	assert.Contains(t, res, "Output: 4")
	assert.Contains(t, res, "Tool Error: adder (toolu_1): broken pipe")
	assert.Contains(t, res, "Query End: q1, 2 messages")
	assert.Contains(t, res, "ASSISTANT: 4")
	assert.Contains(t, res, "Query Error: q1: failed")
}

func TestPrinterDefaultMode(t *testing.T) {
	var buf bytes.Buffer
	fire(callbacks.NewPrinter(&buf, callbacks.ModeDefault))

	res := buf.String()
	assert.Contains(t, res, "Tool End: adder (toolu_1)")
	assert.NotContains(t, res, "Output: 4")
	assert.NotContains(t, res, "ASSISTANT:")
}

func TestFanout(t *testing.T) {
	var buf1, buf2 bytes.Buffer
	fanout := callbacks.NewFanout(callbacks.NewPrinter(&buf1, callbacks.ModeDefault))
	fanout.Add(callbacks.NewPrinter(&buf2, callbacks.ModeDefault))
	fanout.Add(callbacks.NewNoop())
	fanout.Add(callbacks.NewPackageLogger(xlog.NewPackageLogger("github.com/effective-security/mcpagent", "callbacks_test")))

	fire(fanout)
	assert.NotEmpty(t, buf1.String())
	assert.Equal(t, buf1.String(), buf2.String())
}
