package llms

import (
	"encoding/json"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"sigs.k8s.io/yaml"
)

func TestMarshalMessage(t *testing.T) {
	t.Parallel()

	tcs := []struct {
		name    string
		msg     Message
		exp     string
		content string
	}{
		{
			name:    "text",
			msg:     MessageFromText(RoleUser, "What is the weather in Paris?"),
			exp:     `{"role":"user","content":"What is the weather in Paris?"}`,
			content: "What is the weather in Paris?",
		},
		{
			name: "tool use",
			msg: MessageFromParts(RoleAssistant,
				TextPart("Let me check."),
				ToolCall{ID: "t1", Name: "get_weather", Arguments: json.RawMessage(`{"city":"Paris"}`)},
			),
			exp:     `{"role":"assistant","content":[{"type":"text","text":"Let me check."},{"type":"tool_use","id":"t1","name":"get_weather","input":{"city":"Paris"}}]}`,
			content: "Let me check.\nTool Call: get_weather {\"city\":\"Paris\"}",
		},
		{
			name:    "tool use without input",
			msg:     MessageFromParts(RoleAssistant, ToolCall{ID: "t2", Name: "now"}),
			exp:     `{"role":"assistant","content":[{"type":"tool_use","id":"t2","name":"now","input":{}}]}`,
			content: "Tool Call: now {}",
		},
		{
			name: "tool result",
			msg: MessageFromParts(RoleUser,
				ToolResult{ToolCallID: "t1", Name: "get_weather", Content: "18C, sunny"},
				ToolResult{ToolCallID: "t2", Content: "boom", IsError: true},
			),
			exp:     `{"role":"user","content":[{"type":"tool_result","tool_use_id":"t1","name":"get_weather","content":"18C, sunny"},{"type":"tool_result","tool_use_id":"t2","content":"boom","is_error":true}]}`,
			content: "Tool Result: get_weather 18C, sunny\nTool Result:  boom",
		},
	}
	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			js, err := json.Marshal(tc.msg)
			require.NoError(t, err)
			assert.JSONEq(t, tc.exp, string(js))

			var got Message
			require.NoError(t, json.Unmarshal(js, &got))
			assert.Equal(t, tc.msg.Role, got.Role)
			assert.Equal(t, tc.content, tc.msg.GetContent())
			assert.Equal(t, tc.content, got.GetContent())
			assert.Equal(t, tc.msg.IsText(), got.IsText())
		})
	}
}

func TestToolCallInput(t *testing.T) {
	t.Parallel()

	assert.Equal(t, `{}`, string(ToolCall{Name: "now"}.Input()))
	assert.Equal(t, `{}`, string(ToolCall{Name: "now", Arguments: json.RawMessage(" ")}.Input()))
	assert.Equal(t, `{"a":1}`, string(ToolCall{Name: "add", Arguments: json.RawMessage(`{"a":1}`)}.Input()))
	assert.Equal(t, "ToolCall: t2 (now), input: {}", ToolCall{ID: "t2", Name: "now"}.String())

	y, err := yaml.Marshal(MessageFromParts(RoleAssistant, ToolCall{ID: "t2", Name: "now"}))
	require.NoError(t, err)
	var got Message
	require.NoError(t, yaml.Unmarshal(y, &got))
	assert.Equal(t, "Tool Call: now {}", got.GetContent())
}

func TestUnmarshalMessageErrors(t *testing.T) {
	t.Parallel()

	var m Message
	err := json.Unmarshal([]byte(`{"role":"system","content":"x"}`), &m)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnexpectedRole))

	err = json.Unmarshal([]byte(`{"role":"user","content":[{"type":"image_url"}]}`), &m)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedContentType))

	err = json.Unmarshal([]byte(`{"role":"user","content":42}`), &m)
	require.Error(t, err)
}

func TestMessageYAML(t *testing.T) {
	t.Parallel()

	msgs := []Message{
		MessageFromText(RoleUser, "hello"),
		MessageFromParts(RoleAssistant, ToolCall{ID: "t1", Name: "echo", Arguments: json.RawMessage(`{"s":"hi"}`)}),
	}
	y, err := yaml.Marshal(msgs)
	require.NoError(t, err)
	assert.Contains(t, string(y), "type: tool_use")

	var got []Message
	require.NoError(t, yaml.Unmarshal(y, &got))
	require.Len(t, got, 2)
	assert.Equal(t, "hello", got[0].Text)
	calls := (&ContentResponse{Content: got[1].Parts}).ToolCalls()
	require.Len(t, calls, 1)
	assert.JSONEq(t, `{"s":"hi"}`, string(calls[0].Arguments))
}
