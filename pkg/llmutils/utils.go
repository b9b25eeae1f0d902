package llmutils

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/x/slices"
	"sigs.k8s.io/yaml"
)

// ToJSON returns the JSON encoding of val, or an empty string on failure
func ToJSON(val any) string {
	js, _ := json.Marshal(val)
	return string(js)
}

// ToJSONIndent returns the indented JSON encoding of val
func ToJSONIndent(val any) string {
	js, _ := json.MarshalIndent(val, "", "\t")
	return string(js)
}

// ToYAML returns the YAML encoding of val.
// The value is encoded through its JSON form, so custom JSON marshalers apply.
func ToYAML(val any) string {
	js, _ := yaml.Marshal(val)
	return string(js)
}

// PrintMessages is a debugging helper for the conversation history.
// Long content is truncated to maxLen runes, 0 means no limit.
func PrintMessages(w io.Writer, msgs []llms.Message, maxLen int) {
	trim := func(s string) string {
		if maxLen > 0 {
			return slices.StringUpto(s, maxLen)
		}
		return s
	}

	for _, m := range msgs {
		fmt.Fprintf(w, "%s: ", strings.ToUpper(string(m.Role)))
		if m.IsText() {
			fmt.Fprintln(w, trim(m.Text))
			continue
		}
		if len(m.Parts) > 1 {
			fmt.Fprintln(w)
		}
		for _, p := range m.Parts {
			switch pp := p.(type) {
			case llms.TextContent:
				fmt.Fprintln(w, trim(pp.Text))
			case llms.ToolCall:
				fmt.Fprintf(w, "ToolCall ID=%s, Func=%s(%s)\n", pp.ID, pp.Name, trim(string(pp.Arguments)))
			case llms.ToolResult:
				fmt.Fprintf(w, "ToolResult ID=%s, Name=%s, IsError=%t, Content=%s\n", pp.ToolCallID, pp.Name, pp.IsError, trim(pp.Content))
			}
		}
	}
}

// CountMessagesContentSize counts the size of the content in the messages
func CountMessagesContentSize(msgs []llms.Message) uint64 {
	var size uint64
	for _, m := range msgs {
		size += uint64(len(m.Role))
		size += uint64(len(m.Text))
		size += countPartsSize(m.Parts)
	}
	return size
}

// CountResponseContentSize counts the size of the content in the content response
func CountResponseContentSize(resp *llms.ContentResponse) uint64 {
	if resp == nil {
		return 0
	}
	return countPartsSize(resp.Content)
}

func countPartsSize(parts []llms.ContentPart) uint64 {
	var size uint64
	for _, p := range parts {
		switch pp := p.(type) {
		case llms.TextContent:
			size += uint64(len(pp.Text))
		case llms.ToolCall:
			size += uint64(len(pp.ID))
			size += uint64(len(pp.Name))
			size += uint64(len(pp.Arguments))
		case llms.ToolResult:
			size += uint64(len(pp.ToolCallID))
			size += uint64(len(pp.Name))
			size += uint64(len(pp.Content))
		}
	}
	return size
}

// FindLastUserQuestion returns the text of the last user message,
// tool result messages are skipped.
func FindLastUserQuestion(messages []llms.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		msg := messages[i]
		if msg.Role != llms.RoleUser {
			continue
		}
		if msg.IsText() {
			return msg.Text
		}
		for _, part := range msg.Parts {
			if textPart, ok := part.(llms.TextContent); ok {
				return textPart.Text
			}
		}
	}
	return ""
}

// EnsureEndsWithNewline ensures the message ends with a newline,
// it also removes any extra leading and trailing spaces.
func EnsureEndsWithNewline(s string) string {
	s = strings.TrimSpace(s)
	c := len(s)
	if c == 0 {
		return s
	}
	if s[c-1] != '\n' {
		return s + "\n"
	}
	return s
}
