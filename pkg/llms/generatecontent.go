package llms

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	// ErrUnexpectedRole is returned when a message role is of an unexpected type.
	ErrUnexpectedRole = errors.New("unexpected role")
	// ErrUnsupportedContentType is returned for a content part outside of the known set.
	ErrUnsupportedContentType = errors.New("unsupported content type")
)

// Role is the author of a message.
type Role string

const (
	// RoleUser is a message sent by the user, including tool results.
	RoleUser Role = "user"
	// RoleAssistant is a message produced by the model.
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation.
// Content is either plain Text or an ordered sequence of Parts;
// when Parts is nil the message carries plain text.
type Message struct {
	Role  Role
	Text  string
	Parts []ContentPart
}

// MessageFromText creates a plain text message.
func MessageFromText(role Role, text string) Message {
	return Message{
		Role: role,
		Text: text,
	}
}

// MessageFromParts creates a message with a sequence of content parts.
// The parts are copied.
func MessageFromParts(role Role, parts ...ContentPart) Message {
	return Message{
		Role:  role,
		Parts: append(make([]ContentPart, 0, len(parts)), parts...),
	}
}

// IsText returns true when the message content is plain text.
func (m Message) IsText() bool {
	return m.Parts == nil
}

// ContentPart is the closed set of content blocks:
// TextContent, ToolCall and ToolResult.
type ContentPart interface {
	isPart()
}

// TextContent is content with some text.
type TextContent struct {
	Text string
}

func (tc TextContent) String() string {
	return tc.Text
}

func (TextContent) isPart() {}

// TextPart creates TextContent from a given string.
func TextPart(s string) TextContent {
	return TextContent{Text: s}
}

// ToolCall is a call to a tool (as requested by the model) that should be executed.
type ToolCall struct {
	// ID is the unique identifier of the tool call, assigned by the model.
	ID string
	// Name is the name of the tool.
	Name string
	// Arguments is the JSON object with the tool arguments.
	Arguments json.RawMessage
}

func (tc ToolCall) String() string {
	return fmt.Sprintf("ToolCall: %s (%s), input: %s", tc.ID, tc.Name, string(tc.Input()))
}

// Input returns the arguments, with missing arguments as an empty object.
func (tc ToolCall) Input() json.RawMessage {
	if len(bytes.TrimSpace(tc.Arguments)) == 0 {
		return json.RawMessage(`{}`)
	}
	return tc.Arguments
}

func (ToolCall) isPart() {}

// ToolResult is the outcome of a tool call, sent back to the model.
type ToolResult struct {
	// ToolCallID is the ID of the tool call this result is for.
	ToolCallID string
	// Name is the name of the tool that was called.
	Name string
	// Content is the textual content of the result.
	Content string
	// IsError is set when the tool reported an error result.
	IsError bool
}

func (tr ToolResult) String() string {
	return fmt.Sprintf("ToolResult: %s (%s), response size: %d", tr.ToolCallID, tr.Name, len(tr.Content))
}

func (ToolResult) isPart() {}

// Usage reports token consumption of a single model call.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// ContentResponse is the response returned by a GenerateContent call.
type ContentResponse struct {
	// ID is the provider message ID.
	ID string
	// Content is the ordered list of parts emitted by the model.
	Content []ContentPart
	// StopReason is the reason the model stopped generating output.
	StopReason string
	// Usage is the token usage of the call.
	Usage Usage
}

// FinalText returns the text and true when the response consists of
// exactly one part and that part is text.
func (r *ContentResponse) FinalText() (string, bool) {
	if r == nil || len(r.Content) != 1 {
		return "", false
	}
	tc, ok := r.Content[0].(TextContent)
	if !ok {
		return "", false
	}
	return tc.Text, true
}

// ToolCalls returns the tool calls of the response in emission order.
func (r *ContentResponse) ToolCalls() []ToolCall {
	if r == nil {
		return nil
	}
	var calls []ToolCall
	for _, p := range r.Content {
		if tc, ok := p.(ToolCall); ok {
			calls = append(calls, tc)
		}
	}
	return calls
}

// GetContent returns a printable representation of the message content.
func (m Message) GetContent() string {
	if m.IsText() {
		return m.Text
	}

	var buf strings.Builder
	for i, p := range m.Parts {
		if i > 0 {
			buf.WriteString("\n")
		}
		switch typ := p.(type) {
		case TextContent:
			buf.WriteString(typ.Text)
		case ToolCall:
			buf.WriteString("Tool Call: ")
			buf.WriteString(typ.Name)
			buf.WriteString(" ")
			buf.Write(typ.Input())
		case ToolResult:
			buf.WriteString("Tool Result: ")
			buf.WriteString(typ.Name)
			buf.WriteString(" ")
			buf.WriteString(typ.Content)
		}
	}
	return buf.String()
}
