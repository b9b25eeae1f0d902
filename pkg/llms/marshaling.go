package llms

import (
	"bytes"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// Part type tags used on the wire.
const (
	PartTypeText       = "text"
	PartTypeToolUse    = "tool_use"
	PartTypeToolResult = "tool_result"
)

// messageJSON is the wire form of Message:
// content is a JSON string for plain text, or an array of parts.
type messageJSON struct {
	Role    Role            `json:"role"`
	Content json.RawMessage `json:"content"`
}

// partJSON is the union of all part fields, used for decoding.
type partJSON struct {
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Input     json.RawMessage `json:"input"`
	ToolUseID string          `json:"tool_use_id"`
	Content   string          `json:"content"`
	IsError   bool            `json:"is_error"`
}

// MarshalJSON implements json.Marshaler for Message
func (m Message) MarshalJSON() ([]byte, error) {
	var content any = m.Text
	if !m.IsText() {
		content = m.Parts
	}
	js, err := json.Marshal(content)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal message content")
	}
	return json.Marshal(messageJSON{
		Role:    m.Role,
		Content: js,
	})
}

// UnmarshalJSON implements json.Unmarshaler for Message
func (m *Message) UnmarshalJSON(data []byte) error {
	var mj messageJSON
	if err := json.Unmarshal(data, &mj); err != nil {
		return errors.Wrap(err, "failed to unmarshal message")
	}
	switch mj.Role {
	case RoleUser, RoleAssistant:
	default:
		return errors.WithMessagef(ErrUnexpectedRole, "%q", mj.Role)
	}

	*m = Message{Role: mj.Role}
	raw := bytes.TrimSpace(mj.Content)
	if len(raw) == 0 || raw[0] != '[' {
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &m.Text); err != nil {
				return errors.Wrap(err, "failed to unmarshal message text")
			}
		}
		return nil
	}

	var parts []partJSON
	if err := json.Unmarshal(raw, &parts); err != nil {
		return errors.Wrap(err, "failed to unmarshal message parts")
	}
	m.Parts = make([]ContentPart, 0, len(parts))
	for _, p := range parts {
		part, err := unmarshalPart(p)
		if err != nil {
			return err
		}
		m.Parts = append(m.Parts, part)
	}
	return nil
}

func unmarshalPart(p partJSON) (ContentPart, error) {
	switch p.Type {
	case PartTypeText:
		return TextContent{Text: p.Text}, nil
	case PartTypeToolUse:
		return ToolCall{ID: p.ID, Name: p.Name, Arguments: p.Input}, nil
	case PartTypeToolResult:
		return ToolResult{ToolCallID: p.ToolUseID, Name: p.Name, Content: p.Content, IsError: p.IsError}, nil
	}
	return nil, errors.WithMessagef(ErrUnsupportedContentType, "%q", p.Type)
}

// MarshalJSON implements json.Marshaler for TextContent
func (tc TextContent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{
		Type: PartTypeText,
		Text: tc.Text,
	})
}

// MarshalJSON implements json.Marshaler for ToolCall
func (tc ToolCall) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type  string          `json:"type"`
		ID    string          `json:"id"`
		Name  string          `json:"name"`
		Input json.RawMessage `json:"input"`
	}{
		Type:  PartTypeToolUse,
		ID:    tc.ID,
		Name:  tc.Name,
		Input: tc.Input(),
	})
}

// MarshalJSON implements json.Marshaler for ToolResult
func (tr ToolResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      string `json:"type"`
		ToolUseID string `json:"tool_use_id"`
		Name      string `json:"name,omitempty"`
		Content   string `json:"content"`
		IsError   bool   `json:"is_error,omitempty"`
	}{
		Type:      PartTypeToolResult,
		ToolUseID: tr.ToolCallID,
		Name:      tr.Name,
		Content:   tr.Content,
		IsError:   tr.IsError,
	})
}
