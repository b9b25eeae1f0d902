package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/mcpagent/pkg/schema"
	"github.com/effective-security/x/slices"
	"github.com/effective-security/xlog"
	"github.com/invopop/jsonschema"
	"github.com/mark3labs/mcp-go/mcp"
)

var logger = xlog.NewPackageLogger("github.com/effective-security/mcpagent", "tools")

var (
	// ErrHandshake is returned when the initialize exchange fails.
	ErrHandshake = errors.New("handshake failed")
	// ErrProtocol is returned when the server responds with malformed or inconsistent data.
	ErrProtocol = errors.New("protocol error")
)

// Client is the protocol surface required to discover and call tools.
type Client interface {
	Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)
}

// Descriptor describes a tool offered by the server.
type Descriptor struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	InputSchema *jsonschema.Schema `json:"input_schema"`
	// Raw is the input schema as received from the server
	Raw json.RawMessage `json:"-"`
}

// ToLLM returns the tool definition in the shape the model consumes.
func (d Descriptor) ToLLM() llms.Tool {
	return llms.Tool{
		Name:        d.Name,
		Description: d.Description,
		Parameters:  d.InputSchema,
	}
}

// ToLLMTools converts a list of descriptors, preserving the order.
func ToLLMTools(list []Descriptor) []llms.Tool {
	if len(list) == 0 {
		return nil
	}
	res := make([]llms.Tool, len(list))
	for i, d := range list {
		res[i] = d.ToLLM()
	}
	return res
}

// ToDescriptor converts the native tool definition.
// The raw input schema takes precedence over the structured one.
func ToDescriptor(tool mcp.Tool) (Descriptor, error) {
	if tool.Name == "" {
		return Descriptor{}, errors.WithMessagef(ErrProtocol, "tool name is empty")
	}

	raw := tool.RawInputSchema
	if len(raw) == 0 {
		js, err := json.Marshal(tool.InputSchema)
		if err != nil {
			return Descriptor{}, errors.Mark(errors.Wrapf(err, "failed to encode input schema of %q", tool.Name), ErrProtocol)
		}
		raw = js
	}

	sc, err := schema.FromRaw(raw)
	if err != nil {
		return Descriptor{}, errors.Mark(errors.Wrapf(err, "invalid input schema of %q", tool.Name), ErrProtocol)
	}

	return Descriptor{
		Name:        tool.Name,
		Description: tool.Description,
		InputSchema: schema.ObjectSchema(sc),
		Raw:         raw,
	}, nil
}

// Handshake performs the initialize exchange.
// It must complete before any listing or call.
func Handshake(ctx context.Context, client Client, clientInfo mcp.Implementation) (*mcp.InitializeResult, error) {
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = clientInfo
	req.Params.Capabilities = mcp.ClientCapabilities{}

	res, err := client.Initialize(ctx, req)
	if err != nil {
		return nil, errors.Mark(errors.Wrap(err, "failed to initialize session"), ErrHandshake)
	}
	if res == nil {
		return nil, errors.WithMessagef(ErrHandshake, "empty initialize result")
	}

	logger.ContextKV(ctx, xlog.INFO,
		"status", "initialized",
		"server", res.ServerInfo.Name,
		"version", res.ServerInfo.Version,
		"protocol", res.ProtocolVersion)
	return res, nil
}

// List returns all tools offered by the server, following pagination cursors.
// Tool names must be unique.
func List(ctx context.Context, client Client) ([]Descriptor, error) {
	var (
		list    []Descriptor
		names   = map[string]bool{}
		cursors = map[mcp.Cursor]bool{}
		cursor  mcp.Cursor
	)

	for {
		req := mcp.ListToolsRequest{}
		req.Params.Cursor = cursor

		res, err := client.ListTools(ctx, req)
		if err != nil {
			return nil, errors.Mark(errors.Wrap(err, "failed to list tools"), ErrProtocol)
		}
		if res == nil {
			return nil, errors.WithMessagef(ErrProtocol, "empty tools list result")
		}

		for _, tool := range res.Tools {
			d, err := ToDescriptor(tool)
			if err != nil {
				return nil, err
			}
			if names[d.Name] {
				return nil, errors.WithMessagef(ErrProtocol, "duplicate tool name %q", d.Name)
			}
			names[d.Name] = true
			list = append(list, d)
		}

		if res.NextCursor == "" {
			break
		}
		if cursors[res.NextCursor] {
			return nil, errors.WithMessagef(ErrProtocol, "repeated cursor %q", res.NextCursor)
		}
		cursors[res.NextCursor] = true
		cursor = res.NextCursor
	}

	logger.ContextKV(ctx, xlog.DEBUG, "status", "listed", "tools", Names(list))
	return list, nil
}

// Names returns the tool names, in order.
func Names(list []Descriptor) []string {
	names := make([]string, len(list))
	for i, d := range list {
		names[i] = d.Name
	}
	return names
}

// Result is the outcome of a tool call.
type Result struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
	// IsError is set when the tool reported an error result
	IsError bool `json:"is_error,omitempty"`
}

// ToLLM returns the result as the content part sent to the model.
func (r *Result) ToLLM() llms.ToolResult {
	return llms.ToolResult{
		ToolCallID: r.ToolCallID,
		Name:       r.Name,
		Content:    r.Content,
		IsError:    r.IsError,
	}
}

// Call executes the tool call on the server.
//
// A result marked as error by the server is returned as a Result with IsError set,
// only a failure to perform the call is returned as an error.
func Call(ctx context.Context, client Client, call llms.ToolCall) (*Result, error) {
	args, err := DecodeArguments(call.Arguments)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid arguments for tool %q", call.Name)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = call.Name
	req.Params.Arguments = args

	logger.ContextKV(ctx, xlog.DEBUG,
		"status", "tool_call",
		"tool", call.Name,
		"id", call.ID,
		"args", slices.StringUpto(string(call.Arguments), 256))

	res, err := client.CallTool(ctx, req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to call tool %q", call.Name)
	}
	if res == nil {
		return nil, errors.WithMessagef(ErrProtocol, "empty result of tool %q", call.Name)
	}

	content, err := ContentText(res.Content)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode result of tool %q", call.Name)
	}

	if res.IsError {
		logger.ContextKV(ctx, xlog.WARNING,
			"status", "tool_error_result",
			"tool", call.Name,
			"id", call.ID,
			"content", slices.StringUpto(content, 256))
	}

	return &Result{
		ToolCallID: call.ID,
		Name:       call.Name,
		Content:    content,
		IsError:    res.IsError,
	}, nil
}

// DecodeArguments decodes the JSON object of tool arguments.
// Empty input produces an empty map.
func DecodeArguments(raw json.RawMessage) (map[string]any, error) {
	args := map[string]any{}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return args, nil
	}
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, errors.Wrap(err, "arguments must be a JSON object")
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}

// ContentText joins the text items of the result with new lines,
// other items are encoded as JSON.
func ContentText(content []mcp.Content) (string, error) {
	parts := make([]string, 0, len(content))
	for _, item := range content {
		switch c := item.(type) {
		case mcp.TextContent:
			parts = append(parts, c.Text)
		case *mcp.TextContent:
			parts = append(parts, c.Text)
		default:
			js, err := json.Marshal(item)
			if err != nil {
				return "", errors.WithStack(err)
			}
			parts = append(parts, string(js))
		}
	}
	return strings.Join(parts, "\n"), nil
}
