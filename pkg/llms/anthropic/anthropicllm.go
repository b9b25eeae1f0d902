package anthropic

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/cockroachdb/errors"
	"github.com/effective-security/mcpagent/pkg/llms"
	"github.com/effective-security/x/values"
)

var (
	ErrMissingToken           = errors.New("anthropic: missing API key, set it in the ANTHROPIC_API_KEY environment variable")
	ErrMissingModel           = errors.New("anthropic: model is required")
	ErrUnsupportedMessageType = errors.New("anthropic: unsupported message type")
)

const (
	// DefaultMaxTokens is used when neither the client nor the call specifies a limit.
	DefaultMaxTokens = 1000
	// DefaultBaseURL is the Anthropic API endpoint.
	DefaultBaseURL = "https://api.anthropic.com"
)

type LLM struct {
	Client  *anthropic.Client
	Options *Options
}

var _ llms.Model = (*LLM)(nil)

// New creates a new Anthropic LLM client using the official Anthropic SDK.
//
// If no token is provided via options, the API key is read
// from the ANTHROPIC_API_KEY environment variable.
// The client never retries: a failed request is returned to the caller as is.
func New(opts ...Option) (*LLM, error) {
	options := &Options{
		Token:      os.Getenv(TokenEnvVarName),
		BaseURL:    DefaultBaseURL,
		HttpClient: http.DefaultClient,
	}

	for _, opt := range opts {
		opt(options)
	}

	if len(options.Token) == 0 {
		return nil, ErrMissingToken
	}
	if options.Model == "" {
		return nil, ErrMissingModel
	}

	return &LLM{
		Client:  newClient(options),
		Options: options,
	}, nil
}

func newClient(options *Options) *anthropic.Client {
	sdkOpts := []option.RequestOption{
		option.WithAPIKey(options.Token),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(5 * time.Minute),
	}

	if options.BaseURL != "" {
		sdkOpts = append(sdkOpts, option.WithBaseURL(options.BaseURL))
	}

	if options.HttpClient != nil {
		sdkOpts = append(sdkOpts, option.WithHTTPClient(options.HttpClient))
	}

	if options.AnthropicBetaHeader != "" {
		sdkOpts = append(sdkOpts, option.WithHeader("anthropic-beta", options.AnthropicBetaHeader))
	}

	client := anthropic.NewClient(sdkOpts...)
	return &client
}

// GetName implements the Model interface.
func (o *LLM) GetName() string {
	return o.Options.Model
}

// GetProviderType implements the Model interface.
func (o *LLM) GetProviderType() llms.ProviderType {
	return llms.ProviderAnthropic
}

// GenerateContent implements the Model interface.
//
// The call options override the client defaults for model, max tokens
// and the system prompt.
func (o *LLM) GenerateContent(ctx context.Context, messages []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) {
	opts := llms.CallOptions{
		Model:        o.Options.Model,
		MaxTokens:    o.Options.MaxTokens,
		SystemPrompt: o.Options.SystemPrompt,
	}
	for _, opt := range options {
		opt(&opts)
	}
	return GenerateMessagesContent(ctx, o, messages, &opts)
}

// GenerateMessagesContent sends the processed history to the Messages API
// and translates the reply into ordered content parts.
func GenerateMessagesContent(ctx context.Context, o *LLM, messages []llms.Message, opts *llms.CallOptions) (*llms.ContentResponse, error) {
	sdkMessages, err := ProcessMessages(messages)
	if err != nil {
		return nil, errors.Wrap(err, "anthropic: failed to process messages")
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(opts.Model),
		Messages:  sdkMessages,
		MaxTokens: values.NumbersCoalesce(int64(opts.MaxTokens), DefaultMaxTokens),
	}

	if opts.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{
			{
				Type: "text",
				Text: opts.SystemPrompt,
			},
		}
	}

	if opts.Temperature > 0 {
		params.Temperature = anthropic.Float(opts.Temperature)
	}

	if len(opts.StopWords) > 0 {
		params.StopSequences = opts.StopWords
	}

	if tools := ToTools(opts.Tools); len(tools) > 0 {
		params.Tools = tools
	}

	result, err := o.Client.Messages.New(ctx, params)
	if err != nil {
		return nil, errors.Wrap(err, "anthropic: failed to create message")
	}

	return ToContentResponse(result)
}

// ToContentResponse translates the SDK message into provider-neutral
// content parts, preserving the emission order.
func ToContentResponse(result *anthropic.Message) (*llms.ContentResponse, error) {
	resp := &llms.ContentResponse{
		ID:         result.ID,
		StopReason: string(result.StopReason),
		Usage: llms.Usage{
			InputTokens:  result.Usage.InputTokens,
			OutputTokens: result.Usage.OutputTokens,
		},
		Content: make([]llms.ContentPart, 0, len(result.Content)),
	}

	for _, contentBlock := range result.Content {
		switch content := contentBlock.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content = append(resp.Content, llms.TextContent{Text: content.Text})
		case anthropic.ToolUseBlock:
			argumentsJSON, err := json.Marshal(content.Input)
			if err != nil {
				return nil, errors.Wrap(err, "anthropic: failed to marshal tool use arguments")
			}
			resp.Content = append(resp.Content, llms.ToolCall{
				ID:        content.ID,
				Name:      content.Name,
				Arguments: argumentsJSON,
			})
		default:
			return nil, errors.WithMessagef(llms.ErrUnsupportedContentType, "anthropic: %T", content)
		}
	}
	return resp, nil
}

// ToTools converts LLM tool definitions to Anthropic SDK tool parameters.
//
// The ordered schema properties are copied into a regular map,
// as the SDK expects. Returns nil if no tools are provided.
func ToTools(tools []llms.Tool) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}

	sdkTools := make([]anthropic.ToolUnionParam, len(tools))
	for i, tool := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: "object",
		}

		if params := tool.Parameters; params != nil {
			if params.Properties != nil {
				properties := make(map[string]any, params.Properties.Len())
				for pair := params.Properties.Oldest(); pair != nil; pair = pair.Next() {
					properties[pair.Key] = pair.Value
				}
				inputSchema.Properties = properties
			}
			if len(params.Required) > 0 {
				inputSchema.Required = params.Required
			}
		}

		sdkTools[i] = anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        tool.Name,
				Description: anthropic.String(tool.Description),
				InputSchema: inputSchema,
			},
		}
	}
	return sdkTools
}

// ProcessMessages converts the history to Anthropic SDK message parameters.
//
// Consecutive messages of the same role are merged into one API turn,
// so the per-call tool result messages form a single tool_result turn.
// Messages without content are skipped.
func ProcessMessages(messages []llms.Message) ([]anthropic.MessageParam, error) {
	chatMessages := make([]anthropic.MessageParam, 0, len(messages))
	var lastRole llms.Role
	for _, msg := range messages {
		blocks, err := ToContentBlocks(msg)
		if err != nil {
			return nil, err
		}
		if len(blocks) == 0 {
			continue
		}

		if len(chatMessages) > 0 && lastRole == msg.Role {
			last := &chatMessages[len(chatMessages)-1]
			last.Content = append(last.Content, blocks...)
			continue
		}

		switch msg.Role {
		case llms.RoleUser:
			chatMessages = append(chatMessages, anthropic.NewUserMessage(blocks...))
		case llms.RoleAssistant:
			chatMessages = append(chatMessages, anthropic.NewAssistantMessage(blocks...))
		default:
			return nil, errors.WithMessagef(ErrUnsupportedMessageType, "anthropic: %q", msg.Role)
		}
		lastRole = msg.Role
	}
	return chatMessages, nil
}

// ToContentBlocks converts the content of one message into SDK content blocks.
//
// Tool calls are only valid in assistant messages,
// tool results only in user messages.
func ToContentBlocks(msg llms.Message) ([]anthropic.ContentBlockParamUnion, error) {
	if msg.IsText() {
		if msg.Text == "" {
			return nil, nil
		}
		return []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Text)}, nil
	}

	contents := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Parts))
	for _, part := range msg.Parts {
		switch p := part.(type) {
		case llms.TextContent:
			contents = append(contents, anthropic.NewTextBlock(p.Text))
		case llms.ToolCall:
			if msg.Role != llms.RoleAssistant {
				return nil, errors.WithMessagef(llms.ErrUnexpectedRole, "anthropic: tool call in %s message", msg.Role)
			}
			input := p.Input()
			if !json.Valid(input) {
				return nil, errors.Newf("anthropic: invalid arguments for tool call %s", p.ID)
			}
			contents = append(contents, anthropic.NewToolUseBlock(p.ID, input, p.Name))
		case llms.ToolResult:
			if msg.Role != llms.RoleUser {
				return nil, errors.WithMessagef(llms.ErrUnexpectedRole, "anthropic: tool result in %s message", msg.Role)
			}
			contents = append(contents, anthropic.NewToolResultBlock(p.ToolCallID, p.Content, p.IsError))
		default:
			return nil, errors.WithMessagef(llms.ErrUnsupportedContentType, "anthropic: %T", part)
		}
	}
	return contents, nil
}
