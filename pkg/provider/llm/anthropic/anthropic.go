// Package anthropic provides an LLM provider backed by the Anthropic Messages
// API.
//
// The Anthropic dialect differs from OpenAI in three ways the adapter hides
// from the loop: the system prompt travels in a dedicated request field, tool
// requests are "tool_use" content blocks on the assistant turn, and tool
// results are "tool_result" blocks inside a user turn. Consecutive turns of
// the same role are merged because the API requires strict alternation.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/MrWong99/fileagent/pkg/provider/llm"
	"github.com/MrWong99/fileagent/pkg/types"
)

// DefaultMaxTokens is sent when the request does not set MaxTokens; the
// Messages API requires the field.
const DefaultMaxTokens = 1024

// Provider implements llm.Provider using the Anthropic API.
type Provider struct {
	client sdk.Client
	model  string
}

type config struct {
	baseURL    string
	timeout    time.Duration
	httpClient *http.Client
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default Anthropic API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithHTTPClient replaces the HTTP client used for API calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// New constructs a new Anthropic LLM Provider.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anthropic: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	switch {
	case cfg.httpClient != nil:
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	case cfg.timeout > 0:
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{client: sdk.NewClient(reqOpts...), model: model}, nil
}

// Name implements llm.Provider.
func (p *Provider) Name() string { return "anthropic" }

// ToolRequestMessage implements llm.Provider.
func (p *Provider) ToolRequestMessage(calls []types.ToolCall) types.Message {
	return llm.InlineToolRequest(calls)
}

// ToolResultMessage implements llm.Provider. Results are recorded as user
// turns; consecutive results are merged into one turn when the request is
// built.
func (p *Provider) ToolResultMessage(call types.ToolCall, result types.ToolResult) types.Message {
	r := result
	r.CallID = call.ID
	r.Name = call.Name
	return types.Message{Role: types.RoleUser, ToolResults: []types.ToolResult{r}}
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: build params: %w", err)
	}
	msg, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic: messages: %w", err)
	}
	return convertResponse(msg), nil
}

// StreamCompletion implements llm.Provider. Text deltas are forwarded as they
// arrive; tool_use blocks are emitted on the final chunk once the accumulated
// message is complete.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, fmt.Errorf("anthropic: build params: %w", err)
	}

	stream := p.client.Messages.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("anthropic: start stream: %w", err)
	}

	ch := make(chan llm.Chunk, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		send := func(c llm.Chunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		acc := sdk.Message{}
		for stream.Next() {
			event := stream.Current()
			if err := acc.Accumulate(event); err != nil {
				send(llm.Chunk{FinishReason: llm.FinishReasonError, Text: err.Error()})
				return
			}

			switch ev := event.AsAny().(type) {
			case sdk.ContentBlockDeltaEvent:
				if td, ok := ev.Delta.AsAny().(sdk.TextDelta); ok && td.Text != "" {
					if !send(llm.Chunk{Text: td.Text}) {
						return
					}
				}
			case sdk.MessageStopEvent:
				final := convertResponse(&acc)
				reason := string(acc.StopReason)
				if reason == "" {
					reason = "end_turn"
				}
				send(llm.Chunk{FinishReason: reason, ToolCalls: final.ToolCalls})
				return
			}
		}

		if err := stream.Err(); err != nil {
			send(llm.Chunk{FinishReason: llm.FinishReasonError, Text: err.Error()})
		}
	}()

	return ch, nil
}

// convertResponse maps a Messages API response onto the provider-neutral
// response.
func convertResponse(msg *sdk.Message) *llm.CompletionResponse {
	var text strings.Builder
	resp := &llm.CompletionResponse{
		Usage: llm.Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
			TotalTokens:      int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}
	for _, block := range msg.Content {
		switch b := block.AsAny().(type) {
		case sdk.TextBlock:
			text.WriteString(b.Text)
		case sdk.ToolUseBlock:
			args := string(b.Input)
			if args == "" {
				args = "{}"
			}
			resp.ToolCalls = append(resp.ToolCalls, types.ToolCall{
				ID:        b.ID,
				Name:      b.Name,
				Arguments: args,
			})
		}
	}
	resp.Content = text.String()
	return resp
}

// buildParams converts a CompletionRequest into Anthropic SDK params.
func (p *Provider) buildParams(req llm.CompletionRequest) (sdk.MessageNewParams, error) {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	system, turns, err := convertMessages(req.SystemPrompt, req.Messages)
	if err != nil {
		return sdk.MessageNewParams{}, err
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(p.model),
		MaxTokens: int64(maxTokens),
		Messages:  turns,
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if req.Temperature != 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}

	for _, td := range req.Tools {
		tool := &sdk.ToolParam{
			Name:        td.Name,
			InputSchema: inputSchema(td.Parameters),
		}
		if td.Description != "" {
			tool.Description = sdk.String(td.Description)
		}
		params.Tools = append(params.Tools, sdk.ToolUnionParam{OfTool: tool})
	}
	return params, nil
}

// inputSchema extracts the properties and required list from a JSON Schema
// object.
func inputSchema(schema map[string]any) sdk.ToolInputSchemaParam {
	out := sdk.ToolInputSchemaParam{Properties: map[string]any{}}
	if props, ok := schema["properties"]; ok {
		out.Properties = props
	}
	switch req := schema["required"].(type) {
	case []string:
		out.Required = req
	case []any:
		for _, r := range req {
			if s, ok := r.(string); ok {
				out.Required = append(out.Required, s)
			}
		}
	}
	return out
}

// convertMessages lifts system messages into the system field and renders the
// remaining log as alternating user/assistant turns.
func convertMessages(systemPrompt string, msgs []types.Message) (string, []sdk.MessageParam, error) {
	systemParts := []string{}
	if systemPrompt != "" {
		systemParts = append(systemParts, systemPrompt)
	}

	var turns []sdk.MessageParam
	appendTurn := func(role sdk.MessageParamRole, blocks []sdk.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		if n := len(turns); n > 0 && turns[n-1].Role == role {
			turns[n-1].Content = append(turns[n-1].Content, blocks...)
			return
		}
		turns = append(turns, sdk.MessageParam{Role: role, Content: blocks})
	}

	for _, m := range msgs {
		switch m.Role {
		case types.RoleSystem:
			if m.Content != "" && m.Content != systemPrompt {
				systemParts = append(systemParts, m.Content)
			}

		case types.RoleUser:
			var blocks []sdk.ContentBlockParamUnion
			for _, r := range m.ToolResults {
				blocks = append(blocks, sdk.NewToolResultBlock(r.CallID, r.Content, r.IsError))
			}
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			appendTurn(sdk.MessageParamRoleUser, blocks)

		case types.RoleTool:
			appendTurn(sdk.MessageParamRoleUser, []sdk.ContentBlockParamUnion{
				sdk.NewToolResultBlock(m.ToolCallID, m.Content, m.IsError),
			})

		case types.RoleAssistant:
			var blocks []sdk.ContentBlockParamUnion
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, tc := range m.ToolCalls {
				blocks = append(blocks, sdk.NewToolUseBlock(tc.ID, toolInput(tc.Arguments), tc.Name))
			}
			appendTurn(sdk.MessageParamRoleAssistant, blocks)

		default:
			return "", nil, fmt.Errorf("anthropic: unknown message role %q", m.Role)
		}
	}

	return strings.Join(systemParts, "\n\n"), turns, nil
}

// toolInput returns the call arguments as raw JSON, substituting an empty
// object for missing or malformed input.
func toolInput(args string) json.RawMessage {
	if strings.TrimSpace(args) == "" || !json.Valid([]byte(args)) {
		return json.RawMessage("{}")
	}
	return json.RawMessage(args)
}
