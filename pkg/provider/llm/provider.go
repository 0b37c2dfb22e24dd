// Package llm defines the Provider interface for Large Language Model backends.
//
// An LLM provider wraps a remote or local model API (e.g., OpenAI GPT-4o,
// Anthropic Claude, or a local Ollama instance) and exposes a uniform
// interface to the tool-use loop: send the conversation, the system prompt and
// the tool schema; receive either visible text or a batch of tool-call
// requests. Providers also own the shape in which tool requests and tool
// results are recorded in the conversation log, because the vendors disagree
// on it.
//
// Channels returned by StreamCompletion must be closed by the implementation
// when the stream ends or when the supplied context is cancelled.
package llm

import (
	"context"

	"github.com/MrWong99/fileagent/pkg/types"
)

// FinishReasonError marks a [Chunk] that carries a mid-stream error in its
// Text field.
const FinishReasonError = "error"

// Usage holds token accounting information returned by the LLM backend.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the input messages and
	// system prompt.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// CompletionRequest carries everything the LLM needs to produce a response.
// At minimum Messages must be non-empty.
type CompletionRequest struct {
	// Messages is the ordered conversation log. Providers must treat it as
	// read-only.
	Messages []types.Message

	// Tools is the set of tool definitions offered to the model. It is passed
	// unmodified on every request.
	Tools []types.ToolDefinition

	// SystemPrompt is the fixed instruction string. OpenAI-style providers send
	// it as an inline "system" message; Anthropic sends it in a separate field.
	SystemPrompt string

	// MaxTokens caps the number of completion tokens. Zero means provider default.
	MaxTokens int

	// Temperature controls output randomness. Zero means provider default.
	Temperature float64
}

// Chunk is a single fragment emitted by a streaming completion.
type Chunk struct {
	// Text is the incremental text content of this chunk.
	Text string

	// FinishReason is set on the final chunk: "stop", "length", "tool_calls",
	// "tool_use", or [FinishReasonError].
	FinishReason string

	// ToolCalls carries the fully accumulated tool invocations. Providers emit
	// them once, on the final chunk.
	ToolCalls []types.ToolCall
}

// CompletionResponse is the unified result of one model turn.
//
// A turn is either a text turn or a tool-call turn, never both: when
// ToolCalls is non-empty, Content is incidental text the model produced
// alongside its requests and the caller must surface it immediately.
type CompletionResponse struct {
	// Content is the text of the assistant's reply.
	Content string

	// ToolCalls lists all tool invocations requested by the model, in order.
	ToolCalls []types.ToolCall

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// IsToolTurn reports whether the model asked for tool execution.
func (r *CompletionResponse) IsToolTurn() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// Provider is the abstraction over one vendor calling convention.
//
// New vendors are added by implementing this interface; callers never branch
// on the provider name.
type Provider interface {
	// Name returns the registry identifier of the provider (e.g. "openai").
	Name() string

	// Complete sends req to the model and waits for the full response.
	// Vendor failures are returned wrapped; no retries are performed.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// StreamCompletion sends req to the model and returns a channel that emits
	// Chunk values as they arrive. The channel is closed when generation
	// finishes or ctx is cancelled. The initial error is non-nil only when the
	// stream could not be started; later failures arrive as a chunk with
	// FinishReason [FinishReasonError].
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan Chunk, error)

	// ToolRequestMessage returns the assistant message that records calls in
	// the conversation log. It must be appended before any of the results.
	ToolRequestMessage(calls []types.ToolCall) types.Message

	// ToolResultMessage returns the message that feeds result for call back to
	// the model.
	ToolResultMessage(call types.ToolCall, result types.ToolResult) types.Message
}
