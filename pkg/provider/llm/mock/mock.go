// Package mock provides a test double for the llm.Provider interface.
//
// Provider plays back a script of model turns, one per Complete or
// StreamCompletion call, and records every request it receives. Use it to
// drive the tool-use loop through multi-round conversations without a live
// backend.
//
// Example:
//
//	p := &mock.Provider{Turns: []mock.Turn{
//	    mock.ToolTurn(types.ToolCall{ID: "c1", Name: "list_files", Arguments: "{}"}),
//	    mock.TextTurn("There are two files."),
//	}}
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/fileagent/pkg/provider/llm"
	"github.com/MrWong99/fileagent/pkg/types"
)

// ErrScriptExhausted is returned once every scripted turn has been consumed.
var ErrScriptExhausted = errors.New("mock: no scripted turns left")

// Shape selects how the mock records tool results in the conversation log.
type Shape int

const (
	// ShapeInline records results as "tool" role messages (OpenAI dialect).
	ShapeInline Shape = iota
	// ShapeUserBlocks records results as user turns carrying ToolResults
	// (Anthropic dialect).
	ShapeUserBlocks
)

// Turn is one scripted model reply.
type Turn struct {
	// Response is returned by Complete. StreamCompletion synthesises chunks
	// from it when Chunks is nil.
	Response *llm.CompletionResponse

	// Chunks, if set, are emitted verbatim by StreamCompletion.
	Chunks []llm.Chunk

	// Err, if non-nil, is returned by the call instead of a response.
	Err error
}

// TextTurn scripts a plain text reply.
func TextTurn(text string) Turn {
	return Turn{Response: &llm.CompletionResponse{Content: text}}
}

// ToolTurn scripts a tool-call reply.
func ToolTurn(calls ...types.ToolCall) Turn {
	return Turn{Response: &llm.CompletionResponse{ToolCalls: calls}}
}

// ErrTurn scripts a vendor failure.
func ErrTurn(err error) Turn {
	return Turn{Err: err}
}

// Call records a single invocation of Complete or StreamCompletion.
type Call struct {
	// Ctx is the context passed to the method.
	Ctx context.Context
	// Req is the CompletionRequest passed to the method. Messages is a copy
	// taken at call time.
	Req llm.CompletionRequest
	// Stream is true for StreamCompletion.
	Stream bool
}

// Provider is a mock implementation of llm.Provider.
// All exported fields are safe to set before the first call; mutating them
// during a concurrent call is the caller's responsibility.
type Provider struct {
	mu   sync.Mutex
	next int

	// ProviderName is returned by Name. Defaults to "mock".
	ProviderName string

	// Turns is the script, consumed in order.
	Turns []Turn

	// ResultShape selects the tool-result message shape.
	ResultShape Shape

	// Calls records every model invocation in order.
	Calls []Call
}

// Name implements llm.Provider.
func (p *Provider) Name() string {
	if p.ProviderName == "" {
		return "mock"
	}
	return p.ProviderName
}

// ToolRequestMessage implements llm.Provider.
func (p *Provider) ToolRequestMessage(calls []types.ToolCall) types.Message {
	return llm.InlineToolRequest(calls)
}

// ToolResultMessage implements llm.Provider.
func (p *Provider) ToolResultMessage(call types.ToolCall, result types.ToolResult) types.Message {
	if p.ResultShape == ShapeUserBlocks {
		r := result
		r.CallID = call.ID
		r.Name = call.Name
		return types.Message{Role: types.RoleUser, ToolResults: []types.ToolResult{r}}
	}
	return llm.InlineToolResult(call, result)
}

// take records the call and pops the next scripted turn.
func (p *Provider) take(ctx context.Context, req llm.CompletionRequest, stream bool) (Turn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	msgs := make([]types.Message, len(req.Messages))
	copy(msgs, req.Messages)
	req.Messages = msgs
	p.Calls = append(p.Calls, Call{Ctx: ctx, Req: req, Stream: stream})

	if p.next >= len(p.Turns) {
		return Turn{}, ErrScriptExhausted
	}
	t := p.Turns[p.next]
	p.next++
	return t, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	t, err := p.take(ctx, req, false)
	if err != nil {
		return nil, err
	}
	if t.Err != nil {
		return nil, t.Err
	}
	if t.Response == nil {
		return &llm.CompletionResponse{}, nil
	}
	resp := *t.Response
	return &resp, nil
}

// StreamCompletion implements llm.Provider. A scripted Err is returned as the
// start error.
func (p *Provider) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	t, err := p.take(ctx, req, true)
	if err != nil {
		return nil, err
	}
	if t.Err != nil {
		return nil, t.Err
	}

	chunks := t.Chunks
	if chunks == nil {
		chunks = synthesize(t.Response)
	}

	ch := make(chan llm.Chunk, len(chunks))
	go func() {
		defer close(ch)
		for _, c := range chunks {
			select {
			case <-ctx.Done():
				return
			case ch <- c:
			}
		}
	}()
	return ch, nil
}

// synthesize splits a response into a text chunk and a final chunk.
func synthesize(resp *llm.CompletionResponse) []llm.Chunk {
	if resp == nil {
		return []llm.Chunk{{FinishReason: "stop"}}
	}
	var out []llm.Chunk
	if resp.Content != "" {
		out = append(out, llm.Chunk{Text: resp.Content})
	}
	final := llm.Chunk{FinishReason: "stop"}
	if len(resp.ToolCalls) > 0 {
		final.FinishReason = "tool_calls"
		final.ToolCalls = resp.ToolCalls
	}
	return append(out, final)
}

// CallCount returns the number of model invocations so far. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears recorded calls and rewinds the script. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
	p.next = 0
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
