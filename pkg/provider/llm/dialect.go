package llm

import (
	"github.com/MrWong99/fileagent/pkg/types"
)

// InlineToolRequest is the OpenAI-style shape of a tool-call turn: an
// assistant message carrying the calls. Providers that speak the OpenAI
// dialect return it from ToolRequestMessage.
func InlineToolRequest(calls []types.ToolCall) types.Message {
	cp := make([]types.ToolCall, len(calls))
	copy(cp, calls)
	return types.Message{Role: types.RoleAssistant, ToolCalls: cp}
}

// InlineToolResult is the OpenAI-style shape of a tool result: a dedicated
// "tool" role message correlated by call ID.
func InlineToolResult(call types.ToolCall, result types.ToolResult) types.Message {
	return types.Message{
		Role:       types.RoleTool,
		ToolCallID: call.ID,
		Name:       call.Name,
		Content:    result.Content,
		IsError:    result.IsError,
	}
}

// FlattenToolResults expands user-role result turns into one "tool" role
// message per result, preceded by a user message when the turn also carries
// text. Messages of any other shape are passed through. OpenAI-style
// providers use it so that logs recorded in the Anthropic shape still
// serialize correctly.
func FlattenToolResults(msgs []types.Message) []types.Message {
	out := make([]types.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != types.RoleUser || len(m.ToolResults) == 0 {
			out = append(out, m)
			continue
		}
		for _, r := range m.ToolResults {
			out = append(out, types.Message{
				Role:       types.RoleTool,
				ToolCallID: r.CallID,
				Name:       r.Name,
				Content:    r.Content,
				IsError:    r.IsError,
			})
		}
		if m.Content != "" {
			out = append(out, types.Message{Role: types.RoleUser, Content: m.Content})
		}
	}
	return out
}
