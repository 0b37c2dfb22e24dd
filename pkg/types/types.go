// Package types defines the conversation types shared by the provider
// adapters, the tool executor, and the tool-use loop.
//
// These types form the lingua franca between vendor dialects. They are
// intentionally minimal: each provider package translates them into its own
// SDK shapes and never stores SDK types in the conversation log.
package types

// Role identifies the author of a [Message].
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// IsValid reports whether r is a recognised role.
func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// Message represents a single turn in an LLM conversation history.
//
// Tool results come in one of two shapes depending on the vendor dialect that
// produced them: a [RoleTool] message carrying ToolCallID, Name and Content,
// or a [RoleUser] message carrying ToolResults. Every provider adapter must be
// able to render both shapes.
type Message struct {
	// Role is the author of the message.
	Role Role

	// Content is the text content of the message.
	Content string

	// Name is the tool name when Role is "tool".
	Name string

	// ToolCalls contains any tool invocations requested by the assistant.
	ToolCalls []ToolCall

	// ToolCallID is set when Role is "tool", identifying which tool call this responds to.
	ToolCallID string

	// IsError marks the Content of a "tool" message as an error description.
	// OpenAI-style wires drop it; block-style wires send it as is_error.
	IsError bool

	// ToolResults carries typed result blocks for user-role result turns.
	ToolResults []ToolResult
}

// ToolCall represents a tool/function invocation requested by the LLM.
type ToolCall struct {
	// ID is the unique identifier for this tool call (provider-assigned).
	ID string

	// Name is the tool/function name.
	Name string

	// Arguments is the JSON-encoded arguments object.
	Arguments string
}

// ToolResult is the textual outcome of executing one [ToolCall]. Failures are
// represented as content with IsError set, never as Go errors.
type ToolResult struct {
	// CallID matches the originating ToolCall.ID.
	CallID string

	// Name is the tool that produced the result.
	Name string

	// Content is the success payload or a human-readable error.
	Content string

	// IsError marks Content as an error description.
	IsError bool
}

// ToolDefinition describes a tool that can be offered to an LLM.
type ToolDefinition struct {
	// Name is the tool's unique identifier.
	Name string

	// Description explains what the tool does (included in LLM prompts).
	Description string

	// Parameters is the JSON Schema describing the tool's input parameters.
	Parameters map[string]any
}

// ResultIDs returns the tool call IDs answered by m, in order. It returns nil
// for messages that carry no tool results.
func (m Message) ResultIDs() []string {
	if m.Role == RoleTool && m.ToolCallID != "" {
		return []string{m.ToolCallID}
	}
	if len(m.ToolResults) == 0 {
		return nil
	}
	ids := make([]string, len(m.ToolResults))
	for i, r := range m.ToolResults {
		ids[i] = r.CallID
	}
	return ids
}

// UnansweredToolCalls returns the IDs of tool calls in log that have no
// matching result later in the log. The returned slice preserves request order.
func UnansweredToolCalls(log []Message) []string {
	var pending []string
	for _, m := range log {
		for _, id := range m.ResultIDs() {
			for i, p := range pending {
				if p == id {
					pending = append(pending[:i], pending[i+1:]...)
					break
				}
			}
		}
		for _, tc := range m.ToolCalls {
			pending = append(pending, tc.ID)
		}
	}
	return pending
}
