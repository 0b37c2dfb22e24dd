package agent

import "github.com/MrWong99/fileagent/pkg/types"

// State is a phase of the tool-use loop.
type State int

const (
	// AwaitingUserInput waits for the next non-empty line from the user.
	AwaitingUserInput State = iota

	// AwaitingModel has a model call outstanding.
	AwaitingModel

	// ExecutingTools drains a batch of tool calls requested by the model.
	ExecutingTools

	// Stopped is terminal.
	Stopped
)

// String implements [fmt.Stringer].
func (s State) String() string {
	switch s {
	case AwaitingUserInput:
		return "awaiting_user_input"
	case AwaitingModel:
		return "awaiting_model"
	case ExecutingTools:
		return "executing_tools"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// step is a transition target. batch is only set when next is
// [ExecutingTools]; no other state carries pending tool calls.
type step struct {
	next  State
	batch []types.ToolCall
}

func to(s State) step { return step{next: s} }

func executing(batch []types.ToolCall) step {
	return step{next: ExecutingTools, batch: batch}
}
