// Package tools defines the [Tool] type shared by the built-in tool packages
// and the [Executor] that dispatches model tool calls to them.
//
// The executor is the error boundary of the tool layer: whatever a handler
// does (return an error, panic, or get asked for a tool that does not exist)
// the caller receives a [types.ToolResult] whose content is text the model can
// read. Nothing a tool does is ever raised past Execute.
package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/fileagent/internal/observe"
	"github.com/MrWong99/fileagent/pkg/types"
)

// Tool represents a built-in tool ready for registration with an [Executor].
type Tool struct {
	// Definition is the tool's LLM-facing schema including its name,
	// description, and JSON Schema for its parameters.
	Definition types.ToolDefinition

	// Handler executes the tool with JSON-encoded args and returns the
	// text result on success, or a descriptive error. The error message is
	// shown to the model, so it should read as a sentence.
	Handler func(ctx context.Context, args string) (string, error)
}

// Executor holds the tool registry. Tools are executed one at a time by the
// caller; the registry itself is safe for concurrent use so that the MCP
// server can share it.
type Executor struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	order   []string
	metrics *observe.Metrics
}

// Option configures an [Executor].
type Option func(*Executor)

// WithMetrics records tool call counters and latencies on m instead of
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Executor) { e.metrics = m }
}

// NewExecutor returns an empty executor.
func NewExecutor(opts ...Option) *Executor {
	e := &Executor{tools: make(map[string]Tool)}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e
}

// Register adds t to the registry. A tool with the same name is replaced in
// place, keeping its original position in [Executor.Definitions].
func (e *Executor) Register(t Tool) error {
	if t.Definition.Name == "" {
		return fmt.Errorf("tools: tool must have a non-empty name")
	}
	if t.Handler == nil {
		return fmt.Errorf("tools: tool %q must have a non-nil handler", t.Definition.Name)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.tools[t.Definition.Name]; !exists {
		e.order = append(e.order, t.Definition.Name)
	}
	e.tools[t.Definition.Name] = t
	return nil
}

// RegisterAll registers every tool in ts, stopping at the first error.
func (e *Executor) RegisterAll(ts []Tool) error {
	for _, t := range ts {
		if err := e.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Definitions returns the schemas of all registered tools in registration
// order.
func (e *Executor) Definitions() []types.ToolDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	defs := make([]types.ToolDefinition, 0, len(e.order))
	for _, name := range e.order {
		defs = append(defs, e.tools[name].Definition)
	}
	return defs
}

// Execute runs call and returns its result. It never returns an error: an
// unknown tool name, a handler error, or a handler panic are all reported as
// a result with IsError set and an "Error: " prefixed message.
func (e *Executor) Execute(ctx context.Context, call types.ToolCall) types.ToolResult {
	result := types.ToolResult{CallID: call.ID, Name: call.Name}

	e.mu.RLock()
	t, ok := e.tools[call.Name]
	e.mu.RUnlock()

	if !ok {
		observe.Logger(ctx).Warn("model requested unknown tool", "tool", call.Name)
		e.metrics.RecordToolCall(ctx, call.Name, "unknown")
		result.Content = fmt.Sprintf("Error: Unknown tool '%s'", call.Name)
		result.IsError = true
		return result
	}

	args := call.Arguments
	if args == "" {
		args = "{}"
	}

	start := time.Now()
	out, err := runHandler(ctx, t.Handler, args)
	e.metrics.RecordToolDuration(ctx, call.Name, time.Since(start))

	if err != nil {
		observe.Logger(ctx).Debug("tool returned error", "tool", call.Name, "err", err)
		e.metrics.RecordToolCall(ctx, call.Name, "error")
		result.Content = "Error: " + err.Error()
		result.IsError = true
		return result
	}

	e.metrics.RecordToolCall(ctx, call.Name, "ok")
	result.Content = out
	return result
}

// runHandler calls h and converts a panic into an error.
func runHandler(ctx context.Context, h func(context.Context, string) (string, error), args string) (out string, err error) {
	defer func() {
		if r := recover(); r != nil {
			observe.Logger(ctx).Error("tool handler panicked", "panic", r)
			out, err = "", fmt.Errorf("tool failed unexpectedly: %v", r)
		}
	}()
	return h(ctx, args)
}
