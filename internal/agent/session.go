// Package agent implements the console tool-use loop.
//
// A [Session] owns the conversation log and drives an explicit state machine:
//
//	AwaitingUserInput ──line──▶ AwaitingModel ──tool calls──▶ ExecutingTools
//	        ▲                        │  ▲                            │
//	        └────────text────────────┘  └────────results appended────┘
//
// A quit token, end of input, or context cancellation moves the machine to
// [Stopped]. Exactly one model call or one tool call is in flight at a time,
// and every tool call in a batch is answered, in request order, before the
// model is called again.
package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/fileagent/internal/observe"
	"github.com/MrWong99/fileagent/pkg/provider/llm"
	"github.com/MrWong99/fileagent/pkg/types"
)

// ErrUnansweredToolCalls is returned when the log still holds tool calls
// without results at the moment a model call would be issued.
var ErrUnansweredToolCalls = errors.New("agent: unanswered tool calls")

// quitTokens end an interactive session. Matching is case-insensitive.
var quitTokens = map[string]bool{"quit": true, "exit": true, "q": true}

// Console strings.
const (
	promptYou    = "\n💬 You: "
	promptAgent  = "\n🤖 Agent: "
	goodbye      = "👋 Goodbye!"
	toolCallLine = "🔧 Calling tool: %s with args: %s\n"
)

// ToolExecutor runs tool calls on behalf of the loop. Execute never fails:
// every problem is encoded in the returned result.
type ToolExecutor interface {
	Definitions() []types.ToolDefinition
	Execute(ctx context.Context, call types.ToolCall) types.ToolResult
}

// Config holds the dependencies of a [Session].
//
// Provider and Tools are required. Input defaults to an empty reader and
// Output to [io.Discard].
type Config struct {
	Provider     llm.Provider
	Tools        ToolExecutor
	SystemPrompt string
	MaxTokens    int
	Temperature  float64

	// Streaming selects StreamCompletion over Complete. Text deltas are
	// written to Output as they arrive.
	Streaming bool

	Input  io.Reader
	Output io.Writer

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Session is one conversation. It is not safe for concurrent use; the loop
// is strictly sequential.
type Session struct {
	provider  llm.Provider
	tools     ToolExecutor
	defs      []types.ToolDefinition
	system    string
	maxTokens int
	temp      float64
	streaming bool
	out       io.Writer
	metrics   *observe.Metrics

	in    io.Reader
	lines <-chan lineResult

	state    State
	log      []types.Message
	lastText string
}

type lineResult struct {
	text string
	err  error
}

// NewSession validates cfg and returns a session in [AwaitingUserInput].
func NewSession(cfg Config) (*Session, error) {
	if cfg.Provider == nil {
		return nil, errors.New("agent: Provider must not be nil")
	}
	if cfg.Tools == nil {
		return nil, errors.New("agent: Tools must not be nil")
	}
	s := &Session{
		provider:  cfg.Provider,
		tools:     cfg.Tools,
		defs:      cfg.Tools.Definitions(),
		system:    cfg.SystemPrompt,
		maxTokens: cfg.MaxTokens,
		temp:      cfg.Temperature,
		streaming: cfg.Streaming,
		out:       cfg.Output,
		metrics:   cfg.Metrics,
		in:        cfg.Input,
		state:     AwaitingUserInput,
	}
	if s.out == nil {
		s.out = io.Discard
	}
	if s.in == nil {
		s.in = strings.NewReader("")
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s, nil
}

// State returns the current phase of the loop.
func (s *Session) State() State { return s.state }

// Messages returns a copy of the conversation log.
func (s *Session) Messages() []types.Message {
	out := make([]types.Message, len(s.log))
	copy(out, s.log)
	return out
}

// Banner writes the start-up banner for the given provider name.
func Banner(w io.Writer, provider string) {
	fmt.Fprintf(w, "🤖 File Agent (using %s) - Ready to help!\n", strings.ToUpper(provider))
	fmt.Fprintln(w, "Type 'quit' to exit")
	fmt.Fprintln(w, strings.Repeat("-", 50))
}

// Run drives the interactive loop until a quit token, end of input, a
// provider failure, or ctx cancellation. Reaching [Stopped] through a quit
// token or end of input returns nil.
func (s *Session) Run(ctx context.Context) error {
	return s.drive(ctx, to(AwaitingUserInput), true)
}

// RunOnce feeds prompt as a single user turn, runs the loop until the model
// answers in text, and stops. It returns the final answer.
func (s *Session) RunOnce(ctx context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return "", errors.New("agent: prompt must not be empty")
	}
	s.beginTurn(ctx, prompt)
	if err := s.drive(ctx, to(AwaitingModel), false); err != nil {
		return "", err
	}
	return s.lastText, nil
}

// drive runs the state machine from st. In one-shot mode returning to
// AwaitingUserInput stops the machine.
func (s *Session) drive(ctx context.Context, st step, interactive bool) error {
	for {
		s.state = st.next
		slog.Debug("agent: state", "state", s.state.String())

		var err error
		switch st.next {
		case AwaitingUserInput:
			if !interactive {
				st = to(Stopped)
				continue
			}
			st, err = s.awaitUserInput(ctx)
		case AwaitingModel:
			st, err = s.awaitModel(ctx)
		case ExecutingTools:
			st, err = s.executeTools(ctx, st.batch)
		case Stopped:
			return nil
		default:
			err = fmt.Errorf("agent: invalid state %d", int(st.next))
		}
		if err != nil {
			s.state = Stopped
			return err
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// AwaitingUserInput
// ─────────────────────────────────────────────────────────────────────────────

func (s *Session) awaitUserInput(ctx context.Context) (step, error) {
	if s.lines == nil {
		s.lines = readLines(s.in)
	}
	for {
		fmt.Fprint(s.out, promptYou)

		var line lineResult
		var ok bool
		select {
		case <-ctx.Done():
			return step{}, fmt.Errorf("agent: %w", ctx.Err())
		case line, ok = <-s.lines:
		}
		if !ok {
			// End of input.
			fmt.Fprintln(s.out)
			fmt.Fprintln(s.out, goodbye)
			return to(Stopped), nil
		}
		if line.err != nil {
			return step{}, fmt.Errorf("agent: read input: %w", line.err)
		}

		text := strings.TrimSpace(line.text)
		if quitTokens[strings.ToLower(text)] {
			fmt.Fprintln(s.out, goodbye)
			return to(Stopped), nil
		}
		if text == "" {
			continue
		}
		s.beginTurn(ctx, text)
		return to(AwaitingModel), nil
	}
}

func (s *Session) beginTurn(ctx context.Context, text string) {
	s.log = append(s.log, types.Message{Role: types.RoleUser, Content: text})
	s.metrics.RecordTurn(ctx, s.provider.Name())
}

// readLines scans r on its own goroutine so a blocked read never prevents
// the loop from observing cancellation.
func readLines(r io.Reader) <-chan lineResult {
	ch := make(chan lineResult)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			ch <- lineResult{text: sc.Text()}
		}
		if err := sc.Err(); err != nil {
			ch <- lineResult{err: err}
		}
	}()
	return ch
}

// ─────────────────────────────────────────────────────────────────────────────
// AwaitingModel
// ─────────────────────────────────────────────────────────────────────────────

func (s *Session) awaitModel(ctx context.Context) (step, error) {
	if pending := types.UnansweredToolCalls(s.log); len(pending) > 0 {
		return step{}, fmt.Errorf("%w: %s", ErrUnansweredToolCalls, strings.Join(pending, ", "))
	}

	fmt.Fprint(s.out, promptAgent)

	resp, err := s.callModel(ctx)
	if err != nil {
		return step{}, err
	}

	if resp.IsToolTurn() {
		// Incidental text is flushed now in both modes; streaming already
		// wrote it.
		if !s.streaming && resp.Content != "" {
			fmt.Fprint(s.out, resp.Content)
		}
		if resp.Content != "" {
			fmt.Fprintln(s.out)
		}

		msg := s.provider.ToolRequestMessage(resp.ToolCalls)
		if msg.Content == "" {
			msg.Content = resp.Content
		}
		s.log = append(s.log, msg)
		return executing(resp.ToolCalls), nil
	}

	if !s.streaming {
		fmt.Fprint(s.out, resp.Content)
	}
	fmt.Fprintln(s.out)
	s.log = append(s.log, types.Message{Role: types.RoleAssistant, Content: resp.Content})
	s.lastText = resp.Content
	return to(AwaitingUserInput), nil
}

func (s *Session) callModel(ctx context.Context) (resp *llm.CompletionResponse, err error) {
	name := s.provider.Name()
	kind := "complete"
	if s.streaming {
		kind = "stream"
	}

	ctx, span := observe.StartSpan(ctx, "agent.model_call",
		trace.WithAttributes(
			attribute.String("provider", name),
			attribute.String("kind", kind),
			attribute.Int("messages", len(s.log)),
		),
	)
	start := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "error"
			s.metrics.RecordProviderError(ctx, name, kind)
		} else {
			span.SetAttributes(
				attribute.Int("tool_calls", len(resp.ToolCalls)),
				attribute.Int("usage.total_tokens", resp.Usage.TotalTokens),
			)
		}
		s.metrics.RecordProviderRequest(ctx, name, kind, status, time.Since(start))
		observe.EndSpan(span, err)
	}()

	req := llm.CompletionRequest{
		Messages:     s.Messages(),
		Tools:        s.defs,
		SystemPrompt: s.system,
		MaxTokens:    s.maxTokens,
		Temperature:  s.temp,
	}

	if !s.streaming {
		resp, err = s.provider.Complete(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("agent: model call: %w", err)
		}
		if resp == nil {
			resp = &llm.CompletionResponse{}
		}
		return resp, nil
	}

	ch, err := s.provider.StreamCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("agent: model call: %w", err)
	}
	resp, err = llm.Collect(ctx, ch, func(text string) {
		fmt.Fprint(s.out, text)
	})
	if err != nil {
		return nil, fmt.Errorf("agent: model call: %w", err)
	}
	return resp, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// ExecutingTools
// ─────────────────────────────────────────────────────────────────────────────

func (s *Session) executeTools(ctx context.Context, batch []types.ToolCall) (step, error) {
	for _, call := range batch {
		if err := ctx.Err(); err != nil {
			return step{}, fmt.Errorf("agent: %w", err)
		}
		fmt.Fprintf(s.out, toolCallLine, call.Name, call.Arguments)

		result := s.executeTool(ctx, call)
		s.log = append(s.log, s.provider.ToolResultMessage(call, result))
	}
	return to(AwaitingModel), nil
}

func (s *Session) executeTool(ctx context.Context, call types.ToolCall) types.ToolResult {
	ctx, span := observe.StartSpan(ctx, "agent.tool_call",
		trace.WithAttributes(
			observe.Attr("tool", call.Name),
			observe.Attr("call_id", call.ID),
		),
	)
	defer span.End()

	result := s.tools.Execute(ctx, call)
	span.SetAttributes(attribute.Bool("is_error", result.IsError))
	if result.IsError {
		observe.Logger(ctx).Debug("agent: tool returned error", "tool", call.Name, "result", result.Content)
	}
	return result
}
