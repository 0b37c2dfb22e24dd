package agent

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/MrWong99/fileagent/internal/observe"
	"github.com/MrWong99/fileagent/internal/tools"
	"github.com/MrWong99/fileagent/internal/tools/fileio"
	"github.com/MrWong99/fileagent/pkg/provider/llm"
	"github.com/MrWong99/fileagent/pkg/provider/llm/mock"
	"github.com/MrWong99/fileagent/pkg/types"
)

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

type fixture struct {
	session *Session
	out     *bytes.Buffer
	reader  *sdkmetric.ManualReader
}

func newTestMetrics(t *testing.T) (*observe.Metrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	return m, reader
}

// newFixture wires p to the real file tools rooted at dir.
func newFixture(t *testing.T, p llm.Provider, dir, input string, streaming bool) fixture {
	t.Helper()
	m, reader := newTestMetrics(t)
	exec := tools.NewExecutor(tools.WithMetrics(m))
	if err := exec.RegisterAll(fileio.NewTools(fileio.Options{Root: dir, Filter: fileio.DefaultFilter()})); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	out := &bytes.Buffer{}
	s, err := NewSession(Config{
		Provider:     p,
		Tools:        exec,
		SystemPrompt: "You are a file agent.",
		MaxTokens:    1024,
		Streaming:    streaming,
		Input:        strings.NewReader(input),
		Output:       out,
		Metrics:      m,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return fixture{session: s, out: out, reader: reader}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func call(id, name, args string) types.ToolCall {
	return types.ToolCall{ID: id, Name: name, Arguments: args}
}

func sumCounter(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

// ─────────────────────────────────────────────────────────────────────────────
// State / construction
// ─────────────────────────────────────────────────────────────────────────────

func TestState_String(t *testing.T) {
	t.Parallel()
	tests := map[State]string{
		AwaitingUserInput: "awaiting_user_input",
		AwaitingModel:     "awaiting_model",
		ExecutingTools:    "executing_tools",
		Stopped:           "stopped",
		State(42):         "unknown",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}

func TestNewSession_Validation(t *testing.T) {
	t.Parallel()
	if _, err := NewSession(Config{Tools: tools.NewExecutor()}); err == nil {
		t.Error("expected error for nil provider")
	}
	if _, err := NewSession(Config{Provider: &mock.Provider{}}); err == nil {
		t.Error("expected error for nil tools")
	}
	s, err := NewSession(Config{Provider: &mock.Provider{}, Tools: tools.NewExecutor()})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if s.State() != AwaitingUserInput {
		t.Errorf("initial state = %v", s.State())
	}
}

func TestBanner(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	Banner(&buf, "anthropic")
	want := "🤖 File Agent (using ANTHROPIC) - Ready to help!\nType 'quit' to exit\n" + strings.Repeat("-", 50) + "\n"
	if buf.String() != want {
		t.Errorf("Banner = %q", buf.String())
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// AwaitingUserInput
// ─────────────────────────────────────────────────────────────────────────────

func TestRun_QuitTokensStopWithoutModelCall(t *testing.T) {
	t.Parallel()
	for _, input := range []string{"quit\n", "  EXIT  \n", "Q\n", "\n\nq\n"} {
		p := &mock.Provider{}
		f := newFixture(t, p, t.TempDir(), input, false)

		if err := f.session.Run(context.Background()); err != nil {
			t.Fatalf("Run(%q): %v", input, err)
		}
		if f.session.State() != Stopped {
			t.Errorf("Run(%q) state = %v, want stopped", input, f.session.State())
		}
		if p.CallCount() != 0 {
			t.Errorf("Run(%q) made %d model calls, want 0", input, p.CallCount())
		}
		if !strings.Contains(f.out.String(), goodbye) {
			t.Errorf("Run(%q) output missing goodbye: %q", input, f.out.String())
		}
	}
}

func TestRun_EmptyInputReprompts(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Turns: []mock.Turn{mock.TextTurn("hi there")}}
	f := newFixture(t, p, t.TempDir(), "\n   \nhello\nquit\n", false)

	if err := f.session.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := strings.Count(f.out.String(), promptYou); got != 4 {
		t.Errorf("prompt count = %d, want 4", got)
	}
	if p.CallCount() != 1 {
		t.Fatalf("CallCount = %d, want 1", p.CallCount())
	}
	msgs := p.Calls[0].Req.Messages
	if len(msgs) != 1 || msgs[0].Role != types.RoleUser || msgs[0].Content != "hello" {
		t.Errorf("first request messages = %+v", msgs)
	}
}

func TestRun_EndOfInputStops(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Turns: []mock.Turn{mock.TextTurn("answer")}}
	f := newFixture(t, p, t.TempDir(), "question", false)

	if err := f.session.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if f.session.State() != Stopped {
		t.Errorf("state = %v", f.session.State())
	}
	log := f.session.Messages()
	if len(log) != 2 || log[1].Role != types.RoleAssistant || log[1].Content != "answer" {
		t.Errorf("log = %+v", log)
	}
	if !strings.Contains(f.out.String(), promptAgent+"answer\n") {
		t.Errorf("output = %q", f.out.String())
	}
}

func TestRun_CancelWhileWaitingForInput(t *testing.T) {
	t.Parallel()
	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pw.Close() })

	m, _ := newTestMetrics(t)
	s, err := NewSession(Config{Provider: &mock.Provider{}, Tools: tools.NewExecutor(tools.WithMetrics(m)), Input: pr, Metrics: m})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run err = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not observe cancellation")
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Tool batches
// ─────────────────────────────────────────────────────────────────────────────

func TestRun_BatchFullyAnsweredBeforeNextCall(t *testing.T) {
	t.Parallel()
	for _, shape := range []mock.Shape{mock.ShapeInline, mock.ShapeUserBlocks} {
		dir := t.TempDir()
		writeFile(t, filepath.Join(dir, "a.txt"), "alpha")

		batch := []types.ToolCall{
			call("c1", "list_files", `{"path":"."}`),
			call("c2", "read_file", `{"filepath":"a.txt"}`),
			call("c3", "delete_everything", `{}`),
		}
		p := &mock.Provider{
			ResultShape: shape,
			Turns:       []mock.Turn{mock.ToolTurn(batch...), mock.TextTurn("done")},
		}
		f := newFixture(t, p, dir, "go\nquit\n", false)

		if err := f.session.Run(context.Background()); err != nil {
			t.Fatalf("shape %d: Run: %v", shape, err)
		}
		if p.CallCount() != 2 {
			t.Fatalf("shape %d: CallCount = %d, want 2", shape, p.CallCount())
		}

		second := p.Calls[1].Req.Messages
		if pending := types.UnansweredToolCalls(second); len(pending) != 0 {
			t.Errorf("shape %d: second call issued with pending calls %v", shape, pending)
		}
		// user, assistant(tool calls), three results.
		if len(second) != 5 {
			t.Fatalf("shape %d: second request has %d messages, want 5", shape, len(second))
		}
		if got := second[1].ToolCalls; len(got) != 3 || got[0].ID != "c1" || got[2].ID != "c3" {
			t.Errorf("shape %d: tool request = %+v", shape, got)
		}
		for i, want := range []string{"c1", "c2", "c3"} {
			ids := second[2+i].ResultIDs()
			if len(ids) != 1 || ids[0] != want {
				t.Errorf("shape %d: result %d ids = %v, want [%s]", shape, i, ids, want)
			}
		}

		out := f.out.String()
		i1 := strings.Index(out, "🔧 Calling tool: list_files with args: {\"path\":\".\"}")
		i2 := strings.Index(out, "🔧 Calling tool: read_file with args: {\"filepath\":\"a.txt\"}")
		i3 := strings.Index(out, "🔧 Calling tool: delete_everything with args: {}")
		if i1 < 0 || i2 < i1 || i3 < i2 {
			t.Errorf("shape %d: diagnostics missing or out of order:\n%s", shape, out)
		}
	}
}

func TestRun_UnknownToolKeepsLoopAlive(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Turns: []mock.Turn{
		mock.ToolTurn(call("c1", "rm_rf", `{}`)),
		mock.TextTurn("I cannot do that."),
	}}
	f := newFixture(t, p, t.TempDir(), "delete it\nquit\n", false)

	if err := f.session.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	res := p.Calls[1].Req.Messages[2]
	if res.Role != types.RoleTool || res.Content != "Error: Unknown tool 'rm_rf'" {
		t.Errorf("result message = %+v", res)
	}
}

func TestRun_EnvHiddenScenario(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ".env"), "API_KEY=secret")
	writeFile(t, filepath.Join(dir, "main.go"), "package main")
	writeFile(t, filepath.Join(dir, "README.md"), "# readme")

	p := &mock.Provider{Turns: []mock.Turn{
		mock.ToolTurn(call("c1", "list_files", `{"path":"."}`)),
		mock.TextTurn("The directory has README.md and main.go."),
	}}
	f := newFixture(t, p, dir, "what files are in the current directory excluding secrets\nquit\n", false)

	if err := f.session.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	result := p.Calls[1].Req.Messages[2].Content
	if strings.Contains(result, ".env") {
		t.Errorf("listing leaked restricted entry: %q", result)
	}
	for _, want := range []string{"📄 README.md", "📄 main.go", "(Hidden 1 file(s) for security reasons)"} {
		if !strings.Contains(result, want) {
			t.Errorf("listing missing %q: %q", want, result)
		}
	}

	log := f.session.Messages()
	final := log[len(log)-1]
	if final.Role != types.RoleAssistant || strings.Contains(final.Content, ".env") {
		t.Errorf("final answer = %+v", final)
	}
	if f.session.State() != Stopped {
		t.Errorf("state = %v", f.session.State())
	}
}

func TestRun_MissingFileScenarioWithRetry(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "present.txt"), "here I am")

	p := &mock.Provider{Turns: []mock.Turn{
		mock.ToolTurn(call("c1", "read_file", `{"filepath":"missing.txt"}`)),
		mock.ToolTurn(call("c2", "read_file", `{"filepath":"present.txt"}`)),
		mock.TextTurn("missing.txt does not exist, but present.txt says: here I am"),
	}}
	f := newFixture(t, p, dir, "read missing.txt\nquit\n", false)

	if err := f.session.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if p.CallCount() != 3 {
		t.Fatalf("CallCount = %d, want 3", p.CallCount())
	}

	first := p.Calls[1].Req.Messages[2]
	if first.Content != "Error: File 'missing.txt' does not exist" {
		t.Errorf("first result = %q", first.Content)
	}
	second := p.Calls[2].Req.Messages[4]
	if second.Content != "Contents of 'present.txt':\n```\nhere I am\n```" {
		t.Errorf("second result = %q", second.Content)
	}
}

func TestRun_IncidentalTextFlushed(t *testing.T) {
	t.Parallel()
	for _, streaming := range []bool{false, true} {
		p := &mock.Provider{Turns: []mock.Turn{
			{Response: &llm.CompletionResponse{
				Content:   "Let me look.",
				ToolCalls: []types.ToolCall{call("c1", "list_files", `{}`)},
			}},
			mock.TextTurn("Nothing here."),
		}}
		f := newFixture(t, p, t.TempDir(), "look\nquit\n", streaming)

		if err := f.session.Run(context.Background()); err != nil {
			t.Fatalf("streaming=%v: Run: %v", streaming, err)
		}
		out := f.out.String()
		text := strings.Index(out, "Let me look.")
		tool := strings.Index(out, "🔧 Calling tool: list_files")
		if text < 0 || tool < text {
			t.Errorf("streaming=%v: incidental text not flushed before tool call:\n%s", streaming, out)
		}
		if strings.Count(out, "Let me look.") != 1 {
			t.Errorf("streaming=%v: incidental text written more than once:\n%s", streaming, out)
		}
		if got := p.Calls[1].Req.Messages[1]; got.Content != "Let me look." || len(got.ToolCalls) != 1 {
			t.Errorf("streaming=%v: tool request message = %+v", streaming, got)
		}
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Streaming
// ─────────────────────────────────────────────────────────────────────────────

func TestRun_StreamingWritesDeltas(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Turns: []mock.Turn{{
		Chunks: []llm.Chunk{{Text: "Hel"}, {Text: "lo!"}, {FinishReason: "stop"}},
	}}}
	f := newFixture(t, p, t.TempDir(), "hi\nquit\n", true)

	if err := f.session.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !p.Calls[0].Stream {
		t.Error("expected StreamCompletion")
	}
	if !strings.Contains(f.out.String(), promptAgent+"Hello!\n") {
		t.Errorf("output = %q", f.out.String())
	}
	log := f.session.Messages()
	if log[len(log)-1].Content != "Hello!" {
		t.Errorf("assistant message = %+v", log[len(log)-1])
	}
}

func TestRun_StreamErrorEndsSession(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Turns: []mock.Turn{{
		Chunks: []llm.Chunk{{Text: "partial"}, {FinishReason: llm.FinishReasonError, Text: "overloaded"}},
	}}}
	f := newFixture(t, p, t.TempDir(), "hi\nquit\n", true)

	err := f.session.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "overloaded") {
		t.Fatalf("Run err = %v", err)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Failures and guards
// ─────────────────────────────────────────────────────────────────────────────

func TestRun_ProviderErrorEndsSession(t *testing.T) {
	t.Parallel()
	boom := errors.New("401 unauthorized")
	p := &mock.Provider{Turns: []mock.Turn{mock.ErrTurn(boom)}}
	f := newFixture(t, p, t.TempDir(), "hi\nhello again\n", false)

	err := f.session.Run(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Run err = %v, want %v", err, boom)
	}
	if f.session.State() != Stopped {
		t.Errorf("state = %v", f.session.State())
	}
	if p.CallCount() != 1 {
		t.Errorf("CallCount = %d, want 1 (no retries)", p.CallCount())
	}
	if got := sumCounter(t, f.reader, "fileagent.provider.errors"); got != 1 {
		t.Errorf("provider errors = %d, want 1", got)
	}
}

func TestAwaitModel_RefusesUnansweredToolCalls(t *testing.T) {
	t.Parallel()
	p := &mock.Provider{Turns: []mock.Turn{mock.TextTurn("never")}}
	f := newFixture(t, p, t.TempDir(), "", false)
	f.session.log = []types.Message{
		{Role: types.RoleUser, Content: "hi"},
		llm.InlineToolRequest([]types.ToolCall{call("c1", "list_files", "{}"), call("c2", "list_files", "{}")}),
		llm.InlineToolResult(call("c1", "list_files", "{}"), types.ToolResult{Content: "ok"}),
	}

	err := f.session.drive(context.Background(), to(AwaitingModel), false)
	if !errors.Is(err, ErrUnansweredToolCalls) {
		t.Fatalf("err = %v, want ErrUnansweredToolCalls", err)
	}
	if !strings.Contains(err.Error(), "c2") {
		t.Errorf("error should name the pending call: %v", err)
	}
	if p.CallCount() != 0 {
		t.Errorf("model was called with unanswered tool calls")
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// One-shot
// ─────────────────────────────────────────────────────────────────────────────

func TestRunOnce(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "notes.md"), "remember")

	p := &mock.Provider{Turns: []mock.Turn{
		mock.ToolTurn(call("c1", "read_file", `{"filepath":"notes.md"}`)),
		mock.TextTurn("It says remember."),
	}}
	f := newFixture(t, p, dir, "ignored\n", false)

	got, err := f.session.RunOnce(context.Background(), "  what is in notes.md?  ")
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if got != "It says remember." {
		t.Errorf("RunOnce = %q", got)
	}
	if f.session.State() != Stopped {
		t.Errorf("state = %v", f.session.State())
	}
	if p.Calls[0].Req.Messages[0].Content != "what is in notes.md?" {
		t.Errorf("prompt not trimmed: %+v", p.Calls[0].Req.Messages[0])
	}
	if p.Calls[0].Req.SystemPrompt != "You are a file agent." || len(p.Calls[0].Req.Tools) != 2 {
		t.Errorf("request missing system prompt or tools: %+v", p.Calls[0].Req)
	}
	if strings.Contains(f.out.String(), promptYou) {
		t.Error("one-shot mode must not prompt for input")
	}

	if _, err := f.session.RunOnce(context.Background(), "   "); err == nil {
		t.Error("expected error for empty prompt")
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Observability
// ─────────────────────────────────────────────────────────────────────────────

func TestRun_RecordsSpansAndMetrics(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exp))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	orig := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(orig) })

	p := &mock.Provider{Turns: []mock.Turn{
		mock.ToolTurn(call("c1", "list_files", `{}`)),
		mock.TextTurn("ok"),
	}}
	f := newFixture(t, p, t.TempDir(), "one\nquit\n", false)

	if err := f.session.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	counts := map[string]int{}
	for _, s := range exp.GetSpans() {
		counts[s.Name]++
	}
	if counts["agent.model_call"] != 2 || counts["agent.tool_call"] != 1 {
		t.Errorf("span counts = %v", counts)
	}

	if got := sumCounter(t, f.reader, "fileagent.turns"); got != 1 {
		t.Errorf("turns = %d, want 1", got)
	}
	if got := sumCounter(t, f.reader, "fileagent.provider.requests"); got != 2 {
		t.Errorf("provider requests = %d, want 2", got)
	}
	if got := sumCounter(t, f.reader, "fileagent.tool.calls"); got != 1 {
		t.Errorf("tool calls = %d, want 1", got)
	}
}
