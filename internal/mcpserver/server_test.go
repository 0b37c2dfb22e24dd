package mcpserver

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/MrWong99/fileagent/internal/observe"
	"github.com/MrWong99/fileagent/internal/tools"
	"github.com/MrWong99/fileagent/internal/tools/fileio"
)

// connect starts a server over in-memory transports and returns a connected
// client session.
func connect(t *testing.T, root string) *mcpsdk.ClientSession {
	t.Helper()
	ctx := context.Background()

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}
	exec := tools.NewExecutor(tools.WithMetrics(m))
	if err := exec.RegisterAll(fileio.NewTools(fileio.Options{Root: root, Filter: fileio.DefaultFilter()})); err != nil {
		t.Fatal(err)
	}

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()
	ss, err := New(exec, "test").Connect(ctx, serverTransport, nil)
	if err != nil {
		t.Fatalf("server connect: %v", err)
	}
	t.Cleanup(func() { _ = ss.Close() })

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "v0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatalf("client connect: %v", err)
	}
	t.Cleanup(func() { _ = cs.Close() })
	return cs
}

func text(t *testing.T, res *mcpsdk.CallToolResult) string {
	t.Helper()
	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

func TestServer_ListsTools(t *testing.T) {
	t.Parallel()
	cs := connect(t, t.TempDir())

	res, err := cs.ListTools(context.Background(), nil)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	names := map[string]bool{}
	for _, tool := range res.Tools {
		names[tool.Name] = true
	}
	if len(names) != 2 || !names["list_files"] || !names["read_file"] {
		t.Errorf("tools = %v", names)
	}
}

func TestServer_CallTool(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "hello.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("SECRET=1"), 0o644); err != nil {
		t.Fatal(err)
	}
	cs := connect(t, dir)
	ctx := context.Background()

	tests := []struct {
		name      string
		tool      string
		args      map[string]any
		want      string
		wantError bool
	}{
		{"read", "read_file", map[string]any{"filepath": "hello.txt"}, "Contents of 'hello.txt':\n```\nhi\n```", false},
		{"restricted", "read_file", map[string]any{"filepath": ".env"}, "Error: Access to '.env' is restricted for security reasons", true},
		{"missing", "read_file", map[string]any{"filepath": "nope.txt"}, "Error: File 'nope.txt' does not exist", true},
		{"list without args", "list_files", nil, "(Hidden 1 file(s) for security reasons)", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := cs.CallTool(ctx, &mcpsdk.CallToolParams{Name: tc.tool, Arguments: tc.args})
			if err != nil {
				t.Fatalf("CallTool: %v", err)
			}
			got := text(t, res)
			if !strings.Contains(got, tc.want) {
				t.Errorf("result = %q, want to contain %q", got, tc.want)
			}
			if res.IsError != tc.wantError {
				t.Errorf("IsError = %v, want %v", res.IsError, tc.wantError)
			}
		})
	}
}

func TestInputSchema(t *testing.T) {
	t.Parallel()
	if got := inputSchema(nil); got["type"] != "object" {
		t.Errorf("nil schema = %v", got)
	}
	in := map[string]any{"properties": map[string]any{}}
	got := inputSchema(in)
	if got["type"] != "object" {
		t.Errorf("schema without type = %v", got)
	}
	if _, mutated := in["type"]; mutated {
		t.Error("input map mutated")
	}
}
