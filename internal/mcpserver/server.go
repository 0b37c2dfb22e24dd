// Package mcpserver exposes the file tools over the Model Context Protocol so
// that any MCP client can use list_files and read_file with the same
// restricted-prefix filter as the console agent.
//
// Tool failures are returned as results with IsError set, never as protocol
// errors, matching how the console loop feeds them back to the model.
package mcpserver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/fileagent/pkg/types"
)

// Name is the implementation name advertised to clients.
const Name = "fileagent"

// Executor is the subset of the tool executor the server needs.
type Executor interface {
	Definitions() []types.ToolDefinition
	Execute(ctx context.Context, call types.ToolCall) types.ToolResult
}

// New returns an MCP server advertising every tool in exec.
func New(exec Executor, version string) *mcpsdk.Server {
	srv := mcpsdk.NewServer(&mcpsdk.Implementation{Name: Name, Version: version}, nil)

	var seq atomic.Int64
	for _, def := range exec.Definitions() {
		srv.AddTool(&mcpsdk.Tool{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: inputSchema(def.Parameters),
		}, handler(exec, def.Name, &seq))
	}
	return srv
}

// Serve runs the server over stdin/stdout until ctx is cancelled or the
// client disconnects.
func Serve(ctx context.Context, exec Executor, version string) error {
	slog.Info("mcp server starting", "transport", "stdio", "tools", len(exec.Definitions()))
	if err := New(exec, version).Run(ctx, &mcpsdk.StdioTransport{}); err != nil {
		return fmt.Errorf("mcpserver: run: %w", err)
	}
	return nil
}

// handler adapts one executor tool to the SDK's raw handler. MCP has no call
// IDs of its own, so each call is given a sequential one for correlation in
// metrics and logs.
func handler(exec Executor, name string, seq *atomic.Int64) mcpsdk.ToolHandler {
	return func(ctx context.Context, req *mcpsdk.CallToolRequest) (*mcpsdk.CallToolResult, error) {
		var args string
		if req.Params != nil {
			args = strings.TrimSpace(string(req.Params.Arguments))
		}
		if args == "" || args == "null" {
			args = "{}"
		}

		call := types.ToolCall{
			ID:        fmt.Sprintf("mcp-%d", seq.Add(1)),
			Name:      name,
			Arguments: args,
		}
		res := exec.Execute(ctx, call)
		return &mcpsdk.CallToolResult{
			Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: res.Content}},
			IsError: res.IsError,
		}, nil
	}
}

// inputSchema guarantees the object schema the SDK requires.
func inputSchema(params map[string]any) map[string]any {
	if params == nil {
		return map[string]any{"type": "object"}
	}
	if _, ok := params["type"]; ok {
		return params
	}
	out := make(map[string]any, len(params)+1)
	for k, v := range params {
		out[k] = v
	}
	out["type"] = "object"
	return out
}
