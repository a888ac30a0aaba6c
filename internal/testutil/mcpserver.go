// Package testutil provides test doubles: an in-memory MCP capability
// server and a deterministic mock LLM registered as a Genkit model.
package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ToolServer is an in-process MCP server for exercising the connection
// manager and bridge without a network.
type ToolServer struct {
	server *mcp.Server

	mu    sync.Mutex
	dials int
}

// NewToolServer creates an empty in-memory capability server.
func NewToolServer() *ToolServer {
	return &ToolServer{
		server: mcp.NewServer(&mcp.Implementation{
			Name:    "roadwatch-test-tools",
			Version: "0.1.0",
		}, nil),
	}
}

// AddTool registers a capability whose handler receives the raw
// argument map.
func (ts *ToolServer) AddTool(tool *mcp.Tool, handler func(ctx context.Context, args map[string]any) (*mcp.CallToolResult, error)) {
	mcp.AddTool(ts.server, tool, func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
		res, err := handler(ctx, args)
		return res, nil, err
	})
}

// AddTextTool registers a capability that always returns the given text.
func (ts *ToolServer) AddTextTool(name, description, text string) {
	ts.AddTool(&mcp.Tool{Name: name, Description: description},
		func(context.Context, map[string]any) (*mcp.CallToolResult, error) {
			return TextResult(text), nil
		})
}

// TextResult builds a single-text-content tool result.
func TextResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

// Dial returns a transport dialer. Each call establishes a fresh
// in-memory session, so reconnects behave like real redials. The server
// side goroutine exits when the client closes its session.
func (ts *ToolServer) Dial(ctx context.Context) func(context.Context) (mcp.Transport, error) {
	return func(context.Context) (mcp.Transport, error) {
		ts.mu.Lock()
		ts.dials++
		ts.mu.Unlock()

		clientT, serverT := mcp.NewInMemoryTransports()
		go func() {
			_ = ts.server.Run(ctx, serverT)
		}()
		return clientT, nil
	}
}

// Dials reports how many connections have been established.
func (ts *ToolServer) Dials() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.dials
}

// ErrDialRefused is what FailingDial returns.
var ErrDialRefused = errors.New("dial refused")

// FailingDial always fails, for exercising reconnect and degraded paths.
func FailingDial(context.Context) (mcp.Transport, error) {
	return nil, ErrDialRefused
}
