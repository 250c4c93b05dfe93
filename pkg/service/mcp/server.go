package mcp

import (
	"context"
	"net/http"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/topperstoolkit/doubts/pkg/model"
	"github.com/topperstoolkit/doubts/pkg/tool/platform"
	"github.com/topperstoolkit/doubts/pkg/utils/logging"
)

const serverName = "doubts"

// PlatformInfo resolves a doubt about the platform. *platform.Tool
// implements it.
type PlatformInfo interface {
	Lookup(ctx context.Context, input platform.Input) model.ToolCallResult
}

// Output is the structured result of the platform info tool
type Output struct {
	Found bool   `json:"found" jsonschema:"Whether a relevant service was found"`
	Text  string `json:"text" jsonschema:"Explanation to weave into the answer"`
}

// NewServer exposes the platform info tool to external agents
func NewServer(info PlatformInfo, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: version,
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        platform.FunctionName,
		Description: "Provides information about Topper's Toolkit services: where to buy printed or PDF notes, print on demand, and where to view purchased digital notes.",
	}, func(ctx context.Context, req *mcp.CallToolRequest, input platform.Input) (*mcp.CallToolResult, Output, error) {
		if strings.TrimSpace(input.Doubt) == "" {
			return nil, Output{}, goerr.Wrap(model.ErrEmptyQuestion, "doubt is required")
		}

		result := info.Lookup(ctx, input)
		logging.From(ctx).Debug("mcp tool called", "tool", platform.FunctionName, "found", result.Found)

		return &mcp.CallToolResult{
			Content: []mcp.Content{
				&mcp.TextContent{Text: result.Text},
			},
		}, Output{Found: result.Found, Text: result.Text}, nil
	})

	return server
}

// ServeStdio runs the server over stdin and stdout until ctx is done or the
// client disconnects.
func ServeStdio(ctx context.Context, server *mcp.Server) error {
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return goerr.Wrap(err, "failed to run MCP server over stdio")
	}
	return nil
}

// Handler serves the server over streamable HTTP
func Handler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)
}
