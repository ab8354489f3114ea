package gateway

import (
	"context"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewCoreServer returns the built-in MCP server. now is the clock used by
// time_now; nil means time.Now.
func NewCoreServer(version string, now func() time.Time) *server.MCPServer {
	if now == nil {
		now = time.Now
	}

	srv := server.NewMCPServer("switchboard-core", version,
		server.WithToolCapabilities(false),
	)

	srv.AddTool(mcp.NewTool("echo",
		mcp.WithDescription("Return the given text unchanged"),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("Text to echo back"),
		),
	), handleEcho)

	srv.AddTool(mcp.NewTool("time_now",
		mcp.WithDescription("Return the current time in RFC 3339 format"),
		mcp.WithString("timezone",
			mcp.Description("IANA time zone name, defaults to UTC"),
		),
	), func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		return handleTimeNow(now, request)
	})

	srv.AddTool(mcp.NewTool("add",
		mcp.WithDescription("Add two numbers"),
		mcp.WithNumber("a", mcp.Required(), mcp.Description("First operand")),
		mcp.WithNumber("b", mcp.Required(), mcp.Description("Second operand")),
	), handleAdd)

	return srv
}

func handleEcho(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := request.RequireString("text")
	if err != nil {
		return mcp.NewToolResultError("text argument is required"), nil
	}
	return mcp.NewToolResultText(text), nil
}

func handleTimeNow(now func() time.Time, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	loc := time.UTC
	if name := request.GetString("timezone", ""); name != "" {
		l, err := time.LoadLocation(name)
		if err != nil {
			return mcp.NewToolResultError("unknown timezone: " + name), nil
		}
		loc = l
	}
	return mcp.NewToolResultText(now().In(loc).Format(time.RFC3339)), nil
}

func handleAdd(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	a, err := request.RequireFloat("a")
	if err != nil {
		return mcp.NewToolResultError("a must be a number"), nil
	}
	b, err := request.RequireFloat("b")
	if err != nil {
		return mcp.NewToolResultError("b must be a number"), nil
	}
	return mcp.NewToolResultText(strconv.FormatFloat(a+b, 'f', -1, 64)), nil
}
