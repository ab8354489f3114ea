package gateway

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"switchboard/internal/config"
	"switchboard/pkg/logging"
)

// DefaultInitTimeout covers process startup and the MCP handshake.
const DefaultInitTimeout = 10 * time.Second

// ToolServer is one MCP server reachable from the gateway.
type ToolServer interface {
	Name() string
	// Initialize establishes the connection and performs protocol handshake
	Initialize(ctx context.Context) error
	// Close cleanly shuts down the client connection
	Close() error
	Connected() bool
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
	Ping(ctx context.Context) error
}

var (
	_ ToolServer = (*mcpClient)(nil)
)

// mcpClient wraps an mcp-go client. The dial function creates and starts
// the underlying transport; everything after that is transport independent.
type mcpClient struct {
	name string
	dial func(ctx context.Context) (*client.Client, error)

	mu        sync.RWMutex
	client    *client.Client
	connected bool
}

// NewStdioServer creates a server backed by a subprocess speaking MCP over
// stdin/stdout.
func NewStdioServer(def config.MCPServerConfig) ToolServer {
	return &mcpClient{
		name: def.Name,
		dial: func(context.Context) (*client.Client, error) {
			logging.Debug("Gateway", "Starting %s: %s %v", def.Name, def.Command, def.Args)
			c, err := client.NewStdioMCPClient(def.Command, envList(def.Env), def.Args...)
			if err != nil {
				return nil, fmt.Errorf("failed to create stdio client: %w", err)
			}
			return c, nil
		},
	}
}

// NewInProcessServer creates a server backed by an mcp-go server running in
// this process.
func NewInProcessServer(name string, srv *server.MCPServer) ToolServer {
	return &mcpClient{
		name: name,
		dial: func(ctx context.Context) (*client.Client, error) {
			c, err := client.NewInProcessClient(srv)
			if err != nil {
				return nil, fmt.Errorf("failed to create in-process client: %w", err)
			}
			if err := c.Start(ctx); err != nil {
				return nil, fmt.Errorf("failed to start in-process client: %w", err)
			}
			return c, nil
		},
	}
}

func (c *mcpClient) Name() string {
	return c.name
}

func (c *mcpClient) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *mcpClient) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	initCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, DefaultInitTimeout)
		defer cancel()
	}

	cli, err := c.dial(initCtx)
	if err != nil {
		return err
	}

	initResult, err := cli.Initialize(initCtx, mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: mcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: mcp.Implementation{
				Name:    "switchboard",
				Version: "1.0.0",
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	})
	if err != nil {
		logging.Error("Gateway", err, "Failed to initialize MCP protocol for %s", c.name)
		if closeErr := cli.Close(); closeErr != nil {
			logging.Debug("Gateway", "Error closing failed client for %s: %v", c.name, closeErr)
		}
		return fmt.Errorf("failed to initialize MCP protocol: %w", err)
	}

	c.client = cli
	c.connected = true

	if initResult.Capabilities.Tools == nil {
		logging.Warn("Gateway", "Server %s does not advertise tools", c.name)
	}
	logging.Debug("Gateway", "MCP protocol initialized for %s (%s %s)", c.name, initResult.ServerInfo.Name, initResult.ServerInfo.Version)
	return nil
}

func (c *mcpClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.client == nil {
		return nil
	}

	err := c.client.Close()
	c.connected = false
	c.client = nil
	return err
}

// checkConnected must be called with at least a read lock held.
func (c *mcpClient) checkConnected() error {
	if !c.connected || c.client == nil {
		return fmt.Errorf("server %s not connected", c.name)
	}
	return nil
}

func (c *mcpClient) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.checkConnected(); err != nil {
		return nil, err
	}

	result, err := c.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	return result.Tools, nil
}

func (c *mcpClient) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.checkConnected(); err != nil {
		return nil, err
	}

	result, err := c.client.CallTool(ctx, mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call tool: %w", err)
	}
	return result, nil
}

func (c *mcpClient) Ping(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := c.checkConnected(); err != nil {
		return err
	}
	return c.client.Ping(ctx)
}

func envList(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(env))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s=%s", k, env[k]))
	}
	return out
}
