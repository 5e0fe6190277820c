package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// clientName is reported to servers on initialize.
const clientName = "tero"

// Client is an MCP client that connects to a single server.
type Client struct {
	config    *ServerConfig
	transport Transport
	logger    *slog.Logger

	serverInfo ServerInfo
}

// NewClient creates a new MCP client. A nil httpClient gets a default one
// with the configured timeout.
func NewClient(cfg *ServerConfig, httpClient *http.Client, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		config:    cfg,
		transport: NewTransport(cfg, httpClient),
		logger:    logger.With("mcp_url", cfg.URL),
	}
}

// Connect establishes the connection and performs the initialize handshake.
func (c *Client) Connect(ctx context.Context, version string) error {
	if err := c.transport.Connect(ctx); err != nil {
		return fmt.Errorf("transport connect: %w", err)
	}

	result, err := c.transport.Call(ctx, "initialize", map[string]any{
		"protocolVersion": ProtocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    clientName,
			"version": version,
		},
	})
	if err != nil {
		c.transport.Close()
		return fmt.Errorf("initialize: %w", err)
	}

	var initResult InitializeResult
	if err := json.Unmarshal(result, &initResult); err != nil {
		c.transport.Close()
		return fmt.Errorf("parse initialize result: %w", err)
	}

	c.serverInfo = initResult.ServerInfo
	c.logger.Info("connected to MCP server",
		"name", c.serverInfo.Name,
		"version", c.serverInfo.Version,
		"protocol", initResult.ProtocolVersion)

	if err := c.transport.Notify(ctx, "notifications/initialized", nil); err != nil {
		c.logger.Warn("failed to send initialized notification", "error", err)
	}
	return nil
}

// Close closes the connection to the MCP server.
func (c *Client) Close() error {
	return c.transport.Close()
}

// ServerInfo returns information about the connected server.
func (c *Client) ServerInfo() ServerInfo {
	return c.serverInfo
}

// ListTools returns every tool the server exposes, following pagination.
func (c *Client) ListTools(ctx context.Context) ([]*MCPTool, error) {
	var (
		out    []*MCPTool
		cursor string
	)
	for {
		var params any
		if cursor != "" {
			params = map[string]any{"cursor": cursor}
		}
		result, err := c.transport.Call(ctx, "tools/list", params)
		if err != nil {
			return nil, err
		}
		var resp ListToolsResult
		if err := json.Unmarshal(result, &resp); err != nil {
			return nil, fmt.Errorf("parse tools: %w", err)
		}
		out = append(out, resp.Tools...)
		if resp.NextCursor == "" || resp.NextCursor == cursor {
			return out, nil
		}
		cursor = resp.NextCursor
	}
}

// CallTool calls a tool on the MCP server.
func (c *Client) CallTool(ctx context.Context, name string, arguments json.RawMessage) (*ToolCallResult, error) {
	params := CallToolParams{Name: name}
	if len(arguments) > 0 {
		params.Arguments = arguments
	}

	result, err := c.transport.Call(ctx, "tools/call", params)
	if err != nil {
		return nil, err
	}

	var callResult ToolCallResult
	if err := json.Unmarshal(result, &callResult); err != nil {
		return nil, fmt.Errorf("parse result: %w", err)
	}
	return &callResult, nil
}
