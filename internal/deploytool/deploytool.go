// Package deploytool serves the preview-mode stand-in for the deploy action.
//
// In preview mode the agent must not ship anything: the user validates the
// changes in the live preview and deploys manually afterwards. The agent still
// sees a deploy_to_github tool, but every call answers with the same advisory
// text and touches nothing.
package deploytool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	// ServerName is the MCP implementation name announced to the runtime.
	ServerName = "deployment"
	// ServerKey is the key the server is registered under in the runtime MCP config.
	ServerKey = "deploy_tools"
	// ToolName is the tool name exposed by the server.
	ToolName = "deploy_to_github"
	// ToolDescription tells the agent the tool is unavailable in preview mode.
	ToolDescription = "In Preview-Mode nicht verfügbar. Der User wird nach der Live-Preview manuell deployen."
	// AdvisoryText is returned for every invocation regardless of input.
	AdvisoryText = "⚠️ PREVIEW MODE: Deploy ist deaktiviert. Der User wird die Änderungen erst in der Live-Preview testen und dann manuell deployen. Deine Änderungen sind gespeichert."
)

// QualifiedToolName returns the name the runtime uses for the tool in allow-lists.
func QualifiedToolName() string {
	return "mcp__" + ServerKey + "__" + ToolName
}

// Handle answers a deploy request with the advisory text. Input is ignored.
func Handle(_ context.Context, _ *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: AdvisoryText}},
	}, nil
}

// NewServer builds the MCP server exposing the deploy stub.
func NewServer(version string) *mcp.Server {
	version = strings.TrimSpace(version)
	if version == "" {
		version = "dev"
	}
	server := mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version}, nil)
	server.AddTool(&mcp.Tool{
		Name:        ToolName,
		Description: ToolDescription,
		InputSchema: map[string]any{"type": "object"},
	}, Handle)
	return server
}

// Serve runs the deploy stub on transport until the peer disconnects or ctx ends.
func Serve(ctx context.Context, transport mcp.Transport, version string) error {
	if transport == nil {
		return errors.New("transport is required")
	}
	if err := NewServer(version).Run(ctx, transport); err != nil {
		return fmt.Errorf("serve %s mcp server: %w", ServerName, err)
	}
	return nil
}

type mcpConfig struct {
	MCPServers map[string]mcpServerEntry `json:"mcpServers"`
}

type mcpServerEntry struct {
	Type    string   `json:"type"`
	Command string   `json:"command"`
	Args    []string `json:"args"`
}

// MCPConfig renders the runtime MCP configuration that launches the stub as
// `<executable> mcp deploy` over stdio.
func MCPConfig(executable string) (string, error) {
	executable = strings.TrimSpace(executable)
	if executable == "" {
		return "", errors.New("executable is required")
	}
	payload, err := json.Marshal(mcpConfig{
		MCPServers: map[string]mcpServerEntry{
			ServerKey: {
				Type:    "stdio",
				Command: executable,
				Args:    []string{"mcp", "deploy"},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal mcp config: %w", err)
	}
	return string(payload), nil
}
