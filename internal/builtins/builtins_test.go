// ABOUTME: Tests for the built-in tools and resources
// ABOUTME: Calls handlers straight from the registry with a fixed clock

package builtins

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mcp-foundation/internal/config"
	"github.com/2389/mcp-foundation/internal/health"
	"github.com/2389/mcp-foundation/internal/jsonrpc"
	"github.com/2389/mcp-foundation/internal/mcp"
)

var fixedNow = time.Date(2025, 8, 9, 12, 30, 0, 0, time.UTC)

func newTestRegistry(t *testing.T) (*mcp.Registry, *config.Config, *health.Manager) {
	t.Helper()
	cfg := config.Defaults()
	cfg.Server.Name = "test-server"
	cfg.Debug = true

	mgr := health.NewManager(health.Options{
		DeploymentMode: string(cfg.DeploymentMode),
		Version:        config.Version,
		Now:            func() time.Time { return fixedNow },
	})
	mgr.Start(context.Background())

	reg := mcp.NewRegistry()
	require.NoError(t, Register(reg, Deps{Config: &cfg, Health: mgr, Now: func() time.Time { return fixedNow }}))
	return reg, &cfg, mgr
}

func callTool(t *testing.T, reg *mcp.Registry, name, args string) (any, error) {
	t.Helper()
	tool, ok := reg.Tool(name)
	require.True(t, ok, "tool %s not registered", name)
	return tool.Handler(context.Background(), json.RawMessage(args))
}

func readResource(t *testing.T, reg *mcp.Registry, uri string) *mcp.ResourceContent {
	t.Helper()
	res, ok := reg.Resource(uri)
	require.True(t, ok, "resource %s not registered", uri)
	content, err := res.Handler(context.Background(), uri)
	require.NoError(t, err)
	return content
}

func TestRegister_Names(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	var tools []string
	for _, tool := range reg.Tools() {
		tools = append(tools, tool.Name)
	}
	assert.Equal(t, []string{"echo_message", "get_server_info", "health", "readiness", "liveness"}, tools)

	var uris []string
	for _, r := range reg.Resources() {
		uris = append(uris, r.URI)
	}
	assert.Contains(t, uris, "health://status")
	assert.Contains(t, uris, "resource://server-info")
	assert.Contains(t, uris, "docs://overview")
	assert.Contains(t, uris, "docs://configuration")
}

func TestRegister_Twice(t *testing.T) {
	reg, cfg, mgr := newTestRegistry(t)
	err := Register(reg, Deps{Config: cfg, Health: mgr})
	assert.ErrorIs(t, err, mcp.ErrDuplicateTool)
}

func TestRegister_RequiresDeps(t *testing.T) {
	assert.Error(t, Register(mcp.NewRegistry(), Deps{}))
}

func TestEchoMessage(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	out, err := callTool(t, reg, "echo_message", `{"message":"hello"}`)
	require.NoError(t, err)
	assert.Equal(t, EchoResult{
		EchoedMessage:  "hello",
		ServerName:     "test-server",
		DeploymentMode: "development",
		Timestamp:      "2025-08-09T12:30:00Z",
	}, out)
}

func TestEchoMessage_EmptyMessageAllowed(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	out, err := callTool(t, reg, "echo_message", `{"message":""}`)
	require.NoError(t, err)
	assert.Equal(t, "", out.(EchoResult).EchoedMessage)
}

func TestEchoMessage_InvalidParams(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	tests := []struct {
		name string
		args string
	}{
		{"missing message", `{}`},
		{"wrong type", `{"message":42}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := callTool(t, reg, "echo_message", tt.args)
			var rpcErr *jsonrpc.Error
			require.True(t, errors.As(err, &rpcErr))
			assert.Equal(t, jsonrpc.CodeInvalidParams, rpcErr.Code)
		})
	}
}

func TestGetServerInfo(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	out, err := callTool(t, reg, "get_server_info", `{}`)
	require.NoError(t, err)

	b, err := json.Marshal(out)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"server_name": "test-server",
		"version": "1.0.0",
		"deployment_mode": "development",
		"debug": true,
		"max_connections": 100,
		"auth_enabled": true,
		"storage_backend": "local",
		"storage": {"backend": "local", "path": "./data/storage"}
	}`, string(b))
}

func TestHealthTools(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	out, err := callTool(t, reg, "health", `{}`)
	require.NoError(t, err)
	assert.Equal(t, "healthy", out.(health.HealthStatus).Status)

	out, err = callTool(t, reg, "readiness", `{}`)
	require.NoError(t, err)
	assert.True(t, out.(health.ReadinessStatus).Ready)

	out, err = callTool(t, reg, "liveness", `{}`)
	require.NoError(t, err)
	assert.True(t, out.(health.LivenessStatus).Alive)
}

func TestHealthResource(t *testing.T) {
	reg, _, mgr := newTestRegistry(t)

	res, _ := reg.Resource("health://status")
	assert.True(t, res.NoCache)

	content := readResource(t, reg, "health://status")
	assert.Equal(t, "application/json", content.MimeType)

	var status health.HealthStatus
	require.NoError(t, json.Unmarshal([]byte(content.Text), &status))
	assert.Equal(t, "healthy", status.Status)
	assert.Equal(t, "1.0.0", status.Version)

	mgr.BeginShutdown("test")
	content = readResource(t, reg, "health://status")
	require.NoError(t, json.Unmarshal([]byte(content.Text), &status))
	assert.Equal(t, "shutting_down", status.Status)
}

func TestServerInfoResource(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	content := readResource(t, reg, "resource://server-info")
	var info ServerInfo
	require.NoError(t, json.Unmarshal([]byte(content.Text), &info))
	assert.Equal(t, "test-server", info.ServerName)
}

func TestDocsResource(t *testing.T) {
	reg, _, _ := newTestRegistry(t)

	res, _ := reg.Resource("docs://overview")
	assert.Equal(t, "MCP Server Foundation", res.Name)

	content := readResource(t, reg, "docs://overview")
	assert.Equal(t, "text/html", content.MimeType)
	assert.Contains(t, content.Text, "<h1>MCP Server Foundation</h1>")
	assert.Contains(t, content.Text, "<table>")
	assert.False(t, strings.Contains(content.Text, "# MCP"))
}

func TestDocTitle(t *testing.T) {
	assert.Equal(t, "Hello", docTitle([]byte("intro\n# Hello\n"), "x"))
	assert.Equal(t, "fallback", docTitle([]byte("## Sub only\n"), "fallback"))
}
