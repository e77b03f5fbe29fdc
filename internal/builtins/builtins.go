// ABOUTME: Registers the built-in tools and resources every server exposes
// ABOUTME: Server metadata, echo, health checks and embedded documentation

package builtins

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/2389/mcp-foundation/internal/config"
	"github.com/2389/mcp-foundation/internal/health"
	"github.com/2389/mcp-foundation/internal/jsonrpc"
	"github.com/2389/mcp-foundation/internal/mcp"
)

// Deps are the values built-in handlers read.
type Deps struct {
	Config *config.Config
	Health *health.Manager
	Now    func() time.Time // defaults to time.Now
}

// Register adds all built-in tools and resources to reg.
func Register(reg *mcp.Registry, deps Deps) error {
	if deps.Config == nil || deps.Health == nil {
		return errors.New("builtins: config and health manager are required")
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	h := &handlers{cfg: deps.Config, health: deps.Health, now: deps.Now}

	for _, t := range h.tools() {
		if err := reg.RegisterTool(t); err != nil {
			return fmt.Errorf("registering tool %s: %w", t.Name, err)
		}
	}

	resources, err := h.resources()
	if err != nil {
		return err
	}
	for _, r := range resources {
		if err := reg.RegisterResource(r); err != nil {
			return fmt.Errorf("registering resource %s: %w", r.URI, err)
		}
	}
	return nil
}

type handlers struct {
	cfg    *config.Config
	health *health.Manager
	now    func() time.Time
}

func (h *handlers) tools() []mcp.Tool {
	return []mcp.Tool{
		{
			Name:        "echo_message",
			Description: "Echo a message back to the client",
			InputSchema: json.RawMessage(`{"type":"object","properties":{"message":{"type":"string","description":"The message to echo"}},"required":["message"]}`),
			Handler:     h.EchoMessage,
		},
		{
			Name:        "get_server_info",
			Description: "Get information about the MCP server",
			Handler:     h.GetServerInfo,
		},
		{
			Name:        "health",
			Description: "Report overall server health",
			Handler: func(context.Context, json.RawMessage) (any, error) {
				return h.health.Health(), nil
			},
		},
		{
			Name:        "readiness",
			Description: "Report whether the server and its dependencies are ready",
			Handler: func(ctx context.Context, _ json.RawMessage) (any, error) {
				return h.health.Readiness(ctx), nil
			},
		},
		{
			Name:        "liveness",
			Description: "Report that the server process is alive",
			Handler: func(context.Context, json.RawMessage) (any, error) {
				return h.health.Liveness(), nil
			},
		},
	}
}

type echoInput struct {
	Message *string `json:"message"`
}

// EchoResult is the output of echo_message.
type EchoResult struct {
	EchoedMessage  string `json:"echoed_message"`
	ServerName     string `json:"server_name"`
	DeploymentMode string `json:"deployment_mode"`
	Timestamp      string `json:"timestamp"`
}

func (h *handlers) EchoMessage(_ context.Context, args json.RawMessage) (any, error) {
	var in echoInput
	if err := json.Unmarshal(args, &in); err != nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, fmt.Sprintf("invalid input: %v", err))
	}
	if in.Message == nil {
		return nil, jsonrpc.NewError(jsonrpc.CodeInvalidParams, "message is required")
	}

	return EchoResult{
		EchoedMessage:  *in.Message,
		ServerName:     h.cfg.Server.Name,
		DeploymentMode: string(h.cfg.DeploymentMode),
		Timestamp:      h.now().UTC().Format(time.RFC3339),
	}, nil
}

// ServerInfo describes the running server.
type ServerInfo struct {
	ServerName     string            `json:"server_name"`
	Version        string            `json:"version"`
	DeploymentMode string            `json:"deployment_mode"`
	Debug          bool              `json:"debug"`
	MaxConnections int               `json:"max_connections"`
	AuthEnabled    bool              `json:"auth_enabled"`
	StorageBackend string            `json:"storage_backend"`
	Storage        map[string]string `json:"storage"`
}

func (h *handlers) serverInfo() ServerInfo {
	return ServerInfo{
		ServerName:     h.cfg.Server.Name,
		Version:        config.Version,
		DeploymentMode: string(h.cfg.DeploymentMode),
		Debug:          h.cfg.Debug,
		MaxConnections: h.cfg.Performance.MaxConnections,
		AuthEnabled:    h.cfg.Auth.Enabled,
		StorageBackend: string(h.cfg.Storage.Backend),
		Storage:        h.cfg.StorageOptions(),
	}
}

func (h *handlers) GetServerInfo(context.Context, json.RawMessage) (any, error) {
	return h.serverInfo(), nil
}
