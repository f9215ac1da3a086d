// Package mcp exposes the dashboard services as MCP tools over stdio.
package mcp

import (
	"log/slog"

	"github.com/mark3labs/mcp-go/server"
	"github.com/mbocsi/accesswatch/services"
)

const (
	ServerName    = "accesswatch"
	ServerVersion = "1.0.0"
)

type MCPServer struct {
	Server *server.MCPServer
}

// NewMCPServer registers every dashboard tool on a fresh MCP server.
func NewMCPServer(svc *services.ServiceContainer) *MCPServer {
	s := server.NewMCPServer(ServerName, ServerVersion, server.WithToolCapabilities(false))
	NewTools(svc).Register(s)
	return &MCPServer{Server: s}
}

func (s *MCPServer) Run() error {
	slog.Info("Started stdio MCP server")
	defer func() {
		slog.Info("Shut down stdio MCP server")
	}()
	return server.ServeStdio(s.Server)
}
