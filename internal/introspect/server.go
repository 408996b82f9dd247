// Package introspect implements a read-only MCP (Model Context Protocol)
// tool server exposing daemon state to MCP-aware clients: the same
// status/queue/sessions views the chat surface's /status, /queue, and
// /sessions commands render, reachable by an agent over stdio JSON-RPC
// instead of chat text. Adapted from the teacher's internal/mcpserver,
// which wraps a different domain (git provider operations) behind the
// same library.
package introspect

import (
	"context"
	"log"
	"os"

	"github.com/mark3labs/mcp-go/server"

	"github.com/afkbridge/afkd/internal/afk"
	"github.com/afkbridge/afkd/internal/control"
	"github.com/afkbridge/afkd/internal/queue"
)

// DaemonVersion is reported as the MCP server's version string.
const DaemonVersion = "0.1.0"

// Manager is the subset of *afk.Manager introspect depends on.
type Manager interface {
	Status() control.StatusResponse
	QueueSummary() []queue.Entry
	Sessions(ctx context.Context) ([]afk.SessionInfo, error)
}

// Server holds the MCP server state.
type Server struct {
	mgr Manager
}

// NewServer creates a read-only introspection server backed by mgr.
func NewServer(mgr Manager) *Server {
	return &Server{mgr: mgr}
}

// Run starts the MCP stdio server. It blocks until ctx is cancelled or
// stdin is closed.
func (s *Server) Run(ctx context.Context) error {
	mcpServer := server.NewMCPServer(
		"afkd",
		DaemonVersion,
		server.WithToolCapabilities(true),
	)

	mcpServer.AddTools(
		server.ServerTool{Tool: statusTool(), Handler: s.handleStatus},
		server.ServerTool{Tool: queueTool(), Handler: s.handleQueue},
		server.ServerTool{Tool: sessionsTool(), Handler: s.handleSessions},
	)

	stdio := server.NewStdioServer(mcpServer)
	stdio.SetErrorLogger(log.New(os.Stderr, "[introspect] ", log.LstdFlags))

	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}
