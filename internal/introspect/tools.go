package introspect

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// --- Tool definitions ---

func statusTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"afk_status",
		"Report whether AFK mode is active and how many requests are queued.",
		json.RawMessage(`{"type": "object", "properties": {}}`),
	)
}

func queueTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"afk_queue",
		"List every pending or active request waiting on a chat reply.",
		json.RawMessage(`{"type": "object", "properties": {}}`),
	)
}

func sessionsTool() mcp.Tool {
	return mcp.NewToolWithRawSchema(
		"afk_sessions",
		"List known terminal sessions with their inferred status and pending-request count.",
		json.RawMessage(`{"type": "object", "properties": {}}`),
	)
}

// --- Tool handlers ---

func (s *Server) handleStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return resultJSON(s.mgr.Status())
}

// queueEntryResult mirrors one queue.Entry for the afk_queue tool.
type queueEntryResult struct {
	Session        string `json:"session"`
	Kind           string `json:"kind"`
	Status         string `json:"status"`
	Position       int    `json:"position"`
	Visual         string `json:"visual"`
	WaitingSeconds int    `json:"waiting_seconds"`
}

func (s *Server) handleQueue(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries := s.mgr.QueueSummary()
	out := make([]queueEntryResult, len(entries))
	for i, e := range entries {
		out[i] = queueEntryResult{
			Session:        e.Request.Session,
			Kind:           string(e.Request.Kind),
			Status:         e.Status,
			Position:       e.Position,
			Visual:         e.Visual,
			WaitingSeconds: e.WaitingSeconds,
		}
	}
	return resultJSON(out)
}

// sessionResult mirrors one afk.SessionInfo for the afk_sessions tool.
type sessionResult struct {
	Session string `json:"session"`
	Status  string `json:"status"`
	Pending int    `json:"pending"`
}

func (s *Server) handleSessions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessions, err := s.mgr.Sessions(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("list sessions: %v", err)), nil
	}
	out := make([]sessionResult, len(sessions))
	for i, sess := range sessions {
		out[i] = sessionResult{Session: sess.Session, Status: sess.Status, Pending: sess.Pending}
	}
	return resultJSON(out)
}

// resultJSON marshals v to JSON and returns it as a tool result.
func resultJSON(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
