package introspect

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/afkbridge/afkd/internal/afk"
	"github.com/afkbridge/afkd/internal/control"
	"github.com/afkbridge/afkd/internal/queue"
)

type fakeManager struct {
	status      control.StatusResponse
	queue       []queue.Entry
	sessions    []afk.SessionInfo
	sessionsErr error
}

func (f *fakeManager) Status() control.StatusResponse           { return f.status }
func (f *fakeManager) QueueSummary() []queue.Entry               { return f.queue }
func (f *fakeManager) Sessions(ctx context.Context) ([]afk.SessionInfo, error) {
	return f.sessions, f.sessionsErr
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("result has no content")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("result content is %T, not TextContent", result.Content[0])
	}
	return tc.Text
}

func TestHandleStatusReturnsManagerStatus(t *testing.T) {
	fm := &fakeManager{status: control.StatusResponse{Daemon: true, Active: true, QueueSize: 2, Ready: true}}
	s := &Server{mgr: fm}

	result, err := s.handleStatus(context.Background(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got control.StatusResponse
	if err := json.Unmarshal([]byte(resultText(t, result)), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got != fm.status {
		t.Fatalf("got %+v, want %+v", got, fm.status)
	}
}

func TestHandleQueueFlattensEntries(t *testing.T) {
	req := &queue.Request{Session: "work", Kind: queue.KindPermission}
	fm := &fakeManager{queue: []queue.Entry{
		{Request: req, Status: "active", Position: 0, Visual: "🟢", WaitingSeconds: 12},
	}}
	s := &Server{mgr: fm}

	result, err := s.handleQueue(context.Background(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got []queueEntryResult
	if err := json.Unmarshal([]byte(resultText(t, result)), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 1 || got[0].Session != "work" || got[0].Kind != "permission" {
		t.Fatalf("got %+v", got)
	}
}

func TestHandleSessionsReportsError(t *testing.T) {
	fm := &fakeManager{sessionsErr: errors.New("tmux not available")}
	s := &Server{mgr: fm}

	result, err := s.handleSessions(context.Background(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error result when Sessions fails")
	}
}

func TestHandleSessionsSuccess(t *testing.T) {
	fm := &fakeManager{sessions: []afk.SessionInfo{
		{Session: "work", Status: "idle", Pending: 0},
		{Session: "infra", Status: "working", Pending: 1},
	}}
	s := &Server{mgr: fm}

	result, err := s.handleSessions(context.Background(), mcp.CallToolRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var got []sessionResult
	if err := json.Unmarshal([]byte(resultText(t, result)), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got) != 2 || got[1].Session != "infra" || got[1].Pending != 1 {
		t.Fatalf("got %+v", got)
	}
}
