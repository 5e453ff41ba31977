package server

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func callRequest(t *testing.T, name string, args map[string]any) mcp.CallToolRequest {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"params": map[string]any{"name": name, "arguments": args},
	})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var req mcp.CallToolRequest
	if err := json.Unmarshal(body, &req); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	return req
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) == 0 {
		t.Fatal("Expected tool result content")
	}
	text, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("Expected text content, got %T", res.Content[0])
	}
	return text.Text
}

func TestMCP_ListRoutes(t *testing.T) {
	s := newTestServer()
	s.Handle("ping", noop)
	s.Handle("echo", noop)
	m := NewMCPServer(s, "test", "0.0.0")

	res, err := m.handleListRoutes(context.Background(), callRequest(t, "list_routes", nil))
	if err != nil {
		t.Fatalf("Tool failed: %v", err)
	}

	var out struct {
		Routes []string `json:"routes"`
		Count  int      `json:"count"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatalf("Invalid tool output: %v", err)
	}
	if out.Count != 2 || out.Routes[0] != "echo" || out.Routes[1] != "ping" {
		t.Errorf("Unexpected routes %+v", out)
	}
}

func TestMCP_ListConnections(t *testing.T) {
	s := newTestServer()
	s.registerConn(NewMockConn("c1"))
	m := NewMCPServer(s, "test", "0.0.0")

	res, err := m.handleListConnections(context.Background(), callRequest(t, "list_connections", nil))
	if err != nil {
		t.Fatalf("Tool failed: %v", err)
	}

	var out []connectionElement
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatalf("Invalid tool output: %v", err)
	}
	if len(out) != 1 || out[0].Id != "c1" {
		t.Errorf("Unexpected connections %+v", out)
	}
}

func TestMCP_Broadcast(t *testing.T) {
	s := newTestServer()
	conn := NewMockConn("c1")
	s.registerConn(conn)
	m := NewMCPServer(s, "test", "0.0.0")

	req := callRequest(t, "broadcast", map[string]any{
		"event":   "announcement",
		"payload": map[string]any{"text": "hello"},
	})
	res, err := m.handleBroadcast(context.Background(), req)
	if err != nil {
		t.Fatalf("Tool failed: %v", err)
	}
	if !strings.Contains(resultText(t, res), "1 connections") {
		t.Errorf("Unexpected result %q", resultText(t, res))
	}

	resp := conn.only(t)
	var data struct{ Text string }
	if resp.Message != "announcement" || resp.Bind(&data) != nil || data.Text != "hello" {
		t.Errorf("Unexpected broadcast %+v", resp)
	}
}

func TestMCP_BroadcastRequiresEvent(t *testing.T) {
	s := newTestServer()
	m := NewMCPServer(s, "test", "0.0.0")

	res, err := m.handleBroadcast(context.Background(), callRequest(t, "broadcast", map[string]any{}))
	if err != nil {
		t.Fatalf("Expected tool error result, got %v", err)
	}
	if !res.IsError {
		t.Error("Expected IsError result when event is missing")
	}
}
