package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// MCPServer exposes the live server to MCP clients over stdio.
type MCPServer struct {
	Server *mcpserver.MCPServer
	app    *Server
}

// EnableMCP attaches an MCP server that Start runs alongside the transports.
func (s *Server) EnableMCP(name, version string) *MCPServer {
	m := NewMCPServer(s, name, version)
	s.tmu.Lock()
	s.mcp = m
	s.tmu.Unlock()
	return m
}

func NewMCPServer(app *Server, name, version string) *MCPServer {
	m := &MCPServer{Server: mcpserver.NewMCPServer(name, version), app: app}

	listRoutes := mcp.NewTool("list_routes",
		mcp.WithDescription("List the routes this server answers"),
	)
	m.Server.AddTool(listRoutes, m.handleListRoutes)

	listConnections := mcp.NewTool("list_connections",
		mcp.WithDescription("List the connections currently open on this server"),
	)
	m.Server.AddTool(listConnections, m.handleListConnections)

	broadcast := mcp.NewTool("broadcast",
		mcp.WithDescription("Send an event to every connected client"),
		mcp.WithString("event",
			mcp.Required(),
			mcp.Description("Event name, delivered as the message field"),
		),
		mcp.WithObject("payload",
			mcp.Description("Event data"),
		),
	)
	m.Server.AddTool(broadcast, m.handleBroadcast)

	return m
}

func (m *MCPServer) Start() error {
	slog.Info("Started stdio MCP server")
	defer func() {
		slog.Info("Shut down stdio MCP server")
	}()
	return mcpserver.ServeStdio(m.Server)
}

func (m *MCPServer) handleListRoutes(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	routes := m.app.Routes()
	resultBytes, err := json.Marshal(map[string]any{
		"routes": routes,
		"count":  len(routes),
	})
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(resultBytes)), nil
}

type connectionElement struct {
	Id          string    `json:"id"`
	RemoteAddr  string    `json:"remote_addr"`
	Transport   string    `json:"transport"`
	ConnectedAt time.Time `json:"connected_at"`
}

func (m *MCPServer) handleListConnections(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	conns := m.app.Registry().List()
	res := make([]connectionElement, 0, len(conns))
	for _, conn := range conns {
		meta := conn.Meta()
		el := connectionElement{Id: meta.Id, RemoteAddr: meta.RemoteAddr, ConnectedAt: meta.ConnectedAt}
		if meta.Transport != nil {
			el.Transport = meta.Transport.Meta().Protocol
		}
		res = append(res, el)
	}

	jsonBytes, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}

func (m *MCPServer) handleBroadcast(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	event, err := request.RequireString("event")
	if err != nil {
		return mcp.NewToolResultError("event is required and must be a string"), nil
	}

	var payload any
	if args, ok := request.GetRawArguments().(map[string]any); ok {
		payload = args["payload"]
	}

	sent := m.app.Broadcast(event, payload)
	return mcp.NewToolResultText(fmt.Sprintf("Event %s sent to %d connections", event, sent)), nil
}
