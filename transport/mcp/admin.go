// Package mcp exposes read-only relay administration over the Model
// Context Protocol, so an operator's assistant can inspect rooms
// without touching playback state.
package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/joaovs2004/jvs-together-websocket/party/room"
)

// Admin wraps the room registry behind an MCP tool surface.
type Admin struct {
	rooms     *room.Registry
	mcpServer *server.MCPServer
}

// NewAdmin creates the admin surface over the given registry.
func NewAdmin(rooms *room.Registry) *Admin {
	a := &Admin{rooms: rooms}
	a.initMCPServer()
	return a
}

func (a *Admin) initMCPServer() {
	a.mcpServer = server.NewMCPServer(
		"JVS Together Relay",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`JVS Together Relay - Admin Interface

Read-only inspection of the watch-party relay.

AVAILABLE TOOLS:
- server_stats: Room and client totals
- list_rooms: Snapshot of every active room
- room_state: Detailed state of one room
- room_history: Viewing history of one room

All tools are read-only; playback state can only be changed by the
websocket clients themselves.`),
	)

	a.registerTools()
}

func (a *Admin) registerTools() {
	a.mcpServer.AddTool(mcp.Tool{
		Name:        "server_stats",
		Description: "Get the number of active rooms and connected clients",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, a.handleServerStats)

	a.mcpServer.AddTool(mcp.Tool{
		Name:        "list_rooms",
		Description: "List every active room with its member count and current video",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, a.handleListRooms)

	a.mcpServer.AddTool(mcp.Tool{
		Name:        "room_state",
		Description: "Get the detailed state of a single room",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"room_id": map[string]interface{}{
					"type":        "string",
					"description": "Room identifier",
				},
			},
			Required: []string{"room_id"},
		},
	}, a.handleRoomState)

	a.mcpServer.AddTool(mcp.Tool{
		Name:        "room_history",
		Description: "Get the viewing history of a single room, newest last",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"room_id": map[string]interface{}{
					"type":        "string",
					"description": "Room identifier",
				},
			},
			Required: []string{"room_id"},
		},
	}, a.handleRoomHistory)
}

// GetMCPServer returns the underlying MCP server for serving.
func (a *Admin) GetMCPServer() *server.MCPServer {
	return a.mcpServer
}

// Tool handlers

func (a *Admin) handleServerStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rooms, clients := a.rooms.Stats()
	result := fmt.Sprintf("Rooms: %d\nClients: %d\n", rooms, clients)
	return mcp.NewToolResultText(result), nil
}

func (a *Admin) handleListRooms(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rooms := a.rooms.Rooms()
	if len(rooms) == 0 {
		return mcp.NewToolResultText("No active rooms."), nil
	}

	result := fmt.Sprintf("Active Rooms (%d):\n\n", len(rooms))
	for _, info := range rooms {
		result += fmt.Sprintf("- %s (members: %d, video: %s)\n",
			info.ID, len(info.Clients), orNone(info.CurrentVideo))
	}
	return mcp.NewToolResultText(result), nil
}

func (a *Admin) handleRoomState(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.Params.Arguments.(map[string]interface{})
	roomID, _ := args["room_id"].(string)

	info, ok := a.rooms.Info(roomID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("room %s not found", roomID)), nil
	}

	result := formatRoomInfo(&info)
	return mcp.NewToolResultText(result), nil
}

func (a *Admin) handleRoomHistory(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.Params.Arguments.(map[string]interface{})
	roomID, _ := args["room_id"].(string)

	history, ok := a.rooms.History(roomID)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("room %s not found", roomID)), nil
	}
	if len(history) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("Room %s has no history yet.", roomID)), nil
	}

	result := fmt.Sprintf("History for %s (%d entries):\n\n", roomID, len(history))
	for i, entry := range history {
		result += fmt.Sprintf("%d. %s (%s)\n   %s\n", i+1, entry.Title, entry.VideoID, entry.URL)
	}
	return mcp.NewToolResultText(result), nil
}

// Formatting helpers

func formatRoomInfo(info *room.Info) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Room: %s\n", info.ID)
	fmt.Fprintf(&b, "Members (%d): %s\n", len(info.Clients), strings.Join(info.Clients, ", "))
	fmt.Fprintf(&b, "Current video: %s\n", orNone(info.CurrentVideo))
	fmt.Fprintf(&b, "Ready: %d/%d\n", info.ReadyCount, len(info.Clients))
	fmt.Fprintf(&b, "History entries: %d\n", info.HistoryLength)
	return b.String()
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
