// Package mcp exposes the relay's admin API as Model Context Protocol tools.
//
// The Client is a thin proxy: every tool calls the REST API (package api)
// over HTTP and renders the JSON response as text for the agent.
//
// MCP Tools:
//   - create_room, list_rooms, get_room, start_match, close_room
//   - list_rules, get_rules
//   - player_stats, leaderboard, recent_matches
//   - relay_protocol: WebSocket protocol reference for client authors
//
// Transport Modes:
//   - Stdio: server.ServeStdio(client.GetMCPServer()) for local MCP clients
//   - HTTP: POST /mcp on the relay, handled by MCPServer.HandleMessage
//
// Usage:
//
//	client := mcp.NewClient("http://localhost:8080")
//	server.ServeStdio(client.GetMCPServer())
package mcp
