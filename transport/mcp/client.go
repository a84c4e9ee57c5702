package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/wricardo/militia-relay/game/match"
	"github.com/wricardo/militia-relay/game/service"
	"github.com/wricardo/militia-relay/game/stats"
)

// Client is a thin MCP client that proxies to the REST API
type Client struct {
	baseURL    string
	httpClient *http.Client
	mcpServer  *server.MCPServer
}

// NewClient creates a new MCP client that calls the REST API
func NewClient(baseURL string) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	c.initMCPServer()
	return c
}

// initMCPServer initializes the MCP server with all tools
func (c *Client) initMCPServer() {
	c.mcpServer = server.NewMCPServer(
		"Militia Relay",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions(`Militia Relay - MCP Admin Interface

This is a thin client that proxies all requests to the relay's REST API.
Players connect over WebSocket; these tools manage rooms, rules and stats.

AVAILABLE TOOLS:
- create_room: Create a room and get its 6-character join code
- list_rooms: List live rooms with status and player counts
- get_room: Roster, scores and status of one room
- start_match: Start the match in a waiting room (host only)
- close_room: End a room's session and release its code
- list_rules: List rules presets
- get_rules: Show one rules preset
- player_stats: Career record of a registered player
- leaderboard: Top players by experience, kills or wins
- recent_matches: Recently finished matches
- relay_protocol: WebSocket protocol reference for game clients`),
	)

	// Register all tools
	c.registerTools()
}

func stringProp(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
	}
}

func integerProp(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "integer",
		"description": description,
	}
}

// registerTools registers all MCP tools
func (c *Client) registerTools() {
	// Rooms
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "create_room",
		Description: "Create a new room. Returns the join code players enter in the game client.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"host_id":            stringProp("Player ID of the host (the only player allowed to start the match)"),
				"rules":              stringProp("Rules preset ID (optional, see list_rules)"),
				"max_players":        integerProp("Capacity override, 2-16 (optional)"),
				"time_limit_seconds": integerProp("Time limit override in seconds (optional)"),
				"kill_limit":         integerProp("Kill limit override (optional)"),
			},
			Required: []string{"host_id"},
		},
	}, c.handleCreateRoom)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_rooms",
		Description: "List all live rooms",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"status": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"waiting", "active", "ended"},
					"description": "Only rooms in this status (optional)",
				},
			},
		},
	}, c.handleListRooms)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_room",
		Description: "Get the status, roster and scores of a room",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"code": stringProp("Room code (case-insensitive)"),
			},
			Required: []string{"code"},
		},
	}, c.handleGetRoom)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "start_match",
		Description: "Start the match in a waiting room",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"code":      stringProp("Room code"),
				"player_id": stringProp("Player requesting the start; defaults to the host"),
			},
			Required: []string{"code"},
		},
	}, c.handleStartMatch)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "close_room",
		Description: "End a room's session, disconnect its players and release the code",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"code": stringProp("Room code"),
			},
			Required: []string{"code"},
		},
	}, c.handleCloseRoom)

	// Rules
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "list_rules",
		Description: "List available rules presets",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleListRules)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "get_rules",
		Description: "Show every setting of a rules preset",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"name": stringProp("Preset ID"),
			},
			Required: []string{"name"},
		},
	}, c.handleGetRules)

	// Stats
	c.mcpServer.AddTool(mcp.Tool{
		Name:        "player_stats",
		Description: "Career record of a registered player (guests have none)",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"player_id": stringProp("Player ID"),
			},
			Required: []string{"player_id"},
		},
	}, c.handlePlayerStats)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "leaderboard",
		Description: "Top players by a metric",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"metric": map[string]interface{}{
					"type":        "string",
					"enum":        []string{"experience", "kills", "wins"},
					"description": "Ranking metric (default experience)",
				},
				"limit": integerProp("Number of players (default 10, max 100)"),
			},
		},
	}, c.handleLeaderboard)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "recent_matches",
		Description: "Recently finished matches, newest first",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"limit": integerProp("Number of matches (default 20, max 100)"),
			},
		},
	}, c.handleRecentMatches)

	c.mcpServer.AddTool(mcp.Tool{
		Name:        "relay_protocol",
		Description: "WebSocket protocol reference for building or debugging game clients",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, c.handleRelayProtocol)
}

// GetMCPServer returns the underlying MCP server for serving
func (c *Client) GetMCPServer() *server.MCPServer {
	return c.mcpServer
}

// Helper methods for API calls

func (c *Client) apiCall(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp map[string]string
		json.NewDecoder(resp.Body).Decode(&errResp)
		if msg, ok := errResp["error"]; ok {
			return fmt.Errorf("%s", msg)
		}
		return fmt.Errorf("API error: %d", resp.StatusCode)
	}

	if result != nil {
		return json.NewDecoder(resp.Body).Decode(result)
	}

	return nil
}

func arguments(request mcp.CallToolRequest) map[string]interface{} {
	args, _ := request.Params.Arguments.(map[string]interface{})
	if args == nil {
		return map[string]interface{}{}
	}
	return args
}

// intArg reads a JSON number argument; missing or non-numeric yields 0.
func intArg(args map[string]interface{}, key string) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return 0
}

// Tool handlers

func (c *Client) handleCreateRoom(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	hostID, _ := args["host_id"].(string)
	rules, _ := args["rules"].(string)

	body := service.CreateRoomRequest{
		HostID:           hostID,
		Rules:            rules,
		MaxPlayers:       intArg(args, "max_players"),
		TimeLimitSeconds: intArg(args, "time_limit_seconds"),
		KillLimit:        intArg(args, "kill_limit"),
	}

	var room service.RoomInfo
	if err := c.apiCall(ctx, "POST", "/api/rooms", body, &room); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Created room: %s\nHost: %s\nRules: %s (%s, up to %d players)\n",
		room.RoomCode, room.HostID, room.Rules, room.Mode, room.MaxPlayers)
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleListRooms(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	path := "/api/rooms"
	if status, _ := args["status"].(string); status != "" {
		path += "?status=" + url.QueryEscape(status)
	}

	var response struct {
		Count int                `json:"count"`
		Rooms []service.RoomInfo `json:"rooms"`
	}
	if err := c.apiCall(ctx, "GET", path, nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Live Rooms (%d):\n\n", response.Count)
	for _, r := range response.Rooms {
		result += fmt.Sprintf("- %s [%s] %d/%d players, rules %s, host %s (Created: %s)\n",
			r.RoomCode, r.Status, r.PlayerCount, r.MaxPlayers, r.Rules, r.HostID, r.CreatedAt.Format("15:04:05"))
	}

	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleGetRoom(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	code, _ := args["code"].(string)

	var room service.RoomInfo
	if err := c.apiCall(ctx, "GET", "/api/rooms/"+url.PathEscape(code), nil, &room); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatRoom(&room)), nil
}

func (c *Client) handleStartMatch(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	code, _ := args["code"].(string)
	playerID, _ := args["player_id"].(string)

	body := map[string]string{}
	if playerID != "" {
		body["playerId"] = playerID
	}

	var room service.RoomInfo
	if err := c.apiCall(ctx, "POST", "/api/rooms/"+url.PathEscape(code)+"/start", body, &room); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := fmt.Sprintf("Match started in %s with %d players\n\n%s", room.RoomCode, room.PlayerCount, formatRoom(&room))
	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleCloseRoom(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	code, _ := args["code"].(string)

	var response struct {
		Message string `json:"message"`
	}
	if err := c.apiCall(ctx, "DELETE", "/api/rooms/"+url.PathEscape(code), nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(response.Message), nil
}

func (c *Client) handleListRules(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var presets []service.RulesInfo
	if err := c.apiCall(ctx, "GET", "/api/rules", nil, &presets); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	result := "Available Rules Presets:\n\n"
	for _, p := range presets {
		result += fmt.Sprintf("• %s (%s)\n  %s\n  Players: %d, Time limit: %ds, Kill limit: %d\n\n",
			p.ID, p.Mode, p.Description, p.MaxPlayers, p.TimeLimitSeconds, p.KillLimit)
	}

	return mcp.NewToolResultText(result), nil
}

func (c *Client) handleGetRules(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	name, _ := args["name"].(string)

	var rules match.Rules
	if err := c.apiCall(ctx, "GET", "/api/rules/"+url.PathEscape(name), nil, &rules); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatRules(name, &rules)), nil
}

func (c *Client) handlePlayerStats(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	playerID, _ := args["player_id"].(string)

	var st stats.PlayerStats
	if err := c.apiCall(ctx, "GET", "/api/players/"+url.PathEscape(playerID)+"/stats", nil, &st); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatPlayerStats(&st)), nil
}

func (c *Client) handleLeaderboard(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	metric, _ := args["metric"].(string)

	q := url.Values{}
	if metric != "" {
		q.Set("metric", metric)
	}
	if limit := intArg(args, "limit"); limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	path := "/api/leaderboard"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var response struct {
		Metric  string              `json:"metric"`
		Players []stats.PlayerStats `json:"players"`
	}
	if err := c.apiCall(ctx, "GET", path, nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	return mcp.NewToolResultText(formatLeaderboard(response.Metric, response.Players)), nil
}

func (c *Client) handleRecentMatches(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := arguments(request)
	path := "/api/matches"
	if limit := intArg(args, "limit"); limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}

	var response struct {
		Count   int            `json:"count"`
		Matches []match.Result `json:"matches"`
	}
	if err := c.apiCall(ctx, "GET", path, nil, &response); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Recent Matches (%d):\n\n", response.Count)
	for i := range response.Matches {
		b.WriteString(formatMatch(&response.Matches[i]))
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}

func (c *Client) handleRelayProtocol(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(protocolReference), nil
}

const protocolReference = `Militia Relay - WebSocket Protocol

CONNECTING:
Open ws://<host>/ws and send a join frame within 10 seconds:
  {"type":"join","roomCode":"ABCD23","playerId":"alice","displayName":"Alice"}
An empty playerId gets a generated guest ID. Guests earn no career stats.
Answer: joined{roomCode,playerId,hostId,status,rules,roster[]}
     or rejected{reason}: room_not_found | room_full | session_ended | invalid_join

CLIENT -> RELAY:
  update   {sequence,position{x,y},velocity{x,y},facing,flags{jetpack,shooting}}
           sequence must increase; older or repeated sequences are ignored.
           Movement is checked against run/jetpack speed limits.
  fire     {origin{x,y},angle}    angle in radians; origin near your player
  hitClaim {targetId}             verified against your live bullets
  start                           host only, room must be waiting
  leave                           removes you from the room

RELAY -> CLIENT:
  playerJoined{player}  playerLeft{playerId}
  snapshot{tick,players[{id,position,velocity,health,facing,fuel,flags,alive}]}
           only players that changed since the previous tick
  bulletFired{shooterId,origin,angle,velocity}
  killed{shooterId,targetId}  respawned{player}
  matchStarted{startedAt,mode,timeLimitSeconds,killLimit}
  matchEnded{reason,winnerId,scoreboard[]}
           reason: time_limit | kill_limit | last_standing | host_left | closed
  error{reason}  for rejected actions (not_host, match_not_active, ...)

RECONNECTING:
Reconnect with the same playerId within the reconnect grace to keep your
slot and score. Restart your sequence counter at 1.`

// Formatting helpers

func formatRoom(room *service.RoomInfo) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Room %s [%s]\n", room.RoomCode, room.Status)
	fmt.Fprintf(&b, "Host: %s\nRules: %s (%s)\nPlayers: %d/%d\n", room.HostID, room.Rules, room.Mode, room.PlayerCount, room.MaxPlayers)
	if room.StartedAt != nil {
		fmt.Fprintf(&b, "Started: %s\n", room.StartedAt.Format("15:04:05"))
	}
	if room.EndedAt != nil {
		fmt.Fprintf(&b, "Ended: %s (%s)", room.EndedAt.Format("15:04:05"), room.EndReason)
		if room.WinnerID != "" {
			fmt.Fprintf(&b, ", winner %s", room.WinnerID)
		}
		b.WriteString("\n")
	}

	if len(room.Players) > 0 {
		b.WriteString("\nRoster:\n")
		for _, p := range room.Players {
			state := "alive"
			if !p.Alive {
				state = "dead"
			}
			if !p.Connected {
				state += ", disconnected"
			}
			fmt.Fprintf(&b, "  %s (%s) K/D %d/%d, HP %d, %s\n", p.ID, p.DisplayName, p.Kills, p.Deaths, p.Health, state)
		}
	}
	return b.String()
}

func formatRules(name string, r *match.Rules) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rules %s: %s\n", name, r.Description)
	fmt.Fprintf(&b, "Mode: %s\nPlayers: %d\nTime limit: %ds\nKill limit: %d\n", r.Mode, r.MaxPlayers, r.TimeLimitSeconds, r.KillLimit)
	fmt.Fprintf(&b, "Arena: %.0fx%.0f\nDamage: %d per hit\n", r.ArenaWidth, r.ArenaHeight, r.BulletDamage)
	fmt.Fprintf(&b, "Run speed: %.0f px/s, Jetpack speed: %.0f px/s\n", r.MaxRunSpeed, r.MaxJetpackSpeed)
	return b.String()
}

func formatPlayerStats(s *stats.PlayerStats) string {
	var b strings.Builder
	name := s.DisplayName
	if name == "" {
		name = s.PlayerID
	}
	fmt.Fprintf(&b, "%s (level %d, %d XP)\n", name, s.Level, s.Experience)
	fmt.Fprintf(&b, "Games: %d played, %d won\n", s.GamesPlayed, s.GamesWon)
	fmt.Fprintf(&b, "Kills: %d, Deaths: %d, K/D: %.2f\n", s.Kills, s.Deaths, s.KD())
	fmt.Fprintf(&b, "Best killstreak: %d\n", s.HighestKillstreak)
	fmt.Fprintf(&b, "Playtime: %s\n", time.Duration(s.PlaytimeSeconds)*time.Second)
	return b.String()
}

func formatLeaderboard(metric string, players []stats.PlayerStats) string {
	if metric == "" {
		metric = string(stats.MetricExperience)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Leaderboard by %s:\n\n", metric)
	if len(players) == 0 {
		b.WriteString("(no ranked players yet)\n")
		return b.String()
	}
	for i, p := range players {
		fmt.Fprintf(&b, "%d. %s - level %d, %d XP, %d kills, %d wins\n",
			i+1, p.PlayerID, p.Level, p.Experience, p.Kills, p.GamesWon)
	}
	return b.String()
}

func formatMatch(m *match.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s room %s, %s (%s), %s, ended by %s",
		m.EndedAt.Format("2006-01-02 15:04"), m.RoomCode, m.RulesName, m.Mode,
		m.Duration().Round(time.Second), m.Reason)
	if m.WinnerID != "" {
		fmt.Fprintf(&b, ", winner %s", m.WinnerID)
	}
	b.WriteString("\n")
	for _, p := range m.Players {
		fmt.Fprintf(&b, "  %s %d/%d\n", p.ID, p.Kills, p.Deaths)
	}
	return b.String()
}
