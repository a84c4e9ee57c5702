// Package service provides the admin layer of the relay.
//
// RelayService sits between the outer surfaces (REST in package api, MCP
// tools in transport/mcp) and the game packages. It covers:
//   - Room creation with rules presets and per-room overrides
//   - Room inspection, match start and room shutdown
//   - Rules preset listing, loading and saving
//   - Career stats, leaderboards and the match archive
//
// Realtime traffic does not pass through this package; players talk to their
// session through the websocket transport.
//
// Usage:
//
//	rooms := session.NewManager()
//	rules, _ := config.NewManager("rules")
//	store, _ := stats.NewFileStore("data")
//	svc := service.NewRelayService(rooms, rules, store)
//
//	room, err := svc.CreateRoom(ctx, service.CreateRoomRequest{HostID: "alice", Rules: "duel"})
package service
