// Package api provides the HTTP admin API for the relay.
//
// Endpoints:
//
// Rooms:
//   - POST /api/rooms - Create a room {hostId, rules?, maxPlayers?, timeLimitSeconds?, killLimit?}
//   - GET /api/rooms - List live rooms (optional ?status=waiting|active|ended)
//   - GET /api/rooms/{code} - Room details and roster
//   - DELETE /api/rooms/{code} - End the session and release the code
//   - POST /api/rooms/{code}/start - Start the match {playerId?}; defaults to the host
//
// Rules presets:
//   - GET /api/rules - List presets
//   - GET /api/rules/{name} - Load a preset
//   - PUT /api/rules/{name} - Save a preset
//
// Stats (503 when no stats store is configured):
//   - GET /api/players/{id}/stats - Career record
//   - GET /api/leaderboard?metric=experience|kills|wins&limit=N
//   - GET /api/matches?limit=N - Recently archived matches
//
// Other:
//   - GET /healthz - Liveness with room and transport counters
//   - GET /ws - Relay WebSocket (see package websocket)
//
// Error Handling:
//
// Errors are returned as JSON with a status code derived from the domain
// error: 404 unknown room, preset or player; 403 not the host; 409 room
// full, ended or wrong match state; 400 invalid input; 503 stats disabled.
//
//	{
//	  "error": "room not found"
//	}
package api
