// Package websocket is the relay transport: one WebSocket per player,
// joined to exactly one room.
//
// Connection lifecycle:
//
//  1. The client connects to /ws and must send a join frame within the join
//     timeout: {"type":"join","roomCode":"ABCD23","playerId":"alice"}.
//  2. The hub resolves the room, joins the session and answers with a
//     joined frame, or with rejected{reason} and closes the socket.
//  3. The client streams update, fire, hitClaim, start and leave frames.
//     Rejected actions are answered with error{reason}; stale, throttled
//     and implausible updates are dropped.
//  4. Session events (snapshots, bullets, kills, match start and end) are
//     fanned out by Hub.Publish, which implements session.Publisher.
//  5. Closing the socket marks the player disconnected; a new connection
//     with the same player ID replaces the old one without detaching it.
//
// Each connection has a read and a write goroutine. Outbound messages are
// queued on a bounded channel; a slow client misses messages rather than
// stalling the room.
package websocket
