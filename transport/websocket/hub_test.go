package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wricardo/militia-relay/game/match"
	"github.com/wricardo/militia-relay/game/session"
)

type testRelay struct {
	rooms  *session.Manager
	hub    *Hub
	server *httptest.Server
}

func newTestRelay(t *testing.T) *testRelay {
	t.Helper()
	rooms := session.NewManager()
	hub := NewHub(rooms, Config{}, zap.NewNop())
	rooms.SetPublisher(hub)

	server := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(func() {
		hub.Close()
		server.Close()
		rooms.Close()
	})
	return &testRelay{rooms: rooms, hub: hub, server: server}
}

func (r *testRelay) createRoom(t *testing.T, host string, rules *match.Rules) string {
	t.Helper()
	room, err := r.rooms.CreateRoom(host, rules)
	if err != nil {
		t.Fatalf("CreateRoom failed: %v", err)
	}
	return room.Code
}

func (r *testRelay) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(r.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Failed to connect to WebSocket: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// join dials, sends a join frame and returns the connection with the first
// server frame.
func (r *testRelay) join(t *testing.T, code, playerID string) (*websocket.Conn, map[string]any) {
	t.Helper()
	conn := r.dial(t)
	send(t, conn, JoinRequest{Type: TypeJoin, RoomCode: code, PlayerID: playerID})
	return conn, read(t, conn)
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("Failed to write message: %v", err)
	}
}

func read(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read WebSocket message: %v", err)
	}
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("Failed to unmarshal message: %v", err)
	}
	return msg
}

// readUntil skips frames until one of the given type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()
	for i := 0; i < 50; i++ {
		msg := read(t, conn)
		if msg["type"] == typ {
			return msg
		}
	}
	t.Fatalf("No %s message received", typ)
	return nil
}

func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestHub_JoinAndRelay(t *testing.T) {
	r := newTestRelay(t)
	code := r.createRoom(t, "host", nil)

	host, joined := r.join(t, strings.ToLower(code), "host")
	if joined["type"] != session.TypeJoined {
		t.Fatalf("Expected joined, got %v", joined)
	}
	if joined["roomCode"] != code || joined["hostId"] != "host" || joined["status"] != string(session.StatusWaiting) {
		t.Errorf("Unexpected joined payload: %v", joined)
	}

	guest, joined := r.join(t, code, "guest")
	if joined["playerId"] != "guest" {
		t.Fatalf("Expected guest joined, got %v", joined)
	}
	if roster := joined["roster"].([]any); len(roster) != 2 {
		t.Errorf("Expected 2 players in roster, got %d", len(roster))
	}

	pj := readUntil(t, host, session.TypePlayerJoined)
	if pj["player"].(map[string]any)["id"] != "guest" {
		t.Errorf("Expected playerJoined for guest, got %v", pj)
	}

	send(t, host, map[string]string{"type": TypeStart})
	readUntil(t, host, session.TypeMatchStarted)
	readUntil(t, guest, session.TypeMatchStarted)

	sess, _ := r.rooms.Resolve(code)
	p, _ := sess.Player("guest")
	send(t, guest, FireRequest{Origin: p.Position, Angle: 0})
	shot := readUntil(t, host, session.TypeBulletFired)
	if shot["shooterId"] != "guest" {
		t.Errorf("Expected guest as shooter, got %v", shot["shooterId"])
	}

	if st := r.hub.Stats(); st.Rooms != 1 || st.Connections != 2 {
		t.Errorf("Expected 1 room with 2 connections, got %+v", st)
	}
}

func TestHub_RejectsJoin(t *testing.T) {
	r := newTestRelay(t)
	duel := match.DefaultRules()
	duel.MaxPlayers = 2
	full := r.createRoom(t, "a", duel)
	r.join(t, full, "a")
	r.join(t, full, "b")

	tests := []struct {
		name   string
		join   JoinRequest
		reason string
	}{
		{"unknown room", JoinRequest{Type: TypeJoin, RoomCode: "ZZZZ22", PlayerID: "p"}, session.RejectReason(session.ErrRoomNotFound)},
		{"malformed code", JoinRequest{Type: TypeJoin, RoomCode: "AB", PlayerID: "p"}, ReasonInvalidJoin},
		{"wrong first frame", JoinRequest{Type: TypeUpdate, RoomCode: full, PlayerID: "p"}, ReasonInvalidJoin},
		{"name too long", JoinRequest{Type: TypeJoin, RoomCode: full, PlayerID: "p", DisplayName: strings.Repeat("x", 30)}, ReasonInvalidJoin},
		{"room full", JoinRequest{Type: TypeJoin, RoomCode: full, PlayerID: "c"}, session.RejectReason(session.ErrRoomFull)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := r.dial(t)
			send(t, conn, tt.join)
			msg := read(t, conn)
			if msg["type"] != TypeRejected || msg["reason"] != tt.reason {
				t.Errorf("Expected rejected/%s, got %v", tt.reason, msg)
			}
			conn.SetReadDeadline(time.Now().Add(2 * time.Second))
			if _, _, err := conn.ReadMessage(); err == nil {
				t.Error("Expected the connection to be closed after rejection")
			}
		})
	}
}

func TestHub_GuestID(t *testing.T) {
	r := newTestRelay(t)
	code := r.createRoom(t, "host", nil)

	_, joined := r.join(t, code, "")
	id, _ := joined["playerId"].(string)
	if !strings.HasPrefix(id, "guest-") {
		t.Errorf("Expected a generated guest id, got %q", id)
	}
}

func TestHub_ReplacesConnection(t *testing.T) {
	r := newTestRelay(t)
	code := r.createRoom(t, "host", nil)
	sess, _ := r.rooms.Resolve(code)

	first, _ := r.join(t, code, "host")
	second, joined := r.join(t, code, "host")
	if joined["type"] != session.TypeJoined {
		t.Fatalf("Expected joined on the new connection, got %v", joined)
	}

	first.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := first.ReadMessage(); err != nil {
			break
		}
	}

	// Closing the replaced socket must not detach the player.
	time.Sleep(20 * time.Millisecond)
	p, ok := sess.Player("host")
	if !ok || !p.Connected {
		t.Errorf("Expected host to stay connected, got %+v", p)
	}
	if st := r.hub.Stats(); st.Connections != 1 {
		t.Errorf("Expected 1 connection, got %d", st.Connections)
	}

	send(t, second, map[string]string{"type": "dance"})
	msg := read(t, second)
	if msg["type"] != TypeError || msg["reason"] != ReasonUnknownType {
		t.Errorf("Expected unknown_type error, got %v", msg)
	}
}

func TestHub_ErrorReplies(t *testing.T) {
	r := newTestRelay(t)
	code := r.createRoom(t, "host", nil)
	r.join(t, code, "host")
	guest, _ := r.join(t, code, "guest")

	tests := []struct {
		name   string
		frame  any
		reason string
	}{
		{"start by non-host", map[string]string{"type": TypeStart}, session.RejectReason(session.ErrNotHost)},
		{"hit claim in lobby", map[string]string{"type": TypeHitClaim, "targetId": "host"}, session.RejectReason(session.ErrNotActive)},
		{"second join", JoinRequest{Type: TypeJoin, RoomCode: code}, ReasonAlreadyJoined},
		{"bad facing", map[string]any{"type": TypeUpdate, "sequence": 1, "facing": 7}, ReasonInvalidMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			send(t, guest, tt.frame)
			msg := readUntil(t, guest, TypeError)
			if msg["reason"] != tt.reason {
				t.Errorf("Expected reason %s, got %v", tt.reason, msg)
			}
		})
	}
}

func TestHub_UpdateAndSnapshot(t *testing.T) {
	r := newTestRelay(t)
	code := r.createRoom(t, "host", nil)
	sess, _ := r.rooms.Resolve(code)

	host, _ := r.join(t, code, "host")
	p, _ := sess.Player("host")

	send(t, host, map[string]any{
		"type":     TypeUpdate,
		"sequence": 1,
		"position": map[string]float64{"x": p.Position.X + 2, "y": p.Position.Y},
		"facing":   1,
	})
	eventually(t, func() bool {
		got, _ := sess.Player("host")
		return got.LastSequence == 1
	}, "update to apply")

	sess.Tick(time.Now())
	snap := readUntil(t, host, session.TypeSnapshot)
	players := snap["players"].([]any)
	if len(players) != 1 || players[0].(map[string]any)["facing"].(float64) != 1 {
		t.Errorf("Unexpected snapshot: %v", snap)
	}
}

func TestHub_LeaveAndDisconnect(t *testing.T) {
	r := newTestRelay(t)
	code := r.createRoom(t, "host", nil)
	sess, _ := r.rooms.Resolve(code)

	host, _ := r.join(t, code, "host")
	guest, _ := r.join(t, code, "guest")
	quitter, _ := r.join(t, code, "quitter")

	guest.Close()
	eventually(t, func() bool {
		p, ok := sess.Player("guest")
		return ok && !p.Connected
	}, "guest to be marked disconnected")

	send(t, quitter, map[string]string{"type": TypeLeave})
	left := readUntil(t, host, session.TypePlayerLeft)
	if left["playerId"] != "quitter" {
		t.Errorf("Expected quitter to leave, got %v", left)
	}
	if _, ok := sess.Player("quitter"); ok {
		t.Error("Expected quitter to be removed from the session")
	}
}

// A replacement that has joined the session but is not registered with the
// hub yet must not be undone by the old socket closing.
func TestHub_StaleCloseAfterRejoin(t *testing.T) {
	r := newTestRelay(t)
	code := r.createRoom(t, "host", nil)
	sess, _ := r.rooms.Resolve(code)

	r.join(t, code, "host")
	old, _ := r.join(t, code, "p2")

	// The new connection's handshake has reached Join, not register.
	if _, err := sess.Join("p2", "", time.Now()); err != nil {
		t.Fatalf("Join failed: %v", err)
	}

	old.Close()
	eventually(t, func() bool { return r.hub.Stats().Connections == 1 }, "old p2 socket to unregister")

	p, ok := sess.Player("p2")
	if !ok || !p.Connected {
		t.Fatalf("Expected p2 to stay connected, got %+v (member=%v)", p, ok)
	}

	sess.Tick(time.Now().Add(session.DefaultReconnectGrace + time.Second))
	if _, ok := sess.Player("p2"); !ok {
		t.Error("Expected p2 to remain a member after the reconnect grace")
	}
}

func TestHub_CloseRoom(t *testing.T) {
	r := newTestRelay(t)
	code := r.createRoom(t, "host", nil)
	host, _ := r.join(t, code, "host")

	r.hub.CloseRoom(code)

	host.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := host.ReadMessage(); err != nil {
			break
		}
	}
	if st := r.hub.Stats(); st.Rooms != 0 || st.Connections != 0 {
		t.Errorf("Expected no rooms after close, got %+v", st)
	}
}

func TestHub_Publish(t *testing.T) {
	hub := NewHub(nil, Config{SendBuffer: 1}, nil)
	a := &Client{hub: hub, roomCode: "ABCD23", playerID: "a", send: make(chan []byte, 1)}
	b := &Client{hub: hub, roomCode: "ABCD23", playerID: "b", send: make(chan []byte, 1)}
	other := &Client{hub: hub, roomCode: "WXYZ99", playerID: "a", send: make(chan []byte, 1)}
	hub.register(a)
	hub.register(b)
	hub.register(other)

	left := session.PlayerLeftMessage{Type: session.TypePlayerLeft, PlayerID: "c"}

	t.Run("exclude", func(t *testing.T) {
		hub.Publish("ABCD23", session.Event{Message: left, Exclude: "a"})
		if len(a.send) != 0 || len(b.send) != 1 || len(other.send) != 0 {
			t.Errorf("Expected only b to receive, got a=%d b=%d other=%d", len(a.send), len(b.send), len(other.send))
		}
	})

	t.Run("full buffer drops", func(t *testing.T) {
		hub.Publish("ABCD23", session.Event{Message: left})
		if len(a.send) != 1 || len(b.send) != 1 {
			t.Errorf("Expected both buffers full, got a=%d b=%d", len(a.send), len(b.send))
		}
		if st := hub.Stats(); st.Dropped != 1 {
			t.Errorf("Expected 1 dropped message, got %d", st.Dropped)
		}
	})

	t.Run("only", func(t *testing.T) {
		<-a.send
		<-b.send
		hub.Publish("ABCD23", session.Event{Message: left, Only: "b"})
		if len(a.send) != 0 || len(b.send) != 1 {
			t.Errorf("Expected only b to receive, got a=%d b=%d", len(a.send), len(b.send))
		}
	})
}

func TestCheckOrigin(t *testing.T) {
	hub := NewHub(nil, Config{AllowedOrigins: []string{"https://play.example.com"}}, nil)

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://play.example.com", true},
		{"https://evil.example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.origin, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := hub.checkOrigin(req); got != tt.want {
				t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}
