package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wricardo/militia-relay/game/session"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096
)

// Registry resolves room codes to live sessions.
type Registry interface {
	Resolve(code string) (*session.Session, error)
}

// Config tunes the transport.
type Config struct {
	// JoinTimeout bounds the wait for the first (join) frame.
	JoinTimeout time.Duration
	// UpdateRate and UpdateBurst cap inbound updates per connection.
	UpdateRate  float64
	UpdateBurst int
	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int
	// AllowedOrigins restricts browser origins; empty allows all.
	AllowedOrigins []string
}

// DefaultConfig returns the transport defaults.
func DefaultConfig() Config {
	return Config{
		JoinTimeout: 10 * time.Second,
		UpdateRate:  20,
		UpdateBurst: 5,
		SendBuffer:  256,
	}
}

// HubStats are transport counters for health endpoints.
type HubStats struct {
	Rooms       int    `json:"rooms"`
	Connections int    `json:"connections"`
	Dropped     uint64 `json:"dropped"`
	Throttled   uint64 `json:"throttled"`
}

// Hub tracks one connection per (room, player) and fans session events out
// to them. It implements session.Publisher.
type Hub struct {
	// Registered clients by room code, then player ID
	rooms map[string]map[string]*Client
	mu    sync.RWMutex

	registry Registry
	cfg      Config
	upgrader websocket.Upgrader
	validate *validator.Validate
	logger   *zap.Logger

	dropped   atomic.Uint64
	throttled atomic.Uint64
}

// NewHub creates a new WebSocket hub
func NewHub(registry Registry, cfg Config, logger *zap.Logger) *Hub {
	def := DefaultConfig()
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = def.JoinTimeout
	}
	if cfg.UpdateRate <= 0 {
		cfg.UpdateRate = def.UpdateRate
	}
	if cfg.UpdateBurst <= 0 {
		cfg.UpdateBurst = def.UpdateBurst
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	h := &Hub{
		rooms:    make(map[string]map[string]*Client),
		registry: registry,
		cfg:      cfg,
		validate: validator.New(),
		logger:   logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == origin {
			return true
		}
	}
	return false
}

// ServeWS upgrades the request, performs the join handshake and starts the
// connection pumps.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client, err := h.handshake(conn)
	if err != nil {
		conn.Close()
		return
	}

	h.register(client)

	go client.writePump()
	go client.readPump()
}

// handshake reads and validates the join frame, resolves the room and joins
// the session. The joined message is queued before the client is registered
// so it is always the first frame the player receives.
func (h *Hub) handshake(conn *websocket.Conn) (*Client, error) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(h.cfg.JoinTimeout))

	_, data, err := conn.ReadMessage()
	if err != nil {
		h.logger.Debug("no join frame", zap.Error(err))
		return nil, err
	}

	var req JoinRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, h.reject(conn, ReasonInvalidJoin, "malformed join frame")
	}
	req.RoomCode = session.NormalizeCode(req.RoomCode)
	if err := h.validate.Struct(req); err != nil {
		return nil, h.reject(conn, ReasonInvalidJoin, err.Error())
	}
	if req.PlayerID == "" {
		req.PlayerID = newGuestID()
	}

	sess, err := h.registry.Resolve(req.RoomCode)
	if err != nil {
		return nil, h.reject(conn, session.RejectReason(err), err.Error())
	}
	res, err := sess.Join(req.PlayerID, req.DisplayName, time.Now())
	if err != nil {
		return nil, h.reject(conn, session.RejectReason(err), err.Error())
	}

	joined, err := json.Marshal(res.Message())
	if err != nil {
		return nil, err
	}

	client := newClient(h, conn, sess, req.PlayerID, res.ConnID)
	client.send <- joined

	h.logger.Info("client joined",
		zap.String("room", sess.Code()),
		zap.String("player", req.PlayerID),
		zap.Bool("reconnected", res.Reconnected))
	return client, nil
}

// reject sends a rejected frame and returns an error for the caller.
func (h *Hub) reject(conn *websocket.Conn, reason, message string) error {
	h.logger.Info("join rejected", zap.String("reason", reason), zap.String("detail", message))

	data, _ := json.Marshal(RejectedMessage{Type: TypeRejected, Reason: reason, Message: message})
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	conn.WriteMessage(websocket.TextMessage, data)
	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason))
	return &rejectError{reason: reason}
}

type rejectError struct{ reason string }

func (e *rejectError) Error() string { return "join rejected: " + e.reason }

// Publish delivers ev to the connections of roomCode. The message is
// marshaled once; a connection with a full buffer misses it.
func (h *Hub) Publish(roomCode string, ev session.Event) {
	data, err := json.Marshal(ev.Message)
	if err != nil {
		h.logger.Error("failed to marshal event", zap.String("room", roomCode), zap.Error(err))
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for playerID, client := range h.rooms[roomCode] {
		if !ev.Reaches(playerID) {
			continue
		}
		select {
		case client.send <- data:
		default:
			h.dropped.Add(1)
			h.logger.Debug("send buffer full, dropping message",
				zap.String("room", roomCode),
				zap.String("player", playerID))
		}
	}
}

// deliver queues data for c if c is still the registered connection.
func (h *Hub) deliver(c *Client, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.rooms[c.roomCode][c.playerID] != c {
		return
	}
	select {
	case c.send <- data:
	default:
		h.dropped.Add(1)
	}
}

// register adds a client, replacing and closing an older connection of the
// same player.
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.rooms[c.roomCode]
	if clients == nil {
		clients = make(map[string]*Client)
		h.rooms[c.roomCode] = clients
	}
	if old := clients[c.playerID]; old != nil {
		old.closeSend()
		h.logger.Info("connection replaced",
			zap.String("room", c.roomCode),
			zap.String("player", c.playerID))
	}
	clients[c.playerID] = c
}

// unregister removes c and reports whether it was the current connection
// for its player.
func (h *Hub) unregister(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.rooms[c.roomCode]
	if clients[c.playerID] != c {
		return false
	}
	delete(clients, c.playerID)
	if len(clients) == 0 {
		delete(h.rooms, c.roomCode)
	}
	c.closeSend()
	return true
}

// CloseRoom disconnects every client of a room. It is called when the
// registry expires the room.
func (h *Hub) CloseRoom(roomCode string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range h.rooms[roomCode] {
		c.closeSend()
	}
	delete(h.rooms, roomCode)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for code, clients := range h.rooms {
		for _, c := range clients {
			c.closeSend()
		}
		delete(h.rooms, code)
	}
}

// Stats returns transport counters.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	st := HubStats{
		Rooms:     len(h.rooms),
		Dropped:   h.dropped.Load(),
		Throttled: h.throttled.Load(),
	}
	for _, clients := range h.rooms {
		st.Connections += len(clients)
	}
	return st
}

func (h *Hub) newLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(h.cfg.UpdateRate), h.cfg.UpdateBurst)
}
