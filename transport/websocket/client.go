package websocket

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wricardo/militia-relay/game/session"
	"github.com/wricardo/militia-relay/game/stats"
)

// Client is a middleman between the websocket connection and a session.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages. Closed by the hub under its lock.
	send      chan []byte
	closeOnce sync.Once

	session  *session.Session
	roomCode string
	playerID string
	connID   uint64

	// Inbound update throttle.
	limiter *rate.Limiter
}

func newClient(h *Hub, conn *websocket.Conn, sess *session.Session, playerID string, connID uint64) *Client {
	return &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, h.cfg.SendBuffer),
		session:  sess,
		roomCode: sess.Code(),
		playerID: playerID,
		connID:   connID,
		limiter:  h.newLimiter(),
	}
}

func newGuestID() string {
	return stats.GuestPrefix + uuid.NewString()
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// readPump pumps messages from the websocket connection to the session.
//
// The application runs readPump in a per-connection goroutine. The
// application ensures that there is at most one reader on a connection by
// executing all reads from this goroutine.
func (c *Client) readPump() {
	left := false
	defer func() {
		if c.hub.unregister(c) && !left {
			// Replaced connections keep the player attached, even when the
			// replacement joined but has not registered yet.
			if err := c.session.DisconnectConn(c.playerID, c.connID, time.Now()); err == nil {
				c.hub.logger.Info("client disconnected",
					zap.String("room", c.roomCode),
					zap.String("player", c.playerID))
			}
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.hub.logger.Debug("websocket read error", zap.String("player", c.playerID), zap.Error(err))
			}
			return
		}
		if c.handle(data) {
			left = true
			return
		}
	}
}

// writePump pumps messages from the hub to the websocket connection.
//
// A goroutine running writePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine. Each message is its own frame.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handle dispatches one inbound frame. It reports whether the player left.
func (c *Client) handle(data []byte) bool {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.sendError(ReasonInvalidMessage, "malformed frame")
		return false
	}

	now := time.Now()
	log := c.hub.logger.With(
		zap.String("room", c.roomCode),
		zap.String("player", c.playerID),
		zap.String("type", env.Type))

	switch env.Type {
	case TypeUpdate:
		if !c.limiter.Allow() {
			c.hub.throttled.Add(1)
			log.Debug("update throttled")
			return false
		}
		var req UpdateRequest
		if !c.decode(data, &req) {
			return false
		}
		err := c.session.ApplyUpdate(c.playerID, session.Update{
			Sequence: req.Sequence,
			Position: req.Position,
			Velocity: req.Velocity,
			Facing:   req.Facing,
			Flags:    req.Flags,
		}, now)
		switch {
		case err == nil:
		case errors.Is(err, session.ErrStaleUpdate), errors.Is(err, session.ErrPlayerDead):
			log.Debug("update dropped", zap.Error(err))
		case errors.Is(err, session.ErrInvalidState):
			log.Warn("implausible update dropped", zap.Uint64("sequence", req.Sequence), zap.Error(err))
		default:
			c.sendError(session.RejectReason(err), err.Error())
		}

	case TypeFire:
		var req FireRequest
		if !c.decode(data, &req) {
			return false
		}
		err := c.session.Fire(c.playerID, req.Origin, req.Angle, now)
		switch {
		case err == nil:
		case errors.Is(err, session.ErrRateExceeded):
			log.Debug("fire throttled")
		default:
			log.Warn("fire rejected", zap.Error(err))
			c.sendError(session.RejectReason(err), err.Error())
		}

	case TypeHitClaim:
		var req HitClaimRequest
		if !c.decode(data, &req) {
			return false
		}
		if err := c.session.ClaimHit(c.playerID, req.TargetID, now); err != nil {
			log.Warn("hit claim rejected", zap.String("target", req.TargetID), zap.Error(err))
			c.sendError(session.RejectReason(err), err.Error())
		}

	case TypeStart:
		if err := c.session.Start(c.playerID, now); err != nil {
			c.sendError(session.RejectReason(err), err.Error())
		}

	case TypeLeave:
		if err := c.session.Leave(c.playerID, now); err != nil {
			log.Debug("leave failed", zap.Error(err))
		}
		log.Info("client left")
		return true

	case TypeJoin:
		c.sendError(ReasonAlreadyJoined, "connection already joined "+c.roomCode)

	default:
		c.sendError(ReasonUnknownType, "unknown message type "+env.Type)
	}
	return false
}

func (c *Client) decode(data []byte, v any) bool {
	if err := json.Unmarshal(data, v); err != nil {
		c.sendError(ReasonInvalidMessage, err.Error())
		return false
	}
	if err := c.hub.validate.Struct(v); err != nil {
		c.sendError(ReasonInvalidMessage, err.Error())
		return false
	}
	return true
}

func (c *Client) sendError(reason, message string) {
	data, err := json.Marshal(ErrorMessage{Type: TypeError, Reason: reason, Message: message})
	if err != nil {
		return
	}
	c.hub.deliver(c, data)
}
