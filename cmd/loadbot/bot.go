package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wricardo/militia-relay/game/match"
	"github.com/wricardo/militia-relay/game/session"
	relayws "github.com/wricardo/militia-relay/transport/websocket"
)

// runSpeed stays well under every bundled preset's maxRunSpeed.
const runSpeed = 150.0

// patrol is how far a bot walks either side of where it spawned.
const patrol = 120.0

type updateFrame struct {
	Type string `json:"type"`
	relayws.UpdateRequest
}

type fireFrame struct {
	Type string `json:"type"`
	relayws.FireRequest
}

// inbound is the union of the server messages a bot looks at.
type inbound struct {
	Type     string               `json:"type"`
	Reason   string               `json:"reason"`
	PlayerID string               `json:"playerId"`
	Roster   []match.PlayerState  `json:"roster"`
	Players  []session.PlayerView `json:"players"`
	Player   session.PlayerView   `json:"player"`
	TargetID string               `json:"targetId"`
}

// Bot is one simulated player.
type Bot struct {
	ID        string
	conn      *websocket.Conn
	logger    *zap.Logger
	report    *Report
	writeMu   sync.Mutex
	fireEvery time.Duration

	mu     sync.Mutex
	pos    match.Vec2
	home   match.Vec2
	dir    float64
	alive  bool
	resync bool
	seq    uint64
	ended  chan struct{}
	once   sync.Once
}

// wsURL turns the relay's HTTP base URL into its WebSocket endpoint.
func wsURL(base string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(base, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path += "/ws"
	return u.String(), nil
}

// dialBot connects and joins roomCode as id, waiting for the joined reply.
func dialBot(ctx context.Context, endpoint, roomCode, id string, report *Report, logger *zap.Logger) (*Bot, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	join := relayws.JoinRequest{Type: relayws.TypeJoin, RoomCode: roomCode, PlayerID: id, DisplayName: id}
	if err := conn.WriteJSON(join); err != nil {
		conn.Close()
		return nil, fmt.Errorf("send join: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var msg inbound
	if err := conn.ReadJSON(&msg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("read join reply: %w", err)
	}
	conn.SetReadDeadline(time.Time{})
	report.count(msg.Type)

	if msg.Type != session.TypeJoined {
		conn.Close()
		return nil, fmt.Errorf("join %s rejected: %s", id, msg.Reason)
	}

	b := &Bot{
		ID:     msg.PlayerID,
		conn:   conn,
		logger: logger.With(zap.String("bot", msg.PlayerID)),
		report: report,
		dir:    1,
		alive:  true,
		ended:  make(chan struct{}),
	}
	for _, p := range msg.Roster {
		if p.ID == b.ID {
			b.pos, b.home, b.alive = p.Position, p.Position, p.Alive
		}
	}
	return b, nil
}

func (b *Bot) send(v any) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	b.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return b.conn.WriteJSON(v)
}

// Start asks the relay to start the match; only the host may.
func (b *Bot) Start() error {
	return b.send(map[string]string{"type": relayws.TypeStart})
}

// Ended is closed when the bot sees matchEnded or loses its connection.
func (b *Bot) Ended() <-chan struct{} { return b.ended }

func (b *Bot) end() { b.once.Do(func() { close(b.ended) }) }

// readLoop consumes server messages until the connection closes.
func (b *Bot) readLoop() {
	defer b.end()
	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			return
		}
		var msg inbound
		if err := json.Unmarshal(data, &msg); err != nil {
			b.report.count("malformed")
			continue
		}
		b.report.count(msg.Type)
		b.observe(&msg)
		if msg.Type == session.TypeMatchEnded {
			return
		}
	}
}

func (b *Bot) observe(msg *inbound) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch msg.Type {
	case session.TypeMatchStarted:
		b.resync = true
	case session.TypeSnapshot:
		for _, p := range msg.Players {
			if p.ID != b.ID {
				continue
			}
			b.alive = p.Alive
			if b.resync {
				b.pos, b.home, b.resync = p.Position, p.Position, false
			}
		}
	case session.TypeRespawned:
		if msg.Player.ID == b.ID {
			b.pos, b.home, b.alive = msg.Player.Position, msg.Player.Position, true
		}
	case session.TypeKilled:
		if msg.TargetID == b.ID {
			b.alive = false
		}
	case relayws.TypeError:
		b.logger.Debug("relay error", zap.String("reason", msg.Reason))
	}
}

// step advances the patrol by dt and returns the next update, or false while
// the bot is dead.
func (b *Bot) step(dt time.Duration) (updateFrame, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.alive {
		return updateFrame{}, false
	}

	b.pos.X += b.dir * runSpeed * dt.Seconds()
	if math.Abs(b.pos.X-b.home.X) >= patrol {
		b.dir = -b.dir
	}
	b.seq++
	return updateFrame{
		Type: relayws.TypeUpdate,
		UpdateRequest: relayws.UpdateRequest{
			Sequence: b.seq,
			Position: b.pos,
			Velocity: match.Vec2{X: b.dir * runSpeed},
			Facing:   int(b.dir),
		},
	}, true
}

func (b *Bot) shot(rng *rand.Rand) fireFrame {
	b.mu.Lock()
	defer b.mu.Unlock()
	return fireFrame{
		Type: relayws.TypeFire,
		FireRequest: relayws.FireRequest{
			Origin: b.pos,
			Angle:  rng.Float64()*2*math.Pi - math.Pi,
		},
	}
}

// Run streams updates at updateRate and fires every fireEvery until ctx is
// done or the match ends.
func (b *Bot) Run(ctx context.Context, updateRate float64, rng *rand.Rand) {
	go b.readLoop()

	limiter := rate.NewLimiter(rate.Limit(updateRate), 1)
	dt := time.Duration(float64(time.Second) / updateRate)
	lastFire := time.Now()

	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
		select {
		case <-b.ended:
			return
		default:
		}

		if frame, ok := b.step(dt); ok {
			if err := b.send(frame); err != nil {
				b.logger.Debug("send update failed", zap.Error(err))
				return
			}
			b.report.sent(relayws.TypeUpdate)
		}

		if b.fireEvery > 0 && time.Since(lastFire) >= b.fireEvery {
			lastFire = time.Now()
			if err := b.send(b.shot(rng)); err != nil {
				return
			}
			b.report.sent(relayws.TypeFire)
		}
	}
}

// Leave says goodbye and closes the socket.
func (b *Bot) Leave() {
	b.send(map[string]string{"type": relayws.TypeLeave})
	b.writeMu.Lock()
	b.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	b.writeMu.Unlock()
	b.conn.Close()
}
