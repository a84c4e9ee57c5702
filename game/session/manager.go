package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/wricardo/militia-relay/game/match"
)

// Room is a registry entry: a code bound to exactly one live session.
type Room struct {
	Code       string    `json:"code"`
	CreatedAt  time.Time `json:"createdAt"`
	MaxPlayers int       `json:"maxPlayers"`
	Session    *Session  `json:"-"`

	cancel context.CancelFunc
}

// Option configures a Manager.
type Option func(*Manager)

// WithPublisher sets where session events are delivered.
func WithPublisher(p Publisher) Option {
	return func(m *Manager) { m.publisher = p }
}

// WithTickInterval starts a tick loop per session. Zero disables the loop
// and leaves ticking to the caller.
func WithTickInterval(d time.Duration) Option {
	return func(m *Manager) { m.tickInterval = d }
}

// WithReconnectGrace sets how long a dropped player keeps its slot.
func WithReconnectGrace(d time.Duration) Option {
	return func(m *Manager) { m.reconnectGrace = d }
}

// WithEmptyGrace sets how long an empty room survives.
func WithEmptyGrace(d time.Duration) Option {
	return func(m *Manager) { m.emptyGrace = d }
}

// WithEndedGrace sets how long an ended room stays resolvable.
func WithEndedGrace(d time.Duration) Option {
	return func(m *Manager) { m.endedGrace = d }
}

// WithOnEnd registers a callback for finished matches.
func WithOnEnd(fn func(*match.Result)) Option {
	return func(m *Manager) { m.onEnd = fn }
}

// WithOnExpire registers a callback run after a room is removed.
func WithOnExpire(fn func(code string)) Option {
	return func(m *Manager) { m.onExpire = fn }
}

// WithCodeGenerator replaces the random code source.
func WithCodeGenerator(gen CodeGenerator) Option {
	return func(m *Manager) { m.codes = gen }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// Manager is the room registry. Its lock guards only the code map and is
// never held while calling into a Session.
type Manager struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	publisher      Publisher
	codes          CodeGenerator
	tickInterval   time.Duration
	reconnectGrace time.Duration
	emptyGrace     time.Duration
	endedGrace     time.Duration
	onEnd          func(*match.Result)
	onExpire       func(code string)
	logger         *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewManager creates an empty registry.
func NewManager(opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		rooms:          make(map[string]*Room),
		codes:          RandomCode,
		reconnectGrace: DefaultReconnectGrace,
		emptyGrace:     DefaultEmptyGrace,
		endedGrace:     DefaultEndedGrace,
		logger:         zap.NewNop(),
		ctx:            ctx,
		cancel:         cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SetPublisher replaces the publisher for rooms created afterwards.
func (m *Manager) SetPublisher(p Publisher) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.publisher = p
}

// CreateRoom allocates a fresh code and an empty waiting session owned by
// hostID. Nil rules fall back to match.DefaultRules.
func (m *Manager) CreateRoom(hostID string, rules *match.Rules) (*Room, error) {
	if hostID == "" {
		return nil, fmt.Errorf("%w: host id is required", ErrInvalidState)
	}
	if rules == nil {
		rules = match.DefaultRules()
	}
	if err := match.ValidateRules(rules); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code, err := m.codes()
		if err != nil {
			return nil, err
		}
		code = NormalizeCode(code)
		if _, taken := m.rooms[code]; taken {
			continue
		}

		now := time.Now()
		sess := New(code, hostID, rules, Config{
			Publisher:      m.publisher,
			OnEnd:          m.onEnd,
			ReconnectGrace: m.reconnectGrace,
			EmptyGrace:     m.emptyGrace,
			EndedGrace:     m.endedGrace,
			Logger:         m.logger,
		}, now)
		room := &Room{
			Code:       code,
			CreatedAt:  now,
			MaxPlayers: rules.MaxPlayers,
			Session:    sess,
		}
		if m.tickInterval > 0 {
			ctx, cancel := context.WithCancel(m.ctx)
			room.cancel = cancel
			go sess.Run(ctx, m.tickInterval)
		}
		m.rooms[code] = room

		m.logger.Info("room created",
			zap.String("room", code),
			zap.String("host", hostID),
			zap.String("rules", rules.Name),
			zap.Int("attempts", attempt+1))
		return room, nil
	}

	return nil, ErrCodeSpaceExhausted
}

// Get returns the room for code (case-insensitive).
func (m *Manager) Get(code string) (*Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room, ok := m.rooms[NormalizeCode(code)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRoomNotFound, code)
	}
	return room, nil
}

// Resolve returns the live session for code.
func (m *Manager) Resolve(code string) (*Session, error) {
	room, err := m.Get(code)
	if err != nil {
		return nil, err
	}
	return room.Session, nil
}

// List returns all rooms ordered by creation time.
func (m *Manager) List() []*Room {
	m.mu.RLock()
	rooms := make([]*Room, 0, len(m.rooms))
	for _, room := range m.rooms {
		rooms = append(rooms, room)
	}
	m.mu.RUnlock()

	sort.Slice(rooms, func(i, j int) bool {
		if rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].Code < rooms[j].Code
		}
		return rooms[i].CreatedAt.Before(rooms[j].CreatedAt)
	})
	return rooms
}

// Count returns the number of live rooms.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// Expire removes a room, ending its session if still running. The code
// becomes available again.
func (m *Manager) Expire(code string) error {
	room, err := m.Get(code)
	if err != nil {
		return err
	}
	if room.Session.Status() != StatusEnded {
		_ = room.Session.End(match.EndClosed, "", time.Now())
	}
	if !m.drop(room) {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, code)
	}
	return nil
}

// ExpireIf removes the room only if its session is still due for teardown
// at now. It reports whether the room was removed.
func (m *Manager) ExpireIf(code string, now time.Time) (bool, error) {
	room, err := m.Get(code)
	if err != nil {
		return false, err
	}
	if !room.Session.CloseIfExpired(now) {
		return false, nil
	}
	return m.drop(room), nil
}

// drop unregisters room if it is still the live room for its code, stops
// its loop and fires the expiry callback.
func (m *Manager) drop(room *Room) bool {
	m.mu.Lock()
	current, ok := m.rooms[room.Code]
	if ok && current == room {
		delete(m.rooms, room.Code)
	}
	m.mu.Unlock()

	if !ok || current != room {
		return false
	}
	if room.cancel != nil {
		room.cancel()
	}
	if m.onExpire != nil {
		m.onExpire(room.Code)
	}
	m.logger.Info("room expired", zap.String("room", room.Code))
	return true
}

// Sweep expires every room whose session reports Expired at now and
// returns how many were removed.
func (m *Manager) Sweep(now time.Time) int {
	removed := 0
	for _, room := range m.List() {
		if ok, _ := m.ExpireIf(room.Code, now); ok {
			removed++
		}
	}
	return removed
}

// Run sweeps expired rooms every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := m.Sweep(now); n > 0 {
				m.logger.Debug("swept rooms", zap.Int("removed", n), zap.Int("remaining", m.Count()))
			}
		}
	}
}

// Close ends and removes every room and stops all session loops.
func (m *Manager) Close() {
	for _, room := range m.List() {
		_ = m.Expire(room.Code)
	}
	m.cancel()
}
