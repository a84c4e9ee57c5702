package session

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/wricardo/militia-relay/game/match"
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusWaiting Status = "waiting"
	StatusActive  Status = "active"
	StatusEnded   Status = "ended"
)

const (
	DefaultReconnectGrace = 10 * time.Second
	DefaultEmptyGrace     = 30 * time.Second
	DefaultEndedGrace     = 30 * time.Second
)

// Config carries the collaborators and timeouts of a Session.
type Config struct {
	Publisher      Publisher
	OnEnd          func(*match.Result)
	ReconnectGrace time.Duration
	EmptyGrace     time.Duration
	EndedGrace     time.Duration
	Logger         *zap.Logger
}

// Update is one movement report from a client.
type Update struct {
	Sequence uint64
	Position match.Vec2
	Velocity match.Vec2
	Facing   int
	Flags    match.Flags
}

// JoinResult is returned to a player who joined or rejoined.
type JoinResult struct {
	RoomCode    string
	HostID      string
	Status      Status
	RulesName   string
	Player      match.PlayerState
	Roster      []match.PlayerState
	Reconnected bool
	// ConnID identifies this attachment; pass it to DisconnectConn.
	ConnID uint64
}

// Message builds the joined message for the joining player.
func (r *JoinResult) Message() JoinedMessage {
	return JoinedMessage{
		Type:     TypeJoined,
		RoomCode: r.RoomCode,
		PlayerID: r.Player.ID,
		HostID:   r.HostID,
		Status:   r.Status,
		Rules:    r.RulesName,
		Roster:   r.Roster,
	}
}

// SessionInfo is a read-only view of a session.
type SessionInfo struct {
	RoomCode   string              `json:"roomCode"`
	HostID     string              `json:"hostId"`
	Status     Status              `json:"status"`
	Rules      string              `json:"rules"`
	Mode       match.Mode          `json:"mode"`
	MaxPlayers int                 `json:"maxPlayers"`
	Tick       uint64              `json:"tick"`
	CreatedAt  time.Time           `json:"createdAt"`
	StartedAt  *time.Time          `json:"startedAt,omitempty"`
	EndedAt    *time.Time          `json:"endedAt,omitempty"`
	EndReason  match.EndReason     `json:"endReason,omitempty"`
	WinnerID   string              `json:"winnerId,omitempty"`
	Players    []match.PlayerState `json:"players"`
}

// Session is the authoritative instance of one room. All state is guarded
// by mu; every exported method takes it exactly once.
type Session struct {
	mu sync.Mutex

	code   string
	hostID string
	rules  *match.Rules
	cfg    Config
	logger *zap.Logger

	status     Status
	members    map[string]*match.PlayerState
	bullets    map[string][]match.Bullet
	lastShot   map[string]time.Time
	dirty      map[string]struct{}
	conns      map[string]uint64
	connSeq    uint64
	spawnSeq   int
	tick       uint64
	createdAt  time.Time
	startedAt  time.Time
	endedAt    time.Time
	emptySince time.Time
	matchID    string
	endReason  match.EndReason
	winnerID   string

	// pending holds a result produced under mu, delivered to OnEnd after unlock.
	pending *match.Result
}

// New creates an empty waiting session owned by hostID.
func New(code, hostID string, rules *match.Rules, cfg Config, now time.Time) *Session {
	if cfg.ReconnectGrace <= 0 {
		cfg.ReconnectGrace = DefaultReconnectGrace
	}
	if cfg.EmptyGrace <= 0 {
		cfg.EmptyGrace = DefaultEmptyGrace
	}
	if cfg.EndedGrace <= 0 {
		cfg.EndedGrace = DefaultEndedGrace
	}
	if cfg.Publisher == nil {
		cfg.Publisher = PublisherFunc(func(string, Event) {})
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		code:       code,
		hostID:     hostID,
		rules:      rules,
		cfg:        cfg,
		logger:     logger.With(zap.String("room", code)),
		status:     StatusWaiting,
		members:    make(map[string]*match.PlayerState),
		bullets:    make(map[string][]match.Bullet),
		lastShot:   make(map[string]time.Time),
		dirty:      make(map[string]struct{}),
		conns:      make(map[string]uint64),
		createdAt:  now,
		emptySince: now,
	}
}

// Code returns the room code.
func (s *Session) Code() string { return s.code }

// HostID returns the host's player ID.
func (s *Session) HostID() string { return s.hostID }

// Rules returns the rules the session was created with. Callers must not
// modify them.
func (s *Session) Rules() *match.Rules { return s.rules }

// Status returns the current lifecycle status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// MemberCount returns the number of members.
func (s *Session) MemberCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

// Player returns a copy of a member's state.
func (s *Session) Player(id string) (match.PlayerState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.members[id]
	if !ok {
		return match.PlayerState{}, false
	}
	return p.Clone(), true
}

// Join adds playerID to the session, or reattaches it if already a member.
func (s *Session) Join(playerID, displayName string, now time.Time) (*JoinResult, error) {
	var res *JoinResult
	err := s.do(func() error {
		if s.status == StatusEnded {
			return ErrSessionEnded
		}

		if p, ok := s.members[playerID]; ok {
			p.Connected = true
			p.DisconnectedAt = time.Time{}
			// A fresh client restarts its sequence counter.
			p.LastSequence = 0
			p.LastUpdate = now
			if displayName != "" {
				p.DisplayName = displayName
			}
			s.markDirty(playerID)
			s.logger.Info("player reconnected", zap.String("player", playerID))
			res = s.joinResult(p, true)
			return nil
		}

		if len(s.members) >= s.rules.MaxPlayers {
			return fmt.Errorf("%w: %d/%d players", ErrRoomFull, len(s.members), s.rules.MaxPlayers)
		}
		if displayName == "" {
			displayName = playerID
		}

		p := match.NewPlayerState(playerID, displayName, s.nextSpawn(), now)
		if s.status == StatusActive && !s.rules.Respawns() {
			// Late joiners spectate a survival round.
			p.Alive = false
			p.Health = 0
		}
		s.members[playerID] = p
		s.emptySince = time.Time{}
		s.markDirty(playerID)

		s.publish(Event{
			Message: PlayerJoinedMessage{Type: TypePlayerJoined, Player: p.Clone()},
			Exclude: playerID,
		})
		s.logger.Info("player joined",
			zap.String("player", playerID),
			zap.Int("members", len(s.members)))
		res = s.joinResult(p, false)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ApplyUpdate validates and applies a movement report.
func (s *Session) ApplyUpdate(playerID string, u Update, now time.Time) error {
	return s.do(func() error {
		if s.status == StatusEnded {
			return ErrSessionEnded
		}
		p, ok := s.members[playerID]
		if !ok {
			return ErrNotMember
		}
		if u.Sequence <= p.LastSequence {
			return fmt.Errorf("%w: sequence %d <= %d", ErrStaleUpdate, u.Sequence, p.LastSequence)
		}
		if !p.Alive {
			return ErrPlayerDead
		}
		if err := s.rules.CheckMovement(p, u.Position, u.Velocity, now); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidState, err)
		}

		jetpack := s.rules.UpdateFuel(p, u.Flags.Jetpack, now)
		p.Position = u.Position
		p.Velocity = u.Velocity
		switch {
		case u.Facing < 0:
			p.Facing = -1
		case u.Facing > 0:
			p.Facing = 1
		}
		p.Flags = match.Flags{Jetpack: jetpack, Shooting: u.Flags.Shooting}
		p.LastUpdate = now
		p.LastSequence = u.Sequence
		s.markDirty(playerID)
		return nil
	})
}

// Fire records a shot and relays it to the other members immediately.
func (s *Session) Fire(playerID string, origin match.Vec2, angle float64, now time.Time) error {
	return s.do(func() error {
		if s.status == StatusEnded {
			return ErrSessionEnded
		}
		p, ok := s.members[playerID]
		if !ok {
			return ErrNotMember
		}
		if !p.Alive {
			return ErrPlayerDead
		}
		if last, ok := s.lastShot[playerID]; ok && now.Sub(last) < s.rules.FireCooldown() {
			return fmt.Errorf("%w: fire cooldown", ErrRateExceeded)
		}
		if !origin.Finite() || math.IsNaN(angle) || math.IsInf(angle, 0) {
			return fmt.Errorf("%w: non-finite shot", ErrInvalidState)
		}
		if !s.rules.CanReachMuzzle(p.Position, origin) {
			return fmt.Errorf("%w: muzzle %.0f px away from player", ErrInvalidState, p.Position.Dist(origin))
		}

		b := match.NewBullet(playerID, origin, angle, s.rules.BulletSpeed, p.LastSequence, now)
		s.lastShot[playerID] = now
		s.bullets[playerID] = append(s.liveBullets(playerID, now), b)

		s.publish(Event{
			Message: BulletFiredMessage{
				Type:      TypeBulletFired,
				ShooterID: playerID,
				Origin:    b.Origin,
				Angle:     b.Angle,
				Velocity:  b.Velocity,
			},
			Exclude: playerID,
		})
		return nil
	})
}

// ClaimHit verifies a client's hit claim against the shooter's live bullets
// and applies the rules' damage when one of them reached the target.
func (s *Session) ClaimHit(shooterID, targetID string, now time.Time) error {
	return s.do(func() error {
		if s.status != StatusActive {
			return ErrNotActive
		}
		if _, ok := s.members[shooterID]; !ok {
			return ErrNotMember
		}
		target, ok := s.members[targetID]
		if !ok {
			return fmt.Errorf("%w: target %s", ErrNotMember, targetID)
		}
		if shooterID == targetID {
			return fmt.Errorf("%w: self hit claim", ErrInvalidState)
		}
		if !target.Alive {
			return ErrPlayerDead
		}

		live := s.liveBullets(shooterID, now)
		for i, b := range live {
			if s.rules.HitCheck(b, target.Position, now) {
				s.bullets[shooterID] = append(live[:i], live[i+1:]...)
				return s.recordHit(shooterID, targetID, s.rules.BulletDamage, now)
			}
		}
		s.bullets[shooterID] = live
		return fmt.Errorf("%w: no bullet from %s reaches %s", ErrInvalidState, shooterID, targetID)
	})
}

// RecordHit applies damage from shooter to target. Only valid while active.
func (s *Session) RecordHit(shooterID, targetID string, damage int, now time.Time) error {
	return s.do(func() error {
		return s.recordHit(shooterID, targetID, damage, now)
	})
}

// Leave removes playerID from the session.
func (s *Session) Leave(playerID string, now time.Time) error {
	return s.do(func() error {
		return s.remove(playerID, now)
	})
}

// Disconnect marks playerID's connection as lost. Tick removes the player
// if it does not rejoin within the reconnect grace.
func (s *Session) Disconnect(playerID string, now time.Time) error {
	return s.do(func() error {
		return s.disconnect(playerID, now)
	})
}

// DisconnectConn is Disconnect for a specific attachment. It returns
// ErrStaleConnection, and changes nothing, when the player has joined again
// since connID was issued.
func (s *Session) DisconnectConn(playerID string, connID uint64, now time.Time) error {
	return s.do(func() error {
		if _, ok := s.members[playerID]; !ok {
			return ErrNotMember
		}
		if s.conns[playerID] != connID {
			return ErrStaleConnection
		}
		return s.disconnect(playerID, now)
	})
}

func (s *Session) disconnect(playerID string, now time.Time) error {
	p, ok := s.members[playerID]
	if !ok {
		return ErrNotMember
	}
	if !p.Connected {
		return nil
	}
	p.Connected = false
	p.DisconnectedAt = now
	s.markDirty(playerID)
	s.logger.Info("player disconnected", zap.String("player", playerID))
	return nil
}

// Start moves the session from waiting to active. Host only.
func (s *Session) Start(playerID string, now time.Time) error {
	return s.do(func() error {
		if playerID != s.hostID {
			return ErrNotHost
		}
		if s.status != StatusWaiting {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.status, StatusActive)
		}

		s.status = StatusActive
		s.startedAt = now
		s.matchID = uuid.NewString()
		s.bullets = make(map[string][]match.Bullet)
		s.lastShot = make(map[string]time.Time)
		for _, id := range s.memberIDs() {
			p := s.members[id]
			p.ResetScore()
			match.Respawn(p, s.nextSpawn(), now)
			s.markDirty(id)
		}

		s.publish(Event{Message: MatchStartedMessage{
			Type:             TypeMatchStarted,
			StartedAt:        now,
			Mode:             s.rules.Mode,
			TimeLimitSeconds: s.rules.TimeLimitSeconds,
			KillLimit:        s.rules.KillLimit,
		}})
		s.logger.Info("match started",
			zap.String("match", s.matchID),
			zap.Int("members", len(s.members)))
		return nil
	})
}

// End finishes the session. winnerID may be empty.
func (s *Session) End(reason match.EndReason, winnerID string, now time.Time) error {
	return s.do(func() error {
		if s.status == StatusEnded {
			return ErrSessionEnded
		}
		s.end(reason, winnerID, now)
		return nil
	})
}

// Tick advances timers and publishes one snapshot of the players that
// changed since the previous tick. Nothing is published when nothing changed.
func (s *Session) Tick(now time.Time) {
	_ = s.do(func() error {
		if s.status == StatusEnded {
			return nil
		}
		s.tick++

		if s.status == StatusActive && s.rules.Respawns() {
			for _, id := range s.memberIDs() {
				p := s.members[id]
				if p.Alive || p.RespawnAt.IsZero() || now.Before(p.RespawnAt) {
					continue
				}
				match.Respawn(p, s.nextSpawn(), now)
				s.markDirty(id)
				s.publish(Event{Message: RespawnedMessage{Type: TypeRespawned, Player: viewOf(p)}})
			}
		}

		for _, id := range s.memberIDs() {
			p := s.members[id]
			if p.Connected || p.DisconnectedAt.IsZero() || now.Sub(p.DisconnectedAt) < s.cfg.ReconnectGrace {
				continue
			}
			s.logger.Info("reconnect grace expired", zap.String("player", id))
			_ = s.remove(id, now)
			if s.status == StatusEnded {
				return nil
			}
		}

		if s.status == StatusActive && s.rules.TimeLimit() > 0 && now.Sub(s.startedAt) >= s.rules.TimeLimit() {
			s.end(match.EndTimeLimit, "", now)
			return nil
		}

		if len(s.dirty) == 0 {
			return nil
		}
		players := make([]PlayerView, 0, len(s.dirty))
		for id := range s.dirty {
			if p, ok := s.members[id]; ok {
				players = append(players, viewOf(p))
			}
		}
		s.dirty = make(map[string]struct{})
		if len(players) == 0 {
			return nil
		}
		sort.Slice(players, func(i, j int) bool { return players[i].ID < players[j].ID })
		s.publish(Event{Message: SnapshotMessage{Type: TypeSnapshot, Tick: s.tick, Players: players}})
		return nil
	})
}

// Run ticks the session every interval until ctx is done or the session
// ends. A panic inside a tick ends this session only.
func (s *Session) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if !s.safeTick(now) || s.Status() == StatusEnded {
				return
			}
		}
	}
}

func (s *Session) safeTick(now time.Time) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("tick panicked, ending session",
				zap.Any("panic", r),
				zap.Stack("stack"))
			_ = s.End(match.EndInternalError, "", now)
			ok = false
		}
	}()
	s.Tick(now)
	return true
}

// Snapshot returns a read-only view for admin surfaces.
func (s *Session) Snapshot() SessionInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	info := SessionInfo{
		RoomCode:   s.code,
		HostID:     s.hostID,
		Status:     s.status,
		Rules:      s.rules.Name,
		Mode:       s.rules.Mode,
		MaxPlayers: s.rules.MaxPlayers,
		Tick:       s.tick,
		CreatedAt:  s.createdAt,
		EndReason:  s.endReason,
		WinnerID:   s.winnerID,
		Players:    s.roster(),
	}
	if !s.startedAt.IsZero() {
		t := s.startedAt
		info.StartedAt = &t
	}
	if !s.endedAt.IsZero() {
		t := s.endedAt
		info.EndedAt = &t
	}
	return info
}

// Expired reports whether the session can be torn down: ended for longer
// than the ended grace, or empty for longer than the empty grace.
func (s *Session) Expired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expired(now)
}

func (s *Session) expired(now time.Time) bool {
	if s.status == StatusEnded && now.Sub(s.endedAt) >= s.cfg.EndedGrace {
		return true
	}
	return len(s.members) == 0 && !s.emptySince.IsZero() && now.Sub(s.emptySince) >= s.cfg.EmptyGrace
}

// CloseIfExpired ends the session as closed when it is Expired at now, and
// reports whether it did. The check and the close share one lock, so a Join
// racing the teardown either lands first and keeps the session alive, or
// fails with ErrSessionEnded.
func (s *Session) CloseIfExpired(now time.Time) bool {
	expired := false
	s.do(func() error {
		if !s.expired(now) {
			return nil
		}
		expired = true
		s.end(match.EndClosed, "", now)
		return nil
	})
	return expired
}

// do runs fn under the lock and delivers any match result afterwards, so
// OnEnd never runs while the session is locked.
func (s *Session) do(fn func() error) error {
	res, err := s.locked(fn)
	if res != nil && s.cfg.OnEnd != nil {
		s.cfg.OnEnd(res)
	}
	return err
}

func (s *Session) locked(fn func() error) (*match.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := fn()
	res := s.pending
	s.pending = nil
	return res, err
}

func (s *Session) recordHit(shooterID, targetID string, damage int, now time.Time) error {
	if s.status != StatusActive {
		return ErrNotActive
	}
	shooter, ok := s.members[shooterID]
	if !ok {
		return ErrNotMember
	}
	target, ok := s.members[targetID]
	if !ok {
		return fmt.Errorf("%w: target %s", ErrNotMember, targetID)
	}
	if !target.Alive {
		return ErrPlayerDead
	}

	killed := match.ApplyDamage(target, damage)
	s.markDirty(targetID)
	if !killed {
		return nil
	}

	if shooterID != targetID {
		match.CreditKill(shooter)
		s.markDirty(shooterID)
	}
	if s.rules.Respawns() {
		target.RespawnAt = now.Add(s.rules.RespawnDelay())
	}
	s.publish(Event{Message: KilledMessage{Type: TypeKilled, ShooterID: shooterID, TargetID: targetID}})
	s.logger.Info("player killed",
		zap.String("shooter", shooterID),
		zap.String("target", targetID),
		zap.Int("kills", shooter.Kills))

	if s.rules.KillLimit > 0 && shooter.Kills >= s.rules.KillLimit {
		s.end(match.EndKillLimit, shooterID, now)
		return nil
	}
	if !s.rules.Respawns() {
		s.checkLastStanding(now)
	}
	return nil
}

func (s *Session) remove(playerID string, now time.Time) error {
	if _, ok := s.members[playerID]; !ok {
		return ErrNotMember
	}
	delete(s.members, playerID)
	delete(s.bullets, playerID)
	delete(s.lastShot, playerID)
	delete(s.dirty, playerID)
	delete(s.conns, playerID)
	if len(s.members) == 0 {
		s.emptySince = now
	}

	s.publish(Event{
		Message: PlayerLeftMessage{Type: TypePlayerLeft, PlayerID: playerID},
		Exclude: playerID,
	})
	s.logger.Info("player left",
		zap.String("player", playerID),
		zap.Int("members", len(s.members)))

	switch {
	case s.status == StatusEnded:
	case playerID == s.hostID:
		s.end(match.EndHostLeft, "", now)
	case s.status == StatusActive && len(s.members) <= 1:
		winner := ""
		for id := range s.members {
			winner = id
		}
		s.end(match.EndLastStanding, winner, now)
	case s.status == StatusActive && !s.rules.Respawns():
		s.checkLastStanding(now)
	}
	return nil
}

func (s *Session) checkLastStanding(now time.Time) {
	alive := make([]string, 0, len(s.members))
	for id, p := range s.members {
		if p.Alive {
			alive = append(alive, id)
		}
	}
	switch len(alive) {
	case 0:
		s.end(match.EndLastStanding, "", now)
	case 1:
		s.end(match.EndLastStanding, alive[0], now)
	}
}

func (s *Session) end(reason match.EndReason, winnerID string, now time.Time) {
	if s.status == StatusEnded {
		return
	}
	wasActive := s.status == StatusActive
	s.status = StatusEnded
	s.endedAt = now
	s.endReason = reason

	board := match.Scoreboard(s.players())
	if winnerID == "" && wasActive && reason == match.EndTimeLimit {
		winnerID = match.Leader(board)
	}
	s.winnerID = winnerID

	s.publish(Event{Message: MatchEndedMessage{
		Type:       TypeMatchEnded,
		Reason:     reason,
		WinnerID:   winnerID,
		Scoreboard: board,
	}})
	s.logger.Info("session ended",
		zap.String("reason", string(reason)),
		zap.String("winner", winnerID))

	if wasActive {
		s.pending = &match.Result{
			MatchID:   s.matchID,
			RoomCode:  s.code,
			RulesName: s.rules.Name,
			Mode:      s.rules.Mode,
			StartedAt: s.startedAt,
			EndedAt:   now,
			Reason:    reason,
			WinnerID:  winnerID,
			Players:   board,
		}
	}
}

func (s *Session) joinResult(p *match.PlayerState, reconnected bool) *JoinResult {
	s.connSeq++
	s.conns[p.ID] = s.connSeq
	return &JoinResult{
		RoomCode:    s.code,
		HostID:      s.hostID,
		Status:      s.status,
		RulesName:   s.rules.Name,
		Player:      p.Clone(),
		Roster:      s.roster(),
		Reconnected: reconnected,
		ConnID:      s.connSeq,
	}
}

func (s *Session) liveBullets(playerID string, now time.Time) []match.Bullet {
	bullets := s.bullets[playerID]
	live := bullets[:0]
	for _, b := range bullets {
		if !b.Expired(now, s.rules.BulletLifetime()) {
			live = append(live, b)
		}
	}
	return live
}

func (s *Session) nextSpawn() match.Vec2 {
	sp := s.rules.SpawnPoint(s.spawnSeq)
	s.spawnSeq++
	return sp
}

func (s *Session) markDirty(playerID string) {
	s.dirty[playerID] = struct{}{}
}

func (s *Session) publish(ev Event) {
	s.cfg.Publisher.Publish(s.code, ev)
}

func (s *Session) memberIDs() []string {
	ids := make([]string, 0, len(s.members))
	for id := range s.members {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *Session) players() []*match.PlayerState {
	players := make([]*match.PlayerState, 0, len(s.members))
	for _, id := range s.memberIDs() {
		players = append(players, s.members[id])
	}
	return players
}

func (s *Session) roster() []match.PlayerState {
	roster := make([]match.PlayerState, 0, len(s.members))
	for _, id := range s.memberIDs() {
		roster = append(roster, s.members[id].Clone())
	}
	return roster
}
