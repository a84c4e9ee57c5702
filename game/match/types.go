package match

import (
	"math"
	"time"
)

const (
	MaxHealth = 100
	MaxFuel   = 100.0

	// Validation constants
	MinPlayers      = 2
	MaxPlayersLimit = 16
	DefaultPlayers  = 8
	MaxDisplayName  = 24
	MaxPlayerID     = 64
)

// Mode names a match ruleset variant.
type Mode string

const (
	// Deathmatch respawns killed players; first to the kill limit or the
	// best score at the time limit wins.
	Deathmatch Mode = "deathmatch"
	// Survival has no respawns; the last player alive wins.
	Survival Mode = "survival"
)

// Vec2 is a 2D vector in arena pixels.
type Vec2 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Add returns v+o.
func (v Vec2) Add(o Vec2) Vec2 { return Vec2{X: v.X + o.X, Y: v.Y + o.Y} }

// Sub returns v-o.
func (v Vec2) Sub(o Vec2) Vec2 { return Vec2{X: v.X - o.X, Y: v.Y - o.Y} }

// Scale returns v*k.
func (v Vec2) Scale(k float64) Vec2 { return Vec2{X: v.X * k, Y: v.Y * k} }

// Len returns the Euclidean length of v.
func (v Vec2) Len() float64 { return math.Hypot(v.X, v.Y) }

// Dist returns the distance between v and o.
func (v Vec2) Dist(o Vec2) float64 { return v.Sub(o).Len() }

// Finite reports whether both components are finite numbers.
func (v Vec2) Finite() bool {
	return !math.IsNaN(v.X) && !math.IsNaN(v.Y) && !math.IsInf(v.X, 0) && !math.IsInf(v.Y, 0)
}

// Flags are the per-update input bits a client reports.
type Flags struct {
	Jetpack  bool `json:"jetpack"`
	Shooting bool `json:"shooting,omitempty"`
}

// PlayerState is the server-held authoritative state of one player.
type PlayerState struct {
	ID          string  `json:"id"`
	DisplayName string  `json:"displayName"`
	Position    Vec2    `json:"position"`
	Velocity    Vec2    `json:"velocity"`
	Health      int     `json:"health"`
	Facing      int     `json:"facing"`
	JetpackFuel float64 `json:"jetpackFuel"`
	Flags       Flags   `json:"flags"`
	Alive       bool    `json:"alive"`

	Kills      int `json:"kills"`
	Deaths     int `json:"deaths"`
	Streak     int `json:"streak"`
	BestStreak int `json:"bestStreak"`

	Connected      bool      `json:"connected"`
	DisconnectedAt time.Time `json:"-"`
	RespawnAt      time.Time `json:"-"`
	LastUpdate     time.Time `json:"lastUpdate"`
	LastSequence   uint64    `json:"lastSequence"`
	JoinedAt       time.Time `json:"joinedAt"`
}

// NewPlayerState creates a full-health, fully-fueled player at spawn.
func NewPlayerState(id, displayName string, spawn Vec2, now time.Time) *PlayerState {
	return &PlayerState{
		ID:          id,
		DisplayName: displayName,
		Position:    spawn,
		Health:      MaxHealth,
		Facing:      1,
		JetpackFuel: MaxFuel,
		Alive:       true,
		Connected:   true,
		LastUpdate:  now,
		JoinedAt:    now,
	}
}

// Clone returns a copy safe to hand outside the owning session.
func (p *PlayerState) Clone() PlayerState {
	return *p
}

// ResetScore clears per-match counters when a match starts.
func (p *PlayerState) ResetScore() {
	p.Kills = 0
	p.Deaths = 0
	p.Streak = 0
	p.BestStreak = 0
}

// Bullet is a fired projectile retained for hit verification.
type Bullet struct {
	OwnerID         string    `json:"ownerId"`
	Origin          Vec2      `json:"origin"`
	Angle           float64   `json:"angle"`
	Velocity        Vec2      `json:"velocity"`
	FiredAtSequence uint64    `json:"firedAtSequence"`
	FiredAt         time.Time `json:"-"`
}

// NewBullet creates a bullet travelling at speed along angle (radians).
func NewBullet(ownerID string, origin Vec2, angle, speed float64, seq uint64, now time.Time) Bullet {
	return Bullet{
		OwnerID:         ownerID,
		Origin:          origin,
		Angle:           angle,
		Velocity:        Vec2{X: math.Cos(angle) * speed, Y: math.Sin(angle) * speed},
		FiredAtSequence: seq,
		FiredAt:         now,
	}
}

// PositionAt returns where the bullet is at time t.
func (b Bullet) PositionAt(t time.Time) Vec2 {
	dt := t.Sub(b.FiredAt).Seconds()
	if dt < 0 {
		dt = 0
	}
	return b.Origin.Add(b.Velocity.Scale(dt))
}

// Expired reports whether the bullet outlived lifetime at t.
func (b Bullet) Expired(t time.Time, lifetime time.Duration) bool {
	return t.Sub(b.FiredAt) > lifetime
}
