package session

import (
	"time"

	"github.com/wricardo/militia-relay/game/match"
)

// Outbound message types.
const (
	TypeJoined       = "joined"
	TypePlayerJoined = "playerJoined"
	TypePlayerLeft   = "playerLeft"
	TypeSnapshot     = "snapshot"
	TypeBulletFired  = "bulletFired"
	TypeKilled       = "killed"
	TypeRespawned    = "respawned"
	TypeMatchStarted = "matchStarted"
	TypeMatchEnded   = "matchEnded"
)

// Publisher delivers session events to the connections of a room.
// Implementations must not block and must not call back into the session.
type Publisher interface {
	Publish(roomCode string, ev Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(roomCode string, ev Event)

// Publish calls f.
func (f PublisherFunc) Publish(roomCode string, ev Event) { f(roomCode, ev) }

// Event is one outbound message plus its audience. With both Only and
// Exclude empty the message goes to every member.
type Event struct {
	Message any
	Only    string
	Exclude string
}

// Reaches reports whether a member with playerID should receive ev.
func (ev Event) Reaches(playerID string) bool {
	if ev.Only != "" {
		return ev.Only == playerID
	}
	return ev.Exclude != playerID
}

// PlayerView is the per-player entry of a snapshot.
type PlayerView struct {
	ID       string      `json:"id"`
	Position match.Vec2  `json:"position"`
	Velocity match.Vec2  `json:"velocity"`
	Health   int         `json:"health"`
	Facing   int         `json:"facing"`
	Fuel     float64     `json:"fuel"`
	Flags    match.Flags `json:"flags"`
	Alive    bool        `json:"alive"`
}

func viewOf(p *match.PlayerState) PlayerView {
	return PlayerView{
		ID:       p.ID,
		Position: p.Position,
		Velocity: p.Velocity,
		Health:   p.Health,
		Facing:   p.Facing,
		Fuel:     p.JetpackFuel,
		Flags:    p.Flags,
		Alive:    p.Alive,
	}
}

type JoinedMessage struct {
	Type     string              `json:"type"`
	RoomCode string              `json:"roomCode"`
	PlayerID string              `json:"playerId"`
	HostID   string              `json:"hostId"`
	Status   Status              `json:"status"`
	Rules    string              `json:"rules"`
	Roster   []match.PlayerState `json:"roster"`
}

type PlayerJoinedMessage struct {
	Type   string            `json:"type"`
	Player match.PlayerState `json:"player"`
}

type PlayerLeftMessage struct {
	Type     string `json:"type"`
	PlayerID string `json:"playerId"`
}

type SnapshotMessage struct {
	Type    string       `json:"type"`
	Tick    uint64       `json:"tick"`
	Players []PlayerView `json:"players"`
}

type BulletFiredMessage struct {
	Type      string     `json:"type"`
	ShooterID string     `json:"shooterId"`
	Origin    match.Vec2 `json:"origin"`
	Angle     float64    `json:"angle"`
	Velocity  match.Vec2 `json:"velocity"`
}

type KilledMessage struct {
	Type      string `json:"type"`
	ShooterID string `json:"shooterId"`
	TargetID  string `json:"targetId"`
}

type RespawnedMessage struct {
	Type   string     `json:"type"`
	Player PlayerView `json:"player"`
}

type MatchStartedMessage struct {
	Type             string     `json:"type"`
	StartedAt        time.Time  `json:"startedAt"`
	Mode             match.Mode `json:"mode"`
	TimeLimitSeconds int        `json:"timeLimitSeconds"`
	KillLimit        int        `json:"killLimit"`
}

type MatchEndedMessage struct {
	Type       string               `json:"type"`
	Reason     match.EndReason      `json:"reason"`
	WinnerID   string               `json:"winnerId,omitempty"`
	Scoreboard []match.PlayerResult `json:"scoreboard"`
}
