package websocket

import "github.com/wricardo/militia-relay/game/match"

// Inbound message types.
const (
	TypeJoin     = "join"
	TypeUpdate   = "update"
	TypeFire     = "fire"
	TypeHitClaim = "hitClaim"
	TypeStart    = "start"
	TypeLeave    = "leave"
)

// Outbound message types produced by the transport itself. Session events
// carry their own types (see package session).
const (
	TypeRejected = "rejected"
	TypeError    = "error"
)

// Error reasons produced by the transport.
const (
	ReasonInvalidJoin    = "invalid_join"
	ReasonInvalidMessage = "invalid_message"
	ReasonUnknownType    = "unknown_type"
	ReasonAlreadyJoined  = "already_joined"
)

// envelope peeks at the type of an inbound frame.
type envelope struct {
	Type string `json:"type"`
}

// JoinRequest must be the first frame on a connection.
type JoinRequest struct {
	Type        string `json:"type" validate:"eq=join"`
	RoomCode    string `json:"roomCode" validate:"required,len=6,alphanum"`
	PlayerID    string `json:"playerId" validate:"omitempty,max=64,printascii"`
	DisplayName string `json:"displayName" validate:"max=24"`
}

// UpdateRequest reports the sender's movement.
type UpdateRequest struct {
	Sequence uint64      `json:"sequence" validate:"required"`
	Position match.Vec2  `json:"position"`
	Velocity match.Vec2  `json:"velocity"`
	Facing   int         `json:"facing" validate:"oneof=-1 0 1"`
	Flags    match.Flags `json:"flags"`
}

// FireRequest reports a shot.
type FireRequest struct {
	Origin match.Vec2 `json:"origin"`
	Angle  float64    `json:"angle"`
}

// HitClaimRequest asks the relay to verify a hit on TargetID.
type HitClaimRequest struct {
	TargetID string `json:"targetId" validate:"required,max=64"`
}

// RejectedMessage answers a join that could not be accepted.
type RejectedMessage struct {
	Type    string `json:"type"`
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
}

// ErrorMessage reports a rejected in-session message.
type ErrorMessage struct {
	Type    string `json:"type"`
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
}
