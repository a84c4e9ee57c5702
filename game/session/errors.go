package session

import "errors"

var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomFull           = errors.New("room full")
	ErrStaleUpdate        = errors.New("stale update")
	ErrRateExceeded       = errors.New("rate exceeded")
	ErrInvalidState       = errors.New("invalid state")
	ErrSessionEnded       = errors.New("session ended")
	ErrNotMember          = errors.New("not a member of this session")
	ErrNotHost            = errors.New("only the host can do that")
	ErrPlayerDead         = errors.New("player is dead")
	ErrNotActive          = errors.New("match is not active")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrCodeSpaceExhausted = errors.New("room code space exhausted")
	ErrStaleConnection    = errors.New("connection was replaced")
)

// RejectReason maps an error to the reason string sent to clients.
func RejectReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrRoomNotFound):
		return "room_not_found"
	case errors.Is(err, ErrRoomFull):
		return "room_full"
	case errors.Is(err, ErrStaleUpdate):
		return "stale_update"
	case errors.Is(err, ErrRateExceeded):
		return "rate_exceeded"
	case errors.Is(err, ErrInvalidState):
		return "invalid_state"
	case errors.Is(err, ErrSessionEnded):
		return "session_ended"
	case errors.Is(err, ErrNotMember):
		return "not_member"
	case errors.Is(err, ErrNotHost):
		return "not_host"
	case errors.Is(err, ErrPlayerDead):
		return "player_dead"
	case errors.Is(err, ErrNotActive):
		return "match_not_active"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	default:
		return "internal_error"
	}
}
