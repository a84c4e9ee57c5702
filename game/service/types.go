package service

import (
	"errors"

	"github.com/wricardo/militia-relay/game/match"
	"github.com/wricardo/militia-relay/game/session"
)

var (
	ErrInvalidRequest = errors.New("invalid request")
	ErrStatsDisabled  = errors.New("stats store not configured")
)

// CreateRoomRequest asks for a new room. Zero overrides keep the preset values.
type CreateRoomRequest struct {
	HostID           string `json:"hostId" validate:"required,max=64"`
	Rules            string `json:"rules,omitempty" validate:"omitempty,max=64"`
	MaxPlayers       int    `json:"maxPlayers,omitempty" validate:"omitempty,min=2,max=16"`
	TimeLimitSeconds int    `json:"timeLimitSeconds,omitempty" validate:"omitempty,min=30,max=7200"`
	KillLimit        int    `json:"killLimit,omitempty" validate:"omitempty,min=1,max=1000"`
}

// RoomInfo describes a room for admin surfaces
type RoomInfo struct {
	session.SessionInfo
	PlayerCount int `json:"playerCount"`
}

// NewRoomInfo builds a RoomInfo from a registry entry
func NewRoomInfo(room *session.Room) *RoomInfo {
	info := room.Session.Snapshot()
	return &RoomInfo{
		SessionInfo: info,
		PlayerCount: len(info.Players),
	}
}

// RulesInfo provides information about a rules preset
type RulesInfo struct {
	ID               string     `json:"id"` // The identifier to use for room creation
	Name             string     `json:"name"`
	Description      string     `json:"description"`
	Mode             match.Mode `json:"mode"`
	MaxPlayers       int        `json:"maxPlayers"`
	TimeLimitSeconds int        `json:"timeLimitSeconds"`
	KillLimit        int        `json:"killLimit"`
}

// NewRulesInfo summarizes rules stored under id
func NewRulesInfo(id string, r *match.Rules) *RulesInfo {
	return &RulesInfo{
		ID:               id,
		Name:             r.Name,
		Description:      r.Description,
		Mode:             r.Mode,
		MaxPlayers:       r.MaxPlayers,
		TimeLimitSeconds: r.TimeLimitSeconds,
		KillLimit:        r.KillLimit,
	}
}
