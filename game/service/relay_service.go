package service

import (
	"context"

	"github.com/wricardo/militia-relay/game/match"
	"github.com/wricardo/militia-relay/game/session"
	"github.com/wricardo/militia-relay/game/stats"
)

// RelayService defines the admin operations shared by the REST and MCP surfaces
type RelayService interface {
	// Rooms
	CreateRoom(ctx context.Context, req CreateRoomRequest) (*RoomInfo, error)
	GetRoom(ctx context.Context, code string) (*RoomInfo, error)
	ListRooms(ctx context.Context) ([]*RoomInfo, error)
	StartMatch(ctx context.Context, code, playerID string) (*RoomInfo, error)
	CloseRoom(ctx context.Context, code string) error

	// Rules presets
	ListRules(ctx context.Context) ([]*RulesInfo, error)
	LoadRules(ctx context.Context, name string) (*match.Rules, error)
	SaveRules(ctx context.Context, name string, rules *match.Rules) error

	// Career stats and match archive
	PlayerStats(ctx context.Context, playerID string) (*stats.PlayerStats, error)
	Leaderboard(ctx context.Context, metric string, limit int) ([]*stats.PlayerStats, error)
	RecentMatches(ctx context.Context, limit int) ([]*match.Result, error)
}

// RoomRegistry is the subset of session.Manager the service needs
type RoomRegistry interface {
	CreateRoom(hostID string, rules *match.Rules) (*session.Room, error)
	Get(code string) (*session.Room, error)
	List() []*session.Room
	Expire(code string) error
}

// RulesManager handles rules preset loading
type RulesManager interface {
	LoadRules(name string) (*match.Rules, error)
	ListRules() ([]*RulesInfo, error)
	GetDefault() *match.Rules
	SaveRules(name string, rules *match.Rules) error
}
