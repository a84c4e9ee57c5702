package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/wricardo/militia-relay/game/match"
	"github.com/wricardo/militia-relay/game/stats"
)

const (
	defaultLeaderboardLimit = 10
	maxListLimit            = 100
)

// relayServiceImpl implements the RelayService interface
type relayServiceImpl struct {
	rooms    RoomRegistry
	rules    RulesManager
	stats    stats.Store
	validate *validator.Validate
}

// NewRelayService creates a new relay service. store may be nil, which
// disables the stats operations.
func NewRelayService(rooms RoomRegistry, rules RulesManager, store stats.Store) RelayService {
	return &relayServiceImpl{
		rooms:    rooms,
		rules:    rules,
		stats:    store,
		validate: validator.New(),
	}
}

// CreateRoom resolves the rules preset, applies overrides and registers a room
func (s *relayServiceImpl) CreateRoom(ctx context.Context, req CreateRoomRequest) (*RoomInfo, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	var rules *match.Rules
	if req.Rules != "" {
		loaded, err := s.rules.LoadRules(req.Rules)
		if err != nil {
			return nil, s.rulesError(req.Rules, err)
		}
		rules = loaded
	} else {
		rules = s.rules.GetDefault()
	}

	if req.MaxPlayers > 0 {
		rules.MaxPlayers = req.MaxPlayers
	}
	if req.TimeLimitSeconds > 0 {
		rules.TimeLimitSeconds = req.TimeLimitSeconds
	}
	if req.KillLimit > 0 {
		rules.KillLimit = req.KillLimit
	}

	room, err := s.rooms.CreateRoom(req.HostID, rules)
	if err != nil {
		return nil, fmt.Errorf("failed to create room: %w", err)
	}
	return NewRoomInfo(room), nil
}

// GetRoom returns the current view of a room
func (s *relayServiceImpl) GetRoom(ctx context.Context, code string) (*RoomInfo, error) {
	room, err := s.rooms.Get(code)
	if err != nil {
		return nil, err
	}
	return NewRoomInfo(room), nil
}

// ListRooms returns all live rooms
func (s *relayServiceImpl) ListRooms(ctx context.Context) ([]*RoomInfo, error) {
	rooms := s.rooms.List()
	infos := make([]*RoomInfo, 0, len(rooms))
	for _, room := range rooms {
		infos = append(infos, NewRoomInfo(room))
	}
	return infos, nil
}

// StartMatch starts the match on behalf of the host
func (s *relayServiceImpl) StartMatch(ctx context.Context, code, playerID string) (*RoomInfo, error) {
	room, err := s.rooms.Get(code)
	if err != nil {
		return nil, err
	}
	if playerID == "" {
		playerID = room.Session.HostID()
	}
	if err := room.Session.Start(playerID, time.Now()); err != nil {
		return nil, err
	}
	return NewRoomInfo(room), nil
}

// CloseRoom ends a room's session and removes it from the registry
func (s *relayServiceImpl) CloseRoom(ctx context.Context, code string) error {
	return s.rooms.Expire(code)
}

// ListRules returns available rules presets
func (s *relayServiceImpl) ListRules(ctx context.Context) ([]*RulesInfo, error) {
	return s.rules.ListRules()
}

// LoadRules loads a rules preset by name
func (s *relayServiceImpl) LoadRules(ctx context.Context, name string) (*match.Rules, error) {
	rules, err := s.rules.LoadRules(name)
	if err != nil {
		return nil, s.rulesError(name, err)
	}
	return rules, nil
}

// SaveRules stores a rules preset
func (s *relayServiceImpl) SaveRules(ctx context.Context, name string, rules *match.Rules) error {
	if rules == nil {
		return fmt.Errorf("%w: rules body is required", ErrInvalidRequest)
	}
	return s.rules.SaveRules(name, rules)
}

// PlayerStats returns a player's career record
func (s *relayServiceImpl) PlayerStats(ctx context.Context, playerID string) (*stats.PlayerStats, error) {
	if s.stats == nil {
		return nil, ErrStatsDisabled
	}
	if stats.IsGuest(playerID) {
		return nil, fmt.Errorf("%w: guests have no career stats", stats.ErrPlayerNotFound)
	}
	return s.stats.PlayerStats(ctx, playerID)
}

// Leaderboard returns the top players for a metric
func (s *relayServiceImpl) Leaderboard(ctx context.Context, metric string, limit int) ([]*stats.PlayerStats, error) {
	if s.stats == nil {
		return nil, ErrStatsDisabled
	}
	m, err := stats.ParseMetric(metric)
	if err != nil {
		return nil, fmt.Errorf("%w: %v (use experience, kills or wins)", ErrInvalidRequest, err)
	}
	return s.stats.Leaderboard(ctx, m, clampLimit(limit, defaultLeaderboardLimit))
}

// RecentMatches returns the newest archived matches
func (s *relayServiceImpl) RecentMatches(ctx context.Context, limit int) ([]*match.Result, error) {
	if s.stats == nil {
		return nil, ErrStatsDisabled
	}
	return s.stats.RecentMatches(ctx, clampLimit(limit, 20))
}

// rulesError adds the available preset IDs to a not-found error
func (s *relayServiceImpl) rulesError(name string, err error) error {
	if errors.Is(err, match.ErrInvalidRules) {
		return err
	}
	available, listErr := s.rules.ListRules()
	if listErr != nil || len(available) == 0 {
		return fmt.Errorf("rules '%s': %w", name, err)
	}
	ids := make([]string, 0, len(available))
	for _, r := range available {
		ids = append(ids, r.ID)
	}
	return fmt.Errorf("rules '%s': %w. Available presets: %v", name, err, ids)
}

func clampLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
