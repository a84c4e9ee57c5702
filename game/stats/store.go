package stats

import (
	"context"
	"errors"
	"time"

	"github.com/wricardo/militia-relay/game/match"
)

var (
	ErrPlayerNotFound = errors.New("player stats not found")
	ErrUnknownMetric  = errors.New("unknown leaderboard metric")
)

// PlayerStats is the career record of one registered player.
type PlayerStats struct {
	PlayerID          string    `json:"playerId"`
	DisplayName       string    `json:"displayName"`
	Kills             int       `json:"kills"`
	Deaths            int       `json:"deaths"`
	GamesPlayed       int       `json:"gamesPlayed"`
	GamesWon          int       `json:"gamesWon"`
	PlaytimeSeconds   int64     `json:"playtimeSeconds"`
	HighestKillstreak int       `json:"highestKillstreak"`
	Experience        int       `json:"experience"`
	Level             int       `json:"level"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// KD returns the kill/death ratio, counting zero deaths as one.
func (s *PlayerStats) KD() float64 {
	if s.Deaths == 0 {
		return float64(s.Kills)
	}
	return float64(s.Kills) / float64(s.Deaths)
}

// Metric selects the leaderboard ordering.
type Metric string

const (
	MetricExperience Metric = "experience"
	MetricKills      Metric = "kills"
	MetricWins       Metric = "wins"
)

// ParseMetric validates a metric name; empty means experience.
func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case "":
		return MetricExperience, nil
	case MetricExperience, MetricKills, MetricWins:
		return Metric(s), nil
	}
	return "", ErrUnknownMetric
}

func (m Metric) value(s *PlayerStats) int {
	switch m {
	case MetricKills:
		return s.Kills
	case MetricWins:
		return s.GamesWon
	default:
		return s.Experience
	}
}

// Store persists match results and the career stats derived from them.
type Store interface {
	RecordMatch(ctx context.Context, res *match.Result) error
	PlayerStats(ctx context.Context, playerID string) (*PlayerStats, error)
	Leaderboard(ctx context.Context, metric Metric, limit int) ([]*PlayerStats, error)
	RecentMatches(ctx context.Context, limit int) ([]*match.Result, error)
	Close() error
}
