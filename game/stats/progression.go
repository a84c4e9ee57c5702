package stats

import (
	"strings"

	"github.com/wricardo/militia-relay/game/match"
)

const (
	XPPerKill   = 10
	XPPerWin    = 50
	XPPerLevel  = 100
	GuestPrefix = "guest-"
)

// IsGuest reports whether id is a generated guest identity. Guests have no
// career record.
func IsGuest(id string) bool {
	return id == "" || strings.HasPrefix(id, GuestPrefix)
}

// LevelFor returns the level reached with xp experience.
func LevelFor(xp int) int {
	if xp < 0 {
		xp = 0
	}
	return xp/XPPerLevel + 1
}

// Apply folds one scoreboard line of res into prev and returns the updated
// record. prev may be nil for a first match.
func Apply(prev *PlayerStats, line match.PlayerResult, res *match.Result) *PlayerStats {
	next := PlayerStats{PlayerID: line.ID}
	if prev != nil {
		next = *prev
	}
	if line.DisplayName != "" {
		next.DisplayName = line.DisplayName
	}

	won := res.WinnerID != "" && res.WinnerID == line.ID
	next.Kills += line.Kills
	next.Deaths += line.Deaths
	next.GamesPlayed++
	if won {
		next.GamesWon++
	}
	next.PlaytimeSeconds += int64(res.Duration().Seconds())
	if line.BestStreak > next.HighestKillstreak {
		next.HighestKillstreak = line.BestStreak
	}

	next.Experience += line.Kills * XPPerKill
	if won {
		next.Experience += XPPerWin
	}
	next.Level = LevelFor(next.Experience)
	next.UpdatedAt = res.EndedAt
	return &next
}
