package match

import (
	"sort"
	"time"
)

// EndReason explains why a match ended.
type EndReason string

const (
	EndTimeLimit     EndReason = "time_limit"
	EndKillLimit     EndReason = "kill_limit"
	EndLastStanding  EndReason = "last_standing"
	EndHostLeft      EndReason = "host_left"
	EndClosed        EndReason = "closed"
	EndInternalError EndReason = "internal_error"
)

// PlayerResult is one scoreboard line.
type PlayerResult struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Kills       int    `json:"kills"`
	Deaths      int    `json:"deaths"`
	BestStreak  int    `json:"bestStreak"`
}

// Result summarizes a finished match.
type Result struct {
	MatchID   string         `json:"matchId"`
	RoomCode  string         `json:"roomCode"`
	RulesName string         `json:"rulesName"`
	Mode      Mode           `json:"mode"`
	StartedAt time.Time      `json:"startedAt"`
	EndedAt   time.Time      `json:"endedAt"`
	Reason    EndReason      `json:"reason"`
	WinnerID  string         `json:"winnerId,omitempty"`
	Players   []PlayerResult `json:"players"`
}

// Duration returns how long the match lasted.
func (r *Result) Duration() time.Duration {
	if r.EndedAt.Before(r.StartedAt) {
		return 0
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Scoreboard orders players by kills desc, deaths asc, then ID.
func Scoreboard(players []*PlayerState) []PlayerResult {
	lines := make([]PlayerResult, 0, len(players))
	for _, p := range players {
		lines = append(lines, PlayerResult{
			ID:          p.ID,
			DisplayName: p.DisplayName,
			Kills:       p.Kills,
			Deaths:      p.Deaths,
			BestStreak:  p.BestStreak,
		})
	}
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].Kills != lines[j].Kills {
			return lines[i].Kills > lines[j].Kills
		}
		if lines[i].Deaths != lines[j].Deaths {
			return lines[i].Deaths < lines[j].Deaths
		}
		return lines[i].ID < lines[j].ID
	})
	return lines
}

// Leader returns the ID of the sole top scorer, or "" on a tie or empty board.
func Leader(board []PlayerResult) string {
	if len(board) == 0 {
		return ""
	}
	if len(board) > 1 && board[0].Kills == board[1].Kills && board[0].Deaths == board[1].Deaths {
		return ""
	}
	return board[0].ID
}
