package stats

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wricardo/militia-relay/game/match"
)

func TestFileStore_RecordMatch(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	res := sampleResult("alice",
		match.PlayerResult{ID: "alice", DisplayName: "Alice", Kills: 3, Deaths: 1, BestStreak: 3},
		match.PlayerResult{ID: "guest-42", DisplayName: "Guest", Kills: 1, Deaths: 3},
	)
	if err := store.RecordMatch(ctx, res); err != nil {
		t.Fatalf("RecordMatch failed: %v", err)
	}

	alice, err := store.PlayerStats(ctx, "alice")
	if err != nil {
		t.Fatalf("PlayerStats failed: %v", err)
	}
	if alice.Kills != 3 || alice.GamesWon != 1 {
		t.Errorf("Unexpected record %+v", alice)
	}

	if _, err := store.PlayerStats(ctx, "guest-42"); !errors.Is(err, ErrPlayerNotFound) {
		t.Errorf("Guests must not get a record, got %v", err)
	}

	matches, err := store.RecentMatches(ctx, 10)
	if err != nil {
		t.Fatalf("RecentMatches failed: %v", err)
	}
	if len(matches) != 1 || len(matches[0].Players) != 2 {
		t.Errorf("Expected archived match with both players, got %+v", matches)
	}
}

func TestFileStore_RecentMatchesOrder(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	base := time.Date(2025, 3, 1, 20, 0, 0, 0, time.UTC)
	for i, id := range []string{"first", "second", "third"} {
		res := sampleResult("")
		res.MatchID = id
		res.EndedAt = base.Add(time.Duration(i) * time.Hour)
		if err := store.RecordMatch(ctx, res); err != nil {
			t.Fatalf("RecordMatch failed: %v", err)
		}
	}

	matches, err := store.RecentMatches(ctx, 2)
	if err != nil {
		t.Fatalf("RecentMatches failed: %v", err)
	}
	if len(matches) != 2 || matches[0].MatchID != "third" || matches[1].MatchID != "second" {
		t.Errorf("Expected [third second], got %d matches", len(matches))
	}
}

func TestFileStore_Leaderboard(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	res := sampleResult("carol",
		match.PlayerResult{ID: "alice", Kills: 9},
		match.PlayerResult{ID: "bob", Kills: 2},
		match.PlayerResult{ID: "carol", Kills: 5},
	)
	if err := store.RecordMatch(ctx, res); err != nil {
		t.Fatalf("RecordMatch failed: %v", err)
	}

	tests := []struct {
		metric Metric
		want   []string
	}{
		{MetricKills, []string{"alice", "carol", "bob"}},
		{MetricWins, []string{"carol", "alice", "bob"}},
		// alice: 90 XP, carol: 50+50, bob: 20
		{MetricExperience, []string{"carol", "alice", "bob"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.metric), func(t *testing.T) {
			board, err := store.Leaderboard(ctx, tt.metric, 0)
			if err != nil {
				t.Fatalf("Leaderboard failed: %v", err)
			}
			if len(board) != len(tt.want) {
				t.Fatalf("Expected %d entries, got %d", len(tt.want), len(board))
			}
			for i, id := range tt.want {
				if board[i].PlayerID != id {
					t.Errorf("Position %d: expected %s, got %s", i, id, board[i].PlayerID)
				}
			}
		})
	}

	top, _ := store.Leaderboard(ctx, MetricKills, 1)
	if len(top) != 1 {
		t.Errorf("Expected limit to apply, got %d", len(top))
	}
}

func TestFileStore_UnsafePlayerID(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	res := sampleResult("", match.PlayerResult{ID: "../../etc/passwd", Kills: 1})
	if err := store.RecordMatch(ctx, res); err != nil {
		t.Fatalf("RecordMatch failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "etc")); !os.IsNotExist(err) {
		t.Error("Player ID must not escape the data directory")
	}
	if _, err := store.PlayerStats(ctx, "../../etc/passwd"); err != nil {
		t.Errorf("Expected the record to round-trip, got %v", err)
	}
}
