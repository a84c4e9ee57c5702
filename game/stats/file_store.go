package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/wricardo/militia-relay/game/match"
)

// FileStore implements Store on the local file system: one JSON file per
// player and one per finished match.
type FileStore struct {
	playersDir string
	matchesDir string
	mu         sync.Mutex
}

// NewFileStore creates the data directories under dir if needed.
func NewFileStore(dir string) (*FileStore, error) {
	fs := &FileStore{
		playersDir: filepath.Join(dir, "players"),
		matchesDir: filepath.Join(dir, "matches"),
	}
	for _, d := range []string{fs.playersDir, fs.matchesDir} {
		if err := os.MkdirAll(d, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	return fs, nil
}

// RecordMatch archives res and updates every registered player on its scoreboard.
func (fs *FileStore) RecordMatch(ctx context.Context, res *match.Result) error {
	if res == nil {
		return fmt.Errorf("result cannot be nil")
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := writeJSON(fs.matchPath(res), res); err != nil {
		return fmt.Errorf("failed to write match file: %w", err)
	}

	for _, line := range res.Players {
		if IsGuest(line.ID) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		prev, err := fs.readPlayer(line.ID)
		if err != nil && !errors.Is(err, ErrPlayerNotFound) {
			return err
		}
		if err := writeJSON(fs.playerPath(line.ID), Apply(prev, line, res)); err != nil {
			return fmt.Errorf("failed to write player file: %w", err)
		}
	}
	return nil
}

// PlayerStats loads a player's career record.
func (fs *FileStore) PlayerStats(ctx context.Context, playerID string) (*PlayerStats, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.readPlayer(playerID)
}

// Leaderboard returns the top players by metric.
func (fs *FileStore) Leaderboard(ctx context.Context, metric Metric, limit int) ([]*PlayerStats, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	entries, err := os.ReadDir(fs.playersDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read players directory: %w", err)
	}

	var players []*PlayerStats
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var s PlayerStats
		if err := readJSON(filepath.Join(fs.playersDir, entry.Name()), &s); err != nil {
			// Skip unreadable records
			continue
		}
		players = append(players, &s)
	}

	sortBy(players, metric)
	if limit > 0 && len(players) > limit {
		players = players[:limit]
	}
	return players, nil
}

// RecentMatches returns the newest archived matches first.
func (fs *FileStore) RecentMatches(ctx context.Context, limit int) ([]*match.Result, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	entries, err := os.ReadDir(fs.matchesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read matches directory: %w", err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
			names = append(names, entry.Name())
		}
	}
	// File names start with a zero-padded timestamp.
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	if limit > 0 && len(names) > limit {
		names = names[:limit]
	}

	results := make([]*match.Result, 0, len(names))
	for _, name := range names {
		var res match.Result
		if err := readJSON(filepath.Join(fs.matchesDir, name), &res); err != nil {
			continue
		}
		results = append(results, &res)
	}
	return results, nil
}

// Close is a no-op for the file store.
func (fs *FileStore) Close() error { return nil }

func (fs *FileStore) readPlayer(id string) (*PlayerStats, error) {
	var s PlayerStats
	if err := readJSON(fs.playerPath(id), &s); err != nil {
		if os.IsNotExist(err) {
			return nil, ErrPlayerNotFound
		}
		return nil, fmt.Errorf("failed to read player file: %w", err)
	}
	return &s, nil
}

func (fs *FileStore) playerPath(id string) string {
	return filepath.Join(fs.playersDir, url.PathEscape(id)+".json")
}

func (fs *FileStore) matchPath(res *match.Result) string {
	return filepath.Join(fs.matchesDir, fmt.Sprintf("%020d-%s.json", res.EndedAt.UnixNano(), res.MatchID))
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func sortBy(players []*PlayerStats, metric Metric) {
	sort.Slice(players, func(i, j int) bool {
		a, b := metric.value(players[i]), metric.value(players[j])
		if a != b {
			return a > b
		}
		return players[i].PlayerID < players[j].PlayerID
	})
}
