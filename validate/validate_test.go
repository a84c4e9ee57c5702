package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wricardo/militia-relay/game/match"
)

// writeRules writes rules to dir/<name>.json and returns the path.
func writeRules(t *testing.T, dir, name string, rules any) string {
	t.Helper()
	data, err := json.Marshal(rules)
	if err != nil {
		t.Fatalf("Failed to marshal rules: %v", err)
	}
	path := filepath.Join(dir, name+".json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write rules: %v", err)
	}
	return path
}

func containsSubstring(lines []string, sub string) bool {
	for _, l := range lines {
		if strings.Contains(l, sub) {
			return true
		}
	}
	return false
}

func TestValidateRules_ValidPreset(t *testing.T) {
	dir := t.TempDir()
	path := writeRules(t, dir, "deathmatch", match.DefaultRules())

	result := validateRules(path)
	if !result.Valid {
		t.Errorf("Expected valid rules, but got errors: %v", result.Errors)
	}
	if result.File != "deathmatch.json" {
		t.Errorf("Expected file name deathmatch.json, got %s", result.File)
	}
	if !containsSubstring(result.Info, "Arena: 1920x1080") {
		t.Errorf("Expected arena info, got %v", result.Info)
	}
	if !containsSubstring(result.Warnings, "spawns will be shared") {
		t.Errorf("Expected shared spawn warning for 5 spawns and 8 players, got %v", result.Warnings)
	}
}

func TestValidateRules_InvalidJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.json")
	if err := os.WriteFile(path, []byte(`{"name": "test", invalid json}`), 0644); err != nil {
		t.Fatalf("Failed to write file: %v", err)
	}

	result := validateRules(path)
	if result.Valid {
		t.Error("Expected invalid JSON to fail validation")
	}
	if !containsSubstring(result.Errors, "invalid rules") {
		t.Errorf("Expected invalid rules error, got %v", result.Errors)
	}
}

func TestValidateRules_MissingFile(t *testing.T) {
	result := validateRules("/non/existent/rules.json")
	if result.Valid {
		t.Error("Expected missing file to fail validation")
	}
	if !containsSubstring(result.Errors, "Failed to read file") {
		t.Errorf("Expected read error, got %v", result.Errors)
	}
}

func TestValidateRules_Checks(t *testing.T) {
	tests := []struct {
		name      string
		file      string
		mutate    func(r *match.Rules)
		wantValid bool
		wantError string
		wantWarn  string
	}{
		{
			name:      "name mismatch",
			file:      "arena",
			mutate:    func(r *match.Rules) {},
			wantError: "does not match file name",
		},
		{
			name: "spawn outside arena",
			file: "deathmatch",
			mutate: func(r *match.Rules) {
				r.SpawnPoints = append(r.SpawnPoints, match.Vec2{X: 5000, Y: 10})
			},
			wantError: "outside",
		},
		{
			name: "duplicate spawns",
			file: "deathmatch",
			mutate: func(r *match.Rules) {
				r.SpawnPoints = append(r.SpawnPoints, r.SpawnPoints[0])
			},
			wantError: "identical",
		},
		{
			name: "close spawns",
			file: "deathmatch",
			mutate: func(r *match.Rules) {
				r.SpawnPoints = append(r.SpawnPoints, match.Vec2{X: 210, Y: 900})
			},
			wantValid: true,
			wantWarn:  "10px apart",
		},
		{
			name: "deathmatch without limits",
			file: "deathmatch",
			mutate: func(r *match.Rules) {
				r.TimeLimitSeconds = 0
				r.KillLimit = 0
			},
			wantError: "requires timeLimitSeconds or killLimit",
		},
		{
			name: "instant respawn",
			file: "deathmatch",
			mutate: func(r *match.Rules) {
				r.RespawnDelayMs = 0
			},
			wantValid: true,
			wantWarn:  "respawns players instantly",
		},
		{
			name: "short bullets",
			file: "deathmatch",
			mutate: func(r *match.Rules) {
				r.BulletLifetimeMs = 100
			},
			wantValid: true,
			wantWarn:  "less than half the arena diagonal",
		},
		{
			name: "trusted movement",
			file: "deathmatch",
			mutate: func(r *match.Rules) {
				r.TrustClientMovement = true
			},
			wantValid: true,
			wantWarn:  "trustClientMovement",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rules := match.DefaultRules()
			tt.mutate(rules)
			path := writeRules(t, t.TempDir(), tt.file, rules)

			result := validateRules(path)
			if result.Valid != tt.wantValid {
				t.Fatalf("Expected valid=%v, got %v (errors: %v)", tt.wantValid, result.Valid, result.Errors)
			}
			if tt.wantError != "" && !containsSubstring(result.Errors, tt.wantError) {
				t.Errorf("Expected error containing %q, got %v", tt.wantError, result.Errors)
			}
			if tt.wantWarn != "" && !containsSubstring(result.Warnings, tt.wantWarn) {
				t.Errorf("Expected warning containing %q, got %v", tt.wantWarn, result.Warnings)
			}
		})
	}
}

func TestDescribeLimits(t *testing.T) {
	survival := match.DefaultRules()
	survival.Mode = match.Survival
	survival.KillLimit = 0
	survival.TimeLimitSeconds = 0

	tests := []struct {
		name  string
		rules *match.Rules
		want  string
	}{
		{"deathmatch", match.DefaultRules(), "5m0s, 20 kills"},
		{"survival", survival, "last standing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := describeLimits(tt.rules); got != tt.want {
				t.Errorf("describeLimits() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBundledPresets(t *testing.T) {
	files, err := filepath.Glob("../rules/*.json")
	if err != nil {
		t.Fatalf("Failed to find rules files: %v", err)
	}
	if len(files) == 0 {
		t.Skip("Skipping test - rules directory not found")
	}

	for _, file := range files {
		t.Run(filepath.Base(file), func(t *testing.T) {
			result := validateRules(file)
			if !result.Valid {
				t.Errorf("Bundled preset should be valid: %v", result.Errors)
			}
		})
	}
}

func TestRun(t *testing.T) {
	dir := t.TempDir()
	writeRules(t, dir, "deathmatch", match.DefaultRules())

	if err := newCommand().Run(context.Background(), []string{"validate", "--dir", dir}); err != nil {
		t.Errorf("Expected valid directory to pass, got %v", err)
	}

	if err := newCommand().Run(context.Background(), []string{"validate", "--dir", dir, "--strict"}); err == nil {
		t.Error("Expected --strict to fail on warnings")
	}

	bad := match.DefaultRules()
	bad.MaxPlayers = 1
	badPath := writeRules(t, dir, "bad", bad)
	if err := newCommand().Run(context.Background(), []string{"validate", badPath}); err == nil {
		t.Error("Expected invalid file to fail")
	}

	if err := newCommand().Run(context.Background(), []string{"validate", "--dir", t.TempDir()}); err == nil {
		t.Error("Expected empty directory to fail")
	}
}
