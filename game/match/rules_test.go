package match

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidateRules(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(r *Rules)
		wantErr string
	}{
		{
			name:   "default rules are valid",
			mutate: func(r *Rules) {},
		},
		{
			name:    "missing name",
			mutate:  func(r *Rules) { r.Name = "" },
			wantErr: "name",
		},
		{
			name:    "unknown mode",
			mutate:  func(r *Rules) { r.Mode = "capture" },
			wantErr: "mode",
		},
		{
			name:    "too few players",
			mutate:  func(r *Rules) { r.MaxPlayers = 1 },
			wantErr: "maxPlayers",
		},
		{
			name:    "too many players",
			mutate:  func(r *Rules) { r.MaxPlayers = 17 },
			wantErr: "maxPlayers",
		},
		{
			name:    "zero damage",
			mutate:  func(r *Rules) { r.BulletDamage = 0 },
			wantErr: "bulletDamage",
		},
		{
			name:    "no spawn points",
			mutate:  func(r *Rules) { r.SpawnPoints = nil },
			wantErr: "spawnPoints",
		},
		{
			name:    "spawn outside arena",
			mutate:  func(r *Rules) { r.SpawnPoints = []Vec2{{X: 5000, Y: 10}} },
			wantErr: "outside",
		},
		{
			name: "endless deathmatch",
			mutate: func(r *Rules) {
				r.TimeLimitSeconds = 0
				r.KillLimit = 0
			},
			wantErr: "requires timeLimitSeconds or killLimit",
		},
		{
			name: "endless survival is fine",
			mutate: func(r *Rules) {
				r.Mode = Survival
				r.TimeLimitSeconds = 0
				r.KillLimit = 0
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := DefaultRules()
			tt.mutate(r)
			err := ValidateRules(r)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Expected valid rules, got %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error containing %q, got nil", tt.wantErr)
			}
			if !errors.Is(err, ErrInvalidRules) {
				t.Errorf("Expected ErrInvalidRules, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidateRulesNil(t *testing.T) {
	if err := ValidateRules(nil); !errors.Is(err, ErrInvalidRules) {
		t.Errorf("Expected ErrInvalidRules for nil rules, got %v", err)
	}
}

func TestRulesDurations(t *testing.T) {
	r := DefaultRules()

	if r.TimeLimit() != 5*time.Minute {
		t.Errorf("Expected 5m time limit, got %v", r.TimeLimit())
	}
	if r.BulletLifetime() != 2500*time.Millisecond {
		t.Errorf("Expected 2.5s bullet lifetime, got %v", r.BulletLifetime())
	}
	if r.FireCooldown() != 200*time.Millisecond {
		t.Errorf("Expected 200ms cooldown, got %v", r.FireCooldown())
	}
	if r.RespawnDelay() != 3*time.Second {
		t.Errorf("Expected 3s respawn delay, got %v", r.RespawnDelay())
	}
}

func TestSpawnPointWraps(t *testing.T) {
	r := DefaultRules()
	n := len(r.SpawnPoints)

	if r.SpawnPoint(0) != r.SpawnPoints[0] {
		t.Error("SpawnPoint(0) should be the first spawn point")
	}
	if r.SpawnPoint(n) != r.SpawnPoints[0] {
		t.Error("SpawnPoint should wrap around")
	}
	if r.SpawnPoint(n+1) != r.SpawnPoints[1] {
		t.Error("SpawnPoint(n+1) should be the second spawn point")
	}

	r.SpawnPoints = nil
	center := r.SpawnPoint(3)
	if center.X != r.ArenaWidth/2 || center.Y != r.ArenaHeight/2 {
		t.Errorf("Expected arena center without spawn points, got %+v", center)
	}
}

func TestRespawns(t *testing.T) {
	r := DefaultRules()
	if !r.Respawns() {
		t.Error("Deathmatch should respawn players")
	}
	r.Mode = Survival
	if r.Respawns() {
		t.Error("Survival should not respawn players")
	}
}
