package match

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Rules describes a match preset loaded from a JSON file.
type Rules struct {
	Name        string `json:"name" validate:"required,max=64"`
	Description string `json:"description" validate:"required"`
	Mode        Mode   `json:"mode" validate:"required,oneof=deathmatch survival"`

	MaxPlayers       int `json:"maxPlayers" validate:"min=2,max=16"`
	TimeLimitSeconds int `json:"timeLimitSeconds" validate:"min=0,max=7200"`
	KillLimit        int `json:"killLimit" validate:"min=0,max=1000"`

	ArenaWidth  float64 `json:"arenaWidth" validate:"gt=0"`
	ArenaHeight float64 `json:"arenaHeight" validate:"gt=0"`
	SpawnPoints []Vec2  `json:"spawnPoints" validate:"min=1"`

	// Movement plausibility. When TrustClientMovement is set the relay
	// accepts any reported position inside the arena.
	MaxRunSpeed         float64 `json:"maxRunSpeed" validate:"gt=0"`
	MaxJetpackSpeed     float64 `json:"maxJetpackSpeed" validate:"gt=0"`
	MaxFallSpeed        float64 `json:"maxFallSpeed" validate:"gt=0"`
	MovementTolerance   float64 `json:"movementTolerance" validate:"min=0,max=5"`
	MovementSlack       float64 `json:"movementSlack" validate:"min=0"`
	TrustClientMovement bool    `json:"trustClientMovement"`

	FuelDrainPerSecond float64 `json:"fuelDrainPerSecond" validate:"min=0"`
	FuelRegenPerSecond float64 `json:"fuelRegenPerSecond" validate:"min=0"`

	BulletDamage     int     `json:"bulletDamage" validate:"min=1,max=100"`
	BulletSpeed      float64 `json:"bulletSpeed" validate:"gt=0"`
	BulletLifetimeMs int     `json:"bulletLifetimeMs" validate:"min=100"`
	FireCooldownMs   int     `json:"fireCooldownMs" validate:"min=0"`
	HitRadius        float64 `json:"hitRadius" validate:"gt=0"`
	MuzzleSlack      float64 `json:"muzzleSlack" validate:"min=0"`
	RespawnDelayMs   int     `json:"respawnDelayMs" validate:"min=0"`
}

var ErrInvalidRules = errors.New("invalid rules")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// Report JSON field names so errors match the preset files.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateRules checks field constraints and cross-field consistency.
func ValidateRules(r *Rules) error {
	if r == nil {
		return fmt.Errorf("%w: rules are nil", ErrInvalidRules)
	}
	if err := validate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed '%s' (value %v)", ErrInvalidRules, fe.Field(), fe.ActualTag(), fe.Value())
		}
		return fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}

	if r.Mode == Deathmatch && r.TimeLimitSeconds == 0 && r.KillLimit == 0 {
		return fmt.Errorf("%w: deathmatch requires timeLimitSeconds or killLimit", ErrInvalidRules)
	}
	for i, sp := range r.SpawnPoints {
		if !r.InArena(sp) {
			return fmt.Errorf("%w: spawn point %d (%.0f,%.0f) is outside the %.0fx%.0f arena",
				ErrInvalidRules, i, sp.X, sp.Y, r.ArenaWidth, r.ArenaHeight)
		}
	}
	return nil
}

// DefaultRules returns the built-in deathmatch preset.
func DefaultRules() *Rules {
	return &Rules{
		Name:               "deathmatch",
		Description:        "Free-for-all, respawns on, first to 20 kills or best score after 5 minutes",
		Mode:               Deathmatch,
		MaxPlayers:         DefaultPlayers,
		TimeLimitSeconds:   300,
		KillLimit:          20,
		ArenaWidth:         1920,
		ArenaHeight:        1080,
		SpawnPoints:        []Vec2{{X: 200, Y: 900}, {X: 1720, Y: 900}, {X: 960, Y: 400}, {X: 480, Y: 600}, {X: 1440, Y: 600}},
		MaxRunSpeed:        300,
		MaxJetpackSpeed:    400,
		MaxFallSpeed:       1200,
		MovementTolerance:  0.25,
		MovementSlack:      48,
		FuelDrainPerSecond: 90,
		FuelRegenPerSecond: 48,
		BulletDamage:       20,
		BulletSpeed:        900,
		BulletLifetimeMs:   2500,
		FireCooldownMs:     200,
		HitRadius:          32,
		MuzzleSlack:        64,
		RespawnDelayMs:     3000,
	}
}

// TimeLimit returns the match duration, zero meaning unlimited.
func (r *Rules) TimeLimit() time.Duration {
	return time.Duration(r.TimeLimitSeconds) * time.Second
}

// BulletLifetime returns how long a bullet can score a hit.
func (r *Rules) BulletLifetime() time.Duration {
	return time.Duration(r.BulletLifetimeMs) * time.Millisecond
}

// FireCooldown returns the minimum delay between two shots.
func (r *Rules) FireCooldown() time.Duration {
	return time.Duration(r.FireCooldownMs) * time.Millisecond
}

// RespawnDelay returns how long a killed player stays dead.
func (r *Rules) RespawnDelay() time.Duration {
	return time.Duration(r.RespawnDelayMs) * time.Millisecond
}

// Respawns reports whether killed players come back.
func (r *Rules) Respawns() bool {
	return r.Mode != Survival
}

// SpawnPoint picks the spawn point for the n-th placement.
func (r *Rules) SpawnPoint(n int) Vec2 {
	if len(r.SpawnPoints) == 0 {
		return Vec2{X: r.ArenaWidth / 2, Y: r.ArenaHeight / 2}
	}
	if n < 0 {
		n = -n
	}
	return r.SpawnPoints[n%len(r.SpawnPoints)]
}

// InArena reports whether p lies inside the arena rectangle.
func (r *Rules) InArena(p Vec2) bool {
	return p.X >= 0 && p.Y >= 0 && p.X <= r.ArenaWidth && p.Y <= r.ArenaHeight
}
