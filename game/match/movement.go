package match

import (
	"errors"
	"fmt"
	"time"
)

var ErrImplausibleMove = errors.New("implausible movement")

// CheckMovement verifies that p can legitimately be at pos with velocity vel
// at time now, given its last accepted state. It does not mutate p.
func (r *Rules) CheckMovement(p *PlayerState, pos, vel Vec2, now time.Time) error {
	if !pos.Finite() || !vel.Finite() {
		return fmt.Errorf("%w: non-finite values", ErrImplausibleMove)
	}
	if !r.InArena(pos) {
		return fmt.Errorf("%w: position (%.1f,%.1f) outside arena", ErrImplausibleMove, pos.X, pos.Y)
	}
	if r.TrustClientMovement {
		return nil
	}

	k := 1 + r.MovementTolerance
	if abs(vel.X) > r.MaxRunSpeed*k {
		return fmt.Errorf("%w: horizontal speed %.1f exceeds %.1f", ErrImplausibleMove, abs(vel.X), r.MaxRunSpeed*k)
	}
	if vel.Y < -r.MaxJetpackSpeed*k || vel.Y > r.MaxFallSpeed*k {
		return fmt.Errorf("%w: vertical speed %.1f out of range", ErrImplausibleMove, vel.Y)
	}

	dt := now.Sub(p.LastUpdate).Seconds()
	if dt < 0 {
		dt = 0
	}
	maxDX := r.MaxRunSpeed*dt*k + r.MovementSlack
	maxDY := maxf(r.MaxJetpackSpeed, r.MaxFallSpeed)*dt*k + r.MovementSlack
	if dx := abs(pos.X - p.Position.X); dx > maxDX {
		return fmt.Errorf("%w: moved %.1f px horizontally in %.3fs (max %.1f)", ErrImplausibleMove, dx, dt, maxDX)
	}
	if dy := abs(pos.Y - p.Position.Y); dy > maxDY {
		return fmt.Errorf("%w: moved %.1f px vertically in %.3fs (max %.1f)", ErrImplausibleMove, dy, dt, maxDY)
	}
	return nil
}

// UpdateFuel drains or regenerates p's jetpack fuel over the time since its
// last update and returns whether the jetpack is actually firing.
func (r *Rules) UpdateFuel(p *PlayerState, jetpack bool, now time.Time) bool {
	dt := now.Sub(p.LastUpdate).Seconds()
	if dt < 0 {
		dt = 0
	}
	if jetpack && p.JetpackFuel > 0 {
		p.JetpackFuel -= r.FuelDrainPerSecond * dt
		if p.JetpackFuel < 0 {
			p.JetpackFuel = 0
		}
		return true
	}
	if !jetpack {
		p.JetpackFuel += r.FuelRegenPerSecond * dt
		if p.JetpackFuel > MaxFuel {
			p.JetpackFuel = MaxFuel
		}
	}
	return false
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
