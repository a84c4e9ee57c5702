package match

import "time"

// HitCheck reports whether bullet b, fired before now, passed within the hit
// radius of target somewhere along the segment it has travelled so far.
func (r *Rules) HitCheck(b Bullet, target Vec2, now time.Time) bool {
	if b.Expired(now, r.BulletLifetime()) {
		return false
	}
	radius := r.HitRadius * (1 + r.MovementTolerance)
	return distToSegment(target, b.Origin, b.PositionAt(now)) <= radius
}

// CanReachMuzzle reports whether a shot fired from origin is consistent with
// the shooter standing at pos.
func (r *Rules) CanReachMuzzle(pos, origin Vec2) bool {
	return pos.Dist(origin) <= r.MuzzleSlack
}

// ApplyDamage reduces target's health and reports whether the hit killed it.
func ApplyDamage(target *PlayerState, damage int) bool {
	if !target.Alive || damage <= 0 {
		return false
	}
	target.Health -= damage
	if target.Health > 0 {
		return false
	}
	target.Health = 0
	target.Alive = false
	target.Deaths++
	target.Streak = 0
	target.Velocity = Vec2{}
	target.Flags = Flags{}
	return true
}

// CreditKill records a kill for shooter.
func CreditKill(shooter *PlayerState) {
	shooter.Kills++
	shooter.Streak++
	if shooter.Streak > shooter.BestStreak {
		shooter.BestStreak = shooter.Streak
	}
}

// Respawn restores p at spawn with full health and fuel.
func Respawn(p *PlayerState, spawn Vec2, now time.Time) {
	p.Position = spawn
	p.Velocity = Vec2{}
	p.Health = MaxHealth
	p.JetpackFuel = MaxFuel
	p.Flags = Flags{}
	p.Alive = true
	p.RespawnAt = time.Time{}
	p.LastUpdate = now
}

// distToSegment returns the distance from p to the segment ab.
func distToSegment(p, a, b Vec2) float64 {
	ab := b.Sub(a)
	l2 := ab.X*ab.X + ab.Y*ab.Y
	if l2 == 0 {
		return p.Dist(a)
	}
	t := ((p.X-a.X)*ab.X + (p.Y-a.Y)*ab.Y) / l2
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return p.Dist(a.Add(ab.Scale(t)))
}
