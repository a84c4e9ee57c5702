// Package match provides the pure game rules for Militia Relay matches.
//
// The match package implements:
//   - Player state and 2D vector types shared by the relay
//   - Match rules presets and their validation
//   - Movement plausibility bounds and server-side jetpack fuel
//   - Bullet trajectories, hit checks, damage and respawn
//   - Match results used for stats and the match archive
//
// Core Types:
//
// PlayerState is the authoritative per-player state held by a session.
// Rules describes a match preset (mode, limits, speeds, combat constants)
// loaded from JSON files. Bullet is a fired projectile kept only long enough
// to verify hit claims. Result summarizes a finished match.
//
// Usage:
//
//	rules := match.DefaultRules()
//	if err := match.ValidateRules(rules); err != nil {
//		log.Fatal(err)
//	}
//
//	p := match.NewPlayerState("p1", "Alice", rules.SpawnPoint(0), now)
//	if err := rules.CheckMovement(p, next, velocity, now); err != nil {
//		// drop the update
//	}
//
// Nothing in this package is safe for concurrent use; the owning session
// serializes access.
package match
