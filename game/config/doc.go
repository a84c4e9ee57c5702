// Package config manages match rules presets for the relay.
//
// Presets are JSON files in a rules directory, one file per preset. The file
// name without its .json extension is the preset ID that clients pass when
// creating a room. Each preset decodes into match.Rules and is validated with
// match.ValidateRules before it is cached.
//
// Available presets shipped in rules/:
//   - deathmatch: free-for-all with respawns, kill and time limits
//   - survival: no respawns, last player alive wins
//   - duel: two players, short time limit
//
// The default preset is "deathmatch". When it is missing the first valid
// preset is used, and with no valid preset at all the built-in
// match.DefaultRules.
//
// Usage:
//
//	manager, err := config.NewManager("rules")
//	if err != nil {
//		return err
//	}
//	rules, err := manager.LoadRules("survival")
package config
