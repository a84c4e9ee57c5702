// Command validate provides a small CLI that validates rules preset JSON
// files. By default it scans ../rules; explicit files may be passed as
// arguments. It checks:
//   - JSON structure and field constraints (the same checks the relay applies)
//   - The preset name matches its file name
//   - Spawn points are distinct and far enough apart to avoid spawn kills
//   - Deathmatch presets have a respawn delay, survival presets do not need one
package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/wricardo/militia-relay/game/config"
	"github.com/wricardo/militia-relay/game/match"
)

// ValidationResult captures the outcome of validating a single file.
// Errors fail the file; Warnings and Info are reported but never fail it.
type ValidationResult struct {
	File     string
	Valid    bool
	Errors   []string
	Warnings []string
	Info     []string
}

func (r *ValidationResult) fail(format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

func (r *ValidationResult) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

// validateRules loads and validates a single rules preset file.
func validateRules(filePath string) ValidationResult {
	result := ValidationResult{
		File:  filepath.Base(filePath),
		Valid: true,
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		result.fail("Failed to read file: %v", err)
		return result
	}

	rules, err := config.Parse(data)
	if err != nil {
		result.fail("%v", err)
		return result
	}

	if want := strings.TrimSuffix(result.File, ".json"); rules.Name != want {
		result.fail("name %q does not match file name %q", rules.Name, want)
	}

	checkSpawns(rules, &result)

	if rules.Mode == match.Deathmatch && rules.RespawnDelayMs == 0 {
		result.warn("deathmatch with respawnDelayMs 0 respawns players instantly")
	}
	if rules.TrustClientMovement {
		result.warn("trustClientMovement disables movement plausibility checks")
	}
	if reach := rules.BulletSpeed * rules.BulletLifetime().Seconds(); reach < math.Hypot(rules.ArenaWidth, rules.ArenaHeight)/2 {
		result.warn("bullets travel %.0fpx, less than half the arena diagonal", reach)
	}

	if result.Valid {
		result.Info = append(result.Info,
			fmt.Sprintf("Name: %s (%s)", rules.Name, rules.Mode),
			fmt.Sprintf("Arena: %.0fx%.0f", rules.ArenaWidth, rules.ArenaHeight),
			fmt.Sprintf("Players: up to %d, %d spawn points", rules.MaxPlayers, len(rules.SpawnPoints)),
			fmt.Sprintf("Limits: %s", describeLimits(rules)),
		)
	}

	return result
}

// checkSpawns rejects duplicate spawn points and warns when two spawns are
// within hit range of each other.
func checkSpawns(rules *match.Rules, result *ValidationResult) {
	minGap := 2 * rules.HitRadius
	for i := 0; i < len(rules.SpawnPoints); i++ {
		for j := i + 1; j < len(rules.SpawnPoints); j++ {
			a, b := rules.SpawnPoints[i], rules.SpawnPoints[j]
			d := math.Hypot(a.X-b.X, a.Y-b.Y)
			if d == 0 {
				result.fail("spawn points %d and %d are identical (%.0f,%.0f)", i, j, a.X, a.Y)
			} else if d < minGap {
				result.warn("spawn points %d and %d are only %.0fpx apart", i, j, d)
			}
		}
	}
	if len(rules.SpawnPoints) < rules.MaxPlayers {
		result.warn("%d spawn points for %d players; spawns will be shared", len(rules.SpawnPoints), rules.MaxPlayers)
	}
}

func describeLimits(rules *match.Rules) string {
	var parts []string
	if rules.TimeLimitSeconds > 0 {
		parts = append(parts, rules.TimeLimit().String())
	}
	if rules.KillLimit > 0 {
		parts = append(parts, fmt.Sprintf("%d kills", rules.KillLimit))
	}
	if rules.Mode == match.Survival {
		parts = append(parts, "last standing")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ", ")
}

// printResult writes a concise report for one file.
func printResult(result ValidationResult) {
	fmt.Printf("\n%s %s\n", strings.Repeat("=", 20), result.File)

	if result.Valid {
		fmt.Println("✅ VALID")
		for _, info := range result.Info {
			fmt.Println("  ✓ " + info)
		}
	} else {
		fmt.Println("❌ INVALID")
		for _, err := range result.Errors {
			fmt.Println("  ❌ " + err)
		}
	}
	for _, w := range result.Warnings {
		fmt.Println("  ⚠ " + w)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Validate rules preset files",
		ArgsUsage: "[file.json ...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dir", Value: "../rules", Usage: "Directory scanned when no files are given"},
			&cli.BoolFlag{Name: "strict", Usage: "Treat warnings as errors"},
		},
		Action: run,
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	files := cmd.Args().Slice()
	if len(files) == 0 {
		var err error
		files, err = filepath.Glob(filepath.Join(cmd.String("dir"), "*.json"))
		if err != nil {
			return fmt.Errorf("error finding rules files: %w", err)
		}
	}
	if len(files) == 0 {
		return fmt.Errorf("no rules files found")
	}

	allValid := true
	for _, file := range files {
		result := validateRules(file)
		printResult(result)
		if !result.Valid || (cmd.Bool("strict") && len(result.Warnings) > 0) {
			allValid = false
		}
	}

	fmt.Printf("\n%s\n", strings.Repeat("=", 40))
	if !allValid {
		return fmt.Errorf("❌ some rules presets have errors")
	}
	fmt.Println("✅ All rules presets are valid!")
	return nil
}

func main() {
	if err := newCommand().Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
