package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/wricardo/militia-relay/game/match"
	"github.com/wricardo/militia-relay/game/service"
)

var (
	ErrRulesNotFound = errors.New("rules preset not found")
	ErrInvalidName   = errors.New("invalid preset name")
)

// DefaultPreset is loaded as the default when present.
const DefaultPreset = "deathmatch"

// Manager loads and caches match rules presets stored as JSON files
type Manager struct {
	rulesDir     string
	defaultRules *match.Rules
	presets      map[string]*match.Rules
	mu           sync.RWMutex
}

// NewManager creates a new rules preset manager
func NewManager(rulesDir string) (*Manager, error) {
	if _, err := os.Stat(rulesDir); os.IsNotExist(err) {
		return nil, fmt.Errorf("rules directory does not exist: %s", rulesDir)
	}

	m := &Manager{
		rulesDir: rulesDir,
		presets:  make(map[string]*match.Rules),
	}

	if err := m.loadDefault(); err != nil {
		return nil, fmt.Errorf("failed to load default rules: %w", err)
	}

	return m, nil
}

// LoadRules loads a preset by name. The returned rules are a copy the caller
// may modify.
func (m *Manager) LoadRules(name string) (*match.Rules, error) {
	rules, err := m.load(name)
	if err != nil {
		return nil, err
	}
	return clone(rules), nil
}

func (m *Manager) load(name string) (*match.Rules, error) {
	name = strings.TrimSuffix(name, ".json")
	if err := checkName(name); err != nil {
		return nil, err
	}

	m.mu.RLock()
	if rules, exists := m.presets[name]; exists {
		m.mu.RUnlock()
		return rules, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if rules, exists := m.presets[name]; exists {
		return rules, nil
	}

	data, err := os.ReadFile(filepath.Join(m.rulesDir, name+".json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrRulesNotFound, name)
		}
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}

	rules, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	m.presets[name] = rules
	return rules, nil
}

// Parse decodes and validates a rules preset document.
func Parse(data []byte) (*match.Rules, error) {
	var rules match.Rules
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("%w: %v", match.ErrInvalidRules, err)
	}
	if err := match.ValidateRules(&rules); err != nil {
		return nil, err
	}
	return &rules, nil
}

// ListRules returns a summary of every valid preset in the directory
func (m *Manager) ListRules() ([]*service.RulesInfo, error) {
	entries, err := os.ReadDir(m.rulesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules directory: %w", err)
	}

	var presets []*service.RulesInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")

		rules, err := m.load(id)
		if err != nil {
			// Skip invalid presets
			continue
		}
		presets = append(presets, service.NewRulesInfo(id, rules))
	}

	sort.Slice(presets, func(i, j int) bool { return presets[i].ID < presets[j].ID })
	return presets, nil
}

// GetDefault returns a copy of the default rules
func (m *Manager) GetDefault() *match.Rules {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return clone(m.defaultRules)
}

// SetDefault sets the default preset by name
func (m *Manager) SetDefault(name string) error {
	rules, err := m.load(name)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultRules = rules
	return nil
}

// RefreshCache drops cached presets and reloads the default from disk
func (m *Manager) RefreshCache() error {
	m.mu.Lock()
	m.presets = make(map[string]*match.Rules)
	m.mu.Unlock()

	return m.loadDefault()
}

// ReloadRules drops a cached preset and reads it from disk again
func (m *Manager) ReloadRules(name string) error {
	name = strings.TrimSuffix(name, ".json")
	m.mu.Lock()
	delete(m.presets, name)
	m.mu.Unlock()

	_, err := m.load(name)
	return err
}

// SaveRules validates and writes a preset to disk
func (m *Manager) SaveRules(name string, rules *match.Rules) error {
	name = strings.TrimSuffix(name, ".json")
	if err := checkName(name); err != nil {
		return err
	}
	if err := match.ValidateRules(rules); err != nil {
		return err
	}

	data, err := json.MarshalIndent(rules, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal rules: %w", err)
	}

	if err := os.WriteFile(filepath.Join(m.rulesDir, name+".json"), data, 0644); err != nil {
		return fmt.Errorf("failed to write rules file: %w", err)
	}

	m.mu.Lock()
	m.presets[name] = clone(rules)
	m.mu.Unlock()

	return nil
}

// loadDefault picks DefaultPreset, else the first valid preset, else the
// built-in rules.
func (m *Manager) loadDefault() error {
	rules, err := m.load(DefaultPreset)
	if err != nil {
		presets, listErr := m.ListRules()
		if listErr != nil || len(presets) == 0 {
			rules = match.DefaultRules()
		} else if rules, err = m.load(presets[0].ID); err != nil {
			rules = match.DefaultRules()
		}
	}

	m.mu.Lock()
	m.defaultRules = rules
	m.mu.Unlock()
	return nil
}

func checkName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\`) || strings.Contains(name, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func clone(r *match.Rules) *match.Rules {
	if r == nil {
		return nil
	}
	c := *r
	c.SpawnPoints = append([]match.Vec2(nil), r.SpawnPoints...)
	return &c
}
