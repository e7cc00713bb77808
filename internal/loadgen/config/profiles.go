package config

import (
	"fmt"
	"sort"
	"time"

	"github.com/olympisai/trafficgen/internal/loadgen"
)

// Profile is a named, ready-to-run configuration.
type Profile struct {
	Name        string
	Description string
	build       func() *Config
}

var profiles = map[string]Profile{
	"load": {
		Name:        "load",
		Description: "Dashboard activity: reads plus an occasional store creation, 1 to 20 workers over 14m",
		build: func() *Config {
			return &Config{
				Name:     "Dashboard activity",
				Scenario: loadgen.ScenarioLoad,
				StartVUs: 1,
				Stages: []StageConfig{
					{Duration: Duration(2 * time.Minute), Target: 20, Name: "ramp-up"},
					{Duration: Duration(10 * time.Minute), Target: 20, Name: "steady"},
					{Duration: Duration(2 * time.Minute), Target: 0, Name: "ramp-down"},
				},
			}
		},
	},
	"stress": {
		Name:        "stress",
		Description: "Store creation only, 10 to 100 workers over 20m",
		build: func() *Config {
			return &Config{
				Name:     "Store creation stress",
				Scenario: loadgen.ScenarioStress,
				StartVUs: 10,
				Stages: []StageConfig{
					{Duration: Duration(20 * time.Minute), Target: 100, Name: "ramp-up"},
				},
			}
		},
	},
}

// LoadProfile returns a fresh copy of the named profile's configuration.
// No defaults are applied and no base URL is set.
func LoadProfile(name string) (*Config, error) {
	p, ok := profiles[name]
	if !ok {
		return nil, fmt.Errorf("unknown profile %q (available: %v)", name, ProfileNames())
	}
	return p.build(), nil
}

// Profiles lists the built-in profiles sorted by name.
func Profiles() []Profile {
	out := make([]Profile, 0, len(profiles))
	for _, p := range profiles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ProfileNames lists the built-in profile names.
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for _, p := range Profiles() {
		names = append(names, p.Name)
	}
	return names
}

// Config returns a fresh copy of the profile's configuration.
func (p Profile) Config() *Config {
	return p.build()
}
