package config

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/ehr/carematch/internal/domain/matching"
)

type urgencyEntry struct {
	Code        int    `mapstructure:"code"`
	Name        string `mapstructure:"name"`
	MaxWaitDays int    `mapstructure:"max_wait_days"`
	Level       int    `mapstructure:"level"`
}

type roleEntry struct {
	Code int    `mapstructure:"code"`
	Role string `mapstructure:"role"`
}

// LoadPolicy reads urgency and role tables from a YAML or JSON file:
//
//	urgencies:
//	  - {code: 0, name: routine, max_wait_days: 30, level: 0}
//	roles:
//	  - {code: 0, role: doctor}
//
// An empty path returns the default tables.
func LoadPolicy(path string) (matching.Policy, error) {
	if path == "" {
		return matching.DefaultPolicy(), nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return matching.Policy{}, fmt.Errorf("read policy file %s: %w", path, err)
	}

	var urgencies []urgencyEntry
	if err := v.UnmarshalKey("urgencies", &urgencies); err != nil {
		return matching.Policy{}, fmt.Errorf("parse urgencies: %w", err)
	}
	var roles []roleEntry
	if err := v.UnmarshalKey("roles", &roles); err != nil {
		return matching.Policy{}, fmt.Errorf("parse roles: %w", err)
	}

	ut := make(map[int]matching.Urgency, len(urgencies))
	for _, u := range urgencies {
		if _, dup := ut[u.Code]; dup {
			return matching.Policy{}, fmt.Errorf("urgency code %d declared twice", u.Code)
		}
		ut[u.Code] = matching.Urgency{Name: u.Name, MaxWaitDays: u.MaxWaitDays, Level: u.Level}
	}
	rt := make(map[int]matching.Role, len(roles))
	for _, r := range roles {
		if _, dup := rt[r.Code]; dup {
			return matching.Policy{}, fmt.Errorf("role code %d declared twice", r.Code)
		}
		rt[r.Code] = matching.Role(r.Role)
	}

	p, err := matching.NewPolicy(ut, rt)
	if err != nil {
		return matching.Policy{}, fmt.Errorf("policy file %s: %w", path, err)
	}
	return p, nil
}
