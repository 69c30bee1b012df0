package app

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"pricecompare/searchservice/internal/domain"
)

// PlatformSetting overrides how one platform takes part in a search.
type PlatformSetting struct {
	Enabled   *bool   `yaml:"enabled"`
	Pool      string  `yaml:"pool"`
	Limit     int     `yaml:"limit"`
	RateLimit float64 `yaml:"rateLimit"`
	Burst     int     `yaml:"burst"`
}

type PlatformSettings map[string]PlatformSetting

type platformsFile struct {
	Platforms map[string]PlatformSetting `yaml:"platforms"`
}

func DefaultPlatformSettings() PlatformSettings {
	disabled := false
	return PlatformSettings{
		"coupang":          {Pool: string(domain.PoolCurated)},
		"coupang-partners": {Pool: string(domain.PoolCurated)},
		"naver":            {Pool: string(domain.PoolSourceA)},
		"11st":             {Pool: string(domain.PoolSourceB)},
		"danawa":           {Pool: string(domain.PoolSourceB), Enabled: &disabled, RateLimit: 0.5, Burst: 1},
		"iherb":            {Pool: string(domain.PoolSourceB), Enabled: &disabled, RateLimit: 0.5, Burst: 1},
	}
}

// LoadPlatformSettings merges the YAML file at path over base. An empty path returns base.
func LoadPlatformSettings(path string, base PlatformSettings) (PlatformSettings, error) {
	merged := make(PlatformSettings, len(base))
	for name, setting := range base {
		merged[name] = setting
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return merged, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return merged, fmt.Errorf("read platforms file: %w", err)
	}
	var file platformsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return merged, fmt.Errorf("parse platforms file: %w", err)
	}
	for rawName, override := range file.Platforms {
		name := strings.ToLower(strings.TrimSpace(rawName))
		if name == "" {
			continue
		}
		if override.Pool != "" {
			if _, ok := domain.NormalizePool(override.Pool); !ok {
				return merged, fmt.Errorf("platform %s: unknown pool %q", name, override.Pool)
			}
		}
		current := merged[name]
		if override.Enabled != nil {
			enabled := *override.Enabled
			current.Enabled = &enabled
		}
		if override.Pool != "" {
			current.Pool = override.Pool
		}
		if override.Limit > 0 {
			current.Limit = override.Limit
		}
		if override.RateLimit > 0 {
			current.RateLimit = override.RateLimit
		}
		if override.Burst > 0 {
			current.Burst = override.Burst
		}
		merged[name] = current
	}
	return merged, nil
}

// IsEnabled reports the configured flag, or fallback when the file leaves it unset.
func (s PlatformSettings) IsEnabled(name string, fallback bool) bool {
	setting, ok := s[strings.ToLower(name)]
	if !ok || setting.Enabled == nil {
		return fallback
	}
	return *setting.Enabled
}

func (s PlatformSettings) PoolFor(name string, fallback domain.Pool) domain.Pool {
	setting, ok := s[strings.ToLower(name)]
	if !ok {
		return fallback
	}
	if pool, ok := domain.NormalizePool(setting.Pool); ok {
		return pool
	}
	return fallback
}

func (s PlatformSettings) Get(name string) PlatformSetting {
	return s[strings.ToLower(name)]
}
