// Package config loads the tunable, non-semantic knobs of a replica: its
// cache sizes. It never affects convergence
// (spec.md §5: "Caches are pure accelerators; correctness is independent
// of their contents").
package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Config configures a replica's caches.
type Config struct {
	Cache CacheConfig `yaml:"cache"`
}

// CacheConfig configures the bounded caches described in spec.md §5.
type CacheConfig struct {
	// ValueEntries bounds the Data Pack Store's value LRU cache.
	ValueEntries int `yaml:"value_entries"`
	// MaterializationEntries bounds the per-revision materialization
	// cache used by the Read/Materializer.
	MaterializationEntries int `yaml:"materialization_entries"`
}

var defaultCache = CacheConfig{
	ValueEntries:           1024,
	MaterializationEntries: 1024,
}

// Default returns a Config populated with the engine's defaults.
func Default() *Config {
	return &Config{Cache: defaultCache}
}

// PopulateDefaults fills any zero-valued field with the engine default.
func (c *CacheConfig) PopulateDefaults() {
	if c.ValueEntries == 0 {
		c.ValueEntries = defaultCache.ValueEntries
	}
	if c.MaterializationEntries == 0 {
		c.MaterializationEntries = defaultCache.MaterializationEntries
	}
}

// PopulateDefaults fills any zero-valued section of c with engine defaults.
func (c *Config) PopulateDefaults() {
	c.Cache.PopulateDefaults()
}

// Read loads a Config from a YAML file at path, applying defaults to any
// field the file leaves unset.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.PopulateDefaults()
	return &cfg, nil
}
