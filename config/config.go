// Package config provides configuration types and utilities for the playbooks runtime.
// This file contains the koanf-backed loader, the single entry point for all configuration.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"github.com/mitchellh/mapstructure"
)

// EnvPrefix is the prefix stripped from environment overrides, e.g.
// PLAYBOOKS_DURABILITY_ENABLED=true -> durability.enabled.
const EnvPrefix = "PLAYBOOKS_"

// Load reads configuration from an optional YAML file, then layers
// environment variable overrides on top, and finally fills in defaults.
// An empty path loads only defaults + environment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := &Config{}
	defaults.SetDefaults()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: loading defaults: %w", err)
	}

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	if err := loadEnvOverrides(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	decoder := koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			Result:           cfg,
			WeaklyTypedInput: true,
			TagName:          "koanf",
		},
	}
	if err := k.UnmarshalWithConf("", cfg, decoder); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadEnvOverrides layers PLAYBOOKS_FOO_BAR=val as foo.bar=val onto k.
func loadEnvOverrides(k *koanf.Koanf) error {
	for _, kv := range os.Environ() {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 || !strings.HasPrefix(parts[0], EnvPrefix) {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(parts[0], EnvPrefix))
		key = strings.ReplaceAll(key, "_", ".")
		if err := k.Set(key, parseValue(expandEnvVars(parts[1]))); err != nil {
			return fmt.Errorf("config: applying env override %s: %w", parts[0], err)
		}
	}
	return nil
}
