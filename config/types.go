// Package config provides configuration types and loading for the playbooks runtime.
package config

import "fmt"

// LLMCacheConfig controls response caching for the LLM provider binding
// (consumed outside THE CORE; the core only reads these keys to decide
// whether a completion should be looked up before being requested).
type LLMCacheConfig struct {
	Enabled bool   `koanf:"enabled" mapstructure:"enabled"`
	Path    string `koanf:"path" mapstructure:"path"`
	URL     string `koanf:"url" mapstructure:"url"`
}

func (c *LLMCacheConfig) SetDefaults() {
	if c.Path == "" && c.URL == "" {
		c.Path = ".playbooks/llm-cache"
	}
}

func (c *LLMCacheConfig) Validate() error {
	if c.Enabled && c.Path == "" && c.URL == "" {
		return fmt.Errorf("llm_cache: enabled but neither path nor url is set")
	}
	return nil
}

// DurabilityConfig controls checkpoint persistence (C11).
type DurabilityConfig struct {
	Enabled             bool   `koanf:"enabled" mapstructure:"enabled"`
	StoragePath         string `koanf:"storage_path" mapstructure:"storage_path"`
	MaxCheckpointSizeMB int    `koanf:"max_checkpoint_size_mb" mapstructure:"max_checkpoint_size_mb"`
	KeepLastN           int    `koanf:"keep_last_n" mapstructure:"keep_last_n"`
}

func (c *DurabilityConfig) SetDefaults() {
	if c.StoragePath == "" {
		c.StoragePath = ".playbooks/checkpoints"
	}
	if c.MaxCheckpointSizeMB <= 0 {
		c.MaxCheckpointSizeMB = 8
	}
	if c.KeepLastN <= 0 {
		c.KeepLastN = 5
	}
}

func (c *DurabilityConfig) Validate() error {
	if c.Enabled && c.StoragePath == "" {
		return fmt.Errorf("durability: enabled but storage_path is empty")
	}
	if c.MaxCheckpointSizeMB < 0 {
		return fmt.Errorf("durability: max_checkpoint_size_mb cannot be negative")
	}
	return nil
}

// Config is the top-level program configuration (spec §6 keys).
type Config struct {
	Model      string           `koanf:"model" mapstructure:"model"`
	LogLevel   string           `koanf:"log_level" mapstructure:"log_level"`
	LLMCache   LLMCacheConfig   `koanf:"llm_cache" mapstructure:"llm_cache"`
	Durability DurabilityConfig `koanf:"durability" mapstructure:"durability"`
}

func (c *Config) SetDefaults() {
	if c.Model == "" {
		c.Model = "default"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	c.LLMCache.SetDefaults()
	c.Durability.SetDefaults()
}

func (c *Config) Validate() error {
	if err := c.LLMCache.Validate(); err != nil {
		return err
	}
	if err := c.Durability.Validate(); err != nil {
		return err
	}
	return nil
}
