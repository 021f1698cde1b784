// Package config loads docsync's network settings (spec.md §6): the
// reconnect-backoff and leader-election timing knobs every host can tune
// per document store. It walks project file, then user config dir, then
// home directory, built on spf13/viper's YAML loader, collapsed into a
// single "network" settings block.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// NetworkSettings is the configuration options block from spec.md §6. All
// fields are non-negative integers; zero means "immediate" for delays and
// "disabled" for timeouts of that role.
type NetworkSettings struct {
	InitialDelayMs             int `mapstructure:"initial-delay-ms"`
	ReconnectBackoffMultiplier int `mapstructure:"reconnect-backoff-multiplier"`
	MaxReconnectDelayMs        int `mapstructure:"max-reconnect-delay-ms"`
	ElectionTimeoutMs          int `mapstructure:"election-timeout-ms"`
	HeartbeatIntervalMs        int `mapstructure:"heartbeat-interval-ms"`
	HeartbeatTimeoutMs         int `mapstructure:"heartbeat-timeout-ms"`
}

// Defaults returns the built-in network settings: reconnect backoff and
// conservative election/heartbeat timings.
func Defaults() NetworkSettings {
	return NetworkSettings{
		InitialDelayMs:             250,
		ReconnectBackoffMultiplier: 2,
		MaxReconnectDelayMs:        30_000,
		ElectionTimeoutMs:          50,
		HeartbeatIntervalMs:        2_000,
		HeartbeatTimeoutMs:         6_000,
	}
}

// Load walks project .docsync/config.yaml, then the user config directory,
// then the home directory, falling back to defaults when no file is found,
// with DOCSYNC_-prefixed environment overrides on top.
func Load() (NetworkSettings, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	configFileSet := false
	if cwd, err := os.Getwd(); err == nil {
		for dir := cwd; dir != filepath.Dir(dir); dir = filepath.Dir(dir) {
			path := filepath.Join(dir, ".docsync", "config.yaml")
			if _, err := os.Stat(path); err == nil {
				v.SetConfigFile(path)
				configFileSet = true
				break
			}
		}
	}
	if !configFileSet {
		if dir, err := os.UserConfigDir(); err == nil {
			path := filepath.Join(dir, "docsync", "config.yaml")
			if _, err := os.Stat(path); err == nil {
				v.SetConfigFile(path)
				configFileSet = true
			}
		}
	}
	if !configFileSet {
		if dir, err := os.UserHomeDir(); err == nil {
			path := filepath.Join(dir, ".docsync", "config.yaml")
			if _, err := os.Stat(path); err == nil {
				v.SetConfigFile(path)
				configFileSet = true
			}
		}
	}

	v.SetEnvPrefix("DOCSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	def := Defaults()
	v.SetDefault("initial-delay-ms", def.InitialDelayMs)
	v.SetDefault("reconnect-backoff-multiplier", def.ReconnectBackoffMultiplier)
	v.SetDefault("max-reconnect-delay-ms", def.MaxReconnectDelayMs)
	v.SetDefault("election-timeout-ms", def.ElectionTimeoutMs)
	v.SetDefault("heartbeat-interval-ms", def.HeartbeatIntervalMs)
	v.SetDefault("heartbeat-timeout-ms", def.HeartbeatTimeoutMs)

	if configFileSet {
		if err := v.ReadInConfig(); err != nil {
			return NetworkSettings{}, fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
		}
	}

	var out NetworkSettings
	if err := v.Unmarshal(&out); err != nil {
		return NetworkSettings{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := out.Validate(); err != nil {
		return NetworkSettings{}, err
	}
	return out, nil
}

// Validate rejects negative values; spec.md §6 requires every knob be a
// non-negative integer.
func (n NetworkSettings) Validate() error {
	for name, v := range map[string]int{
		"initial-delay-ms":             n.InitialDelayMs,
		"reconnect-backoff-multiplier": n.ReconnectBackoffMultiplier,
		"max-reconnect-delay-ms":       n.MaxReconnectDelayMs,
		"election-timeout-ms":          n.ElectionTimeoutMs,
		"heartbeat-interval-ms":        n.HeartbeatIntervalMs,
		"heartbeat-timeout-ms":         n.HeartbeatTimeoutMs,
	} {
		if v < 0 {
			return fmt.Errorf("config: %s must be non-negative, got %d", name, v)
		}
	}
	return nil
}
