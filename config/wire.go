package config

import (
	"time"

	"github.com/untoldecay/docsync/leader"
	"github.com/untoldecay/docsync/remote"
)

// ReconnectPolicy adapts the loaded settings to remote.ReconnectPolicy.
func (n NetworkSettings) ReconnectPolicy() remote.ReconnectPolicy {
	return remote.ReconnectPolicy{
		InitialDelayMs:             n.InitialDelayMs,
		ReconnectBackoffMultiplier: float64(n.ReconnectBackoffMultiplier),
		MaxReconnectDelayMs:        n.MaxReconnectDelayMs,
	}
}

// ElectionConfig adapts the loaded settings to leader.Config.
func (n NetworkSettings) ElectionConfig() leader.Config {
	return leader.Config{
		ElectionTimeout:   time.Duration(n.ElectionTimeoutMs) * time.Millisecond,
		HeartbeatInterval: time.Duration(n.HeartbeatIntervalMs) * time.Millisecond,
		HeartbeatTimeout:  time.Duration(n.HeartbeatTimeoutMs) * time.Millisecond,
	}
}
