package syssetting

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/shaban/syssetting/bridge"
)

// WritePolicy decides how level writes interact with the permission flag.
// A controller applies one policy to both volume and brightness.
type WritePolicy string

const (
	// CheckThenWrite skips the bridge entirely while the permission flag is false.
	CheckThenWrite WritePolicy = "check-then-write"
	// OptimisticWrite always calls the bridge and reacts to a refusal.
	OptimisticWrite WritePolicy = "optimistic"
)

// Config holds the session settings. Every field can be loaded from the
// environment with ConfigFromEnv.
type Config struct {
	WritePolicy WritePolicy `env:"SYSSETTING_WRITE_POLICY" envDefault:"check-then-write"`

	// Volume writes
	VolumeStream    string `env:"SYSSETTING_VOLUME_STREAM" envDefault:"music"`
	VolumePlaySound bool   `env:"SYSSETTING_VOLUME_PLAY_SOUND" envDefault:"false"`
	VolumeShowUI    bool   `env:"SYSSETTING_VOLUME_SHOW_UI" envDefault:"false"`
	// VolumeRequiresPermission gates volume writes like brightness writes, as
	// strict platforms do.
	VolumeRequiresPermission bool `env:"SYSSETTING_VOLUME_REQUIRES_PERMISSION" envDefault:"true"`

	// SyncAllListeners makes wifi, bluetooth, location, location-mode and
	// airplane notifications update the snapshot. Otherwise they are only logged.
	SyncAllListeners bool `env:"SYSSETTING_SYNC_ALL_LISTENERS" envDefault:"false"`

	// SlowOperation is the dispatcher duration above which a warning is reported.
	SlowOperation time.Duration `env:"SYSSETTING_SLOW_OPERATION" envDefault:"50ms"`
}

// DefaultConfig returns the same values ConfigFromEnv yields on an empty environment.
func DefaultConfig() Config {
	return Config{
		WritePolicy:              CheckThenWrite,
		VolumeStream:             "music",
		VolumeRequiresPermission: true,
		SlowOperation:            50 * time.Millisecond,
	}
}

// ConfigFromEnv loads configuration from environment variables.
func ConfigFromEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration and normalizes the write policy.
func (c *Config) Validate() error {
	c.WritePolicy = WritePolicy(strings.ToLower(strings.TrimSpace(string(c.WritePolicy))))
	switch c.WritePolicy {
	case "":
		c.WritePolicy = CheckThenWrite
	case CheckThenWrite, OptimisticWrite:
	default:
		return fmt.Errorf("unknown write policy %q (want %q or %q)", c.WritePolicy, CheckThenWrite, OptimisticWrite)
	}
	if strings.TrimSpace(c.VolumeStream) == "" {
		return fmt.Errorf("volume stream is required")
	}
	if c.SlowOperation < 0 {
		return fmt.Errorf("slow operation threshold cannot be negative, got %v", c.SlowOperation)
	}
	return nil
}

func (c Config) volumeOptions() bridge.VolumeOptions {
	return bridge.VolumeOptions{
		Type:      c.VolumeStream,
		PlaySound: c.VolumePlaySound,
		ShowUI:    c.VolumeShowUI,
	}
}

// gated reports whether writes of kind must hold the write-settings permission.
func (c Config) gated(kind bridge.Kind) bool {
	return kind == bridge.KindBrightness || (kind == bridge.KindVolume && c.VolumeRequiresPermission)
}
