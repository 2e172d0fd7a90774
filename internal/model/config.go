// Package model defines the data structures for the dialer's configuration, contacts, calls, and engine state.
package model

import "time"

type Config struct {
	SchemaVersion int             `yaml:"schema_version"`
	FileType      string          `yaml:"file_type"`
	Agent         AgentConfig     `yaml:"agent"`
	Source        SourceConfig    `yaml:"source"`
	Backend       BackendConfig   `yaml:"backend"`
	Auth          AuthConfig      `yaml:"auth"`
	Buffer        BufferConfig    `yaml:"buffer"`
	Dialer        DialerConfig    `yaml:"dialer"`
	Telephony     TelephonyConfig `yaml:"telephony"`
	Store         StoreConfig     `yaml:"store"`
	HTTP          HTTPConfig      `yaml:"http"`
	Daemon        DaemonConfig    `yaml:"daemon"`
	Logging       LoggingConfig   `yaml:"logging"`
}

type AgentConfig struct {
	ID                      string `yaml:"id"`
	Name                    string `yaml:"name"`
	Extension               string `yaml:"extension"`
	MandatoryClassification bool   `yaml:"mandatory_classification"`
	DefaultCampaign         string `yaml:"default_campaign"`
}

type SourceConfig struct {
	BaseURL    string `yaml:"base_url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

type BackendConfig struct {
	BaseURL    string `yaml:"base_url"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// AuthConfig selects the bearer credential sent to the contact source and backend.
// A signing key takes precedence over a static token.
type AuthConfig struct {
	Token      string `yaml:"token"`
	SigningKey string `yaml:"signing_key"`
	Issuer     string `yaml:"issuer"`
	TTLSec     int    `yaml:"ttl_sec"`
}

type BufferConfig struct {
	ActiveTarget        int `yaml:"active_target"`
	MemoryTarget        int `yaml:"memory_target"`
	LowWatermark        int `yaml:"low_watermark"`
	MoveCap             int `yaml:"move_cap"`
	SeedSize            int `yaml:"seed_size"`
	ReplenishIntervalMs int `yaml:"replenish_interval_ms"`
	FetchConcurrency    int `yaml:"fetch_concurrency"`
}

type DialerConfig struct {
	AutoMode              bool         `yaml:"auto_mode"`
	PlacementRetryDelayMs int          `yaml:"placement_retry_delay_ms"`
	InterCallDelayMs      int          `yaml:"inter_call_delay_ms"`
	DialCounterTimeoutSec int          `yaml:"dial_counter_timeout_sec"`
	Media                 MediaOptions `yaml:"media"`
}

// MediaOptions is passed through to the session provider on every placed call.
type MediaOptions struct {
	Audio bool `yaml:"audio" json:"audio"`
	Video bool `yaml:"video" json:"video"`
}

type TelephonyConfig struct {
	Mode string `yaml:"mode"` // "bridge" or "simulate"
}

type StoreConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
}

type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type DaemonConfig struct {
	ShutdownTimeoutSec int `yaml:"shutdown_timeout_sec"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// WithDefaults returns a copy of cfg with zero values replaced by the documented defaults.
func (cfg Config) WithDefaults() Config {
	b := &cfg.Buffer
	if b.ActiveTarget <= 0 {
		b.ActiveTarget = 50
	}
	if b.MemoryTarget <= 0 {
		b.MemoryTarget = 50
	}
	if b.LowWatermark <= 0 {
		b.LowWatermark = 20
	}
	if b.MoveCap <= 0 {
		b.MoveCap = 20
	}
	if b.SeedSize <= 0 {
		b.SeedSize = b.ActiveTarget + b.MemoryTarget
	}
	if b.ReplenishIntervalMs <= 0 {
		b.ReplenishIntervalMs = 2000
	}
	if b.FetchConcurrency <= 0 {
		b.FetchConcurrency = 8
	}

	d := &cfg.Dialer
	if d.PlacementRetryDelayMs <= 0 {
		d.PlacementRetryDelayMs = 1500
	}
	if d.InterCallDelayMs < 0 {
		d.InterCallDelayMs = 0
	}
	if d.DialCounterTimeoutSec <= 0 {
		d.DialCounterTimeoutSec = 5
	}
	if !d.Media.Audio && !d.Media.Video {
		d.Media.Audio = true
	}

	if cfg.Source.TimeoutSec <= 0 {
		cfg.Source.TimeoutSec = 10
	}
	if cfg.Backend.TimeoutSec <= 0 {
		cfg.Backend.TimeoutSec = 10
	}
	if cfg.Auth.TTLSec <= 0 {
		cfg.Auth.TTLSec = 900
	}
	if cfg.Telephony.Mode == "" {
		cfg.Telephony.Mode = "bridge"
	}
	if cfg.HTTP.ListenAddr == "" {
		cfg.HTTP.ListenAddr = "127.0.0.1:8089"
	}
	if cfg.Daemon.ShutdownTimeoutSec <= 0 {
		cfg.Daemon.ShutdownTimeoutSec = 30
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	return cfg
}

func (b BufferConfig) ReplenishInterval() time.Duration {
	return time.Duration(b.ReplenishIntervalMs) * time.Millisecond
}

func (d DialerConfig) PlacementRetryDelay() time.Duration {
	return time.Duration(d.PlacementRetryDelayMs) * time.Millisecond
}

func (d DialerConfig) InterCallDelay() time.Duration {
	return time.Duration(d.InterCallDelayMs) * time.Millisecond
}
