package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Security  SecurityConfig  `yaml:"security"`
	Logging   LoggingConfig   `yaml:"logging"`
	Presence  PresenceConfig  `yaml:"presence"`
	Calls     CallsConfig     `yaml:"calls"`
	Signals   SignalsConfig   `yaml:"signals"`
	Notify    NotifyConfig    `yaml:"notify"`
	Retention RetentionConfig `yaml:"retention"`
	Limits    LimitsConfig    `yaml:"limits"`
}

// LimitsConfig caps user-supplied content.
type LimitsConfig struct {
	// MaxText caps one message body, e.g. "16KB".
	MaxText SizeBytes `yaml:"max_text"`
}

// ServerConfig holds http, storage and tls settings.
type ServerConfig struct {
	Address string    `yaml:"address"`
	Port    int       `yaml:"port"`
	DBPath  string    `yaml:"db_path"`
	TLS     TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate configuration.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// SecurityConfig holds transport-level protections for the HTTP surface.
type SecurityConfig struct {
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// PresenceConfig tunes the heartbeat-based presence model.
type PresenceConfig struct {
	// Window is how recent a heartbeat must be to count as online.
	Window Duration `yaml:"window"`
	// HeartbeatInterval is the cadence clients are told to beat at.
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`
}

// CallsConfig tunes call-session lifecycle.
type CallsConfig struct {
	// RingTimeout ends an unanswered call as missed. Zero disables.
	RingTimeout Duration `yaml:"ring_timeout"`
}

// SignalsConfig tunes the signaling relay.
type SignalsConfig struct {
	// MaxPayload caps a single signaling payload, e.g. "64KB".
	MaxPayload SizeBytes `yaml:"max_payload"`
}

// NotifyConfig tunes the push notification dispatcher.
type NotifyConfig struct {
	QueueCapacity int     `yaml:"queue_capacity"`
	RPS           float64 `yaml:"rps"`
	Burst         int     `yaml:"burst"`
	Workers       int     `yaml:"workers"`
}

// RetentionConfig holds configuration for the automatic purge runner
// that removes terminal call sessions and their signal lanes.
type RetentionConfig struct {
	Enabled      bool     `yaml:"enabled"`
	Cron         string   `yaml:"cron"`
	Period       Duration `yaml:"period"`
	BatchSize    int      `yaml:"batch_size"`
	BatchSleepMs int      `yaml:"batch_sleep_ms"`
	DryRun       bool     `yaml:"dry_run"`
	MinPeriod    Duration `yaml:"min_period"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "64KB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(i)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", node.Value)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
