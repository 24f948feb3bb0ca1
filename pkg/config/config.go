package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Addr returns host:port for the HTTP server.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = 8080
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// Load reads and parses a YAML config file.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr   string
	DB     string
	Config string
	Set    map[string]bool
}

// ParseCommandFlags defines and parses command-line flags.
func ParseCommandFlags() Flags {
	addrPtr := flag.String("addr", ":8080", "HTTP listen address")
	dbPtr := flag.String("db", "./.database", "Pebble DB path")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return Flags{Addr: *addrPtr, DB: *dbPtr, Config: *cfgPtr, Set: setFlags}
}

// ResolveConfigPath decides the config file path using the flag-provided
// value and CHATRELAY_CONFIG when the flag was not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("CHATRELAY_CONFIG"); p != "" {
		return p
	}
	return flagPath
}

// LoadEnvOverrides applies CHATRELAY_* environment overrides onto cfg and
// reports whether any env var was used.
func LoadEnvOverrides(cfg *Config) bool {
	envUsed := false
	parseList := func(v string) []string {
		if v == "" {
			return nil
		}
		parts := []string{}
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				parts = append(parts, s)
			}
		}
		return parts
	}
	dur := func(v string) (Duration, bool) {
		if td, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return Duration(td), true
		}
		return 0, false
	}

	if v := os.Getenv("CHATRELAY_ADDR"); v != "" {
		envUsed = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = v
		}
	} else {
		if host := os.Getenv("CHATRELAY_ADDRESS"); host != "" {
			envUsed = true
			cfg.Server.Address = host
		}
		if port := os.Getenv("CHATRELAY_PORT"); port != "" {
			envUsed = true
			if pi, err := strconv.Atoi(port); err == nil {
				cfg.Server.Port = pi
			}
		}
	}

	if v := os.Getenv("CHATRELAY_DB_PATH"); v != "" {
		envUsed = true
		cfg.Server.DBPath = v
	}
	if v := os.Getenv("CHATRELAY_CORS_ORIGINS"); v != "" {
		envUsed = true
		cfg.Security.CORS.AllowedOrigins = parseList(v)
	}
	if v := os.Getenv("CHATRELAY_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envUsed = true
			cfg.Security.RateLimit.RPS = f
		}
	}
	if v := os.Getenv("CHATRELAY_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Security.RateLimit.Burst = n
		}
	}
	if v := os.Getenv("CHATRELAY_PRESENCE_WINDOW"); v != "" {
		if d, ok := dur(v); ok {
			envUsed = true
			cfg.Presence.Window = d
		}
	}
	if v := os.Getenv("CHATRELAY_HEARTBEAT_INTERVAL"); v != "" {
		if d, ok := dur(v); ok {
			envUsed = true
			cfg.Presence.HeartbeatInterval = d
		}
	}
	if v := os.Getenv("CHATRELAY_RING_TIMEOUT"); v != "" {
		if d, ok := dur(v); ok {
			envUsed = true
			cfg.Calls.RingTimeout = d
		}
	}
	if v := os.Getenv("CHATRELAY_SIGNAL_MAX_PAYLOAD"); v != "" {
		var sz SizeBytes
		node := yaml.Node{Kind: yaml.ScalarNode, Value: strings.TrimSpace(v)}
		if err := sz.UnmarshalYAML(&node); err == nil {
			envUsed = true
			cfg.Signals.MaxPayload = sz
		}
	}
	if v := os.Getenv("CHATRELAY_NOTIFY_QUEUE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Notify.QueueCapacity = n
		}
	}
	if v := os.Getenv("CHATRELAY_NOTIFY_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envUsed = true
			cfg.Notify.RPS = f
		}
	}
	if v := os.Getenv("CHATRELAY_NOTIFY_BURST"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Notify.Burst = n
		}
	}
	if v := os.Getenv("CHATRELAY_RETENTION_ENABLED"); v != "" {
		envUsed = true
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes":
			cfg.Retention.Enabled = true
		default:
			cfg.Retention.Enabled = false
		}
	}
	if v := os.Getenv("CHATRELAY_RETENTION_CRON"); v != "" {
		envUsed = true
		cfg.Retention.Cron = v
	}
	if v := os.Getenv("CHATRELAY_RETENTION_PERIOD"); v != "" {
		if d, ok := dur(v); ok {
			envUsed = true
			cfg.Retention.Period = d
		}
	}
	if c := os.Getenv("CHATRELAY_TLS_CERT"); c != "" {
		envUsed = true
		cfg.Server.TLS.CertFile = c
	}
	if k := os.Getenv("CHATRELAY_TLS_KEY"); k != "" {
		envUsed = true
		cfg.Server.TLS.KeyFile = k
	}
	return envUsed
}

// LoadEffective loads config from the given path and applies environment
// overrides, then flag overrides. Flags win over env, env over file.
func LoadEffective(flags Flags) (*Config, error) {
	cfgPath := ResolveConfigPath(flags.Config, flags.Set["config"])
	cfg, err := Load(cfgPath)
	if err != nil {
		if flags.Set["config"] {
			return nil, err
		}
		cfg = &Config{}
	}
	LoadEnvOverrides(cfg)
	if flags.Set["addr"] {
		if h, p, err := net.SplitHostPort(flags.Addr); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = flags.Addr
		}
	}
	if flags.Set["db"] || cfg.Server.DBPath == "" {
		cfg.Server.DBPath = flags.DB
	}
	return cfg, nil
}
