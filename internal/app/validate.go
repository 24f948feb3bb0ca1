package app

import (
	"fmt"
	"os"

	"chatrelay/pkg/config"
)

// validateConfig performs quick, fail-fast validation of the effective
// configuration before starting long-running services. Keep checks light
// so callers can surface user-friendly errors.
func validateConfig(cfg *config.Config) error {
	if cfg.Server.DBPath == "" {
		return fmt.Errorf("database path is empty: set --db flag, CHATRELAY_DB_PATH env, or server.db_path in config")
	}

	cert := cfg.Server.TLS.CertFile
	key := cfg.Server.TLS.KeyFile
	if (cert != "" && key == "") || (cert == "" && key != "") {
		return fmt.Errorf("incomplete TLS configuration: both server.tls.cert_file and server.tls.key_file must be set")
	}
	if cert != "" {
		if _, err := os.Stat(cert); err != nil {
			return fmt.Errorf("tls cert file not accessible: %w", err)
		}
		if _, err := os.Stat(key); err != nil {
			return fmt.Errorf("tls key file not accessible: %w", err)
		}
	}

	if w := cfg.Presence.Window.Duration(); w < 0 {
		return fmt.Errorf("presence window must not be negative")
	}
	if rt := cfg.Calls.RingTimeout.Duration(); rt < 0 {
		return fmt.Errorf("ring timeout must not be negative")
	}
	if cfg.Retention.Enabled && cfg.Retention.Period.Duration() <= 0 {
		return fmt.Errorf("retention enabled but retention.period not set")
	}
	return nil
}
