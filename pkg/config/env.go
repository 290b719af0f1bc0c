package config

import (
	"net"
	"os"
	"strconv"
	"time"
)

// LoadEnvOverrides applies environment overrides onto the provided cfg and
// reports whether any env var was used.
func LoadEnvOverrides(cfg *Config) bool {
	envUsed := false

	if v := os.Getenv("CONVOSYNC_ADDR"); v != "" {
		envUsed = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		}
	}
	if v := os.Getenv("CONVOSYNC_DATA_PATH"); v != "" {
		envUsed = true
		cfg.Storage.DataPath = v
	}
	if v := os.Getenv("CONVOSYNC_PRIMARY_DSN"); v != "" {
		envUsed = true
		cfg.Storage.PrimaryDSN = v
	}
	if v := os.Getenv("CONVOSYNC_USER_ID"); v != "" {
		envUsed = true
		cfg.Session.UserID = v
	}
	if v := os.Getenv("CONVOSYNC_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			envUsed = true
			cfg.Sync.Interval = d
		}
	}
	if v := os.Getenv("CONVOSYNC_RECONCILE_CRON"); v != "" {
		envUsed = true
		cfg.Sync.ReconcileCron = v
	}
	if v := os.Getenv("CONVOSYNC_KNOWLEDGE_PATH"); v != "" {
		envUsed = true
		cfg.Knowledge.Path = v
	}
	if v := os.Getenv("CONVOSYNC_LOG_LEVEL"); v != "" {
		envUsed = true
		cfg.Logging.Level = v
	}
	// the completion key follows the provider's conventional variable
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		envUsed = true
		cfg.LLM.APIKey = v
	}

	return envUsed
}
