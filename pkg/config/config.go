// Package config loads the yaml config file, applies CONVOSYNC_* env
// overrides, and centralizes command-line flag parsing. Precedence is
// flags > env > file.
package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Address string `yaml:"address"`
		Port    int    `yaml:"port"`
	} `yaml:"server"`
	Storage struct {
		// DataPath is the root for the secondary store, engine state and
		// the legacy blob (see pkg/state).
		DataPath string `yaml:"data_path"`
		// PrimaryDSN is the Postgres connection string for the primary
		// store. Empty means the primary is unconfigured and every call
		// degrades to the local secondary.
		PrimaryDSN string `yaml:"primary_dsn"`
	} `yaml:"storage"`
	Sync struct {
		Enabled bool `yaml:"enabled"`
		// Interval between background incremental sync ticks.
		Interval time.Duration `yaml:"interval"`
		// ReconcileCron optionally schedules a conflict-resolution pass
		// (cron expression); empty disables it.
		ReconcileCron string `yaml:"reconcile_cron"`
	} `yaml:"sync"`
	LLM struct {
		BaseURL   string `yaml:"base_url"`
		Model     string `yaml:"model"`
		MaxTokens int    `yaml:"max_tokens"`
		// APIKey may also come from ANTHROPIC_API_KEY or the vault; env
		// wins, vault is the fallback.
		APIKey string `yaml:"api_key"`
	} `yaml:"llm"`
	Session struct {
		UserID string `yaml:"user_id"`
	} `yaml:"session"`
	Knowledge struct {
		Path string `yaml:"path"`
	} `yaml:"knowledge"`
	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
}

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

// Load reads the yaml config at path. A missing file yields defaults
// rather than an error so the daemon can run from env alone.
func Load(path string) (*Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the built-in configuration.
func Default() *Config {
	var c Config
	c.Storage.DataPath = "./.convosync"
	c.Sync.Enabled = true
	c.Sync.Interval = 5 * time.Minute
	c.LLM.Model = "claude-sonnet-4-20250514"
	c.LLM.MaxTokens = 1000
	c.RateLimit.RPS = 5
	c.RateLimit.Burst = 10
	return &c
}

// ParseCommandFlags defines and parses command-line flags and returns
// their values along with a map indicating which flags were explicitly
// set.
func ParseCommandFlags() (addr string, dataPath string, cfgPath string, setFlags map[string]bool) {
	addrPtr := flag.String("addr", ":8080", "HTTP listen address")
	dataPtr := flag.String("data", "./.convosync", "engine data path")
	cfgPtr := flag.String("config", "./config.yaml", "path to config file")
	flag.Parse()
	setFlags = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return *addrPtr, *dataPtr, *cfgPtr, setFlags
}

// ResolveConfigPath returns the config path to use: an explicit -config
// flag wins over the CONVOSYNC_CONFIG env var, which wins over the flag
// default.
func ResolveConfigPath(flagVal string, flagSet bool) string {
	if flagSet {
		return flagVal
	}
	if v := os.Getenv("CONVOSYNC_CONFIG"); v != "" {
		return v
	}
	return flagVal
}
