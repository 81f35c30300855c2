// Package daemon manages the PressMesh daemon lifecycle and
// configuration.
package daemon

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/pressmesh/pressmesh/internal/provider"
)

// Config holds all daemon configuration.
type Config struct {
	Node      NodeConfig      `toml:"node"`
	API       APIConfig       `toml:"api"`
	Jobs      JobsConfig      `toml:"jobs"`
	Providers ProvidersConfig `toml:"providers"`
	Readiness ReadinessConfig `toml:"readiness"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	Logging   LoggingConfig   `toml:"logging"`
}

// NodeConfig identifies this node.
type NodeConfig struct {
	ID string `toml:"id"`
}

// APIConfig controls the HTTP API server.
type APIConfig struct {
	Host      string `toml:"host"`
	Port      int    `toml:"port"`
	AuthToken string `toml:"auth_token"` // empty leaves admin routes open
}

// JobsConfig controls the pipeline queue. Duration fields accept Go
// duration strings ("30s", "5m").
type JobsConfig struct {
	Workers          int    `toml:"workers"`
	MaxRetries       int    `toml:"max_retries"`
	JobTimeout       string `toml:"job_timeout"`
	WatchdogInterval string `toml:"watchdog_interval"`
	RetryBaseDelay   string `toml:"retry_base_delay"`
	RetryMaxDelay    string `toml:"retry_max_delay"`
}

// BackendConfig declares one AI provider backend.
type BackendConfig struct {
	ID           string `toml:"id"`
	DailyCredits int    `toml:"daily_credits"`
	RateLimit    int    `toml:"rate_limit"`
}

// ProvidersConfig controls the provider pool.
type ProvidersConfig struct {
	MaxLoad  int             `toml:"max_load"`
	Backends []BackendConfig `toml:"backends"`
}

// ReadinessConfig controls the readiness monitor.
type ReadinessConfig struct {
	Enabled              bool    `toml:"enabled"`
	Interval             string  `toml:"interval"`
	DegradationThreshold float64 `toml:"degradation_threshold"`
	RecoveryThreshold    float64 `toml:"recovery_threshold"`
	NotReadyThreshold    float64 `toml:"not_ready_threshold"`
	ConfirmWindow        int     `toml:"confirm_window"`
}

// TelemetryConfig controls observability endpoints.
type TelemetryConfig struct {
	Prometheus bool `toml:"prometheus"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level string `toml:"level"`
	File  string `toml:"file"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	homeDir := pressmeshHome()
	return Config{
		API: APIConfig{
			Host: "127.0.0.1",
			Port: 8790,
		},
		Jobs: JobsConfig{
			Workers:          2,
			MaxRetries:       3,
			JobTimeout:       "5m",
			WatchdogInterval: "30s",
			RetryBaseDelay:   "1s",
			RetryMaxDelay:    "30s",
		},
		Providers: ProvidersConfig{
			MaxLoad: 8,
			Backends: []BackendConfig{
				{ID: "primary", DailyCredits: 10000, RateLimit: 60},
				{ID: "secondary", DailyCredits: 5000, RateLimit: 30},
			},
		},
		Readiness: ReadinessConfig{
			Enabled:              true,
			Interval:             "15s",
			DegradationThreshold: 70,
			RecoveryThreshold:    85,
			NotReadyThreshold:    40,
			ConfirmWindow:        3,
		},
		Telemetry: TelemetryConfig{
			Prometheus: true,
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(homeDir, "pressmesh.log"),
		},
	}
}

// LoadConfig reads config from $PRESSMESH_HOME/config.toml, falling
// back to defaults when no file exists.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(pressmeshHome(), "config.toml")

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil // no config file yet, use defaults
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes the config to $PRESSMESH_HOME/config.toml.
func SaveConfig(cfg Config) error {
	path := filepath.Join(pressmeshHome(), "config.toml")
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(cfg)
}

// PoolConfig converts the providers section into a pool configuration.
func (c ProvidersConfig) PoolConfig() provider.Config {
	pc := provider.DefaultConfig()
	if c.MaxLoad > 0 {
		pc.MaxLoad = c.MaxLoad
	}
	if len(c.Backends) > 0 {
		pc.Backends = pc.Backends[:0]
		for _, b := range c.Backends {
			pc.Backends = append(pc.Backends, provider.BackendConfig{
				ID:           b.ID,
				DailyCredits: b.DailyCredits,
				RateLimit:    b.RateLimit,
			})
		}
	}
	return pc
}

// pressmeshHome returns the PressMesh data directory.
func pressmeshHome() string {
	if env := os.Getenv("PRESSMESH_HOME"); env != "" {
		return env
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".pressmesh")
}

// PressmeshHome is exported for use by other packages.
func PressmeshHome() string {
	return pressmeshHome()
}

// parseDuration parses a duration string, returning a fallback on
// empty or malformed input.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
