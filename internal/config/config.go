package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Default values applied when fields are absent from the config file and
// the environment.
const (
	DefaultListenAddr    = "127.0.0.1:8000"
	DefaultDisqueURL     = "redis://localhost:7711"
	DefaultTimeout       = 5 * time.Second
	DefaultScanCount     = 128
	DefaultBusyLoop      = true
	DefaultLogLevel      = "info"
	DefaultStaleAfter    = time.Duration(0)
	DefaultShutdownGrace = 5 * time.Second
)

// Config is the full exporter configuration.
// Fields map 1:1 to config.example.yaml.
type Config struct {
	// ListenAddr is the host:port the HTTP server binds to.
	ListenAddr string `yaml:"listen_addr"`

	// Host is the value of the global "host" label. Empty resolves to the
	// machine hostname.
	Host string `yaml:"host"`

	// LogLevel is one of: debug | info | warn | error.
	LogLevel string `yaml:"log_level"`

	Disque DisqueConfig `yaml:"disque"`

	Metrics MetricsConfig `yaml:"metrics"`
}

// DisqueConfig holds broker connection and scan settings. These are the only
// settings a hot reload applies without a restart.
type DisqueConfig struct {
	// URL is the broker address: redis://, rediss://, disque:// or disques://.
	URL string `yaml:"url"`

	// Timeout bounds each broker call, including the initial dial.
	Timeout time.Duration `yaml:"timeout"`

	// ScanCount is the COUNT hint passed to every QSCAN page.
	ScanCount int `yaml:"scan_count"`

	// BusyLoop asks the broker to finish the whole scan in one QSCAN call.
	// Paging continues regardless until the cursor returns to 0.
	BusyLoop bool `yaml:"busyloop"`
}

// MetricsConfig controls the registry.
type MetricsConfig struct {
	// StaleAfter evicts queue series not updated within this window.
	// Zero (the default) keeps them for the life of the process.
	StaleAfter time.Duration `yaml:"stale_after"`
}

// Load builds a Config from defaults, the optional YAML file at path and the
// DISQUE_EXPORTER_* environment, in that order of precedence (env wins).
// An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	if err := FromEnv(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if cfg.Host == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("config: resolve hostname: %w", err)
		}
		cfg.Host = host
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		ListenAddr: DefaultListenAddr,
		LogLevel:   DefaultLogLevel,
		Disque: DisqueConfig{
			URL:       DefaultDisqueURL,
			Timeout:   DefaultTimeout,
			ScanCount: DefaultScanCount,
			BusyLoop:  DefaultBusyLoop,
		},
		Metrics: MetricsConfig{
			StaleAfter: DefaultStaleAfter,
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if cfg.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required")
	}
	if cfg.Disque.URL == "" {
		return fmt.Errorf("disque.url is required")
	}
	if cfg.Disque.Timeout <= 0 {
		return fmt.Errorf("disque.timeout must be positive")
	}
	if cfg.Disque.ScanCount <= 0 {
		return fmt.Errorf("disque.scan_count must be positive")
	}
	if cfg.Metrics.StaleAfter < 0 {
		return fmt.Errorf("metrics.stale_after must not be negative")
	}
	if _, err := ParseLevel(cfg.LogLevel); err != nil {
		return err
	}
	return nil
}

// ParseLevel maps a log_level string to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log_level %q", s)
	}
}
