package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Environment variables read by FromEnv.
const (
	EnvListenAddr = "DISQUE_EXPORTER_LISTEN_ADDR"
	EnvHost       = "DISQUE_EXPORTER_HOST"
	EnvLogLevel   = "DISQUE_EXPORTER_LOG_LEVEL"
	EnvDisqueURL  = "DISQUE_EXPORTER_DISQUE_URL"
	EnvTimeout    = "DISQUE_EXPORTER_DISQUE_TIMEOUT"
	EnvScanCount  = "DISQUE_EXPORTER_SCAN_COUNT"
	EnvBusyLoop   = "DISQUE_EXPORTER_SCAN_BUSYLOOP"
	EnvStaleAfter = "DISQUE_EXPORTER_STALE_AFTER"
)

// FromEnv overlays DISQUE_EXPORTER_* environment variables onto cfg.
// Unset or empty variables leave the field alone; malformed values are errors.
func FromEnv(cfg *Config) error {
	if v := os.Getenv(EnvListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(EnvHost); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvDisqueURL); v != "" {
		cfg.Disque.URL = v
	}
	if v := os.Getenv(EnvTimeout); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTimeout, err)
		}
		cfg.Disque.Timeout = d
	}
	if v := os.Getenv(EnvScanCount); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvScanCount, err)
		}
		cfg.Disque.ScanCount = n
	}
	if v := os.Getenv(EnvBusyLoop); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvBusyLoop, err)
		}
		cfg.Disque.BusyLoop = b
	}
	if v := os.Getenv(EnvStaleAfter); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvStaleAfter, err)
		}
		cfg.Metrics.StaleAfter = d
	}
	return nil
}
