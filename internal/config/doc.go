// Package config loads and watches the exporter configuration.
//
// Top-level types:
//   - Config{ListenAddr, Host, LogLevel, Disque, Metrics}
//   - DisqueConfig: url, timeout, scan_count, busyloop
//   - MetricsConfig: stale_after
//
// Load(path) starts from defaults (listen 127.0.0.1:8000, broker
// redis://localhost:7711, 5s timeout, 128 per QSCAN page, busyloop on, no
// eviction), applies the optional YAML file, then overlays DISQUE_EXPORTER_*
// environment variables (FromEnv), resolves an empty host to os.Hostname and
// validates the result.
//
// Watch(ctx, path, onChange) uses fsnotify to detect file changes and calls
// onChange with the newly parsed Config. It watches the parent directory and
// filters on the config path, so atomic saves (temp file renamed over the
// config) reload the same as in-place writes.
package config
