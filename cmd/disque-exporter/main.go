package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/obsidianstack/disque-exporter/internal/api"
	"github.com/obsidianstack/disque-exporter/internal/config"
	"github.com/obsidianstack/disque-exporter/internal/metrics"
	"github.com/obsidianstack/disque-exporter/internal/scraper"
)

func main() {
	configPath := flag.String("config", "", "path to config file; leave empty to configure from DISQUE_EXPORTER_* env only")
	flag.Parse()

	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	slog.Info("disque-exporter starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	lvl, _ := config.ParseLevel(cfg.LogLevel) // validated by Load
	level.Set(lvl)

	slog.Info("config loaded",
		"listen_addr", cfg.ListenAddr,
		"host", cfg.Host,
		"disque_url", cfg.Disque.URL,
		"timeout", cfg.Disque.Timeout,
		"stale_after", cfg.Metrics.StaleAfter,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Registry with background stale-series eviction (no-op unless stale_after > 0).
	reg := metrics.New(metrics.Options{
		GlobalLabels: prometheus.Labels{"host": cfg.Host},
		StaleAfter:   cfg.Metrics.StaleAfter,
	})
	go reg.Run(ctx)

	sc, err := scraper.New(cfg.Disque, reg, scraper.DialDisque)
	if err != nil {
		slog.Error("failed to build scraper", "err", err)
		os.Exit(1)
	}

	// Broker settings and log level apply on reload; the rest needs a restart.
	if *configPath != "" {
		go func() {
			if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
				sc.Reconfigure(updated.Disque)
				if l, err := config.ParseLevel(updated.LogLevel); err == nil {
					level.Set(l)
				}
				if updated.ListenAddr != cfg.ListenAddr || updated.Host != cfg.Host {
					slog.Warn("listen_addr and host changes take effect on restart",
						"listen_addr", updated.ListenAddr, "host", updated.Host)
				}
				if updated.Metrics.StaleAfter != cfg.Metrics.StaleAfter {
					slog.Warn("metrics.stale_after changes take effect on restart",
						"stale_after", updated.Metrics.StaleAfter)
				}
				slog.Info("config hot-reloaded", "disque_url", updated.Disque.URL)
			}); err != nil {
				slog.Error("config watcher stopped", "err", err)
			}
		}()
	}

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.New(sc, reg.ContentType()),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.ListenAddr, "path", api.MetricsPath)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("disque-exporter shutting down")

	shutdownCtx, stop := context.WithTimeout(context.Background(), config.DefaultShutdownGrace)
	defer stop()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown", "err", err)
	}
}
