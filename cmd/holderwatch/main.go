package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sourcegraph/conc"

	"github.com/holderwatch/holderwatch/internal/api"
	"github.com/holderwatch/holderwatch/internal/config"
	"github.com/holderwatch/holderwatch/internal/engine"
	"github.com/holderwatch/holderwatch/internal/source"
	"github.com/holderwatch/holderwatch/internal/telemetry"
	"github.com/holderwatch/holderwatch/internal/ws"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	envFile := flag.String("env-file", ".env", "optional dotenv file with secrets")
	flag.Parse()

	if err := run(*configPath, *envFile); err != nil {
		slog.Error("holderwatch exited", "err", err)
		os.Exit(1)
	}
}

func run(configPath, envFile string) error {
	// A missing .env is normal in production.
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level := new(slog.LevelVar)
	level.Set(telemetry.ParseLevel(cfg.Logging.Level))
	slog.SetDefault(telemetry.NewLogger(os.Stdout, cfg.Logging.Format, level))

	slog.Info("holderwatch starting",
		"version", version,
		"config", configPath,
		"source", cfg.Source.ID,
		"mode", cfg.Source.Type,
		"interval", cfg.Scheduler.Interval,
		"http_port", cfg.Server.HTTPPort,
	)

	if cfg.LockFile != "" {
		lock := flock.New(cfg.LockFile)
		ok, err := lock.TryLock()
		if err != nil {
			return fmt.Errorf("lock %s: %w", cfg.LockFile, err)
		}
		if !ok {
			return fmt.Errorf("another instance holds %s", cfg.LockFile)
		}
		defer lock.Unlock() //nolint:errcheck
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Tracing.Endpoint, cfg.Tracing.Insecure, version)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		if err := shutdownTracing(sctx); err != nil {
			slog.Warn("tracing shutdown", "err", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(reg)

	src, err := source.New(cfg.Source)
	if err != nil {
		return err
	}

	eng := engine.New(cfg, src, engine.WithMetrics(metrics))
	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer eng.Shutdown()

	hub := ws.New(eng, cfg.Server.BroadcastInterval, ws.WithMetrics(metrics))

	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", api.New(eng, api.WithMetrics(metrics)))
	httpMux.Handle("/ws/stream", hub)
	httpMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg conc.WaitGroup
	wg.Go(func() { hub.Run(ctx) })
	wg.Go(func() {
		err := config.Watch(ctx, configPath, func(next *config.Config) {
			level.Set(telemetry.ParseLevel(next.Logging.Level))
			eng.ApplyConfig(next)
			slog.Info("config reloaded", "interval", next.Scheduler.Interval, "rules", len(next.Alerts.Rules))
		})
		if err != nil {
			slog.Warn("config watch disabled", "err", err)
		}
	})
	wg.Go(func() {
		slog.Info("HTTP server listening", "port", cfg.Server.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	})

	<-ctx.Done()
	slog.Info("holderwatch shutting down")

	// Engine first: a fetch cut short by the signal is discarded.
	eng.Shutdown()

	sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer scancel()
	httpSrv.Shutdown(sctx) //nolint:errcheck
	wg.Wait()
	return nil
}
