package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/eargollo/keeper/internal/agent"
	"github.com/eargollo/keeper/internal/api"
	"github.com/eargollo/keeper/internal/archive"
	"github.com/eargollo/keeper/internal/cleaner"
	"github.com/eargollo/keeper/internal/config"
	"github.com/eargollo/keeper/internal/db"
	"github.com/eargollo/keeper/internal/review"
	"github.com/eargollo/keeper/internal/scheduler"
	"github.com/eargollo/keeper/internal/selection"
	"github.com/eargollo/keeper/internal/store"
	"github.com/eargollo/keeper/internal/transport"
)

// Injected at build time via -ldflags; defaults to "dev".
var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	// ── Logging (initial — overridden below once config is loaded) ─────────
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	// ── Config ─────────────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	// Re-configure logging with the level from config (default: info).
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))
	slog.Info("keeper starting",
		"version", version,
		"log_level", cfg.LogLevel,
		"http_addr", cfg.HTTPAddr,
		"db_path", cfg.DBPath,
		"archive_dir", cfg.Archive.Dir)

	// ── Database ───────────────────────────────────────────────────────────
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		slog.Error("open database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	if err := db.RunMigrations(database); err != nil {
		slog.Error("run migrations", "error", err)
		os.Exit(1)
	}

	st := store.New(database)

	// ── Domain services ────────────────────────────────────────────────────
	arch := archive.NewFSStore(cfg.Archive.Dir)
	hub := transport.NewHub()
	orch := cleaner.New(st, hub, arch)
	engine := selection.New(st)
	reviewer := review.New(st)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ── Bundled agent ──────────────────────────────────────────────────────
	// Single-host deployments run the agent in-process; remote agents use
	// their own binary and register over the transport instead.
	if cfg.Agent.Enabled {
		conn := hub.Register(cfg.Agent.Name)
		ag := agent.New(conn, arch, cfg.Agent.MaxConcurrency,
			time.Duration(cfg.Archive.UploadTimeoutSeconds)*time.Second)
		go ag.Run(ctx)
	}

	// ── Watchdog ───────────────────────────────────────────────────────────
	sched := scheduler.New()
	stuckAfter := time.Duration(cfg.Cleaner.StuckAfterMinutes) * time.Minute
	if err := sched.SetWatchdog(cfg.Cleaner.WatchdogSchedule, func() {
		n, err := orch.RedispatchStuck(context.Background(), stuckAfter)
		if err != nil {
			slog.Error("watchdog sweep failed", "error", err)
			return
		}
		if n > 0 {
			slog.Info("watchdog re-dispatched stuck files", "count", n)
		}
	}); err != nil {
		slog.Warn("invalid watchdog cron expression", "expr", cfg.Cleaner.WatchdogSchedule, "error", err)
	}
	sched.Start()
	defer sched.Stop()

	// ── HTTP server ────────────────────────────────────────────────────────
	srv := api.New(cfg.HTTPAddr, st, engine, reviewer, orch, hub, arch, sched, cfg, version)
	if err := srv.Run(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("keeper stopped")
}

// parseLogLevel converts a config string ("debug", "info", "warn", "error")
// to its slog.Level equivalent. Unknown values default to Info.
func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
