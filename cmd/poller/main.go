package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"feedhub/internal/config"
	"feedhub/internal/dispatch"
	"feedhub/internal/fetcher"
	"feedhub/internal/gate"
	"feedhub/internal/linkcache"
	"feedhub/internal/model"
	"feedhub/internal/poller"
	"feedhub/internal/registry"
	"feedhub/internal/report"
	"feedhub/internal/routing"
	"feedhub/internal/schedule"
	"feedhub/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)
	startTime := time.Now()

	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			log.Error("create data directory", "path", dir, "error", err)
			os.Exit(1)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	cache := linkcache.New(linkcache.DefaultCap)
	if err := cache.Load(cfg.LinkCachePath); err != nil {
		log.Warn("load link cache", "path", cfg.LinkCachePath, "error", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := registry.New(store, cfg.RegistryMaxAge, log)
	mapping, err := cfg.ParseLegacyKeyMap()
	if err != nil {
		log.Error("parse legacy key map", "error", err)
		os.Exit(1)
	}
	if err := reg.MigrateLegacyKeys(ctx, mapping); err != nil {
		log.Error("migrate legacy keys", "error", err)
		os.Exit(1)
	}

	dispatcher := dispatch.New(store, log)
	// Transports attach their real senders out of process; standalone runs
	// get console senders so cycles remain observable.
	for _, platform := range []model.Platform{
		model.PlatformIRC, model.PlatformMatrix, model.PlatformDiscord, model.PlatformTelegram,
	} {
		dispatcher.Register(platform, consoleSender{platform: platform})
	}

	policy := routing.NewPolicy(cfg, log)
	executor := fetcher.New(policy, store, cfg.MaxConcurrent, cfg.FetchTimeout, log)
	planner := schedule.NewPlanner(store, log)
	g := gate.New(store, cache, startTime, log)

	reporter := report.New(store, dispatcher, cfg.AdminDestKey, log)
	if err := reporter.Start(); err != nil {
		log.Error("start reporter", "error", err)
		os.Exit(1)
	}
	defer reporter.Stop()

	p := poller.New(reg, planner, executor, g, dispatcher, cfg.PollInterval, log)

	log.Info("starting poller", "db", cfg.DatabasePath)
	p.Run(ctx)

	if err := cache.Save(cfg.LinkCachePath); err != nil {
		log.Warn("save link cache", "path", cfg.LinkCachePath, "error", err)
	}
	log.Info("poller stopped")
}

// consoleSender prints messages to stdout. It stands in for a real transport
// when the poller runs standalone.
type consoleSender struct {
	platform model.Platform
}

func (c consoleSender) Send(target, text string) error {
	fmt.Printf("[%s] %s: %s\n", c.platform, target, text)
	return nil
}

func (c consoleSender) SendPrivate(user, text string) error {
	fmt.Printf("[%s] (private) %s: %s\n", c.platform, user, text)
	return nil
}

func (c consoleSender) SendMultiline(target, text string) error {
	fmt.Printf("[%s] %s:\n%s\n", c.platform, target, text)
	return nil
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
