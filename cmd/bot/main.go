package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"realty_bot/internal/acquire"
	"realty_bot/internal/bot"
	"realty_bot/internal/config"
	"realty_bot/internal/dedup"
	"realty_bot/internal/delivery"
	"realty_bot/internal/scheduler"
	"realty_bot/internal/search"
	"realty_bot/internal/status"
	"realty_bot/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "error", err)
		os.Exit(1)
	}

	log := newLogger(cfg.LogLevel)

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

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var index dedup.Index = store
	if cfg.RedisAddr != "" {
		redisIndex, err := dedup.NewRedisIndex(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.FingerprintTTL)
		if err != nil {
			log.Error("connect redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		defer func() { _ = redisIndex.Close() }()
		index = redisIndex
		log.Info("using redis fingerprint index", "addr", cfg.RedisAddr)
	}

	httpClient := &http.Client{Timeout: acquire.FeedTimeout}
	sources := make([]acquire.Source, 0, len(cfg.Sources))
	for _, fc := range cfg.Sources {
		sources = append(sources, acquire.NewFeedSource(fc, httpClient))
	}
	if len(sources) == 0 {
		log.Warn("no listing sources configured, serving cached listings only")
	}
	aggregator := acquire.NewAggregator(sources, acquire.FeedTimeout, log)

	b, err := bot.New(cfg.TelegramBotToken, store, cfg, log)
	if err != nil {
		log.Error("create bot", "error", err)
		os.Exit(1)
	}

	orchestrator := delivery.New(delivery.Deps{
		Store:      store,
		Candidates: search.NewService(store, aggregator, log),
		Gate:       dedup.NewGate(store, index, log),
		Sender:     b,
	}, log)
	orchestrator.SetSendDelay(cfg.SendDelay)

	sched := scheduler.New(orchestrator, store, log)
	sched.SetInterval(cfg.CheckInterval)
	sched.SetRetention(cfg.FingerprintTTL, cfg.CacheMaxAge)
	b.SetRunner(sched)

	log.Info("starting bot",
		"sources", len(sources),
		"check_interval", cfg.CheckInterval,
		"send_delay", cfg.SendDelay,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sched.Run(gctx)
	})
	if cfg.StatusAddr != "" {
		g.Go(func() error {
			return status.Serve(gctx, cfg.StatusAddr, status.NewRouter(sched, log), log)
		})
	}
	g.Go(func() error {
		b.Run(gctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("bot stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("bot stopped")
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
