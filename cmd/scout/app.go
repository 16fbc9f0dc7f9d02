package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"scout/internal/bot"
	"scout/internal/config"
	"scout/internal/drafting"
	"scout/internal/model"
	"scout/internal/notifier"
	"scout/internal/scheduler"
	"scout/internal/source"
	"scout/internal/storage"
)

// app holds the wired components shared by serve and scan.
type app struct {
	log   *slog.Logger
	store *storage.SQLite
	sched *scheduler.Scheduler
	bot   *bot.Bot
}

func newApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	if dir := filepath.Dir(cfg.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create data directory %s: %w", dir, err)
		}
	}

	store, err := storage.NewSQLite(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", cfg.DatabasePath, err)
	}

	api, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("create bot api: %w", err)
	}

	client := &http.Client{}
	sources, err := newSources(cfg, client)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	var drafter notifier.Drafter
	if cfg.DraftingEnabled() {
		gen := drafting.NewOpenAI(client, cfg.Drafting.BaseURL, cfg.Drafting.APIKey, cfg.Drafting.Model,
			cfg.Drafting.Timeout, cfg.Drafting.MaxRetries)
		drafter = drafting.NewDrafter(store, gen, log)
	} else {
		log.Warn("drafting disabled, DRAFT_API_KEY is not set")
	}

	limiter := rate.NewLimiter(rate.Limit(cfg.Notify.RatePerSecond), cfg.Notify.Burst)
	svc := notifier.New(store, bot.NewChannel(api, log), drafter, limiter, cfg.Refine.IdleTimeout, log)

	sched := scheduler.New(store, sources, svc, log, scheduler.Options{
		Tick:           cfg.Scan.Tick,
		Workers:        cfg.Scan.Workers,
		FetchLimit:     cfg.Scan.FetchLimit,
		FetchTimeout:   cfg.Scan.FetchTimeout,
		FailureBackoff: cfg.Scan.FailureBackoff,
	})

	return &app{
		log:   log,
		store: store,
		sched: sched,
		bot:   bot.New(api, store, svc, cfg, log),
	}, nil
}

func newSources(cfg *config.Config, client source.HTTPClient) (source.Registry, error) {
	hn, err := source.NewHackerNews(client, cfg.HackerNews.BaseURL, cfg.Scan.FetchTimeout,
		cfg.HackerNews.Lookback, cfg.HackerNews.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create hacker news client: %w", err)
	}
	return source.Registry{
		model.SourceReddit:     source.NewReddit(client, cfg.Reddit.BaseURL, cfg.Reddit.UserAgent, cfg.Scan.FetchTimeout),
		model.SourceHackerNews: hn,
		model.SourceRSS:        source.NewRSS(client, cfg.Reddit.UserAgent, cfg.Scan.FetchTimeout),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Error("close database", "error", err)
	}
}
