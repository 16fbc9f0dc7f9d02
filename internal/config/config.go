// Package config handles application configuration from environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds the application configuration.
type Config struct {
	TelegramBotToken string  `envconfig:"TELEGRAM_BOT_TOKEN"`
	DatabasePath     string  `envconfig:"DATABASE_PATH" default:"./data/scout.db"`
	LogLevel         string  `envconfig:"LOG_LEVEL" default:"info"`
	AllowedUsers     []int64 `envconfig:"ALLOWED_USERS"`
	MetricsAddr      string  `envconfig:"METRICS_ADDR" default:":9090"`

	Scan       Scan
	Reddit     Reddit
	HackerNews HackerNews
	Drafting   Drafting
	Notify     Notify
	Refine     Refine
}

// Scan configures the scanner scheduler.
type Scan struct {
	Tick           time.Duration `envconfig:"SCAN_TICK" default:"1m"`
	Workers        int           `envconfig:"SCAN_WORKERS" default:"4"`
	FetchLimit     int           `envconfig:"SCAN_FETCH_LIMIT" default:"100"`
	FetchTimeout   time.Duration `envconfig:"SCAN_FETCH_TIMEOUT" default:"30s"`
	FailureBackoff time.Duration `envconfig:"SCAN_FAILURE_BACKOFF" default:"2m"`
}

// Reddit configures the Reddit source adapter.
type Reddit struct {
	BaseURL   string `envconfig:"REDDIT_BASE_URL" default:"https://www.reddit.com"`
	UserAgent string `envconfig:"REDDIT_USER_AGENT" default:"community-scout/1.0"`
}

// HackerNews configures the Hacker News source adapter.
type HackerNews struct {
	BaseURL   string `envconfig:"HN_BASE_URL" default:"https://hacker-news.firebaseio.com/v0"`
	Lookback  int    `envconfig:"HN_LOOKBACK" default:"100"`
	CacheSize int    `envconfig:"HN_CACHE_SIZE" default:"2048"`
}

// Drafting configures the draft generator. An empty API key disables drafting.
type Drafting struct {
	APIKey     string        `envconfig:"DRAFT_API_KEY"`
	BaseURL    string        `envconfig:"DRAFT_BASE_URL" default:"https://openrouter.ai/api/v1"`
	Model      string        `envconfig:"DRAFT_MODEL" default:"anthropic/claude-3-haiku"`
	Timeout    time.Duration `envconfig:"DRAFT_TIMEOUT" default:"60s"`
	MaxRetries uint64        `envconfig:"DRAFT_MAX_RETRIES" default:"3"`
}

// Notify configures delivery throttling towards the chat API.
type Notify struct {
	RatePerSecond float64 `envconfig:"NOTIFY_RATE" default:"20"`
	Burst         int     `envconfig:"NOTIFY_BURST" default:"1"`
}

// Refine configures refinement sessions.
type Refine struct {
	IdleTimeout time.Duration `envconfig:"REFINE_IDLE_TIMEOUT" default:"24h"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process env: %w", err)
	}
	if cfg.TelegramBotToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN is required")
	}
	if cfg.Scan.Workers < 1 {
		return nil, fmt.Errorf("SCAN_WORKERS must be positive, got %d", cfg.Scan.Workers)
	}
	if cfg.Scan.FetchLimit < 1 {
		return nil, fmt.Errorf("SCAN_FETCH_LIMIT must be positive, got %d", cfg.Scan.FetchLimit)
	}
	return &cfg, nil
}

// DraftingEnabled reports whether an API key for the draft generator is set.
func (c *Config) DraftingEnabled() bool {
	return c.Drafting.APIKey != ""
}

// IsUserAllowed checks whether a user ID is in the allow list.
// Returns true if the allow list is empty (all users permitted).
func (c *Config) IsUserAllowed(userID int64) bool {
	if len(c.AllowedUsers) == 0 {
		return true
	}
	for _, id := range c.AllowedUsers {
		if id == userID {
			return true
		}
	}
	return false
}
