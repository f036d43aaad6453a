package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds the application configuration loaded from files and environment variables.
type Config struct {
	AppName  string `mapstructure:"app_name"`
	Env      string `mapstructure:"app_env"`
	LogLevel string `mapstructure:"log_level"`

	// Platform credentials and endpoints.
	RefreshToken string `mapstructure:"refresh_token"`
	Proxy        string `mapstructure:"proxy"`
	APIBaseURL   string `mapstructure:"api_base_url"`
	AuthURL      string `mapstructure:"auth_url"`

	// Session lifecycle.
	SessionMarginSeconds        int64         `mapstructure:"session_margin_seconds"`
	TokenRefreshIntervalMinutes int64         `mapstructure:"token_refresh_interval_minutes"`
	SessionMargin               time.Duration `mapstructure:"-"`
	TokenRefreshInterval        time.Duration `mapstructure:"-"`

	// Content filters.
	MaturityFilter string `mapstructure:"maturity_filter"`
	AIFilter       string `mapstructure:"ai_filter"`
	ExcludeTags    string `mapstructure:"exclude_tags"` // comma separated

	// Deep search traversal.
	DeepSearchDepth int           `mapstructure:"deep_search_depth"`
	PageRetryLimit  int           `mapstructure:"page_retry_limit"`
	RetryBackoffMs  int64         `mapstructure:"retry_backoff_ms"`
	PageDelayMs     int64         `mapstructure:"page_delay_ms"`
	RetryBackoff    time.Duration `mapstructure:"-"`
	PageDelay       time.Duration `mapstructure:"-"`

	// Subscription scheduler.
	PollIntervalMinutes    int64         `mapstructure:"poll_interval_minutes"`
	PollConcurrency        int           `mapstructure:"poll_concurrency"`
	ShutdownTimeoutSeconds int64         `mapstructure:"shutdown_timeout_seconds"`
	PollInterval           time.Duration `mapstructure:"-"`
	ShutdownTimeout        time.Duration `mapstructure:"-"`

	// Storage.
	LedgerPath       string `mapstructure:"ledger_path"`
	LedgerMaxEntries int    `mapstructure:"ledger_max_entries"`
	SubscriptionsDB  string `mapstructure:"subscriptions_db"`

	// Delivery.
	DispatchersFile string `mapstructure:"dispatchers_file"`

	// Optional OG-metadata enrichment of search results.
	EnrichPreviews bool          `mapstructure:"enrich_previews"`
	EnrichDelayMs  int64         `mapstructure:"enrich_delay_ms"`
	EnrichDelay    time.Duration `mapstructure:"-"`

	// One-shot search input (cmd/search). A non-empty search_ranking walks
	// the ranking feed for that mode instead of a tag search.
	SearchTags    string `mapstructure:"search_tags"`
	SearchMatch   string `mapstructure:"search_match"`
	SearchKind    string `mapstructure:"search_kind"`
	SearchRanking string `mapstructure:"search_ranking"`
}

// Load reads configuration from environment variables and config files.
func Load() (*Config, error) {
	_ = godotenv.Load("configs/.env")

	v := viper.New()

	v.SetDefault("app_name", "illust-watcher")
	v.SetDefault("app_env", "development")
	v.SetDefault("log_level", "info")

	v.SetDefault("refresh_token", "")
	v.SetDefault("proxy", "")
	v.SetDefault("api_base_url", "https://app-api.pixiv.net")
	v.SetDefault("auth_url", "https://oauth.secure.pixiv.net/auth/token")

	v.SetDefault("session_margin_seconds", 30)
	v.SetDefault("token_refresh_interval_minutes", 180) // <= 0 disables proactive refresh

	v.SetDefault("maturity_filter", "exclude-restricted")
	v.SetDefault("ai_filter", "show-all")
	v.SetDefault("exclude_tags", "")

	v.SetDefault("deep_search_depth", 3)
	v.SetDefault("page_retry_limit", 3)
	v.SetDefault("retry_backoff_ms", 500)
	v.SetDefault("page_delay_ms", 500)

	v.SetDefault("poll_interval_minutes", 30)
	v.SetDefault("poll_concurrency", 3)
	v.SetDefault("shutdown_timeout_seconds", 30)

	v.SetDefault("ledger_path", "./data/ledger.db")
	v.SetDefault("ledger_max_entries", 4096)
	v.SetDefault("subscriptions_db", "./data/subscriptions.db")

	v.SetDefault("dispatchers_file", "./configs/dispatchers.yaml")

	v.SetDefault("enrich_previews", false)
	v.SetDefault("enrich_delay_ms", 500)

	v.SetDefault("search_tags", "")
	v.SetDefault("search_match", "any")
	v.SetDefault("search_kind", "illust")
	v.SetDefault("search_ranking", "")

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.SessionMargin = time.Duration(cfg.SessionMarginSeconds) * time.Second
	cfg.TokenRefreshInterval = time.Duration(cfg.TokenRefreshIntervalMinutes) * time.Minute
	cfg.RetryBackoff = time.Duration(cfg.RetryBackoffMs) * time.Millisecond
	cfg.PageDelay = time.Duration(cfg.PageDelayMs) * time.Millisecond
	cfg.PollInterval = time.Duration(cfg.PollIntervalMinutes) * time.Minute
	cfg.ShutdownTimeout = time.Duration(cfg.ShutdownTimeoutSeconds) * time.Second
	cfg.EnrichDelay = time.Duration(cfg.EnrichDelayMs) * time.Millisecond

	return &cfg, nil
}

// validate rejects out-of-range options up front so they never reach the
// engine mid-operation.
func (c *Config) validate() error {
	switch c.MaturityFilter {
	case "exclude-restricted", "include-all", "only-restricted":
	default:
		return fmt.Errorf("invalid maturity_filter %q (exclude-restricted, include-all, only-restricted)", c.MaturityFilter)
	}
	switch c.AIFilter {
	case "show-all", "exclude-ai", "only-ai":
	default:
		return fmt.Errorf("invalid ai_filter %q (show-all, exclude-ai, only-ai)", c.AIFilter)
	}
	if c.DeepSearchDepth < -1 || c.DeepSearchDepth == 0 || c.DeepSearchDepth > 50 {
		return fmt.Errorf("invalid deep_search_depth %d (-1 or 1..50)", c.DeepSearchDepth)
	}
	if c.PageRetryLimit < 1 || c.PageRetryLimit > 10 {
		return fmt.Errorf("invalid page_retry_limit %d (1..10)", c.PageRetryLimit)
	}
	if c.RetryBackoffMs <= 0 {
		return fmt.Errorf("invalid retry_backoff_ms (must be positive milliseconds)")
	}
	if c.SessionMarginSeconds <= 0 {
		return fmt.Errorf("invalid session_margin_seconds (must be positive seconds)")
	}
	if c.PollIntervalMinutes < 5 {
		return fmt.Errorf("invalid poll_interval_minutes %d (minimum 5, upstream rate limits)", c.PollIntervalMinutes)
	}
	if c.PollConcurrency < 1 || c.PollConcurrency > 5 {
		return fmt.Errorf("invalid poll_concurrency %d (1..5)", c.PollConcurrency)
	}
	if c.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("invalid shutdown_timeout_seconds (must be positive seconds)")
	}
	if c.LedgerMaxEntries < 0 {
		return fmt.Errorf("invalid ledger_max_entries (0 disables eviction)")
	}
	switch c.SearchMatch {
	case "any", "all":
	default:
		return fmt.Errorf("invalid search_match %q (any, all)", c.SearchMatch)
	}
	switch c.SearchRanking {
	case "", "day", "week", "month", "day_male", "day_female", "week_original", "week_rookie", "day_manga":
	default:
		return fmt.Errorf("invalid search_ranking %q (day, week, month, day_male, day_female, week_original, week_rookie, day_manga)", c.SearchRanking)
	}
	return nil
}
