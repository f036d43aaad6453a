package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/illust-hq/illust-watcher/internal/config"
	"github.com/illust-hq/illust-watcher/internal/domain"
	"github.com/illust-hq/illust-watcher/internal/enrich"
	"github.com/illust-hq/illust-watcher/internal/filter"
	"github.com/illust-hq/illust-watcher/internal/logger"
	"github.com/illust-hq/illust-watcher/internal/pixiv"
	"github.com/illust-hq/illust-watcher/internal/scheduler"
	"github.com/illust-hq/illust-watcher/internal/session"
	"github.com/illust-hq/illust-watcher/internal/storage"
	"github.com/illust-hq/illust-watcher/pkg/dispatch"
)

// Watcher represents the subscription watcher runtime. It manages the poll
// loop, coordinating between the platform client, the session manager, the
// dedup ledger, and the dispatcher fanout. It also handles storage
// initialization and cleanup.
type Watcher struct {
	cfg       *config.Config
	sessions  *session.Manager
	scheduler *scheduler.Scheduler
	fanout    *dispatch.Fanout
	ledger    storage.Ledger
	subs      storage.SubscriptionStore
	log       logger.Logger
}

// NewWatcher builds a watcher runtime from config files.
func NewWatcher(ctx context.Context, cfg *config.Config, log logger.Logger) (*Watcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if log == nil {
		log = &logger.NopLogger{}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	client := pixiv.NewClient(pixiv.Options{
		BaseURL: cfg.APIBaseURL,
		AuthURL: cfg.AuthURL,
		Proxy:   cfg.Proxy,
		Log:     log,
	})
	sessions := session.NewManager(client, cfg.RefreshToken, cfg.SessionMargin, log)

	dispatcherReg, err := dispatch.LoadRegistry(cfg.DispatchersFile)
	if err != nil {
		return nil, fmt.Errorf("load dispatchers registry: %w", err)
	}
	enabled := dispatcherReg.Enabled()
	if len(enabled) == 0 {
		return nil, fmt.Errorf("no dispatchers configured")
	}

	dispatchers, err := dispatch.BuildAll(ctx, dispatch.DefaultRegistry(), enabled, log)
	if err != nil {
		return nil, fmt.Errorf("build dispatchers: %w", err)
	}
	fanout := dispatch.NewFanout(dispatchers)
	dispatcherSummaries := make([]map[string]string, 0, len(enabled))
	for _, d := range enabled {
		dispatcherSummaries = append(dispatcherSummaries, map[string]string{
			"id":   d.ID,
			"type": d.Type,
		})
	}
	log.InfoObj("dispatchers registry loaded", "dispatchers_meta", map[string]any{
		"count":       len(dispatcherSummaries),
		"dispatchers": dispatcherSummaries,
	})

	ledger, err := storage.NewLedger("bbolt", cfg.LedgerPath, storage.LedgerOptions{
		MaxEntries: cfg.LedgerMaxEntries,
	})
	if err != nil {
		return nil, fmt.Errorf("init ledger: %w", err)
	}
	log.InfoObj("ledger initialized", "ledger_config", map[string]any{
		"path":        cfg.LedgerPath,
		"max_entries": cfg.LedgerMaxEntries,
	})

	subs, err := storage.OpenSubscriptionStore(cfg.SubscriptionsDB)
	if err != nil {
		closeQuietly(ledger, log)
		return nil, fmt.Errorf("open subscription store: %w", err)
	}

	filterOpts, err := filterOptions(cfg)
	if err != nil {
		closeQuietly(ledger, log)
		closeQuietly(subs, log)
		return nil, err
	}

	var enricher scheduler.WorkEnricher
	if cfg.EnrichPreviews {
		enricher = enrich.NewEnricher(nil, cfg.EnrichDelay, log)
	}

	sched, err := scheduler.NewScheduler(sessions, client, ledger, subs, fanout, enricher, scheduler.Options{
		Interval:        cfg.PollInterval,
		Concurrency:     cfg.PollConcurrency,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Filter:          filterOpts,
		RetryLimit:      cfg.PageRetryLimit,
		Backoff:         cfg.RetryBackoff,
	}, log)
	if err != nil {
		closeQuietly(ledger, log)
		closeQuietly(subs, log)
		return nil, fmt.Errorf("init scheduler: %w", err)
	}

	return &Watcher{
		cfg:       cfg,
		sessions:  sessions,
		scheduler: sched,
		fanout:    fanout,
		ledger:    ledger,
		subs:      subs,
		log:       log,
	}, nil
}

// Run starts the poll loop until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if w == nil || w.scheduler == nil {
		return fmt.Errorf("watcher is not initialized")
	}
	defer w.closeStores()

	w.sessions.Start(ctx, w.cfg.TokenRefreshInterval)

	count, err := w.subs.Count()
	if err != nil {
		return fmt.Errorf("count subscriptions: %w", err)
	}
	w.log.InfoObj("watcher loop starting", "watcher_state", map[string]any{
		"subscriptions_count": count,
		"dispatchers_count":   w.fanout.Size(),
		"poll_interval":       w.cfg.PollInterval.String(),
	})

	return w.scheduler.Run(ctx)
}

// Subscribe registers a new subscription for the user.
func (w *Watcher) Subscribe(sub domain.Subscription) error {
	if err := w.subs.Add(sub); err != nil {
		return err
	}
	w.log.InfoObj("subscription added", "subscription", map[string]any{
		"key": sub.Key(),
	})
	return nil
}

// Unsubscribe removes an existing subscription.
func (w *Watcher) Unsubscribe(user string, kind domain.SubscriptionKind, target string) error {
	if err := w.subs.Remove(user, kind, target); err != nil {
		return err
	}
	w.log.InfoObj("subscription removed", "subscription", map[string]any{
		"key": user + "/" + string(kind) + "/" + target,
	})
	return nil
}

// ListSubscriptions returns the user's subscriptions.
func (w *Watcher) ListSubscriptions(user string) ([]domain.Subscription, error) {
	return w.subs.List(user)
}

// closeStores safely closes the storage backends, logging errors encountered.
func (w *Watcher) closeStores() {
	if w == nil {
		return
	}
	closeQuietly(w.ledger, w.log)
	closeQuietly(w.subs, w.log)
}

func closeQuietly(c interface{ Close() error }, log logger.Logger) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		log.ErrorObj("storage close failed", "error", err)
	}
}

// filterOptions validates and assembles the configured content filters.
func filterOptions(cfg *config.Config) (filter.Options, error) {
	maturity, err := filter.ParseMaturityMode(cfg.MaturityFilter)
	if err != nil {
		return filter.Options{}, err
	}
	ai, err := filter.ParseAIMode(cfg.AIFilter)
	if err != nil {
		return filter.Options{}, err
	}
	return filter.Options{
		Maturity:    maturity,
		AI:          ai,
		ExcludeTags: splitList(cfg.ExcludeTags),
	}, nil
}

// splitList splits a comma-separated config value into trimmed entries.
func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
