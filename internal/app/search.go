package app

import (
	"context"
	"fmt"
	"time"

	"github.com/illust-hq/illust-watcher/internal/config"
	"github.com/illust-hq/illust-watcher/internal/domain"
	"github.com/illust-hq/illust-watcher/internal/enrich"
	"github.com/illust-hq/illust-watcher/internal/filter"
	"github.com/illust-hq/illust-watcher/internal/logger"
	"github.com/illust-hq/illust-watcher/internal/pixiv"
	"github.com/illust-hq/illust-watcher/internal/search"
	"github.com/illust-hq/illust-watcher/internal/session"
)

// Searcher wires the deep-search pipeline for a one-shot foreground query:
// traverse, filter, optionally enrich, report.
type Searcher struct {
	cfg       *config.Config
	sessions  *session.Manager
	traverser *search.Traverser
	enricher  *enrich.Enricher
	filter    filter.Options
	log       logger.Logger
}

// NewSearcher builds a one-shot search runtime.
func NewSearcher(cfg *config.Config, log logger.Logger) (*Searcher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if log == nil {
		log = &logger.NopLogger{}
	}

	client := pixiv.NewClient(pixiv.Options{
		BaseURL: cfg.APIBaseURL,
		AuthURL: cfg.AuthURL,
		Proxy:   cfg.Proxy,
		Log:     log,
	})

	filterOpts, err := filterOptions(cfg)
	if err != nil {
		return nil, err
	}

	var enricher *enrich.Enricher
	if cfg.EnrichPreviews {
		enricher = enrich.NewEnricher(nil, cfg.EnrichDelay, log)
	}

	return &Searcher{
		cfg:      cfg,
		sessions: session.NewManager(client, cfg.RefreshToken, cfg.SessionMargin, log),
		traverser: search.NewTraverser(client, search.Options{
			RetryLimit: cfg.PageRetryLimit,
			Backoff:    cfg.RetryBackoff,
			PageDelay:  cfg.PageDelay,
			Log:        log,
		}),
		enricher: enricher,
		filter:   filterOpts,
		log:      log,
	}, nil
}

// Search runs one deep search: session, traversal, filter pipeline, and
// optional enrichment. A mid-traversal failure returns the works collected
// so far together with the error.
func (s *Searcher) Search(ctx context.Context, query domain.Query) ([]domain.Work, filter.Stats, error) {
	sess, err := s.sessions.Acquire(ctx)
	if err != nil {
		return nil, filter.Stats{}, fmt.Errorf("acquire session: %w", err)
	}

	works, terr := s.traverser.Traverse(ctx, sess, query)
	kept, stats := filter.Apply(works, s.filter)

	if s.enricher != nil {
		kept = s.enricher.Enrich(ctx, kept)
	}
	return kept, stats, terr
}

// Run executes the configured query once and logs every matching work.
func (s *Searcher) Run(ctx context.Context) error {
	if s == nil || s.traverser == nil {
		return fmt.Errorf("searcher is not initialized")
	}

	query, err := s.queryFromConfig()
	if err != nil {
		return err
	}

	start := time.Now()
	s.log.InfoObj("search started", "search_meta", map[string]any{
		"tags":    query.IncludeTags,
		"match":   string(query.Match),
		"kind":    string(query.Kind),
		"ranking": query.Ranking,
		"depth":   query.Depth,
	})

	kept, stats, terr := s.Search(ctx, query)

	for _, w := range kept {
		s.log.InfoObj("search result", "work", map[string]any{
			"id":     w.ID,
			"title":  w.Title,
			"author": w.AuthorName,
			"kind":   string(w.Kind),
			"url":    w.WebURL(),
		})
	}

	s.log.InfoObj("search completed", "search_meta", map[string]any{
		"fetched":    stats.Input,
		"kept":       stats.Kept(),
		"elapsed_ms": time.Since(start).Milliseconds(),
	})

	// A partial result is still reported above; the caller decides what a
	// mid-traversal failure means for exit status.
	if terr != nil {
		return fmt.Errorf("traversal incomplete: %w", terr)
	}
	return nil
}

// queryFromConfig assembles the search query from one-shot config values. A
// configured ranking mode takes precedence over tag search.
func (s *Searcher) queryFromConfig() (domain.Query, error) {
	if s.cfg.SearchRanking != "" {
		return domain.Query{
			Ranking:     s.cfg.SearchRanking,
			ExcludeTags: splitList(s.cfg.ExcludeTags),
			Depth:       s.cfg.DeepSearchDepth,
		}, nil
	}

	tags := splitList(s.cfg.SearchTags)
	if len(tags) == 0 {
		return domain.Query{}, fmt.Errorf("search_tags is empty")
	}

	match := domain.MatchAny
	if s.cfg.SearchMatch == "all" {
		match = domain.MatchAll
	}

	var kind domain.WorkKind
	switch s.cfg.SearchKind {
	case "", "illust":
		kind = domain.KindIllustration
	case "manga":
		kind = domain.KindManga
	case "novel":
		kind = domain.KindNovel
	case "ugoira":
		kind = domain.KindAnimation
	default:
		return domain.Query{}, fmt.Errorf("unknown search_kind %q", s.cfg.SearchKind)
	}

	return domain.Query{
		IncludeTags: tags,
		ExcludeTags: splitList(s.cfg.ExcludeTags),
		Match:       match,
		Kind:        kind,
		Depth:       s.cfg.DeepSearchDepth,
	}, nil
}
