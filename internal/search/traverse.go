// Package search drives depth-bounded page traversals against the platform
// and resolves multi-tag match semantics client-side.
package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/illust-hq/illust-watcher/internal/domain"
	"github.com/illust-hq/illust-watcher/internal/logger"
	"github.com/illust-hq/illust-watcher/internal/pixiv"
)

// Provider is the page-fetch surface the traverser needs.
type Provider interface {
	SearchWorks(ctx context.Context, sess domain.Session, word string, kind domain.WorkKind, cursor string) (pixiv.Page, error)
	FetchRanking(ctx context.Context, sess domain.Session, mode, cursor string) (pixiv.Page, error)
}

// Traverser assembles result sets page by page, bounded by the query depth,
// retrying individual page fetches with exponential backoff.
type Traverser struct {
	provider   Provider
	retryLimit int
	backoff    time.Duration
	pageDelay  time.Duration
	log        logger.Logger
}

// Options tunes retry and politeness behavior.
type Options struct {
	RetryLimit int           // attempts per page, minimum 1
	Backoff    time.Duration // first retry delay, doubled per attempt
	PageDelay  time.Duration // pause between successive page fetches
	Log        logger.Logger
}

// NewTraverser wires a traverser over the given provider.
func NewTraverser(provider Provider, opts Options) *Traverser {
	if opts.RetryLimit < 1 {
		opts.RetryLimit = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	if opts.Log == nil {
		opts.Log = &logger.NopLogger{}
	}
	return &Traverser{
		provider:   provider,
		retryLimit: opts.RetryLimit,
		backoff:    opts.Backoff,
		pageDelay:  opts.PageDelay,
		log:        opts.Log,
	}
}

// Traverse collects works for the query. On a terminal failure mid-traversal
// it returns the works gathered so far together with the error, so the
// caller decides whether a partial result is acceptable. A query with a
// ranking mode walks the ranking feed instead of tag search.
func (t *Traverser) Traverse(ctx context.Context, sess domain.Session, query domain.Query) ([]domain.Work, error) {
	if query.Ranking != "" {
		return t.traverseRanking(ctx, sess, query.Ranking, query.Depth)
	}

	tags := cleanTags(query.IncludeTags)
	if len(tags) == 0 {
		return nil, fmt.Errorf("query has no inclusion tags")
	}

	if query.Match == domain.MatchAll {
		return t.traverseAll(ctx, sess, query, tags)
	}
	return t.traverseAny(ctx, sess, query, tags)
}

// traverseAny unions one traversal per tag, deduplicated by identifier in
// first-seen order.
func (t *Traverser) traverseAny(ctx context.Context, sess domain.Session, query domain.Query, tags []string) ([]domain.Work, error) {
	seen := make(map[uint64]struct{})
	var out []domain.Work

	for _, tag := range tags {
		works, err := t.traverseTag(ctx, sess, tag, query.Kind, query.Depth)
		for _, w := range works {
			if _, dup := seen[w.ID]; dup {
				continue
			}
			seen[w.ID] = struct{}{}
			out = append(out, w)
		}
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// traverseAll searches the first tag, then intersects client-side: only
// works whose tag set contains every inclusion tag survive. More provider
// calls than a combined query string, but the upstream token semantics for
// combined words are undocumented; this keeps AND exact.
func (t *Traverser) traverseAll(ctx context.Context, sess domain.Session, query domain.Query, tags []string) ([]domain.Work, error) {
	works, err := t.traverseTag(ctx, sess, tags[0], query.Kind, query.Depth)

	out := make([]domain.Work, 0, len(works))
	for _, w := range works {
		if hasAllTags(w, tags) {
			out = append(out, w)
		}
	}
	return out, err
}

func (t *Traverser) traverseTag(ctx context.Context, sess domain.Session, tag string, kind domain.WorkKind, depth int) ([]domain.Work, error) {
	return t.traversePages(ctx, tag, depth, func(cursor string) (pixiv.Page, error) {
		return t.provider.SearchWorks(ctx, sess, tag, kind, cursor)
	})
}

// traverseRanking walks the ranking feed for the mode. Ranking pages chain
// cursors the same way search pages do.
func (t *Traverser) traverseRanking(ctx context.Context, sess domain.Session, mode string, depth int) ([]domain.Work, error) {
	return t.traversePages(ctx, "ranking:"+mode, depth, func(cursor string) (pixiv.Page, error) {
		return t.provider.FetchRanking(ctx, sess, mode, cursor)
	})
}

func (t *Traverser) traversePages(ctx context.Context, label string, depth int, fetch func(cursor string) (pixiv.Page, error)) ([]domain.Work, error) {
	var collected []domain.Work
	cursor := ""
	pages := 0

	for depth == -1 || pages < depth {
		page, err := t.fetchPage(ctx, label, cursor, fetch)
		if err != nil {
			return collected, err
		}

		collected = append(collected, page.Works...)
		pages++

		t.log.DebugObj("search page collected", "search_progress", map[string]any{
			"target": label,
			"page":   pages,
			"works":  len(page.Works),
		})

		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor

		if err := t.sleep(ctx, t.pageDelay); err != nil {
			return collected, err
		}
	}
	return collected, nil
}

// fetchPage retries retryable provider errors with exponential backoff up to
// the configured attempt count. Auth errors and non-retryable provider
// errors surface immediately.
func (t *Traverser) fetchPage(ctx context.Context, label, cursor string, fetch func(cursor string) (pixiv.Page, error)) (pixiv.Page, error) {
	var lastErr error
	delay := t.backoff

	for attempt := 1; attempt <= t.retryLimit; attempt++ {
		page, err := fetch(cursor)
		if err == nil {
			return page, nil
		}
		lastErr = err

		if !pixiv.IsRetryable(err) || attempt == t.retryLimit {
			break
		}
		t.log.WarnObj("page fetch failed, retrying", "search_retry", map[string]any{
			"target":  label,
			"attempt": attempt,
			"error":   err.Error(),
		})
		if err := t.sleep(ctx, delay); err != nil {
			return pixiv.Page{}, err
		}
		delay *= 2
	}
	return pixiv.Page{}, lastErr
}

func (t *Traverser) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func cleanTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func hasAllTags(w domain.Work, tags []string) bool {
	for _, t := range tags {
		if !w.HasTag(t) {
			return false
		}
	}
	return true
}
