package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/illust-hq/illust-watcher/internal/domain"
	"github.com/illust-hq/illust-watcher/internal/filter"
	"github.com/illust-hq/illust-watcher/internal/logger"
	"github.com/illust-hq/illust-watcher/internal/pixiv"
	"github.com/illust-hq/illust-watcher/internal/storage"
	"github.com/illust-hq/illust-watcher/pkg/dispatch"
)

// Poller is the provider surface the scheduler needs for one subscription.
type Poller interface {
	FetchUserLatest(ctx context.Context, sess domain.Session, userID string, cursor string) (pixiv.Page, error)
	FetchTagLatest(ctx context.Context, sess domain.Session, tag string, cursor string) (pixiv.Page, error)
}

// Sessions hands out a usable platform session on demand.
type Sessions interface {
	Acquire(ctx context.Context) (domain.Session, error)
}

// Sink accepts delivery events for newly detected works.
type Sink interface {
	Send(ctx context.Context, evt dispatch.Event) (int, error)
}

// WorkEnricher fills in metadata before dispatch.
type WorkEnricher interface {
	Enrich(ctx context.Context, works []domain.Work) []domain.Work
}

// Options tunes the scheduler loop.
type Options struct {
	// Interval between poll cycles.
	Interval time.Duration
	// Concurrency bounds how many subscriptions poll at once.
	Concurrency int
	// ShutdownTimeout bounds the wait for in-flight polls on exit.
	ShutdownTimeout time.Duration
	// Filter applies to every fetched batch before dedup.
	Filter filter.Options
	// RetryLimit bounds fetch attempts per poll, minimum 1.
	RetryLimit int
	// Backoff is the first retry delay, doubled per attempt.
	Backoff time.Duration
	// MaxFailureBackoff caps how many cycles a failing subscription sits out.
	MaxFailureBackoff int
}

// Scheduler drives the subscription poll loop: every interval it walks the
// enabled subscriptions, fetches the latest page for each, filters, dedups
// against the ledger, and fans new works out to the dispatchers oldest-first.
type Scheduler struct {
	sessions Sessions
	poller   Poller
	ledger   storage.Ledger
	subs     storage.SubscriptionStore
	sink     Sink
	enricher WorkEnricher
	opts     Options
	log      logger.Logger

	sem      *semaphore.Weighted
	inflight sync.Map // subscription key -> struct{}
	wg       sync.WaitGroup

	mu       sync.Mutex
	failures map[string]*failureState
}

type failureState struct {
	consecutive int
	skipLeft    int
}

// NewScheduler wires a scheduler. enricher may be nil.
func NewScheduler(sessions Sessions, poller Poller, ledger storage.Ledger, subs storage.SubscriptionStore, sink Sink, enricher WorkEnricher, opts Options, log logger.Logger) (*Scheduler, error) {
	if sessions == nil || poller == nil || ledger == nil || subs == nil || sink == nil {
		return nil, fmt.Errorf("scheduler requires sessions, poller, ledger, subscription store, and sink")
	}
	if log == nil {
		log = &logger.NopLogger{}
	}
	if opts.Interval <= 0 {
		opts.Interval = 30 * time.Minute
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 3
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	if opts.RetryLimit < 1 {
		opts.RetryLimit = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	if opts.MaxFailureBackoff <= 0 {
		opts.MaxFailureBackoff = 8
	}

	return &Scheduler{
		sessions: sessions,
		poller:   poller,
		ledger:   ledger,
		subs:     subs,
		sink:     sink,
		enricher: enricher,
		opts:     opts,
		log:      log,
		sem:      semaphore.NewWeighted(int64(opts.Concurrency)),
		failures: make(map[string]*failureState),
	}, nil
}

// Run polls once immediately, then on every tick until the context is
// cancelled. On exit it waits for in-flight polls up to the shutdown timeout.
func (s *Scheduler) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("scheduler is not initialized")
	}

	s.log.InfoObj("scheduler loop starting", "scheduler_state", map[string]any{
		"poll_interval": s.opts.Interval.String(),
		"concurrency":   s.opts.Concurrency,
	})

	s.runOnce(ctx)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.InfoObj("scheduler loop exiting", "reason", ctx.Err())
			return s.drain()
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

// RunOnce performs a single poll cycle across all enabled subscriptions and
// waits for its polls to complete. Exposed for one-shot invocations.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	s.runOnce(ctx)
	s.wg.Wait()
	return nil
}

func (s *Scheduler) runOnce(ctx context.Context) {
	subscriptions, err := s.subs.All()
	if err != nil {
		s.log.ErrorObj("subscription listing failed", "error", err)
		return
	}
	if len(subscriptions) == 0 {
		s.log.DebugObj("no subscriptions to poll", "scheduler_cycle", map[string]any{"count": 0})
		return
	}

	sess, err := s.sessions.Acquire(ctx)
	if err != nil {
		s.log.ErrorObj("session acquisition failed; skipping cycle", "error", err)
		return
	}

	start := time.Now()
	s.log.InfoObj("poll cycle started", "scheduler_cycle", map[string]any{
		"subscriptions": len(subscriptions),
		"started_at":    start.UTC(),
	})

	for _, sub := range subscriptions {
		key := sub.Key()

		if s.shouldSkip(key) {
			continue
		}
		// A poll from the previous cycle may still be running for this key.
		if _, loaded := s.inflight.LoadOrStore(key, struct{}{}); loaded {
			s.log.WarnObj("poll still in flight; skipping", "scheduler_overlap", map[string]any{
				"subscription_key": key,
			})
			continue
		}

		s.wg.Add(1)
		go func(sub domain.Subscription, sess domain.Session) {
			defer s.wg.Done()
			defer s.inflight.Delete(sub.Key())

			// Waiting for a worker slot happens off the timer goroutine so a
			// saturated pool never stalls the tick clock.
			if err := s.sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer s.sem.Release(1)

			if err := s.pollOne(ctx, sess, sub); err != nil {
				s.recordFailure(sub.Key())
				s.log.ErrorObj("subscription poll failed", "poll_error", map[string]any{
					"subscription_key": sub.Key(),
					"error":            err.Error(),
				})
			} else {
				s.recordSuccess(sub.Key())
			}
		}(sub, sess)
	}

	s.log.DebugObj("poll cycle dispatched", "scheduler_cycle", map[string]any{
		"elapsed_ms": time.Since(start).Milliseconds(),
	})
}

// pollOne fetches the latest page for one subscription, filters it, and
// delivers unseen works oldest-first. Each work is marked seen only after
// every sink accepted it, so a failed delivery is retried next cycle.
func (s *Scheduler) pollOne(ctx context.Context, sess domain.Session, sub domain.Subscription) error {
	page, err := s.fetchLatest(ctx, sess, sub)
	if err != nil {
		return err
	}

	kept, stats := filter.Apply(page.Works, s.opts.Filter)

	fresh := make([]domain.Work, 0, len(kept))
	for _, w := range kept {
		seen, err := s.ledger.HasSeen(sub.Key(), w.ID)
		if err != nil {
			return fmt.Errorf("ledger lookup: %w", err)
		}
		if !seen {
			fresh = append(fresh, w)
		}
	}
	if len(fresh) == 0 {
		s.log.DebugObj("no new works", "poll_result", map[string]any{
			"subscription_key": sub.Key(),
			"fetched":          stats.Input,
			"kept":             stats.Kept(),
		})
		return nil
	}

	// Deliver in publication order so downstream consumers see history unfold.
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].ID < fresh[j].ID })

	if s.enricher != nil {
		fresh = s.enricher.Enrich(ctx, fresh)
	}

	delivered := 0
	for _, w := range fresh {
		evt := dispatch.NewEvent(sub, w)
		if _, err := s.sink.Send(ctx, evt); err != nil {
			return fmt.Errorf("delivered %d of %d then: %w", delivered, len(fresh), err)
		}
		if err := s.ledger.MarkSeen(sub.Key(), w.ID); err != nil {
			return fmt.Errorf("ledger mark after delivery: %w", err)
		}
		delivered++
	}

	s.log.InfoObj("new works delivered", "poll_result", map[string]any{
		"subscription_key": sub.Key(),
		"fetched":          stats.Input,
		"kept":             stats.Kept(),
		"delivered":        delivered,
	})
	return nil
}

// fetchLatest pulls the latest page for the subscription target, retrying
// retryable provider errors with exponential backoff up to the configured
// attempt count. Auth errors and non-retryable failures surface immediately.
func (s *Scheduler) fetchLatest(ctx context.Context, sess domain.Session, sub domain.Subscription) (pixiv.Page, error) {
	var lastErr error
	delay := s.opts.Backoff

	for attempt := 1; attempt <= s.opts.RetryLimit; attempt++ {
		var (
			page pixiv.Page
			err  error
		)
		switch sub.Kind {
		case domain.SubscribeArtist:
			page, err = s.poller.FetchUserLatest(ctx, sess, sub.TargetID, "")
		case domain.SubscribeTag:
			page, err = s.poller.FetchTagLatest(ctx, sess, sub.TargetID, "")
		default:
			return pixiv.Page{}, fmt.Errorf("unsupported subscription kind %q", sub.Kind)
		}
		if err == nil {
			return page, nil
		}
		lastErr = err

		if !pixiv.IsRetryable(err) || attempt == s.opts.RetryLimit {
			break
		}
		s.log.WarnObj("poll fetch failed, retrying", "poll_retry", map[string]any{
			"subscription_key": sub.Key(),
			"attempt":          attempt,
			"error":            err.Error(),
		})

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return pixiv.Page{}, ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return pixiv.Page{}, lastErr
}

// drain waits for in-flight polls to finish, bounded by the shutdown timeout.
func (s *Scheduler) drain() error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(s.opts.ShutdownTimeout):
		return errors.New("shutdown timeout elapsed with polls still in flight")
	}
}

func (s *Scheduler) shouldSkip(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.failures[key]
	if st == nil || st.skipLeft == 0 {
		return false
	}
	st.skipLeft--
	return true
}

func (s *Scheduler) recordFailure(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.failures[key]
	if st == nil {
		st = &failureState{}
		s.failures[key] = st
	}
	st.consecutive++
	st.skipLeft = st.consecutive
	if st.skipLeft > s.opts.MaxFailureBackoff {
		st.skipLeft = s.opts.MaxFailureBackoff
	}
}

func (s *Scheduler) recordSuccess(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.failures, key)
}
