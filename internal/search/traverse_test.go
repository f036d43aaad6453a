package search

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/illust-hq/illust-watcher/internal/domain"
	"github.com/illust-hq/illust-watcher/internal/pixiv"
)

// fakeProvider serves canned pages keyed by tag and cursor, with optional
// per-call failures.
type fakeProvider struct {
	mu    sync.Mutex
	pages map[string][]pixiv.Page // tag -> ordered pages
	fail  map[string][]error     // tag -> errors returned before success
	calls int
}

func (f *fakeProvider) SearchWorks(_ context.Context, _ domain.Session, word string, _ domain.WorkKind, cursor string) (pixiv.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if errs := f.fail[word]; len(errs) > 0 {
		err := errs[0]
		f.fail[word] = errs[1:]
		return pixiv.Page{}, err
	}

	pages := f.pages[word]
	idx := 0
	if cursor != "" {
		n, err := strconv.Atoi(strings.TrimPrefix(cursor, "page:"))
		if err != nil {
			return pixiv.Page{}, fmt.Errorf("bad cursor %q", cursor)
		}
		idx = n
	}
	if idx >= len(pages) {
		return pixiv.Page{}, nil
	}
	return pages[idx], nil
}

func (f *fakeProvider) FetchRanking(ctx context.Context, sess domain.Session, mode, cursor string) (pixiv.Page, error) {
	// Ranking pages are keyed like a tag named after the mode.
	return f.SearchWorks(ctx, sess, "ranking:"+mode, domain.KindIllustration, cursor)
}

func tagged(id uint64, tags ...string) domain.Work {
	w := domain.Work{ID: id}
	for _, t := range tags {
		w.Tags = append(w.Tags, domain.Tag{Name: t})
	}
	return w
}

// pagesOf builds a page sequence, ten works per page, with cursors chaining
// them together.
func pagesOf(tag string, pageCount int, startID uint64) []pixiv.Page {
	pages := make([]pixiv.Page, pageCount)
	id := startID
	for p := 0; p < pageCount; p++ {
		var works []domain.Work
		for i := 0; i < 10; i++ {
			works = append(works, tagged(id, tag))
			id++
		}
		next := ""
		if p < pageCount-1 {
			next = fmt.Sprintf("page:%d", p+1)
		}
		pages[p] = pixiv.Page{Works: works, NextCursor: next}
	}
	return pages
}

func TestTraverseRespectsDepthAndOrder(t *testing.T) {
	provider := &fakeProvider{pages: map[string][]pixiv.Page{
		"cat": pagesOf("cat", 3, 100),
	}}
	tr := NewTraverser(provider, Options{})

	works, err := tr.Traverse(context.Background(), domain.Session{}, domain.Query{
		IncludeTags: []string{"cat"},
		Depth:       2,
	})
	if err != nil {
		t.Fatalf("Traverse: %v", err)
	}
	if len(works) != 20 {
		t.Fatalf("expected 20 works from depth 2, got %d", len(works))
	}
	for i, w := range works {
		if w.ID != uint64(100+i) {
			t.Fatalf("works out of page order at %d: %d", i, w.ID)
		}
	}
}

func TestTraverseUnboundedStopsAtEmptyCursor(t *testing.T) {
	provider := &fakeProvider{pages: map[string][]pixiv.Page{
		"cat": pagesOf("cat", 4, 1),
	}}
	tr := NewTraverser(provider, Options{})

	works, err := tr.Traverse(context.Background(), domain.Session{}, domain.Query{
		IncludeTags: []string{"cat"},
		Depth:       -1,
	})
	if err != nil {
		t.Fatalf("Traverse: %v", err)
	}
	if len(works) != 40 {
		t.Fatalf("expected all 40 works, got %d", len(works))
	}
}

func TestTraverseRetriesRetryableFailures(t *testing.T) {
	provider := &fakeProvider{
		pages: map[string][]pixiv.Page{"cat": pagesOf("cat", 1, 1)},
		fail: map[string][]error{
			"cat": {
				&pixiv.ProviderError{Op: "search", Status: 503, Retryable: true, Err: errors.New("upstream")},
				&pixiv.ProviderError{Op: "search", Status: 429, Retryable: true, Err: errors.New("throttled")},
			},
		},
	}
	tr := NewTraverser(provider, Options{RetryLimit: 3, Backoff: 1})

	works, err := tr.Traverse(context.Background(), domain.Session{}, domain.Query{
		IncludeTags: []string{"cat"},
		Depth:       1,
	})
	if err != nil {
		t.Fatalf("expected retries to recover, got %v", err)
	}
	if len(works) != 10 {
		t.Fatalf("expected 10 works, got %d", len(works))
	}
	if provider.calls != 3 {
		t.Fatalf("expected 3 provider calls, got %d", provider.calls)
	}
}

func TestTraverseDoesNotRetryAuthErrors(t *testing.T) {
	provider := &fakeProvider{
		pages: map[string][]pixiv.Page{"cat": pagesOf("cat", 1, 1)},
		fail: map[string][]error{
			"cat": {&pixiv.AuthError{Reason: "expired"}},
		},
	}
	tr := NewTraverser(provider, Options{RetryLimit: 5, Backoff: 1})

	_, err := tr.Traverse(context.Background(), domain.Session{}, domain.Query{
		IncludeTags: []string{"cat"},
		Depth:       1,
	})
	if !pixiv.IsAuthError(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if provider.calls != 1 {
		t.Fatalf("auth error retried: %d calls", provider.calls)
	}
}

func TestTraverseReturnsPartialResultOnMidTraversalFailure(t *testing.T) {
	pages := pagesOf("cat", 2, 1)
	provider := &fakeProvider{pages: map[string][]pixiv.Page{"cat": pages}}
	tr := NewTraverser(provider, Options{RetryLimit: 1})

	// Poison page two by pointing its cursor at a malformed value.
	pages[0].NextCursor = "page:borken"
	provider.pages["cat"] = pages

	works, err := tr.Traverse(context.Background(), domain.Session{}, domain.Query{
		IncludeTags: []string{"cat"},
		Depth:       -1,
	})
	if err == nil {
		t.Fatalf("expected mid-traversal error")
	}
	if len(works) != 10 {
		t.Fatalf("expected partial result of 10 works, got %d", len(works))
	}
}

func TestTraverseAnyUnionsAndDeduplicates(t *testing.T) {
	shared := tagged(50, "cat", "dog")
	provider := &fakeProvider{pages: map[string][]pixiv.Page{
		"cat": {{Works: []domain.Work{tagged(1, "cat"), shared}}},
		"dog": {{Works: []domain.Work{shared, tagged(2, "dog")}}},
	}}
	tr := NewTraverser(provider, Options{})

	works, err := tr.Traverse(context.Background(), domain.Session{}, domain.Query{
		IncludeTags: []string{"cat", "dog"},
		Match:       domain.MatchAny,
		Depth:       1,
	})
	if err != nil {
		t.Fatalf("Traverse: %v", err)
	}
	if len(works) != 3 {
		t.Fatalf("expected 3 distinct works, got %d", len(works))
	}
	want := []uint64{1, 50, 2} // first-seen order
	for i, w := range works {
		if w.ID != want[i] {
			t.Fatalf("unexpected union order: %v at %d", w.ID, i)
		}
	}
}

func TestTraverseAllIntersectsClientSide(t *testing.T) {
	provider := &fakeProvider{pages: map[string][]pixiv.Page{
		"cat": {{Works: []domain.Work{
			tagged(1, "cat"),
			tagged(2, "cat", "dog"),
			tagged(3, "cat", "dog", "bird"),
		}}},
	}}
	tr := NewTraverser(provider, Options{})

	works, err := tr.Traverse(context.Background(), domain.Session{}, domain.Query{
		IncludeTags: []string{"cat", "dog"},
		Match:       domain.MatchAll,
		Depth:       1,
	})
	if err != nil {
		t.Fatalf("Traverse: %v", err)
	}
	if len(works) != 2 {
		t.Fatalf("expected 2 works with both tags, got %d", len(works))
	}
	if works[0].ID != 2 || works[1].ID != 3 {
		t.Fatalf("unexpected intersection: %v %v", works[0].ID, works[1].ID)
	}
	// Only the first tag hits the provider.
	if provider.calls != 1 {
		t.Fatalf("expected a single provider call, got %d", provider.calls)
	}
}

func TestTraverseIsIdempotentAcrossRuns(t *testing.T) {
	provider := &fakeProvider{pages: map[string][]pixiv.Page{
		"cat": pagesOf("cat", 2, 1),
	}}
	tr := NewTraverser(provider, Options{})
	query := domain.Query{IncludeTags: []string{"cat"}, Depth: -1}

	first, err := tr.Traverse(context.Background(), domain.Session{}, query)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := tr.Traverse(context.Background(), domain.Session{}, query)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("runs differ in size: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Fatalf("runs differ at %d", i)
		}
	}
}

func TestTraverseRankingFollowsPages(t *testing.T) {
	provider := &fakeProvider{pages: map[string][]pixiv.Page{
		"ranking:day": pagesOf("ranking:day", 3, 200),
	}}
	tr := NewTraverser(provider, Options{})

	works, err := tr.Traverse(context.Background(), domain.Session{}, domain.Query{
		Ranking: "day",
		Depth:   2,
	})
	if err != nil {
		t.Fatalf("Traverse: %v", err)
	}
	if len(works) != 20 {
		t.Fatalf("expected 20 ranked works from depth 2, got %d", len(works))
	}
	for i, w := range works {
		if w.ID != uint64(200+i) {
			t.Fatalf("ranking order broken at %d: %d", i, w.ID)
		}
	}
}

func TestTraverseRankingNeedsNoTags(t *testing.T) {
	provider := &fakeProvider{pages: map[string][]pixiv.Page{
		"ranking:week": pagesOf("ranking:week", 1, 1),
	}}
	tr := NewTraverser(provider, Options{})

	works, err := tr.Traverse(context.Background(), domain.Session{}, domain.Query{
		Ranking: "week",
		Depth:   1,
	})
	if err != nil {
		t.Fatalf("Traverse: %v", err)
	}
	if len(works) != 10 {
		t.Fatalf("expected 10 works, got %d", len(works))
	}
}

func TestTraverseRejectsEmptyTagList(t *testing.T) {
	tr := NewTraverser(&fakeProvider{}, Options{})
	if _, err := tr.Traverse(context.Background(), domain.Session{}, domain.Query{IncludeTags: []string{" ", ""}}); err == nil {
		t.Fatalf("expected error for empty inclusion tags")
	}
}
