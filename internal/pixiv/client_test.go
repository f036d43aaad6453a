package pixiv

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/illust-hq/illust-watcher/internal/domain"
)

func newTestClient(api, auth string) *Client {
	return NewClient(Options{BaseURL: api, AuthURL: auth})
}

func TestAuthenticateExchangesRefreshToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("auth method = %s", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		if got := r.PostFormValue("grant_type"); got != "refresh_token" {
			t.Errorf("grant_type = %q", got)
		}
		if got := r.PostFormValue("refresh_token"); got != "seed" {
			t.Errorf("refresh_token = %q", got)
		}
		if r.Header.Get("X-Client-Time") == "" || r.Header.Get("X-Client-Hash") == "" {
			t.Errorf("client time/hash headers missing")
		}
		fmt.Fprint(w, `{"response":{"access_token":"at","refresh_token":"rotated","expires_in":3600}}`)
	}))
	defer srv.Close()

	c := newTestClient("http://unused", srv.URL)
	sess, err := c.Authenticate(context.Background(), "seed")
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if sess.AccessToken != "at" || sess.RefreshToken != "rotated" {
		t.Fatalf("unexpected session %+v", sess)
	}
	if !sess.ValidFor(0) {
		t.Fatalf("session should be valid, expires at %v", sess.ExpiresAt)
	}
}

func TestAuthenticateMapsRejectionToAuthError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error_description":"Invalid refresh token"}`)
	}))
	defer srv.Close()

	c := newTestClient("http://unused", srv.URL)
	_, err := c.Authenticate(context.Background(), "stale")
	if !IsAuthError(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestAuthenticateRejectsEmptyToken(t *testing.T) {
	c := newTestClient("http://unused", "http://unused")
	if _, err := c.Authenticate(context.Background(), "  "); !IsAuthError(err) {
		t.Fatalf("expected auth error for empty token, got %v", err)
	}
}

func TestSearchWorksFollowsNextURL(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer at" {
			t.Errorf("Authorization = %q", got)
		}
		if r.URL.Path != "/v1/search/illust" {
			t.Errorf("path = %s", r.URL.Path)
		}
		// The continuation request carries the opaque cursor's offset param.
		switch r.URL.Query().Get("offset") {
		case "":
			if got := r.URL.Query().Get("word"); got != "cat" {
				t.Errorf("word = %q", got)
			}
			fmt.Fprintf(w, `{"illusts":[{"id":2,"title":"two","type":"illust"}],"next_url":"%s/v1/search/illust?offset=30"}`, srv.URL)
		case "30":
			fmt.Fprint(w, `{"illusts":[{"id":1,"title":"one","type":"illust"}],"next_url":""}`)
		default:
			t.Errorf("unexpected request %s", r.URL.String())
		}
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "http://unused")
	sess := domain.Session{AccessToken: "at"}

	first, err := c.SearchWorks(context.Background(), sess, "cat", domain.KindIllustration, "")
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(first.Works) != 1 || first.Works[0].ID != 2 {
		t.Fatalf("unexpected first page %+v", first.Works)
	}
	if first.NextCursor == "" {
		t.Fatalf("expected a continuation cursor")
	}

	second, err := c.SearchWorks(context.Background(), sess, "cat", domain.KindIllustration, first.NextCursor)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(second.Works) != 1 || second.Works[0].ID != 1 {
		t.Fatalf("unexpected second page %+v", second.Works)
	}
	if second.NextCursor != "" {
		t.Fatalf("expected traversal end, got cursor %q", second.NextCursor)
	}
}

func TestSearchWorksNovelKindUsesNovelEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/search/novel" {
			t.Errorf("path = %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"novels":[{"id":9,"title":"story","x_restrict":1}],"next_url":""}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "http://unused")
	page, err := c.SearchWorks(context.Background(), domain.Session{AccessToken: "at"}, "cat", domain.KindNovel, "")
	if err != nil {
		t.Fatalf("SearchWorks: %v", err)
	}
	if len(page.Works) != 1 {
		t.Fatalf("expected 1 novel, got %d", len(page.Works))
	}
	w := page.Works[0]
	if w.Kind != domain.KindNovel || !w.Restricted {
		t.Fatalf("unexpected novel mapping %+v", w)
	}
}

func TestFetchUserLatestMapsFlags(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/user/illusts" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("user_id"); got != "77" {
			t.Errorf("user_id = %q", got)
		}
		fmt.Fprint(w, `{"illusts":[
			{"id":10,"title":"ai","type":"illust","illust_ai_type":2,
			 "user":{"id":77,"name":"painter"},
			 "tags":[{"name":"風景","translated_name":"scenery"}],
			 "create_date":"2026-08-01T12:00:00+09:00"},
			{"id":11,"title":"human","type":"manga","illust_ai_type":1,"x_restrict":1}
		],"next_url":""}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "http://unused")
	page, err := c.FetchUserLatest(context.Background(), domain.Session{AccessToken: "at"}, "77", "")
	if err != nil {
		t.Fatalf("FetchUserLatest: %v", err)
	}
	if len(page.Works) != 2 {
		t.Fatalf("expected 2 works, got %d", len(page.Works))
	}

	ai := page.Works[0]
	if !ai.AIGenerated || ai.AuthorName != "painter" || ai.AuthorID != 77 {
		t.Fatalf("unexpected AI work mapping %+v", ai)
	}
	if !ai.HasTag("scenery") || !ai.HasTag("風景") {
		t.Fatalf("tag translation lost: %+v", ai.Tags)
	}
	if ai.CreatedAt.IsZero() {
		t.Fatalf("create_date not parsed")
	}

	human := page.Works[1]
	if human.AIGenerated || !human.Restricted || human.Kind != domain.KindManga {
		t.Fatalf("unexpected second work mapping %+v", human)
	}
}

func TestFetchRankingUsesRankingEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/illust/ranking" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("mode"); got != "week" {
			t.Errorf("mode = %q", got)
		}
		fmt.Fprint(w, `{"illusts":[{"id":3,"title":"top","type":"illust"}],"next_url":"next"}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "http://unused")
	page, err := c.FetchRanking(context.Background(), domain.Session{AccessToken: "at"}, "week", "")
	if err != nil {
		t.Fatalf("FetchRanking: %v", err)
	}
	if len(page.Works) != 1 || page.Works[0].ID != 3 {
		t.Fatalf("unexpected ranking page %+v", page.Works)
	}
	if page.NextCursor != "next" {
		t.Fatalf("cursor lost: %q", page.NextCursor)
	}
}

func TestFetchRankingDefaultsToDailyMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("mode"); got != "day" {
			t.Errorf("mode = %q", got)
		}
		fmt.Fprint(w, `{"illusts":[],"next_url":""}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "http://unused")
	if _, err := c.FetchRanking(context.Background(), domain.Session{AccessToken: "at"}, "", ""); err != nil {
		t.Fatalf("FetchRanking: %v", err)
	}
}

func TestMalformedRecordsAreSkippedNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"illusts":[{"title":"no id"},{"id":5,"title":"ok"}],"next_url":""}`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "http://unused")
	page, err := c.FetchUserLatest(context.Background(), domain.Session{AccessToken: "at"}, "1", "")
	if err != nil {
		t.Fatalf("FetchUserLatest: %v", err)
	}
	if len(page.Works) != 1 || page.Works[0].ID != 5 {
		t.Fatalf("expected the malformed record skipped, got %+v", page.Works)
	}
}

func TestStatusMapping(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		wantAuth  bool
		wantRetry bool
	}{
		{"unauthorized", http.StatusUnauthorized, true, false},
		{"forbidden", http.StatusForbidden, true, false},
		{"throttled", http.StatusTooManyRequests, false, true},
		{"upstream", http.StatusBadGateway, false, true},
		{"bad request", http.StatusBadRequest, false, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer srv.Close()

			c := newTestClient(srv.URL, "http://unused")
			_, err := c.FetchUserLatest(context.Background(), domain.Session{AccessToken: "at"}, "1", "")
			if err == nil {
				t.Fatalf("expected error for status %d", tc.status)
			}
			if IsAuthError(err) != tc.wantAuth {
				t.Fatalf("IsAuthError = %v, want %v (err %v)", IsAuthError(err), tc.wantAuth, err)
			}
			if IsRetryable(err) != tc.wantRetry {
				t.Fatalf("IsRetryable = %v, want %v (err %v)", IsRetryable(err), tc.wantRetry, err)
			}
		})
	}
}

func TestMalformedPageBodyIsNonRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html>maintenance</html>`)
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "http://unused")
	_, err := c.FetchUserLatest(context.Background(), domain.Session{AccessToken: "at"}, "1", "")
	if err == nil {
		t.Fatalf("expected decode error")
	}
	if IsRetryable(err) || IsAuthError(err) {
		t.Fatalf("decode failure misclassified: %v", err)
	}
}
