package pixiv

import (
	"context"
	"crypto/md5" //nolint:gosec // client hash required by the platform, not security
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/illust-hq/illust-watcher/internal/domain"
	"github.com/illust-hq/illust-watcher/internal/logger"
	"github.com/illust-hq/illust-watcher/pkg/httpclient"
)

// Public app client constants, as shipped in the official mobile clients.
const (
	clientID     = "MOBrBDS8blbauoSck0ZfDbtuzpyT"
	clientSecret = "lsACyCD94FhDUtGTXi3QzcFE2uU1hqtDaKeqrdwj"
	hashSecret   = "28c1fdd170a5204386cb1313c7077b34f83e4aaf4aa829ce78c231e05b0bae2c"

	defaultUserAgent = "PixivAndroidApp/5.0.234 (Android 11; Pixel 5)"
	defaultTimeout   = 15 * time.Second
)

// Page is one provider result page plus the opaque cursor for the next one.
// An empty NextCursor means the provider reports no further page.
type Page struct {
	Works      []domain.Work
	NextCursor string
}

// Client is the thin authenticated call surface to the platform.
type Client struct {
	http    httpclient.Client
	baseURL string
	authURL string
	log     logger.Logger
}

// Options tunes endpoints and transport; zero values pick defaults.
type Options struct {
	BaseURL string
	AuthURL string
	Proxy   string
	HTTP    httpclient.Client
	Log     logger.Logger
}

// NewClient builds a platform client.
func NewClient(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://app-api.pixiv.net"
	}
	if opts.AuthURL == "" {
		opts.AuthURL = "https://oauth.secure.pixiv.net/auth/token"
	}
	if opts.HTTP == nil {
		opts.HTTP = httpclient.NewProxiedRestyClient(defaultTimeout, opts.Proxy)
	}
	if opts.Log == nil {
		opts.Log = &logger.NopLogger{}
	}
	return &Client{
		http:    opts.HTTP,
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		authURL: opts.AuthURL,
		log:     opts.Log,
	}
}

// Authenticate exchanges the refresh credential for a fresh session.
func (c *Client) Authenticate(ctx context.Context, refreshToken string) (domain.Session, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return domain.Session{}, &AuthError{Reason: "no refresh token configured"}
	}

	now := time.Now().Format("2006-01-02T15:04:05-07:00")
	form := map[string]string{
		"client_id":      clientID,
		"client_secret":  clientSecret,
		"grant_type":     "refresh_token",
		"refresh_token":  refreshToken,
		"get_secure_url": "1",
	}
	headers := map[string]string{
		"User-Agent":    defaultUserAgent,
		"X-Client-Time": now,
		"X-Client-Hash": clientHash(now),
	}

	resp, err := c.http.PostForm(ctx, c.authURL, form, headers)
	if err != nil {
		return domain.Session{}, &ProviderError{Op: "auth", Retryable: true, Err: err}
	}
	if resp.StatusCode() != http.StatusOK {
		return domain.Session{}, authFailure(resp.StatusCode(), resp.Body())
	}

	var decoded authResponse
	if err := json.Unmarshal(resp.Body(), &decoded); err != nil {
		return domain.Session{}, &ProviderError{Op: "auth", Err: fmt.Errorf("decode token response: %w", err)}
	}
	if decoded.Response.AccessToken == "" {
		return domain.Session{}, &AuthError{Reason: "token response missing access token"}
	}

	return domain.Session{
		AccessToken:  decoded.Response.AccessToken,
		RefreshToken: decoded.Response.RefreshToken,
		ExpiresAt:    time.Now().Add(time.Duration(decoded.Response.ExpiresIn) * time.Second),
	}, nil
}

// SearchWorks searches the given tag word, newest first. cursor continues a
// previous page sequence.
func (c *Client) SearchWorks(ctx context.Context, sess domain.Session, word string, kind domain.WorkKind, cursor string) (Page, error) {
	if kind == domain.KindNovel {
		endpoint := cursor
		if endpoint == "" {
			endpoint = c.baseURL + "/v1/search/novel?" + url.Values{
				"word":          {word},
				"search_target": {"partial_match_for_tags"},
				"sort":          {"date_desc"},
			}.Encode()
		}
		return c.fetchNovelPage(ctx, sess, "search_novel", endpoint)
	}

	endpoint := cursor
	if endpoint == "" {
		endpoint = c.baseURL + "/v1/search/illust?" + url.Values{
			"word":          {word},
			"search_target": {"partial_match_for_tags"},
			"sort":          {"date_desc"},
			"filter":        {"for_ios"},
		}.Encode()
	}
	return c.fetchIllustPage(ctx, sess, "search_illust", endpoint)
}

// FetchUserLatest returns the newest works of a user.
func (c *Client) FetchUserLatest(ctx context.Context, sess domain.Session, userID string, cursor string) (Page, error) {
	endpoint := cursor
	if endpoint == "" {
		endpoint = c.baseURL + "/v1/user/illusts?" + url.Values{
			"user_id": {userID},
			"filter":  {"for_ios"},
		}.Encode()
	}
	return c.fetchIllustPage(ctx, sess, "user_illusts", endpoint)
}

// FetchTagLatest returns the newest works for a tag.
func (c *Client) FetchTagLatest(ctx context.Context, sess domain.Session, tag string, cursor string) (Page, error) {
	return c.SearchWorks(ctx, sess, tag, domain.KindIllustration, cursor)
}

// FetchRanking returns a ranking page for the given mode ("day", "week",
// "month", ...). An empty mode defaults to the daily ranking.
func (c *Client) FetchRanking(ctx context.Context, sess domain.Session, mode, cursor string) (Page, error) {
	endpoint := cursor
	if endpoint == "" {
		if mode == "" {
			mode = "day"
		}
		endpoint = c.baseURL + "/v1/illust/ranking?" + url.Values{
			"mode":   {mode},
			"filter": {"for_ios"},
		}.Encode()
	}
	return c.fetchIllustPage(ctx, sess, "illust_ranking", endpoint)
}

func (c *Client) fetchIllustPage(ctx context.Context, sess domain.Session, op, endpoint string) (Page, error) {
	body, err := c.getAuthed(ctx, sess, op, endpoint)
	if err != nil {
		return Page{}, err
	}

	var decoded illustPageJSON
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Page{}, &ProviderError{Op: op, Err: fmt.Errorf("decode page: %w", err)}
	}

	works := make([]domain.Work, 0, len(decoded.Illusts))
	for _, raw := range decoded.Illusts {
		if raw.ID == 0 {
			// Malformed record inside an otherwise good page; skip, not fail.
			c.log.WarnObj("skipping malformed work record", "page_anomaly", map[string]any{
				"op":    op,
				"title": raw.Title,
			})
			continue
		}
		works = append(works, raw.toDomain())
	}
	return Page{Works: works, NextCursor: decoded.NextURL}, nil
}

func (c *Client) fetchNovelPage(ctx context.Context, sess domain.Session, op, endpoint string) (Page, error) {
	body, err := c.getAuthed(ctx, sess, op, endpoint)
	if err != nil {
		return Page{}, err
	}

	var decoded novelPageJSON
	if err := json.Unmarshal(body, &decoded); err != nil {
		return Page{}, &ProviderError{Op: op, Err: fmt.Errorf("decode page: %w", err)}
	}

	works := make([]domain.Work, 0, len(decoded.Novels))
	for _, raw := range decoded.Novels {
		if raw.ID == 0 {
			c.log.WarnObj("skipping malformed work record", "page_anomaly", map[string]any{
				"op":    op,
				"title": raw.Title,
			})
			continue
		}
		works = append(works, raw.toDomain())
	}
	return Page{Works: works, NextCursor: decoded.NextURL}, nil
}

func (c *Client) getAuthed(ctx context.Context, sess domain.Session, op, endpoint string) ([]byte, error) {
	headers := map[string]string{
		"Authorization":   "Bearer " + sess.AccessToken,
		"User-Agent":      defaultUserAgent,
		"Accept-Language": "en-US",
	}

	resp, err := c.http.Get(ctx, endpoint, headers)
	if err != nil {
		return nil, &ProviderError{Op: op, Retryable: true, Err: err}
	}

	status := resp.StatusCode()
	switch {
	case status == http.StatusOK:
		return resp.Body(), nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return nil, &AuthError{Reason: fmt.Sprintf("%s rejected with status %d", op, status)}
	case status == http.StatusTooManyRequests || status >= 500:
		return nil, &ProviderError{Op: op, Status: status, Retryable: true, Err: fmt.Errorf("body: %s", bodySnippet(resp.Body()))}
	default:
		return nil, &ProviderError{Op: op, Status: status, Err: fmt.Errorf("body: %s", bodySnippet(resp.Body()))}
	}
}

func authFailure(status int, body []byte) error {
	var decoded authErrorResponse
	_ = json.Unmarshal(body, &decoded)

	detail := decoded.ErrorDescription
	if detail == "" {
		detail = decoded.Error.Message
	}

	if status == http.StatusBadRequest || status == http.StatusUnauthorized || status == http.StatusForbidden {
		if detail == "" {
			detail = fmt.Sprintf("status %d", status)
		}
		return &AuthError{Reason: "refresh rejected: " + detail}
	}
	return &ProviderError{Op: "auth", Status: status, Retryable: status >= 500, Err: fmt.Errorf("body: %s", bodySnippet(body))}
}

func clientHash(clientTime string) string {
	sum := md5.Sum([]byte(clientTime + hashSecret)) //nolint:gosec
	return hex.EncodeToString(sum[:])
}

func bodySnippet(body []byte) string {
	const maxLen = 512
	s := strings.TrimSpace(string(body))
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	if s == "" {
		return "<empty>"
	}
	return s
}
