package enrich

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/illust-hq/illust-watcher/internal/domain"
	"github.com/illust-hq/illust-watcher/internal/logger"
	"github.com/illust-hq/illust-watcher/pkg/httpclient"
)

const (
	maxHTMLBodyBytes = 1 << 20 // 1 MiB
	defaultTimeout   = 10 * time.Second
)

// Enricher fetches the public page of each work and fills in preview
// metadata from OG tags. API responses omit a usable preview URL for some
// kinds, notably novels.
type Enricher struct {
	client httpclient.Client
	delay  time.Duration
	log    logger.Logger
}

// NewEnricher constructs an enricher with the provided HTTP client (or default).
func NewEnricher(client httpclient.Client, delay time.Duration, log logger.Logger) *Enricher {
	if client == nil {
		client = httpclient.NewProxiedRestyClient(defaultTimeout, "")
	}
	if log == nil {
		log = &logger.NopLogger{}
	}
	return &Enricher{client: client, delay: delay, log: log}
}

// Enrich iterates works, fetching each public page (with throttling) and
// merging OG metadata. Failures leave the work untouched; a cancelled
// context returns whatever has been processed so far.
func (e *Enricher) Enrich(ctx context.Context, works []domain.Work) []domain.Work {
	out := append([]domain.Work(nil), works...)

	for i, w := range works {
		select {
		case <-ctx.Done():
			return out[:i]
		default:
		}

		enriched, err := e.fetchAndParse(ctx, w)
		if err != nil {
			e.log.WarnObj("work metadata scrape failed", "metadata_error", map[string]any{
				"work_id": w.ID,
				"url":     w.WebURL(),
				"error":   err.Error(),
			})
			out[i] = w
		} else {
			out[i] = enriched
		}

		if e.delay > 0 && i < len(works)-1 {
			timer := time.NewTimer(e.delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return out[:i+1]
			case <-timer.C:
			}
		}
	}

	return out
}

func (e *Enricher) fetchAndParse(ctx context.Context, w domain.Work) (domain.Work, error) {
	headers := map[string]string{
		"Accept": "text/html",
	}

	resp, err := e.client.Get(ctx, w.WebURL(), headers)
	if err != nil {
		return w, fmt.Errorf("http fetch: %w", err)
	}

	if resp.StatusCode() != 200 {
		snippet := strings.TrimSpace(string(resp.Body()))
		if len(snippet) > 1024 {
			snippet = snippet[:1024]
		}
		return w, fmt.Errorf("status %d body: %s", resp.StatusCode(), snippet)
	}

	body := resp.Body()
	if len(body) > maxHTMLBodyBytes {
		body = body[:maxHTMLBodyBytes]
	}

	meta, err := parseMeta(body)
	if err != nil {
		return w, err
	}
	updated := w
	if meta.Title != "" && updated.Title == "" {
		updated.Title = meta.Title
	}
	if meta.Description != "" && updated.Caption == "" {
		updated.Caption = meta.Description
	}
	if meta.ImageURL != "" {
		updated.PreviewURL = meta.ImageURL
	}

	return updated, nil
}

func parseMeta(body []byte) (pageMeta, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return pageMeta{}, fmt.Errorf("parse html: %w", err)
	}

	pm := pageMeta{}

	extract := func(sel string) string {
		if node := doc.Find(sel).First(); node.Length() > 0 {
			if val, ok := node.Attr("content"); ok {
				return strings.TrimSpace(val)
			}
		}
		return ""
	}

	pm.Title = firstNonEmpty(
		extract(`meta[property="og:title"]`),
		strings.TrimSpace(doc.Find("title").First().Text()),
	)
	pm.Description = firstNonEmpty(
		extract(`meta[property="og:description"]`),
		extract(`meta[name="description"]`),
	)
	pm.ImageURL = extract(`meta[property="og:image"]`)

	return pm, nil
}

type pageMeta struct {
	Title       string
	Description string
	ImageURL    string
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
