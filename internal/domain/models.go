package domain

import (
	"fmt"
	"strings"
	"time"
)

// Domain contains core models shared across the engine.

// WorkKind is the closed set of content kinds the platform serves.
type WorkKind string

const (
	KindIllustration WorkKind = "illust"
	KindManga        WorkKind = "manga"
	KindNovel        WorkKind = "novel"
	KindAnimation    WorkKind = "ugoira"
)

// Tag is a platform tag with an optional translated form.
type Tag struct {
	Name           string `json:"name"`
	TranslatedName string `json:"translated_name,omitempty"`
}

// Work is a single creative item returned by the platform. Immutable once
// fetched within a query.
type Work struct {
	ID          uint64    `json:"id"`
	Title       string    `json:"title"`
	Caption     string    `json:"caption,omitempty"`
	Kind        WorkKind  `json:"kind"`
	AuthorID    uint64    `json:"author_id"`
	AuthorName  string    `json:"author_name"`
	Restricted  bool      `json:"restricted"`
	AIGenerated bool      `json:"ai_generated"`
	Tags        []Tag     `json:"tags"`
	PageCount   int       `json:"page_count"`
	ImageURL    string    `json:"image_url,omitempty"`
	PreviewURL  string    `json:"preview_url,omitempty"`
	Bookmarks   int       `json:"bookmarks"`
	Views       int       `json:"views"`
	CreatedAt   time.Time `json:"created_at"`
}

// HasTag reports whether the work carries the named tag, matching
// case-insensitively on the canonical or translated name.
func (w Work) HasTag(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return false
	}
	for _, t := range w.Tags {
		if strings.ToLower(t.Name) == name || (t.TranslatedName != "" && strings.ToLower(t.TranslatedName) == name) {
			return true
		}
	}
	return false
}

// WebURL returns the public page for the work.
func (w Work) WebURL() string {
	if w.Kind == KindNovel {
		return fmt.Sprintf("https://www.pixiv.net/novel/show.php?id=%d", w.ID)
	}
	return fmt.Sprintf("https://www.pixiv.net/artworks/%d", w.ID)
}

// Session is the platform credential set. Exclusively owned by the session
// manager; everyone else receives copies by value.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// ValidFor reports whether the session is still usable margin from now.
func (s Session) ValidFor(margin time.Duration) bool {
	return s.AccessToken != "" && time.Now().Add(margin).Before(s.ExpiresAt)
}

// TagMatch selects how multiple inclusion tags combine in a search.
type TagMatch string

const (
	MatchAny TagMatch = "any" // a work needs at least one inclusion tag
	MatchAll TagMatch = "all" // a work needs every inclusion tag
)

// Query is an immutable search specification, passed by value through the
// traversal and filter pipeline.
type Query struct {
	IncludeTags []string
	ExcludeTags []string
	Match       TagMatch
	Kind        WorkKind
	// Ranking selects a ranking feed mode ("day", "week", ...) instead of
	// tag search; inclusion tags are ignored when set.
	Ranking string
	// Depth bounds the page traversal; -1 means until the provider reports
	// no further page.
	Depth int
}

// SubscriptionKind is the closed set of subscribable targets.
type SubscriptionKind string

const (
	SubscribeArtist SubscriptionKind = "artist"
	SubscribeTag    SubscriptionKind = "tag"
)

// Subscription binds a user to a polled target.
type Subscription struct {
	UserID     string
	Kind       SubscriptionKind
	TargetID   string
	TargetName string
	CreatedAt  time.Time
	Enabled    bool
}

// Key returns the stable ledger/scheduler key for the subscription.
func (s Subscription) Key() string {
	return s.UserID + "/" + string(s.Kind) + "/" + s.TargetID
}
