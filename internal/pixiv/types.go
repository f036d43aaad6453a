package pixiv

import (
	"time"

	"github.com/illust-hq/illust-watcher/internal/domain"
)

// Wire shapes of the app-api JSON payloads. Only the fields the engine
// consumes are decoded.

type authResponse struct {
	Response struct {
		AccessToken  string `json:"access_token"`
		ExpiresIn    int64  `json:"expires_in"`
		RefreshToken string `json:"refresh_token"`
	} `json:"response"`
}

type authErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
	ErrorDescription string `json:"error_description"`
}

type tagJSON struct {
	Name           string `json:"name"`
	TranslatedName string `json:"translated_name"`
}

type userJSON struct {
	ID   uint64 `json:"id"`
	Name string `json:"name"`
}

type imageURLsJSON struct {
	SquareMedium string `json:"square_medium"`
	Medium       string `json:"medium"`
	Large        string `json:"large"`
	Original     string `json:"original"`
}

type illustJSON struct {
	ID             uint64        `json:"id"`
	Title          string        `json:"title"`
	Type           string        `json:"type"`
	Caption        string        `json:"caption"`
	User           userJSON      `json:"user"`
	Tags           []tagJSON     `json:"tags"`
	CreateDate     string        `json:"create_date"`
	PageCount      int           `json:"page_count"`
	XRestrict      int           `json:"x_restrict"`
	IllustAIType   int           `json:"illust_ai_type"`
	TotalView      int           `json:"total_view"`
	TotalBookmarks int           `json:"total_bookmarks"`
	ImageURLs      imageURLsJSON `json:"image_urls"`
	MetaSinglePage struct {
		OriginalImageURL string `json:"original_image_url"`
	} `json:"meta_single_page"`
}

type novelJSON struct {
	ID             uint64        `json:"id"`
	Title          string        `json:"title"`
	Caption        string        `json:"caption"`
	User           userJSON      `json:"user"`
	Tags           []tagJSON     `json:"tags"`
	CreateDate     string        `json:"create_date"`
	XRestrict      int           `json:"x_restrict"`
	NovelAIType    int           `json:"novel_ai_type"`
	TotalView      int           `json:"total_view"`
	TotalBookmarks int           `json:"total_bookmarks"`
	ImageURLs      imageURLsJSON `json:"image_urls"`
}

type illustPageJSON struct {
	Illusts []illustJSON `json:"illusts"`
	NextURL string       `json:"next_url"`
}

type novelPageJSON struct {
	Novels  []novelJSON `json:"novels"`
	NextURL string      `json:"next_url"`
}

// aiGenerated is the platform's closed AI flag: 0 unknown, 1 human, 2 AI.
const aiGenerated = 2

func (i illustJSON) toDomain() domain.Work {
	kind := domain.WorkKind(i.Type)
	switch kind {
	case domain.KindIllustration, domain.KindManga, domain.KindAnimation:
	default:
		kind = domain.KindIllustration
	}

	image := i.MetaSinglePage.OriginalImageURL
	if image == "" {
		image = i.ImageURLs.Large
	}
	if image == "" {
		image = i.ImageURLs.Medium
	}

	return domain.Work{
		ID:          i.ID,
		Title:       i.Title,
		Caption:     i.Caption,
		Kind:        kind,
		AuthorID:    i.User.ID,
		AuthorName:  i.User.Name,
		Restricted:  i.XRestrict > 0,
		AIGenerated: i.IllustAIType == aiGenerated,
		Tags:        toDomainTags(i.Tags),
		PageCount:   i.PageCount,
		ImageURL:    image,
		PreviewURL:  i.ImageURLs.SquareMedium,
		Bookmarks:   i.TotalBookmarks,
		Views:       i.TotalView,
		CreatedAt:   parseCreateDate(i.CreateDate),
	}
}

func (n novelJSON) toDomain() domain.Work {
	return domain.Work{
		ID:          n.ID,
		Title:       n.Title,
		Caption:     n.Caption,
		Kind:        domain.KindNovel,
		AuthorID:    n.User.ID,
		AuthorName:  n.User.Name,
		Restricted:  n.XRestrict > 0,
		AIGenerated: n.NovelAIType == aiGenerated,
		Tags:        toDomainTags(n.Tags),
		PageCount:   1,
		ImageURL:    n.ImageURLs.Large,
		PreviewURL:  n.ImageURLs.SquareMedium,
		Bookmarks:   n.TotalBookmarks,
		Views:       n.TotalView,
		CreatedAt:   parseCreateDate(n.CreateDate),
	}
}

func toDomainTags(tags []tagJSON) []domain.Tag {
	out := make([]domain.Tag, 0, len(tags))
	for _, t := range tags {
		if t.Name == "" {
			continue
		}
		out = append(out, domain.Tag{Name: t.Name, TranslatedName: t.TranslatedName})
	}
	return out
}

func parseCreateDate(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}
	}
	return ts
}
