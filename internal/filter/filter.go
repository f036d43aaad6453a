// Package filter applies maturity, AI, and tag-exclusion filters to batches
// of works. Pure: input order is preserved and nothing is duplicated.
package filter

import (
	"fmt"
	"strings"

	"github.com/illust-hq/illust-watcher/internal/domain"
)

// MaturityMode is the closed maturity-filter set.
type MaturityMode string

const (
	ExcludeRestricted MaturityMode = "exclude-restricted"
	IncludeAll        MaturityMode = "include-all"
	OnlyRestricted    MaturityMode = "only-restricted"
)

// AIMode is the closed AI-filter set.
type AIMode string

const (
	ShowAll   AIMode = "show-all"
	ExcludeAI AIMode = "exclude-ai"
	OnlyAI    AIMode = "only-ai"
)

// ParseMaturityMode validates a configured maturity mode string.
func ParseMaturityMode(raw string) (MaturityMode, error) {
	switch MaturityMode(strings.TrimSpace(raw)) {
	case ExcludeRestricted:
		return ExcludeRestricted, nil
	case IncludeAll:
		return IncludeAll, nil
	case OnlyRestricted:
		return OnlyRestricted, nil
	case "":
		return ExcludeRestricted, nil
	default:
		return "", fmt.Errorf("unknown maturity filter mode %q", raw)
	}
}

// ParseAIMode validates a configured AI mode string.
func ParseAIMode(raw string) (AIMode, error) {
	switch AIMode(strings.TrimSpace(raw)) {
	case ShowAll:
		return ShowAll, nil
	case ExcludeAI:
		return ExcludeAI, nil
	case OnlyAI:
		return OnlyAI, nil
	case "":
		return ShowAll, nil
	default:
		return "", fmt.Errorf("unknown AI filter mode %q", raw)
	}
}

// Options selects the filter behavior for one batch.
type Options struct {
	Maturity    MaturityMode
	AI          AIMode
	ExcludeTags []string
}

// Stats counts how many works each stage dropped, for caller-side reporting.
type Stats struct {
	Input           int
	DroppedMaturity int
	DroppedAI       int
	DroppedExcluded int
}

// Kept returns how many works survived all stages.
func (s Stats) Kept() int {
	return s.Input - s.DroppedMaturity - s.DroppedAI - s.DroppedExcluded
}

// Apply runs the pipeline: maturity, then AI, then tag exclusion. The
// returned slice preserves the relative order of the input.
func Apply(works []domain.Work, opts Options) ([]domain.Work, Stats) {
	stats := Stats{Input: len(works)}
	if opts.Maturity == "" {
		opts.Maturity = ExcludeRestricted
	}
	if opts.AI == "" {
		opts.AI = ShowAll
	}

	excluded := make([]string, 0, len(opts.ExcludeTags))
	for _, t := range opts.ExcludeTags {
		if t = strings.TrimSpace(t); t != "" {
			excluded = append(excluded, t)
		}
	}

	out := make([]domain.Work, 0, len(works))
	for _, w := range works {
		switch {
		case opts.Maturity == ExcludeRestricted && w.Restricted,
			opts.Maturity == OnlyRestricted && !w.Restricted:
			stats.DroppedMaturity++
		case opts.AI == ExcludeAI && w.AIGenerated,
			opts.AI == OnlyAI && !w.AIGenerated:
			stats.DroppedAI++
		case hasAnyTag(w, excluded):
			stats.DroppedExcluded++
		default:
			out = append(out, w)
		}
	}
	return out, stats
}

func hasAnyTag(w domain.Work, tags []string) bool {
	for _, t := range tags {
		if w.HasTag(t) {
			return true
		}
	}
	return false
}
