package dispatch

import (
	"time"

	"github.com/illust-hq/illust-watcher/internal/domain"
)

// Event is the payload emitted for each newly discovered work.
type Event struct {
	SubscriptionKey string      `json:"subscription_key"`
	UserID          string      `json:"user_id"`
	TargetKind      string      `json:"target_kind"`
	TargetID        string      `json:"target_id"`
	TargetName      string      `json:"target_name,omitempty"`
	Work            domain.Work `json:"work"`
	DetectedAt      time.Time   `json:"detected_at"`
}

// NewEvent constructs an Event for the given subscription + work.
func NewEvent(sub domain.Subscription, work domain.Work) Event {
	return Event{
		SubscriptionKey: sub.Key(),
		UserID:          sub.UserID,
		TargetKind:      string(sub.Kind),
		TargetID:        sub.TargetID,
		TargetName:      sub.TargetName,
		Work:            work,
		DetectedAt:      time.Now().UTC(),
	}
}
