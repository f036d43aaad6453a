package dispatch

import (
	"context"
)

// logDispatcher writes events to the process log. It is mainly useful for
// local runs and as a smoke-test sink.
type logDispatcher struct {
	id  string
	typ string
	log Logger
}

func newLogDispatcher(_ context.Context, cfg DispatcherConfig, log Logger) (Dispatcher, error) {
	return &logDispatcher{
		id:  cfg.ID,
		typ: TypeLog,
		log: ensureLogger(log),
	}, nil
}

func (l *logDispatcher) ID() string   { return l.id }
func (l *logDispatcher) Type() string { return l.typ }

func (l *logDispatcher) Send(_ context.Context, evt Event) error {
	l.log.InfoObj("new work detected", "dispatcher_log_delivery", map[string]any{
		"dispatcher_id":    l.id,
		"subscription_key": evt.SubscriptionKey,
		"user_id":          evt.UserID,
		"target_kind":      evt.TargetKind,
		"target_id":        evt.TargetID,
		"work_id":          evt.Work.ID,
		"work_title":       evt.Work.Title,
		"work_url":         evt.Work.WebURL(),
	})
	return nil
}
