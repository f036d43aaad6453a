package dispatch

import (
	"context"
	"errors"
	"fmt"
)

// Fanout forwards delivery events to all configured dispatchers.
type Fanout struct {
	dispatchers []Dispatcher
}

// NewFanout builds a dispatcher that fans out events across sinks.
func NewFanout(dispatchers []Dispatcher) *Fanout {
	cp := make([]Dispatcher, 0, len(dispatchers))
	for _, d := range dispatchers {
		if d == nil {
			continue
		}
		cp = append(cp, d)
	}
	return &Fanout{dispatchers: cp}
}

// Send forwards the event to every registered dispatcher. It returns the
// number of sinks that accepted the event and the aggregated errors.
func (f *Fanout) Send(ctx context.Context, evt Event) (int, error) {
	if f == nil || len(f.dispatchers) == 0 {
		return 0, nil
	}

	var errs []error
	successful := 0
	for _, d := range f.dispatchers {
		if err := d.Send(ctx, evt); err != nil {
			errs = append(errs, fmt.Errorf("%s dispatcher[%s]: %w", d.Type(), d.ID(), err))
		} else {
			successful++
		}
	}
	return successful, errors.Join(errs...)
}

// Size returns the number of active dispatchers.
func (f *Fanout) Size() int {
	if f == nil {
		return 0
	}
	return len(f.dispatchers)
}
