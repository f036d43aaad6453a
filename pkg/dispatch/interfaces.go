package dispatch

import "context"

// Dispatcher sends delivery events to a downstream sink (SQS, SNS, HTTP, etc).
type Dispatcher interface {
	ID() string
	Type() string
	Send(ctx context.Context, evt Event) error
}
