package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// gcpPubSubDispatcher implements the Dispatcher interface for Google Cloud Pub/Sub.
type gcpPubSubDispatcher struct {
	id    string
	typ   string
	topic *pubsub.Topic
	log   Logger
}

// newGCPPubSubDispatcher creates a new Pub/Sub dispatcher with the given configuration.
func newGCPPubSubDispatcher(ctx context.Context, cfg DispatcherConfig, log Logger) (Dispatcher, error) {
	if cfg.GCP == nil {
		return nil, fmt.Errorf("dispatcher %q missing gcppubsub configuration", cfg.ID)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	var opts []option.ClientOption
	if cfg.GCP.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.GCP.CredentialsFile))
	}

	client, err := pubsub.NewClient(ctx, cfg.GCP.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("create pubsub client: %w", err)
	}

	return &gcpPubSubDispatcher{
		id:    cfg.ID,
		typ:   TypeGCPPubSub,
		topic: client.Topic(cfg.GCP.Topic),
		log:   ensureLogger(log),
	}, nil
}

func (g *gcpPubSubDispatcher) ID() string   { return g.id }
func (g *gcpPubSubDispatcher) Type() string { return g.typ }

// Send publishes the event to the configured Pub/Sub topic and waits for the
// server acknowledgment.
func (g *gcpPubSubDispatcher) Send(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	result := g.topic.Publish(ctx, &pubsub.Message{
		Data: payload,
		Attributes: map[string]string{
			"subscription_key": evt.SubscriptionKey,
		},
	})

	if _, err := result.Get(ctx); err != nil {
		g.log.ErrorObj("pubsub dispatcher publish failed", "dispatcher_pubsub_error", map[string]any{
			"dispatcher_id": g.id,
			"error":         err.Error(),
		})
		return fmt.Errorf("publish to pubsub: %w", err)
	}
	return nil
}
