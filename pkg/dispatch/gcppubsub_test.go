package dispatch

import (
	"context"
	"os"
	"testing"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/pubsub/pstest"

	"github.com/illust-hq/illust-watcher/internal/domain"
)

func TestGCPPubSubDispatcherPublishes(t *testing.T) {
	// Use the in-memory Pub/Sub emulator.
	server := pstest.NewServer()
	defer server.Close()
	defer os.Unsetenv("PUBSUB_EMULATOR_HOST")
	os.Setenv("PUBSUB_EMULATOR_HOST", server.Addr)

	ctx := context.Background()
	client, err := pubsub.NewClient(ctx, "test-project")
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	if _, err := client.CreateTopic(ctx, "topic-1"); err != nil {
		t.Fatalf("create topic: %v", err)
	}

	d, err := newGCPPubSubDispatcher(ctx, DispatcherConfig{
		ID:   "events",
		Type: TypeGCPPubSub,
		GCP: &GCPPubSubSinkConfig{
			ProjectID: "test-project",
			Topic:     "topic-1",
		},
	}, nil)
	if err != nil {
		t.Fatalf("newGCPPubSubDispatcher: %v", err)
	}

	err = d.Send(ctx, Event{
		SubscriptionKey: "u1/artist/42",
		Work:            domain.Work{ID: 1},
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestGCPPubSubDispatcherRequiresConfig(t *testing.T) {
	if _, err := newGCPPubSubDispatcher(context.Background(), DispatcherConfig{ID: "x", Type: TypeGCPPubSub}, nil); err == nil {
		t.Fatalf("expected error for missing gcppubsub block")
	}
}
