package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/illust-hq/illust-watcher/internal/domain"
)

func openTestStore(t *testing.T) SubscriptionStore {
	t.Helper()
	store, err := OpenSubscriptionStore(t.TempDir() + "/subs.db")
	if err != nil {
		t.Fatalf("OpenSubscriptionStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func sub(user, target string, kind domain.SubscriptionKind) domain.Subscription {
	return domain.Subscription{
		UserID:   user,
		Kind:     kind,
		TargetID: target,
		Enabled:  true,
	}
}

func TestAddAndListSubscriptions(t *testing.T) {
	store := openTestStore(t)

	first := sub("u1", "100", domain.SubscribeArtist)
	first.TargetName = "painter"
	first.CreatedAt = time.Unix(1000, 0)
	second := sub("u1", "cat", domain.SubscribeTag)
	second.CreatedAt = time.Unix(2000, 0)

	if err := store.Add(first); err != nil {
		t.Fatalf("Add first: %v", err)
	}
	if err := store.Add(second); err != nil {
		t.Fatalf("Add second: %v", err)
	}
	if err := store.Add(sub("u2", "100", domain.SubscribeArtist)); err != nil {
		t.Fatalf("Add other user: %v", err)
	}

	subs, err := store.List("u1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("expected 2 subscriptions for u1, got %d", len(subs))
	}
	if subs[0].TargetID != "100" || subs[0].TargetName != "painter" {
		t.Fatalf("unexpected first subscription %+v", subs[0])
	}
	if subs[1].Kind != domain.SubscribeTag {
		t.Fatalf("unexpected second subscription %+v", subs[1])
	}
}

func TestAddDuplicateReturnsErrAlreadyExists(t *testing.T) {
	store := openTestStore(t)

	entry := sub("u1", "100", domain.SubscribeArtist)
	if err := store.Add(entry); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := store.Add(entry); !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	// Same target under a different kind is a distinct subscription.
	if err := store.Add(sub("u1", "100", domain.SubscribeTag)); err != nil {
		t.Fatalf("Add different kind: %v", err)
	}

	n, err := store.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 rows, got %d", n)
	}
}

func TestRemoveMissingReturnsErrNotFound(t *testing.T) {
	store := openTestStore(t)

	if err := store.Add(sub("u1", "100", domain.SubscribeArtist)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := store.Remove("u1", domain.SubscribeArtist, "999"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	n, err := store.Count()
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if n != 1 {
		t.Fatalf("failed remove changed state: %d rows", n)
	}

	if err := store.Remove("u1", domain.SubscribeArtist, "100"); err != nil {
		t.Fatalf("Remove existing: %v", err)
	}
	n, _ = store.Count()
	if n != 0 {
		t.Fatalf("expected empty store, got %d rows", n)
	}
}

func TestAllReturnsOnlyEnabledSubscriptions(t *testing.T) {
	store := openTestStore(t)

	enabled := sub("u1", "100", domain.SubscribeArtist)
	disabled := sub("u1", "200", domain.SubscribeArtist)
	disabled.Enabled = false

	if err := store.Add(enabled); err != nil {
		t.Fatalf("Add enabled: %v", err)
	}
	if err := store.Add(disabled); err != nil {
		t.Fatalf("Add disabled: %v", err)
	}

	all, err := store.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 1 || all[0].TargetID != "100" {
		t.Fatalf("expected the single enabled subscription, got %+v", all)
	}

	// List is the user's full view; disabled rows still appear there.
	listed, err := store.List("u1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(listed) != 2 {
		t.Fatalf("expected 2 listed subscriptions, got %d", len(listed))
	}
}

func TestStoreSurvivesReopen(t *testing.T) {
	path := t.TempDir() + "/subs.db"
	store, err := OpenSubscriptionStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := store.Add(sub("u1", "100", domain.SubscribeArtist)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenSubscriptionStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	n, err := reopened.Count()
	if err != nil || n != 1 {
		t.Fatalf("subscription lost across reopen, n=%d err=%v", n, err)
	}
}
