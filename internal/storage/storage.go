package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/illust-hq/illust-watcher/internal/domain"
)

// Package storage provides the persistent ledger and subscription stores.

var (
	// ErrAlreadyExists is returned when a subscription for the same
	// (user, kind, target) is already present.
	ErrAlreadyExists = errors.New("subscription already exists")
	// ErrNotFound is returned when the addressed subscription does not exist.
	ErrNotFound = errors.New("subscription not found")
)

// Ledger is the per-subscription dedup record: which work identifiers were
// already delivered, and the forward watermark.
type Ledger interface {
	Close() error
	HasSeen(key string, workID uint64) (bool, error)
	// MarkSeen records the identifier and advances the watermark in one
	// atomic step. The watermark never decreases.
	MarkSeen(key string, workID uint64) error
	Watermark(key string) (uint64, error)
}

// SubscriptionStore persists user subscriptions.
type SubscriptionStore interface {
	Close() error
	Add(sub domain.Subscription) error
	Remove(user string, kind domain.SubscriptionKind, target string) error
	List(user string) ([]domain.Subscription, error)
	// All returns every enabled subscription, for the scheduler.
	All() ([]domain.Subscription, error)
	Count() (int, error)
}

// LedgerOptions controls retention for concrete ledger implementations.
type LedgerOptions struct {
	// MaxEntries caps a subscription's delivered set; 0 disables eviction.
	MaxEntries int
}

// NewLedger creates the configured ledger backend.
func NewLedger(typ, path string, opts LedgerOptions) (Ledger, error) {
	switch strings.TrimSpace(strings.ToLower(typ)) {
	case "", "none", "disabled":
		return noopLedger{}, nil
	case "bbolt":
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("bbolt ledger requires a path")
		}
		return openBoltLedger(path, opts)
	default:
		return nil, fmt.Errorf("unsupported ledger type %q", typ)
	}
}

type noopLedger struct{}

func (noopLedger) Close() error                         { return nil }
func (noopLedger) HasSeen(string, uint64) (bool, error) { return false, nil }
func (noopLedger) MarkSeen(string, uint64) error        { return nil }
func (noopLedger) Watermark(string) (uint64, error)     { return 0, nil }
