package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/illust-hq/illust-watcher/internal/domain"
	_ "modernc.org/sqlite"
)

const subscriptionSchema = `
CREATE TABLE IF NOT EXISTS subscriptions (
	user_id     TEXT NOT NULL,
	target_kind TEXT NOT NULL,
	target_id   TEXT NOT NULL,
	target_name TEXT NOT NULL DEFAULT '',
	created_at  INTEGER NOT NULL,
	enabled     INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (user_id, target_kind, target_id)
);`

// sqliteStore implements SubscriptionStore backed by SQLite.
type sqliteStore struct {
	db *sql.DB
}

// OpenSubscriptionStore opens (and migrates) the SQLite subscription store.
func OpenSubscriptionStore(path string) (SubscriptionStore, error) {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create subscriptions directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open subscriptions db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("subscriptions db ping: %w", err)
	}
	if _, err := db.Exec(subscriptionSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init subscriptions table: %w", err)
	}

	return &sqliteStore{db: db}, nil
}

// Close closes the underlying database handle.
func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Add inserts a subscription; ErrAlreadyExists when the (user, kind, target)
// triple is already present.
func (s *sqliteStore) Add(sub domain.Subscription) error {
	created := sub.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}

	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO subscriptions (user_id, target_kind, target_id, target_name, created_at, enabled)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		sub.UserID, string(sub.Kind), sub.TargetID, sub.TargetName, created.Unix(), boolToInt(sub.Enabled),
	)
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert subscription: %w", err)
	}
	if rows == 0 {
		return ErrAlreadyExists
	}
	return nil
}

// Remove deletes a subscription; ErrNotFound with no state change when the
// triple does not exist.
func (s *sqliteStore) Remove(user string, kind domain.SubscriptionKind, target string) error {
	res, err := s.db.Exec(
		`DELETE FROM subscriptions WHERE user_id = ? AND target_kind = ? AND target_id = ?`,
		user, string(kind), target,
	)
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete subscription: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns a user's subscriptions ordered by creation time.
func (s *sqliteStore) List(user string) ([]domain.Subscription, error) {
	rows, err := s.db.Query(
		`SELECT user_id, target_kind, target_id, target_name, created_at, enabled
		 FROM subscriptions WHERE user_id = ? ORDER BY created_at, target_id`,
		user,
	)
	if err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// All returns every enabled subscription.
func (s *sqliteStore) All() ([]domain.Subscription, error) {
	rows, err := s.db.Query(
		`SELECT user_id, target_kind, target_id, target_name, created_at, enabled
		 FROM subscriptions WHERE enabled = 1 ORDER BY user_id, created_at, target_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("load subscriptions: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// Count returns the total subscription row count.
func (s *sqliteStore) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM subscriptions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count subscriptions: %w", err)
	}
	return n, nil
}

func scanSubscriptions(rows *sql.Rows) ([]domain.Subscription, error) {
	var subs []domain.Subscription
	for rows.Next() {
		var (
			sub     domain.Subscription
			kind    string
			created int64
			enabled int
		)
		if err := rows.Scan(&sub.UserID, &kind, &sub.TargetID, &sub.TargetName, &created, &enabled); err != nil {
			return nil, fmt.Errorf("scan subscription: %w", err)
		}
		sub.Kind = domain.SubscriptionKind(kind)
		sub.CreatedAt = time.Unix(created, 0)
		sub.Enabled = enabled != 0
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate subscriptions: %w", err)
	}
	return subs, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
