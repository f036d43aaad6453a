package session

import (
	"context"
	"sync"
	"time"

	"github.com/illust-hq/illust-watcher/internal/domain"
	"github.com/illust-hq/illust-watcher/internal/logger"
	"golang.org/x/sync/singleflight"
)

// Authenticator exchanges a refresh credential for a fresh session.
type Authenticator interface {
	Authenticate(ctx context.Context, refreshToken string) (domain.Session, error)
}

// Manager owns the single long-lived platform session. All reads go through
// Acquire; all mutation goes through the single-flight refresh.
type Manager struct {
	auth   Authenticator
	margin time.Duration
	log    logger.Logger

	mu           sync.RWMutex
	current      domain.Session
	refreshToken string

	group singleflight.Group
}

// NewManager builds a session manager seeded with the configured refresh
// credential. margin is the minimum validity Acquire guarantees.
func NewManager(auth Authenticator, refreshToken string, margin time.Duration, log logger.Logger) *Manager {
	if log == nil {
		log = &logger.NopLogger{}
	}
	if margin <= 0 {
		margin = 30 * time.Second
	}
	return &Manager{
		auth:         auth,
		margin:       margin,
		refreshToken: refreshToken,
		log:          log,
	}
}

// Acquire returns a session valid for at least the configured margin,
// refreshing first when needed. Concurrent callers that trigger a refresh
// coalesce into one underlying exchange and observe the same outcome. A
// failed refresh does not invalidate a held session that has entered the
// margin but not yet expired; it is served until it actually expires.
func (m *Manager) Acquire(ctx context.Context) (domain.Session, error) {
	m.mu.RLock()
	sess := m.current
	m.mu.RUnlock()

	if sess.ValidFor(m.margin) {
		return sess, nil
	}

	fresh, err := m.refresh(ctx, false)
	if err != nil {
		m.mu.RLock()
		sess = m.current
		m.mu.RUnlock()
		if sess.ValidFor(0) {
			m.log.WarnObj("refresh failed, serving unexpired session", "session_state", map[string]any{
				"expires_at": sess.ExpiresAt.UTC(),
			})
			return sess, nil
		}
		return domain.Session{}, err
	}
	return fresh, nil
}

// Refresh unconditionally exchanges the refresh credential for a new
// session. On success the held session is replaced atomically; on failure a
// still-unexpired prior session remains usable for subsequent Acquire calls.
func (m *Manager) Refresh(ctx context.Context) (domain.Session, error) {
	return m.refresh(ctx, true)
}

func (m *Manager) refresh(ctx context.Context, force bool) (domain.Session, error) {
	v, err, _ := m.group.Do("refresh", func() (interface{}, error) {
		// A racer may have finished a refresh while we waited on the group.
		m.mu.RLock()
		sess := m.current
		token := m.refreshToken
		m.mu.RUnlock()
		if !force && sess.ValidFor(m.margin) {
			return sess, nil
		}

		fresh, err := m.auth.Authenticate(ctx, token)
		if err != nil {
			m.log.WarnObj("session refresh failed", "session_error", map[string]any{
				"error": err.Error(),
			})
			return domain.Session{}, err
		}

		m.mu.Lock()
		m.current = fresh
		if fresh.RefreshToken != "" {
			m.refreshToken = fresh.RefreshToken
		}
		m.mu.Unlock()

		m.log.InfoObj("session refreshed", "session_state", map[string]any{
			"expires_at": fresh.ExpiresAt.UTC(),
		})
		return fresh, nil
	})
	if err != nil {
		return domain.Session{}, err
	}
	return v.(domain.Session), nil
}

// Start runs a proactive refresh loop on the given interval so a long-idle
// process keeps its refresh credential warm. A non-positive interval
// disables the loop. Returns immediately; the loop stops with ctx.
func (m *Manager) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := m.Refresh(ctx); err != nil {
					m.log.ErrorObj("proactive session refresh failed", "error", err)
				}
			}
		}
	}()
}
