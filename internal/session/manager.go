// Package session manages diagnostic sessions and the per-cluster hot
// counter. Sessions are TTL-bounded keys in the store; the hot counter is an
// advisory hint for executors and never load-bearing for correctness.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kubently/kubently/internal/pkg/metrics"
	"github.com/kubently/kubently/internal/store"
)

var ErrSessionExpired = errors.New("session expired or unknown")

const keyPrefix = "session:"

// The hot counter carries a TTL covering the longest live session, so a
// session destroyed by key expiry (never closed) cannot leave the cluster
// marked hot forever.
func hotKey(clusterID string) string { return "hot:" + clusterID }

// Session is a live diagnostic session bound to one cluster.
type Session struct {
	ID         string    `json:"session_id"`
	ClusterID  string    `json:"cluster_id"`
	Identity   string    `json:"identity"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
	ExpiresAt  time.Time `json:"expires_at"`
}

// Manager creates, keeps alive, and destroys sessions.
type Manager struct {
	store      *store.Store
	defaultTTL time.Duration
}

func NewManager(s *store.Store, defaultTTL time.Duration) *Manager {
	if defaultTTL <= 0 {
		defaultTTL = 5 * time.Minute
	}
	return &Manager{store: s, defaultTTL: defaultTTL}
}

// Create opens a session for a cluster and increments the hot counter.
func (m *Manager) Create(ctx context.Context, clusterID, identity string, ttl time.Duration) (*Session, error) {
	if ttl <= 0 {
		ttl = m.defaultTTL
	}
	now := time.Now().UTC()
	s := &Session{
		ID:         uuid.New().String(),
		ClusterID:  clusterID,
		Identity:   identity,
		CreatedAt:  now,
		LastActive: now,
		ExpiresAt:  now.Add(ttl),
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	if err := m.store.SetTTL(ctx, keyPrefix+s.ID, b, ttl); err != nil {
		return nil, err
	}
	if _, err := m.store.Incr(ctx, hotKey(clusterID)); err != nil {
		// Session key exists; counter drift is tolerable (advisory only) but
		// the caller should still see the failure.
		_ = m.store.Del(ctx, keyPrefix+s.ID)
		return nil, err
	}
	m.refreshHot(ctx, clusterID, ttl)
	metrics.SessionsActive.Inc()
	return s, nil
}

// Get returns the session or ErrSessionExpired.
func (m *Manager) Get(ctx context.Context, sessionID string) (*Session, error) {
	b, err := m.store.Get(ctx, keyPrefix+sessionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionExpired
	}
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &s, nil
}

// Touch refreshes the TTL and last-active timestamp. The new deadline is
// strictly later than the previous one.
func (m *Manager) Touch(ctx context.Context, sessionID string) (*Session, error) {
	s, err := m.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	s.LastActive = now
	s.ExpiresAt = now.Add(m.defaultTTL)
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}
	if err := m.store.SetTTL(ctx, keyPrefix+sessionID, b, m.defaultTTL); err != nil {
		return nil, err
	}
	m.refreshHot(ctx, s.ClusterID, m.defaultTTL)
	return s, nil
}

// Close deletes the session and decrements the hot counter (floored at 0).
func (m *Manager) Close(ctx context.Context, sessionID string) error {
	s, err := m.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if err := m.store.Del(ctx, keyPrefix+sessionID); err != nil {
		return err
	}
	if _, err := m.store.DecrFloor(ctx, hotKey(s.ClusterID)); err != nil {
		return err
	}
	metrics.SessionsActive.Dec()
	return nil
}

// List returns live sessions, optionally filtered by cluster.
func (m *Manager) List(ctx context.Context, clusterID string) ([]*Session, error) {
	keys, err := m.store.ScanKeys(ctx, keyPrefix+"*")
	if err != nil {
		return nil, err
	}
	var out []*Session
	for _, k := range keys {
		s, err := m.Get(ctx, strings.TrimPrefix(k, keyPrefix))
		if err != nil {
			continue // expired between scan and get
		}
		if clusterID == "" || s.ClusterID == clusterID {
			out = append(out, s)
		}
	}
	return out, nil
}

// refreshHot extends the hot counter's lifetime to at least ttl. The
// deadline only ever moves later; a short session never cuts the window a
// longer one established.
func (m *Manager) refreshHot(ctx context.Context, clusterID string, ttl time.Duration) {
	key := hotKey(clusterID)
	if cur, err := m.store.TTL(ctx, key); err == nil && cur >= ttl {
		return
	}
	_ = m.store.Expire(ctx, key, ttl)
}

// IsHot reports whether the cluster has at least one active session.
// Advisory only; executors may use it to pick a faster idle strategy.
func (m *Manager) IsHot(ctx context.Context, clusterID string) (bool, error) {
	n, err := m.store.GetInt(ctx, hotKey(clusterID))
	if err != nil {
		return false, err
	}
	return n >= 1, nil
}
