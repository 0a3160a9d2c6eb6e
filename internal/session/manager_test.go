package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/kubently/kubently/internal/store"
)

func newTestManager(t *testing.T) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	s := store.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { s.Close() })
	return NewManager(s, 5*time.Minute), mr
}

func TestCreateAndGet(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, "kind", "user@example.com", 0)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if s.ID == "" {
		t.Fatal("Create() returned empty session id")
	}
	if s.ClusterID != "kind" || s.Identity != "user@example.com" {
		t.Errorf("session = %+v, want cluster kind / identity user@example.com", s)
	}

	got, err := m.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.ID != s.ID {
		t.Errorf("Get() id = %q, want %q", got.ID, s.ID)
	}
}

func TestCreateMarksClusterHot(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	hot, err := m.IsHot(ctx, "kind")
	if err != nil {
		t.Fatalf("IsHot() error: %v", err)
	}
	if hot {
		t.Error("IsHot() = true before any session")
	}

	s, err := m.Create(ctx, "kind", "dev", 0)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if hot, _ = m.IsHot(ctx, "kind"); !hot {
		t.Error("IsHot() = false with an active session")
	}

	if err := m.Close(ctx, s.ID); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if hot, _ = m.IsHot(ctx, "kind"); hot {
		t.Error("IsHot() = true after the only session closed")
	}
}

func TestGetExpired(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, "kind", "dev", time.Minute)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	mr.FastForward(2 * time.Minute)

	if _, err := m.Get(ctx, s.ID); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("Get() after expiry error = %v, want ErrSessionExpired", err)
	}
}

func TestTouchExtendsDeadline(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, "kind", "dev", time.Minute)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	before := s.ExpiresAt

	time.Sleep(5 * time.Millisecond)
	touched, err := m.Touch(ctx, s.ID)
	if err != nil {
		t.Fatalf("Touch() error: %v", err)
	}
	if !touched.ExpiresAt.After(before) {
		t.Errorf("Touch() deadline %v not after original %v", touched.ExpiresAt, before)
	}
	if !touched.LastActive.After(s.LastActive) {
		t.Errorf("Touch() last_active %v not after original %v", touched.LastActive, s.LastActive)
	}
}

func TestTouchUnknownSession(t *testing.T) {
	m, _ := newTestManager(t)
	if _, err := m.Touch(context.Background(), "nope"); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("Touch() error = %v, want ErrSessionExpired", err)
	}
}

func TestCloseIsTerminal(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, "kind", "dev", 0)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if err := m.Close(ctx, s.ID); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := m.Close(ctx, s.ID); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("second Close() error = %v, want ErrSessionExpired", err)
	}
}

func TestHotCounterNeverNegative(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	// Two sessions, two closes, then expiry-driven drift: the counter must
	// stay at zero even if a decrement races a TTL cleanup.
	a, _ := m.Create(ctx, "kind", "dev", 0)
	b, _ := m.Create(ctx, "kind", "dev", 0)
	m.Close(ctx, a.ID)
	m.Close(ctx, b.ID)

	hot, err := m.IsHot(ctx, "kind")
	if err != nil {
		t.Fatalf("IsHot() error: %v", err)
	}
	if hot {
		t.Error("IsHot() = true after all sessions closed")
	}
}

func TestHotClearsAfterSessionExpiry(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	// The session dies by TTL, never by Close. The hot counter must not
	// outlive it.
	if _, err := m.Create(ctx, "kind", "dev", time.Second); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if hot, _ := m.IsHot(ctx, "kind"); !hot {
		t.Fatal("IsHot() = false with a live session")
	}

	mr.FastForward(2 * time.Second)

	hot, err := m.IsHot(ctx, "kind")
	if err != nil {
		t.Fatalf("IsHot() error: %v", err)
	}
	if hot {
		t.Error("IsHot() = true after the only session expired unclosed")
	}
}

func TestHotTracksLongestSession(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Create(ctx, "kind", "dev", 5*time.Minute); err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if _, err := m.Create(ctx, "kind", "dev", time.Minute); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	// The short session expires; the long one is still live.
	mr.FastForward(2 * time.Minute)
	if hot, _ := m.IsHot(ctx, "kind"); !hot {
		t.Error("IsHot() = false while the longer session is still live")
	}

	mr.FastForward(4 * time.Minute)
	if hot, _ := m.IsHot(ctx, "kind"); hot {
		t.Error("IsHot() = true after both sessions expired")
	}
}

func TestTouchExtendsHotWindow(t *testing.T) {
	m, mr := newTestManager(t)
	ctx := context.Background()

	s, err := m.Create(ctx, "kind", "dev", time.Minute)
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	mr.FastForward(30 * time.Second)
	if _, err := m.Touch(ctx, s.ID); err != nil {
		t.Fatalf("Touch() error: %v", err)
	}

	// Past the original minute but inside the refreshed window.
	mr.FastForward(time.Minute)
	if hot, _ := m.IsHot(ctx, "kind"); !hot {
		t.Error("IsHot() = false after Touch refreshed the session")
	}
}

func TestListFiltersByCluster(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	m.Create(ctx, "kind", "dev", 0)
	m.Create(ctx, "kind", "dev", 0)
	m.Create(ctx, "prod", "ops", 0)

	all, err := m.List(ctx, "")
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("List(\"\") returned %d sessions, want 3", len(all))
	}

	kind, err := m.List(ctx, "kind")
	if err != nil {
		t.Fatalf("List(kind) error: %v", err)
	}
	if len(kind) != 2 {
		t.Errorf("List(kind) returned %d sessions, want 2", len(kind))
	}
}
