package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(t *testing.T) (*Store, *fakeClock, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := &fakeClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	return NewStore(client, 15*time.Minute, time.Minute, WithClock(clock.Now)), clock, mr
}

func TestStartAndStatus(t *testing.T) {
	store, clock, mr := newTestStore(t)
	ctx := context.Background()

	st, err := store.Start(ctx, "sess-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if !st.Active || st.Warning || st.RemainingSeconds != 900 {
		t.Fatalf("unexpected initial status %+v", st)
	}
	if ttl := mr.TTL(defaultPrefix + "sess-1"); ttl != 15*time.Minute {
		t.Fatalf("expected redis ttl 15m, got %s", ttl)
	}

	clock.Advance(10 * time.Minute)
	st, err = store.Status(ctx, "sess-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if st.Warning || st.RemainingSeconds != 300 {
		t.Fatalf("expected 5m left without warning, got %+v", st)
	}
}

func TestWarningWindow(t *testing.T) {
	store, clock, _ := newTestStore(t)
	ctx := context.Background()
	if _, err := store.Start(ctx, "sess-1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	clock.Advance(14 * time.Minute)
	st, err := store.Status(ctx, "sess-1")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.Warning || st.RemainingSeconds != 60 {
		t.Fatalf("expected warning with 60s left, got %+v", st)
	}
	if !st.WarningAt.Equal(time.Date(2026, 3, 2, 9, 14, 0, 0, time.UTC)) {
		t.Fatalf("unexpected warning_at %s", st.WarningAt)
	}
}

func TestTouchSlidesExpiry(t *testing.T) {
	store, clock, _ := newTestStore(t)
	ctx := context.Background()
	if _, err := store.Start(ctx, "sess-1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	clock.Advance(14*time.Minute + 30*time.Second)
	st, err := store.Touch(ctx, "sess-1")
	if err != nil {
		t.Fatalf("touch: %v", err)
	}
	if st.Warning || st.RemainingSeconds != 900 {
		t.Fatalf("touch should reset both timers, got %+v", st)
	}

	clock.Advance(14 * time.Minute)
	if _, err := store.Status(ctx, "sess-1"); err != nil {
		t.Fatalf("session should still be alive: %v", err)
	}
}

func TestIdleSessionExpires(t *testing.T) {
	store, clock, mr := newTestStore(t)
	ctx := context.Background()
	if _, err := store.Start(ctx, "sess-1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	clock.Advance(15 * time.Minute)
	if _, err := store.Touch(ctx, "sess-1"); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected expired on touch, got %v", err)
	}
	if mr.Exists(defaultPrefix + "sess-1") {
		t.Fatalf("expired session key should be removed")
	}
}

func TestRedisTTLExpiry(t *testing.T) {
	store, _, mr := newTestStore(t)
	ctx := context.Background()
	if _, err := store.Start(ctx, "sess-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	mr.FastForward(16 * time.Minute)
	if _, err := store.Status(ctx, "sess-1"); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected expired after ttl, got %v", err)
	}
}

func TestEndAndMissingID(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	if _, err := store.Start(ctx, "sess-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := store.End(ctx, "sess-1"); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, err := store.Touch(ctx, "sess-1"); !errors.Is(err, ErrSessionExpired) {
		t.Fatalf("expected expired after end, got %v", err)
	}
	if err := store.End(ctx, "sess-unknown"); err != nil {
		t.Fatalf("ending unknown session should be a no-op: %v", err)
	}
	if _, err := store.Start(ctx, "  "); !errors.Is(err, ErrMissingSessionID) {
		t.Fatalf("expected missing id, got %v", err)
	}
}
