// Package session tracks collaborator inactivity in Redis. A session stays
// alive while requests keep touching it; once the idle timeout passes without
// activity it is gone and the collaborator must sign in again.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrSessionExpired is returned when the session is unknown or idle too long.
	ErrSessionExpired = errors.New("session expired")
	// ErrMissingSessionID is returned for blank session ids.
	ErrMissingSessionID = errors.New("session id required")
)

const defaultPrefix = "portal:session:"

// Status describes where a session sits relative to the idle timers.
type Status struct {
	SessionID        string    `json:"session_id"`
	Active           bool      `json:"active"`
	Warning          bool      `json:"warning"`
	RemainingSeconds int64     `json:"remaining_seconds"`
	LastActivity     time.Time `json:"last_activity"`
	WarningAt        time.Time `json:"warning_at"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// Store keeps last-activity timestamps with a sliding TTL.
type Store struct {
	client  *redis.Client
	idle    time.Duration
	warning time.Duration
	prefix  string
	now     func() time.Time
}

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithPrefix overrides the Redis key prefix.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

// NewStore creates a session store. The warning window is clamped to the idle timeout.
func NewStore(client *redis.Client, idle, warning time.Duration, opts ...Option) *Store {
	if client == nil {
		panic("session: redis client required")
	}
	if idle <= 0 {
		idle = 15 * time.Minute
	}
	if warning <= 0 || warning > idle {
		warning = idle / 15
	}
	s := &Store{
		client:  client,
		idle:    idle,
		warning: warning,
		prefix:  defaultPrefix,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IdleTimeout returns the configured idle timeout.
func (s *Store) IdleTimeout() time.Duration { return s.idle }

// Start records a fresh session, replacing any previous state for id.
func (s *Store) Start(ctx context.Context, id string) (Status, error) {
	key, err := s.key(id)
	if err != nil {
		return Status{}, err
	}
	now := s.now()
	if err := s.client.Set(ctx, key, now.UnixMilli(), s.idle).Err(); err != nil {
		return Status{}, fmt.Errorf("session: start: %w", err)
	}
	return s.status(id, now, now), nil
}

// Touch marks activity on an existing session, sliding its expiry.
func (s *Store) Touch(ctx context.Context, id string) (Status, error) {
	key, err := s.key(id)
	if err != nil {
		return Status{}, err
	}
	now := s.now()
	last, err := s.lastActivity(ctx, key)
	if err != nil {
		return Status{}, err
	}
	if now.Sub(last) >= s.idle {
		_ = s.client.Del(ctx, key).Err()
		return Status{}, ErrSessionExpired
	}
	ok, err := s.client.SetXX(ctx, key, now.UnixMilli(), s.idle).Result()
	if err != nil {
		return Status{}, fmt.Errorf("session: touch: %w", err)
	}
	if !ok {
		return Status{}, ErrSessionExpired
	}
	return s.status(id, now, now), nil
}

// Status reports the session timers without extending them.
func (s *Store) Status(ctx context.Context, id string) (Status, error) {
	key, err := s.key(id)
	if err != nil {
		return Status{}, err
	}
	last, err := s.lastActivity(ctx, key)
	if err != nil {
		return Status{}, err
	}
	now := s.now()
	st := s.status(id, last, now)
	if !st.Active {
		_ = s.client.Del(ctx, key).Err()
		return Status{}, ErrSessionExpired
	}
	return st, nil
}

// End removes the session. Ending an unknown session is not an error.
func (s *Store) End(ctx context.Context, id string) error {
	key, err := s.key(id)
	if err != nil {
		return err
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("session: end: %w", err)
	}
	return nil
}

func (s *Store) lastActivity(ctx context.Context, key string) (time.Time, error) {
	raw, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, ErrSessionExpired
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("session: read: %w", err)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("session: corrupt timestamp %q: %w", raw, err)
	}
	return time.UnixMilli(ms), nil
}

func (s *Store) status(id string, last, now time.Time) Status {
	expiresAt := last.Add(s.idle)
	warningAt := expiresAt.Add(-s.warning)
	remaining := expiresAt.Sub(now)
	st := Status{
		SessionID:    id,
		LastActivity: last.UTC(),
		WarningAt:    warningAt.UTC(),
		ExpiresAt:    expiresAt.UTC(),
	}
	if remaining <= 0 {
		return st
	}
	st.Active = true
	st.Warning = !now.Before(warningAt)
	st.RemainingSeconds = int64(remaining.Round(time.Second) / time.Second)
	return st
}

func (s *Store) key(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", ErrMissingSessionID
	}
	return s.prefix + id, nil
}
