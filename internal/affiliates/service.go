package affiliates

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/portalsalud/portal-colaboradores/pkg/logging"
)

const cachePrefix = "portal:afiliados:search:"

// Service wraps the repository with a short-lived Redis result cache, since
// the search box fires a request per debounced keystroke.
type Service struct {
	repo   Repository
	cache  *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewService creates the search service. cache may be nil.
func NewService(repo Repository, cache *redis.Client, ttl time.Duration, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Service{repo: repo, cache: cache, ttl: ttl, logger: logger}
}

// Search returns matching afiliados or ErrQueryTooShort.
func (s *Service) Search(ctx context.Context, raw string, limit int) ([]Afiliado, error) {
	q, err := ParseQuery(raw, limit)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		data, err := s.cache.Get(ctx, cachePrefix+q.CacheKey()).Bytes()
		switch {
		case err == nil:
			var cached []Afiliado
			if jsonErr := json.Unmarshal(data, &cached); jsonErr == nil {
				return cached, nil
			}
		case !errors.Is(err, redis.Nil):
			s.logger.Warn("afiliados cache read failed", "error", err)
		}
	}

	results, err := s.repo.Search(ctx, q)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if data, err := json.Marshal(results); err == nil {
			if err := s.cache.Set(ctx, cachePrefix+q.CacheKey(), data, s.ttl).Err(); err != nil {
				s.logger.Warn("afiliados cache write failed", "error", err)
			}
		}
	}
	return results, nil
}

// Get returns a single afiliado by document.
func (s *Service) Get(ctx context.Context, tipo, numero string) (*Afiliado, error) {
	return s.repo.GetByDocumento(ctx, tipo, numero)
}
