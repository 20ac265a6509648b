package codes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/portalsalud/portal-colaboradores/pkg/logging"
)

// Embedder turns text into vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

type catalogStore interface {
	Search(ctx context.Context, catalog Catalog, tokens []string, limit int) ([]Code, error)
	Get(ctx context.Context, catalog Catalog, code string) (*Code, error)
	Nearest(ctx context.Context, catalog Catalog, vec []float32, limit int) ([]Code, error)
	MissingEmbeddings(ctx context.Context, catalog Catalog, limit int) ([]Code, error)
	SetEmbedding(ctx context.Context, catalog Catalog, code string, vec []float32) error
}

// Service exposes catalog lookups.
type Service struct {
	store    catalogStore
	embedder Embedder
	logger   *logging.Logger
}

// NewService creates the lookup service; embedder may be nil.
func NewService(store catalogStore, embedder Embedder, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{store: store, embedder: embedder, logger: logger}
}

// Search runs the token search. An empty query yields no results.
func (s *Service) Search(ctx context.Context, catalog, q string, limit int) ([]Code, error) {
	c, err := ParseCatalog(catalog)
	if err != nil {
		return nil, err
	}
	return s.store.Search(ctx, c, Tokens(q), limit)
}

// Get returns a single code.
func (s *Service) Get(ctx context.Context, catalog, code string) (*Code, error) {
	c, err := ParseCatalog(catalog)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(code) == "" {
		return nil, ErrCodeNotFound
	}
	return s.store.Get(ctx, c, code)
}

// Exists reports whether code is present in catalog.
func (s *Service) Exists(ctx context.Context, catalog Catalog, code string) (bool, error) {
	_, err := s.store.Get(ctx, catalog, code)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, ErrCodeNotFound) {
		return false, nil
	}
	return false, err
}

// SemanticSearch ranks entries by embedding similarity to q.
func (s *Service) SemanticSearch(ctx context.Context, catalog, q string, limit int) ([]Code, error) {
	c, err := ParseCatalog(catalog)
	if err != nil {
		return nil, err
	}
	if s.embedder == nil {
		return nil, ErrNoEmbedder
	}
	q = strings.TrimSpace(q)
	if q == "" {
		return []Code{}, nil
	}
	vec, err := s.embedder.Embed(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("codes: embed query: %w", err)
	}
	return s.store.Nearest(ctx, c, vec, limit)
}

// Reindex embeds entries missing a vector, batch at a time, and returns how
// many were updated.
func (s *Service) Reindex(ctx context.Context, catalog Catalog, batch int) (int, error) {
	if s.embedder == nil {
		return 0, ErrNoEmbedder
	}
	if batch <= 0 {
		batch = 100
	}
	total := 0
	for {
		pending, err := s.store.MissingEmbeddings(ctx, catalog, batch)
		if err != nil {
			return total, err
		}
		if len(pending) == 0 {
			return total, nil
		}
		texts := make([]string, len(pending))
		for i, c := range pending {
			texts[i] = strings.TrimSpace(c.Codigo + " " + c.Descripcion + " " + c.Detalle)
		}
		vecs, err := s.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return total, fmt.Errorf("codes: embed batch: %w", err)
		}
		if len(vecs) != len(pending) {
			return total, fmt.Errorf("codes: embedder returned %d vectors for %d inputs", len(vecs), len(pending))
		}
		for i, c := range pending {
			if err := s.store.SetEmbedding(ctx, catalog, c.Codigo, vecs[i]); err != nil {
				return total, err
			}
			total++
		}
		s.logger.Info("catalog embeddings updated", "catalog", catalog, "count", len(pending), "total", total)
		if len(pending) < batch {
			return total, nil
		}
	}
}
