package codes

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads and updates the catalog tables.
type Store struct {
	db querier
}

func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("codes: pgx pool required")
	}
	return &Store{db: pool}
}

func newStoreWithExec(db querier) *Store {
	return &Store{db: db}
}

// Search matches a code prefix on the first token, or every token against
// the accent-folded description.
func (s *Store) Search(ctx context.Context, catalog Catalog, tokens []string, limit int) ([]Code, error) {
	tbl, ok := catalogTables[catalog]
	if !ok {
		return nil, ErrUnknownCatalog
	}
	if len(tokens) == 0 {
		return []Code{}, nil
	}

	args := []any{escapeLike(strings.ToUpper(tokens[0])) + "%"}
	conds := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		args = append(args, "%"+escapeLike(tok)+"%")
		conds = append(conds, fmt.Sprintf("unaccent(%s) ILIKE $%d", tbl.textExpr, len(args)))
	}
	args = append(args, clampLimit(limit))

	query := fmt.Sprintf(`
		SELECT %s, descripcion, %s
		FROM %s
		WHERE %s ILIKE $1 OR (%s)
		ORDER BY %s
		LIMIT $%d`,
		tbl.codeCol, tbl.detail, tbl.table,
		tbl.codeCol, strings.Join(conds, " AND "),
		tbl.codeCol, len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("codes: search %s: %w", catalog, err)
	}
	defer rows.Close()

	out := []Code{}
	for rows.Next() {
		c := Code{Catalog: catalog}
		if err := rows.Scan(&c.Codigo, &c.Descripcion, &c.Detalle); err != nil {
			return nil, fmt.Errorf("codes: scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Get returns the entry for an exact code.
func (s *Store) Get(ctx context.Context, catalog Catalog, code string) (*Code, error) {
	tbl, ok := catalogTables[catalog]
	if !ok {
		return nil, ErrUnknownCatalog
	}
	query := fmt.Sprintf(`SELECT %s, descripcion, %s FROM %s WHERE upper(%s) = $1`,
		tbl.codeCol, tbl.detail, tbl.table, tbl.codeCol)
	c := Code{Catalog: catalog}
	err := s.db.QueryRow(ctx, query, strings.ToUpper(strings.TrimSpace(code))).Scan(&c.Codigo, &c.Descripcion, &c.Detalle)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("codes: get: %w", err)
	}
	return &c, nil
}

// Nearest orders entries by cosine distance to vec.
func (s *Store) Nearest(ctx context.Context, catalog Catalog, vec []float32, limit int) ([]Code, error) {
	tbl, ok := catalogTables[catalog]
	if !ok {
		return nil, ErrUnknownCatalog
	}
	query := fmt.Sprintf(`
		SELECT %s, descripcion, %s, embedding <=> $1 AS distance
		FROM %s
		WHERE embedding IS NOT NULL
		ORDER BY embedding <=> $1
		LIMIT $2`, tbl.codeCol, tbl.detail, tbl.table)

	rows, err := s.db.Query(ctx, query, pgvector.NewVector(vec), clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("codes: nearest %s: %w", catalog, err)
	}
	defer rows.Close()

	out := []Code{}
	for rows.Next() {
		var distance float64
		c := Code{Catalog: catalog}
		if err := rows.Scan(&c.Codigo, &c.Descripcion, &c.Detalle, &distance); err != nil {
			return nil, fmt.Errorf("codes: scan: %w", err)
		}
		c.Distance = &distance
		out = append(out, c)
	}
	return out, rows.Err()
}

// MissingEmbeddings returns up to limit entries without an embedding.
func (s *Store) MissingEmbeddings(ctx context.Context, catalog Catalog, limit int) ([]Code, error) {
	tbl, ok := catalogTables[catalog]
	if !ok {
		return nil, ErrUnknownCatalog
	}
	query := fmt.Sprintf(`SELECT %s, %s, %s FROM %s WHERE embedding IS NULL ORDER BY %s LIMIT $1`,
		tbl.codeCol, tbl.textExpr, tbl.detail, tbl.table, tbl.codeCol)
	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("codes: missing embeddings: %w", err)
	}
	defer rows.Close()

	out := []Code{}
	for rows.Next() {
		c := Code{Catalog: catalog}
		if err := rows.Scan(&c.Codigo, &c.Descripcion, &c.Detalle); err != nil {
			return nil, fmt.Errorf("codes: scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SetEmbedding stores the vector for a code.
func (s *Store) SetEmbedding(ctx context.Context, catalog Catalog, code string, vec []float32) error {
	tbl, ok := catalogTables[catalog]
	if !ok {
		return ErrUnknownCatalog
	}
	query := fmt.Sprintf(`UPDATE %s SET embedding = $2 WHERE %s = $1`, tbl.table, tbl.codeCol)
	if _, err := s.db.Exec(ctx, query, code, pgvector.NewVector(vec)); err != nil {
		return fmt.Errorf("codes: set embedding: %w", err)
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
