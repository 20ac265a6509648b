package affiliates

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/portalsalud/portal-colaboradores/internal/codes"
)

// Repository looks up afiliados.
type Repository interface {
	Search(ctx context.Context, q Query) ([]Afiliado, error)
	GetByDocumento(ctx context.Context, tipo, numero string) (*Afiliado, error)
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository searches the afiliados table.
type PostgresRepository struct {
	db querier
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("affiliates: pgx pool required")
	}
	return &PostgresRepository{db: pool}
}

func newPostgresRepositoryWithExec(db querier) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const afiliadoColumns = `id::text, tipo_documento, numero_documento, nombres, apellidos, eps, regimen, estado, telefono, email, municipio`

// Search matches document prefixes for numeric input, otherwise every token
// must appear in the full name (accent-insensitive).
func (r *PostgresRepository) Search(ctx context.Context, q Query) ([]Afiliado, error) {
	var (
		sql  string
		args []any
	)
	if q.Numeric {
		args = append(args, escapeLike(q.Raw)+"%", q.Limit)
		sql = `SELECT ` + afiliadoColumns + ` FROM afiliados
			WHERE numero_documento LIKE $1
			ORDER BY numero_documento
			LIMIT $2`
	} else {
		conds := make([]string, 0, len(q.Tokens))
		for _, tok := range q.Tokens {
			args = append(args, "%"+escapeLike(tok)+"%")
			conds = append(conds, fmt.Sprintf("unaccent(nombres || ' ' || apellidos) ILIKE unaccent($%d)", len(args)))
		}
		args = append(args, q.Limit)
		sql = `SELECT ` + afiliadoColumns + ` FROM afiliados
			WHERE ` + strings.Join(conds, " AND ") + `
			ORDER BY apellidos, nombres
			LIMIT $` + fmt.Sprint(len(args))
	}

	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("affiliates: search: %w", err)
	}
	defer rows.Close()

	out := []Afiliado{}
	for rows.Next() {
		a, err := scanAfiliado(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) GetByDocumento(ctx context.Context, tipo, numero string) (*Afiliado, error) {
	row := r.db.QueryRow(ctx, `SELECT `+afiliadoColumns+` FROM afiliados WHERE tipo_documento = $1 AND numero_documento = $2`,
		strings.ToUpper(strings.TrimSpace(tipo)), strings.TrimSpace(numero))
	a, err := scanAfiliado(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAfiliadoNotFound
	}
	return a, err
}

func scanAfiliado(row pgx.Row) (*Afiliado, error) {
	var a Afiliado
	if err := row.Scan(&a.ID, &a.TipoDocumento, &a.NumeroDocumento, &a.Nombres, &a.Apellidos,
		&a.EPS, &a.Regimen, &a.Estado, &a.Telefono, &a.Email, &a.Municipio); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("affiliates: scan: %w", err)
	}
	return &a, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

// InMemoryRepository is used by tests and local development.
type InMemoryRepository struct {
	mu    sync.RWMutex
	items []Afiliado
}

func NewInMemoryRepository(seed ...Afiliado) *InMemoryRepository {
	return &InMemoryRepository{items: append([]Afiliado(nil), seed...)}
}

func (r *InMemoryRepository) Search(ctx context.Context, q Query) ([]Afiliado, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []Afiliado{}
	for _, a := range r.items {
		if q.Numeric {
			if strings.HasPrefix(a.NumeroDocumento, q.Raw) {
				out = append(out, a)
			}
			continue
		}
		name := codes.Normalize(a.NombreCompleto())
		match := true
		for _, tok := range q.Tokens {
			if !strings.Contains(name, tok) {
				match = false
				break
			}
		}
		if match {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if q.Numeric {
			return out[i].NumeroDocumento < out[j].NumeroDocumento
		}
		return out[i].Apellidos+out[i].Nombres < out[j].Apellidos+out[j].Nombres
	})
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (r *InMemoryRepository) GetByDocumento(ctx context.Context, tipo, numero string) (*Afiliado, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.items {
		if strings.EqualFold(a.TipoDocumento, strings.TrimSpace(tipo)) && a.NumeroDocumento == strings.TrimSpace(numero) {
			cp := a
			return &cp, nil
		}
	}
	return nil, ErrAfiliadoNotFound
}
