package collaborators

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository reads the colaboradores table.
type PostgresRepository struct {
	db querier
}

// NewPostgresRepository initializes a repo backed by pgxpool.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("collaborators: pgx pool required")
	}
	return &PostgresRepository{db: pool}
}

func newPostgresRepositoryWithExec(db querier) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const selectColumns = `id::text, COALESCE(auth_user_id::text, ''), email, nombre, cargo, rol, sede, telefono, activo, created_at, updated_at`

// validID keeps malformed ids away from the uuid column, where Postgres
// would fail the cast instead of finding no row.
func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*Collaborator, error) {
	if !validID(id) {
		return nil, ErrCollaboratorNotFound
	}
	row := r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM colaboradores WHERE id = $1`, id)
	return scanOne(row)
}

func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*Collaborator, error) {
	row := r.db.QueryRow(ctx, `SELECT `+selectColumns+` FROM colaboradores WHERE lower(email) = $1`, normalizeEmail(email))
	return scanOne(row)
}

func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]*Collaborator, error) {
	filter.normalize()
	var (
		where []string
		args  []any
	)
	if filter.Rol != "" {
		args = append(args, string(filter.Rol))
		where = append(where, fmt.Sprintf("rol = $%d", len(args)))
	}
	if filter.Activo != nil {
		args = append(args, *filter.Activo)
		where = append(where, fmt.Sprintf("activo = $%d", len(args)))
	}
	if filter.Query != "" {
		args = append(args, "%"+filter.Query+"%")
		where = append(where, fmt.Sprintf("(nombre ILIKE $%d OR email ILIKE $%d)", len(args), len(args)))
	}
	query := `SELECT ` + selectColumns + ` FROM colaboradores`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY nombre LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("collaborators: list: %w", err)
	}
	defer rows.Close()

	out := []*Collaborator{}
	for rows.Next() {
		c, err := scanOne(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) SetActive(ctx context.Context, id string, active bool) (*Collaborator, error) {
	if !validID(id) {
		return nil, ErrCollaboratorNotFound
	}
	row := r.db.QueryRow(ctx, `
		UPDATE colaboradores SET activo = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+selectColumns, id, active)
	return scanOne(row)
}

func (r *PostgresRepository) UpdateRole(ctx context.Context, id string, role Role) (*Collaborator, error) {
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	if !validID(id) {
		return nil, ErrCollaboratorNotFound
	}
	row := r.db.QueryRow(ctx, `
		UPDATE colaboradores SET rol = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+selectColumns, id, string(role))
	return scanOne(row)
}

func scanOne(row pgx.Row) (*Collaborator, error) {
	var (
		c   Collaborator
		rol string
	)
	err := row.Scan(&c.ID, &c.AuthUserID, &c.Email, &c.Nombre, &c.Cargo, &rol, &c.Sede, &c.Telefono, &c.Activo, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCollaboratorNotFound
		}
		return nil, fmt.Errorf("collaborators: scan: %w", err)
	}
	c.Rol = Role(rol)
	return &c, nil
}
