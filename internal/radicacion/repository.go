package radicacion

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/portalsalud/portal-colaboradores/internal/events"
)

// Repository persists radicados. Every write also appends its outbox event
// in the same transaction.
type Repository interface {
	Create(ctx context.Context, r *Radicado) error
	Get(ctx context.Context, id string) (*Radicado, error)
	GetByNumero(ctx context.Context, numero string) (*Radicado, error)
	List(ctx context.Context, filter ListFilter) (Page, error)
	Transition(ctx context.Context, id string, to Estado, actorID, observacion string) (*Radicado, Estado, error)
	Assign(ctx context.Context, id, asignadoA, actorID string) (*Radicado, error)
	History(ctx context.Context, id string) ([]HistorialEntry, error)
	Stats(ctx context.Context, now time.Time) (Stats, error)
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresRepository is the production Repository.
type PostgresRepository struct {
	db  querier
	now func() time.Time
}

func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	if pool == nil {
		panic("radicacion: pgx pool required")
	}
	return &PostgresRepository{db: pool, now: time.Now}
}

func newPostgresRepositoryWithExec(db querier) *PostgresRepository {
	return &PostgresRepository{db: db, now: time.Now}
}

const radicadoColumns = `id, numero, tipo, estado, prioridad,
	afiliado_tipo_doc, afiliado_numero_doc, afiliado_nombre, afiliado_telefono, afiliado_email, eps,
	diagnostico_cie10, procedimientos_cups, medicamentos, descripcion,
	radicado_por, asignado_a, fecha_vencimiento, created_at, updated_at`

func scanRadicado(row pgx.Row) (*Radicado, error) {
	var r Radicado
	err := row.Scan(
		&r.ID, &r.Numero, &r.Tipo, &r.Estado, &r.Prioridad,
		&r.Afiliado.TipoDocumento, &r.Afiliado.NumeroDocumento, &r.Afiliado.Nombre,
		&r.Afiliado.Telefono, &r.Afiliado.Email, &r.Afiliado.EPS,
		&r.DiagnosticoCIE10, &r.ProcedimientosCUPS, &r.Medicamentos, &r.Descripcion,
		&r.RadicadoPor, &r.AsignadoA, &r.FechaVencimiento, &r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRadicadoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("radicacion: scan radicado: %w", err)
	}
	if r.ProcedimientosCUPS == nil {
		r.ProcedimientosCUPS = []string{}
	}
	if r.Medicamentos == nil {
		r.Medicamentos = []string{}
	}
	return &r, nil
}

// Create issues the next number and inserts r. r.Numero is set on success.
func (p *PostgresRepository) Create(ctx context.Context, r *Radicado) (err error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("radicacion: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var seq int64
	if err = tx.QueryRow(ctx, `SELECT nextval('radicado_seq')`).Scan(&seq); err != nil {
		return fmt.Errorf("radicacion: next numero: %w", err)
	}
	r.Numero = FormatNumero(r.CreatedAt, seq)

	_, err = tx.Exec(ctx, `
		INSERT INTO radicados (
			id, numero, tipo, estado, prioridad,
			afiliado_tipo_doc, afiliado_numero_doc, afiliado_nombre, afiliado_telefono, afiliado_email, eps,
			diagnostico_cie10, procedimientos_cups, medicamentos, descripcion,
			radicado_por, fecha_vencimiento, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $18)`,
		r.ID, r.Numero, string(r.Tipo), string(r.Estado), string(r.Prioridad),
		r.Afiliado.TipoDocumento, r.Afiliado.NumeroDocumento, r.Afiliado.Nombre,
		r.Afiliado.Telefono, r.Afiliado.Email, r.Afiliado.EPS,
		r.DiagnosticoCIE10, r.ProcedimientosCUPS, r.Medicamentos, r.Descripcion,
		r.RadicadoPor, r.FechaVencimiento, r.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("radicacion: insert radicado: %w", err)
	}
	if _, err = events.AppendCanonicalEvent(ctx, tx, aggregate(r.ID), "", createdEvent(r)); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("radicacion: commit: %w", err)
	}
	return nil
}

func (p *PostgresRepository) Get(ctx context.Context, id string) (*Radicado, error) {
	return scanRadicado(p.db.QueryRow(ctx, `SELECT `+radicadoColumns+` FROM radicados WHERE id = $1`, id))
}

func (p *PostgresRepository) GetByNumero(ctx context.Context, numero string) (*Radicado, error) {
	return scanRadicado(p.db.QueryRow(ctx, `SELECT `+radicadoColumns+` FROM radicados WHERE numero = $1`, numero))
}

func (p *PostgresRepository) List(ctx context.Context, filter ListFilter) (Page, error) {
	filter.normalize()
	var (
		conds []string
		args  []any
	)
	if filter.Estado != "" {
		args = append(args, string(filter.Estado))
		conds = append(conds, fmt.Sprintf("estado = $%d", len(args)))
	}
	if filter.Tipo != "" {
		args = append(args, string(filter.Tipo))
		conds = append(conds, fmt.Sprintf("tipo = $%d", len(args)))
	}
	if filter.AsignadoA != "" {
		args = append(args, filter.AsignadoA)
		conds = append(conds, fmt.Sprintf("asignado_a = $%d", len(args)))
	}
	if filter.Query != "" {
		args = append(args, "%"+filter.Query+"%")
		n := len(args)
		conds = append(conds, fmt.Sprintf("(numero ILIKE $%d OR afiliado_numero_doc ILIKE $%d OR afiliado_nombre ILIKE $%d)", n, n, n))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	page := Page{Items: []Radicado{}, Page: filter.Page, PageSize: filter.PageSize}
	if err := p.db.QueryRow(ctx, `SELECT count(*) FROM radicados`+where, args...).Scan(&page.Total); err != nil {
		return page, fmt.Errorf("radicacion: count: %w", err)
	}

	args = append(args, filter.PageSize, (filter.Page-1)*filter.PageSize)
	query := fmt.Sprintf(`SELECT %s FROM radicados%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		radicadoColumns, where, len(args)-1, len(args))
	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return page, fmt.Errorf("radicacion: list: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		r, err := scanRadicado(rows)
		if err != nil {
			return page, err
		}
		page.Items = append(page.Items, *r)
	}
	return page, rows.Err()
}

// Transition locks the row, checks the move, and records history and the
// outbox event. It returns the updated radicado and its previous state.
func (p *PostgresRepository) Transition(ctx context.Context, id string, to Estado, actorID, observacion string) (_ *Radicado, _ Estado, err error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("radicacion: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	r, err := scanRadicado(tx.QueryRow(ctx, `SELECT `+radicadoColumns+` FROM radicados WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, "", err
	}
	from := r.Estado
	if !CanTransition(from, to) {
		err = fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
		return nil, "", err
	}

	now := p.now().UTC()
	if _, err = tx.Exec(ctx, `UPDATE radicados SET estado = $2, updated_at = $3 WHERE id = $1`, id, string(to), now); err != nil {
		return nil, "", fmt.Errorf("radicacion: update estado: %w", err)
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO radicado_historial (id, radicado_id, estado_anterior, estado_nuevo, colaborador_id, observacion, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		uuid.NewString(), id, string(from), string(to), actorID, observacion, now)
	if err != nil {
		return nil, "", fmt.Errorf("radicacion: insert historial: %w", err)
	}
	r.Estado = to
	r.UpdatedAt = now
	if _, err = events.AppendCanonicalEvent(ctx, tx, aggregate(id), "", estadoEvent(r, from, actorID, observacion, now)); err != nil {
		return nil, "", err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, "", fmt.Errorf("radicacion: commit: %w", err)
	}
	return r, from, nil
}

func (p *PostgresRepository) Assign(ctx context.Context, id, asignadoA, actorID string) (_ *Radicado, err error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("radicacion: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	r, err := scanRadicado(tx.QueryRow(ctx, `SELECT `+radicadoColumns+` FROM radicados WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, err
	}
	if r.Estado.Final() {
		err = fmt.Errorf("%w: %s radicado cannot be assigned", ErrInvalidTransition, r.Estado)
		return nil, err
	}
	now := p.now().UTC()
	if _, err = tx.Exec(ctx, `UPDATE radicados SET asignado_a = $2, updated_at = $3 WHERE id = $1`, id, asignadoA, now); err != nil {
		return nil, fmt.Errorf("radicacion: assign: %w", err)
	}
	r.AsignadoA = &asignadoA
	r.UpdatedAt = now
	evt := events.RadicadoAsignadoV1{RadicadoID: id, Numero: r.Numero, AsignadoA: asignadoA, AsignadoPor: actorID, OccurredAt: now}
	if _, err = events.AppendCanonicalEvent(ctx, tx, aggregate(id), "", evt); err != nil {
		return nil, err
	}
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("radicacion: commit: %w", err)
	}
	return r, nil
}

func (p *PostgresRepository) History(ctx context.Context, id string) ([]HistorialEntry, error) {
	rows, err := p.db.Query(ctx, `
		SELECT id, radicado_id, estado_anterior, estado_nuevo, colaborador_id, observacion, created_at
		FROM radicado_historial
		WHERE radicado_id = $1
		ORDER BY created_at`, id)
	if err != nil {
		return nil, fmt.Errorf("radicacion: history: %w", err)
	}
	defer rows.Close()
	out := []HistorialEntry{}
	for rows.Next() {
		var h HistorialEntry
		if err := rows.Scan(&h.ID, &h.RadicadoID, &h.EstadoAnterior, &h.EstadoNuevo, &h.ColaboradorID, &h.Observacion, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("radicacion: scan historial: %w", err)
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

// Stats counts radicados by estado and tipo. Open radicados whose due date is
// before today in Bogotá are overdue.
func (p *PostgresRepository) Stats(ctx context.Context, now time.Time) (Stats, error) {
	st := Stats{PorEstado: map[Estado]int{}, PorTipo: map[Tipo]int{}}
	rows, err := p.db.Query(ctx, `SELECT estado, tipo, count(*) FROM radicados GROUP BY estado, tipo`)
	if err != nil {
		return st, fmt.Errorf("radicacion: stats: %w", err)
	}
	for rows.Next() {
		var (
			estado, tipo string
			n            int
		)
		if err := rows.Scan(&estado, &tipo, &n); err != nil {
			rows.Close()
			return st, fmt.Errorf("radicacion: scan stats: %w", err)
		}
		st.PorEstado[Estado(estado)] += n
		st.PorTipo[Tipo(tipo)] += n
		st.Total += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return st, err
	}

	today := now.In(Bogota).Format("2006-01-02")
	err = p.db.QueryRow(ctx, `
		SELECT count(*) FROM radicados
		WHERE fecha_vencimiento < $1::date AND estado = ANY($2)`,
		today, openEstados()).Scan(&st.Vencidos)
	if err != nil {
		return st, fmt.Errorf("radicacion: overdue: %w", err)
	}
	return st, nil
}

func openEstados() []string {
	return []string{string(EstadoRadicado), string(EstadoEnRevision), string(EstadoDevuelto)}
}

func aggregate(id string) string { return "radicado:" + id }

// CreatedEvent rebuilds the filing event for r, for resending its receipt.
func CreatedEvent(r *Radicado) events.RadicadoCreadoV1 { return createdEvent(r) }

// LatestTransitionEvent rebuilds the event for the newest state change in
// history. ok is false when the radicado never left its initial state.
func LatestTransitionEvent(r *Radicado, history []HistorialEntry) (evt events.RadicadoEstadoCambiadoV1, ok bool) {
	var last *HistorialEntry
	for i := range history {
		h := &history[i]
		if h.EstadoAnterior == "" {
			continue
		}
		if last == nil || !h.CreatedAt.Before(last.CreatedAt) {
			last = h
		}
	}
	if last == nil {
		return evt, false
	}
	evt = estadoEvent(r, last.EstadoAnterior, last.ColaboradorID, last.Observacion, last.CreatedAt)
	evt.EstadoNuevo = string(last.EstadoNuevo)
	return evt, true
}

func createdEvent(r *Radicado) events.RadicadoCreadoV1 {
	return events.RadicadoCreadoV1{
		RadicadoID:       r.ID,
		Numero:           r.Numero,
		Tipo:             string(r.Tipo),
		Prioridad:        string(r.Prioridad),
		AfiliadoNombre:   r.Afiliado.Nombre,
		AfiliadoTelefono: r.Afiliado.Telefono,
		AfiliadoEmail:    r.Afiliado.Email,
		RadicadoPor:      r.RadicadoPor,
		FechaVencimiento: r.FechaVencimiento,
		CreatedAt:        r.CreatedAt,
	}
}

func estadoEvent(r *Radicado, from Estado, actorID, observacion string, at time.Time) events.RadicadoEstadoCambiadoV1 {
	return events.RadicadoEstadoCambiadoV1{
		RadicadoID:       r.ID,
		Numero:           r.Numero,
		EstadoAnterior:   string(from),
		EstadoNuevo:      string(r.Estado),
		Observacion:      observacion,
		CambiadoPor:      actorID,
		AfiliadoNombre:   r.Afiliado.Nombre,
		AfiliadoTelefono: r.Afiliado.Telefono,
		AfiliadoEmail:    r.Afiliado.Email,
		OccurredAt:       at,
	}
}
