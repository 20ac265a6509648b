package soportes

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/portalsalud/portal-colaboradores/internal/events"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store persists soporte rows.
type Store struct {
	db querier
}

func NewStore(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("soportes: pgx pool required")
	}
	return &Store{db: pool}
}

func newStoreWithExec(db querier) *Store {
	return &Store{db: db}
}

const soporteColumns = `id, radicado_id, nombre_archivo, content_type, tamano_bytes, storage_key,
	onedrive_path, ocr_status, ocr_text, ocr_confidence, subido_por, created_at`

func scanSoporte(row pgx.Row) (*Soporte, error) {
	var s Soporte
	err := row.Scan(&s.ID, &s.RadicadoID, &s.NombreArchivo, &s.ContentType, &s.TamanoBytes, &s.StorageKey,
		&s.OneDrivePath, &s.OCRStatus, &s.OCRText, &s.OCRConfidence, &s.SubidoPor, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSoporteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("soportes: scan: %w", err)
	}
	return &s, nil
}

// Insert stores s and its soporte.subido event in one transaction.
func (st *Store) Insert(ctx context.Context, s *Soporte, evt events.SoporteSubidoV1) (err error) {
	tx, err := st.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("soportes: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	_, err = tx.Exec(ctx, `
		INSERT INTO soportes (id, radicado_id, nombre_archivo, content_type, tamano_bytes, storage_key,
			onedrive_path, ocr_status, subido_por, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.ID, s.RadicadoID, s.NombreArchivo, s.ContentType, s.TamanoBytes, s.StorageKey,
		s.OneDrivePath, string(s.OCRStatus), s.SubidoPor, s.CreatedAt)
	if err != nil {
		return fmt.Errorf("soportes: insert: %w", err)
	}
	if _, err = events.AppendCanonicalEvent(ctx, tx, "radicado:"+s.RadicadoID, "", evt); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("soportes: commit: %w", err)
	}
	return nil
}

func (st *Store) Get(ctx context.Context, id string) (*Soporte, error) {
	return scanSoporte(st.db.QueryRow(ctx, `SELECT `+soporteColumns+` FROM soportes WHERE id = $1`, id))
}

func (st *Store) ListByRadicado(ctx context.Context, radicadoID string) ([]Soporte, error) {
	rows, err := st.db.Query(ctx, `SELECT `+soporteColumns+` FROM soportes WHERE radicado_id = $1 ORDER BY created_at`, radicadoID)
	if err != nil {
		return nil, fmt.Errorf("soportes: list: %w", err)
	}
	defer rows.Close()
	out := []Soporte{}
	for rows.Next() {
		s, err := scanSoporte(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (st *Store) Delete(ctx context.Context, id string) error {
	ct, err := st.db.Exec(ctx, `DELETE FROM soportes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("soportes: delete: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrSoporteNotFound
	}
	return nil
}

// SetOCR records an OCR run. A nil embedding leaves the column NULL.
func (st *Store) SetOCR(ctx context.Context, id string, status OCRStatus, text string, confidence float32, embedding []float32) error {
	var vec any
	if len(embedding) > 0 {
		vec = pgvector.NewVector(embedding)
	}
	ct, err := st.db.Exec(ctx, `
		UPDATE soportes
		SET ocr_status = $2, ocr_text = $3, ocr_confidence = $4, embedding = $5
		WHERE id = $1`,
		id, string(status), text, confidence, vec)
	if err != nil {
		return fmt.Errorf("soportes: set ocr: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrSoporteNotFound
	}
	return nil
}

// PendingOCR lists soportes that have not been processed yet, oldest first.
func (st *Store) PendingOCR(ctx context.Context, limit int) ([]Soporte, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := st.db.Query(ctx, `SELECT `+soporteColumns+` FROM soportes WHERE ocr_status = $1 ORDER BY created_at LIMIT $2`,
		string(OCRPending), limit)
	if err != nil {
		return nil, fmt.Errorf("soportes: pending ocr: %w", err)
	}
	defer rows.Close()
	out := []Soporte{}
	for rows.Next() {
		s, err := scanSoporte(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}
