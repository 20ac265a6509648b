package collaborators

import (
	"context"
	"errors"
	"testing"
	"time"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

var collaboratorColumns = []string{"id", "auth_user_id", "email", "nombre", "cargo", "rol", "sede", "telefono", "activo", "created_at", "updated_at"}

func TestPostgresRepositoryGetByEmail(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := newPostgresRepositoryWithExec(mock)
	now := time.Now()

	mock.ExpectQuery("FROM colaboradores WHERE lower\\(email\\)").
		WithArgs("ana@portal.co").
		WillReturnRows(pgxmock.NewRows(collaboratorColumns).
			AddRow("c-1", "u-1", "ana@portal.co", "Ana", "Analista", "radicador", "Bogotá", "", true, now, now))

	c, err := repo.GetByEmail(context.Background(), "  Ana@Portal.co ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Rol != RoleRadicador || !c.Activo {
		t.Fatalf("unexpected collaborator %+v", c)
	}

	mock.ExpectQuery("FROM colaboradores WHERE id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)
	if _, err := repo.GetByID(context.Background(), "missing"); !errors.Is(err, ErrCollaboratorNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRepositoryListBuildsFilters(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := newPostgresRepositoryWithExec(mock)
	active := true

	mock.ExpectQuery("WHERE rol = \\$1 AND activo = \\$2 AND \\(nombre ILIKE \\$3 OR email ILIKE \\$3\\) ORDER BY nombre LIMIT \\$4 OFFSET \\$5").
		WithArgs("auditor", true, "%mar%", 50, 0).
		WillReturnRows(pgxmock.NewRows(collaboratorColumns))

	items, err := repo.List(context.Background(), ListFilter{Rol: RoleAuditor, Activo: &active, Query: " mar "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("expected empty list, got %d", len(items))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresRepositoryUpdateRoleValidates(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := newPostgresRepositoryWithExec(mock)
	if _, err := repo.UpdateRole(context.Background(), "c-1", Role("root")); !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("expected invalid role, got %v", err)
	}
}

func TestPostgresRepositoryMalformedIDIsNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	repo := newPostgresRepositoryWithExec(mock)
	ctx := context.Background()
	if _, err := repo.GetByID(ctx, "not-a-uuid"); !errors.Is(err, ErrCollaboratorNotFound) {
		t.Fatalf("GetByID: expected not found, got %v", err)
	}
	if _, err := repo.SetActive(ctx, "rad-1", false); !errors.Is(err, ErrCollaboratorNotFound) {
		t.Fatalf("SetActive: expected not found, got %v", err)
	}
	if _, err := repo.UpdateRole(ctx, "missing", RoleAuditor); !errors.Is(err, ErrCollaboratorNotFound) {
		t.Fatalf("UpdateRole: expected not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected queries: %v", err)
	}
}
