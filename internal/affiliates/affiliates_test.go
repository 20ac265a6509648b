package affiliates

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portalsalud/portal-colaboradores/pkg/logging"
)

func seed() []Afiliado {
	return []Afiliado{
		{ID: "1", TipoDocumento: "CC", NumeroDocumento: "1010123456", Nombres: "María José", Apellidos: "Pérez Gómez", EPS: "Sura"},
		{ID: "2", TipoDocumento: "CC", NumeroDocumento: "1010999888", Nombres: "Juan", Apellidos: "Pérez Ruiz", EPS: "Sanitas"},
		{ID: "3", TipoDocumento: "TI", NumeroDocumento: "99112233", Nombres: "Camila", Apellidos: "Rojas", EPS: "Sura"},
	}
}

func TestParseQuery(t *testing.T) {
	_, err := ParseQuery("  ab ", 0)
	assert.ErrorIs(t, err, ErrQueryTooShort)

	q, err := ParseQuery(" 1010 ", 0)
	require.NoError(t, err)
	assert.True(t, q.Numeric)
	assert.Equal(t, DefaultLimit, q.Limit)

	q, err = ParseQuery("PÉREZ   juan", 100)
	require.NoError(t, err)
	assert.False(t, q.Numeric)
	assert.Equal(t, []string{"perez", "juan"}, q.Tokens)
	assert.Equal(t, MaxLimit, q.Limit)
	assert.Equal(t, "perez juan|25", q.CacheKey())

	plain, err := ParseQuery("perez JUAN", 100)
	require.NoError(t, err)
	assert.Equal(t, q.CacheKey(), plain.CacheKey())
}

func TestInMemorySearch(t *testing.T) {
	repo := NewInMemoryRepository(seed()...)
	ctx := context.Background()

	q, _ := ParseQuery("1010", 10)
	res, err := repo.Search(ctx, q)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "1010123456", res[0].NumeroDocumento)

	q, _ = ParseQuery("pérez maría", 10)
	res, err = repo.Search(ctx, q)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "1", res[0].ID)

	_, err = repo.GetByDocumento(ctx, "cc", "0000")
	assert.ErrorIs(t, err, ErrAfiliadoNotFound)
}

func TestInMemorySearchFoldsAccents(t *testing.T) {
	repo := NewInMemoryRepository(seed()...)
	ctx := context.Background()

	q, _ := ParseQuery("jose perez", 10)
	res, err := repo.Search(ctx, q)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "1", res[0].ID)

	q, _ = ParseQuery("GÓMEZ", 10)
	res, err = repo.Search(ctx, q)
	require.NoError(t, err)
	require.Len(t, res, 1)

	q, _ = ParseQuery("Perez", 10)
	res, err = repo.Search(ctx, q)
	require.NoError(t, err)
	assert.Len(t, res, 2)
}

type countingRepo struct {
	Repository
	calls int
}

func (c *countingRepo) Search(ctx context.Context, q Query) ([]Afiliado, error) {
	c.calls++
	return c.Repository.Search(ctx, q)
}

func TestServiceCachesResults(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	repo := &countingRepo{Repository: NewInMemoryRepository(seed()...)}
	svc := NewService(repo, client, time.Minute, logging.Discard())

	first, err := svc.Search(context.Background(), "Pérez", 10)
	require.NoError(t, err)
	second, err := svc.Search(context.Background(), "  pérez ", 10)
	require.NoError(t, err)

	assert.Equal(t, 1, repo.calls, "second search should hit the cache")
	assert.Equal(t, first, second)

	mr.FastForward(2 * time.Minute)
	_, err = svc.Search(context.Background(), "pérez", 10)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.calls, "expired cache entry should be refreshed")
}

func TestServiceWithoutCache(t *testing.T) {
	svc := NewService(NewInMemoryRepository(seed()...), nil, 0, logging.Discard())
	res, err := svc.Search(context.Background(), "rojas", 0)
	require.NoError(t, err)
	assert.Len(t, res, 1)
}

func TestPostgresSearchByTokens(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPostgresRepositoryWithExec(mock)
	cols := []string{"id", "tipo_documento", "numero_documento", "nombres", "apellidos", "eps", "regimen", "estado", "telefono", "email", "municipio"}

	mock.ExpectQuery(`unaccent\(nombres \|\| ' ' \|\| apellidos\) ILIKE unaccent\(\$1\) AND unaccent\(nombres \|\| ' ' \|\| apellidos\) ILIKE unaccent\(\$2\)`).
		WithArgs("%juan%", `%50\%%`, 10).
		WillReturnRows(pgxmock.NewRows(cols).AddRow("2", "CC", "1010999888", "Juan", "Pérez", "Sanitas", "contributivo", "activo", "", "", "Cali"))

	q, _ := ParseQuery("juan 50%", 10)
	res, err := repo.Search(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "Cali", res[0].Municipio)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSearchByDocumentPrefix(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	repo := newPostgresRepositoryWithExec(mock)
	mock.ExpectQuery("WHERE numero_documento LIKE \\$1").
		WithArgs("1010%", 10).
		WillReturnError(errors.New("boom"))

	q, _ := ParseQuery("1010", 10)
	_, err = repo.Search(context.Background(), q)
	assert.ErrorContains(t, err, "affiliates: search")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandlerSearch(t *testing.T) {
	h := NewHandler(NewService(NewInMemoryRepository(seed()...), nil, 0, logging.Discard()), logging.Discard())
	r := chi.NewRouter()
	r.Get("/afiliados/search", h.Search)
	r.Get("/afiliados/{tipo}/{numero}", h.Get)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/afiliados/search?q=ju", nil))
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/afiliados/search?q=zzz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var body SearchResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, 0, body.Count)
	assert.NotNil(t, body.Results)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/afiliados/TI/99112233", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/afiliados/CC/1", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
