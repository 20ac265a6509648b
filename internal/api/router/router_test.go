package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portalsalud/portal-colaboradores/internal/auth"
	"github.com/portalsalud/portal-colaboradores/internal/collaborators"
	"github.com/portalsalud/portal-colaboradores/internal/functions"
	"github.com/portalsalud/portal-colaboradores/internal/notify"
	"github.com/portalsalud/portal-colaboradores/internal/radicacion"
	"github.com/portalsalud/portal-colaboradores/internal/session"
	"github.com/portalsalud/portal-colaboradores/pkg/logging"
)

const secret = "router-secret"

type fixture struct {
	handler  http.Handler
	sessions *session.Store
	redis    *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := logging.Discard()
	sessions := session.NewStore(client, 15*time.Minute, 2*time.Minute)
	people := collaborators.NewInMemoryRepository(
		&collaborators.Collaborator{ID: "admin-1", Email: "admin@portal.co", Nombre: "Ana", Rol: collaborators.RoleAdmin, Activo: true},
		&collaborators.Collaborator{ID: "rad-1", Email: "luis@portal.co", Nombre: "Luis", Rol: collaborators.RoleRadicador, Activo: true},
		&collaborators.Collaborator{ID: "off-1", Email: "off@portal.co", Nombre: "Olga", Rol: collaborators.RoleRadicador, Activo: false},
	)
	radSvc := radicacion.NewService(radicacion.NewMemoryRepository(), logger)

	cfg := &Config{
		Logger:               logger,
		JWTSecret:            secret,
		FunctionsSecret:      "fn-secret",
		Sessions:             sessions,
		Collaborators:        people,
		CollaboratorsHandler: collaborators.NewHandler(people, nil, logger),
		RadicacionHandler:    radicacion.NewHandler(radSvc, people, logger),
		FunctionsHandler:     functions.NewHandler(nil, notify.NewStubSMSSender(logger), nil, logger),
	}
	return &fixture{handler: New(cfg), sessions: sessions, redis: mr}
}

func (f *fixture) login(t *testing.T, email, sessionID string) string {
	t.Helper()
	_, err := f.sessions.Start(context.Background(), sessionID)
	require.NoError(t, err)
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "sub-" + sessionID,
			Audience:  jwt.ClaimStrings{"authenticated"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email:     email,
		SessionID: sessionID,
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}

func (f *fixture) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestRouterHealthEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestRouterRequiresToken(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/me", "", nil).Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/radicados", "", nil).Code)
}

func TestRouterIdleSessionExpiry(t *testing.T) {
	f := newFixture(t)
	tok := f.login(t, "luis@portal.co", "s-1")

	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/me", tok, nil).Code)

	f.redis.FastForward(16 * time.Minute)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/me", tok, nil).Code)
}

func TestRouterRejectsInactiveCollaborator(t *testing.T) {
	f := newFixture(t)
	tok := f.login(t, "off@portal.co", "s-off")
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodGet, "/me", tok, nil).Code)
}

func TestRouterAdminRoutesRequireAdmin(t *testing.T) {
	f := newFixture(t)
	rad := f.login(t, "luis@portal.co", "s-rad")
	admin := f.login(t, "admin@portal.co", "s-admin")

	assert.Equal(t, http.StatusForbidden, f.do(http.MethodGet, "/admin/colaboradores", rad, nil).Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/admin/colaboradores", admin, nil).Code)
}

func TestRouterRadicadosFlow(t *testing.T) {
	f := newFixture(t)
	tok := f.login(t, "luis@portal.co", "s-flow")

	req := radicacion.CreateRequest{
		Tipo:             radicacion.TipoPQRS,
		Afiliado:         radicacion.Afiliado{TipoDocumento: "CC", NumeroDocumento: "1020", Nombre: "Ana Pérez"},
		DiagnosticoCIE10: "J45",
		Descripcion:      "Queja por demora en la autorización",
	}
	rec := f.do(http.MethodPost, "/radicados", tok, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created radicacion.Radicado
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	assert.Equal(t, "rad-1", created.RadicadoPor)

	rec = f.do(http.MethodGet, "/radicados/"+created.ID+"/historial", tok, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouterFunctionsRequireSecret(t *testing.T) {
	f := newFixture(t)
	body := map[string]string{"to": "3001234567", "message": "hola"}

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/functions/sms/send", "", body).Code)

	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(body)
	req := httptest.NewRequest(http.MethodPost, "/functions/sms/send", &buf)
	req.Header.Set("X-Functions-Secret", "fn-secret")
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestRouterFunctionsTokenMustBeLiveActiveCollaborator(t *testing.T) {
	f := newFixture(t)
	body := map[string]string{"to": "3001234567", "message": "hola"}

	active := f.login(t, "luis@portal.co", "s-fn")
	inactive := f.login(t, "off@portal.co", "s-fn-off")
	stranger := f.login(t, "nadie@otro.co", "s-fn-stranger")

	assert.Equal(t, http.StatusOK, f.do(http.MethodPost, "/functions/sms/send", active, body).Code)
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, "/functions/sms/send", inactive, body).Code)
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, "/functions/sms/send", stranger, body).Code)
	assert.Equal(t, http.StatusForbidden, f.do(http.MethodPost, "/functions/onedrive/delete-folder", stranger, map[string]string{"folderPath": "Radicados/RAD-1"}).Code)

	f.redis.FastForward(16 * time.Minute)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/functions/sms/send", active, body).Code)
}

func TestRouterFunctionsSecretOnlyWithoutCollaboratorLookup(t *testing.T) {
	logger := logging.Discard()
	h := New(&Config{
		Logger:           logger,
		JWTSecret:        secret,
		FunctionsSecret:  "fn-secret",
		FunctionsHandler: functions.NewHandler(nil, notify.NewStubSMSSender(logger), nil, logger),
	})
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "sub-x",
			Audience:  jwt.ClaimStrings{"authenticated"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Email: "luis@portal.co",
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/functions/sms/send", bytes.NewBufferString(`{"to":"3001234567","message":"hola"}`))
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
