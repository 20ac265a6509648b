package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"

	"github.com/portalsalud/portal-colaboradores/internal/auth"
	"github.com/portalsalud/portal-colaboradores/internal/collaborators"
	"github.com/portalsalud/portal-colaboradores/internal/session"
	"github.com/portalsalud/portal-colaboradores/pkg/logging"
)

const jwtSecret = "secret"

func signedToken(t *testing.T, secret, email, sessionID string) string {
	t.Helper()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Audience:  jwt.ClaimStrings{"authenticated"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
		},
		Email:     email,
		SessionID: sessionID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestSupabaseJWT(t *testing.T) {
	cases := []struct {
		name   string
		secret string
		header string
		want   int
	}{
		{"missing secret", "", "Bearer " + signedToken(t, jwtSecret, "a@b.co", "s"), http.StatusUnauthorized},
		{"missing header", jwtSecret, "", http.StatusUnauthorized},
		{"wrong signature", jwtSecret, "Bearer " + signedToken(t, "wrong", "a@b.co", "s"), http.StatusUnauthorized},
		{"valid", jwtSecret, "Bearer " + signedToken(t, jwtSecret, "a@b.co", "s"), http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/radicados", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			called := false
			SupabaseJWT(tc.secret)(okHandler(&called)).ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected status %d, got %d", tc.want, rec.Code)
			}
			if called != (tc.want == http.StatusOK) {
				t.Fatalf("unexpected handler call state %v", called)
			}
		})
	}
}

func TestIdleSessionRejectsExpired(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	store := session.NewStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 15*time.Minute, time.Minute)

	chain := func(h http.Handler) http.Handler {
		return SupabaseJWT(jwtSecret)(IdleSession(store, logging.Discard())(h))
	}

	req := httptest.NewRequest(http.MethodGet, "/radicados", nil)
	req.Header.Set("Authorization", "Bearer "+signedToken(t, jwtSecret, "a@b.co", "sess-1"))

	called := false
	rec := httptest.NewRecorder()
	chain(okHandler(&called)).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized || called {
		t.Fatalf("expected 401 for unknown session, got %d", rec.Code)
	}

	if _, err := store.Start(context.Background(), "sess-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	rec = httptest.NewRecorder()
	chain(okHandler(&called)).ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || !called {
		t.Fatalf("expected 200 for live session, got %d", rec.Code)
	}
}

func TestLoadCollaboratorAndRequireRole(t *testing.T) {
	repo := collaborators.NewInMemoryRepository(
		&collaborators.Collaborator{ID: "c-1", Email: "rad@portal.co", Rol: collaborators.RoleRadicador, Activo: true},
		&collaborators.Collaborator{ID: "c-2", Email: "off@portal.co", Rol: collaborators.RoleAdmin, Activo: false},
		&collaborators.Collaborator{ID: "c-3", Email: "boss@portal.co", Rol: collaborators.RoleAdmin, Activo: true},
	)
	chain := func(h http.Handler) http.Handler {
		return SupabaseJWT(jwtSecret)(LoadCollaborator(repo, logging.Discard())(RequireRole(collaborators.RoleAuditor)(h)))
	}

	cases := []struct {
		email string
		want  int
	}{
		{"rad@portal.co", http.StatusForbidden},
		{"off@portal.co", http.StatusForbidden},
		{"ghost@portal.co", http.StatusForbidden},
		{"boss@portal.co", http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.email, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/audit", nil)
			req.Header.Set("Authorization", "Bearer "+signedToken(t, jwtSecret, tc.email, "s"))
			rec := httptest.NewRecorder()
			called := false
			chain(okHandler(&called)).ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestFunctionsAuth(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	store := session.NewStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 15*time.Minute, time.Minute)
	for _, id := range []string{"s-active", "s-off", "s-ghost"} {
		if _, err := store.Start(context.Background(), id); err != nil {
			t.Fatalf("start: %v", err)
		}
	}
	repo := collaborators.NewInMemoryRepository(
		&collaborators.Collaborator{ID: "c-1", Email: "rad@portal.co", Rol: collaborators.RoleRadicador, Activo: true},
		&collaborators.Collaborator{ID: "c-2", Email: "off@portal.co", Rol: collaborators.RoleRadicador, Activo: false},
	)
	withUsers := FunctionsAuth("fn-secret", Collaborator(jwtSecret, store, repo, logging.Discard()))
	secretOnly := FunctionsAuth("fn-secret", nil)
	bearer := func(email, sessionID string) map[string]string {
		return map[string]string{"Authorization": "Bearer " + signedToken(t, jwtSecret, email, sessionID)}
	}

	cases := []struct {
		name    string
		mw      func(http.Handler) http.Handler
		headers map[string]string
		want    int
	}{
		{"shared secret", withUsers, map[string]string{FunctionsSecretHeader: "fn-secret"}, http.StatusOK},
		{"wrong secret", withUsers, map[string]string{FunctionsSecretHeader: "nope"}, http.StatusUnauthorized},
		{"active collaborator", withUsers, bearer("rad@portal.co", "s-active"), http.StatusOK},
		{"inactive collaborator", withUsers, bearer("off@portal.co", "s-off"), http.StatusForbidden},
		{"not a collaborator", withUsers, bearer("ghost@portal.co", "s-ghost"), http.StatusForbidden},
		{"no session", withUsers, bearer("rad@portal.co", "s-missing"), http.StatusUnauthorized},
		{"nothing", withUsers, nil, http.StatusUnauthorized},
		{"secret only rejects jwt", secretOnly, bearer("rad@portal.co", "s-active"), http.StatusUnauthorized},
		{"secret only accepts secret", secretOnly, map[string]string{FunctionsSecretHeader: "fn-secret"}, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/functions/sms/send", nil)
			for k, v := range tc.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			called := false
			tc.mw(okHandler(&called)).ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
			if called != (tc.want == http.StatusOK) {
				t.Fatalf("unexpected handler call state %v", called)
			}
		})
	}
}
