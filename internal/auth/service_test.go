package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portalsalud/portal-colaboradores/internal/audit"
	"github.com/portalsalud/portal-colaboradores/internal/collaborators"
	"github.com/portalsalud/portal-colaboradores/internal/session"
	"github.com/portalsalud/portal-colaboradores/pkg/logging"
)

const testSecret = "super-secret-jwt"

func signToken(t *testing.T, secret, sub, email, sessionID string, ttl time.Duration) string {
	t.Helper()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			Audience:  jwt.ClaimStrings{"authenticated"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
		Email:     email,
		Role:      "authenticated",
		SessionID: sessionID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

type fakeIDP struct {
	signInToken *TokenResponse
	signInErr   error
	refreshTok  *TokenResponse
	signOuts    []string
}

func (f *fakeIDP) SignInWithPassword(ctx context.Context, email, password string) (*TokenResponse, error) {
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	return f.signInToken, nil
}

func (f *fakeIDP) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error) {
	return f.refreshTok, nil
}

func (f *fakeIDP) SignOut(ctx context.Context, accessToken string) error {
	f.signOuts = append(f.signOuts, accessToken)
	return nil
}

type memAudit struct{ events []audit.Event }

func (m *memAudit) LogEvent(_ context.Context, e audit.Event) error {
	m.events = append(m.events, e)
	return nil
}

func newSessionStore(t *testing.T) *session.Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return session.NewStore(client, 15*time.Minute, time.Minute)
}

func newTestService(t *testing.T, idp *fakeIDP) (*Service, *memAudit, *session.Store) {
	repo := collaborators.NewInMemoryRepository(
		&collaborators.Collaborator{ID: "c-1", Email: "ana@portal.co", Nombre: "Ana", Rol: collaborators.RoleRadicador, Activo: true},
		&collaborators.Collaborator{ID: "c-2", Email: "old@portal.co", Nombre: "Old", Rol: collaborators.RoleRadicador, Activo: false},
	)
	sessions := newSessionStore(t)
	rec := &memAudit{}
	return NewService(idp, repo, sessions, rec, testSecret, logging.Discard()), rec, sessions
}

func TestLoginStartsSession(t *testing.T) {
	at := signToken(t, testSecret, "u-1", "ana@portal.co", "sess-1", time.Hour)
	idp := &fakeIDP{signInToken: &TokenResponse{AccessToken: at, RefreshToken: "rt"}}
	svc, rec, sessions := newTestService(t, idp)

	res, err := svc.Login(context.Background(), " ANA@portal.co ", "pw", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "c-1", res.Collaborator.ID)
	assert.True(t, res.Session.Active)

	_, err = sessions.Status(context.Background(), "sess-1")
	require.NoError(t, err)
	require.Len(t, rec.events, 1)
	assert.Equal(t, audit.EventLogin, rec.events[0].Type)
}

func TestLoginRejectsUnknownAndInactive(t *testing.T) {
	cases := []struct {
		name  string
		email string
		want  error
	}{
		{"not a collaborator", "stranger@gmail.com", ErrNotCollaborator},
		{"inactive", "old@portal.co", ErrCollaboratorInactive},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			at := signToken(t, testSecret, "u-9", tc.email, "sess-9", time.Hour)
			idp := &fakeIDP{signInToken: &TokenResponse{AccessToken: at}}
			svc, rec, _ := newTestService(t, idp)

			_, err := svc.Login(context.Background(), tc.email, "pw", "")
			assert.ErrorIs(t, err, tc.want)
			assert.Equal(t, []string{at}, idp.signOuts, "token should be revoked")
			require.Len(t, rec.events, 1)
			assert.Equal(t, audit.EventLoginRejected, rec.events[0].Type)
		})
	}
}

func TestLoginBadCredentials(t *testing.T) {
	idp := &fakeIDP{signInErr: ErrInvalidCredentials}
	svc, _, _ := newTestService(t, idp)

	_, err := svc.Login(context.Background(), "ana@portal.co", "wrong", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = svc.Login(context.Background(), "", "", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRefreshRequiresLiveSession(t *testing.T) {
	at := signToken(t, testSecret, "u-1", "ana@portal.co", "sess-1", time.Hour)
	idp := &fakeIDP{
		signInToken: &TokenResponse{AccessToken: at},
		refreshTok:  &TokenResponse{AccessToken: at, RefreshToken: "rt2"},
	}
	svc, _, sessions := newTestService(t, idp)

	_, _, err := svc.Refresh(context.Background(), "rt")
	assert.ErrorIs(t, err, session.ErrSessionExpired)

	_, err = sessions.Start(context.Background(), "sess-1")
	require.NoError(t, err)
	tok, st, err := svc.Refresh(context.Background(), "rt")
	require.NoError(t, err)
	assert.Equal(t, "rt2", tok.RefreshToken)
	assert.True(t, st.Active)
}

func TestHandlerLoginStatusCodes(t *testing.T) {
	at := signToken(t, testSecret, "u-1", "ana@portal.co", "sess-1", time.Hour)
	cases := []struct {
		name string
		idp  *fakeIDP
		body string
		want int
	}{
		{"ok", &fakeIDP{signInToken: &TokenResponse{AccessToken: at}}, `{"email":"ana@portal.co","password":"pw"}`, http.StatusOK},
		{"bad credentials", &fakeIDP{signInErr: ErrInvalidCredentials}, `{"email":"ana@portal.co","password":"x"}`, http.StatusUnauthorized},
		{"forbidden", &fakeIDP{signInToken: &TokenResponse{AccessToken: at}}, `{"email":"nobody@portal.co","password":"pw"}`, http.StatusForbidden},
		{"upstream down", &fakeIDP{signInErr: errors.New("dial tcp: refused")}, `{"email":"ana@portal.co","password":"pw"}`, http.StatusBadGateway},
		{"bad body", &fakeIDP{}, `{`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _, _ := newTestService(t, tc.idp)
			h := NewHandler(svc, logging.Discard())
			rec := httptest.NewRecorder()
			h.Login(rec, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(tc.body)))
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestHandlerLogoutEndsSession(t *testing.T) {
	at := signToken(t, testSecret, "u-1", "ana@portal.co", "sess-1", time.Hour)
	idp := &fakeIDP{signInToken: &TokenResponse{AccessToken: at}}
	svc, rec, sessions := newTestService(t, idp)
	_, err := sessions.Start(context.Background(), "sess-1")
	require.NoError(t, err)

	claims, err := ParseToken(testSecret, at)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.Header.Set("Authorization", "Bearer "+at)
	req = req.WithContext(WithClaims(req.Context(), claims))

	resp := httptest.NewRecorder()
	NewHandler(svc, logging.Discard()).Logout(resp, req)
	assert.Equal(t, http.StatusNoContent, resp.Code)

	_, err = sessions.Status(context.Background(), "sess-1")
	assert.ErrorIs(t, err, session.ErrSessionExpired)
	assert.Equal(t, []string{at}, idp.signOuts)
	require.Len(t, rec.events, 1)
	assert.Equal(t, audit.EventLogout, rec.events[0].Type)
}

func TestParseToken(t *testing.T) {
	valid := signToken(t, testSecret, "u-1", "ana@portal.co", "", time.Hour)
	claims, err := ParseToken(testSecret, valid)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.SessionKey(), "falls back to subject")

	_, err = ParseToken("other", valid)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := signToken(t, testSecret, "u-1", "ana@portal.co", "s", -time.Minute)
	_, err = ParseToken(testSecret, expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = ParseToken("", valid)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestBearerToken(t *testing.T) {
	tok, ok := BearerToken("Bearer abc")
	assert.True(t, ok)
	assert.Equal(t, "abc", tok)
	_, ok = BearerToken("Basic abc")
	assert.False(t, ok)
	_, ok = BearerToken("Bearer   ")
	assert.False(t, ok)
}
