package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/portalsalud/portal-colaboradores/internal/auth"
	"github.com/portalsalud/portal-colaboradores/internal/collaborators"
	"github.com/portalsalud/portal-colaboradores/internal/http/respond"
	"github.com/portalsalud/portal-colaboradores/internal/session"
	"github.com/portalsalud/portal-colaboradores/pkg/logging"
)

// SupabaseJWT validates the Supabase access token and stores its claims.
func SupabaseJWT(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				respond.Error(w, "auth not configured", http.StatusUnauthorized)
				return
			}
			token, ok := auth.BearerToken(r.Header.Get("Authorization"))
			if !ok {
				respond.Error(w, auth.ErrMissingToken.Error(), http.StatusUnauthorized)
				return
			}
			claims, err := auth.ParseToken(secret, token)
			if err != nil {
				respond.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
		})
	}
}

// SessionToucher slides the inactivity timer.
type SessionToucher interface {
	Touch(ctx context.Context, id string) (session.Status, error)
}

// IdleSession rejects requests whose inactivity session has lapsed and
// records activity otherwise. Must run after SupabaseJWT.
func IdleSession(sessions SessionToucher, logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.ClaimsFromContext(r.Context())
			if !ok {
				respond.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if _, err := sessions.Touch(r.Context(), claims.SessionKey()); err != nil {
				if errors.Is(err, session.ErrSessionExpired) {
					respond.Error(w, err.Error(), http.StatusUnauthorized)
					return
				}
				logger.Error("session touch failed", "error", err)
				respond.Error(w, "session store unavailable", http.StatusServiceUnavailable)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CollaboratorLookup resolves the collaborator behind a token.
type CollaboratorLookup interface {
	GetByEmail(ctx context.Context, email string) (*collaborators.Collaborator, error)
}

// LoadCollaborator attaches the active collaborator for the token email.
func LoadCollaborator(repo CollaboratorLookup, logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.ClaimsFromContext(r.Context())
			if !ok || claims.Email == "" {
				respond.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			c, err := repo.GetByEmail(r.Context(), claims.Email)
			if err != nil {
				if errors.Is(err, collaborators.ErrCollaboratorNotFound) {
					respond.Error(w, auth.ErrNotCollaborator.Error(), http.StatusForbidden)
					return
				}
				logger.Error("collaborator lookup failed", "error", err)
				respond.Error(w, "internal error", http.StatusInternalServerError)
				return
			}
			if !c.Activo {
				respond.Error(w, auth.ErrCollaboratorInactive.Error(), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r.WithContext(collaborators.WithCollaborator(r.Context(), c)))
		})
	}
}

// RequireRole allows collaborators holding any of roles. Admins always pass.
func RequireRole(roles ...collaborators.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			c, ok := collaborators.FromContext(r.Context())
			if !ok {
				respond.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !c.HasRole(roles...) {
				respond.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
