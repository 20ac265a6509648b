package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/portalsalud/portal-colaboradores/internal/http/respond"
	"github.com/portalsalud/portal-colaboradores/pkg/logging"
)

// FunctionsSecretHeader carries the shared secret used by server-to-server
// callers of the /functions endpoints.
const FunctionsSecretHeader = "X-Functions-Secret"

// FunctionsAuth accepts the shared functions secret, or hands requests
// without the header to user. A nil user makes the endpoints secret-only.
func FunctionsAuth(sharedSecret string, user func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		var viaUser http.Handler
		if user != nil {
			viaUser = user(next)
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if provided := r.Header.Get(FunctionsSecretHeader); provided != "" {
				if sharedSecret != "" && subtle.ConstantTimeCompare([]byte(provided), []byte(sharedSecret)) == 1 {
					next.ServeHTTP(w, r)
					return
				}
				respond.Error(w, "invalid functions secret", http.StatusUnauthorized)
				return
			}
			if viaUser == nil {
				respond.Error(w, "functions secret required", http.StatusUnauthorized)
				return
			}
			viaUser.ServeHTTP(w, r)
		})
	}
}

// Collaborator chains SupabaseJWT, IdleSession and LoadCollaborator: the
// token must be valid, its inactivity session live and its email an active
// collaborator. Both sessions and repo are required.
func Collaborator(jwtSecret string, sessions SessionToucher, repo CollaboratorLookup, logger *logging.Logger) func(http.Handler) http.Handler {
	if sessions == nil || repo == nil {
		panic("middleware: collaborator auth needs sessions and a collaborator lookup")
	}
	jwtMW := SupabaseJWT(jwtSecret)
	idle := IdleSession(sessions, logger)
	load := LoadCollaborator(repo, logger)
	return func(next http.Handler) http.Handler {
		return jwtMW(idle(load(next)))
	}
}
