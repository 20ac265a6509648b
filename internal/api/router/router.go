package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/portalsalud/portal-colaboradores/internal/affiliates"
	"github.com/portalsalud/portal-colaboradores/internal/audit"
	"github.com/portalsalud/portal-colaboradores/internal/auth"
	"github.com/portalsalud/portal-colaboradores/internal/codes"
	"github.com/portalsalud/portal-colaboradores/internal/collaborators"
	"github.com/portalsalud/portal-colaboradores/internal/dashboard"
	"github.com/portalsalud/portal-colaboradores/internal/functions"
	httpmiddleware "github.com/portalsalud/portal-colaboradores/internal/http/middleware"
	"github.com/portalsalud/portal-colaboradores/internal/http/respond"
	"github.com/portalsalud/portal-colaboradores/internal/notify"
	"github.com/portalsalud/portal-colaboradores/internal/observability/metrics"
	"github.com/portalsalud/portal-colaboradores/internal/radicacion"
	"github.com/portalsalud/portal-colaboradores/internal/soportes"
	"github.com/portalsalud/portal-colaboradores/pkg/logging"
)

// Config holds router configuration. Nil handlers leave their routes unmounted.
type Config struct {
	Logger             *logging.Logger
	HTTPMetrics        *metrics.HTTPMetrics
	CORSAllowedOrigins []string
	JWTSecret          string
	FunctionsSecret    string

	Sessions      httpmiddleware.SessionToucher
	Collaborators httpmiddleware.CollaboratorLookup
	LoginLimiter  *httpmiddleware.RateLimiter

	AuthHandler          *auth.Handler
	CollaboratorsHandler *collaborators.Handler
	AffiliatesHandler    *affiliates.Handler
	CodesHandler         *codes.Handler
	RadicacionHandler    *radicacion.Handler
	SoportesHandler      *soportes.Handler
	NotifyHandler        *notify.Handler
	FunctionsHandler     *functions.Handler
	DashboardHandler     *dashboard.Handler
	AuditHandler         *audit.Handler
	LiveHub              http.Handler
	MetricsHandler       http.Handler
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger, cfg.HTTPMetrics))
	}

	r.Group(func(public chi.Router) {
		public.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		// The hub authenticates the ?token= itself since browsers cannot
		// set headers on a websocket upgrade.
		if cfg.LiveHub != nil {
			public.Handle("/ws/radicados", cfg.LiveHub)
		}
	})

	if h := cfg.AuthHandler; h != nil {
		r.Route("/auth", func(a chi.Router) {
			login := a.With()
			if cfg.LoginLimiter != nil {
				login = a.With(httpmiddleware.RateLimit(cfg.LoginLimiter))
			}
			login.Post("/login", h.Login)
			login.Post("/refresh", h.Refresh)

			a.Group(func(authed chi.Router) {
				authed.Use(httpmiddleware.SupabaseJWT(cfg.JWTSecret))
				// Reading the status must not slide the timer.
				authed.Get("/session", h.SessionStatus)
				authed.Post("/logout", h.Logout)
				authed.Post("/session/keepalive", h.KeepAlive)
			})
		})
	}

	if h := cfg.FunctionsHandler; h != nil {
		// Without sessions and a collaborator lookup the functions only
		// accept the shared secret.
		var user func(http.Handler) http.Handler
		if cfg.Sessions != nil && cfg.Collaborators != nil {
			user = httpmiddleware.Collaborator(cfg.JWTSecret, cfg.Sessions, cfg.Collaborators, cfg.Logger)
		}
		r.Route("/functions", func(f chi.Router) {
			f.Use(httpmiddleware.FunctionsAuth(cfg.FunctionsSecret, user))
			h.Routes(f)
		})
	}

	r.Group(func(portal chi.Router) {
		portal.Use(httpmiddleware.SupabaseJWT(cfg.JWTSecret))
		if cfg.Sessions != nil {
			portal.Use(httpmiddleware.IdleSession(cfg.Sessions, cfg.Logger))
		}
		if cfg.Collaborators != nil {
			portal.Use(httpmiddleware.LoadCollaborator(cfg.Collaborators, cfg.Logger))
		}

		if h := cfg.CollaboratorsHandler; h != nil {
			portal.Get("/me", h.Me)
		}
		if h := cfg.DashboardHandler; h != nil {
			portal.Get("/dashboard", h.Get)
		}
		if h := cfg.AffiliatesHandler; h != nil {
			portal.Get("/afiliados/search", h.Search)
			portal.Get("/afiliados/{tipo}/{numero}", h.Get)
		}
		if h := cfg.CodesHandler; h != nil {
			portal.Get("/codigos/{catalog}", h.Search)
			portal.Get("/codigos/{catalog}/semantic", h.Semantic)
			portal.Get("/codigos/{catalog}/{code}", h.Get)
		}
		portal.Route("/radicados", func(rad chi.Router) {
			if h := cfg.RadicacionHandler; h != nil {
				h.Routes(rad)
			}
			if h := cfg.SoportesHandler; h != nil {
				rad.Get("/{id}/soportes", h.List)
				rad.With(httpmiddleware.RequireRole(collaborators.RoleRadicador)).Post("/{id}/soportes", h.Upload)
				rad.With(httpmiddleware.RequireRole(collaborators.RoleAuditor)).Get("/numero/{numero}/soportes/inspeccion", h.Inspect)
			}
		})
		if h := cfg.SoportesHandler; h != nil {
			portal.Route("/soportes/{id}", func(sop chi.Router) {
				sop.Get("/", h.Get)
				sop.Get("/descarga", h.Download)
				sop.Group(func(w chi.Router) {
					w.Use(httpmiddleware.RequireRole(collaborators.RoleRadicador))
					w.Delete("/", h.Delete)
					w.Post("/ocr", h.OCR)
				})
			})
		}

		portal.Group(func(admin chi.Router) {
			admin.Use(httpmiddleware.RequireRole(collaborators.RoleAdmin))
			if h := cfg.CollaboratorsHandler; h != nil {
				admin.Get("/admin/colaboradores", h.List)
				admin.Get("/admin/colaboradores/{id}", h.Get)
				admin.Patch("/admin/colaboradores/{id}", h.Update)
			}
			if h := cfg.AuditHandler; h != nil {
				admin.Get("/admin/auditoria", h.List)
			}
			if h := cfg.NotifyHandler; h != nil {
				admin.Post("/notificaciones", h.Enqueue)
				admin.Get("/notificaciones/jobs/{id}", h.GetJob)
			}
		})
	})

	return r
}
