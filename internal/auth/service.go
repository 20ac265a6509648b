package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/portalsalud/portal-colaboradores/internal/audit"
	"github.com/portalsalud/portal-colaboradores/internal/collaborators"
	"github.com/portalsalud/portal-colaboradores/internal/session"
	"github.com/portalsalud/portal-colaboradores/pkg/logging"
)

// IdentityProvider is the Supabase Auth surface used by the service.
type IdentityProvider interface {
	SignInWithPassword(ctx context.Context, email, password string) (*TokenResponse, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenResponse, error)
	SignOut(ctx context.Context, accessToken string) error
}

// SessionStore tracks inactivity.
type SessionStore interface {
	Start(ctx context.Context, id string) (session.Status, error)
	Touch(ctx context.Context, id string) (session.Status, error)
	Status(ctx context.Context, id string) (session.Status, error)
	End(ctx context.Context, id string) error
}

// LoginResult is returned to the SPA after a successful sign-in.
type LoginResult struct {
	Token        *TokenResponse              `json:"token"`
	Collaborator *collaborators.Collaborator `json:"colaborador"`
	Session      session.Status              `json:"session"`
}

// Service bootstraps collaborator sessions on top of Supabase Auth.
type Service struct {
	idp       IdentityProvider
	repo      collaborators.Repository
	sessions  SessionStore
	audit     audit.Logger
	jwtSecret string
	logger    *logging.Logger
}

// NewService wires the auth service.
func NewService(idp IdentityProvider, repo collaborators.Repository, sessions SessionStore, auditLog audit.Logger, jwtSecret string, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	if auditLog == nil {
		auditLog = audit.Nop{}
	}
	return &Service{
		idp:       idp,
		repo:      repo,
		sessions:  sessions,
		audit:     auditLog,
		jwtSecret: jwtSecret,
		logger:    logger,
	}
}

// Login signs in, verifies the account belongs to an active collaborator and
// starts the inactivity session.
func (s *Service) Login(ctx context.Context, email, password, ip string) (*LoginResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}

	tok, err := s.idp.SignInWithPassword(ctx, email, password)
	if err != nil {
		s.reject(ctx, email, ip, "credentials")
		return nil, err
	}
	claims, err := ParseToken(s.jwtSecret, tok.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("auth: supabase returned unusable token: %w", err)
	}

	c, err := s.repo.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, collaborators.ErrCollaboratorNotFound):
		s.revoke(ctx, tok.AccessToken)
		s.reject(ctx, email, ip, "not_collaborator")
		return nil, ErrNotCollaborator
	case err != nil:
		return nil, fmt.Errorf("auth: load collaborator: %w", err)
	case !c.Activo:
		s.revoke(ctx, tok.AccessToken)
		s.reject(ctx, email, ip, "inactive")
		return nil, ErrCollaboratorInactive
	}

	st, err := s.sessions.Start(ctx, claims.SessionKey())
	if err != nil {
		return nil, fmt.Errorf("auth: start session: %w", err)
	}

	s.record(ctx, audit.Event{Type: audit.EventLogin, ActorID: c.ID, ActorEmail: c.Email, IPAddress: ip})
	s.logger.Info("collaborator signed in", "collaborator_id", c.ID, "rol", c.Rol)
	return &LoginResult{Token: tok, Collaborator: c, Session: st}, nil
}

// Refresh renews tokens while the inactivity session is still alive.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenResponse, session.Status, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, session.Status{}, ErrInvalidCredentials
	}
	tok, err := s.idp.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, session.Status{}, err
	}
	claims, err := ParseToken(s.jwtSecret, tok.AccessToken)
	if err != nil {
		return nil, session.Status{}, fmt.Errorf("auth: supabase returned unusable token: %w", err)
	}
	st, err := s.sessions.Touch(ctx, claims.SessionKey())
	if err != nil {
		if errors.Is(err, session.ErrSessionExpired) {
			s.revoke(ctx, tok.AccessToken)
		}
		return nil, session.Status{}, err
	}
	return tok, st, nil
}

// Logout revokes the Supabase session and ends the inactivity session.
func (s *Service) Logout(ctx context.Context, accessToken string, claims *Claims, c *collaborators.Collaborator, ip string) error {
	s.revoke(ctx, accessToken)
	if err := s.sessions.End(ctx, claims.SessionKey()); err != nil {
		return err
	}
	event := audit.Event{Type: audit.EventLogout, ActorEmail: claims.Email, IPAddress: ip}
	if c != nil {
		event.ActorID = c.ID
	}
	s.record(ctx, event)
	return nil
}

// SessionStatus reports the idle timers without extending them.
func (s *Service) SessionStatus(ctx context.Context, claims *Claims) (session.Status, error) {
	return s.sessions.Status(ctx, claims.SessionKey())
}

// KeepAlive extends the idle timers, e.g. from the warning banner.
func (s *Service) KeepAlive(ctx context.Context, claims *Claims) (session.Status, error) {
	return s.sessions.Touch(ctx, claims.SessionKey())
}

func (s *Service) revoke(ctx context.Context, accessToken string) {
	if accessToken == "" {
		return
	}
	if err := s.idp.SignOut(ctx, accessToken); err != nil {
		s.logger.Warn("supabase sign out failed", "error", err)
	}
}

func (s *Service) reject(ctx context.Context, email, ip, reason string) {
	s.record(ctx, audit.Event{
		Type:       audit.EventLoginRejected,
		ActorEmail: email,
		IPAddress:  ip,
		Details:    audit.Details(map[string]string{"reason": reason}),
	})
}

func (s *Service) record(ctx context.Context, event audit.Event) {
	if err := s.audit.LogEvent(ctx, event); err != nil {
		s.logger.Warn("failed to write audit event", "error", err, "event_type", event.Type)
	}
}
