package collaborators

import (
	"context"
	"strings"
	"time"
)

// Role is the portal permission level of a collaborator.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleRadicador Role = "radicador"
	RoleAuditor   Role = "auditor"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleRadicador, RoleAuditor:
		return true
	}
	return false
}

// Collaborator is an employee allowed to use the portal.
type Collaborator struct {
	ID         string    `json:"id"`
	AuthUserID string    `json:"auth_user_id,omitempty"`
	Email      string    `json:"email"`
	Nombre     string    `json:"nombre"`
	Cargo      string    `json:"cargo"`
	Rol        Role      `json:"rol"`
	Sede       string    `json:"sede"`
	Telefono   string    `json:"telefono,omitempty"`
	Activo     bool      `json:"activo"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// HasRole reports whether the collaborator holds one of roles. Admins hold every role.
func (c *Collaborator) HasRole(roles ...Role) bool {
	if c == nil {
		return false
	}
	if c.Rol == RoleAdmin {
		return true
	}
	for _, r := range roles {
		if c.Rol == r {
			return true
		}
	}
	return false
}

// ListFilter narrows List results.
type ListFilter struct {
	Rol    Role
	Activo *bool
	Query  string
	Limit  int
	Offset int
}

func (f *ListFilter) normalize() {
	f.Query = strings.TrimSpace(f.Query)
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

type ctxKey string

const collaboratorKey ctxKey = "portal.collaborator"

// WithCollaborator stores the authenticated collaborator in context.
func WithCollaborator(ctx context.Context, c *Collaborator) context.Context {
	return context.WithValue(ctx, collaboratorKey, c)
}

// FromContext extracts the authenticated collaborator if present.
func FromContext(ctx context.Context) (*Collaborator, bool) {
	c, ok := ctx.Value(collaboratorKey).(*Collaborator)
	return c, ok && c != nil
}
