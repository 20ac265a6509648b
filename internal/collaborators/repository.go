package collaborators

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Repository defines collaborator storage
type Repository interface {
	GetByID(ctx context.Context, id string) (*Collaborator, error)
	GetByEmail(ctx context.Context, email string) (*Collaborator, error)
	List(ctx context.Context, filter ListFilter) ([]*Collaborator, error)
	SetActive(ctx context.Context, id string, active bool) (*Collaborator, error)
	UpdateRole(ctx context.Context, id string, role Role) (*Collaborator, error)
}

// InMemoryRepository is used by tests and local development.
type InMemoryRepository struct {
	mu    sync.RWMutex
	items map[string]*Collaborator
}

// NewInMemoryRepository seeds the repository with the given collaborators.
func NewInMemoryRepository(seed ...*Collaborator) *InMemoryRepository {
	r := &InMemoryRepository{items: make(map[string]*Collaborator)}
	for _, c := range seed {
		cp := *c
		if cp.ID == "" {
			cp.ID = uuid.NewString()
		}
		cp.Email = normalizeEmail(cp.Email)
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = time.Now().UTC()
		}
		r.items[cp.ID] = &cp
	}
	return r
}

func (r *InMemoryRepository) GetByID(ctx context.Context, id string) (*Collaborator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.items[id]
	if !ok {
		return nil, ErrCollaboratorNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *InMemoryRepository) GetByEmail(ctx context.Context, email string) (*Collaborator, error) {
	email = normalizeEmail(email)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.items {
		if c.Email == email {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrCollaboratorNotFound
}

func (r *InMemoryRepository) List(ctx context.Context, filter ListFilter) ([]*Collaborator, error) {
	filter.normalize()
	q := strings.ToLower(filter.Query)

	r.mu.RLock()
	var out []*Collaborator
	for _, c := range r.items {
		if filter.Rol != "" && c.Rol != filter.Rol {
			continue
		}
		if filter.Activo != nil && c.Activo != *filter.Activo {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(c.Nombre), q) && !strings.Contains(c.Email, q) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Nombre < out[j].Nombre })
	if filter.Offset >= len(out) {
		return []*Collaborator{}, nil
	}
	out = out[filter.Offset:]
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *InMemoryRepository) SetActive(ctx context.Context, id string, active bool) (*Collaborator, error) {
	return r.update(id, func(c *Collaborator) { c.Activo = active })
}

func (r *InMemoryRepository) UpdateRole(ctx context.Context, id string, role Role) (*Collaborator, error) {
	if !role.Valid() {
		return nil, ErrInvalidRole
	}
	return r.update(id, func(c *Collaborator) { c.Rol = role })
}

func (r *InMemoryRepository) update(id string, fn func(*Collaborator)) (*Collaborator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.items[id]
	if !ok {
		return nil, ErrCollaboratorNotFound
	}
	fn(c)
	c.UpdatedAt = time.Now().UTC()
	cp := *c
	return &cp, nil
}
