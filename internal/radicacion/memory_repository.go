package radicacion

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/portalsalud/portal-colaboradores/internal/events"
)

// MemoryRepository is used by tests and local development. Events that the
// Postgres repository would write to the outbox are kept in memory.
type MemoryRepository struct {
	mu        sync.RWMutex
	seq       int64
	items     map[string]*Radicado
	historial map[string][]HistorialEntry
	events    []events.CanonicalEvent
	now       func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		items:     map[string]*Radicado{},
		historial: map[string][]HistorialEntry{},
		now:       time.Now,
	}
}

// Events returns the events recorded so far.
func (m *MemoryRepository) Events() []events.CanonicalEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]events.CanonicalEvent(nil), m.events...)
}

func (m *MemoryRepository) Create(ctx context.Context, r *Radicado) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	r.Numero = FormatNumero(r.CreatedAt, m.seq)
	cp := clone(r)
	m.items[r.ID] = cp
	m.events = append(m.events, createdEvent(cp))
	return nil
}

func (m *MemoryRepository) Get(ctx context.Context, id string) (*Radicado, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.items[id]
	if !ok {
		return nil, ErrRadicadoNotFound
	}
	return clone(r), nil
}

func (m *MemoryRepository) GetByNumero(ctx context.Context, numero string) (*Radicado, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.items {
		if r.Numero == numero {
			return clone(r), nil
		}
	}
	return nil, ErrRadicadoNotFound
}

func (m *MemoryRepository) List(ctx context.Context, filter ListFilter) (Page, error) {
	filter.normalize()
	q := strings.ToLower(filter.Query)
	m.mu.RLock()
	var matched []Radicado
	for _, r := range m.items {
		if filter.Estado != "" && r.Estado != filter.Estado {
			continue
		}
		if filter.Tipo != "" && r.Tipo != filter.Tipo {
			continue
		}
		if filter.AsignadoA != "" && (r.AsignadoA == nil || *r.AsignadoA != filter.AsignadoA) {
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(r.Numero), q) &&
			!strings.Contains(strings.ToLower(r.Afiliado.NumeroDocumento), q) &&
			!strings.Contains(strings.ToLower(r.Afiliado.Nombre), q) {
			continue
		}
		matched = append(matched, *clone(r))
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	page := Page{Items: []Radicado{}, Total: len(matched), Page: filter.Page, PageSize: filter.PageSize}
	start := (filter.Page - 1) * filter.PageSize
	if start < len(matched) {
		end := min(start+filter.PageSize, len(matched))
		page.Items = matched[start:end]
	}
	return page, nil
}

func (m *MemoryRepository) Transition(ctx context.Context, id string, to Estado, actorID, observacion string) (*Radicado, Estado, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[id]
	if !ok {
		return nil, "", ErrRadicadoNotFound
	}
	from := r.Estado
	if !CanTransition(from, to) {
		return nil, "", fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	now := m.now().UTC()
	r.Estado = to
	r.UpdatedAt = now
	m.historial[id] = append(m.historial[id], HistorialEntry{
		ID:             uuid.NewString(),
		RadicadoID:     id,
		EstadoAnterior: from,
		EstadoNuevo:    to,
		ColaboradorID:  actorID,
		Observacion:    observacion,
		CreatedAt:      now,
	})
	m.events = append(m.events, estadoEvent(r, from, actorID, observacion, now))
	return clone(r), from, nil
}

func (m *MemoryRepository) Assign(ctx context.Context, id, asignadoA, actorID string) (*Radicado, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[id]
	if !ok {
		return nil, ErrRadicadoNotFound
	}
	if r.Estado.Final() {
		return nil, fmt.Errorf("%w: %s radicado cannot be assigned", ErrInvalidTransition, r.Estado)
	}
	now := m.now().UTC()
	r.AsignadoA = &asignadoA
	r.UpdatedAt = now
	m.events = append(m.events, events.RadicadoAsignadoV1{
		RadicadoID: id, Numero: r.Numero, AsignadoA: asignadoA, AsignadoPor: actorID, OccurredAt: now,
	})
	return clone(r), nil
}

func (m *MemoryRepository) History(ctx context.Context, id string) ([]HistorialEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]HistorialEntry{}, m.historial[id]...), nil
}

func (m *MemoryRepository) Stats(ctx context.Context, now time.Time) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st := Stats{PorEstado: map[Estado]int{}, PorTipo: map[Tipo]int{}}
	for _, r := range m.items {
		st.Total++
		st.PorEstado[r.Estado]++
		st.PorTipo[r.Tipo]++
		if r.Vencido(now) {
			st.Vencidos++
		}
	}
	return st, nil
}

func isOpen(e Estado) bool {
	for _, s := range openEstados() {
		if string(e) == s {
			return true
		}
	}
	return false
}

func clone(r *Radicado) *Radicado {
	cp := *r
	cp.ProcedimientosCUPS = append([]string{}, r.ProcedimientosCUPS...)
	cp.Medicamentos = append([]string{}, r.Medicamentos...)
	if r.AsignadoA != nil {
		a := *r.AsignadoA
		cp.AsignadoA = &a
	}
	return &cp
}
