package radicacion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/portalsalud/portal-colaboradores/internal/audit"
	"github.com/portalsalud/portal-colaboradores/internal/codes"
	"github.com/portalsalud/portal-colaboradores/internal/collaborators"
	"github.com/portalsalud/portal-colaboradores/internal/observability/metrics"
	"github.com/portalsalud/portal-colaboradores/internal/onedrive"
	"github.com/portalsalud/portal-colaboradores/pkg/logging"
)

var tracer = otel.Tracer("portal.internal.radicacion")

// CodeChecker confirms catalog codes exist.
type CodeChecker interface {
	Exists(ctx context.Context, catalog codes.Catalog, code string) (bool, error)
}

// FolderCleaner removes a radicado's OneDrive folder.
type FolderCleaner interface {
	FolderFor(numero string) string
	DeleteFolder(ctx context.Context, path string) (*onedrive.DeleteResult, error)
}

type Option func(*Service)

func WithCodeChecker(c CodeChecker) Option { return func(s *Service) { s.codes = c } }

func WithFolderCleaner(f FolderCleaner) Option { return func(s *Service) { s.folders = f } }

func WithAudit(l audit.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.audit = l
		}
	}
}

func WithMetrics(m *metrics.RadicacionMetrics) Option { return func(s *Service) { s.metrics = m } }

// Service applies the radicación rules on top of a Repository.
type Service struct {
	repo    Repository
	codes   CodeChecker
	folders FolderCleaner
	audit   audit.Logger
	metrics *metrics.RadicacionMetrics
	logger  *logging.Logger
	now     func() time.Time
}

func NewService(repo Repository, logger *logging.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{repo: repo, audit: audit.Nop{}, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create validates req, issues a number and stores the radicado in estado
// radicado with a due date derived from its prioridad.
func (s *Service) Create(ctx context.Context, actor *collaborators.Collaborator, req CreateRequest) (*Radicado, error) {
	if actor == nil {
		return nil, ErrMissingActor
	}
	ctx, span := tracer.Start(ctx, "radicacion.create")
	defer span.End()

	req.normalize()
	if err := req.validate(); err != nil {
		return nil, err
	}
	if err := s.checkCodes(ctx, req); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	r := &Radicado{
		ID:                 uuid.NewString(),
		Tipo:               req.Tipo,
		Estado:             EstadoRadicado,
		Prioridad:          req.Prioridad,
		Afiliado:           req.Afiliado,
		DiagnosticoCIE10:   req.DiagnosticoCIE10,
		ProcedimientosCUPS: req.ProcedimientosCUPS,
		Medicamentos:       req.Medicamentos,
		Descripcion:        req.Descripcion,
		RadicadoPor:        actor.ID,
		FechaVencimiento:   DueDate(now, req.Prioridad),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.repo.Create(ctx, r); err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("radicado.numero", r.Numero), attribute.String("radicado.tipo", string(r.Tipo)))

	s.metrics.ObserveCreated(string(r.Tipo), string(r.Prioridad))
	s.record(ctx, actor, audit.EventRadicadoCreated, r.ID, map[string]any{
		"numero": r.Numero, "tipo": r.Tipo, "prioridad": r.Prioridad,
	})
	s.logger.Info("radicado created", "numero", r.Numero, "tipo", r.Tipo, "prioridad", r.Prioridad, "colaborador_id", actor.ID)
	return r, nil
}

// checkCodes looks every code up in its catalog and reports all misses at once.
func (s *Service) checkCodes(ctx context.Context, req CreateRequest) error {
	if s.codes == nil {
		return nil
	}
	var verr ValidationError
	check := func(field string, catalog codes.Catalog, code string) error {
		ok, err := s.codes.Exists(ctx, catalog, code)
		if err != nil {
			return fmt.Errorf("radicacion: check %s %s: %w", catalog, code, err)
		}
		if !ok {
			verr.add(field, fmt.Sprintf("%s: %s", code, ErrUnknownCode.Error()))
		}
		return nil
	}
	if req.DiagnosticoCIE10 != "" {
		if err := check("diagnostico_cie10", codes.CatalogCIE10, req.DiagnosticoCIE10); err != nil {
			return err
		}
	}
	for i, c := range req.ProcedimientosCUPS {
		if err := check(fmt.Sprintf("procedimientos_cups[%d]", i), codes.CatalogCUPS, c); err != nil {
			return err
		}
	}
	for i, c := range req.Medicamentos {
		if err := check(fmt.Sprintf("medicamentos[%d]", i), codes.CatalogMedicamentos, c); err != nil {
			return err
		}
	}
	return verr.orNil()
}

func (s *Service) Get(ctx context.Context, id string) (*Radicado, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrRadicadoNotFound
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) GetByNumero(ctx context.Context, numero string) (*Radicado, error) {
	numero = strings.ToUpper(strings.TrimSpace(numero))
	if numero == "" {
		return nil, ErrRadicadoNotFound
	}
	return s.repo.GetByNumero(ctx, numero)
}

func (s *Service) List(ctx context.Context, filter ListFilter) (Page, error) {
	if filter.Estado != "" && !filter.Estado.Valid() {
		return Page{}, ErrInvalidEstado
	}
	return s.repo.List(ctx, filter)
}

func (s *Service) History(ctx context.Context, id string) ([]HistorialEntry, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, id)
}

func (s *Service) Stats(ctx context.Context) (Stats, error) {
	return s.repo.Stats(ctx, s.now())
}

// Transition moves a radicado to req.Estado. Voiding a radicado also removes
// its OneDrive folder; a cleanup failure is logged and does not fail the call.
func (s *Service) Transition(ctx context.Context, actor *collaborators.Collaborator, id string, req TransitionRequest) (*Radicado, error) {
	if actor == nil {
		return nil, ErrMissingActor
	}
	to := Estado(strings.TrimSpace(string(req.Estado)))
	if !to.Valid() {
		return nil, ErrInvalidEstado
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrRadicadoNotFound
	}
	ctx, span := tracer.Start(ctx, "radicacion.transition")
	defer span.End()
	span.SetAttributes(attribute.String("radicado.id", id), attribute.String("radicado.estado", string(to)))

	observacion := strings.TrimSpace(req.Observacion)
	r, from, err := s.repo.Transition(ctx, id, to, actor.ID, observacion)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	s.metrics.ObserveTransition(string(from), string(to))
	s.record(ctx, actor, audit.EventRadicadoTransition, r.ID, map[string]any{
		"numero": r.Numero, "from": from, "to": to, "observacion": observacion,
	})
	s.logger.Info("radicado transitioned", "numero", r.Numero, "from", from, "to", to, "colaborador_id", actor.ID)

	if to == EstadoAnulado {
		s.cleanupFolder(ctx, actor, r)
	}
	return r, nil
}

func (s *Service) cleanupFolder(ctx context.Context, actor *collaborators.Collaborator, r *Radicado) {
	if s.folders == nil {
		return
	}
	path := s.folders.FolderFor(r.Numero)
	res, err := s.folders.DeleteFolder(ctx, path)
	if err != nil {
		s.logger.Warn("onedrive cleanup failed", "error", err, "numero", r.Numero, "path", path)
		return
	}
	s.record(ctx, actor, audit.EventOneDriveFolderDelete, r.ID, res)
	s.logger.Info("onedrive folder removed", "numero", r.Numero, "path", res.Path, "already_absent", res.AlreadyAbsent)
}

// Assign sets the reviewer of a radicado. The assignee must be an active
// collaborator when a lookup is available.
func (s *Service) Assign(ctx context.Context, actor *collaborators.Collaborator, id string, assignee *collaborators.Collaborator) (*Radicado, error) {
	if actor == nil {
		return nil, ErrMissingActor
	}
	if assignee == nil || !assignee.Activo {
		return nil, &ValidationError{Fields: map[string]string{"colaborador_id": "colaborador inactivo o inexistente"}}
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrRadicadoNotFound
	}
	r, err := s.repo.Assign(ctx, id, assignee.ID, actor.ID)
	if err != nil {
		return nil, err
	}
	s.record(ctx, actor, audit.EventRadicadoAssigned, r.ID, map[string]any{
		"numero": r.Numero, "asignado_a": assignee.ID,
	})
	s.logger.Info("radicado assigned", "numero", r.Numero, "asignado_a", assignee.ID)
	return r, nil
}

func (s *Service) record(ctx context.Context, actor *collaborators.Collaborator, typ audit.EventType, resource string, details any) {
	event := audit.Event{
		Type:       typ,
		ActorID:    actor.ID,
		ActorEmail: actor.Email,
		Resource:   resource,
		IPAddress:  ipFromContext(ctx),
		Details:    audit.Details(details),
	}
	if err := s.audit.LogEvent(ctx, event); err != nil {
		s.logger.Warn("failed to write audit event", "error", err, "event_type", typ, "resource", resource)
	}
}

type ipKey struct{}

// withClientIP carries the caller address into audit records.
func withClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ipKey{}, ip)
}

func ipFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(ipKey{}).(string)
	return ip
}
