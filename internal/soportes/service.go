package soportes

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/portalsalud/portal-colaboradores/internal/audit"
	"github.com/portalsalud/portal-colaboradores/internal/collaborators"
	"github.com/portalsalud/portal-colaboradores/internal/embeddings"
	"github.com/portalsalud/portal-colaboradores/internal/events"
	"github.com/portalsalud/portal-colaboradores/internal/observability/metrics"
	"github.com/portalsalud/portal-colaboradores/internal/ocr"
	"github.com/portalsalud/portal-colaboradores/internal/onedrive"
	"github.com/portalsalud/portal-colaboradores/internal/radicacion"
	"github.com/portalsalud/portal-colaboradores/pkg/logging"
)

var tracer = otel.Tracer("portal.internal.soportes")

const (
	defaultMaxBytes = 20 << 20
	defaultURLTTL   = 15 * time.Minute
	embedRunes      = 8000
)

type rowStore interface {
	Insert(ctx context.Context, s *Soporte, evt events.SoporteSubidoV1) error
	Get(ctx context.Context, id string) (*Soporte, error)
	ListByRadicado(ctx context.Context, radicadoID string) ([]Soporte, error)
	Delete(ctx context.Context, id string) error
	SetOCR(ctx context.Context, id string, status OCRStatus, text string, confidence float32, embedding []float32) error
	PendingOCR(ctx context.Context, limit int) ([]Soporte, error)
}

type objectStore interface {
	Put(ctx context.Context, key string, content []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
	PresignGet(ctx context.Context, key, filename string, ttl time.Duration) (string, error)
}

// RadicadoReader resolves the radicado a soporte belongs to.
type RadicadoReader interface {
	Get(ctx context.Context, id string) (*radicacion.Radicado, error)
	GetByNumero(ctx context.Context, numero string) (*radicacion.Radicado, error)
}

// Mirror copies uploads into the radicado's OneDrive folder.
type Mirror interface {
	FolderFor(numero string) string
	EnsureFolder(ctx context.Context, path string) error
	Upload(ctx context.Context, path string, content []byte, contentType string) (*onedrive.Item, error)
	DeleteFile(ctx context.Context, path string) (*onedrive.DeleteResult, error)
}

// Processor extracts text from a document.
type Processor interface {
	Process(ctx context.Context, content []byte, mimeType string) (*ocr.Result, error)
}

// Embedder vectorizes OCR text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Option func(*Service)

func WithMirror(m Mirror) Option { return func(s *Service) { s.mirror = m } }

func WithOCR(p Processor, e Embedder) Option {
	return func(s *Service) { s.ocr, s.embedder = p, e }
}

func WithAudit(l audit.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.audit = l
		}
	}
}

func WithMetrics(m *metrics.RadicacionMetrics) Option { return func(s *Service) { s.metrics = m } }

func WithMaxBytes(n int64) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxBytes = n
		}
	}
}

func WithURLTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.urlTTL = ttl
		}
	}
}

// Service manages soportes.
type Service struct {
	rows      rowStore
	objects   objectStore
	radicados RadicadoReader
	mirror    Mirror
	ocr       Processor
	embedder  Embedder
	audit     audit.Logger
	metrics   *metrics.RadicacionMetrics
	logger    *logging.Logger
	maxBytes  int64
	urlTTL    time.Duration
	now       func() time.Time
}

func NewService(rows rowStore, objects objectStore, radicados RadicadoReader, logger *logging.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{
		rows:      rows,
		objects:   objects,
		radicados: radicados,
		audit:     audit.Nop{},
		logger:    logger,
		maxBytes:  defaultMaxBytes,
		urlTTL:    defaultURLTTL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// MaxBytes is the upload size limit.
func (s *Service) MaxBytes() int64 { return s.maxBytes }

// Upload validates f, stores it in the bucket and records the row. The
// OneDrive mirror is best-effort. If the row cannot be written the object is
// removed again.
func (s *Service) Upload(ctx context.Context, actor *collaborators.Collaborator, radicadoID string, f Upload) (_ *Soporte, err error) {
	if actor == nil {
		return nil, ErrMissingActor
	}
	defer func() { s.metrics.ObserveSoporte("upload", err == nil) }()

	if len(f.Content) == 0 {
		return nil, ErrEmptyFile
	}
	if int64(len(f.Content)) > s.maxBytes {
		return nil, ErrTooLarge
	}
	contentType, err := DetectType(f.Content)
	if err != nil {
		return nil, err
	}
	if f.ContentType != "" && f.ContentType != contentType {
		s.logger.Debug("declared content type differs from sniffed", "declared", f.ContentType, "sniffed", contentType)
	}
	if _, err := uuid.Parse(radicadoID); err != nil {
		return nil, radicacion.ErrRadicadoNotFound
	}
	rad, err := s.radicados.Get(ctx, radicadoID)
	if err != nil {
		return nil, err
	}
	if rad.Estado.Final() {
		return nil, ErrRadicadoClosed
	}

	ctx, span := tracer.Start(ctx, "soportes.upload")
	defer span.End()

	id := uuid.NewString()
	name := SanitizeFilename(f.Filename, contentType)
	sop := &Soporte{
		ID:            id,
		RadicadoID:    rad.ID,
		NombreArchivo: name,
		ContentType:   contentType,
		TamanoBytes:   int64(len(f.Content)),
		StorageKey:    StorageKey(rad.Numero, id, name),
		OCRStatus:     OCRPending,
		SubidoPor:     actor.ID,
		CreatedAt:     s.now().UTC(),
	}
	span.SetAttributes(attribute.String("radicado.numero", rad.Numero), attribute.Int64("soporte.bytes", sop.TamanoBytes))

	if err := s.objects.Put(ctx, sop.StorageKey, f.Content, contentType); err != nil {
		span.RecordError(err)
		return nil, err
	}
	sop.OneDrivePath = s.mirrorUpload(ctx, rad.Numero, id+"-"+name, f.Content, contentType)

	evt := events.SoporteSubidoV1{
		SoporteID:  id,
		RadicadoID: rad.ID,
		Numero:     rad.Numero,
		Nombre:     name,
		SubidoPor:  actor.ID,
		OccurredAt: sop.CreatedAt,
	}
	if err := s.rows.Insert(ctx, sop, evt); err != nil {
		span.RecordError(err)
		if derr := s.objects.Delete(ctx, sop.StorageKey); derr != nil {
			s.logger.Warn("failed to remove orphaned soporte object", "error", derr, "key", sop.StorageKey)
		}
		return nil, err
	}

	s.record(ctx, actor, audit.EventSoporteUploaded, id, map[string]any{
		"radicado": rad.Numero, "nombre": name, "bytes": sop.TamanoBytes, "content_type": contentType,
	})
	s.logger.Info("soporte uploaded", "soporte_id", id, "numero", rad.Numero, "bytes", sop.TamanoBytes)
	return sop, nil
}

func (s *Service) mirrorUpload(ctx context.Context, numero, name string, content []byte, contentType string) string {
	if s.mirror == nil {
		return ""
	}
	folder := s.mirror.FolderFor(numero)
	if err := s.mirror.EnsureFolder(ctx, folder); err != nil {
		s.logger.Warn("onedrive folder unavailable", "error", err, "numero", numero)
		return ""
	}
	target := path.Join(folder, name)
	if _, err := s.mirror.Upload(ctx, target, content, contentType); err != nil {
		s.logger.Warn("onedrive mirror failed", "error", err, "numero", numero, "path", target)
		return ""
	}
	return target
}

func (s *Service) List(ctx context.Context, radicadoID string) ([]Soporte, error) {
	if _, err := uuid.Parse(radicadoID); err != nil {
		return nil, radicacion.ErrRadicadoNotFound
	}
	return s.rows.ListByRadicado(ctx, radicadoID)
}

func (s *Service) Get(ctx context.Context, id string) (*Soporte, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrSoporteNotFound
	}
	return s.rows.Get(ctx, id)
}

// DownloadURL is a presigned GET valid for the configured TTL.
type DownloadURL struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Service) DownloadURL(ctx context.Context, id string) (*DownloadURL, error) {
	sop, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	url, err := s.objects.PresignGet(ctx, sop.StorageKey, sop.NombreArchivo, s.urlTTL)
	if err != nil {
		return nil, err
	}
	return &DownloadURL{URL: url, ExpiresAt: s.now().UTC().Add(s.urlTTL)}, nil
}

// Delete removes the object and then the row. The OneDrive copy is removed
// last and only on a best-effort basis.
func (s *Service) Delete(ctx context.Context, actor *collaborators.Collaborator, id string) (err error) {
	if actor == nil {
		return ErrMissingActor
	}
	defer func() { s.metrics.ObserveSoporte("delete", err == nil) }()
	sop, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.objects.Delete(ctx, sop.StorageKey); err != nil {
		return err
	}
	if err := s.rows.Delete(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor, audit.EventSoporteDeleted, id, map[string]any{
		"radicado_id": sop.RadicadoID, "nombre": sop.NombreArchivo, "storage_key": sop.StorageKey,
	})
	s.logger.Info("soporte deleted", "soporte_id", id, "radicado_id", sop.RadicadoID)
	s.mirrorDelete(ctx, sop)
	return nil
}

func (s *Service) mirrorDelete(ctx context.Context, sop *Soporte) {
	if s.mirror == nil || sop.OneDrivePath == "" {
		return
	}
	if _, err := s.mirror.DeleteFile(ctx, sop.OneDrivePath); err != nil {
		s.logger.Warn("onedrive mirror delete failed", "error", err, "soporte_id", sop.ID, "path", sop.OneDrivePath)
	}
}

// RunOCR extracts the soporte's text and stores it with its embedding. A
// processing failure marks the row failed and is returned. An embedding
// failure is logged and the text is kept.
func (s *Service) RunOCR(ctx context.Context, actor *collaborators.Collaborator, id string) (_ *Soporte, err error) {
	if s.ocr == nil {
		return nil, ErrOCRNotConfigured
	}
	defer func() { s.metrics.ObserveSoporte("ocr", err == nil) }()
	sop, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "soportes.ocr")
	defer span.End()
	span.SetAttributes(attribute.String("soporte.id", id))

	content, err := s.objects.Get(ctx, sop.StorageKey)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	res, err := s.ocr.Process(ctx, content, sop.ContentType)
	if err != nil {
		span.RecordError(err)
		if serr := s.rows.SetOCR(ctx, id, OCRFailed, "", 0, nil); serr != nil {
			s.logger.Warn("failed to mark ocr failure", "error", serr, "soporte_id", id)
		}
		return nil, fmt.Errorf("soportes: ocr %s: %w", id, err)
	}

	var vec []float32
	if s.embedder != nil && res.Text != "" {
		vec, err = s.embedder.Embed(ctx, embeddings.Truncate(res.Text, embedRunes))
		if err != nil {
			s.logger.Warn("soporte embedding failed", "error", err, "soporte_id", id)
			vec, err = nil, nil
		}
	}
	confidence := float32(res.Confidence)
	if err := s.rows.SetOCR(ctx, id, OCRDone, res.Text, confidence, vec); err != nil {
		return nil, err
	}
	sop.OCRStatus, sop.OCRText, sop.OCRConfidence = OCRDone, res.Text, confidence

	details := map[string]any{"pages": res.Pages, "confidence": res.Confidence, "embedded": vec != nil}
	if actor != nil {
		s.record(ctx, actor, audit.EventSoporteOCR, id, details)
	}
	s.logger.Info("soporte ocr complete", "soporte_id", id, "pages", res.Pages, "confidence", res.Confidence)
	return sop, nil
}

// ProcessPending runs OCR over up to limit pending soportes and returns how
// many succeeded.
func (s *Service) ProcessPending(ctx context.Context, limit int) (int, error) {
	pending, err := s.rows.PendingOCR(ctx, limit)
	if err != nil {
		return 0, err
	}
	done := 0
	var errs []error
	for _, sop := range pending {
		if _, err := s.RunOCR(ctx, nil, sop.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		done++
	}
	return done, errors.Join(errs...)
}

// Inspect compares the rows of a radicado with the objects under its prefix.
func (s *Service) Inspect(ctx context.Context, numero string) (*InspectReport, error) {
	rad, err := s.radicados.GetByNumero(ctx, numero)
	if err != nil {
		return nil, err
	}
	rows, err := s.rows.ListByRadicado(ctx, rad.ID)
	if err != nil {
		return nil, err
	}
	keys, err := s.objects.Keys(ctx, Prefix(rad.Numero))
	if err != nil {
		return nil, err
	}

	report := &InspectReport{
		Numero:     rad.Numero,
		RadicadoID: rad.ID,
		Rows:       len(rows),
		Objects:    len(keys),
		Missing:    []Soporte{},
		Orphans:    []string{},
	}
	present := make(map[string]bool, len(keys))
	for _, k := range keys {
		present[k] = true
	}
	known := make(map[string]bool, len(rows))
	for _, row := range rows {
		known[row.StorageKey] = true
		if !present[row.StorageKey] {
			report.Missing = append(report.Missing, row)
		}
	}
	for _, k := range keys {
		if !known[k] {
			report.Orphans = append(report.Orphans, k)
		}
	}
	return report, nil
}

func (s *Service) record(ctx context.Context, actor *collaborators.Collaborator, typ audit.EventType, resource string, details any) {
	event := audit.Event{
		Type:       typ,
		ActorID:    actor.ID,
		ActorEmail: actor.Email,
		Resource:   resource,
		IPAddress:  clientIP(ctx),
		Details:    audit.Details(details),
	}
	if err := s.audit.LogEvent(ctx, event); err != nil {
		s.logger.Warn("failed to write audit event", "error", err, "event_type", typ, "resource", resource)
	}
}

type ipKey struct{}

func withClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ipKey{}, ip)
}

func clientIP(ctx context.Context) string {
	ip, _ := ctx.Value(ipKey{}).(string)
	return ip
}
