// Package radicacion files and tracks radicados: numbered requests that move
// through review states until they are closed or voided.
package radicacion

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Bogota is the portal's business time zone. Colombia has no DST.
var Bogota = time.FixedZone("America/Bogota", -5*60*60)

type Tipo string

const (
	TipoAutorizacionServicio Tipo = "autorizacion_servicio"
	TipoReembolso            Tipo = "reembolso"
	TipoPQRS                 Tipo = "pqrs"
	TipoRecobro              Tipo = "recobro"
	TipoOtro                 Tipo = "otro"
)

func (t Tipo) Valid() bool {
	switch t {
	case TipoAutorizacionServicio, TipoReembolso, TipoPQRS, TipoRecobro, TipoOtro:
		return true
	}
	return false
}

type Estado string

const (
	EstadoRadicado   Estado = "radicado"
	EstadoEnRevision Estado = "en_revision"
	EstadoAprobado   Estado = "aprobado"
	EstadoRechazado  Estado = "rechazado"
	EstadoDevuelto   Estado = "devuelto"
	EstadoAnulado    Estado = "anulado"
	EstadoCerrado    Estado = "cerrado"
)

var transitions = map[Estado][]Estado{
	EstadoRadicado:   {EstadoEnRevision, EstadoAnulado},
	EstadoEnRevision: {EstadoAprobado, EstadoRechazado, EstadoDevuelto},
	EstadoDevuelto:   {EstadoEnRevision, EstadoAnulado},
	EstadoAprobado:   {EstadoCerrado},
	EstadoRechazado:  {EstadoCerrado},
}

// Valid reports whether e is a known state.
func (e Estado) Valid() bool {
	if _, ok := transitions[e]; ok {
		return true
	}
	return e == EstadoAnulado || e == EstadoCerrado
}

// Final reports whether no transition leaves e.
func (e Estado) Final() bool {
	return len(transitions[e]) == 0
}

// CanTransition reports whether from → to is allowed.
func CanTransition(from, to Estado) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextEstados lists the states reachable from e.
func NextEstados(e Estado) []Estado {
	return append([]Estado(nil), transitions[e]...)
}

type Prioridad string

const (
	PrioridadNormal  Prioridad = "normal"
	PrioridadAlta    Prioridad = "alta"
	PrioridadUrgente Prioridad = "urgente"
)

var plazos = map[Prioridad]int{
	PrioridadNormal:  5,
	PrioridadAlta:    3,
	PrioridadUrgente: 1,
}

func (p Prioridad) Valid() bool {
	_, ok := plazos[p]
	return ok
}

// BusinessDays is the response window for p.
func (p Prioridad) BusinessDays() int {
	return plazos[p]
}

// DueDate adds p's business days to the Bogotá calendar date of from,
// skipping Saturdays and Sundays. The result is midnight Bogotá time.
func DueDate(from time.Time, p Prioridad) time.Time {
	local := from.In(Bogota)
	d := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, Bogota)
	for left := p.BusinessDays(); left > 0; {
		d = d.AddDate(0, 0, 1)
		if wd := d.Weekday(); wd != time.Saturday && wd != time.Sunday {
			left--
		}
	}
	return d
}

// FormatNumero renders RAD-YYYYMMDD-NNNNNN using the Bogotá date. The
// sequence is global, so it widens past six digits instead of wrapping.
func FormatNumero(at time.Time, seq int64) string {
	return fmt.Sprintf("RAD-%s-%06d", at.In(Bogota).Format("20060102"), seq)
}

// Afiliado is the affiliate snapshot stored with the radicado.
type Afiliado struct {
	TipoDocumento   string `json:"tipo_documento"`
	NumeroDocumento string `json:"numero_documento"`
	Nombre          string `json:"nombre"`
	Telefono        string `json:"telefono,omitempty"`
	Email           string `json:"email,omitempty"`
	EPS             string `json:"eps,omitempty"`
}

// Radicado is a filed request.
type Radicado struct {
	ID                 string    `json:"id"`
	Numero             string    `json:"numero"`
	Tipo               Tipo      `json:"tipo"`
	Estado             Estado    `json:"estado"`
	Prioridad          Prioridad `json:"prioridad"`
	Afiliado           Afiliado  `json:"afiliado"`
	DiagnosticoCIE10   string    `json:"diagnostico_cie10,omitempty"`
	ProcedimientosCUPS []string  `json:"procedimientos_cups"`
	Medicamentos       []string  `json:"medicamentos"`
	Descripcion        string    `json:"descripcion"`
	RadicadoPor        string    `json:"radicado_por"`
	AsignadoA          *string   `json:"asignado_a,omitempty"`
	FechaVencimiento   time.Time `json:"fecha_vencimiento"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Vencido reports whether an open radicado is past its due date at now.
func (r *Radicado) Vencido(now time.Time) bool {
	if !isOpen(r.Estado) {
		return false
	}
	return civilDate(r.FechaVencimiento).Before(civilDate(now.In(Bogota)))
}

// civilDate drops the clock and zone from t, keeping its calendar date.
// DATE columns come back from Postgres as UTC midnight.
func civilDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// CreateRequest is the filing form.
type CreateRequest struct {
	Tipo               Tipo      `json:"tipo"`
	Prioridad          Prioridad `json:"prioridad"`
	Afiliado           Afiliado  `json:"afiliado"`
	DiagnosticoCIE10   string    `json:"diagnostico_cie10"`
	ProcedimientosCUPS []string  `json:"procedimientos_cups"`
	Medicamentos       []string  `json:"medicamentos"`
	Descripcion        string    `json:"descripcion"`
}

// ValidationError lists every invalid field.
type ValidationError struct {
	Fields map[string]string `json:"fields"`
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	return "radicacion: invalid request: " + strings.Join(sortStrings(keys), ", ")
}

func (e *ValidationError) add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	e.Fields[field] = msg
}

func (e *ValidationError) orNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// normalize trims input and applies defaults in place.
func (req *CreateRequest) normalize() {
	req.Tipo = Tipo(strings.TrimSpace(string(req.Tipo)))
	req.Prioridad = Prioridad(strings.TrimSpace(string(req.Prioridad)))
	if req.Prioridad == "" {
		req.Prioridad = PrioridadNormal
	}
	a := &req.Afiliado
	a.TipoDocumento = strings.ToUpper(strings.TrimSpace(a.TipoDocumento))
	a.NumeroDocumento = strings.TrimSpace(a.NumeroDocumento)
	a.Nombre = strings.TrimSpace(a.Nombre)
	a.Telefono = strings.TrimSpace(a.Telefono)
	a.Email = strings.ToLower(strings.TrimSpace(a.Email))
	a.EPS = strings.TrimSpace(a.EPS)
	req.DiagnosticoCIE10 = strings.ToUpper(strings.TrimSpace(req.DiagnosticoCIE10))
	req.ProcedimientosCUPS = cleanCodes(req.ProcedimientosCUPS)
	req.Medicamentos = cleanCodes(req.Medicamentos)
	req.Descripcion = strings.TrimSpace(req.Descripcion)
}

// validate checks the form without consulting catalogs.
func (req *CreateRequest) validate() error {
	var verr ValidationError
	if !req.Tipo.Valid() {
		verr.add("tipo", "tipo de radicado desconocido")
	}
	if !req.Prioridad.Valid() {
		verr.add("prioridad", "prioridad desconocida")
	}
	if req.Afiliado.TipoDocumento == "" {
		verr.add("afiliado.tipo_documento", "requerido")
	}
	if req.Afiliado.NumeroDocumento == "" {
		verr.add("afiliado.numero_documento", "requerido")
	}
	if req.Tipo == TipoAutorizacionServicio && req.DiagnosticoCIE10 == "" {
		verr.add("diagnostico_cie10", "requerido para autorizaciones de servicio")
	}
	if req.Descripcion == "" {
		verr.add("descripcion", "requerida")
	}
	return verr.orNil()
}

func cleanCodes(in []string) []string {
	out := make([]string, 0, len(in))
	seen := map[string]bool{}
	for _, c := range in {
		c = strings.ToUpper(strings.TrimSpace(c))
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// TransitionRequest moves a radicado to a new state.
type TransitionRequest struct {
	Estado      Estado `json:"estado"`
	Observacion string `json:"observacion"`
}

// HistorialEntry is one recorded state change.
type HistorialEntry struct {
	ID             string    `json:"id"`
	RadicadoID     string    `json:"radicado_id"`
	EstadoAnterior Estado    `json:"estado_anterior"`
	EstadoNuevo    Estado    `json:"estado_nuevo"`
	ColaboradorID  string    `json:"colaborador_id"`
	Observacion    string    `json:"observacion,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ListFilter narrows List. Query matches numero, affiliate document or name.
type ListFilter struct {
	Estado    Estado
	Tipo      Tipo
	AsignadoA string
	Query     string
	Page      int
	PageSize  int
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func (f *ListFilter) normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = defaultPageSize
	}
	if f.PageSize > maxPageSize {
		f.PageSize = maxPageSize
	}
	f.Query = strings.TrimSpace(f.Query)
}

// Page is one page of List results.
type Page struct {
	Items    []Radicado `json:"items"`
	Total    int        `json:"total"`
	Page     int        `json:"page"`
	PageSize int        `json:"page_size"`
}

// Stats summarizes the radicado backlog.
type Stats struct {
	Total     int            `json:"total"`
	PorEstado map[Estado]int `json:"por_estado"`
	PorTipo   map[Tipo]int   `json:"por_tipo"`
	Vencidos  int            `json:"vencidos"`
}

var (
	ErrRadicadoNotFound  = errors.New("radicacion: radicado not found")
	ErrInvalidTransition = errors.New("radicacion: invalid state transition")
	ErrInvalidEstado     = errors.New("radicacion: unknown estado")
	ErrUnknownCode       = errors.New("radicacion: code not found in catalog")
	ErrMissingActor      = errors.New("radicacion: collaborator required")
)
