package events

import "time"

const (
	TypeRadicadoCreado         = "radicado.creado.v1"
	TypeRadicadoEstadoCambiado = "radicado.estado_cambiado.v1"
	TypeRadicadoAsignado       = "radicado.asignado.v1"
	TypeSoporteSubido          = "soporte.subido.v1"
)

// RadicadoCreadoV1 is emitted when a radicado number is issued.
type RadicadoCreadoV1 struct {
	RadicadoID       string    `json:"radicado_id"`
	Numero           string    `json:"numero"`
	Tipo             string    `json:"tipo"`
	Prioridad        string    `json:"prioridad"`
	AfiliadoNombre   string    `json:"afiliado_nombre"`
	AfiliadoTelefono string    `json:"afiliado_telefono,omitempty"`
	AfiliadoEmail    string    `json:"afiliado_email,omitempty"`
	RadicadoPor      string    `json:"radicado_por"`
	FechaVencimiento time.Time `json:"fecha_vencimiento"`
	CreatedAt        time.Time `json:"created_at"`
}

func (RadicadoCreadoV1) EventType() string { return TypeRadicadoCreado }

// RadicadoEstadoCambiadoV1 is emitted on every state transition.
type RadicadoEstadoCambiadoV1 struct {
	RadicadoID       string    `json:"radicado_id"`
	Numero           string    `json:"numero"`
	EstadoAnterior   string    `json:"estado_anterior"`
	EstadoNuevo      string    `json:"estado_nuevo"`
	Observacion      string    `json:"observacion,omitempty"`
	CambiadoPor      string    `json:"cambiado_por"`
	AfiliadoNombre   string    `json:"afiliado_nombre"`
	AfiliadoTelefono string    `json:"afiliado_telefono,omitempty"`
	AfiliadoEmail    string    `json:"afiliado_email,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

func (RadicadoEstadoCambiadoV1) EventType() string { return TypeRadicadoEstadoCambiado }

type RadicadoAsignadoV1 struct {
	RadicadoID  string    `json:"radicado_id"`
	Numero      string    `json:"numero"`
	AsignadoA   string    `json:"asignado_a"`
	AsignadoPor string    `json:"asignado_por"`
	OccurredAt  time.Time `json:"occurred_at"`
}

func (RadicadoAsignadoV1) EventType() string { return TypeRadicadoAsignado }

type SoporteSubidoV1 struct {
	SoporteID  string    `json:"soporte_id"`
	RadicadoID string    `json:"radicado_id"`
	Numero     string    `json:"numero"`
	Nombre     string    `json:"nombre"`
	SubidoPor  string    `json:"subido_por"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (SoporteSubidoV1) EventType() string { return TypeSoporteSubido }
