package radicacion

import (
	"testing"
	"time"
)

func TestDueDateSkipsWeekends(t *testing.T) {
	// Thursday 2024-03-14, 22:00 Bogotá, is Friday 03:00 UTC.
	filed := time.Date(2024, 3, 15, 3, 0, 0, 0, time.UTC)
	cases := []struct {
		p    Prioridad
		want string
	}{
		{PrioridadUrgente, "2024-03-15"},
		{PrioridadAlta, "2024-03-19"},
		{PrioridadNormal, "2024-03-21"},
	}
	for _, tc := range cases {
		got := DueDate(filed, tc.p).Format("2006-01-02")
		if got != tc.want {
			t.Errorf("%s: got %s want %s", tc.p, got, tc.want)
		}
	}

	friday := time.Date(2024, 3, 15, 15, 0, 0, 0, Bogota)
	if got := DueDate(friday, PrioridadUrgente).Weekday(); got != time.Monday {
		t.Fatalf("expected monday, got %s", got)
	}
}

func TestFormatNumeroUsesBogotaDate(t *testing.T) {
	at := time.Date(2024, 1, 2, 2, 30, 0, 0, time.UTC) // 2024-01-01 21:30 in Bogotá
	if got := FormatNumero(at, 42); got != "RAD-20240101-000042" {
		t.Fatalf("unexpected numero %q", got)
	}
}

func TestFormatNumeroWidensPastSixDigits(t *testing.T) {
	at := time.Date(2024, 3, 15, 15, 0, 0, 0, time.UTC)
	first, later := FormatNumero(at, 1), FormatNumero(at, 1_000_001)
	if first != "RAD-20240315-000001" || later != "RAD-20240315-1000001" {
		t.Fatalf("unexpected numeros %q %q", first, later)
	}
}

func TestCanTransition(t *testing.T) {
	allowed := [][2]Estado{
		{EstadoRadicado, EstadoEnRevision},
		{EstadoRadicado, EstadoAnulado},
		{EstadoEnRevision, EstadoAprobado},
		{EstadoEnRevision, EstadoRechazado},
		{EstadoEnRevision, EstadoDevuelto},
		{EstadoDevuelto, EstadoEnRevision},
		{EstadoDevuelto, EstadoAnulado},
		{EstadoAprobado, EstadoCerrado},
		{EstadoRechazado, EstadoCerrado},
	}
	for _, tr := range allowed {
		if !CanTransition(tr[0], tr[1]) {
			t.Errorf("expected %s -> %s to be allowed", tr[0], tr[1])
		}
	}
	denied := [][2]Estado{
		{EstadoRadicado, EstadoAprobado},
		{EstadoEnRevision, EstadoAnulado},
		{EstadoCerrado, EstadoRadicado},
		{EstadoAnulado, EstadoEnRevision},
		{EstadoAprobado, EstadoRechazado},
	}
	for _, tr := range denied {
		if CanTransition(tr[0], tr[1]) {
			t.Errorf("expected %s -> %s to be denied", tr[0], tr[1])
		}
	}
	if !EstadoCerrado.Final() || !EstadoAnulado.Final() || EstadoDevuelto.Final() {
		t.Fatal("unexpected final states")
	}
	if !EstadoCerrado.Valid() || Estado("archivado").Valid() {
		t.Fatal("unexpected estado validity")
	}
}

func TestCreateRequestValidation(t *testing.T) {
	req := CreateRequest{Tipo: " autorizacion_servicio ", Afiliado: Afiliado{TipoDocumento: "cc"}}
	req.normalize()
	err := req.validate()
	verr, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected validation error, got %v", err)
	}
	for _, field := range []string{"afiliado.numero_documento", "diagnostico_cie10", "descripcion"} {
		if _, ok := verr.Fields[field]; !ok {
			t.Errorf("expected %s to be flagged, got %v", field, verr.Fields)
		}
	}
	if req.Prioridad != PrioridadNormal || req.Afiliado.TipoDocumento != "CC" {
		t.Fatalf("normalize did not apply defaults: %+v", req)
	}

	ok2 := CreateRequest{
		Tipo:               TipoReembolso,
		Afiliado:           Afiliado{TipoDocumento: "CC", NumeroDocumento: "1020"},
		Descripcion:        "reembolso de consulta",
		ProcedimientosCUPS: []string{" 890201", "890201", ""},
	}
	ok2.normalize()
	if err := ok2.validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ok2.ProcedimientosCUPS) != 1 {
		t.Fatalf("expected deduped codes, got %v", ok2.ProcedimientosCUPS)
	}
}

func TestVencido(t *testing.T) {
	due := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
	r := &Radicado{Estado: EstadoEnRevision, FechaVencimiento: due}
	if r.Vencido(time.Date(2024, 3, 15, 23, 0, 0, 0, Bogota)) {
		t.Fatal("due date itself is not overdue")
	}
	if !r.Vencido(time.Date(2024, 3, 16, 8, 0, 0, 0, Bogota)) {
		t.Fatal("expected overdue the next day")
	}
	r.Estado = EstadoCerrado
	if r.Vencido(time.Date(2024, 4, 1, 8, 0, 0, 0, Bogota)) {
		t.Fatal("closed radicados are never overdue")
	}
}
