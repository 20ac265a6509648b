package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

type stubExec struct {
	sql  string
	args []any
}

type badEvent struct{}

func (badEvent) EventType() string { return "" }

func (s *stubExec) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	s.sql = sql
	s.args = args
	return pgconn.CommandTag{}, nil
}

func TestNewEnvelope(t *testing.T) {
	fixedNow := time.Unix(0, 123456000).UTC()
	prevNow := nowFunc
	nowFunc = func() time.Time { return fixedNow }
	defer func() { nowFunc = prevNow }()

	id := uuid.MustParse("9a20d7d1-bf6a-4d33-bd55-5d25a816f1a8")
	env, err := newEnvelope("radicado:RAD-20240105-000001", "corr-1", RadicadoCreadoV1{
		RadicadoID: "r-1",
		Numero:     "RAD-20240105-000001",
		Tipo:       "autorizacion_servicio",
		CreatedAt:  fixedNow,
	}, WithEventID(id))
	if err != nil {
		t.Fatalf("newEnvelope failed: %v", err)
	}
	if env.EventID != id {
		t.Fatalf("expected event id override, got %s", env.EventID)
	}
	if env.TimestampMicros != fixedNow.UnixMicro() {
		t.Fatalf("unexpected timestamp: %d", env.TimestampMicros)
	}
	if !env.OccurredAt().Equal(fixedNow) {
		t.Fatalf("unexpected occurred at: %s", env.OccurredAt())
	}
	if env.EventType != TypeRadicadoCreado {
		t.Fatalf("unexpected type: %s", env.EventType)
	}

	var decoded RadicadoCreadoV1
	if err := env.Decode(&decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Numero != "RAD-20240105-000001" {
		t.Fatalf("unexpected numero %q", decoded.Numero)
	}
}

func TestAppendCanonicalEvent(t *testing.T) {
	exec := &stubExec{}
	env, err := AppendCanonicalEvent(context.Background(), exec, "radicado:r-1", "", RadicadoEstadoCambiadoV1{
		RadicadoID:     "r-1",
		EstadoAnterior: "radicado",
		EstadoNuevo:    "en_revision",
		OccurredAt:     time.Unix(100, 0).UTC(),
	})
	if err != nil {
		t.Fatalf("append canonical failed: %v", err)
	}
	if env.EventID == uuid.Nil {
		t.Fatal("expected generated event id")
	}
	if len(exec.args) != 4 {
		t.Fatalf("expected exec args, got %#v", exec.args)
	}
	if exec.args[0] != env.EventID || exec.args[2] != TypeRadicadoEstadoCambiado {
		t.Fatalf("unexpected args %#v", exec.args)
	}
	payloadBytes, ok := exec.args[3].([]byte)
	if !ok {
		t.Fatalf("payload arg type %T", exec.args[3])
	}
	var stored Envelope
	if err := json.Unmarshal(payloadBytes, &stored); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if stored.EventType != env.EventType || stored.Aggregate != env.Aggregate {
		t.Fatalf("stored envelope mismatch: %#v", stored)
	}
}

func TestEnvelopeValidation(t *testing.T) {
	if _, err := newEnvelope("", "", SoporteSubidoV1{}); err == nil {
		t.Fatal("expected aggregate error")
	}
	if _, err := newEnvelope("agg", "", nil); err == nil {
		t.Fatal("expected nil event error")
	}
	if _, err := newEnvelope("agg", "", badEvent{}); err == nil {
		t.Fatal("expected event type error")
	}
	if err := (Envelope{}).Decode(&struct{}{}); err == nil {
		t.Fatal("expected empty payload error")
	}
}

func TestWithTimestampOption(t *testing.T) {
	target := time.Unix(50, 123000).UTC()
	env, err := newEnvelope("agg", "", SoporteSubidoV1{SoporteID: "x"}, WithTimestamp(target))
	if err != nil {
		t.Fatalf("newEnvelope: %v", err)
	}
	if env.TimestampMicros != target.UnixMicro() {
		t.Fatalf("expected timestamp override, got %d", env.TimestampMicros)
	}
}

func TestAppendCanonicalEventRequiresExec(t *testing.T) {
	if _, err := AppendCanonicalEvent(context.Background(), nil, "agg", "", SoporteSubidoV1{SoporteID: "x"}); err == nil {
		t.Fatal("expected exec error")
	}
}
