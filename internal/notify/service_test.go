package notify

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/portalsalud/portal-colaboradores/internal/events"
	"github.com/portalsalud/portal-colaboradores/internal/observability/metrics"
	"github.com/portalsalud/portal-colaboradores/pkg/logging"
)

type recordingEmail struct {
	mu   sync.Mutex
	sent []EmailMessage
	fail map[string]bool
}

func (r *recordingEmail) Send(ctx context.Context, msg EmailMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	if r.fail[msg.To] {
		return errors.New("mailbox unavailable")
	}
	return nil
}

type recordingSMS struct {
	mu   sync.Mutex
	sent []string
}

func (r *recordingSMS) SendSMS(ctx context.Context, to, body string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, to+":"+body)
	return nil
}

type recordingTeams struct {
	posts []TeamsMessage
	err   error
}

func (r *recordingTeams) Post(ctx context.Context, msg TeamsMessage) error {
	r.posts = append(r.posts, msg)
	return r.err
}

func TestDispatch_AllChannels(t *testing.T) {
	email, sms, teams := &recordingEmail{}, &recordingSMS{}, &recordingTeams{}
	svc := NewService(email, sms, teams, logging.Discard())

	res, err := svc.Dispatch(context.Background(), Notification{
		Emails:  []string{"a@portal.co", "A@portal.co ", "b@portal.co"},
		Phones:  []string{"3001234567"},
		Subject: "Asunto",
		Body:    "Cuerpo",
		SMSBody: "corto",
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(email.sent) != 2 {
		t.Fatalf("expected deduped emails, got %d", len(email.sent))
	}
	if len(sms.sent) != 1 || sms.sent[0] != "3001234567:corto" {
		t.Fatalf("unexpected sms %v", sms.sent)
	}
	if len(teams.posts) != 1 || teams.posts[0].Title != "Asunto" {
		t.Fatalf("unexpected teams posts %v", teams.posts)
	}
	if len(res.Outcomes) != 4 || res.Failed() != 0 {
		t.Fatalf("unexpected result %#v", res)
	}
}

func TestDispatch_FailureDoesNotStopOthers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewNotificationMetrics(reg)
	email := &recordingEmail{fail: map[string]bool{"bad@portal.co": true}}
	teams := &recordingTeams{err: errors.New("webhook gone")}
	svc := NewService(email, nil, teams, logging.Discard(), WithMetrics(m))

	res, err := svc.Dispatch(context.Background(), Notification{
		Emails:  []string{"bad@portal.co", "ok@portal.co"},
		Subject: "s",
		Body:    "b",
	})
	if err == nil || err.Error() != "notify: 2 notification(s) failed" {
		t.Fatalf("unexpected error %v", err)
	}
	if len(email.sent) != 2 {
		t.Fatalf("expected every recipient tried once, got %d", len(email.sent))
	}
	if res.Failed() != 2 {
		t.Fatalf("expected 2 failures, got %#v", res)
	}

	snap := metrics.SnapshotDeliveries(reg)
	counts := map[string]metrics.DeliverySnapshot{}
	for _, s := range snap {
		counts[s.Channel] = s
	}
	if counts["email"].OK != 1 || counts["email"].Failed != 1 || counts["teams"].Failed != 1 {
		t.Fatalf("unexpected delivery counters %#v", snap)
	}
}

func TestDispatch_ChannelFilterAndNoRecipients(t *testing.T) {
	email, sms := &recordingEmail{}, &recordingSMS{}
	svc := NewService(email, sms, nil, logging.Discard())

	_, err := svc.Dispatch(context.Background(), Notification{
		Channels: []Channel{ChannelSMS},
		Emails:   []string{"a@portal.co"},
		Phones:   []string{"3001234567"},
		Body:     "x",
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(email.sent) != 0 || len(sms.sent) != 1 {
		t.Fatalf("channel filter ignored: email=%d sms=%d", len(email.sent), len(sms.sent))
	}

	if _, err := svc.Dispatch(context.Background(), Notification{Channels: []Channel{ChannelEmail}}); !errors.Is(err, ErrNoRecipients) {
		t.Fatalf("expected ErrNoRecipients, got %v", err)
	}
}

func TestRadicadoCreadoNotification(t *testing.T) {
	evt := events.RadicadoCreadoV1{
		Numero:           "RAD-20240105-000001",
		Tipo:             "autorizacion_servicio",
		Prioridad:        "alta",
		AfiliadoNombre:   "Ana Pérez",
		AfiliadoEmail:    "ana@correo.co",
		AfiliadoTelefono: "3001234567",
		FechaVencimiento: time.Date(2024, 1, 10, 5, 0, 0, 0, time.UTC),
	}
	n := RadicadoCreadoNotification(evt, []string{"ops@portal.co"})
	if len(n.Emails) != 2 || n.Emails[1] != "ana@correo.co" {
		t.Fatalf("unexpected emails %v", n.Emails)
	}
	if !strings.Contains(n.Body, "RAD-20240105-000001") || !strings.Contains(n.Body, "10/01/2024") {
		t.Fatalf("unexpected body %q", n.Body)
	}
	if !strings.Contains(n.Body, "autorización de servicio") {
		t.Fatalf("expected tipo label in body: %q", n.Body)
	}
	if !strings.Contains(n.HTML, "Ana Pérez") {
		t.Fatalf("expected affiliate in html")
	}
}

func TestEstadoCambiadoNotification_SMSOnlyForOutcomes(t *testing.T) {
	base := events.RadicadoEstadoCambiadoV1{
		Numero:           "RAD-1",
		EstadoAnterior:   "radicado",
		EstadoNuevo:      "en_revision",
		AfiliadoTelefono: "3001234567",
	}
	if n := EstadoCambiadoNotification(base, nil); n.wants(ChannelSMS) {
		t.Fatal("en_revision should not text the affiliate")
	}
	base.EstadoNuevo = "aprobado"
	base.Observacion = "Autorizado"
	n := EstadoCambiadoNotification(base, nil)
	if !n.wants(ChannelSMS) || len(n.Phones) != 1 {
		t.Fatalf("expected sms for aprobado: %#v", n)
	}
	if !strings.Contains(n.Body, "Observación: Autorizado") {
		t.Fatalf("missing observation: %q", n.Body)
	}
}
