package notify

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/portalsalud/portal-colaboradores/internal/events"
)

// Colombia does not observe DST.
var bogota = time.FixedZone("COT", -5*60*60)

var estadoLabels = map[string]string{
	"radicado":    "Radicado",
	"en_revision": "En revisión",
	"aprobado":    "Aprobado",
	"rechazado":   "Rechazado",
	"devuelto":    "Devuelto",
	"anulado":     "Anulado",
	"cerrado":     "Cerrado",
}

var tipoLabels = map[string]string{
	"autorizacion_servicio": "Autorización de servicio",
	"reembolso":             "Reembolso",
	"pqrs":                  "PQRS",
	"recobro":               "Recobro",
	"otro":                  "Otro",
}

func label(m map[string]string, key string) string {
	if v, ok := m[key]; ok {
		return v
	}
	return key
}

// RadicadoCreadoNotification renders the filing receipt sent to the
// affiliate and the operations mailbox.
func RadicadoCreadoNotification(evt events.RadicadoCreadoV1, opsEmails []string) Notification {
	vence := evt.FechaVencimiento.In(bogota).Format("02/01/2006")
	facts := []Fact{
		{Name: "Radicado", Value: evt.Numero},
		{Name: "Tipo", Value: label(tipoLabels, evt.Tipo)},
		{Name: "Prioridad", Value: evt.Prioridad},
		{Name: "Afiliado", Value: evt.AfiliadoNombre},
		{Name: "Fecha de vencimiento", Value: vence},
	}
	subject := fmt.Sprintf("Radicado %s registrado", evt.Numero)
	body := fmt.Sprintf(`Hola %s,

Su solicitud de %s quedó registrada con el número %s.
Fecha estimada de respuesta: %s.

Conserve este número para consultar el estado de su trámite.

Portal de Colaboradores`, evt.AfiliadoNombre, strings.ToLower(label(tipoLabels, evt.Tipo)), evt.Numero, vence)

	return Notification{
		Channels: []Channel{ChannelEmail, ChannelSMS, ChannelTeams},
		Emails:   appendNonEmpty(opsEmails, evt.AfiliadoEmail),
		Phones:   appendNonEmpty(nil, evt.AfiliadoTelefono),
		Subject:  subject,
		Body:     body,
		HTML:     factsHTML(subject, facts),
		SMSBody:  fmt.Sprintf("Su solicitud fue radicada con el numero %s. Respuesta estimada: %s.", evt.Numero, vence),
		Facts:    facts,
	}
}

// EstadoCambiadoNotification renders a state change notice.
func EstadoCambiadoNotification(evt events.RadicadoEstadoCambiadoV1, opsEmails []string) Notification {
	nuevo := label(estadoLabels, evt.EstadoNuevo)
	facts := []Fact{
		{Name: "Radicado", Value: evt.Numero},
		{Name: "Estado anterior", Value: label(estadoLabels, evt.EstadoAnterior)},
		{Name: "Estado nuevo", Value: nuevo},
		{Name: "Fecha", Value: evt.OccurredAt.In(bogota).Format("02/01/2006 15:04")},
	}
	if evt.Observacion != "" {
		facts = append(facts, Fact{Name: "Observación", Value: evt.Observacion})
	}
	subject := fmt.Sprintf("Radicado %s: %s", evt.Numero, nuevo)
	body := fmt.Sprintf("Hola %s,\n\nSu radicado %s cambió a estado %s.", evt.AfiliadoNombre, evt.Numero, strings.ToLower(nuevo))
	if evt.Observacion != "" {
		body += "\n\nObservación: " + evt.Observacion
	}
	body += "\n\nPortal de Colaboradores"

	n := Notification{
		Channels: []Channel{ChannelEmail, ChannelTeams},
		Emails:   appendNonEmpty(opsEmails, evt.AfiliadoEmail),
		Subject:  subject,
		Body:     body,
		HTML:     factsHTML(subject, facts),
		Facts:    facts,
	}
	// The affiliate only gets an SMS for outcomes they must act on.
	switch evt.EstadoNuevo {
	case "aprobado", "rechazado", "devuelto":
		n.Channels = append(n.Channels, ChannelSMS)
		n.Phones = appendNonEmpty(nil, evt.AfiliadoTelefono)
		n.SMSBody = fmt.Sprintf("Su radicado %s fue %s. Consulte el detalle en su correo.", evt.Numero, strings.ToLower(nuevo))
	}
	return n
}

// NotifyRadicadoCreado dispatches the filing receipt immediately.
func (s *Service) NotifyRadicadoCreado(ctx context.Context, evt events.RadicadoCreadoV1) (Result, error) {
	return s.Dispatch(ctx, RadicadoCreadoNotification(evt, s.opsEmails))
}

// NotifyEstadoCambiado dispatches a state change notice immediately.
func (s *Service) NotifyEstadoCambiado(ctx context.Context, evt events.RadicadoEstadoCambiadoV1) (Result, error) {
	return s.Dispatch(ctx, EstadoCambiadoNotification(evt, s.opsEmails))
}

func factsHTML(title string, facts []Fact) string {
	var b strings.Builder
	b.WriteString(`<div style="font-family: Arial, sans-serif; max-width: 600px;">`)
	fmt.Fprintf(&b, `<h2 style="color: #0b5394;">%s</h2><table style="border-collapse: collapse; width: 100%%;">`, html.EscapeString(title))
	for _, f := range facts {
		fmt.Fprintf(&b, `<tr><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;"><strong>%s:</strong></td><td style="padding: 8px; border-bottom: 1px solid #e5e7eb;">%s</td></tr>`,
			html.EscapeString(f.Name), html.EscapeString(f.Value))
	}
	b.WriteString(`</table></div>`)
	return b.String()
}

func appendNonEmpty(base []string, v string) []string {
	out := append([]string(nil), base...)
	if strings.TrimSpace(v) != "" {
		out = append(out, v)
	}
	return out
}
