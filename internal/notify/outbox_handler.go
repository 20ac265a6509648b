package notify

import (
	"context"

	"github.com/portalsalud/portal-colaboradores/internal/events"
	"github.com/portalsalud/portal-colaboradores/pkg/logging"
)

// OutboxHandler turns radicado outbox events into notification jobs.
type OutboxHandler struct {
	publisher enqueuer
	opsEmails []string
	logger    *logging.Logger
}

func NewOutboxHandler(publisher enqueuer, opsEmails []string, logger *logging.Logger) *OutboxHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &OutboxHandler{publisher: publisher, opsEmails: opsEmails, logger: logger}
}

// Handle ignores event types that carry no notification.
func (h *OutboxHandler) Handle(ctx context.Context, entry events.OutboxEntry) error {
	var n Notification
	switch entry.Type {
	case events.TypeRadicadoCreado:
		env, err := entry.Envelope()
		if err != nil {
			return err
		}
		var evt events.RadicadoCreadoV1
		if err := env.Decode(&evt); err != nil {
			return err
		}
		n = RadicadoCreadoNotification(evt, h.opsEmails)
	case events.TypeRadicadoEstadoCambiado:
		env, err := entry.Envelope()
		if err != nil {
			return err
		}
		var evt events.RadicadoEstadoCambiadoV1
		if err := env.Decode(&evt); err != nil {
			return err
		}
		n = EstadoCambiadoNotification(evt, h.opsEmails)
	default:
		return nil
	}

	jobID, err := h.publisher.Enqueue(ctx, n, WithEventID(entry.ID.String()))
	if err != nil {
		return err
	}
	h.logger.Debug("outbox event queued for notification", "event_id", entry.ID, "type", entry.Type, "job_id", jobID)
	return nil
}

var _ events.DeliveryHandler = (*OutboxHandler)(nil)
