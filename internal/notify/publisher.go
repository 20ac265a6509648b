package notify

import (
	"context"
	"fmt"

	"github.com/portalsalud/portal-colaboradores/pkg/logging"
)

// Publisher enqueues notification jobs and records them as pending.
type Publisher struct {
	queue  queueClient
	jobs   JobRecorder
	logger *logging.Logger
}

// NewPublisher creates a queue-backed publisher; jobs may be nil.
func NewPublisher(queue queueClient, jobs JobRecorder, logger *logging.Logger) *Publisher {
	if queue == nil {
		panic("notify: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Publisher{queue: queue, jobs: jobs, logger: logger}
}

// Enqueue publishes a dispatch job and returns its id.
func (p *Publisher) Enqueue(ctx context.Context, n Notification, opts ...PublishOption) (string, error) {
	payload := queuePayload{Notification: n, TrackStatus: p.jobs != nil}
	for _, opt := range opts {
		opt(&payload)
	}
	if p.jobs == nil {
		payload.TrackStatus = false
	}
	payload, body, err := encodePayload(payload)
	if err != nil {
		return "", err
	}

	if payload.TrackStatus {
		if err := p.jobs.PutPending(ctx, &JobRecord{JobID: payload.ID, EventID: payload.EventID, Notification: &n}); err != nil {
			return "", err
		}
	}
	if err := p.queue.Send(ctx, body); err != nil {
		return "", fmt.Errorf("notify: failed to enqueue job: %w", err)
	}

	p.logger.Debug("notification job enqueued", "job_id", payload.ID, "event_id", payload.EventID)
	return payload.ID, nil
}
