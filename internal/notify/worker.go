package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/portalsalud/portal-colaboradores/internal/observability/metrics"
	"github.com/portalsalud/portal-colaboradores/pkg/logging"
)

const (
	defaultWorkerCount   = 2
	defaultWaitSeconds   = 2
	defaultBatchSize     = 5
	maxWaitSeconds       = 20
	maxReceiveBatchSize  = 10
	deleteTimeoutSeconds = 5
	processedConsumer    = "notify"
)

type dispatcher interface {
	Dispatch(ctx context.Context, n Notification) (Result, error)
}

type processedEventStore interface {
	MarkProcessed(ctx context.Context, consumer, eventID string) (bool, error)
}

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	processed        processedEventStore
	metrics          *metrics.NotificationMetrics
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait, capped at the SQS maximum.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		switch {
		case seconds < 0:
			cfg.receiveWaitSecs = 0
		case seconds > maxWaitSeconds:
			cfg.receiveWaitSecs = maxWaitSeconds
		default:
			cfg.receiveWaitSecs = seconds
		}
	}
}

func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size > 0 && size <= maxReceiveBatchSize {
			cfg.receiveBatchSize = size
		}
	}
}

// WithProcessedEventsStore makes jobs carrying an event id dispatch once.
func WithProcessedEventsStore(store processedEventStore) WorkerOption {
	return func(cfg *workerConfig) { cfg.processed = store }
}

func WithWorkerMetrics(m *metrics.NotificationMetrics) WorkerOption {
	return func(cfg *workerConfig) { cfg.metrics = m }
}

// Worker consumes notification jobs and dispatches them.
type Worker struct {
	dispatcher dispatcher
	queue      queueClient
	jobs       JobUpdater
	logger     *logging.Logger
	cfg        workerConfig
	wg         sync.WaitGroup
}

// NewWorker builds a worker; jobs may be nil when status is not tracked.
func NewWorker(d dispatcher, queue queueClient, jobs JobUpdater, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if d == nil {
		panic("notify: dispatcher cannot be nil")
	}
	if queue == nil {
		panic("notify: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Worker{dispatcher: d, queue: queue, jobs: jobs, logger: logger, cfg: cfg}
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("notification worker started", "worker_id", workerID)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("notification worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to receive notification jobs", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

// handleMessage dispatches one job. Jobs are never retried: the message is
// deleted whatever the outcome and failures are recorded on the job.
func (w *Worker) handleMessage(ctx context.Context, msg queueMessage) {
	defer w.deleteMessage(context.Background(), msg.ReceiptHandle)

	var payload queuePayload
	if err := json.Unmarshal([]byte(msg.Body), &payload); err != nil {
		w.logger.Error("failed to decode notification job", "error", err, "msg_id", msg.ID)
		w.cfg.metrics.ObserveJob("invalid")
		return
	}

	if payload.EventID != "" && w.cfg.processed != nil {
		fresh, err := w.cfg.processed.MarkProcessed(ctx, processedConsumer, payload.EventID)
		if err != nil {
			w.logger.Warn("processed-event check failed; dispatching anyway", "error", err, "event_id", payload.EventID)
		} else if !fresh {
			w.logger.Info("skipping duplicate notification job", "job_id", payload.ID, "event_id", payload.EventID)
			w.cfg.metrics.ObserveJob("duplicate")
			return
		}
	}

	res, err := w.dispatcher.Dispatch(ctx, payload.Notification)
	if err != nil {
		w.logger.Warn("notification job finished with failures", "job_id", payload.ID, "error", err, "failed", res.Failed())
		w.cfg.metrics.ObserveJob(string(JobStatusFailed))
		if payload.TrackStatus && w.jobs != nil {
			if uerr := w.jobs.MarkFailed(ctx, payload.ID, res, err.Error()); uerr != nil {
				w.logger.Error("failed to mark notification job failed", "error", uerr, "job_id", payload.ID)
			}
		}
		return
	}

	w.cfg.metrics.ObserveJob(string(JobStatusCompleted))
	w.logger.Info("notification job completed", "job_id", payload.ID, "deliveries", len(res.Outcomes))
	if payload.TrackStatus && w.jobs != nil {
		if err := w.jobs.MarkCompleted(ctx, payload.ID, res); err != nil {
			w.logger.Error("failed to mark notification job completed", "error", err, "job_id", payload.ID)
		}
	}
}

func (w *Worker) deleteMessage(ctx context.Context, receiptHandle string) {
	if receiptHandle == "" {
		return
	}
	deleteCtx, cancel := context.WithTimeout(ctx, deleteTimeoutSeconds*time.Second)
	defer cancel()
	if err := w.queue.Delete(deleteCtx, receiptHandle); err != nil {
		w.logger.Error("failed to delete notification job", "error", err)
	}
}
