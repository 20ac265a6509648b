package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/portalsalud/portal-colaboradores/cmd/mainconfig"
	"github.com/portalsalud/portal-colaboradores/internal/codes"
	"github.com/portalsalud/portal-colaboradores/internal/embeddings"
	"github.com/portalsalud/portal-colaboradores/internal/events"
	"github.com/portalsalud/portal-colaboradores/internal/notify"
	"github.com/portalsalud/portal-colaboradores/internal/ocr"
	"github.com/portalsalud/portal-colaboradores/internal/radicacion"
	"github.com/portalsalud/portal-colaboradores/internal/soportes"
)

// closers collects cleanup funcs for clients opened by a command.
type closers []func()

func (c closers) run() {
	for i := len(c) - 1; i >= 0; i-- {
		c[i]()
	}
}

func (a *app) pool(ctx context.Context, cl *closers) (*pgxpool.Pool, error) {
	pool, err := mainconfig.ConnectPostgres(ctx, a.cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	*cl = append(*cl, pool.Close)
	return pool, nil
}

func (a *app) gemini(ctx context.Context, cl *closers) (*embeddings.Client, error) {
	if a.cfg.GeminiAPIKey == "" {
		return nil, codes.ErrNoEmbedder
	}
	c, err := embeddings.NewGeminiClient(ctx, a.cfg.GeminiAPIKey, a.cfg.GeminiEmbeddingModel)
	if err != nil {
		return nil, err
	}
	*cl = append(*cl, func() { _ = c.Close() })
	return c, nil
}

// soportesService builds the soportes service without mirroring; OCR is
// enabled when withOCR is set.
func (a *app) soportesService(ctx context.Context, cl *closers, withOCR bool) (*soportes.Service, error) {
	pool, err := a.pool(ctx, cl)
	if err != nil {
		return nil, err
	}
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, a.cfg)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if a.cfg.SoportesBucket == "" {
		return nil, errors.New("SOPORTES_BUCKET is required")
	}
	radSvc := radicacion.NewService(radicacion.NewPostgresRepository(pool), a.logger)
	objects := soportes.NewS3ObjectStore(mainconfig.NewS3Client(awsCfg, a.cfg), a.cfg.SoportesBucket)

	var opts []soportes.Option
	if withOCR {
		docai, err := ocr.NewClient(ctx, a.cfg.DocumentAIProcessor, a.cfg.DocumentAIEndpoint, a.cfg.GoogleCredentialsJSON)
		if err != nil {
			return nil, err
		}
		var embedder soportes.Embedder
		if gem, err := a.gemini(ctx, cl); err == nil {
			embedder = gem
		} else {
			a.logger.Warn("embeddings disabled", "error", err)
		}
		opts = append(opts, soportes.WithOCR(docai, embedder))
	}
	return soportes.NewService(soportes.NewStore(pool), objects, radSvc, a.logger, opts...), nil
}

// deliverer drains the outbox into the SQS notification queue.
func (a *app) deliverer(ctx context.Context, cl *closers, batch int32) (*events.Deliverer, error) {
	if a.cfg.NotificationQueueURL == "" {
		return nil, errors.New("NOTIFICATION_QUEUE_URL is required")
	}
	pool, err := a.pool(ctx, cl)
	if err != nil {
		return nil, err
	}
	awsCfg, err := mainconfig.LoadAWSConfig(ctx, a.cfg)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	queue := notify.NewSQSQueue(sqs.NewFromConfig(awsCfg), a.cfg.NotificationQueueURL)
	var jobs notify.JobRecorder
	if a.cfg.NotificationJobsTable != "" {
		jobs = notify.NewJobStore(dynamodb.NewFromConfig(awsCfg), a.cfg.NotificationJobsTable, a.logger)
	}
	publisher := notify.NewPublisher(queue, jobs, a.logger)
	handler := notify.NewOutboxHandler(publisher, a.cfg.NotificationEmails, a.logger)
	return events.NewDeliverer(events.NewOutboxStore(pool), handler, a.logger).WithBatchSize(batch), nil
}
