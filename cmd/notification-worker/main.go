package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/portalsalud/portal-colaboradores/cmd/mainconfig"
	appconfig "github.com/portalsalud/portal-colaboradores/internal/config"
	"github.com/portalsalud/portal-colaboradores/internal/events"
	"github.com/portalsalud/portal-colaboradores/internal/notify"
	"github.com/portalsalud/portal-colaboradores/internal/observability/metrics"
	"github.com/portalsalud/portal-colaboradores/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsConfig, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	notifyMetrics := metrics.NewNotificationMetrics(reg)

	svc, err := mainconfig.BuildNotifyService(ctx, cfg, awsConfig, notifyMetrics, logger)
	if err != nil {
		logger.Error("failed to configure notifications", "error", err)
		os.Exit(1)
	}

	queue := notify.NewSQSQueue(sqs.NewFromConfig(awsConfig), cfg.NotificationQueueURL)
	jobStore := notify.NewJobStore(dynamodb.NewFromConfig(awsConfig), cfg.NotificationJobsTable, logger)

	opts := []notify.WorkerOption{
		notify.WithWorkerCount(cfg.WorkerCount),
		notify.WithWorkerMetrics(notifyMetrics),
	}
	if cfg.DatabaseURL != "" {
		pool, err := mainconfig.ConnectPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to postgres", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		opts = append(opts, notify.WithProcessedEventsStore(events.NewProcessedStore(pool)))
	} else {
		logger.Warn("DATABASE_URL not set; redelivered jobs will not be deduplicated")
	}

	worker := notify.NewWorker(svc, queue, jobStore, logger, opts...)
	worker.Start(ctx)
	logger.Info("notification worker started", "workers", cfg.WorkerCount)

	metricsSrv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down notification worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()
	_ = metricsSrv.Shutdown(doneCtx)

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("notification worker stopped")
	case <-doneCtx.Done():
		logger.Error("notification worker shutdown timed out", "error", doneCtx.Err())
	}
}
