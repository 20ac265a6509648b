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
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/portalsalud/portal-colaboradores/cmd/mainconfig"
	"github.com/portalsalud/portal-colaboradores/internal/affiliates"
	"github.com/portalsalud/portal-colaboradores/internal/api/router"
	"github.com/portalsalud/portal-colaboradores/internal/audit"
	"github.com/portalsalud/portal-colaboradores/internal/auth"
	"github.com/portalsalud/portal-colaboradores/internal/codes"
	"github.com/portalsalud/portal-colaboradores/internal/collaborators"
	appconfig "github.com/portalsalud/portal-colaboradores/internal/config"
	"github.com/portalsalud/portal-colaboradores/internal/dashboard"
	"github.com/portalsalud/portal-colaboradores/internal/embeddings"
	"github.com/portalsalud/portal-colaboradores/internal/events"
	"github.com/portalsalud/portal-colaboradores/internal/functions"
	httpmiddleware "github.com/portalsalud/portal-colaboradores/internal/http/middleware"
	"github.com/portalsalud/portal-colaboradores/internal/live"
	"github.com/portalsalud/portal-colaboradores/internal/notify"
	"github.com/portalsalud/portal-colaboradores/internal/observability/metrics"
	"github.com/portalsalud/portal-colaboradores/internal/ocr"
	"github.com/portalsalud/portal-colaboradores/internal/onedrive"
	"github.com/portalsalud/portal-colaboradores/internal/radicacion"
	"github.com/portalsalud/portal-colaboradores/internal/session"
	"github.com/portalsalud/portal-colaboradores/internal/soportes"
	"github.com/portalsalud/portal-colaboradores/pkg/logging"
)

const affiliateCacheTTL = 60 * time.Second

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting portal-colaboradores API server", "env", cfg.Env, "port", cfg.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := mainconfig.ConnectPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		fatal(logger, "failed to connect to postgres", err)
	}
	defer pool.Close()
	sqlDB := stdlib.OpenDBFromPool(pool)
	defer func() { _ = sqlDB.Close() }()

	redisClient, err := mainconfig.BuildRedisClient(ctx, cfg)
	if err != nil {
		fatal(logger, "failed to connect to redis", err)
	}
	if redisClient == nil {
		fatal(logger, "REDIS_ADDR is required for inactivity sessions", errors.New("redis not configured"))
	}
	defer func() { _ = redisClient.Close() }()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		fatal(logger, "failed to load AWS config", err)
	}

	registry, metricsHandler := setupMetrics()
	httpMetrics := metrics.NewHTTPMetrics(registry)
	notifyMetrics := metrics.NewNotificationMetrics(registry)
	radMetrics := metrics.NewRadicacionMetrics(registry)

	auditSvc := audit.NewService(sqlDB)
	people := collaborators.NewPostgresRepository(pool)
	sessions := session.NewStore(redisClient, cfg.SessionIdleTimeout, cfg.SessionWarningWindow)

	supabase, err := auth.NewSupabaseClient(auth.SupabaseConfig{URL: cfg.SupabaseURL, AnonKey: cfg.SupabaseAnonKey})
	if err != nil {
		fatal(logger, "failed to configure supabase auth", err)
	}
	authSvc := auth.NewService(supabase, people, sessions, auditSvc, cfg.SupabaseJWTSecret, logger)

	drive, err := mainconfig.BuildOneDrive(cfg, logger)
	if err != nil {
		fatal(logger, "failed to configure onedrive", err)
	}

	var (
		codeEmbedder    codes.Embedder
		soporteEmbedder soportes.Embedder
	)
	if cfg.GeminiAPIKey != "" {
		gemini, err := embeddings.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiEmbeddingModel)
		if err != nil {
			fatal(logger, "failed to create gemini client", err)
		}
		defer func() { _ = gemini.Close() }()
		codeEmbedder, soporteEmbedder = gemini, gemini
	}

	codesSvc := codes.NewService(codes.NewStore(pool), codeEmbedder, logger)
	affiliatesSvc := affiliates.NewService(affiliates.NewPostgresRepository(pool), redisClient, affiliateCacheTTL, logger)

	radOpts := []radicacion.Option{
		radicacion.WithCodeChecker(codesSvc),
		radicacion.WithAudit(auditSvc),
		radicacion.WithMetrics(radMetrics),
	}
	if drive != nil {
		radOpts = append(radOpts, radicacion.WithFolderCleaner(drive))
	}
	radSvc := radicacion.NewService(radicacion.NewPostgresRepository(pool), logger, radOpts...)

	soporteOpts := []soportes.Option{
		soportes.WithAudit(auditSvc),
		soportes.WithMetrics(radMetrics),
		soportes.WithMaxBytes(cfg.SoportesMaxBytes),
		soportes.WithURLTTL(cfg.SoportesURLTTL),
	}
	if drive != nil {
		soporteOpts = append(soporteOpts, soportes.WithMirror(drive))
	}
	if cfg.DocumentAIProcessor != "" {
		docai, err := ocr.NewClient(ctx, cfg.DocumentAIProcessor, cfg.DocumentAIEndpoint, cfg.GoogleCredentialsJSON)
		if err != nil {
			fatal(logger, "failed to create document ai client", err)
		}
		soporteOpts = append(soporteOpts, soportes.WithOCR(docai, soporteEmbedder))
	}
	objects := soportes.NewS3ObjectStore(mainconfig.NewS3Client(awsCfg, cfg), cfg.SoportesBucket)
	soportesSvc := soportes.NewService(soportes.NewStore(pool), objects, radSvc, logger, soporteOpts...)

	notifySvc, err := mainconfig.BuildNotifyService(ctx, cfg, awsCfg, notifyMetrics, logger)
	if err != nil {
		fatal(logger, "failed to configure notifications", err)
	}

	var (
		publisher *notify.Publisher
		jobs      interface {
			notify.JobRecorder
			notify.JobUpdater
		}
		worker *notify.Worker
	)
	if cfg.UseMemoryQueue {
		queue := notify.NewMemoryQueue(256)
		memJobs := notify.NewMemoryJobStore()
		jobs = memJobs
		publisher = notify.NewPublisher(queue, memJobs, logger)
		worker = notify.NewWorker(notifySvc, queue, memJobs, logger,
			notify.WithWorkerCount(cfg.WorkerCount),
			notify.WithProcessedEventsStore(events.NewProcessedStore(pool)),
			notify.WithWorkerMetrics(notifyMetrics),
		)
		logger.Info("using in-memory notification queue", "workers", cfg.WorkerCount)
	} else {
		queue := notify.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.NotificationQueueURL)
		dynJobs := notify.NewJobStore(dynamodb.NewFromConfig(awsCfg), cfg.NotificationJobsTable, logger)
		jobs = dynJobs
		publisher = notify.NewPublisher(queue, dynJobs, logger)
	}

	hub := live.NewHub(cfg.SupabaseJWTSecret, cfg.CORSAllowedOrigins, logger, live.WithAccessCheck(sessions, people))
	deliverer := events.NewDeliverer(
		events.NewOutboxStore(pool),
		events.Fanout(hub, notify.NewOutboxHandler(publisher, cfg.NotificationEmails, logger)),
		logger,
	).WithInterval(cfg.OutboxPollInterval)

	loginLimiter := httpmiddleware.NewRateLimiter(1, 5)

	r := router.New(&router.Config{
		Logger:               logger,
		HTTPMetrics:          httpMetrics,
		CORSAllowedOrigins:   cfg.CORSAllowedOrigins,
		JWTSecret:            cfg.SupabaseJWTSecret,
		FunctionsSecret:      cfg.FunctionsSharedSecret,
		Sessions:             sessions,
		Collaborators:        people,
		LoginLimiter:         loginLimiter,
		AuthHandler:          auth.NewHandler(authSvc, logger),
		CollaboratorsHandler: collaborators.NewHandler(people, auditSvc, logger),
		AffiliatesHandler:    affiliates.NewHandler(affiliatesSvc, logger),
		CodesHandler:         codes.NewHandler(codesSvc, logger),
		RadicacionHandler:    radicacion.NewHandler(radSvc, people, logger),
		SoportesHandler:      soportes.NewHandler(soportesSvc, logger),
		NotifyHandler:        notify.NewHandler(publisher, jobs, logger),
		FunctionsHandler:     functions.NewHandler(folderDeleter(drive), mainconfig.BuildSMSSender(cfg, logger), auditSvc, logger),
		DashboardHandler:     dashboard.NewHandler(radSvc, registry, hub, logger),
		AuditHandler:         audit.NewHandler(auditSvc, logger),
		LiveHub:              hub,
		MetricsHandler:       metricsHandler,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if worker != nil {
		worker.Start(ctx)
	}
	go deliverer.Start(ctx)
	go loginLimiter.RunEviction(ctx, time.Minute, 10*time.Minute)

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal(logger, "server error", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	cancel()
	if worker != nil {
		worker.Wait()
	}
	logger.Info("server stopped")
}

// setupMetrics builds a private registry with the Go runtime collectors.
func setupMetrics() (*prometheus.Registry, http.Handler) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// folderDeleter keeps a nil client from becoming a non-nil interface.
func folderDeleter(c *onedrive.Client) interface {
	DeleteFolder(ctx context.Context, path string) (*onedrive.DeleteResult, error)
} {
	if c == nil {
		return nil
	}
	return c
}

func fatal(logger *logging.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
