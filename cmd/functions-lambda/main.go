// Command functions-lambda serves the OneDrive cleanup and SMS functions
// behind API Gateway, sharing its handlers with the API server.
package main

import (
	"context"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/portalsalud/portal-colaboradores/cmd/mainconfig"
	"github.com/portalsalud/portal-colaboradores/internal/audit"
	"github.com/portalsalud/portal-colaboradores/internal/collaborators"
	appconfig "github.com/portalsalud/portal-colaboradores/internal/config"
	"github.com/portalsalud/portal-colaboradores/internal/functions"
	"github.com/portalsalud/portal-colaboradores/internal/http/middleware"
	"github.com/portalsalud/portal-colaboradores/internal/onedrive"
	"github.com/portalsalud/portal-colaboradores/internal/session"
	"github.com/portalsalud/portal-colaboradores/pkg/logging"
)

func main() {
	ctx := context.Background()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	drive, err := mainconfig.BuildOneDrive(cfg, logger)
	if err != nil {
		fail(logger, "failed to configure onedrive", err)
	}

	var (
		auditLog audit.Logger
		people   middleware.CollaboratorLookup
	)
	if cfg.DatabaseURL != "" {
		pool, err := mainconfig.ConnectPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			fail(logger, "failed to connect to postgres", err)
		}
		defer pool.Close()
		db := stdlib.OpenDBFromPool(pool)
		defer func() { _ = db.Close() }()
		auditLog = audit.NewService(db)
		people = collaborators.NewPostgresRepository(pool)
	}

	redisClient, err := mainconfig.BuildRedisClient(ctx, cfg)
	if err != nil {
		fail(logger, "failed to connect to redis", err)
	}
	if redisClient != nil {
		defer func() { _ = redisClient.Close() }()
	}

	// Collaborator tokens need both the collaborator table and the
	// inactivity store; otherwise only the shared secret is accepted.
	var user func(http.Handler) http.Handler
	if people != nil && redisClient != nil {
		sessions := session.NewStore(redisClient, cfg.SessionIdleTimeout, cfg.SessionWarningWindow)
		user = middleware.Collaborator(cfg.SupabaseJWTSecret, sessions, people, logger)
	} else {
		logger.Warn("functions accept the shared secret only", "database", people != nil, "redis", redisClient != nil)
	}

	h := functions.NewHandler(deleter(drive), mainconfig.BuildSMSSender(cfg, logger), auditLog, logger)
	lambda.Start(functions.LambdaHandler(functions.Router(h, cfg.FunctionsSharedSecret, user)))
}

func deleter(c *onedrive.Client) interface {
	DeleteFolder(ctx context.Context, path string) (*onedrive.DeleteResult, error)
} {
	if c == nil {
		return nil
	}
	return c
}

func fail(logger *logging.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
