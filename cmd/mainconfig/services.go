package mainconfig

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"

	appconfig "github.com/portalsalud/portal-colaboradores/internal/config"
	"github.com/portalsalud/portal-colaboradores/internal/notify"
	"github.com/portalsalud/portal-colaboradores/internal/observability/metrics"
	"github.com/portalsalud/portal-colaboradores/internal/onedrive"
	"github.com/portalsalud/portal-colaboradores/pkg/logging"
)

// BuildEmailSender picks the provider named by EMAIL_PROVIDER. Missing
// credentials fall back to the stub so local runs never send real mail.
func BuildEmailSender(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, logger *logging.Logger) (notify.EmailSender, error) {
	switch cfg.EmailProvider {
	case "gmail":
		s, err := notify.NewGmailSender(ctx, notify.GmailConfig{
			ClientID:     cfg.GmailClientID,
			ClientSecret: cfg.GmailClientSecret,
			RefreshToken: cfg.GmailRefreshToken,
			From:         cfg.EmailFrom,
			FromName:     "Portal Colaboradores",
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("mainconfig: gmail sender: %w", err)
		}
		return s, nil
	case "ses":
		from := cfg.SESFromEmail
		if from == "" {
			from = cfg.EmailFrom
		}
		if s := notify.NewSESSender(sesv2.NewFromConfig(awsCfg), notify.SESConfig{FromEmail: from, FromName: "Portal Colaboradores"}, logger); s != nil {
			return s, nil
		}
	case "sendgrid":
		if s := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger); s != nil {
			return s, nil
		}
		logger.Warn("SENDGRID_API_KEY missing; using stub email sender")
	case "", "stub":
	default:
		return nil, fmt.Errorf("mainconfig: unknown EMAIL_PROVIDER %q", cfg.EmailProvider)
	}
	return notify.NewStubEmailSender(logger), nil
}

// BuildSMSSender returns LabsMobile when credentials are set, otherwise the stub.
func BuildSMSSender(cfg *appconfig.Config, logger *logging.Logger) notify.SMSSender {
	if s := notify.NewLabsMobileSender(notify.LabsMobileConfig{
		Username: cfg.LabsMobileUsername,
		Token:    cfg.LabsMobileToken,
		Sender:   cfg.LabsMobileSender,
	}, logger); s != nil {
		return s
	}
	return notify.NewStubSMSSender(logger)
}

// BuildTeams returns a nil interface when no webhook is configured.
func BuildTeams(cfg *appconfig.Config, logger *logging.Logger) notify.TeamsNotifier {
	if t := notify.NewTeamsWebhook(cfg.TeamsWebhookURL, logger); t != nil {
		return t
	}
	return nil
}

// BuildNotifyService wires every channel into the fan-out service.
func BuildNotifyService(ctx context.Context, cfg *appconfig.Config, awsCfg aws.Config, m *metrics.NotificationMetrics, logger *logging.Logger) (*notify.Service, error) {
	email, err := BuildEmailSender(ctx, cfg, awsCfg, logger)
	if err != nil {
		return nil, err
	}
	return notify.NewService(email, BuildSMSSender(cfg, logger), BuildTeams(cfg, logger), logger,
		notify.WithOpsEmails(cfg.NotificationEmails),
		notify.WithMetrics(m),
	), nil
}

// BuildOneDrive returns nil when Graph credentials are absent.
func BuildOneDrive(cfg *appconfig.Config, logger *logging.Logger) (*onedrive.Client, error) {
	c, err := onedrive.NewClient(onedrive.Config{
		TenantID:     cfg.GraphTenantID,
		ClientID:     cfg.GraphClientID,
		ClientSecret: cfg.GraphClientSecret,
		UserID:       cfg.OneDriveUserID,
		Root:         cfg.OneDriveRoot,
	}, logger)
	if errors.Is(err, onedrive.ErrNotConfigured) {
		logger.Warn("onedrive not configured; folder mirroring disabled")
		return nil, nil
	}
	return c, err
}
