package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/portalsalud/portal-colaboradores/pkg/logging"
)

const labsMobileURL = "https://api.labsmobile.com/json/send"

var smsTracer = otel.Tracer("portal.internal.notify.sms")

// SMSSender sends a text message to one phone number.
type SMSSender interface {
	SendSMS(ctx context.Context, to, body string) error
}

// LabsMobileConfig holds the account credentials and sender id (TPOA).
type LabsMobileConfig struct {
	Username string
	Token    string
	Sender   string
	BaseURL  string
}

// LabsMobileSender posts to the LabsMobile JSON API.
type LabsMobileSender struct {
	cfg        LabsMobileConfig
	httpClient *http.Client
	logger     *logging.Logger
}

// LabsMobileError is a rejected send; Code is the provider result code.
type LabsMobileError struct {
	Status  int
	Code    string
	Message string
}

func (e *LabsMobileError) Error() string {
	return fmt.Sprintf("notify: labsmobile rejected message (status %d, code %s): %s", e.Status, e.Code, e.Message)
}

// NewLabsMobileSender returns nil when credentials are missing.
func NewLabsMobileSender(cfg LabsMobileConfig, logger *logging.Logger) *LabsMobileSender {
	if cfg.Username == "" || cfg.Token == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = labsMobileURL
	}
	return &LabsMobileSender{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

// NormalizeMSISDN strips formatting and adds the Colombian country code to
// ten-digit mobile numbers.
func NormalizeMSISDN(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) == 10 && strings.HasPrefix(digits, "3") {
		return "57" + digits
	}
	return digits
}

// SendSMS sends one message. It is tried once.
func (s *LabsMobileSender) SendSMS(ctx context.Context, to, body string) error {
	msisdn := NormalizeMSISDN(to)
	if msisdn == "" {
		return errors.New("notify: sms recipient required")
	}
	if strings.TrimSpace(body) == "" {
		return errors.New("notify: sms body required")
	}

	ctx, span := smsTracer.Start(ctx, "notify.labsmobile.send")
	defer span.End()
	span.SetAttributes(attribute.String("portal.sms.to", msisdn))

	payload := map[string]any{
		"message":   body,
		"recipient": []map[string]string{{"msisdn": msisdn}},
	}
	if s.cfg.Sender != "" {
		payload["tpoa"] = s.cfg.Sender
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal labsmobile payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("notify: build labsmobile request: %w", err)
	}
	req.SetBasicAuth(s.cfg.Username, s.cfg.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("notify: labsmobile request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 8192))

	var parsed struct {
		Code    json.Number `json:"code"`
		Message string      `json:"message"`
		Subid   string      `json:"subid"`
	}
	_ = json.Unmarshal(raw, &parsed)
	if resp.StatusCode >= 300 || parsed.Code.String() != "0" {
		lmErr := &LabsMobileError{Status: resp.StatusCode, Code: parsed.Code.String(), Message: parsed.Message}
		if lmErr.Message == "" {
			lmErr.Message = strings.TrimSpace(string(raw))
		}
		span.RecordError(lmErr)
		s.logger.Error("labsmobile send failed", "to", msisdn, "status", resp.StatusCode, "code", lmErr.Code)
		return lmErr
	}
	s.logger.Info("sms sent via labsmobile", "to", msisdn, "subid", parsed.Subid)
	return nil
}

// StubSMSSender logs instead of sending.
type StubSMSSender struct {
	logger *logging.Logger
}

func NewStubSMSSender(logger *logging.Logger) *StubSMSSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &StubSMSSender{logger: logger}
}

func (s *StubSMSSender) SendSMS(ctx context.Context, to, body string) error {
	s.logger.Info("stub SMS sender: would send", "to", to, "body_preview", truncate(body, 50))
	return nil
}

func truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}

var (
	_ SMSSender = (*LabsMobileSender)(nil)
	_ SMSSender = (*StubSMSSender)(nil)
)
