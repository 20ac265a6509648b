package notify

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/portalsalud/portal-colaboradores/pkg/logging"
)

// GmailConfig identifies the OAuth client and the mailbox refresh token.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	From         string
	FromName     string
}

// GmailSender sends as the authorised mailbox through the Gmail API.
type GmailSender struct {
	svc      *gmail.Service
	from     string
	fromName string
	logger   *logging.Logger
}

// NewGmailSender builds a sender whose access tokens are refreshed from
// cfg.RefreshToken.
func NewGmailSender(ctx context.Context, cfg GmailConfig, logger *logging.Logger, extra ...option.ClientOption) (*GmailSender, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, errors.New("notify: gmail oauth credentials are required")
	}
	if cfg.From == "" {
		return nil, errors.New("notify: gmail from address is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.FromName == "" {
		cfg.FromName = defaultFromName
	}
	oauthCfg := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       []string{gmail.GmailSendScope},
	}
	ts := oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
	opts := append([]option.ClientOption{option.WithTokenSource(ts)}, extra...)
	svc, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("notify: create gmail service: %w", err)
	}
	return &GmailSender{svc: svc, from: cfg.From, fromName: cfg.FromName, logger: logger}, nil
}

func (s *GmailSender) Send(ctx context.Context, msg EmailMessage) error {
	raw, err := buildMIME(fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", s.fromName), s.from), msg)
	if err != nil {
		return err
	}
	sent, err := s.svc.Users.Messages.Send("me", &gmail.Message{
		Raw: base64.URLEncoding.EncodeToString(raw),
	}).Context(ctx).Do()
	if err != nil {
		s.logger.Error("gmail send failed", "error", err, "to", msg.To)
		return fmt.Errorf("notify: gmail send failed: %w", err)
	}
	s.logger.Info("email sent via gmail", "to", msg.To, "subject", msg.Subject, "message_id", sent.Id)
	return nil
}

// buildMIME renders an RFC 5322 message; HTML bodies become
// multipart/alternative with the text part first.
func buildMIME(from string, msg EmailMessage) ([]byte, error) {
	if strings.TrimSpace(msg.To) == "" {
		return nil, errors.New("notify: email recipient required")
	}
	to := msg.To
	if msg.ToName != "" {
		to = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", msg.ToName), msg.To)
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", from)
	fmt.Fprintf(&buf, "To: %s\r\n", to)
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	buf.WriteString("MIME-Version: 1.0\r\n")

	if msg.HTML == "" {
		buf.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
		buf.WriteString(msg.Body)
		return buf.Bytes(), nil
	}

	mw := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mw.Boundary())
	for _, part := range []struct{ ctype, body string }{
		{"text/plain; charset=\"UTF-8\"", msg.Body},
		{"text/html; charset=\"UTF-8\"", msg.HTML},
	} {
		w, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {part.ctype}})
		if err != nil {
			return nil, fmt.Errorf("notify: build mime part: %w", err)
		}
		if _, err := w.Write([]byte(part.body)); err != nil {
			return nil, fmt.Errorf("notify: write mime part: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("notify: close mime writer: %w", err)
	}
	return buf.Bytes(), nil
}

var _ EmailSender = (*GmailSender)(nil)
