package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/portalsalud/portal-colaboradores/internal/observability/metrics"
	"github.com/portalsalud/portal-colaboradores/pkg/logging"
)

// Channel names a delivery transport.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelTeams Channel = "teams"
)

// maxParallel bounds concurrent vendor calls per dispatch.
const maxParallel = 8

var ErrNoRecipients = errors.New("notify: notification has no recipients")

// Notification is one message fanned out over the requested channels.
type Notification struct {
	Channels []Channel `json:"channels"`
	Emails   []string  `json:"emails,omitempty"`
	Phones   []string  `json:"phones,omitempty"`
	Subject  string    `json:"subject"`
	Body     string    `json:"body"`
	HTML     string    `json:"html,omitempty"`
	// SMSBody overrides Body for text messages.
	SMSBody string `json:"smsBody,omitempty"`
	Facts   []Fact `json:"facts,omitempty"`
}

func (n Notification) wants(c Channel) bool {
	if len(n.Channels) == 0 {
		return true
	}
	for _, ch := range n.Channels {
		if ch == c {
			return true
		}
	}
	return false
}

// Outcome is the result for one recipient on one channel.
type Outcome struct {
	Channel   Channel `json:"channel"`
	Recipient string  `json:"recipient"`
	OK        bool    `json:"ok"`
	Error     string  `json:"error,omitempty"`
}

// Result lists every attempted delivery.
type Result struct {
	Outcomes []Outcome `json:"outcomes"`
}

// Failed counts unsuccessful deliveries.
func (r Result) Failed() int {
	n := 0
	for _, o := range r.Outcomes {
		if !o.OK {
			n++
		}
	}
	return n
}

// Service fans notifications out to email, SMS and Teams.
type Service struct {
	email     EmailSender
	sms       SMSSender
	teams     TeamsNotifier
	opsEmails []string
	metrics   *metrics.NotificationMetrics
	logger    *logging.Logger
}

// Option customizes the service.
type Option func(*Service)

// WithOpsEmails sets the internal recipients copied on radicado notices.
func WithOpsEmails(emails []string) Option {
	return func(s *Service) { s.opsEmails = emails }
}

func WithMetrics(m *metrics.NotificationMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a notification service; any sender may be nil, which
// disables that channel.
func NewService(email EmailSender, sms SMSSender, teams TeamsNotifier, logger *logging.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	s := &Service{email: email, sms: sms, teams: teams, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dispatch sends n on every requested channel concurrently. Each recipient is
// tried once; failures are logged and counted, and an aggregate error is
// returned alongside the full result.
func (s *Service) Dispatch(ctx context.Context, n Notification) (Result, error) {
	type task struct {
		channel   Channel
		recipient string
		send      func(context.Context) error
	}
	var tasks []task

	if n.wants(ChannelEmail) && s.email != nil {
		for _, to := range dedupe(n.Emails) {
			to := to
			tasks = append(tasks, task{ChannelEmail, to, func(ctx context.Context) error {
				return s.email.Send(ctx, EmailMessage{To: to, Subject: n.Subject, Body: n.Body, HTML: n.HTML})
			}})
		}
	}
	if n.wants(ChannelSMS) && s.sms != nil {
		body := n.SMSBody
		if body == "" {
			body = n.Body
		}
		for _, to := range dedupe(n.Phones) {
			to := to
			tasks = append(tasks, task{ChannelSMS, to, func(ctx context.Context) error {
				return s.sms.SendSMS(ctx, to, body)
			}})
		}
	}
	if n.wants(ChannelTeams) && s.teams != nil {
		tasks = append(tasks, task{ChannelTeams, "webhook", func(ctx context.Context) error {
			return s.teams.Post(ctx, TeamsMessage{Title: n.Subject, Text: n.Body, Facts: n.Facts})
		}})
	}
	if len(tasks) == 0 {
		return Result{}, ErrNoRecipients
	}

	outcomes := make([]Outcome, len(tasks))
	var mu sync.Mutex
	var failed int

	var g errgroup.Group
	g.SetLimit(maxParallel)
	for i, t := range tasks {
		i, t := i, t
		g.Go(func() error {
			start := time.Now()
			err := t.send(ctx)
			s.metrics.ObserveVendor(string(t.channel), err == nil, time.Since(start).Seconds())
			out := Outcome{Channel: t.channel, Recipient: t.recipient, OK: err == nil}
			if err != nil {
				out.Error = err.Error()
				s.logger.Error("notification delivery failed", "channel", t.channel, "recipient", t.recipient, "error", err)
				mu.Lock()
				failed++
				mu.Unlock()
			}
			s.metrics.ObserveDelivery(string(t.channel), err == nil)
			outcomes[i] = out
			// Failures are collected, never returned, so siblings keep running.
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Outcomes: outcomes}
	if failed > 0 {
		return res, fmt.Errorf("notify: %d notification(s) failed", failed)
	}
	return res, nil
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		key := strings.ToLower(v)
		if v == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, v)
	}
	return out
}
