package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/portalsalud/portal-colaboradores/pkg/logging"
)

// Fact is one name/value row of a Teams card.
type Fact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// TeamsMessage is rendered as a legacy MessageCard.
type TeamsMessage struct {
	Title string
	Text  string
	Facts []Fact
	// Color is a hex theme color without '#'.
	Color string
}

// TeamsNotifier posts cards to a channel.
type TeamsNotifier interface {
	Post(ctx context.Context, msg TeamsMessage) error
}

// TeamsWebhook posts to an incoming webhook URL.
type TeamsWebhook struct {
	url        string
	httpClient *http.Client
	logger     *logging.Logger
}

// NewTeamsWebhook returns nil when url is empty.
func NewTeamsWebhook(url string, logger *logging.Logger) *TeamsWebhook {
	if url == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &TeamsWebhook{url: url, httpClient: &http.Client{Timeout: 10 * time.Second}, logger: logger}
}

func (t *TeamsWebhook) Post(ctx context.Context, msg TeamsMessage) error {
	color := msg.Color
	if color == "" {
		color = "0076D7"
	}
	card := map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": color,
		"summary":    msg.Title,
		"sections": []map[string]any{{
			"activityTitle": msg.Title,
			"text":          msg.Text,
			"facts":         msg.Facts,
			"markdown":      true,
		}},
	}
	data, err := json.Marshal(card)
	if err != nil {
		return fmt.Errorf("notify: marshal teams card: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("notify: build teams request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("notify: teams webhook failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		t.logger.Error("teams webhook returned error status", "status", resp.StatusCode, "body", string(body))
		return fmt.Errorf("notify: teams webhook returned status %d", resp.StatusCode)
	}
	t.logger.Info("teams card posted", "title", msg.Title)
	return nil
}

var _ TeamsNotifier = (*TeamsWebhook)(nil)
