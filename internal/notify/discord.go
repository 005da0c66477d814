package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/crossclob/arbot/internal/domain"
)

// DiscordSender delivers alerts via a Discord webhook as embeds whose accent
// color encodes the severity, so a channel full of alerts can be scanned for
// red without reading any of them.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
	now        func() time.Time
}

// NewDiscordSender creates a DiscordSender for the given webhook URL. It uses a
// default HTTP client with a 10-second timeout.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
}

// severityColor maps a severity to a Discord embed accent color.
func severityColor(sev domain.Severity) int {
	switch sev {
	case domain.SeverityFatal:
		return 0x992d22 // dark red
	case domain.SeverityCritical:
		return 0xe74c3c // red
	case domain.SeverityHigh:
		return 0xe67e22 // orange
	case domain.SeverityMedium:
		return 0x3498db // blue
	default:
		return 0x95a5a6 // grey
	}
}

// Send posts one alert to the Discord webhook.
func (d *DiscordSender) Send(ctx context.Context, sev domain.Severity, title, message string) error {
	payload := map[string]any{
		"embeds": []map[string]any{{
			"title":       title,
			"description": message,
			"color":       severityColor(sev),
			"footer":      map[string]any{"text": sev.String()},
			"timestamp":   d.now().UTC().Format(time.RFC3339),
		}},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send request: %w", err)
	}
	defer resp.Body.Close()

	// Discord returns 204 No Content on success.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
