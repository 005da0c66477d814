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

// TelegramSender delivers alerts via the Telegram Bot API. Severity shows up
// twice: as a marker prefixing the message, and through silent delivery for
// anything below high so routine trade notifications do not page anyone.
type TelegramSender struct {
	token  string
	chatID string
	client *http.Client
}

// NewTelegramSender creates a TelegramSender for the given bot token and chat
// ID. It uses a default HTTP client with a 10-second timeout.
func NewTelegramSender(token, chatID string) *TelegramSender {
	return &TelegramSender{
		token:  token,
		chatID: chatID,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// severityMarker prefixes the message so urgency is visible in the chat list
// before the text is read.
func severityMarker(sev domain.Severity) string {
	switch {
	case sev >= domain.SeverityCritical:
		return "🚨"
	case sev == domain.SeverityHigh:
		return "⚠️"
	case sev == domain.SeverityMedium:
		return "💰"
	default:
		return "ℹ️"
	}
}

// payload builds the sendMessage request body for one alert.
func (t *TelegramSender) payload(sev domain.Severity, title, message string) map[string]any {
	return map[string]any{
		"chat_id":    t.chatID,
		"text":       fmt.Sprintf("%s *%s*\n%s", severityMarker(sev), title, message),
		"parse_mode": "Markdown",
		// Below high the message lands without a notification sound.
		"disable_notification": sev < domain.SeverityHigh,
	}
}

// Send posts one alert to the configured Telegram chat.
func (t *TelegramSender) Send(ctx context.Context, sev domain.Severity, title, message string) error {
	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.token)

	body, err := json.Marshal(t.payload(sev, title, message))
	if err != nil {
		return fmt.Errorf("telegram: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("telegram: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// Name returns the sender identifier.
func (t *TelegramSender) Name() string {
	return "telegram"
}
