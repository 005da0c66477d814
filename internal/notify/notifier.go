// Package notify delivers severity-classified alerts to one or more outbound
// channels (Telegram, Discord). Alerts below the configured minimum severity
// are dropped; delivery failures never propagate into trading decisions.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/crossclob/arbot/internal/config"
	"github.com/crossclob/arbot/internal/domain"
)

// Sender is the interface that each notification channel must implement.
// Each channel renders the severity in its own vocabulary: Telegram uses
// message markers and silent delivery for low severities, Discord uses embed
// colors.
type Sender interface {
	// Send delivers one alert at the given severity.
	Send(ctx context.Context, sev domain.Severity, title, message string) error
	// Name returns a human-readable identifier for the sender (e.g. "telegram").
	Name() string
}

// Notifier fans alerts out to all registered senders. It implements
// domain.Alerter.
type Notifier struct {
	senders     []Sender
	minSeverity domain.Severity
	logger      *slog.Logger
}

// New builds a Notifier from configuration, registering a sender per
// configured channel. A config with no channels yields a Notifier that
// silently drops everything, which is fine for dev setups.
func New(cfg config.NotifyConfig, logger *slog.Logger) *Notifier {
	var senders []Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, NewDiscordSender(cfg.DiscordWebhookURL))
	}
	return &Notifier{
		senders:     senders,
		minSeverity: parseSeverity(cfg.MinSeverity),
		logger:      logger.With(slog.String("component", "notifier")),
	}
}

// parseSeverity maps a config label to a Severity, defaulting to medium.
func parseSeverity(label string) domain.Severity {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "info":
		return domain.SeverityInfo
	case "medium", "":
		return domain.SeverityMedium
	case "high":
		return domain.SeverityHigh
	case "critical":
		return domain.SeverityCritical
	case "fatal":
		return domain.SeverityFatal
	default:
		return domain.SeverityMedium
	}
}

// Alert delivers one alert to every sender at or above the severity floor.
// Errors from individual senders are collected and returned combined; a
// single sender failure does not prevent delivery to the remaining senders.
func (n *Notifier) Alert(ctx context.Context, sev domain.Severity, event, title, message string) error {
	if sev < n.minSeverity {
		n.logger.Debug("alert below severity floor",
			slog.String("event", event),
			slog.String("severity", sev.String()))
		return nil
	}
	if len(n.senders) == 0 {
		return nil
	}

	var errs []string
	for _, s := range n.senders {
		if err := s.Send(ctx, sev, title, message); err != nil {
			n.logger.Error("sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", event),
				slog.String("error", err.Error()))
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name(), err))
			continue
		}
		n.logger.Debug("alert sent",
			slog.String("sender", s.Name()),
			slog.String("event", event))
	}

	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %s", len(errs), strings.Join(errs, "; "))
	}
	return nil
}
