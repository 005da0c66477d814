package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crossclob/arbot/internal/config"
	"github.com/crossclob/arbot/internal/domain"
)

type fakeSender struct {
	name   string
	err    error
	sevs   []domain.Severity
	titles []string
	bodies []string
}

func (f *fakeSender) Send(_ context.Context, sev domain.Severity, title, message string) error {
	f.sevs = append(f.sevs, sev)
	f.titles = append(f.titles, title)
	f.bodies = append(f.bodies, message)
	return f.err
}

func (f *fakeSender) Name() string { return f.name }

func newTestNotifier(minSeverity string, senders ...Sender) *Notifier {
	n := New(config.NotifyConfig{MinSeverity: minSeverity}, slog.Default())
	n.senders = senders
	return n
}

func TestAlertPassesSeverityThrough(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := newTestNotifier("info", s)

	err := n.Alert(context.Background(), domain.SeverityCritical, "circuit_breaker", "Trading paused", "asymmetric execution")
	require.NoError(t, err)
	require.Len(t, s.titles, 1)
	assert.Equal(t, domain.SeverityCritical, s.sevs[0])
	assert.Equal(t, "Trading paused", s.titles[0])
	assert.Equal(t, "asymmetric execution", s.bodies[0])
}

func TestAlertBelowFloorDropped(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := newTestNotifier("high", s)

	err := n.Alert(context.Background(), domain.SeverityMedium, "trade_executed", "Trade", "details")
	require.NoError(t, err)
	assert.Empty(t, s.titles)
}

func TestAlertCollectsSenderErrors(t *testing.T) {
	good := &fakeSender{name: "good"}
	bad := &fakeSender{name: "bad", err: errors.New("boom")}
	n := newTestNotifier("info", bad, good)

	err := n.Alert(context.Background(), domain.SeverityHigh, "test", "Title", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	// The failing sender did not block the healthy one.
	assert.Len(t, good.titles, 1)
}

func TestAlertNoSenders(t *testing.T) {
	n := newTestNotifier("info")
	assert.NoError(t, n.Alert(context.Background(), domain.SeverityFatal, "test", "Title", "body"))
}

func TestParseSeverity(t *testing.T) {
	assert.Equal(t, domain.SeverityInfo, parseSeverity("info"))
	assert.Equal(t, domain.SeverityMedium, parseSeverity(""))
	assert.Equal(t, domain.SeverityMedium, parseSeverity("bogus"))
	assert.Equal(t, domain.SeverityCritical, parseSeverity(" Critical "))
}

func TestNewRegistersConfiguredSenders(t *testing.T) {
	n := New(config.NotifyConfig{
		TelegramToken:     "tok",
		TelegramChatID:    "42",
		DiscordWebhookURL: "https://discord.example/webhook",
	}, slog.Default())
	require.Len(t, n.senders, 2)
	assert.Equal(t, "telegram", n.senders[0].Name())
	assert.Equal(t, "discord", n.senders[1].Name())
}

func TestTelegramPayloadSeverity(t *testing.T) {
	s := NewTelegramSender("tok", "42")

	quiet := s.payload(domain.SeverityMedium, "Trade executed", "details")
	assert.Equal(t, true, quiet["disable_notification"])
	assert.Contains(t, quiet["text"], "*Trade executed*")
	assert.Contains(t, quiet["text"], "details")

	loud := s.payload(domain.SeverityCritical, "ASYMMETRIC EXECUTION", "manual resolution needed")
	assert.Equal(t, false, loud["disable_notification"])
	assert.Contains(t, loud["text"], severityMarker(domain.SeverityCritical))
}

func TestSeverityColorOrdering(t *testing.T) {
	// Every severity gets a distinct color; info falls through to the default.
	seen := map[int]domain.Severity{}
	for _, sev := range []domain.Severity{
		domain.SeverityInfo, domain.SeverityMedium, domain.SeverityHigh,
		domain.SeverityCritical, domain.SeverityFatal,
	} {
		c := severityColor(sev)
		_, dup := seen[c]
		assert.False(t, dup, "color %06x reused for %s", c, sev)
		seen[c] = sev
	}
}

func TestDiscordSenderPostsEmbed(t *testing.T) {
	var got struct {
		Embeds []struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			Color       int    `json:"color"`
			Footer      struct {
				Text string `json:"text"`
			} `json:"footer"`
			Timestamp string `json:"timestamp"`
		} `json:"embeds"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	require.NoError(t, s.Send(context.Background(), domain.SeverityCritical, "Title", "body"))

	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "Title", got.Embeds[0].Title)
	assert.Equal(t, "body", got.Embeds[0].Description)
	assert.Equal(t, severityColor(domain.SeverityCritical), got.Embeds[0].Color)
	assert.Equal(t, "critical", got.Embeds[0].Footer.Text)
	assert.NotEmpty(t, got.Embeds[0].Timestamp)
}

func TestDiscordSenderNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL)
	err := s.Send(context.Background(), domain.SeverityHigh, "Title", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}
