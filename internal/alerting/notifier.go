package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Kind distinguishes a domain going stale from recovering.
type Kind string

const (
	KindUnhealthy Kind = "unhealthy"
	KindRecovered Kind = "recovered"
)

// Notification describes a health transition of one background domain.
type Notification struct {
	Kind        Kind
	Domain      string
	ErrorCount  int
	LastError   string
	LastSuccess *time.Time
	At          time.Time
	Environment string
}

// Notifier delivers operator notifications.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// LogNotifier writes notifications to the log only.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier builds a notifier that only logs.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs the transition.
func (n *LogNotifier) Notify(_ context.Context, note Notification) error {
	event := n.logger.Warn()
	if note.Kind == KindRecovered {
		event = n.logger.Info()
	}
	event.Str("domain", note.Domain).
		Str("kind", string(note.Kind)).
		Int("error_count", note.ErrorCount).
		Str("last_error", note.LastError).
		Msg("domain health changed")
	return nil
}

// TelegramNotifier pushes notifications through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier builds a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify calls sendMessage.
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Str("domain", note.Domain).
		Str("kind", string(note.Kind)).
		Msg("notification sent (telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	if note.Kind == KindRecovered {
		builder.WriteString("[stakewatch] RECOVERED\n")
	} else {
		builder.WriteString("[stakewatch] STALE DATA\n")
	}
	if note.Environment != "" {
		builder.WriteString(fmt.Sprintf("Env: %s\n", note.Environment))
	}
	builder.WriteString(fmt.Sprintf("Domain: %s\n", note.Domain))
	builder.WriteString(fmt.Sprintf("At: %s UTC\n", note.At.UTC().Format(time.RFC3339)))
	if note.Kind == KindUnhealthy {
		builder.WriteString(fmt.Sprintf("Consecutive failures: %d\n", note.ErrorCount))
		if note.LastError != "" {
			builder.WriteString(fmt.Sprintf("Last error: %s\n", note.LastError))
		}
	}
	if note.LastSuccess != nil {
		builder.WriteString(fmt.Sprintf("Last success: %s UTC\n", note.LastSuccess.UTC().Format(time.RFC3339)))
	} else {
		builder.WriteString("Last success: never\n")
	}
	return builder.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
)
