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
	"github.com/shopspring/decimal"
)

// Mover is a contender whose 24h price change crossed the alert threshold.
type Mover struct {
	EventID    string
	EventTitle string
	Rank       int
	Contender  string
	PriceCents decimal.Decimal
	DeltaCents decimal.Decimal
	Direction  string
}

// Notification 封装一次刷新产生的告警。
type Notification struct {
	At             time.Time
	FetchedAt      time.Time
	ThresholdCents decimal.Decimal
	Movers         []Mover
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
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

// Notify 调用 sendMessage API 推送文本。
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
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Time("fetched_at", note.FetchedAt).
		Int("movers", len(note.Movers)).
		Msg("mover alert sent (Telegram)")
	return nil
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	builder.WriteString("[Polymarket movers]\n")
	builder.WriteString(fmt.Sprintf("Snapshot: %s UTC\n", note.FetchedAt.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Threshold: %s¢ / 24h\n", note.ThresholdCents.StringFixed(1)))
	for _, m := range note.Movers {
		arrow := "▲"
		if m.Direction == "down" {
			arrow = "▼"
		}
		builder.WriteString(fmt.Sprintf("#%d %s: %s %s¢ %s%s¢\n",
			m.Rank, m.EventTitle, m.Contender, m.PriceCents.StringFixed(0), arrow, m.DeltaCents.StringFixed(1)))
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
