// Package notify alerts an operator when the refresh cycle starts or
// stops failing. Alerts are edge-triggered by the coordinator, so a
// flapping cloud API produces one message per transition, not one per
// tick.
package notify

import (
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Telegram sends cycle health transitions to a Telegram chat
type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
	logger *slog.Logger
}

// NewTelegram creates a new Telegram notifier
func NewTelegram(token string, chatID int64, logger *slog.Logger) (*Telegram, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Telegram{
		api:    api,
		chatID: chatID,
		logger: logger.With("component", "notify"),
	}, nil
}

// CycleFailed reports that telemetry refreshes have started failing
func (t *Telegram) CycleFailed(err error) {
	t.send(fmt.Sprintf("⚠️ Heat pump telemetry refresh is failing: %v\nServing last known data until it recovers.", err))
}

// CycleRecovered reports that telemetry refreshes are healthy again
func (t *Telegram) CycleRecovered() {
	t.send("✅ Heat pump telemetry refresh recovered.")
}

func (t *Telegram) send(text string) {
	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, err := t.api.Send(msg); err != nil {
		t.logger.Error("failed to send notification", "error", err)
	}
}
