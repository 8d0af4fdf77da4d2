// Package notifier implements the ChatNotifier capability (spec §9):
// pushing task outcomes back to the Telegram chat that requested them.
//
// Grounded on original_source/worker/worker.py's completion/error
// messages (emoji-prefixed summary with price, value score, pros/cons),
// wired onto github.com/go-telegram-bot-api/telegram-bot-api/v5 per
// SPEC_FULL.md's domain stack.
package notifier

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/worthit/pipeline/internal/errors"
	"github.com/worthit/pipeline/internal/models"
)

func chatIDToInt64(chatID string) (int64, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, errors.Validation)
	}
	return id, nil
}

// ChatNotifier pushes task lifecycle outcomes to a user's chat.
type ChatNotifier interface {
	NotifySuccess(ctx context.Context, chatID string, result *models.AnalysisResult) error
	NotifyFailure(ctx context.Context, chatID string, category string) error
}

// failureMessages maps an error category to a localized chat reply,
// matching worker.py's Italian-language error text.
var failureMessages = map[string]string{
	"invalid_url": "Mi dispiace, l'URL del prodotto non sembra valido.",
	"auth_error":  "Mi dispiace, non sono riuscito ad autenticarmi con il servizio di analisi.",
	"other":       "Mi dispiace, non sono riuscito ad analizzare questo prodotto.",
}

// sender is the subset of *tgbotapi.BotAPI this package depends on,
// narrowed so tests can substitute a fake without a network-backed bot.
type sender interface {
	Send(tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier sends outcomes via the Telegram Bot API.
type TelegramNotifier struct {
	bot sender
}

// NewTelegram wraps an authenticated bot client.
func NewTelegram(bot *tgbotapi.BotAPI) *TelegramNotifier {
	return &TelegramNotifier{bot: bot}
}

// NotifySuccess sends the formatted analysis summary to chatID.
func (t *TelegramNotifier) NotifySuccess(ctx context.Context, chatID string, result *models.AnalysisResult) error {
	id, err := chatIDToInt64(chatID)
	if err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(id, formatResult(result))
	msg.ParseMode = tgbotapi.ModeMarkdown

	if _, err := t.bot.Send(msg); err != nil {
		return errors.Wrap(err, errors.UpstreamTransient)
	}
	return nil
}

// NotifyFailure sends the localized failure message for category.
func (t *TelegramNotifier) NotifyFailure(ctx context.Context, chatID string, category string) error {
	id, err := chatIDToInt64(chatID)
	if err != nil {
		return err
	}

	text, ok := failureMessages[category]
	if !ok {
		text = failureMessages["other"]
	}

	if _, err := t.bot.Send(tgbotapi.NewMessage(id, text)); err != nil {
		return errors.Wrap(err, errors.UpstreamTransient)
	}
	return nil
}

func formatResult(result *models.AnalysisResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n\n", result.Title)
	fmt.Fprintf(&b, "💰 Prezzo: %s\n", result.Price)
	fmt.Fprintf(&b, "⭐ Punteggio WorthIt: %.1f/10\n\n", result.ValueScore)

	if len(result.Pros) > 0 {
		b.WriteString("✅ *Punti di forza:*\n")
		for i, pro := range result.Pros {
			if i >= 3 {
				break
			}
			fmt.Fprintf(&b, "• %s\n", pro)
		}
		b.WriteString("\n")
	}

	if len(result.Cons) > 0 {
		b.WriteString("❌ *Punti deboli:*\n")
		for i, con := range result.Cons {
			if i >= 3 {
				break
			}
			fmt.Fprintf(&b, "• %s\n", con)
		}
	}

	return b.String()
}
