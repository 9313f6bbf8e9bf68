package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"tg-activity-bot/internal/domain"
	"tg-activity-bot/internal/infra/metrics"
)

// maxRetryAfter ограничивает ожидание flood wait, дольше возвращаем ошибку.
const maxRetryAfter = 30 * time.Second

// Outbox отправляет результаты задач через Bot API.
type Outbox struct {
	bot Sender
	log zerolog.Logger
}

var _ domain.Outbox = (*Outbox)(nil)

// NewOutbox создаёт отправителя.
func NewOutbox(bot Sender, log zerolog.Logger) *Outbox {
	return &Outbox{bot: bot, log: log}
}

// SendText отправляет HTML-сообщение без превью ссылок.
func (o *Outbox) SendText(ctx context.Context, chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	return o.send(ctx, "send_message", chatID, msg)
}

// SendDocument загружает файл из памяти.
func (o *Outbox) SendDocument(ctx context.Context, chatID int64, filename string, data []byte, caption string) error {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: filename, Bytes: data})
	doc.Caption = caption
	return o.send(ctx, "send_document", chatID, doc)
}

// SendPhoto загружает изображение из памяти.
func (o *Outbox) SendPhoto(ctx context.Context, chatID int64, filename string, data []byte, caption string) error {
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: filename, Bytes: data})
	photo.Caption = caption
	return o.send(ctx, "send_photo", chatID, photo)
}

// send повторяет запрос один раз, если Telegram попросил подождать не дольше maxRetryAfter.
func (o *Outbox) send(ctx context.Context, operation string, chatID int64, c tgbotapi.Chattable) error {
	target := strconv.FormatInt(chatID, 10)
	for attempt := 0; ; attempt++ {
		start := time.Now()
		_, err := o.bot.Send(c)
		metrics.ObserveNetworkRequest("telegram_bot", operation, target, start, err)
		if err == nil {
			return nil
		}

		var apiErr *tgbotapi.Error
		if attempt == 0 && errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
			wait := time.Duration(apiErr.RetryAfter) * time.Second
			if wait <= maxRetryAfter {
				o.log.Warn().Dur("wait", wait).Str("op", operation).Msg("bot: flood wait, повторяем")
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(wait):
				}
				continue
			}
		}
		metrics.BotSendErrors.Inc()
		return fmt.Errorf("%s в чат %d: %w", operation, chatID, err)
	}
}
