package activity

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"tg-activity-bot/internal/domain"
	"tg-activity-bot/internal/infra/metrics"
	"tg-activity-bot/internal/usecase/classify"
)

// DefaultProgressEvery задаёт, через сколько просмотренных сообщений отправлять прогресс.
const DefaultProgressEvery = 500

// Options настраивает один прогон агрегации.
type Options struct {
	// FetchLimit ограничивает число прочитанных сообщений на весь прогон. 0 снимает ограничение.
	FetchLimit    int
	ProgressEvery int
	Progress      domain.ProgressSink
}

// Aggregator превращает потоки сообщений в статистику.
type Aggregator struct {
	source     domain.HistorySource
	classifier *classify.Classifier
	log        zerolog.Logger
}

// NewAggregator создаёт агрегатор.
func NewAggregator(source domain.HistorySource, classifier *classify.Classifier, log zerolog.Logger) *Aggregator {
	return &Aggregator{source: source, classifier: classifier, log: log}
}

// Aggregate читает каналы строго по очереди, от старых сообщений к новым.
// Ошибка одного канала попадает в Diagnostics и не прерывает прогон; прерывает только отмена контекста.
func (a *Aggregator) Aggregate(ctx context.Context, channels []domain.Channel, interval domain.DateInterval, opts Options) (domain.AggregationResult, error) {
	every := opts.ProgressEvery
	if every <= 0 {
		every = DefaultProgressEvery
	}
	res := domain.AggregationResult{
		Interval: interval,
		Channels: channels,
		Users:    domain.NewUserCounters(),
		Daily:    domain.NewDailyCounts(interval),
	}

	for _, ch := range channels {
		if limitReached(&res, opts) {
			// Лимит выбран, а непрочитанные каналы ещё остались.
			res.Truncated = true
			break
		}
		q := domain.HistoryQuery{After: interval.Start, Before: interval.End, OldestFirst: true}
		if opts.FetchLimit > 0 {
			// Одно лишнее сообщение показывает, есть ли в канале что-то за лимитом.
			q.Limit = opts.FetchLimit - res.ScannedMessages + 1
		}
		err := a.drain(ctx, ch, q, &res, opts, every)
		if err == nil {
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return res, ctxErr
		}
		metrics.ChannelFetchErrors.Inc()
		a.log.Warn().Err(err).Str("channel", ch.Name()).Msg("activity: канал пропущен")
		res.Diagnostics = append(res.Diagnostics, domain.ChannelDiagnostic{Channel: ch.Name(), Err: err})
	}
	return res, nil
}

func (a *Aggregator) drain(ctx context.Context, ch domain.Channel, q domain.HistoryQuery, res *domain.AggregationResult, opts Options, every int) error {
	for msg, err := range a.source.History(ctx, ch, q) {
		if err != nil {
			return fmt.Errorf("чтение истории %s: %w", ch.Name(), err)
		}
		if !res.Interval.Contains(msg.CreatedAt) {
			continue
		}
		if limitReached(res, opts) {
			res.Truncated = true
			return nil
		}
		res.ScannedMessages++
		metrics.MessagesScanned.Inc()
		if opts.Progress != nil && res.ScannedMessages%every == 0 {
			opts.Progress.Progress(ctx, res.ScannedMessages)
		}
		if msg.Channel.ID == 0 {
			msg.Channel = ch
		}
		a.consume(msg, res)
	}
	return ctx.Err()
}

func limitReached(res *domain.AggregationResult, opts Options) bool {
	return opts.FetchLimit > 0 && res.ScannedMessages >= opts.FetchLimit
}

func (a *Aggregator) consume(msg domain.Message, res *domain.AggregationResult) {
	c := a.classifier.Classify(msg)
	if !c.Attributable {
		return
	}
	res.TotalMessages++
	if len(msg.Attachments) == 0 && len(c.MatchedCategories) == 0 {
		return
	}

	refs := make([]domain.AttachmentRef, 0, len(msg.Attachments))
	for i, att := range msg.Attachments {
		refs = append(refs, domain.AttachmentRef{
			Number:      i + 1,
			Filename:    att.Filename,
			URL:         att.URL,
			ContentType: att.ContentType,
		})
	}
	res.Publications = append(res.Publications, domain.Publication{
		Author:      msg.Author,
		MessageID:   msg.ID,
		Permalink:   msg.Permalink,
		ChannelName: msg.Channel.Name(),
		Timestamp:   msg.CreatedAt,
		Attachments: refs,
		Categories:  c.MatchedCategories,
		HasLink:     c.HasLink,
	})
	if len(msg.Attachments) > 0 {
		res.Daily.Inc(msg.CreatedAt)
	}

	stats := res.Users.Touch(msg.Author)
	stats.MessageCount++
	stats.AttachmentCount += len(msg.Attachments)
	stats.ImageCount += c.ImageCount()
	if c.HasLink {
		stats.LinkCount++
	}
	for _, cat := range c.MatchedCategories {
		stats.Categories[cat]++
	}
}
