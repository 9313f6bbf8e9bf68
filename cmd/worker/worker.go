package main

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"tg-activity-bot/internal/domain"
)

// runner выполняет задачу одного вида.
type runner interface {
	Run(ctx context.Context, job domain.ReportJob) error
}

type jobWorker struct {
	log        zerolog.Logger
	queue      domain.ReportQueue
	runners    map[domain.ReportKind]runner
	retryDelay time.Duration
}

// Run читает задачи по одной до отмены контекста.
// Задача с ошибкой отклоняется без повторной доставки: отчёт уже мог частично уйти в чат.
func (w *jobWorker) Run(ctx context.Context) {
	for {
		job, ack, err := w.queue.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.log.Error().Err(err).Msg("worker: ошибка чтения очереди")
			if !w.pause(ctx) {
				return
			}
			continue
		}

		jobLog := w.log.With().
			Str("job_id", job.ID).
			Str("kind", string(job.Kind)).
			Int64("chat", job.ChatID).
			Str("cause", string(job.Cause)).
			Logger()

		if job.ID == "" {
			jobLog.Error().Msg("worker: получена задача без идентификатора, подтверждаем и пропускаем")
			if err := ack(true); err != nil {
				jobLog.Error().Err(err).Msg("worker: не удалось подтвердить задачу без идентификатора")
			}
			continue
		}

		r, ok := w.runners[job.Kind]
		if !ok {
			jobLog.Error().Msg("worker: неизвестный вид задачи")
			if err := ack(false); err != nil {
				jobLog.Error().Err(err).Msg("worker: не удалось отклонить задачу")
			}
			continue
		}

		started := time.Now()
		err = r.Run(ctx, job)
		switch {
		case err == nil:
			jobLog.Info().Dur("took", time.Since(started)).Msg("worker: задача выполнена")
			if err := ack(true); err != nil {
				jobLog.Error().Err(err).Msg("worker: не удалось подтвердить задачу")
			}
		case errors.Is(err, context.Canceled) && ctx.Err() != nil:
			jobLog.Warn().Msg("worker: остановка во время задачи")
			if err := ack(false); err != nil {
				jobLog.Error().Err(err).Msg("worker: не удалось отклонить прерванную задачу")
			}
			return
		default:
			jobLog.Error().Err(err).Msg("worker: задача завершилась ошибкой")
			if err := ack(false); err != nil {
				jobLog.Error().Err(err).Msg("worker: не удалось отклонить задачу")
			}
		}
	}
}

func (w *jobWorker) pause(ctx context.Context) bool {
	t := time.NewTimer(w.retryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
