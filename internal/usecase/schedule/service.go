package schedule

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"tg-activity-bot/internal/domain"
	"tg-activity-bot/internal/infra/metrics"
	"tg-activity-bot/internal/usecase/daterange"
)

// ErrNoSchedule возвращается, если расписание не задано.
var ErrNoSchedule = errors.New("расписание отчётов не задано")

// Config описывает плановый отчёт.
type Config struct {
	Cron         string
	ChatID       int64
	Channels     []string
	LookbackDays int
}

// Service ставит плановые отчёты об активности в очередь по cron-выражению.
type Service struct {
	jobs   domain.ReportQueue
	events domain.BusinessMetricRepo
	parser *daterange.Parser
	cfg    Config
	log    zerolog.Logger
	now    func() time.Time
}

// NewService создаёт сервис. events может быть nil.
func NewService(jobs domain.ReportQueue, events domain.BusinessMetricRepo, parser *daterange.Parser, cfg Config, log zerolog.Logger) *Service {
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 7
	}
	return &Service{jobs: jobs, events: events, parser: parser, cfg: cfg, log: log, now: time.Now}
}

// Run запускает cron в поясе отчётов и блокируется до отмены контекста.
func (s *Service) Run(ctx context.Context) error {
	if s.cfg.Cron == "" {
		return ErrNoSchedule
	}
	c := cron.New(cron.WithLocation(s.parser.Location()))
	if _, err := c.AddFunc(s.cfg.Cron, func() {
		if err := s.Enqueue(ctx); err != nil {
			s.log.Error().Err(err).Msg("schedule: не удалось поставить плановый отчёт")
		}
	}); err != nil {
		return fmt.Errorf("cron %q: %w", s.cfg.Cron, err)
	}
	c.Start()
	s.log.Info().Str("cron", s.cfg.Cron).Int64("chat", s.cfg.ChatID).Msg("schedule: планировщик запущен")
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// Enqueue ставит отчёт за последние LookbackDays полных дней, не включая сегодняшний.
func (s *Service) Enqueue(ctx context.Context) error {
	job := s.Job()
	if err := s.jobs.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("постановка планового отчёта: %w", err)
	}
	metrics.IncReportRequest(string(job.Kind), string(job.Cause), 0)
	s.log.Info().Str("job", job.ID).Str("start", job.StartText).Str("end", job.EndText).Msg("schedule: отчёт поставлен")

	if s.events != nil {
		chatID := job.ChatID
		err := s.events.RecordBusinessMetric(ctx, domain.BusinessMetric{
			Event:      domain.BusinessMetricEventReportScheduled,
			ChatID:     &chatID,
			Metadata:   map[string]any{"job_id": job.ID, "channels": job.ChannelArgs},
			OccurredAt: job.RequestedAt,
		})
		if err != nil {
			s.log.Warn().Err(err).Msg("schedule: не удалось записать бизнес-метрику")
		}
	}
	return nil
}

// Job строит задачу для текущего момента.
func (s *Service) Job() domain.ReportJob {
	now := s.now()
	today := domain.DayOf(now, s.parser.Location())
	end := today.AddDate(0, 0, -1)
	start := today.AddDate(0, 0, -s.cfg.LookbackDays)
	return domain.ReportJob{
		ID:          uuid.NewString(),
		Kind:        domain.ReportKindActivity,
		ChatID:      s.cfg.ChatID,
		ChannelArgs: s.cfg.Channels,
		StartText:   s.parser.Format(start),
		EndText:     s.parser.Format(end),
		RequestedAt: now.UTC(),
		Cause:       domain.ReportCauseScheduled,
	}
}
