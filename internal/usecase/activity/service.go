package activity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tg-activity-bot/internal/adapters/ranker"
	"tg-activity-bot/internal/adapters/telegram"
	"tg-activity-bot/internal/domain"
	"tg-activity-bot/internal/infra/metrics"
	"tg-activity-bot/internal/usecase/channels"
	"tg-activity-bot/internal/usecase/classify"
	"tg-activity-bot/internal/usecase/daterange"
	"tg-activity-bot/internal/usecase/export"
	"tg-activity-bot/internal/usecase/report"
)

// ServiceConfig содержит параметры отчёта об активности.
type ServiceConfig struct {
	TopN           int
	ChunkLimit     int
	ExportMaxBytes int
	FetchLimit     int
	ProgressEvery  int
	ZoneName       string
}

// Deps содержит зависимости сервиса. Chart, Sheets, Runs и Events могут быть nil.
type Deps struct {
	Channels   *channels.Service
	Parser     *daterange.Parser
	Aggregator *Aggregator
	Classifier *classify.Classifier
	Outbox     domain.Outbox
	Chart      domain.ChartRenderer
	Sheets     *export.SheetWriter
	Runs       domain.ReportRunRepo
	Events     domain.BusinessMetricRepo
}

// Service выполняет задачу /activity от разбора дат до выгрузки в таблицу.
type Service struct {
	deps Deps
	cfg  ServiceConfig
	log  zerolog.Logger
	now  func() time.Time
}

// NewService создаёт сервис отчётов об активности.
func NewService(deps Deps, cfg ServiceConfig, log zerolog.Logger) *Service {
	if cfg.TopN <= 0 {
		cfg.TopN = 10
	}
	return &Service{deps: deps, cfg: cfg, log: log, now: time.Now}
}

// Run строит отчёт и рассылает его части. Ошибки отдельных получателей результата
// (файлы, график, таблица) логируются и сообщаются пользователю, но не прерывают прогон.
// Ошибка возвращается только при отмене контекста или сбое записи итога в журнал.
func (s *Service) Run(ctx context.Context, job domain.ReportJob) error {
	started := s.now()
	run := domain.ReportRun{
		ID:          uuid.NewString(),
		JobID:       job.ID,
		Kind:        domain.ReportKindActivity,
		ChatID:      job.ChatID,
		RequestedBy: job.RequestedBy,
		Status:      domain.RunStatusRunning,
		StartedAt:   started,
	}
	log := s.log.With().Str("job", job.ID).Int64("chat", job.ChatID).Logger()
	journaled := s.start(ctx, run, log)

	interval, err := s.deps.Parser.Parse(job.StartText, job.EndText)
	if err != nil {
		s.send(ctx, job.ChatID, dateErrorText(err, s.deps.Parser.Hint()))
		return s.fail(ctx, run, journaled, err, started)
	}
	run.PeriodStart, run.PeriodEnd = interval.Start, interval.End

	sel, err := s.deps.Channels.Select(ctx, job.ChannelArgs)
	for _, w := range sel.Warnings {
		s.send(ctx, job.ChatID, w)
	}
	if err != nil {
		if errors.Is(err, channels.ErrNoChannels) {
			s.send(ctx, job.ChatID, "❌ Не удалось найти каналы для анализа")
		}
		return s.fail(ctx, run, journaled, err, started)
	}
	for _, ch := range sel.Channels {
		run.Channels = append(run.Channels, ch.Name())
		metrics.IncReportForChannel(ch.Name())
	}

	meta := report.Meta{ZoneName: s.cfg.ZoneName}
	s.send(ctx, job.ChatID, report.FormatStart(sel.Channels, interval, meta))

	res, err := s.deps.Aggregator.Aggregate(ctx, sel.Channels, interval, Options{
		FetchLimit:    s.cfg.FetchLimit,
		ProgressEvery: s.cfg.ProgressEvery,
		Progress: domain.ProgressFunc(func(ctx context.Context, processed int) {
			s.send(ctx, job.ChatID, fmt.Sprintf("⏳ Обработано %d сообщений...", processed))
		}),
	})
	if err != nil {
		return s.fail(ctx, run, journaled, err, started)
	}
	run.TotalMessages = res.TotalMessages
	run.Publications = len(res.Publications)
	log.Info().Int("scanned", res.ScannedMessages).Int("publications", len(res.Publications)).
		Int("channels", len(res.Channels)).Msg("activity: агрегация завершена")

	sections := s.sections(res)
	for _, chunk := range telegram.SplitMessage(report.FormatActivity(res, sections, meta), s.cfg.ChunkLimit) {
		s.send(ctx, job.ChatID, chunk)
	}

	if len(res.Publications) > 0 {
		s.sendFiles(ctx, job.ChatID, res, log)
		s.sendChart(ctx, job.ChatID, res, log)
		s.exportSheets(ctx, job, res, log)
	}

	run.Status = domain.RunStatusDone
	if len(res.Diagnostics) > 0 || res.Truncated {
		run.Status = domain.RunStatusPartial
	}
	s.recordBuilt(ctx, job, res, run.Status)
	return s.finish(ctx, run, journaled, started)
}

func (s *Service) sections(res domain.AggregationResult) []report.Section {
	out := []report.Section{{
		Title:         fmt.Sprintf("Топ-%d по публикациям с вложениями", s.cfg.TopN),
		Entries:       ranker.TopNNonZero(res.Users, s.cfg.TopN, ranker.ByPublications, ranker.ByAttachments),
		Unit:          "публикаций",
		SecondaryUnit: "вложений",
	}}
	if s.deps.Classifier == nil {
		return out
	}
	for _, name := range s.deps.Classifier.CategoryNames() {
		out = append(out, report.Section{
			Title:   fmt.Sprintf("Топ-%d: %s", s.cfg.TopN, name),
			Entries: ranker.TopNNonZero(res.Users, s.cfg.TopN, ranker.ByCategory(name), ranker.ByPublications),
			Unit:    "сообщений",
		})
	}
	return out
}

func (s *Service) sendFiles(ctx context.Context, chatID int64, res domain.AggregationResult, log zerolog.Logger) {
	loc := res.Interval.Location
	name := export.ActivityFileName(res.Channels, res.Interval)

	files := []struct {
		name    string
		caption string
		build   func() ([]byte, error)
	}{
		{name: name, caption: "📥 Полные данные в CSV:", build: func() ([]byte, error) {
			return export.PublicationsCSV(res.Publications, loc)
		}},
		{name: "ranking_" + name, caption: "🏆 Рейтинг участников:", build: func() ([]byte, error) {
			return export.RankingCSV(ranker.TopN(res.Users, 0, ranker.ByPublications, ranker.ByAttachments))
		}},
		{name: "images_" + name, caption: "🖼 Изображения:", build: func() ([]byte, error) {
			isImage := func(string) bool { return true }
			if s.deps.Classifier != nil {
				isImage = s.deps.Classifier.IsImage
			}
			return export.ImagesCSV(res.Publications, loc, isImage)
		}},
	}
	for _, f := range files {
		data, err := f.build()
		if err == nil {
			err = export.CheckSize(data, s.cfg.ExportMaxBytes)
		}
		if err != nil {
			log.Warn().Err(err).Str("file", f.name).Msg("activity: файл не отправлен")
			s.send(ctx, chatID, "⚠️ "+f.name+": "+report.DescribeError(err))
			continue
		}
		if err := s.deps.Outbox.SendDocument(ctx, chatID, f.name, data, f.caption); err != nil {
			log.Warn().Err(err).Str("file", f.name).Msg("activity: ошибка отправки файла")
		}
	}
}

func (s *Service) sendChart(ctx context.Context, chatID int64, res domain.AggregationResult, log zerolog.Logger) {
	if s.deps.Chart == nil || res.Daily.Total() == 0 {
		return
	}
	img, err := s.deps.Chart.RenderDaily(res.Daily.Days())
	if err != nil {
		log.Warn().Err(err).Msg("activity: график не построен")
		return
	}
	if err := s.deps.Outbox.SendPhoto(ctx, chatID, "activity.png", img, "📈 График активности:"); err != nil {
		log.Warn().Err(err).Msg("activity: ошибка отправки графика")
	}
}

func (s *Service) exportSheets(ctx context.Context, job domain.ReportJob, res domain.AggregationResult, log zerolog.Logger) {
	if s.deps.Sheets == nil {
		return
	}
	exportDate := s.now().In(res.Interval.Location)
	pubRows := export.PublicationRows(res.Publications, exportDate, res.Interval)
	rankRows := export.RankingRows(res.Users, exportDate)

	err := s.deps.Sheets.AppendRows(ctx, export.SheetPublications, export.PublicationsSheetHeader, pubRows)
	if err == nil {
		err = s.deps.Sheets.AppendRows(ctx, export.SheetRanking, export.RankingSheetHeader, rankRows)
	}
	if err != nil {
		log.Error().Err(err).Msg("activity: ошибка записи в таблицу")
		s.send(ctx, job.ChatID, "⚠️ Ошибка сохранения в Google Sheets: "+report.DescribeError(err))
		return
	}
	s.send(ctx, job.ChatID, "✅ Данные сохранены в Google Sheets")
	s.record(ctx, domain.BusinessMetric{
		Event:    domain.BusinessMetricEventSheetsExported,
		ChatID:   &job.ChatID,
		Metadata: map[string]any{"publications": len(pubRows), "ranking": len(rankRows)},
	})
}

func (s *Service) recordBuilt(ctx context.Context, job domain.ReportJob, res domain.AggregationResult, status domain.RunStatus) {
	userID := job.RequestedBy
	s.record(ctx, domain.BusinessMetric{
		Event:  domain.BusinessMetricEventReportBuilt,
		ChatID: &job.ChatID,
		UserID: &userID,
		Metadata: map[string]any{
			"kind":         string(domain.ReportKindActivity),
			"cause":        string(job.Cause),
			"status":       string(status),
			"channels":     len(res.Channels),
			"scanned":      res.ScannedMessages,
			"publications": len(res.Publications),
		},
	})
}

func (s *Service) record(ctx context.Context, m domain.BusinessMetric) {
	if s.deps.Events == nil {
		return
	}
	m.OccurredAt = s.now().UTC()
	if err := s.deps.Events.RecordBusinessMetric(ctx, m); err != nil {
		s.log.Warn().Err(err).Str("event", m.Event).Msg("activity: не удалось записать бизнес-метрику")
	}
}

func (s *Service) send(ctx context.Context, chatID int64, text string) {
	if err := s.deps.Outbox.SendText(ctx, chatID, text); err != nil {
		s.log.Warn().Err(err).Int64("chat", chatID).Msg("activity: ошибка отправки сообщения")
	}
}

// start открывает запись журнала. Без записи итог прогона в журнал не пишется.
func (s *Service) start(ctx context.Context, run domain.ReportRun, log zerolog.Logger) bool {
	if s.deps.Runs == nil {
		return false
	}
	if err := s.deps.Runs.StartRun(ctx, run); err != nil {
		log.Warn().Err(err).Msg("activity: журнал запусков недоступен")
		return false
	}
	return true
}

func (s *Service) fail(ctx context.Context, run domain.ReportRun, journaled bool, cause error, started time.Time) error {
	run.Status = domain.RunStatusFailed
	run.Error = cause.Error()
	if err := s.finish(ctx, run, journaled, started); err != nil {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return nil
}

func (s *Service) finish(ctx context.Context, run domain.ReportRun, journaled bool, started time.Time) error {
	metrics.ObserveReportBuild(string(run.Kind), string(run.Status), started)
	if !journaled {
		return nil
	}
	finished := s.now()
	run.FinishedAt = &finished
	if err := s.deps.Runs.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		return fmt.Errorf("журнал запусков: %w", err)
	}
	return nil
}

// dateErrorText превращает ошибку разбора дат в подсказку пользователю.
func dateErrorText(err error, hint string) string {
	if errors.Is(err, domain.ErrInvalidRange) {
		return "❌ Дата начала не может быть позже даты окончания"
	}
	return "❌ Неверный формат даты. Используйте " + hint
}
