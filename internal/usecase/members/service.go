package members

import (
	"context"
	"errors"
	"fmt"
	"html"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tg-activity-bot/internal/adapters/telegram"
	"tg-activity-bot/internal/domain"
	"tg-activity-bot/internal/infra/metrics"
	"tg-activity-bot/internal/usecase/daterange"
	"tg-activity-bot/internal/usecase/export"
	"tg-activity-bot/internal/usecase/report"
)

// DefaultProgressEvery задаёт, через сколько просмотренных участников отправлять прогресс.
const DefaultProgressEvery = 100

// ErrRoleRequired возвращается, когда роль не указана.
var ErrRoleRequired = errors.New("не указана роль")

// Config содержит параметры выгрузки.
type Config struct {
	ProgressEvery  int
	ChunkLimit     int
	ExportMaxBytes int
	ZoneName       string
}

// Service выгружает участников чата с заданной ролью на дату.
type Service struct {
	resolver domain.ChannelResolver
	source   domain.MemberSource
	parser   *daterange.Parser
	outbox   domain.Outbox
	sheets   *export.SheetWriter
	runs     domain.ReportRunRepo
	cfg      Config
	log      zerolog.Logger
	now      func() time.Time
}

// NewService создаёт сервис. sheets и runs могут быть nil.
func NewService(resolver domain.ChannelResolver, source domain.MemberSource, parser *daterange.Parser, outbox domain.Outbox, sheets *export.SheetWriter, runs domain.ReportRunRepo, cfg Config, log zerolog.Logger) *Service {
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = DefaultProgressEvery
	}
	return &Service{resolver: resolver, source: source, parser: parser, outbox: outbox, sheets: sheets, runs: runs, cfg: cfg, log: log, now: time.Now}
}

// Run выполняет задачу выгрузки роли: чат берётся из первого аргумента канала, дата из StartText.
func (s *Service) Run(ctx context.Context, job domain.ReportJob) error {
	started := s.now()
	run := domain.ReportRun{
		ID:          uuid.NewString(),
		JobID:       job.ID,
		Kind:        domain.ReportKindRoleExport,
		ChatID:      job.ChatID,
		RequestedBy: job.RequestedBy,
		Channels:    job.ChannelArgs,
		Status:      domain.RunStatusRunning,
		StartedAt:   started,
	}
	journaled := s.startRun(ctx, run)

	members, day, err := s.collect(ctx, job)
	if err != nil {
		s.send(ctx, job.ChatID, userMessage(err, s.parser.Hint()))
		run.Status = domain.RunStatusFailed
		run.Error = err.Error()
		if ferr := s.finishRun(ctx, run, journaled, started); ferr != nil {
			return ferr
		}
		return ctx.Err()
	}
	run.PeriodStart, run.PeriodEnd = day.Start, day.End
	run.TotalMessages = len(members)

	role, _ := domain.ParseRole(job.Role)
	dayStart := day.FirstDay()
	meta := report.Meta{ZoneName: s.cfg.ZoneName}
	for _, chunk := range telegram.SplitMessage(report.FormatMembers(role.Name(), dayStart, members, meta), s.cfg.ChunkLimit) {
		s.send(ctx, job.ChatID, chunk)
	}

	run.Status = domain.RunStatusDone
	if len(members) > 0 {
		if !s.sendCSV(ctx, job.ChatID, role.Name(), dayStart, members) {
			run.Status = domain.RunStatusPartial
		}
		if !s.exportSheet(ctx, job.ChatID, dayStart, members) {
			run.Status = domain.RunStatusPartial
		}
	}
	return s.finishRun(ctx, run, journaled, started)
}

// collect разбирает аргументы и собирает подходящих участников.
func (s *Service) collect(ctx context.Context, job domain.ReportJob) ([]domain.Member, domain.DateInterval, error) {
	day, err := s.parser.ParseDay(job.StartText)
	if err != nil {
		return nil, domain.DateInterval{}, err
	}
	role, ok := domain.ParseRole(job.Role)
	if !ok {
		return nil, day, ErrRoleRequired
	}
	if len(job.ChannelArgs) == 0 {
		return nil, day, domain.ErrChannelNotFound
	}
	chat, err := s.resolver.Resolve(ctx, job.ChannelArgs[0])
	if err != nil {
		return nil, day, err
	}
	s.send(ctx, job.ChatID, fmt.Sprintf("🔍 Собираю участников <code>%s</code> с ролью <b>%s</b>...",
		html.EscapeString(chat.Name()), html.EscapeString(role.Name())))

	var (
		out     []domain.Member
		scanned int
	)
	for m, err := range s.source.Members(ctx, chat, role) {
		if err != nil {
			return nil, day, fmt.Errorf("участники %s: %w", chat.Name(), err)
		}
		scanned++
		if scanned%s.cfg.ProgressEvery == 0 {
			s.send(ctx, job.ChatID, fmt.Sprintf("⏳ Просмотрено %d участников...", scanned))
		}
		if m.Bot && role.Kind != domain.RoleBots {
			continue
		}
		if !role.Matches(m) {
			continue
		}
		if !m.JoinedAt.IsZero() && m.JoinedAt.After(day.End) {
			continue
		}
		out = append(out, m)
	}
	s.log.Info().Str("chat", chat.Name()).Str("role", role.Name()).Int("scanned", scanned).
		Int("matched", len(out)).Msg("members: выгрузка собрана")
	return out, day, nil
}

func (s *Service) sendCSV(ctx context.Context, chatID int64, roleName string, day time.Time, members []domain.Member) bool {
	name := export.RoleFileName(roleName, day)
	data, err := export.MembersCSV(members, day)
	if err == nil {
		err = export.CheckSize(data, s.cfg.ExportMaxBytes)
	}
	if err != nil {
		s.log.Warn().Err(err).Str("file", name).Msg("members: файл не отправлен")
		s.send(ctx, chatID, "⚠️ "+name+": "+report.DescribeError(err))
		return false
	}
	if err := s.outbox.SendDocument(ctx, chatID, name, data, "📥 Данные пользователей в CSV:"); err != nil {
		s.log.Warn().Err(err).Str("file", name).Msg("members: ошибка отправки файла")
		return false
	}
	return true
}

func (s *Service) exportSheet(ctx context.Context, chatID int64, day time.Time, members []domain.Member) bool {
	if s.sheets == nil {
		return true
	}
	rows := export.RoleRows(members, day, s.now().In(day.Location()))
	if err := s.sheets.AppendRows(ctx, export.SheetRoles, export.RolesSheetHeader, rows); err != nil {
		s.log.Error().Err(err).Msg("members: ошибка записи в таблицу")
		s.send(ctx, chatID, "⚠️ Ошибка сохранения в Google Sheets: "+report.DescribeError(err))
		return false
	}
	s.send(ctx, chatID, "✅ Данные сохранены в Google Sheets")
	return true
}

func (s *Service) send(ctx context.Context, chatID int64, text string) {
	if err := s.outbox.SendText(ctx, chatID, text); err != nil {
		s.log.Warn().Err(err).Int64("chat", chatID).Msg("members: ошибка отправки сообщения")
	}
}

func (s *Service) startRun(ctx context.Context, run domain.ReportRun) bool {
	if s.runs == nil {
		return false
	}
	if err := s.runs.StartRun(ctx, run); err != nil {
		s.log.Warn().Err(err).Msg("members: журнал запусков недоступен")
		return false
	}
	return true
}

func (s *Service) finishRun(ctx context.Context, run domain.ReportRun, journaled bool, started time.Time) error {
	metrics.ObserveReportBuild(string(run.Kind), string(run.Status), started)
	if !journaled {
		return nil
	}
	finished := s.now()
	run.FinishedAt = &finished
	if err := s.runs.FinishRun(context.WithoutCancel(ctx), run); err != nil {
		return fmt.Errorf("журнал запусков: %w", err)
	}
	return nil
}

func userMessage(err error, hint string) string {
	switch {
	case errors.Is(err, domain.ErrDateFormat):
		return "❌ Неверный формат даты. Используйте " + hint
	case errors.Is(err, ErrRoleRequired):
		return "❌ Укажите роль: admins, creator, bots, members или подпись администратора"
	case errors.Is(err, domain.ErrChannelNotFound), errors.Is(err, domain.ErrChannelAccessDenied):
		return "❌ Чат не найден или нет прав на просмотр участников"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "⚠️ Выгрузка прервана"
	default:
		return "⚠️ Ошибка при получении участников: " + report.DescribeError(err)
	}
}
