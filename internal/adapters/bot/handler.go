package bot

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sort"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tg-activity-bot/internal/adapters/telegram"
	"tg-activity-bot/internal/domain"
	"tg-activity-bot/internal/infra/metrics"
	"tg-activity-bot/internal/usecase/access"
	"tg-activity-bot/internal/usecase/channels"
	"tg-activity-bot/internal/usecase/daterange"
)

// Sender описывает часть Bot API, которой пользуется бот. *tgbotapi.BotAPI её реализует.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Handler обслуживает вебхук бота: разбирает команды, проверяет права и ставит задачи в очередь.
type Handler struct {
	bot    Sender
	log    zerolog.Logger
	policy *access.Policy
	parser *daterange.Parser
	groups map[string][]string
	jobs   domain.ReportQueue
	runs   domain.ReportRunRepo
	events domain.BusinessMetricRepo
	now    func() time.Time
}

// recentRunsLimit ограничивает вывод /runs.
const recentRunsLimit = 5

// NewHandler создаёт обработчик. policy, runs и events могут быть nil.
func NewHandler(bot Sender, log zerolog.Logger, policy *access.Policy, parser *daterange.Parser, groups map[string][]string, jobs domain.ReportQueue, runs domain.ReportRunRepo, events domain.BusinessMetricRepo) *Handler {
	return &Handler{
		bot:    bot,
		log:    log,
		policy: policy,
		parser: parser,
		groups: groups,
		jobs:   jobs,
		runs:   runs,
		events: events,
		now:    time.Now,
	}
}

// HandleUpdate обрабатывает входящий апдейт.
func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message != nil {
		h.handleMessage(ctx, upd.Message)
	} else if upd.CallbackQuery != nil {
		h.handleCallback(ctx, upd.CallbackQuery)
	}
}

func (h *Handler) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	name, args, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	chatID := msg.Chat.ID
	switch name {
	case "start":
		h.reply(chatID, buildStartMessage(), mainKeyboard())
	case "help":
		h.reply(chatID, h.buildHelpMessage(), nil)
	case "groups":
		h.reply(chatID, h.buildGroupsMessage(), nil)
	case "activity":
		if h.authorize(ctx, msg, name) {
			h.handleActivity(ctx, msg, args)
		}
	case "export_role":
		if h.authorize(ctx, msg, name) {
			h.handleExportRole(ctx, msg, args)
		}
	case "runs":
		if h.authorize(ctx, msg, name) {
			h.handleRuns(ctx, chatID)
		}
	default:
		h.reply(chatID, "❌ Неизвестная команда. Доступные команды:\n"+
			"/activity — анализ активности в каналах\n"+
			"/export_role — экспорт пользователей с ролью\n"+
			"/runs — последние запуски\n"+
			"/help — справка", nil)
	}
}

func (h *Handler) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message != nil {
		switch cb.Data {
		case "help_menu":
			h.reply(cb.Message.Chat.ID, h.buildHelpMessage(), nil)
		case "groups_menu":
			h.reply(cb.Message.Chat.ID, h.buildGroupsMessage(), nil)
		}
	}
	start := time.Now()
	_, err := h.bot.Request(tgbotapi.NewCallback(cb.ID, ""))
	metrics.ObserveNetworkRequest("telegram_bot", "answer_callback", strconv.FormatInt(cb.From.ID, 10), start, err)
	if err != nil {
		h.log.Error().Err(err).Msg("не удалось ответить на callback")
	}
}

// handleActivity разбирает «/activity <каналы или группа> <начало> <конец>».
func (h *Handler) handleActivity(ctx context.Context, msg *tgbotapi.Message, args []string) {
	chatID := msg.Chat.ID
	if len(args) < 3 {
		h.reply(chatID, "❌ Неверное количество аргументов.\nПример: <code>/activity @channel1 @channel2 "+
			h.example()+" "+h.example()+"</code>", nil)
		return
	}
	startText, endText := args[len(args)-2], args[len(args)-1]
	if _, err := h.parser.Parse(startText, endText); err != nil {
		h.reply(chatID, h.dateError(err), nil)
		return
	}
	channelArgs := channels.NormalizeArgs(args[:len(args)-2])
	if len(channelArgs) == 0 {
		h.reply(chatID, "❌ Укажите хотя бы один канал или группу. Список групп: /groups", nil)
		return
	}
	h.enqueue(ctx, msg, domain.ReportJob{
		Kind:        domain.ReportKindActivity,
		ChannelArgs: channelArgs,
		StartText:   startText,
		EndText:     endText,
	}, "⏳ Задача поставлена в очередь, отчёт придёт в этот чат.")
}

// handleExportRole разбирает «/export_role <дата> <чат> <роль>».
func (h *Handler) handleExportRole(ctx context.Context, msg *tgbotapi.Message, args []string) {
	chatID := msg.Chat.ID
	if len(args) < 3 {
		h.reply(chatID, "❌ Неверное количество аргументов.\nПример: <code>/export_role "+
			h.example()+" @team \"Media Team\"</code>", nil)
		return
	}
	if _, err := h.parser.ParseDay(args[0]); err != nil {
		h.reply(chatID, h.dateError(err), nil)
		return
	}
	roleText := strings.Join(args[2:], " ")
	role, ok := domain.ParseRole(roleText)
	if !ok {
		h.reply(chatID, "❌ Укажите роль: admins, creator, bots, members или подпись администратора", nil)
		return
	}
	h.enqueue(ctx, msg, domain.ReportJob{
		Kind:        domain.ReportKindRoleExport,
		ChannelArgs: []string{args[1]},
		StartText:   args[0],
		Role:        roleText,
	}, fmt.Sprintf("⏳ Выгрузка роли <b>%s</b> поставлена в очередь.", html.EscapeString(role.Name())))
}

func (h *Handler) handleRuns(ctx context.Context, chatID int64) {
	if h.runs == nil {
		h.reply(chatID, "Журнал запусков не подключён.", nil)
		return
	}
	runs, err := h.runs.ListRecentRuns(ctx, chatID, recentRunsLimit)
	if err != nil {
		h.log.Error().Err(err).Int64("chat", chatID).Msg("не удалось прочитать журнал запусков")
		h.reply(chatID, "⚠️ Не удалось прочитать журнал запусков, попробуйте позже", nil)
		return
	}
	h.reply(chatID, h.buildRunsMessage(runs), nil)
}

func (h *Handler) buildRunsMessage(runs []domain.ReportRun) string {
	if len(runs) == 0 {
		return "🗒 В этом чате ещё не было отчётов."
	}
	loc := h.parser.Location()
	var b strings.Builder
	b.WriteString("🗒 <b>Последние запуски</b>")
	for _, run := range runs {
		b.WriteString(fmt.Sprintf("\n• %s <code>%s</code>: %s", run.StartedAt.In(loc).Format("2006-01-02 15:04"), run.Kind, runStatusText(run.Status)))
		if run.Kind == domain.ReportKindActivity && run.Status != domain.RunStatusFailed {
			b.WriteString(fmt.Sprintf(", сообщений %d, публикаций %d", run.TotalMessages, run.Publications))
		}
		if run.Error != "" {
			b.WriteString(" (" + html.EscapeString(run.Error) + ")")
		}
	}
	return b.String()
}

func runStatusText(status domain.RunStatus) string {
	switch status {
	case domain.RunStatusDone:
		return "✅ готов"
	case domain.RunStatusPartial:
		return "⚠️ частично"
	case domain.RunStatusFailed:
		return "❌ ошибка"
	default:
		return "⏳ выполняется"
	}
}

func (h *Handler) enqueue(ctx context.Context, msg *tgbotapi.Message, job domain.ReportJob, ack string) {
	chatID := msg.Chat.ID
	var userID int64
	if msg.From != nil {
		userID = msg.From.ID
	}
	job.ID = uuid.NewString()
	job.ChatID = chatID
	job.RequestedBy = userID
	job.RequestedAt = h.now().UTC()
	job.Cause = domain.ReportCauseManual

	if err := h.jobs.Enqueue(ctx, job); err != nil {
		h.log.Error().Err(err).Int64("chat", chatID).Str("kind", string(job.Kind)).Msg("не удалось поставить задачу отчёта")
		h.reply(chatID, "⚠️ Не удалось поставить задачу в очередь, попробуйте позже", nil)
		return
	}
	metrics.IncReportRequest(string(job.Kind), string(job.Cause), userID)
	h.recordRequested(ctx, job)
	h.reply(chatID, ack, nil)
}

func (h *Handler) recordRequested(ctx context.Context, job domain.ReportJob) {
	if h.events == nil {
		return
	}
	err := h.events.RecordBusinessMetric(ctx, domain.BusinessMetric{
		Event:  domain.BusinessMetricEventReportRequested,
		ChatID: &job.ChatID,
		UserID: &job.RequestedBy,
		Metadata: map[string]any{
			"job_id":   job.ID,
			"kind":     string(job.Kind),
			"channels": job.ChannelArgs,
		},
		OccurredAt: job.RequestedAt,
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("не удалось записать бизнес-метрику")
	}
}

func (h *Handler) authorize(ctx context.Context, msg *tgbotapi.Message, command string) bool {
	if h.policy == nil {
		return true
	}
	if msg.From == nil {
		h.reply(msg.Chat.ID, "Не удалось определить пользователя", nil)
		return false
	}
	ok, err := h.policy.Check(ctx, msg.Chat.ID, msg.From.ID, command)
	if err != nil {
		h.log.Error().Err(err).Int64("user", msg.From.ID).Msg("проверка прав не удалась")
		h.reply(msg.Chat.ID, "⚠️ Не удалось проверить права, попробуйте позже", nil)
		return false
	}
	if !ok {
		h.reply(msg.Chat.ID, "⛔ Недостаточно прав для этой команды", nil)
	}
	return ok
}

func (h *Handler) dateError(err error) string {
	if errors.Is(err, domain.ErrInvalidRange) {
		return "❌ Дата начала не может быть позже даты окончания"
	}
	return "❌ Неверный формат даты. Используйте " + h.parser.Hint() + "."
}

func (h *Handler) example() string {
	return h.parser.Format(h.now())
}

// parseCommand выделяет имя команды без «/» и суффикса «@bot» и аргументы.
// Аргумент в двойных кавычках может содержать пробелы.
func parseCommand(text string) (string, []string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	head, rest, _ := strings.Cut(text, " ")
	name := strings.TrimPrefix(head, "/")
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	if name == "" {
		return "", nil, false
	}
	return strings.ToLower(name), splitArgs(rest), true
}

func splitArgs(s string) []string {
	var (
		args    []string
		current strings.Builder
		quoted  bool
	)
	flush := func() {
		if current.Len() > 0 {
			args = append(args, current.String())
			current.Reset()
		}
	}
	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
			if !quoted {
				flush()
			}
		case r == '«':
			quoted = true
		case r == '»':
			quoted = false
			flush()
		case !quoted && (r == ' ' || r == '\t' || r == '\n'):
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return args
}

func (h *Handler) reply(chatID int64, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	for i, part := range telegram.SplitMessage(text, 0) {
		msg := tgbotapi.NewMessage(chatID, part)
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true
		if i == 0 && keyboard != nil {
			msg.ReplyMarkup = keyboard
		}
		start := time.Now()
		_, err := h.bot.Send(msg)
		metrics.ObserveNetworkRequest("telegram_bot", "send_message", strconv.FormatInt(chatID, 10), start, err)
		if err != nil {
			metrics.BotSendErrors.Inc()
			h.log.Error().Err(err).Msg("не удалось отправить сообщение")
			return
		}
	}
}

func mainKeyboard() *tgbotapi.InlineKeyboardMarkup {
	buttons := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("ℹ️ Помощь", "help_menu"),
			tgbotapi.NewInlineKeyboardButtonData("🗂 Группы каналов", "groups_menu"),
		),
	)
	return &buttons
}

func buildStartMessage() string {
	lines := []string{
		"👋 Бот считает активность участников в каналах и чатах.",
		"",
		"1. 📊 /activity — публикации с вложениями, рейтинг авторов, CSV и график за период.",
		"2. 👥 /export_role — список участников с ролью на дату.",
		"3. 🗂 /groups — заранее настроенные группы каналов.",
		"",
		"Полный список команд с примерами — под кнопкой \"ℹ️ Помощь\".",
	}
	return strings.Join(lines, "\n")
}

func (h *Handler) buildHelpMessage() string {
	day := h.example()
	lines := []string{
		"📖 <b>Команды и примеры</b>",
		"",
		"<b>Активность:</b>",
		fmt.Sprintf("• <code>/activity @general @media %s %s</code> — каналы по именам или ссылкам.", day, day),
		fmt.Sprintf("• <code>/activity media %s %s</code> — группа каналов.", day, day),
		"",
		"<b>Роли:</b>",
		fmt.Sprintf("• <code>/export_role %s @team \"Media Team\"</code> — администраторы с подписью.", day),
		fmt.Sprintf("• <code>/export_role %s @team admins</code> — также creator, bots, members.", day),
		"",
		"<b>Прочее:</b>",
		"• /groups — группы каналов.",
		"• /runs — последние запуски отчётов в этом чате.",
		"",
		"Формат даты: " + html.EscapeString(h.parser.Hint()) + ". Часовой пояс: " + html.EscapeString(h.parser.Location().String()) + ".",
	}
	return strings.Join(lines, "\n")
}

func (h *Handler) buildGroupsMessage() string {
	if len(h.groups) == 0 {
		return "🗂 Группы каналов не настроены."
	}
	names := make([]string, 0, len(h.groups))
	for name := range h.groups {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("🗂 <b>Группы каналов</b>")
	for _, name := range names {
		members := h.groups[name]
		list := "все доступные каналы"
		if !(len(members) == 1 && members[0] == channels.AllChannels) {
			escaped := make([]string, len(members))
			for i, m := range members {
				escaped[i] = html.EscapeString(m)
			}
			list = strings.Join(escaped, ", ")
		}
		b.WriteString(fmt.Sprintf("\n• <code>%s</code>: %s", html.EscapeString(name), list))
	}
	return b.String()
}
