package bot

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-activity-bot/internal/domain"
	"tg-activity-bot/internal/usecase/access"
	"tg-activity-bot/internal/usecase/daterange"
)

type fakeSender struct {
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	errs     []error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return tgbotapi.Message{}, err
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) texts() []string {
	var out []string
	for _, c := range f.sent {
		if m, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, m.Text)
		}
	}
	return out
}

func (f *fakeSender) lastText() string {
	texts := f.texts()
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

type fakeQueue struct {
	jobs []domain.ReportJob
	err  error
}

func (q *fakeQueue) Enqueue(_ context.Context, job domain.ReportJob) error {
	if q.err != nil {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

func (q *fakeQueue) Receive(context.Context) (domain.ReportJob, domain.ReportAckFunc, error) {
	return domain.ReportJob{}, nil, errors.New("not implemented")
}

type fakeEvents struct {
	events []domain.BusinessMetric
}

func (e *fakeEvents) RecordBusinessMetric(_ context.Context, m domain.BusinessMetric) error {
	e.events = append(e.events, m)
	return nil
}

func newHandler(t *testing.T, policy *access.Policy) (*Handler, *fakeSender, *fakeQueue, *fakeEvents) {
	t.Helper()
	parser, err := daterange.NewParser(daterange.Config{Location: time.UTC, Grammar: daterange.GrammarISO})
	require.NoError(t, err)
	sender, queue, events := &fakeSender{}, &fakeQueue{}, &fakeEvents{}
	h := NewHandler(sender, zerolog.Nop(), policy, parser,
		map[string][]string{"media": {"photos", "videos"}, "all": {"*"}}, queue, nil, events)
	h.now = func() time.Time { return time.Date(2026, 1, 20, 10, 0, 0, 0, time.UTC) }
	return h, sender, queue, events
}

func command(text string) tgbotapi.Update {
	return tgbotapi.Update{Message: &tgbotapi.Message{
		Text: text,
		Chat: &tgbotapi.Chat{ID: -100},
		From: &tgbotapi.User{ID: 7},
	}}
}

func TestActivityEnqueuesJob(t *testing.T) {
	h, sender, queue, events := newHandler(t, nil)

	h.HandleUpdate(context.Background(), command("/activity@activity_bot #general @media 2026-01-01 2026-01-03"))

	require.Len(t, queue.jobs, 1)
	job := queue.jobs[0]
	assert.Equal(t, domain.ReportKindActivity, job.Kind)
	assert.Equal(t, []string{"general", "@media"}, job.ChannelArgs)
	assert.Equal(t, "2026-01-01", job.StartText)
	assert.Equal(t, "2026-01-03", job.EndText)
	assert.Equal(t, int64(-100), job.ChatID)
	assert.Equal(t, int64(7), job.RequestedBy)
	assert.Equal(t, domain.ReportCauseManual, job.Cause)
	assert.NotEmpty(t, job.ID)

	require.Len(t, events.events, 1)
	assert.Equal(t, domain.BusinessMetricEventReportRequested, events.events[0].Event)
	assert.Contains(t, sender.lastText(), "Задача поставлена в очередь")
}

func TestActivityValidatesBeforeEnqueue(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
	}{
		{name: "too few args", text: "/activity general 2026-01-01", want: "Неверное количество аргументов"},
		{name: "bad format", text: "/activity general 01.01.2026 2026-01-03", want: "Неверный формат даты. Используйте ГГГГ-ММ-ДД."},
		{name: "reversed", text: "/activity general 2026-01-05 2026-01-03", want: "Дата начала не может быть позже даты окончания"},
		{name: "only hashes", text: "/activity # 2026-01-01 2026-01-03", want: "Укажите хотя бы один канал"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, sender, queue, _ := newHandler(t, nil)
			h.HandleUpdate(context.Background(), command(tt.text))
			assert.Empty(t, queue.jobs)
			assert.Contains(t, sender.lastText(), tt.want)
		})
	}
}

func TestExportRoleEnqueuesQuotedRole(t *testing.T) {
	h, sender, queue, _ := newHandler(t, nil)

	h.HandleUpdate(context.Background(), command(`/export_role 2026-01-15 @team "Media Team"`))

	require.Len(t, queue.jobs, 1)
	job := queue.jobs[0]
	assert.Equal(t, domain.ReportKindRoleExport, job.Kind)
	assert.Equal(t, []string{"@team"}, job.ChannelArgs)
	assert.Equal(t, "2026-01-15", job.StartText)
	assert.Equal(t, "Media Team", job.Role)
	assert.Contains(t, sender.lastText(), "<b>Media Team</b>")
}

func TestAccessDenied(t *testing.T) {
	events := &fakeEvents{}
	policy := access.NewPolicy([]int64{1}, nil, events, zerolog.Nop())
	h, sender, queue, _ := newHandler(t, policy)

	h.HandleUpdate(context.Background(), command("/activity general 2026-01-01 2026-01-03"))

	assert.Empty(t, queue.jobs)
	assert.Contains(t, sender.lastText(), "Недостаточно прав")
	require.Len(t, events.events, 1)
	assert.Equal(t, domain.BusinessMetricEventAccessDenied, events.events[0].Event)
}

func TestQueueFailureIsReported(t *testing.T) {
	h, sender, queue, events := newHandler(t, nil)
	queue.err = errors.New("broker down")

	h.HandleUpdate(context.Background(), command("/activity general 2026-01-01 2026-01-03"))

	assert.Contains(t, sender.lastText(), "Не удалось поставить задачу в очередь")
	assert.Empty(t, events.events)
}

func TestGroupsAndUnknownCommand(t *testing.T) {
	h, sender, _, _ := newHandler(t, nil)

	h.HandleUpdate(context.Background(), command("/groups"))
	assert.Equal(t, "🗂 <b>Группы каналов</b>\n• <code>all</code>: все доступные каналы\n• <code>media</code>: photos, videos", sender.lastText())

	h.HandleUpdate(context.Background(), command("/digest_now"))
	assert.Contains(t, sender.lastText(), "Неизвестная команда")

	h.HandleUpdate(context.Background(), command("просто текст"))
	assert.Len(t, sender.texts(), 2)
}

func TestStartHasKeyboardAndCallbacksAnswered(t *testing.T) {
	h, sender, _, _ := newHandler(t, nil)

	h.HandleUpdate(context.Background(), command("/start"))
	require.Len(t, sender.sent, 1)
	msg := sender.sent[0].(tgbotapi.MessageConfig)
	assert.NotNil(t, msg.ReplyMarkup)

	h.HandleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb-1",
		Data:    "help_menu",
		From:    &tgbotapi.User{ID: 7},
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: -100}},
	}})
	assert.Contains(t, sender.lastText(), "/export_role 2026-01-20 @team")
	assert.Len(t, sender.requests, 1)
}

type fakeRuns struct {
	runs []domain.ReportRun
	err  error
}

func (r *fakeRuns) StartRun(context.Context, domain.ReportRun) error  { return nil }
func (r *fakeRuns) FinishRun(context.Context, domain.ReportRun) error { return nil }

func (r *fakeRuns) ListRecentRuns(_ context.Context, _ int64, limit int) ([]domain.ReportRun, error) {
	if r.err != nil {
		return nil, r.err
	}
	if len(r.runs) > limit {
		return r.runs[:limit], nil
	}
	return r.runs, nil
}

func TestRunsListsJournal(t *testing.T) {
	h, sender, _, _ := newHandler(t, nil)
	h.HandleUpdate(context.Background(), command("/runs"))
	assert.Contains(t, sender.lastText(), "не подключён")

	h.runs = &fakeRuns{runs: []domain.ReportRun{
		{Kind: domain.ReportKindActivity, Status: domain.RunStatusPartial, TotalMessages: 120, Publications: 7,
			StartedAt: time.Date(2026, 1, 19, 9, 30, 0, 0, time.UTC)},
		{Kind: domain.ReportKindRoleExport, Status: domain.RunStatusFailed, Error: "chat <x> not found",
			StartedAt: time.Date(2026, 1, 18, 8, 0, 0, 0, time.UTC)},
	}}
	h.HandleUpdate(context.Background(), command("/runs"))
	want := "🗒 <b>Последние запуски</b>\n" +
		"• 2026-01-19 09:30 <code>activity</code>: ⚠️ частично, сообщений 120, публикаций 7\n" +
		"• 2026-01-18 08:00 <code>role_export</code>: ❌ ошибка (chat &lt;x&gt; not found)"
	assert.Equal(t, want, sender.lastText())

	h.runs = &fakeRuns{}
	h.HandleUpdate(context.Background(), command("/runs"))
	assert.Contains(t, sender.lastText(), "ещё не было отчётов")

	h.runs = &fakeRuns{err: errors.New("db down")}
	h.HandleUpdate(context.Background(), command("/runs"))
	assert.Contains(t, sender.lastText(), "Не удалось прочитать журнал")
}

func TestParseCommand(t *testing.T) {
	name, args, ok := parseCommand(`/Export_Role@bot 2026-01-15  @team «Media Team»`)
	require.True(t, ok)
	assert.Equal(t, "export_role", name)
	assert.Equal(t, []string{"2026-01-15", "@team", "Media Team"}, args)

	_, _, ok = parseCommand("hello")
	assert.False(t, ok)
}

func TestOutboxRetriesFloodWaitOnce(t *testing.T) {
	sender := &fakeSender{errs: []error{
		&tgbotapi.Error{Code: 429, Message: "Too Many Requests", ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 1}},
	}}
	out := NewOutbox(sender, zerolog.Nop())

	require.NoError(t, out.SendText(context.Background(), 1, "<b>hi</b>"))
	require.Len(t, sender.sent, 2)
	msg := sender.sent[1].(tgbotapi.MessageConfig)
	assert.Equal(t, tgbotapi.ModeHTML, msg.ParseMode)
	assert.True(t, msg.DisableWebPagePreview)
}

func TestOutboxReturnsOtherErrors(t *testing.T) {
	sender := &fakeSender{errs: []error{&tgbotapi.Error{Code: 400, Message: "Bad Request: chat not found"}}}
	out := NewOutbox(sender, zerolog.Nop())

	err := out.SendDocument(context.Background(), 1, "report.csv", []byte("a,b"), "📥")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chat not found")
	require.Len(t, sender.sent, 1)
	doc := sender.sent[0].(tgbotapi.DocumentConfig)
	assert.Equal(t, "📥", doc.Caption)
}

type fakeMembers struct {
	member tgbotapi.ChatMember
}

func (f fakeMembers) GetChatMember(tgbotapi.GetChatMemberConfig) (tgbotapi.ChatMember, error) {
	return f.member, nil
}

func TestChatAdminAuthorizer(t *testing.T) {
	tests := []struct {
		name   string
		member tgbotapi.ChatMember
		rank   string
		want   bool
	}{
		{name: "creator", member: tgbotapi.ChatMember{Status: "creator"}, rank: "Media", want: true},
		{name: "admin any rank", member: tgbotapi.ChatMember{Status: "administrator"}, want: true},
		{name: "admin wildcard rank", member: tgbotapi.ChatMember{Status: "administrator", CustomTitle: "Support"}, rank: "*", want: true},
		{name: "admin rank match", member: tgbotapi.ChatMember{Status: "administrator", CustomTitle: "media"}, rank: "Media", want: true},
		{name: "admin rank mismatch", member: tgbotapi.ChatMember{Status: "administrator", CustomTitle: "Support"}, rank: "Media", want: false},
		{name: "member", member: tgbotapi.ChatMember{Status: "member"}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := NewChatAdminAuthorizer(fakeMembers{member: tt.member}, tt.rank).Allowed(context.Background(), -100, 7)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}

	ok, err := NewChatAdminAuthorizer(fakeMembers{member: tgbotapi.ChatMember{Status: "creator"}}, "").Allowed(context.Background(), 7, 7)
	require.NoError(t, err)
	assert.False(t, ok)
}
