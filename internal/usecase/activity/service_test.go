package activity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-activity-bot/internal/domain"
	"tg-activity-bot/internal/usecase/channels"
	"tg-activity-bot/internal/usecase/classify"
	"tg-activity-bot/internal/usecase/daterange"
	"tg-activity-bot/internal/usecase/export"
)

type sentFile struct {
	name    string
	caption string
	data    []byte
}

type fakeOutbox struct {
	mu     sync.Mutex
	texts  []string
	docs   []sentFile
	photos []sentFile
}

func (o *fakeOutbox) SendText(_ context.Context, _ int64, text string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.texts = append(o.texts, text)
	return nil
}

func (o *fakeOutbox) SendDocument(_ context.Context, _ int64, name string, data []byte, caption string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.docs = append(o.docs, sentFile{name: name, caption: caption, data: data})
	return nil
}

func (o *fakeOutbox) SendPhoto(_ context.Context, _ int64, name string, data []byte, caption string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.photos = append(o.photos, sentFile{name: name, caption: caption, data: data})
	return nil
}

func (o *fakeOutbox) allText() string {
	return strings.Join(o.texts, "\n")
}

type fakeResolver struct {
	known map[string]domain.Channel
}

func (f *fakeResolver) Resolve(_ context.Context, ref string) (domain.Channel, error) {
	if ch, ok := f.known[ref]; ok {
		return ch, nil
	}
	return domain.Channel{}, fmt.Errorf("%w: %s", domain.ErrChannelNotFound, ref)
}

func (f *fakeResolver) ResolveAll(context.Context) ([]domain.Channel, error) {
	return nil, nil
}

type fakeRuns struct {
	started  []domain.ReportRun
	finished []domain.ReportRun
}

func (r *fakeRuns) StartRun(_ context.Context, run domain.ReportRun) error {
	r.started = append(r.started, run)
	return nil
}

func (r *fakeRuns) FinishRun(_ context.Context, run domain.ReportRun) error {
	r.finished = append(r.finished, run)
	return nil
}

func (r *fakeRuns) ListRecentRuns(context.Context, int64, int) ([]domain.ReportRun, error) {
	return nil, nil
}

type fakeEvents struct {
	events []domain.BusinessMetric
}

func (e *fakeEvents) RecordBusinessMetric(_ context.Context, m domain.BusinessMetric) error {
	e.events = append(e.events, m)
	return nil
}

type fakeSheets struct {
	titles    []string
	appended  map[string]int
	appendErr error
}

func (f *fakeSheets) SheetTitles(context.Context) ([]string, error) { return f.titles, nil }

func (f *fakeSheets) AddSheet(_ context.Context, title string) error {
	f.titles = append(f.titles, title)
	return nil
}

func (f *fakeSheets) GetValues(context.Context, string) ([][]any, error) { return nil, nil }

func (f *fakeSheets) UpdateValues(context.Context, string, [][]any) error { return nil }

func (f *fakeSheets) AppendValues(_ context.Context, rng string, values [][]any) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	if f.appended == nil {
		f.appended = make(map[string]int)
	}
	f.appended[rng] += len(values)
	return nil
}

type fakeChart struct{ calls int }

func (c *fakeChart) RenderDaily(days []domain.DayCount) ([]byte, error) {
	c.calls++
	return []byte("png"), nil
}

type harness struct {
	svc    *Service
	outbox *fakeOutbox
	runs   *fakeRuns
	events *fakeEvents
	sheets *fakeSheets
	chart  *fakeChart
}

func newHarness(t *testing.T, src domain.HistorySource) *harness {
	t.Helper()
	parser, err := daterange.NewParser(daterange.Config{
		Location: time.UTC,
		Grammar:  "YYYY-MM-DD",
		Now:      func() time.Time { return at(3, 12) },
	})
	require.NoError(t, err)
	classifier, err := classify.New(classify.Options{Categories: domain.Categories{"hired": {"принят"}}})
	require.NoError(t, err)

	h := &harness{
		outbox: &fakeOutbox{},
		runs:   &fakeRuns{},
		events: &fakeEvents{},
		sheets: &fakeSheets{},
		chart:  &fakeChart{},
	}
	resolver := &fakeResolver{known: map[string]domain.Channel{"general": general, "media": media}}
	h.svc = NewService(Deps{
		Channels:   channels.NewService(resolver, map[string][]string{"team": {"general", "media"}}),
		Parser:     parser,
		Aggregator: NewAggregator(src, classifier, zerolog.Nop()),
		Classifier: classifier,
		Outbox:     h.outbox,
		Chart:      h.chart,
		Sheets:     export.NewSheetWriter(h.sheets, nil, export.SheetWriterConfig{}, zerolog.Nop()),
		Runs:       h.runs,
		Events:     h.events,
	}, ServiceConfig{TopN: 10, ChunkLimit: 4000, ZoneName: "UTC"}, zerolog.Nop())
	h.svc.now = func() time.Time { return at(4, 9) }
	return h
}

func activityJob(args ...string) domain.ReportJob {
	return domain.ReportJob{
		ID:          "job-1",
		Kind:        domain.ReportKindActivity,
		ChatID:      100,
		RequestedBy: 7,
		ChannelArgs: args,
		StartText:   "2026-01-01",
		EndText:     "2026-01-03",
		Cause:       domain.ReportCauseManual,
	}
}

func sampleHistory() *fakeHistory {
	return &fakeHistory{messages: map[int64][]domain.Message{
		general.ID: {
			{ID: 1, Author: alice, CreatedAt: at(1, 9), Text: "привет"},
			{ID: 2, Author: alice, CreatedAt: at(2, 11), Attachments: []domain.Attachment{{Filename: "a.png", ContentType: "image/png"}}},
		},
		media.ID: {
			{ID: 5, Author: bob, CreatedAt: at(3, 8), Text: "Боб принят в команду"},
		},
	}}
}

func TestRunSendsReportFilesChartAndSheets(t *testing.T) {
	h := newHarness(t, sampleHistory())

	require.NoError(t, h.svc.Run(context.Background(), activityJob("team")))

	text := h.outbox.allText()
	assert.Contains(t, text, "🔍 Анализирую <b>2</b> канал(ов)")
	assert.Contains(t, text, "📊 <b>Отчёт по активности</b>")
	assert.Contains(t, text, "Топ-10 по публикациям с вложениями")
	assert.Contains(t, text, "Топ-10: hired")
	assert.Contains(t, text, "✅ Данные сохранены в Google Sheets")

	require.Len(t, h.outbox.docs, 3)
	assert.Equal(t, "activity_report_general_media_2026-01-01_2026-01-03.csv", h.outbox.docs[0].name)
	assert.Equal(t, "📥 Полные данные в CSV:", h.outbox.docs[0].caption)
	assert.Equal(t, 1, h.chart.calls)
	require.Len(t, h.outbox.photos, 1)

	assert.Equal(t, 2, h.sheets.appended["'Публикации'!A1"])
	assert.Equal(t, 2, h.sheets.appended["'Рейтинг'!A1"])

	require.Len(t, h.runs.started, 1)
	require.Len(t, h.runs.finished, 1)
	run := h.runs.finished[0]
	assert.Equal(t, domain.RunStatusDone, run.Status)
	assert.Equal(t, []string{"general", "media"}, run.Channels)
	assert.Equal(t, 3, run.TotalMessages)
	assert.Equal(t, 2, run.Publications)
	assert.Equal(t, h.runs.started[0].ID, run.ID)

	var built, exported int
	for _, e := range h.events.events {
		switch e.Event {
		case domain.BusinessMetricEventReportBuilt:
			built++
		case domain.BusinessMetricEventSheetsExported:
			exported++
		}
	}
	assert.Equal(t, 1, built)
	assert.Equal(t, 1, exported)
}

func TestRunRejectsBadDates(t *testing.T) {
	h := newHarness(t, sampleHistory())
	job := activityJob("general")
	job.StartText = "01/02/2026"

	require.NoError(t, h.svc.Run(context.Background(), job))

	require.Len(t, h.outbox.texts, 1)
	assert.Contains(t, h.outbox.texts[0], "Неверный формат даты")
	require.Len(t, h.runs.finished, 1)
	assert.Equal(t, domain.RunStatusFailed, h.runs.finished[0].Status)
}

func TestRunRejectsReversedRange(t *testing.T) {
	h := newHarness(t, sampleHistory())
	job := activityJob("general")
	job.StartText, job.EndText = "2026-01-03", "2026-01-01"

	require.NoError(t, h.svc.Run(context.Background(), job))
	assert.Contains(t, h.outbox.allText(), "Дата начала не может быть позже даты окончания")
}

func TestRunWithoutChannels(t *testing.T) {
	h := newHarness(t, sampleHistory())

	require.NoError(t, h.svc.Run(context.Background(), activityJob("nope")))

	text := h.outbox.allText()
	assert.Contains(t, text, "⚠️ Канал `nope` не найден или нет прав")
	assert.Contains(t, text, "❌ Не удалось найти каналы для анализа")
	assert.Equal(t, domain.RunStatusFailed, h.runs.finished[0].Status)
	assert.Empty(t, h.outbox.docs)
}

func TestRunWithoutPublicationsSkipsExports(t *testing.T) {
	h := newHarness(t, &fakeHistory{messages: map[int64][]domain.Message{
		general.ID: {{ID: 1, Author: alice, CreatedAt: at(1, 9), Text: "просто текст"}},
	}})

	require.NoError(t, h.svc.Run(context.Background(), activityJob("general")))

	assert.Contains(t, h.outbox.allText(), "Публикаций за указанный период не найдено")
	assert.Empty(t, h.outbox.docs)
	assert.Empty(t, h.outbox.photos)
	assert.Zero(t, h.chart.calls)
	assert.Empty(t, h.sheets.appended)
	assert.Equal(t, domain.RunStatusDone, h.runs.finished[0].Status)
}

func TestRunChannelFailureIsPartial(t *testing.T) {
	src := sampleHistory()
	src.errs = map[int64]error{media.ID: domain.ErrChannelAccessDenied}
	h := newHarness(t, src)

	require.NoError(t, h.svc.Run(context.Background(), activityJob("general", "media")))

	assert.Contains(t, h.outbox.allText(), "пропущен: нет прав на чтение истории")
	assert.Equal(t, domain.RunStatusPartial, h.runs.finished[0].Status)
}

func TestRunSheetsFailureIsReported(t *testing.T) {
	h := newHarness(t, sampleHistory())
	h.sheets.appendErr = errors.New("quota")

	require.NoError(t, h.svc.Run(context.Background(), activityJob("general")))

	assert.Contains(t, h.outbox.allText(), "⚠️ Ошибка сохранения в Google Sheets: ошибка удалённого сервиса")
	assert.Len(t, h.outbox.docs, 3)
	assert.Equal(t, domain.RunStatusDone, h.runs.finished[0].Status)
}

func TestRunCancelled(t *testing.T) {
	h := newHarness(t, sampleHistory())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.svc.Run(ctx, activityJob("general"))
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, h.runs.finished, 1)
	assert.Equal(t, domain.RunStatusFailed, h.runs.finished[0].Status)
}
