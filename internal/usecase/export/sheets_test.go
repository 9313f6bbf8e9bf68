package export

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-activity-bot/internal/domain"
)

type fakeSheets struct {
	mu sync.Mutex

	sheets       map[string][][]any
	addCalls     int
	updateCalls  int
	appendCalls  int
	appendSizes  []int
	failAppends  int
	addErr       error
	titlesErr    error
	dropOnAppend bool
}

func newFakeSheets() *fakeSheets {
	return &fakeSheets{sheets: make(map[string][][]any)}
}

func sheetOf(rng string) string {
	name := rng[:strings.LastIndex(rng, "!")]
	return strings.ReplaceAll(strings.Trim(name, "'"), "''", "'")
}

func (f *fakeSheets) SheetTitles(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.titlesErr != nil {
		return nil, f.titlesErr
	}
	var titles []string
	for name := range f.sheets {
		titles = append(titles, name)
	}
	return titles, nil
}

func (f *fakeSheets) AddSheet(_ context.Context, title string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addCalls++
	if f.addErr != nil {
		return f.addErr
	}
	if _, ok := f.sheets[title]; ok {
		return domain.ErrSheetExists
	}
	f.sheets[title] = nil
	return nil
}

func (f *fakeSheets) GetValues(_ context.Context, rng string) ([][]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rows, ok := f.sheets[sheetOf(rng)]
	if !ok {
		return nil, domain.ErrRemoteSheetMissing
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[:1], nil
}

func (f *fakeSheets) UpdateValues(_ context.Context, rng string, values [][]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCalls++
	name := sheetOf(rng)
	rows, ok := f.sheets[name]
	if !ok {
		return domain.ErrRemoteSheetMissing
	}
	if len(rows) == 0 {
		f.sheets[name] = values
		return nil
	}
	rows[0] = values[0]
	return nil
}

func (f *fakeSheets) AppendValues(_ context.Context, rng string, values [][]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appendCalls++
	name := sheetOf(rng)
	if f.dropOnAppend {
		f.dropOnAppend = false
		delete(f.sheets, name)
	}
	if f.failAppends > 0 {
		f.failAppends--
		return domain.ErrRemoteSheetMissing
	}
	if _, ok := f.sheets[name]; !ok {
		return domain.ErrRemoteSheetMissing
	}
	f.appendSizes = append(f.appendSizes, len(values))
	f.sheets[name] = append(f.sheets[name], values...)
	return nil
}

func newWriter(api domain.SheetsAPI, batch int) *SheetWriter {
	return NewSheetWriter(api, nil, SheetWriterConfig{BatchSize: batch}, zerolog.Nop())
}

func TestAppendRowsWritesHeaderOnce(t *testing.T) {
	api := newFakeSheets()
	w := newWriter(api, 0)
	ctx := context.Background()

	require.NoError(t, w.AppendRows(ctx, SheetRanking, RankingSheetHeader, [][]any{{"2026-01-04", "@alice", 1, 2}}))
	require.NoError(t, w.AppendRows(ctx, SheetRanking, RankingSheetHeader, [][]any{{"2026-01-04", "@bob", 1, 1}}))

	assert.Equal(t, 1, api.addCalls)
	assert.Equal(t, 1, api.updateCalls)
	rows := api.sheets[SheetRanking]
	require.Len(t, rows, 3)
	assert.Equal(t, "Дата экспорта", rows[0][0])
	assert.Equal(t, "@bob", rows[2][1])
}

func TestAppendRowsKeepsExistingHeader(t *testing.T) {
	api := newFakeSheets()
	header := make([]any, len(RankingSheetHeader))
	for i, h := range RankingSheetHeader {
		header[i] = h
	}
	api.sheets[SheetRanking] = [][]any{header}
	w := newWriter(api, 0)

	for range 2 {
		require.NoError(t, w.AppendRows(context.Background(), SheetRanking, RankingSheetHeader, [][]any{{"x"}}))
	}
	assert.Zero(t, api.addCalls)
	assert.Zero(t, api.updateCalls)
}

func TestAppendRowsWidensNarrowHeader(t *testing.T) {
	api := newFakeSheets()
	api.sheets[SheetRanking] = [][]any{{"Дата экспорта", "Автор"}}
	w := newWriter(api, 0)

	require.NoError(t, w.AppendRows(context.Background(), SheetRanking, RankingSheetHeader, nil))
	assert.Equal(t, 1, api.updateCalls)
	assert.Len(t, api.sheets[SheetRanking][0], len(RankingSheetHeader))
}

func TestAppendRowsBatches(t *testing.T) {
	api := newFakeSheets()
	w := newWriter(api, 2)
	rows := [][]any{{1}, {2}, {3}, {4}, {5}}

	require.NoError(t, w.AppendRows(context.Background(), "Лист", []string{"n"}, rows))
	assert.Equal(t, []int{2, 2, 1}, api.appendSizes)
}

func TestAppendRowsSanitizesCells(t *testing.T) {
	api := newFakeSheets()
	w := newWriter(api, 0)

	require.NoError(t, w.AppendRows(context.Background(), "Лист", []string{"a", "b"}, [][]any{{"  первая\r\nвторая\n", 42}}))
	row := api.sheets["Лист"][1]
	assert.Equal(t, "первая вторая", row[0])
	assert.Equal(t, 42, row[1])
}

func TestAppendRowsRecreatesMissingSheetOnce(t *testing.T) {
	api := newFakeSheets()
	api.dropOnAppend = true
	w := newWriter(api, 0)

	require.NoError(t, w.AppendRows(context.Background(), SheetPublications, PublicationsSheetHeader, [][]any{{1}}))
	assert.Equal(t, 2, api.addCalls)
	assert.Equal(t, 2, api.appendCalls)
	assert.Len(t, api.sheets[SheetPublications], 2)
}

func TestAppendRowsGivesUpAfterSecondMissing(t *testing.T) {
	api := newFakeSheets()
	api.failAppends = 2
	w := newWriter(api, 0)

	err := w.AppendRows(context.Background(), SheetPublications, PublicationsSheetHeader, [][]any{{1}})
	assert.ErrorIs(t, err, domain.ErrRemoteSheetMissing)
	assert.Equal(t, 2, api.appendCalls)
}

func TestAppendRowsTreatsDuplicateAddAsSuccess(t *testing.T) {
	api := newFakeSheets()
	api.addErr = domain.ErrSheetExists
	api.sheets["Роли"] = nil
	w := newWriter(&hiddenTitles{fakeSheets: api}, 0)

	require.NoError(t, w.AppendRows(context.Background(), SheetRoles, RolesSheetHeader, [][]any{{"x"}}))
	assert.Equal(t, 1, api.addCalls)
}

// hiddenTitles имитирует гонку: лист уже создан другим процессом, но ещё не виден в списке.
type hiddenTitles struct {
	*fakeSheets
}

func (h *hiddenTitles) SheetTitles(context.Context) ([]string, error) {
	return nil, nil
}

func TestAppendRowsWrapsUnknownErrors(t *testing.T) {
	api := newFakeSheets()
	api.titlesErr = errors.New("503 backend error")
	w := newWriter(api, 0)

	err := w.AppendRows(context.Background(), SheetRanking, RankingSheetHeader, nil)
	assert.ErrorIs(t, err, domain.ErrUnclassifiedRemote)
}

type recordingLocker struct {
	keys []string
}

func (l *recordingLocker) Lock(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.keys = append(l.keys, key)
	return func() {}, nil
}

func TestAppendRowsUsesLocker(t *testing.T) {
	api := newFakeSheets()
	locker := &recordingLocker{}
	w := NewSheetWriter(api, locker, SheetWriterConfig{}, zerolog.Nop())

	require.NoError(t, w.AppendRows(context.Background(), SheetRanking, RankingSheetHeader, nil))
	assert.Equal(t, []string{"sheets:bootstrap:" + SheetRanking}, locker.keys)
}

func TestAppendRowsConcurrentBootstrap(t *testing.T) {
	api := newFakeSheets()
	w := newWriter(api, 0)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, w.AppendRows(context.Background(), SheetRanking, RankingSheetHeader, [][]any{{i}}))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, api.addCalls)
	assert.Equal(t, 1, api.updateCalls)
	assert.Len(t, api.sheets[SheetRanking], 9)
}

func TestSheetRows(t *testing.T) {
	interval := domain.DateInterval{
		Start:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		End:      time.Date(2026, 1, 3, 23, 0, 0, 0, time.UTC),
		Location: time.UTC,
	}
	export := time.Date(2026, 1, 4, 9, 0, 0, 0, time.UTC)

	rows := PublicationRows(samplePublications(), export, interval)
	require.Len(t, rows, 2)
	assert.Equal(t, []any{1, "2026-01-04", "2026-01-01–2026-01-03", "@alice", int64(10), "https://t.me/general/3", "general", 2}, rows[0])

	users := domain.NewUserCounters()
	s := users.Touch(domain.Author{ID: 10, Username: "alice"})
	s.MessageCount, s.AttachmentCount = 1, 2
	assert.Equal(t, [][]any{{"2026-01-04", "@alice", 1, 2}}, RankingRows(users, export))
}
