package export

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tg-activity-bot/internal/domain"
	"tg-activity-bot/internal/infra/metrics"
)

// DefaultBatchSize ограничивает число строк в одном запросе append.
const DefaultBatchSize = 1000

const defaultLockTTL = 30 * time.Second

// Листы и заголовки удалённой таблицы.
const (
	SheetPublications = "Публикации"
	SheetRanking      = "Рейтинг"
	SheetRoles        = "Роли"
)

var (
	PublicationsSheetHeader = []string{"№", "Дата экспорта", "Период", "Автор", "ID пользователя", "Ссылка на сообщение", "Канал", "Количество вложений"}
	RankingSheetHeader      = []string{"Дата экспорта", "Автор", "Публикаций", "Вложений"}
	RolesSheetHeader        = []string{"Дата экспорта", "Роль", "ID пользователя", "Имя пользователя", "Отображаемое имя", "Дата вступления", "Дата сохранения"}
)

// SheetWriterConfig настраивает запись в таблицу.
type SheetWriterConfig struct {
	BatchSize int
	LockTTL   time.Duration
}

// SheetWriter дописывает строки в лист, создавая лист и заголовок при необходимости.
type SheetWriter struct {
	api       domain.SheetsAPI
	locker    domain.Locker
	batchSize int
	lockTTL   time.Duration
	log       zerolog.Logger

	mu sync.Mutex
}

// NewSheetWriter создаёт writer. Без locker подготовка листа сериализуется внутри процесса.
func NewSheetWriter(api domain.SheetsAPI, locker domain.Locker, cfg SheetWriterConfig, log zerolog.Logger) *SheetWriter {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	return &SheetWriter{api: api, locker: locker, batchSize: cfg.BatchSize, lockTTL: cfg.LockTTL, log: log}
}

// AppendRows гарантирует лист с заголовком и дописывает строки пачками.
// Пачка, упавшая с ErrRemoteSheetMissing, повторяется один раз после повторной подготовки листа.
func (w *SheetWriter) AppendRows(ctx context.Context, sheet string, header []string, rows [][]any) error {
	if err := w.ensure(ctx, sheet, header); err != nil {
		return err
	}
	target := quoteSheet(sheet) + "!A1"
	for start := 0; start < len(rows); start += w.batchSize {
		end := min(start+w.batchSize, len(rows))
		batch := sanitizeRows(rows[start:end])

		err := w.api.AppendValues(ctx, target, batch)
		if errors.Is(err, domain.ErrRemoteSheetMissing) {
			w.log.Warn().Str("sheet", sheet).Int("offset", start).Msg("sheets: лист пропал, создаём заново")
			if err := w.ensure(ctx, sheet, header); err != nil {
				return err
			}
			err = w.api.AppendValues(ctx, target, batch)
		}
		if err != nil {
			return fmt.Errorf("запись строк %d-%d в лист %s: %w", start+1, end, sheet, classifyRemote(err))
		}
		metrics.SheetRowsAppended.WithLabelValues(sheet).Add(float64(len(batch)))
	}
	return nil
}

func (w *SheetWriter) ensure(ctx context.Context, sheet string, header []string) error {
	unlock, err := w.lock(ctx, sheet)
	if err != nil {
		return fmt.Errorf("блокировка листа %s: %w", sheet, err)
	}
	defer unlock()

	titles, err := w.api.SheetTitles(ctx)
	if err != nil {
		return fmt.Errorf("список листов: %w", classifyRemote(err))
	}
	exists := false
	for _, title := range titles {
		if title == sheet {
			exists = true
			break
		}
	}
	if !exists {
		err := w.api.AddSheet(ctx, sheet)
		switch {
		case err == nil:
			w.log.Info().Str("sheet", sheet).Msg("sheets: лист создан")
		case errors.Is(err, domain.ErrSheetExists):
		default:
			return fmt.Errorf("создание листа %s: %w", sheet, classifyRemote(err))
		}
	}

	values, err := w.api.GetValues(ctx, quoteSheet(sheet)+"!1:1")
	if err != nil {
		return fmt.Errorf("чтение заголовка %s: %w", sheet, classifyRemote(err))
	}
	width := 0
	if len(values) > 0 {
		width = len(values[0])
	}
	if width >= len(header) {
		return nil
	}
	row := make([]any, len(header))
	for i, h := range header {
		row[i] = h
	}
	if err := w.api.UpdateValues(ctx, quoteSheet(sheet)+"!A1", [][]any{row}); err != nil {
		return fmt.Errorf("запись заголовка %s: %w", sheet, classifyRemote(err))
	}
	return nil
}

func (w *SheetWriter) lock(ctx context.Context, sheet string) (func(), error) {
	if w.locker != nil {
		return w.locker.Lock(ctx, "sheets:bootstrap:"+sheet, w.lockTTL)
	}
	w.mu.Lock()
	return w.mu.Unlock, nil
}

func classifyRemote(err error) error {
	if errors.Is(err, domain.ErrRemoteSheetMissing) || errors.Is(err, domain.ErrUnclassifiedRemote) ||
		errors.Is(err, domain.ErrSheetExists) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", domain.ErrUnclassifiedRemote, err)
}

func quoteSheet(name string) string {
	return "'" + strings.ReplaceAll(name, "'", "''") + "'"
}

// SanitizeCell убирает переводы строк и крайние пробелы из текстовых значений.
func SanitizeCell(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	s = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ").Replace(s)
	return strings.TrimSpace(s)
}

func sanitizeRows(rows [][]any) [][]any {
	out := make([][]any, len(rows))
	for i, row := range rows {
		clean := make([]any, len(row))
		for j, v := range row {
			clean[j] = SanitizeCell(v)
		}
		out[i] = clean
	}
	return out
}

// PublicationRows готовит строки листа «Публикации».
func PublicationRows(pubs []domain.Publication, exportDate time.Time, interval domain.DateInterval) [][]any {
	period := interval.FirstDay().Format(dayLayout) + "–" + interval.LastDay().Format(dayLayout)
	rows := make([][]any, 0, len(pubs))
	for i, p := range pubs {
		rows = append(rows, []any{
			i + 1,
			exportDate.Format(dayLayout),
			period,
			p.Author.String(),
			p.Author.ID,
			p.Permalink,
			p.ChannelName,
			p.AttachmentCount(),
		})
	}
	return rows
}

// RankingRows готовит строки листа «Рейтинг» в порядке первого появления пользователей.
func RankingRows(users *domain.UserCounters, exportDate time.Time) [][]any {
	rows := make([][]any, 0, users.Len())
	for s := range users.All() {
		rows = append(rows, []any{exportDate.Format(dayLayout), s.Author.String(), s.MessageCount, s.AttachmentCount})
	}
	return rows
}

// RoleRows готовит строки листа «Роли».
func RoleRows(members []domain.Member, day, savedAt time.Time) [][]any {
	rows := make([][]any, 0, len(members))
	for _, m := range members {
		joined := ""
		if !m.JoinedAt.IsZero() {
			joined = m.JoinedAt.In(day.Location()).Format(timestampLayout)
		}
		rows = append(rows, []any{
			day.Format(dayLayout),
			m.RoleName,
			m.UserID,
			m.Username,
			m.Name(),
			joined,
			savedAt.Format(timestampLayout),
		})
	}
	return rows
}
