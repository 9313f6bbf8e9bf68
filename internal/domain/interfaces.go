package domain

import (
	"context"
	"iter"
	"time"
)

// HistoryQuery задаёт параметры чтения истории канала.
type HistoryQuery struct {
	After       time.Time
	Before      time.Time
	Limit       int
	OldestFirst bool
}

// ChannelResolver превращает имя, упоминание или ссылку в канал с проверкой прав на чтение.
type ChannelResolver interface {
	Resolve(ctx context.Context, ref string) (Channel, error)
	// ResolveAll возвращает все каналы, историю которых может читать аккаунт.
	ResolveAll(ctx context.Context) ([]Channel, error)
}

// HistorySource отдаёт историю канала потоком.
type HistorySource interface {
	History(ctx context.Context, channel Channel, q HistoryQuery) iter.Seq2[Message, error]
}

// MemberSource перечисляет участников чата.
type MemberSource interface {
	Members(ctx context.Context, channel Channel, role Role) iter.Seq2[Member, error]
}

// ProgressSink получает уведомления о ходе обработки.
type ProgressSink interface {
	Progress(ctx context.Context, processed int)
}

// ProgressFunc адаптирует функцию к ProgressSink.
type ProgressFunc func(ctx context.Context, processed int)

// Progress реализует ProgressSink.
func (f ProgressFunc) Progress(ctx context.Context, processed int) {
	f(ctx, processed)
}

// Outbox отправляет результаты в чат.
type Outbox interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendDocument(ctx context.Context, chatID int64, filename string, data []byte, caption string) error
	SendPhoto(ctx context.Context, chatID int64, filename string, data []byte, caption string) error
}

// SheetsAPI описывает удалённое API электронной таблицы.
type SheetsAPI interface {
	SheetTitles(ctx context.Context) ([]string, error)
	AddSheet(ctx context.Context, title string) error
	GetValues(ctx context.Context, rng string) ([][]any, error)
	UpdateValues(ctx context.Context, rng string, values [][]any) error
	AppendValues(ctx context.Context, rng string, values [][]any) error
}

// Locker сериализует критические секции между процессами.
type Locker interface {
	// Lock блокирует ключ не дольше ttl и возвращает функцию освобождения.
	Lock(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// ChartRenderer строит изображение по дневному ряду.
type ChartRenderer interface {
	RenderDaily(days []DayCount) ([]byte, error)
}

// ReportRunRepo ведёт журнал запусков отчётов.
type ReportRunRepo interface {
	StartRun(ctx context.Context, run ReportRun) error
	FinishRun(ctx context.Context, run ReportRun) error
	ListRecentRuns(ctx context.Context, chatID int64, limit int) ([]ReportRun, error)
}

// SessionRepo хранит MTProto-сессии.
type SessionRepo interface {
	LoadSession(ctx context.Context, name string) ([]byte, error)
	StoreSession(ctx context.Context, name string, data []byte) error
}

// Authorizer решает, может ли пользователь запускать команды.
type Authorizer interface {
	Allowed(ctx context.Context, chatID, userID int64) (bool, error)
}
