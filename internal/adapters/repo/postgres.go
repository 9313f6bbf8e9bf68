package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/gotd/td/session"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"tg-activity-bot/internal/domain"
	"tg-activity-bot/internal/infra/metrics"
)

// Querier описывает общую часть pgxpool.Pool и pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres реализует репозитории на основе pgx.
type Postgres struct {
	pool Querier
}

var (
	_ domain.BusinessMetricRepo = (*Postgres)(nil)
	_ domain.ReportRunRepo      = (*Postgres)(nil)
	_ domain.SessionRepo        = (*Postgres)(nil)
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var runColumns = []string{
	"id", "job_id", "kind", "chat_id", "requested_by", "channels", "period_start", "period_end",
	"total_messages", "publications", "status", "error", "started_at", "finished_at",
}

// NewPostgres создаёт адаптер БД.
func NewPostgres(pool Querier) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) connCtxWithParent(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, 5*time.Second)
}

// RecordBusinessMetric сохраняет бизнесовую метрику в БД.
func (p *Postgres) RecordBusinessMetric(ctx context.Context, metric domain.BusinessMetric) error {
	if metric.Event == "" {
		return nil
	}
	if metric.OccurredAt.IsZero() {
		metric.OccurredAt = time.Now().UTC()
	}

	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	var chatID, userID sql.NullInt64
	if metric.ChatID != nil {
		chatID = sql.NullInt64{Int64: *metric.ChatID, Valid: true}
	}
	if metric.UserID != nil {
		userID = sql.NullInt64{Int64: *metric.UserID, Valid: true}
	}
	var payload []byte
	if metric.Metadata != nil {
		if data, err := json.Marshal(metric.Metadata); err == nil {
			payload = data
		}
	}

	query, args, err := psql.Insert("business_metrics").
		Columns("event", "chat_id", "user_id", "metadata", "occurred_at").
		Values(metric.Event, chatID, userID, payload, metric.OccurredAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("сборка запроса: %w", err)
	}

	start := time.Now()
	_, err = p.pool.Exec(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", "business_metrics_insert", "business_metrics", start, err)
	return err
}

// StartRun записывает начало запуска отчёта.
func (p *Postgres) StartRun(ctx context.Context, run domain.ReportRun) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = domain.RunStatusRunning
	}
	channels := run.Channels
	if channels == nil {
		channels = []string{}
	}

	query, args, err := psql.Insert("report_runs").
		Columns(runColumns...).
		Values(run.ID, run.JobID, string(run.Kind), run.ChatID, run.RequestedBy, channels,
			nullTime(run.PeriodStart), nullTime(run.PeriodEnd), run.TotalMessages, run.Publications,
			string(run.Status), run.Error, run.StartedAt, run.FinishedAt).
		ToSql()
	if err != nil {
		return fmt.Errorf("сборка запроса: %w", err)
	}

	start := time.Now()
	_, err = p.pool.Exec(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", "report_runs_insert", "report_runs", start, err)
	if err != nil {
		return fmt.Errorf("запись запуска %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun сохраняет итог запуска.
func (p *Postgres) FinishRun(ctx context.Context, run domain.ReportRun) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	finished := time.Now().UTC()
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}
	channels := run.Channels
	if channels == nil {
		channels = []string{}
	}

	query, args, err := psql.Update("report_runs").
		Set("channels", channels).
		Set("period_start", nullTime(run.PeriodStart)).
		Set("period_end", nullTime(run.PeriodEnd)).
		Set("total_messages", run.TotalMessages).
		Set("publications", run.Publications).
		Set("status", string(run.Status)).
		Set("error", run.Error).
		Set("finished_at", finished).
		Where(sq.Eq{"id": run.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("сборка запроса: %w", err)
	}

	start := time.Now()
	tag, err := p.pool.Exec(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", "report_runs_update", "report_runs", start, err)
	if err != nil {
		return fmt.Errorf("обновление запуска %s: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("запуск %s не найден", run.ID)
	}
	return nil
}

// ListRecentRuns возвращает последние запуски чата, новые первыми.
func (p *Postgres) ListRecentRuns(ctx context.Context, chatID int64, limit int) ([]domain.ReportRun, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if limit <= 0 {
		limit = 10
	}
	query, args, err := psql.Select(runColumns...).
		From("report_runs").
		Where(sq.Eq{"chat_id": chatID}).
		OrderBy("started_at DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("сборка запроса: %w", err)
	}

	start := time.Now()
	rows, err := p.pool.Query(ctx, query, args...)
	metrics.ObserveNetworkRequest("postgres", "report_runs_list", "report_runs", start, err)
	if err != nil {
		return nil, fmt.Errorf("список запусков: %w", err)
	}
	defer rows.Close()

	var runs []domain.ReportRun
	for rows.Next() {
		var (
			run                    domain.ReportRun
			kind, status           string
			periodStart, periodEnd *time.Time
		)
		if err := rows.Scan(&run.ID, &run.JobID, &kind, &run.ChatID, &run.RequestedBy, &run.Channels,
			&periodStart, &periodEnd, &run.TotalMessages, &run.Publications, &status, &run.Error,
			&run.StartedAt, &run.FinishedAt); err != nil {
			return nil, fmt.Errorf("чтение запуска: %w", err)
		}
		run.Kind = domain.ReportKind(kind)
		run.Status = domain.RunStatus(status)
		if periodStart != nil {
			run.PeriodStart = *periodStart
		}
		if periodEnd != nil {
			run.PeriodEnd = *periodEnd
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// LoadSession загружает сохранённую MTProto-сессию.
func (p *Postgres) LoadSession(ctx context.Context, name string) ([]byte, error) {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if name == "" {
		name = "default"
	}

	var data []byte
	start := time.Now()
	err := p.pool.QueryRow(ctx, `SELECT data FROM mtproto_sessions WHERE name = $1`, name).Scan(&data)
	metrics.ObserveNetworkRequest("postgres", "mtproto_sessions_load", "mtproto_sessions", start, err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	clone := make([]byte, len(data))
	copy(clone, data)
	return clone, nil
}

// StoreSession сохраняет MTProto-сессию.
func (p *Postgres) StoreSession(ctx context.Context, name string, data []byte) error {
	ctx, cancel := p.connCtxWithParent(ctx)
	defer cancel()

	if name == "" {
		name = "default"
	}

	tmp := make([]byte, len(data))
	copy(tmp, data)

	start := time.Now()
	_, err := p.pool.Exec(ctx, `
INSERT INTO mtproto_sessions (name, data, updated_at)
VALUES ($1, $2, now())
ON CONFLICT (name) DO UPDATE SET data = EXCLUDED.data, updated_at = now()
`, name, tmp)
	metrics.ObserveNetworkRequest("postgres", "mtproto_sessions_store", "mtproto_sessions", start, err)
	return err
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
