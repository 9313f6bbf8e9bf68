package repo

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/gotd/td/session"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tg-activity-bot/internal/domain"
)

func newMock(t *testing.T) (*Postgres, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewPostgres(mock), mock
}

func TestStartRun(t *testing.T) {
	repo, mock := newMock(t)
	started := time.Date(2026, 1, 4, 9, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO report_runs (id,job_id,kind,chat_id,requested_by,channels,period_start,period_end,total_messages,publications,status,error,started_at,finished_at) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)")).
		WithArgs("run-1", "job-1", "activity", int64(-100), int64(7), []string{"general"},
			pgxmock.AnyArg(), pgxmock.AnyArg(), 0, 0, "running", "", started, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.StartRun(context.Background(), domain.ReportRun{
		ID:          "run-1",
		JobID:       "job-1",
		Kind:        domain.ReportKindActivity,
		ChatID:      -100,
		RequestedBy: 7,
		Channels:    []string{"general"},
		StartedAt:   started,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishRun(t *testing.T) {
	repo, mock := newMock(t)
	finished := time.Date(2026, 1, 4, 9, 5, 0, 0, time.UTC)

	mock.ExpectExec(`UPDATE report_runs SET .*status = \$6.*WHERE id = \$9`).
		WithArgs([]string{"general", "media"}, pgxmock.AnyArg(), pgxmock.AnyArg(), 4, 2, "partial", "1 канал пропущен", finished, "run-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := repo.FinishRun(context.Background(), domain.ReportRun{
		ID:            "run-1",
		Channels:      []string{"general", "media"},
		TotalMessages: 4,
		Publications:  2,
		Status:        domain.RunStatusPartial,
		Error:         "1 канал пропущен",
		FinishedAt:    &finished,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinishRunUnknownID(t *testing.T) {
	repo, mock := newMock(t)
	mock.ExpectExec(`UPDATE report_runs`).WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.FinishRun(context.Background(), domain.ReportRun{ID: "missing", Status: domain.RunStatusDone})
	assert.Error(t, err)
}

func TestListRecentRuns(t *testing.T) {
	repo, mock := newMock(t)
	started := time.Date(2026, 1, 4, 9, 0, 0, 0, time.UTC)
	finished := started.Add(time.Minute)
	periodStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	periodEnd := time.Date(2026, 1, 3, 23, 59, 59, 0, time.UTC)

	rows := pgxmock.NewRows(runColumns).
		AddRow("run-1", "job-1", "activity", int64(-100), int64(7), []string{"general"},
			&periodStart, &periodEnd, 4, 2, "done", "", started, &finished)
	mock.ExpectQuery(`SELECT .* FROM report_runs WHERE chat_id = \$1 ORDER BY started_at DESC LIMIT 5`).
		WithArgs(int64(-100)).
		WillReturnRows(rows)

	runs, err := repo.ListRecentRuns(context.Background(), -100, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, domain.ReportKindActivity, runs[0].Kind)
	assert.Equal(t, domain.RunStatusDone, runs[0].Status)
	assert.Equal(t, periodStart, runs[0].PeriodStart)
	assert.Equal(t, []string{"general"}, runs[0].Channels)
	require.NotNil(t, runs[0].FinishedAt)
	assert.Equal(t, finished, *runs[0].FinishedAt)
}

func TestRecordBusinessMetric(t *testing.T) {
	repo, mock := newMock(t)
	chatID := int64(-100)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO business_metrics (event,chat_id,user_id,metadata,occurred_at) VALUES ($1,$2,$3,$4,$5)")).
		WithArgs(domain.BusinessMetricEventReportRequested, pgxmock.AnyArg(), pgxmock.AnyArg(), []byte(`{"channels":2}`), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.RecordBusinessMetric(context.Background(), domain.BusinessMetric{
		Event:    domain.BusinessMetricEventReportRequested,
		ChatID:   &chatID,
		Metadata: map[string]any{"channels": 2},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.NoError(t, repo.RecordBusinessMetric(context.Background(), domain.BusinessMetric{}))
}

func TestSessions(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectQuery(`SELECT data FROM mtproto_sessions`).WithArgs("default").WillReturnError(pgx.ErrNoRows)
	_, err := repo.LoadSession(context.Background(), "")
	assert.True(t, errors.Is(err, session.ErrNotFound))

	mock.ExpectExec(`INSERT INTO mtproto_sessions`).WithArgs("main", []byte("blob")).WillReturnResult(pgxmock.NewResult("INSERT", 1))
	require.NoError(t, repo.StoreSession(context.Background(), "main", []byte("blob")))

	mock.ExpectQuery(`SELECT data FROM mtproto_sessions`).WithArgs("main").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow([]byte("blob")))
	data, err := repo.LoadSession(context.Background(), "main")
	require.NoError(t, err)
	assert.Equal(t, []byte("blob"), data)
	assert.NoError(t, mock.ExpectationsWereMet())
}
