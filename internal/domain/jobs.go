package domain

import (
	"context"
	"time"
)

// ReportJobCause описывает источник запроса на отчёт.
type ReportJobCause string

const (
	// ReportCauseManual — пользователь запросил отчёт командой.
	ReportCauseManual ReportJobCause = "manual"
	// ReportCauseScheduled — отчёт запланирован по расписанию.
	ReportCauseScheduled ReportJobCause = "scheduled"
)

// ReportKind определяет тип отчёта.
type ReportKind string

const (
	// ReportKindActivity — анализ активности в каналах.
	ReportKindActivity ReportKind = "activity"
	// ReportKindRoleExport — выгрузка участников с ролью.
	ReportKindRoleExport ReportKind = "role_export"
)

// ReportJob содержит информацию о задаче построения отчёта.
type ReportJob struct {
	ID          string         `json:"job_id,omitempty"`
	Kind        ReportKind     `json:"kind"`
	ChatID      int64          `json:"chat_id"`
	RequestedBy int64          `json:"requested_by"`
	ChannelArgs []string       `json:"channel_args,omitempty"`
	StartText   string         `json:"start,omitempty"`
	EndText     string         `json:"end,omitempty"`
	Role        string         `json:"role,omitempty"`
	RequestedAt time.Time      `json:"requested_at"`
	Cause       ReportJobCause `json:"cause"`
}

// ReportQueue описывает очередь задач на построение отчётов.
type ReportQueue interface {
	Enqueue(ctx context.Context, job ReportJob) error
	Receive(ctx context.Context) (ReportJob, ReportAckFunc, error)
}

// ReportAckFunc подтверждает обработку. success=false убирает задачу из очереди без повторной доставки.
type ReportAckFunc func(success bool) error

// RunStatus описывает итоговый статус запуска.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusDone    RunStatus = "done"
	RunStatusPartial RunStatus = "partial"
	RunStatusFailed  RunStatus = "failed"
)

// ReportRun представляет запись журнала запусков.
type ReportRun struct {
	ID            string
	JobID         string
	Kind          ReportKind
	ChatID        int64
	RequestedBy   int64
	Channels      []string
	PeriodStart   time.Time
	PeriodEnd     time.Time
	TotalMessages int
	Publications  int
	Status        RunStatus
	Error         string
	StartedAt     time.Time
	FinishedAt    *time.Time
}
