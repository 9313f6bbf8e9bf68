package domain

import (
	"context"
	"time"
)

// BusinessMetric описывает бизнесовое событие, которое сохраняется для последующего анализа.
type BusinessMetric struct {
	Event      string
	ChatID     *int64
	UserID     *int64
	Metadata   map[string]any
	OccurredAt time.Time
}

const (
	// BusinessMetricEventReportRequested фиксирует постановку отчёта в очередь.
	BusinessMetricEventReportRequested = "report_requested"
	// BusinessMetricEventReportScheduled фиксирует плановую постановку отчёта.
	BusinessMetricEventReportScheduled = "report_scheduled"
	// BusinessMetricEventReportBuilt фиксирует завершение агрегации.
	BusinessMetricEventReportBuilt = "report_built"
	// BusinessMetricEventSheetsExported фиксирует запись строк в таблицу.
	BusinessMetricEventSheetsExported = "sheets_exported"
	// BusinessMetricEventAccessDenied фиксирует отказ в доступе к команде.
	BusinessMetricEventAccessDenied = "access_denied"
)

// BusinessMetricRepo сохраняет бизнесовые события.
type BusinessMetricRepo interface {
	RecordBusinessMetric(ctx context.Context, metric BusinessMetric) error
}
