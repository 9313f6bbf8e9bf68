package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	MessagesScanned = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "activity_messages_scanned_total",
		Help: "Просмотрено сообщений при построении отчётов",
	})
	ChannelFetchErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "activity_channel_errors_total",
		Help: "Ошибки чтения истории каналов",
	})
	ReportBuildSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "activity_report_build_seconds",
		Help:    "Время построения отчёта",
		Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600, 1200},
	}, []string{"kind", "status"})
	BotSendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "bot_send_errors_total",
		Help: "Ошибки отправки сообщений ботом",
	})
	SheetRowsAppended = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sheets_rows_appended_total",
		Help: "Строки, дописанные в удалённую таблицу",
	}, []string{"sheet"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 15, 20, 25, 30, 45, 60, 90, 120, 180, 300, 600},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	ReportRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "report_requests_total",
		Help: "Количество запросов на построение отчёта",
	}, []string{"kind", "cause"})

	ReportRequestsByUser = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "report_requests_by_user_total",
		Help: "Количество запросов на отчёт по пользователям",
	}, []string{"user_id"})

	ReportRequestsByChannel = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "report_requests_by_channel_total",
		Help: "Количество запросов на отчёт по каналам",
	}, []string{"channel"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		MessagesScanned,
		ChannelFetchErrors,
		ReportBuildSeconds,
		BotSendErrors,
		SheetRowsAppended,
		NetworkRequestDuration,
		NetworkRequestTotal,
		ReportRequestsTotal,
		ReportRequestsByUser,
		ReportRequestsByChannel,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveReportBuild записывает длительность построения отчёта.
func ObserveReportBuild(kind, status string, start time.Time) {
	ReportBuildSeconds.WithLabelValues(kind, status).Observe(time.Since(start).Seconds())
}

// IncReportRequest увеличивает счётчики запросов на отчёт.
func IncReportRequest(kind, cause string, userID int64) {
	ReportRequestsTotal.WithLabelValues(kind, cause).Inc()
	if userID != 0 {
		ReportRequestsByUser.WithLabelValues(strconv.FormatInt(userID, 10)).Inc()
	}
}

// IncReportForChannel увеличивает счётчик запросов на отчёт для канала.
func IncReportForChannel(channel string) {
	ReportRequestsByChannel.WithLabelValues(channel).Inc()
}
