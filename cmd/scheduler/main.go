package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"tg-activity-bot/internal/adapters/repo"
	"tg-activity-bot/internal/domain"
	"tg-activity-bot/internal/infra/config"
	"tg-activity-bot/internal/infra/db"
	applog "tg-activity-bot/internal/infra/log"
	"tg-activity-bot/internal/infra/queue"
	"tg-activity-bot/internal/usecase/daterange"
	"tg-activity-bot/internal/usecase/schedule"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("scheduler: конфиг")
	}
	logger := applog.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	parser, err := daterange.NewParser(daterange.Config{
		Location: cfg.Location(),
		Grammar:  cfg.Report.DateLayout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: парсер дат")
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
	}
	jobs, closeQueue, err := queue.Open(cfg.RabbitURL, redisClient, cfg.Queues.Report)
	if err != nil {
		logger.Fatal().Err(err).Msg("scheduler: не удалось инициализировать очередь")
	}
	defer closeQueue()

	var events domain.BusinessMetricRepo
	if cfg.PGDSN != "" {
		pool, err := db.Connect(ctx, cfg.PGDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("scheduler: нет подключения к БД")
		}
		defer pool.Close()
		events = repo.NewPostgres(pool)
	}

	svc := schedule.NewService(jobs, events, parser, schedule.Config{
		Cron:         cfg.Schedule.Cron,
		ChatID:       cfg.Schedule.ChatID,
		Channels:     cfg.Schedule.Channels,
		LookbackDays: cfg.Schedule.LookbackDays,
	}, applog.Component(logger, "schedule"))
	if err := svc.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("scheduler: остановлен с ошибкой")
	}
	logger.Info().Msg("scheduler: остановлен")
}
