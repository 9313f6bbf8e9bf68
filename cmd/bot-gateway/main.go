package main

import (
	"context"
	"errors"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"tg-activity-bot/internal/adapters/bot"
	"tg-activity-bot/internal/adapters/repo"
	"tg-activity-bot/internal/domain"
	"tg-activity-bot/internal/infra/config"
	"tg-activity-bot/internal/infra/db"
	httpinfra "tg-activity-bot/internal/infra/http"
	applog "tg-activity-bot/internal/infra/log"
	"tg-activity-bot/internal/infra/metrics"
	"tg-activity-bot/internal/infra/queue"
	"tg-activity-bot/internal/usecase/access"
	"tg-activity-bot/internal/usecase/daterange"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("bot-gateway: конфиг")
	}
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telegram.Token == "" {
		logger.Fatal().Msg("bot-gateway: не указан токен Telegram (TG_BOT_TOKEN)")
	}
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: не удалось создать бота")
	}

	parser, err := daterange.NewParser(daterange.Config{
		Location: cfg.Location(),
		Grammar:  cfg.Report.DateLayout,
		Relaxed:  cfg.Report.RelaxedDates,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: парсер дат")
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
	}
	jobs, closeQueue, err := queue.Open(cfg.RabbitURL, redisClient, cfg.Queues.Report)
	if err != nil {
		logger.Fatal().Err(err).Msg("bot-gateway: не удалось инициализировать очередь")
	}
	defer closeQueue()

	var (
		runs   domain.ReportRunRepo
		events domain.BusinessMetricRepo
	)
	if cfg.PGDSN != "" {
		pool, err := db.Connect(ctx, cfg.PGDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("bot-gateway: нет подключения к БД")
		}
		defer pool.Close()
		repoAdapter := repo.NewPostgres(pool)
		runs, events = repoAdapter, repoAdapter
	} else {
		logger.Warn().Msg("bot-gateway: PG_DSN не задан, журнал запусков и бизнес-метрики отключены")
	}

	var authorizer domain.Authorizer
	if cfg.Access.AdminRole != "" {
		authorizer = bot.NewChatAdminAuthorizer(botAPI, cfg.Access.AdminRole)
	}
	policy := access.NewPolicy(cfg.Access.AllowedUserIDs, authorizer, events, applog.Component(logger, "access"))

	h := bot.NewHandler(botAPI, applog.Component(logger, "bot"), policy, parser, cfg.Report.ChannelGroups, jobs, runs, events)

	srv := httpinfra.NewServer(applog.Component(logger, "http"))
	srv.Router.With(httpinfra.WebhookSecretMiddleware(cfg.Telegram.WebhookSecret)).
		Post("/bot/webhook", httpinfra.WebhookHandler(h, logger))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(":" + strconv.Itoa(cfg.Port))
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.Telegram.WebhookURL != "" {
		if err := setWebhook(botAPI, cfg.Telegram.WebhookURL, cfg.Telegram.WebhookSecret); err != nil {
			logger.Fatal().Err(err).Msg("bot-gateway: не удалось установить вебхук")
		}
		logger.Info().Str("url", cfg.Telegram.WebhookURL).Msg("bot-gateway: вебхук установлен")
	} else {
		g.Go(func() error {
			poll(gctx, botAPI, h, logger)
			return nil
		})
	}

	logger.Info().Int("port", cfg.Port).Msg("bot-gateway: запущен")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("bot-gateway: остановлен с ошибкой")
		return
	}
	logger.Info().Msg("bot-gateway: остановлен")
}

// setWebhook регистрирует вебхук с секретом, который Telegram вернёт в заголовке каждого запроса.
func setWebhook(botAPI *tgbotapi.BotAPI, url, secret string) error {
	params := tgbotapi.Params{}
	params["url"] = url
	params.AddNonEmpty("secret_token", secret)
	start := time.Now()
	_, err := botAPI.MakeRequest("setWebhook", params)
	metrics.ObserveNetworkRequest("telegram_bot", "set_webhook", url, start, err)
	return err
}

// poll читает апдейты long polling, когда вебхук не настроен.
func poll(ctx context.Context, botAPI *tgbotapi.BotAPI, h *bot.Handler, logger zerolog.Logger) {
	start := time.Now()
	_, err := botAPI.Request(tgbotapi.DeleteWebhookConfig{})
	metrics.ObserveNetworkRequest("telegram_bot", "delete_webhook", "", start, err)
	if err != nil {
		logger.Warn().Err(err).Msg("bot-gateway: не удалось снять вебхук")
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := botAPI.GetUpdatesChan(u)
	logger.Info().Msg("bot-gateway: вебхук не задан, читаем апдейты long polling")
	for {
		select {
		case <-ctx.Done():
			botAPI.StopReceivingUpdates()
			return
		case upd := <-updates:
			h.HandleUpdate(ctx, upd)
		}
	}
}
