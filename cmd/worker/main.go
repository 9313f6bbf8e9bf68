package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"tg-activity-bot/internal/adapters/bot"
	"tg-activity-bot/internal/adapters/chart"
	"tg-activity-bot/internal/adapters/gsheets"
	"tg-activity-bot/internal/adapters/mtproto"
	"tg-activity-bot/internal/adapters/repo"
	"tg-activity-bot/internal/domain"
	"tg-activity-bot/internal/infra/cache"
	"tg-activity-bot/internal/infra/config"
	"tg-activity-bot/internal/infra/db"
	applog "tg-activity-bot/internal/infra/log"
	"tg-activity-bot/internal/infra/metrics"
	"tg-activity-bot/internal/infra/queue"
	"tg-activity-bot/internal/usecase/activity"
	"tg-activity-bot/internal/usecase/channels"
	"tg-activity-bot/internal/usecase/classify"
	"tg-activity-bot/internal/usecase/daterange"
	"tg-activity-bot/internal/usecase/export"
	"tg-activity-bot/internal/usecase/members"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("worker: конфиг")
	}
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)

	var repoAdapter *repo.Postgres
	if cfg.PGDSN != "" {
		pool, err := db.Connect(ctx, cfg.PGDSN)
		if err != nil {
			logger.Fatal().Err(err).Msg("worker: нет подключения к БД")
		}
		defer pool.Close()
		if err := db.Migrate(ctx, pool, applog.Component(logger, "db")); err != nil {
			logger.Fatal().Err(err).Msg("worker: миграции не применены")
		}
		repoAdapter = repo.NewPostgres(pool)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
	}
	jobs, closeQueue, err := queue.Open(cfg.RabbitURL, redisClient, cfg.Queues.Report)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось инициализировать очередь")
	}
	defer closeQueue()

	if cfg.Telegram.Token == "" {
		logger.Fatal().Msg("worker: не указан токен Telegram (TG_BOT_TOKEN)")
	}
	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.Token)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось создать бота")
	}

	if cfg.Telegram.APIID == 0 || cfg.Telegram.APIHash == "" {
		logger.Fatal().Msg("worker: не указаны TG_API_ID и TG_API_HASH")
	}
	var storage telegram.SessionStorage
	switch {
	case cfg.MTProto.SessionFile != "":
		storage = &session.FileStorage{Path: cfg.MTProto.SessionFile}
	case repoAdapter != nil:
		storage = mtproto.NewDBSession(repoAdapter, cfg.MTProto.SessionName, applog.Component(logger, "mtproto"))
	default:
		logger.Fatal().Msg("worker: нужна MTProto-сессия (MTPROTO_SESSION_FILE или PG_DSN)")
	}
	client := mtproto.NewClient(cfg.Telegram.APIID, cfg.Telegram.APIHash, storage, applog.Component(logger, "mtproto"))
	if err := client.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось подключиться к MTProto")
	}

	parser, err := daterange.NewParser(daterange.Config{
		Location: cfg.Location(),
		Grammar:  cfg.Report.DateLayout,
		Relaxed:  cfg.Report.RelaxedDates,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: парсер дат")
	}
	classifier, err := classify.New(classify.Options{
		Categories:              cfg.KeywordCategories(),
		TreatOctetStreamAsImage: cfg.Report.OctetStreamAsImage,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: категории")
	}

	mtLog := applog.Component(logger, "mtproto")
	resolver := mtproto.NewResolver(client.API(), mtLog)
	history := mtproto.NewHistory(client.API(), cfg.MTProto.PageSize, mtLog)
	memberSource := mtproto.NewMembers(client.API(), mtLog)

	outbox := bot.NewOutbox(botAPI, applog.Component(logger, "outbox"))
	sheets := newSheetWriter(ctx, cfg, redisClient, logger)

	var (
		runs   domain.ReportRunRepo
		events domain.BusinessMetricRepo
	)
	if repoAdapter != nil {
		runs, events = repoAdapter, repoAdapter
	}

	activityService := activity.NewService(activity.Deps{
		Channels:   channels.NewService(resolver, cfg.Report.ChannelGroups),
		Parser:     parser,
		Aggregator: activity.NewAggregator(history, classifier, applog.Component(logger, "aggregator")),
		Classifier: classifier,
		Outbox:     outbox,
		Chart:      chart.Bar{Title: "Publications per day"},
		Sheets:     sheets,
		Runs:       runs,
		Events:     events,
	}, activity.ServiceConfig{
		TopN:           cfg.Report.TopN,
		ChunkLimit:     cfg.Report.ChunkLimit,
		ExportMaxBytes: cfg.Report.ExportMaxBytes,
		FetchLimit:     cfg.Report.FetchLimit,
		ProgressEvery:  cfg.Report.ProgressEvery,
		ZoneName:       cfg.TZ,
	}, applog.Component(logger, "activity"))

	membersService := members.NewService(resolver, memberSource, parser, outbox, sheets, runs, members.Config{
		ProgressEvery:  cfg.Report.MemberProgressEvery,
		ChunkLimit:     cfg.Report.ChunkLimit,
		ExportMaxBytes: cfg.Report.ExportMaxBytes,
		ZoneName:       cfg.TZ,
	}, applog.Component(logger, "members"))

	worker := &jobWorker{
		log:   applog.Component(logger, "worker"),
		queue: jobs,
		runners: map[domain.ReportKind]runner{
			domain.ReportKindActivity:   activityService,
			domain.ReportKindRoleExport: membersService,
		},
		retryDelay: time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(client.Wait)
	g.Go(func() error {
		logger.Info().Msg("worker: запуск обработки очереди")
		worker.Run(gctx)
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("worker: MTProto-соединение разорвано")
	}
	logger.Info().Msg("worker: остановлен")
}

// newSheetWriter возвращает nil, если выгрузка в таблицу выключена.
func newSheetWriter(ctx context.Context, cfg config.AppConfig, redisClient *redis.Client, logger zerolog.Logger) *export.SheetWriter {
	if !cfg.Sheets.Enabled {
		return nil
	}
	sheetsLog := applog.Component(logger, "gsheets")
	api, err := gsheets.New(ctx, cfg.Sheets.SheetID, cfg.Sheets.CredentialsFile, sheetsLog)
	if err != nil {
		logger.Error().Err(err).Msg("worker: Google Sheets недоступен, выгрузка в таблицу отключена")
		return nil
	}
	var locker domain.Locker = cache.NewLocalLocker()
	if redisClient != nil {
		locker = cache.NewRedisLocker(redisClient, "tg-activity-bot:sheets:")
	}
	return export.NewSheetWriter(api, locker, export.SheetWriterConfig{
		BatchSize: cfg.Sheets.BatchSize,
		LockTTL:   cfg.Sheets.LockTTL,
	}, sheetsLog)
}
