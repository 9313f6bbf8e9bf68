package config

import (
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"tg-activity-bot/internal/domain"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	TZ          string `envconfig:"TZ" default:"Europe/Moscow"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	Telegram struct {
		Token         string `envconfig:"TG_BOT_TOKEN"`
		WebhookURL    string `envconfig:"TG_WEBHOOK_URL"`
		WebhookSecret string `envconfig:"TG_WEBHOOK_SECRET"`
		APIID         int    `envconfig:"TG_API_ID"`
		APIHash       string `envconfig:"TG_API_HASH"`
	} `envconfig:""`

	MTProto struct {
		SessionFile string `envconfig:"MTPROTO_SESSION_FILE"`
		SessionName string `envconfig:"MTPROTO_SESSION_NAME" default:"default"`
		PageSize    int    `envconfig:"MTPROTO_PAGE_SIZE" default:"100"`
	} `envconfig:""`

	PGDSN string `envconfig:"PG_DSN"`

	RedisAddr string `envconfig:"REDIS_ADDR"`

	RabbitURL string `envconfig:"RABBITMQ_URL"`

	Queues struct {
		Report string `envconfig:"REPORT_QUEUE_KEY" default:"report_jobs"`
	} `envconfig:""`

	Report struct {
		DateLayout          string        `envconfig:"DATE_LAYOUT" default:"YYYY-MM-DD"`
		RelaxedDates        bool          `envconfig:"RELAXED_DATES" default:"false"`
		ChannelGroups       ChannelGroups `envconfig:"CHANNEL_GROUPS"`
		Categories          Categories    `envconfig:"CATEGORY_KEYWORDS"`
		OctetStreamAsImage  bool          `envconfig:"OCTET_STREAM_AS_IMAGE" default:"false"`
		FetchLimit          int           `envconfig:"FETCH_LIMIT" default:"0"`
		ProgressEvery       int           `envconfig:"PROGRESS_EVERY" default:"500"`
		MemberProgressEvery int           `envconfig:"MEMBER_PROGRESS_EVERY" default:"100"`
		TopN                int           `envconfig:"TOP_N" default:"10"`
		ChunkLimit          int           `envconfig:"REPORT_CHUNK_LIMIT" default:"4000"`
		ExportMaxBytes      int           `envconfig:"EXPORT_MAX_BYTES" default:"8000000"`
	} `envconfig:""`

	Sheets struct {
		Enabled         bool          `envconfig:"GOOGLE_INTEGRATION" default:"false"`
		SheetID         string        `envconfig:"SHEET_ID"`
		CredentialsFile string        `envconfig:"GOOGLE_CREDENTIALS_FILE" default:"credentials.json"`
		BatchSize       int           `envconfig:"SHEETS_BATCH_SIZE" default:"1000"`
		LockTTL         time.Duration `envconfig:"SHEETS_LOCK_TTL" default:"30s"`
	} `envconfig:""`

	Access struct {
		AllowedUserIDs []int64 `envconfig:"ALLOWED_USER_IDS"`
		AdminRole      string  `envconfig:"ADMIN_ROLE"`
	} `envconfig:""`

	Schedule struct {
		Cron         string   `envconfig:"SCHEDULE_CRON"`
		ChatID       int64    `envconfig:"SCHEDULE_CHAT_ID"`
		Channels     []string `envconfig:"SCHEDULE_CHANNELS"`
		LookbackDays int      `envconfig:"SCHEDULE_LOOKBACK_DAYS" default:"7"`
	} `envconfig:""`
}

// ChannelGroups хранит именованные наборы каналов: «media=photos|videos;news=*».
type ChannelGroups map[string][]string

// Decode реализует envconfig.Decoder.
func (g *ChannelGroups) Decode(value string) error {
	groups, err := parsePairs(value)
	if err != nil {
		return fmt.Errorf("CHANNEL_GROUPS: %w", err)
	}
	*g = groups
	return nil
}

// Names возвращает имена групп по алфавиту.
func (g ChannelGroups) Names() []string {
	names := make([]string, 0, len(g))
	for name := range g {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Categories хранит ключевые слова категорий: «hired=принят|нанят;fired=уволен».
type Categories domain.Categories

// Decode реализует envconfig.Decoder.
func (c *Categories) Decode(value string) error {
	pairs, err := parsePairs(value)
	if err != nil {
		return fmt.Errorf("CATEGORY_KEYWORDS: %w", err)
	}
	*c = Categories(pairs)
	return nil
}

func parsePairs(value string) (map[string][]string, error) {
	out := make(map[string][]string)
	for _, item := range strings.Split(value, ";") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, list, ok := strings.Cut(item, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("ожидали имя=значение1|значение2, получили %q", item)
		}
		var values []string
		for _, v := range strings.Split(list, "|") {
			if v = strings.TrimSpace(v); v != "" {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("пустой список для %q", name)
		}
		out[strings.ToLower(name)] = values
	}
	return out, nil
}

// Location возвращает часовой пояс отчётов.
func (c AppConfig) Location() *time.Location {
	loc, err := time.LoadLocation(c.TZ)
	if err != nil {
		return time.UTC
	}
	return loc
}

// KeywordCategories возвращает категории в доменном типе.
func (c AppConfig) KeywordCategories() domain.Categories {
	return domain.Categories(c.Report.Categories)
}

// Validate проверяет согласованность значений.
func (c AppConfig) Validate() error {
	if _, err := time.LoadLocation(c.TZ); err != nil {
		return fmt.Errorf("TZ %q: %w", c.TZ, err)
	}
	switch c.Report.DateLayout {
	case "YYYY-MM-DD", "DD.MM.YYYY", "DD-MM-YYYY":
	default:
		return fmt.Errorf("DATE_LAYOUT %q: ожидали YYYY-MM-DD, DD.MM.YYYY или DD-MM-YYYY", c.Report.DateLayout)
	}
	if err := c.KeywordCategories().Validate(); err != nil {
		return fmt.Errorf("CATEGORY_KEYWORDS: %w", err)
	}
	if c.Report.ChunkLimit <= 0 || c.Report.ChunkLimit > 4096 {
		return fmt.Errorf("REPORT_CHUNK_LIMIT должен быть в диапазоне 1..4096")
	}
	if c.Sheets.Enabled && c.Sheets.SheetID == "" {
		return errors.New("GOOGLE_INTEGRATION включён, но SHEET_ID пуст")
	}
	if c.Schedule.Cron != "" && c.Schedule.ChatID == 0 {
		return errors.New("SCHEDULE_CRON задан, но SCHEDULE_CHAT_ID пуст")
	}
	return nil
}

// Load загружает конфиг из .env (если есть) и окружения.
func Load() (AppConfig, error) {
	for _, p := range []string{".env.local", ".env"} {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return AppConfig{}, fmt.Errorf("загрузка %s: %w", p, err)
		}
	}
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("не удалось загрузить конфиг: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, fmt.Errorf("некорректный конфиг: %w", err)
	}
	return cfg, nil
}
