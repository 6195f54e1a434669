package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/go-playground/validator"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"

	"challenge-bot/internal/funnel"
	"challenge-bot/internal/ledger"
	"challenge-bot/internal/models"
)

const (
	EnvLocal = "local"
	EnvDev   = "dev"
	EnvProd  = "prod"
)

var secretPath = "/run/secrets/telegram_bot_token"

type Config struct {
	Env           string `yaml:"env" env:"ENV" env-default:"local" validate:"oneof=local dev prod"`
	StoragePath   string `yaml:"storage_path" env:"STORAGE_PATH" env-default:"bot.db" validate:"required"`
	TelegramToken string `yaml:"-" env:"TELEGRAM_BOT_TOKEN"`
	// Admins receive payment notices and may run admin commands.
	Admins        []int64 `yaml:"admins" env:"ADMIN_IDS" env-separator:","`
	ClubChannelID int64   `yaml:"club_channel_id" env:"CLUB_CHANNEL_ID"`

	Funnel     Funnel     `yaml:"funnel"`
	Schedule   Schedule   `yaml:"schedule"`
	YooKassa   YooKassa   `yaml:"yookassa"`
	Promo      Promo      `yaml:"promo"`
	Tariffs    Tariffs    `yaml:"tariffs"`
	HTTPServer HTTPServer `yaml:"http_server"`
	Redis      Redis      `yaml:"redis"`
}

type Funnel struct {
	Days      int `yaml:"days" env:"FUNNEL_DAYS" env-default:"3" validate:"min=1,max=30"`
	MinAge    int `yaml:"min_age" env:"FUNNEL_MIN_AGE" env-default:"3" validate:"min=1"`
	MaxAge    int `yaml:"max_age" env:"FUNNEL_MAX_AGE" env-default:"7" validate:"gtefield=MinAge"`
	LowMaxAge int `yaml:"low_max_age" env:"FUNNEL_LOW_MAX_AGE" env-default:"4"`
	MidMaxAge int `yaml:"mid_max_age" env:"FUNNEL_MID_MAX_AGE" env-default:"6" validate:"gtefield=LowMaxAge"`
}

type Schedule struct {
	TimeZone  string        `yaml:"time_zone" env:"SCHEDULE_TZ" env-default:"Europe/Moscow"`
	MorningAt string        `yaml:"morning_at" env:"SCHEDULE_MORNING_AT" env-default:"09:00" validate:"required"`
	EveningAt string        `yaml:"evening_at" env:"SCHEDULE_EVENING_AT" env-default:"20:00" validate:"required"`
	SendEvery time.Duration `yaml:"send_every" env:"SCHEDULE_SEND_EVERY" env-default:"500ms"`
}

type YooKassa struct {
	ShopID        string        `yaml:"shop_id" env:"YOOKASSA_SHOP_ID"`
	SecretKey     string        `yaml:"secret_key" env:"YOOKASSA_SECRET_KEY"`
	APIURL        string        `yaml:"api_url" env:"YOOKASSA_API_URL" env-default:"https://api.yookassa.ru/v3"`
	ReturnURL     string        `yaml:"return_url" env:"YOOKASSA_RETURN_URL" env-default:"https://t.me"`
	WebhookSecret string        `yaml:"webhook_secret" env:"YOOKASSA_WEBHOOK_SECRET"`
	Timeout       time.Duration `yaml:"timeout" env:"YOOKASSA_TIMEOUT" env-default:"30s"`
	MaxRetries    int           `yaml:"max_retries" env:"YOOKASSA_MAX_RETRIES" env-default:"2" validate:"min=0,max=10"`
	RetryBackoff  time.Duration `yaml:"retry_backoff" env:"YOOKASSA_RETRY_BACKOFF" env-default:"2s"`
}

// Promo is the code upserted at startup and sent with the final offer.
type Promo struct {
	Code     string `yaml:"code" env:"PROMO_CODE" env-default:"CHALLENGE50"`
	Discount int    `yaml:"discount" env:"PROMO_DISCOUNT" env-default:"50" validate:"min=1,max=99"`
	Hours    int    `yaml:"hours" env:"PROMO_HOURS" env-default:"48" validate:"min=1"`
	Base     string `yaml:"base" env:"PROMO_BASE_TARIFF" env-default:"1month" validate:"required"`
}

type Tariff struct {
	Code     string `yaml:"code" validate:"required"`
	Name     string `yaml:"name" validate:"required"`
	Days     int    `yaml:"days" validate:"min=1"`
	Price    int    `yaml:"price" validate:"min=1"`
	OldPrice int    `yaml:"old_price"`
}

// Tariffs left empty fall back to the built-in price lists.
type Tariffs struct {
	Standard []Tariff `yaml:"standard" validate:"dive"`
	Funnel   []Tariff `yaml:"funnel" validate:"dive"`
}

type HTTPServer struct {
	Address      string        `yaml:"address" env:"HTTP_ADDRESS" env-default:":8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"HTTP_READ_TIMEOUT" env-default:"5s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"HTTP_WRITE_TIMEOUT" env-default:"10s"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"HTTP_IDLE_TIMEOUT" env-default:"60s"`
}

// Redis is optional; without an address the debouncer is in-memory.
type Redis struct {
	Address     string        `yaml:"address" env:"REDIS_ADDRESS"`
	Password    string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB          int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	DialTimeout time.Duration `yaml:"dial_timeout" env:"REDIS_DIAL_TIMEOUT" env-default:"2s"`
	Timeout     time.Duration `yaml:"timeout" env:"REDIS_TIMEOUT" env-default:"1s"`
	DebounceTTL time.Duration `yaml:"debounce_ttl" env:"DEBOUNCE_TTL" env-default:"1s"`
}

// Load reads .env, then the YAML file from CONFIG_PATH (or the environment
// alone), then the bot token.
func Load() (*Config, error) {
	const op = "config.Load"

	_ = godotenv.Load()

	var cfg Config
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("%s: config file %s: %w", op, path, err)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if token := readSecret(secretPath); token != "" {
		cfg.TelegramToken = token
	}
	cfg.TelegramToken = strings.TrimSpace(cfg.TelegramToken)
	if cfg.TelegramToken == "" {
		return nil, fmt.Errorf("%s: bot token not found: neither docker secret nor TELEGRAM_BOT_TOKEN", op)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if _, err := cfg.Location(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if _, err := cfg.LedgerTariffs(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("❌ cannot load config: %s", err)
	}
	return cfg
}

func readSecret(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Schedule.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("time zone %q: %w", c.Schedule.TimeZone, err)
	}
	return loc, nil
}

func (c *Config) FunnelConfig() funnel.Config {
	cfg := funnel.DefaultConfig()
	cfg.Days = c.Funnel.Days
	cfg.MinAge, cfg.MaxAge = c.Funnel.MinAge, c.Funnel.MaxAge
	cfg.LowMaxAge, cfg.MidMaxAge = c.Funnel.LowMaxAge, c.Funnel.MidMaxAge
	return cfg
}

func (c *Config) LedgerConfig() ledger.Config {
	return ledger.Config{
		Currency:     "RUB",
		ReturnURL:    c.YooKassa.ReturnURL,
		Timeout:      c.YooKassa.Timeout,
		MaxRetries:   c.YooKassa.MaxRetries,
		RetryBackoff: c.YooKassa.RetryBackoff,
		PromoBase:    c.Promo.Base,
	}
}

var errPromoBase = errors.New("promo base tariff is not in the funnel table")

func (c *Config) LedgerTariffs() (ledger.Tariffs, error) {
	standard, funnelTable := ledger.DefaultStandard(), ledger.DefaultFunnel()
	if len(c.Tariffs.Standard) > 0 {
		standard = toModels(c.Tariffs.Standard)
	}
	if len(c.Tariffs.Funnel) > 0 {
		funnelTable = toModels(c.Tariffs.Funnel)
	}
	t, err := ledger.NewTariffs(standard, funnelTable)
	if err != nil {
		return ledger.Tariffs{}, err
	}
	if _, err := t.Lookup(ledger.TableFunnel, c.Promo.Base); err != nil {
		return ledger.Tariffs{}, fmt.Errorf("%w: %q", errPromoBase, c.Promo.Base)
	}
	return t, nil
}

func toModels(in []Tariff) []models.Tariff {
	out := make([]models.Tariff, 0, len(in))
	for _, t := range in {
		out = append(out, models.Tariff{Code: t.Code, Name: t.Name, Days: t.Days, Price: t.Price, OldPrice: t.OldPrice})
	}
	return out
}
