// File: internal/config/config.go
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type WebConfig struct {
	Port        int    `yaml:"port"`
	BaseURL     string `yaml:"base_url"` // public base URL for redirect/postback links
	SuccessPath string `yaml:"success_path"`
	ErrorPath   string `yaml:"error_path"`
}

type AdminConfig struct {
	Port      int    `yaml:"port"`
	JWTSecret string `yaml:"jwt_secret"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type BetterPayConfig struct {
	APIDomain   string `yaml:"api_domain"`
	APIKey      string `yaml:"api_key"`
	IncomingKey string `yaml:"incoming_key"`
	OutgoingKey string `yaml:"outgoing_key"`
	TestMode    bool   `yaml:"test_mode"`
}

type PaymentsConfig struct {
	Backend         string        `yaml:"backend"`           // betterpay | noop
	MinimumCents    int64         `yaml:"minimum_cents"`
	MaximumCents    int64         `yaml:"maximum_cents"`
	Currency        string        `yaml:"currency"`
	RetryCeiling    int           `yaml:"retry_ceiling"`     // failed recurring attempts before suspend
	SettleGrace     time.Duration `yaml:"settle_grace"`      // how long a pending last payment stays tolerated
	RecentPaidGuard time.Duration `yaml:"recent_paid_guard"` // refuse new payments within this window of a paid one
	SumWindow       time.Duration `yaml:"sum_window"`        // window for the paid-sum safety check
	RatePerMinute   int           `yaml:"rate_per_minute"`   // payment initiations per user per minute
	AllowPostponed  bool          `yaml:"allow_postponed"`
	// InstantMethods settle at initiation time rather than via postback.
	InstantMethods []string        `yaml:"instant_methods"`
	BetterPay      BetterPayConfig `yaml:"betterpay"`
}

type InvoiceConfig struct {
	Backend string `yaml:"backend"` // http | noop
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
}

type NotifyConfig struct {
	TelegramToken  string   `yaml:"telegram_token"`
	TelegramChatID int64    `yaml:"telegram_chat_id"`
	OperatorEmails []string `yaml:"operator_emails"`
}

type SecurityConfig struct {
	// TokenKey encrypts stored mandate tokens at rest. 16, 24 or 32 bytes;
	// empty disables encryption (development only).
	TokenKey string `yaml:"token_key"`
}

type SweepConfig struct {
	Interval  time.Duration `yaml:"interval"`
	LockTTL   time.Duration `yaml:"lock_ttl"`
	BatchSize int           `yaml:"batch_size"`
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Web      WebConfig      `yaml:"web"`
	Admin    AdminConfig    `yaml:"admin"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Payments PaymentsConfig `yaml:"payments"`
	Invoice  InvoiceConfig  `yaml:"invoice"`
	Notify   NotifyConfig   `yaml:"notify"`
	Security SecurityConfig `yaml:"security"`
	Sweep    SweepConfig    `yaml:"sweep"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig() (*Config, error) {
	var configPath string = ""
	var dev bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()

	b, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	// defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Web.Port <= 0 {
		cfg.Web.Port = 8080
	}
	if cfg.Web.SuccessPath == "" {
		cfg.Web.SuccessPath = "/payment/success"
	}
	if cfg.Web.ErrorPath == "" {
		cfg.Web.ErrorPath = "/payment/error"
	}
	if cfg.Payments.Backend == "" {
		cfg.Payments.Backend = "betterpay"
	}
	if cfg.Payments.MinimumCents <= 0 {
		cfg.Payments.MinimumCents = 100 // 1.00
	}
	if cfg.Payments.MaximumCents <= 0 {
		cfg.Payments.MaximumCents = 60000 // 600.00
	}
	if cfg.Payments.Currency == "" {
		cfg.Payments.Currency = "EUR"
	}
	if cfg.Payments.RetryCeiling <= 0 {
		cfg.Payments.RetryCeiling = 3
	}
	if cfg.Payments.SettleGrace <= 0 {
		cfg.Payments.SettleGrace = 72 * time.Hour
	}
	if cfg.Payments.RecentPaidGuard <= 0 {
		cfg.Payments.RecentPaidGuard = 14 * 24 * time.Hour
	}
	if cfg.Payments.SumWindow <= 0 {
		cfg.Payments.SumWindow = 28 * 24 * time.Hour
	}
	if cfg.Payments.RatePerMinute <= 0 {
		cfg.Payments.RatePerMinute = 5
	}
	if len(cfg.Payments.InstantMethods) == 0 {
		cfg.Payments.InstantMethods = []string{"dd"}
	}
	if cfg.Sweep.Interval <= 0 {
		cfg.Sweep.Interval = time.Hour
	}
	if cfg.Sweep.LockTTL <= 0 {
		cfg.Sweep.LockTTL = 30 * time.Minute
	}
	if cfg.Sweep.BatchSize <= 0 {
		cfg.Sweep.BatchSize = 500
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.Payments.Backend == "betterpay" {
		bp := cfg.Payments.BetterPay
		if bp.APIDomain == "" || bp.APIKey == "" || bp.IncomingKey == "" || bp.OutgoingKey == "" {
			return nil, errors.New("payments.betterpay credentials are required")
		}
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
