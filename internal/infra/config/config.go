package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig describes the configuration shared by every binary.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`
	PublicURL   string `envconfig:"PUBLIC_URL" default:"http://localhost:8080"`

	StorageDriver string `envconfig:"STORAGE_DRIVER" default:"postgres"`
	PGDSN         string `envconfig:"PG_DSN"`
	RedisAddr     string `envconfig:"REDIS_ADDR"`

	Postgres struct {
		MaxConns     int32         `envconfig:"PG_MAX_CONNS" default:"10"`
		ConnLifetime time.Duration `envconfig:"PG_CONN_LIFETIME" default:"30m"`
	} `envconfig:""`

	Pricing struct {
		Tier1Daily  int64 `envconfig:"PRICE_TIER1_DAILY" default:"10000"`
		Tier1Weekly int64 `envconfig:"PRICE_TIER1_WEEKLY" default:"25000"`
		Tier2Daily  int64 `envconfig:"PRICE_TIER2_DAILY" default:"15000"`
		Tier2Weekly int64 `envconfig:"PRICE_TIER2_WEEKLY" default:"35000"`
		Tier3Daily  int64 `envconfig:"PRICE_TIER3_DAILY" default:"20000"`
		Tier3Weekly int64 `envconfig:"PRICE_TIER3_WEEKLY" default:"50000"`
	} `envconfig:""`

	Booking struct {
		WeeklyDay     string        `envconfig:"WEEKLY_DAY" default:"sunday"`
		HorizonMonths int           `envconfig:"BOOKING_HORIZON_MONTHS" default:"6"`
		OrderTimeout  time.Duration `envconfig:"ORDER_TIMEOUT" default:"30m"`
		SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"1m"`
		SweepBatch    int           `envconfig:"SWEEP_BATCH" default:"100"`
		InlineSweep   bool          `envconfig:"INLINE_SWEEP" default:"true"`
		CacheTTL      time.Duration `envconfig:"AVAILABILITY_CACHE_TTL" default:"30s"`
	} `envconfig:""`

	Payments struct {
		BaseURL       string        `envconfig:"PAYMENTS_BASE_URL" default:"https://api.stripe.com"`
		APIKey        string        `envconfig:"PAYMENTS_API_KEY"`
		WebhookSecret string        `envconfig:"PAYMENTS_WEBHOOK_SECRET"`
		WebhookSkew   time.Duration `envconfig:"PAYMENTS_WEBHOOK_TOLERANCE" default:"5m"`
		Currency      string        `envconfig:"PAYMENTS_CURRENCY" default:"usd"`
		SuccessURL    string        `envconfig:"PAYMENTS_SUCCESS_URL" default:"http://localhost:3000/advertise/success"`
		CancelURL     string        `envconfig:"PAYMENTS_CANCEL_URL" default:"http://localhost:3000/advertise/cancel"`
		Timeout       time.Duration `envconfig:"PAYMENTS_TIMEOUT" default:"15s"`
	} `envconfig:""`

	Feed struct {
		Cadence int `envconfig:"FEED_CADENCE" default:"3"`
	} `envconfig:""`

	Catalog struct {
		File string `envconfig:"CATALOG_FILE" default:"configs/catalog.yaml"`
	} `envconfig:""`

	Admin struct {
		Token string `envconfig:"ADMIN_TOKEN"`
	} `envconfig:""`

	Queues struct {
		Driver     string `envconfig:"OPS_QUEUE_DRIVER" default:"redis"`
		OpsKey     string `envconfig:"OPS_QUEUE_KEY" default:"ops_tasks"`
		AMQPURL    string `envconfig:"AMQP_URL"`
		MaxAttempt int    `envconfig:"OPS_MAX_ATTEMPTS" default:"5"`
	} `envconfig:""`

	Telegram struct {
		Token     string `envconfig:"TG_BOT_TOKEN"`
		OpsChatID int64  `envconfig:"TG_OPS_CHAT_ID"`
	} `envconfig:""`
}

// Load reads the configuration from the environment.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

// Weekday parses WEEKLY_DAY.
func (c AppConfig) Weekday() (time.Weekday, error) {
	name := strings.ToLower(strings.TrimSpace(c.Booking.WeeklyDay))
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.ToLower(d.String()) == name {
			return d, nil
		}
	}
	return time.Sunday, fmt.Errorf("unknown weekday %q", c.Booking.WeeklyDay)
}
