// Package config содержит логику чтения конфигурации витрины.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// TelegramConfig — реквизиты бота для уведомлений модерации.
type TelegramConfig struct {
	BotToken string `env:"TELEGRAM_BOT_TOKEN"`
	ChatID   string `env:"TELEGRAM_CHAT_ID"`
	ThreadID int64  `env:"TELEGRAM_THREAD_ID"`
	APIURL   string `env:"TELEGRAM_API_URL" envDefault:"https://api.telegram.org"`
}

// NotifyConfig — политика доставки уведомлений.
type NotifyConfig struct {
	MaxAttempts        int           `env:"NOTIFY_MAX_ATTEMPTS" envDefault:"2"`
	BaseDelay          time.Duration `env:"NOTIFY_BASE_DELAY" envDefault:"1s"`
	RatePerSecond      float64       `env:"NOTIFY_RATE_PER_SEC" envDefault:"1"`
	OutboxPollInterval time.Duration `env:"OUTBOX_POLL_INTERVAL" envDefault:"15s"`
	OutboxMaxAttempts  int           `env:"OUTBOX_MAX_ATTEMPTS" envDefault:"8"`
}

// Config содержит параметры конфигурации витрины.
type Config struct {
	RunAddress       string   `env:"RUN_ADDRESS"`
	DatabaseURI      string   `env:"DATABASE_URI"`
	RedisAddress     string   `env:"REDIS_ADDRESS"`
	CommerceAPIURL   string   `env:"COMMERCE_API_URL"`
	CommerceAppToken string   `env:"COMMERCE_APP_TOKEN"`
	DefaultLocale    string   `env:"DEFAULT_LOCALE"`
	SessionSecret    string   `env:"SESSION_SECRET"`
	AdminEmails      []string `env:"ADMIN_EMAILS" envSeparator:","`

	Telegram TelegramConfig
	Notify   NotifyConfig
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	fromEnv := map[*string]string{
		&cfg.RunAddress:     cfg.RunAddress,
		&cfg.DatabaseURI:    cfg.DatabaseURI,
		&cfg.RedisAddress:   cfg.RedisAddress,
		&cfg.CommerceAPIURL: cfg.CommerceAPIURL,
		&cfg.DefaultLocale:  cfg.DefaultLocale,
	}

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.RedisAddress, "redis", "localhost:6379", "redis address")
	flag.StringVar(&cfg.CommerceAPIURL, "c", "", "commerce backend GraphQL endpoint")
	flag.StringVar(&cfg.DefaultLocale, "l", "ky-KG", "locale used when the request carries none")

	flag.Parse()

	for field, v := range fromEnv {
		if v != "" {
			*field = v
		}
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}
	if cfg.DefaultLocale == "" {
		cfg.DefaultLocale = "ky-KG"
	}

	return cfg, nil
}
