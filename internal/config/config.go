// Package config содержит логику чтения конфигурации сервиса лотереи.
package config

import (
	"flag"
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/mmeshcher/event-lottery/internal/model"
)

const (
	defaultRunAddress = "localhost:8080"
	defaultLocale     = "en"
)

// Config содержит параметры конфигурации сервиса лотереи.
type Config struct {
	RunAddress           string             `env:"RUN_ADDRESS"`
	DatabaseURI          string             `env:"DATABASE_URI"`
	NotifyWebhookAddress string             `env:"NOTIFY_WEBHOOK_ADDRESS"`
	SessionSecret        string             `env:"SESSION_SECRET"`
	Locale               string             `env:"LOCALE"`
	DrawStrategy         model.DrawStrategy `env:"DRAW_STRATEGY"`
}

// Parse считывает конфигурацию из .env, переменных окружения и флагов командной строки.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	// .env необязателен: в контейнере переменные приходят из окружения.
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envCfg := *cfg

	var strategy string
	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.NotifyWebhookAddress, "n", "", "notification webhook address")
	flag.StringVar(&cfg.SessionSecret, "s", "", "session cookie signing secret")
	flag.StringVar(&cfg.Locale, "l", defaultLocale, "default notification locale")
	flag.StringVar(&strategy, "strategy", string(model.DrawStrategyFrozen), "draw strategy: frozen or reshuffle")

	flag.Parse()
	cfg.DrawStrategy = model.DrawStrategy(strategy)

	if envCfg.RunAddress != "" {
		cfg.RunAddress = envCfg.RunAddress
	}
	if envCfg.DatabaseURI != "" {
		cfg.DatabaseURI = envCfg.DatabaseURI
	}
	if envCfg.NotifyWebhookAddress != "" {
		cfg.NotifyWebhookAddress = envCfg.NotifyWebhookAddress
	}
	if envCfg.SessionSecret != "" {
		cfg.SessionSecret = envCfg.SessionSecret
	}
	if envCfg.Locale != "" {
		cfg.Locale = envCfg.Locale
	}
	if envCfg.DrawStrategy != "" {
		cfg.DrawStrategy = envCfg.DrawStrategy
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.Locale == "" {
		cfg.Locale = defaultLocale
	}

	switch cfg.DrawStrategy {
	case model.DrawStrategyFrozen, model.DrawStrategyReshuffle:
	case "":
		cfg.DrawStrategy = model.DrawStrategyFrozen
	default:
		return nil, fmt.Errorf("unknown draw strategy %q", cfg.DrawStrategy)
	}

	return cfg, nil
}
