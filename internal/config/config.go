// Package config содержит логику чтения конфигурации системы библиотечной выдачи.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации системы библиотечной выдачи.
type Config struct {
	RunAddress           string        `env:"RUN_ADDRESS"`
	DatabaseURI          string        `env:"DATABASE_URI"`
	NotifierAddress      string        `env:"NOTIFIER_ADDRESS"`
	OverdueSweepInterval time.Duration `env:"OVERDUE_SWEEP_INTERVAL"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envNotifierAddress := cfg.NotifierAddress
	envSweepInterval := cfg.OverdueSweepInterval

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.NotifierAddress, "n", "", "notification service address")
	flag.DurationVar(&cfg.OverdueSweepInterval, "s", time.Hour, "overdue notification sweep interval, 0 disables")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envNotifierAddress != "" {
		cfg.NotifierAddress = envNotifierAddress
	}
	if envSweepInterval != 0 {
		cfg.OverdueSweepInterval = envSweepInterval
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
