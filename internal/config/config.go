package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/shaiso/Flowy/internal/repo"
)

// Поддерживаемые хранилища.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config: настройки процессов flowy.
//
// Значения берутся из переменных окружения (DB_URL, STORE_DRIVER, ...),
// необязательного файла конфигурации и значений по умолчанию, в таком
// порядке приоритета.
type Config struct {
	StoreDriver string `mapstructure:"store_driver"`
	SQLitePath  string `mapstructure:"sqlite_path"`
	DBURL       string `mapstructure:"db_url"`

	// RabbitMQURL: пустое значение отключает AMQP.
	RabbitMQURL string `mapstructure:"rabbitmq_url"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	DefinitionsDir string `mapstructure:"definitions_dir"`

	PollInterval     time.Duration `mapstructure:"poll_interval"`
	BatchSize        int           `mapstructure:"batch_size"`
	Concurrency      int           `mapstructure:"concurrency"`
	MaxStepsPerCycle int           `mapstructure:"max_steps_per_cycle"`
	ClaimTimeout     time.Duration `mapstructure:"claim_timeout"`

	MetricsAddr string `mapstructure:"metrics_addr"`

	SweepSchedule    string `mapstructure:"sweep_schedule"`
	SweepAutoRetry   bool   `mapstructure:"sweep_auto_retry"`
	SweepMaxAttempts int    `mapstructure:"sweep_max_attempts"`
}

var defaults = map[string]any{
	"store_driver":        DriverSQLite,
	"sqlite_path":         "flowy.db",
	"db_url":              repo.DefaultDSN,
	"rabbitmq_url":        "",
	"log_level":           "info",
	"log_format":          "json",
	"definitions_dir":     "definitions",
	"poll_interval":       "5s",
	"batch_size":          50,
	"concurrency":         4,
	"max_steps_per_cycle": 100,
	"claim_timeout":       "5m",
	"metrics_addr":        ":8082",
	"sweep_schedule":      "@every 1m",
	"sweep_auto_retry":    false,
	"sweep_max_attempts":  3,
}

// Load читает конфигурацию. path: необязательный файл (yaml, json, toml);
// если он задан, но не читается, возвращается ошибка.
func Load(path string) (*Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	// Ключи совпадают с именами переменных в нижнем регистре
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет согласованность значений.
func (c *Config) Validate() error {
	var errs []error

	switch c.StoreDriver {
	case DriverMemory, DriverSQLite, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("store_driver: unknown driver %q", c.StoreDriver))
	}
	if c.StoreDriver == DriverSQLite && c.SQLitePath == "" {
		errs = append(errs, errors.New("sqlite_path: required for sqlite driver"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll_interval: must be positive"))
	}
	if c.BatchSize <= 0 {
		errs = append(errs, errors.New("batch_size: must be positive"))
	}
	if c.Concurrency <= 0 {
		errs = append(errs, errors.New("concurrency: must be positive"))
	}
	if c.MaxStepsPerCycle <= 0 {
		errs = append(errs, errors.New("max_steps_per_cycle: must be positive"))
	}
	if c.SweepMaxAttempts <= 0 {
		errs = append(errs, errors.New("sweep_max_attempts: must be positive"))
	}

	return errors.Join(errs...)
}

// AMQPEnabled сообщает, задан ли брокер.
func (c *Config) AMQPEnabled() bool {
	return c.RabbitMQURL != ""
}
