package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/iudanet/offsync/internal/models"
	"github.com/iudanet/offsync/internal/validation"
)

// Client настройки клиента синхронизации
type Client struct {
	ServerURL        string        `mapstructure:"server_url" yaml:"server_url"`
	DBPath           string        `mapstructure:"db_path" yaml:"db_path"`
	Token            string        `mapstructure:"token" yaml:"-"`
	UserID           string        `mapstructure:"user_id" yaml:"user_id"`
	Strategy         string        `mapstructure:"strategy" yaml:"strategy"`
	Logging          Logging       `mapstructure:"log" yaml:"log"`
	Retry            Retry         `mapstructure:"retry" yaml:"retry"`
	BatchSize        int           `mapstructure:"batch_size" yaml:"batch_size"`
	TransportTimeout time.Duration `mapstructure:"transport_timeout" yaml:"transport_timeout"`
	SyncInterval     time.Duration `mapstructure:"sync_interval" yaml:"sync_interval"`
	ProbeInterval    time.Duration `mapstructure:"probe_interval" yaml:"probe_interval"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
	GCRetention      time.Duration `mapstructure:"gc_retention" yaml:"gc_retention"`
	PullWhenIdle     bool          `mapstructure:"pull_when_idle" yaml:"pull_when_idle"`
}

// ClientFlags имена флагов командной строки, которые перекрывают ключи конфигурации
var ClientFlags = map[string]string{
	"server":    "server_url",
	"db":        "db_path",
	"token":     "token",
	"user":      "user_id",
	"strategy":  "strategy",
	"log-level": "log.level",
}

func setClientDefaults(v *viper.Viper) {
	v.SetDefault("server_url", "http://localhost:8080")
	v.SetDefault("db_path", "offsync-client.db")
	v.SetDefault("token", "")
	v.SetDefault("user_id", "")
	v.SetDefault("strategy", string(models.StrategyLastWriteWins))
	v.SetDefault("batch_size", 100)
	v.SetDefault("transport_timeout", 30*time.Second)
	v.SetDefault("sync_interval", time.Minute)
	v.SetDefault("probe_interval", 10*time.Second)
	v.SetDefault("probe_timeout", 3*time.Second)
	v.SetDefault("gc_retention", 7*24*time.Hour)
	v.SetDefault("pull_when_idle", false)
	v.SetDefault("retry.max_retries", 5)
	v.SetDefault("retry.initial_delay", time.Second)
	v.SetDefault("retry.max_delay", 30*time.Second)
	v.SetDefault("retry.multiplier", 2.0)
	setLoggingDefaults(v)
}

// LoadClient читает настройки клиента. flags может быть nil; установленные флаги
// из ClientFlags имеют приоритет над файлом и окружением.
func LoadClient(file string, flags *pflag.FlagSet) (*Client, error) {
	v, err := newViper(file, "client")
	if err != nil {
		return nil, err
	}
	setClientDefaults(v)

	if err := bindFlags(v, flags, ClientFlags); err != nil {
		return nil, err
	}

	var cfg Client
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет согласованность настроек
func (c *Client) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("%w: server_url is required", ErrInvalidConfig)
	}
	if c.DBPath == "" {
		return fmt.Errorf("%w: db_path is required", ErrInvalidConfig)
	}
	if c.UserID != "" {
		if err := validation.ValidateUserID(c.UserID); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	if !models.Strategy(c.Strategy).Valid() {
		return fmt.Errorf("%w: unknown strategy %q", ErrInvalidConfig, c.Strategy)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("%w: batch_size must be positive", ErrInvalidConfig)
	}
	if c.SyncInterval <= 0 {
		return fmt.Errorf("%w: sync_interval must be positive", ErrInvalidConfig)
	}
	if _, err := c.Retry.Policy(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// bindFlags привязывает флаги к ключам viper
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, names map[string]string) error {
	if flags == nil {
		return nil
	}
	for flag, key := range names {
		f := flags.Lookup(flag)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("failed to bind flag %s: %w", flag, err)
		}
	}
	return nil
}
