// Package config загружает настройки клиента и сервера через viper:
// YAML файл, переменные окружения OFFSYNC_* и значения по умолчанию.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/iudanet/offsync/internal/retry"
)

// EnvPrefix префикс переменных окружения
const EnvPrefix = "OFFSYNC"

// ErrInvalidConfig настройки некорректны
var ErrInvalidConfig = errors.New("invalid configuration")

// Logging настройки логирования
type Logging struct {
	Level      string `mapstructure:"level" yaml:"level"`
	Format     string `mapstructure:"format" yaml:"format"`
	File       string `mapstructure:"file" yaml:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// Retry параметры политики повторов
type Retry struct {
	InitialDelay time.Duration `mapstructure:"initial_delay" yaml:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay" yaml:"max_delay"`
	Multiplier   float64       `mapstructure:"multiplier" yaml:"multiplier"`
	MaxRetries   int           `mapstructure:"max_retries" yaml:"max_retries"`
}

// Policy строит retry.Policy
func (r Retry) Policy() (retry.Policy, error) {
	return retry.NewPolicy(r.MaxRetries, r.InitialDelay, r.MaxDelay, r.Multiplier)
}

// newViper создает экземпляр с общими правилами окружения и файла конфигурации
func newViper(file, name string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetConfigType("yaml")

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName(name)
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.offsync")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// явно указанный файл обязан существовать
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return v, nil
}

func setLoggingDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 28)
}
