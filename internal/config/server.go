package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// MinSecretLength минимальная длина секрета для подписи токенов
const MinSecretLength = 16

// RateLimit ограничение частоты запросов на один IP
type RateLimit struct {
	RPS   float64 `mapstructure:"rps" yaml:"rps"`
	Burst int     `mapstructure:"burst" yaml:"burst"`
}

// Server настройки сервера синхронизации
type Server struct {
	Addr            string        `mapstructure:"addr" yaml:"addr"`
	DBPath          string        `mapstructure:"db_path" yaml:"db_path"`
	JWTSecret       string        `mapstructure:"jwt_secret" yaml:"-"`
	Logging         Logging       `mapstructure:"log" yaml:"log"`
	RateLimit       RateLimit     `mapstructure:"rate_limit" yaml:"rate_limit"`
	TokenTTL        time.Duration `mapstructure:"token_ttl" yaml:"token_ttl"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// ServerFlags имена флагов командной строки сервера
var ServerFlags = map[string]string{
	"addr":      "addr",
	"db":        "db_path",
	"log-level": "log.level",
}

func setServerDefaults(v *viper.Viper) {
	v.SetDefault("addr", ":8080")
	v.SetDefault("db_path", "offsync-server.db")
	v.SetDefault("jwt_secret", "")
	v.SetDefault("token_ttl", 30*24*time.Hour)
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.SetDefault("rate_limit.rps", 10.0)
	v.SetDefault("rate_limit.burst", 20)
	setLoggingDefaults(v)
}

// LoadServer читает настройки сервера
func LoadServer(file string, flags *pflag.FlagSet) (*Server, error) {
	v, err := newViper(file, "server")
	if err != nil {
		return nil, err
	}
	setServerDefaults(v)

	if err := bindFlags(v, flags, ServerFlags); err != nil {
		return nil, err
	}

	var cfg Server
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("%w: db_path is required", ErrInvalidConfig)
	}
	return &cfg, nil
}

// ValidateAuth проверяет настройки выпуска и проверки токенов
func (s *Server) ValidateAuth() error {
	if len(s.JWTSecret) < MinSecretLength {
		return fmt.Errorf("%w: jwt_secret must be at least %d characters", ErrInvalidConfig, MinSecretLength)
	}
	if s.TokenTTL <= 0 {
		return fmt.Errorf("%w: token_ttl must be positive", ErrInvalidConfig)
	}
	return nil
}
