package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"lra"
	"lra/circuit"
	"lra/recovery"
)

// Config is the process configuration. Every key can be overridden by an
// LRA_ environment variable, dots becoming underscores (LRA_REDIS_ADDR).
type Config struct {
	Addr        string `mapstructure:"addr"`
	Root        string `mapstructure:"root"`
	Participant string `mapstructure:"participant"`
	Development bool   `mapstructure:"development"`
	JournalSize int    `mapstructure:"journal_size"`

	Machine  MachineConfig  `mapstructure:"machine"`
	Recovery RecoveryConfig `mapstructure:"recovery"`
	Redis    RedisConfig    `mapstructure:"redis"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
}

type MachineConfig struct {
	CompletionDelay   time.Duration `mapstructure:"completion_delay"`
	CompensationDelay time.Duration `mapstructure:"compensation_delay"`
	WorkTimeout       time.Duration `mapstructure:"work_timeout"`
	IdempotencyTTL    time.Duration `mapstructure:"idempotency_ttl"`
}

type RecoveryConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	LockTTL   time.Duration `mapstructure:"lock_ttl"`
	MaxPasses int           `mapstructure:"max_passes"`
}

type RedisConfig struct {
	// Addr enables the Redis recorder and locker when set.
	Addr             string        `mapstructure:"addr"`
	Password         string        `mapstructure:"password"`
	DB               int           `mapstructure:"db"`
	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerTimeout   time.Duration `mapstructure:"breaker_timeout"`
}

type MySQLConfig struct {
	// DSN enables the MySQL store when set.
	DSN          string        `mapstructure:"dsn"`
	Migrate      bool          `mapstructure:"migrate"`
	PurgeEvery   time.Duration `mapstructure:"purge_every"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
}

func setDefaults(v *viper.Viper) {
	machine := lra.DefaultConfig()
	rec := recovery.DefaultConfig()
	breaker := circuit.DefaultConfig()

	v.SetDefault("addr", ":8080")
	v.SetDefault("root", "/valid-cs-participant1")
	v.SetDefault("participant", "valid-cs-participant1")
	v.SetDefault("development", false)
	v.SetDefault("journal_size", 1000)

	v.SetDefault("machine.completion_delay", machine.CompletionDelay)
	v.SetDefault("machine.compensation_delay", machine.CompensationDelay)
	v.SetDefault("machine.work_timeout", machine.WorkTimeout)
	v.SetDefault("machine.idempotency_ttl", machine.IdempotencyTTL)

	v.SetDefault("recovery.enabled", true)
	v.SetDefault("recovery.interval", rec.RecoveryInterval)
	v.SetDefault("recovery.lock_ttl", rec.LockTTL)
	v.SetDefault("recovery.max_passes", rec.MaxPasses)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.breaker_threshold", breaker.Threshold)
	v.SetDefault("redis.breaker_timeout", breaker.Timeout)

	v.SetDefault("mysql.dsn", "")
	v.SetDefault("mysql.migrate", true)
	v.SetDefault("mysql.purge_every", time.Hour)
	v.SetDefault("mysql.max_open_conns", 10)
}

// LoadConfig reads defaults, the optional config file at path and the
// environment, in increasing precedence.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the parts of the configuration no component validates itself.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr is required", lra.ErrInvalidConfig)
	}
	if c.JournalSize < 0 {
		return fmt.Errorf("%w: journal_size cannot be negative", lra.ErrInvalidConfig)
	}
	if c.Redis.Addr != "" && c.Redis.BreakerThreshold <= 0 {
		return fmt.Errorf("%w: redis.breaker_threshold must be positive", lra.ErrInvalidConfig)
	}
	return nil
}

// MachineOptions converts the machine section to machine options.
func (c *Config) MachineOptions() []lra.Option {
	return []lra.Option{
		lra.WithParticipant(c.Participant),
		lra.WithCompletionDelay(c.Machine.CompletionDelay),
		lra.WithCompensationDelay(c.Machine.CompensationDelay),
		lra.WithWorkTimeout(c.Machine.WorkTimeout),
		lra.WithIdempotencyTTL(c.Machine.IdempotencyTTL),
	}
}

// RecoveryWorkerConfig converts the recovery section.
func (c *Config) RecoveryWorkerConfig() recovery.Config {
	return recovery.Config{
		RecoveryInterval: c.Recovery.Interval,
		LockTTL:          c.Recovery.LockTTL,
		MaxPasses:        c.Recovery.MaxPasses,
	}
}

// BreakerConfig converts the redis breaker settings.
func (c *Config) BreakerConfig() circuit.Config {
	cfg := circuit.DefaultConfig()
	cfg.Threshold = c.Redis.BreakerThreshold
	cfg.Timeout = c.Redis.BreakerTimeout
	return cfg
}
