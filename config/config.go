package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Log      LogConfig      `mapstructure:"log"`
	Escrow   EscrowConfig   `mapstructure:"escrow"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

// RedisConfig configures the cache, nonce, rate-limit and lock store.
// OpTimeout is kept short: every Redis call is best-effort and must not stall a request.
type RedisConfig struct {
	Host      string        `mapstructure:"host"`
	Port      int           `mapstructure:"port"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	PoolSize  int           `mapstructure:"pool_size"`
	OpTimeout time.Duration `mapstructure:"op_timeout"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

type JWTConfig struct {
	Secret string        `mapstructure:"secret"`
	Expiry time.Duration `mapstructure:"expiry"`
	Issuer string        `mapstructure:"issuer"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// EscrowConfig controls settlement: the platform cut, the hold period and the release loop.
type EscrowConfig struct {
	CommissionPercent float64       `mapstructure:"commission_percent"`
	HoldHours         int           `mapstructure:"hold_hours"`
	ReleaseInterval   time.Duration `mapstructure:"release_interval"`
	ReleaseBatchSize  int           `mapstructure:"release_batch_size"`
	SchedulerLockTTL  time.Duration `mapstructure:"scheduler_lock_ttl"`
	CronSecret        string        `mapstructure:"cron_secret"`
	WalletRecentLimit int           `mapstructure:"wallet_recent_limit"`
}

// Commission returns the configured percentage as a decimal.
func (e EscrowConfig) Commission() decimal.Decimal {
	return decimal.NewFromFloat(e.CommissionPercent)
}

// Validate rejects settings the escrow core cannot run with.
func (e EscrowConfig) Validate() error {
	if e.CommissionPercent < 0 || e.CommissionPercent > 100 {
		return fmt.Errorf("escrow.commission_percent must be within [0,100], got %v", e.CommissionPercent)
	}
	if e.HoldHours < 0 {
		return fmt.Errorf("escrow.hold_hours must not be negative, got %d", e.HoldHours)
	}
	if e.ReleaseBatchSize <= 0 {
		return fmt.Errorf("escrow.release_batch_size must be positive, got %d", e.ReleaseBatchSize)
	}
	return nil
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: NME_ (Notes Marketplace Escrow).
// Nested keys use underscore: NME_DATABASE_HOST, NME_ESCROW_HOLD_HOURS, etc.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "notes_marketplace")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)
	v.SetDefault("redis.op_timeout", "250ms")
	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry", "24h")
	v.SetDefault("jwt.issuer", "notes-marketplace")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("escrow.commission_percent", 10)
	v.SetDefault("escrow.hold_hours", 48)
	v.SetDefault("escrow.release_interval", "15m")
	v.SetDefault("escrow.release_batch_size", 100)
	v.SetDefault("escrow.scheduler_lock_ttl", "5m")
	v.SetDefault("escrow.cron_secret", "")
	v.SetDefault("escrow.wallet_recent_limit", 20)

	// File config
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables: NME_DATABASE_HOST -> database.host
	v.SetEnvPrefix("NME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (not required, env vars can suffice)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Escrow.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}
