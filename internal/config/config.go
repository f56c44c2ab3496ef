package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"stakewatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Ledger     LedgerConfig     `mapstructure:"ledger"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	Reconciler ReconcilerConfig `mapstructure:"reconciler"`
	Prices     PricesConfig     `mapstructure:"prices"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Alerting   AlertingConfig   `mapstructure:"alerting"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// LedgerConfig covers on-chain data access.
type LedgerConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	StakingAddress string        `mapstructure:"staking_address"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	TokenDecimals  int32         `mapstructure:"token_decimals"`
	NativeDecimals int32         `mapstructure:"native_decimals"`
}

// SchedulerConfig governs the cadence of the three background jobs.
type SchedulerConfig struct {
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
	APYInterval      time.Duration `mapstructure:"apy_interval"`
	PositionInterval time.Duration `mapstructure:"position_interval"`
	StartupDelay     time.Duration `mapstructure:"startup_delay"`
	AdvisoryLockKey  int64         `mapstructure:"advisory_lock_key"`
}

// ReconcilerConfig bounds the burst of position reads against the RPC endpoint.
type ReconcilerConfig struct {
	Concurrency       int     `mapstructure:"concurrency"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// PricesConfig describes the USD price feed.
type PricesConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	StakedSymbol   string        `mapstructure:"staked_symbol"`
	RewardSymbol   string        `mapstructure:"reward_symbol"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	FallbackTTL    time.Duration `mapstructure:"fallback_ttl"`
	MaxRetries     int           `mapstructure:"max_retries"`
}

// CacheConfig configures the optional redis leaderboard cache.
type CacheConfig struct {
	RedisAddr      string        `mapstructure:"redis_addr"`
	RedisDB        int           `mapstructure:"redis_db"`
	LeaderboardTTL time.Duration `mapstructure:"leaderboard_ttl"`
}

// MetricsConfig configures the prometheus endpoint.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// AlertingConfig defines operator alerting on stale data.
type AlertingConfig struct {
	Enabled        bool           `mapstructure:"enabled"`
	ErrorThreshold int            `mapstructure:"error_threshold"`
	Telegram       TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig holds Telegram bot parameters.
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("STAKEWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	if err := readConfig(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfig(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "stakewatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Keys without a default are invisible to AutomaticEnv during Unmarshal.
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("ledger.rpc_url", "")
	v.SetDefault("ledger.staking_address", "")
	v.SetDefault("ledger.request_timeout", "10s")
	v.SetDefault("ledger.token_decimals", 18)
	v.SetDefault("ledger.native_decimals", 18)

	v.SetDefault("scheduler.snapshot_interval", "2m")
	v.SetDefault("scheduler.apy_interval", "10m")
	v.SetDefault("scheduler.position_interval", "3m")
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.advisory_lock_key", int64(0))

	v.SetDefault("reconciler.concurrency", 1)
	v.SetDefault("reconciler.requests_per_second", 0.0)
	v.SetDefault("reconciler.burst", 1)

	v.SetDefault("prices.base_url", "")
	v.SetDefault("prices.staked_symbol", "STAKE")
	v.SetDefault("prices.reward_symbol", "ETH")
	v.SetDefault("prices.request_timeout", "10s")
	v.SetDefault("prices.fallback_ttl", "24h")
	v.SetDefault("prices.max_retries", 3)

	v.SetDefault("cache.redis_addr", "")
	v.SetDefault("cache.redis_db", 0)
	v.SetDefault("cache.leaderboard_ttl", "2m")

	v.SetDefault("metrics.listen_addr", "")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.error_threshold", 3)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.bot_token", "")
	v.SetDefault("alerting.telegram.chat_id", "")
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")

	v.SetDefault("export.max_data_points", 100000)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Scheduler.SnapshotInterval <= 0 {
		return fmt.Errorf("scheduler.snapshot_interval must be greater than zero")
	}
	if c.Scheduler.APYInterval <= 0 {
		return fmt.Errorf("scheduler.apy_interval must be greater than zero")
	}
	if c.Scheduler.PositionInterval <= 0 {
		return fmt.Errorf("scheduler.position_interval must be greater than zero")
	}
	if c.Ledger.RequestTimeout <= 0 {
		return fmt.Errorf("ledger.request_timeout must be greater than zero")
	}
	if c.Ledger.StakingAddress != "" && !common.IsHexAddress(c.Ledger.StakingAddress) {
		return fmt.Errorf("ledger.staking_address %q is not a valid address", c.Ledger.StakingAddress)
	}
	if c.Ledger.TokenDecimals < 0 || c.Ledger.NativeDecimals < 0 {
		return fmt.Errorf("ledger decimals cannot be negative")
	}
	if c.Reconciler.Concurrency < 1 {
		return fmt.Errorf("reconciler.concurrency must be at least 1")
	}
	if c.Reconciler.RequestsPerSecond < 0 {
		return fmt.Errorf("reconciler.requests_per_second cannot be negative")
	}
	if c.Alerting.ErrorThreshold < 1 {
		return fmt.Errorf("alerting.error_threshold must be at least 1")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token is required")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id is required")
		}
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	return nil
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
