package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"pricewatch/internal/logging"
)

// Config materialises application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Logging   logging.Config  `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Feed      FeedConfig      `mapstructure:"feed"`
	Ethereum  EthereumConfig  `mapstructure:"ethereum"`
	Assets    []AssetConfig   `mapstructure:"assets"`
	History   HistoryConfig   `mapstructure:"history"`
	Alerting  AlertingConfig  `mapstructure:"alerting"`
	Alerts    []AlertConfig   `mapstructure:"alerts"`
	Export    ExportConfig    `mapstructure:"export"`
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
	MigrationsPath  string        `mapstructure:"migrations_path"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
}

// RedisConfig enables the recent-sample mirror.
type RedisConfig struct {
	Addr         string        `mapstructure:"addr"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	KeyPrefix    string        `mapstructure:"key_prefix"`
	MaxLen       int           `mapstructure:"max_len"`
}

// SchedulerConfig governs sampling cadence.
type SchedulerConfig struct {
	AlignToBucket   bool          `mapstructure:"align_to_bucket"`
	AdvisoryLockKey int64         `mapstructure:"advisory_lock_key"`
	StartupDelay    time.Duration `mapstructure:"startup_delay"`
	DefaultInterval time.Duration `mapstructure:"default_interval"`
}

// FeedConfig covers the HTTP price source.
type FeedConfig struct {
	Source         string        `mapstructure:"source"`
	BaseURL        string        `mapstructure:"base_url"`
	APIKey         string        `mapstructure:"api_key"`
	VsCurrency     string        `mapstructure:"vs_currency"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	UserAgent      string        `mapstructure:"user_agent"`
}

// EthereumConfig covers on-chain price access.
type EthereumConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// AssetConfig describes one tracked asset.
type AssetConfig struct {
	ID       string        `mapstructure:"id"`
	FeedID   string        `mapstructure:"feed_id"`
	Source   string        `mapstructure:"source"`
	Interval time.Duration `mapstructure:"interval"`
}

// HistoryConfig bounds the in-memory buffers.
type HistoryConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// AlertingConfig defines alert thresholds and routing.
type AlertingConfig struct {
	Enabled             bool           `mapstructure:"enabled"`
	ThresholdPct        float64        `mapstructure:"threshold_pct"`
	OperatorDestination string         `mapstructure:"operator_destination"`
	DispatchTimeout     time.Duration  `mapstructure:"dispatch_timeout"`
	AuditFirings        bool           `mapstructure:"audit_firings"`
	FiringRetention     time.Duration  `mapstructure:"firing_retention"`
	Telegram            TelegramConfig `mapstructure:"telegram"`
	SMTP                SMTPConfig     `mapstructure:"smtp"`
}

// TelegramConfig 描述 Telegram 告警参数。
type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIBase  string `mapstructure:"api_base"`
}

// SMTPConfig describes the e-mail transport.
type SMTPConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// AlertConfig seeds a target-price rule at startup.
type AlertConfig struct {
	Asset       string  `mapstructure:"asset"`
	TargetPrice float64 `mapstructure:"target_price"`
	Destination string  `mapstructure:"destination"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from .env, file, environment, and defaults.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetEnvPrefix("PRICEWATCH")
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

	cfg.applyAssetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
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
	v.SetDefault("app.name", "pricewatch")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	v.SetDefault("scheduler.align_to_bucket", false)
	v.SetDefault("scheduler.advisory_lock_key", int64(0))
	v.SetDefault("scheduler.startup_delay", "0s")
	v.SetDefault("scheduler.default_interval", "1m")

	v.SetDefault("feed.source", "coingecko")
	v.SetDefault("feed.base_url", "https://api.coingecko.com/api/v3")
	v.SetDefault("feed.vs_currency", "usd")
	v.SetDefault("feed.request_timeout", "10s")
	v.SetDefault("feed.user_agent", "")

	v.SetDefault("ethereum.request_timeout", "10s")

	v.SetDefault("assets", []map[string]any{
		{"id": "ethereum", "interval": "1m"},
		{"id": "polygon", "feed_id": "matic-network", "interval": "1h"},
	})

	v.SetDefault("history.capacity", 24)

	v.SetDefault("alerting.enabled", true)
	v.SetDefault("alerting.threshold_pct", 3.0)
	v.SetDefault("alerting.operator_destination", "log:operator")
	v.SetDefault("alerting.dispatch_timeout", "15s")
	v.SetDefault("alerting.audit_firings", true)
	v.SetDefault("alerting.firing_retention", "720h")
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.smtp.enabled", false)
	v.SetDefault("alerting.smtp.port", 587)
	v.SetDefault("alerting.smtp.timeout", "10s")

	v.SetDefault("redis.key_prefix", "pricewatch:")
	v.SetDefault("redis.max_len", 24)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")

	v.SetDefault("export.max_data_points", 100000)

	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.migrations_path", "migrations")
	v.SetDefault("database.auto_migrate", false)
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

func (c *Config) applyAssetDefaults() {
	for i := range c.Assets {
		a := &c.Assets[i]
		a.ID = strings.TrimSpace(a.ID)
		if a.FeedID == "" {
			a.FeedID = a.ID
		}
		if a.Source == "" {
			a.Source = c.Feed.Source
		}
		if a.Interval <= 0 {
			a.Interval = c.Scheduler.DefaultInterval
		}
	}
}

// Validate performs basic sanity checks on the configuration values.
func (c *Config) Validate() error {
	if c.Alerting.FiringRetention < 0 {
		return fmt.Errorf("alerting.firing_retention must not be negative")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.History.Capacity <= 0 {
		return fmt.Errorf("history.capacity must be greater than zero")
	}
	if len(c.Assets) == 0 {
		return fmt.Errorf("at least one asset must be configured")
	}
	seen := make(map[string]bool, len(c.Assets))
	for _, a := range c.Assets {
		if a.ID == "" {
			return fmt.Errorf("assets: id is required")
		}
		if seen[a.ID] {
			return fmt.Errorf("assets: duplicate id %s", a.ID)
		}
		seen[a.ID] = true
		if a.Interval <= 0 {
			return fmt.Errorf("assets.%s.interval must be greater than zero", a.ID)
		}
		switch a.Source {
		case "coingecko":
		case "chainlink":
			if c.Ethereum.RPCURL == "" {
				return fmt.Errorf("assets.%s uses chainlink but ethereum.rpc_url is empty", a.ID)
			}
		default:
			return fmt.Errorf("assets.%s: unknown source %q", a.ID, a.Source)
		}
	}
	if c.Alerting.ThresholdPct < 0 {
		return fmt.Errorf("alerting.threshold_pct cannot be negative")
	}
	for i, alert := range c.Alerts {
		if alert.Asset == "" || alert.Destination == "" {
			return fmt.Errorf("alerts[%d]: asset and destination are required", i)
		}
		if alert.TargetPrice <= 0 {
			return fmt.Errorf("alerts[%d]: target_price must be greater than zero", i)
		}
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token 必须配置")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id 必须配置")
		}
	}
	if c.Alerting.SMTP.Enabled {
		if c.Alerting.SMTP.Host == "" {
			return fmt.Errorf("alerting.smtp.host must be set")
		}
		if c.Alerting.SMTP.From == "" {
			return fmt.Errorf("alerting.smtp.from must be set")
		}
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

// Asset returns the configuration of id.
func (c *Config) Asset(id string) (AssetConfig, bool) {
	for _, a := range c.Assets {
		if a.ID == id {
			return a, true
		}
	}
	return AssetConfig{}, false
}
