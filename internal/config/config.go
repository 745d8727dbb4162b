package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"pmboard/internal/logging"
	"pmboard/internal/model"
)

// Config materialises application configuration.
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Logging  logging.Config `mapstructure:"logging"`
	Source   SourceConfig   `mapstructure:"source"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Server   ServerConfig   `mapstructure:"server"`
	Stream   StreamConfig   `mapstructure:"stream"`
	View     ViewConfig     `mapstructure:"view"`
	Database DatabaseConfig `mapstructure:"database"`
	Alerting AlertingConfig `mapstructure:"alerting"`
	Export   ExportConfig   `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
}

// SourceConfig describes the external data source binary.
type SourceConfig struct {
	BinaryPath string        `mapstructure:"binary_path"`
	Timeout    time.Duration `mapstructure:"timeout"`
	WaitDelay  time.Duration `mapstructure:"wait_delay"`
	FetchLimit int           `mapstructure:"fetch_limit"`
	ActiveOnly bool          `mapstructure:"active_only"`
}

// CacheConfig controls snapshot freshness.
type CacheConfig struct {
	TTLSeconds int `mapstructure:"ttl_seconds"`
}

// TTL returns the freshness window as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// ServerConfig covers the HTTP listener.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	StaticDir       string        `mapstructure:"static_dir"`
	CORS            bool          `mapstructure:"cors"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// Addr returns host:port.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StreamConfig tunes push delivery.
type StreamConfig struct {
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	Parallelism  int           `mapstructure:"parallelism"`
}

// ViewConfig bounds per-request view parameters.
type ViewConfig struct {
	DefaultLimit      int `mapstructure:"default_limit"`
	MaxLimit          int `mapstructure:"max_limit"`
	DefaultContenders int `mapstructure:"default_contenders"`
	MaxContenders     int `mapstructure:"max_contenders"`
}

// DatabaseConfig encapsulates PostgreSQL connectivity for the snapshot archive.
// A zero Retention keeps every archived snapshot.
type DatabaseConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	Retention       time.Duration `mapstructure:"retention"`
}

// Enabled reports whether the archive is configured.
func (c DatabaseConfig) Enabled() bool { return c.DSN != "" }

// AlertingConfig defines mover alert thresholds and routing.
type AlertingConfig struct {
	Enabled        bool           `mapstructure:"enabled"`
	ThresholdCents float64        `mapstructure:"threshold_cents"`
	Cooldown       time.Duration  `mapstructure:"cooldown"`
	TopEvents      int            `mapstructure:"top_events"`
	Telegram       TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig holds Telegram bot parameters.
type TelegramConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	BotToken string        `mapstructure:"bot_token"`
	ChatID   string        `mapstructure:"chat_id"`
	APIBase  string        `mapstructure:"api_base"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxEvents int `mapstructure:"max_events"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("PMBOARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	if err := bindLegacyEnv(v); err != nil {
		return nil, err
	}

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

// bindLegacyEnv keeps PM_BIN and PM_CACHE_TTL working. Prefixed names win.
func bindLegacyEnv(v *viper.Viper) error {
	if err := v.BindEnv("source.binary_path", "PMBOARD_SOURCE_BINARY_PATH", "PM_BIN"); err != nil {
		return fmt.Errorf("bind env: %w", err)
	}
	if err := v.BindEnv("cache.ttl_seconds", "PMBOARD_CACHE_TTL_SECONDS", "PM_CACHE_TTL"); err != nil {
		return fmt.Errorf("bind env: %w", err)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pmboard")
	v.SetDefault("app.environment", "development")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.max_size_mb", 50)
	v.SetDefault("logging.file.max_backups", 3)
	v.SetDefault("logging.file.max_age_days", 14)

	v.SetDefault("source.binary_path", "polymarket")
	v.SetDefault("source.timeout", "10s")
	v.SetDefault("source.wait_delay", "1s")
	v.SetDefault("source.fetch_limit", 500)
	v.SetDefault("source.active_only", true)

	v.SetDefault("cache.ttl_seconds", 30)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.read_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.cors", true)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("stream.write_timeout", "5s")
	v.SetDefault("stream.parallelism", 64)

	v.SetDefault("view.default_limit", 10)
	v.SetDefault("view.max_limit", 100)
	v.SetDefault("view.default_contenders", 5)
	v.SetDefault("view.max_contenders", 50)

	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 0)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.write_timeout", "10s")
	v.SetDefault("database.retention", "0s")

	v.SetDefault("alerting.enabled", false)
	v.SetDefault("alerting.threshold_cents", 5.0)
	v.SetDefault("alerting.cooldown", "1h")
	v.SetDefault("alerting.top_events", 20)
	v.SetDefault("alerting.telegram.enabled", false)
	v.SetDefault("alerting.telegram.api_base", "https://api.telegram.org")
	v.SetDefault("alerting.telegram.timeout", "10s")

	v.SetDefault("export.max_events", 100)
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
	if c.Source.BinaryPath == "" {
		return fmt.Errorf("source.binary_path must be set")
	}
	if c.Source.Timeout <= 0 {
		return fmt.Errorf("source.timeout must be greater than zero")
	}
	if c.Source.FetchLimit <= 0 {
		return fmt.Errorf("source.fetch_limit must be greater than zero")
	}
	if c.Cache.TTLSeconds <= 0 {
		return fmt.Errorf("cache.ttl_seconds must be greater than zero")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Stream.WriteTimeout <= 0 {
		return fmt.Errorf("stream.write_timeout must be greater than zero")
	}
	if c.View.MaxLimit <= 0 {
		return fmt.Errorf("view.max_limit must be greater than zero")
	}
	if c.View.DefaultLimit <= 0 || c.View.DefaultLimit > c.View.MaxLimit {
		return fmt.Errorf("view.default_limit must be between 1 and view.max_limit")
	}
	if c.View.DefaultContenders <= 0 || c.View.DefaultContenders > c.View.MaxContenders {
		return fmt.Errorf("view.default_contenders must be between 1 and view.max_contenders")
	}
	if c.Export.MaxEvents <= 0 {
		return fmt.Errorf("export.max_events must be greater than zero")
	}
	if c.Database.Retention < 0 {
		return fmt.Errorf("database.retention cannot be negative")
	}
	if c.Alerting.ThresholdCents < 0 {
		return fmt.Errorf("alerting.threshold_cents cannot be negative")
	}
	if c.Alerting.Telegram.Enabled {
		if c.Alerting.Telegram.BotToken == "" {
			return fmt.Errorf("alerting.telegram.bot_token must be set")
		}
		if c.Alerting.Telegram.ChatID == "" {
			return fmt.Errorf("alerting.telegram.chat_id must be set")
		}
	}
	return nil
}

// Query returns the single upstream query the process fetches.
func (c *Config) Query() model.Query {
	return model.Query{
		ActiveOnly: c.Source.ActiveOnly,
		Limit:      c.Source.FetchLimit,
		Sort:       model.SortVolume,
	}
}

// ResolveLimit returns the CLI override clamped to view.max_limit, or the default.
func (c *Config) ResolveLimit(override int) int {
	if override <= 0 {
		return c.View.DefaultLimit
	}
	return min(override, c.View.MaxLimit)
}
