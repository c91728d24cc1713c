package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"gold-tracker/internal/logging"
)

// Database drivers understood by storage.Open.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Benchmark providers.
const (
	ProviderGoldAPI   = "goldapi"
	ProviderChainlink = "chainlink"
)

// Config materialises application configuration.
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Logging    logging.Config   `mapstructure:"logging"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Network    NetworkConfig    `mapstructure:"network"`
	Sources    SourcesConfig    `mapstructure:"sources"`
	Metals     MetalsConfig     `mapstructure:"metals"`
	FX         FXConfig         `mapstructure:"fx"`
	Validation ValidationConfig `mapstructure:"validation"`
	Tasks      TasksConfig      `mapstructure:"tasks"`
	Serve      ServeConfig      `mapstructure:"serve"`
	Backup     BackupConfig     `mapstructure:"backup"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Export     ExportConfig     `mapstructure:"export"`
}

// AppConfig general metadata.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Timezone    string `mapstructure:"timezone"`
}

// DatabaseConfig selects and tunes the persistence gateway.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AdvisoryLocks   bool          `mapstructure:"advisory_locks"`
}

// NetworkConfig is shared by every HTTP source adapter.
type NetworkConfig struct {
	Timeout       time.Duration `mapstructure:"timeout"`
	RetryTimes    int           `mapstructure:"retry_times"`
	RetryInterval time.Duration `mapstructure:"retry_interval"`
	UserAgent     string        `mapstructure:"user_agent"`
}

// SourcesConfig groups provider endpoints and credentials.
type SourcesConfig struct {
	GoldAPI    GoldAPIConfig    `mapstructure:"goldapi"`
	Chainlink  ChainlinkConfig  `mapstructure:"chainlink"`
	SGE        SGEConfig        `mapstructure:"sge"`
	Chinamoney ChinamoneyConfig `mapstructure:"chinamoney"`
}

// GoldAPIConfig covers goldapi.io.
type GoldAPIConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// ChainlinkConfig covers on-chain price feeds.
type ChainlinkConfig struct {
	RPCURL         string        `mapstructure:"rpc_url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// SGEConfig covers the Shanghai Gold Exchange quotation endpoint.
type SGEConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// ChinamoneyConfig covers the CFETS central parity endpoint.
type ChinamoneyConfig struct {
	BaseURL string `mapstructure:"base_url"`
}

// MetalsConfig holds per-metal collection settings.
type MetalsConfig struct {
	Gold   MetalConfig `mapstructure:"gold"`
	Silver MetalConfig `mapstructure:"silver"`
}

// MetalConfig 描述单个金属的数据源参数。
type MetalConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	BenchmarkProvider string  `mapstructure:"benchmark_provider"`
	Symbol            string  `mapstructure:"symbol"`
	ChainlinkFeed     string  `mapstructure:"chainlink_feed"`
	SGEProduct        string  `mapstructure:"sge_product"`
	SGEUnitGrams      float64 `mapstructure:"sge_unit_grams"`
	SGEMinPrice       float64 `mapstructure:"sge_min_price"`
	SGEMaxPrice       float64 `mapstructure:"sge_max_price"`
}

// FXConfig lists the currency pairs of the FX task.
type FXConfig struct {
	Pairs []string `mapstructure:"pairs"`
}

// ValidationConfig tunes the statistical validator.
type ValidationConfig struct {
	WindowDays         int     `mapstructure:"window_days"`
	SigmaThreshold     float64 `mapstructure:"sigma_threshold"`
	SingleSampleBand   float64 `mapstructure:"single_sample_band"`
	LocalRatioLow      float64 `mapstructure:"local_ratio_low"`
	LocalRatioHigh     float64 `mapstructure:"local_ratio_high"`
	FXDailyChangeLimit float64 `mapstructure:"fx_daily_change_limit"`
}

// TasksConfig tunes task execution.
type TasksConfig struct {
	ProcessorTimeout time.Duration `mapstructure:"processor_timeout"`
	Summary          bool          `mapstructure:"summary"`
}

// ServeConfig governs the long-running loop.
type ServeConfig struct {
	Interval     time.Duration `mapstructure:"interval"`
	Offset       time.Duration `mapstructure:"offset"`
	StartupDelay time.Duration `mapstructure:"startup_delay"`
	Tasks        []string      `mapstructure:"tasks"`
}

// BackupConfig governs store snapshots.
type BackupConfig struct {
	Dir    string `mapstructure:"dir"`
	Keep   int    `mapstructure:"keep"`
	Prefix string `mapstructure:"prefix"`
}

// RedisConfig enables the latest-record cache.
type RedisConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// MetricsConfig enables Prometheus Pushgateway export.
type MetricsConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// ExportConfig sets CLI export behaviour.
type ExportConfig struct {
	MaxDataPoints int `mapstructure:"max_data_points"`
}

// Load builds configuration from file, environment, and defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GOLDTRACKER")
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
	v.SetDefault("app.name", "goldtracker")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.timezone", "Asia/Shanghai")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.max_size_mb", 10)
	v.SetDefault("logging.file.max_backups", 30)
	v.SetDefault("logging.file.max_age_days", 30)

	v.SetDefault("database.driver", DriverSQLite)
	v.SetDefault("database.path", "data/gold_tracker.db")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.advisory_locks", true)

	v.SetDefault("network.timeout", "30s")
	v.SetDefault("network.retry_times", 3)
	v.SetDefault("network.retry_interval", "10s")
	v.SetDefault("network.user_agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")

	v.SetDefault("sources.goldapi.base_url", "https://www.goldapi.io/api")
	v.SetDefault("sources.chainlink.request_timeout", "10s")
	v.SetDefault("sources.sge.base_url", "https://www.sge.com.cn")
	v.SetDefault("sources.chinamoney.base_url", "https://www.chinamoney.com.cn")

	v.SetDefault("metals.gold.enabled", true)
	v.SetDefault("metals.gold.benchmark_provider", ProviderGoldAPI)
	v.SetDefault("metals.gold.symbol", "XAU")
	v.SetDefault("metals.gold.chainlink_feed", "0x214eD9Da11D2fbe465a6fc601a91E62EbEc1a0D6")
	v.SetDefault("metals.gold.sge_product", "Au99.99")
	v.SetDefault("metals.gold.sge_unit_grams", 1.0)
	v.SetDefault("metals.gold.sge_min_price", 300.0)
	v.SetDefault("metals.gold.sge_max_price", 1500.0)

	v.SetDefault("metals.silver.enabled", true)
	v.SetDefault("metals.silver.benchmark_provider", ProviderGoldAPI)
	v.SetDefault("metals.silver.symbol", "XAG")
	v.SetDefault("metals.silver.chainlink_feed", "0x379589227b15F1a12195D3f2d90bBc9F31f95235")
	v.SetDefault("metals.silver.sge_product", "Ag99.99")
	v.SetDefault("metals.silver.sge_unit_grams", 1000.0)
	v.SetDefault("metals.silver.sge_min_price", 2000.0)
	v.SetDefault("metals.silver.sge_max_price", 40000.0)

	v.SetDefault("fx.pairs", []string{"USD/CNY", "100JPY/CNY", "EUR/CNY"})

	v.SetDefault("validation.window_days", 20)
	v.SetDefault("validation.sigma_threshold", 3.0)
	v.SetDefault("validation.single_sample_band", 0.10)
	v.SetDefault("validation.local_ratio_low", 0.95)
	v.SetDefault("validation.local_ratio_high", 1.12)
	v.SetDefault("validation.fx_daily_change_limit", 0.02)

	v.SetDefault("tasks.processor_timeout", "30s")
	v.SetDefault("tasks.summary", true)

	v.SetDefault("serve.interval", "24h")
	v.SetDefault("serve.offset", "15h30m")
	v.SetDefault("serve.startup_delay", "0s")
	v.SetDefault("serve.tasks", []string{"daily", "silver", "fx"})

	v.SetDefault("backup.dir", "backups")
	v.SetDefault("backup.keep", 10)
	v.SetDefault("backup.prefix", "gold_tracker")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.key_prefix", "goldtracker")
	v.SetDefault("redis.ttl", "72h")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.job", "goldtracker")

	v.SetDefault("export.max_data_points", 5000)
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
	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}

	if _, err := time.LoadLocation(c.App.Timezone); err != nil {
		return fmt.Errorf("app.timezone: %w", err)
	}

	for name, metal := range map[string]MetalConfig{"gold": c.Metals.Gold, "silver": c.Metals.Silver} {
		if !metal.Enabled {
			continue
		}
		switch metal.BenchmarkProvider {
		case ProviderGoldAPI, ProviderChainlink:
		default:
			return fmt.Errorf("metals.%s.benchmark_provider %q is not supported", name, metal.BenchmarkProvider)
		}
		if metal.SGEUnitGrams <= 0 {
			return fmt.Errorf("metals.%s.sge_unit_grams must be greater than zero", name)
		}
	}

	if len(c.FX.Pairs) == 0 {
		return fmt.Errorf("fx.pairs must list at least one pair")
	}

	val := c.Validation
	if val.WindowDays <= 0 {
		return fmt.Errorf("validation.window_days must be greater than zero")
	}
	if val.SigmaThreshold <= 0 {
		return fmt.Errorf("validation.sigma_threshold must be greater than zero")
	}
	if val.SingleSampleBand < 0 {
		return fmt.Errorf("validation.single_sample_band cannot be negative")
	}
	if val.LocalRatioLow <= 0 || val.LocalRatioHigh < val.LocalRatioLow {
		return fmt.Errorf("validation.local_ratio_low/high must satisfy 0 < low <= high")
	}
	if val.FXDailyChangeLimit < 0 {
		return fmt.Errorf("validation.fx_daily_change_limit cannot be negative")
	}

	if c.Backup.Keep <= 0 {
		return fmt.Errorf("backup.keep must be greater than zero")
	}
	if c.Export.MaxDataPoints <= 0 {
		return fmt.Errorf("export.max_data_points must be greater than zero")
	}
	if c.Serve.Interval <= 0 {
		return fmt.Errorf("serve.interval must be greater than zero")
	}
	if c.Metrics.Enabled && c.Metrics.PushgatewayURL == "" {
		return fmt.Errorf("metrics.pushgateway_url 必须配置")
	}
	return nil
}

// Location returns the configured business timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ResolveMaxPoints returns either the CLI override or config default.
func (c *Config) ResolveMaxPoints(override int) int {
	if override > 0 {
		return override
	}
	return c.Export.MaxDataPoints
}
