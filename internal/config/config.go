package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"hydropulse/internal/forensic"
	"hydropulse/internal/link"
	"hydropulse/internal/model"
	"hydropulse/internal/pipeline"
	"hydropulse/internal/signal"
)

// EnvPrefix namespaces environment overrides, e.g. HYDROPULSE_API_PORT.
const EnvPrefix = "HYDROPULSE"

// Config is the process configuration. It is read from an optional YAML file
// and overridden by HYDROPULSE_* environment variables.
type Config struct {
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	API       APIConfig       `mapstructure:"api" yaml:"api"`
	Gateway   GatewayConfig   `mapstructure:"gateway" yaml:"gateway"`
	Filter    FilterConfig    `mapstructure:"filter" yaml:"filter"`
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
	Link      LinkConfig      `mapstructure:"link" yaml:"link"`
	Forensic  ForensicConfig  `mapstructure:"forensic" yaml:"forensic"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline" yaml:"pipeline"`
	Finance   FinanceConfig   `mapstructure:"finance" yaml:"finance"`
	Market    MarketConfig    `mapstructure:"market" yaml:"market"`
	Postgres  PostgresConfig  `mapstructure:"postgres" yaml:"postgres"`
	Influx    InfluxConfig    `mapstructure:"influx" yaml:"influx"`
	Redis     RedisConfig     `mapstructure:"redis" yaml:"redis"`
}

type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

type APIConfig struct {
	Port           int      `mapstructure:"port" yaml:"port"`
	Env            string   `mapstructure:"env" yaml:"env"`
	AllowedOrigins []string `mapstructure:"allowed_origins" yaml:"allowed_origins"`
	RateLimit      float64  `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst      int      `mapstructure:"rate_burst" yaml:"rate_burst"`
	StaticDir      string   `mapstructure:"static_dir" yaml:"static_dir"`
}

// GatewayConfig selects the ingestion source. TagsFile is optional; the
// built-in unit tag table is used when it is empty.
type GatewayConfig struct {
	TagsFile          string        `mapstructure:"tags_file" yaml:"tags_file"`
	Source            string        `mapstructure:"source" yaml:"source"`
	SourceURL         string        `mapstructure:"source_url" yaml:"source_url"`
	SamplePeriod      time.Duration `mapstructure:"sample_period" yaml:"sample_period"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
	Seed              int64         `mapstructure:"seed" yaml:"seed"`
}

type FilterConfig struct {
	Kind      string  `mapstructure:"kind" yaml:"kind"`
	SMAWindow int     `mapstructure:"sma_window" yaml:"sma_window"`
	EMAAlpha  float64 `mapstructure:"ema_alpha" yaml:"ema_alpha"`
}

type TelemetryConfig struct {
	History int `mapstructure:"history" yaml:"history"`
}

// LinkConfig drives the uplink. An empty URL keeps the link idle and the
// dashboard in simulation.
type LinkConfig struct {
	URL       string        `mapstructure:"url" yaml:"url"`
	Profile   string        `mapstructure:"profile" yaml:"profile"`
	Handshake time.Duration `mapstructure:"handshake" yaml:"handshake"`
	Heartbeat time.Duration `mapstructure:"heartbeat" yaml:"heartbeat"`
	Watchdog  time.Duration `mapstructure:"watchdog" yaml:"watchdog"`
	Blackout  time.Duration `mapstructure:"blackout" yaml:"blackout"`
}

type ForensicConfig struct {
	MaxDepth         int     `mapstructure:"max_depth" yaml:"max_depth"`
	MinChainStrength float64 `mapstructure:"min_chain_strength" yaml:"min_chain_strength"`
}

type PipelineConfig struct {
	MinWindow        int           `mapstructure:"min_window" yaml:"min_window"`
	SynergyThreshold float64       `mapstructure:"synergy_threshold" yaml:"synergy_threshold"`
	Cooldown         time.Duration `mapstructure:"cooldown" yaml:"cooldown"`
	AnalysisInterval time.Duration `mapstructure:"analysis_interval" yaml:"analysis_interval"`
}

// FinanceConfig units: EUR/MWh, EUR/h, EUR and MW.
type FinanceConfig struct {
	MarketPrice     float64 `mapstructure:"market_price" yaml:"market_price"`
	MaintenanceRate float64 `mapstructure:"maintenance_rate" yaml:"maintenance_rate"`
	ReplacementCost float64 `mapstructure:"replacement_cost" yaml:"replacement_cost"`
	RatedPowerMW    float64 `mapstructure:"rated_power_mw" yaml:"rated_power_mw"`
}

// MarketConfig enables the live price feed. When disabled the fixed
// finance.market_price is used.
type MarketConfig struct {
	Enabled   bool          `mapstructure:"enabled" yaml:"enabled"`
	BaseURL   string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey    string        `mapstructure:"api_key" yaml:"api_key"`
	Market    string        `mapstructure:"market" yaml:"market"`
	Zone      string        `mapstructure:"zone" yaml:"zone"`
	CacheTTL  time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
	RateLimit float64       `mapstructure:"rate_limit" yaml:"rate_limit"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

type InfluxConfig struct {
	URL           string        `mapstructure:"url" yaml:"url"`
	Token         string        `mapstructure:"token" yaml:"token"`
	Org           string        `mapstructure:"org" yaml:"org"`
	Bucket        string        `mapstructure:"bucket" yaml:"bucket"`
	Batch         int           `mapstructure:"batch" yaml:"batch"`
	FlushInterval time.Duration `mapstructure:"flush_interval" yaml:"flush_interval"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Stream   string `mapstructure:"stream" yaml:"stream"`
	MaxLen   int64  `mapstructure:"max_len" yaml:"max_len"`
}

// SetDefaults registers every key so environment overrides work without a
// config file.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.service_name", "hydropulse")
	v.SetDefault("log.add_source", false)
	v.SetDefault("log.log_file", "")
	v.SetDefault("log.max_size", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 7)
	v.SetDefault("log.compress", true)

	v.SetDefault("api.port", 8080)
	v.SetDefault("api.env", "development")
	v.SetDefault("api.allowed_origins", []string{"*"})
	v.SetDefault("api.rate_limit", 20.0)
	v.SetDefault("api.rate_burst", 40)
	v.SetDefault("api.static_dir", "./web/dist")

	v.SetDefault("gateway.tags_file", "")
	v.SetDefault("gateway.source", "simulated")
	v.SetDefault("gateway.source_url", "")
	v.SetDefault("gateway.sample_period", "1s")
	v.SetDefault("gateway.heartbeat_interval", "5s")
	v.SetDefault("gateway.seed", 1)

	v.SetDefault("filter.kind", string(signal.KindSMA))
	v.SetDefault("filter.sma_window", signal.DefaultSMAWindow)
	v.SetDefault("filter.ema_alpha", signal.DefaultEMAAlpha)

	v.SetDefault("telemetry.history", 120)

	v.SetDefault("link.url", "")
	v.SetDefault("link.profile", link.ProfileNormal.Name)
	v.SetDefault("link.handshake", "1500ms")
	v.SetDefault("link.heartbeat", "2s")
	v.SetDefault("link.watchdog", "10s")
	v.SetDefault("link.blackout", "30s")

	v.SetDefault("forensic.max_depth", 1)
	v.SetDefault("forensic.min_chain_strength", forensic.DefaultMinChainStrength)

	v.SetDefault("pipeline.min_window", pipeline.DefaultMinWindow)
	v.SetDefault("pipeline.synergy_threshold", 0.8)
	v.SetDefault("pipeline.cooldown", "1m")
	v.SetDefault("pipeline.analysis_interval", "5s")

	v.SetDefault("finance.market_price", 85.0)
	v.SetDefault("finance.maintenance_rate", 120.0)
	v.SetDefault("finance.replacement_cost", 250000.0)
	v.SetDefault("finance.rated_power_mw", 150.0)

	v.SetDefault("market.enabled", false)
	v.SetDefault("market.base_url", "")
	v.SetDefault("market.api_key", "")
	v.SetDefault("market.market", "EPEX")
	v.SetDefault("market.zone", "DE-LU")
	v.SetDefault("market.cache_ttl", "1h")
	v.SetDefault("market.rate_limit", 1.0)

	v.SetDefault("postgres.dsn", "")

	v.SetDefault("influx.url", "")
	v.SetDefault("influx.token", "")
	v.SetDefault("influx.org", "hydropulse")
	v.SetDefault("influx.bucket", "telemetry")
	v.SetDefault("influx.batch", 500)
	v.SetDefault("influx.flush_interval", "10s")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.stream", "hydropulse:alerts")
	v.SetDefault("redis.max_len", 10000)
}

// NewViper returns a viper instance with defaults and env overrides wired.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (optional) and the environment into a validated Config.
func Load(path string) (*Config, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	c, err := FromViper(v)
	if err != nil {
		return nil, err
	}
	if path != "" {
		c.Gateway.TagsFile = resolveRelative(path, c.Gateway.TagsFile)
	}
	return c, nil
}

// FromViper decodes and validates v.
func FromViper(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &c, nil
}

// Default is the configuration with no file and no environment overrides.
func Default() *Config {
	v := viper.New()
	SetDefaults(v)
	c, err := FromViper(v)
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return c
}

// resolveRelative interprets p relative to the config file directory,
// falling back to p as given (relative to cwd) when that does not exist.
func resolveRelative(configPath, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	cand := filepath.Join(filepath.Dir(configPath), p)
	if _, err := os.Stat(cand); err == nil {
		return cand
	}
	return p
}

func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	}
	if c.API.RateLimit < 0 {
		return errors.New("api.rate_limit must be >= 0")
	}
	switch c.Gateway.Source {
	case "simulated":
	case "websocket":
		if c.Gateway.SourceURL == "" {
			return errors.New("gateway.source_url is required for the websocket source")
		}
	default:
		return fmt.Errorf("unknown gateway.source %q", c.Gateway.Source)
	}
	if c.Gateway.SamplePeriod <= 0 || c.Gateway.HeartbeatInterval <= 0 {
		return errors.New("gateway periods must be > 0")
	}
	if _, err := signal.NewBank(c.FilterOptions()); err != nil {
		return fmt.Errorf("filter: %w", err)
	}
	if c.Filter.SMAWindow <= 0 {
		return errors.New("filter.sma_window must be > 0")
	}
	if c.Filter.EMAAlpha <= 0 || c.Filter.EMAAlpha > 1 {
		return errors.New("filter.ema_alpha must be in (0, 1]")
	}
	if c.Telemetry.History < 2 {
		return errors.New("telemetry.history must be >= 2")
	}
	if _, err := c.LinkProfile(); err != nil {
		return err
	}
	if err := c.LinkTiming().Validate(); err != nil {
		return fmt.Errorf("link: %w", err)
	}
	if c.Forensic.MaxDepth < 1 {
		return errors.New("forensic.max_depth must be >= 1")
	}
	if c.Forensic.MinChainStrength < 0 || c.Forensic.MinChainStrength > 1 {
		return errors.New("forensic.min_chain_strength must be in [0, 1]")
	}
	if c.Pipeline.SynergyThreshold <= 0 || c.Pipeline.SynergyThreshold > 1 {
		return errors.New("pipeline.synergy_threshold must be in (0, 1]")
	}
	if c.Pipeline.MinWindow < 2 {
		return errors.New("pipeline.min_window must be >= 2")
	}
	if c.Finance.RatedPowerMW <= 0 {
		return errors.New("finance.rated_power_mw must be > 0")
	}
	if err := c.FinancialContext().Validate(); err != nil {
		return fmt.Errorf("finance: %w", err)
	}
	if c.Market.Enabled && (c.Market.Market == "" || c.Market.Zone == "") {
		return errors.New("market.market and market.zone are required when the price feed is enabled")
	}
	if c.Influx.URL != "" && c.Influx.Bucket == "" {
		return errors.New("influx.bucket is required when influx.url is set")
	}
	return nil
}

func (c *Config) LinkTiming() link.Timing {
	return link.Timing{
		Handshake: c.Link.Handshake,
		Heartbeat: c.Link.Heartbeat,
		Watchdog:  c.Link.Watchdog,
		Blackout:  c.Link.Blackout,
	}
}

func (c *Config) LinkProfile() (link.Profile, error) {
	p, ok := link.ProfileByName(c.Link.Profile)
	if !ok {
		return link.Profile{}, fmt.Errorf("unknown link.profile %q", c.Link.Profile)
	}
	return p, nil
}

func (c *Config) FilterOptions() signal.Options {
	return signal.Options{
		Kind:      signal.Kind(strings.ToLower(c.Filter.Kind)),
		SMAWindow: c.Filter.SMAWindow,
		EMAAlpha:  c.Filter.EMAAlpha,
	}
}

func (c *Config) ForensicOptions() forensic.Options {
	return forensic.Options{MaxDepth: c.Forensic.MaxDepth, MinChainStrength: c.Forensic.MinChainStrength}
}

func (c *Config) FinancialContext() model.FinancialContext {
	return model.FinancialContext{
		MarketPriceEurPerMWh:  decimal.NewFromFloat(c.Finance.MarketPrice),
		MaintenanceHourlyRate: decimal.NewFromFloat(c.Finance.MaintenanceRate),
		ReplacementCost:       decimal.NewFromFloat(c.Finance.ReplacementCost),
	}
}

func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		MinWindow:        c.Pipeline.MinWindow,
		SynergyThreshold: c.Pipeline.SynergyThreshold,
		Cooldown:         c.Pipeline.Cooldown,
		AnalysisInterval: c.Pipeline.AnalysisInterval,
		Finance:          c.FinancialContext(),
	}
}

// Write encodes c as YAML in the format Load reads.
func Write(w io.Writer, c *Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return err
	}
	return enc.Close()
}
