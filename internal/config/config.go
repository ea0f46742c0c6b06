package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig       `mapstructure:"server"`
	Log       LogConfig          `mapstructure:"log"`
	Database  DatabaseConfig     `mapstructure:"database"`
	Redis     RedisConfig        `mapstructure:"redis"`
	Cache     CacheConfig        `mapstructure:"cache"`
	RateLimit RateLimitConfig    `mapstructure:"ratelimit"`
	Reconcile ReconcileConfig    `mapstructure:"reconcile"`
	Providers ProvidersConfig    `mapstructure:"providers"`
	Ingest    IngestConfig       `mapstructure:"ingest"`
	Metrics   MetricsConfig      `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CacheConfig drives the throttled cache gateway.
type CacheConfig struct {
	UseCacheMinutes int `mapstructure:"use_cache_minutes"` // TTL for cached payloads
	MaxAttempts     int `mapstructure:"max_attempts"`      // 429 retries within one call
	InitialDelayMs  int `mapstructure:"initial_delay_ms"`  // batch staggering delay
	CooldownSeconds int `mapstructure:"cooldown_seconds"`  // per-key cooldown after failure
}

func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.UseCacheMinutes) * time.Minute
}

func (c CacheConfig) InitialDelay() time.Duration {
	return time.Duration(c.InitialDelayMs) * time.Millisecond
}

func (c CacheConfig) Cooldown() time.Duration {
	return time.Duration(c.CooldownSeconds) * time.Second
}

// RateLimitConfig drives the reservoir limiter for bulk provider calls.
type RateLimitConfig struct {
	MinSpacingMs     int     `mapstructure:"min_spacing_ms"`
	Capacity         int     `mapstructure:"capacity"`
	RefillIntervalMs int     `mapstructure:"refill_interval_ms"`
	JitterSpread     float64 `mapstructure:"jitter_spread"`
}

func (c RateLimitConfig) MinSpacing() time.Duration {
	return time.Duration(c.MinSpacingMs) * time.Millisecond
}

func (c RateLimitConfig) RefillInterval() time.Duration {
	return time.Duration(c.RefillIntervalMs) * time.Millisecond
}

type ReconcileConfig struct {
	// GlobalRatio is the empirically tuned graded/raw fallback multiplier.
	// SegmentRatios overrides it per catalog segment (e.g. "vintage": 6.0).
	GlobalRatio   float64            `mapstructure:"global_ratio"`
	SegmentRatios map[string]float64 `mapstructure:"segment_ratios"`
	GradingFee    float64            `mapstructure:"grading_fee"`
	ThreeGrade    bool               `mapstructure:"three_grade"`
}

type ProviderConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

func (c ProviderConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

type ProvidersConfig struct {
	Ebay          ProviderConfig `mapstructure:"ebay"`
	PriceCharting ProviderConfig `mapstructure:"pricecharting"`
	PokemonTCG    ProviderConfig `mapstructure:"ptcg"`
	Cardmarket    ProviderConfig `mapstructure:"cardmarket"`
	PSA           ProviderConfig `mapstructure:"psa"`
}

type IngestConfig struct {
	Workers         int `mapstructure:"workers"`
	MaxCalls        int `mapstructure:"max_calls"`         // per-run call budget, 0 = unlimited
	IntervalMinutes int `mapstructure:"interval_minutes"`  // daemon refresh loop period
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	// Environment variables support
	// e.g. CARDGATE_PROVIDERS_PRICECHARTING_API_KEY
	viper.SetEnvPrefix("cardgate")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("log.level", "info")
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	viper.SetDefault("cache.use_cache_minutes", 1440)
	viper.SetDefault("cache.max_attempts", 3)
	viper.SetDefault("cache.initial_delay_ms", 0)
	viper.SetDefault("cache.cooldown_seconds", 120)

	viper.SetDefault("ratelimit.min_spacing_ms", 1300)
	viper.SetDefault("ratelimit.capacity", 240)
	viper.SetDefault("ratelimit.refill_interval_ms", 3600000)
	viper.SetDefault("ratelimit.jitter_spread", 0.4)

	viper.SetDefault("reconcile.global_ratio", 4.5)
	viper.SetDefault("reconcile.grading_fee", 25.0)
	viper.SetDefault("reconcile.three_grade", false)

	viper.SetDefault("providers.ebay.base_url", "https://api.ebay.com/buy/marketplace_insights/v1_beta")
	viper.SetDefault("providers.pricecharting.base_url", "https://www.pricecharting.com/api")
	viper.SetDefault("providers.ptcg.base_url", "https://api.pokemontcg.io/v2")
	viper.SetDefault("providers.cardmarket.base_url", "https://api.cardmarket.com/ws/v2.0")
	viper.SetDefault("providers.psa.base_url", "https://api.psacard.com/publicapi")
	for _, p := range []string{"ebay", "pricecharting", "ptcg", "cardmarket", "psa"} {
		viper.SetDefault("providers."+p+".timeout_seconds", 30)
	}

	viper.SetDefault("ingest.workers", 4)
	viper.SetDefault("ingest.max_calls", 0)
	viper.SetDefault("ingest.interval_minutes", 360)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
