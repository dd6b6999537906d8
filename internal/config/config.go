// Package config loads the service configuration from defaults, an optional
// YAML file and ATTRIB_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	apperrors "github.com/SonGiHyeon/CV-API/internal/errors"
	"github.com/SonGiHyeon/CV-API/internal/ledger"
	"github.com/SonGiHyeon/CV-API/internal/ratelimit"
	"github.com/SonGiHyeon/CV-API/internal/resilience"
	"github.com/SonGiHyeon/CV-API/internal/rewards"
)

const (
	EnvPrefix       = "ATTRIB"
	DefaultFileName = "attribution"
)

type ServerConfig struct {
	Port            string        `mapstructure:"port" yaml:"port"`
	Mode            string        `mapstructure:"mode" yaml:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins" yaml:"cors_origins"`
}

type StorageConfig struct {
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"-"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// RewardsConfig holds the point policy. Cap only applies at finalize.
type RewardsConfig struct {
	Pool         float64 `mapstructure:"pool" yaml:"pool"`
	Cap          float64 `mapstructure:"cap" yaml:"cap"`
	MinPayable   float64 `mapstructure:"min_payable" yaml:"min_payable"`
	RoundingUnit float64 `mapstructure:"rounding_unit" yaml:"rounding_unit"`
}

type CorpusConfig struct {
	CacheTTL time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

type RateLimitConfig struct {
	PerMin          int `mapstructure:"per_min" yaml:"per_min"`
	BurstMultiplier int `mapstructure:"burst_multiplier" yaml:"burst_multiplier"`
}

// Config is the full service configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server" yaml:"server"`
	Storage   StorageConfig   `mapstructure:"storage" yaml:"storage"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Redis     RedisConfig     `mapstructure:"redis" yaml:"redis"`
	Rewards   RewardsConfig   `mapstructure:"rewards" yaml:"rewards"`
	Corpus    CorpusConfig    `mapstructure:"corpus" yaml:"corpus"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`

	// File is the config file that was read, empty when none was found
	File string `mapstructure:"-" yaml:"-"`
}

// envBindings maps config keys to their environment variable names
var envBindings = map[string]string{
	"server.port":             "PORT",
	"server.mode":             "GIN_MODE",
	"server.shutdown_timeout": "SHUTDOWN_TIMEOUT",
	"storage.data_dir":        "DATA_DIR",
	"log.level":               "LOG_LEVEL",
	"redis.addr":              "REDIS_ADDR",
	"redis.password":          "REDIS_PASSWORD",
	"redis.db":                "REDIS_DB",
	"rewards.pool":            "REWARDS_POOL",
	"rewards.cap":             "REWARDS_CAP",
	"rewards.min_payable":     "REWARDS_MIN_PAYABLE",
	"rewards.rounding_unit":   "REWARDS_ROUNDING_UNIT",
	"corpus.cache_ttl":        "CORPUS_CACHE_TTL",
	"rate_limit.per_min":      "RATE_LIMIT_PER_MIN",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("storage.data_dir", "./data")
	v.SetDefault("log.level", "info")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("rewards.pool", float64(rewards.DefaultPool))
	v.SetDefault("rewards.cap", float64(rewards.DefaultFinalizeCap))
	v.SetDefault("rewards.min_payable", 0.5)
	v.SetDefault("rewards.rounding_unit", 0.1)
	v.SetDefault("corpus.cache_ttl", 5*time.Minute)
	v.SetDefault("rate_limit.per_min", ratelimit.DefaultConfig().IPLimitPerMin)
	v.SetDefault("rate_limit.burst_multiplier", ratelimit.DefaultConfig().BurstMultiplier)
}

// Load reads the configuration. With an explicit path the file must exist;
// otherwise ./attribution.yaml is used when present.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName(DefaultFileName)
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	for key, env := range envBindings {
		if err := v.BindEnv(key, EnvPrefix+"_"+env); err != nil {
			return nil, apperrors.NewConfigurationError("bind "+key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, apperrors.NewConfigurationError(fmt.Sprintf("read config file %q", path), err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, apperrors.NewConfigurationError("decode config", err)
	}
	cfg.File = v.ConfigFileUsed()
	cfg.Server.Port = strings.TrimSpace(cfg.Server.Port)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the built-in configuration
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	cfg := &Config{}
	_ = v.Unmarshal(cfg)
	return cfg
}

// Validate rejects settings the service cannot run with
func (c *Config) Validate() error {
	problems := map[string]string{}
	if c.Server.Port == "" {
		problems["server.port"] = "must not be empty"
	}
	if c.Rewards.Pool <= 0 {
		problems["rewards.pool"] = "must be positive"
	}
	if c.Rewards.RoundingUnit <= 0 {
		problems["rewards.rounding_unit"] = "must be positive"
	}
	if c.Rewards.MinPayable < 0 {
		problems["rewards.min_payable"] = "must not be negative"
	}
	if c.Rewards.Cap < c.Rewards.MinPayable {
		problems["rewards.cap"] = "must not be below rewards.min_payable"
	}
	if c.Corpus.CacheTTL < 0 {
		problems["corpus.cache_ttl"] = "must not be negative"
	}
	if c.RateLimit.PerMin <= 0 {
		problems["rate_limit.per_min"] = "must be positive"
	}
	if len(problems) == 0 {
		return nil
	}

	fields := make([]string, 0, len(problems))
	for k, msg := range problems {
		fields = append(fields, k+" "+msg)
	}
	sort.Strings(fields)
	return apperrors.NewConfigurationError(strings.Join(fields, "; "), nil)
}

// PreviewPolicy is the uncapped policy used for attribution previews
func (c *Config) PreviewPolicy() rewards.Policy {
	return rewards.Policy{
		Pool:         decimal.NewFromFloat(c.Rewards.Pool),
		RoundingUnit: decimal.NewFromFloat(c.Rewards.RoundingUnit),
		MinPayable:   decimal.NewFromFloat(c.Rewards.MinPayable),
	}
}

// FinalizePolicy is PreviewPolicy clamped to the configured cap
func (c *Config) FinalizePolicy() rewards.Policy {
	return c.PreviewPolicy().WithCap(decimal.NewFromFloat(c.Rewards.Cap))
}

// Ledger builds the lifecycle service configuration
func (c *Config) Ledger() ledger.Config {
	return ledger.Config{
		PreviewPolicy:  c.PreviewPolicy(),
		FinalizePolicy: c.FinalizePolicy(),
		Retry:          resilience.StorageRetryConfig(),
	}
}

// Limiter builds the rate limiter configuration
func (c *Config) Limiter() ratelimit.Config {
	rl := ratelimit.DefaultConfig()
	rl.IPLimitPerMin = c.RateLimit.PerMin
	if c.RateLimit.BurstMultiplier > 0 {
		rl.BurstMultiplier = c.RateLimit.BurstMultiplier
	}
	return rl
}
