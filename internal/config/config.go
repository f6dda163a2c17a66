// Package config loads fundscope settings from defaults, an optional YAML
// file and FUNDSCOPE_* environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ZanzyTHEbar/fundscope/internal/analysis"
	"github.com/ZanzyTHEbar/fundscope/internal/currency"
	apperrors "github.com/ZanzyTHEbar/fundscope/internal/errors"
)

// EnvPrefix prefixes every environment override, e.g. FUNDSCOPE_HTTP_PORT.
const EnvPrefix = "FUNDSCOPE"

// Config is the resolved process configuration.
type Config struct {
	DataDir string `mapstructure:"data_dir"`

	HTTP struct {
		Port           int      `mapstructure:"port"`
		AllowedOrigins []string `mapstructure:"allowed_origins"`
		// CacheTTL is how long read responses are served from memory; zero
		// disables the response cache.
		CacheTTL time.Duration `mapstructure:"cache_ttl"`
	} `mapstructure:"http"`

	Log struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"log"`

	Currency struct {
		// ADAUSDRate is kept raw; the normalizer validates it and falls back.
		ADAUSDRate string `mapstructure:"ada_usd_rate"`
		CutoffFund int    `mapstructure:"cutoff_fund"`
	} `mapstructure:"currency"`

	ROI struct {
		BaselineUSD float64 `mapstructure:"baseline_usd"`
		Floor       float64 `mapstructure:"floor"`
	} `mapstructure:"roi"`

	Batch struct {
		Concurrency int `mapstructure:"concurrency"`
	} `mapstructure:"batch"`

	Percentile struct {
		Ties string `mapstructure:"ties"`
	} `mapstructure:"percentile"`

	Accountability struct {
		AutoPublish bool `mapstructure:"auto_publish"`
	} `mapstructure:"accountability"`

	Signals struct {
		SourceTimeout time.Duration `mapstructure:"source_timeout"`
	} `mapstructure:"signals"`

	GitHub struct {
		Token             string  `mapstructure:"token"`
		BaseURL           string  `mapstructure:"base_url"`
		RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	} `mapstructure:"github"`

	Blockfrost struct {
		ProjectID         string  `mapstructure:"project_id"`
		BaseURL           string  `mapstructure:"base_url"`
		RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	} `mapstructure:"blockfrost"`

	Proposals struct {
		BaseURL string `mapstructure:"base_url"`
	} `mapstructure:"proposals"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	RateLimit struct {
		RequestsPerMinute int `mapstructure:"requests_per_minute"`
	} `mapstructure:"ratelimit"`

	Auth struct {
		JWTSecret string `mapstructure:"jwt_secret"`
	} `mapstructure:"auth"`
}

// SetDefaults registers every key with its default so env overrides bind
// even when no config file mentions the key.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "./data")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.allowed_origins", []string{"*"})
	v.SetDefault("http.cache_ttl", 30*time.Second)
	v.SetDefault("log.level", "info")
	v.SetDefault("currency.ada_usd_rate", "")
	v.SetDefault("currency.cutoff_fund", currency.DefaultCutoffFund)
	v.SetDefault("roi.baseline_usd", analysis.DefaultBaselineUSD)
	v.SetDefault("roi.floor", analysis.DefaultFundingFloor)
	v.SetDefault("batch.concurrency", 4)
	v.SetDefault("percentile.ties", string(analysis.TiePositional))
	v.SetDefault("accountability.auto_publish", false)
	v.SetDefault("signals.source_timeout", 2*time.Minute)
	v.SetDefault("github.token", "")
	v.SetDefault("github.base_url", "https://api.github.com")
	v.SetDefault("github.requests_per_second", 1.0)
	v.SetDefault("blockfrost.project_id", "")
	v.SetDefault("blockfrost.base_url", "https://cardano-mainnet.blockfrost.io/api/v0")
	v.SetDefault("blockfrost.requests_per_second", 10.0)
	v.SetDefault("proposals.base_url", "")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("ratelimit.requests_per_minute", 60)
	v.SetDefault("auth.jwt_secret", "")
}

// New returns a viper instance with defaults and env binding applied.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads cfgFile when given, otherwise looks for fundscope.yaml in the
// working directory and /etc/fundscope. A missing default file is fine; a
// missing explicit file is an error.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("fundscope")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/fundscope")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, apperrors.NewConfigurationError("failed to read config file", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.NewConfigurationError("failed to decode config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no component could run with. The ADA rate is
// deliberately not checked here; an invalid rate falls back at use.
func (c *Config) Validate() error {
	var problems []string
	if c.DataDir == "" {
		problems = append(problems, "data_dir must be set")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		problems = append(problems, fmt.Sprintf("http.port %d out of range", c.HTTP.Port))
	}
	if c.Batch.Concurrency <= 0 {
		problems = append(problems, "batch.concurrency must be positive")
	}
	if c.CutoffFund() <= 0 {
		problems = append(problems, "currency.cutoff_fund must be positive")
	}
	switch analysis.TieMode(c.Percentile.Ties) {
	case analysis.TiePositional, analysis.TieAverage:
	default:
		problems = append(problems, fmt.Sprintf("percentile.ties %q must be positional or average", c.Percentile.Ties))
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		problems = append(problems, "ratelimit.requests_per_minute must be positive")
	}
	if len(problems) > 0 {
		return apperrors.NewConfigurationError("invalid configuration: "+strings.Join(problems, "; "), nil)
	}
	return nil
}

// CutoffFund returns the first ADA-settled fund ordinal.
func (c *Config) CutoffFund() int { return c.Currency.CutoffFund }

// ROIParams returns the configured ROI baseline and floor.
func (c *Config) ROIParams() analysis.ROIParams {
	return analysis.ROIParams{BaselineUSD: c.ROI.BaselineUSD, Floor: c.ROI.Floor}
}

// TieMode returns the configured percentile tie handling.
func (c *Config) TieMode() analysis.TieMode {
	return analysis.ParseTieMode(c.Percentile.Ties)
}
