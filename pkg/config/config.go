// Package config loads the skillrt configuration from config.yaml, SKILLRT_*
// environment variables and bound command line flags.
package config

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/jingkaihe/skillrt/pkg/bridge"
	"github.com/jingkaihe/skillrt/pkg/contract"
	"github.com/jingkaihe/skillrt/pkg/llm"
	"github.com/jingkaihe/skillrt/pkg/policy"
	"github.com/jingkaihe/skillrt/pkg/runtime"
	"github.com/jingkaihe/skillrt/pkg/skills"
	"github.com/jingkaihe/skillrt/pkg/telemetry"
)

// EnvPrefix prefixes every environment override, e.g. SKILLRT_LOG_LEVEL
const EnvPrefix = "SKILLRT"

// PlatformConfig holds platform wide settings
type PlatformConfig struct {
	MinContractVersion string `mapstructure:"min_contract_version"`
}

// Config is the full skillrt configuration
type Config struct {
	LogLevel  string              `mapstructure:"log_level"`
	LogFormat string              `mapstructure:"log_format"`
	Platform  PlatformConfig      `mapstructure:"platform"`
	Skills    skills.LoadConfig   `mapstructure:"skills"`
	Policy    policy.Config       `mapstructure:"policy"`
	MCP       bridge.Config       `mapstructure:"mcp"`
	Tracing   telemetry.Config    `mapstructure:"tracing"`
	Retry     runtime.RetryConfig `mapstructure:"retry"`
	// LLM is decoded by llm.GetConfigFromViper so provider defaults apply
	LLM llm.Config `mapstructure:"-"`
}

// SetDefaults registers the default value of every leaf key so environment
// overrides are picked up by Unmarshal
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("platform.min_contract_version", contract.DefaultMinimum)
	v.SetDefault("skills.dirs", []string{})
	v.SetDefault("skills.patterns", []string{})
	v.SetDefault("skills.ignore", []string{})
	v.SetDefault("skills.dedup_threshold", skills.DefaultThreshold)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", telemetry.DefaultTracerName)
	v.SetDefault("tracing.sampler", "always")
	v.SetDefault("tracing.ratio", 1.0)
	v.SetDefault("retry.initial_delay", runtime.DefaultRetryConfig.InitialDelay)
	v.SetDefault("retry.max_delay", runtime.DefaultRetryConfig.MaxDelay)
	v.SetDefault("retry.backoff_type", runtime.DefaultRetryConfig.BackoffType)
}

// Init prepares the global viper instance. configFile, when set, replaces the
// config.yaml search in $HOME/.skillrt and the working directory. A missing
// config file is not an error.
func Init(configFile string) error {
	v := viper.GetViper()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	SetDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("$HOME/.skillrt")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return errors.Wrap(err, "failed to read config file")
	}
	return nil
}

// Load decodes the global viper instance
func Load() (Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, errors.Wrap(err, "failed to decode configuration")
	}

	llmConfig, err := llm.GetConfigFromViper()
	if err != nil {
		return cfg, err
	}
	cfg.LLM = llmConfig

	if cfg.Platform.MinContractVersion != "" {
		if err := contract.Validate(cfg.Platform.MinContractVersion); err != nil {
			return cfg, errors.Wrap(err, "platform.min_contract_version")
		}
	}
	return cfg, nil
}
