package llm

import (
	"os"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// Config is the llm section of the skillrt configuration
type Config struct {
	Provider  string `mapstructure:"provider"`
	Model     string `mapstructure:"model"`
	BaseURL   string `mapstructure:"base_url"`
	APIKey    string `mapstructure:"api_key"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// DefaultConfig is used when no llm section is configured
var DefaultConfig = Config{
	Provider:  ProviderAnthropic,
	MaxTokens: 4096,
}

// GetConfigFromViper decodes the llm section of the global viper instance
func GetConfigFromViper() (Config, error) {
	config := DefaultConfig
	raw := viper.GetStringMap("llm")
	if len(raw) == 0 {
		return config, nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &config,
		WeaklyTypedInput: true,
		ZeroFields:       false,
	})
	if err != nil {
		return config, errors.Wrap(err, "failed to create llm config decoder")
	}
	if err := decoder.Decode(raw); err != nil {
		return config, errors.Wrap(err, "failed to decode llm configuration")
	}
	return config, nil
}

// apiKeyEnv maps a provider to the environment variable its key falls back to
var apiKeyEnv = map[string]string{
	ProviderAnthropic: "ANTHROPIC_API_KEY",
	ProviderOpenAI:    "OPENAI_API_KEY",
}

// NewCompleterFromConfig builds a completer, reading the provider key from the
// environment when the config does not carry one
func NewCompleterFromConfig(config Config) (Completer, error) {
	provider := config.Provider
	if provider == "" {
		provider = DefaultConfig.Provider
	}
	envName, ok := apiKeyEnv[provider]
	if !ok {
		return nil, errors.Errorf("unsupported provider: %s", provider)
	}

	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv(envName)
	}
	if apiKey == "" {
		return nil, errors.Errorf("no API key for provider %s, set %s or llm.api_key", provider, envName)
	}

	return NewCompleter(provider, ProviderOptions{
		Model:     config.Model,
		MaxTokens: config.MaxTokens,
		APIKey:    apiKey,
		BaseURL:   config.BaseURL,
	})
}
