package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillrt/pkg/contract"
	"github.com/jingkaihe/skillrt/pkg/llm"
	"github.com/jingkaihe/skillrt/pkg/skills"
)

const sampleConfig = `
log_level: debug
log_format: json
platform:
  min_contract_version: 1.2.0
skills:
  dirs: [./skills, /opt/skills]
  dedup_threshold: 0.9
policy:
  defaults:
    free:
      timeout_ms: 5000
  users:
    alice:
      max_retries: 3
      allowed_tools: ["fetch*"]
  sessions:
    s-1:
      require_confirmation: true
llm:
  provider: openai
  model: gpt-4o-mini
mcp:
  servers:
    search:
      server_type: sse
      base_url: http://localhost:8080
      tool_white_list: [web_search]
tracing:
  enabled: true
  sampler: ratio
  ratio: 0.25
retry:
  initial_delay: 100ms
  backoff_type: fixed
`

func resetViper(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func writeConfig(t *testing.T, content string) string {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	resetViper(t)
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	require.NoError(t, Init(""))
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, contract.DefaultMinimum, cfg.Platform.MinContractVersion)
	require.NotNil(t, cfg.Skills.Threshold)
	assert.Equal(t, skills.DefaultThreshold, *cfg.Skills.Threshold)
	assert.False(t, cfg.Tracing.Enabled)
	assert.Equal(t, 500*time.Millisecond, cfg.Retry.InitialDelay)
	assert.Equal(t, llm.DefaultConfig, cfg.LLM)
}

func TestLoadFile(t *testing.T) {
	resetViper(t)

	require.NoError(t, Init(writeConfig(t, sampleConfig)))
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "1.2.0", cfg.Platform.MinContractVersion)
	assert.Equal(t, []string{"./skills", "/opt/skills"}, cfg.Skills.Dirs)
	require.NotNil(t, cfg.Skills.Threshold)
	assert.Equal(t, 0.9, *cfg.Skills.Threshold)

	require.Contains(t, cfg.Policy.Defaults, "free")
	require.NotNil(t, cfg.Policy.Defaults["free"].TimeoutMs)
	assert.Equal(t, int64(5000), *cfg.Policy.Defaults["free"].TimeoutMs)
	require.NotNil(t, cfg.Policy.Users["alice"].MaxRetries)
	assert.Equal(t, 3, *cfg.Policy.Users["alice"].MaxRetries)
	assert.Equal(t, []string{"fetch*"}, cfg.Policy.Users["alice"].AllowedTools)
	require.NotNil(t, cfg.Policy.Sessions["s-1"].RequireConfirmation)
	assert.True(t, *cfg.Policy.Sessions["s-1"].RequireConfirmation)

	assert.Equal(t, llm.ProviderOpenAI, cfg.LLM.Provider)
	assert.Equal(t, "gpt-4o-mini", cfg.LLM.Model)

	require.Contains(t, cfg.MCP.Servers, "search")
	assert.Equal(t, "http://localhost:8080", cfg.MCP.Servers["search"].BaseURL)
	assert.Equal(t, []string{"web_search"}, cfg.MCP.Servers["search"].ToolWhiteList)

	assert.True(t, cfg.Tracing.Enabled)
	assert.Equal(t, "ratio", cfg.Tracing.SamplerType)
	assert.Equal(t, 0.25, cfg.Tracing.SamplerRatio)

	assert.Equal(t, 100*time.Millisecond, cfg.Retry.InitialDelay)
	assert.Equal(t, 5*time.Second, cfg.Retry.MaxDelay)
	assert.Equal(t, "fixed", cfg.Retry.BackoffType)
}

func TestLoadEnvOverride(t *testing.T) {
	resetViper(t)
	t.Setenv("SKILLRT_LOG_LEVEL", "warn")
	t.Setenv("SKILLRT_PLATFORM_MIN_CONTRACT_VERSION", "2.0.0")

	require.NoError(t, Init(writeConfig(t, sampleConfig)))
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, "2.0.0", cfg.Platform.MinContractVersion)
}

func TestLoadInvalidMinimum(t *testing.T) {
	resetViper(t)

	require.NoError(t, Init(writeConfig(t, "platform:\n  min_contract_version: newest\n")))
	_, err := Load()
	assert.ErrorContains(t, err, "platform.min_contract_version")
}

func TestInitMissingExplicitFile(t *testing.T) {
	resetViper(t)
	assert.Error(t, Init(filepath.Join(t.TempDir(), "absent.yaml")))
}

func TestLoadZeroThreshold(t *testing.T) {
	resetViper(t)

	require.NoError(t, Init(writeConfig(t, "skills:\n  dedup_threshold: 0\n")))
	cfg, err := Load()
	require.NoError(t, err)
	require.NotNil(t, cfg.Skills.Threshold)
	assert.Equal(t, 0.0, *cfg.Skills.Threshold)
}
