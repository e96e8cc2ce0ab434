package main

import (
	"bytes"
	"testing"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillrt/pkg/config"
	"github.com/jingkaihe/skillrt/pkg/logger"
)

func TestSetupReadsRootFlagsFromSubcommand(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())
	dir := t.TempDir()

	flags := rootCmd.PersistentFlags()
	t.Cleanup(func() {
		viper.Reset()
		cfg = config.Config{}
		out.SetQuiet(false)
		for _, name := range []string{"min-contract-version", "log-level", "quiet"} {
			f := flags.Lookup(name)
			require.NoError(t, f.Value.Set(f.DefValue))
			f.Changed = false
		}
		dirs := flags.Lookup("skills-dir")
		require.NoError(t, dirs.Value.(pflag.SliceValue).Replace(nil))
		dirs.Changed = false
		require.NoError(t, logger.SetLogLevel("info"))
	})

	require.NoError(t, flags.Set("min-contract-version", "1.2.0"))
	require.NoError(t, flags.Set("log-level", "debug"))
	require.NoError(t, flags.Set("skills-dir", dir))
	require.NoError(t, flags.Set("quiet", "true"))

	require.NoError(t, setup(syncCmd))

	assert.Equal(t, "1.2.0", cfg.Platform.MinContractVersion)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, []string{dir}, cfg.Skills.Dirs)
	assert.True(t, out.IsQuiet())
}

func TestSetupRejectsInvalidContractVersion(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Chdir(t.TempDir())

	flags := rootCmd.PersistentFlags()
	t.Cleanup(func() {
		viper.Reset()
		cfg = config.Config{}
		f := flags.Lookup("min-contract-version")
		require.NoError(t, f.Value.Set(f.DefValue))
		f.Changed = false
	})

	require.NoError(t, flags.Set("min-contract-version", "latest"))
	err := setup(versionCmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "platform.min_contract_version")
}

func TestRootPrintsHelp(t *testing.T) {
	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	t.Cleanup(func() { rootCmd.SetOut(nil) })

	require.NoError(t, rootCmd.RunE(rootCmd, nil))
	assert.Contains(t, buf.String(), "skillrt discovers skill descriptors")
	assert.Contains(t, buf.String(), "invoke")
}
