package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jingkaihe/skillrt/pkg/config"
	"github.com/jingkaihe/skillrt/pkg/logger"
	"github.com/jingkaihe/skillrt/pkg/presenter"
	"github.com/jingkaihe/skillrt/pkg/telemetry"
)

var (
	cfg            config.Config
	out            = presenter.New()
	shutdownTracer = func(context.Context) error { return nil }
)

// flagBindings maps config keys to the persistent flags overriding them
var flagBindings = map[string]string{
	"log_level":                     "log-level",
	"log_format":                    "log-format",
	"skills.dirs":                   "skills-dir",
	"platform.min_contract_version": "min-contract-version",
}

var rootCmd = &cobra.Command{
	Use:   "skillrt",
	Short: "Run external skills behind one execution contract",
	Long: `skillrt discovers skill descriptors, normalizes them into canonical skill
contracts, folds near-duplicates and executes them through the matching runtime:
templated prompts, direct functions, multi-step workflows and MCP tool bridges.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return setup(cmd)
	},
	PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
		return shutdownTracer(cmd.Context())
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Help()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Config file (default $HOME/.skillrt/config.yaml, then ./config.yaml)")
	flags.String("log-level", "", "Log level (panic, fatal, error, warn, info, debug, trace)")
	flags.String("log-format", "", "Log format (text or json)")
	flags.StringSlice("skills-dir", nil, "Directory to scan for skill descriptors, repeatable")
	flags.String("min-contract-version", "", "Oldest skill contract version accepted")
	flags.BoolP("quiet", "q", false, "Only print results and errors")

	rootCmd.AddCommand(syncCmd, listCmd, showCmd, searchCmd, statsCmd, invokeCmd, versionCmd)
}

// setup loads configuration for the command being run. Persistent flags are
// read from cmd's root so subcommands see the values given before them.
func setup(cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	flags := cmd.Root().PersistentFlags()
	configFile, _ := flags.GetString("config")
	if err := config.Init(configFile); err != nil {
		return err
	}
	for key, name := range flagBindings {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			return errors.Wrapf(err, "failed to bind flag %s", name)
		}
	}

	loaded, err := config.Load()
	if err != nil {
		return err
	}
	cfg = loaded

	if err := logger.Configure(cfg.LogLevel, cfg.LogFormat); err != nil {
		return errors.Wrap(err, "invalid log level")
	}
	quiet, _ := flags.GetBool("quiet")
	out.SetQuiet(quiet)

	shutdown, err := telemetry.InitTracer(ctx, cfg.Tracing)
	if err != nil {
		logger.G(ctx).WithError(err).Warn("tracing disabled")
		return nil
	}
	shutdownTracer = shutdown
	return nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	cancel()
	if err != nil {
		out.Error(err, "")
		os.Exit(1)
	}
}
