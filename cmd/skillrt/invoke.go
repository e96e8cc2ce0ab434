package main

import (
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillrt/pkg/orchestrator"
	"github.com/jingkaihe/skillrt/pkg/runtime"
	skilltypes "github.com/jingkaihe/skillrt/pkg/types/skills"
)

// InvokeConfig holds the invoke command options
type InvokeConfig struct {
	Params      []string
	TraceID     string
	ParentID    string
	SessionID   string
	UserID      string
	Tier        string
	WorkspaceID string
	Confirm     bool
	JSON        bool
}

// NewInvokeConfig returns the default invoke options
func NewInvokeConfig() *InvokeConfig {
	return &InvokeConfig{
		Tier: string(skilltypes.TierFree),
	}
}

// ErrExecutionFailed is returned when the invoked skill reports a failure
var ErrExecutionFailed = errors.New("skill execution failed")

var invokeCmd = &cobra.Command{
	Use:   "invoke <skill-id> [input]",
	Short: "Invoke a skill",
	Long: `Invoke a registered skill and print its execution result. Input is taken from
the second argument, or from stdin when it is "-". Parameters are given as
key=value pairs; values that parse as JSON keep their JSON type.

Examples:
  skillrt invoke text-stats "count these words"
  skillrt invoke web-search --param query=golang --param limit=5
  cat notes.md | skillrt invoke summarize - --tier pro --json
  skillrt invoke deploy --confirm --session s-42 --user alice`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInvoke(cmd, args, getInvokeConfigFromFlags(cmd))
	},
}

func init() {
	defaults := NewInvokeConfig()
	flags := invokeCmd.Flags()
	flags.StringArrayP("param", "p", defaults.Params, "Skill parameter as key=value, repeatable")
	flags.String("trace-id", defaults.TraceID, "Trace id to join (generated when empty)")
	flags.String("parent-id", defaults.ParentID, "Parent execution id")
	flags.String("session", defaults.SessionID, "Session id used for policy overrides")
	flags.String("user", defaults.UserID, "User id used for policy overrides")
	flags.String("tier", defaults.Tier, "User tier (free, pro or enterprise)")
	flags.String("workspace", defaults.WorkspaceID, "Workspace id passed to the skill")
	flags.Bool("confirm", defaults.Confirm, "Confirm skills that require confirmation")
	flags.Bool("json", defaults.JSON, "Print the execution result as JSON")
}

func getInvokeConfigFromFlags(cmd *cobra.Command) *InvokeConfig {
	config := NewInvokeConfig()
	flags := cmd.Flags()
	if params, err := flags.GetStringArray("param"); err == nil {
		config.Params = params
	}
	if v, err := flags.GetString("trace-id"); err == nil {
		config.TraceID = v
	}
	if v, err := flags.GetString("parent-id"); err == nil {
		config.ParentID = v
	}
	if v, err := flags.GetString("session"); err == nil {
		config.SessionID = v
	}
	if v, err := flags.GetString("user"); err == nil {
		config.UserID = v
	}
	if v, err := flags.GetString("tier"); err == nil {
		config.Tier = v
	}
	if v, err := flags.GetString("workspace"); err == nil {
		config.WorkspaceID = v
	}
	if v, err := flags.GetBool("confirm"); err == nil {
		config.Confirm = v
	}
	if v, err := flags.GetBool("json"); err == nil {
		config.JSON = v
	}
	return config
}

func runInvoke(cmd *cobra.Command, args []string, config *InvokeConfig) error {
	ctx := cmd.Context()

	input := ""
	if len(args) > 1 {
		input = args[1]
	}
	if input == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return errors.Wrap(err, "failed to read input from stdin")
		}
		input = string(data)
	}

	params, err := parseParams(config.Params)
	if err != nil {
		return err
	}
	if config.Confirm {
		if params == nil {
			params = map[string]any{}
		}
		params[runtime.ConfirmedParam] = true
	}

	a, _, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	wd, _ := os.Getwd()
	result := a.orchestrator.Invoke(ctx, orchestrator.Request{
		SkillID: args[0],
		Input:   input,
		Params:  params,
		Trace: orchestrator.TraceContext{
			TraceID:           config.TraceID,
			ParentExecutionID: config.ParentID,
			SessionID:         config.SessionID,
			UserID:            config.UserID,
		},
		UserTier:    skilltypes.UserTier(config.Tier),
		WorkspaceID: config.WorkspaceID,
		Metadata:    map[string]any{"cwd": wd, "client": "skillrt-cli"},
	})

	if config.JSON {
		if err := out.JSON(result); err != nil {
			return err
		}
	} else {
		out.Result(result)
	}
	if !result.Success {
		return errors.Wrapf(ErrExecutionFailed, "%s", result.ErrorKindOf())
	}
	return nil
}

// parseParams turns key=value pairs into a parameter map. Values that are
// valid JSON are decoded, anything else is kept as a string.
func parseParams(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	params := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errors.Errorf("invalid parameter %q, expected key=value", pair)
		}
		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			params[key] = decoded
		} else {
			params[key] = value
		}
	}
	return params, nil
}
