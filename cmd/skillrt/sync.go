package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillrt/pkg/logger"
	"github.com/jingkaihe/skillrt/pkg/skills"
	"github.com/jingkaihe/skillrt/pkg/telemetry"
)

// SyncConfig holds the sync command options
type SyncConfig struct {
	// Threshold is nil unless --threshold was given
	Threshold *float64
	JSON      bool
	Watch     bool
	Debounce  time.Duration
}

// NewSyncConfig returns the default sync options
func NewSyncConfig() *SyncConfig {
	return &SyncConfig{
		Debounce: skills.DefaultDebounce,
	}
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Discover, normalize and deduplicate skill descriptors",
	Long: `Scan the skill directories, normalize every descriptor into a skill contract,
fold near-duplicates and register the survivors. Tools exposed by configured MCP
servers are registered as protocol-bridge skills.

Examples:
  skillrt sync
  skillrt sync --threshold 0.9 --json
  skillrt sync --skills-dir ./skills --watch`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runSync(cmd.Context(), getSyncConfigFromFlags(cmd))
	},
}

func init() {
	defaults := NewSyncConfig()
	syncCmd.Flags().Float64("threshold", skills.DefaultThreshold, "Similarity at or above which skills are merged, overrides skills.dedup_threshold")
	syncCmd.Flags().Bool("json", defaults.JSON, "Print the sync report as JSON")
	syncCmd.Flags().BoolP("watch", "w", defaults.Watch, "Keep running and re-sync when descriptors change")
	syncCmd.Flags().Duration("debounce", defaults.Debounce, "Quiet period before a watched change triggers a re-sync")
}

func getSyncConfigFromFlags(cmd *cobra.Command) *SyncConfig {
	config := NewSyncConfig()
	if cmd.Flags().Changed("threshold") {
		if threshold, err := cmd.Flags().GetFloat64("threshold"); err == nil {
			config.Threshold = &threshold
		}
	}
	if jsonOutput, err := cmd.Flags().GetBool("json"); err == nil {
		config.JSON = jsonOutput
	}
	if watch, err := cmd.Flags().GetBool("watch"); err == nil {
		config.Watch = watch
	}
	if debounce, err := cmd.Flags().GetDuration("debounce"); err == nil {
		config.Debounce = debounce
	}
	return config
}

// mergeView is the JSON form of one merge candidate
type mergeView struct {
	Canonical  string   `json:"canonical"`
	Duplicates []string `json:"duplicates"`
	Score      float64  `json:"score"`
}

// syncView is the JSON form of a sync pass
type syncView struct {
	Descriptors  int               `json:"descriptors"`
	Threshold    float64           `json:"threshold"`
	Registered   []string          `json:"registered"`
	Incompatible []string          `json:"incompatible"`
	Failed       map[string]string `json:"failed,omitempty"`
	Renamed      map[string]string `json:"renamed,omitempty"`
	Merges       []mergeView       `json:"merges"`
	Bridged      int               `json:"bridged"`
	ReadErrors   string            `json:"readErrors,omitempty"`
}

func newSyncView(o *syncOutcome) syncView {
	v := syncView{
		Descriptors:  o.Load.Descriptors,
		Threshold:    o.Load.Threshold,
		Registered:   o.Report.Registered,
		Incompatible: o.Report.Incompatible,
		Failed:       o.Report.Failed,
		Renamed:      o.Report.Renamed,
		Merges:       make([]mergeView, 0, len(o.Report.Candidates)),
		Bridged:      o.Bridge,
	}
	for _, c := range o.Report.Candidates {
		m := mergeView{Canonical: c.Canonical.CanonicalID, Score: c.Score}
		for _, d := range c.Duplicates {
			m.Duplicates = append(m.Duplicates, d.CanonicalID)
		}
		v.Merges = append(v.Merges, m)
	}
	if o.Load.ReadErrors != nil {
		v.ReadErrors = o.Load.ReadErrors.Error()
	}
	return v
}

func runSync(ctx context.Context, config *SyncConfig) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close(ctx)

	pass := func(ctx context.Context) error {
		var outcome *syncOutcome
		err := telemetry.WithSpan(ctx, "skill.sync", func(ctx context.Context) error {
			var err error
			outcome, err = a.sync(ctx, config.Threshold)
			return err
		})
		if err != nil {
			return err
		}
		return printSync(newSyncView(outcome), config.JSON)
	}
	if err := pass(ctx); err != nil {
		return err
	}
	if !config.Watch {
		return nil
	}

	dirs, err := skillDirs(cfg)
	if err != nil {
		return err
	}
	out.Info(fmt.Sprintf("Watching %d skill directories, press Ctrl+C to stop", len(dirs)))
	return skills.Watch(ctx, dirs, config.Debounce, func(ctx context.Context) {
		if err := pass(ctx); err != nil {
			logger.G(ctx).WithError(err).Error("re-sync failed")
		}
	})
}

func printSync(v syncView, jsonOutput bool) error {
	if jsonOutput {
		return out.JSON(v)
	}

	out.Section(fmt.Sprintf("Synced %d descriptors", v.Descriptors))
	out.Success(fmt.Sprintf("%d skills registered", len(v.Registered)))
	if v.Bridged > 0 {
		out.Success(fmt.Sprintf("%d mcp tools registered", v.Bridged))
	}
	for _, m := range v.Merges {
		out.Info(fmt.Sprintf("merged %v into %s (similarity %.3f)", m.Duplicates, m.Canonical, m.Score))
	}
	if len(v.Incompatible) > 0 {
		out.Warning(fmt.Sprintf("%d skills below the minimum contract version: %v", len(v.Incompatible), v.Incompatible))
	}
	renamed := make([]string, 0, len(v.Renamed))
	for id := range v.Renamed {
		renamed = append(renamed, id)
	}
	sort.Strings(renamed)
	for _, id := range renamed {
		out.Warning(fmt.Sprintf("%s collided with an earlier skill, registered as %s", v.Renamed[id], id))
	}
	failed := make([]string, 0, len(v.Failed))
	for id := range v.Failed {
		failed = append(failed, id)
	}
	sort.Strings(failed)
	for _, id := range failed {
		out.Warning(fmt.Sprintf("%s: %s", id, v.Failed[id]))
	}
	if v.ReadErrors != "" {
		out.Warning(v.ReadErrors)
	}
	return nil
}
