package main

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/jingkaihe/skillrt/pkg/registry"
	skilltypes "github.com/jingkaihe/skillrt/pkg/types/skills"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered skills",
	Long: `List the skills registered after a sync. Builtin and disabled skills are hidden
unless --all is given.

Examples:
  skillrt list
  skillrt list --kind direct-function --all
  skillrt list --source protocol-bridge --json`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, _, err := loadApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		all, _ := cmd.Flags().GetBool("all")
		kind, _ := cmd.Flags().GetString("kind")
		source, _ := cmd.Flags().GetString("source")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		list := a.registry.List(registry.ListOptions{
			IncludeInternal: all,
			IncludeDisabled: all,
			Kind:            skilltypes.Kind(kind),
			Source:          skilltypes.Source(source),
		})
		if jsonOutput {
			return out.JSON(list)
		}

		out.Section(fmt.Sprintf("Skills (%d)", len(list)))
		for _, s := range list {
			out.SkillLine(s)
		}
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <skill-id>",
	Short: "Show one skill contract",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, _, err := loadApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		s, ok := a.registry.Lookup(args[0])
		if !ok {
			return errors.Wrapf(registry.ErrNotFound, "skill %s", args[0])
		}
		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			return out.JSON(s)
		}
		out.Skill(s)
		if !a.registry.Compatible(s.CanonicalID) {
			out.Warning("contract version is below the platform minimum, invocations are rejected")
		}
		return nil
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search registered skills by name, description and category",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, _, err := loadApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		limit, _ := cmd.Flags().GetInt("limit")
		hits := a.registry.Search(strings.Join(args, " "), limit)
		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			return out.JSON(hits)
		}

		out.Section(fmt.Sprintf("Matches (%d)", len(hits)))
		for _, hit := range hits {
			out.SkillLine(hit.Skill)
		}
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the registry",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, _, err := loadApp(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		st := a.registry.Stats()
		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			return out.JSON(st)
		}

		out.Section("Registry")
		out.Field("total", st.Total)
		out.Field("enabled", st.Enabled)
		out.Field("disabled", st.Disabled)
		out.Field("internal", st.Internal)
		out.Field("incompatible", st.Incompatible)
		out.Field("merged", st.Merged)
		out.Counts("By kind", stringCounts(st.ByKind))
		out.Counts("By source", stringCounts(st.BySource))
		out.Counts("By status", stringCounts(st.ByStatus))
		return nil
	},
}

func init() {
	listCmd.Flags().Bool("all", false, "Include builtin and disabled skills")
	listCmd.Flags().String("kind", "", "Only list skills of this kind")
	listCmd.Flags().String("source", "", "Only list skills from this source")
	searchCmd.Flags().Int("limit", 10, "Maximum number of matches")
	for _, cmd := range []*cobra.Command{listCmd, showCmd, searchCmd, statsCmd} {
		cmd.Flags().Bool("json", false, "Print JSON")
	}
}

func stringCounts[K ~string](in map[K]int) map[string]int {
	counts := make(map[string]int, len(in))
	for k, v := range in {
		counts[string(k)] = v
	}
	return counts
}
