// Package presenter renders skillrt command output: status lines, skill
// listings and execution results, with color support and a quiet mode.
package presenter

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/fatih/color"

	skilltypes "github.com/jingkaihe/skillrt/pkg/types/skills"
)

// ColorMode selects when output is colored
type ColorMode int

const (
	// ColorAuto lets fatih/color detect the terminal
	ColorAuto ColorMode = iota
	// ColorAlways forces color
	ColorAlways
	// ColorNever disables color
	ColorNever
)

// ColorEnv overrides color detection with always, force, never or off
const ColorEnv = "SKILLRT_COLOR"

// TerminalPresenter writes human facing output. Errors go to errorOutput and
// are printed even in quiet mode.
type TerminalPresenter struct {
	output      io.Writer
	errorOutput io.Writer
	colorMode   ColorMode
	quiet       bool
}

// New creates a presenter on stdout and stderr
func New() *TerminalPresenter {
	return NewWithOptions(os.Stdout, os.Stderr, detectColorMode())
}

// NewWithOptions creates a presenter on the given writers
func NewWithOptions(output, errorOutput io.Writer, colorMode ColorMode) *TerminalPresenter {
	switch colorMode {
	case ColorAlways:
		color.NoColor = false
	case ColorNever:
		color.NoColor = true
	}
	return &TerminalPresenter{
		output:      output,
		errorOutput: errorOutput,
		colorMode:   colorMode,
	}
}

func detectColorMode() ColorMode {
	if os.Getenv("NO_COLOR") != "" {
		return ColorNever
	}
	switch os.Getenv(ColorEnv) {
	case "always", "force":
		return ColorAlways
	case "never", "off":
		return ColorNever
	default:
		return ColorAuto
	}
}

// Error prints err with an optional context prefix
func (p *TerminalPresenter) Error(err error, context string) {
	if err == nil {
		return
	}
	c := color.New(color.FgRed, color.Bold)
	if context != "" {
		c.Fprintf(p.errorOutput, "[ERROR] %s: %v\n", context, err)
		return
	}
	c.Fprintf(p.errorOutput, "[ERROR] %v\n", err)
}

// Success prints a green check line
func (p *TerminalPresenter) Success(message string) {
	if p.quiet {
		return
	}
	color.New(color.FgGreen, color.Bold).Fprintf(p.output, "✓ %s\n", message)
}

// Warning prints a yellow warning line
func (p *TerminalPresenter) Warning(message string) {
	if p.quiet {
		return
	}
	color.New(color.FgYellow, color.Bold).Fprintf(p.output, "⚠ %s\n", message)
}

// Info prints a plain line
func (p *TerminalPresenter) Info(message string) {
	if p.quiet {
		return
	}
	fmt.Fprintln(p.output, message)
}

// Section prints an underlined header
func (p *TerminalPresenter) Section(title string) {
	if p.quiet {
		return
	}
	c := color.New(color.Bold)
	c.Fprintln(p.output, title)
	c.Fprintln(p.output, strings.Repeat("-", len(title)))
}

// Separator prints a horizontal rule
func (p *TerminalPresenter) Separator() {
	if p.quiet {
		return
	}
	color.New(color.Faint).Fprintln(p.output, strings.Repeat("-", 60))
}

// Field prints an aligned key/value line. Empty values are skipped.
func (p *TerminalPresenter) Field(key string, value any) {
	if p.quiet {
		return
	}
	s := fmt.Sprint(value)
	if s == "" {
		return
	}
	color.New(color.FgCyan).Fprintf(p.output, "%-18s", key+":")
	fmt.Fprintf(p.output, " %s\n", s)
}

// Counts prints a titled block of counters sorted by key
func (p *TerminalPresenter) Counts(title string, counts map[string]int) {
	if p.quiet || len(counts) == 0 {
		return
	}
	color.New(color.Bold).Fprintln(p.output, title)
	for _, key := range sortedKeys(counts) {
		label := key
		if label == "" {
			label = "(none)"
		}
		fmt.Fprintf(p.output, "  %-16s %d\n", label, counts[key])
	}
}

// SkillLine prints a one line summary of a skill
func (p *TerminalPresenter) SkillLine(s *skilltypes.SkillContract) {
	if p.quiet || s == nil {
		return
	}
	color.New(color.Bold).Fprintf(p.output, "%-32s", s.CanonicalID)
	fmt.Fprintf(p.output, " %-16s %-10s %s\n", s.Kind, s.Lifecycle.Status, truncate(s.Description, 60))
}

// Skill prints every field of a skill worth reading at a terminal
func (p *TerminalPresenter) Skill(s *skilltypes.SkillContract) {
	if p.quiet || s == nil {
		return
	}
	p.Section(s.Name)
	p.Field("id", s.CanonicalID)
	p.Field("version", s.Version)
	p.Field("contract version", s.ContractVersion)
	p.Field("kind", s.Kind)
	p.Field("source", s.Source)
	p.Field("status", s.Lifecycle.Status)
	p.Field("category", s.Category)
	p.Field("description", s.Description)
	if names := s.RequiredToolNames(); len(names) > 0 {
		p.Field("required tools", strings.Join(names, ", "))
	}
	if len(s.MergedFrom) > 0 {
		p.Field("merged from", strings.Join(s.MergedFrom, ", "))
	}
	p.Field("origin", s.SourceInfo.Origin)
}

// Result prints an execution result. Failures go to the error output.
func (p *TerminalPresenter) Result(r *skilltypes.ExecutionResult) {
	if r == nil {
		return
	}
	if !r.Success {
		color.New(color.FgRed, color.Bold).Fprintf(p.errorOutput, "[%s] %s\n", r.ErrorKindOf(), r.ErrorMessage())
	} else if !p.quiet {
		fmt.Fprintln(p.output, formatOutput(r))
	}
	if p.quiet {
		return
	}
	c := color.New(color.FgCyan, color.Bold)
	c.Fprintf(p.output, "[Metrics] time: %dms | tokens: %d | retries: %d | tools: %s\n",
		r.Metrics.ExecutionTimeMs, r.Metrics.TokensUsed, r.Metrics.RetryCount, strings.Join(r.Metrics.ToolsUsed, ","))
	for _, key := range sortedKeys(r.Metadata) {
		if s, ok := r.Metadata[key].(string); ok && s != "" {
			p.Field(key, s)
		}
	}
}

// JSON writes v as indented JSON regardless of quiet mode
func (p *TerminalPresenter) JSON(v any) error {
	enc := json.NewEncoder(p.output)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// SetQuiet enables or disables quiet mode
func (p *TerminalPresenter) SetQuiet(quiet bool) {
	p.quiet = quiet
}

// IsQuiet reports whether quiet mode is on
func (p *TerminalPresenter) IsQuiet() bool {
	return p.quiet
}

func formatOutput(r *skilltypes.ExecutionResult) string {
	switch out := r.Output.(type) {
	case nil:
		return r.RawOutput
	case string:
		return out
	default:
		b, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return r.RawOutput
		}
		return string(b)
	}
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
