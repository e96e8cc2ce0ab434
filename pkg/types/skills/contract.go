// Package skills defines the canonical skill contract shared by the normalizer,
// the registry, the policy resolver and the runtimes.
package skills

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Kind is the invocation style of a skill
type Kind string

// Supported invocation styles
const (
	KindTemplatedPrompt   Kind = "templated-prompt"
	KindDirectFunction    Kind = "direct-function"
	KindMultiStepWorkflow Kind = "multi-step-workflow"
	KindProtocolBridge    Kind = "protocol-bridge"
)

// Kinds lists every invocation style known to the platform
var Kinds = []Kind{KindTemplatedPrompt, KindDirectFunction, KindMultiStepWorkflow, KindProtocolBridge}

// Source is where a skill record originated
type Source string

// Skill origins
const (
	SourceRepository     Source = "repository"
	SourceProtocolBridge Source = "protocol-bridge"
	SourceInternal       Source = "internal"
)

// Status is the lifecycle status of a skill
type Status string

// Lifecycle statuses
const (
	StatusActive     Status = "active"
	StatusDeprecated Status = "deprecated"
	StatusDisabled   Status = "disabled"
	StatusReview     Status = "review"
)

// Normalize lower-cases and trims the status so "DEPRECATED" and "deprecated" compare equal
func (s Status) Normalize() Status {
	return Status(strings.ToLower(strings.TrimSpace(string(s))))
}

// IsActive reports whether the status allows dispatch to a runtime
func (s Status) IsActive() bool {
	return s.Normalize() == StatusActive
}

// Default values stamped on every normalized record
const (
	DefaultCapabilityLevel = "externally-sourced"
	DefaultExecutionScope  = "agent-invoked"
)

// Schema is a structural (JSON-schema shaped) description of skill input or output
type Schema map[string]any

// EmptySchema returns an empty object schema
func EmptySchema() Schema {
	return Schema{"type": "object", "properties": map[string]any{}}
}

// RequiredTool is a tool a skill depends on. It is written either as a bare
// name or as a structured entry.
type RequiredTool struct {
	Name        string   `json:"name" yaml:"name" mapstructure:"name"`
	Required    bool     `json:"required" yaml:"required" mapstructure:"required"`
	Permissions []string `json:"permissions,omitempty" yaml:"permissions,omitempty" mapstructure:"permissions"`
}

// UnmarshalYAML accepts both `- web_search` and `- {name: web_search, required: true}`
func (t *RequiredTool) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		t.Name = strings.TrimSpace(value.Value)
		t.Required = true
		return nil
	}
	type plain RequiredTool
	aux := plain{Required: true}
	if err := value.Decode(&aux); err != nil {
		return errors.Wrap(err, "invalid required tool")
	}
	*t = RequiredTool(aux)
	return nil
}

// ExecutionPolicy holds the execution defaults a skill declares for itself
type ExecutionPolicy struct {
	TimeoutMs           int64    `json:"timeoutMs,omitempty" yaml:"timeoutMs,omitempty" mapstructure:"timeout_ms"`
	MaxRetries          int      `json:"maxRetries,omitempty" yaml:"maxRetries,omitempty" mapstructure:"max_retries"`
	MaxCost             float64  `json:"maxCost,omitempty" yaml:"maxCost,omitempty" mapstructure:"max_cost"`
	MaxTokens           int      `json:"maxTokens,omitempty" yaml:"maxTokens,omitempty" mapstructure:"max_tokens"`
	AllowedTools        []string `json:"allowedTools,omitempty" yaml:"allowedTools,omitempty" mapstructure:"allowed_tools"`
	RequireConfirmation bool     `json:"requireConfirmation,omitempty" yaml:"requireConfirmation,omitempty" mapstructure:"require_confirmation"`
}

// FunctionDefinition binds a direct-function skill to a registered handler
type FunctionDefinition struct {
	Name        string `json:"name" yaml:"name" mapstructure:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty" mapstructure:"description"`
	Parameters  Schema `json:"parameters,omitempty" yaml:"parameters,omitempty" mapstructure:"parameters"`
}

// WorkflowStep is one step of a multi-step workflow. Each step invokes another
// skill; Input is a template rendered against the previous step's output.
type WorkflowStep struct {
	Name   string         `json:"name,omitempty" yaml:"name,omitempty" mapstructure:"name"`
	Skill  string         `json:"skill" yaml:"skill" mapstructure:"skill"`
	Input  string         `json:"input,omitempty" yaml:"input,omitempty" mapstructure:"input"`
	Params map[string]any `json:"params,omitempty" yaml:"params,omitempty" mapstructure:"params"`
}

// BridgeBinding names the protocol-bridge server and tool a skill forwards to
type BridgeBinding struct {
	Server string `json:"server" yaml:"server" mapstructure:"server"`
	Tool   string `json:"tool" yaml:"tool" mapstructure:"tool"`
}

// Lifecycle holds status plus review and deprecation metadata
type Lifecycle struct {
	Status            Status     `json:"status" yaml:"status" mapstructure:"status"`
	ReviewedBy        string     `json:"reviewedBy,omitempty" yaml:"reviewedBy,omitempty" mapstructure:"reviewed_by"`
	ReviewedAt        *time.Time `json:"reviewedAt,omitempty" yaml:"reviewedAt,omitempty" mapstructure:"reviewed_at"`
	DeprecatedAt      *time.Time `json:"deprecatedAt,omitempty" yaml:"deprecatedAt,omitempty" mapstructure:"deprecated_at"`
	DeprecationReason string     `json:"deprecationReason,omitempty" yaml:"deprecationReason,omitempty" mapstructure:"deprecation_reason"`
	ReplacedBy        string     `json:"replacedBy,omitempty" yaml:"replacedBy,omitempty" mapstructure:"replaced_by"`
}

// SourceInfo records where a record was synced from
type SourceInfo struct {
	Origin    string    `json:"origin" yaml:"origin"`
	CommitRef string    `json:"commitRef,omitempty" yaml:"commitRef,omitempty"`
	SyncedAt  time.Time `json:"syncedAt" yaml:"syncedAt"`
}

// SkillContract is the canonical record every external skill is normalized into
type SkillContract struct {
	CanonicalID     string `json:"canonicalId" yaml:"canonicalId"`
	Version         string `json:"version" yaml:"version"`
	ContractVersion string `json:"contractVersion" yaml:"contractVersion"`
	Source          Source `json:"source" yaml:"source"`
	Kind            Kind   `json:"kind" yaml:"kind"`
	// InvocationPattern is the dispatch key used by records written before Kind existed
	InvocationPattern string `json:"invocationPattern,omitempty" yaml:"invocationPattern,omitempty"`

	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	Category    string `json:"category,omitempty" yaml:"category,omitempty"`

	InputSchema  Schema `json:"inputSchema" yaml:"inputSchema"`
	OutputSchema Schema `json:"outputSchema" yaml:"outputSchema"`

	RequiredTools   []RequiredTool   `json:"requiredTools,omitempty" yaml:"requiredTools,omitempty"`
	ExecutionPolicy *ExecutionPolicy `json:"executionPolicy,omitempty" yaml:"executionPolicy,omitempty"`

	SystemPrompt       string              `json:"systemPrompt,omitempty" yaml:"systemPrompt,omitempty"`
	UserPromptTemplate string              `json:"userPromptTemplate,omitempty" yaml:"userPromptTemplate,omitempty"`
	FunctionDefinition *FunctionDefinition `json:"functionDefinition,omitempty" yaml:"functionDefinition,omitempty"`
	Steps              []WorkflowStep      `json:"steps,omitempty" yaml:"steps,omitempty"`
	Bridge             *BridgeBinding      `json:"bridge,omitempty" yaml:"bridge,omitempty"`

	Dependencies    []string `json:"dependencies" yaml:"dependencies"`
	CapabilityLevel string   `json:"capabilityLevel" yaml:"capabilityLevel"`
	ExecutionScope  string   `json:"executionScope" yaml:"executionScope"`
	IsProtected     bool     `json:"isProtected" yaml:"isProtected"`

	Lifecycle  Lifecycle  `json:"lifecycle" yaml:"lifecycle"`
	SourceInfo SourceInfo `json:"sourceInfo" yaml:"sourceInfo"`

	// MergedFrom lists the canonical ids folded into this record by deduplication
	MergedFrom []string `json:"mergedFrom,omitempty" yaml:"mergedFrom,omitempty"`
}

// RequiredToolNames returns the names of the declared required tools in declaration order
func (s *SkillContract) RequiredToolNames() []string {
	names := make([]string, 0, len(s.RequiredTools))
	for _, t := range s.RequiredTools {
		if t.Name != "" {
			names = append(names, t.Name)
		}
	}
	return names
}

// Clone returns a deep copy of the contract
func (s *SkillContract) Clone() *SkillContract {
	if s == nil {
		return nil
	}
	c := *s
	c.InputSchema = CloneSchema(s.InputSchema)
	c.OutputSchema = CloneSchema(s.OutputSchema)
	if s.RequiredTools != nil {
		c.RequiredTools = make([]RequiredTool, len(s.RequiredTools))
		for i, t := range s.RequiredTools {
			t.Permissions = cloneStrings(t.Permissions)
			c.RequiredTools[i] = t
		}
	}
	if s.ExecutionPolicy != nil {
		p := *s.ExecutionPolicy
		p.AllowedTools = cloneStrings(p.AllowedTools)
		c.ExecutionPolicy = &p
	}
	if s.FunctionDefinition != nil {
		f := *s.FunctionDefinition
		f.Parameters = CloneSchema(f.Parameters)
		c.FunctionDefinition = &f
	}
	if s.Steps != nil {
		c.Steps = make([]WorkflowStep, len(s.Steps))
		for i, step := range s.Steps {
			if step.Params != nil {
				step.Params = CloneValue(step.Params).(map[string]any)
			}
			c.Steps[i] = step
		}
	}
	if s.Bridge != nil {
		b := *s.Bridge
		c.Bridge = &b
	}
	c.Lifecycle.ReviewedAt = cloneTime(s.Lifecycle.ReviewedAt)
	c.Lifecycle.DeprecatedAt = cloneTime(s.Lifecycle.DeprecatedAt)
	c.Dependencies = cloneStrings(s.Dependencies)
	c.MergedFrom = cloneStrings(s.MergedFrom)
	return &c
}

// CloneSchema deep-copies a schema. A nil schema stays nil.
func CloneSchema(s Schema) Schema {
	if s == nil {
		return nil
	}
	return Schema(CloneValue(map[string]any(s)).(map[string]any))
}

// CloneValue deep-copies maps and slices produced by JSON/YAML decoding.
// Any other value is returned as is.
func CloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = CloneValue(item)
		}
		return out
	case Schema:
		return CloneSchema(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = CloneValue(item)
		}
		return out
	case []string:
		return cloneStrings(val)
	default:
		return v
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
