package skills

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	skilltypes "github.com/jingkaihe/skillrt/pkg/types/skills"
)

func normalizeStructured(rec *skilltypes.SkillContract, content string) {
	var doc any
	if err := yaml.Unmarshal([]byte(content), &doc); err != nil {
		applyHeuristics(rec, content)
		return
	}
	fields, ok := normalizeYAMLValue(doc).(map[string]any)
	if !ok || len(fields) == 0 {
		applyHeuristics(rec, content)
		return
	}
	applyFields(rec, fields)
}

// fieldSet looks keys up ignoring case, '-' and '_' so that input_schema,
// inputSchema and input-schema are the same key
type fieldSet map[string]any

func newFieldSet(fields map[string]any) fieldSet {
	fs := make(fieldSet, len(fields))
	for k, v := range fields {
		fs[foldKey(k)] = v
	}
	return fs
}

func foldKey(k string) string {
	k = strings.ToLower(k)
	return strings.NewReplacer("_", "", "-", "", " ", "").Replace(k)
}

func (fs fieldSet) get(aliases ...string) (any, bool) {
	for _, alias := range aliases {
		if v, ok := fs[foldKey(alias)]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func (fs fieldSet) str(aliases ...string) string {
	v, ok := fs.get(aliases...)
	if !ok {
		return ""
	}
	return strings.TrimSpace(toString(v))
}

// applyFields maps recognized descriptor keys onto the record, skipping values
// of the wrong shape rather than failing
func applyFields(rec *skilltypes.SkillContract, fields map[string]any) {
	fs := newFieldSet(fields)

	if v := fs.str("canonicalId", "id"); v != "" {
		rec.CanonicalID = v
	}
	if v := fs.str("name", "title"); v != "" {
		rec.Name = v
	}
	if v := fs.str("description", "summary"); v != "" {
		rec.Description = v
	}
	if v := fs.str("version"); v != "" {
		rec.Version = v
	}
	if v := fs.str("contractVersion"); v != "" {
		rec.ContractVersion = v
	}
	if v := fs.str("kind"); v != "" {
		rec.Kind = skilltypes.Kind(strings.ToLower(v))
	}
	if v := fs.str("invocationPattern"); v != "" {
		rec.InvocationPattern = strings.ToLower(v)
	}
	if v := fs.str("category"); v != "" {
		rec.Category = v
	}
	if v := fs.str("source"); v != "" {
		switch s := skilltypes.Source(strings.ToLower(v)); s {
		case skilltypes.SourceRepository, skilltypes.SourceProtocolBridge, skilltypes.SourceInternal:
			rec.Source = s
		}
	}
	if v, ok := fs.get("inputSchema", "input"); ok {
		if schema, ok := toSchema(v); ok {
			rec.InputSchema = schema
		}
	}
	if v, ok := fs.get("outputSchema", "output"); ok {
		if schema, ok := toSchema(v); ok {
			rec.OutputSchema = schema
		}
	}
	if v := fs.str("systemPrompt"); v != "" {
		rec.SystemPrompt = v
	}
	if v := fs.str("userPromptTemplate", "promptTemplate"); v != "" {
		rec.UserPromptTemplate = v
	}
	if v, ok := fs.get("functionDefinition", "function"); ok {
		rec.FunctionDefinition = toFunctionDefinition(v)
	}
	if v, ok := fs.get("dependencies"); ok {
		rec.Dependencies = toStrings(v)
	}
	if v, ok := fs.get("requiredTools", "tools"); ok {
		rec.RequiredTools = toRequiredTools(v)
	}
	if v, ok := fs.get("executionPolicy", "policy"); ok {
		var policy skilltypes.ExecutionPolicy
		if err := decodeInto(v, &policy); err == nil {
			rec.ExecutionPolicy = &policy
		}
	}
	if v, ok := fs.get("allowedTools"); ok {
		if rec.ExecutionPolicy == nil {
			rec.ExecutionPolicy = &skilltypes.ExecutionPolicy{}
		}
		rec.ExecutionPolicy.AllowedTools = toStrings(v)
	}
	if v, ok := fs.get("lifecycle"); ok {
		var lifecycle skilltypes.Lifecycle
		if err := decodeInto(v, &lifecycle); err == nil {
			rec.Lifecycle = lifecycle
		}
	}
	if v := fs.str("status"); v != "" {
		rec.Lifecycle.Status = skilltypes.Status(v)
	}
	if v, ok := fs.get("steps", "workflow"); ok {
		var steps []skilltypes.WorkflowStep
		if err := decodeInto(v, &steps); err == nil {
			rec.Steps = steps
		}
	}
	if v, ok := fs.get("bridge"); ok {
		var binding skilltypes.BridgeBinding
		if err := decodeInto(v, &binding); err == nil && binding.Tool != "" {
			rec.Bridge = &binding
		}
	}
	if v := fs.str("capabilityLevel"); v != "" {
		rec.CapabilityLevel = v
	}
	if v := fs.str("executionScope"); v != "" {
		rec.ExecutionScope = v
	}
	if v, ok := fs.get("isProtected", "protected"); ok {
		if b, ok := v.(bool); ok {
			rec.IsProtected = b
		}
	}
	if v := fs.str("commitRef", "commit"); v != "" && rec.SourceInfo.CommitRef == "" {
		rec.SourceInfo.CommitRef = v
	}
}

// toSchema accepts an object or a JSON string encoding one
func toSchema(v any) (skilltypes.Schema, bool) {
	switch val := v.(type) {
	case map[string]any:
		return skilltypes.CloneSchema(skilltypes.Schema(val)), true
	case string:
		var m map[string]any
		if err := json.Unmarshal([]byte(val), &m); err == nil {
			return skilltypes.Schema(m), true
		}
	}
	return nil, false
}

func toFunctionDefinition(v any) *skilltypes.FunctionDefinition {
	switch val := v.(type) {
	case string:
		if strings.TrimSpace(val) == "" {
			return nil
		}
		return &skilltypes.FunctionDefinition{Name: strings.TrimSpace(val)}
	case map[string]any:
		def := &skilltypes.FunctionDefinition{}
		fs := newFieldSet(val)
		def.Name = fs.str("name")
		def.Description = fs.str("description")
		if p, ok := fs.get("parameters", "inputSchema"); ok {
			if schema, ok := toSchema(p); ok {
				def.Parameters = schema
			}
		}
		if def.Name == "" {
			return nil
		}
		return def
	}
	return nil
}

func toRequiredTools(v any) []skilltypes.RequiredTool {
	items, ok := v.([]any)
	if !ok {
		names := toStrings(v)
		items = make([]any, len(names))
		for i, n := range names {
			items[i] = n
		}
	}
	tools := make([]skilltypes.RequiredTool, 0, len(items))
	for _, item := range items {
		switch val := item.(type) {
		case string:
			if name := strings.TrimSpace(val); name != "" {
				tools = append(tools, skilltypes.RequiredTool{Name: name, Required: true})
			}
		case map[string]any:
			tool := skilltypes.RequiredTool{Required: true}
			if err := decodeInto(val, &tool); err == nil && tool.Name != "" {
				tools = append(tools, tool)
			}
		}
	}
	return tools
}

// toStrings accepts a list or a comma separated string
func toStrings(v any) []string {
	var out []string
	switch val := v.(type) {
	case []any:
		for _, item := range val {
			if s := strings.TrimSpace(toString(item)); s != "" {
				out = append(out, s)
			}
		}
	case []string:
		for _, item := range val {
			if s := strings.TrimSpace(item); s != "" {
				out = append(out, s)
			}
		}
	case string:
		for _, part := range strings.FieldsFunc(val, func(r rune) bool { return r == ',' || unicode.IsSpace(r) }) {
			out = append(out, part)
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}

func toString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case nil:
		return ""
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return fmt.Sprint(val)
	}
}

// decodeInto decodes a loosely typed descriptor block into a typed struct.
// Keys match struct tags with the same folding as descriptor keys.
func decodeInto(input any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeHookFunc(time.RFC3339),
		MatchName: func(mapKey, fieldName string) bool {
			return foldKey(mapKey) == foldKey(fieldName)
		},
	})
	if err != nil {
		return errors.Wrap(err, "failed to create descriptor decoder")
	}
	if err := decoder.Decode(timestampsToStrings(input)); err != nil {
		return errors.Wrap(err, "failed to decode descriptor block")
	}
	return nil
}

// timestampsToStrings rewrites decoded YAML timestamps as RFC3339 strings so the
// decode hook can turn them back into time.Time fields
func timestampsToStrings(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = timestampsToStrings(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = timestampsToStrings(item)
		}
		return out
	case time.Time:
		return val.Format(time.RFC3339)
	default:
		return v
	}
}
