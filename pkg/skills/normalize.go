package skills

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/jingkaihe/skillrt/pkg/contract"
	"github.com/jingkaihe/skillrt/pkg/logger"
	skilltypes "github.com/jingkaihe/skillrt/pkg/types/skills"
)

const (
	defaultSkillVersion = "1.0.0"
	unnamedSkill        = "unnamed-skill"
)

var (
	nonAlphanumeric = regexp.MustCompile(`[^\p{L}\p{N}]+`)

	// now is replaced in tests to pin sync timestamps
	now = func() time.Time { return time.Now().UTC() }
)

// CanonicalID derives a stable identifier from a skill name
func CanonicalID(name string) string {
	id := nonAlphanumeric.ReplaceAllString(strings.ToLower(name), "-")
	return strings.Trim(id, "-")
}

// NormalizeAll normalizes a batch of descriptors. Malformed descriptors degrade
// to best-effort records, so the output always has one record per input.
func NormalizeAll(ctx context.Context, raws []RawDescriptor) []*skilltypes.SkillContract {
	log := logger.G(ctx)
	records := make([]*skilltypes.SkillContract, 0, len(raws))
	for _, raw := range raws {
		rec := Normalize(raw)
		log.WithField("path", raw.Path).
			WithField("canonical_id", rec.CanonicalID).
			WithField("shape", DetectShape(raw.Path)).
			Debug("normalized skill descriptor")
		records = append(records, rec)
	}
	return records
}

// Normalize converts one raw descriptor into a skill contract. It never fails:
// unparsable content falls back to heading and first-paragraph extraction.
func Normalize(raw RawDescriptor) (rec *skilltypes.SkillContract) {
	rec = newRecord(raw)

	defer func() {
		if r := recover(); r != nil {
			rec = newRecord(raw)
			applyHeuristics(rec, raw.Content)
			finalize(rec, raw)
		}
	}()

	switch DetectShape(raw.Path) {
	case ShapeMarkdown:
		normalizeMarkdown(rec, raw.Content)
	case ShapeStructured:
		normalizeStructured(rec, raw.Content)
	case ShapeCode:
		normalizeCode(rec, raw.Content)
	default:
		applyHeuristics(rec, raw.Content)
	}

	finalize(rec, raw)
	return rec
}

// NormalizeBridgeTool builds a protocol-bridge record for a tool listed by a bridge server
func NormalizeBridgeTool(tool BridgeTool) *skilltypes.SkillContract {
	raw := RawDescriptor{
		Path:   fmt.Sprintf("bridge://%s/%s", tool.Server, tool.Name),
		Source: skilltypes.SourceProtocolBridge,
	}
	rec := newRecord(raw)
	rec.Name = tool.Name
	rec.Description = strings.TrimSpace(tool.Description)
	rec.Kind = skilltypes.KindProtocolBridge
	rec.Bridge = &skilltypes.BridgeBinding{Server: tool.Server, Tool: tool.Name}
	rec.RequiredTools = []skilltypes.RequiredTool{{Name: tool.Name, Required: true}}
	if tool.InputSchema != nil {
		rec.InputSchema = skilltypes.CloneSchema(skilltypes.Schema(tool.InputSchema))
	}
	rec.CanonicalID = CanonicalID(tool.Server + "-" + tool.Name)
	finalize(rec, raw)
	return rec
}

func newRecord(raw RawDescriptor) *skilltypes.SkillContract {
	source := raw.Source
	if source == "" {
		source = skilltypes.SourceRepository
	}
	origin := raw.Origin
	if origin == "" {
		origin = raw.Path
	}
	return &skilltypes.SkillContract{
		Source: source,
		SourceInfo: skilltypes.SourceInfo{
			Origin:    origin,
			CommitRef: raw.CommitRef,
			SyncedAt:  now(),
		},
	}
}

// finalize fills every default and derives the canonical id
func finalize(rec *skilltypes.SkillContract, raw RawDescriptor) {
	rec.Name = strings.TrimSpace(rec.Name)
	rec.Description = strings.TrimSpace(rec.Description)
	if rec.Name == "" {
		rec.Name = nameFromPath(raw.Path)
	}
	if rec.Name == "" {
		rec.Name = unnamedSkill
	}

	if rec.CanonicalID == "" {
		rec.CanonicalID = CanonicalID(rec.Name)
	} else {
		rec.CanonicalID = CanonicalID(rec.CanonicalID)
	}
	if rec.CanonicalID == "" {
		rec.CanonicalID = CanonicalID(nameFromPath(raw.Path))
	}
	if rec.CanonicalID == "" {
		rec.CanonicalID = unnamedSkill
	}

	if rec.Version == "" {
		rec.Version = defaultSkillVersion
	}
	if rec.ContractVersion == "" {
		rec.ContractVersion = contract.CurrentVersion
	}
	if rec.Kind == "" {
		rec.Kind = skilltypes.KindTemplatedPrompt
	}
	if rec.InputSchema == nil {
		rec.InputSchema = skilltypes.EmptySchema()
	}
	if rec.OutputSchema == nil {
		rec.OutputSchema = skilltypes.EmptySchema()
	}
	if rec.Dependencies == nil {
		rec.Dependencies = []string{}
	}
	if rec.CapabilityLevel == "" {
		rec.CapabilityLevel = skilltypes.DefaultCapabilityLevel
	}
	if rec.ExecutionScope == "" {
		rec.ExecutionScope = skilltypes.DefaultExecutionScope
	}
	rec.Lifecycle.Status = rec.Lifecycle.Status.Normalize()
	if rec.Lifecycle.Status == "" {
		rec.Lifecycle.Status = skilltypes.StatusActive
	}
	requireBridgeTool(rec)
}

// requireBridgeTool declares the bound tool so policy can allow it
func requireBridgeTool(rec *skilltypes.SkillContract) {
	if rec.Bridge == nil || rec.Bridge.Tool == "" {
		return
	}
	for _, t := range rec.RequiredTools {
		if t.Name == rec.Bridge.Tool {
			return
		}
	}
	rec.RequiredTools = append(rec.RequiredTools, skilltypes.RequiredTool{Name: rec.Bridge.Tool, Required: true})
}

// nameFromPath uses the file name, or the parent directory for SKILL.md style files
func nameFromPath(path string) string {
	if path == "" {
		return ""
	}
	base := filepath.Base(path)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	switch strings.ToLower(stem) {
	case "skill", "readme", "index", "manifest":
		if dir := filepath.Base(filepath.Dir(path)); dir != "." && dir != string(filepath.Separator) {
			return dir
		}
	}
	return stem
}
