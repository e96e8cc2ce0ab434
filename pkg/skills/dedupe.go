package skills

import (
	"context"
	"math"
	"regexp"
	"strings"

	"github.com/jingkaihe/skillrt/pkg/logger"
	skilltypes "github.com/jingkaihe/skillrt/pkg/types/skills"
)

const (
	// DefaultThreshold is the similarity at or above which two skills are merged
	DefaultThreshold = 0.82

	textWeight   = 0.7
	schemaWeight = 0.3
)

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}]+`)

// MergeCandidate groups a canonical survivor with the records folded into it
type MergeCandidate struct {
	Canonical  *skilltypes.SkillContract
	Duplicates []*skilltypes.SkillContract
	// Score is the highest similarity that triggered a fold into Canonical
	Score float64
}

// DedupResult is the output of one deduplication pass
type DedupResult struct {
	Canonical  []*skilltypes.SkillContract
	Candidates []MergeCandidate
}

// Deduplicate clusters near-duplicate skills with a greedy single pass: the first
// remaining skill becomes the base, every later skill scoring at or above the
// threshold against the base is folded into it, and the process repeats on
// what is left. Clustering is order dependent and first-seen wins.
//
// Inputs are not modified; canonical records are clones carrying MergedFrom.
func Deduplicate(ctx context.Context, records []*skilltypes.SkillContract, threshold float64) DedupResult {
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		logger.G(ctx).WithField("threshold", threshold).Warn("dedup threshold out of range, using default")
		threshold = DefaultThreshold
	}

	remaining := make([]*skilltypes.SkillContract, 0, len(records))
	for _, r := range records {
		if r != nil {
			remaining = append(remaining, r)
		}
	}

	result := DedupResult{
		Canonical:  make([]*skilltypes.SkillContract, 0, len(remaining)),
		Candidates: []MergeCandidate{},
	}

	for len(remaining) > 0 {
		base := remaining[0]
		var (
			duplicates []*skilltypes.SkillContract
			rest       []*skilltypes.SkillContract
			best       float64
		)
		for _, other := range remaining[1:] {
			score := Similarity(base, other)
			if score >= threshold {
				duplicates = append(duplicates, other)
				best = math.Max(best, score)
				continue
			}
			rest = append(rest, other)
		}

		survivor := base.Clone()
		if len(duplicates) > 0 {
			for _, d := range duplicates {
				survivor.MergedFrom = append(survivor.MergedFrom, d.CanonicalID)
			}
			result.Candidates = append(result.Candidates, MergeCandidate{
				Canonical:  survivor,
				Duplicates: duplicates,
				Score:      best,
			})
			logger.G(ctx).WithField("canonical_id", survivor.CanonicalID).
				WithField("merged", survivor.MergedFrom).
				WithField("score", best).
				Debug("merged duplicate skills")
		}
		result.Canonical = append(result.Canonical, survivor)
		remaining = rest
	}

	return result
}

// Similarity scores two skills in [0,1]: 0.7 × token Jaccard over name and
// description plus 0.3 × Jaccard over schema field names, rounded to 3 decimals
func Similarity(a, b *skilltypes.SkillContract) float64 {
	text := jaccard(textTokens(a), textTokens(b))
	schema := jaccard(schemaFields(a), schemaFields(b))
	return round3(textWeight*text + schemaWeight*schema)
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}

func textTokens(s *skilltypes.SkillContract) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range tokenPattern.FindAllString(strings.ToLower(s.Name+" "+s.Description), -1) {
		set[tok] = struct{}{}
	}
	return set
}

// schemaFields collects lower-cased property names from both schemas,
// descending through nested properties and items
func schemaFields(s *skilltypes.SkillContract) map[string]struct{} {
	set := make(map[string]struct{})
	collectFields(map[string]any(s.InputSchema), set)
	collectFields(map[string]any(s.OutputSchema), set)
	return set
}

func collectFields(node any, set map[string]struct{}) {
	var m map[string]any
	switch val := node.(type) {
	case map[string]any:
		m = val
	case skilltypes.Schema:
		m = val
	case []any:
		for _, item := range val {
			collectFields(item, set)
		}
		return
	default:
		return
	}

	if props, ok := asMap(m["properties"]); ok {
		for name, child := range props {
			set[strings.ToLower(name)] = struct{}{}
			collectFields(child, set)
		}
	}
	if items, ok := m["items"]; ok {
		collectFields(items, set)
	}
}

func asMap(v any) (map[string]any, bool) {
	switch val := v.(type) {
	case map[string]any:
		return val, true
	case skilltypes.Schema:
		return val, true
	}
	return nil, false
}

// jaccard is 1 for two empty sets and 0 when exactly one is empty
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}
