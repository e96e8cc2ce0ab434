// Package builtins holds the direct-function skills shipped with skillrt. They
// are registered as internal skills next to whatever is discovered on disk.
package builtins

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/jingkaihe/skillrt/pkg/registry"
	"github.com/jingkaihe/skillrt/pkg/runtime"
	skilltypes "github.com/jingkaihe/skillrt/pkg/types/skills"
)

// Skill names
const (
	TextStatsName   = "text-stats"
	SkillSearchName = "skill-search"
)

// Searcher ranks registered skills
type Searcher interface {
	Search(query string, limit int) []registry.SearchHit
}

// TextStatsParams are the parameters of text-stats
type TextStatsParams struct {
	Text string `json:"text,omitempty" jsonschema:"description=Text to measure. Defaults to the invocation input."`
}

// TextStats counts the text given as parameter or input
type TextStats struct {
	Characters int `json:"characters"`
	Words      int `json:"words"`
	Lines      int `json:"lines"`
}

// SkillSearchParams are the parameters of skill-search
type SkillSearchParams struct {
	Query string `json:"query,omitempty" jsonschema:"description=Search terms. Defaults to the invocation input."`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum number of hits,minimum=0"`
}

// SkillSearchHit is one skill-search result
type SkillSearchHit struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Kind        string  `json:"kind"`
	Description string  `json:"description"`
	Score       float64 `json:"score"`
}

// DefaultSearchLimit caps skill-search when no limit is given
const DefaultSearchLimit = 10

// Functions returns every builtin. searcher backs skill-search and may be nil,
// in which case skill-search is left out.
func Functions(searcher Searcher) []runtime.Function {
	fns := []runtime.Function{
		runtime.NewTypedFunction(TextStatsName, "Count characters, words and lines of a text", textStats),
	}
	if searcher != nil {
		fns = append(fns, runtime.NewTypedFunction(SkillSearchName, "Find registered skills matching a query", skillSearch(searcher)))
	}
	return fns
}

func textStats(_ context.Context, params TextStatsParams, call runtime.FunctionCall) (any, error) {
	text := params.Text
	if text == "" {
		text = call.Input
	}
	stats := TextStats{
		Characters: utf8.RuneCountInString(text),
		Words:      len(strings.Fields(text)),
	}
	if text != "" {
		stats.Lines = strings.Count(strings.TrimSuffix(text, "\n"), "\n") + 1
	}
	return stats, nil
}

func skillSearch(searcher Searcher) func(context.Context, SkillSearchParams, runtime.FunctionCall) (any, error) {
	return func(_ context.Context, params SkillSearchParams, call runtime.FunctionCall) (any, error) {
		query := strings.TrimSpace(params.Query)
		if query == "" {
			query = strings.TrimSpace(call.Input)
		}
		if query == "" {
			return nil, &skilltypes.ExecutionError{Kind: skilltypes.ErrorKindValidation, Message: "a query is required"}
		}
		limit := params.Limit
		if limit <= 0 {
			limit = DefaultSearchLimit
		}

		hits := searcher.Search(query, limit)
		out := make([]SkillSearchHit, 0, len(hits))
		for _, hit := range hits {
			out = append(out, SkillSearchHit{
				ID:          hit.Skill.CanonicalID,
				Name:        hit.Skill.Name,
				Kind:        string(hit.Skill.Kind),
				Description: hit.Skill.Description,
				Score:       hit.Score,
			})
		}
		return out, nil
	}
}
