package skills

import (
	"fmt"
	"regexp"

	skilltypes "github.com/jingkaihe/skillrt/pkg/types/skills"
)

// Code-like descriptors are never executed or parsed as code. Only literal
// `key: "value"` (or `key = "value"`) assignments are read.
var codeLiteralPatterns = map[string]*regexp.Regexp{
	"name":        codeLiteral("name"),
	"description": codeLiteral("description"),
	"version":     codeLiteral("version"),
}

func codeLiteral(key string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(
		"(?m)(?:^|[\\s{,(])[\"']?%s[\"']?\\s*[:=]\\s*(?:\"([^\"\\n]*)\"|'([^'\\n]*)'|`([^`\\n]*)`)",
		regexp.QuoteMeta(key),
	))
}

func normalizeCode(rec *skilltypes.SkillContract, content string) {
	if v := matchLiteral(codeLiteralPatterns["name"], content); v != "" {
		rec.Name = v
	}
	if v := matchLiteral(codeLiteralPatterns["description"], content); v != "" {
		rec.Description = v
	}
	if v := matchLiteral(codeLiteralPatterns["version"], content); v != "" {
		rec.Version = v
	}
}

func matchLiteral(re *regexp.Regexp, content string) string {
	m := re.FindStringSubmatch(content)
	if m == nil {
		return ""
	}
	for _, group := range m[1:] {
		if group != "" {
			return group
		}
	}
	return ""
}
