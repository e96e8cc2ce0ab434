package skills

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"gopkg.in/yaml.v3"

	skilltypes "github.com/jingkaihe/skillrt/pkg/types/skills"
)

const frontmatterFence = "---"

func normalizeMarkdown(rec *skilltypes.SkillContract, content string) {
	frontmatter, body, ok := splitFrontmatter(content)
	if !ok {
		applyHeuristics(rec, content)
		return
	}

	if fields := frontmatterFields(content, frontmatter); len(fields) > 0 {
		applyFields(rec, fields)
	}

	if rec.Name == "" || rec.Description == "" {
		heading, paragraph := headingAndParagraph([]byte(body))
		if rec.Name == "" {
			rec.Name = heading
		}
		if rec.Description == "" {
			rec.Description = paragraph
		}
	}

	// The markdown body is the prompt for templated-prompt skills that carry no explicit one
	if rec.SystemPrompt == "" && strings.TrimSpace(body) != "" {
		rec.SystemPrompt = strings.TrimSpace(body)
	}
}

// splitFrontmatter separates a leading frontmatter block from the markdown body.
// The block opens with a line of exactly three dashes on the first line and closes
// at the next line starting with three dashes.
func splitFrontmatter(content string) (frontmatter, body string, ok bool) {
	content = strings.TrimPrefix(content, "\ufeff")
	lines := strings.Split(content, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != frontmatterFence {
		return "", content, false
	}

	for i := 1; i < len(lines); i++ {
		if strings.HasPrefix(lines[i], frontmatterFence) {
			frontmatter = strings.Join(lines[1:i], "\n")
			body = strings.TrimLeft(strings.Join(lines[i+1:], "\n"), "\n")
			return frontmatter, body, true
		}
	}

	return "", content, false
}

// frontmatterFields parses frontmatter as YAML through goldmark-meta, then
// plain yaml, and finally as loose `key: value` lines.
func frontmatterFields(content, frontmatter string) map[string]any {
	md := goldmark.New(
		goldmark.WithExtensions(meta.Meta),
	)

	var buf bytes.Buffer
	pctx := parser.NewContext()
	if err := md.Convert([]byte(content), &buf, parser.WithContext(pctx)); err == nil {
		if data, err := meta.TryGet(pctx); err == nil && len(data) > 0 {
			return normalizeYAMLValue(data).(map[string]any)
		}
	}

	var fields map[string]any
	if err := yaml.Unmarshal([]byte(frontmatter), &fields); err == nil && len(fields) > 0 {
		return fields
	}

	return parseKeyValueLines(frontmatter)
}

// parseKeyValueLines reads `key: value` pairs, ignoring lines it cannot split
func parseKeyValueLines(block string) map[string]any {
	fields := make(map[string]any)
	for _, line := range strings.Split(block, "\n") {
		key, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" || strings.HasPrefix(key, "#") {
			continue
		}
		fields[key] = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	return fields
}

// applyHeuristics fills name and description from the first level-1 heading
// and the first paragraph
func applyHeuristics(rec *skilltypes.SkillContract, content string) {
	body := content
	if _, rest, ok := splitFrontmatter(content); ok {
		body = rest
	}
	heading, paragraph := headingAndParagraph([]byte(body))
	if rec.Name == "" {
		rec.Name = heading
	}
	if rec.Description == "" {
		rec.Description = paragraph
	}
}

func headingAndParagraph(source []byte) (heading, paragraph string) {
	doc := goldmark.New().Parser().Parse(text.NewReader(source))

	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			if node.Level == 1 && heading == "" {
				heading = nodeText(node, source)
			}
			return ast.WalkSkipChildren, nil
		case *ast.Paragraph:
			if paragraph == "" {
				paragraph = nodeText(node, source)
			}
			return ast.WalkSkipChildren, nil
		}
		if heading != "" && paragraph != "" {
			return ast.WalkStop, nil
		}
		return ast.WalkContinue, nil
	})

	return heading, paragraph
}

func nodeText(n ast.Node, source []byte) string {
	var b strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		default:
			b.WriteString(nodeText(c, source))
		}
	}
	return strings.TrimSpace(b.String())
}

// normalizeYAMLValue converts yaml.v2 style map[interface{}]interface{} trees
// (as produced by goldmark-meta) into map[string]any trees
func normalizeYAMLValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalizeYAMLValue(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[toString(k)] = normalizeYAMLValue(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeYAMLValue(item)
		}
		return out
	default:
		return v
	}
}
