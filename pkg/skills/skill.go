// Package skills turns externally authored skill descriptors into canonical
// skill contracts. Descriptors are markdown files with frontmatter (SKILL.md),
// structured documents (YAML/JSON), or code-like declarations. Normalized
// records are then folded into canonical entries by the deduplication engine.
package skills

import (
	"path/filepath"
	"strings"

	skilltypes "github.com/jingkaihe/skillrt/pkg/types/skills"
)

// RawDescriptor is a skill descriptor as read from its source, before normalization
type RawDescriptor struct {
	Path      string            // File path or logical location; its extension selects the parser
	Content   string            // Raw text content
	Source    skilltypes.Source // Origin category; defaults to repository
	Origin    string            // URL or path recorded in sourceInfo; defaults to Path
	CommitRef string            // Optional commit the descriptor was read at
}

// Shape is the descriptor format family, detected from the file extension
type Shape string

// Descriptor shapes
const (
	ShapeMarkdown   Shape = "markdown"
	ShapeStructured Shape = "structured"
	ShapeCode       Shape = "code"
	ShapeUnknown    Shape = "unknown"
)

var shapeByExt = map[string]Shape{
	".md":       ShapeMarkdown,
	".markdown": ShapeMarkdown,
	".mdx":      ShapeMarkdown,
	".yaml":     ShapeStructured,
	".yml":      ShapeStructured,
	".json":     ShapeStructured,
	".js":       ShapeCode,
	".mjs":      ShapeCode,
	".cjs":      ShapeCode,
	".ts":       ShapeCode,
	".py":       ShapeCode,
	".go":       ShapeCode,
}

// DetectShape returns the descriptor shape for a path
func DetectShape(path string) Shape {
	if shape, ok := shapeByExt[strings.ToLower(filepath.Ext(path))]; ok {
		return shape
	}
	return ShapeUnknown
}

// BridgeTool is a tool advertised by a protocol-bridge server
type BridgeTool struct {
	Server      string
	Name        string
	Description string
	InputSchema map[string]any
}
