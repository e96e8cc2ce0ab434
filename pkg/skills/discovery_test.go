package skills

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	skilltypes "github.com/jingkaihe/skillrt/pkg/types/skills"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestNewDiscovery(t *testing.T) {
	t.Run("with default dirs", func(t *testing.T) {
		discovery, err := NewDiscovery()
		require.NoError(t, err)
		assert.NotNil(t, discovery)
		assert.Len(t, discovery.Dirs(), 2)
		assert.Equal(t, "./.skillrt/skills", discovery.Dirs()[0])
	})

	t.Run("with custom dirs", func(t *testing.T) {
		customDirs := []string{"/tmp/skills1", "/tmp/skills2"}
		discovery, err := NewDiscovery(WithSkillDirs(customDirs...))
		require.NoError(t, err)
		assert.Equal(t, customDirs, discovery.Dirs())
		assert.Equal(t, DefaultPatterns, discovery.patterns)
	})

	t.Run("invalid pattern", func(t *testing.T) {
		_, err := NewDiscovery(WithPatterns("[unclosed"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid descriptor pattern")
	})
}

func TestDiscover(t *testing.T) {
	tmpDir := t.TempDir()
	writeFile(t, filepath.Join(tmpDir, "web-search", "SKILL.md"), "---\nname: web-search\ndescription: Search the web\n---\n\n# Web Search\n")
	writeFile(t, filepath.Join(tmpDir, "calc.yaml"), "name: calc\n")
	writeFile(t, filepath.Join(tmpDir, "nested", "deep", "resize.js"), "export default { name: \"resize\" }\n")
	writeFile(t, filepath.Join(tmpDir, "notes.txt"), "not a descriptor")
	writeFile(t, filepath.Join(tmpDir, "node_modules", "pkg", "README.md"), "# vendored\n")

	discovery, err := NewDiscovery(WithSkillDirs(tmpDir))
	require.NoError(t, err)

	raws, err := discovery.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, raws, 3)

	var names []string
	for _, raw := range raws {
		rel, err := filepath.Rel(tmpDir, raw.Path)
		require.NoError(t, err)
		names = append(names, filepath.ToSlash(rel))
		assert.Equal(t, skilltypes.SourceRepository, raw.Source)
	}
	assert.Equal(t, []string{"calc.yaml", "nested/deep/resize.js", "web-search/SKILL.md"}, names)
	assert.Contains(t, raws[2].Content, "Search the web")
}

func TestDiscoverWithPatterns(t *testing.T) {
	tmpDir := t.TempDir()
	writeFile(t, filepath.Join(tmpDir, "a", "SKILL.md"), "# A\n")
	writeFile(t, filepath.Join(tmpDir, "b.yaml"), "name: b\n")

	discovery, err := NewDiscovery(WithSkillDirs(tmpDir), WithPatterns("**/SKILL.md"), WithSource(skilltypes.SourceInternal))
	require.NoError(t, err)

	raws, err := discovery.Discover(context.Background())
	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.Equal(t, filepath.Join(tmpDir, "a", "SKILL.md"), raws[0].Path)
	assert.Equal(t, skilltypes.SourceInternal, raws[0].Source)
}

func TestDiscoverMissingDirectory(t *testing.T) {
	discovery, err := NewDiscovery(WithSkillDirs(filepath.Join(t.TempDir(), "missing")))
	require.NoError(t, err)

	raws, err := discovery.Discover(context.Background())
	require.NoError(t, err)
	assert.Empty(t, raws)
}

func TestDiscoverOversizedDescriptor(t *testing.T) {
	tmpDir := t.TempDir()
	writeFile(t, filepath.Join(tmpDir, "ok.md"), "# ok\n")
	writeFile(t, filepath.Join(tmpDir, "huge.md"), strings.Repeat("x", MaxDescriptorSize+1))

	discovery, err := NewDiscovery(WithSkillDirs(tmpDir))
	require.NoError(t, err)

	raws, err := discovery.Discover(context.Background())
	require.Error(t, err)
	require.Len(t, raws, 1)
	assert.Equal(t, filepath.Join(tmpDir, "ok.md"), raws[0].Path)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 1)
	assert.Contains(t, merr.Errors[0].Error(), "huge.md")
}

func TestDiscoverDeduplicatesOverlappingDirs(t *testing.T) {
	tmpDir := t.TempDir()
	writeFile(t, filepath.Join(tmpDir, "x", "SKILL.md"), "# X\n")

	discovery, err := NewDiscovery(WithSkillDirs(tmpDir, tmpDir))
	require.NoError(t, err)

	raws, err := discovery.Discover(context.Background())
	require.NoError(t, err)
	assert.Len(t, raws, 1)
}

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	writeFile(t, filepath.Join(tmpDir, "web-search", "SKILL.md"), "---\nname: web search\ndescription: Search the web for information\n---\n")
	writeFile(t, filepath.Join(tmpDir, "web-search-2", "SKILL.md"), "---\nname: web-search\ndescription: Search web for information\n---\n")
	writeFile(t, filepath.Join(tmpDir, "weather.yaml"), "name: weather\ndescription: Forecast lookup\n")

	result, err := Load(context.Background(), LoadConfig{Dirs: []string{tmpDir}})
	require.NoError(t, err)
	assert.NoError(t, result.ReadErrors)
	assert.Equal(t, 3, result.Descriptors)
	assert.Equal(t, DefaultThreshold, result.Threshold)
	assert.Len(t, result.Normalized, 3)
	assert.Len(t, result.Dedup.Canonical, 2)
	require.Len(t, result.Dedup.Candidates, 1)
	assert.Equal(t, 0.86, result.Dedup.Candidates[0].Score)
}

func TestLoadThresholdZeroMergesEverything(t *testing.T) {
	tmpDir := t.TempDir()
	writeFile(t, filepath.Join(tmpDir, "weather.yaml"), "name: weather\ndescription: Forecast lookup\n")
	writeFile(t, filepath.Join(tmpDir, "invoice.yaml"), "name: invoice\ndescription: Billing export\n")

	zero := 0.0
	result, err := Load(context.Background(), LoadConfig{Dirs: []string{tmpDir}, Threshold: &zero})
	require.NoError(t, err)
	assert.Equal(t, 0.0, result.Threshold)
	assert.Len(t, result.Dedup.Canonical, 1)
	require.Len(t, result.Dedup.Candidates, 1)
}
