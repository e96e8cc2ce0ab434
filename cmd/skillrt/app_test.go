package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillrt/pkg/builtins"
	"github.com/jingkaihe/skillrt/pkg/config"
	"github.com/jingkaihe/skillrt/pkg/llm"
	"github.com/jingkaihe/skillrt/pkg/orchestrator"
	"github.com/jingkaihe/skillrt/pkg/runtime"
	"github.com/jingkaihe/skillrt/pkg/skills"
	skilltypes "github.com/jingkaihe/skillrt/pkg/types/skills"
)

const workflowDescriptor = `name: stats-flow
description: Measure the input text
kind: multi-step-workflow
steps:
  - name: measure
    skill: text-stats
`

const promptDescriptor = `---
name: summarize
description: Summarize a document
---

Summarize {{.input}}
`

func testConfig(t *testing.T) config.Config {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "stats-flow.yaml"), []byte(workflowDescriptor), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "summarize"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "summarize", "SKILL.md"), []byte(promptDescriptor), 0o644))

	t.Setenv("ANTHROPIC_API_KEY", "")
	return config.Config{
		Skills: skills.LoadConfig{Dirs: []string{dir}},
		LLM:    llm.Config{Provider: llm.ProviderAnthropic},
		Retry:  runtime.RetryConfig{BackoffType: "fixed"},
	}
}

func TestAppSync(t *testing.T) {
	ctx := context.Background()
	a, err := newApp(ctx, testConfig(t))
	require.NoError(t, err)
	defer a.close(ctx)

	assert.Equal(t, []skilltypes.Kind{
		skilltypes.KindDirectFunction,
		skilltypes.KindMultiStepWorkflow,
		skilltypes.KindTemplatedPrompt,
	}, a.runtimes.Kinds())

	outcome, err := a.sync(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, outcome.Load.Descriptors)
	assert.ElementsMatch(t, []string{"stats-flow", "summarize"}, outcome.Report.Registered)
	assert.Zero(t, outcome.Bridge)

	view := newSyncView(outcome)
	assert.Equal(t, skills.DefaultThreshold, view.Threshold)
	assert.Empty(t, view.Merges)

	_, ok := a.registry.Lookup(builtins.TextStatsName)
	assert.True(t, ok)
}

func TestAppInvoke(t *testing.T) {
	ctx := context.Background()
	a, err := newApp(ctx, testConfig(t))
	require.NoError(t, err)
	defer a.close(ctx)
	_, err = a.sync(ctx, nil)
	require.NoError(t, err)

	result := a.orchestrator.Invoke(ctx, orchestrator.Request{SkillID: "stats-flow", Input: "three small words"})
	require.True(t, result.Success, result.ErrorMessage())
	assert.JSONEq(t, `{"characters":17,"words":3,"lines":1}`, result.RawOutput)

	result = a.orchestrator.Invoke(ctx, orchestrator.Request{SkillID: "summarize", Input: "doc"})
	assert.False(t, result.Success)
	assert.Equal(t, skilltypes.ErrorKindLLM, result.ErrorKindOf())
}

func TestSkillDirs(t *testing.T) {
	dirs, err := skillDirs(config.Config{Skills: skills.LoadConfig{Dirs: []string{"/opt/skills"}}})
	require.NoError(t, err)
	assert.Equal(t, []string{"/opt/skills"}, dirs)

	t.Setenv("HOME", t.TempDir())
	dirs, err = skillDirs(config.Config{})
	require.NoError(t, err)
	assert.Len(t, dirs, 2)
}
