package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jingkaihe/skillrt/pkg/contract"
	"github.com/jingkaihe/skillrt/pkg/policy"
	"github.com/jingkaihe/skillrt/pkg/registry"
	"github.com/jingkaihe/skillrt/pkg/runtime"
	"github.com/jingkaihe/skillrt/pkg/skills"
)

type stubCaller struct {
	server, tool string
	calls        int
}

func (c *stubCaller) CallTool(_ context.Context, server, tool string, _ map[string]any) (runtime.BridgeResponse, error) {
	c.calls++
	c.server, c.tool = server, tool
	return runtime.BridgeResponse{Content: "<html>ok</html>"}, nil
}

func TestInvokeBridgeDescriptorWithoutRequiredTools(t *testing.T) {
	rec := skills.Normalize(skills.RawDescriptor{
		Path:    "skills/fetch-page.yaml",
		Content: "name: fetch page\ndescription: Fetch a web page\nkind: protocol-bridge\nbridge:\n  server: web\n  tool: fetch\n",
	})

	reg := registry.New(contract.NewGate(""))
	require.NoError(t, reg.Register(rec))

	caller := &stubCaller{}
	orch := New(reg, runtime.NewRegistry(runtime.NewBridgeExecutor(caller)), policy.NewLayeredResolver(policy.Config{}))

	res := orch.Invoke(context.Background(), Request{SkillID: "fetch-page", Input: "https://example.com"})

	require.True(t, res.Success, res.ErrorMessage())
	assert.Equal(t, 1, caller.calls)
	assert.Equal(t, "web", caller.server)
	assert.Equal(t, "fetch", caller.tool)
	assert.Equal(t, []string{"fetch"}, res.Metrics.ToolsUsed)
}
