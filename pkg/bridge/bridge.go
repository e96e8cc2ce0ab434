// Package bridge connects to protocol-bridge (MCP) servers, lists their tools
// as skills and forwards protocol-bridge invocations to them.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillrt/pkg/logger"
	"github.com/jingkaihe/skillrt/pkg/runtime"
	"github.com/jingkaihe/skillrt/pkg/skills"
	"github.com/jingkaihe/skillrt/pkg/version"
	skilltypes "github.com/jingkaihe/skillrt/pkg/types/skills"
)

var _ runtime.ToolCaller = &Manager{}

// ServerType is the transport used to reach a server
type ServerType string

// Supported transports
const (
	ServerTypeStdio ServerType = "stdio"
	ServerTypeSSE   ServerType = "sse"
)

// ServerConfig describes one bridge server
type ServerConfig struct {
	ServerType    ServerType        `mapstructure:"server_type" json:"server_type"`         // stdio or sse
	Command       string            `mapstructure:"command" json:"command"`                 // stdio: command to start the server
	Args          []string          `mapstructure:"args" json:"args"`                       // stdio: arguments to pass to the server
	Envs          map[string]string `mapstructure:"envs" json:"envs"`                       // stdio: environment variables to set
	BaseURL       string            `mapstructure:"base_url" json:"base_url"`               // sse: base URL of the server
	Headers       map[string]string `mapstructure:"headers" json:"headers"`                 // sse: headers to send to the server
	ToolWhiteList []string          `mapstructure:"tool_white_list" json:"tool_white_list"` // tools exposed as skills, empty for all
}

// Config is the mcp section of the configuration
type Config struct {
	Servers map[string]ServerConfig `mapstructure:"servers" json:"servers"`
}

// NewClient creates an unstarted client for config. The server type is
// inferred from BaseURL or Command when not set.
func NewClient(config ServerConfig) (*client.Client, error) {
	if config.ServerType == "" {
		switch {
		case config.BaseURL != "":
			config.ServerType = ServerTypeSSE
		case config.Command != "":
			config.ServerType = ServerTypeStdio
		default:
			return nil, errors.New("server_type is required")
		}
	}

	switch config.ServerType {
	case ServerTypeStdio:
		if config.Command == "" {
			return nil, errors.New("command is required for stdio server")
		}
		envArgs := []string{}
		for k, v := range config.Envs {
			envArgs = append(envArgs, fmt.Sprintf("%s=%s", k, v))
		}
		sort.Strings(envArgs)
		tp := transport.NewStdio(config.Command, envArgs, config.Args...)
		return client.NewClient(tp), nil
	case ServerTypeSSE:
		if config.BaseURL == "" {
			return nil, errors.New("base_url is required for sse server")
		}
		tp, err := transport.NewSSE(config.BaseURL, transport.WithHeaders(config.Headers))
		if err != nil {
			return nil, errors.Wrap(err, "failed to create sse transport")
		}
		return client.NewClient(tp), nil
	default:
		return nil, errors.Errorf("invalid server type %q", config.ServerType)
	}
}

// Manager owns one client per configured server
type Manager struct {
	mu        sync.RWMutex
	clients   map[string]*client.Client
	whiteList map[string][]string
}

// NewManager creates clients for every server in config without starting them
func NewManager(config Config) (*Manager, error) {
	m := &Manager{
		clients:   make(map[string]*client.Client),
		whiteList: make(map[string][]string),
	}
	for name, serverConfig := range config.Servers {
		c, err := NewClient(serverConfig)
		if err != nil {
			return nil, errors.Wrapf(err, "server %s", name)
		}
		m.clients[name] = c
		m.whiteList[name] = serverConfig.ToolWhiteList
	}
	return m, nil
}

// AddClient registers an already constructed client, for example an in-process one
func (m *Manager) AddClient(name string, c *client.Client, whiteList []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.clients[name]; ok {
		return errors.Errorf("server %s is already registered", name)
	}
	m.clients[name] = c
	m.whiteList[name] = whiteList
	return nil
}

// Servers returns the configured server names in lexical order
func (m *Manager) Servers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) client(name string) (*client.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[name]
	if !ok {
		return nil, errors.Errorf("bridge server %s not found", name)
	}
	return c, nil
}

// Initialize starts every client and performs the protocol handshake. A
// failing server does not stop the others; failures are aggregated.
func (m *Manager) Initialize(ctx context.Context) error {
	var result error
	for _, name := range m.Servers() {
		c, _ := m.client(name)
		log := logger.G(ctx).WithField("server", name)
		log.Info("initializing bridge client")

		initReq := mcp.InitializeRequest{}
		initReq.Params.ClientInfo = mcp.Implementation{
			Name:    "skillrt",
			Version: version.Version,
		}
		initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
		if err := c.Start(ctx); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "failed to start bridge server %s", name))
			continue
		}
		if _, err := c.Initialize(ctx, initReq); err != nil {
			result = multierror.Append(result, errors.Wrapf(err, "failed to initialize bridge server %s", name))
			continue
		}
		log.Info("initialized bridge client")
	}
	return result
}

// Close closes every client, logging failures
func (m *Manager) Close(ctx context.Context) error {
	for _, name := range m.Servers() {
		c, _ := m.client(name)
		if err := c.Close(); err != nil {
			logger.G(ctx).WithField("server", name).WithError(err).Error("failed to close bridge client")
		}
	}
	return nil
}

// ListTools lists the white-listed tools of every server
func (m *Manager) ListTools(ctx context.Context) ([]skills.BridgeTool, error) {
	tools := []skills.BridgeTool{}
	for _, name := range m.Servers() {
		c, _ := m.client(name)
		logger.G(ctx).WithField("server", name).Debug("listing bridge tools")
		listResult, err := c.ListTools(ctx, mcp.ListToolsRequest{})
		if err != nil {
			return nil, errors.Wrapf(err, "failed to list tools of bridge server %s", name)
		}
		for _, tool := range listResult.Tools {
			if !m.whiteListed(name, tool.GetName()) {
				continue
			}
			tools = append(tools, skills.BridgeTool{
				Server:      name,
				Name:        tool.GetName(),
				Description: tool.Description,
				InputSchema: inputSchema(tool.InputSchema),
			})
		}
	}
	return tools, nil
}

// Skills lists the bridge tools normalized into skill records
func (m *Manager) Skills(ctx context.Context) ([]*skilltypes.SkillContract, error) {
	tools, err := m.ListTools(ctx)
	if err != nil {
		return nil, err
	}
	records := make([]*skilltypes.SkillContract, 0, len(tools))
	for _, tool := range tools {
		records = append(records, skills.NormalizeBridgeTool(tool))
	}
	return records, nil
}

func (m *Manager) whiteListed(server, tool string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.whiteList[server]
	return len(list) == 0 || slices.Contains(list, tool)
}

func inputSchema(schema mcp.ToolInputSchema) map[string]any {
	b, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var v map[string]any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil
	}
	return v
}

// CallTool implements runtime.ToolCaller
func (m *Manager) CallTool(ctx context.Context, server, tool string, args map[string]any) (runtime.BridgeResponse, error) {
	c, err := m.client(server)
	if err != nil {
		return runtime.BridgeResponse{}, err
	}
	if !m.whiteListed(server, tool) {
		return runtime.BridgeResponse{}, errors.Errorf("tool %s is not exposed by bridge server %s", tool, server)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args
	result, err := c.CallTool(ctx, req)
	if err != nil {
		return runtime.BridgeResponse{}, errors.Wrapf(err, "failed to call %s on bridge server %s", tool, server)
	}
	return runtime.BridgeResponse{
		Content: contentText(result.Content),
		IsError: result.IsError,
	}, nil
}

func contentText(contents []mcp.Content) string {
	var b strings.Builder
	for _, c := range contents {
		switch v := c.(type) {
		case mcp.TextContent:
			b.WriteString(v.Text)
		case *mcp.TextContent:
			b.WriteString(v.Text)
		default:
			data, err := json.Marshal(v)
			if err != nil {
				fmt.Fprintf(&b, "%v", v)
				continue
			}
			b.Write(data)
		}
	}
	return b.String()
}
