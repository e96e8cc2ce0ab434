package main

import (
	"context"

	"github.com/pkg/errors"

	"github.com/jingkaihe/skillrt/pkg/bridge"
	"github.com/jingkaihe/skillrt/pkg/builtins"
	"github.com/jingkaihe/skillrt/pkg/config"
	"github.com/jingkaihe/skillrt/pkg/contract"
	"github.com/jingkaihe/skillrt/pkg/llm"
	"github.com/jingkaihe/skillrt/pkg/logger"
	"github.com/jingkaihe/skillrt/pkg/orchestrator"
	"github.com/jingkaihe/skillrt/pkg/policy"
	"github.com/jingkaihe/skillrt/pkg/registry"
	"github.com/jingkaihe/skillrt/pkg/runtime"
	"github.com/jingkaihe/skillrt/pkg/skills"
)

// app wires the registry, runtimes and orchestrator for one command run
type app struct {
	cfg          config.Config
	registry     *registry.Registry
	runtimes     *runtime.Registry
	orchestrator *orchestrator.Orchestrator
	bridge       *bridge.Manager
}

// syncOutcome is what one sync pass did
type syncOutcome struct {
	Load   *skills.LoadResult
	Report registry.SyncReport
	Bridge int
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	gate := contract.NewGate(cfg.Platform.MinContractVersion)
	a := &app{
		cfg:      cfg,
		registry: registry.New(gate),
		runtimes: runtime.NewRegistry(),
	}

	fns := builtins.Functions(a.registry)
	functions, err := runtime.NewFunctionExecutor(fns...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to register builtin functions")
	}
	functions.SetRetry(cfg.Retry)
	for _, fn := range fns {
		if err := a.registry.RegisterInternal(fn.Contract()); err != nil {
			return nil, errors.Wrapf(err, "failed to register builtin %s", fn.Name)
		}
	}
	a.runtimes.Register(functions)

	var completer llm.Completer
	if c, err := llm.NewCompleterFromConfig(cfg.LLM); err != nil {
		logger.G(ctx).WithError(err).Debug("no llm completer, templated-prompt skills will fail")
	} else {
		completer = c
	}
	a.runtimes.Register(runtime.NewPromptExecutor(completer, runtime.WithPromptRetry(cfg.Retry)))

	if len(cfg.MCP.Servers) > 0 {
		manager, err := bridge.NewManager(cfg.MCP)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create mcp manager")
		}
		if err := manager.Initialize(ctx); err != nil {
			logger.G(ctx).WithError(err).Warn("some mcp servers failed to initialize")
		}
		a.bridge = manager
		executor := runtime.NewBridgeExecutor(manager)
		executor.SetRetry(cfg.Retry)
		a.runtimes.Register(executor)
	}

	a.orchestrator = orchestrator.New(a.registry, a.runtimes, policy.NewLayeredResolver(cfg.Policy), orchestrator.WithGate(gate))
	return a, nil
}

// sync loads descriptors from disk and tools from the mcp servers into the
// registry. A nil threshold keeps the configured one.
func (a *app) sync(ctx context.Context, threshold *float64) (*syncOutcome, error) {
	loadConfig := a.cfg.Skills
	if threshold != nil {
		loadConfig.Threshold = threshold
	}

	loaded, err := skills.Load(ctx, loadConfig)
	if err != nil {
		return nil, err
	}
	outcome := &syncOutcome{
		Load:   loaded,
		Report: a.registry.Sync(ctx, loaded.Normalized, loaded.Threshold),
	}

	if a.bridge != nil {
		bridged, err := a.bridge.Skills(ctx)
		if err != nil {
			logger.G(ctx).WithError(err).Warn("failed to list mcp tools")
		}
		for _, skill := range bridged {
			if err := a.registry.Register(skill); err != nil {
				logger.G(ctx).WithError(err).WithField("canonical_id", skill.CanonicalID).Warn("failed to register bridged skill")
				continue
			}
			outcome.Bridge++
		}
	}
	return outcome, nil
}

func (a *app) close(ctx context.Context) {
	if a.bridge == nil {
		return
	}
	if err := a.bridge.Close(ctx); err != nil {
		logger.G(ctx).WithError(err).Warn("failed to close mcp clients")
	}
}

// loadApp builds the app and runs one sync pass
func loadApp(ctx context.Context) (*app, *syncOutcome, error) {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	outcome, err := a.sync(ctx, nil)
	if err != nil {
		a.close(ctx)
		return nil, nil, err
	}
	return a, outcome, nil
}

// skillDirs returns the directories sync scans
func skillDirs(c config.Config) ([]string, error) {
	if len(c.Skills.Dirs) > 0 {
		return c.Skills.Dirs, nil
	}
	discovery, err := skills.NewDiscovery(skills.WithDefaultDirs())
	if err != nil {
		return nil, err
	}
	return discovery.Dirs(), nil
}
