package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"formpilot/internal/config"
	"formpilot/internal/embedding"
	"formpilot/internal/formdef"
	"formpilot/internal/logging"
	"formpilot/internal/orchestrator"
	"formpilot/internal/perception"
	"formpilot/internal/roles"
	"formpilot/internal/session"
	"formpilot/internal/store"
	"formpilot/internal/types"
)

// =============================================================================
// COMPONENT WIRING
// =============================================================================

// errNoPipeline is returned by turns attempted from a command that did not
// build the reasoning pipeline.
var errNoPipeline = errors.New("no reasoning provider configured for this command")

// appOptions selects which optional parts openApp builds.
type appOptions struct {
	pipeline bool // reasoning client, roles and orchestrator
	vectors  bool // embedding engine for the vector store
	watch    bool // honour form.watch
}

// app holds the components a command works with.
type app struct {
	cfg      *config.Config
	store    *store.LocalStore
	forms    *formdef.Loader
	sessions *session.Service
	tracer   *perception.TracingClient
}

// noPipeline stands in for the orchestrator in store-only commands.
type noPipeline struct{}

func (noPipeline) ProcessTurn(ctx context.Context, state orchestrator.State, utterance string) (*orchestrator.TurnResult, error) {
	return nil, errNoPipeline
}

// openApp builds the store, form loader and conversation service, plus the
// parts opts asks for. Callers must Close the result.
func openApp(ctx context.Context, c *config.Config, opts appOptions) (*app, error) {
	timer := logging.StartTimer(logging.CategoryBoot, "openApp")
	defer timer.Stop()

	if opts.pipeline {
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}

	var storeOpts []store.Option
	if opts.vectors {
		if engine := openEmbeddingEngine(ctx, c); engine != nil {
			storeOpts = append(storeOpts, store.WithEmbeddingEngine(engine))
		}
	}
	st, err := store.NewLocalStore(c.Memory.DatabasePath, storeOpts...)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: c, store: st}

	a.forms, err = formdef.NewLoader(formPath(c.Form.TemplatePath), formPath(c.Form.RulesPath))
	if err != nil {
		a.Close()
		return nil, err
	}
	if opts.watch && c.Form.Watch {
		if err := a.forms.Watch(ctx); err != nil {
			logging.BootWarn("Form watcher disabled: %v", err)
		}
	}

	var turns session.TurnProcessor = noPipeline{}
	if opts.pipeline {
		orch, err := a.buildPipeline(ctx)
		if err != nil {
			a.Close()
			return nil, err
		}
		turns = orch
	}

	a.sessions = session.NewService(st, a.forms, turns,
		session.WithHistoryLimit(c.Memory.HistoryLimit))
	logging.Boot("formpilot ready (db=%s, pipeline=%v)", st.Path(), opts.pipeline)
	return a, nil
}

func (a *app) buildPipeline(ctx context.Context) (*orchestrator.Orchestrator, error) {
	client, err := perception.NewClientFromConfig(ctx, a.cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create reasoning client: %w", err)
	}
	var llm types.LLMClient = client
	if a.cfg.Tracing.Enabled {
		a.tracer = perception.NewTracingClient(client, a.store)
		llm = a.tracer
		logging.Boot("Role-call tracing enabled")
	}

	set, err := roles.NewLLMSet(llm)
	if err != nil {
		return nil, err
	}
	return orchestrator.New(*set,
		orchestrator.WithMaxExtractionIterations(a.cfg.GetMaxExtractionIterations()),
		orchestrator.WithCompletionMessage(a.cfg.Orchestrator.CompletionMessage),
	)
}

// openEmbeddingEngine returns nil when no engine can be built; the vector
// operations then report that none is configured.
func openEmbeddingEngine(ctx context.Context, c *config.Config) embedding.Engine {
	if c.Embedding.Provider == "" {
		return nil
	}
	engine, err := embedding.NewEngine(ctx, embedding.FromAppConfig(c.Embedding))
	if err != nil {
		logging.BootWarn("Vector store running without an embedding engine: %v", err)
		return nil
	}
	return engine
}

// formPath maps a configured form file that does not exist to the built-in
// definition.
func formPath(path string) string {
	if path == "" {
		return ""
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		logging.BootWarn("Form file %s not found, using the built-in definition", path)
		return ""
	}
	return path
}

// Close stops the watcher, flushes pending traces and closes the store.
func (a *app) Close() {
	if a.forms != nil {
		a.forms.Stop()
	}
	if a.tracer != nil {
		a.tracer.Flush()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logging.BootWarn("Failed to close store: %v", err)
		}
	}
}
