package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/wilhg/agentd/pkg/adapters/llm"
	"github.com/wilhg/agentd/pkg/agent"
	"github.com/wilhg/agentd/pkg/config"
	"github.com/wilhg/agentd/pkg/logger"
	"github.com/wilhg/agentd/pkg/runtime"
	"github.com/wilhg/agentd/pkg/service"
	"github.com/wilhg/agentd/pkg/store"
	"github.com/wilhg/agentd/pkg/store/entstore"
	"github.com/wilhg/agentd/pkg/store/filestore"
	"github.com/wilhg/agentd/pkg/store/memstore"
)

// openStore selects the event store backend. The returned close func is
// never nil.
func openStore(ctx context.Context, cfg *config.Config) (store.EventStore, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return memstore.New(), noop, nil
	case config.BackendFile:
		st, err := filestore.New(cfg.Store.Dir)
		if err != nil {
			return nil, nil, err
		}
		return st, noop, nil
	case config.BackendSQL:
		st, err := entstore.Open(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		return st, st.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}

// newExecutor stacks retries and provider fallback over the streaming
// provider executor.
func newExecutor(cfg *config.Config, log *slog.Logger) agent.TurnExecutor {
	x := llm.NewExecutor(
		llm.WithTokenBudget(cfg.LLM.TokenBudget),
		llm.WithExecutorLogger(log),
	)
	return llm.NewRetrying(x,
		llm.WithMaxTries(cfg.LLM.MaxTries),
		llm.WithRetryLogger(log),
	)
}

// newService builds the registry and facade over st.
func newService(cfg *config.Config, st store.EventStore, exec agent.TurnExecutor, log *slog.Logger) *service.Service {
	f := runtime.NewFactory(st, exec,
		runtime.WithLogger(log),
		runtime.WithDefaults(cfg.AgentDefaults()),
		runtime.WithSystemPrompt(cfg.SystemPrompt),
	)
	return service.New(runtime.NewRegistry(f, log), st, log)
}

func initLogger(cfg *config.Config, stderr io.Writer) (*slog.Logger, error) {
	return logger.InitSlog(logger.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Dir:    cfg.Log.Dir,
		Out:    stderr,
	})
}
