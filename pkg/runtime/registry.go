package runtime

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/wilhg/agentd/pkg/agent"
	"github.com/wilhg/agentd/pkg/errmodel"
	"github.com/wilhg/agentd/pkg/store"
)

// Factory constructs the actor for a name. It is called at most once at a
// time per name.
type Factory func(ctx context.Context, name agent.AgentName) (*Actor, error)

// NewFactory returns a Factory that builds actors over a shared store and
// executor with the given options.
func NewFactory(st store.EventStore, exec agent.TurnExecutor, opts ...Option) Factory {
	return func(ctx context.Context, name agent.AgentName) (*Actor, error) {
		return New(ctx, name, st, exec, opts...)
	}
}

// Registry caches one live actor per agent name.
type Registry struct {
	newActor Factory
	log      *slog.Logger

	mu     sync.RWMutex
	actors map[agent.AgentName]*Actor
	group  singleflight.Group
}

// NewRegistry returns an empty registry.
func NewRegistry(f Factory, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{newActor: f, log: log, actors: make(map[agent.AgentName]*Actor)}
}

// GetOrCreate returns the live actor for name, constructing it on first use.
// Concurrent callers for the same name share one construction. An actor
// whose session ended is replaced by a fresh one that replays its log.
func (r *Registry) GetOrCreate(ctx context.Context, name agent.AgentName) (*Actor, error) {
	if a, ok := r.live(name); ok {
		return a, nil
	}
	ch := r.group.DoChan(string(name), func() (any, error) {
		if a, ok := r.live(name); ok {
			return a, nil
		}
		r.mu.Lock()
		stale := r.actors[name]
		delete(r.actors, name)
		r.mu.Unlock()
		if stale != nil {
			stale.Shutdown(ctx)
		}

		cctx, span := tracer.Start(context.WithoutCancel(ctx), "Registry.Create",
			trace.WithAttributes(attribute.String("agent.name", string(name))))
		defer span.End()
		a, err := r.newActor(cctx, name)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		r.mu.Lock()
		r.actors[name] = a
		r.mu.Unlock()
		r.log.Info("agent created", "agent", string(name))
		return a, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Actor), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Registry) live(name agent.AgentName) (*Actor, bool) {
	r.mu.RLock()
	a, ok := r.actors[name]
	r.mu.RUnlock()
	if !ok || a.Ended() {
		return nil, false
	}
	return a, true
}

// Get returns the cached actor for name.
func (r *Registry) Get(name agent.AgentName) (*Actor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actors[name]
	if !ok {
		return nil, &errmodel.AgentNotFoundError{AgentName: string(name)}
	}
	return a, nil
}

// List returns the cached agent names in sorted order.
func (r *Registry) List() []agent.AgentName {
	r.mu.RLock()
	out := make([]agent.AgentName, 0, len(r.actors))
	for n := range r.actors {
		out = append(out, n)
	}
	r.mu.RUnlock()
	slices.Sort(out)
	return out
}

// EndSession gracefully ends the session of name and drops it from the cache.
func (r *Registry) EndSession(ctx context.Context, name agent.AgentName) error {
	a, err := r.Get(name)
	if err != nil {
		return err
	}
	err = a.EndSession(ctx)
	r.mu.Lock()
	if r.actors[name] == a {
		delete(r.actors, name)
	}
	r.mu.Unlock()
	a.Shutdown(ctx)
	return err
}

// ShutdownAgent shuts the actor down and removes it from the cache.
func (r *Registry) ShutdownAgent(ctx context.Context, name agent.AgentName) error {
	r.mu.Lock()
	a, ok := r.actors[name]
	delete(r.actors, name)
	r.mu.Unlock()
	if !ok {
		return &errmodel.AgentNotFoundError{AgentName: string(name)}
	}
	a.Shutdown(ctx)
	return nil
}

// ShutdownAll shuts every cached actor down concurrently and clears the cache.
func (r *Registry) ShutdownAll(ctx context.Context) {
	r.mu.Lock()
	actors := r.actors
	r.actors = make(map[agent.AgentName]*Actor)
	r.mu.Unlock()

	var wg sync.WaitGroup
	for _, a := range actors {
		wg.Go(func() { a.Shutdown(ctx) })
	}
	wg.Wait()
	r.log.Info("all agents shut down", "count", len(actors))
}
