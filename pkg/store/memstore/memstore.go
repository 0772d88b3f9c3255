// Package memstore is an in-memory event store for tests and ephemeral runs.
// Each Store is independent; nothing is shared across instances.
package memstore

import (
	"context"
	"slices"
	"sync"

	"github.com/wilhg/agentd/pkg/agent"
	"github.com/wilhg/agentd/pkg/store"
)

// Store keeps one event slice per conversation.
type Store struct {
	mu   sync.RWMutex
	logs map[agent.ContextName][]agent.Event
}

// New returns an empty store.
func New() *Store {
	return &Store{logs: make(map[agent.ContextName][]agent.Event)}
}

func (s *Store) Load(ctx context.Context, name agent.ContextName) ([]agent.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, store.LoadError(name, "load cancelled", err)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.logs[name]), nil
}

func (s *Store) Append(ctx context.Context, name agent.ContextName, events []agent.Event) error {
	if err := store.CheckAppend(name, events); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return store.SaveError(name, "append cancelled", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[name] = append(s.logs[name], events...)
	return nil
}

func (s *Store) Names(ctx context.Context) ([]agent.ContextName, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]agent.ContextName, 0, len(s.logs))
	for name := range s.logs {
		out = append(out, name)
	}
	slices.Sort(out)
	return out, nil
}
