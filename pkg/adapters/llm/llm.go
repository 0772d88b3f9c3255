// Package llm adapts streaming chat providers to the agent.TurnExecutor
// contract. Providers register a Factory under their provider id; the
// Executor resolves the factory named by the conversation's config on every
// turn.
package llm

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"

	"github.com/wilhg/agentd/pkg/agent"
)

// Request is one streaming completion call.
type Request struct {
	Model    string
	Messages []agent.Message
}

// Chunk is one streamed fragment of the reply.
type Chunk struct {
	Text string
}

// Provider defines a minimal streaming chat interface.
type Provider interface {
	// Name returns provider name (e.g., "openai").
	Name() string
	// Stream yields reply fragments in order. A non-nil error ends the stream.
	Stream(ctx context.Context, req Request) iter.Seq2[Chunk, error]
}

// Factory constructs a Provider from a conversation's provider config.
type Factory func(ctx context.Context, cfg agent.ProviderConfig) (Provider, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register registers a provider factory under a provider id.
func Register(name string, f Factory) error {
	if name == "" {
		return fmt.Errorf("llm: empty provider name")
	}
	if f == nil {
		return fmt.Errorf("llm: nil factory for %q", name)
	}
	regMu.Lock()
	defer regMu.Unlock()
	if _, exists := factories[name]; exists {
		return fmt.Errorf("llm: provider %q already registered", name)
	}
	factories[name] = f
	return nil
}

// Resolve gets a registered factory by name.
func Resolve(name string) (Factory, bool) {
	regMu.RLock()
	defer regMu.RUnlock()
	f, ok := factories[name]
	return f, ok
}

// Range iterates all registered factories.
func Range(fn func(name string, f Factory)) {
	regMu.RLock()
	defer regMu.RUnlock()
	for n, f := range factories {
		fn(n, f)
	}
}

// Names returns the registered provider ids in sorted order.
func Names() []string {
	var out []string
	Range(func(name string, _ Factory) { out = append(out, name) })
	slices.Sort(out)
	return out
}
