package llm

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wilhg/agentd/pkg/agent"
	"github.com/wilhg/agentd/pkg/errmodel"
)

var tracer = otel.Tracer("adapters/llm")

// Executor runs a turn against the provider named by the conversation's
// primary config. Chunks are streamed as TextDelta events and the joined
// reply is yielded last as one AssistantMessage.
type Executor struct {
	resolve func(string) (Factory, bool)
	local   map[string]Factory
	budget  int
	log     *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithTokenBudget trims history to n tokens before each request. n <= 0
// sends the whole history.
func WithTokenBudget(n int) ExecutorOption { return func(x *Executor) { x.budget = n } }

// WithFactory registers a factory visible to this executor only. It takes
// precedence over the global registry.
func WithFactory(name string, f Factory) ExecutorOption {
	return func(x *Executor) {
		if name != "" && f != nil {
			x.local[name] = f
		}
	}
}

// WithExecutorLogger sets the logger.
func WithExecutorLogger(l *slog.Logger) ExecutorOption {
	return func(x *Executor) {
		if l != nil {
			x.log = l
		}
	}
}

// NewExecutor returns an Executor over the global provider registry.
func NewExecutor(opts ...ExecutorOption) *Executor {
	x := &Executor{resolve: Resolve, local: map[string]Factory{}, log: slog.Default()}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

func (x *Executor) factory(id string) (Factory, bool) {
	if f, ok := x.local[id]; ok {
		return f, true
	}
	return x.resolve(id)
}

// Execute implements agent.TurnExecutor.
func (x *Executor) Execute(ctx context.Context, rc agent.ReducedContext) iter.Seq2[agent.Event, error] {
	return func(yield func(agent.Event, error) bool) {
		pc := rc.Config.Primary
		if pc == nil {
			yield(nil, &errmodel.AgentError{Message: "no llm provider configured"})
			return
		}
		f, ok := x.factory(pc.ProviderID)
		if !ok {
			yield(nil, &errmodel.AgentError{Message: fmt.Sprintf("unknown llm provider %q", pc.ProviderID), Provider: pc.ProviderID})
			return
		}
		if rc.Config.TimeoutMs > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(rc.Config.TimeoutMs)*time.Millisecond)
			defer cancel()
		}
		ctx, span := tracer.Start(ctx, "LLM.Stream", trace.WithAttributes(
			attribute.String("llm.provider", pc.ProviderID),
			attribute.String("llm.model", pc.Model),
		))
		defer span.End()

		p, err := f(ctx, *pc)
		if err != nil {
			span.RecordError(err)
			yield(nil, &errmodel.AgentError{Message: err.Error(), Provider: pc.ProviderID, Cause: err})
			return
		}
		msgs, tl := Trim(rc.Messages, x.budget, EstimatorFor(pc.Model))
		if tl.DroppedCount > 0 {
			x.log.Debug("history trimmed", "provider", pc.ProviderID, "dropped", tl.DroppedCount, "tokens", tl.IncludedTokens)
		}

		var reply strings.Builder
		for chunk, err := range p.Stream(ctx, Request{Model: pc.Model, Messages: msgs}) {
			if err != nil {
				span.RecordError(err)
				yield(nil, &errmodel.AgentError{Message: err.Error(), Provider: p.Name(), Cause: err})
				return
			}
			if chunk.Text == "" {
				continue
			}
			reply.WriteString(chunk.Text)
			if !yield(agent.NewTextDelta("", chunk.Text), nil) {
				return
			}
		}
		if err := ctx.Err(); err != nil {
			yield(nil, &errmodel.AgentError{Message: err.Error(), Provider: p.Name(), Cause: err})
			return
		}
		yield(agent.NewAssistantMessage("", reply.String()), nil)
	}
}
