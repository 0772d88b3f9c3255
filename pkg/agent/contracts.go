// Package agent defines the conversation event model shared by every other
// package: branded identifiers, the closed set of tagged events, their wire
// codec, the reducer that folds an event log into a ReducedContext, and the
// TurnExecutor contract the runtime drives.
//
// The event log is the source of truth. State is never stored; it is always
// rebuilt by folding the log:
//
//	rc, err := agent.Reduce(agent.InitialContext(defaults), events)
//
// Only UserMessage triggers a turn by default. TextDelta is display-only and
// never reaches a store or the reducer's message list.
package agent

import (
	"context"
	"iter"
)

// TurnExecutor produces the response to one turn. The stream yields zero or
// more TextDelta events followed by exactly one AssistantMessage, or yields a
// non-nil error (an *errmodel.AgentError) before any terminal message.
//
// Implementations must observe ctx: the runtime cancels it when the turn is
// superseded or the session ends. Retry and provider fallback are the
// executor's own concern and are layered by wrapping this interface.
type TurnExecutor interface {
	Execute(ctx context.Context, rc ReducedContext) iter.Seq2[Event, error]
}

// TurnExecutorFunc adapts a function to TurnExecutor.
type TurnExecutorFunc func(ctx context.Context, rc ReducedContext) iter.Seq2[Event, error]

func (f TurnExecutorFunc) Execute(ctx context.Context, rc ReducedContext) iter.Seq2[Event, error] {
	return f(ctx, rc)
}
