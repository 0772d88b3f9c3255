// Package store defines persistence for conversation event logs.
// Implementations must provide identical semantics across backends so an
// actor replays the same state no matter where its log lives.
package store

import (
	"context"
	"fmt"

	"github.com/wilhg/agentd/pkg/agent"
	"github.com/wilhg/agentd/pkg/errmodel"
)

// EventStore persists and retrieves the event log of a conversation.
//
// Load returns an empty slice, not an error, for a conversation that has never
// been written. Failures are reported as *errmodel.ContextLoadError and
// *errmodel.ContextSaveError. TextDelta events must never be appended.
type EventStore interface {
	Load(ctx context.Context, name agent.ContextName) ([]agent.Event, error)
	Append(ctx context.Context, name agent.ContextName, events []agent.Event) error
}

// Lister is implemented by stores that can enumerate the conversations they hold.
type Lister interface {
	Names(ctx context.Context) ([]agent.ContextName, error)
}

// CheckAppend validates a batch before it is written.
func CheckAppend(name agent.ContextName, events []agent.Event) error {
	if name == "" {
		return &errmodel.ContextSaveError{ContextName: string(name), Message: "empty context name"}
	}
	for i, e := range events {
		if e == nil {
			return &errmodel.ContextSaveError{ContextName: string(name), Message: fmt.Sprintf("event %d is nil", i)}
		}
		if agent.IsEphemeral(e) {
			return &errmodel.ContextSaveError{ContextName: string(name), Message: fmt.Sprintf("event %d: %s is never persisted", i, e.Tag())}
		}
		if e.EventHeader().ID == "" {
			return &errmodel.ContextSaveError{ContextName: string(name), Message: fmt.Sprintf("event %d: %s has no id", i, e.Tag())}
		}
	}
	return nil
}

// LoadError wraps cause as a ContextLoadError.
func LoadError(name agent.ContextName, msg string, cause error) error {
	return &errmodel.ContextLoadError{ContextName: string(name), Message: msg, Cause: cause}
}

// SaveError wraps cause as a ContextSaveError.
func SaveError(name agent.ContextName, msg string, cause error) error {
	return &errmodel.ContextSaveError{ContextName: string(name), Message: msg, Cause: cause}
}
