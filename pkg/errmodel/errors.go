package errmodel

import "fmt"

// AgentError is a turn executor or provider failure. The runtime turns it
// into a persisted AgentTurnFailed event; it never crashes an actor.
type AgentError struct {
	Message  string
	Provider string
	Cause    error
}

func (e *AgentError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("agent error (%s): %s", e.Provider, e.Message)
	}
	return "agent error: " + e.Message
}

func (e *AgentError) Unwrap() error { return e.Cause }

// ReducerError reports a structurally invalid event met during a fold.
type ReducerError struct {
	Message  string
	EventTag string
}

func (e *ReducerError) Error() string {
	if e.EventTag != "" {
		return fmt.Sprintf("reducer: %s: %s", e.EventTag, e.Message)
	}
	return "reducer: " + e.Message
}

// ContextLoadError reports a storage failure while loading a conversation log.
type ContextLoadError struct {
	ContextName string
	Message     string
	Cause       error
}

func (e *ContextLoadError) Error() string {
	return fmt.Sprintf("load context %q: %s", e.ContextName, withCause(e.Message, e.Cause))
}

func (e *ContextLoadError) Unwrap() error { return e.Cause }

// ContextSaveError reports a storage failure while appending to a conversation log.
type ContextSaveError struct {
	ContextName string
	Message     string
	Cause       error
}

func (e *ContextSaveError) Error() string {
	return fmt.Sprintf("save context %q: %s", e.ContextName, withCause(e.Message, e.Cause))
}

func (e *ContextSaveError) Unwrap() error { return e.Cause }

// AgentNotFoundError is a registry miss.
type AgentNotFoundError struct {
	AgentName string
}

func (e *AgentNotFoundError) Error() string {
	return fmt.Sprintf("agent %q not found", e.AgentName)
}

// HookError is a failure raised by an extension point, scoped to that hook.
type HookError struct {
	Hook    string
	Message string
	Cause   error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("hook %s: %s", e.Hook, withCause(e.Message, e.Cause))
}

func (e *HookError) Unwrap() error { return e.Cause }

func withCause(msg string, cause error) string {
	if cause == nil {
		return msg
	}
	if msg == "" {
		return cause.Error()
	}
	return msg + ": " + cause.Error()
}
