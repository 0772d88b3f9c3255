package agent

import (
	"fmt"

	"github.com/wilhg/agentd/pkg/errmodel"
)

// Role of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one role-tagged entry of the reduced conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ProviderConfig selects and authenticates one language-model provider.
type ProviderConfig struct {
	ProviderID string `json:"providerId"`
	Model      string `json:"model"`
	APIKey     string `json:"apiKey,omitempty"`
	BaseURL    string `json:"baseUrl,omitempty"`
}

// Config is the model configuration folded from SetLlmConfig and SetTimeout.
type Config struct {
	Primary   *ProviderConfig `json:"primary,omitempty"`
	Fallback  *ProviderConfig `json:"fallback,omitempty"`
	TimeoutMs int             `json:"timeoutMs,omitempty"`
}

// ReducedContext is the conversation state derived from an event log. It is
// never mutated in place; Reduce returns a new value.
type ReducedContext struct {
	Messages          []Message  `json:"messages"`
	Config            Config     `json:"config"`
	NextEventNumber   int        `json:"nextEventNumber"`
	CurrentTurnNumber TurnNumber `json:"currentTurnNumber"`
	// AgentTurnStartedAtEventID is non-empty iff a turn is open.
	AgentTurnStartedAtEventID EventID `json:"agentTurnStartedAtEventId,omitempty"`
}

// InitialContext returns the state of an empty log, seeded with defaults.
func InitialContext(defaults Config) ReducedContext {
	return ReducedContext{Config: defaults.clone()}
}

// TurnOpen reports whether a turn has started and not yet reached a terminal event.
func (rc ReducedContext) TurnOpen() bool { return rc.AgentTurnStartedAtEventID != "" }

// Clone returns a deep copy.
func (rc ReducedContext) Clone() ReducedContext {
	out := rc
	out.Messages = append([]Message(nil), rc.Messages...)
	out.Config = rc.Config.clone()
	return out
}

func (c Config) clone() Config {
	out := c
	if c.Primary != nil {
		p := *c.Primary
		out.Primary = &p
	}
	if c.Fallback != nil {
		f := *c.Fallback
		out.Fallback = &f
	}
	return out
}

// Reduce folds events into current and returns the new state. On a
// structurally invalid event it returns current unchanged together with a
// *errmodel.ReducerError; no partial fold is ever observable.
func Reduce(current ReducedContext, events []Event) (ReducedContext, error) {
	if len(events) == 0 {
		return current, nil
	}
	next := current
	// Copy on write so the caller's slice is never aliased by a later append.
	next.Messages = make([]Message, len(current.Messages), len(current.Messages)+len(events))
	copy(next.Messages, current.Messages)
	for _, e := range events {
		if err := apply(&next, e); err != nil {
			return current, err
		}
	}
	return next, nil
}

func apply(rc *ReducedContext, e Event) error {
	if e == nil {
		return &errmodel.ReducerError{Message: "nil event"}
	}
	h := e.EventHeader()
	if h.ID == "" {
		return &errmodel.ReducerError{Message: "event has no id", EventTag: string(e.Tag())}
	}
	switch v := e.(type) {
	case SystemPrompt:
		rc.Messages = append(rc.Messages, Message{Role: RoleSystem, Content: v.Content})
	case UserMessage:
		rc.Messages = append(rc.Messages, Message{Role: RoleUser, Content: v.Content})
	case AssistantMessage:
		rc.Messages = append(rc.Messages, Message{Role: RoleAssistant, Content: v.Content})
	case TextDelta:
	case SetLlmConfig:
		if v.ProviderID == "" || v.Model == "" {
			return &errmodel.ReducerError{Message: "llm config requires provider and model", EventTag: string(v.Tag())}
		}
		pc := &ProviderConfig{ProviderID: v.ProviderID, Model: v.Model, APIKey: v.APIKey, BaseURL: v.BaseURL}
		if v.AsFallback {
			rc.Config.Fallback = pc
		} else {
			rc.Config.Primary = pc
		}
	case SetTimeout:
		if v.TimeoutMs < 0 {
			return &errmodel.ReducerError{Message: fmt.Sprintf("negative timeout %d", v.TimeoutMs), EventTag: string(v.Tag())}
		}
		rc.Config.TimeoutMs = v.TimeoutMs
	case SessionStarted, SessionEnded:
	case AgentTurnStarted:
		if v.TurnNumber < 1 {
			return invalidTurn(v)
		}
		rc.AgentTurnStartedAtEventID = v.ID
		rc.CurrentTurnNumber = v.TurnNumber
	case AgentTurnCompleted:
		if v.TurnNumber < 1 {
			return invalidTurn(v)
		}
		rc.AgentTurnStartedAtEventID = ""
	case AgentTurnInterrupted:
		if v.TurnNumber < 1 {
			return invalidTurn(v)
		}
		rc.AgentTurnStartedAtEventID = ""
	case AgentTurnFailed:
		if v.TurnNumber < 1 {
			return invalidTurn(v)
		}
		rc.AgentTurnStartedAtEventID = ""
	default:
		return &errmodel.ReducerError{Message: fmt.Sprintf("unknown event variant %T", e), EventTag: string(e.Tag())}
	}
	rc.NextEventNumber++
	return nil
}

func invalidTurn(e Event) error {
	n, _ := TurnOf(e)
	return &errmodel.ReducerError{Message: fmt.Sprintf("invalid turn number %d", n), EventTag: string(e.Tag())}
}
