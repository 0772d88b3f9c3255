package agent

import "time"

// Tag is the discriminant of an event variant. It is carried on the wire as
// the "_tag" field.
type Tag string

// Event variants.
const (
	TagSystemPrompt         Tag = "SystemPrompt"
	TagUserMessage          Tag = "UserMessage"
	TagAssistantMessage     Tag = "AssistantMessage"
	TagTextDelta            Tag = "TextDelta"
	TagSetLlmConfig         Tag = "SetLlmConfig"
	TagSetTimeout           Tag = "SetTimeout"
	TagSessionStarted       Tag = "SessionStarted"
	TagSessionEnded         Tag = "SessionEnded"
	TagAgentTurnStarted     Tag = "AgentTurnStarted"
	TagAgentTurnCompleted   Tag = "AgentTurnCompleted"
	TagAgentTurnInterrupted Tag = "AgentTurnInterrupted"
	TagAgentTurnFailed      Tag = "AgentTurnFailed"
)

// Tags lists every variant in declaration order.
var Tags = []Tag{
	TagSystemPrompt, TagUserMessage, TagAssistantMessage, TagTextDelta,
	TagSetLlmConfig, TagSetTimeout,
	TagSessionStarted, TagSessionEnded,
	TagAgentTurnStarted, TagAgentTurnCompleted, TagAgentTurnInterrupted, TagAgentTurnFailed,
}

// InterruptReasonSessionEnded is the reason recorded when a session ends
// while a turn is open.
const InterruptReasonSessionEnded = "session_ended"

// Header holds the fields shared by every event variant.
type Header struct {
	ID        EventID   `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	AgentName AgentName `json:"agentName"`
	// ParentEventID is the causal predecessor; empty for the first event of a log.
	ParentEventID     EventID `json:"parentEventId,omitempty"`
	TriggersAgentTurn bool    `json:"triggersAgentTurn"`
}

// EventHeader returns the shared fields of the event.
func (h Header) EventHeader() Header { return h }

// Event is the closed set of conversation events. Implementations are the
// value types declared in this file; the unexported method keeps the set closed.
type Event interface {
	Tag() Tag
	EventHeader() Header
	withHeader(Header) Event
}

// WithHeader returns a copy of e carrying h.
func WithHeader(e Event, h Header) Event { return e.withHeader(h) }

// IsEphemeral reports whether e is display-only and must never be persisted.
func IsEphemeral(e Event) bool { return e != nil && e.Tag() == TagTextDelta }

// IsTurnTerminal reports whether e closes an open turn.
func IsTurnTerminal(e Event) bool {
	if e == nil {
		return false
	}
	switch e.Tag() {
	case TagAgentTurnCompleted, TagAgentTurnFailed, TagAgentTurnInterrupted:
		return true
	}
	return false
}

// TurnOf returns the turn number carried by turn lifecycle events.
func TurnOf(e Event) (TurnNumber, bool) {
	switch v := e.(type) {
	case AgentTurnStarted:
		return v.TurnNumber, true
	case AgentTurnCompleted:
		return v.TurnNumber, true
	case AgentTurnInterrupted:
		return v.TurnNumber, true
	case AgentTurnFailed:
		return v.TurnNumber, true
	}
	return 0, false
}

// Content events.

type SystemPrompt struct {
	Header
	Content string `json:"content"`
}

type UserMessage struct {
	Header
	Content string `json:"content"`
}

type AssistantMessage struct {
	Header
	Content string `json:"content"`
}

// TextDelta is a streaming fragment of an assistant reply. It is broadcast
// to subscribers but never persisted or folded into messages.
type TextDelta struct {
	Header
	Delta string `json:"delta"`
}

// Config events.

type SetLlmConfig struct {
	Header
	ProviderID string `json:"providerId"`
	Model      string `json:"model"`
	APIKey     string `json:"apiKey"`
	BaseURL    string `json:"baseUrl"`
	AsFallback bool   `json:"asFallback"`
}

type SetTimeout struct {
	Header
	TimeoutMs int `json:"timeoutMs"`
}

// Lifecycle events.

type SessionStarted struct{ Header }

type SessionEnded struct{ Header }

type AgentTurnStarted struct {
	Header
	TurnNumber TurnNumber `json:"turnNumber"`
}

type AgentTurnCompleted struct {
	Header
	TurnNumber TurnNumber `json:"turnNumber"`
	DurationMs int64      `json:"durationMs"`
}

type AgentTurnInterrupted struct {
	Header
	TurnNumber      TurnNumber `json:"turnNumber"`
	Reason          string     `json:"reason"`
	PartialResponse string     `json:"partialResponse,omitempty"`
}

type AgentTurnFailed struct {
	Header
	TurnNumber TurnNumber `json:"turnNumber"`
	Error      string     `json:"error"`
}

func (SystemPrompt) Tag() Tag         { return TagSystemPrompt }
func (UserMessage) Tag() Tag          { return TagUserMessage }
func (AssistantMessage) Tag() Tag     { return TagAssistantMessage }
func (TextDelta) Tag() Tag            { return TagTextDelta }
func (SetLlmConfig) Tag() Tag         { return TagSetLlmConfig }
func (SetTimeout) Tag() Tag           { return TagSetTimeout }
func (SessionStarted) Tag() Tag       { return TagSessionStarted }
func (SessionEnded) Tag() Tag         { return TagSessionEnded }
func (AgentTurnStarted) Tag() Tag     { return TagAgentTurnStarted }
func (AgentTurnCompleted) Tag() Tag   { return TagAgentTurnCompleted }
func (AgentTurnInterrupted) Tag() Tag { return TagAgentTurnInterrupted }
func (AgentTurnFailed) Tag() Tag      { return TagAgentTurnFailed }

func (e SystemPrompt) withHeader(h Header) Event         { e.Header = h; return e }
func (e UserMessage) withHeader(h Header) Event          { e.Header = h; return e }
func (e AssistantMessage) withHeader(h Header) Event     { e.Header = h; return e }
func (e TextDelta) withHeader(h Header) Event            { e.Header = h; return e }
func (e SetLlmConfig) withHeader(h Header) Event         { e.Header = h; return e }
func (e SetTimeout) withHeader(h Header) Event           { e.Header = h; return e }
func (e SessionStarted) withHeader(h Header) Event       { e.Header = h; return e }
func (e SessionEnded) withHeader(h Header) Event         { e.Header = h; return e }
func (e AgentTurnStarted) withHeader(h Header) Event     { e.Header = h; return e }
func (e AgentTurnCompleted) withHeader(h Header) Event   { e.Header = h; return e }
func (e AgentTurnInterrupted) withHeader(h Header) Event { e.Header = h; return e }
func (e AgentTurnFailed) withHeader(h Header) Event      { e.Header = h; return e }

// Constructors set the variant's default TriggersAgentTurn. The id, timestamp
// and parent are left empty; the owning actor stamps them on intake.

func NewSystemPrompt(agent AgentName, content string) SystemPrompt {
	return SystemPrompt{Header: Header{AgentName: agent}, Content: content}
}

// NewUserMessage builds the only variant that triggers a turn by default.
func NewUserMessage(agent AgentName, content string) UserMessage {
	return UserMessage{Header: Header{AgentName: agent, TriggersAgentTurn: true}, Content: content}
}

func NewAssistantMessage(agent AgentName, content string) AssistantMessage {
	return AssistantMessage{Header: Header{AgentName: agent}, Content: content}
}

func NewTextDelta(agent AgentName, delta string) TextDelta {
	return TextDelta{Header: Header{AgentName: agent}, Delta: delta}
}

func NewSetLlmConfig(agent AgentName, cfg ProviderConfig, asFallback bool) SetLlmConfig {
	return SetLlmConfig{
		Header:     Header{AgentName: agent},
		ProviderID: cfg.ProviderID,
		Model:      cfg.Model,
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		AsFallback: asFallback,
	}
}

func NewSetTimeout(agent AgentName, timeoutMs int) SetTimeout {
	return SetTimeout{Header: Header{AgentName: agent}, TimeoutMs: timeoutMs}
}

func NewSessionStarted(agent AgentName) SessionStarted {
	return SessionStarted{Header: Header{AgentName: agent}}
}

func NewSessionEnded(agent AgentName) SessionEnded {
	return SessionEnded{Header: Header{AgentName: agent}}
}

func NewAgentTurnStarted(agent AgentName, turn TurnNumber) AgentTurnStarted {
	return AgentTurnStarted{Header: Header{AgentName: agent}, TurnNumber: turn}
}

func NewAgentTurnCompleted(agent AgentName, turn TurnNumber, d time.Duration) AgentTurnCompleted {
	return AgentTurnCompleted{Header: Header{AgentName: agent}, TurnNumber: turn, DurationMs: d.Milliseconds()}
}

func NewAgentTurnInterrupted(agent AgentName, turn TurnNumber, reason, partial string) AgentTurnInterrupted {
	return AgentTurnInterrupted{Header: Header{AgentName: agent}, TurnNumber: turn, Reason: reason, PartialResponse: partial}
}

func NewAgentTurnFailed(agent AgentName, turn TurnNumber, msg string) AgentTurnFailed {
	return AgentTurnFailed{Header: Header{AgentName: agent}, TurnNumber: turn, Error: msg}
}
