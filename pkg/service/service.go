// Package service is the agent facade used by the HTTP, MCP and CLI
// surfaces. It routes every call through the registry so each agent name
// maps to exactly one live actor.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"

	"github.com/wilhg/agentd/pkg/adapters/llm"
	"github.com/wilhg/agentd/pkg/agent"
	"github.com/wilhg/agentd/pkg/errmodel"
	"github.com/wilhg/agentd/pkg/eval"
	"github.com/wilhg/agentd/pkg/prompt"
	"github.com/wilhg/agentd/pkg/runtime"
	"github.com/wilhg/agentd/pkg/store"
)

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateName rejects agent names that are empty, too long or use
// characters outside [A-Za-z0-9._-].
func ValidateName(name agent.AgentName) error {
	if !validName.MatchString(string(name)) {
		return errmodel.Validation("invalid_name", fmt.Sprintf("invalid agent name %q", name), nil)
	}
	return nil
}

// Service is the facade over a Registry and its store.
type Service struct {
	reg *runtime.Registry
	st  store.EventStore
	log *slog.Logger
}

// New returns a Service. st is used for read paths that do not need a live
// actor (listing stored agents, verification).
func New(reg *runtime.Registry, st store.EventStore, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{reg: reg, st: st, log: log}
}

// inputTags are the variants a client may submit.
var inputTags = []agent.Tag{
	agent.TagUserMessage,
	agent.TagSystemPrompt,
	agent.TagAssistantMessage,
	agent.TagSetLlmConfig,
	agent.TagSetTimeout,
}

func checkInput(e agent.Event) error {
	if e == nil {
		return errmodel.Validation("invalid_event", "event is required", nil)
	}
	if !slices.Contains(inputTags, e.Tag()) {
		return errmodel.Validation("invalid_event", fmt.Sprintf("%s cannot be submitted", e.Tag()), nil)
	}
	if sp, ok := e.(agent.SystemPrompt); ok {
		if err := prompt.Check(sp.Content); err != nil {
			return errmodel.Validation("prompt_lint", err.Error(), nil)
		}
	}
	return nil
}

// Send submits one input event to name and streams everything the agent
// broadcasts from subscription time. For a trigger event the stream ends at
// the terminal event of the turn it started; otherwise right after the event
// itself. It also ends when the session ends or ctx is done.
func (s *Service) Send(ctx context.Context, name agent.AgentName, e agent.Event) (<-chan agent.Event, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := checkInput(e); err != nil {
		return nil, err
	}
	a, err := s.reg.GetOrCreate(ctx, name)
	if err != nil {
		return nil, err
	}
	sub, err := a.Subscribe(ctx)
	if err != nil {
		return nil, err
	}
	accepted, err := a.AddEvent(ctx, e)
	if err != nil {
		sub.Close()
		return nil, err
	}
	out := make(chan agent.Event)
	go func() {
		defer close(out)
		defer sub.Close()
		s.forward(ctx, sub, out, sendDone(accepted))
	}()
	return out, nil
}

// sendDone returns the stop predicate for a Send stream.
func sendDone(accepted agent.Event) func(agent.Event) bool {
	id := accepted.EventHeader().ID
	trigger := accepted.EventHeader().TriggersAgentTurn
	seen, started := false, false
	return func(e agent.Event) bool {
		switch {
		case e.Tag() == agent.TagSessionEnded:
			return true
		case !seen:
			seen = e.EventHeader().ID == id
			return seen && !trigger
		case e.Tag() == agent.TagAgentTurnStarted:
			started = true
		case started && agent.IsTurnTerminal(e):
			return true
		}
		return false
	}
}

// Events streams name's broadcast until SessionEnded or ctx is done.
func (s *Service) Events(ctx context.Context, name agent.AgentName) (<-chan agent.Event, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	a, err := s.existing(ctx, name)
	if err != nil {
		return nil, err
	}
	sub, err := a.Subscribe(ctx)
	if err != nil {
		return nil, err
	}
	out := make(chan agent.Event)
	go func() {
		defer close(out)
		defer sub.Close()
		s.forward(ctx, sub, out, func(e agent.Event) bool { return e.Tag() == agent.TagSessionEnded })
	}()
	return out, nil
}

// forward copies events until done reports true for the last one sent.
func (s *Service) forward(ctx context.Context, sub *runtime.Subscription, out chan<- agent.Event, done func(agent.Event) bool) {
	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
			if done(e) {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// StateSummary is the public view of a ReducedContext.
type StateSummary struct {
	AgentName         agent.AgentName  `json:"agentName"`
	NextEventNumber   int              `json:"nextEventNumber"`
	CurrentTurnNumber agent.TurnNumber `json:"currentTurnNumber"`
	TurnOpen          bool             `json:"turnOpen"`
	MessageCount      int              `json:"messageCount"`
	Config            agent.Config     `json:"config"`
	EstimatedTokens   int              `json:"estimatedTokens"`
	Ended             bool             `json:"ended"`
}

const redacted = "***"

// Summarize builds the summary of rc with API keys redacted.
func Summarize(name agent.AgentName, rc agent.ReducedContext) StateSummary {
	cfg := rc.Clone().Config
	for _, pc := range []*agent.ProviderConfig{cfg.Primary, cfg.Fallback} {
		if pc != nil && pc.APIKey != "" {
			pc.APIKey = redacted
		}
	}
	model := ""
	if cfg.Primary != nil {
		model = cfg.Primary.Model
	}
	return StateSummary{
		AgentName:         name,
		NextEventNumber:   rc.NextEventNumber,
		CurrentTurnNumber: rc.CurrentTurnNumber,
		TurnOpen:          rc.TurnOpen(),
		MessageCount:      len(rc.Messages),
		Config:            cfg,
		EstimatedTokens:   llm.CountTokens(rc.Messages, llm.EstimatorFor(model)),
	}
}

// Redact blanks the credentials carried by e before it leaves the process.
func Redact(e agent.Event) agent.Event {
	if c, ok := e.(agent.SetLlmConfig); ok && c.APIKey != "" {
		c.APIKey = redacted
		return c
	}
	return e
}

// State returns the summary of name's current state.
func (s *Service) State(ctx context.Context, name agent.AgentName) (StateSummary, error) {
	a, err := s.existing(ctx, name)
	if err != nil {
		return StateSummary{}, err
	}
	sum := Summarize(name, a.State())
	sum.Ended = a.Ended()
	return sum, nil
}

// Log returns name's full persisted history. A stored agent that is not live
// is read from the store without starting an actor.
func (s *Service) Log(ctx context.Context, name agent.AgentName) ([]agent.Event, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if a, err := s.reg.Get(name); err == nil {
		return a.GetEvents(), nil
	}
	events, err := s.st.Load(ctx, agent.ContextNameFor(name))
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, &errmodel.AgentNotFoundError{AgentName: string(name)}
	}
	return events, nil
}

// Prompts returns the system prompt versions of name's conversation.
func (s *Service) Prompts(ctx context.Context, name agent.AgentName) ([]prompt.Version, error) {
	events, err := s.Log(ctx, name)
	if err != nil {
		return nil, err
	}
	return prompt.History(events), nil
}

// Verify checks name's persisted log without starting an actor.
func (s *Service) Verify(ctx context.Context, name agent.AgentName) (eval.Report, error) {
	if err := ValidateName(name); err != nil {
		return eval.Report{}, err
	}
	return eval.Replay(ctx, s.st, agent.ContextNameFor(name))
}

// AgentInfo describes one known agent.
type AgentInfo struct {
	Name agent.AgentName `json:"name"`
	Live bool            `json:"live"`
}

// List returns live agents and, when the store can enumerate, stored ones.
func (s *Service) List(ctx context.Context) ([]AgentInfo, error) {
	live := s.reg.List()
	byName := make(map[agent.AgentName]bool, len(live))
	for _, n := range live {
		byName[n] = true
	}
	if l, ok := s.st.(store.Lister); ok {
		names, err := l.Names(ctx)
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			an := agent.AgentName(n)
			if _, ok := byName[an]; !ok {
				byName[an] = false
			}
		}
	}
	out := make([]AgentInfo, 0, len(byName))
	for n, isLive := range byName {
		out = append(out, AgentInfo{Name: n, Live: isLive})
	}
	slices.SortFunc(out, func(a, b AgentInfo) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out, nil
}

// EndSession ends name's session gracefully.
func (s *Service) EndSession(ctx context.Context, name agent.AgentName) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	return s.reg.EndSession(ctx, name)
}

// Shutdown stops every live actor.
func (s *Service) Shutdown(ctx context.Context) {
	s.reg.ShutdownAll(ctx)
}

// existing returns name's live actor, reviving it from the store when its log
// is not empty. Unknown names are reported as AgentNotFoundError and nothing
// is written for them.
func (s *Service) existing(ctx context.Context, name agent.AgentName) (*runtime.Actor, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if a, err := s.reg.Get(name); err == nil {
		return a, nil
	}
	events, err := s.st.Load(ctx, agent.ContextNameFor(name))
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, &errmodel.AgentNotFoundError{AgentName: string(name)}
	}
	return s.reg.GetOrCreate(ctx, name)
}
