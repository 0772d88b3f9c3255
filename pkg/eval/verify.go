// Package eval checks recorded conversations offline: structural
// verification of event logs and fixture-driven evaluation of executors.
package eval

import (
	"errors"
	"fmt"
	"strings"

	"github.com/wilhg/agentd/pkg/agent"
	"github.com/wilhg/agentd/pkg/errmodel"
)

// Severity grades a finding. Only errors fail a report.
type Severity string

const (
	SeverityError Severity = "error"
	SeverityInfo  Severity = "info"
)

// Rule names.
const (
	RuleChain     = "chain"
	RuleCounter   = "counter"
	RuleEphemeral = "ephemeral"
	RuleReducer   = "reducer"
	RuleTurn      = "turn"
	RuleSession   = "session"
)

// Finding is one observation about a log position.
type Finding struct {
	Index    int           `json:"index"`
	EventID  agent.EventID `json:"eventId,omitempty"`
	Rule     string        `json:"rule"`
	Severity Severity      `json:"severity"`
	Message  string        `json:"message"`
}

// Report is the outcome of Verify.
type Report struct {
	Events   int                  `json:"events"`
	Turns    int                  `json:"turns"`
	Final    agent.ReducedContext `json:"-"`
	Findings []Finding            `json:"findings"`
}

// OK reports whether no error-level finding was recorded.
func (r Report) OK() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			return false
		}
	}
	return true
}

// Errors returns the error-level findings.
func (r Report) Errors() []Finding {
	var out []Finding
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			out = append(out, f)
		}
	}
	return out
}

func (r Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d events, %d turns, %d findings\n", r.Events, r.Turns, len(r.Findings))
	for _, f := range r.Findings {
		fmt.Fprintf(&b, "  [%s] #%d %s %s: %s\n", f.Severity, f.Index, f.EventID, f.Rule, f.Message)
	}
	return b.String()
}

// Verify replays a persisted log through the reducer and checks the causal
// chain, id/counter consistency, turn bracketing and session boundaries.
// A turn started while another was open is reported as info: it was
// superseded, and the scheduler leaves no terminal event for it.
func Verify(events []agent.Event) Report {
	rep := Report{Events: len(events)}
	add := func(i int, id agent.EventID, rule string, sev Severity, format string, args ...any) {
		rep.Findings = append(rep.Findings, Finding{Index: i, EventID: id, Rule: rule, Severity: sev, Message: fmt.Sprintf(format, args...)})
	}

	var (
		prefix   string
		prev     agent.EventID
		openTurn agent.TurnNumber
		ended    bool
		folding  = true
	)
	rc := agent.InitialContext(agent.Config{})
	for i, e := range events {
		if e == nil {
			add(i, "", RuleReducer, SeverityError, "nil event")
			folding = false
			continue
		}
		h := e.EventHeader()

		if h.ParentEventID != prev {
			add(i, h.ID, RuleChain, SeverityError, "parent %q, want %q", h.ParentEventID, prev)
		}
		prev = h.ID

		if n, ok := h.ID.Counter(); !ok {
			add(i, h.ID, RuleCounter, SeverityError, "malformed id")
		} else {
			if n != i {
				add(i, h.ID, RuleCounter, SeverityError, "counter %d at position %d", n, i)
			}
			p := strings.TrimSuffix(string(h.ID), fmt.Sprintf(":%04d", n))
			if i == 0 {
				prefix = p
			} else if p != prefix {
				add(i, h.ID, RuleCounter, SeverityError, "context %q differs from %q", p, prefix)
			}
		}

		if agent.IsEphemeral(e) {
			add(i, h.ID, RuleEphemeral, SeverityError, "%s must not be persisted", e.Tag())
		}

		switch v := e.(type) {
		case agent.SessionStarted:
			ended = false
		case agent.SessionEnded:
			ended = true
		case agent.AgentTurnStarted:
			rep.Turns++
			if openTurn != 0 {
				add(i, h.ID, RuleTurn, SeverityInfo, "turn %d superseded by turn %d", openTurn, v.TurnNumber)
			}
			if v.TurnNumber <= rc.CurrentTurnNumber {
				add(i, h.ID, RuleTurn, SeverityError, "turn %d does not advance past %d", v.TurnNumber, rc.CurrentTurnNumber)
			}
			openTurn = v.TurnNumber
		default:
			if agent.IsTurnTerminal(e) {
				n, _ := agent.TurnOf(e)
				switch {
				case openTurn == 0:
					add(i, h.ID, RuleTurn, SeverityError, "%s for turn %d with no open turn", e.Tag(), n)
				case n != openTurn:
					add(i, h.ID, RuleTurn, SeverityError, "%s for turn %d while turn %d is open", e.Tag(), n, openTurn)
				}
				openTurn = 0
			}
		}
		if ended && e.Tag() != agent.TagSessionEnded {
			add(i, h.ID, RuleSession, SeverityError, "%s after SessionEnded", e.Tag())
		}

		if folding {
			next, err := agent.Reduce(rc, []agent.Event{e})
			if err != nil {
				msg := err.Error()
				var re *errmodel.ReducerError
				if errors.As(err, &re) {
					msg = re.Message
				}
				add(i, h.ID, RuleReducer, SeverityError, "%s", msg)
				folding = false
				continue
			}
			rc = next
		}
	}
	if openTurn != 0 {
		add(len(events)-1, prev, RuleTurn, SeverityInfo, "turn %d still open at end of log", openTurn)
	}
	rep.Final = rc
	return rep
}
