package agent

import (
	"fmt"
	"strconv"
	"strings"
)

// AgentName names one conversational agent. Agent names are the keys used by
// the runtime registry and the HTTP surface.
type AgentName string

// ContextName names one persisted conversation log. In the current design an
// agent owns exactly one context, so the mapping is the identity.
type ContextName string

// EventID identifies one event within a context: "{contextName}:{counter}"
// with the counter zero-padded to four digits.
type EventID string

// TurnNumber is the monotonic per-agent turn counter. The first turn is 1.
type TurnNumber int

// ContextNameFor returns the context owned by the named agent.
func ContextNameFor(name AgentName) ContextName { return ContextName(name) }

// MakeEventID formats the id of the n-th event (0-based) of a context.
func MakeEventID(ctx ContextName, n int) EventID {
	return EventID(fmt.Sprintf("%s:%04d", ctx, n))
}

// MakeDeltaID formats the id of the k-th TextDelta (1-based) broadcast while
// n was the next event number. Delta ids never collide with persisted ids and
// have no Counter.
func MakeDeltaID(ctx ContextName, n, k int) EventID {
	return EventID(fmt.Sprintf("%s:%04d.%d", ctx, n, k))
}

// Counter returns the numeric suffix of the id. ok is false when the id does
// not follow the "{context}:{counter}" format.
func (id EventID) Counter() (n int, ok bool) {
	i := strings.LastIndexByte(string(id), ':')
	if i < 0 || i == len(id)-1 {
		return 0, false
	}
	n, err := strconv.Atoi(string(id[i+1:]))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
