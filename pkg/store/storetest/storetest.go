// Package storetest holds the behavioural contract every store.EventStore
// backend must satisfy.
package storetest

import (
	"errors"
	"reflect"
	"slices"
	"testing"
	"time"

	"github.com/wilhg/agentd/pkg/agent"
	"github.com/wilhg/agentd/pkg/errmodel"
	"github.com/wilhg/agentd/pkg/store"
)

// Conversation returns a causally chained, persistable log for name: a
// session start, one completed turn and a configuration change.
func Conversation(name agent.AgentName) []agent.Event {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	raw := []agent.Event{
		agent.NewSessionStarted(name),
		agent.NewSystemPrompt(name, "You are terse."),
		agent.NewUserMessage(name, "hi"),
		agent.NewAgentTurnStarted(name, 1),
		agent.NewAssistantMessage(name, "hello"),
		agent.NewAgentTurnCompleted(name, 1, 250*time.Millisecond),
		agent.NewSetLlmConfig(name, agent.ProviderConfig{ProviderID: "fake", Model: "echo"}, true),
		agent.NewSetTimeout(name, 1000),
		agent.NewAgentTurnInterrupted(name, 2, agent.InterruptReasonSessionEnded, ""),
		agent.NewAgentTurnFailed(name, 3, "boom"),
		agent.NewSessionEnded(name),
	}
	ctx := agent.ContextNameFor(name)
	out := make([]agent.Event, len(raw))
	var parent agent.EventID
	for i, e := range raw {
		h := e.EventHeader()
		h.ID = agent.MakeEventID(ctx, i)
		h.Timestamp = base.Add(time.Duration(i) * time.Millisecond)
		h.ParentEventID = parent
		out[i] = agent.WithHeader(e, h)
		parent = h.ID
	}
	return out
}

// Run exercises the contract against stores built by open. Each subtest gets
// a fresh store.
func Run(t *testing.T, open func(t *testing.T) store.EventStore) {
	t.Helper()

	t.Run("LoadMissingIsEmpty", func(t *testing.T) {
		s := open(t)
		got, err := s.Load(t.Context(), "never-created")
		if err != nil {
			t.Fatalf("load missing: %v", err)
		}
		if len(got) != 0 {
			t.Fatalf("len=%d want 0", len(got))
		}
	})

	t.Run("AppendThenLoad", func(t *testing.T) {
		s := open(t)
		want := Conversation("alpha")
		if err := s.Append(t.Context(), "alpha", want); err != nil {
			t.Fatal(err)
		}
		got, err := s.Load(t.Context(), "alpha")
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("round trip mismatch:\n got=%#v\nwant=%#v", got, want)
		}
	})

	t.Run("AppendIsCumulative", func(t *testing.T) {
		s := open(t)
		all := Conversation("beta")
		if err := s.Append(t.Context(), "beta", all[:3]); err != nil {
			t.Fatal(err)
		}
		if err := s.Append(t.Context(), "beta", all[3:]); err != nil {
			t.Fatal(err)
		}
		got, err := s.Load(t.Context(), "beta")
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(got, all) {
			t.Fatalf("cumulative append mismatch: got %d events want %d", len(got), len(all))
		}
	})

	t.Run("RejectsTextDelta", func(t *testing.T) {
		s := open(t)
		conv := Conversation("gamma")
		delta := agent.WithHeader(agent.NewTextDelta("gamma", "par"), agent.Header{
			ID: "gamma:0001", AgentName: "gamma", ParentEventID: "gamma:0000", Timestamp: time.Now().UTC(),
		})
		err := s.Append(t.Context(), "gamma", []agent.Event{conv[0], delta})
		var se *errmodel.ContextSaveError
		if !errors.As(err, &se) {
			t.Fatalf("expected ContextSaveError, got %v", err)
		}
		got, err := s.Load(t.Context(), "gamma")
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 0 {
			t.Fatalf("rejected batch was partially written: %d events", len(got))
		}
	})

	t.Run("NamesArePartitioned", func(t *testing.T) {
		s := open(t)
		a, b := Conversation("one"), Conversation("two")
		if err := s.Append(t.Context(), "one", a[:2]); err != nil {
			t.Fatal(err)
		}
		if err := s.Append(t.Context(), "two", b); err != nil {
			t.Fatal(err)
		}
		got, err := s.Load(t.Context(), "one")
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 {
			t.Fatalf("len=%d want 2", len(got))
		}
		if l, ok := s.(store.Lister); ok {
			names, err := l.Names(t.Context())
			if err != nil {
				t.Fatal(err)
			}
			if !slices.Equal(names, []agent.ContextName{"one", "two"}) {
				t.Fatalf("names=%v", names)
			}
		}
	})
}
