package llm

import (
	"context"
	"errors"
	"iter"
	"sync"
	"testing"
	"time"

	"github.com/wilhg/agentd/pkg/agent"
	"github.com/wilhg/agentd/pkg/errmodel"
)

// scripted streams fixed chunks and then an optional error.
type scripted struct {
	name   string
	chunks []string
	err    error
	block  bool

	mu   sync.Mutex
	reqs []Request
}

func (s *scripted) Name() string { return s.name }

func (s *scripted) Stream(ctx context.Context, req Request) iter.Seq2[Chunk, error] {
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	s.mu.Unlock()
	return func(yield func(Chunk, error) bool) {
		for _, c := range s.chunks {
			if !yield(Chunk{Text: c}, nil) {
				return
			}
		}
		if s.block {
			<-ctx.Done()
			yield(Chunk{}, ctx.Err())
			return
		}
		if s.err != nil {
			yield(Chunk{}, s.err)
		}
	}
}

func (s *scripted) factory() Factory {
	return func(context.Context, agent.ProviderConfig) (Provider, error) { return s, nil }
}

func contextWith(provider string, msgs ...agent.Message) agent.ReducedContext {
	rc := agent.InitialContext(agent.Config{})
	rc.Config.Primary = &agent.ProviderConfig{ProviderID: provider, Model: "test-model"}
	rc.Messages = msgs
	return rc
}

func collect(seq iter.Seq2[agent.Event, error]) ([]agent.Event, error) {
	var out []agent.Event
	for ev, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, ev)
	}
	return out, nil
}

func TestExecutor_StreamsDeltasThenMessage(t *testing.T) {
	p := &scripted{name: "s", chunks: []string{"hel", "", "lo"}}
	x := NewExecutor(WithFactory("s", p.factory()))
	events, err := collect(x.Execute(context.Background(), contextWith("s", msg(agent.RoleUser, "hi"))))
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 3 {
		t.Fatalf("events=%d", len(events))
	}
	if d := events[0].(agent.TextDelta); d.Delta != "hel" {
		t.Fatalf("delta=%q", d.Delta)
	}
	am := events[2].(agent.AssistantMessage)
	if am.Content != "hello" || am.TriggersAgentTurn {
		t.Fatalf("assistant=%#v", am)
	}
	if got := p.reqs[0]; got.Model != "test-model" || len(got.Messages) != 1 {
		t.Fatalf("request=%+v", got)
	}
}

func TestExecutor_WrapsProviderError(t *testing.T) {
	boom := errors.New("boom")
	p := &scripted{name: "s", err: boom}
	x := NewExecutor(WithFactory("s", p.factory()))
	_, err := collect(x.Execute(context.Background(), contextWith("s")))
	var ae *errmodel.AgentError
	if !errors.As(err, &ae) || ae.Provider != "s" || ae.Message != "boom" || !errors.Is(err, boom) {
		t.Fatalf("err=%v", err)
	}
}

func TestExecutor_NoProviderConfigured(t *testing.T) {
	x := NewExecutor()
	_, err := collect(x.Execute(context.Background(), agent.InitialContext(agent.Config{})))
	var ae *errmodel.AgentError
	if !errors.As(err, &ae) {
		t.Fatalf("err=%v", err)
	}
	_, err = collect(x.Execute(context.Background(), contextWith("nope")))
	if !errors.As(err, &ae) || ae.Provider != "nope" {
		t.Fatalf("err=%v", err)
	}
}

func TestExecutor_TimeoutBoundsRequest(t *testing.T) {
	p := &scripted{name: "s", chunks: []string{"par"}, block: true}
	x := NewExecutor(WithFactory("s", p.factory()))
	rc := contextWith("s")
	rc.Config.TimeoutMs = 20
	start := time.Now()
	events, err := collect(x.Execute(context.Background(), rc))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events before timeout=%d", len(events))
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("timeout not applied")
	}
}

func TestExecutor_TrimsToBudget(t *testing.T) {
	p := &scripted{name: "s", chunks: []string{"ok"}}
	x := NewExecutor(WithFactory("s", p.factory()), WithTokenBudget(4))
	rc := contextWith("s", msg(agent.RoleUser, "older"), msg(agent.RoleUser, "new"))
	if _, err := collect(x.Execute(context.Background(), rc)); err != nil {
		t.Fatal(err)
	}
	if got := p.reqs[0].Messages; len(got) != 1 || got[0].Content != "new" {
		t.Fatalf("sent=%+v", got)
	}
	if len(rc.Messages) != 2 {
		t.Fatal("trimming mutated the context")
	}
}

func TestExecutor_StopsWhenConsumerStops(t *testing.T) {
	p := &scripted{name: "s", chunks: []string{"a", "b", "c"}}
	x := NewExecutor(WithFactory("s", p.factory()))
	n := 0
	for range x.Execute(context.Background(), contextWith("s")) {
		n++
		break
	}
	if n != 1 {
		t.Fatalf("n=%d", n)
	}
}

func TestRegistry_RegisterResolve(t *testing.T) {
	f := (&scripted{name: "reg"}).factory()
	if err := Register("test-registry", f); err != nil {
		t.Fatal(err)
	}
	if err := Register("test-registry", f); err == nil {
		t.Fatal("duplicate registration accepted")
	}
	if err := Register("", f); err == nil {
		t.Fatal("empty name accepted")
	}
	if _, ok := Resolve("test-registry"); !ok {
		t.Fatal("not resolved")
	}
	found := false
	for _, n := range Names() {
		found = found || n == "test-registry"
	}
	if !found {
		t.Fatalf("names=%v", Names())
	}
}
