package llm

import (
	"context"
	"errors"
	"iter"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/wilhg/agentd/pkg/agent"
)

// flaky fails the first n calls before producing anything, then replies
// with the provider id it was asked to use.
type flaky struct {
	failures int32
	calls    atomic.Int32
	midway   bool
}

func (f *flaky) Execute(ctx context.Context, rc agent.ReducedContext) iter.Seq2[agent.Event, error] {
	return func(yield func(agent.Event, error) bool) {
		n := f.calls.Add(1)
		if f.midway {
			if !yield(agent.NewTextDelta("", "par"), nil) {
				return
			}
			yield(nil, errors.New("dropped"))
			return
		}
		if n <= f.failures {
			yield(nil, errors.New("unavailable"))
			return
		}
		yield(agent.NewAssistantMessage("", rc.Config.Primary.ProviderID), nil)
	}
}

func quick() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }

func TestRetrying_RetriesBeforeFirstEvent(t *testing.T) {
	inner := &flaky{failures: 2}
	r := NewRetrying(inner, WithMaxTries(3), WithBackOff(quick))
	events, err := collect(r.Execute(context.Background(), contextWith("primary")))
	if err != nil {
		t.Fatal(err)
	}
	if inner.calls.Load() != 3 || len(events) != 1 {
		t.Fatalf("calls=%d events=%d", inner.calls.Load(), len(events))
	}
}

func TestRetrying_NoRetryAfterEmit(t *testing.T) {
	inner := &flaky{midway: true}
	r := NewRetrying(inner, WithMaxTries(5), WithBackOff(quick))
	rc := contextWith("primary")
	rc.Config.Fallback = &agent.ProviderConfig{ProviderID: "backup", Model: "m"}
	events, err := collect(r.Execute(context.Background(), rc))
	if err == nil || err.Error() != "dropped" {
		t.Fatalf("err=%v", err)
	}
	if inner.calls.Load() != 1 || len(events) != 1 {
		t.Fatalf("calls=%d events=%d", inner.calls.Load(), len(events))
	}
}

func TestRetrying_FallsBackAfterExhaustion(t *testing.T) {
	inner := &flaky{failures: 2}
	r := NewRetrying(inner, WithMaxTries(2), WithBackOff(quick))
	rc := contextWith("primary")
	rc.Config.Fallback = &agent.ProviderConfig{ProviderID: "backup", Model: "m"}
	events, err := collect(r.Execute(context.Background(), rc))
	if err != nil {
		t.Fatal(err)
	}
	if am := events[0].(agent.AssistantMessage); am.Content != "backup" {
		t.Fatalf("answered by %q", am.Content)
	}
	if rc.Config.Primary.ProviderID != "primary" {
		t.Fatal("fallback mutated the caller's context")
	}
}

func TestRetrying_ExhaustedWithoutFallback(t *testing.T) {
	inner := &flaky{failures: 10}
	r := NewRetrying(inner, WithMaxTries(3), WithBackOff(quick))
	_, err := collect(r.Execute(context.Background(), contextWith("primary")))
	if err == nil || err.Error() != "unavailable" {
		t.Fatalf("err=%v", err)
	}
	if inner.calls.Load() != 3 {
		t.Fatalf("calls=%d", inner.calls.Load())
	}
}
