package runtime

import (
	"context"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/wilhg/agentd/pkg/agent"
	otto "github.com/wilhg/agentd/pkg/otel"
	"github.com/wilhg/agentd/pkg/store/memstore"
)

// Intake and turns are traced once a provider is installed.
func TestTracing_ActorSpans(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	shutdown, err := otto.Init(t.Context(), otto.Config{ServiceName: "agentd-test", Processors: []sdktrace.SpanProcessor{rec}})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = shutdown(context.Background()) })

	a := newActor(t, memstore.New(), replyWith("hi"))
	if _, err := a.AddEvent(t.Context(), agent.NewUserMessage("a", "hello")); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "turn completion", func() bool { return hasTag(agent.TagAgentTurnCompleted)(a.GetEvents()) })
	waitFor(t, "turn span", func() bool {
		for _, s := range rec.Ended() {
			if s.Name() == "Actor.Turn" {
				return true
			}
		}
		return false
	})

	names := map[string]int{}
	for _, s := range rec.Ended() {
		names[s.Name()]++
	}
	if names["Actor.Accept"] < 4 {
		t.Fatalf("spans=%v", names)
	}
}
