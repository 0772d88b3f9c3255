package fake

import (
	"context"
	"errors"
	"testing"

	"github.com/wilhg/agentd/pkg/adapters/llm"
	"github.com/wilhg/agentd/pkg/agent"
)

func TestProvider_EchoesLastUserMessage(t *testing.T) {
	rc := agent.InitialContext(agent.Config{})
	rc.Config.Primary = &agent.ProviderConfig{ProviderID: "fake", Model: "echo"}
	rc.Messages = []agent.Message{{Role: agent.RoleUser, Content: "hello there"}, {Role: agent.RoleAssistant, Content: "x"}}

	var deltas int
	var final string
	for ev, err := range llm.NewExecutor().Execute(context.Background(), rc) {
		if err != nil {
			t.Fatal(err)
		}
		switch e := ev.(type) {
		case agent.TextDelta:
			deltas++
		case agent.AssistantMessage:
			final = e.Content
		}
	}
	if final != "echo: hello there" || deltas != 3 {
		t.Fatalf("final=%q deltas=%d", final, deltas)
	}
}

func TestProvider_ScriptRepeatsLastReply(t *testing.T) {
	p := New(Reply{Err: errors.New("down")}, Reply{Chunks: []string{"ok"}})
	for i, want := range []string{"down", "", ""} {
		var err error
		text := ""
		for c, e := range p.Stream(context.Background(), llm.Request{}) {
			if e != nil {
				err = e
				break
			}
			text += c.Text
		}
		if want != "" && (err == nil || err.Error() != want) {
			t.Fatalf("call %d: err=%v", i, err)
		}
		if want == "" && (err != nil || text != "ok") {
			t.Fatalf("call %d: text=%q err=%v", i, text, err)
		}
	}
	if p.Calls() != 3 || len(p.Requests()) != 3 {
		t.Fatalf("calls=%d", p.Calls())
	}
}

func TestExecutor_StreamsWords(t *testing.T) {
	exec := Executor(func(rc agent.ReducedContext) (string, error) { return "a b c", nil })
	var tags []agent.Tag
	for ev, err := range exec.Execute(context.Background(), agent.ReducedContext{}) {
		if err != nil {
			t.Fatal(err)
		}
		tags = append(tags, ev.Tag())
	}
	if len(tags) != 4 || tags[3] != agent.TagAssistantMessage {
		t.Fatalf("tags=%v", tags)
	}
}
