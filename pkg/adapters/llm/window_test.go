package llm

import (
	"testing"

	"github.com/wilhg/agentd/pkg/agent"
)

func msg(role agent.Role, content string) agent.Message {
	return agent.Message{Role: role, Content: content}
}

func TestTrim_PinsSystemKeepsNewest(t *testing.T) {
	history := []agent.Message{
		msg(agent.RoleSystem, "sys"),     // 3
		msg(agent.RoleUser, "aaaa"),      // 4
		msg(agent.RoleAssistant, "bbbb"), // 4
		msg(agent.RoleUser, "cc"),        // 2
	}
	out, log := Trim(history, 10, RuneEstimator)

	// sys (3) pinned, newest "cc" (2), then "bbbb" (4) fits at 9, "aaaa" would exceed.
	if len(out) != 3 {
		t.Fatalf("got %d messages, want 3: %+v", len(out), out)
	}
	if out[0].Content != "sys" || out[1].Content != "bbbb" || out[2].Content != "cc" {
		t.Fatalf("order: %+v", out)
	}
	if log.IncludedTokens != 9 || log.DroppedCount != 1 {
		t.Fatalf("log mismatch: %+v", log)
	}
}

func TestTrim_NewestAlwaysKept(t *testing.T) {
	history := []agent.Message{msg(agent.RoleUser, "old"), msg(agent.RoleUser, "far too long for the budget")}
	out, _ := Trim(history, 2, RuneEstimator)
	if len(out) != 1 || out[0].Content != "far too long for the budget" {
		t.Fatalf("out=%+v", out)
	}
}

func TestTrim_StopsAtFirstMisfit(t *testing.T) {
	// A short old message must not be kept once a newer one was dropped.
	history := []agent.Message{msg(agent.RoleUser, "a"), msg(agent.RoleUser, "bbbbbbbb"), msg(agent.RoleUser, "c")}
	out, log := Trim(history, 5, RuneEstimator)
	if len(out) != 1 || out[0].Content != "c" || log.DroppedCount != 2 {
		t.Fatalf("out=%+v log=%+v", out, log)
	}
}

func TestTrim_Disabled(t *testing.T) {
	history := []agent.Message{msg(agent.RoleUser, "abc"), msg(agent.RoleAssistant, "de")}
	out, log := Trim(history, 0, nil)
	if len(out) != 2 || log.IncludedTokens != 5 || log.DroppedCount != 0 {
		t.Fatalf("out=%+v log=%+v", out, log)
	}
}

func TestEstimatorFor_UnknownModelFallsBack(t *testing.T) {
	est := EstimatorFor("no-such-model")
	if got := est("héllo"); got != 5 {
		t.Fatalf("got %d, want rune count 5", got)
	}
}

func TestNewTikTokenEstimator(t *testing.T) {
	est, err := NewTikTokenEstimator("gpt-4")
	if err != nil {
		t.Skipf("tiktoken not available for model: %v", err)
	}
	if got := est("hello world"); got <= 0 {
		t.Fatalf("got %d tokens, want > 0", got)
	}
}
