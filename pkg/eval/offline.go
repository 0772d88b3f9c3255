package eval

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"path"
	"strings"
	"text/template"

	"github.com/wilhg/agentd/pkg/agent"
)

// Fixture represents one executor evaluation case. Prompt is a text/template
// rendered with Vars into the final user message.
type Fixture struct {
	Name    string          `json:"name"`
	System  string          `json:"system,omitempty"`
	History []agent.Message `json:"history,omitempty"`
	Prompt  string          `json:"prompt"`
	Vars    map[string]any  `json:"vars"`
	Expect  Expectation     `json:"expect"`
}

type Expectation struct {
	Contains    []string `json:"contains,omitempty"`
	NotContains []string `json:"not_contains,omitempty"`
	// Fail expects the executor to fail the turn.
	Fail bool `json:"fail,omitempty"`
}

// EvaluateFixtures loads fixtures from an fs.FS directory (json files), runs
// each through exec as one turn and checks the assistant reply against the
// expectations. Returns score [0,1].
func EvaluateFixtures(ctx context.Context, fsys fs.FS, dir string, exec agent.TurnExecutor, defaults agent.Config) (score float64, total int, passed int, details []string, err error) {
	fixtures, err := loadFixtures(fsys, dir)
	if err != nil {
		return 0, 0, 0, nil, err
	}
	total = len(fixtures)
	if total == 0 {
		return 1, 0, 0, nil, nil
	}
	for _, fx := range fixtures {
		prompt, rerr := renderTemplate(fx.Prompt, fx.Vars)
		if rerr != nil {
			details = append(details, fx.Name+": render error: "+rerr.Error())
			continue
		}
		reply, terr := runTurn(ctx, exec, fx.context(defaults, prompt))
		if terr != nil {
			if !fx.Expect.Fail {
				details = append(details, fx.Name+": turn failed: "+terr.Error())
			} else {
				passed++
			}
			continue
		}
		if fx.Expect.Fail {
			details = append(details, fx.Name+": expected failure, got reply")
			continue
		}
		ok := true
		for _, s := range fx.Expect.Contains {
			if !strings.Contains(reply, s) {
				ok = false
				details = append(details, fx.Name+": missing contains: "+s)
			}
		}
		for _, s := range fx.Expect.NotContains {
			if strings.Contains(reply, s) {
				ok = false
				details = append(details, fx.Name+": unexpected contains: "+s)
			}
		}
		if ok {
			passed++
		}
	}
	score = float64(passed) / float64(total)
	return score, total, passed, details, nil
}

func (fx Fixture) context(defaults agent.Config, prompt string) agent.ReducedContext {
	rc := agent.InitialContext(defaults)
	if fx.System != "" {
		rc.Messages = append(rc.Messages, agent.Message{Role: agent.RoleSystem, Content: fx.System})
	}
	rc.Messages = append(rc.Messages, fx.History...)
	rc.Messages = append(rc.Messages, agent.Message{Role: agent.RoleUser, Content: prompt})
	return rc
}

// runTurn drains one turn and returns the assistant reply.
func runTurn(ctx context.Context, exec agent.TurnExecutor, rc agent.ReducedContext) (string, error) {
	for ev, err := range exec.Execute(ctx, rc) {
		if err != nil {
			return "", err
		}
		if am, ok := ev.(agent.AssistantMessage); ok {
			return am.Content, nil
		}
	}
	return "", errNoReply
}

var errNoReply = errors.New("executor finished without an assistant message")

func loadFixtures(fsys fs.FS, dir string) ([]Fixture, error) {
	var out []Fixture
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		b, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		var fx Fixture
		if err := json.Unmarshal(b, &fx); err != nil {
			return nil, err
		}
		out = append(out, fx)
	}
	return out, nil
}

func renderTemplate(tpl string, vars map[string]any) (string, error) {
	t, err := template.New("p").Option("missingkey=error").Parse(tpl)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	if err := t.Execute(&b, vars); err != nil {
		return "", err
	}
	return b.String(), nil
}
