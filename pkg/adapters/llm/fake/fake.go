// Package fake provides deterministic providers and executors for tests and
// offline runs. Importing it registers the "fake" provider id.
package fake

import (
	"context"
	"iter"
	"strings"
	"sync"

	"github.com/wilhg/agentd/pkg/adapters/llm"
	"github.com/wilhg/agentd/pkg/agent"
)

// Reply is one scripted provider response.
type Reply struct {
	Chunks []string
	Err    error
}

// Provider replays scripted replies, one per Stream call. The last reply
// repeats once the script runs out. With no script it echoes the newest
// user message word by word.
type Provider struct {
	name string

	mu    sync.Mutex
	calls int
	reqs  []llm.Request
	steps []Reply
}

// New returns a provider that plays replies in order.
func New(replies ...Reply) *Provider {
	return &Provider{name: "fake", steps: replies}
}

func (p *Provider) Name() string { return p.name }

// Calls returns how many times Stream was invoked.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Requests returns a copy of every request received.
func (p *Provider) Requests() []llm.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.Request(nil), p.reqs...)
}

func (p *Provider) Stream(ctx context.Context, req llm.Request) iter.Seq2[llm.Chunk, error] {
	p.mu.Lock()
	p.calls++
	p.reqs = append(p.reqs, req)
	var r Reply
	switch {
	case len(p.steps) == 0:
		r = Reply{Chunks: echo(req.Messages)}
	case p.calls <= len(p.steps):
		r = p.steps[p.calls-1]
	default:
		r = p.steps[len(p.steps)-1]
	}
	p.mu.Unlock()

	return func(yield func(llm.Chunk, error) bool) {
		for _, c := range r.Chunks {
			if err := ctx.Err(); err != nil {
				yield(llm.Chunk{}, err)
				return
			}
			if !yield(llm.Chunk{Text: c}, nil) {
				return
			}
		}
		if r.Err != nil {
			yield(llm.Chunk{}, r.Err)
		}
	}
}

// Factory returns a Factory that always hands out p.
func (p *Provider) Factory() llm.Factory {
	return func(context.Context, agent.ProviderConfig) (llm.Provider, error) { return p, nil }
}

func echo(msgs []agent.Message) []string {
	last := ""
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == agent.RoleUser {
			last = msgs[i].Content
			break
		}
	}
	words := strings.Fields("echo: " + last)
	out := make([]string, len(words))
	for i, w := range words {
		if i > 0 {
			w = " " + w
		}
		out[i] = w
	}
	return out
}

// Executor answers every turn through reply, streaming the answer one word
// at a time before the final AssistantMessage.
func Executor(reply func(agent.ReducedContext) (string, error)) agent.TurnExecutor {
	return agent.TurnExecutorFunc(func(ctx context.Context, rc agent.ReducedContext) iter.Seq2[agent.Event, error] {
		return func(yield func(agent.Event, error) bool) {
			text, err := reply(rc)
			if err != nil {
				yield(nil, err)
				return
			}
			for i, w := range strings.Fields(text) {
				if i > 0 {
					w = " " + w
				}
				if !yield(agent.NewTextDelta("", w), nil) {
					return
				}
			}
			yield(agent.NewAssistantMessage("", text), nil)
		}
	})
}

func init() {
	_ = llm.Register("fake", func(context.Context, agent.ProviderConfig) (llm.Provider, error) {
		return New(), nil
	})
}
