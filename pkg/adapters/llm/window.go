package llm

import (
	"sync"

	tiktoken "github.com/pkoukk/tiktoken-go"

	"github.com/wilhg/agentd/pkg/agent"
)

// TokenEstimator estimates token usage of text content.
type TokenEstimator func(text string) int

// RuneEstimator counts runes. It is the fallback when no tokenizer is known
// for a model.
func RuneEstimator(text string) int { return len([]rune(text)) }

// NewTikTokenEstimator returns a TokenEstimator backed by tiktoken-go for the given model.
// If the model is unknown, EncodingForModel returns an error.
func NewTikTokenEstimator(model string) (TokenEstimator, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, err
	}
	return func(text string) int {
		return len(enc.Encode(text, nil, nil))
	}, nil
}

var (
	estMu     sync.Mutex
	estimates = map[string]TokenEstimator{}
)

// EstimatorFor returns a cached tiktoken estimator for model, or
// RuneEstimator when tiktoken does not know the model.
func EstimatorFor(model string) TokenEstimator {
	estMu.Lock()
	defer estMu.Unlock()
	if est, ok := estimates[model]; ok {
		return est
	}
	est, err := NewTikTokenEstimator(model)
	if err != nil {
		est = RuneEstimator
	}
	estimates[model] = est
	return est
}

// CountTokens sums the estimate over all message contents.
func CountTokens(msgs []agent.Message, est TokenEstimator) int {
	n := 0
	for _, m := range msgs {
		n += est(m.Content)
	}
	return n
}

// TrimLog summarizes a trimming decision.
type TrimLog struct {
	IncludedTokens int
	DroppedCount   int
}

// Trim fits a conversation history into a token budget. Behavior:
//   - System messages are pinned and considered first, oldest first.
//   - The newest non-system message is always kept.
//   - Remaining messages are taken newest first while they fit.
//   - The result preserves the original order.
//
// A budget <= 0 disables trimming.
func Trim(msgs []agent.Message, budget int, est TokenEstimator) ([]agent.Message, TrimLog) {
	if est == nil {
		est = RuneEstimator
	}
	if budget <= 0 {
		return msgs, TrimLog{IncludedTokens: CountTokens(msgs, est)}
	}

	keep := make([]bool, len(msgs))
	used := 0
	take := func(i int, force bool) bool {
		cost := est(msgs[i].Content)
		if !force && used+cost > budget {
			return false
		}
		used += cost
		keep[i] = true
		return true
	}
	for i, m := range msgs {
		if m.Role == agent.RoleSystem {
			take(i, false)
		}
	}
	newest := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role != agent.RoleSystem {
			newest = i
			break
		}
	}
	if newest >= 0 {
		take(newest, true)
	}
	for i := newest - 1; i >= 0; i-- {
		if msgs[i].Role == agent.RoleSystem {
			continue
		}
		if !take(i, false) {
			break
		}
	}

	out := make([]agent.Message, 0, len(msgs))
	for i, m := range msgs {
		if keep[i] {
			out = append(out, m)
		}
	}
	return out, TrimLog{IncludedTokens: used, DroppedCount: len(msgs) - len(out)}
}
