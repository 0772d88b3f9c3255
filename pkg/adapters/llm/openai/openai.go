package openai

import (
	"context"
	"fmt"
	"iter"
	"os"

	oa "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/wilhg/agentd/pkg/adapters/llm"
	"github.com/wilhg/agentd/pkg/agent"
)

const (
	defaultModel = "gpt-5-nano"
)

type clientWrapper struct {
	client oa.Client
	model  string
}

func (c *clientWrapper) Name() string { return "openai" }

func (c *clientWrapper) Stream(ctx context.Context, req llm.Request) iter.Seq2[llm.Chunk, error] {
	return func(yield func(llm.Chunk, error) bool) {
		model := c.model
		if req.Model != "" {
			model = req.Model
		}

		// Map our messages to SDK union type
		mm := make([]oa.ChatCompletionMessageParamUnion, 0, len(req.Messages))
		for _, m := range req.Messages {
			switch m.Role {
			case agent.RoleSystem:
				mm = append(mm, oa.SystemMessage(m.Content))
			case agent.RoleAssistant:
				mm = append(mm, oa.AssistantMessage(m.Content))
			default:
				mm = append(mm, oa.UserMessage(m.Content))
			}
		}

		stream := c.client.Chat.Completions.NewStreaming(ctx, oa.ChatCompletionNewParams{
			Model:    shared.ChatModel(model),
			Messages: mm,
		})
		defer stream.Close()
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			if !yield(llm.Chunk{Text: chunk.Choices[0].Delta.Content}, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield(llm.Chunk{}, err)
		}
	}
}

// Factory builds the OpenAI provider. The key falls back to OPENAI_API_KEY;
// BaseURL points it at any OpenAI-compatible endpoint.
func Factory(ctx context.Context, cfg agent.ProviderConfig) (llm.Provider, error) { // nolint: revive
	_ = ctx
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("openai: missing API key; set OPENAI_API_KEY or apiKey")
	}
	model := defaultModel
	if cfg.Model != "" {
		model = cfg.Model
	}

	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	c := oa.NewClient(opts...)
	return &clientWrapper{client: c, model: model}, nil
}

func init() {
	_ = llm.Register("openai", Factory)
}
