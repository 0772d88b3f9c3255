package gemini

import (
	"context"
	"fmt"
	"iter"
	"os"

	genai "google.golang.org/genai"

	"github.com/wilhg/agentd/pkg/adapters/llm"
	"github.com/wilhg/agentd/pkg/agent"
)

const defaultModel = "gemini-2.5-flash-lite"

type clientWrapper struct {
	client *genai.Client
	model  string
}

func (c *clientWrapper) Name() string { return "gemini" }

func (c *clientWrapper) Stream(ctx context.Context, req llm.Request) iter.Seq2[llm.Chunk, error] {
	return func(yield func(llm.Chunk, error) bool) {
		model := c.model
		if req.Model != "" {
			model = req.Model
		}
		contents, system := toContents(req.Messages)
		var cfg *genai.GenerateContentConfig
		if system != nil {
			cfg = &genai.GenerateContentConfig{SystemInstruction: system}
		}
		for res, err := range c.client.Models.GenerateContentStream(ctx, model, contents, cfg) {
			if err != nil {
				yield(llm.Chunk{}, err)
				return
			}
			if !yield(llm.Chunk{Text: res.Text()}, nil) {
				return
			}
		}
	}
}

// toContents splits system messages into one system instruction and maps the
// rest to user and model turns.
func toContents(msgs []agent.Message) ([]*genai.Content, *genai.Content) {
	var (
		contents []*genai.Content
		system   *genai.Content
	)
	for _, m := range msgs {
		switch m.Role {
		case agent.RoleSystem:
			if system == nil {
				system = &genai.Content{Role: string(genai.RoleUser)}
			}
			system.Parts = append(system.Parts, &genai.Part{Text: m.Content})
		case agent.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return contents, system
}

// Factory creates a Gemini provider using GOOGLE_API_KEY by default.
func Factory(ctx context.Context, cfg agent.ProviderConfig) (llm.Provider, error) { // nolint: revive
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: missing API key; set GOOGLE_API_KEY or apiKey")
	}
	cc := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if cfg.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, err
	}
	model := defaultModel
	if cfg.Model != "" {
		model = cfg.Model
	}
	return &clientWrapper{client: client, model: model}, nil
}

func init() {
	_ = llm.Register("gemini", Factory)
}
