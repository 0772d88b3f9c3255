package openai

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wilhg/agentd/pkg/adapters/llm"
	"github.com/wilhg/agentd/pkg/agent"
)

func TestFactory_RequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	if _, err := Factory(t.Context(), agent.ProviderConfig{ProviderID: "openai"}); err == nil {
		t.Fatal("expected missing key error")
	}
}

func TestStream_BaseURLOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"po", "ng"} {
			_, _ = w.Write([]byte(`data: {"id":"c1","object":"chat.completion.chunk","created":1,"model":"m","choices":[{"index":0,"delta":{"content":"` + part + `"}}]}` + "\n\n"))
		}
		_, _ = w.Write([]byte("data: [DONE]\n\n"))
	}))
	defer srv.Close()

	p, err := Factory(t.Context(), agent.ProviderConfig{ProviderID: "openai", Model: "m", APIKey: "k", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	var sb strings.Builder
	req := llm.Request{Messages: []agent.Message{{Role: agent.RoleUser, Content: "ping"}}}
	for chunk, err := range p.Stream(t.Context(), req) {
		if err != nil {
			t.Fatal(err)
		}
		sb.WriteString(chunk.Text)
	}
	if sb.String() != "pong" {
		t.Fatalf("got %q", sb.String())
	}
}
