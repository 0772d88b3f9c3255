package filestore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/wilhg/agentd/pkg/agent"
	"github.com/wilhg/agentd/pkg/store"
	"github.com/wilhg/agentd/pkg/store/storetest"
)

func TestFilestoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.EventStore {
		s, err := New(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		return s
	})
}

func TestDocumentShape(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	conv := storetest.Conversation("shape")
	if err := s.Append(t.Context(), "shape", conv); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(filepath.Join(s.Dir(), "shape.json"))
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string][]map[string]any
	if err := json.Unmarshal(b, &doc); err != nil {
		t.Fatalf("not a json document: %v", err)
	}
	events := doc["events"]
	if len(events) != len(conv) {
		t.Fatalf("events=%d want %d", len(events), len(conv))
	}
	if events[0]["_tag"] != "SessionStarted" {
		t.Fatalf("first event tag=%v", events[0]["_tag"])
	}
	if strings.Contains(string(b), "TextDelta") {
		t.Fatalf("text delta persisted")
	}
}

func TestEscapesNames(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	name := agent.ContextName("../etc/passwd")
	if filepath.Dir(s.Path(name)) != s.Dir() {
		t.Fatalf("path escapes the store dir: %s", s.Path(name))
	}
	if err := s.Append(t.Context(), name, storetest.Conversation("../etc/passwd")[:1]); err != nil {
		t.Fatal(err)
	}
	names, err := s.Names(t.Context())
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 1 || names[0] != name {
		t.Fatalf("names=%v", names)
	}
}

func TestConcurrentAppendsSerialize(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	conv := storetest.Conversation("c")
	var wg sync.WaitGroup
	for _, e := range conv {
		wg.Add(1)
		go func(e agent.Event) {
			defer wg.Done()
			if err := s.Append(t.Context(), "c", []agent.Event{e}); err != nil {
				t.Error(err)
			}
		}(e)
	}
	wg.Wait()
	got, err := s.Load(t.Context(), "c")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(conv) {
		t.Fatalf("lost writes: %d of %d", len(got), len(conv))
	}
}

func TestCorruptLogIsLoadError(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(s.Path("bad"), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Load(t.Context(), "bad"); err == nil {
		t.Fatalf("expected load error")
	}
}
