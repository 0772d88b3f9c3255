package runtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wilhg/agentd/pkg/agent"
	"github.com/wilhg/agentd/pkg/errmodel"
	"github.com/wilhg/agentd/pkg/logger"
	"github.com/wilhg/agentd/pkg/store/memstore"
)

func newRegistry(t *testing.T) (*Registry, *memstore.Store, *atomic.Int32) {
	t.Helper()
	st := memstore.New()
	var built atomic.Int32
	base := NewFactory(st, replyWith("ok"), WithLogger(logger.Discard()), WithGracePeriod(0))
	r := NewRegistry(func(ctx context.Context, name agent.AgentName) (*Actor, error) {
		built.Add(1)
		time.Sleep(10 * time.Millisecond)
		return base(ctx, name)
	}, logger.Discard())
	t.Cleanup(func() { r.ShutdownAll(context.Background()) })
	return r, st, &built
}

func TestRegistryConcurrentGetOrCreateBuildsOnce(t *testing.T) {
	r, st, built := newRegistry(t)
	const n = 32
	got := make([]*Actor, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Go(func() {
			a, err := r.GetOrCreate(context.Background(), "a")
			if err != nil {
				t.Error(err)
				return
			}
			got[i] = a
		})
	}
	wg.Wait()
	if built.Load() != 1 {
		t.Fatalf("factory ran %d times", built.Load())
	}
	for i := 1; i < n; i++ {
		if got[i] != got[0] {
			t.Fatal("callers received different actors")
		}
	}
	stored, _ := st.Load(context.Background(), "a")
	if count(stored, agent.TagSessionStarted) != 1 {
		t.Fatalf("tags=%v", tags(stored))
	}
}

func TestRegistryGetUnknown(t *testing.T) {
	r, _, _ := newRegistry(t)
	var nf *errmodel.AgentNotFoundError
	if _, err := r.Get("ghost"); !errors.As(err, &nf) {
		t.Fatalf("Get: %v", err)
	}
	if err := r.ShutdownAgent(context.Background(), "ghost"); !errors.As(err, &nf) {
		t.Fatalf("ShutdownAgent: %v", err)
	}
	if err := r.EndSession(context.Background(), "ghost"); !errors.As(err, &nf) {
		t.Fatalf("EndSession: %v", err)
	}
}

func TestRegistryListAndShutdownAll(t *testing.T) {
	r, st, _ := newRegistry(t)
	for _, name := range []agent.AgentName{"b", "a", "c"} {
		if _, err := r.GetOrCreate(context.Background(), name); err != nil {
			t.Fatal(err)
		}
	}
	got := r.List()
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("list=%v", got)
	}
	r.ShutdownAll(context.Background())
	if len(r.List()) != 0 {
		t.Fatalf("list after shutdown=%v", r.List())
	}
	for _, name := range []agent.ContextName{"a", "b", "c"} {
		stored, _ := st.Load(context.Background(), name)
		if stored[len(stored)-1].Tag() != agent.TagSessionEnded {
			t.Fatalf("%s: tags=%v", name, tags(stored))
		}
	}
}

func TestRegistryEndSessionThenRecreate(t *testing.T) {
	r, st, built := newRegistry(t)
	first, err := r.GetOrCreate(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := first.AddEvent(context.Background(), agent.NewSetTimeout("a", 7)); err != nil {
		t.Fatal(err)
	}
	if err := r.EndSession(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Get("a"); err == nil {
		t.Fatal("ended actor still cached")
	}

	second, err := r.GetOrCreate(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	if second == first || built.Load() != 2 {
		t.Fatal("expected a fresh actor")
	}
	if second.State().Config.TimeoutMs != 7 {
		t.Fatalf("state not replayed: %#v", second.State().Config)
	}
	stored, _ := st.Load(context.Background(), "a")
	assertChain(t, stored)
}

func TestRegistryReplacesEndedActor(t *testing.T) {
	r, _, built := newRegistry(t)
	first, err := r.GetOrCreate(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	// Ended directly on the actor, bypassing the registry.
	if err := first.EndSession(context.Background()); err != nil {
		t.Fatal(err)
	}
	second, err := r.GetOrCreate(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	if second == first || built.Load() != 2 {
		t.Fatal("ended actor was reused")
	}
}

func TestRegistryFactoryError(t *testing.T) {
	r := NewRegistry(func(context.Context, agent.AgentName) (*Actor, error) {
		return nil, errors.New("nope")
	}, logger.Discard())
	if _, err := r.GetOrCreate(context.Background(), "a"); err == nil {
		t.Fatal("expected factory error")
	}
	if len(r.List()) != 0 {
		t.Fatal("failed actor cached")
	}
}

func TestRegistryGetOrCreateHonorsContext(t *testing.T) {
	release := make(chan struct{})
	r := NewRegistry(func(context.Context, agent.AgentName) (*Actor, error) {
		<-release
		return nil, errors.New("late")
	}, logger.Discard())
	defer close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := r.GetOrCreate(ctx, "a"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err=%v", err)
	}
}
