package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/wilhg/agentd/pkg/agent"
)

func TestHubFanOutInOrder(t *testing.T) {
	h := newHub()
	s1, ok := h.subscribe(nil)
	if !ok {
		t.Fatal("subscribe failed")
	}
	s2, _ := h.subscribe(nil)
	for i := range 100 {
		h.publish(agent.NewSetTimeout("a", i))
	}
	h.close()

	for _, s := range []*Subscription{s1, s2} {
		i := 0
		for e := range s.Events() {
			if got := e.(agent.SetTimeout).TimeoutMs; got != i {
				t.Fatalf("event %d carried %d", i, got)
			}
			i++
		}
		if i != 100 {
			t.Fatalf("received %d events, want 100", i)
		}
	}
}

func TestHubNoReplay(t *testing.T) {
	h := newHub()
	h.publish(agent.NewSetTimeout("a", 1))
	s, _ := h.subscribe(nil)
	h.publish(agent.NewSetTimeout("a", 2))
	h.close()
	var got []int
	for e := range s.Events() {
		got = append(got, e.(agent.SetTimeout).TimeoutMs)
	}
	if len(got) != 1 || got[0] != 2 {
		t.Fatalf("got %v", got)
	}
}

func TestHubCloseUnsubscribes(t *testing.T) {
	h := newHub()
	s, _ := h.subscribe(nil)
	s.Close()
	s.Close()
	h.publish(agent.NewSetTimeout("a", 1))
	select {
	case _, ok := <-s.Events():
		if ok {
			t.Fatal("event delivered after Close")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after Close")
	}
	h.mu.Lock()
	n := len(h.subs)
	h.mu.Unlock()
	if n != 0 {
		t.Fatalf("subscribers=%d", n)
	}
}

func TestHubContextCancelUnsubscribes(t *testing.T) {
	h := newHub()
	ctx, cancel := context.WithCancel(context.Background())
	s, _ := h.subscribe(ctx)
	cancel()
	select {
	case _, ok := <-s.Events():
		if ok {
			t.Fatal("unexpected event")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestHubSlowReaderDoesNotBlockPublish(t *testing.T) {
	h := newHub()
	s, _ := h.subscribe(nil)
	done := make(chan struct{})
	go func() {
		for i := range 10000 {
			h.publish(agent.NewSetTimeout("a", i))
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("publish blocked on an idle subscriber")
	}
	h.close()
	n := 0
	for range s.Events() {
		n++
	}
	if n != 10000 {
		t.Fatalf("received %d", n)
	}
}

func TestHubSubscribeAfterClose(t *testing.T) {
	h := newHub()
	h.close()
	if _, ok := h.subscribe(nil); ok {
		t.Fatal("subscribe succeeded on closed hub")
	}
	if !h.isClosed() {
		t.Fatal("hub not closed")
	}
}
