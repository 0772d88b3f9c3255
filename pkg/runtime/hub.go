package runtime

import (
	"context"
	"sync"

	"github.com/wilhg/agentd/pkg/agent"
	"github.com/wilhg/agentd/pkg/metrics"
)

// hub fans every published event out to all live subscribers. Each subscriber
// owns an unbounded queue drained by its own goroutine; publish never blocks
// and never drops. There is no replay: a subscriber sees events published
// after it joined.
type hub struct {
	mu     sync.Mutex
	subs   map[uint64]*subscriber
	nextID uint64
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[uint64]*subscriber)}
}

type subscriber struct {
	mu    sync.Mutex
	queue []agent.Event
	ended bool

	wake     chan struct{}
	out      chan agent.Event
	stop     chan struct{}
	stopOnce sync.Once
}

// Subscription is a live view of an actor's broadcast stream. The channel is
// closed after the session ends and every queued event was delivered, or
// right after Close.
// Every event on it has a distinct id. TextDeltas carry agent.MakeDeltaID ids
// derived from the event number they precede.
type Subscription struct {
	events <-chan agent.Event
	close  func()
}

// Events returns the delivery channel.
func (s *Subscription) Events() <-chan agent.Event { return s.events }

// Close unsubscribes. Queued events that were not yet received are dropped.
func (s *Subscription) Close() { s.close() }

// subscribe adds a subscriber. ok is false once the hub is closed.
func (h *hub) subscribe(ctx context.Context) (*Subscription, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	id := h.nextID
	h.nextID++
	s := &subscriber{
		wake: make(chan struct{}, 1),
		out:  make(chan agent.Event),
		stop: make(chan struct{}),
	}
	h.subs[id] = s
	metrics.Subscribers.Inc()
	go s.pump()

	closeFn := func() {
		h.remove(id)
		s.stopOnce.Do(func() { close(s.stop) })
	}
	if ctx != nil && ctx.Done() != nil {
		stopAfter := context.AfterFunc(ctx, closeFn)
		inner := closeFn
		closeFn = func() { stopAfter(); inner() }
	}
	return &Subscription{events: s.out, close: closeFn}, true
}

func (h *hub) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[id]; ok {
		delete(h.subs, id)
		metrics.Subscribers.Dec()
	}
}

// publish enqueues e for every subscriber. Holding the hub lock for the whole
// fan-out makes subscribe atomic with respect to any single publish.
func (h *hub) publish(e agent.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, s := range h.subs {
		s.push(e)
	}
}

// close ends every subscription after its queue drains. Later publishes and
// subscribes are ignored.
func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, s := range h.subs {
		s.finish()
		delete(h.subs, id)
		metrics.Subscribers.Dec()
	}
}

func (h *hub) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (s *subscriber) push(e agent.Event) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, e)
	s.mu.Unlock()
	s.notify()
}

func (s *subscriber) finish() {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	s.notify()
}

func (s *subscriber) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		ended := s.ended
		s.mu.Unlock()

		for _, e := range batch {
			select {
			case s.out <- e:
			case <-s.stop:
				return
			}
		}
		if len(batch) > 0 {
			continue
		}
		if ended {
			return
		}
		select {
		case <-s.wake:
		case <-s.stop:
			return
		}
	}
}
