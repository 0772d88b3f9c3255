// Package runtime hosts the per-agent actor and the registry that owns actor
// lifecycles.
//
// An Actor is the single writer of one conversation. Every accepted event,
// whether it comes from a caller or from a running turn, goes through one
// serialized mailbox loop that stamps it, folds it into the ReducedContext,
// persists it and broadcasts it, in that order of visibility. Trigger events
// are debounced and start a cancellable turn on the configured TurnExecutor.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wilhg/agentd/pkg/agent"
	"github.com/wilhg/agentd/pkg/errmodel"
	"github.com/wilhg/agentd/pkg/metrics"
	"github.com/wilhg/agentd/pkg/store"
)

const (
	// DefaultDebounce is the quiet window that coalesces a burst of trigger
	// events into a single turn.
	DefaultDebounce = 100 * time.Millisecond
	// DefaultGracePeriod lets subscribers drain SessionEnded before close.
	DefaultGracePeriod = 50 * time.Millisecond
	// DefaultMailboxSize bounds how many requests may wait for the loop.
	DefaultMailboxSize = 64
)

var (
	// ErrSessionEnded rejects intake after SessionEnded was accepted.
	ErrSessionEnded = errmodel.Validation("session_ended", "session has ended", nil)
	// ErrActorStopped is returned once the mailbox loop has exited.
	ErrActorStopped = errmodel.System("actor_stopped", "actor is stopped", nil, nil)

	errTurnCancelled = errors.New("turn cancelled")
)

var tracer = otel.Tracer("runtime/actor")

// Option configures an Actor at construction time.
type Option func(*Actor)

// WithDebounce overrides the trigger debounce window.
func WithDebounce(d time.Duration) Option {
	return func(a *Actor) {
		if d > 0 {
			a.debounce = d
		}
	}
}

// WithGracePeriod overrides the pause between SessionEnded and subscriber close.
func WithGracePeriod(d time.Duration) Option {
	return func(a *Actor) {
		if d >= 0 {
			a.grace = d
		}
	}
}

// WithLogger sets the actor's logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Actor) {
		if l != nil {
			a.log = l
		}
	}
}

// WithDefaults seeds the ReducedContext config before replay.
func WithDefaults(c agent.Config) Option { return func(a *Actor) { a.defaults = c } }

// WithSystemPrompt emits a SystemPrompt when a brand-new conversation starts.
func WithSystemPrompt(p string) Option { return func(a *Actor) { a.systemPrompt = p } }

// WithMailboxSize sets the mailbox buffer.
func WithMailboxSize(n int) Option {
	return func(a *Actor) {
		if n > 0 {
			a.mailboxSize = n
		}
	}
}

// Actor owns the event log and reduced state of one agent.
type Actor struct {
	name    agent.AgentName
	ctxName agent.ContextName
	store   store.EventStore
	exec    agent.TurnExecutor
	log     *slog.Logger

	debounce     time.Duration
	grace        time.Duration
	defaults     agent.Config
	systemPrompt string
	mailboxSize  int

	// bg outlives callers; persistence runs under it.
	bg context.Context

	mailbox  chan request
	quit     chan struct{}
	loopDone chan struct{}
	stopLoop sync.Once
	hub      *hub

	schedStop chan struct{}
	schedDone chan struct{}
	schedOnce sync.Once

	current atomic.Pointer[turnHandle]

	// Loop-owned. Readers go through mu.
	mu          sync.RWMutex
	events      []agent.Event
	state       agent.ReducedContext
	lastEventID agent.EventID
	ended       bool
	// deltas counts TextDeltas broadcast since the last persisted event.
	deltas int

	ending       atomic.Bool
	aborted      atomic.Bool
	running      atomic.Bool
	endOnce      sync.Once
	endErr       error
	shutdownOnce sync.Once
	shutDone     chan struct{}
}

type requestKind int

const (
	reqEvent requestKind = iota
	reqStartTurn
	reqSnapshot
)

type request struct {
	kind  requestKind
	event agent.Event
	turn  *turnHandle
	ctx   context.Context
	reply chan outcome
}

type outcome struct {
	event   agent.Event
	state   agent.ReducedContext
	history []agent.Event
	sub     *Subscription
	err     error
}

// New replays the stored log of name and starts the actor. It fails with a
// ContextLoadError or ReducerError when the log cannot be replayed. A
// SessionStarted event is emitted on every start.
func New(ctx context.Context, name agent.AgentName, st store.EventStore, exec agent.TurnExecutor, opts ...Option) (*Actor, error) {
	if name == "" {
		return nil, errmodel.Validation("invalid_name", "agent name is empty", nil)
	}
	if st == nil || exec == nil {
		return nil, errors.New("runtime: store and executor are required")
	}
	a := &Actor{
		name:        name,
		ctxName:     agent.ContextNameFor(name),
		store:       st,
		exec:        exec,
		log:         slog.Default(),
		debounce:    DefaultDebounce,
		grace:       DefaultGracePeriod,
		mailboxSize: DefaultMailboxSize,
		bg:          context.WithoutCancel(ctx),
		quit:        make(chan struct{}),
		loopDone:    make(chan struct{}),
		schedStop:   make(chan struct{}),
		schedDone:   make(chan struct{}),
		shutDone:    make(chan struct{}),
		hub:         newHub(),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.log = a.log.With("agent", string(name))
	a.mailbox = make(chan request, a.mailboxSize)

	ctx, span := tracer.Start(ctx, "Actor.New", trace.WithAttributes(attribute.String("agent.name", string(name))))
	defer span.End()

	history, err := st.Load(ctx, a.ctxName)
	if err != nil {
		span.RecordError(err)
		var le *errmodel.ContextLoadError
		if !errors.As(err, &le) {
			err = store.LoadError(a.ctxName, "load", err)
		}
		return nil, err
	}
	state, err := agent.Reduce(agent.InitialContext(a.defaults), history)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	a.events = history
	a.state = state
	if n := len(history); n > 0 {
		a.lastEventID = history[n-1].EventHeader().ID
	}

	// The scheduler subscribes before the first event so no trigger is missed.
	sched, _ := a.hub.subscribe(nil)
	go a.loop()
	go a.schedule(sched)

	if _, err := a.AddEvent(ctx, agent.NewSessionStarted(name)); err != nil {
		a.abort(ctx)
		return nil, err
	}
	if len(history) == 0 && a.systemPrompt != "" {
		if _, err := a.AddEvent(ctx, agent.NewSystemPrompt(name, a.systemPrompt)); err != nil {
			a.abort(ctx)
			return nil, err
		}
	}
	a.running.Store(true)
	metrics.ActorsRunning.Inc()
	a.log.Debug("actor started", "replayed", len(history), "next_event", state.NextEventNumber)
	return a, nil
}

// Name returns the agent name.
func (a *Actor) Name() agent.AgentName { return a.name }

// AddEvent enqueues e and waits until the loop accepted or rejected it. The
// returned event carries the id, timestamp and parent assigned on intake.
// Reducer and store failures are reported here and never broadcast.
func (a *Actor) AddEvent(ctx context.Context, e agent.Event) (agent.Event, error) {
	if e == nil {
		return nil, errmodel.Validation("invalid_event", "event is nil", nil)
	}
	out := a.submit(ctx, request{kind: reqEvent, event: e, ctx: ctx})
	return out.event, out.err
}

// Offer enqueues e without waiting for it to be processed. The returned
// channel yields the intake result exactly once.
func (a *Actor) Offer(e agent.Event) <-chan error {
	done := make(chan error, 1)
	if e == nil {
		done <- errmodel.Validation("invalid_event", "event is nil", nil)
		return done
	}
	req := request{kind: reqEvent, event: e, ctx: a.bg, reply: make(chan outcome, 1)}
	select {
	case a.mailbox <- req:
	case <-a.loopDone:
		done <- ErrActorStopped
		return done
	}
	go func() { done <- a.await(req).err }()
	return done
}

// State returns a copy of the current ReducedContext.
func (a *Actor) State() agent.ReducedContext {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state.Clone()
}

// GetEvents returns a copy of the persisted log as seen by this actor.
func (a *Actor) GetEvents() []agent.Event {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return slices.Clone(a.events)
}

// Ended reports whether SessionEnded was accepted or the actor was shut down.
func (a *Actor) Ended() bool {
	if a.ending.Load() {
		return true
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ended
}

// Subscribe returns a live subscription starting at the next broadcast. It is
// closed when ctx is done.
func (a *Actor) Subscribe(ctx context.Context) (*Subscription, error) {
	sub, ok := a.hub.subscribe(ctx)
	if !ok {
		return nil, ErrSessionEnded
	}
	return sub, nil
}

// SubscribeWithHistory atomically snapshots the log and subscribes, so that
// history followed by the subscription has neither gaps nor duplicates.
func (a *Actor) SubscribeWithHistory(ctx context.Context) ([]agent.Event, *Subscription, error) {
	out := a.submit(ctx, request{kind: reqSnapshot, ctx: ctx})
	if out.err != nil {
		return nil, nil, out.err
	}
	return out.history, out.sub, nil
}

func (a *Actor) submit(ctx context.Context, req request) outcome {
	req.reply = make(chan outcome, 1)
	if ctx == nil {
		ctx = a.bg
	}
	select {
	case a.mailbox <- req:
	case <-a.loopDone:
		return outcome{err: ErrActorStopped}
	case <-ctx.Done():
		return outcome{err: ctx.Err()}
	}
	return a.await(req)
}

// await waits for the reply of an enqueued request. A request still queued
// when the loop exits is reported as stopped.
func (a *Actor) await(req request) outcome {
	select {
	case out := <-req.reply:
		return out
	case <-a.loopDone:
		select {
		case out := <-req.reply:
			return out
		default:
			return outcome{err: ErrActorStopped}
		}
	}
}

func (a *Actor) loop() {
	defer close(a.loopDone)
	for {
		select {
		case req := <-a.mailbox:
			req.reply <- a.process(req)
		case <-a.quit:
			return
		}
	}
}

func (a *Actor) process(req request) outcome {
	if req.turn != nil && req.turn.ctx.Err() != nil {
		return outcome{err: errTurnCancelled}
	}
	switch req.kind {
	case reqSnapshot:
		sub, ok := a.hub.subscribe(req.ctx)
		if !ok {
			return outcome{err: ErrSessionEnded}
		}
		return outcome{history: slices.Clone(a.events), state: a.state.Clone(), sub: sub}
	case reqStartTurn:
		if a.ended {
			return outcome{err: ErrSessionEnded}
		}
		return a.accept(agent.NewAgentTurnStarted(a.name, a.state.CurrentTurnNumber+1), req.turn)
	default:
		if a.ended {
			metrics.EventsRejected.WithLabelValues("session_ended").Inc()
			return outcome{err: ErrSessionEnded}
		}
		return a.accept(req.event, req.turn)
	}
}

// accept runs the per-event pipeline. State is committed only after the store
// acknowledged the write, so a failed event leaves no trace.
func (a *Actor) accept(e agent.Event, turn *turnHandle) outcome {
	h := e.EventHeader()
	if h.AgentName == "" {
		h.AgentName = a.name
	} else if h.AgentName != a.name {
		metrics.EventsRejected.WithLabelValues("agent_mismatch").Inc()
		return outcome{err: errmodel.Validation("agent_mismatch",
			fmt.Sprintf("event for %q sent to %q", h.AgentName, a.name), nil)}
	}
	if h.Timestamp.IsZero() {
		h.Timestamp = time.Now().UTC()
	}
	h.ParentEventID = a.lastEventID
	if agent.IsEphemeral(e) {
		a.deltas++
		h.ID = agent.MakeDeltaID(a.ctxName, a.state.NextEventNumber, a.deltas)
		e = agent.WithHeader(e, h)
		if d, ok := e.(agent.TextDelta); ok && turn != nil {
			turn.appendPartial(d.Delta)
		}
		a.hub.publish(e)
		return outcome{event: e, state: a.state}
	}
	h.ID = agent.MakeEventID(a.ctxName, a.state.NextEventNumber)
	e = agent.WithHeader(e, h)

	_, span := tracer.Start(a.bg, "Actor.Accept", trace.WithAttributes(
		attribute.String("agent.name", string(a.name)),
		attribute.String("event.id", string(h.ID)),
		attribute.String("event.tag", string(e.Tag())),
	))
	defer span.End()

	next, err := agent.Reduce(a.state, []agent.Event{e})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "reduce")
		metrics.EventsRejected.WithLabelValues("reducer").Inc()
		return outcome{err: err}
	}
	if err := a.store.Append(a.bg, a.ctxName, []agent.Event{e}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist")
		metrics.EventsRejected.WithLabelValues("store").Inc()
		a.log.Warn("persist event failed", "event_id", h.ID, "tag", e.Tag(), "err", err)
		return outcome{err: err}
	}

	a.mu.Lock()
	a.events = append(a.events, e)
	a.state = next
	a.lastEventID = h.ID
	a.deltas = 0
	if e.Tag() == agent.TagSessionEnded {
		a.ended = true
	}
	a.mu.Unlock()

	a.hub.publish(e)
	metrics.EventsTotal.WithLabelValues(string(e.Tag())).Inc()
	return outcome{event: e, state: next.Clone()}
}

// EndSession ends the session gracefully. An open turn is interrupted and
// recorded as AgentTurnInterrupted with reason "session_ended", then
// SessionEnded is emitted, subscribers get a grace period to drain and are
// closed. Concurrent and repeated calls run the sequence at most once.
func (a *Actor) EndSession(ctx context.Context) error {
	a.endOnce.Do(func() { a.endErr = a.endSession(ctx) })
	return a.endErr
}

func (a *Actor) endSession(ctx context.Context) error {
	if a.recorded() {
		return nil
	}
	ctx, span := tracer.Start(ctx, "Actor.EndSession", trace.WithAttributes(attribute.String("agent.name", string(a.name))))
	defer span.End()

	a.ending.Store(true)
	a.stopScheduler(ctx)
	partial := ""
	if h := a.current.Swap(nil); h != nil {
		h.cancel()
		<-h.done
		partial = h.partial()
	}

	if st := a.State(); st.TurnOpen() {
		ev := agent.NewAgentTurnInterrupted(a.name, st.CurrentTurnNumber, agent.InterruptReasonSessionEnded, partial)
		if _, err := a.AddEvent(ctx, ev); err != nil {
			span.RecordError(err)
			return a.handOff(ctx, err)
		}
		metrics.RecordTurn(metrics.OutcomeInterrupted, 0)
	}
	if _, err := a.AddEvent(ctx, agent.NewSessionEnded(a.name)); err != nil {
		span.RecordError(err)
		return a.handOff(ctx, err)
	}

	if a.grace > 0 {
		t := time.NewTimer(a.grace)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
		}
	}
	a.hub.close()
	a.stopMailbox()
	a.markStopped()
	a.log.Info("session ended")
	return nil
}

// Shutdown tears the actor down without going through the mailbox. It
// cancels the scheduler and any running turn, stops the loop and, unless
// SessionEnded is already in the log, persists and broadcasts a best-effort
// SessionEnded.
// Errors are logged and never returned; waiting stops when ctx is done.
func (a *Actor) Shutdown(ctx context.Context) {
	a.shutdownOnce.Do(func() { a.shutdown(ctx) })
}

func (a *Actor) shutdown(ctx context.Context) {
	defer close(a.shutDone)
	a.ending.Store(true)
	a.stopScheduler(ctx)
	if h := a.current.Swap(nil); h != nil {
		h.cancel()
		select {
		case <-h.done:
		case <-ctx.Done():
			a.log.Warn("turn did not stop before shutdown deadline", "turn", h.number.Load())
		}
	}
	a.stopMailbox()
	select {
	case <-a.loopDone:
	case <-ctx.Done():
		a.log.Warn("mailbox did not stop before shutdown deadline")
		a.markStopped()
		a.hub.close()
		return
	}

	// The loop is gone; this goroutine is now the only writer.
	if !a.aborted.Load() && !a.recorded() {
		e := agent.WithHeader(agent.NewSessionEnded(a.name), agent.Header{
			ID:            agent.MakeEventID(a.ctxName, a.state.NextEventNumber),
			Timestamp:     time.Now().UTC(),
			AgentName:     a.name,
			ParentEventID: a.lastEventID,
		})
		if err := a.store.Append(a.bg, a.ctxName, []agent.Event{e}); err != nil {
			a.log.Warn("persist SessionEnded on shutdown failed", "err", err)
		} else if next, err := agent.Reduce(a.state, []agent.Event{e}); err != nil {
			a.log.Warn("fold SessionEnded on shutdown failed", "err", err)
		} else {
			a.mu.Lock()
			a.events = append(a.events, e)
			a.state = next
			a.lastEventID = e.EventHeader().ID
			a.ended = true
			a.mu.Unlock()
			a.hub.publish(e)
			metrics.EventsTotal.WithLabelValues(string(e.Tag())).Inc()
		}
	}
	a.markStopped()
	a.hub.close()
	a.log.Debug("actor shut down")
}

// abort stops a half-constructed actor without recording a session end.
func (a *Actor) abort(ctx context.Context) {
	a.aborted.Store(true)
	a.Shutdown(ctx)
}

// handOff resolves an EndSession write that lost the race against Shutdown:
// once the mailbox is stopped Shutdown owns the terminal SessionEnded, so
// EndSession succeeds if that write landed.
func (a *Actor) handOff(ctx context.Context, err error) error {
	if !errors.Is(err, ErrActorStopped) {
		return err
	}
	select {
	case <-a.shutDone:
	case <-ctx.Done():
		return err
	}
	if a.recorded() {
		return nil
	}
	return err
}

// recorded reports whether SessionEnded was committed to the log.
func (a *Actor) recorded() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ended
}

func (a *Actor) markStopped() {
	if a.running.CompareAndSwap(true, false) {
		metrics.ActorsRunning.Dec()
	}
}

func (a *Actor) stopMailbox() {
	a.stopLoop.Do(func() { close(a.quit) })
}

func (a *Actor) stopScheduler(ctx context.Context) {
	a.schedOnce.Do(func() { close(a.schedStop) })
	select {
	case <-a.schedDone:
	case <-ctx.Done():
		a.log.Warn("scheduler did not stop before deadline")
	}
}
