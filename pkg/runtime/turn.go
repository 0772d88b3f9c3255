package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wilhg/agentd/pkg/agent"
	"github.com/wilhg/agentd/pkg/errmodel"
	"github.com/wilhg/agentd/pkg/metrics"
)

// turnHandle is the cancellable task running one turn.
type turnHandle struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	number atomic.Int64

	mu  sync.Mutex
	buf strings.Builder
}

func newTurnHandle(parent context.Context) *turnHandle {
	ctx, cancel := context.WithCancel(parent)
	return &turnHandle{ctx: ctx, cancel: cancel, done: make(chan struct{})}
}

func (h *turnHandle) appendPartial(s string) {
	h.mu.Lock()
	h.buf.WriteString(s)
	h.mu.Unlock()
}

// partial is the text streamed so far.
func (h *turnHandle) partial() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buf.String()
}

// schedule watches the broadcast for trigger events and starts a turn once
// the debounce window passes without another trigger.
func (a *Actor) schedule(sub *Subscription) {
	defer close(a.schedDone)
	defer sub.Close()

	timer := time.NewTimer(a.debounce)
	timer.Stop()
	armed := false
	for {
		var fire <-chan time.Time
		if armed {
			fire = timer.C
		}
		select {
		case e, ok := <-sub.Events():
			if !ok {
				timer.Stop()
				return
			}
			if e.EventHeader().TriggersAgentTurn {
				timer.Reset(a.debounce)
				armed = true
			}
		case <-fire:
			armed = false
			a.startTurn()
		case <-a.schedStop:
			timer.Stop()
			return
		}
	}
}

// startTurn supersedes any running turn and launches a new one. The old turn
// is cancelled and awaited before the new one starts, and no interruption
// event is recorded for it; only EndSession records one.
func (a *Actor) startTurn() {
	h := newTurnHandle(a.bg)
	if old := a.current.Swap(h); old != nil {
		old.cancel()
		<-old.done
		metrics.RecordTurn(metrics.OutcomeSuperseded, 0)
		a.log.Debug("turn superseded", "turn", old.number.Load())
	}
	if a.ending.Load() {
		a.current.CompareAndSwap(h, nil)
		h.cancel()
		close(h.done)
		return
	}
	go a.runTurn(h)
}

func (a *Actor) runTurn(h *turnHandle) {
	defer close(h.done)
	defer h.cancel()

	start := a.submit(h.ctx, request{kind: reqStartTurn, turn: h, ctx: h.ctx})
	if start.err != nil {
		if !errors.Is(start.err, errTurnCancelled) && h.ctx.Err() == nil {
			a.log.Warn("start turn failed", "err", start.err)
		}
		a.current.CompareAndSwap(h, nil)
		return
	}
	started := start.event.(agent.AgentTurnStarted)
	turn := started.TurnNumber
	h.number.Store(int64(turn))

	ctx, span := tracer.Start(h.ctx, "Actor.Turn", trace.WithAttributes(
		attribute.String("agent.name", string(a.name)),
		attribute.Int("turn.number", int(turn)),
	))
	defer span.End()
	a.log.Debug("turn started", "turn", turn, "messages", len(start.state.Messages))

	begin := time.Now()
	failure := a.stream(ctx, h, start.state)
	if h.ctx.Err() != nil {
		span.SetStatus(codes.Error, "cancelled")
		return
	}

	var term agent.Event
	outcomeLabel := metrics.OutcomeCompleted
	if failure != nil {
		span.RecordError(failure)
		span.SetStatus(codes.Error, "turn failed")
		term = agent.NewAgentTurnFailed(a.name, turn, failureMessage(failure))
		outcomeLabel = metrics.OutcomeFailed
		a.log.Info("turn failed", "turn", turn, "err", failure)
	} else {
		term = agent.NewAgentTurnCompleted(a.name, turn, time.Since(begin))
	}
	if out := a.submit(h.ctx, request{kind: reqEvent, event: term, turn: h, ctx: h.ctx}); out.err != nil {
		if h.ctx.Err() == nil {
			a.log.Warn("record turn outcome failed", "turn", turn, "err", out.err)
		}
	} else {
		metrics.RecordTurn(outcomeLabel, time.Since(begin))
	}
	a.current.CompareAndSwap(h, nil)
}

// stream drives the executor and routes its events through the mailbox. It
// returns the failure to record, or nil once the terminal AssistantMessage
// was accepted.
func (a *Actor) stream(ctx context.Context, h *turnHandle, rc agent.ReducedContext) error {
	for ev, err := range a.exec.Execute(ctx, rc) {
		if h.ctx.Err() != nil {
			return h.ctx.Err()
		}
		if err != nil {
			return err
		}
		if ev == nil {
			continue
		}
		switch ev.Tag() {
		case agent.TagTextDelta, agent.TagAssistantMessage:
		default:
			return &errmodel.AgentError{Message: fmt.Sprintf("executor produced unexpected %s event", ev.Tag())}
		}
		hdr := ev.EventHeader()
		hdr.TriggersAgentTurn = false
		out := a.submit(h.ctx, request{kind: reqEvent, event: agent.WithHeader(ev, hdr), turn: h, ctx: h.ctx})
		if out.err != nil {
			return out.err
		}
		if ev.Tag() == agent.TagAssistantMessage {
			return nil
		}
	}
	if h.ctx.Err() != nil {
		return h.ctx.Err()
	}
	return &errmodel.AgentError{Message: "executor finished without an assistant message"}
}

// failureMessage is the human-readable text recorded in AgentTurnFailed.
func failureMessage(err error) string {
	var ae *errmodel.AgentError
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	return err.Error()
}
