package llm

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/wilhg/agentd/pkg/agent"
)

// DefaultMaxTries bounds attempts against the primary provider.
const DefaultMaxTries = 3

// Retrying wraps a TurnExecutor with bounded exponential backoff. Only
// attempts that failed before yielding any event are retried; once a delta
// reached the actor the failure is final. When the primary is exhausted and
// the conversation has a fallback config, one more attempt runs against it.
type Retrying struct {
	next     agent.TurnExecutor
	tries    uint
	newDelay func() backoff.BackOff
	log      *slog.Logger
}

// RetryOption configures Retrying.
type RetryOption func(*Retrying)

// WithMaxTries sets the attempt bound for the primary provider.
func WithMaxTries(n uint) RetryOption {
	return func(r *Retrying) {
		if n > 0 {
			r.tries = n
		}
	}
}

// WithBackOff sets the delay policy. A new policy is built per turn.
func WithBackOff(f func() backoff.BackOff) RetryOption {
	return func(r *Retrying) {
		if f != nil {
			r.newDelay = f
		}
	}
}

// WithRetryLogger sets the logger.
func WithRetryLogger(l *slog.Logger) RetryOption {
	return func(r *Retrying) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRetrying wraps next.
func NewRetrying(next agent.TurnExecutor, opts ...RetryOption) *Retrying {
	r := &Retrying{
		next:  next,
		tries: DefaultMaxTries,
		newDelay: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		},
		log: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Execute implements agent.TurnExecutor.
func (r *Retrying) Execute(ctx context.Context, rc agent.ReducedContext) iter.Seq2[agent.Event, error] {
	return func(yield func(agent.Event, error) bool) {
		emitted, stopped, err := r.attempts(ctx, rc, yield)
		if stopped || err == nil {
			return
		}
		if !emitted && ctx.Err() == nil && rc.Config.Fallback != nil {
			r.log.Info("primary provider exhausted, using fallback",
				"primary", providerID(rc.Config.Primary), "fallback", rc.Config.Fallback.ProviderID, "err", err)
			fb := rc.Clone()
			fb.Config.Primary = fb.Config.Fallback
			fb.Config.Fallback = nil
			for ev, err := range r.next.Execute(ctx, fb) {
				if !yield(ev, err) || err != nil {
					return
				}
			}
			return
		}
		yield(nil, err)
	}
}

// attempts runs the primary with retries. emitted reports whether any event
// was passed on; stopped whether the consumer stopped early.
func (r *Retrying) attempts(ctx context.Context, rc agent.ReducedContext, yield func(agent.Event, error) bool) (emitted, stopped bool, err error) {
	op := func() (struct{}, error) {
		for ev, err := range r.next.Execute(ctx, rc) {
			if err != nil {
				if emitted || ctx.Err() != nil {
					return struct{}{}, backoff.Permanent(err)
				}
				return struct{}{}, err
			}
			emitted = true
			if !yield(ev, nil) {
				stopped = true
				return struct{}{}, nil
			}
		}
		return struct{}{}, nil
	}
	_, err = backoff.Retry(ctx, op,
		backoff.WithBackOff(r.newDelay()),
		backoff.WithMaxTries(r.tries),
		backoff.WithNotify(func(err error, d time.Duration) {
			r.log.Warn("turn attempt failed, retrying", "provider", providerID(rc.Config.Primary), "delay", d, "err", err)
		}),
	)
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		err = perm.Err
	}
	return emitted, stopped, err
}

func providerID(pc *agent.ProviderConfig) string {
	if pc == nil {
		return ""
	}
	return pc.ProviderID
}
