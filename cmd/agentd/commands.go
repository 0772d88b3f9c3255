package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/wilhg/agentd/pkg/agent"
	"github.com/wilhg/agentd/pkg/config"
	"github.com/wilhg/agentd/pkg/eval"
	"github.com/wilhg/agentd/pkg/logger"
	"github.com/wilhg/agentd/pkg/service"
)

// runSend drives one turn in-process against the configured store and
// prints the streamed reply.
func runSend(ctx context.Context, cfg *config.Config, _ *pflag.FlagSet, args []string, stdout, stderr io.Writer) error {
	log, err := initLogger(cfg, stderr)
	if err != nil {
		return err
	}
	defer logger.CloseSlog()

	name := agent.AgentName(args[0])
	if err := service.ValidateName(name); err != nil {
		return err
	}
	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := newService(cfg, st, newExecutor(cfg, log), log)
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration)
		defer cancel()
		svc.Shutdown(sctx)
	}()

	ch, err := svc.Send(ctx, name, agent.NewUserMessage(name, args[1]))
	if err != nil {
		return err
	}
	var turnErr error
	done := false
	for e := range ch {
		switch v := e.(type) {
		case agent.TextDelta:
			fmt.Fprint(stdout, v.Delta)
		case agent.AgentTurnCompleted:
			done = true
		case agent.AgentTurnFailed:
			done, turnErr = true, fmt.Errorf("turn failed: %s", v.Error)
		case agent.AgentTurnInterrupted:
			done, turnErr = true, fmt.Errorf("turn interrupted: %s", v.Reason)
		}
	}
	fmt.Fprintln(stdout)
	if !done && turnErr == nil {
		if err := ctx.Err(); err != nil {
			return err
		}
		return errors.New("stream closed before the turn finished")
	}
	return turnErr
}

// runLog prints the persisted log of one agent as JSON lines with API keys
// redacted.
func runLog(ctx context.Context, cfg *config.Config, _ *pflag.FlagSet, args []string, stdout, _ io.Writer) error {
	name := agent.AgentName(args[0])
	if err := service.ValidateName(name); err != nil {
		return err
	}
	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	events, err := st.Load(ctx, agent.ContextNameFor(name))
	if err != nil {
		return err
	}
	for _, e := range events {
		b, err := agent.Encode(service.Redact(e))
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, string(b))
	}
	return nil
}

func runVerify(ctx context.Context, cfg *config.Config, _ *pflag.FlagSet, args []string, stdout, _ io.Writer) error {
	name := agent.AgentName(args[0])
	if err := service.ValidateName(name); err != nil {
		return err
	}
	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	rep, err := eval.Replay(ctx, st, agent.ContextNameFor(name))
	if err != nil {
		return err
	}
	fmt.Fprint(stdout, rep.String())
	if !rep.OK() {
		return fmt.Errorf("%s: %d error(s)", name, len(rep.Errors()))
	}
	return nil
}

func evalFlags(fs *pflag.FlagSet) {
	fs.Float64("min-score", 1, "fail when the fixture score is below this value")
	fs.Duration("eval-timeout", 5*time.Minute, "overall deadline for the fixture run")
}

// runEval scores the configured provider against the JSON fixtures in a
// directory.
func runEval(ctx context.Context, cfg *config.Config, fs *pflag.FlagSet, args []string, stdout, stderr io.Writer) error {
	minScore, err := fs.GetFloat64("min-score")
	if err != nil {
		return err
	}
	timeout, err := fs.GetDuration("eval-timeout")
	if err != nil {
		return err
	}
	log, err := initLogger(cfg, stderr)
	if err != nil {
		return err
	}
	defer logger.CloseSlog()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	score, total, passed, details, err := eval.EvaluateFixtures(ctx, os.DirFS(args[0]), ".", newExecutor(cfg, log), cfg.AgentDefaults())
	if err != nil {
		return err
	}
	for _, d := range details {
		fmt.Fprintln(stdout, d)
	}
	fmt.Fprintf(stdout, "score %.2f (%d/%d)\n", score, passed, total)
	if score < minScore {
		return fmt.Errorf("score %.2f below %.2f", score, minScore)
	}
	return nil
}
