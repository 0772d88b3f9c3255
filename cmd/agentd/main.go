// agentd runs event-sourced conversational agents behind an HTTP API.
//
// Usage:
//
//	agentd serve   [flags]                 serve the HTTP API (and MCP with --mcp)
//	agentd send    [flags] <agent> <text>  run one turn in-process and print the reply
//	agentd log     [flags] <agent>         print the persisted log as JSON lines
//	agentd verify  [flags] <agent>         check a persisted log for structural errors
//	agentd eval    [flags] <dir>           score the configured provider on fixtures
//	agentd version
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	_ "github.com/wilhg/agentd/pkg/adapters/llm/fake"
	_ "github.com/wilhg/agentd/pkg/adapters/llm/gemini"
	_ "github.com/wilhg/agentd/pkg/adapters/llm/openai"
	"github.com/wilhg/agentd/pkg/config"
)

var (
	version = "dev"
	commit  = ""
	date    = ""
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type command struct {
	name  string
	usage string
	args  int
	run   func(ctx context.Context, cfg *config.Config, fs *pflag.FlagSet, args []string, stdout, stderr io.Writer) error
	// flags registers command specific flags.
	flags func(fs *pflag.FlagSet)
}

var commands = []command{
	{name: "serve", usage: "serve [flags]", run: runServe},
	{name: "send", usage: "send [flags] <agent> <text>", args: 2, run: runSend},
	{name: "log", usage: "log [flags] <agent>", args: 1, run: runLog},
	{name: "verify", usage: "verify [flags] <agent>", args: 1, run: runVerify},
	{name: "eval", usage: "eval [flags] <dir>", args: 1, run: runEval, flags: evalFlags},
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		printUsage(stderr)
		return errors.New("missing command")
	}
	switch args[0] {
	case "version", "--version":
		fmt.Fprintf(stdout, "agentd %s (commit=%s, date=%s)\n", version, commit, date)
		return nil
	case "help", "-h", "--help":
		printUsage(stdout)
		return nil
	}
	for _, c := range commands {
		if c.name != args[0] {
			continue
		}
		fs := pflag.NewFlagSet("agentd "+c.name, pflag.ContinueOnError)
		fs.SetOutput(stderr)
		flags := config.BindFlags(fs)
		if c.flags != nil {
			c.flags(fs)
		}
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if fs.NArg() != c.args {
			return fmt.Errorf("usage: agentd %s", c.usage)
		}
		cfg, err := flags.Resolve()
		if err != nil {
			return err
		}
		return c.run(ctx, cfg, fs, fs.Args(), stdout, stderr)
	}
	printUsage(stderr)
	return fmt.Errorf("unknown command %q", args[0])
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: agentd <command> [flags]")
	fmt.Fprintln(w, "\ncommands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %s\n", c.usage)
	}
	fmt.Fprintln(w, "  version")
}
