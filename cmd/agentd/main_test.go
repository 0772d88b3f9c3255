package main

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/wilhg/agentd/pkg/agent"
	"github.com/wilhg/agentd/pkg/config"
	"github.com/wilhg/agentd/pkg/logger"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := run(t.Context(), args, &stdout, &stderr)
	return stdout.String(), err
}

func TestVersion(t *testing.T) {
	out, err := runCmd(t, "version")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "agentd dev") {
		t.Fatalf("version output %q", out)
	}
}

func TestUnknownCommand(t *testing.T) {
	if _, err := runCmd(t, "launch"); err == nil || !strings.Contains(err.Error(), "launch") {
		t.Fatalf("err=%v", err)
	}
	if _, err := runCmd(t); err == nil {
		t.Fatal("no command accepted")
	}
}

func TestWrongArgCount(t *testing.T) {
	_, err := runCmd(t, "send", "--store", "memory", "only-agent")
	if err == nil || !strings.Contains(err.Error(), "usage") {
		t.Fatalf("err=%v", err)
	}
}

func TestOpenStore(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*config.Config)
		ok   bool
	}{
		{name: "memory", mut: func(c *config.Config) { c.Store.Backend = config.BackendMemory }, ok: true},
		{name: "file", mut: func(c *config.Config) {
			c.Store.Backend = config.BackendFile
			c.Store.Dir = t.TempDir()
		}, ok: true},
		{name: "sql", mut: func(c *config.Config) {
			c.Store.Backend = config.BackendSQL
			c.Store.DatabaseURL = "sqlite:file:cmdtest?mode=memory&cache=shared&_pragma=busy_timeout(5000)"
		}, ok: true},
		{name: "unknown", mut: func(c *config.Config) { c.Store.Backend = "tape" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mut(cfg)
			st, closeStore, err := openStore(t.Context(), cfg)
			if !tc.ok {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			defer closeStore()
			events, err := st.Load(t.Context(), "nobody")
			if err != nil || len(events) != 0 {
				t.Fatalf("load: %v %d", err, len(events))
			}
		})
	}
}

func TestSendLogVerify(t *testing.T) {
	dir := t.TempDir()
	common := []string{"--store", "file", "--data-dir", dir, "--provider", "fake", "--model", "fake-model", "--log-level", "error"}

	out, err := runCmd(t, append([]string{"send"}, append(common, "eve", "hello world")...)...)
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != "echo: hello world" {
		t.Fatalf("reply %q", out)
	}

	out, err = runCmd(t, append([]string{"log"}, append(common, "eve")...)...)
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	var events []agent.Event
	for _, l := range lines {
		e, err := agent.Decode([]byte(l))
		if err != nil {
			t.Fatalf("decode %q: %v", l, err)
		}
		events = append(events, e)
	}
	if events[0].Tag() != agent.TagSessionStarted || events[len(events)-1].Tag() != agent.TagSessionEnded {
		t.Fatalf("log from %s to %s", events[0].Tag(), events[len(events)-1].Tag())
	}

	out, err = runCmd(t, append([]string{"verify"}, append(common, "eve")...)...)
	if err != nil {
		t.Fatalf("verify: %v\n%s", err, out)
	}
	if !strings.Contains(out, "1 turns") {
		t.Fatalf("verify output %q", out)
	}
}

func TestSendRejectsBadName(t *testing.T) {
	_, err := runCmd(t, "send", "--store", "memory", "--provider", "fake", "--model", "m", "../etc", "hi")
	if err == nil {
		t.Fatal("bad name accepted")
	}
}

func TestEval(t *testing.T) {
	dir := t.TempDir()
	fixtures := map[string]string{
		"greet.json": `{"name":"greet","prompt":"hi {{.who}}","vars":{"who":"bob"},"expect":{"contains":["hi bob"]}}`,
		"miss.json":  `{"name":"miss","prompt":"ping","vars":{},"expect":{"contains":["pong"]}}`,
	}
	for name, body := range fixtures {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	base := []string{"eval", "--store", "memory", "--provider", "fake", "--model", "m", "--log-level", "error"}

	out, err := runCmd(t, append(base, "--min-score", "0.5", dir)...)
	if err != nil {
		t.Fatalf("eval: %v\n%s", err, out)
	}
	if !strings.Contains(out, "score 0.50 (1/2)") || !strings.Contains(out, "miss: missing contains: pong") {
		t.Fatalf("eval output %q", out)
	}

	if _, err := runCmd(t, append(base, dir)...); err == nil {
		t.Fatal("score below default minimum accepted")
	}
}

func TestServeOn(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Backend = config.BackendMemory
	cfg.LLM.Provider, cfg.LLM.Model = "fake", "fake-model"
	cfg.MCP = true

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serveOn(ctx, cfg, ln, logger.Discard()) }()

	base := "http://" + ln.Addr().String()
	resp, err := http.Post(base+"/agent/sam", "application/json", strings.NewReader(`{"content":"are you there"}`))
	if err != nil {
		cancel()
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(body), "AgentTurnCompleted") {
		cancel()
		t.Fatalf("status %d body %s", resp.StatusCode, body)
	}

	resp, err = http.Get(base + "/health")
	if err != nil {
		cancel()
		t.Fatal(err)
	}
	resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("server did not stop")
	}
}
