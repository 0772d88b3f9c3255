package errmodel

import (
	"errors"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewAndFrom(t *testing.T) {
	e := Validation("missing", "field missing", map[string]any{"field": "run_id"})
	if e.Category != CategoryValidation || e.Code != "missing" {
		t.Fatalf("unexpected: %#v", e)
	}
	if got := From(e); got != e {
		t.Fatalf("From should return same error instance")
	}
}

func TestWriteHTTP_StatusAndEnvelope(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/", nil)
	WriteHTTP(rr, req, Validation("bad_json", "oops", nil))
	if rr.Code != 400 {
		t.Fatalf("status=%d want 400", rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, "\"category\":\"validation\"") {
		t.Fatalf("body missing category: %s", body)
	}
	if !strings.Contains(body, "\"code\":\"bad_json\"") {
		t.Fatalf("body missing code: %s", body)
	}
}

func TestFrom_TypedErrors(t *testing.T) {
	cases := []struct {
		err      error
		category string
		code     string
		status   int
	}{
		{&AgentNotFoundError{AgentName: "a"}, CategoryValidation, "not_found", 404},
		{&ReducerError{Message: "bad", EventTag: "SetTimeout"}, CategoryValidation, "invalid_event", 400},
		{&ContextLoadError{ContextName: "a", Message: "read"}, CategorySystem, "context_load", 500},
		{&ContextSaveError{ContextName: "a", Message: "write"}, CategorySystem, "context_save", 500},
		{&AgentError{Message: "boom", Provider: "openai"}, CategoryModel, "agent_error", 502},
		{&HookError{Hook: "prompt", Message: "lint"}, CategoryHook, "hook_failed", 422},
		{errors.New("plain"), CategorySystem, "internal", 500},
	}
	for _, c := range cases {
		ce := From(fmt.Errorf("wrapped: %w", c.err))
		if ce.Category != c.category || ce.Code != c.code {
			t.Fatalf("%T: got %s/%s want %s/%s", c.err, ce.Category, ce.Code, c.category, c.code)
		}
		if got := HTTPStatus(ce); got != c.status {
			t.Fatalf("%T: status=%d want %d", c.err, got, c.status)
		}
	}
}

func TestAgentError_MessageAndUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := &AgentError{Message: "boom", Provider: "fake", Cause: cause}
	if !errors.Is(err, cause) {
		t.Fatalf("expected AgentError to unwrap to its cause")
	}
	if ce := From(err); ce.Message != "boom" {
		t.Fatalf("message=%q want boom", ce.Message)
	}
	save := &ContextSaveError{ContextName: "c", Message: "rename", Cause: cause}
	if !strings.Contains(save.Error(), "refused") || !errors.Is(save, cause) {
		t.Fatalf("unexpected save error: %v", save)
	}
}
