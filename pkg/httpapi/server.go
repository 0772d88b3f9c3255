// Package httpapi serves the agent service over HTTP with server-sent event
// streams for turn output.
package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wilhg/agentd/pkg/agent"
	"github.com/wilhg/agentd/pkg/errmodel"
	"github.com/wilhg/agentd/pkg/logger"
	"github.com/wilhg/agentd/pkg/metrics"
	"github.com/wilhg/agentd/pkg/service"
)

// MaxBodyBytes bounds a POST body.
const MaxBodyBytes = 1 << 20

// Server routes HTTP requests to a service.Service.
type Server struct {
	svc     *service.Service
	limiter *RateLimiter
	mcp     http.Handler
}

type Option func(*Server)

// WithRateLimit limits POST /agent/{name} per agent name.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) { s.limiter = NewRateLimiter(perSecond, burst) }
}

// WithMCP mounts h under /mcp.
func WithMCP(h http.Handler) Option { return func(s *Server) { s.mcp = h } }

func New(svc *service.Service, opts ...Option) *Server {
	s := &Server{svc: svc}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the instrumented route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /agent/{name}", s.named(s.handleSend))
	mux.Handle("DELETE /agent/{name}", s.named(s.handleEnd))
	mux.Handle("GET /agent/{name}/events", s.named(s.handleEvents))
	mux.Handle("GET /agent/{name}/state", s.named(s.handleState))
	mux.Handle("GET /agent/{name}/log", s.named(s.handleLog))
	mux.Handle("GET /agent/{name}/prompts", s.named(s.handlePrompts))
	mux.Handle("GET /agent/{name}/verify", s.named(s.handleVerify))
	mux.HandleFunc("GET /agents", s.handleList)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", metrics.Handler())
	if s.mcp != nil {
		mux.Handle("/mcp", s.mcp)
		mux.Handle("/mcp/", s.mcp)
	}

	var h http.Handler = mux
	h = accessLog(h)
	h = requestID(h)
	h = metrics.Middleware(h)
	return otelhttp.NewHandler(h, "agentd")
}

type namedHandler func(w http.ResponseWriter, r *http.Request, name agent.AgentName)

// named validates the {name} path value before calling h.
func (s *Server) named(h namedHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := agent.AgentName(r.PathValue("name"))
		if err := service.ValidateName(name); err != nil {
			errmodel.WriteHTTP(w, r, err)
			return
		}
		h(w, r.WithContext(logger.WithAgent(r.Context(), string(name))), name)
	})
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request, name agent.AgentName) {
	if !s.limiter.Allow(string(name)) {
		w.Header().Set("Retry-After", "1")
		errmodel.WriteHTTP(w, r, errmodel.Policy("rate_limited", "rate limit exceeded", map[string]any{"agent": string(name)}))
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		errmodel.WriteHTTP(w, r, errmodel.Validation("invalid_body", err.Error(), nil))
		return
	}
	if len(body) > MaxBodyBytes {
		errmodel.WriteHTTP(w, r, errmodel.Validation("body_too_large", fmt.Sprintf("body exceeds %d bytes", MaxBodyBytes), nil))
		return
	}
	e, err := decodeBody(name, body)
	if err != nil {
		errmodel.WriteHTTP(w, r, err)
		return
	}
	ch, err := s.svc.Send(r.Context(), name, e)
	if err != nil {
		logger.WithContext(r.Context()).Info("event rejected", "tag", e.Tag(), "err", err)
		errmodel.WriteHTTP(w, r, err)
		return
	}
	s.stream(w, r, ch)
}

// decodeBody accepts an encoded input event or {"content": "..."} as a
// UserMessage shorthand.
func decodeBody(name agent.AgentName, body []byte) (agent.Event, error) {
	var probe struct {
		Tag     *string `json:"_tag"`
		Content *string `json:"content"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, errmodel.Validation("invalid_body", err.Error(), nil)
	}
	if probe.Tag == nil {
		if probe.Content == nil {
			return nil, errmodel.Validation("invalid_body", `body needs "_tag" or "content"`, nil)
		}
		return agent.NewUserMessage(name, *probe.Content), nil
	}
	e, err := agent.DecodeInput(name, body)
	if err != nil {
		return nil, errmodel.Validation("invalid_event", err.Error(), map[string]any{"tag": *probe.Tag})
	}
	return e, nil
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, name agent.AgentName) {
	ch, err := s.svc.Events(r.Context(), name)
	if err != nil {
		errmodel.WriteHTTP(w, r, err)
		return
	}
	s.stream(w, r, ch)
}

// stream writes ch as server-sent events, one "data: <json>" frame per event.
func (s *Server) stream(w http.ResponseWriter, r *http.Request, ch <-chan agent.Event) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		errmodel.WriteHTTP(w, r, errmodel.System("streaming_unsupported", "response writer cannot flush", nil, nil))
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log := logger.WithContext(r.Context())
	sent := 0
	for e := range ch {
		b, err := agent.Encode(service.Redact(e))
		if err != nil {
			log.Warn("encode event failed", "tag", e.Tag(), "err", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
			log.Debug("client disconnected during stream", "sent", sent)
			return
		}
		flusher.Flush()
		sent++
	}
	log.Debug("stream finished", "sent", sent)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request, name agent.AgentName) {
	st, err := s.svc.State(r.Context(), name)
	if err != nil {
		errmodel.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request, name agent.AgentName) {
	events, err := s.svc.Log(r.Context(), name)
	if err != nil {
		errmodel.WriteHTTP(w, r, err)
		return
	}
	for i, e := range events {
		events[i] = service.Redact(e)
	}
	raw, err := agent.EncodeAll(events)
	if err != nil {
		errmodel.WriteHTTP(w, r, errmodel.System("encode_failed", "could not encode log", nil, err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agentName": name, "events": raw})
}

func (s *Server) handlePrompts(w http.ResponseWriter, r *http.Request, name agent.AgentName) {
	versions, err := s.svc.Prompts(r.Context(), name)
	if err != nil {
		errmodel.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agentName": name, "versions": versions})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request, name agent.AgentName) {
	rep, err := s.svc.Verify(r.Context(), name)
	if err != nil {
		errmodel.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": rep.OK(), "report": rep})
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request, name agent.AgentName) {
	if err := s.svc.EndSession(r.Context(), name); err != nil {
		errmodel.WriteHTTP(w, r, err)
		return
	}
	s.limiter.Forget(string(name))
	writeJSON(w, http.StatusOK, map[string]any{"agentName": name, "ended": true})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	agents, err := s.svc.List(r.Context())
	if err != nil {
		errmodel.WriteHTTP(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"agents": agents})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
