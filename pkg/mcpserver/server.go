// Package mcpserver exposes the agent service as MCP tools.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	mcp "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wilhg/agentd/pkg/agent"
	"github.com/wilhg/agentd/pkg/metrics"
	"github.com/wilhg/agentd/pkg/service"
)

// Tool names.
const (
	ToolSendMessage = "send_message"
	ToolListAgents  = "list_agents"
	ToolGetState    = "get_state"
	ToolGetLog      = "get_log"
	ToolEndSession  = "end_session"
)

type Server struct {
	srv *mcp.Server
	svc *service.Service
	log *slog.Logger
}

type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// New builds an MCP server with every agent tool registered.
func New(svc *service.Service, version string, opts ...Option) *Server {
	s := &Server{svc: svc, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	s.srv = mcp.NewServer(&mcp.Implementation{Name: "agentd", Version: version}, &mcp.ServerOptions{HasTools: true})

	mcp.AddTool(s.srv, &mcp.Tool{
		Name:        ToolSendMessage,
		Description: "Send a user message to an agent and wait for the turn to finish. Returns the assistant reply.",
	}, s.sendMessage)
	mcp.AddTool(s.srv, &mcp.Tool{
		Name:        ToolListAgents,
		Description: "List live and stored agents.",
	}, s.listAgents)
	mcp.AddTool(s.srv, &mcp.Tool{
		Name:        ToolGetState,
		Description: "Summarize an agent's current conversation state.",
	}, s.getState)
	mcp.AddTool(s.srv, &mcp.Tool{
		Name:        ToolGetLog,
		Description: "Return an agent's full persisted event log as JSON.",
	}, s.getLog)
	mcp.AddTool(s.srv, &mcp.Tool{
		Name:        ToolEndSession,
		Description: "End an agent's session, interrupting any running turn.",
	}, s.endSession)
	return s
}

// MCP returns the underlying SDK server.
func (s *Server) MCP() *mcp.Server { return s.srv }

// Handler serves the tools over streamable HTTP.
func (s *Server) Handler() http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.srv }, nil)
}

type AgentParams struct {
	Agent string `json:"agent" jsonschema:"agent name"`
}

type SendParams struct {
	Agent   string `json:"agent" jsonschema:"agent name"`
	Content string `json:"content" jsonschema:"user message text"`
}

// SendResult is the structured outcome of send_message.
type SendResult struct {
	Agent   string `json:"agent"`
	Reply   string `json:"reply"`
	Outcome string `json:"outcome"`
	Detail  string `json:"detail,omitempty"`
	Events  int    `json:"events"`
}

func (s *Server) sendMessage(ctx context.Context, _ *mcp.CallToolRequest, p SendParams) (*mcp.CallToolResult, any, error) {
	name := agent.AgentName(p.Agent)
	ch, err := s.svc.Send(ctx, name, agent.NewUserMessage(name, p.Content))
	if err != nil {
		return s.fail(ToolSendMessage, err)
	}
	res := SendResult{Agent: p.Agent}
	var deltas strings.Builder
	for e := range ch {
		res.Events++
		switch v := e.(type) {
		case agent.TextDelta:
			deltas.WriteString(v.Delta)
		case agent.AssistantMessage:
			res.Reply = v.Content
		case agent.AgentTurnCompleted:
			res.Outcome = metrics.OutcomeCompleted
		case agent.AgentTurnFailed:
			res.Outcome, res.Detail = metrics.OutcomeFailed, v.Error
		case agent.AgentTurnInterrupted:
			res.Outcome, res.Detail = metrics.OutcomeInterrupted, v.Reason
			res.Reply = v.PartialResponse
		case agent.SessionEnded:
			if res.Outcome == "" {
				res.Outcome = "session_ended"
			}
		}
	}
	if res.Reply == "" {
		res.Reply = deltas.String()
	}
	if res.Outcome == "" {
		err := errors.New("stream closed before the turn finished")
		if cause := context.Cause(ctx); cause != nil {
			err = fmt.Errorf("turn did not finish: %w", cause)
		}
		return s.fail(ToolSendMessage, err)
	}
	metrics.RecordToolCall(ToolSendMessage, res.Outcome)
	text := res.Reply
	if res.Outcome != metrics.OutcomeCompleted {
		text = fmt.Sprintf("turn %s: %s", res.Outcome, res.Detail)
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
		IsError: res.Outcome == metrics.OutcomeFailed,
	}, res, nil
}

func (s *Server) listAgents(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	agents, err := s.svc.List(ctx)
	if err != nil {
		return s.fail(ToolListAgents, err)
	}
	if len(agents) == 0 {
		return s.ok(ToolListAgents, "No agents found.", map[string]any{"agents": agents})
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Found %d agent(s):\n", len(agents))
	for _, a := range agents {
		state := "stored"
		if a.Live {
			state = "live"
		}
		fmt.Fprintf(&b, "- %s (%s)\n", a.Name, state)
	}
	return s.ok(ToolListAgents, b.String(), map[string]any{"agents": agents})
}

func (s *Server) getState(ctx context.Context, _ *mcp.CallToolRequest, p AgentParams) (*mcp.CallToolResult, any, error) {
	st, err := s.svc.State(ctx, agent.AgentName(p.Agent))
	if err != nil {
		return s.fail(ToolGetState, err)
	}
	return s.okJSON(ToolGetState, st)
}

func (s *Server) getLog(ctx context.Context, _ *mcp.CallToolRequest, p AgentParams) (*mcp.CallToolResult, any, error) {
	events, err := s.svc.Log(ctx, agent.AgentName(p.Agent))
	if err != nil {
		return s.fail(ToolGetLog, err)
	}
	for i, e := range events {
		events[i] = service.Redact(e)
	}
	raw, err := agent.EncodeAll(events)
	if err != nil {
		return s.fail(ToolGetLog, err)
	}
	return s.okJSON(ToolGetLog, map[string]any{"agent": p.Agent, "events": raw})
}

func (s *Server) endSession(ctx context.Context, _ *mcp.CallToolRequest, p AgentParams) (*mcp.CallToolResult, any, error) {
	if err := s.svc.EndSession(ctx, agent.AgentName(p.Agent)); err != nil {
		return s.fail(ToolEndSession, err)
	}
	return s.ok(ToolEndSession, fmt.Sprintf("Session of %s ended.", p.Agent), nil)
}

func (s *Server) ok(tool, text string, out any) (*mcp.CallToolResult, any, error) {
	metrics.RecordToolCall(tool, "ok")
	return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: text}}}, out, nil
}

func (s *Server) okJSON(tool string, v any) (*mcp.CallToolResult, any, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return s.fail(tool, err)
	}
	return s.ok(tool, string(b), v)
}

// fail reports err as a tool error so the calling model can see it.
func (s *Server) fail(tool string, err error) (*mcp.CallToolResult, any, error) {
	metrics.RecordToolCall(tool, "error")
	s.log.Info("mcp tool failed", "tool", tool, "err", err)
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: err.Error()}},
		IsError: true,
	}, nil, nil
}
