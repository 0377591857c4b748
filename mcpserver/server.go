// Package mcpserver serves the Lua tools over the Model Context Protocol.
package mcpserver

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/caffeineduck/luabox/tool"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	EvalToolName        = "eval_lua"
	ListGlobalsToolName = "list_globals"
)

const instructions = `Evaluates Lua 5.1 code in sandboxed sessions. Call eval_lua without a
sessionId to start a session and pass the returned sessionId to keep globals
between calls. print output is sent as logging notifications.`

// New returns an MCP server exposing eval_lua and list_globals backed by svc.
func New(svc *tool.Service, version string, logger *slog.Logger) *mcp.Server {
	if logger == nil {
		logger = slog.Default()
	}

	server := mcp.NewServer(&mcp.Implementation{
		Name:    "luabox",
		Version: version,
	}, &mcp.ServerOptions{
		Instructions: instructions,
	})

	h := &handlers{svc: svc, logger: logger}

	mcp.AddTool(server, &mcp.Tool{
		Name:        EvalToolName,
		Description: "eval lua code and return results as json",
	}, h.eval)

	mcp.AddTool(server, &mcp.Tool{
		Name:        ListGlobalsToolName,
		Description: "get global variable list",
		Annotations: &mcp.ToolAnnotations{
			ReadOnlyHint:   true,
			IdempotentHint: true,
		},
	}, h.listGlobals)

	return server
}

type handlers struct {
	svc    *tool.Service
	logger *slog.Logger
}

func (h *handlers) eval(ctx context.Context, req *mcp.CallToolRequest, in tool.EvalInput) (*mcp.CallToolResult, tool.EvalOutput, error) {
	out := h.svc.Eval(ctx, in, &sessionNotifier{session: req.Session, logger: h.logger})

	session, _ := json.Marshal(map[string]string{"sessionId": out.SessionID})
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: out.Result},
			&mcp.TextContent{Text: string(session)},
		},
		IsError: out.Error != "",
	}, out, nil
}

func (h *handlers) listGlobals(ctx context.Context, _ *mcp.CallToolRequest, in tool.ListGlobalsInput) (*mcp.CallToolResult, tool.ListGlobalsOutput, error) {
	out, err := h.svc.ListGlobals(ctx, in)
	if err != nil {
		return nil, tool.ListGlobalsOutput{}, err
	}
	return nil, out, nil
}

// sessionNotifier forwards tool events as MCP logging messages, using the
// event kind as the logger name. Clients only receive them after setting a
// logging level.
type sessionNotifier struct {
	session *mcp.ServerSession
	logger  *slog.Logger
}

func (n *sessionNotifier) Notify(ctx context.Context, kind string, data map[string]any) {
	if n.session == nil {
		return
	}
	level := mcp.LoggingLevel("info")
	if kind == tool.EventError {
		level = "error"
	}
	err := n.session.Log(ctx, &mcp.LoggingMessageParams{
		Level:  level,
		Logger: kind,
		Data:   data,
	})
	if err != nil {
		n.logger.Debug("dropped notification", "kind", kind, "error", err)
	}
}
