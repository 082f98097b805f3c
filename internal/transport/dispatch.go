package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/scholarmcp/scholarmcp/internal/jsonrpc"
	"github.com/scholarmcp/scholarmcp/internal/logctx"
	"github.com/scholarmcp/scholarmcp/internal/metrics"
	"github.com/scholarmcp/scholarmcp/internal/session"
	"github.com/scholarmcp/scholarmcp/internal/tools"
)

const (
	// ServerName identifies this server in initialize responses and
	// health payloads.
	ServerName = "scholarmcp"
	// ServerVersion is the advertised server version.
	ServerVersion = "0.3.0"

	// defaultProtocolVersion is assumed when the client does not name
	// one during initialize.
	defaultProtocolVersion = "2024-11-05"
)

// dispatcher executes JSON-RPC methods. It is shared by the HTTP and
// stdio transports.
type dispatcher struct {
	log      *slog.Logger
	met      *metrics.Metrics
	registry *tools.Registry
}

type initializeParams struct {
	ProtocolVersion string `json:"protocolVersion"`
}

type initializeResult struct {
	ProtocolVersion string         `json:"protocolVersion"`
	Capabilities    map[string]any `json:"capabilities"`
	ServerInfo      serverInfo     `json:"serverInfo"`
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type toolCallParams struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type toolCallContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolCallResult struct {
	Content []toolCallContent `json:"content"`
}

// dispatch runs one request and returns the response to send, or nil
// for an accepted notification. sess receives mirrored tool results
// for missed-event replay; the stdio transport passes nil.
func (d *dispatcher) dispatch(ctx context.Context, req *jsonrpc.Request, sess *session.Session) *jsonrpc.Response {
	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{Method: req.Method, ID: req.ID.String()})

	switch req.Method {
	case "initialize":
		return d.handleInitialize(ctx, req)

	case "notifications/initialized", "initialized":
		if req.IsNotification() {
			return nil
		}
		return mustResult(req.ID, map[string]any{})

	case "tools/list":
		return mustResult(req.ID, map[string]any{"tools": d.registry.List()})

	case "tools/call":
		return d.handleToolCall(ctx, req, sess)

	case "ping":
		return mustResult(req.ID, map[string]any{})

	case "notifications/cancelled":
		if req.IsNotification() {
			return nil
		}
		return mustResult(req.ID, map[string]any{})

	default:
		if req.IsNotification() {
			return nil
		}
		d.log.InfoContext(ctx, "rpc.method.unknown")
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeMethodNotFound,
			fmt.Sprintf("Method not found: %s", req.Method))
	}
}

func (d *dispatcher) handleInitialize(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	var params initializeParams
	if len(req.Params) > 0 {
		// Malformed params fall back to the default protocol version.
		_ = json.Unmarshal(req.Params, &params)
	}
	pv := params.ProtocolVersion
	if pv == "" {
		pv = defaultProtocolVersion
	}
	d.log.InfoContext(ctx, "session.initialize", slog.String("protocol_version", pv))

	return mustResult(req.ID, initializeResult{
		ProtocolVersion: pv,
		Capabilities: map[string]any{
			"tools": map[string]any{"listChanged": false},
		},
		ServerInfo: serverInfo{Name: ServerName, Version: ServerVersion},
	})
}

func (d *dispatcher) handleToolCall(ctx context.Context, req *jsonrpc.Request, sess *session.Session) *jsonrpc.Response {
	var params toolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeInvalidParams, "Missing 'name' parameter")
	}

	ctx = logctx.WithToolCallData(ctx, &logctx.ToolCallData{ToolName: params.Name})
	d.log.InfoContext(ctx, "tool.call.start")

	out, err := d.registry.Call(ctx, params.Name, params.Arguments)
	if err != nil {
		if errors.Is(err, tools.ErrUnknownTool) {
			d.log.InfoContext(ctx, "tool.call.miss")
			return jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeInvalidParams,
				fmt.Sprintf("Tool not found: %s", params.Name))
		}
		d.log.ErrorContext(ctx, "tool.call.fail", slog.String("err", err.Error()))
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.CodeToolError,
			fmt.Sprintf("Tool error: %v", err))
	}

	resp := mustResult(req.ID, toolCallResult{
		Content: []toolCallContent{{Type: "text", Text: out}},
	})

	// Mirror the result into the session mailbox so a reconnecting
	// stream can replay it.
	if sess != nil {
		if b, err := json.Marshal(resp); err == nil {
			sess.PushEvent("message", string(b))
			d.met.EventsPushed.Add(ctx, 1)
		}
	}

	d.log.InfoContext(ctx, "tool.call.ok")
	return resp
}

// mustResult builds a success response; the result values used here
// always marshal.
func mustResult(id *jsonrpc.RequestID, result any) *jsonrpc.Response {
	resp, err := jsonrpc.NewResultResponse(id, result)
	if err != nil {
		return jsonrpc.NewErrorResponse(id, jsonrpc.CodeInternalError, "failed to encode result")
	}
	return resp
}
