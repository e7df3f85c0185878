package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/notewire/mcp-gateway/internal/jsonrpc"
	"github.com/notewire/mcp-gateway/internal/logctx"
	"github.com/notewire/mcp-gateway/internal/mcp"
	"github.com/notewire/mcp-gateway/internal/registry"
)

// ErrBadMessage reports an inbound payload that is not a JSON-RPC message.
// The boundary maps it to a client error, not a session failure.
var ErrBadMessage = errors.New("malformed inbound message")

// Session is one active logical connection: an outbound event stream plus
// any number of inbound messages routed to it. Replies are correlated to
// their triggering message by the JSON-RPC id.
type Session struct {
	id         string
	createdAt  time.Time
	sink       EventSink
	reg        *registry.Registry
	serverInfo mcp.ImplementationInfo
	log        *slog.Logger
}

func (s *Session) ID() string           { return s.id }
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// HandleMessage parses one inbound envelope and routes it. Session-level
// methods are answered inline; tool calls are dispatched on their own
// goroutine so a slow handler never blocks later inbound messages. Replies
// land on the stream in completion order, which is fine: correlation is
// per-message by id, not positional.
func (s *Session) HandleMessage(ctx context.Context, raw []byte) error {
	var msg jsonrpc.AnyMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return fmt.Errorf("%w: %v", ErrBadMessage, err)
	}

	ctx = logctx.WithRPCMessage(ctx, &logctx.RPCMessage{
		Method: msg.Method,
		ID:     msg.ID.String(),
		Type:   msg.Type(),
	})

	req := msg.AsRequest()
	if req == nil {
		// The gateway never issues server-initiated requests, so inbound
		// responses have nothing to correlate with.
		s.log.InfoContext(ctx, "rpc.response.ignored")
		return nil
	}

	switch req.Method {
	case mcp.InitializeMethod:
		var initReq mcp.InitializeRequest
		if len(req.Params) > 0 {
			if err := json.Unmarshal(req.Params, &initReq); err != nil {
				s.writeError(ctx, req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid initialize params", nil)
				return nil
			}
		}
		s.writeResult(ctx, req.ID, &mcp.InitializeResult{
			ProtocolVersion: mcp.LatestProtocolVersion,
			Capabilities: mcp.ServerCapabilities{
				Tools: &struct {
					ListChanged bool `json:"listChanged"`
				}{},
			},
			ServerInfo: s.serverInfo,
		})
	case mcp.InitializedNotificationMethod:
		s.log.InfoContext(ctx, "session.initialized")
	case mcp.PingMethod:
		s.writeResult(ctx, req.ID, struct{}{})
	case mcp.ListToolsMethod:
		s.writeResult(ctx, req.ID, &mcp.ListToolsResult{Tools: s.reg.Snapshot()})
	case mcp.CallToolMethod:
		var call mcp.CallToolRequestReceived
		if err := json.Unmarshal(req.Params, &call); err != nil {
			s.writeError(ctx, req.ID, jsonrpc.ErrorCodeInvalidParams, "invalid tools/call params", nil)
			return nil
		}
		// Detach from the request context: a disconnecting client cancels
		// the POST, but the handler is allowed to run to completion. Only
		// its reply write becomes a no-op.
		go s.dispatchCall(context.WithoutCancel(ctx), req.ID, &call)
	default:
		if req.ID.IsNil() {
			s.log.InfoContext(ctx, "rpc.notification.ignored")
			return nil
		}
		s.writeError(ctx, req.ID, jsonrpc.ErrorCodeMethodNotFound, "method not found: "+req.Method, nil)
	}
	return nil
}

// dispatchCall runs one tool invocation and writes its structured reply.
// Dispatch failures become structured error replies; they never terminate
// the session or other in-flight calls.
func (s *Session) dispatchCall(ctx context.Context, id *jsonrpc.RequestID, call *mcp.CallToolRequestReceived) {
	start := time.Now()
	res, err := s.reg.Dispatch(ctx, call.Name, call.Arguments)
	if err != nil {
		var unknown *registry.UnknownToolError
		var invalid *registry.ValidationError
		var failed *registry.HandlerError
		switch {
		case errors.As(err, &unknown):
			s.writeError(ctx, id, jsonrpc.ErrorCodeInvalidParams, err.Error(), nil)
		case errors.As(err, &invalid):
			s.writeError(ctx, id, jsonrpc.ErrorCodeInvalidParams, err.Error(), map[string]any{
				"tool":  invalid.Tool,
				"field": invalid.Field,
				"want":  invalid.Want,
			})
		case errors.As(err, &failed):
			// Tool body failures are reported in-band as an error result so
			// the caller sees which call failed and why.
			s.log.WarnContext(ctx, "tool.call.fail", slog.String("err", err.Error()))
			s.writeResult(ctx, id, &mcp.CallToolResult{
				Content: []mcp.ContentBlock{{Type: "text", Text: failed.Error()}},
				IsError: true,
			})
		default:
			s.log.ErrorContext(ctx, "tool.call.err", slog.String("err", err.Error()))
			s.writeError(ctx, id, jsonrpc.ErrorCodeInternalError, "internal error", nil)
		}
		return
	}
	s.writeResult(ctx, id, res)
	s.log.InfoContext(ctx, "tool.call.ok", slog.Duration("dur", time.Since(start)))
}

// writeResult marshals a success reply and pushes it onto the stream. Sink
// failures mean the client is gone; they are logged and swallowed.
func (s *Session) writeResult(ctx context.Context, id *jsonrpc.RequestID, result any) {
	if id.IsNil() {
		return
	}
	resp, err := jsonrpc.NewResultResponse(id, result)
	if err != nil {
		s.log.ErrorContext(ctx, "rpc.response.marshal.fail", slog.String("err", err.Error()))
		s.writeError(ctx, id, jsonrpc.ErrorCodeInternalError, "failed to encode result", nil)
		return
	}
	s.writeResponse(ctx, resp)
}

func (s *Session) writeError(ctx context.Context, id *jsonrpc.RequestID, code jsonrpc.ErrorCode, msg string, data any) {
	s.writeResponse(ctx, jsonrpc.NewErrorResponse(id, code, msg, data))
}

func (s *Session) writeResponse(ctx context.Context, resp *jsonrpc.Response) {
	b, err := json.Marshal(resp)
	if err != nil {
		s.log.ErrorContext(ctx, "rpc.response.marshal.fail", slog.String("err", err.Error()))
		return
	}
	if err := s.sink.Send("message", b); err != nil {
		s.log.WarnContext(ctx, "sse.write.fail", slog.String("err", err.Error()))
	}
}
