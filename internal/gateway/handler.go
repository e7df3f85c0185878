// Package gateway bridges the server->client event stream with the separate
// message ingestion channel, multiplexing one logical session over the two
// HTTP interactions.
package gateway

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/google/uuid"

	"github.com/notewire/mcp-gateway/internal/docstore"
	"github.com/notewire/mcp-gateway/internal/logctx"
	"github.com/notewire/mcp-gateway/internal/mcp"
	"github.com/notewire/mcp-gateway/internal/registry"
	"github.com/notewire/mcp-gateway/internal/upstream"
)

var _ http.Handler = (*Handler)(nil)

var (
	jsonMediaType        = contenttype.NewMediaType("application/json")
	eventStreamMediaType = contenttype.NewMediaType("text/event-stream")
)

const (
	authorizationHeader = "Authorization"
	apiKeyHeader        = "X-API-Key"

	// maxMessageBytes bounds inbound message and ingest bodies.
	maxMessageBytes = 10 << 20

	messagesPath = "/messages"
)

// writeJSONError emits a minimal JSON body for HTTP-layer rejections before
// a JSON-RPC exchange is possible. Shape: {"error":{"code":<status>,"message":...}}.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": status, "message": msg}})
}

// HandlerConfig carries the collaborators the boundary needs.
type HandlerConfig struct {
	// APIKey is the shared secret. Empty disables authentication.
	APIKey string
	// ServerInfo is advertised on initialize.
	ServerInfo mcp.ImplementationInfo
	// Registry provides tool dispatch for sessions.
	Registry *registry.Registry
	// Store backs the ingest endpoint.
	Store docstore.Store
	// Upstreams is the configured upstream list, surfaced read-only.
	Upstreams *upstream.Registry
	// Logger receives structured request logs. Nil falls back to slog.Default().
	Logger *slog.Logger
}

// Handler is the boundary adapter: it translates raw stream-open and
// message-post events into Session Manager calls and performs the shared
// secret check.
type Handler struct {
	mux       *http.ServeMux
	manager   *Manager
	store     docstore.Store
	upstreams *upstream.Registry
	apiKey    string
	log       *slog.Logger
}

// NewHandler wires the boundary routes. The Session Manager is owned here
// and handed to callers who need to observe it (tests, mainly) via Manager().
func NewHandler(cfg HandlerConfig) (*Handler, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("registry is required")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		manager:   NewManager(cfg.Registry, cfg.ServerInfo, log),
		store:     cfg.Store,
		upstreams: cfg.Upstreams,
		apiKey:    cfg.APIKey,
		log:       log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /sse", h.handleSSE)
	mux.HandleFunc("POST "+messagesPath, h.handleMessages)
	mux.HandleFunc("POST /ingest", h.handleIngest)
	mux.HandleFunc("GET /upstreams", h.handleUpstreams)
	h.mux = mux
	return h, nil
}

// Manager exposes the session manager owned by the handler.
func (h *Handler) Manager() *Manager { return h.manager }

// ServeHTTP attaches request-scoped log data and contains panics from the
// request path: an unexpected failure is logged and answered with a 500, and
// the listener keeps serving.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})
	defer func() {
		if p := recover(); p != nil {
			h.log.ErrorContext(ctx, "http.panic",
				slog.Any("panic", p),
				slog.String("stack", string(debug.Stack())))
			writeJSONError(w, http.StatusInternalServerError, "internal server error")
		}
	}()
	h.mux.ServeHTTP(w, r.WithContext(ctx))
}

// handleHealth reports liveness. Unauthenticated.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
}

// handleSSE opens the server->client stream: authenticate, upgrade to an
// event stream, install a session, then hold the connection until the client
// disconnects or a newer stream supersedes this one.
func (h *Handler) handleSSE(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	h.log.InfoContext(ctx, "http.sse.start")

	if !h.checkAuth(ctx, w, r) {
		return
	}

	if acc := r.Header.Get("Accept"); acc != "" {
		if _, _, err := contenttype.GetAcceptableMediaType(r, []contenttype.MediaType{eventStreamMediaType}); err != nil {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			h.log.WarnContext(ctx, "accept.unsupported", slog.String("accept", acc))
			return
		}
	}

	f, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		h.log.ErrorContext(ctx, "sse.flusher.missing")
		return
	}

	w.Header().Set("Content-Type", eventStreamMediaType.String())
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	f.Flush()

	streamCtx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sink := newSSESink(w, f, streamCtx, cancel)
	sess := h.manager.Open(sink)
	defer h.manager.Close(sess.ID())

	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.ID()})
	h.log.InfoContext(ctx, "session.open")

	// Legacy SSE transport handshake: tell the client where to POST its
	// half of the session. The session id is informative only; inbound
	// messages are routed to the active session regardless.
	if err := sink.Send("endpoint", []byte(messagesPath+"?sessionId="+sess.ID())); err != nil {
		h.log.WarnContext(ctx, "sse.endpoint.write.fail", slog.String("err", err.Error()))
		return
	}

	<-streamCtx.Done()
	h.log.InfoContext(ctx, "sse.stream.end", slog.Duration("dur", time.Since(start)))
}

// handleMessages accepts one inbound message and forwards it to the active
// session. Replies travel over the stream, so acceptance is a 202.
func (h *Handler) handleMessages(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		writeJSONError(w, http.StatusUnsupportedMediaType, "content-type must be application/json")
		h.log.WarnContext(ctx, "content_type.unsupported")
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageBytes))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read body")
		h.log.WarnContext(ctx, "body.read.fail", slog.String("err", err.Error()))
		return
	}

	if err := h.manager.Route(ctx, raw); err != nil {
		switch {
		case errors.Is(err, ErrNoActiveSession):
			writeJSONError(w, http.StatusServiceUnavailable, "no active stream session")
			h.log.InfoContext(ctx, "message.route.no_session")
		case errors.Is(err, ErrBadMessage):
			writeJSONError(w, http.StatusBadRequest, err.Error())
			h.log.WarnContext(ctx, "message.route.invalid", slog.String("err", err.Error()))
		default:
			writeJSONError(w, http.StatusInternalServerError, "failed to route message")
			h.log.ErrorContext(ctx, "message.route.fail", slog.String("err", err.Error()))
		}
		return
	}

	w.WriteHeader(http.StatusAccepted)
	h.log.InfoContext(ctx, "message.route.ok", slog.Duration("dur", time.Since(start)))
}

// ingestRequest is the body of POST /ingest.
type ingestRequest struct {
	ID   string         `json:"id,omitempty"`
	Text string         `json:"text"`
	Meta map[string]any `json:"meta,omitempty"`
}

// handleIngest stores a document out of band and returns its id.
func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if !h.checkAuth(ctx, w, r) {
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxMessageBytes)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		h.log.WarnContext(ctx, "ingest.decode.fail", slog.String("err", err.Error()))
		return
	}
	if req.Text == "" {
		writeJSONError(w, http.StatusBadRequest, "text required")
		return
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	if err := h.store.Put(ctx, id, req.Text, req.Meta); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to store document")
		h.log.ErrorContext(ctx, "ingest.store.fail", slog.String("err", err.Error()))
		return
	}

	w.Header().Set("Content-Type", jsonMediaType.String())
	_ = json.NewEncoder(w).Encode(map[string]string{"id": id})
	h.log.InfoContext(ctx, "ingest.ok", slog.String("doc_id", id))
}

// handleUpstreams lists the configured upstream backends.
func (h *Handler) handleUpstreams(w http.ResponseWriter, r *http.Request) {
	if !h.checkAuth(r.Context(), w, r) {
		return
	}
	ups := []upstream.Upstream{}
	if h.upstreams != nil {
		ups = h.upstreams.Snapshot()
	}
	w.Header().Set("Content-Type", jsonMediaType.String())
	_ = json.NewEncoder(w).Encode(map[string]any{"upstreams": ups})
}

// checkAuth validates the shared secret from the Authorization bearer header
// or the X-API-Key header. An empty configured secret disables the check.
// The comparison is timing-invariant.
func (h *Handler) checkAuth(ctx context.Context, w http.ResponseWriter, r *http.Request) bool {
	if h.apiKey == "" {
		return true
	}
	raw := r.Header.Get(authorizationHeader)
	if raw == "" {
		raw = r.Header.Get(apiKeyHeader)
	}
	token := strings.TrimSpace(strings.TrimPrefix(raw, "Bearer "))
	if token == "" {
		writeJSONError(w, http.StatusUnauthorized, "missing token")
		h.log.InfoContext(ctx, "auth.missing")
		return false
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.apiKey)) != 1 {
		writeJSONError(w, http.StatusForbidden, "invalid token")
		h.log.InfoContext(ctx, "auth.invalid")
		return false
	}
	return true
}
