package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/notewire/mcp-gateway/internal/docstore"
	"github.com/notewire/mcp-gateway/internal/docstore/memory"
	"github.com/notewire/mcp-gateway/internal/mcp"
	"github.com/notewire/mcp-gateway/internal/registry"
	"github.com/notewire/mcp-gateway/internal/tools"
	"github.com/notewire/mcp-gateway/internal/upstream"
)

func newTestHandler(t *testing.T, apiKey string) (*Handler, docstore.Store) {
	t.Helper()
	store := memory.New()
	reg := registry.New()
	if err := tools.RegisterAll(reg, store); err != nil {
		t.Fatalf("RegisterAll: %v", err)
	}
	ups := upstream.NewRegistry(nil)
	ups.LoadFromEnv("http://stt.example")
	h, err := NewHandler(HandlerConfig{
		APIKey:     apiKey,
		ServerInfo: mcp.ImplementationInfo{Name: "test-gateway", Version: "0.0.0"},
		Registry:   reg,
		Store:      store,
		Upstreams:  ups,
	})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	return h, store
}

func TestHealthUnauthenticated(t *testing.T) {
	h, _ := newTestHandler(t, "sekrit")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]bool
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !body["ok"] {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestIngestAuth(t *testing.T) {
	h, _ := newTestHandler(t, "sekrit")

	post := func(headers map[string]string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(`{"text":"hello"}`))
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	if rec := post(nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token: expected 401, got %d", rec.Code)
	}
	if rec := post(map[string]string{"Authorization": "Bearer wrong"}); rec.Code != http.StatusForbidden {
		t.Fatalf("bad token: expected 403, got %d", rec.Code)
	}
	if rec := post(map[string]string{"Authorization": "Bearer sekrit"}); rec.Code != http.StatusOK {
		t.Fatalf("bearer token: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := post(map[string]string{"X-API-Key": "sekrit"}); rec.Code != http.StatusOK {
		t.Fatalf("api key header: expected 200, got %d", rec.Code)
	}
}

func TestIngestStoresDocument(t *testing.T) {
	h, store := newTestHandler(t, "")

	req := httptest.NewRequest(http.MethodPost, "/ingest",
		strings.NewReader(`{"id":"d1","text":"standup notes","meta":{"kind":"meeting"}}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["id"] != "d1" {
		t.Fatalf("expected given id echoed, got %q", body["id"])
	}

	docs, err := store.Get(context.Background(), []string{"d1"})
	if err != nil || len(docs) != 1 || docs[0].Text != "standup notes" {
		t.Fatalf("document not stored: %v %#v", err, docs)
	}
}

func TestIngestGeneratesID(t *testing.T) {
	h, _ := newTestHandler(t, "")

	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(`{"text":"hello"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["id"] == "" {
		t.Fatal("expected a generated id")
	}
}

func TestIngestRequiresText(t *testing.T) {
	h, _ := newTestHandler(t, "")

	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(`{"id":"d1"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestMessagesWithoutStream(t *testing.T) {
	h, store := newTestHandler(t, "")

	msg := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"transcribe","arguments":{"audio_url":"https://cdn.example/a.wav","upload_id":"up-1"}}}`
	req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader(msg))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	// The rejected call must not have touched the store.
	docs, err := store.Get(context.Background(), []string{"up-1"})
	if err != nil || len(docs) != 0 {
		t.Fatalf("store modified without a session: %v %#v", err, docs)
	}
}

func TestMessagesRequireJSONContentType(t *testing.T) {
	h, _ := newTestHandler(t, "")

	req := httptest.NewRequest(http.MethodPost, "/messages", strings.NewReader("hi"))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", rec.Code)
	}
}

func TestUpstreamsListing(t *testing.T) {
	h, _ := newTestHandler(t, "")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/upstreams", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Upstreams []upstream.Upstream `json:"upstreams"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(body.Upstreams) != 1 || body.Upstreams[0].URL != "http://stt.example" {
		t.Fatalf("unexpected upstreams: %#v", body.Upstreams)
	}
}

// sseStream wraps a live event stream response for assertions.
type sseStream struct {
	resp   *http.Response
	frames <-chan sinkFrame
}

func openStream(t *testing.T, baseURL string) *sseStream {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, baseURL+"/sse", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Fatalf("unexpected content type: %q", ct)
	}

	frames := make(chan sinkFrame, 16)
	go func() {
		defer close(frames)
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		var event string
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				frames <- sinkFrame{event: event, data: strings.TrimPrefix(line, "data: ")}
			}
		}
	}()
	return &sseStream{resp: resp, frames: frames}
}

// next returns the next frame matching the predicate, or fails on timeout or
// stream end.
func (s *sseStream) next(t *testing.T, match func(sinkFrame) bool) sinkFrame {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case fr, ok := <-s.frames:
			if !ok {
				t.Fatal("stream closed before a matching frame")
			}
			if match(fr) {
				return fr
			}
		case <-deadline:
			t.Fatal("timeout waiting for frame")
		}
	}
}

// waitClosed asserts the stream ends.
func (s *sseStream) waitClosed(t *testing.T) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-s.frames:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("timeout waiting for stream to close")
		}
	}
}

func postMessage(t *testing.T, baseURL, body string) int {
	t.Helper()
	resp, err := http.Post(baseURL+"/messages", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post message: %v", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return resp.StatusCode
}

func TestSSEEndpointHandshakeAndReply(t *testing.T) {
	h, _ := newTestHandler(t, "")
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	stream := openStream(t, srv.URL)

	endpoint := stream.next(t, func(f sinkFrame) bool { return f.event == "endpoint" })
	if !strings.HasPrefix(endpoint.data, "/messages?sessionId=") {
		t.Fatalf("unexpected endpoint event: %q", endpoint.data)
	}

	if code := postMessage(t, srv.URL, `{"jsonrpc":"2.0","id":1,"method":"ping"}`); code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", code)
	}

	reply := stream.next(t, func(f sinkFrame) bool { return f.event == "message" })
	if !strings.Contains(reply.data, `"id":1`) || !strings.Contains(reply.data, `"result"`) {
		t.Fatalf("unexpected reply: %s", reply.data)
	}
}

func TestSSESupersedeClosesOldStream(t *testing.T) {
	h, _ := newTestHandler(t, "")
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	first := openStream(t, srv.URL)
	first.next(t, func(f sinkFrame) bool { return f.event == "endpoint" })

	second := openStream(t, srv.URL)
	second.next(t, func(f sinkFrame) bool { return f.event == "endpoint" })

	// Opening the second stream tears the first one down.
	first.waitClosed(t)

	if code := postMessage(t, srv.URL, `{"jsonrpc":"2.0","id":2,"method":"ping"}`); code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", code)
	}
	reply := second.next(t, func(f sinkFrame) bool { return f.event == "message" })
	if !strings.Contains(reply.data, `"id":2`) {
		t.Fatalf("reply did not reach the new stream: %s", reply.data)
	}
}

func TestSSERequiresEventStreamAccept(t *testing.T) {
	h, _ := newTestHandler(t, "")
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/sse", nil)
	req.Header.Set("Accept", "application/json")
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415, got %d", rec.Code)
	}
}

func TestSSEAuthRejected(t *testing.T) {
	h, _ := newTestHandler(t, "sekrit")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sse", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestUnknownRouteNotFound(t *testing.T) {
	h, _ := newTestHandler(t, "")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
