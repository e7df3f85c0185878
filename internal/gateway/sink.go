package gateway

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// EventSink is the outbound half of a session: exclusive write access to one
// server->client event stream. Implementations must serialize concurrent
// Send calls so interleaved frames cannot corrupt the stream.
type EventSink interface {
	// Send writes one event frame. The event name may be empty.
	Send(event string, data []byte) error
	// Close tears the stream down. Sends after Close fail; the caller is
	// expected to swallow those failures.
	Close() error
}

// sseSink writes Server-Sent Events frames onto an HTTP response. A mutex
// serializes writers and the stream context is re-checked under the lock so
// a frame is never written after the client disconnected or the session was
// superseded.
type sseSink struct {
	mu     sync.Mutex
	w      io.Writer
	f      http.Flusher
	ctx    context.Context
	cancel context.CancelFunc
}

func newSSESink(w io.Writer, f http.Flusher, ctx context.Context, cancel context.CancelFunc) *sseSink {
	return &sseSink{w: w, f: f, ctx: ctx, cancel: cancel}
}

func (s *sseSink) Send(event string, data []byte) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ctx.Err(); err != nil {
		return err
	}
	if event != "" {
		if _, err := fmt.Fprintf(s.w, "event: %s\n", event); err != nil {
			return fmt.Errorf("write SSE event name: %w", err)
		}
	}
	if _, err := s.w.Write([]byte("data: ")); err != nil {
		return fmt.Errorf("write SSE data prefix: %w", err)
	}
	if _, err := s.w.Write(data); err != nil {
		return fmt.Errorf("write SSE payload: %w", err)
	}
	if _, err := s.w.Write([]byte("\n\n")); err != nil {
		return fmt.Errorf("write SSE frame terminator: %w", err)
	}
	s.f.Flush()
	return nil
}

// Close cancels the stream context, unblocking the GET handler and turning
// any in-flight reply writes into no-ops.
func (s *sseSink) Close() error {
	s.cancel()
	return nil
}

var _ EventSink = (*sseSink)(nil)
