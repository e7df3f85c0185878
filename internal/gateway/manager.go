package gateway

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/notewire/mcp-gateway/internal/logctx"
	"github.com/notewire/mcp-gateway/internal/mcp"
	"github.com/notewire/mcp-gateway/internal/registry"
)

// ErrNoActiveSession is returned when an inbound message arrives while no
// stream is open. The boundary surfaces it as service-unavailable.
var ErrNoActiveSession = errors.New("no active stream session")

// Manager owns the single active session. The gateway assumes one logical
// client: opening a stream while another is active supersedes it, and
// inbound messages are implicitly routed to whichever session is active.
type Manager struct {
	mu     sync.Mutex
	active *Session

	reg        *registry.Registry
	serverInfo mcp.ImplementationInfo
	log        *slog.Logger
}

// NewManager constructs a Manager in the idle state. A nil logger falls back
// to slog.Default().
func NewManager(reg *registry.Registry, serverInfo mcp.ImplementationInfo, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{reg: reg, serverInfo: serverInfo, log: log}
}

// Open installs a new session bound to sink. Last stream wins: an already
// active session is replaced and its sink closed best-effort, never queued
// behind or rejected. The manager never holds two sessions.
func (m *Manager) Open(sink EventSink) *Session {
	sess := &Session{
		id:         uuid.NewString(),
		createdAt:  time.Now(),
		sink:       sink,
		reg:        m.reg,
		serverInfo: m.serverInfo,
		log:        m.log,
	}

	m.mu.Lock()
	old := m.active
	m.active = sess
	m.mu.Unlock()

	if old != nil {
		if err := old.sink.Close(); err != nil {
			m.log.Warn("session.supersede.close.fail",
				slog.String("old_session_id", old.id),
				slog.String("err", err.Error()))
		}
		m.log.Info("session.supersede",
			slog.String("old_session_id", old.id),
			slog.String("session_id", sess.id))
	}
	return sess
}

// Route forwards one inbound message to the active session, or fails with
// ErrNoActiveSession when idle.
func (m *Manager) Route(ctx context.Context, raw []byte) error {
	m.mu.Lock()
	sess := m.active
	m.mu.Unlock()
	if sess == nil {
		return ErrNoActiveSession
	}
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{SessionID: sess.id})
	return sess.HandleMessage(ctx, raw)
}

// Close tears down the session with the given id. A stale id, one belonging
// to a superseded session, is a no-op: closing an old session must never
// affect a newer one.
func (m *Manager) Close(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil && m.active.id == sessionID {
		m.active = nil
	}
}

// Active returns the currently installed session, or nil when idle.
func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}
