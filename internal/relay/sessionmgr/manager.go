// Package sessionmgr tracks live agent sessions, correlates in-flight
// commands with their results, and queues commands across brief
// disconnects. One live session per venue at all times.
package sessionmgr

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/steeplecast/steeplecast/internal/metrics"
	"github.com/steeplecast/steeplecast/internal/proto"
)

// sendBufferCap bounds the per-session outbound buffer. When the
// buffer is full the oldest queued message is dropped, matching the
// offline-queue policy.
const sendBufferCap = 64

// Session is one live agent connection.
type Session struct {
	VenueID   string
	VenueName string

	ConnectedAt     time.Time
	LastTelemetryAt time.Time

	// SendFn overrides the socket write for tests.
	SendFn func(*proto.Envelope) error

	sock   *websocket.Conn
	sendCh chan *proto.Envelope

	mu       sync.Mutex
	snapshot *proto.Snapshot

	closeOnce sync.Once
	done      chan struct{}
}

// NewSession wraps an accepted WebSocket in a Session and starts its
// write pump. Pass nil sock for tests that set SendFn.
func NewSession(venueID, venueName string, sock *websocket.Conn) *Session {
	s := &Session{
		VenueID:     venueID,
		VenueName:   venueName,
		ConnectedAt: time.Now(),
		sock:        sock,
		sendCh:      make(chan *proto.Envelope, sendBufferCap),
		done:        make(chan struct{}),
	}
	if sock != nil {
		go s.writePump()
	}
	return s
}

// Send enqueues a message for the agent. Never blocks: when the
// buffer is full the oldest queued message is dropped.
func (s *Session) Send(msg *proto.Envelope) error {
	if s.SendFn != nil {
		return s.SendFn(msg)
	}
	select {
	case <-s.done:
		return proto.NewError(proto.KindServiceUnavailable, "session closed")
	default:
	}

	for {
		select {
		case s.sendCh <- msg:
			return nil
		default:
			// Buffer full: drop the oldest and retry.
			select {
			case old := <-s.sendCh:
				slog.Warn("agent send buffer full, dropping oldest",
					"venue_id", s.VenueID, "dropped_type", old.Type)
			default:
			}
		}
	}
}

func (s *Session) writePump() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := wsjson.Write(ctx, s.sock, msg)
			cancel()
			if err != nil {
				slog.Debug("agent write failed", "venue_id", s.VenueID, "error", err)
				s.Close(websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}

// Close terminates the session's socket. Safe to call multiple times.
func (s *Session) Close(code websocket.StatusCode, reason string) {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.sock != nil {
			_ = s.sock.Close(code, reason)
		}
	})
}

// Done is closed when the session has been shut down.
func (s *Session) Done() <-chan struct{} { return s.done }

// UpdateSnapshot stores the latest telemetry. Last writer wins.
func (s *Session) UpdateSnapshot(snap *proto.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = snap
	s.LastTelemetryAt = time.Now()
}

// Snapshot returns the last telemetry received, or nil.
func (s *Session) Snapshot() *proto.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Manager tracks connected agent sessions. Thread-safe.
type Manager struct {
	mu             sync.RWMutex
	sessions       map[string]*Session  // venueID -> live session
	disconnectedAt map[string]time.Time // venueID -> last disconnect
}

// New creates a session Manager.
func New() *Manager {
	return &Manager{
		sessions:       make(map[string]*Session),
		disconnectedAt: make(map[string]time.Time),
	}
}

// Attach registers a session for its venue. Any existing session for
// the same venue is closed with reason "replaced" first, preserving
// the single-session invariant.
func (m *Manager) Attach(s *Session) {
	m.mu.Lock()
	prev := m.sessions[s.VenueID]
	m.sessions[s.VenueID] = s
	delete(m.disconnectedAt, s.VenueID)
	if prev == nil {
		metrics.ConnectedAgents.Inc()
	}
	m.mu.Unlock()

	if prev != nil {
		prev.Close(websocket.StatusPolicyViolation, "replaced")
	}
}

// Detach removes the given session only if it is still the registered
// one for its venue, so a replaced session's deferred cleanup cannot
// remove its replacement. Returns true if removed.
func (m *Manager) Detach(s *Session) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sessions[s.VenueID] == s {
		delete(m.sessions, s.VenueID)
		m.disconnectedAt[s.VenueID] = time.Now()
		metrics.ConnectedAgents.Dec()
		return true
	}
	return false
}

// Get returns the live session for a venue, or nil.
func (m *Manager) Get(venueID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[venueID]
}

// IsOnline reports whether the venue has a live session.
func (m *Manager) IsOnline(venueID string) bool {
	return m.Get(venueID) != nil
}

// DisconnectedSince returns when the venue's last session closed and
// whether a disconnect has been recorded since the last attach.
func (m *Manager) DisconnectedSince(venueID string) (time.Time, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.disconnectedAt[venueID]
	return t, ok
}

// All returns the live sessions, in no particular order.
func (m *Manager) All() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CloseAll closes every live session, used during shutdown.
func (m *Manager) CloseAll(reason string) {
	for _, s := range m.All() {
		s.Close(websocket.StatusGoingAway, reason)
	}
}
