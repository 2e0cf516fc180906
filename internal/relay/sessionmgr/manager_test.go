package sessionmgr

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/steeplecast/steeplecast/internal/proto"
)

func newTestSession(venueID string) *Session {
	s := NewSession(venueID, "Test Venue", nil)
	s.SendFn = func(*proto.Envelope) error { return nil }
	return s
}

func TestAttachReplacesExistingSession(t *testing.T) {
	m := New()

	first := newTestSession("ven-1")
	m.Attach(first)
	require.Same(t, first, m.Get("ven-1"))

	second := newTestSession("ven-1")
	m.Attach(second)
	require.Same(t, second, m.Get("ven-1"))

	// The replaced session is closed.
	select {
	case <-first.Done():
	default:
		t.Fatal("expected replaced session to be closed")
	}
	require.Equal(t, 1, m.Count())
}

func TestDetachIgnoresStaleSession(t *testing.T) {
	m := New()

	first := newTestSession("ven-1")
	m.Attach(first)
	second := newTestSession("ven-1")
	m.Attach(second)

	// The replaced connection's deferred cleanup must not remove the
	// replacement.
	require.False(t, m.Detach(first))
	require.Same(t, second, m.Get("ven-1"))

	require.True(t, m.Detach(second))
	require.Nil(t, m.Get("ven-1"))

	_, ok := m.DisconnectedSince("ven-1")
	require.True(t, ok)
}

func TestDisconnectedSinceClearedOnAttach(t *testing.T) {
	m := New()

	s := newTestSession("ven-1")
	m.Attach(s)
	require.True(t, m.Detach(s))
	_, ok := m.DisconnectedSince("ven-1")
	require.True(t, ok)

	m.Attach(newTestSession("ven-1"))
	_, ok = m.DisconnectedSince("ven-1")
	require.False(t, ok)
}

func TestSendBufferDropsOldest(t *testing.T) {
	s := NewSession("ven-1", "Test Venue", nil)
	// No SendFn and no socket: messages pile up in sendCh.
	for i := 0; i < sendBufferCap+5; i++ {
		require.NoError(t, s.Send(&proto.Envelope{Type: proto.TypeCommand, ID: "x"}))
	}
	require.Len(t, s.sendCh, sendBufferCap)
}

func TestSnapshotLastWriterWins(t *testing.T) {
	s := newTestSession("ven-1")
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.UpdateSnapshot(&proto.Snapshot{System: &proto.SystemStatus{Name: "v"}})
		}()
	}
	wg.Wait()
	require.NotNil(t, s.Snapshot())
	require.False(t, s.LastTelemetryAt.IsZero())
}
