package watchdog

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/steeplecast/steeplecast/internal/proto"
)

type alertRecorder struct {
	mu     sync.Mutex
	alerts []string
}

func (r *alertRecorder) sink() AlertSink {
	return func(alertType, severity, _ string) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.alerts = append(r.alerts, alertType+":"+severity)
	}
}

func (r *alertRecorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.alerts...)
}

func TestWatchdogThresholds(t *testing.T) {
	snap := &proto.Snapshot{
		Streamer: &proto.StreamerStatus{Connected: true, Streaming: true, FPS: 20, Bitrate: 800},
	}
	rec := &alertRecorder{}
	w := New(func() *proto.Snapshot { return snap }, rec.sink())

	w.Tick()
	require.ElementsMatch(t, []string{"fps_low:warning", "bitrate_low:warning"}, rec.list())
}

func TestWatchdogSwitcherCritical(t *testing.T) {
	snap := &proto.Snapshot{
		Switcher: &proto.SwitcherStatus{Connected: false},
	}
	rec := &alertRecorder{}
	w := New(func() *proto.Snapshot { return snap }, rec.sink())
	w.Tick()
	require.Equal(t, []string{"switcher_disconnected:critical"}, rec.list())
}

func TestWatchdogEmergencyOnThreeIssues(t *testing.T) {
	snap := &proto.Snapshot{
		Switcher: &proto.SwitcherStatus{Connected: false},
		Streamer: &proto.StreamerStatus{Connected: false, Streaming: true, FPS: 10, Bitrate: 100},
	}
	rec := &alertRecorder{}
	w := New(func() *proto.Snapshot { return snap }, rec.sink())
	w.Tick()
	require.Contains(t, rec.list(), "multiple_systems_down:emergency")
}

func TestWatchdogDedupFiveMinutes(t *testing.T) {
	snap := &proto.Snapshot{Switcher: &proto.SwitcherStatus{Connected: false}}
	rec := &alertRecorder{}
	w := New(func() *proto.Snapshot { return snap }, rec.sink())

	base := time.Now()
	w.now = func() time.Time { return base }
	w.Tick()
	w.Tick()
	require.Len(t, rec.list(), 1)

	w.now = func() time.Time { return base.Add(5*time.Minute + time.Second) }
	w.Tick()
	require.Len(t, rec.list(), 2)
}

func TestWatchdogDedupClearsOnReconnect(t *testing.T) {
	snap := &proto.Snapshot{Switcher: &proto.SwitcherStatus{Connected: false}}
	rec := &alertRecorder{}
	w := New(func() *proto.Snapshot { return snap }, rec.sink())

	w.Tick()
	require.Len(t, rec.list(), 1)

	// Reconnect clears the flag; the next outage alerts immediately.
	snap.Switcher.Connected = true
	w.Tick()
	snap.Switcher.Connected = false
	w.Tick()
	require.Len(t, rec.list(), 2)
}

func TestWatchdogStreamingGate(t *testing.T) {
	// Bad fps/bitrate while NOT streaming must not alert.
	snap := &proto.Snapshot{
		Streamer: &proto.StreamerStatus{Connected: true, Streaming: false, FPS: 5, Bitrate: 100},
	}
	rec := &alertRecorder{}
	w := New(func() *proto.Snapshot { return snap }, rec.sink())
	w.Tick()
	require.Empty(t, rec.list())
}
