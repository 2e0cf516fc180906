// Package watchdog evaluates telemetry on a periodic tick and emits
// alerts. It never mutates device state; recovery is the relay's
// business.
package watchdog

import (
	"context"
	"sync"
	"time"

	"github.com/steeplecast/steeplecast/internal/proto"
)

// AlertSink receives emitted alerts, typically the relay client.
type AlertSink func(alertType, severity, message string)

// tickInterval is the watchdog cadence.
const tickInterval = 30 * time.Second

// dedupWindow suppresses repeats of the same alert type.
const dedupWindow = 5 * time.Minute

// Thresholds the tick evaluates.
const (
	minFPS        = 24
	minBitrateKbps = 1000
	emergencyIssueCount = 3
)

// Watchdog runs the periodic telemetry checks.
type Watchdog struct {
	snapshot func() *proto.Snapshot
	emit     AlertSink

	mu         sync.Mutex
	lastAlerts map[string]time.Time // alertType -> last emit

	now func() time.Time // test hook
}

// New creates a Watchdog over a snapshot source.
func New(snapshot func() *proto.Snapshot, emit AlertSink) *Watchdog {
	return &Watchdog{
		snapshot:   snapshot,
		emit:       emit,
		lastAlerts: make(map[string]time.Time),
		now:        time.Now,
	}
}

// Tick evaluates the current snapshot once. Exposed for tests; Run
// calls it every 30 seconds.
func (w *Watchdog) Tick() {
	snap := w.snapshot()
	if snap == nil {
		return
	}

	issues := 0

	streaming := snap.Streamer != nil && snap.Streamer.Streaming

	if streaming && snap.Streamer.FPS > 0 && snap.Streamer.FPS < minFPS {
		issues++
		w.alert("fps_low", "warning", "Encoder FPS dropped below 24 while streaming.")
	} else {
		w.clear("fps_low")
	}

	if streaming && snap.Streamer.Bitrate > 0 && snap.Streamer.Bitrate < minBitrateKbps {
		issues++
		w.alert("bitrate_low", "warning", "Stream bitrate dropped below 1000 kbps.")
	} else {
		w.clear("bitrate_low")
	}

	if snap.Switcher != nil && !snap.Switcher.Connected {
		issues++
		w.alert("switcher_disconnected", "critical", "The switcher is configured but not connected.")
	} else {
		w.clear("switcher_disconnected")
	}

	if snap.Streamer != nil && !snap.Streamer.Connected {
		issues++
		w.alert("streamer_disconnected", "warning", "The streamer is not connected.")
	} else {
		w.clear("streamer_disconnected")
	}

	if issues >= emergencyIssueCount {
		w.alert("multiple_systems_down", "emergency", "Three or more systems are down at once.")
	} else {
		w.clear("multiple_systems_down")
	}
}

// alert emits unless the type fired within the dedup window.
func (w *Watchdog) alert(alertType, severity, message string) {
	w.mu.Lock()
	last, seen := w.lastAlerts[alertType]
	now := w.now()
	if seen && now.Sub(last) < dedupWindow {
		w.mu.Unlock()
		return
	}
	w.lastAlerts[alertType] = now
	w.mu.Unlock()

	w.emit(alertType, severity, message)
}

// clear resets the dedup flag when the condition resolves, so the
// next occurrence alerts immediately.
func (w *Watchdog) clear(alertType string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.lastAlerts, alertType)
}

// Run ticks until the context is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Tick()
		}
	}
}
