package watchdog

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/steeplecast/steeplecast/internal/proto"
)

const (
	// silencePollInterval is how often the master level is sampled
	// while streaming.
	silencePollInterval = 2 * time.Second

	// silenceThresholdDBFS: levels below this count as silence.
	silenceThresholdDBFS = -40.0

	// silenceDuration: continuous silence before the alert fires.
	silenceDuration = 15 * time.Second
)

// NormalizeLevel converts the raw master-audio value to dBFS. Two
// encodings occur in the wild: negative values are dBFS·1000;
// positive values up to 32768 are linear sample peaks.
func NormalizeLevel(raw float64) float64 {
	if raw < 0 {
		return raw / 1000
	}
	if raw == 0 {
		return -90
	}
	if raw <= 32768 {
		return 20 * math.Log10(raw/32768)
	}
	return 0
}

// SilenceDetector watches the switcher's master audio level while
// streaming and emits audio_silence after 15 continuous seconds
// below -40 dBFS. The timer resets when the level rises or the
// stream stops.
type SilenceDetector struct {
	level     func() float64 // raw master level
	streaming func() bool
	emit      AlertSink

	// OnStatus publishes the detector state into telemetry.
	OnStatus func(proto.AudioStatus)

	mu          sync.Mutex
	enabled     bool
	silentSince time.Time
	alerted     bool

	now func() time.Time // test hook
}

// NewSilenceDetector creates a detector over a level source.
func NewSilenceDetector(level func() float64, streaming func() bool, emit AlertSink) *SilenceDetector {
	return &SilenceDetector{
		level:     level,
		streaming: streaming,
		emit:      emit,
		enabled:   true,
		now:       time.Now,
	}
}

// SetEnabled toggles monitoring at runtime.
func (s *SilenceDetector) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
	if !enabled {
		s.silentSince = time.Time{}
		s.alerted = false
	}
}

// Sample evaluates one reading. Exposed for tests; Run calls it
// every two seconds.
func (s *SilenceDetector) Sample() {
	s.mu.Lock()
	enabled := s.enabled
	s.mu.Unlock()
	if !enabled {
		s.publish(false, false, 0)
		return
	}

	if !s.streaming() {
		s.mu.Lock()
		s.silentSince = time.Time{}
		s.alerted = false
		s.mu.Unlock()
		s.publish(true, false, 0)
		return
	}

	db := NormalizeLevel(s.level())
	now := s.now()

	s.mu.Lock()
	if db >= silenceThresholdDBFS {
		// Sound again: reset, so the next silent stretch re-alerts.
		s.silentSince = time.Time{}
		s.alerted = false
		s.mu.Unlock()
		s.publish(true, false, 0)
		return
	}

	if s.silentSince.IsZero() {
		s.silentSince = now
	}
	dur := now.Sub(s.silentSince)
	fire := dur >= silenceDuration && !s.alerted
	if fire {
		s.alerted = true
	}
	s.mu.Unlock()

	s.publish(true, dur >= silenceDuration, dur.Seconds())
	if fire {
		s.emit("audio_silence", "critical", "Master audio has been silent for 15 seconds while streaming.")
	}
}

func (s *SilenceDetector) publish(monitoring, silent bool, durationSec float64) {
	if s.OnStatus != nil {
		s.OnStatus(proto.AudioStatus{
			Monitoring:         monitoring,
			SilenceDetected:    silent,
			SilenceDurationSec: durationSec,
		})
	}
}

// Run samples until the context is cancelled.
func (s *SilenceDetector) Run(ctx context.Context) {
	ticker := time.NewTicker(silencePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sample()
		}
	}
}
