// Package preview streams low-rate screenshot frames from the
// streamer to the relay for the operator dashboard.
package preview

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/steeplecast/steeplecast/internal/proto"
)

const (
	frameWidth  = 640
	frameHeight = 360
)

// Capture grabs one frame from the preview source as base64 JPEG.
type Capture func(ctx context.Context, source string, width, height int) (string, error)

// Send pushes one frame toward the relay.
type Send func(width, height int, data string) error

// Streamer runs the periodic preview capture while enabled.
type Streamer struct {
	source   string
	interval time.Duration
	capture  Capture
	send     Send

	// OnDropped counts frames discarded for exceeding the size cap.
	OnDropped func()

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

// New creates a preview Streamer. Interval defaults to five seconds.
func New(source string, interval time.Duration, capture Capture, send Send) *Streamer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Streamer{
		source:   source,
		interval: interval,
		capture:  capture,
		send:     send,
	}
}

// Start begins streaming. Idempotent.
func (s *Streamer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.running = true
	go s.loop(ctx)
	return nil
}

// Stop halts streaming. Idempotent.
func (s *Streamer) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.cancel()
	s.cancel = nil
	s.running = false
	return nil
}

// Running reports whether the loop is active.
func (s *Streamer) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Streamer) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.frame(ctx)
		}
	}
}

// frame captures and forwards one frame. Capture errors are logged
// and skipped; oversized frames are discarded.
func (s *Streamer) frame(ctx context.Context) {
	capCtx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	data, err := s.capture(capCtx, s.source, frameWidth, frameHeight)
	if err != nil {
		slog.Debug("preview capture failed", "error", err)
		return
	}
	if len(data) > proto.MaxPreviewFrameChars {
		if s.OnDropped != nil {
			s.OnDropped()
		}
		slog.Debug("preview frame oversized, dropped", "chars", len(data))
		return
	}
	if err := s.send(frameWidth, frameHeight, data); err != nil {
		slog.Debug("preview frame send failed", "error", err)
	}
}
