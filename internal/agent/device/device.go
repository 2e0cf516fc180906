// Package device defines the uniform capability surface every
// protocol driver exposes to the agent, and the shared reconnect
// machinery they all use.
package device

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Driver is the uniform capability set over heterogeneous device
// protocols. Connect and Disconnect are idempotent; Status must be
// safe to call at any time and JSON-serialisable.
type Driver interface {
	// Name identifies the device in telemetry and logs.
	Name() string

	// Connect establishes the transport and, where the protocol
	// supports it, subscribes to change notifications.
	Connect(ctx context.Context) error

	// Disconnect tears the transport down and stops reconnect timers.
	Disconnect()

	// IsReachable is a lightweight liveness probe bounded by 3s.
	IsReachable(ctx context.Context) bool

	// Status returns a JSON-serialisable snapshot for telemetry.
	Status() any
}

// probeTimeout bounds IsReachable probes.
const probeTimeout = 3 * time.Second

// ProbeContext derives the bounded context used by liveness probes.
func ProbeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, probeTimeout)
}

// NewBackoff creates the per-device reconnect backoff: 2s doubling
// up to 60s, ±20% jitter.
func NewBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.MaxInterval = 60 * time.Second
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.2
	b.Reset()
	return b
}

// Reconnector owns a device's reconnect loop. A single in-flight
// flag prevents duplicate timers when multiple failures race.
type Reconnector struct {
	name    string
	connect func(ctx context.Context) error

	mu       sync.Mutex
	inFlight bool
	cancel   context.CancelFunc

	bo backoff.BackOff
}

// NewReconnector creates a Reconnector for the named device.
func NewReconnector(name string, connect func(ctx context.Context) error) *Reconnector {
	return &Reconnector{
		name:    name,
		connect: connect,
		bo:      NewBackoff(),
	}
}

// Trigger starts the reconnect loop unless one is already running.
func (r *Reconnector) Trigger(ctx context.Context) {
	r.mu.Lock()
	if r.inFlight {
		r.mu.Unlock()
		return
	}
	r.inFlight = true
	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.mu.Unlock()

	go r.loop(loopCtx)
}

func (r *Reconnector) loop(ctx context.Context) {
	defer func() {
		r.mu.Lock()
		r.inFlight = false
		r.cancel = nil
		r.mu.Unlock()
	}()

	for {
		interval := r.bo.NextBackOff()
		slog.Debug("device reconnect scheduled", "device", r.name, "backoff", interval)
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		if err := r.connect(ctx); err == nil {
			r.bo.Reset()
			slog.Info("device reconnected", "device", r.name)
			return
		} else if ctx.Err() != nil {
			return
		} else {
			slog.Debug("device reconnect failed", "device", r.name, "error", err)
		}
	}
}

// Stop cancels any in-flight reconnect loop. Called from
// Disconnect.
func (r *Reconnector) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
	}
}
