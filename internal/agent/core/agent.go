// Package core owns the agent's device set and telemetry
// aggregation. Devices are connected independently; a single dead
// device never blocks startup.
package core

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/steeplecast/steeplecast/internal/agent/config"
	"github.com/steeplecast/steeplecast/internal/agent/device"
	"github.com/steeplecast/steeplecast/internal/agent/device/macrohost"
	"github.com/steeplecast/steeplecast/internal/agent/device/oscmixer"
	"github.com/steeplecast/steeplecast/internal/agent/device/router"
	"github.com/steeplecast/steeplecast/internal/agent/device/slides"
	"github.com/steeplecast/steeplecast/internal/agent/device/streamer"
	"github.com/steeplecast/steeplecast/internal/agent/device/switcher"
	"github.com/steeplecast/steeplecast/internal/agent/device/visual"
	"github.com/steeplecast/steeplecast/internal/proto"
)

// Agent aggregates the venue's devices.
type Agent struct {
	cfg       *config.Config
	startedAt time.Time

	Switcher  *switcher.Driver
	Streamer  *streamer.Driver
	Slides    *slides.Driver
	Routers   []*router.Driver
	Mixer     oscmixer.MixerDriver
	Visual    *visual.Driver
	Macrohost *macrohost.Driver

	// OnDeviceEvent fires when a device pushes a state change the
	// relay should hear about promptly (a fresh status_update).
	OnDeviceEvent func()

	// Runner hooks, wired before commands can arrive. Nil when the
	// corresponding loop is not running.
	OnPreviewStart func() error
	OnPreviewStop  func() error
	OnAudioMonitor func(enable bool)

	mu            sync.Mutex
	audioStatus   proto.AudioStatus
	healthStatus  proto.StreamHealthStatus
}

// New builds the device set from configuration. Unconfigured devices
// stay nil.
func New(cfg *config.Config) (*Agent, error) {
	a := &Agent{cfg: cfg, startedAt: time.Now()}

	if cfg.SwitcherIP != "" {
		a.Switcher = switcher.New(cfg.SwitcherIP)
		a.Switcher.OnStateChanged = func() { a.deviceEvent() }
	}
	if cfg.StreamerURL != "" {
		a.Streamer = streamer.New(cfg.StreamerURL, cfg.StreamerPassword)
		a.Streamer.OnEvent = func(streamer.Event) { a.deviceEvent() }
	}
	if cfg.SlidesHost != "" {
		a.Slides = slides.New(cfg.SlidesHost, cfg.SlidesPort)
		a.Slides.OnSlideChanged = func(int, int) { a.deviceEvent() }
	}
	for _, rc := range cfg.VideoRouters {
		r := router.New(rc.Host, rc.Port, rc.Name)
		r.OnRouteChanged = func() { a.deviceEvent() }
		a.Routers = append(a.Routers, r)
	}
	if cfg.Mixer != nil && cfg.Mixer.Host != "" {
		m, err := oscmixer.NewDriver(cfg.Mixer.Type, cfg.Mixer.Host, cfg.Mixer.Port)
		if err != nil {
			return nil, err
		}
		a.Mixer = m
	}
	if cfg.VisualServerHost != "" {
		a.Visual = visual.New(cfg.VisualServerHost, cfg.VisualServerPort)
	}
	if cfg.MacrohostURL != "" {
		a.Macrohost = macrohost.New(cfg.MacrohostURL)
	}
	return a, nil
}

// Config returns the agent's configuration.
func (a *Agent) Config() *config.Config { return a.cfg }

func (a *Agent) deviceEvent() {
	if a.OnDeviceEvent != nil {
		a.OnDeviceEvent()
	}
}

// drivers returns the configured drivers.
func (a *Agent) drivers() []device.Driver {
	var ds []device.Driver
	if a.Switcher != nil {
		ds = append(ds, a.Switcher)
	}
	if a.Streamer != nil {
		ds = append(ds, a.Streamer)
	}
	if a.Slides != nil {
		ds = append(ds, a.Slides)
	}
	for _, r := range a.Routers {
		ds = append(ds, r)
	}
	if a.Mixer != nil {
		ds = append(ds, a.Mixer)
	}
	if a.Visual != nil {
		ds = append(ds, a.Visual)
	}
	if a.Macrohost != nil {
		ds = append(ds, a.Macrohost)
	}
	return ds
}

// ConnectDevices connects every configured device. Individual
// failures are logged, never fatal; each driver's own reconnect loop
// takes over from there.
func (a *Agent) ConnectDevices(ctx context.Context) {
	for _, d := range a.drivers() {
		if err := d.Connect(ctx); err != nil {
			slog.Warn("device connect failed, will retry", "device", d.Name(), "error", err)
		} else {
			slog.Info("device connected", "device", d.Name())
		}
	}
}

// Close disconnects every device.
func (a *Agent) Close() {
	for _, d := range a.drivers() {
		d.Disconnect()
	}
}

// SetAudioStatus publishes the silence detector's state into
// telemetry.
func (a *Agent) SetAudioStatus(s proto.AudioStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.audioStatus = s
}

// SetStreamHealthStatus publishes the stream-health monitor's state
// into telemetry.
func (a *Agent) SetStreamHealthStatus(s proto.StreamHealthStatus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.healthStatus = s
}

// Snapshot assembles the full telemetry snapshot.
func (a *Agent) Snapshot() *proto.Snapshot {
	hostname, _ := os.Hostname()

	snap := &proto.Snapshot{
		System: &proto.SystemStatus{
			Hostname:  hostname,
			Platform:  runtime.GOOS,
			UptimeSec: int64(time.Since(a.startedAt).Seconds()),
			Name:      a.cfg.Name,
		},
	}

	if a.Switcher != nil {
		snap.Switcher = a.Switcher.Status().(*proto.SwitcherStatus)
	}
	if a.Streamer != nil {
		snap.Streamer = a.Streamer.Status().(*proto.StreamerStatus)
	}
	if a.Slides != nil {
		snap.Slides = a.Slides.Status().(*proto.SlidesStatus)
	}
	if len(a.Routers) > 0 {
		snap.Router = a.Routers[0].Status().(*proto.RouterStatus)
	}
	if a.Mixer != nil {
		snap.Mixer = a.Mixer.Status().(*proto.MixerStatus)
	}

	a.mu.Lock()
	audio := a.audioStatus
	health := a.healthStatus
	a.mu.Unlock()
	if audio.Monitoring {
		snap.Audio = &audio
	}
	if health.Monitoring {
		snap.StreamHealth = &health
	}
	return snap
}

// Streaming reports whether the encoder is currently live, from the
// last streamer status.
func (a *Agent) Streaming() bool {
	if a.Streamer == nil {
		return false
	}
	return a.Streamer.StreamerStatus().Streaming
}
