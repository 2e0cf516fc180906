package command

import (
	"context"
	"fmt"
	"time"

	"github.com/steeplecast/steeplecast/internal/agent/core"
	"github.com/steeplecast/steeplecast/internal/proto"
)

// preCheck is one row of the pre-service check report.
type preCheck struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

func (r *Registry) registerSystem() {
	r.register("system.status", func(_ context.Context, a *core.Agent, _ map[string]any) (any, error) {
		return a.Snapshot(), nil
	})

	r.register("system.uptime", func(_ context.Context, a *core.Agent, _ map[string]any) (any, error) {
		snap := a.Snapshot()
		return fmt.Sprintf("Up %s on %s", time.Duration(snap.System.UptimeSec)*time.Second, snap.System.Hostname), nil
	})

	// system.preServiceCheck probes every configured device and, when
	// streaming is expected soon, the essentials around it. The
	// result is a structured report the relay formats for TD chat.
	r.register("system.preServiceCheck", func(ctx context.Context, a *core.Agent, _ map[string]any) (any, error) {
		var checks []preCheck

		probe := func(name string, d interface {
			IsReachable(ctx context.Context) bool
		}) {
			ok := d.IsReachable(ctx)
			detail := ""
			if !ok {
				detail = "not reachable"
			}
			checks = append(checks, preCheck{Name: name, OK: ok, Detail: detail})
		}

		if a.Switcher != nil {
			probe("switcher", a.Switcher)
		}
		if a.Streamer != nil {
			probe("streamer", a.Streamer)
		}
		if a.Slides != nil {
			probe("slides", a.Slides)
		}
		for i, rt := range a.Routers {
			probe(fmt.Sprintf("router %d", i), rt)
		}
		if a.Mixer != nil {
			probe("mixer", a.Mixer)
		}
		if a.Visual != nil {
			probe("visual server", a.Visual)
		}
		if a.Macrohost != nil {
			probe("macro host", a.Macrohost)
		}

		if len(checks) == 0 {
			checks = append(checks, preCheck{Name: "devices", OK: false, Detail: "no devices configured"})
		}
		return map[string]any{"checks": checks}, nil
	})

	r.register("preview.start", func(_ context.Context, a *core.Agent, _ map[string]any) (any, error) {
		if a.OnPreviewStart == nil {
			return nil, proto.NewError(proto.KindDeviceNotConfigured, "preview streaming not configured")
		}
		if err := a.OnPreviewStart(); err != nil {
			return nil, err
		}
		return "Preview streaming started", nil
	})

	r.register("preview.stop", func(_ context.Context, a *core.Agent, _ map[string]any) (any, error) {
		if a.OnPreviewStop == nil {
			return nil, proto.NewError(proto.KindDeviceNotConfigured, "preview streaming not configured")
		}
		if err := a.OnPreviewStop(); err != nil {
			return nil, err
		}
		return "Preview streaming stopped", nil
	})

	r.register("audio.startMonitoring", func(_ context.Context, a *core.Agent, _ map[string]any) (any, error) {
		if a.OnAudioMonitor == nil {
			return nil, proto.NewError(proto.KindDeviceNotConfigured, "audio monitoring not available")
		}
		a.OnAudioMonitor(true)
		return "Audio monitoring started", nil
	})

	r.register("audio.stopMonitoring", func(_ context.Context, a *core.Agent, _ map[string]any) (any, error) {
		if a.OnAudioMonitor == nil {
			return nil, proto.NewError(proto.KindDeviceNotConfigured, "audio monitoring not available")
		}
		a.OnAudioMonitor(false)
		return "Audio monitoring stopped", nil
	})
}
