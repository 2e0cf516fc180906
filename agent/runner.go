// Package agent wires the venue-side process: device set, relay
// connection, watchdogs and preview, run until the context ends.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	agentconfig "github.com/steeplecast/steeplecast/internal/agent/config"
	"github.com/steeplecast/steeplecast/internal/agent/command"
	"github.com/steeplecast/steeplecast/internal/agent/core"
	"github.com/steeplecast/steeplecast/internal/agent/preview"
	"github.com/steeplecast/steeplecast/internal/agent/relayclient"
	"github.com/steeplecast/steeplecast/internal/agent/watchdog"
)

// Run starts the agent and blocks until ctx is cancelled. Fatal
// startup errors (bad config) return; device failures do not.
func Run(ctx context.Context, cfg *agentconfig.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	a, err := core.New(cfg)
	if err != nil {
		return fmt.Errorf("build device set: %w", err)
	}
	defer a.Close()

	registry := command.NewRegistry()
	client := relayclient.New(cfg.Relay, cfg.Token, a, registry)

	// Device pushes promote a fresh status_update.
	a.OnDeviceEvent = client.SendStatus

	// Preview streaming, driven by the streamer's screenshot call.
	if a.Streamer != nil {
		pv := preview.New(cfg.PreviewSource,
			time.Duration(cfg.PreviewIntervalMS)*time.Millisecond,
			a.Streamer.Screenshot,
			client.SendPreviewFrame,
		)
		a.OnPreviewStart = pv.Start
		a.OnPreviewStop = pv.Stop
		defer func() { _ = pv.Stop() }()
	}

	a.ConnectDevices(ctx)

	// Watchdog stack. The silence detector needs the switcher's
	// master meter; the health monitor needs the streamer's stats.
	if cfg.Watchdog {
		wd := watchdog.New(a.Snapshot, client.SendAlert)
		go wd.Run(ctx)

		if a.Switcher != nil {
			silence := watchdog.NewSilenceDetector(
				a.Switcher.MasterAudioLevel,
				a.Streaming,
				client.SendAlert,
			)
			silence.OnStatus = a.SetAudioStatus
			a.OnAudioMonitor = silence.SetEnabled
			go silence.Run(ctx)
		}

		if a.Streamer != nil {
			health := watchdog.NewStreamHealth(
				func() float64 { return a.Streamer.StreamerStatus().Bitrate },
				a.Streaming,
				client.SendAlert,
			)
			health.OnStatus = a.SetStreamHealthStatus
			health.YouTubeAPIKey = cfg.YouTubeAPIKey
			health.FacebookPageToken = cfg.FacebookPageToken
			go health.Run(ctx)
		}
	} else {
		slog.Info("watchdog disabled by configuration")
	}

	client.Run(ctx)
	return nil
}
