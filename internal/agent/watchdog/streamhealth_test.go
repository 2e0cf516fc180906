package watchdog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type healthRig struct {
	sh        *StreamHealth
	rec       *alertRecorder
	bitrate   float64
	streaming bool
}

func newHealthRig() *healthRig {
	rig := &healthRig{bitrate: 4500, streaming: true}
	rig.rec = &alertRecorder{}
	rig.sh = NewStreamHealth(
		func() float64 { return rig.bitrate },
		func() bool { return rig.streaming },
		rig.rec.sink(),
	)
	return rig
}

func TestBitrateDrop(t *testing.T) {
	rig := newHealthRig()
	ctx := context.Background()

	rig.sh.Tick(ctx) // establishes the baseline window
	rig.bitrate = 1000
	rig.sh.Tick(ctx) // 1000 < 40% of 4500
	require.Equal(t, []string{"bitrate_drop:warning"}, rig.rec.list())
}

func TestNoDropWhenBaselineLow(t *testing.T) {
	rig := newHealthRig()
	ctx := context.Background()

	rig.bitrate = 400 // baseline under the 500 kbps floor
	rig.sh.Tick(ctx)
	rig.bitrate = 100
	rig.sh.Tick(ctx)
	require.Empty(t, rig.rec.list())
}

func TestBaselineResetWhenNotStreaming(t *testing.T) {
	rig := newHealthRig()
	ctx := context.Background()

	rig.sh.Tick(ctx)
	rig.streaming = false
	rig.sh.Tick(ctx)

	// Back online at a low rate: no stale baseline to compare with.
	rig.streaming = true
	rig.bitrate = 800
	rig.sh.Tick(ctx)
	require.Empty(t, rig.rec.list())
}

func TestPlatformProbeAlert(t *testing.T) {
	rig := newHealthRig()
	rig.sh.YouTubeAPIKey = "key"
	rig.sh.probeYouTube = func(context.Context) (bool, error) { return false, nil }

	rig.sh.Tick(context.Background())
	require.Equal(t, []string{"platform_no_broadcast:warning"}, rig.rec.list())
}

func TestPlatformProbeErrorSilent(t *testing.T) {
	rig := newHealthRig()
	rig.sh.YouTubeAPIKey = "key"
	rig.sh.probeYouTube = func(context.Context) (bool, error) { return false, context.DeadlineExceeded }

	rig.sh.Tick(context.Background())
	require.Empty(t, rig.rec.list(), "probe failures are not broadcast outages")
}

func TestHealthDedupTenMinutes(t *testing.T) {
	rig := newHealthRig()
	rig.sh.YouTubeAPIKey = "key"
	rig.sh.probeYouTube = func(context.Context) (bool, error) { return false, nil }

	base := time.Now()
	rig.sh.now = func() time.Time { return base }
	rig.sh.Tick(context.Background())
	rig.sh.Tick(context.Background())
	require.Len(t, rig.rec.list(), 1)

	rig.sh.now = func() time.Time { return base.Add(10*time.Minute + time.Second) }
	rig.sh.Tick(context.Background())
	require.Len(t, rig.rec.list(), 2)
}
