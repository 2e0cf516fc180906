package watchdog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/steeplecast/steeplecast/internal/proto"
)

const (
	// healthInterval is the monitor cadence while streaming.
	healthInterval = 60 * time.Second

	// healthDedupWindow suppresses repeats per alert key.
	healthDedupWindow = 10 * time.Minute

	// dropRatio: current bitrate under 40% of the previous window's
	// counts as a drop, provided the previous window was real.
	dropRatio          = 0.4
	dropFloorKbps      = 500
)

// StreamHealth monitors platform liveness and bitrate collapse.
type StreamHealth struct {
	bitrate   func() float64
	streaming func() bool
	emit      AlertSink

	// OnStatus publishes monitor state into telemetry.
	OnStatus func(proto.StreamHealthStatus)

	// Platform probes; empty credentials disable them.
	YouTubeAPIKey     string
	FacebookPageToken string

	client *http.Client

	mu          sync.Mutex
	prevBitrate float64
	lastAlerts  map[string]time.Time

	now func() time.Time // test hook

	// probe overrides the platform checks in tests. Returns whether
	// the platform reports an active broadcast.
	probeYouTube  func(ctx context.Context) (bool, error)
	probeFacebook func(ctx context.Context) (bool, error)
}

// NewStreamHealth creates the monitor.
func NewStreamHealth(bitrate func() float64, streaming func() bool, emit AlertSink) *StreamHealth {
	sh := &StreamHealth{
		bitrate:    bitrate,
		streaming:  streaming,
		emit:       emit,
		client:     &http.Client{Timeout: 10 * time.Second},
		lastAlerts: make(map[string]time.Time),
		now:        time.Now,
	}
	sh.probeYouTube = sh.youtubeLive
	sh.probeFacebook = sh.facebookLive
	return sh
}

// Tick runs one evaluation. Exposed for tests; Run calls it every
// minute while streaming.
func (sh *StreamHealth) Tick(ctx context.Context) {
	if !sh.streaming() {
		sh.mu.Lock()
		sh.prevBitrate = 0
		sh.mu.Unlock()
		sh.publish(false, 0, 0)
		return
	}

	current := sh.bitrate()

	sh.mu.Lock()
	prev := sh.prevBitrate
	sh.prevBitrate = current
	sh.mu.Unlock()

	sh.publish(true, prev, current)

	if prev > dropFloorKbps && current < prev*dropRatio {
		sh.alert("bitrate_drop", "warning",
			fmt.Sprintf("Bitrate collapsed from %.0f to %.0f kbps.", prev, current))
	}

	if sh.YouTubeAPIKey != "" {
		if live, err := sh.probeYouTube(ctx); err == nil && !live {
			sh.alert("platform_no_broadcast", "warning",
				"The encoder is streaming but YouTube reports no active broadcast.")
		}
	}
	if sh.FacebookPageToken != "" {
		if live, err := sh.probeFacebook(ctx); err == nil && !live {
			sh.alert("platform_no_broadcast", "warning",
				"The encoder is streaming but Facebook reports no live video.")
		}
	}
}

func (sh *StreamHealth) publish(monitoring bool, baseline, recent float64) {
	if sh.OnStatus != nil {
		sh.OnStatus(proto.StreamHealthStatus{
			Monitoring:      monitoring,
			BaselineBitrate: baseline,
			RecentBitrate:   recent,
		})
	}
}

func (sh *StreamHealth) alert(key, severity, message string) {
	sh.mu.Lock()
	last, seen := sh.lastAlerts[key]
	now := sh.now()
	if seen && now.Sub(last) < healthDedupWindow {
		sh.mu.Unlock()
		return
	}
	sh.lastAlerts[key] = now
	sh.mu.Unlock()

	sh.emit(key, severity, message)
}

// youtubeLive asks the YouTube Data API whether any broadcast is
// active. Failures yield (false, err) and are not alerted on.
func (sh *StreamHealth) youtubeLive(ctx context.Context) (bool, error) {
	u := "https://www.googleapis.com/youtube/v3/liveBroadcasts?part=status&broadcastStatus=active&key=" +
		url.QueryEscape(sh.YouTubeAPIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, err
	}
	resp, err := sh.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("youtube api returned %d", resp.StatusCode)
	}

	var body struct {
		Items []json.RawMessage `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, err
	}
	return len(body.Items) > 0, nil
}

// facebookLive asks the Graph API whether the page has a LIVE video.
func (sh *StreamHealth) facebookLive(ctx context.Context) (bool, error) {
	u := "https://graph.facebook.com/v19.0/me/live_videos?fields=status&access_token=" +
		url.QueryEscape(sh.FacebookPageToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, err
	}
	resp, err := sh.client.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("graph api returned %d", resp.StatusCode)
	}

	var body struct {
		Data []struct {
			Status string `json:"status"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, err
	}
	for _, v := range body.Data {
		if v.Status == "LIVE" {
			return true, nil
		}
	}
	return false, nil
}

// Run ticks until the context is cancelled.
func (sh *StreamHealth) Run(ctx context.Context) {
	ticker := time.NewTicker(healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sh.Tick(ctx)
		}
	}
}
