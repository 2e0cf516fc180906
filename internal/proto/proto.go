// Package proto defines the JSON wire messages exchanged between
// agents and the relay, and the shared telemetry snapshot shape.
// Messages are single JSON text frames over WebSocket.
package proto

import "encoding/json"

// Message type strings, agent → relay.
const (
	TypeStatusUpdate  = "status_update"
	TypeAlert         = "alert"
	TypeCommandResult = "command_result"
	TypePreviewFrame  = "preview_frame"
	TypePing          = "ping"
)

// Message type strings, relay → agent.
const (
	TypeConnected = "connected"
	TypeCommand   = "command"
	TypePong      = "pong"
)

// MaxPreviewFrameChars is the cap on the base64 payload of a preview
// frame. Larger frames are discarded on both legs.
const MaxPreviewFrameChars = 150_000

// Envelope is the generic wire message. Type is always set; the
// remaining fields are populated per type.
type Envelope struct {
	Type string `json:"type"`

	// status_update
	Status *Snapshot `json:"status,omitempty"`

	// alert
	Message   string `json:"message,omitempty"`
	Severity  string `json:"severity,omitempty"`
	AlertType string `json:"alertType,omitempty"`
	Context   map[string]any `json:"context,omitempty"`

	// command / command_result
	ID      string          `json:"id,omitempty"`
	Command string          `json:"command,omitempty"`
	Params  map[string]any  `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   string          `json:"error,omitempty"`

	// preview_frame
	Timestamp int64  `json:"timestamp,omitempty"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Format    string `json:"format,omitempty"`
	Data      string `json:"data,omitempty"`

	// connected
	VenueID string `json:"venueId,omitempty"`
	Name    string `json:"name,omitempty"`
}

// Snapshot is the full per-venue telemetry snapshot. It is replaced
// wholesale on every status_update; no history is retained.
type Snapshot struct {
	Switcher     *SwitcherStatus     `json:"switcher,omitempty"`
	Streamer     *StreamerStatus     `json:"streamer,omitempty"`
	Slides       *SlidesStatus       `json:"slides,omitempty"`
	Router       *RouterStatus       `json:"router,omitempty"`
	Mixer        *MixerStatus        `json:"mixer,omitempty"`
	Audio        *AudioStatus        `json:"audio,omitempty"`
	StreamHealth *StreamHealthStatus `json:"streamHealth,omitempty"`
	System       *SystemStatus       `json:"system,omitempty"`
}

type SwitcherStatus struct {
	Connected    bool `json:"connected"`
	ProgramInput int  `json:"programInput"`
	PreviewInput int  `json:"previewInput"`
	Recording    bool `json:"recording"`
	Streaming    bool `json:"streaming"`
	InTransition bool `json:"inTransition"`
}

type StreamerStatus struct {
	Connected bool    `json:"connected"`
	Streaming bool    `json:"streaming"`
	Recording bool    `json:"recording"`
	FPS       float64 `json:"fps"`
	Bitrate   float64 `json:"bitrate"` // kbps
	CPUUsage  float64 `json:"cpuUsage"`
}

type SlidesStatus struct {
	Connected           bool   `json:"connected"`
	Running             bool   `json:"running"`
	CurrentPresentation string `json:"currentPresentation,omitempty"`
	SlideIndex          int    `json:"slideIndex"`
	SlideTotal          int    `json:"slideTotal"`
}

type RouterStatus struct {
	Connected  bool `json:"connected"`
	RouteCount int  `json:"routeCount"`
	Inputs     int  `json:"inputs"`
	Outputs    int  `json:"outputs"`
}

type MixerStatus struct {
	Connected bool    `json:"connected"`
	Type      string  `json:"type,omitempty"`
	MainMuted bool    `json:"mainMuted"`
	MainFader float64 `json:"mainFader"`
}

type AudioStatus struct {
	Monitoring         bool    `json:"monitoring"`
	SilenceDetected    bool    `json:"silenceDetected"`
	SilenceDurationSec float64 `json:"silenceDurationSec"`
}

type StreamHealthStatus struct {
	Monitoring      bool    `json:"monitoring"`
	BaselineBitrate float64 `json:"baselineBitrate"`
	RecentBitrate   float64 `json:"recentBitrate"`
}

type SystemStatus struct {
	Hostname  string `json:"hostname"`
	Platform  string `json:"platform"`
	UptimeSec int64  `json:"uptimeSec"`
	Name      string `json:"name"`
}
