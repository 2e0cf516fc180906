// Package streamer drives the local encoder over its WebSocket
// JSON-RPC control protocol: call-and-reply requests plus pushed
// events for stream and record state changes.
package streamer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/steeplecast/steeplecast/internal/agent/device"
	"github.com/steeplecast/steeplecast/internal/proto"
)

// callTimeout bounds one request/reply round trip.
const callTimeout = 5 * time.Second

// frame is the JSON-RPC wire shape in both directions.
type frame struct {
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Event   string          `json:"event,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Event is a pushed state change re-emitted on the agent bus.
type Event struct {
	Name    string
	Payload json.RawMessage
}

// Driver is the streamer device driver.
type Driver struct {
	url      string
	password string

	// OnEvent re-emits pushed state events. Set before Connect.
	OnEvent func(Event)

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	nextID    int
	pending   map[string]chan frame
	status    proto.StreamerStatus

	reconnect *device.Reconnector
	readCtx   context.CancelFunc
}

// New creates a streamer driver.
func New(url, password string) *Driver {
	d := &Driver{
		url:      url,
		password: password,
		pending:  make(map[string]chan frame),
	}
	d.reconnect = device.NewReconnector("streamer", d.dial)
	return d
}

// Name implements device.Driver.
func (d *Driver) Name() string { return "streamer" }

// Connect implements device.Driver.
func (d *Driver) Connect(ctx context.Context) error {
	d.mu.Lock()
	if d.connected {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()
	return d.dial(ctx)
}

func (d *Driver) dial(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(dialCtx, d.url, nil)
	if err != nil {
		return fmt.Errorf("dial streamer: %w", err)
	}

	readCtx, readCancel := context.WithCancel(context.Background())

	d.mu.Lock()
	if d.conn != nil {
		_ = d.conn.CloseNow()
	}
	d.conn = conn
	d.connected = true
	d.status.Connected = true
	d.readCtx = readCancel
	d.mu.Unlock()

	go d.readLoop(readCtx, conn)

	// Authenticate when a password is configured. Failure tears the
	// session down rather than leaving a half-authenticated socket.
	if d.password != "" {
		if _, err := d.Call(ctx, "auth", map[string]any{"password": d.password}); err != nil {
			d.Disconnect()
			return fmt.Errorf("streamer auth: %w", err)
		}
	}
	return nil
}

// Disconnect implements device.Driver.
func (d *Driver) Disconnect() {
	d.reconnect.Stop()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.readCtx != nil {
		d.readCtx()
		d.readCtx = nil
	}
	if d.conn != nil {
		_ = d.conn.Close(websocket.StatusNormalClosure, "")
		d.conn = nil
	}
	d.connected = false
	d.status = proto.StreamerStatus{}
	for id, ch := range d.pending {
		close(ch)
		delete(d.pending, id)
	}
}

// IsReachable implements device.Driver.
func (d *Driver) IsReachable(ctx context.Context) bool {
	d.mu.Lock()
	connected := d.connected
	d.mu.Unlock()
	if connected {
		return true
	}

	probeCtx, cancel := device.ProbeContext(ctx)
	defer cancel()
	conn, _, err := websocket.Dial(probeCtx, d.url, nil)
	if err != nil {
		return false
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
	return true
}

// Status implements device.Driver.
func (d *Driver) Status() any {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.status
	return &s
}

// StreamerStatus returns the typed snapshot.
func (d *Driver) StreamerStatus() proto.StreamerStatus {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func (d *Driver) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var f frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("streamer connection lost", "error", err)
			d.mu.Lock()
			d.connected = false
			d.status = proto.StreamerStatus{}
			if d.conn == conn {
				d.conn = nil
			}
			for id, ch := range d.pending {
				close(ch)
				delete(d.pending, id)
			}
			d.mu.Unlock()
			d.reconnect.Trigger(context.Background())
			return
		}

		if f.ID != "" {
			d.mu.Lock()
			ch, ok := d.pending[f.ID]
			if ok {
				delete(d.pending, f.ID)
			}
			d.mu.Unlock()
			if ok {
				ch <- f
			}
			continue
		}
		if f.Event != "" {
			d.handleEvent(f)
		}
	}
}

func (d *Driver) handleEvent(f frame) {
	var state struct {
		Active  bool    `json:"active"`
		FPS     float64 `json:"fps"`
		Bitrate float64 `json:"kbitsPerSec"`
		CPU     float64 `json:"cpuUsage"`
	}
	_ = json.Unmarshal(f.Payload, &state)

	d.mu.Lock()
	switch f.Event {
	case "StreamStateChanged":
		d.status.Streaming = state.Active
	case "RecordStateChanged":
		d.status.Recording = state.Active
	case "Stats":
		d.status.FPS = state.FPS
		d.status.Bitrate = state.Bitrate
		d.status.CPUUsage = state.CPU
	}
	cb := d.OnEvent
	d.mu.Unlock()

	if cb != nil {
		cb(Event{Name: f.Event, Payload: f.Payload})
	}
}

// Call performs one request/reply round trip.
func (d *Driver) Call(ctx context.Context, method string, payload any) (json.RawMessage, error) {
	d.mu.Lock()
	conn := d.conn
	if conn == nil {
		d.mu.Unlock()
		return nil, proto.NewError(proto.KindDeviceUnreachable, "streamer not connected")
	}
	d.nextID++
	id := strconv.Itoa(d.nextID)
	ch := make(chan frame, 1)
	d.pending[id] = ch
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		delete(d.pending, id)
		d.mu.Unlock()
	}()

	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, proto.WrapError(proto.KindInternal, err)
		}
		raw = b
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	if err := wsjson.Write(callCtx, conn, frame{ID: id, Method: method, Payload: raw}); err != nil {
		return nil, proto.WrapError(proto.KindDeviceUnreachable, err)
	}

	select {
	case <-callCtx.Done():
		return nil, proto.NewError(proto.KindTimeout, "streamer call %s timed out", method)
	case resp, ok := <-ch:
		if !ok {
			return nil, proto.NewError(proto.KindDeviceUnreachable, "streamer disconnected")
		}
		if resp.Error != "" {
			return nil, proto.NewError(proto.KindDeviceUnreachable, "streamer: %s", resp.Error)
		}
		return resp.Payload, nil
	}
}

// StartStream starts the outbound stream.
func (d *Driver) StartStream(ctx context.Context) error {
	_, err := d.Call(ctx, "StartStream", nil)
	return err
}

// StopStream stops the outbound stream.
func (d *Driver) StopStream(ctx context.Context) error {
	_, err := d.Call(ctx, "StopStream", nil)
	return err
}

// StartRecording starts the local recording.
func (d *Driver) StartRecording(ctx context.Context) error {
	_, err := d.Call(ctx, "StartRecord", nil)
	return err
}

// StopRecording stops the local recording.
func (d *Driver) StopRecording(ctx context.Context) error {
	_, err := d.Call(ctx, "StopRecord", nil)
	return err
}

// SetBitrate sets the encoder's target bitrate in kbps.
func (d *Driver) SetBitrate(ctx context.Context, kbps int) error {
	_, err := d.Call(ctx, "SetBitrate", map[string]any{"kbitsPerSec": kbps})
	return err
}

// ReduceBitrate lowers the current bitrate by percent and returns
// the new target.
func (d *Driver) ReduceBitrate(ctx context.Context, percent int) (int, error) {
	d.mu.Lock()
	current := d.status.Bitrate
	d.mu.Unlock()
	if current <= 0 {
		current = 4500 // sane default when stats have not arrived yet
	}
	target := int(current * float64(100-percent) / 100)
	if err := d.SetBitrate(ctx, target); err != nil {
		return 0, err
	}
	return target, nil
}

// Screenshot captures a frame from the named source as base64 JPEG.
func (d *Driver) Screenshot(ctx context.Context, source string, width, height int) (string, error) {
	payload, err := d.Call(ctx, "GetSourceScreenshot", map[string]any{
		"sourceName":  source,
		"imageFormat": "jpeg",
		"imageWidth":  width,
		"imageHeight": height,
	})
	if err != nil {
		return "", err
	}
	var resp struct {
		ImageData string `json:"imageData"`
	}
	if err := json.Unmarshal(payload, &resp); err != nil {
		return "", proto.WrapError(proto.KindInternal, err)
	}
	return resp.ImageData, nil
}
