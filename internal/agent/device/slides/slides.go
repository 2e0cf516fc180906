// Package slides drives the presentation software over its HTTP API,
// with a secondary WebSocket on the stage-display endpoint for
// slide-change pushes.
package slides

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/steeplecast/steeplecast/internal/agent/device"
	"github.com/steeplecast/steeplecast/internal/proto"
)

// Driver is the slides device driver.
type Driver struct {
	baseURL string
	wsURL   string
	client  *http.Client

	// OnSlideChanged fires on stage-display pushes. Set before
	// Connect.
	OnSlideChanged func(index, total int)

	mu     sync.Mutex
	status proto.SlidesStatus
	wsConn *websocket.Conn
	wsCtx  context.CancelFunc

	reconnect *device.Reconnector
}

// New creates a slides driver for host:port.
func New(host string, port int) *Driver {
	d := &Driver{
		baseURL: fmt.Sprintf("http://%s/v1", joinHostPort(host, port)),
		wsURL:   fmt.Sprintf("ws://%s/stagedisplay", joinHostPort(host, port)),
		client:  &http.Client{Timeout: 5 * time.Second},
	}
	d.reconnect = device.NewReconnector("slides", d.dialWS)
	return d
}

func joinHostPort(host string, port int) string {
	if port == 0 {
		port = 50001
	}
	return host + ":" + strconv.Itoa(port)
}

// Name implements device.Driver.
func (d *Driver) Name() string { return "slides" }

// Connect implements device.Driver: verifies the HTTP API and opens
// the stage-display socket.
func (d *Driver) Connect(ctx context.Context) error {
	if !d.IsReachable(ctx) {
		return proto.NewError(proto.KindDeviceUnreachable, "slides app not reachable")
	}
	d.mu.Lock()
	d.status.Connected = true
	d.status.Running = true
	d.mu.Unlock()
	return d.dialWS(ctx)
}

func (d *Driver) dialWS(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(dialCtx, d.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial stagedisplay: %w", err)
	}

	wsCtx, wsCancel := context.WithCancel(context.Background())
	d.mu.Lock()
	if d.wsConn != nil {
		_ = d.wsConn.CloseNow()
	}
	d.wsConn = conn
	d.wsCtx = wsCancel
	d.mu.Unlock()

	go d.readLoop(wsCtx, conn)
	return nil
}

// Disconnect implements device.Driver.
func (d *Driver) Disconnect() {
	d.reconnect.Stop()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.wsCtx != nil {
		d.wsCtx()
		d.wsCtx = nil
	}
	if d.wsConn != nil {
		_ = d.wsConn.Close(websocket.StatusNormalClosure, "")
		d.wsConn = nil
	}
	d.status = proto.SlidesStatus{}
}

// IsReachable implements device.Driver: HEAD /v1/version with the
// 3s probe timeout.
func (d *Driver) IsReachable(ctx context.Context) bool {
	probeCtx, cancel := device.ProbeContext(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, d.baseURL+"/version", nil)
	if err != nil {
		return false
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode < 500
}

// Status implements device.Driver.
func (d *Driver) Status() any {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.status
	return &s
}

func (d *Driver) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var push struct {
			Action       string `json:"action"`
			SlideIndex   int    `json:"slideIndex"`
			SlideTotal   int    `json:"slideTotal"`
			Presentation string `json:"presentationName"`
		}
		if err := wsjson.Read(ctx, conn, &push); err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Debug("stagedisplay connection lost", "error", err)
			d.mu.Lock()
			if d.wsConn == conn {
				d.wsConn = nil
			}
			d.mu.Unlock()
			d.reconnect.Trigger(context.Background())
			return
		}
		if push.Action != "slideChanged" {
			continue
		}

		d.mu.Lock()
		d.status.SlideIndex = push.SlideIndex
		d.status.SlideTotal = push.SlideTotal
		if push.Presentation != "" {
			d.status.CurrentPresentation = push.Presentation
		}
		cb := d.OnSlideChanged
		d.mu.Unlock()

		if cb != nil {
			cb(push.SlideIndex, push.SlideTotal)
		}
	}
}

func (d *Driver) post(ctx context.Context, path string) error {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, d.baseURL+path, nil)
	if err != nil {
		return proto.WrapError(proto.KindInternal, err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return proto.WrapError(proto.KindDeviceUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return proto.NewError(proto.KindDeviceUnreachable, "slides app returned %d", resp.StatusCode)
	}
	return nil
}

// Next advances to the next slide.
func (d *Driver) Next(ctx context.Context) error {
	return d.post(ctx, "/trigger/next")
}

// Previous steps back one slide.
func (d *Driver) Previous(ctx context.Context) error {
	return d.post(ctx, "/trigger/previous")
}

// GoTo jumps to a slide index in the current presentation.
func (d *Driver) GoTo(ctx context.Context, index int) error {
	return d.post(ctx, "/trigger/"+strconv.Itoa(index))
}

// Current returns the live slide position from the HTTP API.
func (d *Driver) Current(ctx context.Context) (proto.SlidesStatus, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, d.baseURL+"/presentation/active", nil)
	if err != nil {
		return proto.SlidesStatus{}, proto.WrapError(proto.KindInternal, err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return proto.SlidesStatus{}, proto.WrapError(proto.KindDeviceUnreachable, err)
	}
	defer resp.Body.Close()

	var body struct {
		Presentation struct {
			Name  string `json:"name"`
			Index int    `json:"index"`
			Total int    `json:"total"`
		} `json:"presentation"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return proto.SlidesStatus{}, proto.WrapError(proto.KindDeviceUnreachable, err)
	}

	d.mu.Lock()
	d.status.CurrentPresentation = body.Presentation.Name
	d.status.SlideIndex = body.Presentation.Index
	d.status.SlideTotal = body.Presentation.Total
	s := d.status
	d.mu.Unlock()
	return s, nil
}
