// Package macrohost drives the programmable button-grid controller
// over HTTP REST. Buttons are addressed by page/row/column; fuzzy
// pressing scans the first ten pages for a rendered-text match.
package macrohost

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/steeplecast/steeplecast/internal/agent/device"
	"github.com/steeplecast/steeplecast/internal/proto"
)

// pagesScanned bounds the fuzzy name search.
const pagesScanned = 10

// Button is one rendered cell of the grid.
type Button struct {
	Page   int    `json:"page"`
	Row    int    `json:"row"`
	Column int    `json:"column"`
	Text   string `json:"text"`
}

// Driver is the macro host device driver.
type Driver struct {
	baseURL string
	client  *http.Client

	mu        sync.Mutex
	connected bool
	lastPress string
}

// New creates a macro host driver from its base URL.
func New(baseURL string) *Driver {
	return &Driver{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// Name implements device.Driver.
func (d *Driver) Name() string { return "macrohost" }

// Connect implements device.Driver.
func (d *Driver) Connect(ctx context.Context) error {
	if !d.IsReachable(ctx) {
		return proto.NewError(proto.KindDeviceUnreachable, "macro host not reachable")
	}
	d.mu.Lock()
	d.connected = true
	d.mu.Unlock()
	return nil
}

// Disconnect implements device.Driver.
func (d *Driver) Disconnect() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
}

// IsReachable implements device.Driver.
func (d *Driver) IsReachable(ctx context.Context) bool {
	probeCtx, cancel := device.ProbeContext(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, d.baseURL+"/api/pages/0", nil)
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
	return map[string]any{
		"connected": d.connected,
		"lastPress": d.lastPress,
	}
}

// page fetches one page of rendered buttons.
func (d *Driver) page(ctx context.Context, n int) ([]Button, error) {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, fmt.Sprintf("%s/api/pages/%d", d.baseURL, n), nil)
	if err != nil {
		return nil, proto.WrapError(proto.KindInternal, err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, proto.WrapError(proto.KindDeviceUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}

	var body struct {
		Buttons []Button `json:"buttons"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, proto.WrapError(proto.KindDeviceUnreachable, err)
	}
	return body.Buttons, nil
}

// Press pushes a button by grid position.
func (d *Driver) Press(ctx context.Context, page, row, column int) error {
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	url := fmt.Sprintf("%s/api/press/%d/%d/%d", d.baseURL, page, row, column)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, nil)
	if err != nil {
		return proto.WrapError(proto.KindInternal, err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return proto.WrapError(proto.KindDeviceUnreachable, err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode >= 400 {
		return proto.NewError(proto.KindDeviceUnreachable, "macro host returned %d", resp.StatusCode)
	}
	return nil
}

// PressByName scans the first ten pages for the first button whose
// rendered text contains the (lowercased) substring and presses it.
func (d *Driver) PressByName(ctx context.Context, name string) (*Button, error) {
	needle := strings.ToLower(strings.TrimSpace(name))
	for page := 0; page < pagesScanned; page++ {
		buttons, err := d.page(ctx, page)
		if err != nil {
			return nil, err
		}
		for i := range buttons {
			if strings.Contains(strings.ToLower(buttons[i].Text), needle) {
				b := buttons[i]
				if err := d.Press(ctx, b.Page, b.Row, b.Column); err != nil {
					return nil, err
				}
				d.mu.Lock()
				d.lastPress = b.Text
				d.mu.Unlock()
				return &b, nil
			}
		}
	}
	return nil, proto.NewError(proto.KindNotFound, "no button matching %q on the first %d pages", name, pagesScanned)
}
