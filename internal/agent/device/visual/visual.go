// Package visual drives the clip playback server over HTTP REST.
// The composition document is cached for five seconds and the cache
// is invalidated by any mutating call; clip and column lookups are
// fuzzy, by lowercased substring.
package visual

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

// compositionTTL is the cache lifetime for the composition document.
const compositionTTL = 5 * time.Second

// Clip is one playable cell in the composition grid.
type Clip struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	Layer  int    `json:"layer"`
	Column int    `json:"column"`
}

// Column is one column of the composition grid.
type Column struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// composition is the server's full document.
type composition struct {
	Clips   []Clip   `json:"clips"`
	Columns []Column `json:"columns"`
}

// Driver is the visual clip server driver.
type Driver struct {
	baseURL string
	client  *http.Client

	mu        sync.Mutex
	comp      *composition
	fetchedAt time.Time
	connected bool
}

// New creates a visual server driver.
func New(host string, port int) *Driver {
	if port == 0 {
		port = 8080
	}
	return &Driver{
		baseURL: fmt.Sprintf("http://%s:%d/api/v1", host, port),
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

// Name implements device.Driver.
func (d *Driver) Name() string { return "visual" }

// Connect implements device.Driver: a reachability check, the REST
// API is otherwise stateless.
func (d *Driver) Connect(ctx context.Context) error {
	if !d.IsReachable(ctx) {
		return proto.NewError(proto.KindDeviceUnreachable, "visual server not reachable")
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
	d.comp = nil
}

// IsReachable implements device.Driver.
func (d *Driver) IsReachable(ctx context.Context) bool {
	probeCtx, cancel := device.ProbeContext(ctx)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, d.baseURL+"/composition", nil)
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
	return map[string]any{"connected": d.connected}
}

// getComposition returns the cached document, refetching after the
// TTL.
func (d *Driver) getComposition(ctx context.Context) (*composition, error) {
	d.mu.Lock()
	if d.comp != nil && time.Since(d.fetchedAt) < compositionTTL {
		comp := d.comp
		d.mu.Unlock()
		return comp, nil
	}
	d.mu.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, d.baseURL+"/composition", nil)
	if err != nil {
		return nil, proto.WrapError(proto.KindInternal, err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, proto.WrapError(proto.KindDeviceUnreachable, err)
	}
	defer resp.Body.Close()

	var comp composition
	if err := json.NewDecoder(resp.Body).Decode(&comp); err != nil {
		return nil, proto.WrapError(proto.KindDeviceUnreachable, err)
	}

	d.mu.Lock()
	d.comp = &comp
	d.fetchedAt = time.Now()
	d.mu.Unlock()
	return &comp, nil
}

// invalidate drops the cache after a mutating call.
func (d *Driver) invalidate() {
	d.mu.Lock()
	d.comp = nil
	d.mu.Unlock()
}

// FindClip resolves a clip by lowercased substring.
func (d *Driver) FindClip(ctx context.Context, name string) (*Clip, error) {
	comp, err := d.getComposition(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(name))
	for i := range comp.Clips {
		if strings.Contains(strings.ToLower(comp.Clips[i].Name), needle) {
			return &comp.Clips[i], nil
		}
	}
	return nil, proto.NewError(proto.KindNotFound, "no clip matching %q", name)
}

// FindColumn resolves a column by lowercased substring.
func (d *Driver) FindColumn(ctx context.Context, name string) (*Column, error) {
	comp, err := d.getComposition(ctx)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(strings.TrimSpace(name))
	for i := range comp.Columns {
		if strings.Contains(strings.ToLower(comp.Columns[i].Name), needle) {
			return &comp.Columns[i], nil
		}
	}
	return nil, proto.NewError(proto.KindNotFound, "no column matching %q", name)
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
	_ = resp.Body.Close()
	if resp.StatusCode >= 400 {
		return proto.NewError(proto.KindDeviceUnreachable, "visual server returned %d", resp.StatusCode)
	}
	d.invalidate()
	return nil
}

// PlayClip finds a clip by fuzzy name and connects it.
func (d *Driver) PlayClip(ctx context.Context, name string) (*Clip, error) {
	clip, err := d.FindClip(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := d.post(ctx, fmt.Sprintf("/clips/%d/connect", clip.ID)); err != nil {
		return nil, err
	}
	return clip, nil
}

// TriggerColumn connects a whole column.
func (d *Driver) TriggerColumn(ctx context.Context, name string) (*Column, error) {
	col, err := d.FindColumn(ctx, name)
	if err != nil {
		return nil, err
	}
	if err := d.post(ctx, fmt.Sprintf("/columns/%d/connect", col.ID)); err != nil {
		return nil, err
	}
	return col, nil
}

// StopAll disconnects every layer.
func (d *Driver) StopAll(ctx context.Context) error {
	return d.post(ctx, "/composition/disconnect-all")
}

// ListClips returns the clip names in grid order.
func (d *Driver) ListClips(ctx context.Context) ([]string, error) {
	comp, err := d.getComposition(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(comp.Clips))
	for _, c := range comp.Clips {
		names = append(names, c.Name)
	}
	return names, nil
}
