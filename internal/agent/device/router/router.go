// Package router drives the SDI video router's text protocol (TCP
// 9990). The stream is a sequence of blocks separated by blank
// lines: a header of the form "TYPE:" followed by "index payload"
// lines. Writes are acknowledged with ACK/NAK blocks.
package router

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/steeplecast/steeplecast/internal/agent/device"
	"github.com/steeplecast/steeplecast/internal/proto"
)

const defaultPort = 9990

// ackTimeout bounds a write's ACK/NAK round trip.
const ackTimeout = 5 * time.Second

// block is one parsed protocol block.
type block struct {
	header string
	lines  []string
}

// pendingQuery pairs an expected block header with its resolver.
// The parser dispatches each incoming block to the oldest matching
// entry.
type pendingQuery struct {
	expected string
	resolve  chan block
}

// Driver is the video router device driver.
type Driver struct {
	host string
	port int
	name string

	// OnRouteChanged fires when output routing changes. Set before
	// Connect.
	OnRouteChanged func()

	mu        sync.Mutex
	conn      net.Conn
	connected bool
	pending   []*pendingQuery

	inputLabels  map[int]string
	outputLabels map[int]string
	routes       map[int]int // output -> input

	reconnect *device.Reconnector
	readCtx   context.CancelFunc
}

// New creates a router driver.
func New(host string, port int, name string) *Driver {
	if port == 0 {
		port = defaultPort
	}
	d := &Driver{
		host:         host,
		port:         port,
		name:         name,
		inputLabels:  make(map[int]string),
		outputLabels: make(map[int]string),
		routes:       make(map[int]int),
	}
	d.reconnect = device.NewReconnector("router", d.dial)
	return d
}

// Name implements device.Driver.
func (d *Driver) Name() string { return "router" }

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
	dialer := net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(d.host, strconv.Itoa(d.port)))
	if err != nil {
		return fmt.Errorf("dial router: %w", err)
	}

	readCtx, cancel := context.WithCancel(context.Background())

	d.mu.Lock()
	if d.conn != nil {
		_ = d.conn.Close()
	}
	d.conn = conn
	d.connected = true
	d.readCtx = cancel
	d.mu.Unlock()

	go d.readLoop(readCtx, conn)

	// Rehydrate labels and routing after (re)connect.
	go d.rehydrate()
	return nil
}

// rehydrate issues the three state queries. Responses land via the
// pending list in the read loop.
func (d *Driver) rehydrate() {
	for _, q := range []string{"INPUT LABELS:", "OUTPUT LABELS:", "VIDEO OUTPUT ROUTING:"} {
		if _, err := d.query(q); err != nil {
			slog.Debug("router rehydrate query failed", "query", q, "error", err)
		}
	}
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
		_ = d.conn.Close()
		d.conn = nil
	}
	d.connected = false
	for _, p := range d.pending {
		close(p.resolve)
	}
	d.pending = nil
}

// IsReachable implements device.Driver.
func (d *Driver) IsReachable(ctx context.Context) bool {
	d.mu.Lock()
	if d.connected {
		d.mu.Unlock()
		return true
	}
	d.mu.Unlock()

	probeCtx, cancel := device.ProbeContext(ctx)
	defer cancel()
	var dialer net.Dialer
	conn, err := dialer.DialContext(probeCtx, "tcp", net.JoinHostPort(d.host, strconv.Itoa(d.port)))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Status implements device.Driver.
func (d *Driver) Status() any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return &proto.RouterStatus{
		Connected:  d.connected,
		RouteCount: len(d.routes),
		Inputs:     len(d.inputLabels),
		Outputs:    len(d.outputLabels),
	}
}

// readLoop scans blocks and dispatches them.
func (d *Driver) readLoop(ctx context.Context, conn net.Conn) {
	scanner := bufio.NewScanner(conn)
	var current *block

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			if current != nil {
				d.handleBlock(*current)
				current = nil
			}
			continue
		}
		if current == nil {
			current = &block{header: line}
		} else {
			current.lines = append(current.lines, line)
		}
	}

	if ctx.Err() != nil {
		return
	}
	slog.Warn("router connection lost", "host", d.host, "error", scanner.Err())
	d.mu.Lock()
	d.connected = false
	if d.conn == conn {
		d.conn = nil
	}
	for _, p := range d.pending {
		close(p.resolve)
	}
	d.pending = nil
	d.mu.Unlock()
	d.reconnect.Trigger(context.Background())
}

// handleBlock dispatches one block: ACK/NAK resolve the oldest
// pending write, state blocks update the caches and resolve any
// matching pending query.
func (d *Driver) handleBlock(b block) {
	header := strings.ToUpper(strings.TrimSpace(b.header))

	d.mu.Lock()
	// Resolve the oldest pending entry whose expectation matches.
	for i, p := range d.pending {
		if p.expected == header || (p.expected == "ACK" && (header == "ACK" || header == "NAK")) {
			d.pending = append(d.pending[:i:i], d.pending[i+1:]...)
			d.mu.Unlock()
			p.resolve <- b
			d.applyState(header, b.lines)
			return
		}
	}
	d.mu.Unlock()
	d.applyState(header, b.lines)
}

// applyState folds a state block into the caches.
func (d *Driver) applyState(header string, lines []string) {
	routeChanged := false

	d.mu.Lock()
	switch header {
	case "INPUT LABELS:":
		for _, l := range lines {
			if idx, rest, ok := splitIndexLine(l); ok {
				d.inputLabels[idx] = rest
			}
		}
	case "OUTPUT LABELS:":
		for _, l := range lines {
			if idx, rest, ok := splitIndexLine(l); ok {
				d.outputLabels[idx] = rest
			}
		}
	case "VIDEO OUTPUT ROUTING:":
		for _, l := range lines {
			if out, rest, ok := splitIndexLine(l); ok {
				if in, err := strconv.Atoi(rest); err == nil {
					if d.routes[out] != in {
						d.routes[out] = in
						routeChanged = true
					}
				}
			}
		}
	}
	cb := d.OnRouteChanged
	d.mu.Unlock()

	if routeChanged && cb != nil {
		cb()
	}
}

func splitIndexLine(line string) (int, string, bool) {
	parts := strings.SplitN(strings.TrimSpace(line), " ", 2)
	if len(parts) != 2 {
		return 0, "", false
	}
	idx, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", false
	}
	return idx, strings.TrimSpace(parts[1]), true
}

// query writes a bare header block and waits for the matching
// response block.
func (d *Driver) query(header string) (block, error) {
	return d.write(header, nil, strings.ToUpper(header))
}

// write sends a block and waits for the expected response.
func (d *Driver) write(header string, lines []string, expected string) (block, error) {
	d.mu.Lock()
	conn := d.conn
	if conn == nil {
		d.mu.Unlock()
		return block{}, proto.NewError(proto.KindDeviceUnreachable, "router not connected")
	}
	p := &pendingQuery{expected: expected, resolve: make(chan block, 1)}
	d.pending = append(d.pending, p)
	d.mu.Unlock()

	var sb strings.Builder
	sb.WriteString(header)
	sb.WriteString("\n")
	for _, l := range lines {
		sb.WriteString(l)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	if _, err := conn.Write([]byte(sb.String())); err != nil {
		d.removePending(p)
		return block{}, proto.WrapError(proto.KindDeviceUnreachable, err)
	}

	select {
	case b, ok := <-p.resolve:
		if !ok {
			return block{}, proto.NewError(proto.KindDeviceUnreachable, "router disconnected")
		}
		if strings.EqualFold(strings.TrimSpace(b.header), "NAK") {
			return b, proto.NewError(proto.KindDeviceUnreachable, "router rejected %q", header)
		}
		return b, nil
	case <-time.After(ackTimeout):
		d.removePending(p)
		return block{}, proto.NewError(proto.KindTimeout, "router did not answer %q", header)
	}
}

func (d *Driver) removePending(p *pendingQuery) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, q := range d.pending {
		if q == p {
			d.pending = append(d.pending[:i:i], d.pending[i+1:]...)
			return
		}
	}
}

// Route connects an input to an output.
func (d *Driver) Route(output, input int) error {
	_, err := d.write("VIDEO OUTPUT ROUTING:", []string{fmt.Sprintf("%d %d", output, input)}, "ACK")
	return err
}

// SetOutputLabel renames an output.
func (d *Driver) SetOutputLabel(output int, label string) error {
	_, err := d.write("OUTPUT LABELS:", []string{fmt.Sprintf("%d %s", output, label)}, "ACK")
	return err
}

// InputLabels returns a copy of the input label cache.
func (d *Driver) InputLabels() map[int]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[int]string, len(d.inputLabels))
	for k, v := range d.inputLabels {
		out[k] = v
	}
	return out
}

// OutputLabels returns a copy of the output label cache.
func (d *Driver) OutputLabels() map[int]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[int]string, len(d.outputLabels))
	for k, v := range d.outputLabels {
		out[k] = v
	}
	return out
}

// Routes returns a copy of the output → input routing table.
func (d *Driver) Routes() map[int]int {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[int]int, len(d.routes))
	for k, v := range d.routes {
		out[k] = v
	}
	return out
}
