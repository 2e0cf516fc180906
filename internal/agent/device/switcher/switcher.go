// Package switcher drives the production video switcher over its
// TCP control protocol (port 9910). The session is stateful: after
// the hello exchange the switcher pushes its full state and then a
// command block for every change.
package switcher

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/steeplecast/steeplecast/internal/agent/device"
	"github.com/steeplecast/steeplecast/internal/proto"
)

const defaultPort = 9910

// dialTimeout bounds the TCP connect.
const dialTimeout = 5 * time.Second

// State mirrors the switcher-held state the agent cares about.
type State struct {
	ProgramInput  int
	PreviewInput  int
	Recording     bool
	Streaming     bool
	InTransition  bool
	FadedToBlack  bool
	InputLabels   map[int]string
	TransitionRate int // frames, used to time auto transitions
}

// Driver is the switcher device driver.
type Driver struct {
	host string

	// OnStateChanged fires after any state subtree changes. Set
	// before Connect.
	OnStateChanged func()

	mu         sync.Mutex
	conn       net.Conn
	connected  bool
	state      State
	audioLevel int32 // raw master-audio meter value

	reconnect *device.Reconnector
	readCtx   context.CancelFunc
}

// New creates a switcher driver for the host.
func New(host string) *Driver {
	d := &Driver{
		host: host,
		state: State{
			InputLabels:    make(map[int]string),
			TransitionRate: 30,
		},
	}
	d.reconnect = device.NewReconnector("switcher", d.dial)
	return d
}

// Name implements device.Driver.
func (d *Driver) Name() string { return "switcher" }

// Connect implements device.Driver. Idempotent.
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
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(d.host, fmt.Sprint(defaultPort)))
	if err != nil {
		return fmt.Errorf("dial switcher: %w", err)
	}

	if err := writePacket(conn, cmdHello, nil); err != nil {
		_ = conn.Close()
		return fmt.Errorf("switcher hello: %w", err)
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
	return nil
}

// Disconnect implements device.Driver. Idempotent.
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
	conn, err := dialer.DialContext(probeCtx, "tcp", net.JoinHostPort(d.host, fmt.Sprint(defaultPort)))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Connected reports the live session state.
func (d *Driver) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// Status implements device.Driver.
func (d *Driver) Status() any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return &proto.SwitcherStatus{
		Connected:    d.connected,
		ProgramInput: d.state.ProgramInput,
		PreviewInput: d.state.PreviewInput,
		Recording:    d.state.Recording,
		Streaming:    d.state.Streaming,
		InTransition: d.state.InTransition,
	}
}

// MasterAudioLevel returns the raw master meter value. Negative
// values are dBFS·1000; positive values up to 32768 are linear.
func (d *Driver) MasterAudioLevel() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return float64(d.audioLevel)
}

// State returns a copy of the current switcher state.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.state
	labels := make(map[int]string, len(s.InputLabels))
	for k, v := range s.InputLabels {
		labels[k] = v
	}
	s.InputLabels = labels
	return s
}

// readLoop consumes pushed command blocks until the socket drops,
// then kicks the reconnector. Parse errors are swallowed; a corrupt
// stream tears the session down and reconnects.
func (d *Driver) readLoop(ctx context.Context, conn net.Conn) {
	for {
		pkt, err := readPacket(conn)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("switcher connection lost", "error", err)
			d.mu.Lock()
			d.connected = false
			if d.conn == conn {
				d.conn = nil
			}
			d.mu.Unlock()
			d.reconnect.Trigger(context.Background())
			return
		}
		d.handlePacket(pkt)
	}
}

func (d *Driver) handlePacket(pkt packet) {
	changed := false
	d.mu.Lock()
	switch pkt.cmd {
	case cmdProgramInput:
		d.state.ProgramInput = int(beUint16(pkt.payload))
		changed = true
	case cmdPreviewInput:
		d.state.PreviewInput = int(beUint16(pkt.payload))
		changed = true
	case cmdTransitionState:
		d.state.InTransition = len(pkt.payload) > 0 && pkt.payload[0] != 0
		changed = true
	case cmdRecordState:
		d.state.Recording = len(pkt.payload) > 0 && pkt.payload[0] != 0
		changed = true
	case cmdStreamState:
		d.state.Streaming = len(pkt.payload) > 0 && pkt.payload[0] != 0
		changed = true
	case cmdTransitionRate:
		if len(pkt.payload) >= 1 && pkt.payload[0] > 0 {
			d.state.TransitionRate = int(pkt.payload[0])
		}
	case cmdInputLabel:
		if len(pkt.payload) > 2 {
			d.state.InputLabels[int(beUint16(pkt.payload))] = cString(pkt.payload[2:])
		}
	case cmdAudioLevel:
		if len(pkt.payload) >= 4 {
			d.audioLevel = int32(beUint16(pkt.payload))<<16 | int32(beUint16(pkt.payload[2:]))
		}
	}
	cb := d.OnStateChanged
	d.mu.Unlock()

	if changed && cb != nil {
		cb()
	}
}

// send writes one command packet on the live session.
func (d *Driver) send(cmd string, payload []byte) error {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return proto.NewError(proto.KindDeviceUnreachable, "switcher not connected")
	}
	if err := writePacket(conn, cmd, payload); err != nil {
		return proto.WrapError(proto.KindDeviceUnreachable, err)
	}
	return nil
}

// Cut performs an immediate program/preview swap on the ME.
func (d *Driver) Cut(me int) error {
	return d.send(cmdCut, []byte{byte(me)})
}

// Auto runs a timed transition. Duration follows the configured
// rate: clamp(rate/30 · 1000ms, 200..3000ms).
func (d *Driver) Auto(me int) error {
	if err := d.send(cmdAuto, []byte{byte(me)}); err != nil {
		return err
	}
	d.mu.Lock()
	rate := d.state.TransitionRate
	d.state.InTransition = true
	cb := d.OnStateChanged
	d.mu.Unlock()
	if cb != nil {
		cb()
	}

	duration := clampDuration(time.Duration(rate)*time.Second/30, 200*time.Millisecond, 3*time.Second)
	time.AfterFunc(duration, func() {
		d.mu.Lock()
		d.state.InTransition = false
		cb := d.OnStateChanged
		d.mu.Unlock()
		if cb != nil {
			cb()
		}
	})
	return nil
}

// SetProgram routes an input to program.
func (d *Driver) SetProgram(me, input int) error {
	return d.send(cmdProgramInput, beUint16Bytes(input, byte(me)))
}

// SetPreview routes an input to preview.
func (d *Driver) SetPreview(me, input int) error {
	return d.send(cmdPreviewInput, beUint16Bytes(input, byte(me)))
}

// FadeToBlack toggles FTB on the ME.
func (d *Driver) FadeToBlack(me int) error {
	if err := d.send(cmdFadeToBlack, []byte{byte(me)}); err != nil {
		return err
	}
	d.mu.Lock()
	d.state.FadedToBlack = !d.state.FadedToBlack
	d.mu.Unlock()
	return nil
}

// StartRecording starts the on-device recorder.
func (d *Driver) StartRecording() error { return d.send(cmdRecordState, []byte{1}) }

// StopRecording stops the on-device recorder.
func (d *Driver) StopRecording() error { return d.send(cmdRecordState, []byte{0}) }

// StartStreaming starts the on-device encoder.
func (d *Driver) StartStreaming() error { return d.send(cmdStreamState, []byte{1}) }

// StopStreaming stops the on-device encoder.
func (d *Driver) StopStreaming() error { return d.send(cmdStreamState, []byte{0}) }

// SetInputLabel renames an input.
func (d *Driver) SetInputLabel(input int, label string) error {
	payload := append(beUint16Bytes(input, 0), []byte(label)...)
	payload = append(payload, 0)
	return d.send(cmdInputLabel, payload)
}

// RunMacro triggers a stored macro.
func (d *Driver) RunMacro(index int) error {
	return d.send(cmdMacroAction, []byte{byte(index), 0})
}

// SetUpstreamKeyer sets USK on-air state.
func (d *Driver) SetUpstreamKeyer(me, keyer int, onAir bool) error {
	return d.send(cmdUpstreamKeyer, []byte{byte(me), byte(keyer), boolByte(onAir)})
}

// SetDownstreamKeyer sets DSK on-air state.
func (d *Driver) SetDownstreamKeyer(keyer int, onAir bool) error {
	return d.send(cmdDownstreamKeyer, []byte{byte(keyer), boolByte(onAir)})
}

// SetSuperSourceBox positions one SuperSource box. Position is
// clamped to [-1,1] on both axes, size to [0.05,1].
func (d *Driver) SetSuperSourceBox(box int, enabled bool, x, y, size float64) error {
	x = clampF(x, -1, 1)
	y = clampF(y, -1, 1)
	size = clampF(size, 0.05, 1)

	payload := []byte{byte(box), boolByte(enabled)}
	payload = append(payload, beInt16Bytes(int(x*1000))...)
	payload = append(payload, beInt16Bytes(int(y*1000))...)
	payload = append(payload, beInt16Bytes(int(size*1000))...)
	return d.send(cmdSuperSource, payload)
}

// SetColorGenerator sets a color generator. Hue wraps 0..359; sat
// and luma clamp 0..1000.
func (d *Driver) SetColorGenerator(generator, hue, sat, luma int) error {
	hue = ((hue % 360) + 360) % 360
	sat = clampI(sat, 0, 1000)
	luma = clampI(luma, 0, 1000)

	payload := []byte{byte(generator)}
	payload = append(payload, beInt16Bytes(hue)...)
	payload = append(payload, beInt16Bytes(sat)...)
	payload = append(payload, beInt16Bytes(luma)...)
	return d.send(cmdColorGenerator, payload)
}

// PTZ drives a camera head. All axes clamp to [-1,1].
func (d *Driver) PTZ(camera int, pan, tilt, zoom float64) error {
	pan = clampF(pan, -1, 1)
	tilt = clampF(tilt, -1, 1)
	zoom = clampF(zoom, -1, 1)

	payload := []byte{byte(camera)}
	payload = append(payload, beInt16Bytes(int(pan*1000))...)
	payload = append(payload, beInt16Bytes(int(tilt*1000))...)
	payload = append(payload, beInt16Bytes(int(zoom*1000))...)
	return d.send(cmdPTZ, payload)
}

// SetAux routes an input to an aux output.
func (d *Driver) SetAux(aux, input int) error {
	return d.send(cmdAuxSource, beUint16Bytes(input, byte(aux)))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampI(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
