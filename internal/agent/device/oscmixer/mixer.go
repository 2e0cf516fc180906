package oscmixer

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/steeplecast/steeplecast/internal/agent/device"
	"github.com/steeplecast/steeplecast/internal/proto"
)

// MixerDriver is the capability surface shared by all console
// families. Methods a family cannot reliably implement succeed
// vacuously and log a capability warning.
type MixerDriver interface {
	device.Driver

	MuteChannel(ch int) error
	UnmuteChannel(ch int) error
	SetFader(ch int, level float64) error
	MuteMain() error
	UnmuteMain() error
	SetMainFader(level float64) error
}

// Family ports.
const (
	portFamilyA = 10023 // Behringer/Midas
	portFamilyB = 51326 // Allen & Heath
	portFamilyC = 8765  // Yamaha OSC bridge
)

// subscribeInterval re-arms family A's /xremote subscription, which
// the console expires after 10 seconds.
const subscribeInterval = 9 * time.Second

// NewDriver builds the family-specific driver for the config type.
func NewDriver(mixerType, host string, port int) (MixerDriver, error) {
	base := &udpMixer{mixerType: mixerType, host: host, port: port}
	switch mixerType {
	case "behringer", "midas":
		if base.port == 0 {
			base.port = portFamilyA
		}
		return &familyA{udpMixer: base}, nil
	case "allenheath":
		if base.port == 0 {
			base.port = portFamilyB
		}
		return &familyB{udpMixer: base}, nil
	case "yamaha":
		if base.port == 0 {
			base.port = portFamilyC
		}
		return &familyC{udpMixer: base}, nil
	default:
		return nil, proto.NewError(proto.KindInvalidParams, "unknown mixer type %q", mixerType)
	}
}

// udpMixer holds the shared UDP transport and cached main-bus state.
type udpMixer struct {
	mixerType string
	host      string
	port      int

	mu        sync.Mutex
	conn      *net.UDPConn
	connected bool
	mainMuted bool
	mainFader float64

	subCancel context.CancelFunc
}

func (m *udpMixer) Name() string { return "mixer" }

func (m *udpMixer) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.connected {
		return nil
	}

	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(m.host, strconv.Itoa(m.port)))
	if err != nil {
		return fmt.Errorf("resolve mixer address: %w", err)
	}
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return fmt.Errorf("dial mixer: %w", err)
	}
	m.conn = conn
	m.connected = true
	return nil
}

func (m *udpMixer) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subCancel != nil {
		m.subCancel()
		m.subCancel = nil
	}
	if m.conn != nil {
		_ = m.conn.Close()
		m.conn = nil
	}
	m.connected = false
}

// IsReachable sends a probe datagram. UDP has no handshake, so a
// successful local write is the best cheap signal available.
func (m *udpMixer) IsReachable(ctx context.Context) bool {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return false
	}
	msg := oscMessage{addr: "/info"}
	data, err := msg.encode()
	if err != nil {
		return false
	}
	_, err = conn.Write(data)
	return err == nil
}

func (m *udpMixer) Status() any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &proto.MixerStatus{
		Connected: m.connected,
		Type:      m.mixerType,
		MainMuted: m.mainMuted,
		MainFader: m.mainFader,
	}
}

func (m *udpMixer) send(msg oscMessage) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return proto.NewError(proto.KindDeviceUnreachable, "mixer not connected")
	}
	data, err := msg.encode()
	if err != nil {
		return proto.WrapError(proto.KindInternal, err)
	}
	if _, err := conn.Write(data); err != nil {
		return proto.WrapError(proto.KindDeviceUnreachable, err)
	}
	return nil
}

func (m *udpMixer) setMainState(muted bool, fader float64, faderSet bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mainMuted = muted
	if faderSet {
		m.mainFader = fader
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// familyA is the Behringer/Midas dialect: 2-digit channel indexes,
// mute semantics "1 = active" (so muting sends 0), and an /xremote
// subscription that must be refreshed every 9 seconds.
type familyA struct {
	*udpMixer
}

func (f *familyA) Connect(ctx context.Context) error {
	if err := f.udpMixer.Connect(ctx); err != nil {
		return err
	}

	subCtx, cancel := context.WithCancel(context.Background())
	f.mu.Lock()
	if f.subCancel != nil {
		f.subCancel()
	}
	f.subCancel = cancel
	f.mu.Unlock()

	go f.subscribeLoop(subCtx)
	return nil
}

func (f *familyA) subscribeLoop(ctx context.Context) {
	ticker := time.NewTicker(subscribeInterval)
	defer ticker.Stop()

	_ = f.send(oscMessage{addr: "/xremote"})
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.send(oscMessage{addr: "/xremote"}); err != nil {
				slog.Debug("mixer subscription refresh failed", "error", err)
			}
		}
	}
}

func (f *familyA) channelAddr(ch int, leaf string) string {
	return fmt.Sprintf("/ch/%02d/mix/%s", ch, leaf)
}

func (f *familyA) MuteChannel(ch int) error {
	// "on" carries 1 = active, so mute sends 0.
	return f.send(oscMessage{addr: f.channelAddr(ch, "on"), args: []any{int32(0)}})
}

func (f *familyA) UnmuteChannel(ch int) error {
	return f.send(oscMessage{addr: f.channelAddr(ch, "on"), args: []any{int32(1)}})
}

func (f *familyA) SetFader(ch int, level float64) error {
	return f.send(oscMessage{addr: f.channelAddr(ch, "fader"), args: []any{float32(clamp01(level))}})
}

func (f *familyA) MuteMain() error {
	if err := f.send(oscMessage{addr: "/main/st/mix/on", args: []any{int32(0)}}); err != nil {
		return err
	}
	f.setMainState(true, 0, false)
	return nil
}

func (f *familyA) UnmuteMain() error {
	if err := f.send(oscMessage{addr: "/main/st/mix/on", args: []any{int32(1)}}); err != nil {
		return err
	}
	f.setMainState(false, 0, false)
	return nil
}

func (f *familyA) SetMainFader(level float64) error {
	level = clamp01(level)
	if err := f.send(oscMessage{addr: "/main/st/mix/fader", args: []any{float32(level)}}); err != nil {
		return err
	}
	f.mu.Lock()
	f.mainFader = level
	f.mu.Unlock()
	return nil
}

// familyB is the Allen & Heath dialect. Its mute value is inverted
// relative to family A: "1 = muted". The driver normalises so
// MuteChannel always mutes.
type familyB struct {
	*udpMixer
}

func (f *familyB) channelAddr(ch int, leaf string) string {
	return fmt.Sprintf("/ip/%d/%s", ch, leaf)
}

func (f *familyB) MuteChannel(ch int) error {
	return f.send(oscMessage{addr: f.channelAddr(ch, "mute"), args: []any{int32(1)}})
}

func (f *familyB) UnmuteChannel(ch int) error {
	return f.send(oscMessage{addr: f.channelAddr(ch, "mute"), args: []any{int32(0)}})
}

func (f *familyB) SetFader(ch int, level float64) error {
	return f.send(oscMessage{addr: f.channelAddr(ch, "fader"), args: []any{float32(clamp01(level))}})
}

func (f *familyB) MuteMain() error {
	if err := f.send(oscMessage{addr: "/mix/mute", args: []any{int32(1)}}); err != nil {
		return err
	}
	f.setMainState(true, 0, false)
	return nil
}

func (f *familyB) UnmuteMain() error {
	if err := f.send(oscMessage{addr: "/mix/mute", args: []any{int32(0)}}); err != nil {
		return err
	}
	f.setMainState(false, 0, false)
	return nil
}

func (f *familyB) SetMainFader(level float64) error {
	level = clamp01(level)
	if err := f.send(oscMessage{addr: "/mix/fader", args: []any{float32(level)}}); err != nil {
		return err
	}
	f.mu.Lock()
	f.mainFader = level
	f.mu.Unlock()
	return nil
}

// familyC is the Yamaha bridge: partial capability. Channel mutes
// and the main fader work; anything else succeeds vacuously with a
// capability warning so a command chain never fails on this console.
type familyC struct {
	*udpMixer
}

func (f *familyC) MuteChannel(ch int) error {
	return f.send(oscMessage{addr: fmt.Sprintf("/yosc/in/%d/on", ch), args: []any{int32(0)}})
}

func (f *familyC) UnmuteChannel(ch int) error {
	return f.send(oscMessage{addr: fmt.Sprintf("/yosc/in/%d/on", ch), args: []any{int32(1)}})
}

func (f *familyC) SetFader(ch int, level float64) error {
	slog.Warn("mixer capability not implemented, ignoring", "type", f.mixerType, "op", "setFader")
	return nil
}

func (f *familyC) MuteMain() error {
	slog.Warn("mixer capability not implemented, ignoring", "type", f.mixerType, "op", "muteMain")
	return nil
}

func (f *familyC) UnmuteMain() error {
	slog.Warn("mixer capability not implemented, ignoring", "type", f.mixerType, "op", "unmuteMain")
	return nil
}

func (f *familyC) SetMainFader(level float64) error {
	level = clamp01(level)
	if err := f.send(oscMessage{addr: "/yosc/main/fader", args: []any{float32(level)}}); err != nil {
		return err
	}
	f.mu.Lock()
	f.mainFader = level
	f.mu.Unlock()
	return nil
}
