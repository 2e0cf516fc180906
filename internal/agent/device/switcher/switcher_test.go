package switcher

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPacketRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writePacket(&buf, cmdProgramInput, []byte{0x00, 0x05, 0x00}))

	pkt, err := readPacket(&buf)
	require.NoError(t, err)
	require.Equal(t, cmdProgramInput, pkt.cmd)
	require.Equal(t, []byte{0x00, 0x05, 0x00}, pkt.payload)
}

func TestReadPacketRejectsBadLength(t *testing.T) {
	// Length prefix shorter than the header itself.
	_, err := readPacket(bytes.NewReader([]byte{0x00, 0x02, 0, 0, 'X', 'X', 'X', 'X'}))
	require.Error(t, err)
}

func TestHandlePacketUpdatesState(t *testing.T) {
	d := New("10.0.0.20")
	var changes int
	d.OnStateChanged = func() { changes++ }

	d.handlePacket(packet{cmd: cmdProgramInput, payload: []byte{0x00, 0x03, 0x00}})
	d.handlePacket(packet{cmd: cmdPreviewInput, payload: []byte{0x00, 0x07, 0x00}})
	d.handlePacket(packet{cmd: cmdStreamState, payload: []byte{1}})
	d.handlePacket(packet{cmd: cmdInputLabel, payload: append([]byte{0x00, 0x03}, []byte("Pulpit Cam\x00")...)})

	s := d.State()
	require.Equal(t, 3, s.ProgramInput)
	require.Equal(t, 7, s.PreviewInput)
	require.True(t, s.Streaming)
	require.Equal(t, "Pulpit Cam", s.InputLabels[3])
	require.Equal(t, 3, changes, "label updates do not fire stateChanged")
}

func TestClamps(t *testing.T) {
	require.Equal(t, 200*time.Millisecond, clampDuration(time.Duration(1)*time.Second/30, 200*time.Millisecond, 3*time.Second))
	require.Equal(t, 3*time.Second, clampDuration(time.Duration(250)*time.Second/30, 200*time.Millisecond, 3*time.Second))
	require.Equal(t, time.Second, clampDuration(time.Duration(30)*time.Second/30, 200*time.Millisecond, 3*time.Second))

	require.Equal(t, -1.0, clampF(-4, -1, 1))
	require.Equal(t, 0.05, clampF(0, 0.05, 1))
	require.Equal(t, 1000, clampI(5000, 0, 1000))
}

func TestCommandsRequireConnection(t *testing.T) {
	d := New("10.0.0.20")
	require.Error(t, d.Cut(0))
	require.Error(t, d.SetProgram(0, 1))
}

func TestStatusSnapshot(t *testing.T) {
	d := New("10.0.0.20")
	d.handlePacket(packet{cmd: cmdRecordState, payload: []byte{1}})
	st := d.Status()
	require.NotNil(t, st)
}
