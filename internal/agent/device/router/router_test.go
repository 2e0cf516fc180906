package router

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/steeplecast/steeplecast/internal/proto"
)

func TestSplitIndexLine(t *testing.T) {
	idx, rest, ok := splitIndexLine("3 Pulpit Cam")
	require.True(t, ok)
	require.Equal(t, 3, idx)
	require.Equal(t, "Pulpit Cam", rest)

	_, _, ok = splitIndexLine("garbage")
	require.False(t, ok)
}

func TestApplyStateBlocks(t *testing.T) {
	d := New("10.0.0.30", 0, "main")
	var routeEvents int
	d.OnRouteChanged = func() { routeEvents++ }

	d.applyState("INPUT LABELS:", []string{"0 Cam 1", "1 Cam 2"})
	d.applyState("OUTPUT LABELS:", []string{"0 Projector"})
	d.applyState("VIDEO OUTPUT ROUTING:", []string{"0 1", "1 0"})
	d.applyState("VIDEO OUTPUT ROUTING:", []string{"0 1"}) // no change

	require.Equal(t, map[int]string{0: "Cam 1", 1: "Cam 2"}, d.InputLabels())
	require.Equal(t, map[int]string{0: "Projector"}, d.OutputLabels())
	require.Equal(t, map[int]int{0: 1, 1: 0}, d.Routes())
	require.Equal(t, 1, routeEvents, "unchanged routing must not fire the event")
}

func TestHandleBlockResolvesOldestPending(t *testing.T) {
	d := New("10.0.0.30", 0, "main")

	first := &pendingQuery{expected: "INPUT LABELS:", resolve: make(chan block, 1)}
	second := &pendingQuery{expected: "INPUT LABELS:", resolve: make(chan block, 1)}
	d.pending = []*pendingQuery{first, second}

	d.handleBlock(block{header: "INPUT LABELS:", lines: []string{"0 Cam 1"}})

	select {
	case b := <-first.resolve:
		require.Equal(t, "INPUT LABELS:", b.header)
	default:
		t.Fatal("oldest pending not resolved")
	}
	select {
	case <-second.resolve:
		t.Fatal("second pending must stay queued")
	default:
	}
}

func TestNAKResolvesAckWaiter(t *testing.T) {
	d := New("10.0.0.30", 0, "main")
	p := &pendingQuery{expected: "ACK", resolve: make(chan block, 1)}
	d.pending = []*pendingQuery{p}

	d.handleBlock(block{header: "NAK"})
	b := <-p.resolve
	require.Equal(t, "NAK", b.header)
}

func TestWriteNotConnected(t *testing.T) {
	d := New("10.0.0.30", 0, "main")
	err := d.Route(0, 1)
	require.Error(t, err)
	require.Equal(t, proto.KindDeviceUnreachable, proto.KindOf(err))
}

// TestRouteAgainstFakeRouter exercises the full write/ACK cycle over
// a real socket.
func TestRouteAgainstFakeRouter(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 1024)
		// Consume the three rehydrate queries plus the route write,
		// answering everything with ACK + routing.
		for i := 0; i < 4; i++ {
			if _, err := conn.Read(buf); err != nil {
				return
			}
			_, _ = conn.Write([]byte("ACK\n\nVIDEO OUTPUT ROUTING:\n2 7\n\n"))
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	d := New("127.0.0.1", addr.Port, "main")
	require.NoError(t, d.Connect(t.Context()))
	defer d.Disconnect()

	// Allow rehydrate queries to settle.
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, d.Route(2, 7))
	require.Eventually(t, func() bool {
		return d.Routes()[2] == 7
	}, time.Second, 10*time.Millisecond)
}
