package sessionmgr

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/steeplecast/steeplecast/internal/proto"
)

func TestPendingComplete(t *testing.T) {
	p := NewPendingCommands()
	p.Register("ven-1", "cmd-1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		res, err := p.Wait(context.Background(), "ven-1", "cmd-1")
		require.NoError(t, err)
		require.Equal(t, "cmd-1", res.ID)
	}()

	require.True(t, p.Complete("ven-1", &proto.Envelope{
		Type: proto.TypeCommandResult, ID: "cmd-1",
	}))
	<-done
}

func TestPendingCompleteUnknown(t *testing.T) {
	p := NewPendingCommands()
	require.False(t, p.Complete("ven-1", &proto.Envelope{ID: "unknown"}))
}

func TestPendingCompleteExactlyOnce(t *testing.T) {
	p := NewPendingCommands()
	p.Register("ven-1", "cmd-1")

	require.True(t, p.Complete("ven-1", &proto.Envelope{ID: "cmd-1"}))
	require.False(t, p.Complete("ven-1", &proto.Envelope{ID: "cmd-1"}))
}

func TestPendingVenueScoped(t *testing.T) {
	p := NewPendingCommands()
	p.Register("ven-1", "cmd-1")

	// A result with the same id from a different venue must not match.
	require.False(t, p.Complete("ven-2", &proto.Envelope{ID: "cmd-1"}))
	require.True(t, p.Complete("ven-1", &proto.Envelope{ID: "cmd-1"}))
}

func TestPendingContextCancel(t *testing.T) {
	p := NewPendingCommands()
	p.Register("ven-1", "cmd-1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Wait(ctx, "ven-1", "cmd-1")
	require.Error(t, err)
	require.Equal(t, proto.KindTimeout, proto.KindOf(err))
}

func TestPendingShutdownDrainsWaiters(t *testing.T) {
	p := NewPendingCommands()
	p.Register("ven-1", "cmd-1")

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Wait(context.Background(), "ven-1", "cmd-1")
		errCh <- err
	}()

	// Give the waiter a moment to block, then shut down.
	time.Sleep(20 * time.Millisecond)
	p.Shutdown()

	select {
	case err := <-errCh:
		require.Error(t, err)
		require.Equal(t, proto.KindServiceUnavailable, proto.KindOf(err))
	case <-time.After(time.Second):
		t.Fatal("waiter not drained on shutdown")
	}

	// Registers after shutdown are no-ops.
	p.Register("ven-1", "cmd-2")
	require.False(t, p.Complete("ven-1", &proto.Envelope{ID: "cmd-2"}))
}
