package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/steeplecast/steeplecast/internal/proto"
	"github.com/steeplecast/steeplecast/internal/relay/ratelimit"
	"github.com/steeplecast/steeplecast/internal/relay/sessionmgr"
)

func newTestDispatcher() (*Dispatcher, *sessionmgr.Manager) {
	sessions := sessionmgr.New()
	return New(sessions, sessionmgr.NewPendingCommands(), sessionmgr.NewOfflineQueue(), ratelimit.New()), sessions
}

func attachCapture(t *testing.T, m *sessionmgr.Manager, venueID string) chan *proto.Envelope {
	t.Helper()
	received := make(chan *proto.Envelope, 32)
	sess := sessionmgr.NewSession(venueID, "Test Venue", nil)
	sess.SendFn = func(env *proto.Envelope) error {
		received <- env
		return nil
	}
	m.Attach(sess)
	return received
}

func TestSendOnline(t *testing.T) {
	d, sessions := newTestDispatcher()
	received := attachCapture(t, sessions, "ven-1")

	res, err := d.Send("ven-1", "switcher.cut", map[string]any{"me": float64(0)})
	require.NoError(t, err)
	require.True(t, res.Sent)
	require.NotEmpty(t, res.ID)

	env := <-received
	require.Equal(t, proto.TypeCommand, env.Type)
	require.Equal(t, "switcher.cut", env.Command)
	require.Equal(t, res.ID, env.ID)
}

func TestSendAndAwaitCorrelation(t *testing.T) {
	d, sessions := newTestDispatcher()
	received := attachCapture(t, sessions, "ven-1")

	go func() {
		env := <-received
		d.pending.Complete("ven-1", &proto.Envelope{
			Type:   proto.TypeCommandResult,
			ID:     env.ID,
			Result: []byte(`"Cut executed"`),
		})
	}()

	res, err := d.SendAndAwait(context.Background(), "ven-1", "switcher.cut", nil)
	require.NoError(t, err)
	require.JSONEq(t, `"Cut executed"`, string(res.Result))
}

func TestSendOfflineWithinGraceQueues(t *testing.T) {
	d, sessions := newTestDispatcher()
	sess := sessionmgr.NewSession("ven-1", "Test Venue", nil)
	sess.SendFn = func(*proto.Envelope) error { return nil }
	sessions.Attach(sess)
	require.True(t, sessions.Detach(sess))

	res, err := d.Send("ven-1", "switcher.cut", nil)
	require.NoError(t, err)
	require.False(t, res.Sent)
	require.True(t, res.Queued)
}

func TestSendOfflinePastGraceUnavailable(t *testing.T) {
	d, sessions := newTestDispatcher()
	sess := sessionmgr.NewSession("ven-1", "Test Venue", nil)
	sess.SendFn = func(*proto.Envelope) error { return nil }
	sessions.Attach(sess)
	require.True(t, sessions.Detach(sess))

	d.now = func() time.Time { return time.Now().Add(31 * time.Second) }
	_, err := d.Send("ven-1", "switcher.cut", nil)
	require.Error(t, err)
	require.Equal(t, proto.KindServiceUnavailable, proto.KindOf(err))
}

func TestSendNeverConnectedUnavailable(t *testing.T) {
	d, _ := newTestDispatcher()
	_, err := d.Send("ven-1", "switcher.cut", nil)
	require.Equal(t, proto.KindServiceUnavailable, proto.KindOf(err))
}

func TestRateLimitTwelveCommands(t *testing.T) {
	d, sessions := newTestDispatcher()
	attachCapture(t, sessions, "ven-1")

	ok, limited := 0, 0
	for i := 0; i < 12; i++ {
		_, err := d.Send("ven-1", "switcher.cut", nil)
		switch {
		case err == nil:
			ok++
		case proto.KindOf(err) == proto.KindRateLimited:
			limited++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 10, ok)
	require.Equal(t, 2, limited)
}

func TestDrainQueuedOnReattach(t *testing.T) {
	d, sessions := newTestDispatcher()
	sess := sessionmgr.NewSession("ven-1", "Test Venue", nil)
	sess.SendFn = func(*proto.Envelope) error { return nil }
	sessions.Attach(sess)
	require.True(t, sessions.Detach(sess))

	res, err := d.Send("ven-1", "switcher.cut", nil)
	require.NoError(t, err)
	require.True(t, res.Queued)

	received := attachCapture(t, sessions, "ven-1")
	require.Equal(t, 1, d.DrainQueued("ven-1"))
	env := <-received
	require.Equal(t, "switcher.cut", env.Command)
	require.Equal(t, res.ID, env.ID)
}

func TestBroadcast(t *testing.T) {
	d, sessions := newTestDispatcher()
	r1 := attachCapture(t, sessions, "ven-1")
	r2 := attachCapture(t, sessions, "ven-2")

	res := d.Broadcast("system.preServiceCheck", nil)
	require.Equal(t, 2, res.Sent)
	require.Equal(t, 2, res.Total)

	e1, e2 := <-r1, <-r2
	require.NotEqual(t, e1.ID, e2.ID, "broadcast must mint a fresh id per venue")
}
