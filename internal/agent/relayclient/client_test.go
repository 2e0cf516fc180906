package relayclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/require"

	"github.com/steeplecast/steeplecast/internal/agent/command"
	"github.com/steeplecast/steeplecast/internal/agent/config"
	"github.com/steeplecast/steeplecast/internal/agent/core"
	"github.com/steeplecast/steeplecast/internal/proto"
)

func TestWSURL(t *testing.T) {
	c := New("https://relay.example", "tok-123", nil, nil)
	u, err := c.wsURL()
	require.NoError(t, err)
	require.Equal(t, "wss://relay.example/church?token=tok-123", u)

	c = New("ws://localhost:4810", "t", nil, nil)
	u, err = c.wsURL()
	require.NoError(t, err)
	require.Equal(t, "ws://localhost:4810/church?token=t", u)
}

// fakeRelay accepts one agent connection, records messages, and
// sends a command.
func TestConnectSendsStatusAndAnswersCommands(t *testing.T) {
	received := make(chan proto.Envelope, 16)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/church", r.URL.Path)
		require.NotEmpty(t, r.URL.Query().Get("token"))

		conn, err := websocket.Accept(w, r, nil)
		require.NoError(t, err)
		ctx := r.Context()

		_ = wsjson.Write(ctx, conn, proto.Envelope{Type: proto.TypeConnected, VenueID: "ven-1", Name: "Test"})

		// First inbound frame must be a status_update.
		var first proto.Envelope
		require.NoError(t, wsjson.Read(ctx, conn, &first))
		received <- first

		// Inject a command and collect the result.
		_ = wsjson.Write(ctx, conn, proto.Envelope{
			Type: proto.TypeCommand, ID: "cmd-1", Command: "system.uptime",
		})
		var result proto.Envelope
		require.NoError(t, wsjson.Read(ctx, conn, &result))
		received <- result

		// Unknown command produces a typed error, not a close.
		_ = wsjson.Write(ctx, conn, proto.Envelope{
			Type: proto.TypeCommand, ID: "cmd-2", Command: "bogus.op",
		})
		var errResult proto.Envelope
		require.NoError(t, wsjson.Read(ctx, conn, &errResult))
		received <- errResult

		<-ctx.Done()
	}))
	defer srv.Close()

	agent, err := core.New(&config.Config{Token: "t", Relay: srv.URL, Name: "Test Venue"})
	require.NoError(t, err)
	client := New(srv.URL, "tok", agent, command.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = client.connect(ctx)
	}()

	status := recv(t, received)
	require.Equal(t, proto.TypeStatusUpdate, status.Type)
	require.NotNil(t, status.Status)
	require.Equal(t, "Test Venue", status.Status.System.Name)

	result := recv(t, received)
	require.Equal(t, proto.TypeCommandResult, result.Type)
	require.Equal(t, "cmd-1", result.ID)
	require.Empty(t, result.Error)
	require.Contains(t, string(result.Result), "Up ")

	errResult := recv(t, received)
	require.Equal(t, "cmd-2", errResult.ID)
	require.Contains(t, errResult.Error, "unknown command")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("client did not stop")
	}
}

func recv(t *testing.T, ch chan proto.Envelope) proto.Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
		return proto.Envelope{}
	}
}

func TestSendNotConnected(t *testing.T) {
	c := New("ws://localhost:1", "t", nil, nil)
	err := c.Send(&proto.Envelope{Type: proto.TypePing})
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "not connected"))
}
