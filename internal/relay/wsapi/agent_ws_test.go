package wsapi

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

	"github.com/steeplecast/steeplecast/internal/proto"
	"github.com/steeplecast/steeplecast/internal/relay/alert"
	"github.com/steeplecast/steeplecast/internal/relay/bus"
	"github.com/steeplecast/steeplecast/internal/relay/db"
	"github.com/steeplecast/steeplecast/internal/relay/dispatch"
	"github.com/steeplecast/steeplecast/internal/relay/ratelimit"
	"github.com/steeplecast/steeplecast/internal/relay/schedule"
	"github.com/steeplecast/steeplecast/internal/relay/sessionmgr"
	"github.com/steeplecast/steeplecast/internal/relay/store"
	"github.com/steeplecast/steeplecast/internal/relay/token"
	"github.com/steeplecast/steeplecast/internal/util/testutil"
)

type wsFixture struct {
	handler *Handler
	server  *httptest.Server
	store   *store.Store
	signer  *token.Signer
	rawTok  string
}

type noopNotifier struct{}

func (noopNotifier) NotifyVenue(context.Context, string, string) {}
func (noopNotifier) NotifyAdmin(context.Context, string)         {}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	sqlDB, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.Migrate(sqlDB))
	st := store.New(sqlDB)

	signer, err := token.NewSigner([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	rawTok, err := signer.Issue("ven-1", "First Church", time.Now())
	require.NoError(t, err)
	require.NoError(t, st.CreateVenue(context.Background(), &store.Venue{
		ID: "ven-1", Name: "First Church", Token: rawTok, RegistrationCode: "AAAAAA",
		RegisteredAt: time.Now(), ScheduleType: "recurring",
	}))

	sessions := sessionmgr.New()
	pending := sessionmgr.NewPendingCommands()
	disp := dispatch.New(sessions, pending, sessionmgr.NewOfflineQueue(), ratelimit.New())
	eng := schedule.New(st)
	pipeline := alert.New(st, eng, disp, noopNotifier{})
	t.Cleanup(pipeline.Shutdown)

	h := &Handler{
		Store:      st,
		Signer:     signer,
		Sessions:   sessions,
		Pending:    pending,
		Dispatcher: disp,
		Alerts:     pipeline,
		Bus:        bus.New(),
		APIKey:     "key",
		ShutdownCh: make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.Handle("/church", h.AgentHandler())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &wsFixture{handler: h, server: srv, store: st, signer: signer, rawTok: rawTok}
}

func (f *wsFixture) dial(t *testing.T, tok string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/church?token=" + tok
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	return conn
}

func readEnv(t *testing.T, conn *websocket.Conn) proto.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var env proto.Envelope
	require.NoError(t, wsjson.Read(ctx, conn, &env))
	return env
}

func TestAgentAttachHandshake(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t, f.rawTok)
	defer conn.CloseNow()

	hello := readEnv(t, conn)
	require.Equal(t, proto.TypeConnected, hello.Type)
	require.Equal(t, "ven-1", hello.VenueID)
	require.Equal(t, "First Church", hello.Name)

	testutil.RequireEventually(t, func() bool {
		return f.handler.Sessions.IsOnline("ven-1")
	})
}

func TestAgentAttachBadToken(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t, "garbage")
	defer conn.CloseNow()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var env proto.Envelope
	err := wsjson.Read(ctx, conn, &env)
	require.Error(t, err, "invalid token must close the socket")
	require.False(t, f.handler.Sessions.IsOnline("ven-1"))
}

func TestCommandRoundTrip(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t, f.rawTok)
	defer conn.CloseNow()
	readEnv(t, conn) // connected

	testutil.RequireEventually(t, func() bool {
		return f.handler.Sessions.IsOnline("ven-1")
	})

	// Inject a command, answer it from the fake agent, observe the
	// correlated result.
	type outcome struct {
		result *proto.Envelope
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		res, err := f.handler.Dispatcher.SendAndAwait(ctx, "ven-1", "switcher.cut", map[string]any{"me": float64(0)})
		done <- outcome{res, err}
	}()

	cmd := readEnv(t, conn)
	require.Equal(t, proto.TypeCommand, cmd.Type)
	require.Equal(t, "switcher.cut", cmd.Command)
	require.NotEmpty(t, cmd.ID)

	wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(wctx, conn, proto.Envelope{
		Type: proto.TypeCommandResult, ID: cmd.ID, Command: cmd.Command,
		Result: []byte(`"Cut executed"`),
	}))

	got := <-done
	require.NoError(t, got.err)
	require.JSONEq(t, `"Cut executed"`, string(got.result.Result))
}

func TestReplacedSession(t *testing.T) {
	f := newWSFixture(t)

	first := f.dial(t, f.rawTok)
	defer first.CloseNow()
	readEnv(t, first)

	second := f.dial(t, f.rawTok)
	defer second.CloseNow()
	readEnv(t, second)

	// The first socket is closed with reason "replaced".
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var env proto.Envelope
	err := wsjson.Read(ctx, first, &env)
	require.Error(t, err)

	// Exactly one live session remains.
	require.Equal(t, 1, f.handler.Sessions.Count())
}

func TestStatusUpdateStoredAndPing(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t, f.rawTok)
	defer conn.CloseNow()
	readEnv(t, conn)

	wctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, wsjson.Write(wctx, conn, proto.Envelope{
		Type: proto.TypeStatusUpdate,
		Status: &proto.Snapshot{
			Streamer: &proto.StreamerStatus{Connected: true, Streaming: true, Bitrate: 4500},
		},
	}))

	testutil.RequireEventually(t, func() bool {
		sess := f.handler.Sessions.Get("ven-1")
		return sess != nil && sess.Snapshot() != nil && sess.Snapshot().Streamer.Bitrate == 4500
	})

	require.NoError(t, wsjson.Write(wctx, conn, proto.Envelope{Type: proto.TypePing}))
	pong := readEnv(t, conn)
	require.Equal(t, proto.TypePong, pong.Type)
}

func TestQueuedCommandDeliveredOnReattach(t *testing.T) {
	f := newWSFixture(t)

	// Connect and drop.
	conn := f.dial(t, f.rawTok)
	readEnv(t, conn)
	testutil.RequireEventually(t, func() bool { return f.handler.Sessions.IsOnline("ven-1") })
	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	testutil.RequireEventually(t, func() bool { return !f.handler.Sessions.IsOnline("ven-1") })

	// Command while briefly offline queues.
	res, err := f.handler.Dispatcher.Send("ven-1", "switcher.cut", nil)
	require.NoError(t, err)
	require.True(t, res.Queued)

	// Reattach: the queued command arrives after the hello.
	conn2 := f.dial(t, f.rawTok)
	defer conn2.CloseNow()
	hello := readEnv(t, conn2)
	require.Equal(t, proto.TypeConnected, hello.Type)

	cmd := readEnv(t, conn2)
	require.Equal(t, proto.TypeCommand, cmd.Type)
	require.Equal(t, res.ID, cmd.ID)
}
