package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/steeplecast/steeplecast/internal/proto"
	"github.com/steeplecast/steeplecast/internal/relay/alert"
	"github.com/steeplecast/steeplecast/internal/relay/bus"
	"github.com/steeplecast/steeplecast/internal/relay/db"
	"github.com/steeplecast/steeplecast/internal/relay/dispatch"
	"github.com/steeplecast/steeplecast/internal/relay/oncall"
	"github.com/steeplecast/steeplecast/internal/relay/ratelimit"
	"github.com/steeplecast/steeplecast/internal/relay/schedule"
	"github.com/steeplecast/steeplecast/internal/relay/sessionmgr"
	"github.com/steeplecast/steeplecast/internal/relay/store"
	"github.com/steeplecast/steeplecast/internal/relay/token"
)

const testKey = "test-api-key"

type apiFixture struct {
	handler  *Handler
	server   *httptest.Server
	store    *store.Store
	sessions *sessionmgr.Manager
}

type nullNotifier struct{}

func (nullNotifier) NotifyVenue(context.Context, string, string) {}
func (nullNotifier) NotifyAdmin(context.Context, string)         {}

func newFixture(t *testing.T) *apiFixture {
	t.Helper()
	sqlDB, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.Migrate(sqlDB))
	st := store.New(sqlDB)

	signer, err := token.NewSigner([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	sessions := sessionmgr.New()
	pending := sessionmgr.NewPendingCommands()
	disp := dispatch.New(sessions, pending, sessionmgr.NewOfflineQueue(), ratelimit.New())
	eng := schedule.New(st)
	pipeline := alert.New(st, eng, disp, nullNotifier{})
	t.Cleanup(pipeline.Shutdown)

	h := &Handler{
		Store:      st,
		Signer:     signer,
		Sessions:   sessions,
		Dispatcher: disp,
		Alerts:     pipeline,
		OnCall:     oncall.New(st),
		Schedule:   eng,
		Bus:        bus.New(),
		APIKey:     testKey,
		StartedAt:  time.Now(),
	}
	mux := http.NewServeMux()
	h.Routes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &apiFixture{handler: h, server: srv, store: st, sessions: sessions}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, f.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("x-api-key", testKey)
	resp, err := f.server.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.server.URL + "/api/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestRegisterVenueAndDuplicate(t *testing.T) {
	f := newFixture(t)

	resp := f.do(t, "POST", "/api/venues/register", map[string]string{"name": "First Church"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	require.NotEmpty(t, body["venueId"])
	require.NotEmpty(t, body["token"])
	require.Len(t, body["registrationCode"], 6)

	// Re-registering the same name conflicts and changes nothing.
	resp = f.do(t, "POST", "/api/venues/register", map[string]string{"name": "First Church"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	again := decodeBody(t, resp)
	require.Equal(t, body["venueId"], again["venueId"])
}

func TestCommandToOnlineVenue(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, "POST", "/api/venues/register", map[string]string{"name": "First Church"})
	venueID := decodeBody(t, resp)["venueId"].(string)

	received := make(chan *proto.Envelope, 8)
	sess := sessionmgr.NewSession(venueID, "First Church", nil)
	sess.SendFn = func(env *proto.Envelope) error {
		received <- env
		return nil
	}
	f.sessions.Attach(sess)

	resp = f.do(t, "POST", "/api/command", map[string]any{
		"venueId": venueID, "command": "switcher.cut", "params": map[string]any{"me": 0},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	require.Equal(t, true, body["sent"])
	require.NotEmpty(t, body["id"])

	env := <-received
	require.Equal(t, "switcher.cut", env.Command)
	require.Equal(t, body["id"], env.ID)
}

func TestCommandOfflineVenue503(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, "POST", "/api/venues/register", map[string]string{"name": "First Church"})
	venueID := decodeBody(t, resp)["venueId"].(string)

	resp = f.do(t, "POST", "/api/command", map[string]any{
		"venueId": venueID, "command": "switcher.cut",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestCommandRateLimit429(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, "POST", "/api/venues/register", map[string]string{"name": "First Church"})
	venueID := decodeBody(t, resp)["venueId"].(string)

	sess := sessionmgr.NewSession(venueID, "First Church", nil)
	sess.SendFn = func(*proto.Envelope) error { return nil }
	f.sessions.Attach(sess)

	statuses := map[int]int{}
	for i := 0; i < 12; i++ {
		resp := f.do(t, "POST", "/api/command", map[string]any{
			"venueId": venueID, "command": "switcher.cut",
		})
		statuses[resp.StatusCode]++
		resp.Body.Close()
	}
	require.Equal(t, 10, statuses[http.StatusOK])
	require.Equal(t, 2, statuses[http.StatusTooManyRequests])
}

func TestUnknownVenue404(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, "POST", "/api/command", map[string]any{
		"venueId": "nope", "command": "switcher.cut",
	})
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestScheduleValidation(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, "POST", "/api/venues/register", map[string]string{"name": "First Church"})
	venueID := decodeBody(t, resp)["venueId"].(string)

	resp = f.do(t, "PUT", "/api/venues/"+venueID+"/schedule", map[string]any{
		"serviceTimes": []map[string]any{{"dayOfWeek": 0, "startHour": 10, "startMin": 0, "durationHours": 2}},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = f.do(t, "PUT", "/api/venues/"+venueID+"/schedule", map[string]any{
		"serviceTimes": []map[string]any{{"dayOfWeek": 9, "startHour": 10, "startMin": 0, "durationHours": 2}},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestAcknowledgeAlert(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, "POST", "/api/venues/register", map[string]string{"name": "First Church"})
	venueID := decodeBody(t, resp)["venueId"].(string)

	a := &store.Alert{
		ID: "11112222-3333-4444-5555-666677778888", VenueID: venueID,
		Kind: "critical", Type: "stream_stopped", CreatedAt: time.Now(),
	}
	require.NoError(t, f.store.CreateAlert(context.Background(), a))

	resp = f.do(t, "POST", "/api/alerts/"+a.ID+"/acknowledge", map[string]string{"responder": "admin"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	require.Equal(t, true, body["acknowledged"])

	got, err := f.store.GetAlert(context.Background(), a.ID)
	require.NoError(t, err)
	require.Equal(t, "admin", got.AcknowledgedBy)
}

func TestDeleteVenueClosesSession(t *testing.T) {
	f := newFixture(t)
	resp := f.do(t, "POST", "/api/venues/register", map[string]string{"name": "First Church"})
	venueID := decodeBody(t, resp)["venueId"].(string)

	sess := sessionmgr.NewSession(venueID, "First Church", nil)
	sess.SendFn = func(*proto.Envelope) error { return nil }
	f.sessions.Attach(sess)

	resp = f.do(t, "DELETE", "/api/venues/"+venueID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	select {
	case <-sess.Done():
	case <-time.After(time.Second):
		t.Fatal("session not closed on venue delete")
	}
}
