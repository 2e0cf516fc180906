package alert

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/steeplecast/steeplecast/internal/proto"
	"github.com/steeplecast/steeplecast/internal/relay/db"
	"github.com/steeplecast/steeplecast/internal/relay/store"
)

type fakeWindows struct{ in bool }

func (f *fakeWindows) InWindow(context.Context, string) bool { return f.in }

type fakeNotifier struct {
	mu    sync.Mutex
	venue []string
	admin []string
}

func (f *fakeNotifier) NotifyVenue(_ context.Context, _ string, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.venue = append(f.venue, text)
}

func (f *fakeNotifier) NotifyAdmin(_ context.Context, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.admin = append(f.admin, text)
}

func (f *fakeNotifier) venueCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.venue)
}

func (f *fakeNotifier) adminCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.admin)
}

type fakeRecoverer struct {
	mu    sync.Mutex
	calls []string
	fail  bool
}

func (f *fakeRecoverer) SendAndAwait(_ context.Context, venueID, command string, _ map[string]any) (*proto.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, venueID+":"+command)
	if f.fail {
		return &proto.Envelope{Error: "device unreachable"}, nil
	}
	return &proto.Envelope{Result: []byte(`"ok"`)}, nil
}

func newTestPipeline(t *testing.T, windows *fakeWindows) (*Pipeline, *store.Store, *fakeNotifier, *fakeRecoverer) {
	t.Helper()
	sqlDB, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.Migrate(sqlDB))
	st := store.New(sqlDB)

	require.NoError(t, st.CreateVenue(context.Background(), &store.Venue{
		ID: "ven-1", Name: "First Church", Token: "tok", RegistrationCode: "AAAAAA",
		RegisteredAt: time.Now(), ScheduleType: "recurring",
	}))

	notifier := &fakeNotifier{}
	rec := &fakeRecoverer{}
	p := New(st, windows, rec, notifier)
	t.Cleanup(p.Shutdown)
	return p, st, notifier, rec
}

func TestClassifyTable(t *testing.T) {
	require.Equal(t, KindInfo, Classify("stream_started"))
	require.Equal(t, KindWarning, Classify("fps_low"))
	require.Equal(t, KindCritical, Classify("stream_stopped"))
	require.Equal(t, KindEmergency, Classify("multiple_systems_down"))
	require.Equal(t, KindWarning, Classify("something_novel"))
}

func TestProcessNotifiesInWindow(t *testing.T) {
	p, _, notifier, _ := newTestPipeline(t, &fakeWindows{in: true})

	a, err := p.Process(context.Background(), "ven-1", &proto.Envelope{
		Type: proto.TypeAlert, AlertType: "stream_stopped", Severity: "critical",
		Message: "encoder dropped",
	})
	require.NoError(t, err)
	require.Equal(t, "critical", a.Kind)
	require.Equal(t, 1, notifier.venueCount())
	require.Contains(t, notifier.venue[0], "/ack_"+a.ID[:8])
	require.Contains(t, notifier.venue[0], "Likely cause")
}

func TestProcessGatedOutsideWindow(t *testing.T) {
	p, st, notifier, _ := newTestPipeline(t, &fakeWindows{in: false})

	a, err := p.Process(context.Background(), "ven-1", &proto.Envelope{
		Type: proto.TypeAlert, AlertType: "stream_stopped",
	})
	require.NoError(t, err)
	require.Zero(t, notifier.venueCount(), "non-emergency outside window is logged only")

	// Still persisted.
	got, err := st.GetAlert(context.Background(), a.ID)
	require.NoError(t, err)
	require.Equal(t, "stream_stopped", got.Type)
}

func TestEmergencyBypassesGateAndCopiesAdmin(t *testing.T) {
	p, _, notifier, _ := newTestPipeline(t, &fakeWindows{in: false})

	_, err := p.Process(context.Background(), "ven-1", &proto.Envelope{
		Type: proto.TypeAlert, AlertType: "multiple_systems_down",
	})
	require.NoError(t, err)
	require.Equal(t, 1, notifier.venueCount())
	require.Equal(t, 1, notifier.adminCount())
}

func TestAutoRecoveryMarksResolved(t *testing.T) {
	p, st, _, rec := newTestPipeline(t, &fakeWindows{in: true})

	a, err := p.Process(context.Background(), "ven-1", &proto.Envelope{
		Type: proto.TypeAlert, AlertType: "bitrate_low",
	})
	require.NoError(t, err)
	rec.mu.Lock()
	require.Equal(t, []string{"ven-1:streamer.reduceBitrate"}, rec.calls)
	rec.mu.Unlock()

	got, err := st.GetAlert(context.Background(), a.ID)
	require.NoError(t, err)
	require.True(t, got.AutoResolved)
}

func TestAutoRecoveryFailureNotResolved(t *testing.T) {
	p, st, _, rec := newTestPipeline(t, &fakeWindows{in: true})
	rec.fail = true

	a, err := p.Process(context.Background(), "ven-1", &proto.Envelope{
		Type: proto.TypeAlert, AlertType: "bitrate_low",
	})
	require.NoError(t, err)
	got, err := st.GetAlert(context.Background(), a.ID)
	require.NoError(t, err)
	require.False(t, got.AutoResolved)
}

func TestAcknowledgeCancelsEscalation(t *testing.T) {
	p, st, notifier, _ := newTestPipeline(t, &fakeWindows{in: true})

	a, err := p.Process(context.Background(), "ven-1", &proto.Envelope{
		Type: proto.TypeAlert, AlertType: "stream_stopped",
	})
	require.NoError(t, err)

	// Timer armed.
	p.mu.Lock()
	require.Len(t, p.escalations, 1)
	p.mu.Unlock()

	acked, err := p.AcknowledgeByPrefix(context.Background(), a.ID[:8], "pat")
	require.NoError(t, err)
	require.Equal(t, a.ID, acked.ID)

	p.mu.Lock()
	require.Empty(t, p.escalations)
	p.mu.Unlock()
	require.Zero(t, notifier.adminCount())

	got, err := st.GetAlert(context.Background(), a.ID)
	require.NoError(t, err)
	require.Equal(t, "pat", got.AcknowledgedBy)
	require.False(t, got.Escalated)
}

func TestEscalationFires(t *testing.T) {
	p, st, notifier, _ := newTestPipeline(t, &fakeWindows{in: true})

	a, err := p.Process(context.Background(), "ven-1", &proto.Envelope{
		Type: proto.TypeAlert, AlertType: "stream_stopped",
	})
	require.NoError(t, err)

	// Fire the timer body directly instead of waiting 90s.
	p.cancelEscalation(a.ID)
	p.escalate(a.ID, "ven-1", "text")

	require.Equal(t, 1, notifier.adminCount())
	got, err := st.GetAlert(context.Background(), a.ID)
	require.NoError(t, err)
	require.True(t, got.Escalated)
}
