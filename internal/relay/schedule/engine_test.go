package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/steeplecast/steeplecast/internal/relay/db"
	"github.com/steeplecast/steeplecast/internal/relay/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	sqlDB, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.Migrate(sqlDB))
	st := store.New(sqlDB)
	return New(st), st
}

// sundayAt returns a known Sunday (2026-08-02) at the given local clock time.
func sundayAt(hour, min, sec int) time.Time {
	return time.Date(2026, 8, 2, hour, min, sec, 0, time.UTC)
}

var sundayMorning = []store.ScheduleEntry{{DayOfWeek: 0, StartHour: 10, StartMin: 0, DurationHours: 2}}

func TestRecurringWindowEdges(t *testing.T) {
	require.False(t, InRecurringWindow(sundayMorning, sundayAt(9, 29, 59)))
	require.True(t, InRecurringWindow(sundayMorning, sundayAt(9, 30, 0)))
	require.True(t, InRecurringWindow(sundayMorning, sundayAt(11, 0, 0)))
	require.True(t, InRecurringWindow(sundayMorning, sundayAt(12, 30, 0)))
	require.False(t, InRecurringWindow(sundayMorning, sundayAt(12, 30, 1)))
}

func TestRecurringWindowWrongDay(t *testing.T) {
	monday := sundayAt(10, 30, 0).AddDate(0, 0, 1)
	require.False(t, InRecurringWindow(sundayMorning, monday))
}

func createVenue(t *testing.T, st *store.Store, id string, entries []store.ScheduleEntry) {
	t.Helper()
	require.NoError(t, st.CreateVenue(context.Background(), &store.Venue{
		ID: id, Name: "Venue " + id, Token: "tok", RegistrationCode: "AB" + id[:4],
		RegisteredAt: time.Now(), ScheduleType: "recurring", ServiceTimes: entries,
	}))
}

func TestTickEdgeDetection(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	createVenue(t, st, "ven001", sundayMorning)

	var opens, closes []string
	e.OnOpen(func(v string) { opens = append(opens, v) })
	e.OnClose(func(v string) { closes = append(closes, v) })

	clock := sundayAt(9, 0, 0)
	e.now = func() time.Time { return clock }

	e.Tick(ctx) // before window
	require.Empty(t, opens)

	clock = sundayAt(9, 30, 0)
	e.Tick(ctx)
	e.Tick(ctx) // no duplicate edge
	require.Equal(t, []string{"ven001"}, opens)
	require.Empty(t, closes)

	clock = sundayAt(12, 31, 0)
	e.Tick(ctx)
	require.Equal(t, []string{"ven001"}, closes)
	require.Equal(t, []string{"ven001"}, opens)
}

func TestCallbackPanicContained(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	createVenue(t, st, "ven001", sundayMorning)

	fired := false
	e.OnOpen(func(string) { panic("boom") })
	e.OnOpen(func(string) { fired = true })

	e.now = func() time.Time { return sundayAt(10, 0, 0) }
	e.Tick(ctx)
	require.True(t, fired, "second callback must run despite first panicking")
}

func TestEventVenueWindow(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	expires := sundayAt(18, 0, 0)
	require.NoError(t, st.CreateVenue(ctx, &store.Venue{
		ID: "evt001", Name: "One-off Event", Token: "tok", RegistrationCode: "EVENT1",
		RegisteredAt: time.Now(), ScheduleType: "event", ExpiresAt: expires,
	}))

	e.now = func() time.Time { return sundayAt(17, 0, 0) }
	require.True(t, e.InWindow(ctx, "evt001"))

	e.now = func() time.Time { return sundayAt(18, 0, 1) }
	require.False(t, e.InWindow(ctx, "evt001"))
}

func TestMaintenanceOverridesWindow(t *testing.T) {
	e, st := newTestEngine(t)
	ctx := context.Background()
	createVenue(t, st, "ven001", sundayMorning)

	require.NoError(t, st.AddMaintenanceWindow(ctx, &store.MaintenanceWindow{
		VenueID: "ven001",
		Start:   sundayAt(10, 0, 0),
		End:     sundayAt(11, 0, 0),
		Reason:  "switcher firmware",
	}))

	e.now = func() time.Time { return sundayAt(10, 30, 0) }
	require.False(t, e.InWindow(ctx, "ven001"))

	e.now = func() time.Time { return sundayAt(11, 30, 0) }
	require.True(t, e.InWindow(ctx, "ven001"))
}
