package oncall

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/steeplecast/steeplecast/internal/proto"
	"github.com/steeplecast/steeplecast/internal/relay/db"
	"github.com/steeplecast/steeplecast/internal/relay/store"
	"github.com/steeplecast/steeplecast/internal/util/timefmt"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	sqlDB, err := db.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.Migrate(sqlDB))
	st := store.New(sqlDB)

	require.NoError(t, st.CreateVenue(context.Background(), &store.Venue{
		ID: "ven-1", Name: "First Church", Token: "tok", RegistrationCode: "C0FFEE",
		RegisteredAt: time.Now(), ScheduleType: "recurring",
	}))
	return New(st), st
}

func TestRegisterByCode(t *testing.T) {
	s, st := newTestService(t)
	ctx := context.Background()

	venue, err := s.Register(ctx, "c0ffee", 42, 1042, "Pat")
	require.NoError(t, err)
	require.Equal(t, "ven-1", venue.ID)

	roster, err := st.ListRoster(ctx, "ven-1")
	require.NoError(t, err)
	require.Len(t, roster, 1)
	require.Equal(t, "Pat", roster[0].TDName)

	entries, err := st.ListOnCall(ctx, "ven-1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.False(t, entries[0].IsPrimary)
	require.Empty(t, entries[0].WeekOfISOWeek)
}

func TestRegisterUnknownCode(t *testing.T) {
	s, _ := newTestService(t)
	_, err := s.Register(context.Background(), "ZZZZZZ", 42, 1042, "Pat")
	require.Equal(t, proto.KindNotFound, proto.KindOf(err))
}

func TestCurrentFallbackChain(t *testing.T) {
	s, st := newTestService(t)
	ctx := context.Background()

	// Nobody registered at all.
	_, err := s.Current(ctx, "ven-1")
	require.Equal(t, proto.KindNotFound, proto.KindOf(err))

	// Oldest roster entry as last resort.
	_, err = s.Register(ctx, "C0FFEE", 1, 101, "Pat")
	require.NoError(t, err)
	_, err = s.Register(ctx, "C0FFEE", 2, 102, "Sam")
	require.NoError(t, err)
	cur, err := s.Current(ctx, "ven-1")
	require.NoError(t, err)
	require.Equal(t, "Pat", cur.TDName)

	// Primary beats roster order.
	require.NoError(t, st.SetOnCallPrimary(ctx, "ven-1", 2, true))
	cur, err = s.Current(ctx, "ven-1")
	require.NoError(t, err)
	require.Equal(t, "Sam", cur.TDName)

	// Week assignment beats primary.
	_, err = s.Set(ctx, "ven-1", "pat")
	require.NoError(t, err)
	cur, err = s.Current(ctx, "ven-1")
	require.NoError(t, err)
	require.Equal(t, "Pat", cur.TDName)
	require.Equal(t, timefmt.ISOWeek(time.Now()), cur.WeekOfISOWeek)
}

func TestSwapProtocol(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	_, err := s.Register(ctx, "C0FFEE", 1, 101, "Pat")
	require.NoError(t, err)
	_, err = s.Register(ctx, "C0FFEE", 2, 102, "Sam")
	require.NoError(t, err)

	req, err := s.RequestSwap(ctx, "ven-1", 101, "Pat", "sam")
	require.NoError(t, err)
	require.Equal(t, "Sam", req.Target.Name)
	require.EqualValues(t, 102, req.Target.ChatID)
	require.Equal(t, 1, s.Swaps().Len())

	// Wrong chat cannot confirm.
	_, err = s.ConfirmSwap(ctx, 999)
	require.Equal(t, proto.KindNotFound, proto.KindOf(err))

	confirmed, err := s.ConfirmSwap(ctx, 102)
	require.NoError(t, err)
	require.Equal(t, req.Key, confirmed.Key)
	require.Zero(t, s.Swaps().Len())

	cur, err := s.Current(ctx, "ven-1")
	require.NoError(t, err)
	require.Equal(t, "Sam", cur.TDName)
}

func TestSwapExpires(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	_, err := s.Register(ctx, "C0FFEE", 1, 101, "Pat")
	require.NoError(t, err)
	_, err = s.Register(ctx, "C0FFEE", 2, 102, "Sam")
	require.NoError(t, err)

	_, err = s.RequestSwap(ctx, "ven-1", 101, "Pat", "sam")
	require.NoError(t, err)

	// Simulate 25 hours passing.
	s.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	_, err = s.ConfirmSwap(ctx, 102)
	require.Equal(t, proto.KindNotFound, proto.KindOf(err))
}

func TestConfirmSwapTakesOldest(t *testing.T) {
	tbl := NewSwapTable()
	now := time.Now()
	tbl.Add(&SwapRequest{Key: "k1", Target: SwapParty{ChatID: 7}, ExpiresAt: now.Add(time.Hour)})
	tbl.Add(&SwapRequest{Key: "k2", Target: SwapParty{ChatID: 7}, ExpiresAt: now.Add(time.Hour)})

	got := tbl.TakeOldestFor(7, now)
	require.NotNil(t, got)
	require.Equal(t, "k1", got.Key)
}

func TestGuestTokenFlow(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()

	g, err := s.IssueGuestToken(ctx, "ven-1", "Visiting Tech")
	require.NoError(t, err)
	require.Regexp(t, `^GUEST-[0-9a-f]{8}$`, g.Token)

	venue, err := s.RegisterGuest(ctx, g.Token, 9, 109, "ignored")
	require.NoError(t, err)
	require.Equal(t, "ven-1", venue.ID)

	// Second claim loses.
	_, err = s.RegisterGuest(ctx, g.Token, 10, 110, "Other")
	require.Equal(t, proto.KindNotFound, proto.KindOf(err))
}
