package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/steeplecast/steeplecast/internal/proto"
	"github.com/steeplecast/steeplecast/internal/util/testutil"
)

type fakeSender struct {
	mu    sync.Mutex
	calls []string
	res   *proto.Envelope
	err   error
}

func (f *fakeSender) SendAndAwait(_ context.Context, venueID, command string, _ map[string]any) (*proto.Envelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, venueID+":"+command)
	return f.res, f.err
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestPrecheckFiresInLeadWindow(t *testing.T) {
	_, st := newTestEngine(t)
	createVenue(t, st, "ven001", sundayMorning)

	sender := &fakeSender{res: &proto.Envelope{
		Type: proto.TypeCommandResult, Result: []byte(`{"checks":[{"name":"switcher","ok":true}]}`),
	}}

	var mu sync.Mutex
	var messages []string
	p := NewPrechecker(st, sender, func(_ context.Context, venueID, text string) {
		mu.Lock()
		defer mu.Unlock()
		messages = append(messages, text)
	})

	// 09:30 start of lead window for a 10:00 service.
	p.now = func() time.Time { return sundayAt(9, 30, 0) }
	p.Tick(context.Background())

	testutil.RequireEventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(messages) == 1
	})
	require.Equal(t, 1, sender.callCount())
	mu.Lock()
	require.Contains(t, messages[0], "all 1 checks passed")
	mu.Unlock()
}

func TestPrecheckCooldown(t *testing.T) {
	_, st := newTestEngine(t)
	createVenue(t, st, "ven001", sundayMorning)

	sender := &fakeSender{res: &proto.Envelope{Type: proto.TypeCommandResult}}
	p := NewPrechecker(st, sender, func(context.Context, string, string) {})

	p.now = func() time.Time { return sundayAt(9, 28, 0) }
	p.Tick(context.Background())
	p.now = func() time.Time { return sundayAt(9, 33, 0) }
	p.Tick(context.Background())

	testutil.RequireEventually(t, func() bool { return sender.callCount() == 1 })
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, sender.callCount(), "cooldown must suppress the second run")
}

func TestPrecheckOutsideLeadWindow(t *testing.T) {
	_, st := newTestEngine(t)
	createVenue(t, st, "ven001", sundayMorning)

	sender := &fakeSender{}
	p := NewPrechecker(st, sender, func(context.Context, string, string) {})

	for _, clock := range []time.Time{sundayAt(9, 0, 0), sundayAt(9, 24, 0), sundayAt(9, 36, 0), sundayAt(11, 0, 0)} {
		p.now = func() time.Time { return clock }
		p.Tick(context.Background())
	}
	time.Sleep(50 * time.Millisecond)
	require.Zero(t, sender.callCount())
}

func TestFormatPrecheckReportFailures(t *testing.T) {
	msg := FormatPrecheckReport("First Church", &proto.Envelope{
		Result: []byte(`{"checks":[{"name":"switcher","ok":true},{"name":"streamer","ok":false,"detail":"not connected"}]}`),
	})
	require.Contains(t, msg, "1 of 2 checks failed")
	require.Contains(t, msg, "streamer — not connected")
}
