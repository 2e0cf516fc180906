package preview

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/steeplecast/steeplecast/internal/proto"
	"github.com/steeplecast/steeplecast/internal/util/testutil"
)

func TestStreamsFrames(t *testing.T) {
	var sent atomic.Int64
	s := New("program", 10*time.Millisecond,
		func(context.Context, string, int, int) (string, error) { return "frame", nil },
		func(w, h int, data string) error {
			sent.Add(1)
			return nil
		},
	)
	require.NoError(t, s.Start())
	defer func() { _ = s.Stop() }()

	testutil.RequireEventually(t, func() bool { return sent.Load() >= 3 })
}

func TestOversizedFrameDropped(t *testing.T) {
	var sent, dropped atomic.Int64
	big := strings.Repeat("x", proto.MaxPreviewFrameChars+1)
	s := New("program", 10*time.Millisecond,
		func(context.Context, string, int, int) (string, error) { return big, nil },
		func(int, int, string) error {
			sent.Add(1)
			return nil
		},
	)
	s.OnDropped = func() { dropped.Add(1) }
	require.NoError(t, s.Start())
	defer func() { _ = s.Stop() }()

	testutil.RequireEventually(t, func() bool { return dropped.Load() >= 2 })
	require.Zero(t, sent.Load())
}

func TestStartStopIdempotent(t *testing.T) {
	s := New("program", time.Hour,
		func(context.Context, string, int, int) (string, error) { return "", nil },
		func(int, int, string) error { return nil },
	)
	require.NoError(t, s.Start())
	require.NoError(t, s.Start())
	require.True(t, s.Running())
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	require.False(t, s.Running())
}
