// Package testutil holds polling assertions shared by the relay and
// agent test suites. Much of the system is asynchronous by design —
// telemetry lands on a session goroutine, preview frames and alerts
// cross real sockets — so tests assert on eventual state.
package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	// waitTimeout is generous: WS handshakes in the wsapi and
	// relayclient tests ride real TCP sockets and can be slow on a
	// loaded CI machine.
	waitTimeout = 10 * time.Second

	// pollInterval is short so fast paths (in-process bus fan-out,
	// offline-queue drains) don't pad test runtime.
	pollInterval = 10 * time.Millisecond
)

// AssertEventually polls condition until it holds or the shared
// timeout elapses, failing the test non-fatally.
func AssertEventually(t *testing.T, condition func() bool, msgAndArgs ...interface{}) bool {
	t.Helper()
	return assert.Eventually(t, condition, waitTimeout, pollInterval, msgAndArgs...)
}

// RequireEventually is AssertEventually's fatal variant; use it when
// later assertions would only cascade noise (e.g. reading from a
// session that never attached).
func RequireEventually(t *testing.T, condition func() bool, msgAndArgs ...interface{}) {
	t.Helper()
	require.Eventually(t, condition, waitTimeout, pollInterval, msgAndArgs...)
}
