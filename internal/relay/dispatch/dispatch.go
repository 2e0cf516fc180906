// Package dispatch injects operator commands into agent sessions:
// rate limiting, online send, short-lived offline queueing, result
// correlation and whole-fleet broadcast.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/steeplecast/steeplecast/internal/metrics"
	"github.com/steeplecast/steeplecast/internal/proto"
	"github.com/steeplecast/steeplecast/internal/relay/id"
	"github.com/steeplecast/steeplecast/internal/relay/ratelimit"
	"github.com/steeplecast/steeplecast/internal/relay/sessionmgr"
)

// offlineGrace is how recently a venue must have disconnected for
// commands to be queued instead of rejected.
const offlineGrace = 30 * time.Second

// Result reports what happened to an injected command.
type Result struct {
	Sent   bool   `json:"sent"`
	Queued bool   `json:"queued,omitempty"`
	ID     string `json:"id"`
}

// BroadcastResult summarizes a fleet-wide send.
type BroadcastResult struct {
	Sent  int `json:"sent"`
	Total int `json:"total"`
}

// Dispatcher routes commands from any operator surface to agents.
type Dispatcher struct {
	sessions *sessionmgr.Manager
	pending  *sessionmgr.PendingCommands
	queue    *sessionmgr.OfflineQueue
	limiter  *ratelimit.Limiter

	now func() time.Time // test hook
}

// New creates a Dispatcher.
func New(sessions *sessionmgr.Manager, pending *sessionmgr.PendingCommands, queue *sessionmgr.OfflineQueue, limiter *ratelimit.Limiter) *Dispatcher {
	return &Dispatcher{
		sessions: sessions,
		pending:  pending,
		queue:    queue,
		limiter:  limiter,
		now:      time.Now,
	}
}

// Send injects a fire-and-forget command for one venue. The result
// flows back as a command_result broadcast; no waiter slot is held.
func (d *Dispatcher) Send(venueID, command string, params map[string]any) (*Result, error) {
	return d.send(venueID, command, params, false)
}

func (d *Dispatcher) send(venueID, command string, params map[string]any, await bool) (*Result, error) {
	if !d.limiter.Allow(venueID) {
		metrics.CommandsDispatched.WithLabelValues("rate_limited").Inc()
		return nil, proto.NewError(proto.KindRateLimited, "venue %s exceeded 10 commands/s", venueID)
	}

	env := &proto.Envelope{
		Type:    proto.TypeCommand,
		ID:      id.Command(),
		Command: command,
		Params:  params,
	}

	if sess := d.sessions.Get(venueID); sess != nil {
		// The waiter slot must exist before the send so a fast agent
		// cannot answer into the void.
		if await {
			d.pending.Register(venueID, env.ID)
		}
		if err := sess.Send(env); err != nil {
			if await {
				d.pending.Deregister(venueID, env.ID)
			}
			metrics.CommandsDispatched.WithLabelValues("unavailable").Inc()
			return nil, proto.WrapError(proto.KindServiceUnavailable, err)
		}
		metrics.CommandsDispatched.WithLabelValues("sent").Inc()
		return &Result{Sent: true, ID: env.ID}, nil
	}

	if since, ok := d.sessions.DisconnectedSince(venueID); ok && d.now().Sub(since) < offlineGrace {
		d.queue.Enqueue(venueID, env)
		metrics.CommandsDispatched.WithLabelValues("queued").Inc()
		return &Result{Sent: false, Queued: true, ID: env.ID}, nil
	}

	metrics.CommandsDispatched.WithLabelValues("unavailable").Inc()
	return nil, proto.NewError(proto.KindServiceUnavailable, "venue %s is offline", venueID)
}

// SendAndAwait sends a command and blocks for its correlated
// command_result under the 10 s deadline. Queued commands return an
// error; there is nobody to answer yet.
func (d *Dispatcher) SendAndAwait(ctx context.Context, venueID, command string, params map[string]any) (*proto.Envelope, error) {
	res, err := d.send(venueID, command, params, true)
	if err != nil {
		return nil, err
	}
	if !res.Sent {
		return nil, proto.NewError(proto.KindServiceUnavailable, "command queued, venue offline")
	}
	return d.pending.Wait(ctx, venueID, res.ID)
}

// DrainQueued delivers any still-fresh queued commands to a venue
// that just reattached. Results are not awaited; they flow back as
// ordinary command_result broadcasts.
func (d *Dispatcher) DrainQueued(venueID string) int {
	sess := d.sessions.Get(venueID)
	if sess == nil {
		return 0
	}
	queued := d.queue.Drain(venueID)
	sent := 0
	for _, env := range queued {
		if err := sess.Send(env); err != nil {
			slog.Warn("failed to deliver queued command", "venue_id", venueID, "command", env.Command, "error", err)
			break
		}
		sent++
	}
	if sent > 0 {
		slog.Info("drained offline queue", "venue_id", venueID, "count", sent)
	}
	return sent
}

// Broadcast sends a command to every online venue with a fresh id
// per venue. No waiting, no rate limiting (operator-initiated fleet
// actions are rare and explicit).
func (d *Dispatcher) Broadcast(command string, params map[string]any) BroadcastResult {
	sessions := d.sessions.All()
	sent := 0
	for _, sess := range sessions {
		env := &proto.Envelope{
			Type:    proto.TypeCommand,
			ID:      id.Command(),
			Command: command,
			Params:  params,
		}
		if err := sess.Send(env); err == nil {
			sent++
		}
	}
	return BroadcastResult{Sent: sent, Total: len(sessions)}
}
