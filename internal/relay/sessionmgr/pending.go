package sessionmgr

import (
	"context"
	"sync"
	"time"

	"github.com/steeplecast/steeplecast/internal/proto"
)

// resultTimeout is the deadline for a command_result to arrive.
const resultTimeout = 10 * time.Second

type waiterKey struct {
	venueID string
	id      string
}

// PendingCommands tracks in-flight command/result pairs. A dispatched
// command either produces exactly one result to its waiter within the
// deadline, or the waiter gets a timeout — never both.
type PendingCommands struct {
	mu      sync.Mutex
	closed  bool
	pending map[waiterKey]chan *proto.Envelope
}

// NewPendingCommands creates a PendingCommands tracker.
func NewPendingCommands() *PendingCommands {
	return &PendingCommands{
		pending: make(map[waiterKey]chan *proto.Envelope),
	}
}

// Wait blocks until the result for (venueID, id) arrives, the context
// is cancelled, the tracker shuts down, or the 10s deadline passes.
// Register must have been called before the command was sent.
func (p *PendingCommands) Wait(ctx context.Context, venueID, id string) (*proto.Envelope, error) {
	key := waiterKey{venueID, id}

	p.mu.Lock()
	ch, ok := p.pending[key]
	p.mu.Unlock()
	if !ok {
		return nil, proto.NewError(proto.KindInternal, "no waiter registered for %s", id)
	}

	defer p.remove(key)

	timer := time.NewTimer(resultTimeout)
	defer timer.Stop()

	select {
	case res, open := <-ch:
		if !open {
			return nil, proto.NewError(proto.KindServiceUnavailable, "shutdown")
		}
		return res, nil
	case <-ctx.Done():
		return nil, proto.WrapError(proto.KindTimeout, ctx.Err())
	case <-timer.C:
		return nil, proto.NewError(proto.KindTimeout, "no result for command %s within %s", id, resultTimeout)
	}
}

// Register creates a waiter slot before the command is sent, so a
// fast result cannot race the waiter.
func (p *PendingCommands) Register(venueID, id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.pending[waiterKey{venueID, id}] = make(chan *proto.Envelope, 1)
}

// Deregister discards a waiter slot that will never be waited on
// (e.g. the send failed).
func (p *PendingCommands) Deregister(venueID, id string) {
	p.remove(waiterKey{venueID, id})
}

func (p *PendingCommands) remove(key waiterKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pending, key)
}

// Complete delivers a command_result to its waiter. Returns true if
// a waiter slot was found and accepted it. The slot's buffer holds a
// single result, so a second delivery for the same id is refused and
// a result arriving before Wait is not lost.
func (p *PendingCommands) Complete(venueID string, result *proto.Envelope) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, ok := p.pending[waiterKey{venueID, result.ID}]
	if !ok {
		return false
	}
	select {
	case ch <- result:
		return true
	default:
		return false
	}
}

// Shutdown drains every in-flight waiter with a shutdown error.
// Subsequent Registers are no-ops.
func (p *PendingCommands) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for key, ch := range p.pending {
		close(ch)
		delete(p.pending, key)
	}
}
