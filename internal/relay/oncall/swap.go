package oncall

import (
	"sync"
	"time"
)

// swapTTL is how long a swap request waits for confirmation.
const swapTTL = 24 * time.Hour

// SwapParty identifies one side of a swap.
type SwapParty struct {
	ChatID int64
	Name   string
}

// SwapRequest is an in-memory pending swap. Removed on confirmation
// or TTL expiry.
type SwapRequest struct {
	Key       string
	VenueID   string
	WeekKey   string
	Requester SwapParty
	Target    SwapParty
	ExpiresAt time.Time
	CreatedAt time.Time

	targetUserID int64
}

// SwapTable holds pending swap requests.
type SwapTable struct {
	mu       sync.Mutex
	requests map[string]*SwapRequest // key -> request
	order    []string                // insertion order for oldest-first
}

// NewSwapTable creates a SwapTable.
func NewSwapTable() *SwapTable {
	return &SwapTable{requests: make(map[string]*SwapRequest)}
}

// Add stores a request.
func (t *SwapTable) Add(req *SwapRequest) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	t.requests[req.Key] = req
	t.order = append(t.order, req.Key)
}

// TakeOldestFor removes and returns the oldest unexpired request
// whose target chat matches, or nil.
func (t *SwapTable) TakeOldestFor(targetChatID int64, now time.Time) *SwapRequest {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, key := range t.order {
		req, ok := t.requests[key]
		if !ok {
			continue
		}
		if !req.ExpiresAt.After(now) {
			delete(t.requests, key)
			continue
		}
		if req.Target.ChatID == targetChatID {
			delete(t.requests, key)
			t.order = append(t.order[:i:i], t.order[i+1:]...)
			return req
		}
	}
	return nil
}

// Sweep drops expired requests.
func (t *SwapTable) Sweep(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var order []string
	for _, key := range t.order {
		req, ok := t.requests[key]
		if !ok {
			continue
		}
		if !req.ExpiresAt.After(now) {
			delete(t.requests, key)
			continue
		}
		order = append(order, key)
	}
	t.order = order
}

// Len returns the number of pending requests.
func (t *SwapTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests)
}
