// Package schedule computes per-venue service windows and fires
// open/close edge callbacks on a periodic tick.
package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/steeplecast/steeplecast/internal/relay/store"
)

// windowBuffer pads each scheduled slot on both sides: a venue is
// "in window" from 30 minutes before the start to 30 minutes after
// the end.
const windowBuffer = 30 * time.Minute

// tickInterval is how often windows are recomputed.
const tickInterval = 60 * time.Second

// Callback receives window edges. Implementations must not panic
// back into the engine; edges are delivered with recover protection.
type Callback func(venueID string)

// Engine evaluates service windows. All schedule reads go through
// the store; the engine holds only the edge-detection state.
type Engine struct {
	store *store.Store

	mu          sync.Mutex
	wasInWindow map[string]bool
	onOpen      []Callback
	onClose     []Callback

	now func() time.Time // test hook
}

// New creates an Engine.
func New(st *store.Store) *Engine {
	return &Engine{
		store:       st,
		wasInWindow: make(map[string]bool),
		now:         time.Now,
	}
}

// OnOpen registers a rising-edge callback.
func (e *Engine) OnOpen(cb Callback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onOpen = append(e.onOpen, cb)
}

// OnClose registers a falling-edge callback.
func (e *Engine) OnClose(cb Callback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onClose = append(e.onClose, cb)
}

// InWindow reports whether the venue is currently inside a service
// window. Maintenance windows override everything; event venues use
// [created, expiresAt]; recurring venues use the buffered schedule.
func (e *Engine) InWindow(ctx context.Context, venueID string) bool {
	v, err := e.store.GetVenue(ctx, venueID)
	if err != nil {
		return false
	}
	return e.inWindow(ctx, v)
}

func (e *Engine) inWindow(ctx context.Context, v *store.Venue) bool {
	now := e.now()

	windows, err := e.store.ListMaintenanceWindows(ctx, v.ID, now)
	if err == nil {
		for _, w := range windows {
			if !now.Before(w.Start) && now.Before(w.End) {
				return false
			}
		}
	}

	if v.ScheduleType == "event" {
		return !v.ExpiresAt.IsZero() && now.Before(v.ExpiresAt)
	}

	return InRecurringWindow(v.ServiceTimes, now)
}

// InRecurringWindow reports whether t falls inside any schedule entry
// on t's weekday, with the ±30-minute buffer applied.
func InRecurringWindow(entries []store.ScheduleEntry, t time.Time) bool {
	day := int(t.Weekday())
	secOfDay := t.Hour()*3600 + t.Minute()*60 + t.Second()

	for _, entry := range entries {
		if entry.DayOfWeek != day {
			continue
		}
		startSec := entry.StartHour*3600 + entry.StartMin*60
		start := startSec - int(windowBuffer.Seconds())
		end := startSec + int(entry.DurationHours*3600) + int(windowBuffer.Seconds())
		if secOfDay >= start && secOfDay <= end {
			return true
		}
	}
	return false
}

// Tick recomputes every venue's window state and fires edge
// callbacks. Exposed for tests; Run calls it once a minute.
func (e *Engine) Tick(ctx context.Context) {
	venues, err := e.store.ListVenues(ctx)
	if err != nil {
		slog.Error("schedule tick: list venues", "error", err)
		return
	}

	for _, v := range venues {
		in := e.inWindow(ctx, v)

		e.mu.Lock()
		was := e.wasInWindow[v.ID]
		e.wasInWindow[v.ID] = in
		var cbs []Callback
		if in && !was {
			cbs = append(cbs, e.onOpen...)
		} else if !in && was {
			cbs = append(cbs, e.onClose...)
		}
		e.mu.Unlock()

		for _, cb := range cbs {
			e.invoke(cb, v.ID)
		}
	}
}

func (e *Engine) invoke(cb Callback, venueID string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("schedule callback panicked", "venue_id", venueID, "panic", r)
		}
	}()
	cb(venueID)
}

// Forget drops edge state for a deleted venue.
func (e *Engine) Forget(venueID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.wasInWindow, venueID)
}

// Run ticks until the context is cancelled.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}
