// Package bus is the relay's in-process event fan-out: every
// peer-observable event (connect, disconnect, status_update, alert,
// command_result, preview_frame) is published once and delivered to
// all subscribers.
package bus

import (
	"sync"
	"time"

	"github.com/steeplecast/steeplecast/internal/proto"
)

// Event is one relay broadcast.
type Event struct {
	Type      string          `json:"type"`
	VenueID   string          `json:"venueId"`
	VenueName string          `json:"venueName,omitempty"`
	Payload   *proto.Envelope `json:"payload,omitempty"`
	At        time.Time       `json:"at"`
}

// Subscriber receives events on a buffered channel. Slow subscribers
// drop events rather than blocking the publisher.
type Subscriber struct {
	ch chan Event
}

// C returns the event channel.
func (s *Subscriber) C() <-chan Event { return s.ch }

// Bus fans events out to subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscriber]struct{}
}

// New creates a Bus.
func New() *Bus {
	return &Bus{subs: make(map[*Subscriber]struct{})}
}

// Subscribe registers a new subscriber with the given buffer size.
func (b *Bus) Subscribe(buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = 64
	}
	s := &Subscriber{ch: make(chan Event, buffer)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

// Unsubscribe removes a subscriber. Safe to call multiple times.
func (b *Bus) Unsubscribe(s *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, s)
}

// Publish delivers the event to every subscriber. Never blocks: a
// full subscriber buffer sheds its oldest queued event to make room,
// the same policy as the per-session send buffer and the offline
// queue.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		for {
			select {
			case s.ch <- ev:
			default:
				// Buffer full: pop the oldest and retry. The pop can
				// lose a race with the subscriber draining, so loop
				// rather than assume a slot opened.
				select {
				case <-s.ch:
				default:
				}
				continue
			}
			break
		}
	}
}
