// Package notify relays ticket state-change events to live subscribers. The
// QueueService publishes one event per successful mutation; the HTTP layer
// subscribes per course and forwards events to clients (server-sent events).
//
// Delivery is best-effort by design: publishing never blocks a mutation. A
// subscriber whose buffer is full misses events and is expected to refresh
// from the queue listing endpoint.
package notify

import (
	"sync"
	"time"

	"github.com/coursekit/go-officehours-backend/internal/domain"
)

// Kind names the mutation that produced an event.
type Kind string

const (
	KindCreated   Kind = "created"
	KindCalled    Kind = "called"
	KindClosed    Kind = "closed"
	KindCancelled Kind = "cancelled"
	KindReleased  Kind = "released"
)

// Event describes one successful ticket mutation.
type Event struct {
	Kind   Kind          `json:"kind"`
	Ticket domain.Ticket `json:"ticket"`
	Actor  string        `json:"actor"`
	At     time.Time     `json:"at"`
}

// subscriber is one listening channel scoped to a course.
type subscriber struct {
	courseID string
	ch       chan Event
}

// Broker fans events out to per-course subscribers. Safe for concurrent use.
type Broker struct {
	mu   sync.RWMutex
	subs map[int64]*subscriber
	next int64

	// buffer is the per-subscriber channel capacity.
	buffer int
}

// NewBroker returns a Broker with the given per-subscriber buffer size.
// Sizes below 1 default to 16.
func NewBroker(buffer int) *Broker {
	if buffer < 1 {
		buffer = 16
	}
	return &Broker{subs: make(map[int64]*subscriber), buffer: buffer}
}

// Subscribe registers a listener for courseID. The returned cancel function
// must be called when the listener goes away; it closes the channel.
func (b *Broker) Subscribe(courseID string) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	sub := &subscriber{courseID: courseID, ch: make(chan Event, b.buffer)}
	b.subs[id] = sub

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if s, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(s.ch)
		}
	}
	return sub.ch, cancel
}

// TicketChanged delivers ev to every subscriber of the ticket's course.
// Full buffers are skipped, never waited on.
func (b *Broker) TicketChanged(ev Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.courseID != ev.Ticket.CourseID {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			// Slow subscriber; it will resync via the listing endpoint.
		}
	}
}

// Subscribers reports the current listener count. Used by tests and the
// health surface.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
