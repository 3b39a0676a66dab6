// Package queue maintains the per-course sets of waiting tickets and
// arbitrates claims. Each course queue is an independently locked resource:
// mutations for different courses never block each other, while
// claim/enqueue/remove on the same course are mutually exclusive.
//
// The single correctness property everything else leans on: Claim's
// check-and-remove is one indivisible step per course queue, so N concurrent
// claims for the same ticket produce exactly one success and N-1
// ErrAlreadyClaimed failures.
//
// Ordering is the fairness contract visible to students: strict FIFO by
// queue-entry time, ties broken by ticket id. A released ticket re-enters at
// the tail (fresh entry time), not its original slot.
package queue

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// Sentinel errors returned by queue operations.
var (
	// ErrAlreadyClaimed indicates the ticket was not in the waiting set at
	// claim time: another caller won the race, or the ticket left the queue.
	ErrAlreadyClaimed = errors.New("ticket not in waiting set")

	// ErrDuplicateEnqueue indicates the ticket is already waiting.
	ErrDuplicateEnqueue = errors.New("ticket already enqueued")
)

// Entry is one waiting ticket. QueuedAt is the ordering key: creation time
// for a fresh enqueue, release time for a ticket returned to the queue.
type Entry struct {
	TicketID string
	QueuedAt time.Time
}

// courseQueue is the mutable waiting set for one course. All access goes
// through its own mutex; the Manager's outer lock only guards the map of
// courses.
type courseQueue struct {
	mu      sync.Mutex
	waiting []Entry             // sorted by (QueuedAt, TicketID)
	present map[string]struct{} // O(1) duplicate / membership checks
}

// Manager owns every course queue. The zero value is not usable; construct
// with NewManager. Safe for concurrent use.
type Manager struct {
	mu      sync.RWMutex
	courses map[string]*courseQueue
}

// NewManager returns an empty queue manager.
func NewManager() *Manager {
	return &Manager{courses: make(map[string]*courseQueue)}
}

// course returns the queue for courseID, creating it on first use.
func (m *Manager) course(courseID string) *courseQueue {
	m.mu.RLock()
	q := m.courses[courseID]
	m.mu.RUnlock()
	if q != nil {
		return q
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if q = m.courses[courseID]; q == nil {
		q = &courseQueue{present: make(map[string]struct{})}
		m.courses[courseID] = q
	}
	return q
}

// insert places e at its sorted position. Fresh enqueues almost always land
// at the tail; Restore after an aborted claim lands back in the original slot
// because the original ordering key is reused.
func (q *courseQueue) insert(e Entry) {
	i := sort.Search(len(q.waiting), func(i int) bool {
		w := q.waiting[i]
		if !w.QueuedAt.Equal(e.QueuedAt) {
			return w.QueuedAt.After(e.QueuedAt)
		}
		return w.TicketID > e.TicketID
	})
	q.waiting = append(q.waiting, Entry{})
	copy(q.waiting[i+1:], q.waiting[i:])
	q.waiting[i] = e
	q.present[e.TicketID] = struct{}{}
}

// removeLocked drops ticketID from the waiting slice. Caller holds q.mu.
func (q *courseQueue) removeLocked(ticketID string) (Entry, bool) {
	if _, ok := q.present[ticketID]; !ok {
		return Entry{}, false
	}
	for i, e := range q.waiting {
		if e.TicketID == ticketID {
			q.waiting = append(q.waiting[:i], q.waiting[i+1:]...)
			delete(q.present, ticketID)
			return e, true
		}
	}
	// present map and slice out of sync would be a bug; fail closed.
	delete(q.present, ticketID)
	return Entry{}, false
}

// Enqueue appends a ticket to the course's waiting set, ordered by queuedAt.
// It fails with ErrDuplicateEnqueue if the ticket is already waiting.
func (m *Manager) Enqueue(courseID, ticketID string, queuedAt time.Time) error {
	q := m.course(courseID)
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, dup := q.present[ticketID]; dup {
		return ErrDuplicateEnqueue
	}
	q.insert(Entry{TicketID: ticketID, QueuedAt: queuedAt})
	enqueueTotal.WithLabelValues(courseID).Inc()
	queueDepth.WithLabelValues(courseID).Set(float64(len(q.waiting)))
	return nil
}

// Claim atomically removes ticketID from the waiting set. Exactly one of any
// number of concurrent Claim calls for the same ticket succeeds; the rest get
// ErrAlreadyClaimed and the queue is untouched for them.
//
// The removed Entry is returned so the caller can Restore it if the rest of
// the claim (state transition, persistence) fails. Persistence deliberately
// happens outside this lock: the critical section covers only the
// check-and-remove.
func (m *Manager) Claim(courseID, ticketID string) (Entry, error) {
	q := m.course(courseID)
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.removeLocked(ticketID)
	if !ok {
		claimConflicts.WithLabelValues(courseID).Inc()
		return Entry{}, ErrAlreadyClaimed
	}
	claimWins.WithLabelValues(courseID).Inc()
	queueDepth.WithLabelValues(courseID).Set(float64(len(q.waiting)))
	return e, nil
}

// Restore re-inserts an entry removed by Claim after the surrounding
// operation aborted (for example a storage failure). Reusing the original
// ordering key puts the ticket back in its original position. Restoring an
// entry that is somehow already present is a no-op.
func (m *Manager) Restore(courseID string, e Entry) {
	q := m.course(courseID)
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, dup := q.present[e.TicketID]; dup {
		return
	}
	q.insert(e)
	queueDepth.WithLabelValues(courseID).Set(float64(len(q.waiting)))
}

// Release returns a previously claimed ticket to the tail of the waiting
// order: the entry time is now, not the ticket's creation time. It fails with
// ErrDuplicateEnqueue if the ticket is somehow already waiting.
func (m *Manager) Release(courseID, ticketID string, now time.Time) error {
	return m.Enqueue(courseID, ticketID, now)
}

// Remove drops a ticket from the waiting set if present. Used on close and
// cancel; an absent ticket is an idempotent no-op.
func (m *Manager) Remove(courseID, ticketID string) {
	q := m.course(courseID)
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.removeLocked(ticketID); ok {
		queueDepth.WithLabelValues(courseID).Set(float64(len(q.waiting)))
	}
}

// Peek returns a snapshot of the waiting entries for courseID in queue order.
// The snapshot is a copy: safe to use concurrently with mutations, but stale
// by the time the caller acts on it. A peeked ticket is not guaranteed to
// still be claimable.
func (m *Manager) Peek(courseID string) []Entry {
	q := m.course(courseID)
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Entry, len(q.waiting))
	copy(out, q.waiting)
	return out
}

// Len reports the number of waiting tickets for courseID.
func (m *Manager) Len(courseID string) int {
	q := m.course(courseID)
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.waiting)
}
