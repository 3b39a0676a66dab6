// Package lifecycle implements the ticket state machine. It is pure: every
// transition takes a ticket value, validates the event against a fixed
// legality table, and returns a modified copy. Nothing here touches storage
// or the queue; callers (see services.QueueService) are responsible for
// persisting the result and keeping queue membership in sync.
//
// States and events:
//
//	Queued --Call-->    Called
//	Queued --Cancel-->  Cancelled   (terminal)
//	Called --Close-->   Closed      (terminal)
//	Called --Release--> Queued
//
// Any event not in the table for the ticket's current state fails with
// ErrInvalidTransition. Call against a non-Queued ticket fails with
// ErrAlreadyClaimed instead, because in practice that is a lost claim race
// rather than a caller bug.
package lifecycle

import (
	"errors"
	"strings"
	"time"

	"github.com/coursekit/go-officehours-backend/internal/domain"
)

// Event identifies a requested state transition.
type Event string

const (
	EventCall    Event = "call"
	EventClose   Event = "close"
	EventCancel  Event = "cancel"
	EventRelease Event = "release"
)

// Sentinel errors returned by Transition and the event helpers. The services
// package re-exports these for callers that only import the service layer.
var (
	// ErrInvalidTransition indicates the event is not legal in the ticket's
	// current state. The caller can re-fetch the ticket and reassess.
	ErrInvalidTransition = errors.New("invalid ticket state transition")

	// ErrValidation indicates a malformed or incomplete transition payload.
	// The ticket is unchanged; the caller may correct the input and retry.
	ErrValidation = errors.New("invalid transition payload")

	// ErrAlreadyClaimed indicates a Call event against a ticket that is no
	// longer Queued. Losing a claim race is expected behavior, not a bug.
	ErrAlreadyClaimed = errors.New("ticket already claimed")
)

// ClosePayload carries the TA's structured response for a Close event.
// MeetingSummary and SolutionsUsed are required non-empty; the rest are
// optional annotations.
type ClosePayload struct {
	MeetingSummary    string
	SolutionsUsed     string
	ConceptsForReview string
	CallerNotes       string
	HaveConcerns      bool
}

// Validate checks the required fields. It trims surrounding whitespace so a
// blank-only summary does not pass.
func (p ClosePayload) Validate() error {
	if strings.TrimSpace(p.MeetingSummary) == "" {
		return ErrValidation
	}
	if strings.TrimSpace(p.SolutionsUsed) == "" {
		return ErrValidation
	}
	return nil
}

// transitions is the fixed legality table: for each state, the set of events
// allowed and the state they lead to.
var transitions = map[domain.TicketState]map[Event]domain.TicketState{
	domain.StateQueued: {
		EventCall:   domain.StateCalled,
		EventCancel: domain.StateCancelled,
	},
	domain.StateCalled: {
		EventClose:   domain.StateClosed,
		EventRelease: domain.StateQueued,
	},
}

// next resolves the target state for (state, event), reporting legality.
func next(state domain.TicketState, ev Event) (domain.TicketState, bool) {
	to, ok := transitions[state][ev]
	return to, ok
}

// CanTransition reports whether ev is legal for a ticket in state.
func CanTransition(state domain.TicketState, ev Event) bool {
	_, ok := next(state, ev)
	return ok
}

// Call claims the ticket for taID at the given time. The payload (taID) is
// validated first; an empty TA identity is ErrValidation. A ticket that is
// not Queued at the moment the transition is applied yields ErrAlreadyClaimed.
//
// Callers must ensure the state check here is covered by the queue manager's
// claim atomicity; this function alone cannot arbitrate concurrent callers.
func Call(t domain.Ticket, taID string, at time.Time) (domain.Ticket, error) {
	if strings.TrimSpace(taID) == "" {
		return t, ErrValidation
	}
	if _, ok := next(t.State, EventCall); !ok {
		return t, ErrAlreadyClaimed
	}
	t.State = domain.StateCalled
	t.CalledBy = &taID
	t.CalledAt = &at
	return t, nil
}

// Close finishes the ticket with the TA's structured response. The payload is
// validated before any state change is applied, so a validation failure
// leaves the ticket exactly as it was.
func Close(t domain.Ticket, p ClosePayload, at time.Time) (domain.Ticket, error) {
	if err := p.Validate(); err != nil {
		return t, err
	}
	if _, ok := next(t.State, EventClose); !ok {
		return t, ErrInvalidTransition
	}
	t.State = domain.StateClosed
	t.ClosedAt = &at
	t.MeetingSummary = strings.TrimSpace(p.MeetingSummary)
	t.SolutionsUsed = strings.TrimSpace(p.SolutionsUsed)
	t.ConceptsForReview = strings.TrimSpace(p.ConceptsForReview)
	t.CallerNotes = strings.TrimSpace(p.CallerNotes)
	t.HaveConcerns = p.HaveConcerns
	return t, nil
}

// Cancel withdraws a waiting ticket. Only Queued tickets can be cancelled;
// a Called or terminal ticket yields ErrInvalidTransition.
func Cancel(t domain.Ticket) (domain.Ticket, error) {
	if _, ok := next(t.State, EventCancel); !ok {
		return t, ErrInvalidTransition
	}
	t.State = domain.StateCancelled
	return t, nil
}

// Release returns a Called ticket to the queue without closing it ("TA
// stepped away"). The claim fields are cleared so the CalledBy-iff-Called
// invariant holds; a later Call sets them again.
func Release(t domain.Ticket) (domain.Ticket, error) {
	if _, ok := next(t.State, EventRelease); !ok {
		return t, ErrInvalidTransition
	}
	t.State = domain.StateQueued
	t.CalledBy = nil
	t.CalledAt = nil
	return t, nil
}

// CheckInvariants verifies the data-model invariants that must hold after
// every transition: CalledBy is set iff the state is Called or Closed, and
// ClosedAt is set iff the state is Closed. It exists for tests and debug
// assertions; production code relies on the transition functions instead.
func CheckInvariants(t domain.Ticket) error {
	calledSet := t.CalledBy != nil && *t.CalledBy != ""
	wantCalled := t.State == domain.StateCalled || t.State == domain.StateClosed
	if calledSet != wantCalled {
		return ErrInvalidTransition
	}
	if (t.ClosedAt != nil) != (t.State == domain.StateClosed) {
		return ErrInvalidTransition
	}
	return nil
}
