// Package services defines the business logic for the office-hours ticket
// queue. This file centralizes the service-level error taxonomy so that it
// can be consistently returned by service methods and checked by callers.
//
// Where a lower layer already owns the canonical sentinel (lifecycle for
// transition legality, queue for claim arbitration), the value is aliased
// here rather than redefined, so errors.Is works regardless of which package
// a caller imports. Translation into HTTP status codes is performed at the
// handler layer.
package services

import (
	"errors"

	"github.com/coursekit/go-officehours-backend/internal/lifecycle"
	"github.com/coursekit/go-officehours-backend/internal/queue"
)

var (
	// ErrValidation indicates malformed or missing required input. The
	// caller can correct the input and retry.
	ErrValidation = lifecycle.ErrValidation

	// ErrInvalidTransition indicates the requested operation is not legal in
	// the ticket's current state. The caller should re-fetch and reassess.
	ErrInvalidTransition = lifecycle.ErrInvalidTransition

	// ErrAlreadyClaimed indicates a lost claim race: the ticket was no
	// longer waiting when the claim was applied. Expected and recoverable;
	// the usual reaction is to call the next ticket instead.
	ErrAlreadyClaimed = queue.ErrAlreadyClaimed

	// ErrDuplicateEnqueue indicates a ticket was already in the waiting set.
	ErrDuplicateEnqueue = queue.ErrDuplicateEnqueue

	// ErrTicketNotFound indicates an unknown ticket id.
	ErrTicketNotFound = errors.New("ticket not found")

	// ErrNotOwner indicates a domain-level authorization mismatch: a TA
	// closing a ticket they did not call, or a student cancelling someone
	// else's ticket.
	ErrNotOwner = errors.New("not the ticket owner")

	// ErrStorage wraps persistence-layer failures. The in-progress
	// transition is aborted with no partial state change; nothing is
	// retried automatically.
	ErrStorage = errors.New("storage failure")
)
