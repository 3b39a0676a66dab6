// Package domain defines the persistence models for office-hours tickets and
// their audit history. These types are mapped with GORM and form the core
// data layer of the queue application.
package domain

import "time"

// TicketState enumerates the lifecycle states of a ticket.
//
// The legal transitions are Queued → Called → Closed, Queued → Cancelled, and
// Called → Queued (release). Closed and Cancelled are terminal. Transition
// legality is enforced by the lifecycle package, not here.
type TicketState string

const (
	StateQueued    TicketState = "queued"
	StateCalled    TicketState = "called"
	StateClosed    TicketState = "closed"
	StateCancelled TicketState = "cancelled"
)

// Valid reports whether s is one of the known ticket states.
func (s TicketState) Valid() bool {
	switch s {
	case StateQueued, StateCalled, StateClosed, StateCancelled:
		return true
	}
	return false
}

// Terminal reports whether s admits no further transitions.
func (s TicketState) Terminal() bool {
	return s == StateClosed || s == StateCancelled
}

// TicketType tags the kind of help a student is asking for. It drives queue
// display and similarity matching.
type TicketType string

const (
	TypeConceptualHelp TicketType = "conceptual_help"
	TypeAssignmentHelp TicketType = "assignment_help"
)

// Valid reports whether t is one of the known ticket types.
func (t TicketType) Valid() bool {
	return t == TypeConceptualHelp || t == TypeAssignmentHelp
}

// Ticket represents a single office-hours help request. A ticket is created
// by a student in Queued state, may be called (claimed) by exactly one TA at
// a time, and ends in Closed or Cancelled. Tickets are never deleted: closed
// and cancelled rows are retained for similarity search and audit.
//
// Fields:
//   - ID: stable UUID primary key (char(36)); immutable once assigned.
//   - CourseID / StudentID: immutable after creation; indexed for queue and
//     ownership lookups.
//   - Type: conceptual_help or assignment_help.
//   - Description: the student's free-text help request.
//   - Topic: short display label auto-generated from the description.
//   - State: current lifecycle state.
//   - CalledBy / CalledAt: set on the transition to Called, cleared again if
//     the ticket is released back to the queue. CalledBy is non-nil if and
//     only if State is Called or Closed.
//   - ClosedAt, MeetingSummary, SolutionsUsed, ConceptsForReview: the TA's
//     structured response, set on the transition to Closed.
//   - CallerNotes / HaveConcerns: optional TA-only annotations recorded at
//     close time.
type Ticket struct {
	ID          string      `json:"id"          gorm:"type:char(36);primaryKey"`
	CourseID    string      `json:"course_id"   gorm:"type:varchar(64);not null;index:idx_course_tickets,priority:1"`
	StudentID   string      `json:"student_id"  gorm:"type:varchar(64);not null;index"`
	Type        TicketType  `json:"type"        gorm:"type:varchar(32);not null"`
	Description string      `json:"description" gorm:"type:text;not null"`
	Topic       string      `json:"topic"       gorm:"type:varchar(255);not null;default:''"`
	State       TicketState `json:"state"       gorm:"type:varchar(16);not null;index:idx_course_tickets,priority:2"`

	CreatedAt time.Time  `json:"created_at" gorm:"index"`
	UpdatedAt time.Time  `json:"updated_at"`
	CalledBy  *string    `json:"called_by,omitempty" gorm:"type:varchar(64)"`
	CalledAt  *time.Time `json:"called_at,omitempty"`
	ClosedAt  *time.Time `json:"closed_at,omitempty"`

	MeetingSummary    string `json:"meeting_summary,omitempty"     gorm:"type:text;not null;default:''"`
	SolutionsUsed     string `json:"solutions_used,omitempty"      gorm:"type:text;not null;default:''"`
	ConceptsForReview string `json:"concepts_for_review,omitempty" gorm:"type:text;not null;default:''"`
	CallerNotes       string `json:"caller_notes,omitempty"        gorm:"type:text;not null;default:''"`
	HaveConcerns      bool   `json:"have_concerns"                 gorm:"not null;default:false"`
}

// TableName returns the database table name for Ticket.
func (Ticket) TableName() string { return "tickets" }

// Caller returns the TA identifier holding (or having held) the ticket, or ""
// when the ticket has never been called.
func (t *Ticket) Caller() string {
	if t.CalledBy == nil {
		return ""
	}
	return *t.CalledBy
}

// TicketHistory is an append-only audit record of a single state transition.
// Entries are written in the same transaction as the ticket mutation and are
// never updated or deleted afterwards.
type TicketHistory struct {
	ID        string      `json:"id"         gorm:"type:char(36);primaryKey"`
	TicketID  string      `json:"ticket_id"  gorm:"type:char(36);not null;index:idx_ticket_history,priority:1"`
	FromState TicketState `json:"from_state" gorm:"type:varchar(16);not null"`
	ToState   TicketState `json:"to_state"   gorm:"type:varchar(16);not null"`
	Actor     string      `json:"actor"      gorm:"type:varchar(64);not null"`
	CreatedAt time.Time   `json:"created_at" gorm:"index:idx_ticket_history,priority:2"`
}

// TableName returns the database table name for TicketHistory.
func (TicketHistory) TableName() string { return "ticket_history" }
