// Package services – QueueService
//
// This file implements QueueService, the single entry point external callers
// (HTTP handlers, jobs) use to mutate or query the ticket queue. Every public
// operation maps 1:1 to a lifecycle transition or a read: create, call,
// close, cancel, release, list, similar.
//
// Responsibilities are split strictly: the lifecycle package decides what
// transitions are legal and produces the updated ticket value, the queue
// package arbitrates waiting-set membership (including the single-winner
// claim guarantee), the TicketStore persists, and this service sequences them
// so that each operation is all-or-nothing. A storage failure mid-claim puts
// the queue entry back where it was.
//
// Observability: all public methods are OpenTelemetry-instrumented; a
// Notifier event is emitted after every successful mutation.
package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coursekit/go-officehours-backend/internal/domain"
	"github.com/coursekit/go-officehours-backend/internal/lifecycle"
	"github.com/coursekit/go-officehours-backend/internal/notify"
	"github.com/coursekit/go-officehours-backend/internal/queue"
	"github.com/coursekit/go-officehours-backend/internal/similarity"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// TicketStore defines the persistence contract required by QueueService.
// Implementations must guarantee that SaveTicket is atomic per ticket and
// that GetTicket reflects the latest save. The *gorm.DB handle lets callers
// scope a call to a transaction; implementations that do not speak SQL
// (repo.MemStore) ignore it.
type TicketStore interface {
	// GetTicket fetches a ticket by id, returning repo.ErrNotFound
	// (gorm.ErrRecordNotFound) when absent.
	GetTicket(ctx context.Context, db *gorm.DB, id string) (*domain.Ticket, error)

	// SaveTicket upserts the full ticket row.
	SaveTicket(ctx context.Context, db *gorm.DB, t *domain.Ticket) error

	// AppendHistory records one append-only audit entry.
	AppendHistory(ctx context.Context, db *gorm.DB, h *domain.TicketHistory) error

	// FindClosedByCourseAndType returns closed tickets for similarity
	// candidate resolution.
	FindClosedByCourseAndType(ctx context.Context, db *gorm.DB, courseID string, typ domain.TicketType) ([]domain.Ticket, error)

	// ListClosedTickets returns all closed tickets (index warm-up).
	ListClosedTickets(ctx context.Context, db *gorm.DB) ([]domain.Ticket, error)
}

// Notifier is the notification port: it receives one event per successful
// mutation, after the mutation is durable. Implementations must not block;
// delivery is outside the core's synchronous contract.
type Notifier interface {
	TicketChanged(ev notify.Event)
}

// QueueService orchestrates lifecycle, queue membership, persistence, and
// similarity for office-hours tickets.
type QueueService struct {
	// DB is the GORM handle used for transactions. May be nil when the
	// Store is not SQL-backed; operations then run without a transaction.
	DB *gorm.DB
	// Store persists tickets and history.
	Store TicketStore
	// Queue owns the per-course waiting sets.
	Queue *queue.Manager
	// Index answers similar-ticket queries. Optional; when nil,
	// GetSimilarTickets returns empty results.
	Index similarity.Index
	// Notifier receives post-mutation events. Optional.
	Notifier Notifier

	// SimilarLimit bounds GetSimilarTickets results.
	SimilarLimit int
	// MaxDescriptionRunes caps ticket descriptions by rune length.
	MaxDescriptionRunes int
	// TopicMaxWords caps the auto-generated topic label.
	TopicMaxWords int
	// TopicLocale selects the casing rules for topic generation.
	TopicLocale language.Tag

	// now is a clock seam for tests.
	now func() time.Time
}

// NewQueueService constructs a QueueService with sane defaults.
func NewQueueService(db *gorm.DB, store TicketStore, q *queue.Manager, idx similarity.Index) *QueueService {
	return &QueueService{
		DB:                  db,
		Store:               store,
		Queue:               q,
		Index:               idx,
		SimilarLimit:        10,
		MaxDescriptionRunes: 4000,
		TopicMaxWords:       6,
		TopicLocale:         language.English,
		now:                 func() time.Time { return time.Now().UTC() },
	}
}

// clock returns the configured time source, defaulting to UTC wall time.
func (s *QueueService) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now().UTC()
}

// withTx runs fn inside a transaction when a DB handle is configured,
// otherwise directly. Store implementations receive the transaction-bound
// handle so a failed history append rolls the ticket save back too.
func (s *QueueService) withTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s.DB == nil {
		return fn(nil)
	}
	return s.DB.WithContext(ctx).Transaction(fn)
}

// persist saves the ticket and appends its history entry atomically,
// wrapping any failure as ErrStorage.
func (s *QueueService) persist(ctx context.Context, t *domain.Ticket, h *domain.TicketHistory) error {
	err := s.withTx(ctx, func(tx *gorm.DB) error {
		if err := s.Store.SaveTicket(ctx, tx, t); err != nil {
			return err
		}
		return s.Store.AppendHistory(ctx, tx, h)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

// emit publishes a post-mutation event when a Notifier is configured.
func (s *QueueService) emit(kind notify.Kind, t *domain.Ticket, actor string) {
	if s.Notifier == nil {
		return
	}
	s.Notifier.TicketChanged(notify.Event{
		Kind:   kind,
		Ticket: *t,
		Actor:  actor,
		At:     s.clock(),
	})
}

// CreateTicket validates the request, creates the ticket in Queued state,
// persists it with its first history entry, and appends it to the course
// queue tail. The topic label is derived from the description.
func (s *QueueService) CreateTicket(ctx context.Context, courseID, studentID string, typ domain.TicketType, description string) (*domain.Ticket, error) {
	ctx, span := otel.Tracer("services/QueueService").Start(ctx, "CreateTicket",
		trace.WithAttributes(
			attribute.String("course.id", courseID),
			attribute.String("student.id", studentID),
		),
	)
	defer span.End()

	courseID = strings.TrimSpace(courseID)
	studentID = strings.TrimSpace(studentID)
	description = strings.TrimSpace(description)
	switch {
	case courseID == "", studentID == "", description == "":
		return nil, ErrValidation
	case !typ.Valid():
		return nil, ErrValidation
	case s.MaxDescriptionRunes > 0 && utf8.RuneCountInString(description) > s.MaxDescriptionRunes:
		return nil, ErrValidation
	}

	now := s.clock()
	t := &domain.Ticket{
		ID:          uuid.NewString(),
		CourseID:    courseID,
		StudentID:   studentID,
		Type:        typ,
		Description: description,
		Topic:       s.topicFromDescription(description),
		State:       domain.StateQueued,
		CreatedAt:   now,
	}
	h := &domain.TicketHistory{
		TicketID:  t.ID,
		FromState: "",
		ToState:   domain.StateQueued,
		Actor:     studentID,
		CreatedAt: now,
	}
	if err := s.persist(ctx, t, h); err != nil {
		return nil, err
	}
	if err := s.Queue.Enqueue(courseID, t.ID, t.CreatedAt); err != nil {
		// A fresh UUID colliding with a waiting entry would be a bug, but
		// surface it rather than leave store and queue disagreeing.
		return nil, err
	}
	s.emit(notify.KindCreated, t, studentID)
	return t, nil
}

// CallTicket claims the ticket for taID. The queue's check-and-remove is the
// arbiter: of N concurrent calls for one ticket, exactly one wins; the rest
// receive ErrAlreadyClaimed unchanged (no retry — the caller decides what to
// do, typically call the next waiting ticket). If persisting the claimed
// state fails, the queue entry is restored to its original position.
func (s *QueueService) CallTicket(ctx context.Context, ticketID, taID string) (*domain.Ticket, error) {
	ctx, span := otel.Tracer("services/QueueService").Start(ctx, "CallTicket",
		trace.WithAttributes(
			attribute.String("ticket.id", ticketID),
			attribute.String("ta.id", taID),
		),
	)
	defer span.End()

	if strings.TrimSpace(taID) == "" {
		return nil, ErrValidation
	}
	t, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}

	entry, err := s.Queue.Claim(t.CourseID, t.ID)
	if err != nil {
		return nil, err // ErrAlreadyClaimed
	}

	updated, err := lifecycle.Call(*t, taID, s.clock())
	if err != nil {
		s.Queue.Restore(t.CourseID, entry)
		if errors.Is(err, lifecycle.ErrAlreadyClaimed) {
			return nil, ErrAlreadyClaimed
		}
		return nil, err
	}

	h := &domain.TicketHistory{
		TicketID:  t.ID,
		FromState: domain.StateQueued,
		ToState:   domain.StateCalled,
		Actor:     taID,
		CreatedAt: s.clock(),
	}
	if err := s.persist(ctx, &updated, h); err != nil {
		s.Queue.Restore(t.CourseID, entry)
		return nil, err
	}
	s.emit(notify.KindCalled, &updated, taID)
	return &updated, nil
}

// CloseTicket finishes a called ticket with the TA's structured response.
// Only the TA holding the claim may close (ErrNotOwner otherwise). Payload
// validation happens before any state change, so a rejected close leaves the
// ticket untouched. On success the closed ticket joins the similarity index.
func (s *QueueService) CloseTicket(ctx context.Context, ticketID, taID string, p lifecycle.ClosePayload) (*domain.Ticket, error) {
	ctx, span := otel.Tracer("services/QueueService").Start(ctx, "CloseTicket",
		trace.WithAttributes(
			attribute.String("ticket.id", ticketID),
			attribute.String("ta.id", taID),
		),
	)
	defer span.End()

	if strings.TrimSpace(taID) == "" {
		return nil, ErrValidation
	}
	t, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if t.State == domain.StateCalled && t.Caller() != taID {
		return nil, ErrNotOwner
	}

	updated, err := lifecycle.Close(*t, p, s.clock())
	if err != nil {
		return nil, err // ErrValidation or ErrInvalidTransition
	}

	// A called ticket is never in the waiting set; Remove is an idempotent
	// no-op kept for defense against state drift.
	s.Queue.Remove(t.CourseID, t.ID)

	h := &domain.TicketHistory{
		TicketID:  t.ID,
		FromState: domain.StateCalled,
		ToState:   domain.StateClosed,
		Actor:     taID,
		CreatedAt: s.clock(),
	}
	if err := s.persist(ctx, &updated, h); err != nil {
		return nil, err
	}
	if s.Index != nil {
		s.Index.Upsert(&updated)
	}
	s.emit(notify.KindClosed, &updated, taID)
	return &updated, nil
}

// CancelTicket withdraws a waiting ticket. Only the creating student may
// cancel (ErrNotOwner otherwise), and only while the ticket is Queued
// (ErrInvalidTransition otherwise). Cancellation races against claims
// through the same queue primitive as CallTicket, so a ticket is either
// claimed once or cancelled, never both.
func (s *QueueService) CancelTicket(ctx context.Context, ticketID, studentID string) (*domain.Ticket, error) {
	ctx, span := otel.Tracer("services/QueueService").Start(ctx, "CancelTicket",
		trace.WithAttributes(
			attribute.String("ticket.id", ticketID),
			attribute.String("student.id", studentID),
		),
	)
	defer span.End()

	t, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if t.StudentID != studentID {
		return nil, ErrNotOwner
	}
	if t.State != domain.StateQueued {
		return nil, ErrInvalidTransition
	}

	// Win the queue entry first so a concurrent CallTicket cannot also
	// succeed. Losing here means a TA claimed the ticket in the meantime.
	entry, err := s.Queue.Claim(t.CourseID, t.ID)
	if err != nil {
		return nil, ErrInvalidTransition
	}

	updated, err := lifecycle.Cancel(*t)
	if err != nil {
		s.Queue.Restore(t.CourseID, entry)
		return nil, err
	}

	h := &domain.TicketHistory{
		TicketID:  t.ID,
		FromState: domain.StateQueued,
		ToState:   domain.StateCancelled,
		Actor:     studentID,
		CreatedAt: s.clock(),
	}
	if err := s.persist(ctx, &updated, h); err != nil {
		s.Queue.Restore(t.CourseID, entry)
		return nil, err
	}
	s.emit(notify.KindCancelled, &updated, studentID)
	return &updated, nil
}

// ReleaseTicket returns a called ticket to the queue without closing it
// ("TA stepped away"). Only the claiming TA may release. The ticket re-enters
// at the tail of the current waiting order, not its original slot.
func (s *QueueService) ReleaseTicket(ctx context.Context, ticketID, taID string) (*domain.Ticket, error) {
	ctx, span := otel.Tracer("services/QueueService").Start(ctx, "ReleaseTicket",
		trace.WithAttributes(
			attribute.String("ticket.id", ticketID),
			attribute.String("ta.id", taID),
		),
	)
	defer span.End()

	t, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if t.State == domain.StateCalled && t.Caller() != taID {
		return nil, ErrNotOwner
	}

	updated, err := lifecycle.Release(*t)
	if err != nil {
		return nil, err // ErrInvalidTransition
	}

	h := &domain.TicketHistory{
		TicketID:  t.ID,
		FromState: domain.StateCalled,
		ToState:   domain.StateQueued,
		Actor:     taID,
		CreatedAt: s.clock(),
	}
	// Persist before re-enqueueing so a claimer never wins an entry whose
	// persisted state still says Called.
	if err := s.persist(ctx, &updated, h); err != nil {
		return nil, err
	}
	if err := s.Queue.Release(t.CourseID, t.ID, s.clock()); err != nil {
		return nil, err
	}
	s.emit(notify.KindReleased, &updated, taID)
	return &updated, nil
}

// ListQueue returns the waiting tickets for a course in queue order. The
// result is a snapshot: it may be stale by the time the caller acts on it,
// and a listed ticket is not guaranteed to still be claimable.
func (s *QueueService) ListQueue(ctx context.Context, courseID string) ([]domain.Ticket, error) {
	ctx, span := otel.Tracer("services/QueueService").Start(ctx, "ListQueue",
		trace.WithAttributes(attribute.String("course.id", courseID)),
	)
	defer span.End()

	entries := s.Queue.Peek(courseID)
	out := make([]domain.Ticket, 0, len(entries))
	for _, e := range entries {
		t, err := s.Store.GetTicket(ctx, s.DB, e.TicketID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue // entry outran the store; skip
			}
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		out = append(out, *t)
	}
	return out, nil
}

// GetSimilarTickets returns previously closed tickets related to ticketID,
// most relevant first, bounded by SimilarLimit. The queried ticket itself is
// never included. No related tickets is an empty slice, not an error.
// Querying is permitted from any ticket state.
func (s *QueueService) GetSimilarTickets(ctx context.Context, ticketID string) ([]domain.Ticket, error) {
	ctx, span := otel.Tracer("services/QueueService").Start(ctx, "GetSimilarTickets",
		trace.WithAttributes(attribute.String("ticket.id", ticketID)),
	)
	defer span.End()

	t, err := s.load(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	out := []domain.Ticket{}
	if s.Index == nil {
		return out, nil
	}
	for _, m := range s.Index.Similar(t, s.SimilarLimit) {
		st, err := s.Store.GetTicket(ctx, s.DB, m.TicketID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				continue // index outran the store; skip
			}
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		out = append(out, *st)
	}
	return out, nil
}

// GetTicket fetches a single ticket by id.
func (s *QueueService) GetTicket(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	return s.load(ctx, ticketID)
}

// load fetches a ticket, mapping missing rows to ErrTicketNotFound and other
// store failures to ErrStorage.
func (s *QueueService) load(ctx context.Context, ticketID string) (*domain.Ticket, error) {
	t, err := s.Store.GetTicket(ctx, s.DB, ticketID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTicketNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return t, nil
}

// --- Topic label generation ---

// topicFromDescription derives a short display label from the description:
// the first TopicMaxWords non-stop-words, title-cased for the configured
// locale.
func (s *QueueService) topicFromDescription(description string) string {
	toks := topicWordRE.FindAllString(strings.ToLower(description), -1)
	if len(toks) == 0 {
		return ""
	}
	maxWords := s.TopicMaxWords
	if maxWords <= 0 {
		maxWords = 6
	}
	caser := cases.Title(s.topicLocaleOrDefault())
	out := make([]string, 0, maxWords)
	for _, w := range toks {
		if _, skip := topicStopWords[w]; skip {
			continue
		}
		out = append(out, caser.String(w))
		if len(out) >= maxWords {
			break
		}
	}
	return strings.Join(out, " ")
}

// topicLocaleOrDefault returns the configured locale for casing or English
// if unset.
func (s *QueueService) topicLocaleOrDefault() language.Tag {
	if s.TopicLocale == language.Und {
		return language.English
	}
	return s.TopicLocale
}

// topicWordRE extracts Unicode letters with optional trailing numbers
// (e.g. "comp110").
var topicWordRE = regexp.MustCompile(`[\p{L}]+[\p{N}]*`)

// topicStopWords is a minimal English stop-word set for compact labels.
var topicStopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {},
	"is": {}, "are": {}, "for": {}, "on": {}, "with": {}, "by": {}, "from": {},
	"at": {}, "as": {}, "that": {}, "this": {}, "it": {}, "be": {}, "was": {}, "were": {},
	"i": {}, "my": {}, "am": {}, "im": {}, "cant": {}, "dont": {},
}
