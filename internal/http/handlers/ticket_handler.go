// Ticket HTTP handlers.
//
// This file exposes REST endpoints for the ticket lifecycle:
//   - POST /tickets                (create, idempotency support)
//   - GET  /tickets/{id}           (fetch one ticket)
//   - PUT  /tickets/{id}/call      (TA claims the ticket)
//   - PUT  /tickets/{id}/close     (TA closes with structured response)
//   - PUT  /tickets/{id}/cancel    (student withdraws)
//   - PUT  /tickets/{id}/release   (TA returns the ticket to the queue)
//   - GET  /tickets/{id}/similar   (closed tickets with related content)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses. All lifecycle conflict semantics
// (claim races, wrong-state requests, ownership) live in the service layer and
// are mapped here onto status codes and stable error codes.
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// creation exists for (student, course, key), the handler returns the recorded
// ticket and sets `Idempotency-Replayed: true`.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coursekit/go-officehours-backend/internal/domain"
	"github.com/coursekit/go-officehours-backend/internal/http/middleware"
	"github.com/coursekit/go-officehours-backend/internal/lifecycle"
	"github.com/coursekit/go-officehours-backend/internal/repo"
	"github.com/coursekit/go-officehours-backend/internal/services"
)

//
// Service contracts (context-aware)
//

// TicketService defines the lifecycle operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type TicketService interface {
	// CreateTicket opens a new ticket and places it at the tail of the
	// course queue.
	CreateTicket(ctx context.Context, courseID, studentID string, typ domain.TicketType, description string) (*domain.Ticket, error)
	// CallTicket claims a waiting ticket for taID.
	CallTicket(ctx context.Context, ticketID, taID string) (*domain.Ticket, error)
	// CloseTicket resolves a called ticket with the TA's structured response.
	CloseTicket(ctx context.Context, ticketID, taID string, p lifecycle.ClosePayload) (*domain.Ticket, error)
	// CancelTicket withdraws a waiting ticket on behalf of its student.
	CancelTicket(ctx context.Context, ticketID, studentID string) (*domain.Ticket, error)
	// ReleaseTicket returns a called ticket to the tail of the queue.
	ReleaseTicket(ctx context.Context, ticketID, taID string) (*domain.Ticket, error)
	// GetTicket fetches a single ticket by id.
	GetTicket(ctx context.Context, ticketID string) (*domain.Ticket, error)
	// GetSimilarTickets returns closed tickets related to the given one.
	GetSimilarTickets(ctx context.Context, ticketID string) ([]domain.Ticket, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for tickets and course queues.
// It depends on abstract service interfaces to keep transport concerns
// separate from business logic.
type Handlers struct {
	ticketSvc TicketService
	queueSvc  QueueReader
	events    EventSource
}

// New constructs and returns a Handlers instance bound to the given services.
// events may be nil, in which case the queue event stream endpoint responds
// with 503.
func New(ticketSvc TicketService, queueSvc QueueReader, events EventSource) *Handlers {
	return &Handlers{ticketSvc: ticketSvc, queueSvc: queueSvc, events: events}
}

// userID extracts the authenticated user id from Gin context (set by upstream
// middleware). If absent, it falls back to "X-User-ID" header (tests use it),
// and finally to "demo-user". It never touches c.Request if it's nil.
func userID(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	if c != nil && c.Request != nil {
		if h := strings.TrimSpace(c.GetHeader("X-User-ID")); h != "" {
			return h
		}
	}
	return "demo-user"
}

//
// DTOs
//

// CreateTicketRequest is the JSON payload for opening a ticket.
type CreateTicketRequest struct {
	// CourseID identifies the course queue the ticket joins.
	CourseID string `json:"course_id" binding:"required,min=1,max=64" example:"cs161-fa26"`
	// Type is the kind of help requested: conceptual_help or assignment_help.
	Type string `json:"type" binding:"required" example:"conceptual_help"`
	// Description is the student's free-text help request.
	Description string `json:"description" binding:"required,min=1" example:"I don't understand how the pumping lemma applies to L = a^n b^n"`
}

// CloseTicketRequest is the JSON payload for resolving a called ticket.
type CloseTicketRequest struct {
	// MeetingSummary describes what was discussed. Required.
	MeetingSummary string `json:"meeting_summary" binding:"required,min=1" example:"Walked through the pumping lemma proof structure"`
	// SolutionsUsed describes how the problem was addressed. Required.
	SolutionsUsed string `json:"solutions_used" binding:"required,min=1" example:"Worked a contradiction example on the whiteboard"`
	// ConceptsForReview lists topics the student should revisit. Optional.
	ConceptsForReview string `json:"concepts_for_review,omitempty" example:"regular languages, closure properties"`
	// CallerNotes carries free-form TA-only observations. Optional.
	CallerNotes string `json:"caller_notes,omitempty" example:"second visit this week on the same topic"`
	// HaveConcerns flags the ticket for instructor follow-up. Optional.
	HaveConcerns bool `json:"have_concerns,omitempty"`
}

// SimilarTicketsResponse wraps the ranked list of related closed tickets.
type SimilarTicketsResponse struct {
	Tickets []domain.Ticket `json:"tickets"`
}

//
// Helpers
//

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeText normalizes user text for consistent downstream behavior:
//   - converts CRLF/CR to LF,
//   - collapses runs of 3+ LFs to exactly two (paragraph separation),
//   - trims surrounding whitespace.
func sanitizeText(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// discoverMaxDescriptionRunes inspects the concrete service for a configured
// description-length limit. If unavailable, it returns a conservative fallback.
func discoverMaxDescriptionRunes(svc TicketService) int {
	const fallback = 4000
	if qs, ok := svc.(*services.QueueService); ok {
		if qs.MaxDescriptionRunes > 0 {
			return qs.MaxDescriptionRunes
		}
	}
	return fallback
}

// failTicketErr translates service-layer sentinel errors into the HTTP error
// taxonomy. Unknown errors become 500/internal_error; their message is passed
// through because the service never wraps sensitive detail into sentinels.
func failTicketErr(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrTicketNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "ticket not found")
	case errors.Is(err, services.ErrValidation):
		fail(c, http.StatusBadRequest, ErrCodeValidation, err.Error())
	case errors.Is(err, services.ErrNotOwner):
		fail(c, http.StatusForbidden, ErrCodeNotOwner, err.Error())
	case errors.Is(err, services.ErrAlreadyClaimed):
		fail(c, http.StatusConflict, ErrCodeAlreadyClaimed, "ticket is no longer waiting")
	case errors.Is(err, services.ErrDuplicateEnqueue):
		fail(c, http.StatusConflict, ErrCodeConflict, "ticket is already queued")
	case errors.Is(err, services.ErrInvalidTransition):
		fail(c, http.StatusConflict, ErrCodeInvalidTransition, err.Error())
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

//
// Handlers
//

// CreateTicket godoc
// @ID          createTicket
// @Summary     Open a new help ticket
// @Description Creates a ticket for the current student and appends it to the course queue.
// @Description Supports idempotency via the Idempotency-Key header (same key → same ticket).
// @Tags        Tickets
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "Student ID (demo header)"  example(student42)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries (UUID recommended)"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.CreateTicketRequest  true  "Create ticket payload"
//
// @Success     201  {object}  domain.Ticket
// @Failure     400  {object}  handlers.ErrorResponse  "Validation error"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /tickets [post]
func (h *Handlers) CreateTicket(c *gin.Context) {
	ctx := c.Request.Context()

	var req CreateTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "course_id, type and description are required")
		return
	}

	typ := domain.TicketType(strings.TrimSpace(req.Type))
	if !typ.Valid() {
		fail(c, http.StatusBadRequest, ErrCodeValidation,
			fmt.Sprintf("type must be %q or %q", domain.TypeConceptualHelp, domain.TypeAssignmentHelp))
		return
	}

	// Sanitize + early size cap to fail fast at the edge.
	description := sanitizeText(req.Description)
	maxRunes := discoverMaxDescriptionRunes(h.ticketSvc)
	if maxRunes > 0 && utf8.RuneCountInString(description) > maxRunes {
		fail(c, http.StatusBadRequest, ErrCodeValidation, fmt.Sprintf("description too long: max %d runes", maxRunes))
		return
	}
	if description == "" {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "description required")
		return
	}

	student := userID(c)
	courseID := strings.TrimSpace(req.CourseID)

	// Idempotency (replay path) – read validated key if present.
	idemKey, _ := middleware.GetIdempotencyKey(c)
	if idemKey == "" {
		idemKey = strings.TrimSpace(c.GetHeader(middleware.HeaderIdempotencyKey))
	}
	if idemKey != "" {
		if svc, okSvc := h.ticketSvc.(*services.QueueService); okSvc && svc.DB != nil {
			// The validator already probed this (student, course, key) scope
			// when the client sent the course in X-Course-ID; a confirmed
			// miss there needs no second lookup. Replays and requests whose
			// body names a different course are probed here.
			headerCourse := strings.TrimSpace(c.GetHeader(middleware.HeaderCourseID))
			if middleware.IsReplay(c) || headerCourse != courseID {
				if rec, err := repo.GetIdempotency(ctx, svc.DB, student, courseID, idemKey, time.Now().UTC()); err == nil && rec != nil {
					if prev, err2 := h.ticketSvc.GetTicket(ctx, rec.TicketID); err2 == nil {
						c.Header("Idempotency-Replayed", "true")
						ok(c, http.StatusCreated, prev)
						return
					}
				}
			}
		}
	}

	t, err := h.ticketSvc.CreateTicket(ctx, courseID, student, typ, description)
	if err != nil {
		failTicketErr(c, err)
		return
	}

	// Idempotency (store path). Losing the insert to a concurrent retry with
	// the same key means another request already enqueued this student:
	// withdraw the ticket created here and replay the stored one instead.
	if idemKey != "" {
		if svc, okSvc := h.ticketSvc.(*services.QueueService); okSvc && svc.DB != nil {
			ttl := 24 * time.Hour
			_, err := repo.CreateIdempotency(ctx, svc.DB, student, courseID, idemKey, t.ID, http.StatusCreated, ttl)
			if errors.Is(err, repo.ErrDuplicate) {
				if rec, lerr := repo.GetIdempotency(ctx, svc.DB, student, courseID, idemKey, time.Now().UTC()); lerr == nil && rec.TicketID != t.ID {
					if prev, gerr := h.ticketSvc.GetTicket(ctx, rec.TicketID); gerr == nil {
						_, _ = h.ticketSvc.CancelTicket(ctx, t.ID, student)
						c.Header("Idempotency-Replayed", "true")
						ok(c, http.StatusCreated, prev)
						return
					}
				}
				// Stored record is expired or points at a vanished ticket;
				// the ticket created here stands.
			}
		}
	}

	ok(c, http.StatusCreated, t)
}

// GetTicket godoc
// @ID          getTicket
// @Summary     Fetch a ticket
// @Description Returns a single ticket by id, in any lifecycle state.
// @Tags        Tickets
// @Produce     json
//
// @Param       id  path  string  true  "Ticket ID (UUID)"  format(uuid)
//
// @Success     200  {object}  domain.Ticket
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Ticket not found"
// @Router      /tickets/{id} [get]
func (h *Handlers) GetTicket(c *gin.Context) {
	id, okID := ticketIDParam(c)
	if !okID {
		return
	}
	t, err := h.ticketSvc.GetTicket(c.Request.Context(), id)
	if err != nil {
		failTicketErr(c, err)
		return
	}
	ok(c, http.StatusOK, t)
}

// CallTicket godoc
// @ID          callTicket
// @Summary     Claim the ticket for a TA
// @Description Atomically removes the ticket from the waiting queue and marks it called by the current TA.
// @Description Exactly one concurrent caller wins; the rest receive 409 already_claimed.
// @Tags        Tickets
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "TA ID"             example(ta-wu)
// @Param       id         path    string  true  "Ticket ID (UUID)"  format(uuid)
//
// @Success     200  {object}  domain.Ticket
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Ticket not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Already claimed"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /tickets/{id}/call [put]
func (h *Handlers) CallTicket(c *gin.Context) {
	id, okID := ticketIDParam(c)
	if !okID {
		return
	}
	t, err := h.ticketSvc.CallTicket(c.Request.Context(), id, userID(c))
	if err != nil {
		failTicketErr(c, err)
		return
	}
	ok(c, http.StatusOK, t)
}

// CloseTicket godoc
// @ID          closeTicket
// @Summary     Close a called ticket
// @Description Resolves the ticket with the TA's structured response. Only the TA who called
// @Description the ticket may close it; meeting_summary and solutions_used are required.
// @Tags        Tickets
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "TA ID (must match caller)"  example(ta-wu)
// @Param       id         path    string  true  "Ticket ID (UUID)"           format(uuid)
// @Param       body       body    handlers.CloseTicketRequest  true  "Structured close payload"
//
// @Success     200  {object}  domain.Ticket
// @Failure     400  {object}  handlers.ErrorResponse  "Validation error"
// @Failure     403  {object}  handlers.ErrorResponse  "Not the calling TA"
// @Failure     404  {object}  handlers.ErrorResponse  "Ticket not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Invalid transition"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /tickets/{id}/close [put]
func (h *Handlers) CloseTicket(c *gin.Context) {
	id, okID := ticketIDParam(c)
	if !okID {
		return
	}

	var req CloseTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeValidation, "meeting_summary and solutions_used are required")
		return
	}

	p := lifecycle.ClosePayload{
		MeetingSummary:    sanitizeText(req.MeetingSummary),
		SolutionsUsed:     sanitizeText(req.SolutionsUsed),
		ConceptsForReview: sanitizeText(req.ConceptsForReview),
		CallerNotes:       sanitizeText(req.CallerNotes),
		HaveConcerns:      req.HaveConcerns,
	}

	t, err := h.ticketSvc.CloseTicket(c.Request.Context(), id, userID(c), p)
	if err != nil {
		failTicketErr(c, err)
		return
	}
	ok(c, http.StatusOK, t)
}

// CancelTicket godoc
// @ID          cancelTicket
// @Summary     Cancel a waiting ticket
// @Description Withdraws the current student's ticket from the queue. Loses cleanly to a
// @Description concurrent call: if a TA claimed the ticket first, the cancel returns 409.
// @Tags        Tickets
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Student ID (must own the ticket)"  example(student42)
// @Param       id         path    string  true  "Ticket ID (UUID)"                  format(uuid)
//
// @Success     200  {object}  domain.Ticket
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Not the ticket's student"
// @Failure     404  {object}  handlers.ErrorResponse  "Ticket not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Already claimed or wrong state"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /tickets/{id}/cancel [put]
func (h *Handlers) CancelTicket(c *gin.Context) {
	id, okID := ticketIDParam(c)
	if !okID {
		return
	}
	t, err := h.ticketSvc.CancelTicket(c.Request.Context(), id, userID(c))
	if err != nil {
		failTicketErr(c, err)
		return
	}
	ok(c, http.StatusOK, t)
}

// ReleaseTicket godoc
// @ID          releaseTicket
// @Summary     Return a called ticket to the queue
// @Description Puts the ticket back at the tail of its course queue, clearing the caller.
// @Description Only the TA holding the ticket may release it.
// @Tags        Tickets
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "TA ID (must match caller)"  example(ta-wu)
// @Param       id         path    string  true  "Ticket ID (UUID)"           format(uuid)
//
// @Success     200  {object}  domain.Ticket
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse  "Not the calling TA"
// @Failure     404  {object}  handlers.ErrorResponse  "Ticket not found"
// @Failure     409  {object}  handlers.ErrorResponse  "Invalid transition"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /tickets/{id}/release [put]
func (h *Handlers) ReleaseTicket(c *gin.Context) {
	id, okID := ticketIDParam(c)
	if !okID {
		return
	}
	t, err := h.ticketSvc.ReleaseTicket(c.Request.Context(), id, userID(c))
	if err != nil {
		failTicketErr(c, err)
		return
	}
	ok(c, http.StatusOK, t)
}

// GetSimilarTickets godoc
// @ID          getSimilarTickets
// @Summary     List similar closed tickets
// @Description Returns closed tickets from the same course and type whose content overlaps
// @Description with the given ticket, ranked by relevance. The list may be empty.
// @Tags        Tickets
// @Produce     json
//
// @Param       id  path  string  true  "Ticket ID (UUID)"  format(uuid)
//
// @Success     200  {object}  handlers.SimilarTicketsResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     404  {object}  handlers.ErrorResponse  "Ticket not found"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /tickets/{id}/similar [get]
func (h *Handlers) GetSimilarTickets(c *gin.Context) {
	id, okID := ticketIDParam(c)
	if !okID {
		return
	}
	items, err := h.ticketSvc.GetSimilarTickets(c.Request.Context(), id)
	if err != nil {
		failTicketErr(c, err)
		return
	}
	ok(c, http.StatusOK, SimilarTicketsResponse{Tickets: items})
}

// ticketIDParam validates the :id path parameter as a UUID. On failure it
// writes the 400 response itself and returns ok=false.
func ticketIDParam(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "ticket id must be a UUID")
		return "", false
	}
	return id, true
}

// ticketDB extracts the underlying *gorm.DB from a concrete QueueService, or
// nil when the service is backed by something else (tests use fakes).
func ticketDB(svc TicketService) *gorm.DB {
	if qs, ok := svc.(*services.QueueService); ok {
		return qs.DB
	}
	return nil
}
