package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/coursekit/go-officehours-backend/internal/domain"
	"github.com/coursekit/go-officehours-backend/internal/lifecycle"
	"github.com/coursekit/go-officehours-backend/internal/notify"
	"github.com/coursekit/go-officehours-backend/internal/services"
)

const testTicketID = "7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab"

// stubService is a canned TicketService: every method records its arguments
// and returns the configured ticket/error pair.
type stubService struct {
	ticket  *domain.Ticket
	similar []domain.Ticket
	err     error

	gotActor       string
	gotCourse      string
	gotType        domain.TicketType
	gotDescription string
	gotPayload     lifecycle.ClosePayload
}

func (s *stubService) CreateTicket(_ context.Context, courseID, studentID string, typ domain.TicketType, description string) (*domain.Ticket, error) {
	s.gotCourse, s.gotActor, s.gotType, s.gotDescription = courseID, studentID, typ, description
	return s.ticket, s.err
}

func (s *stubService) CallTicket(_ context.Context, _, taID string) (*domain.Ticket, error) {
	s.gotActor = taID
	return s.ticket, s.err
}

func (s *stubService) CloseTicket(_ context.Context, _, taID string, p lifecycle.ClosePayload) (*domain.Ticket, error) {
	s.gotActor, s.gotPayload = taID, p
	return s.ticket, s.err
}

func (s *stubService) CancelTicket(_ context.Context, _, studentID string) (*domain.Ticket, error) {
	s.gotActor = studentID
	return s.ticket, s.err
}

func (s *stubService) ReleaseTicket(_ context.Context, _, taID string) (*domain.Ticket, error) {
	s.gotActor = taID
	return s.ticket, s.err
}

func (s *stubService) GetTicket(_ context.Context, _ string) (*domain.Ticket, error) {
	return s.ticket, s.err
}

func (s *stubService) GetSimilarTickets(_ context.Context, _ string) ([]domain.Ticket, error) {
	return s.similar, s.err
}

// stubQueue is a canned QueueReader.
type stubQueue struct {
	tickets []domain.Ticket
	err     error
}

func (s *stubQueue) ListQueue(_ context.Context, _ string) ([]domain.Ticket, error) {
	return s.tickets, s.err
}

// stubEvents hands out a pre-filled, already-closed channel so the stream
// handler drains it and returns.
type stubEvents struct {
	events    []notify.Event
	cancelled bool
}

func (s *stubEvents) Subscribe(_ string) (<-chan notify.Event, func()) {
	ch := make(chan notify.Event, len(s.events))
	for _, ev := range s.events {
		ch <- ev
	}
	close(ch)
	return ch, func() { s.cancelled = true }
}

func newTestRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/tickets", h.CreateTicket)
	r.GET("/tickets/:id", h.GetTicket)
	r.PUT("/tickets/:id/call", h.CallTicket)
	r.PUT("/tickets/:id/close", h.CloseTicket)
	r.PUT("/tickets/:id/cancel", h.CancelTicket)
	r.PUT("/tickets/:id/release", h.ReleaseTicket)
	r.GET("/tickets/:id/similar", h.GetSimilarTickets)
	r.GET("/courses/:id/queue", h.ListQueue)
	r.GET("/courses/:id/queue/events", h.QueueEvents)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(&closeNotifyRecorder{w}, req)
	return w
}

// closeNotifyRecorder adds the http.CloseNotifier method that gin's Stream
// helper requires but httptest.ResponseRecorder lacks.
type closeNotifyRecorder struct {
	*httptest.ResponseRecorder
}

func (c *closeNotifyRecorder) CloseNotify() <-chan bool { return make(chan bool) }

func sampleTicket() *domain.Ticket {
	return &domain.Ticket{
		ID:          testTicketID,
		CourseID:    "cs1",
		StudentID:   "alice",
		Type:        domain.TypeConceptualHelp,
		Description: "help",
		State:       domain.StateQueued,
		CreatedAt:   time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
}

func TestErrorTranslation(t *testing.T) {
	cases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"not found", services.ErrTicketNotFound, http.StatusNotFound, ErrCodeNotFound},
		{"validation", services.ErrValidation, http.StatusBadRequest, ErrCodeValidation},
		{"not owner", services.ErrNotOwner, http.StatusForbidden, ErrCodeNotOwner},
		{"already claimed", services.ErrAlreadyClaimed, http.StatusConflict, ErrCodeAlreadyClaimed},
		{"duplicate enqueue", services.ErrDuplicateEnqueue, http.StatusConflict, ErrCodeConflict},
		{"invalid transition", services.ErrInvalidTransition, http.StatusConflict, ErrCodeInvalidTransition},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, ErrCodeInternal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubService{err: tc.err}
			r := newTestRouter(New(svc, &stubQueue{}, nil))

			w := doJSON(t, r, http.MethodPut, "/tickets/"+testTicketID+"/call", "", nil)
			if w.Code != tc.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tc.wantStatus)
			}
			var resp ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if resp.Code != tc.wantCode {
				t.Fatalf("code = %q, want %q", resp.Code, tc.wantCode)
			}
		})
	}
}

func TestTicketIDParam_RejectsNonUUID(t *testing.T) {
	r := newTestRouter(New(&stubService{}, &stubQueue{}, nil))
	w := doJSON(t, r, http.MethodGet, "/tickets/not-a-uuid", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestCreateTicket(t *testing.T) {
	t.Run("malformed body", func(t *testing.T) {
		r := newTestRouter(New(&stubService{}, &stubQueue{}, nil))
		w := doJSON(t, r, http.MethodPost, "/tickets", `{"course_id":"cs1"}`, nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
	})

	t.Run("bad type", func(t *testing.T) {
		r := newTestRouter(New(&stubService{}, &stubQueue{}, nil))
		w := doJSON(t, r, http.MethodPost, "/tickets",
			`{"course_id":"cs1","type":"espresso","description":"help"}`, nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
	})

	t.Run("description too long", func(t *testing.T) {
		r := newTestRouter(New(&stubService{}, &stubQueue{}, nil))
		body := `{"course_id":"cs1","type":"conceptual_help","description":"` + strings.Repeat("x", 4001) + `"}`
		w := doJSON(t, r, http.MethodPost, "/tickets", body, nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
	})

	t.Run("created with sanitized text and header identity", func(t *testing.T) {
		svc := &stubService{ticket: sampleTicket()}
		r := newTestRouter(New(svc, &stubQueue{}, nil))

		body := `{"course_id":"cs1","type":"conceptual_help","description":"line one\r\nline two\n\n\n\nend"}`
		w := doJSON(t, r, http.MethodPost, "/tickets", body, map[string]string{"X-User-ID": "student42"})
		if w.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
		}
		if svc.gotActor != "student42" {
			t.Fatalf("student = %q, want header identity", svc.gotActor)
		}
		if svc.gotDescription != "line one\nline two\n\nend" {
			t.Fatalf("description = %q, want sanitized", svc.gotDescription)
		}
		var got domain.Ticket
		if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.ID != testTicketID {
			t.Fatalf("body ticket id = %q", got.ID)
		}
	})

	t.Run("fallback identity", func(t *testing.T) {
		svc := &stubService{ticket: sampleTicket()}
		r := newTestRouter(New(svc, &stubQueue{}, nil))
		w := doJSON(t, r, http.MethodPost, "/tickets",
			`{"course_id":"cs1","type":"assignment_help","description":"help"}`, nil)
		if w.Code != http.StatusCreated {
			t.Fatalf("status = %d, want 201", w.Code)
		}
		if svc.gotActor != "demo-user" {
			t.Fatalf("student = %q, want demo fallback", svc.gotActor)
		}
		if svc.gotType != domain.TypeAssignmentHelp {
			t.Fatalf("type = %q", svc.gotType)
		}
	})
}

func TestCloseTicket(t *testing.T) {
	t.Run("missing required fields", func(t *testing.T) {
		r := newTestRouter(New(&stubService{}, &stubQueue{}, nil))
		w := doJSON(t, r, http.MethodPut, "/tickets/"+testTicketID+"/close",
			`{"meeting_summary":"covered it"}`, nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
	})

	t.Run("payload forwarded", func(t *testing.T) {
		closed := sampleTicket()
		closed.State = domain.StateClosed
		svc := &stubService{ticket: closed}
		r := newTestRouter(New(svc, &stubQueue{}, nil))

		body := `{"meeting_summary":" covered it ","solutions_used":"whiteboard","concepts_for_review":"loops","have_concerns":true}`
		w := doJSON(t, r, http.MethodPut, "/tickets/"+testTicketID+"/close", body,
			map[string]string{"X-User-ID": "ta-1"})
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
		}
		if svc.gotActor != "ta-1" {
			t.Fatalf("ta = %q", svc.gotActor)
		}
		p := svc.gotPayload
		if p.MeetingSummary != "covered it" || p.SolutionsUsed != "whiteboard" || p.ConceptsForReview != "loops" || !p.HaveConcerns {
			t.Fatalf("payload = %+v", p)
		}
	})
}

func TestGetSimilarTickets_WrapsList(t *testing.T) {
	svc := &stubService{similar: []domain.Ticket{*sampleTicket()}}
	r := newTestRouter(New(svc, &stubQueue{}, nil))

	w := doJSON(t, r, http.MethodGet, "/tickets/"+testTicketID+"/similar", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var resp SimilarTicketsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Tickets) != 1 || resp.Tickets[0].ID != testTicketID {
		t.Fatalf("tickets = %+v", resp.Tickets)
	}
}

func TestListQueue(t *testing.T) {
	t.Run("course id too long", func(t *testing.T) {
		r := newTestRouter(New(&stubService{}, &stubQueue{}, nil))
		w := doJSON(t, r, http.MethodGet, "/courses/"+strings.Repeat("x", 65)+"/queue", "", nil)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
	})

	t.Run("nil listing becomes empty array", func(t *testing.T) {
		r := newTestRouter(New(&stubService{}, &stubQueue{}, nil))
		w := doJSON(t, r, http.MethodGet, "/courses/cs1/queue", "", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		if !strings.Contains(w.Body.String(), `"tickets":[]`) {
			t.Fatalf("body = %s, want empty tickets array", w.Body.String())
		}
	})

	t.Run("limit clamps the snapshot", func(t *testing.T) {
		many := make([]domain.Ticket, 5)
		for i := range many {
			many[i] = *sampleTicket()
		}
		r := newTestRouter(New(&stubService{}, &stubQueue{tickets: many}, nil))

		w := doJSON(t, r, http.MethodGet, "/courses/cs1/queue?limit=2", "", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		var resp QueueResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if len(resp.Tickets) != 2 {
			t.Fatalf("len = %d, want 2", len(resp.Tickets))
		}
		if resp.CourseID != "cs1" {
			t.Fatalf("course = %q", resp.CourseID)
		}
	})
}

func TestQueueEvents(t *testing.T) {
	t.Run("streaming disabled", func(t *testing.T) {
		r := newTestRouter(New(&stubService{}, &stubQueue{}, nil))
		w := doJSON(t, r, http.MethodGet, "/courses/cs1/queue/events", "", nil)
		if w.Code != http.StatusServiceUnavailable {
			t.Fatalf("status = %d, want 503", w.Code)
		}
	})

	t.Run("forwards events until the channel closes", func(t *testing.T) {
		src := &stubEvents{events: []notify.Event{
			{Kind: notify.KindCreated, Ticket: *sampleTicket(), Actor: "alice"},
			{Kind: notify.KindCalled, Ticket: *sampleTicket(), Actor: "ta-1"},
		}}
		r := newTestRouter(New(&stubService{}, &stubQueue{}, src))

		w := doJSON(t, r, http.MethodGet, "/courses/cs1/queue/events", "", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
			t.Fatalf("content type = %q", ct)
		}
		body := w.Body.String()
		if !strings.Contains(body, "event:created") || !strings.Contains(body, "event:called") {
			t.Fatalf("stream body = %q", body)
		}
		if !strings.Contains(body, testTicketID) {
			t.Fatal("stream body missing ticket payload")
		}
		if !src.cancelled {
			t.Fatal("subscription not cancelled after the stream ended")
		}
	})
}
