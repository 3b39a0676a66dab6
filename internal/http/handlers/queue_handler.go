// Course queue HTTP handlers.
//
// This file exposes the read side of a course's waiting queue:
//   - GET /courses/{id}/queue         (ordered snapshot, ETag support)
//   - GET /courses/{id}/queue/events  (live updates over Server-Sent Events)
//
// The snapshot endpoint is a plain conditional GET; the events endpoint holds
// the connection open and forwards ticket change notifications as they occur.
// Clients are expected to fetch the snapshot first and then apply events.
package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/coursekit/go-officehours-backend/internal/domain"
	"github.com/coursekit/go-officehours-backend/internal/notify"
	"github.com/coursekit/go-officehours-backend/internal/repo"
	"github.com/coursekit/go-officehours-backend/internal/utils"
)

// QueueReader defines the queue read operations consumed by HTTP handlers.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type QueueReader interface {
	// ListQueue returns the waiting tickets for a course in call order.
	ListQueue(ctx context.Context, courseID string) ([]domain.Ticket, error)
}

// EventSource provides per-course subscriptions to ticket change events.
// Subscribe returns a receive channel and a cancel function that must be
// called when the consumer goes away.
type EventSource interface {
	Subscribe(courseID string) (<-chan notify.Event, func())
}

// QueueResponse wraps the ordered queue snapshot for a course.
type QueueResponse struct {
	CourseID string          `json:"course_id"`
	Tickets  []domain.Ticket `json:"tickets"`
}

// courseIDParam validates the :id path parameter as a course identifier.
// Course ids are opaque slugs, not UUIDs; only emptiness and length are
// checked here. On failure it writes the 400 response itself.
func courseIDParam(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" || len(id) > 64 {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "course id must be 1-64 characters")
		return "", false
	}
	return id, true
}

// clampQueueLimit parses the optional limit query param, applying a default
// and an upper bound. 0 means "no explicit limit" and is mapped to the cap.
func clampQueueLimit(c *gin.Context) int {
	const (
		defaultLimit = 200
		maxLimit     = 500
	)
	n := utils.AtoiDefault(c.Query("limit"), defaultLimit)
	if n < 1 || n > maxLimit {
		return maxLimit
	}
	return n
}

// ListQueue godoc
// @ID          listQueue
// @Summary     List the waiting queue for a course
// @Description Returns waiting tickets in the order they will be called.
// @Description Supports weak ETag via If-None-Match and may return 304.
// @Tags        Queues
// @Produce     json
//
// @Param       id             path    string  true  "Course ID"                   example(cs161-fa26)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"  example(W/\"abc123\")
// @Param       limit          query   int     false "Max tickets returned"        minimum(1) maximum(500) default(200)
//
// @Success     200  {object} handlers.QueueResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /courses/{id}/queue [get]
func (h *Handlers) ListQueue(c *gin.Context) {
	ctx := c.Request.Context()
	courseID, okID := courseIDParam(c)
	if !okID {
		return
	}

	// ETag pre-check (best effort).
	if db := ticketDB(h.ticketSvc); db != nil {
		count, maxTS, err := repo.QueueStats(ctx, db, courseID)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"queue:%s:%d:%d"`, courseID, count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, err := h.queueSvc.ListQueue(ctx, courseID)
	if err != nil {
		failTicketErr(c, err)
		return
	}
	if items == nil {
		items = []domain.Ticket{}
	}
	if limit := clampQueueLimit(c); len(items) > limit {
		items = items[:limit]
	}
	ok(c, http.StatusOK, QueueResponse{CourseID: courseID, Tickets: items})
}

// QueueEvents godoc
// @ID          queueEvents
// @Summary     Stream queue changes for a course
// @Description Server-Sent Events stream of ticket changes in the course.
// @Description Each event's name is the change kind (created, called, ...)
// @Description and its data is the full ticket JSON. The connection stays open
// @Description until the client disconnects.
// @Tags        Queues
// @Produce     text/event-stream
//
// @Param       id  path  string  true  "Course ID"  example(cs161-fa26)
//
// @Success     200  {string} string "event stream"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     503  {object} handlers.ErrorResponse "Streaming unavailable"
// @Router      /courses/{id}/queue/events [get]
func (h *Handlers) QueueEvents(c *gin.Context) {
	courseID, okID := courseIDParam(c)
	if !okID {
		return
	}
	if h.events == nil {
		fail(c, http.StatusServiceUnavailable, ErrCodeInternal, "event streaming is not enabled")
		return
	}

	ch, cancel := h.events.Subscribe(courseID)
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case ev, open := <-ch:
			if !open {
				return false
			}
			c.SSEvent(string(ev.Kind), ev.Ticket)
			return true
		}
	})
}
