// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the Ticket
// model and its append-only history.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: no business logic, only CRUD persistence and query composition.
// Lifecycle legality, queue membership, and ownership checks belong to the
// lifecycle, queue, and services packages.
//
// Error semantics:
//   - When a ticket is not found, functions return gorm.ErrRecordNotFound
//     (also exported here as ErrNotFound for convenience).
//   - On DB errors (constraint violations, connectivity issues, etc.),
//     the raw gorm error is propagated; the service layer wraps them.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coursekit/go-officehours-backend/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist. It aliases
// gorm.ErrRecordNotFound for consistency across services and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// GetTicket fetches a single ticket by id, or ErrNotFound if missing.
func GetTicket(ctx context.Context, db *gorm.DB, id string) (*domain.Ticket, error) {
	var t domain.Ticket
	if err := db.WithContext(ctx).Where("id = ?", id).First(&t).Error; err != nil {
		return nil, err
	}
	return &t, nil
}

// SaveTicket upserts the full ticket row. The write is atomic per ticket;
// callers wanting ticket + history atomicity wrap both calls in a
// transaction-bound handle.
func SaveTicket(ctx context.Context, db *gorm.DB, t *domain.Ticket) error {
	return db.WithContext(ctx).Save(t).Error
}

// AppendHistory inserts one audit entry. The entry id is generated here; the
// timestamp defaults to now (UTC) when the caller leaves it zero. History
// rows are never updated or deleted.
func AppendHistory(ctx context.Context, db *gorm.DB, h *domain.TicketHistory) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	return db.WithContext(ctx).Create(h).Error
}

// ListHistory returns the audit trail for a ticket, oldest first.
func ListHistory(ctx context.Context, db *gorm.DB, ticketID string) ([]domain.TicketHistory, error) {
	var out []domain.TicketHistory
	err := db.WithContext(ctx).
		Where("ticket_id = ?", ticketID).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// FindClosedByCourseAndType returns closed tickets for a course filtered by
// type, most recently closed first. Used by the similarity flow to resolve
// candidate tickets.
func FindClosedByCourseAndType(ctx context.Context, db *gorm.DB, courseID string, typ domain.TicketType) ([]domain.Ticket, error) {
	var out []domain.Ticket
	err := db.WithContext(ctx).
		Where("course_id = ? AND type = ? AND state = ?", courseID, typ, domain.StateClosed).
		Order("closed_at desc").
		Find(&out).Error
	return out, err
}

// ListClosedTickets returns every closed ticket. Used once at startup to warm
// the similarity index; not exposed through the API.
func ListClosedTickets(ctx context.Context, db *gorm.DB) ([]domain.Ticket, error) {
	var out []domain.Ticket
	err := db.WithContext(ctx).
		Where("state = ?", domain.StateClosed).
		Order("closed_at asc").
		Find(&out).Error
	return out, err
}

// ListQueuedByCourse returns the Queued tickets for a course ordered by
// creation time, ties broken by id. Used to rebuild the in-memory queue on
// startup so a restart does not lose waiting students.
func ListQueuedByCourse(ctx context.Context, db *gorm.DB, courseID string) ([]domain.Ticket, error) {
	var out []domain.Ticket
	err := db.WithContext(ctx).
		Where("course_id = ? AND state = ?", courseID, domain.StateQueued).
		Order("created_at asc, id asc").
		Find(&out).Error
	return out, err
}

// ListQueuedCourses returns the distinct course ids that have at least one
// Queued ticket. Paired with ListQueuedByCourse for queue recovery.
func ListQueuedCourses(ctx context.Context, db *gorm.DB) ([]string, error) {
	var out []string
	err := db.WithContext(ctx).
		Model(&domain.Ticket{}).
		Where("state = ?", domain.StateQueued).
		Distinct("course_id").
		Pluck("course_id", &out).Error
	return out, err
}
