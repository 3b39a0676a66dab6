// Package repo implements the data persistence layer for domain entities.
// This file provides MemStore, a complete in-memory ticket store. It is the
// reference implementation of the service layer's TicketStore contract:
// tests run against it, and it documents the minimum semantics any real
// backend must provide (save is atomic per ticket, get reflects the latest
// save, history is append-only).
package repo

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/coursekit/go-officehours-backend/internal/domain"
)

// MemStore stores tickets and history in process memory. Safe for concurrent
// use. The *gorm.DB parameters exist to satisfy the TicketStore contract and
// are ignored.
type MemStore struct {
	mu      sync.RWMutex
	tickets map[string]domain.Ticket
	history []domain.TicketHistory
}

// NewMemStore returns an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{tickets: make(map[string]domain.Ticket)}
}

// GetTicket returns a copy of the stored ticket or ErrNotFound.
func (m *MemStore) GetTicket(_ context.Context, _ *gorm.DB, id string) (*domain.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &t, nil
}

// SaveTicket upserts a copy of t. The stored value is replaced wholesale, so
// a save is atomic per ticket.
func (m *MemStore) SaveTicket(_ context.Context, _ *gorm.DB, t *domain.Ticket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.UpdatedAt = time.Now().UTC()
	m.tickets[t.ID] = *t
	return nil
}

// AppendHistory records one audit entry. Entries are never mutated after
// creation.
func (m *MemStore) AppendHistory(_ context.Context, _ *gorm.DB, h *domain.TicketHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now().UTC()
	}
	m.history = append(m.history, *h)
	return nil
}

// FindClosedByCourseAndType returns closed tickets of the course and type,
// most recently closed first.
func (m *MemStore) FindClosedByCourseAndType(_ context.Context, _ *gorm.DB, courseID string, typ domain.TicketType) ([]domain.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Ticket, 0)
	for _, t := range m.tickets {
		if t.CourseID == courseID && t.Type == typ && t.State == domain.StateClosed {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		at, bt := a.CreatedAt, b.CreatedAt
		if a.ClosedAt != nil {
			at = *a.ClosedAt
		}
		if b.ClosedAt != nil {
			bt = *b.ClosedAt
		}
		if !at.Equal(bt) {
			return at.After(bt)
		}
		return a.ID < b.ID
	})
	return out, nil
}

// ListClosedTickets returns every closed ticket in id order.
func (m *MemStore) ListClosedTickets(_ context.Context, _ *gorm.DB) ([]domain.Ticket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Ticket, 0)
	for _, t := range m.tickets {
		if t.State == domain.StateClosed {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// History returns a copy of the audit log, in append order. Test helper.
func (m *MemStore) History() []domain.TicketHistory {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.TicketHistory, len(m.history))
	copy(out, m.history)
	return out
}
