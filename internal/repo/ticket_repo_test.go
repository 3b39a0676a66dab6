package repo

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/coursekit/go-officehours-backend/internal/domain"
)

func newDB(t *testing.T, dsn string) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+dsn+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func mkTicket(id, course string, state domain.TicketState, createdAt time.Time) *domain.Ticket {
	t := &domain.Ticket{
		ID:          id,
		CourseID:    course,
		StudentID:   "s-" + id,
		Type:        domain.TypeConceptualHelp,
		Description: "description for " + id,
		State:       state,
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
	}
	if state == domain.StateClosed {
		closedAt := createdAt.Add(30 * time.Minute)
		t.ClosedAt = &closedAt
		t.MeetingSummary = "summary"
		t.SolutionsUsed = "solutions"
	}
	return t
}

var base = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestSaveAndGetTicket_Roundtrip(t *testing.T) {
	db := newDB(t, "repo_roundtrip")
	ctx := context.Background()

	in := mkTicket("11111111-0000-0000-0000-000000000001", "cs1", domain.StateQueued, base)
	if err := SaveTicket(ctx, db, in); err != nil {
		t.Fatalf("SaveTicket: %v", err)
	}

	got, err := GetTicket(ctx, db, in.ID)
	if err != nil {
		t.Fatalf("GetTicket: %v", err)
	}
	if got.CourseID != "cs1" || got.State != domain.StateQueued || got.Description != in.Description {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}

	// Save again with a new state: row is replaced, not duplicated.
	in.State = domain.StateCancelled
	if err := SaveTicket(ctx, db, in); err != nil {
		t.Fatalf("SaveTicket update: %v", err)
	}
	got, err = GetTicket(ctx, db, in.ID)
	if err != nil {
		t.Fatalf("GetTicket after update: %v", err)
	}
	if got.State != domain.StateCancelled {
		t.Fatalf("state after update = %s", got.State)
	}
}

func TestGetTicket_NotFound(t *testing.T) {
	db := newDB(t, "repo_notfound")
	_, err := GetTicket(context.Background(), db, "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAppendHistory_GeneratesIDAndTimestamp(t *testing.T) {
	db := newDB(t, "repo_history")
	ctx := context.Background()

	h := &domain.TicketHistory{
		TicketID:  "t-1",
		FromState: domain.StateQueued,
		ToState:   domain.StateCalled,
		Actor:     "ta-1",
	}
	if err := AppendHistory(ctx, db, h); err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}
	if h.ID == "" || h.CreatedAt.IsZero() {
		t.Fatalf("id/timestamp not filled: %+v", h)
	}

	// Second entry later; ListHistory returns oldest first.
	h2 := &domain.TicketHistory{
		TicketID:  "t-1",
		FromState: domain.StateCalled,
		ToState:   domain.StateClosed,
		Actor:     "ta-1",
		CreatedAt: h.CreatedAt.Add(time.Minute),
	}
	if err := AppendHistory(ctx, db, h2); err != nil {
		t.Fatalf("AppendHistory 2: %v", err)
	}

	trail, err := ListHistory(ctx, db, "t-1")
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(trail) != 2 {
		t.Fatalf("history len = %d, want 2", len(trail))
	}
	if trail[0].ToState != domain.StateCalled || trail[1].ToState != domain.StateClosed {
		t.Fatalf("history order wrong: %+v", trail)
	}
}

func TestFindClosedByCourseAndType_FiltersAndOrders(t *testing.T) {
	db := newDB(t, "repo_closed")
	ctx := context.Background()

	older := mkTicket("aaaa0000-0000-0000-0000-000000000001", "cs1", domain.StateClosed, base)
	newer := mkTicket("aaaa0000-0000-0000-0000-000000000002", "cs1", domain.StateClosed, base.Add(time.Hour))
	otherCourse := mkTicket("aaaa0000-0000-0000-0000-000000000003", "cs2", domain.StateClosed, base)
	otherType := mkTicket("aaaa0000-0000-0000-0000-000000000004", "cs1", domain.StateClosed, base)
	otherType.Type = domain.TypeAssignmentHelp
	stillOpen := mkTicket("aaaa0000-0000-0000-0000-000000000005", "cs1", domain.StateQueued, base)

	for _, tk := range []*domain.Ticket{older, newer, otherCourse, otherType, stillOpen} {
		if err := SaveTicket(ctx, db, tk); err != nil {
			t.Fatalf("seed %s: %v", tk.ID, err)
		}
	}

	got, err := FindClosedByCourseAndType(ctx, db, "cs1", domain.TypeConceptualHelp)
	if err != nil {
		t.Fatalf("FindClosedByCourseAndType: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2: %+v", len(got), got)
	}
	if got[0].ID != newer.ID || got[1].ID != older.ID {
		t.Fatalf("order = [%s %s], want newest first", got[0].ID, got[1].ID)
	}
}

func TestListClosedTickets_AllCourses(t *testing.T) {
	db := newDB(t, "repo_allclosed")
	ctx := context.Background()

	for i, course := range []string{"cs1", "cs2"} {
		tk := mkTicket("bbbb0000-0000-0000-0000-00000000000"+string(rune('1'+i)), course, domain.StateClosed, base.Add(time.Duration(i)*time.Hour))
		if err := SaveTicket(ctx, db, tk); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	open := mkTicket("bbbb0000-0000-0000-0000-000000000009", "cs1", domain.StateQueued, base)
	if err := SaveTicket(ctx, db, open); err != nil {
		t.Fatalf("seed open: %v", err)
	}

	got, err := ListClosedTickets(ctx, db)
	if err != nil {
		t.Fatalf("ListClosedTickets: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
}

func TestQueueRecoveryQueries(t *testing.T) {
	db := newDB(t, "repo_recovery")
	ctx := context.Background()

	// Two queued in cs1 (out of creation order on insert), one in cs2, one
	// closed that must not appear.
	second := mkTicket("cccc0000-0000-0000-0000-000000000002", "cs1", domain.StateQueued, base.Add(time.Minute))
	first := mkTicket("cccc0000-0000-0000-0000-000000000001", "cs1", domain.StateQueued, base)
	other := mkTicket("cccc0000-0000-0000-0000-000000000003", "cs2", domain.StateQueued, base)
	done := mkTicket("cccc0000-0000-0000-0000-000000000004", "cs1", domain.StateClosed, base)
	for _, tk := range []*domain.Ticket{second, first, other, done} {
		if err := SaveTicket(ctx, db, tk); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	courses, err := ListQueuedCourses(ctx, db)
	if err != nil {
		t.Fatalf("ListQueuedCourses: %v", err)
	}
	if len(courses) != 2 {
		t.Fatalf("courses = %v, want cs1+cs2", courses)
	}

	queued, err := ListQueuedByCourse(ctx, db, "cs1")
	if err != nil {
		t.Fatalf("ListQueuedByCourse: %v", err)
	}
	if len(queued) != 2 {
		t.Fatalf("queued len = %d, want 2", len(queued))
	}
	if queued[0].ID != first.ID || queued[1].ID != second.ID {
		t.Fatalf("recovery order = [%s %s], want creation order", queued[0].ID, queued[1].ID)
	}
}

func TestQueueStats(t *testing.T) {
	db := newDB(t, "repo_stats")
	ctx := context.Background()

	// Empty course: zero count, nil timestamp.
	count, maxTS, err := QueueStats(ctx, db, "cs1")
	if err != nil {
		t.Fatalf("QueueStats empty: %v", err)
	}
	if count != 0 || maxTS != nil {
		t.Fatalf("empty stats = %d %v", count, maxTS)
	}

	a := mkTicket("dddd0000-0000-0000-0000-000000000001", "cs1", domain.StateQueued, base)
	b := mkTicket("dddd0000-0000-0000-0000-000000000002", "cs1", domain.StateQueued, base.Add(time.Hour))
	for _, tk := range []*domain.Ticket{a, b} {
		if err := SaveTicket(ctx, db, tk); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	count, maxTS, err = QueueStats(ctx, db, "cs1")
	if err != nil {
		t.Fatalf("QueueStats: %v", err)
	}
	if count != 2 {
		t.Fatalf("count = %d, want 2", count)
	}
	if maxTS == nil || maxTS.Before(base) {
		t.Fatalf("maxUpdatedAt = %v, want a recent timestamp", maxTS)
	}
}
