// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries used for
// conditional responses (ETag generation) on the queue listing endpoint.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/coursekit/go-officehours-backend/internal/domain"
)

// QueueStats returns aggregate metadata for a course's waiting tickets: the
// number of Queued rows and the greatest UpdatedAt among them. A queue
// listing only changes when one of those changes, which makes the pair a
// cheap ETag input.
//
// When the course has no waiting tickets, count is 0 and maxUpdatedAt is nil.
func QueueStats(ctx context.Context, db *gorm.DB, courseID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).
		Model(&domain.Ticket{}).
		Where("course_id = ? AND state = ?", courseID, domain.StateQueued)

	if err = q.Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Latest updated_at (avoid MAX() -> TEXT in SQLite).
	var row struct {
		UpdatedAt time.Time
	}
	if err = q.Select("updated_at").Order("updated_at DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.UpdatedAt, nil
}
