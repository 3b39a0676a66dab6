// Package domain defines the core persistence models for the application.
// These types are used by GORM for database schema mapping and are shared
// across the repository and service layers.
package domain

import "time"

// Idempotency represents a recorded result of a previously processed ticket
// creation, keyed by (student_id, course_id, key). It lets a student safely
// retry POST /tickets (flaky network, double-tapped submit) without landing
// in the queue twice: the originally created ticket is replayed instead.
type Idempotency struct {
	ID        string    `gorm:"type:TEXT NOT NULL;primaryKey"`
	StudentID string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_student_course_key,priority:1"`
	CourseID  string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_student_course_key,priority:2"`
	Key       string    `gorm:"type:TEXT NOT NULL;uniqueIndex:ux_student_course_key,priority:3"`
	TicketID  string    `gorm:"type:TEXT NOT NULL"`
	Status    int       `gorm:"type:INTEGER NOT NULL"`
	CreatedAt time.Time `gorm:"type:DATETIME NOT NULL;autoCreateTime"`
	ExpiresAt time.Time `gorm:"type:DATETIME NOT NULL;index"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
