package domain

import "time"

type Document struct {
	ID          int64
	JobID       int64
	UserID      string
	Title       string
	ObjectKey   string
	ContentType string
	SizeBytes   int64
	CreatedAt   time.Time
}
