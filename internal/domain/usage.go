package domain

import "time"

type UsageLog struct {
	UserID          string
	JobID           int64
	TranscriptChars int64
	RenderedBytes   int64
	ComputeTimeMS   int64
	CreatedAt       time.Time
}
