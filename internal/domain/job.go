package domain

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	JobStatusPending    = "PENDING"
	JobStatusProcessing = "PROCESSING"
	JobStatusCompleted  = "COMPLETED"
	JobStatusFailed     = "FAILED"
)

// DefaultStepLabel is reported for jobs that have not produced a progress
// update yet.
const DefaultStepLabel = "Starting..."

type CreateJobRequest struct {
	Title      string `json:"title"`
	WebhookURL string `json:"webhook_url,omitempty"`
}

type Job struct {
	ID           int64
	UserID       string
	Title        string
	Status       string
	Progress     int
	CurrentStep  string
	ErrorMessage string
	WebhookURL   string
	ObjectKey    string
	DocumentID   int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// JobUpdate is a partial update applied to a stored job. An empty Status
// leaves the stored status untouched; pointer fields distinguish "unset"
// from an explicit zero.
type JobUpdate struct {
	Status       string
	Progress     *int
	CurrentStep  *string
	ErrorMessage *string
	ObjectKey    *string
	DocumentID   *int64
}

func (r CreateJobRequest) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return errors.New("title is required")
	}
	if webhookURL := strings.TrimSpace(r.WebhookURL); webhookURL != "" {
		parsed, err := url.Parse(webhookURL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return fmt.Errorf("webhook_url must be an absolute http(s) URL")
		}
	}
	return nil
}

// IsTerminalStatus reports whether a job status accepts no further
// transitions.
func IsTerminalStatus(status string) bool {
	return status == JobStatusCompleted || status == JobStatusFailed
}

func ValidJobStatus(status string) bool {
	switch status {
	case JobStatusPending, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}
