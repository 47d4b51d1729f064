package realtime

import "github.com/dunamismax/docflow/internal/domain"

// Inbound message tags accepted over the socket. Anything else is reported
// back as a malformed message and the connection stays open.
const (
	msgTypeSubscribe   = "subscribe"
	msgTypeUnsubscribe = "unsubscribe"
	msgTypePing        = "ping"
)

const (
	errInvalidMessage   = "Invalid message format"
	errAuthRequired     = "Authentication required"
	errJobNotFound      = "Job not found"
	errJobNotAuthorized = "Not authorized to access this job"
)

type clientMessage struct {
	Type  string `json:"type"`
	JobID int64  `json:"jobId"`
}

type serverMessage struct {
	Type    string `json:"type"`
	JobID   int64  `json:"jobId,omitempty"`
	Message string `json:"message,omitempty"`
}

// ProgressEvent is the wire form of a job progress update. ErrorMessage is
// serialized as an explicit null while the job has not failed.
type ProgressEvent struct {
	JobID        int64   `json:"jobId"`
	Status       string  `json:"status"`
	Progress     int     `json:"progress"`
	CurrentStep  string  `json:"currentStep"`
	ErrorMessage *string `json:"errorMessage"`
}

type progressMessage struct {
	Type string `json:"type"`
	ProgressEvent
}

// EventFromJob maps stored job state to its wire form, substituting the
// defaults clients expect for jobs that never reported progress.
func EventFromJob(job domain.Job) ProgressEvent {
	event := ProgressEvent{
		JobID:       job.ID,
		Status:      job.Status,
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
	}
	if event.Status == "" {
		event.Status = domain.JobStatusPending
	}
	if event.CurrentStep == "" {
		event.CurrentStep = domain.DefaultStepLabel
	}
	if job.ErrorMessage != "" {
		msg := job.ErrorMessage
		event.ErrorMessage = &msg
	}
	return event
}
