package store

import (
	"context"
	"errors"

	"github.com/dunamismax/docflow/internal/domain"
)

var (
	ErrJobNotFound = errors.New("job not found")

	// ErrJobTerminal is returned when a progress update targets a job that
	// already reached COMPLETED or FAILED.
	ErrJobTerminal = errors.New("job is in a terminal state")
)

type JobStore interface {
	CreateJob(ctx context.Context, job domain.Job) (domain.Job, error)
	GetJob(ctx context.Context, id int64) (domain.Job, bool, error)
	UpdateJob(ctx context.Context, id int64, update domain.JobUpdate) (domain.Job, error)
}

type DocumentStore interface {
	CreateDocument(ctx context.Context, doc domain.Document) (domain.Document, error)
	GetDocument(ctx context.Context, id int64) (domain.Document, bool, error)
}

type UsageStore interface {
	CreateUsageLog(ctx context.Context, usage domain.UsageLog) error
}
