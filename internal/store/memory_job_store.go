package store

import (
	"context"
	"sync"
	"time"

	"github.com/dunamismax/docflow/internal/domain"
)

type MemoryStore struct {
	mu         sync.RWMutex
	nextJobID  int64
	nextDocID  int64
	jobs       map[int64]domain.Job
	documents  map[int64]domain.Document
	usageLogs  []domain.UsageLog
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs:      make(map[int64]domain.Job),
		documents: make(map[int64]domain.Document),
	}
}

func (s *MemoryStore) CreateJob(_ context.Context, job domain.Job) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextJobID++
	job.ID = s.nextJobID
	if job.Status == "" {
		job.Status = domain.JobStatusPending
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	s.jobs[job.ID] = job
	return job, nil
}

func (s *MemoryStore) GetJob(_ context.Context, id int64) (domain.Job, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	return job, ok, nil
}

func (s *MemoryStore) UpdateJob(_ context.Context, id int64, update domain.JobUpdate) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}
	if domain.IsTerminalStatus(job.Status) {
		return domain.Job{}, ErrJobTerminal
	}

	if update.Status != "" {
		job.Status = update.Status
	}
	if update.Progress != nil {
		job.Progress = *update.Progress
	}
	if update.CurrentStep != nil {
		job.CurrentStep = *update.CurrentStep
	}
	if update.ErrorMessage != nil {
		job.ErrorMessage = *update.ErrorMessage
	}
	if update.ObjectKey != nil {
		job.ObjectKey = *update.ObjectKey
	}
	if update.DocumentID != nil {
		job.DocumentID = *update.DocumentID
	}
	job.UpdatedAt = time.Now().UTC()
	s.jobs[id] = job
	return job, nil
}

func (s *MemoryStore) CreateDocument(_ context.Context, doc domain.Document) (domain.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextDocID++
	doc.ID = s.nextDocID
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	s.documents[doc.ID] = doc
	return doc, nil
}

func (s *MemoryStore) GetDocument(_ context.Context, id int64) (domain.Document, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.documents[id]
	return doc, ok, nil
}

func (s *MemoryStore) CreateUsageLog(_ context.Context, usage domain.UsageLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now().UTC()
	}
	s.usageLogs = append(s.usageLogs, usage)
	return nil
}

// UsageLogs returns a copy of the recorded usage entries.
func (s *MemoryStore) UsageLogs() []domain.UsageLog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.UsageLog, len(s.usageLogs))
	copy(out, s.usageLogs)
	return out
}
