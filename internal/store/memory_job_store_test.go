package store

import (
	"context"
	"errors"
	"testing"

	"github.com/dunamismax/docflow/internal/domain"
)

func TestMemoryStoreJobLifecycle(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	created, err := s.CreateJob(ctx, domain.Job{
		UserID:    "user-1",
		Title:     "lecture.mp4",
		ObjectKey: "uploads/abc/source",
	})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if created.ID == 0 {
		t.Fatal("expected assigned job id")
	}
	if created.Status != domain.JobStatusPending {
		t.Fatalf("expected status PENDING, got %s", created.Status)
	}

	progress := 60
	step := "Structuring content with AI..."
	updated, err := s.UpdateJob(ctx, created.ID, domain.JobUpdate{
		Status:      domain.JobStatusProcessing,
		Progress:    &progress,
		CurrentStep: &step,
	})
	if err != nil {
		t.Fatalf("update job: %v", err)
	}
	if updated.Progress != 60 || updated.CurrentStep != step {
		t.Fatalf("partial update not applied: %+v", updated)
	}
	if updated.Title != "lecture.mp4" {
		t.Fatal("unrelated fields must survive partial updates")
	}

	got, ok, err := s.GetJob(ctx, created.ID)
	if err != nil || !ok {
		t.Fatalf("get job: ok=%v err=%v", ok, err)
	}
	if got.Status != domain.JobStatusProcessing {
		t.Fatalf("expected PROCESSING, got %s", got.Status)
	}
}

func TestMemoryStoreRejectsUpdatesAfterTerminalStatus(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	job, err := s.CreateJob(ctx, domain.Job{UserID: "user-1", Title: "t", ObjectKey: "k"})
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	if _, err := s.UpdateJob(ctx, job.ID, domain.JobUpdate{Status: domain.JobStatusCompleted}); err != nil {
		t.Fatalf("complete job: %v", err)
	}

	_, err = s.UpdateJob(ctx, job.ID, domain.JobUpdate{Status: domain.JobStatusProcessing})
	if !errors.Is(err, ErrJobTerminal) {
		t.Fatalf("expected ErrJobTerminal, got %v", err)
	}
}

func TestMemoryStoreUpdateUnknownJob(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.UpdateJob(context.Background(), 42, domain.JobUpdate{Status: domain.JobStatusProcessing})
	if !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestMemoryStoreDocumentsAndUsage(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	doc, err := s.CreateDocument(ctx, domain.Document{
		JobID:       7,
		UserID:      "user-1",
		Title:       "Lecture notes",
		ObjectKey:   "documents/7/index.html",
		ContentType: "text/html",
		SizeBytes:   1024,
	})
	if err != nil {
		t.Fatalf("create document: %v", err)
	}

	got, ok, err := s.GetDocument(ctx, doc.ID)
	if err != nil || !ok {
		t.Fatalf("get document: ok=%v err=%v", ok, err)
	}
	if got.ObjectKey != "documents/7/index.html" {
		t.Fatalf("unexpected document: %+v", got)
	}

	if err := s.CreateUsageLog(ctx, domain.UsageLog{UserID: "user-1", JobID: 7, TranscriptChars: 120}); err != nil {
		t.Fatalf("create usage log: %v", err)
	}
	if logs := s.UsageLogs(); len(logs) != 1 || logs[0].TranscriptChars != 120 {
		t.Fatalf("unexpected usage logs: %+v", logs)
	}
}
