package progress

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"

	"github.com/dunamismax/docflow/internal/domain"
	"github.com/dunamismax/docflow/internal/realtime"
	"github.com/dunamismax/docflow/internal/store"
)

type fakeUpdater struct {
	job domain.Job
	err error

	calls []domain.JobUpdate
}

func (f *fakeUpdater) UpdateJob(_ context.Context, _ int64, update domain.JobUpdate) (domain.Job, error) {
	f.calls = append(f.calls, update)
	if f.err != nil {
		return domain.Job{}, f.err
	}
	return f.job, nil
}

type fakePublisher struct {
	events []realtime.ProgressEvent
	err    error
}

func (f *fakePublisher) Publish(_ context.Context, event realtime.ProgressEvent) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func discard() *log.Logger { return log.New(io.Discard, "", 0) }

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func TestReportPersistsThenPublishes(t *testing.T) {
	updater := &fakeUpdater{job: domain.Job{
		ID:          5,
		Status:      domain.JobStatusProcessing,
		Progress:    55,
		CurrentStep: "Structuring content with AI...",
	}}
	publisher := &fakePublisher{}
	reporter := NewReporter(updater, publisher, discard())

	err := reporter.Report(context.Background(), 5, domain.JobUpdate{
		Status:      domain.JobStatusProcessing,
		Progress:    intPtr(55),
		CurrentStep: strPtr("Structuring content with AI..."),
	})
	if err != nil {
		t.Fatalf("Report returned error: %v", err)
	}

	if len(updater.calls) != 1 {
		t.Fatalf("expected one store update, got %d", len(updater.calls))
	}
	if len(publisher.events) != 1 {
		t.Fatalf("expected one published event, got %d", len(publisher.events))
	}
	got := publisher.events[0]
	if got.JobID != 5 || got.Status != domain.JobStatusProcessing || got.Progress != 55 {
		t.Fatalf("unexpected published event: %+v", got)
	}
}

func TestReportSuppressesPublishOnPersistFailure(t *testing.T) {
	updater := &fakeUpdater{err: errors.New("connection reset")}
	publisher := &fakePublisher{}
	reporter := NewReporter(updater, publisher, discard())

	err := reporter.Report(context.Background(), 5, domain.JobUpdate{Status: domain.JobStatusProcessing})
	if err == nil {
		t.Fatal("expected persist failure to surface")
	}
	if len(publisher.events) != 0 {
		t.Fatal("persist failure must suppress the broadcast")
	}
}

func TestReportDropsUpdatesForTerminalJobs(t *testing.T) {
	updater := &fakeUpdater{err: store.ErrJobTerminal}
	publisher := &fakePublisher{}
	reporter := NewReporter(updater, publisher, discard())

	if err := reporter.Report(context.Background(), 5, domain.JobUpdate{Status: domain.JobStatusProcessing}); err != nil {
		t.Fatalf("terminal drop must not be an error: %v", err)
	}
	if len(publisher.events) != 0 {
		t.Fatal("terminal drop must not publish")
	}
}

func TestReportToleratesPublishFailure(t *testing.T) {
	updater := &fakeUpdater{job: domain.Job{ID: 5, Status: domain.JobStatusCompleted, Progress: 100}}
	publisher := &fakePublisher{err: errors.New("channel gone")}
	reporter := NewReporter(updater, publisher, discard())

	if err := reporter.Report(context.Background(), 5, domain.JobUpdate{Status: domain.JobStatusCompleted}); err != nil {
		t.Fatalf("publish failure must not fail the report: %v", err)
	}
}
