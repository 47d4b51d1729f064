// Package progress persists job state transitions and fans the resulting
// snapshots out to realtime subscribers. Persistence always happens before
// publication so a reconnecting client never sees a snapshot older than the
// last event it missed.
package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/dunamismax/docflow/internal/domain"
	"github.com/dunamismax/docflow/internal/realtime"
	"github.com/dunamismax/docflow/internal/store"
	"github.com/redis/go-redis/v9"
)

// JobUpdater is the slice of the job store the reporter needs.
type JobUpdater interface {
	UpdateJob(ctx context.Context, id int64, update domain.JobUpdate) (domain.Job, error)
}

// Publisher delivers a progress event to whatever transport carries it to
// the realtime hubs.
type Publisher interface {
	Publish(ctx context.Context, event realtime.ProgressEvent) error
}

// Reporter applies a job update and, once the new state is durable,
// publishes the stored snapshot.
type Reporter struct {
	jobs      JobUpdater
	publisher Publisher
	logger    *log.Logger
}

func NewReporter(jobs JobUpdater, publisher Publisher, logger *log.Logger) *Reporter {
	return &Reporter{jobs: jobs, publisher: publisher, logger: logger}
}

// Report persists the update and publishes the resulting snapshot. A failed
// persist suppresses the broadcast entirely. Updates against a job already in
// a terminal status are dropped without error.
func (r *Reporter) Report(ctx context.Context, jobID int64, update domain.JobUpdate) error {
	job, err := r.jobs.UpdateJob(ctx, jobID, update)
	if err != nil {
		if errors.Is(err, store.ErrJobTerminal) {
			r.logger.Printf("progress: job %d already terminal, dropping update", jobID)
			return nil
		}
		return fmt.Errorf("persist progress for job %d: %w", jobID, err)
	}

	if err := r.publisher.Publish(ctx, realtime.EventFromJob(job)); err != nil {
		// The state is durable; subscribers recover it on resubscribe.
		r.logger.Printf("progress: publish for job %d failed: %v", jobID, err)
	}
	return nil
}

// RedisPublisher publishes progress events on a Redis channel. API processes
// run a realtime.Feed subscribed to the same channel.
type RedisPublisher struct {
	rdb     redis.UniversalClient
	channel string
}

func NewRedisPublisher(rdb redis.UniversalClient, channel string) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, event realtime.ProgressEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal progress event: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish progress event: %w", err)
	}
	return nil
}
