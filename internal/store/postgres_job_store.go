package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dunamismax/docflow/internal/domain"
	_ "github.com/lib/pq"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS jobs (
	id BIGSERIAL PRIMARY KEY,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL,
	status TEXT NOT NULL,
	progress INT NOT NULL DEFAULT 0,
	current_step TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	webhook_url TEXT NOT NULL DEFAULT '',
	object_key TEXT NOT NULL,
	document_id BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS documents (
	id BIGSERIAL PRIMARY KEY,
	job_id BIGINT NOT NULL,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL,
	object_key TEXT NOT NULL,
	content_type TEXT NOT NULL,
	size_bytes BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_logs (
	id BIGSERIAL PRIMARY KEY,
	user_id TEXT NOT NULL,
	job_id BIGINT NOT NULL,
	transcript_chars BIGINT NOT NULL,
	rendered_bytes BIGINT NOT NULL,
	compute_time_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	s := &PostgresStore{db: db}
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure docflow schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) CreateJob(ctx context.Context, job domain.Job) (domain.Job, error) {
	now := time.Now().UTC()
	if job.Status == "" {
		job.Status = domain.JobStatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now

	err := s.db.QueryRowContext(
		ctx,
		`INSERT INTO jobs (user_id, title, status, progress, current_step, error_message, webhook_url, object_key, document_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id`,
		job.UserID,
		job.Title,
		job.Status,
		job.Progress,
		job.CurrentStep,
		job.ErrorMessage,
		job.WebhookURL,
		job.ObjectKey,
		job.DocumentID,
		job.CreatedAt,
		job.UpdatedAt,
	).Scan(&job.ID)
	if err != nil {
		return domain.Job{}, fmt.Errorf("insert job: %w", err)
	}

	return job, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id int64) (domain.Job, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, user_id, title, status, progress, current_step, error_message, webhook_url, object_key, document_id, created_at, updated_at
		 FROM jobs
		 WHERE id = $1`,
		id,
	)

	var job domain.Job
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Title,
		&job.Status,
		&job.Progress,
		&job.CurrentStep,
		&job.ErrorMessage,
		&job.WebhookURL,
		&job.ObjectKey,
		&job.DocumentID,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return domain.Job{}, false, nil
		}
		return domain.Job{}, false, fmt.Errorf("query job: %w", err)
	}

	return job, true, nil
}

func (s *PostgresStore) UpdateJob(ctx context.Context, id int64, update domain.JobUpdate) (domain.Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`UPDATE jobs
		 SET status = CASE WHEN $2 <> '' THEN $2 ELSE status END,
		     progress = COALESCE($3, progress),
		     current_step = COALESCE($4, current_step),
		     error_message = COALESCE($5, error_message),
		     object_key = COALESCE($6, object_key),
		     document_id = COALESCE($7, document_id),
		     updated_at = $8
		 WHERE id = $1 AND status NOT IN ($9, $10)
		 RETURNING id, user_id, title, status, progress, current_step, error_message, webhook_url, object_key, document_id, created_at, updated_at`,
		id,
		update.Status,
		update.Progress,
		update.CurrentStep,
		update.ErrorMessage,
		update.ObjectKey,
		update.DocumentID,
		time.Now().UTC(),
		domain.JobStatusCompleted,
		domain.JobStatusFailed,
	)

	var job domain.Job
	err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Title,
		&job.Status,
		&job.Progress,
		&job.CurrentStep,
		&job.ErrorMessage,
		&job.WebhookURL,
		&job.ObjectKey,
		&job.DocumentID,
		&job.CreatedAt,
		&job.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		// Either the job does not exist or it already reached a terminal
		// status; distinguish for the caller.
		if _, ok, getErr := s.GetJob(ctx, id); getErr != nil {
			return domain.Job{}, getErr
		} else if !ok {
			return domain.Job{}, ErrJobNotFound
		}
		return domain.Job{}, ErrJobTerminal
	}
	if err != nil {
		return domain.Job{}, fmt.Errorf("update job: %w", err)
	}

	return job, nil
}

func (s *PostgresStore) CreateDocument(ctx context.Context, doc domain.Document) (domain.Document, error) {
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}

	err := s.db.QueryRowContext(
		ctx,
		`INSERT INTO documents (job_id, user_id, title, object_key, content_type, size_bytes, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		doc.JobID,
		doc.UserID,
		doc.Title,
		doc.ObjectKey,
		doc.ContentType,
		doc.SizeBytes,
		doc.CreatedAt,
	).Scan(&doc.ID)
	if err != nil {
		return domain.Document{}, fmt.Errorf("insert document: %w", err)
	}

	return doc, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, id int64) (domain.Document, bool, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, job_id, user_id, title, object_key, content_type, size_bytes, created_at
		 FROM documents
		 WHERE id = $1`,
		id,
	)

	var doc domain.Document
	if err := row.Scan(
		&doc.ID,
		&doc.JobID,
		&doc.UserID,
		&doc.Title,
		&doc.ObjectKey,
		&doc.ContentType,
		&doc.SizeBytes,
		&doc.CreatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, fmt.Errorf("query document: %w", err)
	}

	return doc, true, nil
}

func (s *PostgresStore) CreateUsageLog(ctx context.Context, usage domain.UsageLog) error {
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO usage_logs (user_id, job_id, transcript_chars, rendered_bytes, compute_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		usage.UserID,
		usage.JobID,
		usage.TranscriptChars,
		usage.RenderedBytes,
		usage.ComputeTimeMS,
		usage.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}

	return nil
}
