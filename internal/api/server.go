package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dunamismax/docflow/internal/domain"
	"github.com/dunamismax/docflow/internal/queue"
	"github.com/dunamismax/docflow/internal/session"
	"github.com/dunamismax/docflow/internal/storage"
	"github.com/dunamismax/docflow/internal/store"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger      *log.Logger
	queueClient queueEnqueuer
	jobs        store.JobStore
	documents   store.DocumentStore
	storage     objectStorage
	sessions    sessionValidator
	realtime    http.Handler
	rateLimiter RateLimiter
	presignTTL  time.Duration
	metrics     *metrics
	tracer      trace.Tracer
	mux         *http.ServeMux
}

type queueEnqueuer interface {
	EnqueueConvertVideo(ctx context.Context, payload queue.ConvertVideoPayload) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	PresignedPutURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	PresignedGetURL(ctx context.Context, objectKey string, expiry time.Duration) (string, error)
	ObjectExists(ctx context.Context, objectKey string) (bool, error)
}

type sessionValidator interface {
	ValidateCookieHeader(ctx context.Context, header string) (session.Identity, error)
}

// Deps carries the server's collaborators. Realtime is the already-built
// websocket handler; it authenticates its own connections.
type Deps struct {
	Queue           queueEnqueuer
	Jobs            store.JobStore
	Documents       store.DocumentStore
	Storage         objectStorage
	Sessions        sessionValidator
	Realtime        http.Handler
	RateLimiter     RateLimiter
	PresignTTL      time.Duration
	Tracer          trace.Tracer
	ExtraCollectors []prometheus.Collector
}

func NewServer(logger *log.Logger, deps Deps) *Server {
	presignTTL := deps.PresignTTL
	if presignTTL <= 0 {
		presignTTL = 15 * time.Minute
	}
	storageClient := deps.Storage
	if storageClient == nil {
		storageClient = unavailableObjectStorage{}
	}

	s := &Server{
		logger:      logger,
		queueClient: deps.Queue,
		jobs:        deps.Jobs,
		documents:   deps.Documents,
		storage:     storageClient,
		sessions:    deps.Sessions,
		realtime:    deps.Realtime,
		rateLimiter: deps.RateLimiter,
		presignTTL:  presignTTL,
		metrics:     newMetrics(deps.ExtraCollectors...),
		tracer:      deps.Tracer,
		mux:         http.NewServeMux(),
	}
	s.routes()
	return s
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) PresignedPutURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) PresignedGetURL(_ context.Context, _ string, _ time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (unavailableObjectStorage) ObjectExists(_ context.Context, _ string) (bool, error) {
	return false, errors.New("object storage is unavailable")
}

func (s *Server) Handler() http.Handler {
	return withRequestID(s.metrics.withHTTPMetrics(s.withTracing(s.mux)))
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.Handle("GET /metrics", s.metrics.metricsHandler())
	s.mux.Handle("POST /v1/jobs", s.requireSession(s.withRateLimit(http.HandlerFunc(s.handleCreateJob))))
	s.mux.Handle("POST /v1/jobs/", s.requireSession(s.withRateLimit(http.HandlerFunc(s.handleStartJob))))
	s.mux.Handle("GET /v1/jobs/", s.requireSession(http.HandlerFunc(s.handleGetJob)))
	s.mux.Handle("GET /v1/documents/", s.requireSession(http.HandlerFunc(s.handleGetDocument)))
	if s.realtime != nil {
		s.mux.Handle("GET /v1/ws", s.realtime)
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())

	var req domain.CreateJobRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	job, err := s.jobs.CreateJob(r.Context(), domain.Job{
		UserID:      identity.UserID,
		Title:       strings.TrimSpace(req.Title),
		Status:      domain.JobStatusPending,
		CurrentStep: domain.DefaultStepLabel,
		WebhookURL:  strings.TrimSpace(req.WebhookURL),
	})
	if err != nil {
		s.logger.Printf("create job failed user=%s: %v", identity.UserID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create job"})
		return
	}

	objectKey := storage.SourceKey(job.ID)
	uploadURL, err := s.storage.PresignedPutURL(r.Context(), objectKey, s.presignTTL)
	if err != nil {
		s.logger.Printf("generate presigned url failed for job %d: %v", job.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to generate upload URL"})
		return
	}

	if _, err := s.jobs.UpdateJob(r.Context(), job.ID, domain.JobUpdate{ObjectKey: &objectKey}); err != nil {
		s.logger.Printf("persist object key failed for job %d: %v", job.ID, err)
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID,
		"status": job.Status,
		"upload": map[string]string{
			"object_key":        objectKey,
			"presigned_put_url": uploadURL,
		},
		"start_url": fmt.Sprintf("/v1/jobs/%d/start", job.ID),
	})
}

func (s *Server) handleStartJob(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())

	jobID, err := extractJobIDFromStartPath(r.URL.Path)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	job, ok := s.loadOwnedJob(w, r, jobID, identity.UserID)
	if !ok {
		return
	}

	if domain.IsTerminalStatus(job.Status) || job.Status == domain.JobStatusProcessing {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "job already started"})
		return
	}

	objectKey := job.ObjectKey
	if objectKey == "" {
		objectKey = storage.SourceKey(job.ID)
	}
	exists, err := s.storage.ObjectExists(r.Context(), objectKey)
	if err != nil {
		s.logger.Printf("source object check failed for job %d: %v", job.ID, err)
		writeJSON(w, http.StatusConflict, map[string]string{"error": "source object check failed"})
		return
	}
	if !exists {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "source video has not been uploaded"})
		return
	}

	taskInfo, err := s.queueClient.EnqueueConvertVideo(r.Context(), queue.ConvertVideoPayload{
		JobID:       job.ID,
		UserID:      job.UserID,
		Title:       job.Title,
		ObjectKey:   objectKey,
		WebhookURL:  job.WebhookURL,
		RequestedAt: time.Now().UTC(),
	})
	if err != nil {
		s.logger.Printf("enqueue failed for job %d: %v", job.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue job"})
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(taskInfo.Queue).Inc()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":      job.ID,
		"status":      job.Status,
		"queue":       taskInfo.Queue,
		"task_id":     taskInfo.ID,
		"state":       taskInfo.State.String(),
		"enqueued_at": taskInfo.NextProcessAt,
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())

	jobID, err := extractIDFromPath(r.URL.Path, "/v1/jobs/")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	job, ok := s.loadOwnedJob(w, r, jobID, identity.UserID)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, jobResponse(job))
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	identity, _ := identityFrom(r.Context())

	docID, err := extractIDFromPath(r.URL.Path, "/v1/documents/")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	doc, found, err := s.documents.GetDocument(r.Context(), docID)
	if err != nil {
		s.logger.Printf("fetch document failed for document %d: %v", docID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load document"})
		return
	}
	// Foreign documents are indistinguishable from missing ones.
	if !found || doc.UserID != identity.UserID {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "document not found"})
		return
	}

	downloadURL, err := s.storage.PresignedGetURL(r.Context(), doc.ObjectKey, s.presignTTL)
	if err != nil {
		s.logger.Printf("generate download url failed for document %d: %v", doc.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to generate download URL"})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"document_id":  doc.ID,
		"job_id":       doc.JobID,
		"title":        doc.Title,
		"content_type": doc.ContentType,
		"size_bytes":   doc.SizeBytes,
		"download_url": downloadURL,
		"created_at":   doc.CreatedAt,
	})
}

// loadOwnedJob fetches a job and enforces ownership. Foreign jobs report as
// not found so job ids cannot be probed across accounts.
func (s *Server) loadOwnedJob(w http.ResponseWriter, r *http.Request, jobID int64, userID string) (domain.Job, bool) {
	job, found, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		s.logger.Printf("fetch job failed for job %d: %v", jobID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load job"})
		return domain.Job{}, false
	}
	if !found || job.UserID != userID {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
		return domain.Job{}, false
	}
	return job, true
}

func jobResponse(job domain.Job) map[string]any {
	resp := map[string]any{
		"job_id":       job.ID,
		"title":        job.Title,
		"status":       job.Status,
		"progress":     job.Progress,
		"current_step": job.CurrentStep,
		"created_at":   job.CreatedAt,
		"updated_at":   job.UpdatedAt,
	}
	if job.ErrorMessage != "" {
		resp["error_message"] = job.ErrorMessage
	}
	if job.DocumentID != 0 {
		resp["document_id"] = job.DocumentID
	}
	return resp
}

func extractJobIDFromStartPath(path string) (int64, error) {
	trimmed := strings.TrimPrefix(path, "/v1/jobs/")
	parts := strings.Split(strings.Trim(trimmed, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] != "start" {
		return 0, errors.New("expected path format /v1/jobs/{id}/start")
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("job id must be a positive integer")
	}
	return id, nil
}

func extractIDFromPath(path, prefix string) (int64, error) {
	trimmed := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if trimmed == "" || strings.Contains(trimmed, "/") {
		return 0, fmt.Errorf("expected path format %s{id}", prefix)
	}
	id, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.New("id must be a positive integer")
	}
	return id, nil
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return errors.New("invalid JSON body: multiple JSON values are not allowed")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
