package worker

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/dunamismax/docflow/internal/config"
	"github.com/dunamismax/docflow/internal/domain"
	"github.com/dunamismax/docflow/internal/pipeline"
	"github.com/dunamismax/docflow/internal/queue"
	"github.com/dunamismax/docflow/internal/storage"
	"github.com/dunamismax/docflow/internal/store"
	"github.com/dunamismax/docflow/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger        *log.Logger
	server        *asynq.Server
	sem           chan struct{}
	converter     converter
	reporter      progressReporter
	webhookClient webhookSender
	documents     store.DocumentStore
	usage         store.UsageStore
	metrics       *metrics
	tracer        trace.Tracer
}

type converter interface {
	Process(ctx context.Context, req pipeline.Request, report pipeline.ReportFunc) (pipeline.Result, error)
}

type progressReporter interface {
	Report(ctx context.Context, jobID int64, update domain.JobUpdate) error
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

func NewServer(
	logger *log.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	storageClient *storage.Client,
	webhookClient *webhook.Client,
	reporter progressReporter,
	documents store.DocumentStore,
	usage store.UsageStore,
) (*Server, error) {
	if storageClient == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if reporter == nil {
		return nil, fmt.Errorf("progress reporter is required")
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			queueCfg.RedisClientOpt(),
			asynq.Config{
				Concurrency: workerCfg.Concurrency,
				Queues: map[string]int{
					queueCfg.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Printf("task failed type=%s retry=%d/%d err=%v", task.Type(), retried, maxRetry, err)
				}),
			},
		),
		sem:           make(chan struct{}, max(1, workerCfg.MaxActiveJobs)),
		converter:     pipeline.NewObjectStoreProcessor(storageClient),
		reporter:      reporter,
		webhookClient: webhookClient,
		documents:     documents,
		usage:         usage,
		metrics:       newMetrics(),
		tracer:        otel.Tracer("docflow/worker"),
	}
	return s, nil
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeConvertVideo, s.handleConvertVideo)
	return s.server.Run(mux)
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleConvertVideo(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	outcome := domain.JobStatusFailed

	payload, err := queue.ParseConvertVideoPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.convert_video", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.Int64("job.id", payload.JobID),
		attribute.String("job.object_key", payload.ObjectKey),
	)
	defer span.End()
	defer func() {
		s.metrics.jobDuration.WithLabelValues(outcome).Observe(time.Since(startedAt).Seconds())
		s.metrics.jobsTotal.WithLabelValues(outcome).Inc()
	}()

	s.sem <- struct{}{}
	s.metrics.activeJobs.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeJobs.Dec()
	}()

	s.logger.Printf("Converting... job_id=%d object_key=%s", payload.JobID, payload.ObjectKey)

	result, err := s.converter.Process(ctx, pipeline.Request{
		JobID:     payload.JobID,
		UserID:    payload.UserID,
		Title:     payload.Title,
		ObjectKey: payload.ObjectKey,
	}, s.reportStep(payload.JobID))
	if err != nil {
		s.reportFailure(ctx, payload.JobID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline failed")
		s.dispatchWebhook(ctx, payload, webhook.EventJobFailed, webhook.JobEvent{
			JobID:        payload.JobID,
			Status:       domain.JobStatusFailed,
			ErrorMessage: err.Error(),
		})
		return fmt.Errorf("run pipeline: %v: %w", err, asynq.SkipRetry)
	}

	doc, err := s.createDocument(ctx, payload, result)
	if err != nil {
		s.reportFailure(ctx, payload.JobID, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "document write failed")
		return fmt.Errorf("create document: %w", err)
	}
	s.metrics.documentsTotal.Inc()

	if err := s.reportCompletion(ctx, payload.JobID, doc.ID); err != nil {
		span.RecordError(err)
		return err
	}

	s.logger.Printf("Converted job_id=%d document_id=%d sections=%d", payload.JobID, doc.ID, result.SectionCount)
	s.recordUsage(ctx, payload, result, time.Since(startedAt))

	if err := s.dispatchWebhook(ctx, payload, webhook.EventJobCompleted, webhook.JobEvent{
		JobID:      payload.JobID,
		Status:     domain.JobStatusCompleted,
		DocumentID: &doc.ID,
	}); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook dispatch failed")
		return err
	}

	outcome = domain.JobStatusCompleted
	span.SetStatus(codes.Ok, "converted")
	return nil
}

// reportStep adapts pipeline progress callbacks to persisted job updates.
func (s *Server) reportStep(jobID int64) pipeline.ReportFunc {
	return func(ctx context.Context, progress int, step string) error {
		return s.reporter.Report(ctx, jobID, domain.JobUpdate{
			Status:      domain.JobStatusProcessing,
			Progress:    &progress,
			CurrentStep: &step,
		})
	}
}

func (s *Server) reportFailure(ctx context.Context, jobID int64, cause error) {
	message := cause.Error()
	if err := s.reporter.Report(ctx, jobID, domain.JobUpdate{
		Status:       domain.JobStatusFailed,
		ErrorMessage: &message,
	}); err != nil {
		s.logger.Printf("failure report failed job_id=%d err=%v", jobID, err)
	}
}

func (s *Server) reportCompletion(ctx context.Context, jobID, documentID int64) error {
	progress := 100
	step := "Completed"
	if err := s.reporter.Report(ctx, jobID, domain.JobUpdate{
		Status:      domain.JobStatusCompleted,
		Progress:    &progress,
		CurrentStep: &step,
		DocumentID:  &documentID,
	}); err != nil {
		return fmt.Errorf("report completion for job %d: %w", jobID, err)
	}
	return nil
}

func (s *Server) createDocument(ctx context.Context, payload queue.ConvertVideoPayload, result pipeline.Result) (domain.Document, error) {
	if s.documents == nil {
		return domain.Document{}, fmt.Errorf("document store is unavailable")
	}
	return s.documents.CreateDocument(ctx, domain.Document{
		JobID:       payload.JobID,
		UserID:      payload.UserID,
		Title:       payload.Title,
		ObjectKey:   result.ObjectKey,
		ContentType: result.ContentType,
		SizeBytes:   int64(result.RenderedBytes),
	})
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.ConvertVideoPayload, event string, body webhook.JobEvent) error {
	if payload.WebhookURL == "" || s.webhookClient == nil {
		return nil
	}

	if err := s.webhookClient.Send(ctx, payload.WebhookURL, event, body); err != nil {
		s.logger.Printf("webhook delivery failed job_id=%d event=%s err=%v", payload.JobID, event, err)
		return fmt.Errorf("dispatch webhook: %w", err)
	}

	return nil
}

func (s *Server) recordUsage(ctx context.Context, payload queue.ConvertVideoPayload, result pipeline.Result, computeDuration time.Duration) {
	if s.usage == nil {
		return
	}

	computeTimeMS := computeDuration.Milliseconds()
	if computeTimeMS < 1 {
		computeTimeMS = 1
	}

	usage := domain.UsageLog{
		UserID:          payload.UserID,
		JobID:           payload.JobID,
		TranscriptChars: int64(result.TranscriptChars),
		RenderedBytes:   int64(result.RenderedBytes),
		ComputeTimeMS:   computeTimeMS,
		CreatedAt:       time.Now().UTC(),
	}
	if err := s.usage.CreateUsageLog(ctx, usage); err != nil {
		s.logger.Printf("usage log write failed job_id=%d err=%v", payload.JobID, err)
		return
	}

	s.metrics.transcriptCharsTotal.Add(float64(usage.TranscriptChars))
	s.metrics.renderedBytesTotal.Add(float64(usage.RenderedBytes))
	s.metrics.computeTimeMSTotal.Add(float64(usage.ComputeTimeMS))
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
