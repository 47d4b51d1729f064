package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/docflow/internal/api"
	"github.com/dunamismax/docflow/internal/config"
	"github.com/dunamismax/docflow/internal/queue"
	"github.com/dunamismax/docflow/internal/ratelimit"
	"github.com/dunamismax/docflow/internal/realtime"
	"github.com/dunamismax/docflow/internal/session"
	"github.com/dunamismax/docflow/internal/storage"
	"github.com/dunamismax/docflow/internal/store"
	"github.com/dunamismax/docflow/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
)

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "[api] ", log.LstdFlags|log.Lmsgprefix)

	ctx := context.Background()

	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "docflow-api",
		Exporter:     cfg.Trace.Exporter,
		OTLPEndpoint: cfg.Trace.OTLPEndpoint,
		OTLPInsecure: cfg.Trace.OTLPInsecure,
	}, logger)
	if err != nil {
		logger.Fatalf("tracing setup failed: %v", err)
	}

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Printf("queue client close error: %v", err)
		}
	}()

	var jobStore store.JobStore
	var documentStore store.DocumentStore
	if cfg.Database.DSN != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.Database.DSN)
		if err != nil {
			logger.Fatalf("postgres setup failed: %v", err)
		}
		defer pg.Close()
		jobStore = pg
		documentStore = pg
		logger.Printf("using postgres job store")
	} else {
		mem := store.NewMemoryStore()
		jobStore = mem
		documentStore = mem
		logger.Printf("using in-memory job store")
	}

	storageClient, err := storage.NewClient(storage.Config{
		Endpoint: cfg.Storage.Endpoint,
		Access:   cfg.Storage.AccessKey,
		Secret:   cfg.Storage.SecretKey,
		Bucket:   cfg.Storage.Bucket,
		UseSSL:   cfg.Storage.UseSSL,
	})
	if err != nil {
		logger.Fatalf("storage setup failed: %v", err)
	}
	if err := storageClient.EnsureBucket(ctx); err != nil {
		logger.Printf("ensure bucket failed: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Session.RedisAddr,
		Password: cfg.Session.RedisPassword,
		DB:       cfg.Session.RedisDB,
	})
	defer rdb.Close()

	sessionStore := session.NewRedisStore(rdb, cfg.Session.KeyPrefix)
	validator := session.NewValidator(sessionStore, cfg.Session.CookieName, cfg.Session.LookupTimeout)

	hub := realtime.NewHub(logger, jobStore)
	wsHandler := realtime.NewHandler(hub, validator, logger)

	feedCtx, stopFeed := context.WithCancel(ctx)
	defer stopFeed()
	feed := realtime.NewFeed(rdb, cfg.Realtime.ProgressChannel, hub, logger)
	go feed.Run(feedCtx)

	var limiter api.RateLimiter
	if cfg.Limits.Enabled {
		limiter, err = ratelimit.NewRedisTokenBucket(rdb, cfg.Limits.Capacity, cfg.Limits.Window, "docflow:ratelimit")
		if err != nil {
			logger.Fatalf("rate limiter setup failed: %v", err)
		}
	}

	app := api.NewServer(logger, api.Deps{
		Queue:           queueClient,
		Jobs:            jobStore,
		Documents:       documentStore,
		Storage:         storageClient,
		Sessions:        validator,
		Realtime:        wsHandler,
		RateLimiter:     limiter,
		PresignTTL:      cfg.API.PresignTTL,
		Tracer:          otel.Tracer("docflow/api"),
		ExtraCollectors: hub.Collectors(),
	})

	// No WriteTimeout: websocket connections on /v1/ws stay open for the
	// life of the client.
	httpServer := &http.Server{
		Addr:        cfg.API.Addr,
		Handler:     app.Handler(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Printf("listening on %s", cfg.API.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Println("shutting down")
	stopFeed()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown failed: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Printf("tracing shutdown failed: %v", err)
	}
}
