package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/dunamismax/docflow/internal/wsclient"
)

func main() {
	var (
		url    = flag.String("url", "ws://localhost:8080/v1/ws", "websocket endpoint")
		cookie = flag.String("cookie", os.Getenv("DOCFLOW_SESSION_COOKIE"), "session cookie, name=value")
		jobs   = flag.String("jobs", "", "comma separated job ids to follow")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[watch] ", log.LstdFlags|log.Lmsgprefix)

	jobIDs, err := parseJobIDs(*jobs)
	if err != nil {
		logger.Fatalf("invalid -jobs: %v", err)
	}
	if len(jobIDs) == 0 {
		logger.Fatal("at least one job id is required, pass -jobs 1,2,3")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := wsclient.New(wsclient.Config{
		URL:    *url,
		Cookie: *cookie,
		OnProgress: func(update wsclient.ProgressUpdate) {
			if update.ErrorMessage != nil {
				logger.Printf("job %d: %s %d%% %q error=%q", update.JobID, update.Status, update.Progress, update.CurrentStep, *update.ErrorMessage)
				return
			}
			logger.Printf("job %d: %s %d%% %q", update.JobID, update.Status, update.Progress, update.CurrentStep)
		},
		OnDown: func(err error) {
			logger.Printf("connection lost for good: %v", err)
		},
		Logger: logger,
	})
	if err != nil {
		logger.Fatalf("client setup failed: %v", err)
	}

	for _, jobID := range jobIDs {
		if err := client.Subscribe(jobID); err != nil {
			logger.Fatalf("subscribe job %d: %v", jobID, err)
		}
	}

	if err := client.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatalf("watch failed: %v", err)
	}
	logger.Println("shutdown complete")
}

func parseJobIDs(raw string) ([]int64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
