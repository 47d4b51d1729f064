package queue

import (
	"context"
	"time"

	"github.com/hibiken/asynq"
)

// Conversion tasks are long running; the timeout bounds a single attempt
// and asynq requeues up to maxRetry times after that.
const (
	convertMaxRetry = 3
	convertTimeout  = 15 * time.Minute
)

// Client enqueues conversion tasks onto a single named queue.
type Client struct {
	asynq *asynq.Client
	queue string
}

func NewClient(redisOpt asynq.RedisClientOpt, queueName string) *Client {
	return &Client{
		asynq: asynq.NewClient(redisOpt),
		queue: queueName,
	}
}

func (c *Client) EnqueueConvertVideo(ctx context.Context, payload ConvertVideoPayload) (*asynq.TaskInfo, error) {
	task, err := NewConvertVideoTask(payload)
	if err != nil {
		return nil, err
	}
	return c.asynq.EnqueueContext(
		ctx,
		task,
		asynq.Queue(c.queue),
		asynq.MaxRetry(convertMaxRetry),
		asynq.Timeout(convertTimeout),
	)
}

func (c *Client) Close() error {
	return c.asynq.Close()
}
