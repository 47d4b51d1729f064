package realtime

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"
)

// Feed bridges the worker's published progress events into the local hub.
// The hub itself stays single-process in-memory state; the redis channel is
// only the path from the conversion pipeline's process to the gateway's.
type Feed struct {
	rdb     redis.UniversalClient
	channel string
	hub     *Hub
	logger  *log.Logger
}

func NewFeed(rdb redis.UniversalClient, channel string, hub *Hub, logger *log.Logger) *Feed {
	return &Feed{
		rdb:     rdb,
		channel: channel,
		hub:     hub,
		logger:  logger,
	}
}

// Run consumes progress events until the context is cancelled. Events for
// one job arrive and are rebroadcast in publish order; malformed payloads
// are dropped with a log line.
func (f *Feed) Run(ctx context.Context) error {
	sub := f.rdb.Subscribe(ctx, f.channel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var event ProgressEvent
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				f.logger.Printf("dropping malformed progress event: %v", err)
				continue
			}
			f.hub.Broadcast(event.JobID, event)
		}
	}
}
