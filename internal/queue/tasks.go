package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const TypeConvertVideo = "video:convert"

type ConvertVideoPayload struct {
	JobID       int64     `json:"job_id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	ObjectKey   string    `json:"object_key"`
	WebhookURL  string    `json:"webhook_url,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

func NewConvertVideoTask(payload ConvertVideoPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal convert payload: %w", err)
	}
	return asynq.NewTask(TypeConvertVideo, body), nil
}

func ParseConvertVideoPayload(task *asynq.Task) (ConvertVideoPayload, error) {
	var payload ConvertVideoPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ConvertVideoPayload{}, fmt.Errorf("unmarshal convert payload: %w", err)
	}
	return payload, nil
}
