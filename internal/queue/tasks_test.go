package queue

import (
	"testing"
	"time"
)

func TestConvertVideoTaskRoundTrip(t *testing.T) {
	payload := ConvertVideoPayload{
		JobID:       42,
		UserID:      "user-7",
		Title:       "conference-talk.mp4",
		ObjectKey:   "uploads/abc/source",
		WebhookURL:  "https://example.com/hooks",
		RequestedAt: time.Now().UTC(),
	}

	task, err := NewConvertVideoTask(payload)
	if err != nil {
		t.Fatalf("NewConvertVideoTask returned error: %v", err)
	}
	if task.Type() != TypeConvertVideo {
		t.Fatalf("expected task type %q, got %q", TypeConvertVideo, task.Type())
	}

	parsed, err := ParseConvertVideoPayload(task)
	if err != nil {
		t.Fatalf("ParseConvertVideoPayload returned error: %v", err)
	}

	if parsed.JobID != payload.JobID {
		t.Fatalf("expected job_id %d, got %d", payload.JobID, parsed.JobID)
	}
	if parsed.UserID != "user-7" || parsed.ObjectKey != "uploads/abc/source" {
		t.Fatalf("unexpected payload: %+v", parsed)
	}
}
