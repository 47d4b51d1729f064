package domain

import "testing"

func TestCreateJobRequestValidate(t *testing.T) {
	valid := CreateJobRequest{Title: "Q3 all-hands recording"}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid request, got error: %v", err)
	}

	withWebhook := CreateJobRequest{
		Title:      "Q3 all-hands recording",
		WebhookURL: "https://example.com/hooks/docflow",
	}
	if err := withWebhook.Validate(); err != nil {
		t.Fatalf("expected valid request with webhook, got error: %v", err)
	}

	missingTitle := CreateJobRequest{}
	if err := missingTitle.Validate(); err == nil {
		t.Fatal("expected validation error for empty title")
	}

	badWebhook := CreateJobRequest{Title: "x", WebhookURL: "ftp://example.com/hook"}
	if err := badWebhook.Validate(); err == nil {
		t.Fatal("expected validation error for non-http webhook_url")
	}
}

func TestIsTerminalStatus(t *testing.T) {
	if IsTerminalStatus(JobStatusPending) || IsTerminalStatus(JobStatusProcessing) {
		t.Fatal("PENDING and PROCESSING must not be terminal")
	}
	if !IsTerminalStatus(JobStatusCompleted) || !IsTerminalStatus(JobStatusFailed) {
		t.Fatal("COMPLETED and FAILED must be terminal")
	}
}
