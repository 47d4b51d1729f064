package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type memFetcher struct {
	data []byte
	err  error
}

func (f memFetcher) Fetch(context.Context, Request) ([]byte, error) {
	return f.data, f.err
}

type memEmitter struct {
	rendered    []byte
	contentType string
}

func (e *memEmitter) Emit(_ context.Context, req Request, rendered []byte, contentType string) (string, error) {
	e.rendered = rendered
	e.contentType = contentType
	return "documents/7/index.html", nil
}

func newMemProcessor(source []byte) (*Processor, *memEmitter) {
	emitter := &memEmitter{}
	return NewProcessor(memFetcher{data: source}, CaptionExtractor{}, HeuristicStructurer{}, HTMLRenderer{}, emitter), emitter
}

const sampleVTT = `WEBVTT

00:00:01.000 --> 00:00:04.000
Welcome to the course.

00:00:04.500 --> 00:00:08.000
We will learn a lot today.
`

func TestProcessEndToEnd(t *testing.T) {
	proc, emitter := newMemProcessor([]byte(sampleVTT))

	var steps []string
	report := func(_ context.Context, progress int, step string) error {
		steps = append(steps, step)
		return nil
	}

	result, err := proc.Process(context.Background(), Request{JobID: 7, Title: "Go Course", ObjectKey: "uploads/7/source"}, report)
	if err != nil {
		t.Fatalf("Process returned error: %v", err)
	}

	want := []string{
		"Preparing source video...",
		"Extracting transcript...",
		"Structuring content with AI...",
		"Rendering document...",
	}
	if len(steps) != len(want) {
		t.Fatalf("expected %d progress reports, got %d: %v", len(want), len(steps), steps)
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Errorf("step %d: got %q want %q", i, steps[i], want[i])
		}
	}

	if result.ObjectKey != "documents/7/index.html" {
		t.Errorf("unexpected object key: %q", result.ObjectKey)
	}
	if result.TranscriptChars == 0 || result.RenderedBytes == 0 || result.SectionCount == 0 {
		t.Errorf("empty result counters: %+v", result)
	}
	if !strings.Contains(string(emitter.rendered), "<h1>Go Course</h1>") {
		t.Errorf("rendered document missing title: %s", emitter.rendered)
	}
	if !strings.Contains(emitter.contentType, "text/html") {
		t.Errorf("unexpected content type: %q", emitter.contentType)
	}
}

func TestProcessRejectsSourceWithoutCaptions(t *testing.T) {
	proc, _ := newMemProcessor([]byte("opaque binary payload"))

	_, err := proc.Process(context.Background(), Request{JobID: 7, ObjectKey: "uploads/7/source"}, nil)
	if !errors.Is(err, ErrNoTranscript) {
		t.Fatalf("expected ErrNoTranscript, got %v", err)
	}
}

func TestProcessRejectsEmptySource(t *testing.T) {
	proc, _ := newMemProcessor(nil)

	_, err := proc.Process(context.Background(), Request{JobID: 7, ObjectKey: "uploads/7/source"}, nil)
	if !errors.Is(err, ErrEmptySource) {
		t.Fatalf("expected ErrEmptySource, got %v", err)
	}
}

func TestProcessAbortsWhenReportFails(t *testing.T) {
	proc, emitter := newMemProcessor([]byte(sampleVTT))

	boom := errors.New("subscriber gone")
	_, err := proc.Process(context.Background(), Request{JobID: 7, ObjectKey: "uploads/7/source"},
		func(context.Context, int, string) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected report error to abort, got %v", err)
	}
	if emitter.rendered != nil {
		t.Fatal("no document should be emitted after an aborted run")
	}
}
