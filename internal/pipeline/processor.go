// Package pipeline turns an uploaded video's embedded caption track into a
// structured HTML document. The stages are small interfaces so tests can swap
// in-memory implementations for the object-store ones.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoTranscript = errors.New("source contains no caption track")
	ErrEmptySource  = errors.New("source object is empty")
)

type Request struct {
	JobID     int64
	UserID    string
	Title     string
	ObjectKey string
}

type Result struct {
	ObjectKey       string
	ContentType     string
	TranscriptChars int
	RenderedBytes   int
	SectionCount    int
}

// ReportFunc is invoked before each stage with the overall percentage and a
// user-facing step label. A non-nil error aborts the run.
type ReportFunc func(ctx context.Context, progress int, step string) error

type Fetcher interface {
	Fetch(ctx context.Context, req Request) ([]byte, error)
}

type TranscriptExtractor interface {
	Extract(ctx context.Context, source []byte) ([]Cue, error)
}

type Structurer interface {
	Structure(ctx context.Context, title string, cues []Cue) (Document, error)
}

type Renderer interface {
	Render(ctx context.Context, doc Document) ([]byte, string, error)
}

type Emitter interface {
	Emit(ctx context.Context, req Request, rendered []byte, contentType string) (string, error)
}

type Processor struct {
	fetcher    Fetcher
	extractor  TranscriptExtractor
	structurer Structurer
	renderer   Renderer
	emitter    Emitter
}

func NewProcessor(fetcher Fetcher, extractor TranscriptExtractor, structurer Structurer, renderer Renderer, emitter Emitter) *Processor {
	return &Processor{
		fetcher:    fetcher,
		extractor:  extractor,
		structurer: structurer,
		renderer:   renderer,
		emitter:    emitter,
	}
}

func (p *Processor) Process(ctx context.Context, req Request, report ReportFunc) (Result, error) {
	if req.JobID <= 0 {
		return Result{}, errors.New("job id is required")
	}
	if strings.TrimSpace(req.ObjectKey) == "" {
		return Result{}, errors.New("object key is required")
	}
	if report == nil {
		report = func(context.Context, int, string) error { return nil }
	}

	if err := report(ctx, 5, "Preparing source video..."); err != nil {
		return Result{}, err
	}
	source, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		return Result{}, fmt.Errorf("fetch stage: %w", err)
	}
	if len(source) == 0 {
		return Result{}, ErrEmptySource
	}

	if err := report(ctx, 20, "Extracting transcript..."); err != nil {
		return Result{}, err
	}
	cues, err := p.extractor.Extract(ctx, source)
	if err != nil {
		return Result{}, fmt.Errorf("transcript stage: %w", err)
	}
	if len(cues) == 0 {
		return Result{}, ErrNoTranscript
	}

	if err := report(ctx, 55, "Structuring content with AI..."); err != nil {
		return Result{}, err
	}
	doc, err := p.structurer.Structure(ctx, req.Title, cues)
	if err != nil {
		return Result{}, fmt.Errorf("structure stage: %w", err)
	}

	if err := report(ctx, 80, "Rendering document..."); err != nil {
		return Result{}, err
	}
	rendered, contentType, err := p.renderer.Render(ctx, doc)
	if err != nil {
		return Result{}, fmt.Errorf("render stage: %w", err)
	}

	objectKey, err := p.emitter.Emit(ctx, req, rendered, contentType)
	if err != nil {
		return Result{}, fmt.Errorf("emit stage: %w", err)
	}

	chars := 0
	for _, cue := range cues {
		chars += len(cue.Text)
	}

	return Result{
		ObjectKey:       objectKey,
		ContentType:     contentType,
		TranscriptChars: chars,
		RenderedBytes:   len(rendered),
		SectionCount:    len(doc.Sections),
	}, nil
}
