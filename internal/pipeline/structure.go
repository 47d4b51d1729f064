package pipeline

import (
	"context"
	"fmt"
	"strings"
)

type Section struct {
	Heading    string
	Paragraphs []string
}

type Document struct {
	Title    string
	Sections []Section
}

const (
	// A silence longer than this starts a new section.
	sectionGapMS = 8000
	// Sections are split once they accumulate this much text.
	sectionMaxChars = 1200
	// Paragraphs wrap within a section at roughly this size.
	paragraphMaxChars = 400
)

// HeuristicStructurer groups cues into sections on long pauses and size
// limits, then derives each section's heading from its opening sentence.
type HeuristicStructurer struct{}

func (HeuristicStructurer) Structure(ctx context.Context, title string, cues []Cue) (Document, error) {
	select {
	case <-ctx.Done():
		return Document{}, ctx.Err()
	default:
	}

	doc := Document{Title: strings.TrimSpace(title)}
	if doc.Title == "" {
		doc.Title = "Untitled Document"
	}

	var (
		sectionCues []Cue
		sectionLen  int
		lastEnd     int
	)
	flush := func() {
		if len(sectionCues) == 0 {
			return
		}
		doc.Sections = append(doc.Sections, buildSection(sectionCues, len(doc.Sections)+1))
		sectionCues = nil
		sectionLen = 0
	}

	for _, cue := range cues {
		if len(sectionCues) > 0 && (cue.StartMS-lastEnd > sectionGapMS || sectionLen > sectionMaxChars) {
			flush()
		}
		sectionCues = append(sectionCues, cue)
		sectionLen += len(cue.Text)
		lastEnd = cue.EndMS
	}
	flush()

	return doc, nil
}

func buildSection(cues []Cue, ordinal int) Section {
	var paragraphs []string
	var b strings.Builder
	for _, cue := range cues {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(cue.Text)
		if b.Len() >= paragraphMaxChars && endsSentence(cue.Text) {
			paragraphs = append(paragraphs, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		paragraphs = append(paragraphs, b.String())
	}

	return Section{
		Heading:    sectionHeading(paragraphs, ordinal),
		Paragraphs: paragraphs,
	}
}

func endsSentence(text string) bool {
	text = strings.TrimSpace(text)
	return strings.HasSuffix(text, ".") || strings.HasSuffix(text, "!") || strings.HasSuffix(text, "?")
}

// sectionHeading takes the first sentence, clipped to a headline length.
func sectionHeading(paragraphs []string, ordinal int) string {
	if len(paragraphs) == 0 {
		return fmt.Sprintf("Part %d", ordinal)
	}
	first := paragraphs[0]
	if idx := strings.IndexAny(first, ".!?"); idx > 0 {
		first = first[:idx]
	}
	first = strings.TrimSpace(first)
	if len(first) > 72 {
		first = strings.TrimSpace(first[:72]) + "..."
	}
	if first == "" {
		return fmt.Sprintf("Part %d", ordinal)
	}
	return first
}
