package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Cue is one caption line with millisecond timestamps.
type Cue struct {
	StartMS int
	EndMS   int
	Text    string
}

// Timestamps look like 00:01:02.500 (WebVTT) or 00:01:02,500 (SRT).
var cueTimingRe = regexp.MustCompile(`(\d{1,2}):(\d{2}):(\d{2})[.,](\d{3})\s*-->\s*(\d{1,2}):(\d{2}):(\d{2})[.,](\d{3})`)

// CaptionExtractor pulls the embedded WebVTT or SRT caption track out of the
// source bytes. Full container demuxing is out of scope; uploads carry the
// caption track as plain text alongside or inside the media payload.
type CaptionExtractor struct{}

func (CaptionExtractor) Extract(ctx context.Context, source []byte) ([]Cue, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	var cues []Cue
	scanner := bufio.NewScanner(bytes.NewReader(source))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var current *Cue
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if m := cueTimingRe.FindStringSubmatch(line); m != nil {
			if current != nil && current.Text != "" {
				cues = append(cues, *current)
			}
			current = &Cue{
				StartMS: timestampMS(m[1], m[2], m[3], m[4]),
				EndMS:   timestampMS(m[5], m[6], m[7], m[8]),
			}
			continue
		}

		if current == nil {
			continue
		}
		if line == "" {
			if current.Text != "" {
				cues = append(cues, *current)
			}
			current = nil
			continue
		}
		if isCueIndex(line) {
			continue
		}
		if current.Text != "" {
			current.Text += " "
		}
		current.Text += stripCueTags(line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan caption track: %w", err)
	}
	if current != nil && current.Text != "" {
		cues = append(cues, *current)
	}

	return cues, nil
}

func timestampMS(h, m, s, ms string) int {
	hours, _ := strconv.Atoi(h)
	mins, _ := strconv.Atoi(m)
	secs, _ := strconv.Atoi(s)
	millis, _ := strconv.Atoi(ms)
	return ((hours*60+mins)*60+secs)*1000 + millis
}

// SRT cues are preceded by a bare sequence number.
func isCueIndex(line string) bool {
	if line == "" {
		return false
	}
	_, err := strconv.Atoi(line)
	return err == nil
}

// stripCueTags removes WebVTT voice and styling tags like <v Speaker> or <i>.
func stripCueTags(line string) string {
	var b strings.Builder
	b.Grow(len(line))
	inTag := false
	for _, r := range line {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
