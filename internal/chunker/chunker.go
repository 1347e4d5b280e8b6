// Package chunker splits text into bounded-size segments for storage.
//
// Splitting is lossless: the segments concatenate, in order, back to the
// original input byte for byte. Segment boundaries prefer paragraph and
// sentence breaks near the size limit; when none falls inside the tolerance
// window the split is a hard cut at the limit.
package chunker

import (
	"strings"
	"unicode/utf8"
)

const (
	// DefaultMaxSize is the default maximum segment size in bytes.
	DefaultMaxSize = 4000

	// boundaryWindow is the fraction of maxSize scanned backwards from the
	// limit for a natural break before falling back to a hard cut.
	boundaryWindow = 0.25
)

// Split divides content into segments of at most maxSize bytes.
// Empty input yields no segments. maxSize values below 1 use DefaultMaxSize.
func Split(content string, maxSize int) []string {
	if content == "" {
		return nil
	}
	if maxSize < 1 {
		maxSize = DefaultMaxSize
	}
	if len(content) <= maxSize {
		return []string{content}
	}

	var segments []string
	rest := content
	for len(rest) > maxSize {
		cut := splitPoint(rest, maxSize)
		segments = append(segments, rest[:cut])
		rest = rest[cut:]
	}
	if len(rest) > 0 {
		segments = append(segments, rest)
	}
	return segments
}

// splitPoint returns the byte offset to cut s at, 0 < offset <= maxSize.
func splitPoint(s string, maxSize int) int {
	window := int(float64(maxSize) * boundaryWindow)
	if window < 1 {
		window = 1
	}
	lo := maxSize - window

	// Paragraph break: cut after the last double newline in the window.
	if i := strings.LastIndex(s[:maxSize], "\n\n"); i >= lo {
		return i + 2
	}
	// Line break.
	if i := strings.LastIndexByte(s[:maxSize], '\n'); i >= lo {
		return i + 1
	}
	// Sentence end.
	if i := lastSentenceEnd(s[:maxSize]); i >= lo {
		return i
	}
	// Word boundary.
	if i := strings.LastIndexByte(s[:maxSize], ' '); i >= lo {
		return i + 1
	}

	// Hard cut. Back up to a rune boundary so segments stay valid UTF-8,
	// unless that would produce an empty segment.
	cut := maxSize
	for cut > 1 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return cut
}

// lastSentenceEnd returns the offset just past the last ". ", "! " or "? "
// in s, or -1 if there is none.
func lastSentenceEnd(s string) int {
	best := -1
	for _, mark := range []string{". ", "! ", "? "} {
		if i := strings.LastIndex(s, mark); i >= 0 && i+2 > best {
			best = i + 2
		}
	}
	return best
}
