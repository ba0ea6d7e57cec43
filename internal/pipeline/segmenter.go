package pipeline

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// boundaryRe matches text that ends a speakable clause: Latin and Arabic
// sentence punctuation, the Arabic comma, dashes and the colon, optionally
// followed by whitespace.
var boundaryRe = regexp.MustCompile(`[.!?؟،–\-:]\s*$`)

// EndsWithBoundary reports whether s ends with a boundary marker
func EndsWithBoundary(s string) bool {
	return boundaryRe.MatchString(s)
}

func isBoundaryRune(r rune) bool {
	switch r {
	case '.', '!', '?', '؟', '،', '–', '-', ':':
		return true
	}
	return false
}

// Unit is one speakable piece of agent output. Text is what gets synthesized;
// Raw is the exact residue it was cut from, so that the Raw values of all units
// plus the final residue reproduce the agent stream byte for byte.
type Unit struct {
	Text string
	Raw  string
}

// Segmenter accumulates streamed agent text and cuts it into units as soon as
// a unit is long enough or ends on a boundary.
type Segmenter struct {
	minChars int
	maxChars int
	residue  strings.Builder
}

// NewSegmenter creates a segmenter that flushes at maxChars runes, or at
// minChars runes when the residue ends with a boundary marker.
func NewSegmenter(minChars, maxChars int) *Segmenter {
	return &Segmenter{minChars: minChars, maxChars: maxChars}
}

// Push appends a fragment and returns a unit when one is ready
func (s *Segmenter) Push(fragment string) (Unit, bool) {
	s.residue.WriteString(fragment)

	raw := s.residue.String()
	stripped := strings.TrimSpace(raw)
	n := utf8.RuneCountInString(stripped)
	if n == 0 {
		return Unit{}, false
	}

	if n >= s.maxChars || (n >= s.minChars && boundaryRe.MatchString(stripped)) {
		s.residue.Reset()
		return Unit{Text: stripped, Raw: raw}, true
	}
	return Unit{}, false
}

// Flush returns the remaining residue as a final unit, if any
func (s *Segmenter) Flush() (Unit, bool) {
	raw := s.residue.String()
	s.residue.Reset()

	stripped := strings.TrimSpace(raw)
	if stripped == "" {
		return Unit{}, false
	}
	return Unit{Text: stripped, Raw: raw}, true
}

// Pending returns the unflushed residue without clearing it
func (s *Segmenter) Pending() string {
	return s.residue.String()
}

// SplitSentences splits a complete response after every boundary marker and
// merges each part into the previous one while that one is shorter than
// minChars runes. Text with no speakable content yields nil.
func SplitSentences(text string, minChars int) []string {
	var parts []string
	var cur strings.Builder
	for _, r := range text {
		cur.WriteRune(r)
		if isBoundaryRune(r) {
			parts = append(parts, cur.String())
			cur.Reset()
		}
	}
	parts = append(parts, cur.String())

	var merged []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if last := len(merged) - 1; last >= 0 && utf8.RuneCountInString(merged[last]) < minChars {
			merged[last] += " " + p
			continue
		}
		merged = append(merged, p)
	}

	if len(merged) == 0 {
		if t := strings.TrimSpace(text); t != "" {
			return []string{t}
		}
		return nil
	}
	return merged
}
