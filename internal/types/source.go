package types

import "strings"

// Source is the immutable input text plus a line-offset index so detection
// strategies can translate freely between byte offsets and 1-based lines.
// Pattern and semantic detection work in lines; structural detection and
// everything downstream works in byte offsets.
type Source struct {
	Filename string
	Text     string

	lineStarts []int // byte offset of each line start, lineStarts[0] == 0
}

// NewSource indexes the given text.
func NewSource(filename, text string) *Source {
	starts := []int{0}
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			starts = append(starts, i+1)
		}
	}
	return &Source{Filename: filename, Text: text, lineStarts: starts}
}

// Len returns the total source length in bytes.
func (s *Source) Len() int {
	return len(s.Text)
}

// LineCount returns the number of lines.
func (s *Source) LineCount() int {
	return len(s.lineStarts)
}

// OffsetOfLine returns the byte offset of the start of the 1-based line.
// Out-of-range lines clamp to the text bounds.
func (s *Source) OffsetOfLine(line int) int {
	if line < 1 {
		return 0
	}
	if line > len(s.lineStarts) {
		return len(s.Text)
	}
	return s.lineStarts[line-1]
}

// EndOffsetOfLine returns the byte offset just past the end of the 1-based
// line, including its newline.
func (s *Source) EndOffsetOfLine(line int) int {
	if line < 1 {
		return 0
	}
	if line >= len(s.lineStarts) {
		return len(s.Text)
	}
	return s.lineStarts[line]
}

// LineOfOffset returns the 1-based line containing the byte offset.
func (s *Source) LineOfOffset(offset int) int {
	if offset < 0 {
		return 1
	}
	// Binary search for the last line start <= offset.
	lo, hi := 0, len(s.lineStarts)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if s.lineStarts[mid] <= offset {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo + 1
}

// Slice returns the text between two byte offsets, clamped to bounds.
func (s *Source) Slice(start, end int) string {
	if start < 0 {
		start = 0
	}
	if end > len(s.Text) {
		end = len(s.Text)
	}
	if start >= end {
		return ""
	}
	return s.Text[start:end]
}

// Lines returns the source split into lines without trailing newlines.
func (s *Source) Lines() []string {
	return strings.Split(s.Text, "\n")
}
