package detect

import (
	"context"
	"errors"
	"testing"
	"time"

	"scansplit/internal/llm"
	"scansplit/internal/types"
)

func TestSemanticDetect(t *testing.T) {
	response := "```json\n" + `{
  "segments": [
    {"name": "gap_up", "start_line": 1, "end_line": 3, "confidence": 0.95, "reasoning": "gap scan"},
    {"name": "", "start_line": 4, "end_line": 99, "confidence": -1, "reasoning": ""},
    {"name": "empty", "start_line": 5, "end_line": 2, "confidence": 0.5, "reasoning": "inverted"}
  ]
}` + "\n```"

	src := types.NewSource("s.py", "a = 1\nb = 2\nc = 3\nd = 4\ne = 5\n")
	d := NewSemanticDetector(&llm.NullClient{Response: response}, 1, time.Millisecond)

	boundaries, err := d.Detect(context.Background(), src)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(boundaries) != 2 {
		t.Fatalf("got %d boundaries, want 2 (inverted segment dropped): %+v", len(boundaries), boundaries)
	}

	if boundaries[0].Name != "gap_up" {
		t.Errorf("name = %q", boundaries[0].Name)
	}
	// The vote is capped: semantic evidence never outranks structural.
	if boundaries[0].Confidence != 0.75 {
		t.Errorf("confidence = %v, want capped 0.75", boundaries[0].Confidence)
	}
	if boundaries[0].Method != types.MethodSemantic {
		t.Errorf("method = %q", boundaries[0].Method)
	}

	// Unnamed segment gets a synthetic name, negative confidence clamps to
	// zero, out-of-range end line clamps to the file.
	if boundaries[1].Name != "segment_line_4" {
		t.Errorf("synthetic name = %q", boundaries[1].Name)
	}
	if boundaries[1].Confidence != 0 {
		t.Errorf("clamped confidence = %v", boundaries[1].Confidence)
	}
	if boundaries[1].EndOffset != src.Len() {
		t.Errorf("end offset = %d, want clamped to %d", boundaries[1].EndOffset, src.Len())
	}
}

func TestSemanticDetectRetriesThenFails(t *testing.T) {
	d := NewSemanticDetector(&llm.NullClient{Err: errors.New("boom")}, 3, time.Millisecond)

	_, err := d.Detect(context.Background(), types.NewSource("s.py", "x = 1\n"))
	var svcErr *types.ExternalServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("want ExternalServiceError, got %v", err)
	}
	if svcErr.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", svcErr.Attempts)
	}
}

func TestSemanticDetectUnparseable(t *testing.T) {
	d := NewSemanticDetector(&llm.NullClient{Response: "sorry, I cannot"}, 1, time.Millisecond)

	_, err := d.Detect(context.Background(), types.NewSource("s.py", "x = 1\n"))
	var svcErr *types.ExternalServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("want ExternalServiceError for unparseable response, got %v", err)
	}
}

func TestSemanticDetectNilClient(t *testing.T) {
	d := NewSemanticDetector(nil, 1, time.Millisecond)
	boundaries, err := d.Detect(context.Background(), types.NewSource("s.py", "x = 1\n"))
	if err != nil || boundaries != nil {
		t.Errorf("nil client should be a silent no-op, got %v, %v", boundaries, err)
	}
}

func TestParseSegmentsFences(t *testing.T) {
	for _, raw := range []string{
		`{"segments": []}`,
		"```json\n{\"segments\": []}\n```",
		"```\n{\"segments\": []}\n```",
		"  {\"segments\": []}  ",
	} {
		if _, err := parseSegments(raw); err != nil {
			t.Errorf("parseSegments(%q) error = %v", raw, err)
		}
	}
}
