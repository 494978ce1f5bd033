package detect

import (
	"context"
	"testing"

	"scansplit/internal/config"
	"scansplit/internal/types"
)

func TestPatternDetect(t *testing.T) {
	source := `import numpy as np

def scan_gap_up(symbols):
    min_gap = 2.0
    return symbols

# STRATEGY: momentum burst
def momentum_burst(symbols):
    return symbols
`
	src := types.NewSource("p.py", source)
	d := NewPatternDetector(config.DefaultDetectConfig())

	boundaries, err := d.Detect(context.Background(), src)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(boundaries) != 2 {
		t.Fatalf("got %d boundaries, want 2: %+v", len(boundaries), boundaries)
	}

	if boundaries[0].Name != "scan_gap_up" || boundaries[0].Confidence != 0.8 {
		t.Errorf("first = %q/%v, want scan_gap_up/0.8", boundaries[0].Name, boundaries[0].Confidence)
	}
	if boundaries[1].Name != "momentum_burst" || boundaries[1].Confidence != 0.9 {
		t.Errorf("second = %q/%v, want momentum_burst/0.9", boundaries[1].Name, boundaries[1].Confidence)
	}

	// The first boundary stops the line before the marker.
	if boundaries[0].EndOffset > boundaries[1].StartOffset {
		t.Errorf("boundaries overlap: %+v then %+v", boundaries[0], boundaries[1])
	}
	// The second runs to end of file.
	if boundaries[1].EndOffset != src.Len() {
		t.Errorf("last boundary should reach EOF: end %d, len %d", boundaries[1].EndOffset, src.Len())
	}
}

func TestPatternMarkerDefCoalesce(t *testing.T) {
	source := `# STRATEGY:
def scan_volume_spike(symbols):
    return symbols
`
	src := types.NewSource("c.py", source)
	d := NewPatternDetector(config.DefaultDetectConfig())

	boundaries, err := d.Detect(context.Background(), src)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(boundaries) != 1 {
		t.Fatalf("marker + adjacent def must coalesce into 1 boundary, got %d", len(boundaries))
	}
	b := boundaries[0]
	// The marker carries the confidence, the def carries the real name.
	if b.Confidence != 0.9 {
		t.Errorf("confidence = %v, want 0.9", b.Confidence)
	}
	if b.Name != "scan_volume_spike" {
		t.Errorf("name = %q, want the function name from the def line", b.Name)
	}
}

func TestPatternNoHits(t *testing.T) {
	src := types.NewSource("n.py", "x = 1\ny = 2\n")
	d := NewPatternDetector(config.DefaultDetectConfig())

	boundaries, err := d.Detect(context.Background(), src)
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(boundaries) != 0 {
		t.Errorf("expected no boundaries, got %+v", boundaries)
	}
}

func TestMarkerName(t *testing.T) {
	tests := []struct {
		line   string
		marker string
		want   string
	}{
		{"# STRATEGY: Gap Up Scanner", "# STRATEGY:", "gap_up_scanner"},
		{"# STRATEGY: ===", "# STRATEGY:", "strategy_line_7"},
		{"# STRATEGY:", "# STRATEGY:", "strategy_line_7"},
	}
	for _, tt := range tests {
		if got := markerName(tt.line, tt.marker, 7); got != tt.want {
			t.Errorf("markerName(%q) = %q, want %q", tt.line, got, tt.want)
		}
	}
}
