package detect

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"scansplit/internal/config"
	"scansplit/internal/logging"
	"scansplit/internal/types"
)

// Confidence levels for pattern evidence quality.
const (
	confFamilyMarker = 0.9  // explicit family comment tag
	confDefPattern   = 0.8  // scan_/_scanner function definition line
	confKeywordDef   = 0.65 // strategy keyword in a definition line
)

// PatternDetector finds boundaries by scanning lines for known strategy
// markers, independent of syntax tree structure. It produces boundaries
// purely from line ranges: each hit opens a boundary that runs to the line
// before the next hit.
type PatternDetector struct {
	cfg        config.DetectConfig
	defExact   *regexp.Regexp
	defKeyword *regexp.Regexp
}

// NewPatternDetector compiles the line patterns for the configured
// vocabulary.
func NewPatternDetector(cfg config.DetectConfig) *PatternDetector {
	var keywords []string
	for _, v := range cfg.Vocabulary {
		trimmed := strings.Trim(v, "_")
		if trimmed != "" {
			keywords = append(keywords, regexp.QuoteMeta(trimmed))
		}
	}

	// An empty keyword set must match nothing, not everything.
	keywordExpr := `$^`
	if len(keywords) > 0 {
		keywordExpr = `^def\s+(\w*(?:` + strings.Join(keywords, "|") + `)\w*)\s*\(`
	}

	return &PatternDetector{
		cfg:        cfg,
		defExact:   regexp.MustCompile(`^def\s+(scan_\w+|\w+_scanner\w*)\s*\(`),
		defKeyword: regexp.MustCompile(keywordExpr),
	}
}

// Name implements Strategy.
func (d *PatternDetector) Name() string { return "pattern" }

// Method implements Strategy.
func (d *PatternDetector) Method() types.DetectionMethod { return types.MethodPattern }

// hit is one matched line that opens a boundary.
type hit struct {
	line       int // 1-based
	name       string
	confidence float64
	evidence   string
}

// Detect implements Strategy.
func (d *PatternDetector) Detect(ctx context.Context, src *types.Source) ([]types.ScannerBoundary, error) {
	start := time.Now()
	lines := src.Lines()

	var hits []hit
	for i, line := range lines {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		trimmed := strings.TrimSpace(line)
		lineNo := i + 1

		if marker := d.matchMarker(trimmed); marker != "" {
			hits = append(hits, hit{
				line:       lineNo,
				name:       markerName(trimmed, marker, lineNo),
				confidence: confFamilyMarker,
				evidence:   fmt.Sprintf("family marker %q at line %d", marker, lineNo),
			})
			continue
		}

		if m := d.defExact.FindStringSubmatch(line); m != nil {
			hits = append(hits, hit{
				line:       lineNo,
				name:       m[1],
				confidence: confDefPattern,
				evidence:   fmt.Sprintf("definition pattern %q at line %d", m[1], lineNo),
			})
			continue
		}

		if m := d.defKeyword.FindStringSubmatch(line); m != nil {
			hits = append(hits, hit{
				line:       lineNo,
				name:       m[1],
				confidence: confKeywordDef,
				evidence:   fmt.Sprintf("keyword definition %q at line %d", m[1], lineNo),
			})
		}
	}

	// A family marker directly above a matched definition is one boundary,
	// not two. Keep the marker (higher confidence), drop the def hit.
	hits = coalesceAdjacent(hits)

	boundaries := make([]types.ScannerBoundary, 0, len(hits))
	for i, h := range hits {
		endLine := src.LineCount()
		if i+1 < len(hits) {
			endLine = hits[i+1].line - 1
		}
		boundaries = append(boundaries, types.ScannerBoundary{
			Name:        h.name,
			StartOffset: src.OffsetOfLine(h.line),
			EndOffset:   src.EndOffsetOfLine(endLine),
			Confidence:  h.confidence,
			Method:      types.MethodPattern,
			Evidence:    []string{h.evidence},
		})
	}

	logging.Detect("pattern: %d boundaries in %s (%v)", len(boundaries), src.Filename, time.Since(start))
	return boundaries, nil
}

// matchMarker returns the first family marker found in the line.
func (d *PatternDetector) matchMarker(line string) string {
	for _, m := range d.cfg.FamilyMarkers {
		if strings.Contains(line, m) {
			return m
		}
	}
	return ""
}

// markerName derives a boundary name from the text after the marker tag.
func markerName(line, marker string, lineNo int) string {
	rest := line[strings.Index(line, marker)+len(marker):]
	rest = strings.TrimSpace(strings.Trim(rest, "#=- "))
	if rest == "" {
		return fmt.Sprintf("strategy_line_%d", lineNo)
	}
	// Slugify: lowercase, spaces to underscores
	rest = strings.ToLower(rest)
	fields := strings.FieldsFunc(rest, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9' || r == '_')
	})
	if len(fields) == 0 {
		return fmt.Sprintf("strategy_line_%d", lineNo)
	}
	return strings.Join(fields, "_")
}

// coalesceAdjacent merges hits within two lines of each other, keeping the
// earlier, higher-confidence one but preferring a real function name over a
// marker slug when available.
func coalesceAdjacent(hits []hit) []hit {
	if len(hits) < 2 {
		return hits
	}
	out := hits[:1]
	for _, h := range hits[1:] {
		last := &out[len(out)-1]
		if h.line-last.line <= 2 {
			if last.confidence >= h.confidence {
				// Marker slugs are synthetic; a matched def gives the real name.
				if strings.HasPrefix(last.name, "strategy_line_") && h.name != "" {
					last.name = h.name
				}
				last.evidence += "; " + h.evidence
				continue
			}
			*last = h
			continue
		}
		out = append(out, h)
	}
	return out
}
