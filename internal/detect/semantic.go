package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"scansplit/internal/llm"
	"scansplit/internal/logging"
	"scansplit/internal/types"
)

// semanticConfidenceCap bounds the semantic vote: even a very sure model
// answer never outranks exact structural evidence.
const semanticConfidenceCap = 0.75

const semanticSystemPrompt = `You are a code segmentation assistant. You are given a Python source
file that concatenates several independent trading-scanner strategies. Identify the contiguous
line ranges that each implement one complete strategy.

## Response Format (JSON only, no markdown)
{
  "segments": [
    {"name": "strategy_name", "start_line": 1, "end_line": 40, "confidence": 0.0-1.0, "reasoning": "why"}
  ]
}

Rules:
- Lines are 1-based and inclusive.
- Segments must not overlap.
- Do not invent segments for shared helpers or imports; leave those lines unclaimed.
- Only return the JSON object, no other text.`

// SemanticDetector delegates boundary detection to an external
// text-understanding capability. It is the third, lower-precision vote and
// the pipeline's only network-bound stage; transient failures are retried
// with bounded exponential backoff, and a final failure degrades this one
// vote rather than failing detection.
type SemanticDetector struct {
	client      llm.Client
	maxRetries  int
	backoffBase time.Duration
}

// NewSemanticDetector creates a semantic detector over the given client.
func NewSemanticDetector(client llm.Client, maxRetries int, backoffBase time.Duration) *SemanticDetector {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if backoffBase <= 0 {
		backoffBase = time.Second
	}
	return &SemanticDetector{client: client, maxRetries: maxRetries, backoffBase: backoffBase}
}

// Name implements Strategy.
func (d *SemanticDetector) Name() string { return "semantic" }

// Method implements Strategy.
func (d *SemanticDetector) Method() types.DetectionMethod { return types.MethodSemantic }

// segmentResponse mirrors the capability's wire format.
type segmentResponse struct {
	Segments []struct {
		Name       string  `json:"name"`
		StartLine  int     `json:"start_line"`
		EndLine    int     `json:"end_line"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	} `json:"segments"`
}

// Detect implements Strategy. Returns *types.ExternalServiceError when the
// capability stays unreachable after retries.
func (d *SemanticDetector) Detect(ctx context.Context, src *types.Source) ([]types.ScannerBoundary, error) {
	if d.client == nil {
		return nil, nil
	}

	userPrompt := fmt.Sprintf("## File: %s\n\n```python\n%s\n```\n\nSegment this file into strategies.",
		src.Filename, numberLines(src.Text))

	var response string
	var lastErr error
	backoff := d.backoffBase
	for attempt := 0; attempt < d.maxRetries; attempt++ {
		if attempt > 0 {
			logging.APIWarn("semantic detect retry %d/%d after %v: %v", attempt+1, d.maxRetries, backoff, lastErr)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, &types.ExternalServiceError{Service: "semantic-detector", Attempts: attempt, Err: ctx.Err()}
			}
			backoff *= 2
		}

		resp, err := d.client.CompleteWithSystem(ctx, semanticSystemPrompt, userPrompt)
		if err == nil {
			response = resp
			lastErr = nil
			break
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr != nil {
		return nil, &types.ExternalServiceError{Service: "semantic-detector", Attempts: d.maxRetries, Err: lastErr}
	}

	parsed, err := parseSegments(response)
	if err != nil {
		// A malformed answer is as useless as no answer; degrade the vote.
		return nil, &types.ExternalServiceError{Service: "semantic-detector", Attempts: 1,
			Err: fmt.Errorf("unparseable response: %w", err)}
	}

	boundaries := make([]types.ScannerBoundary, 0, len(parsed.Segments))
	for _, seg := range parsed.Segments {
		startLine, endLine := seg.StartLine, seg.EndLine
		if startLine < 1 {
			startLine = 1
		}
		if endLine > src.LineCount() {
			endLine = src.LineCount()
		}
		if endLine < startLine {
			continue
		}

		conf := seg.Confidence
		if conf > semanticConfidenceCap {
			conf = semanticConfidenceCap
		}
		if conf < 0 {
			conf = 0
		}

		name := seg.Name
		if name == "" {
			name = fmt.Sprintf("segment_line_%d", startLine)
		}

		evidence := []string{fmt.Sprintf("semantic segment lines %d-%d", startLine, endLine)}
		if seg.Reasoning != "" {
			evidence = append(evidence, "reasoning: "+seg.Reasoning)
		}

		boundaries = append(boundaries, types.ScannerBoundary{
			Name:        name,
			StartOffset: src.OffsetOfLine(startLine),
			EndOffset:   src.EndOffsetOfLine(endLine),
			Confidence:  conf,
			Method:      types.MethodSemantic,
			Evidence:    evidence,
		})
	}

	logging.Detect("semantic: %d boundaries in %s", len(boundaries), src.Filename)
	return boundaries, nil
}

// parseSegments parses the capability's JSON answer, tolerating markdown
// code fences around it.
func parseSegments(response string) (*segmentResponse, error) {
	response = strings.TrimSpace(response)
	response = strings.TrimPrefix(response, "```json")
	response = strings.TrimPrefix(response, "```")
	response = strings.TrimSuffix(response, "```")
	response = strings.TrimSpace(response)

	var parsed segmentResponse
	if err := json.Unmarshal([]byte(response), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse segments JSON: %w", err)
	}
	return &parsed, nil
}

// numberLines prefixes each line with its 1-based number so the model's
// line references stay anchored.
func numberLines(text string) string {
	lines := strings.Split(text, "\n")
	var b strings.Builder
	for i, line := range lines {
		fmt.Fprintf(&b, "%4d| %s\n", i+1, line)
	}
	return b.String()
}
