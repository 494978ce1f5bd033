// Package types defines the shared data model for the strategy isolation
// pipeline: boundaries, extracted parameters, namespaces, generated
// templates, and the aggregated pipeline result.
package types

import (
	"fmt"
	"sort"
	"time"
)

// DetectionMethod identifies which detection strategy produced a boundary.
type DetectionMethod string

const (
	MethodStructural DetectionMethod = "structural" // Tree-sitter AST analysis
	MethodPattern    DetectionMethod = "pattern"    // Regex/keyword line scan
	MethodSemantic   DetectionMethod = "semantic"   // External LLM segmentation
	MethodConsensus  DetectionMethod = "consensus"  // Merged by the consensus engine
	MethodFallback   DetectionMethod = "fallback"   // Whole-file fallback boundary
)

// FallbackConfidence is the structural default confidence assigned to the
// whole-file fallback boundary when no strategy found anything.
const FallbackConfidence = 0.5

// ScannerBoundary is a contiguous source span believed to implement one
// complete scanner strategy. Offsets are byte offsets into the original
// source text; EndOffset is exclusive.
type ScannerBoundary struct {
	Name        string          `json:"name"`
	StartOffset int             `json:"start_offset"`
	EndOffset   int             `json:"end_offset"`
	Confidence  float64         `json:"confidence"`
	Method      DetectionMethod `json:"detection_method"`
	Evidence    []string        `json:"evidence,omitempty"`
	NamespaceID string          `json:"namespace_id,omitempty"`

	// Shared marks the synthetic shared/global region that covers source
	// spans no strategy boundary claims.
	Shared bool `json:"shared,omitempty"`
}

// Len returns the covered span length in bytes.
func (b ScannerBoundary) Len() int {
	return b.EndOffset - b.StartOffset
}

// Overlaps reports whether two boundaries share any bytes.
func (b ScannerBoundary) Overlaps(other ScannerBoundary) bool {
	return b.StartOffset < other.EndOffset && other.StartOffset < b.EndOffset
}

// OverlapRatio returns the overlap length as a fraction of the smaller
// boundary's length. Returns 0 when there is no overlap.
func (b ScannerBoundary) OverlapRatio(other ScannerBoundary) float64 {
	lo := max(b.StartOffset, other.StartOffset)
	hi := min(b.EndOffset, other.EndOffset)
	if hi <= lo {
		return 0
	}
	smaller := min(b.Len(), other.Len())
	if smaller <= 0 {
		return 0
	}
	return float64(hi-lo) / float64(smaller)
}

// Classification distinguishes parameters shared by all strategies from
// parameters scoped to a single boundary's namespace.
type Classification string

const (
	ClassGlobal Classification = "global"
	ClassScoped Classification = "scoped"
)

// ExtractedParameter is a tunable value mined from the source. Value keeps
// the literal text exactly as written so templates reproduce it verbatim.
// A parameter may be renamed during isolation but is never mutated once
// validation begins.
type ExtractedParameter struct {
	Name           string         `json:"name"`
	Value          string         `json:"value"`
	DeclaredType   string         `json:"declared_type"` // int, float, str, bool, list, dict
	SourceOffset   int            `json:"source_offset"`
	Confidence     float64        `json:"confidence"`
	Classification Classification `json:"classification"`
	Pass           string         `json:"pass,omitempty"` // extraction pass that found it
}

// ParameterNamespace is the isolated parameter set belonging to exactly one
// boundary. Names are unique within a namespace; a name present in two
// namespaces is either a registered global or a contamination risk.
type ParameterNamespace struct {
	NamespaceID        string                        `json:"namespace_id"`
	OwnerBoundary      string                        `json:"owner_boundary"`
	Parameters         map[string]ExtractedParameter `json:"parameters"`
	SharedRefs         []string                      `json:"shared_refs,omitempty"`
	ContaminationFlags []string                      `json:"contamination_flags,omitempty"`
}

// ScopedCount returns the number of scoped parameters in the namespace.
func (n ParameterNamespace) ScopedCount() int {
	count := 0
	for _, p := range n.Parameters {
		if p.Classification == ClassScoped {
			count++
		}
	}
	return count
}

// IsolationScore is 1 - flags/scoped. A namespace with no scoped
// parameters is perfectly isolated by definition.
func (n ParameterNamespace) IsolationScore() float64 {
	scoped := n.ScopedCount()
	if scoped == 0 {
		return 1.0
	}
	score := 1.0 - float64(len(n.ContaminationFlags))/float64(scoped)
	if score < 0 {
		return 0
	}
	return score
}

// SortedNames returns parameter names in deterministic order.
func (n ParameterNamespace) SortedNames() []string {
	names := make([]string, 0, len(n.Parameters))
	for name := range n.Parameters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidationStatus tracks a generated template through the validation engine.
type ValidationStatus string

const (
	ValidationPending ValidationStatus = "pending"
	ValidationPassed  ValidationStatus = "passed"
	ValidationFailed  ValidationStatus = "failed"
)

// GeneratedTemplate is a self-contained strategy module rendered from one
// boundary. Owned exclusively by the pipeline run that created it and
// immutable once validated.
type GeneratedTemplate struct {
	BoundaryName string           `json:"boundary_name"`
	SourceText   string           `json:"source_text"`
	Dependencies []string         `json:"dependencies,omitempty"`
	Unresolved   []string         `json:"unresolved,omitempty"`
	Status       ValidationStatus `json:"validation_status"`
	Issues       []string         `json:"issues,omitempty"`
}

// Diagnostic records a per-boundary error event without failing the session.
type Diagnostic struct {
	Boundary string    `json:"boundary,omitempty"`
	Stage    string    `json:"stage"`
	Kind     string    `json:"kind"`
	Message  string    `json:"message"`
	Time     time.Time `json:"time"`
}

func (d Diagnostic) String() string {
	if d.Boundary == "" {
		return fmt.Sprintf("[%s/%s] %s", d.Stage, d.Kind, d.Message)
	}
	return fmt.Sprintf("[%s/%s] %s: %s", d.Stage, d.Kind, d.Boundary, d.Message)
}

// ReviewThreshold is the namespace isolation score below which a session
// must be surfaced as needing review rather than silently accepted.
const ReviewThreshold = 0.9

// PipelineResult aggregates everything one run produced. It is created once
// per input file and handed to the caller; the pipeline never reads it back.
type PipelineResult struct {
	SessionID             string               `json:"session_id"`
	Filename              string               `json:"filename"`
	Boundaries            []ScannerBoundary    `json:"boundaries"`
	Namespaces            []ParameterNamespace `json:"namespaces"`
	Templates             []GeneratedTemplate  `json:"templates"`
	SessionIsolationScore float64              `json:"session_isolation_score"`
	NeedsReview           bool                 `json:"needs_review"`
	Diagnostics           []Diagnostic         `json:"diagnostics,omitempty"`
	Elapsed               time.Duration        `json:"elapsed_ns"`
}
