package types

import (
	"fmt"
	"strings"
)

// Error taxonomy. Every error is captured at the boundary level and attached
// to PipelineResult.Diagnostics; only a total absence of boundaries after
// consensus (including the whole-file fallback) fails the session.

// BoundaryDetectionError means no strategy found any boundary and the
// whole-file fallback could not be applied either (empty input).
type BoundaryDetectionError struct {
	Filename string
	Reason   string
}

func (e *BoundaryDetectionError) Error() string {
	return fmt.Sprintf("boundary detection failed for %s: %s", e.Filename, e.Reason)
}

// IsolationConflictError marks a parameter collision the namespace manager
// could not auto-resolve. Flagged, never fatal.
type IsolationConflictError struct {
	Namespace string
	Name      string
	Detail    string
}

func (e *IsolationConflictError) Error() string {
	return fmt.Sprintf("isolation conflict in namespace %s on %q: %s", e.Namespace, e.Name, e.Detail)
}

// TemplateGenerationError is an unresolved dependency or render failure.
// The diagnostic template is still emitted.
type TemplateGenerationError struct {
	Boundary   string
	Unresolved []string
	Err        error
}

func (e *TemplateGenerationError) Error() string {
	if len(e.Unresolved) > 0 {
		return fmt.Sprintf("template generation for %s: unresolved dependencies [%s]",
			e.Boundary, strings.Join(e.Unresolved, ", "))
	}
	return fmt.Sprintf("template generation for %s: %v", e.Boundary, e.Err)
}

func (e *TemplateGenerationError) Unwrap() error { return e.Err }

// ValidationError is a syntax, structural, or contamination failure for one
// generated template. Reported per boundary, never blocks siblings.
type ValidationError struct {
	Boundary string
	Stage    string // syntax, structure, contamination
	Detail   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation (%s) failed for %s: %s", e.Stage, e.Boundary, e.Detail)
}

// ExternalServiceError means the semantic detection capability was
// unreachable after retries. That vote is dropped; the remaining strategies
// still proceed.
type ExternalServiceError struct {
	Service  string
	Attempts int
	Err      error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("external service %s failed after %d attempts: %v", e.Service, e.Attempts, e.Err)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }
