// Package detect implements the boundary detection strategies. Each
// strategy is an independent, side-effect-free vote over the same immutable
// source text; the consensus engine merges the votes downstream.
package detect

import (
	"context"

	"scansplit/internal/types"
)

// Strategy is one independent boundary-detection heuristic.
type Strategy interface {
	// Name identifies the strategy in logs and evidence strings.
	Name() string

	// Method is the detection method tag attached to produced boundaries.
	Method() types.DetectionMethod

	// Detect returns candidate boundaries for the source. Implementations
	// must not retain or mutate the source and must be safe to run
	// concurrently with other strategies.
	Detect(ctx context.Context, src *types.Source) ([]types.ScannerBoundary, error)
}
