package config

import "fmt"

// ConsensusConfig configures the boundary consensus merge.
type ConsensusConfig struct {
	// Strategy weights multiply each vote's confidence when scoring a
	// group. Structural evidence outranks pattern, pattern outranks the
	// semantic guess.
	StructuralWeight float64 `yaml:"structural_weight"`
	PatternWeight    float64 `yaml:"pattern_weight"`
	SemanticWeight   float64 `yaml:"semantic_weight"`

	// MinConfidence rejects any merged boundary scoring below this
	// absolute threshold.
	MinConfidence float64 `yaml:"min_confidence"`

	// OverlapThreshold groups two votes when their overlap exceeds this
	// fraction of the smaller range.
	OverlapThreshold float64 `yaml:"overlap_threshold"`

	// RefineConfidence splits range refinement: members at or above it
	// contribute their union, members below it their intersection.
	RefineConfidence float64 `yaml:"refine_confidence"`
}

// DefaultConsensusConfig returns the default weights and thresholds.
func DefaultConsensusConfig() ConsensusConfig {
	return ConsensusConfig{
		StructuralWeight: 1.0,
		PatternWeight:    0.8,
		SemanticWeight:   0.6,
		MinConfidence:    0.5,
		OverlapThreshold: 0.5,
		RefineConfidence: 0.7,
	}
}

// Weight returns the configured weight for a detection method name.
func (c ConsensusConfig) Weight(method string) float64 {
	switch method {
	case "structural":
		return c.StructuralWeight
	case "pattern":
		return c.PatternWeight
	case "semantic":
		return c.SemanticWeight
	default:
		return c.SemanticWeight
	}
}

// Validate checks the consensus configuration.
func (c ConsensusConfig) Validate() error {
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be in [0,1]")
	}
	if c.OverlapThreshold <= 0 || c.OverlapThreshold > 1 {
		return fmt.Errorf("overlap_threshold must be in (0,1]")
	}
	if c.StructuralWeight <= 0 || c.PatternWeight <= 0 || c.SemanticWeight <= 0 {
		return fmt.Errorf("strategy weights must be positive")
	}
	return nil
}
