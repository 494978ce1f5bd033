package config

import "fmt"

// DetectConfig configures the detection strategies.
type DetectConfig struct {
	// Vocabulary of strategy-indicating name fragments and keywords checked
	// against top-level function names and their preceding comments.
	Vocabulary []string `yaml:"vocabulary"`

	// FamilyMarkers are comment tags the pattern strategy recognizes as the
	// start of a known strategy family (e.g. "# STRATEGY:", "## scanner:").
	FamilyMarkers []string `yaml:"family_markers"`

	// EnableSemantic turns the external LLM vote on or off. Structural and
	// pattern detection always run.
	EnableSemantic bool `yaml:"enable_semantic"`
}

// DefaultDetectConfig returns the built-in strategy vocabulary.
func DefaultDetectConfig() DetectConfig {
	return DetectConfig{
		Vocabulary: []string{
			"scan_", "_scanner", "scanner_",
			"pattern", "strategy", "backtest", "screen", "signal",
		},
		FamilyMarkers: []string{
			"# STRATEGY:", "# Strategy:", "## STRATEGY",
			"# SCANNER:", "# Scanner:", "## SCANNER",
			"# === strategy", "# --- strategy",
		},
		EnableSemantic: false,
	}
}

// Validate checks the detection configuration.
func (c DetectConfig) Validate() error {
	if len(c.Vocabulary) == 0 {
		return fmt.Errorf("vocabulary must not be empty")
	}
	return nil
}
