package config

import "fmt"

// IsolationConfig configures global/scoped parameter classification.
type IsolationConfig struct {
	// GlobalAllowList names parameters that are always global regardless of
	// where they were extracted: credentials, endpoints, date ranges,
	// worker counts, symbol universes.
	GlobalAllowList []string `yaml:"global_allow_list"`

	// ReviewThreshold is the per-namespace isolation score below which the
	// session is marked as needing review.
	ReviewThreshold float64 `yaml:"review_threshold"`
}

// DefaultIsolationConfig returns the standard allow-list.
func DefaultIsolationConfig() IsolationConfig {
	return IsolationConfig{
		GlobalAllowList: []string{
			"api_key", "api_secret", "base_url", "endpoint",
			"start_date", "end_date", "date_range",
			"max_workers", "num_workers", "worker_count",
			"symbols", "symbol_list", "universe", "tickers", "watchlist",
		},
		ReviewThreshold: 0.9,
	}
}

// Validate checks the isolation configuration.
func (c IsolationConfig) Validate() error {
	if c.ReviewThreshold < 0 || c.ReviewThreshold > 1 {
		return fmt.Errorf("review_threshold must be in [0,1]")
	}
	return nil
}
