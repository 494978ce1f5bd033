package config

import (
	"fmt"
	"time"
)

// PipelineConfig bounds pipeline concurrency and wall-clock time.
type PipelineConfig struct {
	// MaxConcurrency caps the number of per-boundary pipelines in flight.
	// Zero means one worker per boundary, capped at MaxWorkersCap.
	MaxConcurrency int `yaml:"max_concurrency"`

	// MaxWorkersCap is the hard ceiling on workers to bound memory.
	MaxWorkersCap int `yaml:"max_workers_cap"`

	// SessionTimeout bounds the whole run.
	SessionTimeout time.Duration `yaml:"session_timeout"`

	// BoundaryTimeout bounds any single boundary's pipeline so one
	// pathological boundary cannot starve the rest.
	BoundaryTimeout time.Duration `yaml:"boundary_timeout"`
}

// DefaultPipelineConfig returns conservative defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		MaxConcurrency:  0,
		MaxWorkersCap:   8,
		SessionTimeout:  5 * time.Minute,
		BoundaryTimeout: 60 * time.Second,
	}
}

// Workers resolves the worker count for a given number of boundaries.
func (c PipelineConfig) Workers(boundaries int) int {
	workers := c.MaxConcurrency
	if workers <= 0 {
		workers = boundaries
	}
	cap := c.MaxWorkersCap
	if cap <= 0 {
		cap = 8
	}
	if workers > cap {
		workers = cap
	}
	if workers < 1 {
		workers = 1
	}
	return workers
}

// Validate checks the pipeline configuration.
func (c PipelineConfig) Validate() error {
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("session_timeout must be positive")
	}
	if c.BoundaryTimeout <= 0 {
		return fmt.Errorf("boundary_timeout must be positive")
	}
	if c.BoundaryTimeout > c.SessionTimeout {
		return fmt.Errorf("boundary_timeout must not exceed session_timeout")
	}
	return nil
}
