// Package pipeline orchestrates a full splitting session: parallel
// detection, single-threaded consensus, then per-boundary extraction,
// isolation, template generation, and validation fanned out under a
// bounded worker pool. One boundary failing, panicking, or timing out
// becomes a diagnostic on the result; only detection producing no usable
// boundary at all fails the session.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"scansplit/internal/config"
	"scansplit/internal/consensus"
	"scansplit/internal/detect"
	"scansplit/internal/extract"
	"scansplit/internal/isolation"
	"scansplit/internal/llm"
	"scansplit/internal/logging"
	"scansplit/internal/template"
	"scansplit/internal/types"
	"scansplit/internal/validation"
)

// Pipeline wires the stages together for one or more runs.
type Pipeline struct {
	cfg        *config.Config
	strategies []detect.Strategy
	consensus  *consensus.Engine
	extractor  *extract.Extractor
	templates  *template.Engine
	validator  *validation.Validator
}

// New assembles a pipeline from config. The semantic strategy joins the
// detection pool only when enabled and a client is available; structural
// and pattern detection always run.
func New(cfg *config.Config, client llm.Client) *Pipeline {
	strategies := []detect.Strategy{
		detect.NewStructuralDetector(cfg.Detect),
		detect.NewPatternDetector(cfg.Detect),
	}
	if cfg.Detect.EnableSemantic && client != nil {
		strategies = append(strategies, detect.NewSemanticDetector(client, cfg.LLM.MaxRetries, cfg.LLM.RetryBackoffBase))
	}

	return &Pipeline{
		cfg:        cfg,
		strategies: strategies,
		consensus:  consensus.NewEngine(cfg.Consensus),
		extractor:  extract.NewExtractor(),
		templates:  template.NewEngine(),
		validator:  validation.NewValidator(cfg.Isolation),
	}
}

// boundaryOutcome is one boundary's products, collected without locking by
// writing to a fixed slot.
type boundaryOutcome struct {
	ok          bool
	namespace   types.ParameterNamespace
	template    types.GeneratedTemplate
	diagnostics []types.Diagnostic
}

// Run executes the full pipeline over one source file.
func (p *Pipeline) Run(ctx context.Context, src *types.Source) (*types.PipelineResult, error) {
	started := time.Now()
	sessionID := uuid.NewString()
	logging.Pipeline("session %s: %s (%d bytes, %d lines)",
		sessionID, src.Filename, src.Len(), src.LineCount())

	if p.cfg.Pipeline.SessionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Pipeline.SessionTimeout)
		defer cancel()
	}

	result := &types.PipelineResult{
		SessionID: sessionID,
		Filename:  src.Filename,
	}

	votes, detectDiags := p.detect(ctx, src)
	result.Diagnostics = append(result.Diagnostics, detectDiags...)

	merged, err := p.consensus.Merge(src, votes)
	if err != nil {
		return nil, fmt.Errorf("consensus: %w", err)
	}

	registry, regDiags := p.buildRegistry(ctx, src, merged)
	result.Diagnostics = append(result.Diagnostics, regDiags...)

	outcomes := p.processBoundaries(ctx, src, merged, registry)

	bodies := make(map[string]string, len(merged.Boundaries))
	for _, b := range merged.Boundaries {
		bodies[b.Name] = src.Slice(b.StartOffset, b.EndOffset)
	}

	var namespaces []types.ParameterNamespace
	for _, o := range outcomes {
		if o.ok {
			namespaces = append(namespaces, o.namespace)
		}
	}
	isolation.CrossCheck(namespaces, bodies)

	// CrossCheck mutates flags; copy the updated namespaces back out in
	// boundary order alongside their templates.
	ni := 0
	for i := range outcomes {
		if !outcomes[i].ok {
			result.Diagnostics = append(result.Diagnostics, outcomes[i].diagnostics...)
			continue
		}
		outcomes[i].namespace = namespaces[ni]
		ni++
		result.Namespaces = append(result.Namespaces, outcomes[i].namespace)
		result.Templates = append(result.Templates, outcomes[i].template)
		result.Diagnostics = append(result.Diagnostics, outcomes[i].diagnostics...)
	}

	score, needsReview := isolation.SessionScore(result.Namespaces, p.cfg.Isolation.ReviewThreshold)
	result.SessionIsolationScore = score
	result.NeedsReview = needsReview

	result.Boundaries = append(result.Boundaries, merged.Boundaries...)
	result.Boundaries = append(result.Boundaries, merged.Shared...)
	sort.Slice(result.Boundaries, func(i, j int) bool {
		return result.Boundaries[i].StartOffset < result.Boundaries[j].StartOffset
	})

	result.Elapsed = time.Since(started)
	logging.Pipeline("session %s: %d boundaries, %d templates, isolation %.3f, review=%t (%v)",
		sessionID, len(merged.Boundaries), len(result.Templates), score, needsReview, result.Elapsed)
	return result, nil
}

// DetectOnly runs detection and consensus without extraction or
// generation. Shared spans are included, marked as such.
func (p *Pipeline) DetectOnly(ctx context.Context, src *types.Source) ([]types.ScannerBoundary, []types.Diagnostic, error) {
	votes, diags := p.detect(ctx, src)
	merged, err := p.consensus.Merge(src, votes)
	if err != nil {
		return nil, diags, err
	}
	all := append([]types.ScannerBoundary{}, merged.Boundaries...)
	all = append(all, merged.Shared...)
	sort.Slice(all, func(i, j int) bool {
		return all[i].StartOffset < all[j].StartOffset
	})
	return all, diags, nil
}

// detect fans the strategies out in parallel and concatenates their votes.
// A failed strategy contributes a diagnostic instead of votes; semantic
// outages surface as external_service diagnostics.
func (p *Pipeline) detect(ctx context.Context, src *types.Source) ([]types.ScannerBoundary, []types.Diagnostic) {
	var (
		mu    sync.Mutex
		votes []types.ScannerBoundary
		diags []types.Diagnostic
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, strategy := range p.strategies {
		s := strategy
		g.Go(func() error {
			found, err := s.Detect(gctx, src)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				kind := "detection"
				var svcErr *types.ExternalServiceError
				if errors.As(err, &svcErr) {
					kind = "external_service"
				}
				diags = append(diags, types.Diagnostic{
					Stage:   "detect",
					Kind:    kind,
					Message: fmt.Sprintf("%s strategy: %v", s.Name(), err),
					Time:    time.Now(),
				})
				return nil
			}
			votes = append(votes, found...)
			return nil
		})
	}
	g.Wait()

	// Deterministic vote order regardless of goroutine scheduling.
	sort.Slice(votes, func(i, j int) bool {
		if votes[i].StartOffset != votes[j].StartOffset {
			return votes[i].StartOffset < votes[j].StartOffset
		}
		if votes[i].Method != votes[j].Method {
			return votes[i].Method < votes[j].Method
		}
		return votes[i].EndOffset < votes[j].EndOffset
	})

	logging.PipelineDebug("detection: %d votes from %d strategies", len(votes), len(p.strategies))
	return votes, diags
}

// buildRegistry extracts parameters from every shared span and seeds the
// read-only global registry with them.
func (p *Pipeline) buildRegistry(ctx context.Context, src *types.Source, merged *consensus.Result) (*isolation.GlobalRegistry, []types.Diagnostic) {
	var (
		params []types.ExtractedParameter
		diags  []types.Diagnostic
	)
	for _, shared := range merged.Shared {
		found, err := p.extractor.Extract(ctx, src, shared, nil)
		if err != nil {
			diags = append(diags, types.Diagnostic{
				Boundary: shared.Name,
				Stage:    "extract",
				Kind:     "shared_region",
				Message:  err.Error(),
				Time:     time.Now(),
			})
			continue
		}
		params = append(params, found...)
	}
	registry := isolation.NewGlobalRegistry(params)
	logging.PipelineDebug("global registry: %d parameters from %d shared spans",
		registry.Len(), len(merged.Shared))
	return registry, diags
}

// processBoundaries runs extraction through validation for every boundary
// under the worker limit. Each worker writes only its own slot.
func (p *Pipeline) processBoundaries(ctx context.Context, src *types.Source, merged *consensus.Result, registry *isolation.GlobalRegistry) []boundaryOutcome {
	outcomes := make([]boundaryOutcome, len(merged.Boundaries))
	sharedSpans := merged.SharedSpans()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Pipeline.Workers(len(merged.Boundaries)))

	for i, boundary := range merged.Boundaries {
		i, boundary := i, boundary
		g.Go(func() error {
			outcomes[i] = p.processOne(gctx, src, boundary, sharedSpans, registry)
			return nil
		})
	}
	g.Wait()
	return outcomes
}

// processOne handles a single boundary end to end, converting panics and
// timeouts into diagnostics so sibling boundaries are unaffected.
func (p *Pipeline) processOne(ctx context.Context, src *types.Source, boundary types.ScannerBoundary, sharedSpans [][2]int, registry *isolation.GlobalRegistry) (out boundaryOutcome) {
	defer func() {
		if r := recover(); r != nil {
			logging.PipelineError("boundary %q panicked: %v\n%s", boundary.Name, r, debug.Stack())
			out = boundaryOutcome{diagnostics: []types.Diagnostic{{
				Boundary: boundary.Name,
				Stage:    "pipeline",
				Kind:     "panic",
				Message:  fmt.Sprint(r),
				Time:     time.Now(),
			}}}
		}
	}()

	if p.cfg.Pipeline.BoundaryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Pipeline.BoundaryTimeout)
		defer cancel()
	}

	diag := func(stage, kind string, err error) {
		out.diagnostics = append(out.diagnostics, types.Diagnostic{
			Boundary: boundary.Name,
			Stage:    stage,
			Kind:     kind,
			Message:  err.Error(),
			Time:     time.Now(),
		})
	}

	raw, err := p.extractor.Extract(ctx, src, boundary, sharedSpans)
	if err != nil {
		diag("extract", "extraction", err)
		return out
	}

	manager := isolation.NewManager(p.cfg.Isolation, registry, sharedSpans)
	ns, conflicts := manager.Build(boundary, raw)
	for _, c := range conflicts {
		diag("isolation", "conflict", c)
	}

	tmpl, err := p.templates.Generate(ctx, src, boundary, &ns, registry)
	if err != nil {
		var genErr *types.TemplateGenerationError
		if errors.As(err, &genErr) {
			// Unresolved dependencies: the template still exists and is
			// still worth validating.
			diag("template", "unresolved", err)
		} else {
			diag("template", "generation", err)
			return out
		}
	}

	for _, verr := range p.validator.Validate(ctx, &tmpl, ns, registry) {
		diag("validate", "validation", verr)
	}

	if err := ctx.Err(); err != nil {
		diag("pipeline", "timeout", err)
		return out
	}

	out.ok = true
	out.namespace = ns
	out.template = tmpl
	return out
}
