// Package validation gates every generated template through three checks:
// a tree-sitter reparse for syntax errors, a structural check for the
// required module sections, and a contamination check that re-extracts
// parameters from the rendered text and diffs them against the namespace
// that produced the template. Failures mark the template, never the
// session, and never block sibling boundaries.
package validation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-cmp/cmp"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"scansplit/internal/config"
	"scansplit/internal/extract"
	"scansplit/internal/isolation"
	"scansplit/internal/logging"
	"scansplit/internal/template"
	"scansplit/internal/types"
)

// Validation stage names used in ValidationError.Stage.
const (
	StageSyntax        = "syntax"
	StageStructure     = "structure"
	StageContamination = "contamination"
)

// requiredSections must all appear, in this order, in every template.
var requiredSections = []string{
	template.SectionImports,
	template.SectionGlobals,
	template.SectionScoped,
	template.SectionEntryPoint,
}

// Validator checks generated templates.
type Validator struct {
	cfg       config.IsolationConfig
	extractor *extract.Extractor
}

// NewValidator creates a validator. The isolation config must be the same
// one the namespace managers ran with, or the re-extraction comparison
// would classify parameters differently than the original pass did.
func NewValidator(cfg config.IsolationConfig) *Validator {
	return &Validator{cfg: cfg, extractor: extract.NewExtractor()}
}

// Validate runs all stages against one template, sets its Status, and
// records failures in its Issues. Returned errors are the per-stage
// *types.ValidationError values for the diagnostics stream.
func (v *Validator) Validate(ctx context.Context, tmpl *types.GeneratedTemplate, ns types.ParameterNamespace, registry *isolation.GlobalRegistry) []error {
	start := time.Now()
	var failures []error

	if err := v.checkSyntax(ctx, tmpl); err != nil {
		failures = append(failures, err)
	} else {
		// Structure and contamination assume parseable text.
		if err := v.checkStructure(tmpl); err != nil {
			failures = append(failures, err)
		}
		if err := v.checkContamination(ctx, tmpl, ns, registry); err != nil {
			failures = append(failures, err)
		}
	}

	if len(failures) == 0 {
		tmpl.Status = types.ValidationPassed
	} else {
		tmpl.Status = types.ValidationFailed
		for _, err := range failures {
			tmpl.Issues = append(tmpl.Issues, err.Error())
			logging.ValidateWarn("%v", err)
		}
	}

	logging.Validate("template %q: %s with %d issue(s) (%v)",
		tmpl.BoundaryName, tmpl.Status, len(failures), time.Since(start))
	return failures
}

// checkSyntax reparses the rendered module and fails on any parse error.
func (v *Validator) checkSyntax(ctx context.Context, tmpl *types.GeneratedTemplate) error {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, []byte(tmpl.SourceText))
	if err != nil {
		return &types.ValidationError{
			Boundary: tmpl.BoundaryName,
			Stage:    StageSyntax,
			Detail:   err.Error(),
		}
	}
	defer tree.Close()

	if tree.RootNode().HasError() {
		return &types.ValidationError{
			Boundary: tmpl.BoundaryName,
			Stage:    StageSyntax,
			Detail:   "generated module contains syntax errors",
		}
	}
	return nil
}

// checkStructure verifies the required section markers appear in order.
func (v *Validator) checkStructure(tmpl *types.GeneratedTemplate) error {
	cursor := 0
	for _, marker := range requiredSections {
		idx := strings.Index(tmpl.SourceText[cursor:], marker)
		if idx < 0 {
			return &types.ValidationError{
				Boundary: tmpl.BoundaryName,
				Stage:    StageStructure,
				Detail:   fmt.Sprintf("missing or misordered section %q", marker),
			}
		}
		cursor += idx + len(marker)
	}
	return nil
}

// paramView is the comparable projection of a parameter. Confidence, pass,
// and offsets legitimately change between the original extraction and the
// re-extraction, so only these fields participate in the diff.
type paramView struct {
	Value          string
	DeclaredType   string
	Classification types.Classification
}

// checkContamination re-runs parameter extraction over the rendered
// template, with the global-parameter block acting as the shared region,
// and requires every parameter of the producing namespace to survive with
// an identical value, type, and classification.
//
// The diff is keyed by the producing namespace's names: spliced helper
// functions carry their own internal assignments, and those extra
// extractions are generation byproducts, not contamination.
func (v *Validator) checkContamination(ctx context.Context, tmpl *types.GeneratedTemplate, ns types.ParameterNamespace, registry *isolation.GlobalRegistry) error {
	src := types.NewSource(tmpl.BoundaryName+".py", tmpl.SourceText)

	globalSpan, ok := globalBlockSpan(tmpl.SourceText)
	if !ok {
		return &types.ValidationError{
			Boundary: tmpl.BoundaryName,
			Stage:    StageContamination,
			Detail:   "global parameter block not found in rendered text",
		}
	}

	whole := types.ScannerBoundary{
		Name:        tmpl.BoundaryName,
		StartOffset: 0,
		EndOffset:   src.Len(),
		NamespaceID: ns.NamespaceID,
	}

	raw, err := v.extractor.Extract(ctx, src, whole, [][2]int{globalSpan})
	if err != nil {
		return &types.ValidationError{
			Boundary: tmpl.BoundaryName,
			Stage:    StageContamination,
			Detail:   "re-extraction failed: " + err.Error(),
		}
	}

	var sharedRaw []types.ExtractedParameter
	for _, p := range raw {
		if p.SourceOffset >= globalSpan[0] && p.SourceOffset < globalSpan[1] {
			sharedRaw = append(sharedRaw, p)
		}
	}
	reRegistry := isolation.NewGlobalRegistry(sharedRaw)
	manager := isolation.NewManager(v.cfg, reRegistry, [][2]int{globalSpan})
	reNs, _ := manager.Build(whole, raw)

	want := namespaceView(ns, registry)
	got := reprojected(want, reNs, reRegistry)

	if diff := cmp.Diff(want, got); diff != "" {
		return &types.ValidationError{
			Boundary: tmpl.BoundaryName,
			Stage:    StageContamination,
			Detail:   "parameter round-trip mismatch:\n" + diff,
		}
	}
	return nil
}

// globalBlockSpan locates the byte span between the global and scoped
// section markers.
func globalBlockSpan(text string) ([2]int, bool) {
	start := strings.Index(text, template.SectionGlobals)
	if start < 0 {
		return [2]int{}, false
	}
	start += len(template.SectionGlobals)
	rest := strings.Index(text[start:], template.SectionScoped)
	if rest < 0 {
		return [2]int{}, false
	}
	return [2]int{start, start + rest}, true
}

// namespaceView projects a namespace into the comparable map: scoped
// parameters plus every global it references, whether allow-listed from
// its own body or resolved through the shared registry.
func namespaceView(ns types.ParameterNamespace, registry *isolation.GlobalRegistry) map[string]paramView {
	view := make(map[string]paramView, len(ns.Parameters)+len(ns.SharedRefs))
	for name, p := range ns.Parameters {
		view[name] = paramView{
			Value:          p.Value,
			DeclaredType:   p.DeclaredType,
			Classification: p.Classification,
		}
	}
	for _, name := range ns.SharedRefs {
		if p, ok := registry.Lookup(name); ok {
			view[name] = paramView{
				Value:          p.Value,
				DeclaredType:   p.DeclaredType,
				Classification: types.ClassGlobal,
			}
		}
	}
	return view
}

// reprojected builds the re-extracted side of the diff over exactly the
// original names. A name the re-extraction lost is simply absent from the
// result, which the diff then reports. For a name the original namespace
// holds as global, the rendered global block is the authoritative source;
// a scoped re-extraction of the same name (a spliced config dict, say) is
// a generation byproduct and must not shadow it.
func reprojected(want map[string]paramView, reNs types.ParameterNamespace, reRegistry *isolation.GlobalRegistry) map[string]paramView {
	got := make(map[string]paramView, len(want))
	for name, expected := range want {
		fromRegistry := func() (paramView, bool) {
			p, ok := reRegistry.Lookup(name)
			return paramView{
				Value:          p.Value,
				DeclaredType:   p.DeclaredType,
				Classification: types.ClassGlobal,
			}, ok
		}
		fromNamespace := func() (paramView, bool) {
			p, ok := reNs.Parameters[name]
			return paramView{
				Value:          p.Value,
				DeclaredType:   p.DeclaredType,
				Classification: p.Classification,
			}, ok
		}

		first, second := fromNamespace, fromRegistry
		if expected.Classification == types.ClassGlobal {
			first, second = fromRegistry, fromNamespace
		}
		if v, ok := first(); ok {
			got[name] = v
		} else if v, ok := second(); ok {
			got[name] = v
		}
	}
	return got
}
