package validation

import (
	"context"
	"strings"
	"testing"

	"scansplit/internal/config"
	"scansplit/internal/extract"
	"scansplit/internal/isolation"
	"scansplit/internal/template"
	"scansplit/internal/types"
)

const validationSample = `api_key = "demo"

def scan_gap_up(symbols):
    min_gap = 2.0
    hits = []
    for sym in symbols:
        gap = 3.0
        if gap > min_gap and api_key:
            hits.append(sym)
    return hits
`

// buildTemplate runs the real extraction/isolation/generation chain so the
// round-trip check sees exactly what the pipeline produces.
func buildTemplate(t *testing.T) (types.GeneratedTemplate, types.ParameterNamespace, *isolation.GlobalRegistry) {
	t.Helper()
	ctx := context.Background()
	src := types.NewSource("v.py", validationSample)

	start := strings.Index(validationSample, "def scan_gap_up")
	boundary := types.ScannerBoundary{
		Name: "scan_gap_up", StartOffset: start, EndOffset: src.Len(), NamespaceID: "ns-1",
	}
	sharedSpans := [][2]int{{0, start}}

	extractor := extract.NewExtractor()

	sharedRaw, err := extractor.Extract(ctx, src, types.ScannerBoundary{
		Name: "shared_1", StartOffset: 0, EndOffset: start, Shared: true,
	}, nil)
	if err != nil {
		t.Fatalf("shared extract: %v", err)
	}
	registry := isolation.NewGlobalRegistry(sharedRaw)

	raw, err := extractor.Extract(ctx, src, boundary, sharedSpans)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	manager := isolation.NewManager(config.DefaultIsolationConfig(), registry, sharedSpans)
	ns, conflicts := manager.Build(boundary, raw)
	if len(conflicts) != 0 {
		t.Fatalf("conflicts: %v", conflicts)
	}

	tmpl, err := template.NewEngine().Generate(ctx, src, boundary, &ns, registry)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return tmpl, ns, registry
}

func TestValidateRoundTrip(t *testing.T) {
	tmpl, ns, registry := buildTemplate(t)

	v := NewValidator(config.DefaultIsolationConfig())
	failures := v.Validate(context.Background(), &tmpl, ns, registry)
	if len(failures) != 0 {
		t.Fatalf("generated template must validate cleanly, got: %v\n---\n%s", failures, tmpl.SourceText)
	}
	if tmpl.Status != types.ValidationPassed {
		t.Errorf("Status = %q, want passed", tmpl.Status)
	}
	if len(tmpl.Issues) != 0 {
		t.Errorf("Issues = %v", tmpl.Issues)
	}
}

func TestValidateSyntaxFailure(t *testing.T) {
	tmpl := types.GeneratedTemplate{
		BoundaryName: "broken",
		SourceText:   "def broken(:\n    pass\n",
		Status:       types.ValidationPending,
	}

	v := NewValidator(config.DefaultIsolationConfig())
	failures := v.Validate(context.Background(), &tmpl, types.ParameterNamespace{}, isolation.NewGlobalRegistry(nil))
	if len(failures) != 1 {
		t.Fatalf("want exactly the syntax failure, got %v", failures)
	}
	verr, ok := failures[0].(*types.ValidationError)
	if !ok || verr.Stage != StageSyntax {
		t.Errorf("failure = %v, want syntax stage", failures[0])
	}
	if tmpl.Status != types.ValidationFailed {
		t.Errorf("Status = %q, want failed", tmpl.Status)
	}
}

func TestValidateStructureFailure(t *testing.T) {
	tmpl := types.GeneratedTemplate{
		BoundaryName: "plain",
		SourceText:   "x = 1\n",
		Status:       types.ValidationPending,
	}

	v := NewValidator(config.DefaultIsolationConfig())
	failures := v.Validate(context.Background(), &tmpl, types.ParameterNamespace{}, isolation.NewGlobalRegistry(nil))

	foundStructure := false
	for _, err := range failures {
		if verr, ok := err.(*types.ValidationError); ok && verr.Stage == StageStructure {
			foundStructure = true
		}
	}
	if !foundStructure {
		t.Errorf("missing structure failure in %v", failures)
	}
	if tmpl.Status != types.ValidationFailed {
		t.Errorf("Status = %q, want failed", tmpl.Status)
	}
}

func TestValidateContaminationFailure(t *testing.T) {
	tmpl, ns, registry := buildTemplate(t)

	// Corrupt the namespace after generation: the rendered text no longer
	// matches what the namespace claims.
	corrupted := ns.Parameters["min_gap"]
	corrupted.Value = "9.9"
	ns.Parameters["min_gap"] = corrupted

	v := NewValidator(config.DefaultIsolationConfig())
	failures := v.Validate(context.Background(), &tmpl, ns, registry)

	foundContamination := false
	for _, err := range failures {
		if verr, ok := err.(*types.ValidationError); ok && verr.Stage == StageContamination {
			foundContamination = true
			if !strings.Contains(verr.Detail, "min_gap") {
				t.Errorf("diff should name the mismatched parameter: %s", verr.Detail)
			}
		}
	}
	if !foundContamination {
		t.Fatalf("want contamination failure, got %v", failures)
	}
	if tmpl.Status != types.ValidationFailed {
		t.Errorf("Status = %q, want failed", tmpl.Status)
	}
}

func TestGlobalBlockSpan(t *testing.T) {
	text := "head\n" + template.SectionGlobals + "\na = 1\n" + template.SectionScoped + "\nb = 2\n"
	span, ok := globalBlockSpan(text)
	if !ok {
		t.Fatal("span not found")
	}
	if got := text[span[0]:span[1]]; got != "\na = 1\n" {
		t.Errorf("span text = %q", got)
	}

	if _, ok := globalBlockSpan("no markers here"); ok {
		t.Error("found a span where none exists")
	}
}
