package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"scansplit/internal/config"
	"scansplit/internal/llm"
	"scansplit/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// go.opencensus.io (pulled in transitively via google.golang.org/genai)
		// starts a background worker in package init that cannot be stopped.
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

func run(t *testing.T, source string) *types.PipelineResult {
	t.Helper()
	cfg := config.Default()
	pipe := New(cfg, nil)
	result, err := pipe.Run(context.Background(), types.NewSource("scanners.py", source))
	require.NoError(t, err)
	return result
}

func strategyBoundaries(result *types.PipelineResult) []types.ScannerBoundary {
	var out []types.ScannerBoundary
	for _, b := range result.Boundaries {
		if !b.Shared {
			out = append(out, b)
		}
	}
	return out
}

func namespaceOf(t *testing.T, result *types.PipelineResult, owner string) types.ParameterNamespace {
	t.Helper()
	for _, ns := range result.Namespaces {
		if ns.OwnerBoundary == owner {
			return ns
		}
	}
	t.Fatalf("no namespace for %q in %+v", owner, result.Namespaces)
	return types.ParameterNamespace{}
}

// Two clearly separated strategies, each with its own min_gap value, no
// cross-boundary comparison use. Both must keep their own value and the
// session must be perfectly isolated.
func TestRunSeparatedStrategies(t *testing.T) {
	source := `api_key = "demo-key"

# STRATEGY: Gap Up
def scan_gap_up(symbols):
    min_gap = 0.5
    picks = []
    for sym in symbols:
        strength = len(sym) * min_gap
        picks.append(strength)
    return picks

# STRATEGY: Gap Down
def scan_gap_down(symbols):
    min_gap = 1.0
    drops = []
    for sym in symbols:
        weight = len(sym) * min_gap
        drops.append(weight)
    return drops
`
	result := run(t, source)

	strategies := strategyBoundaries(result)
	require.Len(t, strategies, 2)
	assert.Equal(t, "scan_gap_up", strategies[0].Name)
	assert.Equal(t, "scan_gap_down", strategies[1].Name)

	require.Len(t, result.Namespaces, 2)
	up := namespaceOf(t, result, "scan_gap_up")
	down := namespaceOf(t, result, "scan_gap_down")

	assert.Equal(t, "0.5", up.Parameters["min_gap"].Value)
	assert.Equal(t, "1.0", down.Parameters["min_gap"].Value)
	assert.Equal(t, types.ClassScoped, up.Parameters["min_gap"].Classification)
	assert.NotEqual(t, up.NamespaceID, down.NamespaceID)

	// Neither body touches the shared api_key, so neither module carries it.
	assert.Empty(t, up.SharedRefs)
	assert.Empty(t, down.SharedRefs)

	assert.Empty(t, up.ContaminationFlags)
	assert.Empty(t, down.ContaminationFlags)
	assert.Equal(t, 1.0, result.SessionIsolationScore)
	assert.False(t, result.NeedsReview)

	require.Len(t, result.Templates, 2)
	for _, tmpl := range result.Templates {
		assert.Equal(t, types.ValidationPassed, tmpl.Status, "issues: %v", tmpl.Issues)
	}
}

// Both strategies read one shared config dict: its key becomes one global
// parameter, with zero scoped duplicates and no contamination flags.
func TestRunSharedConfigDict(t *testing.T) {
	source := `shared_params = {'min_gap': 0.5}

# STRATEGY: Gap Up
def scan_gap_up(symbols):
    return [s for s in symbols if len(s) > shared_params['min_gap']]

# STRATEGY: Gap Down
def scan_gap_down(symbols):
    return [s for s in symbols if len(s) < shared_params['min_gap']]
`
	result := run(t, source)

	require.Len(t, result.Namespaces, 2)
	for _, ns := range result.Namespaces {
		assert.Contains(t, ns.SharedRefs, "min_gap", "namespace %s", ns.OwnerBoundary)
		assert.Zero(t, ns.ScopedCount(), "namespace %s owns scoped duplicates", ns.OwnerBoundary)
		assert.Empty(t, ns.ContaminationFlags)
	}
	assert.Equal(t, 1.0, result.SessionIsolationScore)

	for _, tmpl := range result.Templates {
		assert.Equal(t, types.ValidationPassed, tmpl.Status, "issues: %v", tmpl.Issues)
		// The dict the bodies read must ride along as a dependency.
		assert.Contains(t, tmpl.Dependencies, "shared_params")
	}
}

// No strategy markers at all: the whole file becomes one fallback boundary
// at exactly the structural default confidence.
func TestRunFallbackWholeFile(t *testing.T) {
	source := `prices = [1, 2, 3]
total = sum(prices)
print(total)
`
	result := run(t, source)

	strategies := strategyBoundaries(result)
	require.Len(t, strategies, 1)
	b := strategies[0]
	assert.Equal(t, types.MethodFallback, b.Method)
	assert.Equal(t, types.FallbackConfidence, b.Confidence)
	assert.Equal(t, 0, b.StartOffset)
	assert.Equal(t, len(source), b.EndOffset)

	require.Len(t, result.Templates, 1)
	assert.Equal(t, types.ValidationPassed, result.Templates[0].Status,
		"issues: %v", result.Templates[0].Issues)
}

// The same scoped name with different values, used in both boundaries'
// comparison logic: contamination flags, degraded score, session review.
func TestRunContaminationFlagged(t *testing.T) {
	source := `# STRATEGY: Breakout
def scan_breakout(symbols):
    threshold = 10
    return [s for s in symbols if len(s) > threshold]

# STRATEGY: Breakdown
def scan_breakdown(symbols):
    threshold = 20
    return [s for s in symbols if len(s) < threshold]
`
	result := run(t, source)

	require.Len(t, result.Namespaces, 2)
	for _, ns := range result.Namespaces {
		assert.NotEmpty(t, ns.ContaminationFlags, "namespace %s", ns.OwnerBoundary)
	}
	assert.Less(t, result.SessionIsolationScore, 1.0)
	assert.True(t, result.NeedsReview)
}

func TestRunEmptySourceFails(t *testing.T) {
	pipe := New(config.Default(), nil)
	_, err := pipe.Run(context.Background(), types.NewSource("empty.py", ""))
	require.Error(t, err)
}

func TestRunDeterministic(t *testing.T) {
	source := `# STRATEGY: One
def scan_one(symbols):
    limit = 5
    return symbols

# STRATEGY: Two
def scan_two(symbols):
    floor = 7
    return symbols
`
	first := run(t, source)
	for i := 0; i < 3; i++ {
		again := run(t, source)
		require.Len(t, again.Boundaries, len(first.Boundaries), "run %d", i)
		for j := range again.Boundaries {
			assert.Equal(t, first.Boundaries[j].Name, again.Boundaries[j].Name)
			assert.Equal(t, first.Boundaries[j].StartOffset, again.Boundaries[j].StartOffset)
			assert.Equal(t, first.Boundaries[j].EndOffset, again.Boundaries[j].EndOffset)
		}
		require.Len(t, again.Templates, len(first.Templates))
		for j := range again.Templates {
			assert.Equal(t, first.Templates[j].SourceText, again.Templates[j].SourceText)
		}
	}
}

// Semantic detection failing stays a diagnostic; the other votes carry the
// session.
func TestRunSemanticOutageDegrades(t *testing.T) {
	source := `# STRATEGY: Solo
def scan_solo(symbols):
    cap = 3
    return symbols
`
	cfg := config.Default()
	cfg.Detect.EnableSemantic = true
	cfg.LLM.MaxRetries = 1
	pipe := New(cfg, &llm.NullClient{Err: context.DeadlineExceeded})

	result, err := pipe.Run(context.Background(), types.NewSource("s.py", source))
	require.NoError(t, err)

	require.Len(t, strategyBoundaries(result), 1)

	foundOutage := false
	for _, d := range result.Diagnostics {
		if d.Kind == "external_service" {
			foundOutage = true
		}
	}
	assert.True(t, foundOutage, "diagnostics: %v", result.Diagnostics)
}

func TestRunSemanticVoteJoins(t *testing.T) {
	source := `# STRATEGY: Solo
def scan_solo(symbols):
    cap = 3
    return symbols
`
	response := `{"segments": [{"name": "scan_solo", "start_line": 1, "end_line": 4, "confidence": 0.9, "reasoning": "single scan"}]}`

	cfg := config.Default()
	cfg.Detect.EnableSemantic = true
	cfg.LLM.MaxRetries = 1
	pipe := New(cfg, &llm.NullClient{Response: response})

	result, err := pipe.Run(context.Background(), types.NewSource("s.py", source))
	require.NoError(t, err)

	strategies := strategyBoundaries(result)
	require.Len(t, strategies, 1)
	assert.Equal(t, "scan_solo", strategies[0].Name)
	// Three agreeing votes collapse into one consensus boundary.
	assert.Contains(t, strategies[0].Evidence[0], "consensus of 3 votes")
}

func TestDetectOnly(t *testing.T) {
	source := `header = "x"

# STRATEGY: Solo
def scan_solo(symbols):
    return symbols
`
	pipe := New(config.Default(), nil)
	boundaries, diags, err := pipe.DetectOnly(context.Background(), types.NewSource("d.py", source))
	require.NoError(t, err)
	assert.Empty(t, diags)

	var names []string
	covered := 0
	for _, b := range boundaries {
		names = append(names, b.Name)
		covered += b.Len()
	}
	assert.Contains(t, names, "scan_solo")
	assert.Equal(t, len(source), covered, "boundaries + shared spans must cover the file")
}
