package isolation

import (
	"fmt"
	"regexp"

	"scansplit/internal/logging"
	"scansplit/internal/types"
)

// CrossCheck runs after every namespace is built and flags the actual
// integrity hazard this package exists to prevent: the same scoped name in
// two different namespaces with different values, where both boundaries use
// the name in boundary-distinguishing comparison logic. Identical values
// are coincidental reuse, not contamination, and must not be flagged.
//
// bodies maps each owner boundary name to its source span text.
func CrossCheck(namespaces []types.ParameterNamespace, bodies map[string]string) {
	for i := range namespaces {
		for j := i + 1; j < len(namespaces); j++ {
			a, b := &namespaces[i], &namespaces[j]
			// Sorted traversal keeps flag order stable across runs.
			for _, name := range a.SortedNames() {
				pa := a.Parameters[name]
				if pa.Classification != types.ClassScoped {
					continue
				}
				pb, ok := b.Parameters[name]
				if !ok || pb.Classification != types.ClassScoped {
					continue
				}
				if pa.Value == pb.Value {
					continue
				}
				if !usedInComparison(bodies[a.OwnerBoundary], name) ||
					!usedInComparison(bodies[b.OwnerBoundary], name) {
					continue
				}

				flag := fmt.Sprintf("%s: value %q conflicts with %q in namespace %s",
					name, pa.Value, pb.Value, b.OwnerBoundary)
				a.ContaminationFlags = append(a.ContaminationFlags, flag)

				flagB := fmt.Sprintf("%s: value %q conflicts with %q in namespace %s",
					name, pb.Value, pa.Value, a.OwnerBoundary)
				b.ContaminationFlags = append(b.ContaminationFlags, flagB)

				logging.IsolationWarn("contamination risk: %s differs between %s and %s",
					name, a.OwnerBoundary, b.OwnerBoundary)
			}
		}
	}
}

// SessionScore returns the mean namespace isolation score and whether any
// namespace falls below the review threshold.
func SessionScore(namespaces []types.ParameterNamespace, reviewThreshold float64) (float64, bool) {
	if len(namespaces) == 0 {
		return 1.0, false
	}
	sum := 0.0
	needsReview := false
	for _, ns := range namespaces {
		score := ns.IsolationScore()
		sum += score
		if score < reviewThreshold {
			needsReview = true
		}
	}
	return sum / float64(len(namespaces)), needsReview
}

// usedInComparison reports whether the name appears in a threshold-style
// comparison within the boundary body.
func usedInComparison(body, name string) bool {
	if body == "" {
		return false
	}
	quoted := regexp.QuoteMeta(name)
	re := regexp.MustCompile(`\b` + quoted + `\b\s*(==|!=|<=|>=|<|>)|(==|!=|<=|>=|<|>)\s*\b` + quoted + `\b`)
	return re.MatchString(body)
}
