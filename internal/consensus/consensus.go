// Package consensus merges the independent detection votes into one
// authoritative, ordered, non-overlapping boundary set. The engine owns
// boundary identity: namespace IDs are minted here and nowhere else.
package consensus

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"scansplit/internal/config"
	"scansplit/internal/logging"
	"scansplit/internal/types"
)

// deterministicAgreeConfidence is the confidence at which agreeing
// structural and pattern votes lock a group's range. Semantic members
// then stay out of range refinement.
const deterministicAgreeConfidence = 0.9

// Engine merges overlapping boundary votes using weighted scoring.
type Engine struct {
	cfg config.ConsensusConfig
}

// NewEngine creates a consensus engine.
func NewEngine(cfg config.ConsensusConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Result is the authoritative boundary set. Boundaries are ordered by start
// offset and disjoint; Shared holds the synthetic shared/global spans that
// no boundary claims. Together they cover the whole source.
type Result struct {
	Boundaries []types.ScannerBoundary
	Shared     []types.ScannerBoundary
	Fallback   bool // whole-file fallback mode was used
}

// SharedSpans returns the shared regions as (start, end) pairs.
func (r *Result) SharedSpans() [][2]int {
	spans := make([][2]int, 0, len(r.Shared))
	for _, s := range r.Shared {
		spans = append(spans, [2]int{s.StartOffset, s.EndOffset})
	}
	return spans
}

// Merge runs the consensus algorithm over the concatenated votes of all
// strategies. When no strategy found anything, the whole file becomes a
// single fallback boundary; an empty source is a session-level failure.
func (e *Engine) Merge(src *types.Source, votes []types.ScannerBoundary) (*Result, error) {
	start := time.Now()

	votes = sanitize(src, votes)

	if len(votes) == 0 {
		return e.fallback(src)
	}

	groups := e.group(votes)
	logging.ConsensusDebug("%d votes formed %d groups", len(votes), len(groups))

	var merged []types.ScannerBoundary
	for _, g := range groups {
		b := e.resolveGroup(g)
		if b.Confidence < e.cfg.MinConfidence {
			logging.Consensus("rejected %q: confidence %.2f below %.2f",
				b.Name, b.Confidence, e.cfg.MinConfidence)
			continue
		}
		merged = append(merged, b)
	}

	if len(merged) == 0 {
		// Every group fell below threshold; treat like no detection at all.
		return e.fallback(src)
	}

	sort.Slice(merged, func(i, j int) bool {
		if merged[i].StartOffset != merged[j].StartOffset {
			return merged[i].StartOffset < merged[j].StartOffset
		}
		return merged[i].EndOffset > merged[j].EndOffset
	})

	merged = clipOverlaps(merged)
	merged = dedupeNames(merged)

	for i := range merged {
		merged[i].NamespaceID = uuid.NewString()
	}

	result := &Result{
		Boundaries: merged,
		Shared:     sharedGaps(src, merged),
	}

	logging.Consensus("merged %d votes into %d boundaries + %d shared spans (%v)",
		len(votes), len(result.Boundaries), len(result.Shared), time.Since(start))
	return result, nil
}

// fallback produces the single whole-file boundary used when detection came
// up empty. Empty input cannot even fall back.
func (e *Engine) fallback(src *types.Source) (*Result, error) {
	if src.Len() == 0 {
		return nil, &types.BoundaryDetectionError{
			Filename: src.Filename,
			Reason:   "empty source and no detection votes",
		}
	}

	logging.Consensus("no usable votes for %s, falling back to whole-file boundary", src.Filename)
	return &Result{
		Boundaries: []types.ScannerBoundary{{
			Name:        wholeFileName(src.Filename),
			StartOffset: 0,
			EndOffset:   src.Len(),
			Confidence:  types.FallbackConfidence,
			Method:      types.MethodFallback,
			Evidence:    []string{"whole-file fallback: no strategy claimed any span"},
			NamespaceID: uuid.NewString(),
		}},
		Fallback: true,
	}, nil
}

// sanitize drops degenerate votes and clamps offsets to the source bounds.
func sanitize(src *types.Source, votes []types.ScannerBoundary) []types.ScannerBoundary {
	out := make([]types.ScannerBoundary, 0, len(votes))
	for _, v := range votes {
		if v.StartOffset < 0 {
			v.StartOffset = 0
		}
		if v.EndOffset > src.Len() {
			v.EndOffset = src.Len()
		}
		if v.EndOffset <= v.StartOffset {
			continue
		}
		out = append(out, v)
	}
	return out
}

// group clusters votes transitively: a vote joins a group when it overlaps
// any member by more than the threshold fraction of the smaller range.
func (e *Engine) group(votes []types.ScannerBoundary) [][]types.ScannerBoundary {
	sorted := make([]types.ScannerBoundary, len(votes))
	copy(sorted, votes)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].StartOffset != sorted[j].StartOffset {
			return sorted[i].StartOffset < sorted[j].StartOffset
		}
		return sorted[i].EndOffset < sorted[j].EndOffset
	})

	var groups [][]types.ScannerBoundary
	for _, v := range sorted {
		joined := -1
		for gi, g := range groups {
			for _, member := range g {
				if v.OverlapRatio(member) > e.cfg.OverlapThreshold {
					joined = gi
					break
				}
			}
			if joined >= 0 {
				break
			}
		}
		if joined >= 0 {
			groups[joined] = append(groups[joined], v)
		} else {
			groups = append(groups, []types.ScannerBoundary{v})
		}
	}
	return groups
}

// resolveGroup picks the anchor by weighted score and refines its range.
// High-confidence members contribute their union; a group with none keeps
// the conservative intersection of all members. When structural and
// pattern members already agree on a range at high confidence, semantic
// members are excluded from refinement entirely.
func (e *Engine) resolveGroup(group []types.ScannerBoundary) types.ScannerBoundary {
	anchor := group[0]
	anchorScore := e.score(anchor)
	for _, v := range group[1:] {
		s := e.score(v)
		switch {
		case s > anchorScore:
			anchor, anchorScore = v, s
		case s == anchorScore && v.Len() > anchor.Len():
			// Equal score: prefer the larger covered range (fewer false splits).
			anchor = v
		case s == anchorScore && v.Len() == anchor.Len() && v.StartOffset < anchor.StartOffset:
			anchor = v
		}
	}

	locked := deterministicAgreement(group)

	refStart, refEnd := anchor.StartOffset, anchor.EndOffset
	highSeen := false
	loInt, hiInt := anchor.StartOffset, anchor.EndOffset
	for _, v := range group {
		if locked && v.Method == types.MethodSemantic {
			continue
		}
		if v.Confidence >= e.cfg.RefineConfidence {
			if !highSeen {
				refStart, refEnd = v.StartOffset, v.EndOffset
				highSeen = true
			} else {
				if v.StartOffset < refStart {
					refStart = v.StartOffset
				}
				if v.EndOffset > refEnd {
					refEnd = v.EndOffset
				}
			}
		}
		if v.StartOffset > loInt {
			loInt = v.StartOffset
		}
		if v.EndOffset < hiInt {
			hiInt = v.EndOffset
		}
	}
	if !highSeen && hiInt > loInt {
		// No high-confidence member: prefer under- to over-inclusion.
		refStart, refEnd = loInt, hiInt
	}

	merged := types.ScannerBoundary{
		Name:        anchor.Name,
		StartOffset: refStart,
		EndOffset:   refEnd,
		Confidence:  anchor.Confidence,
		Method:      anchor.Method,
		Evidence:    mergeEvidence(group),
	}
	return merged
}

// deterministicAgreement reports whether a structural and a pattern member
// independently claim the same span at high confidence. The semantic
// strategy votes on whether such a boundary exists, not where its edges
// lie, so its members must not move an agreed range.
func deterministicAgreement(group []types.ScannerBoundary) bool {
	for _, a := range group {
		if a.Method != types.MethodStructural || a.Confidence < deterministicAgreeConfidence {
			continue
		}
		for _, b := range group {
			if b.Method != types.MethodPattern || b.Confidence < deterministicAgreeConfidence {
				continue
			}
			if a.StartOffset == b.StartOffset && a.EndOffset == b.EndOffset {
				return true
			}
		}
	}
	return false
}

// score is the weighted vote strength: confidence x strategy weight.
func (e *Engine) score(v types.ScannerBoundary) float64 {
	return v.Confidence * e.cfg.Weight(string(v.Method))
}

// clipOverlaps enforces disjointness after range refinement. The later
// boundary yields its overlapping head; a fully swallowed boundary is
// dropped.
func clipOverlaps(boundaries []types.ScannerBoundary) []types.ScannerBoundary {
	out := boundaries[:0]
	for _, b := range boundaries {
		if len(out) > 0 {
			prev := &out[len(out)-1]
			if b.StartOffset < prev.EndOffset {
				b.StartOffset = prev.EndOffset
			}
		}
		if b.EndOffset <= b.StartOffset {
			continue
		}
		out = append(out, b)
	}
	return out
}

// dedupeNames keeps boundary names unique so namespaces stay addressable.
func dedupeNames(boundaries []types.ScannerBoundary) []types.ScannerBoundary {
	seen := make(map[string]int)
	for i := range boundaries {
		name := boundaries[i].Name
		if n, ok := seen[name]; ok {
			seen[name] = n + 1
			boundaries[i].Name = fmt.Sprintf("%s_%d", name, n+1)
		} else {
			seen[name] = 1
		}
	}
	return boundaries
}

// sharedGaps covers every unclaimed span with a synthetic shared boundary so
// boundaries plus shared region always equal the full source.
func sharedGaps(src *types.Source, boundaries []types.ScannerBoundary) []types.ScannerBoundary {
	var shared []types.ScannerBoundary
	cursor := 0
	add := func(start, end int) {
		if end <= start {
			return
		}
		shared = append(shared, types.ScannerBoundary{
			Name:        fmt.Sprintf("shared_%d", len(shared)+1),
			StartOffset: start,
			EndOffset:   end,
			Confidence:  1.0,
			Method:      types.MethodConsensus,
			Shared:      true,
		})
	}
	for _, b := range boundaries {
		add(cursor, b.StartOffset)
		cursor = b.EndOffset
	}
	add(cursor, src.Len())
	return shared
}

// mergeEvidence concatenates member evidence with a per-method agreement
// summary up front.
func mergeEvidence(group []types.ScannerBoundary) []string {
	methods := make(map[types.DetectionMethod]bool)
	var evidence []string
	for _, v := range group {
		methods[v.Method] = true
		evidence = append(evidence, v.Evidence...)
	}
	names := make([]string, 0, len(methods))
	for m := range methods {
		names = append(names, string(m))
	}
	sort.Strings(names)
	summary := fmt.Sprintf("consensus of %d votes (%s)", len(group), strings.Join(names, "+"))
	return append([]string{summary}, evidence...)
}

// wholeFileName derives the fallback boundary name from the filename.
func wholeFileName(filename string) string {
	name := filename
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	name = strings.TrimSuffix(name, ".py")
	if name == "" {
		return "whole_file"
	}
	return name
}
