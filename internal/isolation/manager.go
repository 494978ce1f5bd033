package isolation

import (
	"sort"
	"strings"

	"scansplit/internal/config"
	"scansplit/internal/logging"
	"scansplit/internal/types"
)

// Manager builds and owns exactly one boundary's parameter namespace.
type Manager struct {
	registry    *GlobalRegistry
	allowList   map[string]bool
	sharedSpans [][2]int
}

// NewManager creates a manager for one boundary. The registry is shared and
// read-only; everything else is private to this manager.
func NewManager(cfg config.IsolationConfig, registry *GlobalRegistry, sharedSpans [][2]int) *Manager {
	allow := make(map[string]bool, len(cfg.GlobalAllowList))
	for _, name := range cfg.GlobalAllowList {
		allow[strings.ToLower(name)] = true
	}
	return &Manager{
		registry:    registry,
		allowList:   allow,
		sharedSpans: sharedSpans,
	}
}

// Build classifies the raw extracted parameters and assembles the
// namespace. Returned conflicts are non-fatal IsolationConflictErrors for
// the diagnostics stream.
func (m *Manager) Build(boundary types.ScannerBoundary, raw []types.ExtractedParameter) (types.ParameterNamespace, []error) {
	ns := types.ParameterNamespace{
		NamespaceID:   boundary.NamespaceID,
		OwnerBoundary: boundary.Name,
		Parameters:    make(map[string]types.ExtractedParameter),
	}

	sharedRefs := make(map[string]bool)
	var conflicts []error

	for _, p := range raw {
		if m.fromSharedRegion(p.SourceOffset) {
			// Shared-region parameters live in the registry, not here.
			// The namespace only records the reference.
			if m.registry.Has(p.Name) {
				sharedRefs[p.Name] = true
			}
			continue
		}

		if m.allowList[strings.ToLower(p.Name)] {
			p.Classification = types.ClassGlobal
		} else {
			p.Classification = types.ClassScoped
		}

		if err := insert(&ns, p); err != nil {
			conflicts = append(conflicts, err)
		}
	}

	for name := range sharedRefs {
		ns.SharedRefs = append(ns.SharedRefs, name)
	}
	sort.Strings(ns.SharedRefs)

	logging.Isolation("namespace %s (%s): %d parameters, %d shared refs, %d conflicts",
		ns.NamespaceID, ns.OwnerBoundary, len(ns.Parameters), len(ns.SharedRefs), len(conflicts))
	return ns, conflicts
}

// fromSharedRegion reports whether the offset lies in the shared region.
func (m *Manager) fromSharedRegion(offset int) bool {
	for _, s := range m.sharedSpans {
		if offset >= s[0] && offset < s[1] {
			return true
		}
	}
	return false
}

// insert resolves duplicate extractions of the same name inside one
// namespace. The higher-confidence value wins and the other is dropped;
// values are never merged. An equal-confidence disagreement cannot be
// auto-resolved: the first extraction stays and the collision is reported.
func insert(ns *types.ParameterNamespace, p types.ExtractedParameter) error {
	existing, ok := ns.Parameters[p.Name]
	if !ok {
		ns.Parameters[p.Name] = p
		return nil
	}

	if p.Confidence > existing.Confidence {
		ns.Parameters[p.Name] = p
		return nil
	}
	if p.Confidence < existing.Confidence {
		return nil
	}
	if p.Value == existing.Value {
		return nil
	}
	return &types.IsolationConflictError{
		Namespace: ns.NamespaceID,
		Name:      p.Name,
		Detail:    "equal-confidence extractions disagree: " + existing.Value + " vs " + p.Value,
	}
}
