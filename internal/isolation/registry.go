// Package isolation guarantees that no two boundaries' scoped parameters
// interfere. Each Manager owns exactly one namespace and never reads
// another namespace's mutable state; the only shared input is the
// read-only global parameter registry.
package isolation

import (
	"sort"

	"scansplit/internal/types"
)

// GlobalRegistry holds the parameters extracted from the shared/global
// region. It is built once per session and is read-only afterwards: no
// namespace manager may write through it.
type GlobalRegistry struct {
	params map[string]types.ExtractedParameter
}

// NewGlobalRegistry builds the registry from shared-region parameters.
// Duplicate names keep the higher-confidence extraction.
func NewGlobalRegistry(params []types.ExtractedParameter) *GlobalRegistry {
	m := make(map[string]types.ExtractedParameter, len(params))
	for _, p := range params {
		p.Classification = types.ClassGlobal
		if existing, ok := m[p.Name]; ok && existing.Confidence >= p.Confidence {
			continue
		}
		m[p.Name] = p
	}
	return &GlobalRegistry{params: m}
}

// Lookup returns the registered global parameter.
func (r *GlobalRegistry) Lookup(name string) (types.ExtractedParameter, bool) {
	p, ok := r.params[name]
	return p, ok
}

// Has reports whether a name is registered as global.
func (r *GlobalRegistry) Has(name string) bool {
	_, ok := r.params[name]
	return ok
}

// Names returns all registered names in deterministic order.
func (r *GlobalRegistry) Names() []string {
	names := make([]string, 0, len(r.params))
	for name := range r.params {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered globals.
func (r *GlobalRegistry) Len() int {
	return len(r.params)
}
