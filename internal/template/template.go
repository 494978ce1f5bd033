// Package template renders each boundary into a self-contained Python
// strategy module: imports, a global parameter block, a scoped parameter
// block, the boundary body with its spliced helper dependencies, and a
// uniform run_scan entry point. A name the closure cannot resolve becomes
// an unresolved-dependency diagnostic, never a hard failure.
package template

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"scansplit/internal/isolation"
	"scansplit/internal/logging"
	"scansplit/internal/types"
)

// Section markers every generated module carries, in this order. The
// validation engine checks for their presence and uses the global block
// marker pair to re-scope re-extracted parameters.
const (
	SectionImports    = "# === imports ==="
	SectionGlobals    = "# === global parameters ==="
	SectionScoped     = "# === scoped parameters ==="
	SectionEntryPoint = "# === entry point ==="
)

// Engine generates strategy modules from boundaries.
type Engine struct{}

// NewEngine creates a template engine.
func NewEngine() *Engine {
	return &Engine{}
}

// importEntry is one top-level import statement with the names it binds.
type importEntry struct {
	text     string
	bindings []string
	wildcard bool
}

// topDef is a top-level definition outside the boundary span that the
// boundary body may depend on: a function, class, or module assignment.
type topDef struct {
	name  string
	start int
	end   int
	text  string
}

// Generate renders one boundary into a standalone module. When identifiers
// remain unresolved the template is still produced and the returned error
// is a *types.TemplateGenerationError carrying their names.
//
// Generate narrows ns.SharedRefs to the globals the rendered module can
// actually reach, so the namespace and the module's global block always
// describe the same set.
func (e *Engine) Generate(
	ctx context.Context,
	src *types.Source,
	boundary types.ScannerBoundary,
	ns *types.ParameterNamespace,
	registry *isolation.GlobalRegistry,
) (types.GeneratedTemplate, error) {
	start := time.Now()

	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	content := []byte(src.Text)
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return types.GeneratedTemplate{}, fmt.Errorf("parse %s: %w", src.Filename, err)
	}
	defer tree.Close()
	root := tree.RootNode()

	imports, defs, defOrder := indexTopLevel(root, content, boundary)

	closure := resolveClosure(root, content, boundary, *ns, registry, imports, defs)
	pruneSharedRefs(ns, registry, closure, defs)

	body := strings.TrimRight(src.Slice(boundary.StartOffset, boundary.EndOffset), "\n")
	primary := primaryFunction(root, content, boundary)

	text := render(renderInput{
		boundary: boundary,
		filename: src.Filename,
		imports:  usedImports(imports, closure.importsUsed),
		globals:  globalBlock(*ns, registry),
		scoped:   scopedBlock(*ns),
		helpers:  orderedHelpers(closure.spliced, defs, defOrder),
		body:     body,
		primary:  primary,
	})

	tmpl := types.GeneratedTemplate{
		BoundaryName: boundary.Name,
		SourceText:   text,
		Dependencies: closure.dependencies(),
		Unresolved:   closure.unresolvedNames(),
		Status:       types.ValidationPending,
	}

	logging.Template("boundary %q: %d deps, %d unresolved, %d bytes (%v)",
		boundary.Name, len(tmpl.Dependencies), len(tmpl.Unresolved), len(tmpl.SourceText), time.Since(start))

	if len(tmpl.Unresolved) > 0 {
		return tmpl, &types.TemplateGenerationError{
			Boundary:   boundary.Name,
			Unresolved: tmpl.Unresolved,
		}
	}
	return tmpl, nil
}

// indexTopLevel collects every top-level import and every top-level
// definition lying outside the boundary span. defOrder preserves source
// order so spliced helpers keep their original relative ordering.
func indexTopLevel(root *sitter.Node, content []byte, boundary types.ScannerBoundary) ([]importEntry, map[string]topDef, []string) {
	var imports []importEntry
	defs := make(map[string]topDef)
	var defOrder []string

	record := func(name string, node *sitter.Node) {
		if name == "" {
			return
		}
		if _, seen := defs[name]; seen {
			return
		}
		defs[name] = topDef{
			name:  name,
			start: int(node.StartByte()),
			end:   int(node.EndByte()),
			text:  string(content[node.StartByte():node.EndByte()]),
		}
		defOrder = append(defOrder, name)
	}

	for i := 0; i < int(root.NamedChildCount()); i++ {
		stmt := root.NamedChild(i)
		s, e := int(stmt.StartByte()), int(stmt.EndByte())
		insideBoundary := s >= boundary.StartOffset && e <= boundary.EndOffset

		switch stmt.Type() {
		case "import_statement", "import_from_statement":
			entry := importEntry{
				text:     string(content[stmt.StartByte():stmt.EndByte()]),
				bindings: importBindings(stmt, content),
			}
			entry.wildcard = stmt.Type() == "import_from_statement" && strings.HasSuffix(strings.TrimSpace(entry.text), "*")
			imports = append(imports, entry)

		case "function_definition", "class_definition":
			if insideBoundary {
				continue
			}
			if name := stmt.ChildByFieldName("name"); name != nil {
				record(string(content[name.StartByte():name.EndByte()]), stmt)
			}

		case "decorated_definition":
			if insideBoundary {
				continue
			}
			if def := stmt.ChildByFieldName("definition"); def != nil {
				if name := def.ChildByFieldName("name"); name != nil {
					record(string(content[name.StartByte():name.EndByte()]), stmt)
				}
			}

		case "expression_statement":
			if insideBoundary {
				continue
			}
			for j := 0; j < int(stmt.NamedChildCount()); j++ {
				assign := stmt.NamedChild(j)
				if assign.Type() != "assignment" {
					continue
				}
				left := assign.ChildByFieldName("left")
				if left == nil || left.Type() != "identifier" {
					continue
				}
				record(string(content[left.StartByte():left.EndByte()]), stmt)
			}
		}
	}

	return imports, defs, defOrder
}

// closureResult is the outcome of transitive dependency resolution.
type closureResult struct {
	spliced     map[string]bool // top-level defs pulled into the template
	importsUsed map[int]bool    // indexes into the import list
	globalsUsed map[string]bool // registry globals the module references
	unresolved  map[string]bool
	order       []string // spliced names in resolution order
}

func (c *closureResult) dependencies() []string {
	deps := make([]string, 0, len(c.order))
	deps = append(deps, c.order...)
	return deps
}

func (c *closureResult) unresolvedNames() []string {
	var names []string
	for name := range c.unresolved {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// resolveClosure walks external references out from the boundary body,
// pulling in top-level helpers transitively and tracking which imports the
// final module actually needs.
func resolveClosure(
	root *sitter.Node,
	content []byte,
	boundary types.ScannerBoundary,
	ns types.ParameterNamespace,
	registry *isolation.GlobalRegistry,
	imports []importEntry,
	defs map[string]topDef,
) *closureResult {
	res := &closureResult{
		spliced:     make(map[string]bool),
		importsUsed: make(map[int]bool),
		globalsUsed: make(map[string]bool),
		unresolved:  make(map[string]bool),
	}

	binding := make(map[string]int)
	hasWildcard := false
	for i, imp := range imports {
		for _, b := range imp.bindings {
			if _, ok := binding[b]; !ok {
				binding[b] = i
			}
		}
		if imp.wildcard {
			hasWildcard = true
			res.importsUsed[i] = true
		}
	}

	shared := make(map[string]bool, len(ns.SharedRefs))
	for _, name := range ns.SharedRefs {
		shared[name] = true
	}

	seen := make(map[string]bool)
	queue := analyzeSpan(root, content, boundary.StartOffset, boundary.EndOffset).external()
	sort.Strings(queue)

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if seen[name] {
			continue
		}
		seen[name] = true

		if _, ok := ns.Parameters[name]; ok {
			continue
		}
		if shared[name] || registry.Has(name) {
			res.globalsUsed[name] = true
			continue
		}
		if idx, ok := binding[name]; ok {
			res.importsUsed[idx] = true
			continue
		}
		if def, ok := defs[name]; ok {
			if !res.spliced[name] {
				res.spliced[name] = true
				res.order = append(res.order, name)
				next := analyzeSpan(root, content, def.start, def.end).external()
				sort.Strings(next)
				queue = append(queue, next...)
			}
			continue
		}
		if hasWildcard {
			// A star import may provide it; give it the benefit of the doubt.
			continue
		}
		res.unresolved[name] = true
	}

	return res
}

// pruneSharedRefs narrows the namespace's shared references to the globals
// the rendered module can actually reach: names the closure resolved
// through the registry, plus registry entries whose source lies inside a
// spliced dependency (a shared config dict pulled in as a helper). A
// session global no part of the module touches must not ride along in
// every generated module.
func pruneSharedRefs(ns *types.ParameterNamespace, registry *isolation.GlobalRegistry, closure *closureResult, defs map[string]topDef) {
	used := make(map[string]bool, len(closure.globalsUsed))
	for name := range closure.globalsUsed {
		used[name] = true
	}
	for _, name := range registry.Names() {
		if used[name] {
			continue
		}
		p, ok := registry.Lookup(name)
		if !ok {
			continue
		}
		for dep := range closure.spliced {
			d := defs[dep]
			if p.SourceOffset >= d.start && p.SourceOffset < d.end {
				used[name] = true
				break
			}
		}
	}

	refs := make([]string, 0, len(used))
	for name := range used {
		refs = append(refs, name)
	}
	sort.Strings(refs)
	ns.SharedRefs = refs
}

// usedImports returns the import statements the closure marked as needed,
// in original source order.
func usedImports(imports []importEntry, used map[int]bool) []string {
	var out []string
	for i, imp := range imports {
		if used[i] {
			out = append(out, imp.text)
		}
	}
	return out
}

// globalBlock renders `name = value` lines for every global the namespace
// references: shared-region registry entries plus allow-listed parameters
// extracted from the boundary body itself.
func globalBlock(ns types.ParameterNamespace, registry *isolation.GlobalRegistry) []string {
	merged := make(map[string]string)
	for _, name := range ns.SharedRefs {
		if p, ok := registry.Lookup(name); ok {
			merged[name] = p.Value
		}
	}
	for name, p := range ns.Parameters {
		if p.Classification == types.ClassGlobal {
			merged[name] = p.Value
		}
	}

	names := make([]string, 0, len(merged))
	for name := range merged {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		lines = append(lines, name+" = "+merged[name])
	}
	return lines
}

// scopedBlock renders the namespace's scoped parameters, sorted.
func scopedBlock(ns types.ParameterNamespace) []string {
	var lines []string
	for _, name := range ns.SortedNames() {
		p := ns.Parameters[name]
		if p.Classification != types.ClassScoped {
			continue
		}
		lines = append(lines, name+" = "+p.Value)
	}
	return lines
}

// orderedHelpers returns spliced helper texts in original source order.
func orderedHelpers(spliced map[string]bool, defs map[string]topDef, defOrder []string) []string {
	var out []string
	for _, name := range defOrder {
		if spliced[name] {
			out = append(out, defs[name].text)
		}
	}
	return out
}

// primaryFn describes the function the entry point delegates to.
type primaryFn struct {
	name   string
	params []string
}

// primaryFunction picks the boundary's main scan function: the first
// top-level function definition inside the span. Script-style boundaries
// with no function yield a nil primary.
func primaryFunction(root *sitter.Node, content []byte, boundary types.ScannerBoundary) *primaryFn {
	for i := 0; i < int(root.NamedChildCount()); i++ {
		stmt := root.NamedChild(i)
		if int(stmt.StartByte()) < boundary.StartOffset || int(stmt.EndByte()) > boundary.EndOffset {
			continue
		}
		def := stmt
		if def.Type() == "decorated_definition" {
			if inner := def.ChildByFieldName("definition"); inner != nil {
				def = inner
			}
		}
		if def.Type() != "function_definition" {
			continue
		}
		name := def.ChildByFieldName("name")
		if name == nil {
			continue
		}
		fn := &primaryFn{name: string(content[name.StartByte():name.EndByte()])}
		if params := def.ChildByFieldName("parameters"); params != nil {
			fn.params = parameterNames(params, content)
		}
		return fn
	}
	return nil
}

// parameterNames lists a function's parameter names in declaration order.
func parameterNames(params *sitter.Node, content []byte) []string {
	var names []string
	for i := 0; i < int(params.NamedChildCount()); i++ {
		p := params.NamedChild(i)
		switch p.Type() {
		case "identifier":
			names = append(names, string(content[p.StartByte():p.EndByte()]))
		case "default_parameter", "typed_parameter", "typed_default_parameter":
			if name := p.ChildByFieldName("name"); name != nil {
				names = append(names, string(content[name.StartByte():name.EndByte()]))
			} else if p.NamedChildCount() > 0 && p.NamedChild(0).Type() == "identifier" {
				n := p.NamedChild(0)
				names = append(names, string(content[n.StartByte():n.EndByte()]))
			}
		}
	}
	return names
}

// renderInput carries everything render needs, already resolved.
type renderInput struct {
	boundary types.ScannerBoundary
	filename string
	imports  []string
	globals  []string
	scoped   []string
	helpers  []string
	body     string
	primary  *primaryFn
}

// entryArgs are the uniform run_scan parameters passed through to the
// primary function when it declares them.
var entryArgs = []string{"symbols", "start_date", "end_date"}

// render assembles the final module text.
func render(in renderInput) string {
	var b strings.Builder

	fmt.Fprintf(&b, "#!/usr/bin/env python3\n")
	fmt.Fprintf(&b, "# Strategy module %q extracted from %s.\n\n", in.boundary.Name, in.filename)

	b.WriteString(SectionImports + "\n")
	for _, line := range in.imports {
		b.WriteString(line + "\n")
	}
	b.WriteString("\n")

	b.WriteString(SectionGlobals + "\n")
	for _, line := range in.globals {
		b.WriteString(line + "\n")
	}
	b.WriteString("\n")

	b.WriteString(SectionScoped + "\n")
	for _, line := range in.scoped {
		b.WriteString(line + "\n")
	}
	b.WriteString("\n")

	for _, helper := range in.helpers {
		b.WriteString(strings.TrimRight(helper, "\n") + "\n\n")
	}

	if in.body != "" {
		b.WriteString(in.body + "\n\n")
	}

	b.WriteString(SectionEntryPoint + "\n")
	b.WriteString("def run_scan(symbols, start_date, end_date):\n")
	b.WriteString("    \"\"\"Uniform strategy entry point.\"\"\"\n")
	if in.primary != nil {
		declared := make(map[string]bool, len(in.primary.params))
		for _, p := range in.primary.params {
			declared[p] = true
		}
		var args []string
		for _, a := range entryArgs {
			if declared[a] {
				args = append(args, a+"="+a)
			}
		}
		fmt.Fprintf(&b, "    return %s(%s)\n", in.primary.name, strings.Join(args, ", "))
	} else {
		b.WriteString("    # Script-style strategy: the module body above performs the scan.\n")
		b.WriteString("    return None\n")
	}
	b.WriteString("\n\nif __name__ == \"__main__\":\n    run_scan([], None, None)\n")

	return b.String()
}
