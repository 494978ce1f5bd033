package template

import (
	sitter "github.com/smacker/go-tree-sitter"
)

// pythonBuiltins are names that never need resolving against the source.
var pythonBuiltins = map[string]bool{
	"abs": true, "all": true, "any": true, "bool": true, "bytes": true,
	"callable": true, "classmethod": true, "dict": true, "dir": true,
	"divmod": true, "enumerate": true, "filter": true, "float": true,
	"format": true, "frozenset": true, "getattr": true, "hasattr": true,
	"hash": true, "id": true, "input": true, "int": true, "isinstance": true,
	"issubclass": true, "iter": true, "len": true, "list": true, "map": true,
	"max": true, "min": true, "next": true, "object": true, "open": true,
	"pow": true, "print": true, "property": true, "range": true, "repr": true,
	"reversed": true, "round": true, "set": true, "slice": true, "sorted": true,
	"staticmethod": true, "str": true, "sum": true, "super": true,
	"tuple": true, "type": true, "vars": true, "zip": true,
	"Exception": true, "ValueError": true, "KeyError": true, "TypeError": true,
	"IndexError": true, "AttributeError": true, "RuntimeError": true,
	"StopIteration": true, "ZeroDivisionError": true, "NotImplementedError": true,
	"OSError": true, "IOError": true, "FileNotFoundError": true,
	"KeyboardInterrupt": true,
	"__name__": true, "__file__": true, "__main__": true,
}

// nameSet tracks defined and referenced identifiers within a span.
type nameSet struct {
	defs map[string]bool
	refs map[string]bool
}

func newNameSet() *nameSet {
	return &nameSet{defs: make(map[string]bool), refs: make(map[string]bool)}
}

// external returns referenced names that are neither defined locally nor
// Python builtins, in no particular order.
func (s *nameSet) external() []string {
	var out []string
	for name := range s.refs {
		if s.defs[name] || pythonBuiltins[name] {
			continue
		}
		out = append(out, name)
	}
	return out
}

// analyzeSpan walks the subtree covering [start,end) and separates
// identifier definitions (assignment targets, def/class names, function
// parameters, loop targets) from references. Identifiers in
// attribute-access or keyword-argument name position are not references.
func analyzeSpan(root *sitter.Node, content []byte, start, end int) *nameSet {
	set := newNameSet()
	var walk func(node *sitter.Node)

	text := func(n *sitter.Node) string {
		return string(content[n.StartByte():n.EndByte()])
	}

	// addTargets records assignment-target identifiers as definitions,
	// recursing through tuple/list patterns. Subscript and attribute
	// targets reference their base instead of defining anything.
	var addTargets func(n *sitter.Node)
	addTargets = func(n *sitter.Node) {
		switch n.Type() {
		case "identifier":
			set.defs[text(n)] = true
		case "pattern_list", "tuple_pattern", "list_pattern":
			for i := 0; i < int(n.NamedChildCount()); i++ {
				addTargets(n.NamedChild(i))
			}
		default:
			walk(n)
		}
	}

	walkChildren := func(n *sitter.Node) {
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}

	walk = func(node *sitter.Node) {
		if int(node.EndByte()) <= start || int(node.StartByte()) >= end {
			return
		}

		switch node.Type() {
		case "identifier":
			set.refs[text(node)] = true

		case "function_definition":
			if name := node.ChildByFieldName("name"); name != nil {
				set.defs[text(name)] = true
			}
			if params := node.ChildByFieldName("parameters"); params != nil {
				collectParamNames(params, content, set)
				// Default values are real references.
				for i := 0; i < int(params.NamedChildCount()); i++ {
					p := params.NamedChild(i)
					if p.Type() == "default_parameter" || p.Type() == "typed_default_parameter" {
						if v := p.ChildByFieldName("value"); v != nil {
							walk(v)
						}
					}
				}
			}
			if body := node.ChildByFieldName("body"); body != nil {
				walk(body)
			}

		case "class_definition":
			if name := node.ChildByFieldName("name"); name != nil {
				set.defs[text(name)] = true
			}
			if body := node.ChildByFieldName("body"); body != nil {
				walk(body)
			}
			if sc := node.ChildByFieldName("superclasses"); sc != nil {
				walk(sc)
			}

		case "assignment", "augmented_assignment":
			if left := node.ChildByFieldName("left"); left != nil {
				addTargets(left)
			}
			if right := node.ChildByFieldName("right"); right != nil {
				walk(right)
			}

		case "for_statement", "for_in_clause":
			if left := node.ChildByFieldName("left"); left != nil {
				addTargets(left)
			}
			if right := node.ChildByFieldName("right"); right != nil {
				walk(right)
			}
			if body := node.ChildByFieldName("body"); body != nil {
				walk(body)
			}

		case "as_pattern":
			// `with open(f) as fh`, `except E as err`
			for i := 0; i < int(node.NamedChildCount()); i++ {
				child := node.NamedChild(i)
				if child.Type() == "as_pattern_target" {
					addTargets(child)
				} else {
					walk(child)
				}
			}

		case "attribute":
			// Only the object side is a variable reference.
			if obj := node.ChildByFieldName("object"); obj != nil {
				walk(obj)
			}

		case "keyword_argument":
			if v := node.ChildByFieldName("value"); v != nil {
				walk(v)
			}

		case "import_statement", "import_from_statement":
			for _, binding := range importBindings(node, content) {
				set.defs[binding] = true
			}

		default:
			walkChildren(node)
		}
	}

	walk(root)
	return set
}

// collectParamNames records every parameter name under a parameters node.
func collectParamNames(params *sitter.Node, content []byte, set *nameSet) {
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		switch n.Type() {
		case "identifier":
			set.defs[string(content[n.StartByte():n.EndByte()])] = true
		case "default_parameter", "typed_default_parameter":
			if name := n.ChildByFieldName("name"); name != nil {
				walk(name)
			}
		default:
			for i := 0; i < int(n.NamedChildCount()); i++ {
				walk(n.NamedChild(i))
			}
		}
	}
	walk(params)
}

// importBindings returns the local names an import statement introduces.
func importBindings(node *sitter.Node, content []byte) []string {
	text := func(n *sitter.Node) string {
		return string(content[n.StartByte():n.EndByte()])
	}

	var bindings []string
	switch node.Type() {
	case "import_statement":
		// import a.b, import pandas as pd
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			switch child.Type() {
			case "aliased_import":
				if alias := child.ChildByFieldName("alias"); alias != nil {
					bindings = append(bindings, text(alias))
				}
			case "dotted_name":
				name := text(child)
				// `import a.b` binds `a`
				for j := 0; j < len(name); j++ {
					if name[j] == '.' {
						name = name[:j]
						break
					}
				}
				bindings = append(bindings, name)
			}
		}
	case "import_from_statement":
		// from x import a, b as c
		first := true
		for i := 0; i < int(node.NamedChildCount()); i++ {
			child := node.NamedChild(i)
			switch child.Type() {
			case "aliased_import":
				if alias := child.ChildByFieldName("alias"); alias != nil {
					bindings = append(bindings, text(alias))
				}
			case "dotted_name", "identifier":
				// The first dotted_name is the module being imported from.
				if first {
					first = false
					continue
				}
				bindings = append(bindings, text(child))
			case "wildcard_import":
				// Nothing nameable; callers treat the import as always used.
			}
		}
	}
	return bindings
}
