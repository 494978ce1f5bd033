// Package extract mines tunable parameters from a boundary's source span
// plus the shared/global region. Three passes run per boundary: a
// syntax-tree assignment scan, a regex threshold scan, and a config-block
// scan over parameter dictionaries. Passes may find the same name twice;
// resolving duplicates is the namespace isolation manager's job.
package extract

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"scansplit/internal/logging"
	"scansplit/internal/types"
)

// Extraction pass names recorded on each parameter.
const (
	PassAST    = "ast"
	PassRegex  = "regex"
	PassConfig = "config"
)

// Per-pass confidence. The AST sees real assignments; the regex scan is a
// safety net that also fires on strings and comments.
const (
	confAST    = 0.9
	confConfig = 0.8
	confRegex  = 0.6
)

// configBlockNames are assignment targets whose dict literals are treated
// as parameter blocks rather than single dict values.
var configBlockNames = regexp.MustCompile(`(?i)^(params?|config|settings|options|thresholds?)$|_(params?|config|settings)$`)

// thresholdLine matches simple numeric assignments the regex pass collects.
var thresholdLine = regexp.MustCompile(`^\s*([A-Za-z_]\w*)\s*=\s*(-?\d+(?:\.\d+)?)\s*(?:#.*)?$`)

// Extractor runs the multi-pass parameter scan.
type Extractor struct{}

// NewExtractor creates an extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract mines parameters from the boundary's span and the shared spans.
// Offsets on returned parameters are absolute into the original source, so
// downstream classification can tell boundary-body parameters from
// shared-region parameters.
func (e *Extractor) Extract(
	ctx context.Context,
	src *types.Source,
	boundary types.ScannerBoundary,
	sharedSpans [][2]int,
) ([]types.ExtractedParameter, error) {
	start := time.Now()

	spans := append([][2]int{{boundary.StartOffset, boundary.EndOffset}}, sharedSpans...)

	var params []types.ExtractedParameter

	astParams, err := e.astPass(ctx, src, spans)
	if err != nil {
		return nil, fmt.Errorf("ast pass: %w", err)
	}
	params = append(params, astParams...)

	params = append(params, e.regexPass(src, spans)...)

	logging.ExtractDebug("boundary %q: %d raw parameters (%v)",
		boundary.Name, len(params), time.Since(start))
	return params, nil
}

// astPass parses the whole source once and collects module-level literal
// assignments whose offsets land inside the given spans. Dict literals
// assigned to config-style names are expanded key-by-key (the config-block
// pass); other dicts stay single parameters. Assignments nested inside
// function bodies are deliberately left to the regex pass: treating every
// local variable as a tunable parameter would drown the namespaces.
func (e *Extractor) astPass(ctx context.Context, src *types.Source, spans [][2]int) ([]types.ExtractedParameter, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	content := []byte(src.Text)
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	var params []types.ExtractedParameter

	root := tree.RootNode()
	for i := 0; i < int(root.NamedChildCount()); i++ {
		stmt := root.NamedChild(i)
		if stmt.Type() != "expression_statement" {
			continue
		}
		for j := 0; j < int(stmt.NamedChildCount()); j++ {
			node := stmt.NamedChild(j)
			if node.Type() != "assignment" {
				continue
			}
			if p, block := e.parseAssignment(node, content, spans); block != nil {
				params = append(params, block...)
			} else if p != nil {
				params = append(params, *p)
			}
		}
	}

	return params, nil
}

// parseAssignment handles one assignment node. Returns either a single
// parameter or an expanded config block, or neither when the assignment is
// out of span or not a literal.
func (e *Extractor) parseAssignment(node *sitter.Node, content []byte, spans [][2]int) (*types.ExtractedParameter, []types.ExtractedParameter) {
	left := node.ChildByFieldName("left")
	right := node.ChildByFieldName("right")
	if left == nil || right == nil || left.Type() != "identifier" {
		return nil, nil
	}

	offset := int(node.StartByte())
	if !inSpans(offset, spans) {
		return nil, nil
	}

	name := string(content[left.StartByte():left.EndByte()])

	if right.Type() == "dictionary" && configBlockNames.MatchString(name) {
		return nil, e.expandConfigBlock(right, content, offset)
	}

	declared := literalType(right)
	if declared == "" {
		return nil, nil
	}

	return &types.ExtractedParameter{
		Name:         name,
		Value:        string(content[right.StartByte():right.EndByte()]),
		DeclaredType: declared,
		SourceOffset: offset,
		Confidence:   confAST,
		Pass:         PassAST,
	}, nil
}

// expandConfigBlock turns each string-keyed literal pair of a parameter
// dict into its own parameter.
func (e *Extractor) expandConfigBlock(dict *sitter.Node, content []byte, blockOffset int) []types.ExtractedParameter {
	var params []types.ExtractedParameter
	for i := 0; i < int(dict.NamedChildCount()); i++ {
		pair := dict.NamedChild(i)
		if pair.Type() != "pair" {
			continue
		}
		key := pair.ChildByFieldName("key")
		value := pair.ChildByFieldName("value")
		if key == nil || value == nil || key.Type() != "string" {
			continue
		}
		declared := literalType(value)
		if declared == "" {
			continue
		}
		name := strings.Trim(string(content[key.StartByte():key.EndByte()]), `'"`)
		if name == "" {
			continue
		}
		params = append(params, types.ExtractedParameter{
			Name:         name,
			Value:        string(content[value.StartByte():value.EndByte()]),
			DeclaredType: declared,
			SourceOffset: int(pair.StartByte()),
			Confidence:   confConfig,
			Pass:         PassConfig,
		})
	}
	return params
}

// regexPass scans span lines for bare numeric assignments. Lower
// confidence: it cannot tell a module-level threshold from one buried in a
// docstring.
func (e *Extractor) regexPass(src *types.Source, spans [][2]int) []types.ExtractedParameter {
	var params []types.ExtractedParameter
	for _, span := range spans {
		text := src.Slice(span[0], span[1])
		offset := span[0]
		for _, line := range strings.SplitAfter(text, "\n") {
			if m := thresholdLine.FindStringSubmatchIndex(line); m != nil {
				name := line[m[2]:m[3]]
				value := line[m[4]:m[5]]
				declared := "int"
				if strings.Contains(value, ".") {
					declared = "float"
				}
				params = append(params, types.ExtractedParameter{
					Name:         name,
					Value:        value,
					DeclaredType: declared,
					SourceOffset: offset + m[2],
					Confidence:   confRegex,
					Pass:         PassRegex,
				})
			}
			offset += len(line)
		}
	}
	return params
}

// literalType maps a tree-sitter value node to a declared Python type.
// Non-literal right-hand sides (calls, names, expressions) return "".
func literalType(node *sitter.Node) string {
	switch node.Type() {
	case "integer":
		return "int"
	case "float":
		return "float"
	case "string", "concatenated_string":
		return "str"
	case "true", "false":
		return "bool"
	case "list", "tuple":
		return "list"
	case "dictionary":
		return "dict"
	case "none":
		return "none"
	case "unary_operator":
		// Negative literals: -5, -0.5
		if node.NamedChildCount() == 1 {
			inner := node.NamedChild(0)
			if t := literalType(inner); t == "int" || t == "float" {
				return t
			}
		}
	}
	return ""
}

// inSpans reports whether the offset falls inside any span.
func inSpans(offset int, spans [][2]int) bool {
	for _, s := range spans {
		if offset >= s[0] && offset < s[1] {
			return true
		}
	}
	return false
}
