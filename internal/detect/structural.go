package detect

import (
	"context"
	"fmt"
	"strings"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"scansplit/internal/config"
	"scansplit/internal/logging"
	"scansplit/internal/types"
)

// Confidence levels for structural evidence quality.
const (
	confExactName   = 0.95 // scan_ prefix or _scanner suffix on the function name
	confKeywordName = 0.85 // strategy keyword somewhere in the function name
	confCommentTag  = 0.75 // only the preceding comment matches
)

// StructuralDetector finds boundaries by parsing the source into a Python
// syntax tree. A candidate starts at any top-level function definition whose
// name or immediately preceding comment matches the strategy vocabulary; its
// end absorbs trailing module-level statements that reference only that
// function.
type StructuralDetector struct {
	cfg config.DetectConfig
}

// NewStructuralDetector creates a structural detector.
func NewStructuralDetector(cfg config.DetectConfig) *StructuralDetector {
	return &StructuralDetector{cfg: cfg}
}

// Name implements Strategy.
func (d *StructuralDetector) Name() string { return "structural" }

// Method implements Strategy.
func (d *StructuralDetector) Method() types.DetectionMethod { return types.MethodStructural }

// candidate is a top-level function that matched the strategy vocabulary.
// nodeStart keys the candidate to its definition node: tree-sitter node
// pointers are not stable across traversals, byte offsets are.
type candidate struct {
	name       string
	nodeStart  int
	start      int
	end        int
	confidence float64
	evidence   []string
}

// Detect implements Strategy. A fresh parser is created per call: tree-sitter
// parsers are stateful and detection strategies must stay side-effect-free.
func (d *StructuralDetector) Detect(ctx context.Context, src *types.Source) ([]types.ScannerBoundary, error) {
	start := time.Now()

	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())

	content := []byte(src.Text)
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("structural parse failed: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()

	// Pass 1: collect matching top-level function definitions.
	candidates := d.collectCandidates(root, content)
	if len(candidates) == 0 {
		logging.DetectDebug("structural: no candidates in %s", src.Filename)
		return nil, nil
	}

	// Pass 2: extend each candidate's end over trailing module-level code
	// that references only that candidate.
	d.extendEnds(root, content, candidates)

	boundaries := make([]types.ScannerBoundary, 0, len(candidates))
	for _, c := range candidates {
		boundaries = append(boundaries, types.ScannerBoundary{
			Name:        c.name,
			StartOffset: c.start,
			EndOffset:   c.end,
			Confidence:  c.confidence,
			Method:      types.MethodStructural,
			Evidence:    c.evidence,
		})
	}

	logging.Detect("structural: %d boundaries in %s (%v)", len(boundaries), src.Filename, time.Since(start))
	return boundaries, nil
}

// collectCandidates walks the module's top-level statements and returns the
// functions matching the strategy vocabulary, in source order.
func (d *StructuralDetector) collectCandidates(root *sitter.Node, content []byte) []*candidate {
	var candidates []*candidate

	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)

		fn := functionNode(child)
		if fn == nil {
			continue
		}
		nameNode := fn.ChildByFieldName("name")
		if nameNode == nil {
			continue
		}
		name := string(content[nameNode.StartByte():nameNode.EndByte()])

		c := &candidate{
			name:      name,
			nodeStart: int(child.StartByte()),
			start:     int(child.StartByte()),
			end:       int(child.EndByte()),
		}

		if matched, conf := d.matchName(name); matched != "" {
			c.confidence = conf
			c.evidence = append(c.evidence, fmt.Sprintf("function name %q matches %q", name, matched))
		}

		// The immediately preceding comment can carry the strategy tag even
		// when the function name is neutral.
		if comment := precedingComment(child); comment != nil {
			text := string(content[comment.StartByte():comment.EndByte()])
			if matched := d.matchComment(text); matched != "" {
				if c.confidence == 0 {
					c.confidence = confCommentTag
				}
				c.start = int(comment.StartByte())
				c.evidence = append(c.evidence, fmt.Sprintf("preceding comment matches %q", matched))
			}
		}

		if c.confidence > 0 {
			candidates = append(candidates, c)
		}
	}

	return candidates
}

// extendEnds absorbs trailing top-level statements (main guards, print and
// export calls) into the nearest preceding candidate, provided the statement
// references that candidate and no other.
func (d *StructuralDetector) extendEnds(root *sitter.Node, content []byte, candidates []*candidate) {
	byStart := make(map[int]*candidate, len(candidates))
	for _, c := range candidates {
		byStart[c.nodeStart] = c
	}

	var current *candidate
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)

		if c, ok := byStart[int(child.StartByte())]; ok {
			current = c
			continue
		}

		// Any other definition ends the extension window.
		if isDefinition(child) {
			current = nil
			continue
		}
		if current == nil {
			continue
		}

		text := string(content[child.StartByte():child.EndByte()])
		if !referencesOnly(text, current.name, candidates) {
			// Unrelated module-level code closes the window: the boundary
			// must stay contiguous.
			current = nil
			continue
		}

		current.end = int(child.EndByte())
		current.evidence = append(current.evidence,
			fmt.Sprintf("absorbed trailing %s", child.Type()))
	}
}

// matchName checks a function name against the vocabulary. Prefix entries
// end with '_', suffix entries start with '_', everything else is a keyword.
func (d *StructuralDetector) matchName(name string) (string, float64) {
	lower := strings.ToLower(name)
	for _, v := range d.cfg.Vocabulary {
		switch {
		case strings.HasSuffix(v, "_") && strings.HasPrefix(lower, v):
			return v, confExactName
		case strings.HasPrefix(v, "_") && strings.HasSuffix(lower, v):
			return v, confExactName
		}
	}
	for _, v := range d.cfg.Vocabulary {
		if strings.HasPrefix(v, "_") || strings.HasSuffix(v, "_") {
			continue
		}
		if strings.Contains(lower, v) {
			return v, confKeywordName
		}
	}
	return "", 0
}

// matchComment checks comment text against family markers and vocabulary.
func (d *StructuralDetector) matchComment(text string) string {
	for _, m := range d.cfg.FamilyMarkers {
		if strings.Contains(text, m) {
			return m
		}
	}
	lower := strings.ToLower(text)
	for _, v := range d.cfg.Vocabulary {
		if strings.Contains(lower, strings.Trim(v, "_")) {
			return v
		}
	}
	return ""
}

// functionNode returns the function_definition for a top-level statement,
// unwrapping decorated_definition, or nil.
func functionNode(node *sitter.Node) *sitter.Node {
	switch node.Type() {
	case "function_definition":
		return node
	case "decorated_definition":
		for j := 0; j < int(node.NamedChildCount()); j++ {
			inner := node.NamedChild(j)
			if inner.Type() == "function_definition" {
				return inner
			}
		}
	}
	return nil
}

// isDefinition reports whether a node introduces a new top-level definition.
func isDefinition(node *sitter.Node) bool {
	switch node.Type() {
	case "function_definition", "class_definition", "decorated_definition":
		return true
	}
	return false
}

// precedingComment returns the comment immediately above the node, or nil.
// Adjacency matters: a comment separated by other code is not a tag.
func precedingComment(node *sitter.Node) *sitter.Node {
	prev := node.PrevNamedSibling()
	if prev == nil || prev.Type() != "comment" {
		return nil
	}
	if int(node.StartPoint().Row)-int(prev.EndPoint().Row) > 1 {
		return nil
	}
	return prev
}

// referencesOnly reports whether the statement text mentions the owner and
// none of the other candidates.
func referencesOnly(text, owner string, candidates []*candidate) bool {
	if !strings.Contains(text, owner) {
		return false
	}
	for _, c := range candidates {
		if c.name == owner {
			continue
		}
		if strings.Contains(text, c.name) {
			return false
		}
	}
	return true
}
