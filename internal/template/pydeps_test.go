package template

import (
	"context"
	"sort"
	"testing"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

func parse(t *testing.T, source string) (*sitter.Node, []byte, func()) {
	t.Helper()
	parser := sitter.NewParser()
	parser.SetLanguage(python.GetLanguage())
	content := []byte(source)
	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return tree.RootNode(), content, tree.Close
}

func TestAnalyzeSpanExternals(t *testing.T) {
	tests := []struct {
		name   string
		source string
		want   []string
	}{
		{
			name: "locals and params are not external",
			source: `def f(a, b=fallback):
    c = a + b
    return c
`,
			want: []string{"fallback"},
		},
		{
			name: "attribute and keyword-arg names are not references",
			source: `def f(df):
    return df.rolling(window=20).mean()
`,
			want: nil,
		},
		{
			name: "loop and comprehension targets are definitions",
			source: `def f(items):
    out = [x * scale for x in items]
    for i, v in enumerate(items):
        out.append(v)
    return out
`,
			want: []string{"scale"},
		},
		{
			name: "with and except targets are definitions",
			source: `def f(path):
    try:
        with open(path) as fh:
            return fh.read()
    except OSError as err:
        return handle(err)
`,
			want: []string{"handle"},
		},
		{
			name: "builtins never count",
			source: `def f(xs):
    return max(len(xs), min(xs), sum(xs))
`,
			want: nil,
		},
		{
			name: "helper calls are external",
			source: `def f(xs):
    return normalize(xs) + OFFSET
`,
			want: []string{"OFFSET", "normalize"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root, content, done := parse(t, tt.source)
			defer done()

			got := analyzeSpan(root, content, 0, len(content)).external()
			sort.Strings(got)
			if len(got) != len(tt.want) {
				t.Fatalf("external() = %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("external() = %v, want %v", got, tt.want)
					break
				}
			}
		})
	}
}

func TestAnalyzeSpanLimits(t *testing.T) {
	source := "a = outside()\nb = inside()\n"
	root, content, done := parse(t, source)
	defer done()

	start := len("a = outside()\n")
	got := analyzeSpan(root, content, start, len(content)).external()
	if len(got) != 1 || got[0] != "inside" {
		t.Errorf("external() = %v, want [inside]", got)
	}
}

func TestImportBindings(t *testing.T) {
	source := `import pandas as pd
import os.path
from datetime import timedelta, date as d
from x import *
`
	root, content, done := parse(t, source)
	defer done()

	var got []string
	for i := 0; i < int(root.NamedChildCount()); i++ {
		got = append(got, importBindings(root.NamedChild(i), content)...)
	}
	sort.Strings(got)

	want := []string{"d", "os", "pd", "timedelta"}
	if len(got) != len(want) {
		t.Fatalf("bindings = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("bindings = %v, want %v", got, want)
			break
		}
	}
}
