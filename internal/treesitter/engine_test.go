package treesitter

import (
	"context"
	"testing"
)

func TestParseSheetRules(t *testing.T) {
	e := New()
	defer e.Close()

	sheet, err := e.ParseSheet(context.Background(), `
/* hidden helpers */
.hidden, #secret { display: none; }
p.faded { opacity: 0 !important; color: red }
@media print { .screen-only { display: none } }
`)
	if err != nil {
		t.Fatalf("ParseSheet error: %v", err)
	}
	if len(sheet.Rules) != 2 {
		t.Fatalf("rules = %d, want 2: %#v", len(sheet.Rules), sheet.Rules)
	}

	first := sheet.Rules[0]
	if len(first.Selectors) != 2 || first.Selectors[0] != ".hidden" || first.Selectors[1] != "#secret" {
		t.Fatalf("selectors = %v", first.Selectors)
	}
	if len(first.Declarations) != 1 || first.Declarations[0].Property != "display" || first.Declarations[0].Value != "none" {
		t.Fatalf("declarations = %#v", first.Declarations)
	}

	second := sheet.Rules[1]
	if len(second.Declarations) != 2 {
		t.Fatalf("declarations = %#v", second.Declarations)
	}
	if !second.Declarations[0].Important || second.Declarations[0].Value != "0" {
		t.Fatalf("opacity declaration = %#v", second.Declarations[0])
	}
}

func TestParseInline(t *testing.T) {
	e := New()
	defer e.Close()

	decls, err := e.ParseInline(context.Background(), "Visibility: hidden; margin: 0 auto")
	if err != nil {
		t.Fatalf("ParseInline error: %v", err)
	}
	if len(decls) != 2 {
		t.Fatalf("decls = %#v", decls)
	}
	if decls[0].Property != "visibility" || decls[0].Value != "hidden" {
		t.Fatalf("first = %#v", decls[0])
	}
	if decls[1].Value != "0 auto" {
		t.Fatalf("second value = %q", decls[1].Value)
	}

	decls, err = e.ParseInline(context.Background(), "   ")
	if err != nil || decls != nil {
		t.Fatalf("blank style = %#v, %v", decls, err)
	}
}

func TestParseDeclaration(t *testing.T) {
	tests := []struct {
		in   string
		want Declaration
		ok   bool
	}{
		{"display:none;", Declaration{Property: "display", Value: "none"}, true},
		{"OPACITY : 0.0 !IMPORTANT", Declaration{Property: "opacity", Value: "0.0", Important: true}, true},
		{"background: url(a:b)", Declaration{Property: "background", Value: "url(a:b)"}, true},
		{"nonsense", Declaration{}, false},
	}
	for _, tt := range tests {
		got, ok := parseDeclaration(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Fatalf("parseDeclaration(%q) = %#v, %v; want %#v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestSplitSelectorsKeepsArguments(t *testing.T) {
	got := splitSelectors(`.box:not(.open, .shown), a[title="x,y"], h1 + p`)
	want := []string{`.box:not(.open, .shown)`, ` a[title="x,y"]`, ` h1 + p`}
	if len(got) != len(want) {
		t.Fatalf("splitSelectors = %q", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("splitSelectors[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
