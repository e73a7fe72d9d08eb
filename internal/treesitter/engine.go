package treesitter

import (
	"context"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/css"
)

// Declaration is one `property: value` pair.
type Declaration struct {
	Property  string
	Value     string
	Important bool
}

// Rule is a rule set: comma separated selectors sharing one block.
type Rule struct {
	Selectors    []string
	Declarations []Declaration
}

type Sheet struct {
	Rules []Rule
}

// Engine parses stylesheets and inline style attributes with the
// tree-sitter CSS grammar. A single parser is reused under a mutex.
type Engine struct {
	mu     sync.Mutex
	parser *sitter.Parser
}

func New() *Engine {
	p := sitter.NewParser()
	p.SetLanguage(css.GetLanguage())
	return &Engine{parser: p}
}

func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.parser != nil {
		e.parser.Close()
		e.parser = nil
	}
}

// ParseSheet parses the text of a <style> element. Only top-level rule sets
// are kept; at-rules (media, supports, keyframes) cannot be evaluated
// without a viewport and are skipped.
func (e *Engine) ParseSheet(ctx context.Context, src string) (*Sheet, error) {
	source := []byte(src)
	tree, err := e.parse(ctx, source)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	sheet := &Sheet{}
	root := tree.RootNode()
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		if child.Type() != "rule_set" {
			continue
		}
		if rule, ok := ruleFromNode(child, source); ok {
			sheet.Rules = append(sheet.Rules, rule)
		}
	}
	return sheet, nil
}

// ParseInline parses the value of a style="" attribute.
func (e *Engine) ParseInline(ctx context.Context, style string) ([]Declaration, error) {
	if strings.TrimSpace(style) == "" {
		return nil, nil
	}
	source := []byte("x{" + style + "}")
	tree, err := e.parse(ctx, source)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	root := tree.RootNode()
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		if child.Type() != "rule_set" {
			continue
		}
		rule, _ := ruleFromNode(child, source)
		return rule.Declarations, nil
	}
	return nil, nil
}

func (e *Engine) parse(ctx context.Context, source []byte) (*sitter.Tree, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.parser == nil {
		e.parser = sitter.NewParser()
		e.parser.SetLanguage(css.GetLanguage())
	}
	return e.parser.ParseCtx(ctx, nil, source)
}

func ruleFromNode(n *sitter.Node, source []byte) (Rule, bool) {
	var rule Rule
	for i := 0; i < int(n.NamedChildCount()); i++ {
		child := n.NamedChild(i)
		switch child.Type() {
		case "selectors":
			for _, sel := range splitSelectors(child.Content(source)) {
				if sel = strings.TrimSpace(sel); sel != "" {
					rule.Selectors = append(rule.Selectors, sel)
				}
			}
		case "block":
			rule.Declarations = declarations(child, source)
		}
	}
	return rule, len(rule.Selectors) > 0
}

// splitSelectors splits a selector list on top-level commas, leaving
// arguments such as :not(.a, .b) intact.
func splitSelectors(list string) []string {
	var out []string
	depth, start := 0, 0
	for i, r := range list {
		switch r {
		case '(', '[':
			depth++
		case ')', ']':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, list[start:i])
				start = i + 1
			}
		}
	}
	return append(out, list[start:])
}

func declarations(block *sitter.Node, source []byte) []Declaration {
	var out []Declaration
	for i := 0; i < int(block.NamedChildCount()); i++ {
		child := block.NamedChild(i)
		if child.Type() != "declaration" || child.HasError() {
			continue
		}
		if d, ok := parseDeclaration(child.Content(source)); ok {
			out = append(out, d)
		}
	}
	return out
}

// parseDeclaration splits "display: none !important;" into its parts.
// Value nodes vary by grammar version, so the raw text is used.
func parseDeclaration(text string) (Declaration, bool) {
	text = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), ";"))
	idx := strings.IndexByte(text, ':')
	if idx <= 0 {
		return Declaration{}, false
	}
	d := Declaration{
		Property: strings.ToLower(strings.TrimSpace(text[:idx])),
		Value:    strings.TrimSpace(text[idx+1:]),
	}
	lower := strings.ToLower(d.Value)
	if i := strings.Index(lower, "!important"); i >= 0 {
		d.Important = true
		d.Value = strings.TrimSpace(d.Value[:i])
	}
	return d, d.Property != ""
}
