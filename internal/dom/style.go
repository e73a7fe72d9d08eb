package dom

import (
	"context"
	"strconv"
	"strings"

	"github.com/andybalholm/cascadia"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/kobzarvs/multifind/internal/treesitter"
)

type compiledRule struct {
	sel   cascadia.Sel
	decls []treesitter.Declaration
}

type styleCache struct {
	rules  []compiledRule
	inline map[string][]treesitter.Declaration
}

func (d *Document) styleSheet() *styleCache {
	if d.styles != nil {
		return d.styles
	}
	cache := &styleCache{inline: make(map[string][]treesitter.Declaration)}
	ctx := context.Background()

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Style {
			sheet, err := d.css.ParseSheet(ctx, TextContent(n))
			if err != nil {
				d.logger.Debug("stylesheet parse failed", zap.Error(err))
				return
			}
			for _, r := range sheet.Rules {
				for _, raw := range r.Selectors {
					sel, ok := compileSelector(raw)
					if !ok {
						d.logger.Debug("selector ignored", zap.String("selector", raw))
						continue
					}
					cache.rules = append(cache.rules, compiledRule{sel: sel, decls: r.Declarations})
				}
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.root)
	d.styles = cache
	return cache
}

// Style returns the declared style of element n: matching <style> rules in
// source order, then the inline style attribute. !important wins over
// normal declarations. Specificity is not modelled.
func (d *Document) Style(n *html.Node) map[string]string {
	out := make(map[string]string)
	if n == nil || n.Type != html.ElementNode {
		return out
	}
	important := make(map[string]bool)
	apply := func(decls []treesitter.Declaration) {
		for _, decl := range decls {
			if important[decl.Property] && !decl.Important {
				continue
			}
			out[decl.Property] = strings.ToLower(decl.Value)
			if decl.Important {
				important[decl.Property] = true
			}
		}
	}

	cache := d.styleSheet()
	for _, r := range cache.rules {
		if r.sel.Match(n) {
			apply(r.decls)
		}
	}
	if style, ok := Attr(n, "style"); ok {
		decls, seen := cache.inline[style]
		if !seen {
			var err error
			decls, err = d.css.ParseInline(context.Background(), style)
			if err != nil {
				d.logger.Debug("inline style parse failed", zap.String("style", style), zap.Error(err))
			}
			cache.inline[style] = decls
		}
		apply(decls)
	}
	return out
}

// Visible approximates offsetParent/computed-style visibility: the element
// and its ancestors must not be hidden, display:none or fully transparent,
// the nearest declared visibility must not be hidden, and when a layout is
// known the element must have a non-zero box.
func (d *Document) Visible(n *html.Node) bool {
	if n == nil {
		return false
	}
	visibilityDecided := false
	for p := n; p != nil; p = p.Parent {
		if p.Type != html.ElementNode {
			continue
		}
		if _, ok := Attr(p, "hidden"); ok {
			return false
		}
		if p.DataAtom == atom.Input {
			if t, _ := Attr(p, "type"); strings.EqualFold(t, "hidden") {
				return false
			}
		}
		st := d.Style(p)
		if st["display"] == "none" {
			return false
		}
		if v, ok := st["visibility"]; ok && !visibilityDecided {
			visibilityDecided = true
			if v == "hidden" || v == "collapse" {
				return false
			}
		}
		if v, ok := st["opacity"]; ok && transparent(v) {
			return false
		}
	}
	if d.layout != nil {
		if r, ok := d.layout.Rect(n); ok && (r.Width <= 0 || r.Height <= 0) {
			return false
		}
	}
	return true
}

func transparent(v string) bool {
	pct := strings.HasSuffix(v, "%")
	f, err := strconv.ParseFloat(strings.TrimSuffix(v, "%"), 64)
	if err != nil {
		return false
	}
	if pct {
		f /= 100
	}
	return f <= 0
}
