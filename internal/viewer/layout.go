package viewer

import (
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/kobzarvs/multifind/internal/dom"
)

// cell is one laid-out rune and the node it came from: a text node, or an
// input/textarea element for field contents.
type cell struct {
	r    rune
	node *html.Node
}

type box struct {
	top, left, bottom, right int
}

var blockElements = map[atom.Atom]bool{
	atom.Address: true, atom.Article: true, atom.Aside: true, atom.Blockquote: true,
	atom.Dd: true, atom.Div: true, atom.Dl: true, atom.Dt: true, atom.Fieldset: true,
	atom.Figure: true, atom.Footer: true, atom.Form: true, atom.H1: true, atom.H2: true,
	atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true, atom.Header: true,
	atom.Hr: true, atom.Li: true, atom.Main: true, atom.Nav: true, atom.Ol: true,
	atom.P: true, atom.Pre: true, atom.Section: true, atom.Table: true, atom.Tr: true,
	atom.Ul: true, atom.Body: true,
}

var skippedElements = map[atom.Atom]bool{
	atom.Head: true, atom.Script: true, atom.Style: true, atom.Noscript: true,
	atom.Template: true, atom.Title: true,
}

// layouter flows the body into fixed-width lines, tracking a bounding box
// per node so hosts can ask where a node was drawn.
type layouter struct {
	doc   *dom.Document
	width int
	lines [][]cell
	cur   []cell
	boxes map[*html.Node]*box
	// pendingSpace collapses whitespace runs to one space.
	pendingSpace bool
}

func layoutDocument(doc *dom.Document, width int) ([][]cell, map[*html.Node]dom.Rect) {
	if width < 1 {
		width = 1
	}
	l := &layouter{doc: doc, width: width, boxes: make(map[*html.Node]*box)}
	l.walk(doc.Body())
	l.newline()

	rects := make(map[*html.Node]dom.Rect, len(l.boxes))
	for n, b := range l.boxes {
		rects[n] = dom.Rect{
			Top:    float64(b.top),
			Left:   float64(b.left),
			Width:  float64(b.right - b.left + 1),
			Height: float64(b.bottom - b.top + 1),
		}
	}
	return l.lines, rects
}

func (l *layouter) walk(n *html.Node) {
	switch n.Type {
	case html.TextNode:
		l.text(n.Data, n)
		return
	case html.ElementNode:
		if skippedElements[n.DataAtom] || l.hidden(n) {
			return
		}
		switch n.DataAtom {
		case atom.Br:
			l.newline()
			return
		case atom.Input:
			t, _ := dom.Attr(n, "type")
			if strings.EqualFold(t, "hidden") {
				return
			}
			l.field(n)
			return
		case atom.Textarea:
			l.field(n)
			return
		}
	}

	block := n.Type == html.ElementNode && blockElements[n.DataAtom]
	if block {
		l.newline()
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		l.walk(c)
	}
	if block {
		l.newline()
	}
}

func (l *layouter) hidden(n *html.Node) bool {
	if _, ok := dom.Attr(n, "hidden"); ok {
		return true
	}
	return l.doc.Style(n)["display"] == "none"
}

func (l *layouter) field(n *html.Node) {
	value := dom.FormValue(n)
	if value == "" {
		value, _ = dom.Attr(n, "placeholder")
	}
	l.flushSpace()
	l.put('[', n)
	for _, r := range value {
		l.put(r, n)
	}
	l.put(']', n)
}

func (l *layouter) text(s string, n *html.Node) {
	for _, r := range s {
		if unicode.IsSpace(r) {
			l.pendingSpace = len(l.cur) > 0
			continue
		}
		l.flushSpace()
		l.put(r, n)
	}
}

func (l *layouter) flushSpace() {
	if l.pendingSpace && len(l.cur) > 0 {
		l.put(' ', nil)
	}
	l.pendingSpace = false
}

func (l *layouter) put(r rune, n *html.Node) {
	if len(l.cur) >= l.width {
		l.wrap()
	}
	row, col := len(l.lines), len(l.cur)
	l.cur = append(l.cur, cell{r: r, node: n})
	for p := n; p != nil; p = p.Parent {
		b, ok := l.boxes[p]
		if !ok {
			l.boxes[p] = &box{top: row, left: col, bottom: row, right: col}
			continue
		}
		if row > b.bottom {
			b.bottom = row
		}
		if col < b.left {
			b.left = col
		}
		if col > b.right {
			b.right = col
		}
	}
}

func (l *layouter) wrap() {
	l.lines = append(l.lines, l.cur)
	l.cur = nil
}

func (l *layouter) newline() {
	if len(l.cur) > 0 {
		l.wrap()
	}
	l.pendingSpace = false
}
