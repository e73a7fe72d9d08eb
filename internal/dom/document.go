// Package dom wraps a parsed HTML tree and gives the highlighting engine the
// small slice of DOM behaviour it needs: attachment checks, document order,
// text normalisation, class and attribute editing, computed visibility and an
// opaque handle table for node references.
package dom

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/kobzarvs/multifind/internal/treesitter"
)

// Handle is an opaque reference to a node, valid until ResetHandles.
type Handle int

const NoHandle Handle = -1

type Document struct {
	root   *html.Node
	layout Layout
	css    *treesitter.Engine
	logger *zap.Logger

	handles []*html.Node
	index   map[*html.Node]Handle

	styles *styleCache
	ownCSS bool
}

type Option func(*Document)

// WithLayout supplies geometry for zero-size checks and visual ordering.
func WithLayout(l Layout) Option {
	return func(d *Document) { d.layout = l }
}

// WithStyleEngine shares a CSS engine between documents.
func WithStyleEngine(e *treesitter.Engine) Option {
	return func(d *Document) { d.css = e }
}

func WithLogger(l *zap.Logger) Option {
	return func(d *Document) { d.logger = l }
}

// New wraps an existing tree.
func New(root *html.Node, opts ...Option) *Document {
	d := &Document{
		root:   root,
		index:  make(map[*html.Node]Handle),
		logger: zap.NewNop(),
	}
	for _, o := range opts {
		o(d)
	}
	if d.css == nil {
		d.css = treesitter.New()
		d.ownCSS = true
	}
	return d
}

// Close releases the CSS parser unless it was shared via WithStyleEngine.
func (d *Document) Close() {
	if d.ownCSS {
		d.css.Close()
	}
}

func Parse(r io.Reader, opts ...Option) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	return New(root, opts...), nil
}

func ParseString(s string, opts ...Option) (*Document, error) {
	return Parse(strings.NewReader(s), opts...)
}

func (d *Document) Root() *html.Node { return d.root }

func (d *Document) Layout() Layout { return d.layout }

// SetLayout replaces the geometry provider, e.g. after a host re-layout.
func (d *Document) SetLayout(l Layout) { d.layout = l }

// Body returns <body>, or the root when the tree has none.
func (d *Document) Body() *html.Node {
	if b := findElement(d.root, atom.Body); b != nil {
		return b
	}
	return d.root
}

func (d *Document) Head() *html.Node {
	return findElement(d.root, atom.Head)
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n == nil {
		return nil
	}
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}

// Contains reports whether n is attached to this document.
func (d *Document) Contains(n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == d.root {
			return true
		}
	}
	return false
}

// Handle interns n and returns its handle.
func (d *Document) Handle(n *html.Node) Handle {
	if n == nil {
		return NoHandle
	}
	if h, ok := d.index[n]; ok {
		return h
	}
	h := Handle(len(d.handles))
	d.handles = append(d.handles, n)
	d.index[n] = h
	return h
}

// Node resolves a handle; stale or unknown handles yield nil.
func (d *Document) Node(h Handle) *html.Node {
	if h < 0 || int(h) >= len(d.handles) {
		return nil
	}
	return d.handles[h]
}

// ResetHandles invalidates every handle issued so far.
func (d *Document) ResetHandles() {
	d.handles = d.handles[:0]
	d.index = make(map[*html.Node]Handle)
}

// TextContent concatenates all descendant text, like Node.textContent.
func TextContent(n *html.Node) string {
	if n == nil {
		return ""
	}
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(c *html.Node) {
		if c.Type == html.TextNode {
			b.WriteString(c.Data)
			return
		}
		for cc := c.FirstChild; cc != nil; cc = cc.NextSibling {
			walk(cc)
		}
	}
	walk(n)
	return b.String()
}

// Normalize merges adjacent text nodes and drops empty ones under n.
func Normalize(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type != html.TextNode {
			Normalize(c)
			c = next
			continue
		}
		for next != nil && next.Type == html.TextNode {
			c.Data += next.Data
			after := next.NextSibling
			n.RemoveChild(next)
			next = after
		}
		if c.Data == "" {
			n.RemoveChild(c)
		}
		c = next
	}
}

// NewText returns a detached text node.
func NewText(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

// NewElement returns a detached element.
func NewElement(tag string, attrs ...html.Attribute) *html.Node {
	return &html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
		Attr:     attrs,
	}
}

func Attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func SetAttr(n *html.Node, key, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}

func RemoveAttr(n *html.Node, key string) {
	out := n.Attr[:0]
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == key {
			continue
		}
		out = append(out, a)
	}
	n.Attr = out
}

func Classes(n *html.Node) []string {
	v, _ := Attr(n, "class")
	return strings.Fields(v)
}

func HasClass(n *html.Node, class string) bool {
	for _, c := range Classes(n) {
		if c == class {
			return true
		}
	}
	return false
}

func AddClass(n *html.Node, class string) {
	if HasClass(n, class) {
		return
	}
	SetAttr(n, "class", strings.Join(append(Classes(n), class), " "))
}

// RemoveClass drops class; an emptied class attribute is removed entirely.
func RemoveClass(n *html.Node, class string) {
	if !HasClass(n, class) {
		return
	}
	var keep []string
	for _, c := range Classes(n) {
		if c != class {
			keep = append(keep, c)
		}
	}
	if len(keep) == 0 {
		RemoveAttr(n, "class")
		return
	}
	SetAttr(n, "class", strings.Join(keep, " "))
}

// FormValue is the current value of an input or textarea.
func FormValue(n *html.Node) string {
	if n.DataAtom == atom.Textarea {
		return TextContent(n)
	}
	v, _ := Attr(n, "value")
	return v
}

// InnerHTML serialises the children of n.
func InnerHTML(n *html.Node) (string, error) {
	var buf bytes.Buffer
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&buf, c); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}

// SetInnerHTML replaces the children of n with the parsed markup.
func SetInnerHTML(n *html.Node, markup string) error {
	context := n
	if n.Type != html.ElementNode {
		context = nil
	}
	nodes, err := html.ParseFragment(strings.NewReader(markup), context)
	if err != nil {
		return fmt.Errorf("dom: parse fragment: %w", err)
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	for _, c := range nodes {
		n.AppendChild(c)
	}
	return nil
}

// Render writes the whole document.
func (d *Document) Render(w io.Writer) error {
	return html.Render(w, d.root)
}

func (d *Document) String() string {
	var buf bytes.Buffer
	if err := d.Render(&buf); err != nil {
		return ""
	}
	return buf.String()
}

// InvalidateStyles drops parsed <style> rules; they are reparsed lazily.
func (d *Document) InvalidateStyles() {
	d.styles = nil
}
