// Package match finds literal, case-insensitive keyword occurrences in the
// visible text and form fields of a document.
package match

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/kobzarvs/multifind/internal/dom"
)

type Kind int

const (
	Text Kind = iota
	FormValue
	FormPlaceholder
)

func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case FormValue:
		return "form_value"
	case FormPlaceholder:
		return "form_placeholder"
	default:
		return "unknown"
	}
}

// IsForm reports whether the match lives in a form field rather than a
// text node.
func (k Kind) IsForm() bool { return k == FormValue || k == FormPlaceholder }

// Descriptor is one occurrence found during a scan. Start and End are byte
// offsets into the node text (Text) or the searched field string (forms).
type Descriptor struct {
	Keyword string
	Rank    int
	Node    dom.Handle
	Start   int
	End     int
	Kind    Kind
}

const formQuery = "//input | //textarea"

var skipParents = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Textarea: true,
}

var textInputTypes = map[string]bool{
	"":       true,
	"text":   true,
	"search": true,
	"email":  true,
	"url":    true,
	"tel":    true,
}

// Matcher scans one document. Visibility is memoised for the lifetime of
// the Matcher, so a new one should be created per render pass.
type Matcher struct {
	doc     *dom.Document
	logger  *zap.Logger
	visible map[*html.Node]bool
}

func New(doc *dom.Document, logger *zap.Logger) *Matcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{
		doc:     doc,
		logger:  logger,
		visible: make(map[*html.Node]bool),
	}
}

// Find returns every occurrence of keyword: text nodes first in document
// order, then form fields. Blank keywords yield nothing.
func (m *Matcher) Find(keyword string, rank int) []Descriptor {
	if strings.TrimSpace(keyword) == "" {
		return nil
	}
	var out []Descriptor

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if !m.searchable(n.Parent) {
				return
			}
			for _, span := range IndexAll(n.Data, keyword) {
				out = append(out, Descriptor{
					Keyword: keyword,
					Rank:    rank,
					Node:    m.doc.Handle(n),
					Start:   span[0],
					End:     span[1],
					Kind:    Text,
				})
			}
			return
		case html.ElementNode:
			if skipParents[n.DataAtom] {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(m.doc.Body())

	return append(out, m.findForms(keyword, rank)...)
}

func (m *Matcher) findForms(keyword string, rank int) []Descriptor {
	fields, err := htmlquery.QueryAll(m.doc.Body(), formQuery)
	if err != nil {
		m.logger.Warn("form query failed", zap.Error(err))
		return nil
	}
	var out []Descriptor
	for _, el := range fields {
		if el.DataAtom == atom.Input {
			t, _ := dom.Attr(el, "type")
			if !textInputTypes[strings.ToLower(strings.TrimSpace(t))] {
				continue
			}
		}
		if !m.isVisible(el) {
			continue
		}

		kind := FormValue
		source := dom.FormValue(el)
		if source == "" {
			kind = FormPlaceholder
			source, _ = dom.Attr(el, "placeholder")
		}
		for _, span := range IndexAll(source, keyword) {
			out = append(out, Descriptor{
				Keyword: keyword,
				Rank:    rank,
				Node:    m.doc.Handle(el),
				Start:   span[0],
				End:     span[1],
				Kind:    kind,
			})
		}
	}
	return out
}

func (m *Matcher) searchable(parent *html.Node) bool {
	if parent == nil {
		return false
	}
	if parent.Type != html.ElementNode {
		return true
	}
	if skipParents[parent.DataAtom] {
		return false
	}
	return m.isVisible(parent)
}

func (m *Matcher) isVisible(n *html.Node) bool {
	if v, ok := m.visible[n]; ok {
		return v
	}
	v := m.doc.Visible(n)
	m.visible[n] = v
	return v
}

// IndexAll returns the byte spans of every non-overlapping occurrence of
// keyword in s, compared rune by rune under Unicode simple case folding.
// The keyword is matched literally.
func IndexAll(s, keyword string) [][2]int {
	if keyword == "" {
		return nil
	}
	var out [][2]int
	for i := 0; i < len(s); {
		if end, ok := foldPrefix(s[i:], keyword); ok {
			out = append(out, [2]int{i, i + end})
			i += end
			continue
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return out
}

// foldPrefix reports whether s starts with keyword under case folding and
// returns the byte length of the matched prefix of s.
func foldPrefix(s, keyword string) (int, bool) {
	i := 0
	for _, kr := range keyword {
		if i >= len(s) {
			return 0, false
		}
		sr, size := utf8.DecodeRuneInString(s[i:])
		if !equalFold(sr, kr) {
			return 0, false
		}
		i += size
	}
	return i, true
}

func equalFold(a, b rune) bool {
	if a == b {
		return true
	}
	for f := unicode.SimpleFold(a); f != a; f = unicode.SimpleFold(f) {
		if f == b {
			return true
		}
	}
	return false
}
