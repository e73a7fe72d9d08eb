// Package highlight mutates a document to show matches and undoes those
// mutations again.
//
// Text matches are wrapped in <span class="multi-find-highlight
// multi-find-highlight-N"> where N is the keyword's color slot. Form fields
// cannot hold markup, so matching inputs and textareas are annotated with a
// class and a data attribute instead; their value and placeholder are never
// touched. A <style> element carrying the palette is injected into <head>
// while highlights are shown.
package highlight

import (
	"fmt"
	"sort"
	"strings"

	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/kobzarvs/multifind/internal/dom"
	"github.com/kobzarvs/multifind/internal/match"
)

const (
	MarkerClass  = "multi-find-highlight"
	FormClass    = "multi-find-form-highlight"
	CurrentClass = "multi-find-current-match"
	KeywordAttr  = "data-multi-find-keyword"
	StyleID      = "multi-find-styles"
)

// Marker is the rendered form of one match. Handle points at the wrapper
// span for text matches and at the field element for form matches.
type Marker struct {
	Handle  dom.Handle
	Keyword string
	Text    string
	Kind    match.Kind
}

func SlotClass(slot int) string {
	return fmt.Sprintf("%s-%d", MarkerClass, slot)
}

// ClassQuery is an XPath selecting every element carrying class.
func ClassQuery(class string) string {
	return fmt.Sprintf("//*[contains(concat(' ', normalize-space(@class), ' '), ' %s ')]", class)
}

type Renderer struct {
	doc     *dom.Document
	palette []string
	logger  *zap.Logger

	// fieldClass holds the class attribute annotated fields had before the
	// first annotation, so Clear can put back exactly what was there.
	fieldClass map[*html.Node]savedAttr
}

type savedAttr struct {
	val string
	ok  bool
}

func New(doc *dom.Document, palette []string, logger *zap.Logger) *Renderer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{
		doc:        doc,
		palette:    palette,
		logger:     logger,
		fieldClass: make(map[*html.Node]savedAttr),
	}
}

// Apply renders descs, which must already be in global order, and returns
// the markers of each keyword in that same order. slots maps keyword to
// color slot. Overlapping text matches in one node are resolved in favour
// of the lower rank; the losing match is neither rendered nor returned.
func (r *Renderer) Apply(descs []match.Descriptor, slots map[string]int) map[string][]Marker {
	r.injectStyles(slots)

	accepted := resolveOverlaps(descs)

	// Text matches, grouped per node in first-seen order.
	var nodes []dom.Handle
	groups := make(map[dom.Handle][]int)
	for i, d := range descs {
		if d.Kind != match.Text || !accepted[i] {
			continue
		}
		if _, ok := groups[d.Node]; !ok {
			nodes = append(nodes, d.Node)
		}
		groups[d.Node] = append(groups[d.Node], i)
	}

	rendered := make(map[int]dom.Handle)
	for _, h := range nodes {
		idx := groups[h]
		spans, err := r.wrapNode(h, descs, idx, slots)
		if err != nil {
			r.logger.Debug("text node skipped", zap.Int("node", int(h)), zap.Error(err))
			continue
		}
		for k, i := range idx {
			rendered[i] = r.doc.Handle(spans[k])
		}
	}

	// A field matched by several keywords is labelled with the first-ranked.
	owner := make(map[dom.Handle]match.Descriptor)
	for _, d := range descs {
		if !d.Kind.IsForm() {
			continue
		}
		if cur, ok := owner[d.Node]; !ok || d.Rank < cur.Rank {
			owner[d.Node] = d
		}
	}
	for i, d := range descs {
		if !d.Kind.IsForm() {
			continue
		}
		if r.annotateField(d, owner[d.Node].Keyword) {
			rendered[i] = d.Node
		}
	}

	out := make(map[string][]Marker)
	for i, d := range descs {
		h, ok := rendered[i]
		if !ok {
			continue
		}
		out[d.Keyword] = append(out[d.Keyword], Marker{
			Handle:  h,
			Keyword: d.Keyword,
			Text:    r.matchedText(d, h),
			Kind:    d.Kind,
		})
	}
	r.doc.InvalidateStyles()
	return out
}

// resolveOverlaps marks which descriptors survive. Only text matches in the
// same node can collide; lower rank wins, then earlier start.
func resolveOverlaps(descs []match.Descriptor) []bool {
	accepted := make([]bool, len(descs))
	byNode := make(map[dom.Handle][]int)
	for i, d := range descs {
		if d.Kind != match.Text {
			accepted[i] = true
			continue
		}
		byNode[d.Node] = append(byNode[d.Node], i)
	}
	for _, idx := range byNode {
		sort.SliceStable(idx, func(a, b int) bool {
			da, db := descs[idx[a]], descs[idx[b]]
			if da.Rank != db.Rank {
				return da.Rank < db.Rank
			}
			return da.Start < db.Start
		})
		var taken [][2]int
		for _, i := range idx {
			d := descs[i]
			clash := false
			for _, span := range taken {
				if d.Start < span[1] && span[0] < d.End {
					clash = true
					break
				}
			}
			if !clash {
				taken = append(taken, [2]int{d.Start, d.End})
				accepted[i] = true
			}
		}
	}
	return accepted
}

// wrapNode replaces one text node by the sequence of plain text and marker
// spans. The replacement is all or nothing: a panic part way through removes
// what was inserted and leaves the original node in place.
func (r *Renderer) wrapNode(h dom.Handle, descs []match.Descriptor, idx []int, slots map[string]int) (spans []*html.Node, err error) {
	text := r.doc.Node(h)
	if text == nil || text.Parent == nil || !r.doc.Contains(text) {
		return nil, fmt.Errorf("detached text node")
	}
	parent := text.Parent
	src := text.Data

	sort.SliceStable(idx, func(a, b int) bool { return descs[idx[a]].Start < descs[idx[b]].Start })

	var frag []*html.Node
	offset := 0
	for _, i := range idx {
		d := descs[i]
		if d.Start < offset || d.End > len(src) || d.Start >= d.End {
			return nil, fmt.Errorf("stale offsets %d:%d", d.Start, d.End)
		}
		if d.Start > offset {
			frag = append(frag, dom.NewText(src[offset:d.Start]))
		}
		span := dom.NewElement("span", html.Attribute{
			Key: "class",
			Val: MarkerClass + " " + SlotClass(slots[d.Keyword]),
		})
		span.AppendChild(dom.NewText(src[d.Start:d.End]))
		frag = append(frag, span)
		spans = append(spans, span)
		offset = d.End
	}
	if offset < len(src) {
		frag = append(frag, dom.NewText(src[offset:]))
	}

	var inserted []*html.Node
	defer func() {
		if p := recover(); p != nil {
			for _, n := range inserted {
				if n.Parent == parent {
					parent.RemoveChild(n)
				}
			}
			r.logger.Warn("text node replacement failed", zap.Any("panic", p))
			spans, err = nil, fmt.Errorf("replace text node: %v", p)
		}
	}()
	for _, n := range frag {
		parent.InsertBefore(n, text)
		inserted = append(inserted, n)
	}
	parent.RemoveChild(text)
	return spans, nil
}

func (r *Renderer) annotateField(d match.Descriptor, keyword string) bool {
	el := r.doc.Node(d.Node)
	if el == nil || !r.doc.Contains(el) {
		r.logger.Debug("form field detached", zap.String("keyword", d.Keyword))
		return false
	}
	if _, seen := r.fieldClass[el]; !seen {
		val, ok := dom.Attr(el, "class")
		r.fieldClass[el] = savedAttr{val: val, ok: ok}
	}
	dom.AddClass(el, FormClass)
	dom.SetAttr(el, KeywordAttr, keyword)
	return true
}

func (r *Renderer) matchedText(d match.Descriptor, h dom.Handle) string {
	if d.Kind == match.Text {
		return dom.TextContent(r.doc.Node(h))
	}
	el := r.doc.Node(d.Node)
	src := dom.FormValue(el)
	if d.Kind == match.FormPlaceholder {
		src, _ = dom.Attr(el, "placeholder")
	}
	if d.End > len(src) {
		return ""
	}
	return src[d.Start:d.End]
}

func (r *Renderer) injectStyles(slots map[string]int) {
	r.removeStyles()
	if len(r.palette) == 0 {
		return
	}
	used := make(map[int]bool)
	for _, s := range slots {
		used[s] = true
	}
	var ordered []int
	for s := range used {
		ordered = append(ordered, s)
	}
	sort.Ints(ordered)

	var b strings.Builder
	fmt.Fprintf(&b, ".%s { color: #000; border-radius: 2px; padding: 0 1px; }\n", MarkerClass)
	for _, s := range ordered {
		fmt.Fprintf(&b, ".%s { background-color: %s; }\n", SlotClass(s), r.palette[s%len(r.palette)])
	}
	fmt.Fprintf(&b, ".%s { outline: 2px solid #ff5722; }\n", CurrentClass)
	fmt.Fprintf(&b, ".%s { box-shadow: 0 0 0 2px #ff9800; }\n", FormClass)

	style := dom.NewElement("style", html.Attribute{Key: "id", Val: StyleID})
	style.AppendChild(dom.NewText(b.String()))
	target := r.doc.Head()
	if target == nil {
		target = r.doc.Body()
	}
	target.AppendChild(style)
}

func (r *Renderer) removeStyles() {
	nodes, err := htmlquery.QueryAll(r.doc.Root(), fmt.Sprintf("//style[@id='%s']", StyleID))
	if err != nil {
		r.logger.Warn("style query failed", zap.Error(err))
		return
	}
	for _, n := range nodes {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}
}

// Clear removes every marker span, form annotation, current flag and the
// injected stylesheet. Markers are found by class so that spans left behind
// by an interrupted pass are removed too.
func (r *Renderer) Clear() (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("highlight: clear: %v", p)
		}
		r.doc.InvalidateStyles()
	}()

	markers, qerr := htmlquery.QueryAll(r.doc.Root(), ClassQuery(MarkerClass))
	if qerr != nil {
		return fmt.Errorf("highlight: query markers: %w", qerr)
	}
	touched := make(map[*html.Node]bool)
	var parents []*html.Node
	for _, m := range markers {
		parent := m.Parent
		if parent == nil {
			continue
		}
		unwrapMarker(parent, m)
		if !touched[parent] {
			touched[parent] = true
			parents = append(parents, parent)
		}
	}
	for _, p := range parents {
		dom.Normalize(p)
	}

	for _, class := range []string{FormClass, CurrentClass} {
		nodes, qerr := htmlquery.QueryAll(r.doc.Root(), ClassQuery(class))
		if qerr != nil {
			return fmt.Errorf("highlight: query %s: %w", class, qerr)
		}
		for _, n := range nodes {
			dom.RemoveClass(n, class)
			if class == FormClass {
				dom.RemoveAttr(n, KeywordAttr)
			}
		}
	}

	for el, saved := range r.fieldClass {
		if saved.ok {
			dom.SetAttr(el, "class", saved.val)
		} else {
			dom.RemoveAttr(el, "class")
		}
	}
	clear(r.fieldClass)

	r.removeStyles()
	return nil
}

var unwrapMarker = func(parent, marker *html.Node) {
	parent.InsertBefore(dom.NewText(dom.TextContent(marker)), marker)
	parent.RemoveChild(marker)
}

// Restore clears the document; if that fails and a snapshot of the body
// markup is available, the body is rebuilt from it.
func (r *Renderer) Restore(snapshot string) error {
	err := r.Clear()
	if err == nil {
		return nil
	}
	if snapshot == "" {
		return err
	}
	r.logger.Warn("restoring body from snapshot", zap.Error(err))
	if serr := dom.SetInnerHTML(r.doc.Body(), snapshot); serr != nil {
		return fmt.Errorf("highlight: restore snapshot: %w", serr)
	}
	clear(r.fieldClass)
	r.removeStyles()
	r.doc.InvalidateStyles()
	return nil
}
