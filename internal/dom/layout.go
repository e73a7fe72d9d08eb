package dom

import "golang.org/x/net/html"

// Rect is a box in host units (pixels, terminal cells).
type Rect struct {
	Top, Left     float64
	Width, Height float64
}

// Layout is supplied by hosts that know where nodes are drawn.
type Layout interface {
	Rect(n *html.Node) (Rect, bool)
}

// Positions numbers every attached node in preorder: ancestors before
// descendants, earlier siblings before later ones.
func (d *Document) Positions() map[*html.Node]int {
	pos := make(map[*html.Node]int)
	i := 0
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		pos[n] = i
		i++
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(d.root)
	return pos
}
