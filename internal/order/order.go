// Package order merges the matches of every keyword into one sequence that
// follows the reading order of the document.
package order

import (
	"math"
	"sort"

	"github.com/kobzarvs/multifind/internal/dom"
	"github.com/kobzarvs/multifind/internal/match"
)

// rowTolerance is the vertical distance under which two rects are treated
// as the same visual row.
const rowTolerance = 1.0

type key struct {
	attached bool
	pos      int
	rect     dom.Rect
	hasRect  bool
}

// Sort orders descs in place: by start offset within a node, by document
// position between attached nodes, otherwise by layout rect (top, then
// left). Pairs with no usable ordering compare equal and keep their input
// order.
func Sort(doc *dom.Document, descs []match.Descriptor) {
	if len(descs) < 2 {
		return
	}
	positions := doc.Positions()
	layout := doc.Layout()

	keys := make(map[dom.Handle]key, len(descs))
	for _, d := range descs {
		if _, ok := keys[d.Node]; ok {
			continue
		}
		n := doc.Node(d.Node)
		var k key
		if n != nil {
			k.pos, k.attached = positions[n]
			if layout != nil {
				k.rect, k.hasRect = layout.Rect(n)
			}
		}
		keys[d.Node] = k
	}

	sort.SliceStable(descs, func(i, j int) bool {
		return compare(keys[descs[i].Node], descs[i], keys[descs[j].Node], descs[j]) < 0
	})
}

func compare(ka key, a match.Descriptor, kb key, b match.Descriptor) int {
	if a.Node == b.Node {
		return cmpInt(a.Start, b.Start)
	}
	if ka.attached && kb.attached {
		return cmpInt(ka.pos, kb.pos)
	}
	if ka.hasRect && kb.hasRect {
		if math.Abs(ka.rect.Top-kb.rect.Top) >= rowTolerance {
			return cmpFloat(ka.rect.Top, kb.rect.Top)
		}
		return cmpFloat(ka.rect.Left, kb.rect.Left)
	}
	return 0
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
