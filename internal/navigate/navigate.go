// Package navigate moves a per-keyword cursor over rendered markers.
package navigate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/kobzarvs/multifind/internal/dom"
	"github.com/kobzarvs/multifind/internal/highlight"
)

// Unset is the cursor of a keyword that has not been navigated yet.
const Unset = -1

var (
	ErrNoMatches    = errors.New("no matches")
	ErrStaleMarker  = errors.New("marker no longer in document")
	ErrBadDirection = errors.New("invalid direction")
)

type Direction int

const (
	Next Direction = iota
	Prev
)

func (d Direction) String() string {
	if d == Prev {
		return "prev"
	}
	return "next"
}

func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "next", "down", "":
		return Next, nil
	case "prev", "previous", "up":
		return Prev, nil
	}
	return Next, fmt.Errorf("%w: %q", ErrBadDirection, s)
}

// Step returns the cursor after moving one match in dir over n matches.
func Step(cursor, n int, dir Direction) int {
	if n <= 0 {
		return Unset
	}
	if cursor == Unset || cursor < 0 || cursor >= n {
		if dir == Prev {
			return n - 1
		}
		return 0
	}
	if dir == Prev {
		return (cursor - 1 + n) % n
	}
	return (cursor + 1) % n
}

// Reconcile fits a cursor to a fresh match count after a render pass.
func Reconcile(cursor, n int) int {
	switch {
	case n == 0:
		return Unset
	case cursor == Unset, cursor < 0, cursor >= n:
		return 0
	}
	return cursor
}

type ScrollOptions struct {
	Smooth bool
	Center bool
}

// Viewport brings a node on screen. Hosts without a screen may no-op.
type Viewport interface {
	ScrollIntoView(n *html.Node, opts ScrollOptions) error
}

type Controller struct {
	doc      *dom.Document
	viewport Viewport
	logger   *zap.Logger
}

func New(doc *dom.Document, viewport Viewport, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{doc: doc, viewport: viewport, logger: logger}
}

// Navigate advances cursor over markers, moves the current-match flag to
// the target and scrolls to it. With no markers nothing changes.
func (c *Controller) Navigate(markers []highlight.Marker, cursor int, dir Direction) (int, error) {
	if len(markers) == 0 {
		return cursor, ErrNoMatches
	}
	next := Step(cursor, len(markers), dir)
	target := c.doc.Node(markers[next].Handle)
	if target == nil || !c.doc.Contains(target) {
		return cursor, ErrStaleMarker
	}

	c.ClearCurrent()
	dom.AddClass(target, highlight.CurrentClass)

	if c.viewport != nil {
		if err := c.viewport.ScrollIntoView(target, ScrollOptions{Smooth: true, Center: true}); err != nil {
			c.logger.Debug("scroll failed", zap.Error(err))
		}
	}
	return next, nil
}

// ClearCurrent removes the current-match flag from every element.
func (c *Controller) ClearCurrent() {
	nodes, err := htmlquery.QueryAll(c.doc.Root(), highlight.ClassQuery(highlight.CurrentClass))
	if err != nil {
		c.logger.Warn("current match query failed", zap.Error(err))
		return
	}
	for _, n := range nodes {
		dom.RemoveClass(n, highlight.CurrentClass)
	}
}

// Current returns the element carrying the current-match flag, if any.
func (c *Controller) Current() *html.Node {
	n, err := htmlquery.Query(c.doc.Root(), highlight.ClassQuery(highlight.CurrentClass))
	if err != nil {
		return nil
	}
	return n
}
