// Package viewer shows a highlighted document in the terminal and drives a
// session from the keyboard.
package viewer

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gdamore/tcell/v2"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/kobzarvs/multifind/internal/dom"
	"github.com/kobzarvs/multifind/internal/highlight"
	"github.com/kobzarvs/multifind/internal/navigate"
	"github.com/kobzarvs/multifind/internal/session"
)

type Mode int

const (
	ModeNormal Mode = iota
	ModePrompt
)

var errNotLaidOut = errors.New("node not laid out")

type Viewer struct {
	doc     *dom.Document
	session *session.Session
	palette []string
	logger  *zap.Logger

	lines [][]cell
	rects map[*html.Node]dom.Rect

	width      int
	viewHeight int
	scroll     int

	mode          Mode
	prompt        []rune
	selected      int
	statusMessage string

	styleMain    tcell.Style
	styleStatus  tcell.Style
	styleCurrent tcell.Style
}

// New builds a viewer over doc. The viewer is installed as the document
// layout and as the session viewport.
func New(doc *dom.Document, palette []string, logger *zap.Logger, opts ...session.Option) *Viewer {
	if logger == nil {
		logger = zap.NewNop()
	}
	v := &Viewer{
		doc:          doc,
		palette:      palette,
		logger:       logger,
		width:        80,
		viewHeight:   22,
		styleMain:    tcell.StyleDefault,
		styleStatus:  tcell.StyleDefault.Reverse(true),
		styleCurrent: tcell.StyleDefault.Foreground(tcell.ColorWhite).Background(tcell.ColorRed).Bold(true),
	}
	v.relayout()
	doc.SetLayout(v)
	opts = append(opts, session.WithViewport(v), session.WithLogger(logger.Named("session")))
	if len(palette) > 0 {
		opts = append(opts, session.WithPalette(palette))
	}
	v.session = session.New(doc, opts...)
	return v
}

func (v *Viewer) Session() *session.Session { return v.session }

// Rect reports where n was last drawn, in cells.
func (v *Viewer) Rect(n *html.Node) (dom.Rect, bool) {
	r, ok := v.rects[n]
	return r, ok
}

// ScrollIntoView scrolls so that n is on screen, centered when asked.
func (v *Viewer) ScrollIntoView(n *html.Node, opts navigate.ScrollOptions) error {
	r, ok := v.rects[n]
	if !ok {
		return errNotLaidOut
	}
	top := int(r.Top)
	switch {
	case opts.Center:
		v.scroll = top - v.viewHeight/2
	case top < v.scroll:
		v.scroll = top
	case top >= v.scroll+v.viewHeight:
		v.scroll = top - v.viewHeight + 1
	}
	v.clampScroll()
	return nil
}

func (v *Viewer) relayout() {
	v.lines, v.rects = layoutDocument(v.doc, v.width)
	v.clampScroll()
	v.logger.Debug("layout", zap.Int("lines", len(v.lines)), zap.Int("width", v.width))
}

func (v *Viewer) clampScroll() {
	maxScroll := len(v.lines) - v.viewHeight
	if v.scroll > maxScroll {
		v.scroll = maxScroll
	}
	if v.scroll < 0 {
		v.scroll = 0
	}
}

func (v *Viewer) setStatus(msg string) {
	v.statusMessage = msg
}

// AddKeyword adds a search term and redraws the layout.
func (v *Viewer) AddKeyword(term string) {
	if err := v.session.Add(term); err != nil {
		v.setStatus(err.Error())
	} else {
		v.selected = len(v.session.ListKeywords()) - 1
		info, _ := v.session.MatchInfo(strings.TrimSpace(term))
		v.setStatus(fmt.Sprintf("%q: %d matches", strings.TrimSpace(term), info.TotalMatches))
	}
	v.relayout()
}

func (v *Viewer) selectedKeyword() (string, bool) {
	kws := v.session.ListKeywords()
	if len(kws) == 0 {
		return "", false
	}
	if v.selected >= len(kws) || v.selected < 0 {
		v.selected = 0
	}
	return kws[v.selected], true
}

func (v *Viewer) navigate(dir navigate.Direction) {
	kw, ok := v.selectedKeyword()
	if !ok {
		v.setStatus("no keywords")
		return
	}
	info, err := v.session.Navigate(kw, dir)
	if err != nil {
		v.setStatus(fmt.Sprintf("%s: %v", kw, err))
		return
	}
	v.setStatus(fmt.Sprintf("%s %d/%d", kw, info.CurrentIndex+1, info.TotalMatches))
}

// HandleKey processes one key and reports whether the viewer should quit.
func (v *Viewer) HandleKey(ev *tcell.EventKey) bool {
	if v.mode == ModePrompt {
		v.handlePrompt(ev)
		return false
	}
	v.statusMessage = ""

	switch ev.Key() {
	case tcell.KeyCtrlC, tcell.KeyEscape:
		return ev.Key() == tcell.KeyCtrlC
	case tcell.KeyTab:
		if n := len(v.session.ListKeywords()); n > 0 {
			v.selected = (v.selected + 1) % n
		}
		return false
	case tcell.KeyUp:
		v.scroll--
	case tcell.KeyDown:
		v.scroll++
	case tcell.KeyPgUp:
		v.scroll -= v.viewHeight
	case tcell.KeyPgDn:
		v.scroll += v.viewHeight
	case tcell.KeyRune:
		return v.handleRune(ev.Rune())
	}
	v.clampScroll()
	return false
}

func (v *Viewer) handleRune(r rune) bool {
	switch r {
	case 'q':
		return true
	case 'n':
		v.navigate(navigate.Next)
	case 'N':
		v.navigate(navigate.Prev)
	case 'j':
		v.scroll++
	case 'k':
		v.scroll--
	case 'a', '/':
		v.mode = ModePrompt
		v.prompt = v.prompt[:0]
	case 'd':
		if kw, ok := v.selectedKeyword(); ok {
			if err := v.session.RemoveKeyword(kw); err != nil {
				v.setStatus(err.Error())
			}
			v.selected = 0
			v.relayout()
		}
	case 'c':
		if err := v.session.ClearAll(); err != nil {
			v.setStatus(err.Error())
		}
		v.selected = 0
		v.relayout()
	case 't':
		active, err := v.session.ToggleActive()
		if err != nil {
			v.setStatus(err.Error())
		} else if active {
			v.setStatus("highlighting on")
		} else {
			v.setStatus("highlighting off")
		}
		v.relayout()
	}
	v.clampScroll()
	return false
}

func (v *Viewer) handlePrompt(ev *tcell.EventKey) {
	switch ev.Key() {
	case tcell.KeyEscape:
		v.mode = ModeNormal
	case tcell.KeyEnter:
		v.mode = ModeNormal
		v.AddKeyword(string(v.prompt))
	case tcell.KeyBackspace, tcell.KeyBackspace2:
		if len(v.prompt) > 0 {
			v.prompt = v.prompt[:len(v.prompt)-1]
		}
	case tcell.KeyRune:
		v.prompt = append(v.prompt, ev.Rune())
	}
}

// Render draws the document, a status line and a command line.
func (v *Viewer) Render(s tcell.Screen) {
	w, h := s.Size()
	if w <= 0 || h <= 0 {
		return
	}
	viewHeight := h - 2
	if viewHeight < 0 {
		viewHeight = 0
	}
	if w != v.width {
		v.width = w
		v.relayout()
	}
	v.viewHeight = viewHeight
	v.clampScroll()

	s.SetStyle(v.styleMain)
	s.Clear()
	for y := 0; y < viewHeight; y++ {
		idx := v.scroll + y
		if idx >= len(v.lines) {
			break
		}
		for x, c := range v.lines[idx] {
			s.SetContent(x, y, c.r, nil, v.cellStyle(c.node))
		}
	}
	if h >= 2 {
		v.renderStatusline(s, w, h-2)
	}
	v.renderCommandline(s, w, h-1)
	s.Show()
}

func (v *Viewer) cellStyle(n *html.Node) tcell.Style {
	if n == nil {
		return v.styleMain
	}
	el := n
	if n.Type == html.TextNode {
		el = n.Parent
	}
	if el == nil {
		return v.styleMain
	}
	if dom.HasClass(el, highlight.CurrentClass) {
		return v.styleCurrent
	}
	if dom.HasClass(el, highlight.MarkerClass) {
		return tcell.StyleDefault.Foreground(tcell.ColorBlack).Background(v.slotColor(markerSlot(el)))
	}
	if dom.HasClass(el, highlight.FormClass) {
		kw, _ := dom.Attr(el, highlight.KeywordAttr)
		slot, _ := v.session.Slot(kw)
		return tcell.StyleDefault.Underline(true).Foreground(v.slotColor(slot))
	}
	return v.styleMain
}

// markerSlot reads N from the multi-find-highlight-N class.
func markerSlot(el *html.Node) int {
	prefix := highlight.MarkerClass + "-"
	for _, c := range dom.Classes(el) {
		if strings.HasPrefix(c, prefix) {
			if n, err := strconv.Atoi(strings.TrimPrefix(c, prefix)); err == nil {
				return n
			}
		}
	}
	return 0
}

func (v *Viewer) slotColor(slot int) tcell.Color {
	if len(v.palette) == 0 {
		return tcell.ColorYellow
	}
	return tcell.GetColor(v.palette[slot%len(v.palette)])
}

func (v *Viewer) renderStatusline(s tcell.Screen, w, y int) {
	var b strings.Builder
	if v.session.Active() {
		b.WriteString(" ON ")
	} else {
		b.WriteString(" OFF ")
	}
	infos := v.session.AllMatchInfo()
	for i, kw := range v.session.ListKeywords() {
		info := infos[kw]
		label := fmt.Sprintf("%s %d/%d", kw, info.CurrentIndex+1, info.TotalMatches)
		if i == v.selected {
			label = "[" + label + "]"
		}
		b.WriteString(" " + label)
	}
	drawText(s, 0, y, w, b.String(), v.styleStatus)
}

func (v *Viewer) renderCommandline(s tcell.Screen, w, y int) {
	text := " " + v.statusMessage
	if v.mode == ModePrompt {
		text = "add: " + string(v.prompt)
		s.ShowCursor(len([]rune(text)), y)
	} else {
		s.HideCursor()
	}
	drawText(s, 0, y, w, text, v.styleMain)
}

func drawText(s tcell.Screen, x, y, w int, text string, style tcell.Style) {
	col := x
	for _, r := range text {
		if col >= w {
			return
		}
		s.SetContent(col, y, r, nil, style)
		col++
	}
	for ; col < w; col++ {
		s.SetContent(col, y, ' ', nil, style)
	}
}
