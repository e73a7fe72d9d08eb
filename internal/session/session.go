// Package session holds the keyword set of one document and drives render
// passes over it. A Session is not safe for concurrent use.
package session

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kobzarvs/multifind/internal/config"
	"github.com/kobzarvs/multifind/internal/dom"
	"github.com/kobzarvs/multifind/internal/highlight"
	"github.com/kobzarvs/multifind/internal/match"
	"github.com/kobzarvs/multifind/internal/navigate"
	"github.com/kobzarvs/multifind/internal/order"
)

var (
	ErrInvalidKeyword   = errors.New("keyword is empty")
	ErrDuplicateKeyword = errors.New("keyword already tracked")
	ErrCapacityExceeded = errors.New("keyword capacity reached")
	ErrUnknownKeyword   = errors.New("keyword not tracked")
	ErrNoMatches        = navigate.ErrNoMatches
)

const DefaultCapacity = 8

// Info is the navigation state reported for one keyword. CurrentIndex is
// -1 until the keyword has matches.
type Info struct {
	CurrentIndex int `json:"currentIndex"`
	TotalMatches int `json:"totalMatches"`
}

type entry struct {
	term    string
	slot    int
	rank    int
	cursor  int
	markers []highlight.Marker
}

type Session struct {
	doc      *dom.Document
	palette  []string
	capacity int
	active   bool
	logger   *zap.Logger
	viewport navigate.Viewport

	entries  []*entry
	nextRank int
	current  string

	snapshot    string
	hasSnapshot bool

	renderer *highlight.Renderer
	nav      *navigate.Controller
}

type Option func(*Session)

func WithPalette(p []string) Option {
	return func(s *Session) {
		if len(p) > 0 {
			s.palette = append([]string(nil), p...)
		}
	}
}

func WithCapacity(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.capacity = n
		}
	}
}

func WithViewport(v navigate.Viewport) Option {
	return func(s *Session) { s.viewport = v }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithActive sets the initial activation state; sessions start active.
func WithActive(active bool) Option {
	return func(s *Session) { s.active = active }
}

// FromConfig maps the [highlight] section onto session options.
func FromConfig(h config.HighlightOptions) []Option {
	return []Option{
		WithPalette(h.Palette),
		WithCapacity(h.MaxKeywords),
		WithActive(h.Active()),
	}
}

func New(doc *dom.Document, opts ...Option) *Session {
	s := &Session{
		doc:      doc,
		palette:  append([]string(nil), config.DefaultPalette...),
		capacity: DefaultCapacity,
		active:   true,
		logger:   zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	s.renderer = highlight.New(doc, s.palette, s.logger.Named("highlight"))
	s.nav = navigate.New(doc, s.viewport, s.logger.Named("navigate"))
	return s
}

func (s *Session) Document() *dom.Document { return s.doc }

func (s *Session) Active() bool { return s.active }

func (s *Session) find(term string) (int, *entry) {
	term = strings.TrimSpace(term)
	for i, e := range s.entries {
		if strings.EqualFold(e.term, term) {
			return i, e
		}
	}
	return -1, nil
}

func (s *Session) freeSlot() int {
	used := make(map[int]bool, len(s.entries))
	for _, e := range s.entries {
		used[e.slot] = true
	}
	slot := 0
	for used[slot] {
		slot++
	}
	return slot
}

// Add tracks term and re-renders. Blank, duplicate (case-insensitive) and
// over-capacity terms are rejected without touching state.
func (s *Session) Add(term string) error {
	term = strings.TrimSpace(term)
	switch {
	case term == "":
		return ErrInvalidKeyword
	case len(s.entries) >= s.capacity:
		return ErrCapacityExceeded
	}
	if _, e := s.find(term); e != nil {
		return ErrDuplicateKeyword
	}

	s.entries = append(s.entries, &entry{
		term:   term,
		slot:   s.freeSlot(),
		rank:   s.nextRank,
		cursor: navigate.Unset,
	})
	s.nextRank++
	s.logger.Debug("keyword added", zap.String("keyword", term), zap.Int("active", len(s.entries)))
	return s.Render()
}

// AddKeyword is Add for callers that only care whether the term was taken.
func (s *Session) AddKeyword(term string) bool {
	if err := s.Add(term); err != nil {
		if errors.Is(err, ErrInvalidKeyword) || errors.Is(err, ErrDuplicateKeyword) || errors.Is(err, ErrCapacityExceeded) {
			s.logger.Debug("keyword ignored", zap.String("keyword", term), zap.Error(err))
			return false
		}
		s.logger.Warn("render after add failed", zap.Error(err))
	}
	return true
}

// RemoveKeyword stops tracking term and frees its color slot.
func (s *Session) RemoveKeyword(term string) error {
	i, e := s.find(term)
	if e == nil {
		return fmt.Errorf("%w: %q", ErrUnknownKeyword, term)
	}
	s.entries = append(s.entries[:i], s.entries[i+1:]...)
	if strings.EqualFold(s.current, e.term) {
		s.current = ""
	}
	if len(s.entries) == 0 {
		return s.reset()
	}
	return s.Render()
}

// ClearAll drops every keyword and restores the document.
func (s *Session) ClearAll() error {
	s.entries = nil
	s.nextRank = 0
	s.current = ""
	return s.reset()
}

func (s *Session) reset() error {
	err := s.restore()
	s.snapshot, s.hasSnapshot = "", false
	return err
}

// ToggleActive flips the active flag. Deactivating restores the document but
// keeps keywords and colors; reactivating renders them again.
func (s *Session) ToggleActive() (bool, error) {
	s.active = !s.active
	if s.active {
		return true, s.Render()
	}
	return false, s.restore()
}

// RestoreOriginalContent removes every highlight. Keywords stay tracked.
func (s *Session) RestoreOriginalContent() error {
	return s.restore()
}

func (s *Session) restore() error {
	err := s.renderer.Restore(s.snapshot)
	for _, e := range s.entries {
		e.markers = nil
	}
	s.doc.ResetHandles()
	if err != nil {
		return fmt.Errorf("session: restore: %w", err)
	}
	return nil
}

// Render runs a full pass: clear, match every keyword, order, highlight and
// reconcile cursors. Inactive or empty sessions only make sure the
// document is clean.
func (s *Session) Render() error {
	if !s.active {
		return nil
	}
	if len(s.entries) == 0 {
		return s.restore()
	}
	if err := s.restore(); err != nil {
		s.logger.Warn("clear before render failed", zap.Error(err))
	}

	if !s.hasSnapshot {
		snap, err := dom.InnerHTML(s.doc.Body())
		if err != nil {
			return fmt.Errorf("session: snapshot: %w", err)
		}
		s.snapshot, s.hasSnapshot = snap, true
	}

	m := match.New(s.doc, s.logger.Named("match"))
	slots := make(map[string]int, len(s.entries))
	var descs []match.Descriptor
	for _, e := range s.entries {
		slots[e.term] = e.slot
		descs = append(descs, m.Find(e.term, e.rank)...)
	}
	order.Sort(s.doc, descs)
	markers := s.renderer.Apply(descs, slots)

	total := 0
	for _, e := range s.entries {
		e.markers = markers[e.term]
		e.cursor = navigate.Reconcile(e.cursor, len(e.markers))
		total += len(e.markers)
	}
	s.markCurrent()
	s.logger.Debug("render pass", zap.Int("keywords", len(s.entries)), zap.Int("markers", total))
	return nil
}

// markCurrent puts the current-match flag back on the last navigated
// keyword's cursor after a re-render, without scrolling.
func (s *Session) markCurrent() {
	if s.current == "" {
		return
	}
	_, e := s.find(s.current)
	if e == nil || e.cursor == navigate.Unset {
		return
	}
	if n := s.doc.Node(e.markers[e.cursor].Handle); n != nil {
		dom.AddClass(n, highlight.CurrentClass)
	}
}

// Navigate moves the cursor of term one match in dir.
func (s *Session) Navigate(term string, dir navigate.Direction) (Info, error) {
	_, e := s.find(term)
	if e == nil {
		return Info{}, fmt.Errorf("%w: %q", ErrUnknownKeyword, term)
	}
	cursor, err := s.nav.Navigate(e.markers, e.cursor, dir)
	if err != nil {
		return s.info(e), err
	}
	e.cursor = cursor
	s.current = e.term
	return s.info(e), nil
}

func (s *Session) info(e *entry) Info {
	if len(e.markers) == 0 {
		return Info{CurrentIndex: navigate.Unset}
	}
	return Info{CurrentIndex: e.cursor, TotalMatches: len(e.markers)}
}

func (s *Session) MatchInfo(term string) (Info, error) {
	_, e := s.find(term)
	if e == nil {
		return Info{}, fmt.Errorf("%w: %q", ErrUnknownKeyword, term)
	}
	return s.info(e), nil
}

func (s *Session) AllMatchInfo() map[string]Info {
	out := make(map[string]Info, len(s.entries))
	for _, e := range s.entries {
		out[e.term] = s.info(e)
	}
	return out
}

// ListKeywords returns tracked terms in insertion order.
func (s *Session) ListKeywords() []string {
	out := make([]string, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.term)
	}
	return out
}

func (s *Session) Slot(term string) (int, bool) {
	_, e := s.find(term)
	if e == nil {
		return 0, false
	}
	return e.slot, true
}

func (s *Session) Color(term string) (string, bool) {
	slot, ok := s.Slot(term)
	if !ok {
		return "", false
	}
	return s.palette[slot%len(s.palette)], true
}

// Markers returns the markers of term from the last render pass.
func (s *Session) Markers(term string) []highlight.Marker {
	_, e := s.find(term)
	if e == nil {
		return nil
	}
	return append([]highlight.Marker(nil), e.markers...)
}

// Snapshot returns the body markup captured before the first highlight.
func (s *Session) Snapshot() (string, bool) {
	return s.snapshot, s.hasSnapshot
}
