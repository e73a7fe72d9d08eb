package session

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/kobzarvs/multifind/internal/dom"
	"github.com/kobzarvs/multifind/internal/highlight"
	"github.com/kobzarvs/multifind/internal/match"
	"github.com/kobzarvs/multifind/internal/navigate"
)

func newSession(t *testing.T, src string, opts ...Option) *Session {
	t.Helper()
	d, err := dom.ParseString(src)
	if err != nil {
		t.Fatalf("ParseString error: %v", err)
	}
	return New(d, opts...)
}

func markerNodes(t *testing.T, s *Session) []*html.Node {
	t.Helper()
	nodes, err := htmlquery.QueryAll(s.Document().Root(), highlight.ClassQuery(highlight.MarkerClass))
	if err != nil {
		t.Fatalf("QueryAll: %v", err)
	}
	return nodes
}

func bodyText(s *Session) string {
	return dom.TextContent(s.Document().Body())
}

func TestCatDogScenario(t *testing.T) {
	s := newSession(t, `<p>cat dog cat</p>`)
	if !s.AddKeyword("cat") {
		t.Fatalf("AddKeyword(cat) rejected")
	}

	info, err := s.MatchInfo("cat")
	if err != nil || info != (Info{CurrentIndex: 0, TotalMatches: 2}) {
		t.Fatalf("MatchInfo = %+v, %v", info, err)
	}
	info, err = s.Navigate("cat", navigate.Next)
	if err != nil || info.CurrentIndex != 1 {
		t.Fatalf("first next = %+v, %v", info, err)
	}
	info, err = s.Navigate("cat", navigate.Next)
	if err != nil || info.CurrentIndex != 0 {
		t.Fatalf("second next = %+v, %v", info, err)
	}
	info, err = s.Navigate("cat", navigate.Prev)
	if err != nil || info.CurrentIndex != 1 {
		t.Fatalf("prev = %+v, %v", info, err)
	}

	s.AddKeyword("dog")
	if got := len(markerNodes(t, s)); got != 3 {
		t.Fatalf("markers after dog = %d", got)
	}
	if info, _ := s.MatchInfo("cat"); info.CurrentIndex != 1 {
		t.Fatalf("cursor not preserved across render: %+v", info)
	}
	current, err := htmlquery.QueryAll(s.Document().Root(), highlight.ClassQuery(highlight.CurrentClass))
	if err != nil || len(current) != 1 {
		t.Fatalf("current flags = %d, %v", len(current), err)
	}
}

func TestAddKeywordRejections(t *testing.T) {
	s := newSession(t, `<p>text</p>`)
	if s.AddKeyword("   ") {
		t.Fatalf("blank keyword accepted")
	}
	if err := s.Add(""); !errors.Is(err, ErrInvalidKeyword) {
		t.Fatalf("Add(\"\") = %v", err)
	}
	if !s.AddKeyword("  Text ") {
		t.Fatalf("trimmed keyword rejected")
	}
	if s.AddKeyword("TEXT") {
		t.Fatalf("case-insensitive duplicate accepted")
	}
	if got := s.ListKeywords(); len(got) != 1 || got[0] != "Text" {
		t.Fatalf("keywords = %v", got)
	}
	if _, ok := s.Snapshot(); !ok {
		t.Fatalf("snapshot not taken on first render")
	}
}

func TestCapacity(t *testing.T) {
	s := newSession(t, `<p>a b c d e f g h i</p>`)
	for i := 0; i < DefaultCapacity; i++ {
		if !s.AddKeyword(fmt.Sprintf("k%d", i)) {
			t.Fatalf("keyword %d rejected", i)
		}
	}
	before := s.Document().String()
	if s.AddKeyword("ninth") {
		t.Fatalf("ninth keyword accepted")
	}
	if err := s.Add("ninth"); !errors.Is(err, ErrCapacityExceeded) {
		t.Fatalf("Add at capacity = %v", err)
	}
	if len(s.ListKeywords()) != DefaultCapacity {
		t.Fatalf("keyword count = %d", len(s.ListKeywords()))
	}
	if s.Document().String() != before {
		t.Fatalf("rejected add touched the document")
	}

	small := newSession(t, `<p>x</p>`, WithCapacity(1))
	small.AddKeyword("x")
	if small.AddKeyword("y") {
		t.Fatalf("custom capacity ignored")
	}
}

func TestSlotAllocationAndReuse(t *testing.T) {
	s := newSession(t, `<p>a b c</p>`, WithPalette([]string{"red", "green"}))
	for _, k := range []string{"a", "b", "c"} {
		s.AddKeyword(k)
	}
	for i, k := range []string{"a", "b", "c"} {
		if slot, _ := s.Slot(k); slot != i {
			t.Fatalf("slot(%s) = %d, want %d", k, slot, i)
		}
	}
	if c, _ := s.Color("c"); c != "red" {
		t.Fatalf("color wraps palette: got %q", c)
	}

	if err := s.RemoveKeyword("b"); err != nil {
		t.Fatalf("RemoveKeyword: %v", err)
	}
	s.AddKeyword("d")
	if slot, _ := s.Slot("d"); slot != 1 {
		t.Fatalf("freed slot not reused: %d", slot)
	}
	if c, _ := s.Color("d"); c != "green" {
		t.Fatalf("color(d) = %q", c)
	}

	for _, n := range markerNodes(t, s) {
		if dom.TextContent(n) == "d" && !dom.HasClass(n, highlight.SlotClass(1)) {
			t.Fatalf("marker for d lacks slot class")
		}
	}
}

func TestRemoveUnknownKeyword(t *testing.T) {
	s := newSession(t, `<p>cat</p>`)
	s.AddKeyword("cat")
	before := s.Document().String()
	if err := s.RemoveKeyword("dog"); !errors.Is(err, ErrUnknownKeyword) {
		t.Fatalf("RemoveKeyword(dog) = %v", err)
	}
	if s.Document().String() != before || len(s.ListKeywords()) != 1 {
		t.Fatalf("state changed after failed remove")
	}
	if _, err := s.Navigate("dog", navigate.Next); !errors.Is(err, ErrUnknownKeyword) {
		t.Fatalf("Navigate(dog) = %v", err)
	}
	if _, err := s.MatchInfo("dog"); !errors.Is(err, ErrUnknownKeyword) {
		t.Fatalf("MatchInfo(dog) = %v", err)
	}
}

func TestRestoreMatchesSnapshotText(t *testing.T) {
	src := `<html><head></head><body><div><p>alpha beta</p><p>beta gamma alpha</p></div></body></html>`
	s := newSession(t, src)
	original := s.Document().String()
	text := bodyText(s)

	s.AddKeyword("alpha")
	s.AddKeyword("beta")
	if bodyText(s) != text {
		t.Fatalf("highlighting changed text content")
	}

	if err := s.RestoreOriginalContent(); err != nil {
		t.Fatalf("RestoreOriginalContent: %v", err)
	}
	snap, _ := s.Snapshot()
	body, _ := dom.InnerHTML(s.Document().Body())
	if body != snap {
		t.Fatalf("restored body differs from snapshot:\n%s\n%s", body, snap)
	}
	if s.Document().String() != original {
		t.Fatalf("document not restored")
	}
	if len(s.ListKeywords()) != 2 {
		t.Fatalf("restore dropped keywords")
	}
}

func TestRenderIdempotent(t *testing.T) {
	s := newSession(t, `<p>one two one</p><p>two</p>`)
	s.AddKeyword("one")
	s.AddKeyword("two")
	first := s.Document().String()
	for i := 0; i < 3; i++ {
		if err := s.Render(); err != nil {
			t.Fatalf("Render: %v", err)
		}
	}
	if s.Document().String() != first {
		t.Fatalf("repeated render changed the document")
	}
	if got := len(markerNodes(t, s)); got != 4 {
		t.Fatalf("markers = %d, want 4", got)
	}
	if strings.Count(s.Document().String(), `id="multi-find-styles"`) != 1 {
		t.Fatalf("stylesheet duplicated")
	}
}

func TestNavigationCircular(t *testing.T) {
	s := newSession(t, `<p>x x x x x</p>`)
	s.AddKeyword("x")
	start, _ := s.MatchInfo("x")
	for i := 0; i < start.TotalMatches; i++ {
		if _, err := s.Navigate("x", navigate.Next); err != nil {
			t.Fatalf("Navigate: %v", err)
		}
	}
	if end, _ := s.MatchInfo("x"); end.CurrentIndex != start.CurrentIndex {
		t.Fatalf("next x n = %d, want %d", end.CurrentIndex, start.CurrentIndex)
	}
	for i := 0; i < start.TotalMatches; i++ {
		s.Navigate("x", navigate.Prev)
	}
	if end, _ := s.MatchInfo("x"); end.CurrentIndex != start.CurrentIndex {
		t.Fatalf("prev x n = %d", end.CurrentIndex)
	}
}

func TestNavigateNoMatches(t *testing.T) {
	s := newSession(t, `<p>nothing here</p>`)
	s.AddKeyword("absent")
	info, err := s.Navigate("absent", navigate.Next)
	if !errors.Is(err, ErrNoMatches) {
		t.Fatalf("Navigate = %v", err)
	}
	if info != (Info{CurrentIndex: -1, TotalMatches: 0}) {
		t.Fatalf("info = %+v", info)
	}
}

func TestFormInputMatch(t *testing.T) {
	s := newSession(t, `<body><input id="q" type="text" value="search term"></body>`)
	s.AddKeyword("term")

	markers := s.Markers("term")
	if len(markers) != 1 || markers[0].Kind != match.FormValue {
		t.Fatalf("markers = %#v", markers)
	}
	input := s.Document().Node(markers[0].Handle)
	if !dom.HasClass(input, highlight.FormClass) {
		t.Fatalf("form class missing")
	}
	if v, _ := dom.Attr(input, "value"); v != "search term" {
		t.Fatalf("value mutated: %q", v)
	}
	if len(markerNodes(t, s)) != 0 {
		t.Fatalf("form match produced a span")
	}
}

func TestToggleActive(t *testing.T) {
	s := newSession(t, `<p>cat</p>`)
	s.AddKeyword("cat")
	color, _ := s.Color("cat")

	active, err := s.ToggleActive()
	if err != nil || active {
		t.Fatalf("ToggleActive = %v, %v", active, err)
	}
	if len(markerNodes(t, s)) != 0 {
		t.Fatalf("markers left after deactivation")
	}
	s.AddKeyword("dog")
	if len(markerNodes(t, s)) != 0 {
		t.Fatalf("inactive session rendered")
	}
	if c, _ := s.Color("cat"); c != color {
		t.Fatalf("color changed while inactive")
	}

	if active, _ = s.ToggleActive(); !active {
		t.Fatalf("reactivation failed")
	}
	if len(markerNodes(t, s)) != 1 {
		t.Fatalf("markers after reactivation = %d", len(markerNodes(t, s)))
	}
}

func TestStartInactive(t *testing.T) {
	s := newSession(t, `<p>cat</p>`, WithActive(false))
	s.AddKeyword("cat")
	if s.Active() || len(markerNodes(t, s)) != 0 {
		t.Fatalf("inactive session rendered")
	}
	if _, ok := s.Snapshot(); ok {
		t.Fatalf("snapshot taken while inactive")
	}
}

func TestClearAll(t *testing.T) {
	s := newSession(t, `<p>cat dog</p>`)
	original := s.Document().String()
	s.AddKeyword("cat")
	s.AddKeyword("dog")

	if err := s.ClearAll(); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	if len(s.ListKeywords()) != 0 || len(s.AllMatchInfo()) != 0 {
		t.Fatalf("keywords left after ClearAll")
	}
	if s.Document().String() != original {
		t.Fatalf("document not restored")
	}
	if _, ok := s.Snapshot(); ok {
		t.Fatalf("snapshot kept after ClearAll")
	}
	s.AddKeyword("dog")
	if slot, _ := s.Slot("dog"); slot != 0 {
		t.Fatalf("slots not reset: %d", slot)
	}
}

func TestRemoveLastKeywordDropsSnapshot(t *testing.T) {
	s := newSession(t, `<p>cat</p>`)
	s.AddKeyword("cat")
	if err := s.RemoveKeyword("CAT"); err != nil {
		t.Fatalf("RemoveKeyword: %v", err)
	}
	if _, ok := s.Snapshot(); ok {
		t.Fatalf("snapshot kept with no keywords")
	}
	if len(markerNodes(t, s)) != 0 {
		t.Fatalf("markers left")
	}
}

func TestHiddenByStructuralRulesNotMatched(t *testing.T) {
	pages := []string{
		`<style>p:first-child{display:none}</style><div><p>cat</p></div>`,
		`<style>h1 + p{display:none}</style><h1>x</h1><p>cat</p>`,
		`<style>.box:not(.open){visibility:hidden}</style><div class="box">cat</div>`,
	}
	for _, src := range pages {
		s := newSession(t, src)
		if !s.AddKeyword("cat") {
			t.Fatalf("AddKeyword rejected for %s", src)
		}
		info, err := s.MatchInfo("cat")
		if err != nil || info.TotalMatches != 0 {
			t.Fatalf("%s: info = %+v, %v; want no matches", src, info, err)
		}
	}
}
