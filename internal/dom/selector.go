package dom

import (
	"strings"

	"github.com/andybalholm/cascadia"
)

// dynamicPseudo lists pseudo-classes that depend on user interaction. They
// never hold on a static tree, so rules using them are dropped.
var dynamicPseudo = []string{
	":hover", ":focus", ":active", ":visited", ":target",
}

// compileSelector compiles one selector of a rule set. Pseudo-elements and
// interaction-dependent pseudo-classes are rejected, as is anything cascadia
// cannot parse.
func compileSelector(raw string) (cascadia.Sel, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}
	lower := strings.ToLower(raw)
	if strings.Contains(lower, "::") {
		return nil, false
	}
	for _, p := range dynamicPseudo {
		if strings.Contains(lower, p) {
			return nil, false
		}
	}
	sel, err := cascadia.Parse(raw)
	if err != nil {
		return nil, false
	}
	return sel, true
}
