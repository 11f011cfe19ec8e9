// Package titlefilter decides whether an announcement title belongs to a
// requested period class.
package titlefilter

import (
	"strings"
	"unicode"

	"github.com/hyperifyio/goharvest/internal/filing"
)

// Rules is the frozen pattern configuration. Build it once with Default (or
// New) and share the pointer; nothing mutates it after construction.
type Rules struct {
	junk    map[string]struct{}
	markers map[filing.PeriodClass][]string
	masks   map[filing.PeriodClass][]string
}

// JunkTitles are rejected only on an exact match of the whitespace-stripped title.
var JunkTitles = []string{"英文版", "H股公告", "境外上市外文版"}

// Markers are the per-period substrings a title must contain.
var Markers = map[filing.PeriodClass][]string{
	filing.Semiannual: {"半年报", "半年度报告", "中期报告"},
	filing.Quarterly:  {"季度报告", "季报"},
	filing.Annual:     {"年度报告", "年报"},
}

// Masks are removed from the title before a period's markers are matched.
// The annual markers are substrings of semiannual ones ("半年度报告"
// contains "年度报告"), so only a marker outside them counts.
var Masks = map[filing.PeriodClass][]string{
	filing.Annual: {"半年度报告", "半年报"},
}

// New freezes copies of the given tables.
func New(junk []string, markers, masks map[filing.PeriodClass][]string) *Rules {
	r := &Rules{
		junk:    make(map[string]struct{}, len(junk)),
		markers: make(map[filing.PeriodClass][]string, len(markers)),
		masks:   make(map[filing.PeriodClass][]string, len(masks)),
	}
	for _, j := range junk {
		r.junk[j] = struct{}{}
	}
	for p, m := range markers {
		r.markers[p] = append([]string(nil), m...)
	}
	for p, m := range masks {
		r.masks[p] = append([]string(nil), m...)
	}
	return r
}

var defaultRules = New(JunkTitles, Markers, Masks)

// Default returns the shared rules built from the package tables.
func Default() *Rules { return defaultRules }

// IsRelevant reports whether title is an in-scope filing for period. When
// keywords is non-empty the original title must also contain one of them.
func (r *Rules) IsRelevant(title string, period filing.PeriodClass, keywords []string) bool {
	clean := stripSpace(title)
	if _, junk := r.junk[clean]; junk {
		return false
	}
	masked := clean
	for _, m := range r.masks[period] {
		if m != "" {
			masked = strings.ReplaceAll(masked, m, "")
		}
	}
	if !containsAny(masked, r.markers[period]) {
		return false
	}
	if len(keywords) > 0 && !containsAny(title, keywords) {
		return false
	}
	return true
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if n != "" && strings.Contains(s, n) {
			return true
		}
	}
	return false
}
