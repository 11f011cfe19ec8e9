// Package filing holds the data model shared by the harvest pipeline: period
// classes and their provider category codes, exchange tags, page queries,
// harvest limits and the Filing value itself.
package filing

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DocumentBase is the host prefix that provider adjunct paths are appended to.
const DocumentBase = "https://static.cninfo.com.cn/"

// PeriodClass is the reporting cycle a filing belongs to.
type PeriodClass string

const (
	Quarterly  PeriodClass = "quarterly"
	Semiannual PeriodClass = "semiannual"
	Annual     PeriodClass = "annual"
)

// categories maps each period class to the provider category codes queried
// for it. The table must match the provider exactly.
var categories = map[PeriodClass][]string{
	Quarterly:  {"category_sjdbg_szsh"},
	Semiannual: {"category_bndbg_szsh"},
	Annual:     {"category_ndbg_szsh"},
}

// Categories returns a copy of the category codes for p, or nil when p is
// not a known period class.
func Categories(p PeriodClass) []string {
	c, ok := categories[p]
	if !ok {
		return nil
	}
	return append([]string(nil), c...)
}

// Valid reports whether p is one of the known period classes.
func (p PeriodClass) Valid() bool {
	_, ok := categories[p]
	return ok
}

// ParsePeriodClass parses a period class name case-insensitively.
func ParsePeriodClass(s string) (PeriodClass, error) {
	p := PeriodClass(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown period class %q", s)
	}
	return p, nil
}

// ParsePeriodClasses parses a comma-separated list, dropping duplicates while
// keeping first-seen order.
func ParsePeriodClasses(s string) ([]PeriodClass, error) {
	var out []PeriodClass
	seen := map[PeriodClass]bool{}
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		p, err := ParsePeriodClass(part)
		if err != nil {
			return nil, err
		}
		if seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out, nil
}

// Exchange identifies one of the venues queried independently.
type Exchange string

const (
	SZSE Exchange = "szse"
	SSE  Exchange = "sse"
)

// Exchanges lists the venues in query order.
var Exchanges = []Exchange{SZSE, SSE}

// Limits bounds a harvest run.
type Limits struct {
	PageSize          int
	MaxPagesPerStream int
	MaxTotal          int
}

// Validate rejects non-positive limits.
func (l Limits) Validate() error {
	if l.PageSize <= 0 {
		return errors.New("page size must be positive")
	}
	if l.MaxPagesPerStream <= 0 {
		return errors.New("max pages per stream must be positive")
	}
	if l.MaxTotal <= 0 {
		return errors.New("max total filings must be positive")
	}
	return nil
}

// Unbounded is the date range spelling that disables date scoping.
const Unbounded = "unbounded"

const dateLayout = "2006-01-02"

// NormalizeDateRange validates a "YYYY-MM-DD~YYYY-MM-DD" range and returns the
// value sent as seDate. Empty and "unbounded" both map to "".
func NormalizeDateRange(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, Unbounded) {
		return "", nil
	}
	from, to, ok := strings.Cut(s, "~")
	if !ok {
		return "", fmt.Errorf("date range %q: expected from~to", s)
	}
	f, err := time.Parse(dateLayout, strings.TrimSpace(from))
	if err != nil {
		return "", fmt.Errorf("date range %q: %w", s, err)
	}
	t, err := time.Parse(dateLayout, strings.TrimSpace(to))
	if err != nil {
		return "", fmt.Errorf("date range %q: %w", s, err)
	}
	if t.Before(f) {
		return "", fmt.Errorf("date range %q: end before start", s)
	}
	return f.Format(dateLayout) + "~" + t.Format(dateLayout), nil
}

// PageQuery is one request sent to the provider transport.
type PageQuery struct {
	PageNum   int
	PageSize  int
	Exchange  Exchange
	Category  string
	DateRange string
	SortName  string
	SortType  string
}

// Record is a provider result row after the response shape has been
// normalized. Only Title and AdjunctURL are required.
type Record struct {
	Title            string
	AdjunctURL       string
	SecCode          string
	SecName          string
	AnnouncementTime int64 // epoch milliseconds, 0 when absent
}

// Filing is one accepted announcement. It is never mutated once built.
type Filing struct {
	Title       string      `json:"title"`
	DocumentURL string      `json:"pdf_url"`
	SourcePath  string      `json:"url_path"`
	Exchange    Exchange    `json:"column"`
	Category    string      `json:"category"`
	Period      PeriodClass `json:"period"`
	Code        string      `json:"sec_code,omitempty"`
	Company     string      `json:"sec_name,omitempty"`
	PublishedAt *time.Time  `json:"published_at,omitempty"`
}

// New builds a Filing from a record. The document URL is base+path with no
// slash normalization.
func New(base string, rec Record, ex Exchange, period PeriodClass, category string) Filing {
	f := Filing{
		Title:       rec.Title,
		DocumentURL: base + rec.AdjunctURL,
		SourcePath:  rec.AdjunctURL,
		Exchange:    ex,
		Category:    category,
		Period:      period,
		Code:        rec.SecCode,
		Company:     rec.SecName,
	}
	if rec.AnnouncementTime > 0 {
		t := time.UnixMilli(rec.AnnouncementTime).UTC()
		f.PublishedAt = &t
	}
	return f
}
