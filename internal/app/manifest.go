package app

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
	"unicode/utf8"

	"github.com/tidwall/pretty"

	"github.com/hyperifyio/goharvest/internal/filing"
	"github.com/hyperifyio/goharvest/internal/harvest"
)

// runMeta captures run details that aid reproducibility.
type runMeta struct {
	RunID       string    `json:"run_id"`
	Version     string    `json:"version"`
	Periods     string    `json:"periods"`
	DateRange   string    `json:"date_range"`
	PageSize    int       `json:"page_size"`
	MaxPages    int       `json:"max_pages"`
	MaxTotal    int       `json:"max_total"`
	Keywords    []string  `json:"keywords,omitempty"`
	DocCache    bool      `json:"doc_cache"`
	Cancelled   bool      `json:"cancelled,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

type streamEntry struct {
	harvest.Stream
	Pages    int    `json:"pages"`
	Records  int    `json:"records"`
	Accepted int    `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// documentEntry is one extracted document with a digest of the exact text.
type documentEntry struct {
	URL    string `json:"pdf_url"`
	Title  string `json:"title"`
	Kind   string `json:"kind,omitempty"`
	SHA256 string `json:"sha256,omitempty"`
	Chars  int    `json:"chars"`
	Text   string `json:"text,omitempty"`
	Error  string `json:"error,omitempty"`
}

// report is the JSON document written at the end of a run.
type report struct {
	Meta       runMeta                 `json:"meta"`
	Total      int                     `json:"total"`
	ByExchange map[filing.Exchange]int `json:"by_exchange"`
	Streams    []streamEntry           `json:"streams"`
	Filings    []filing.Filing         `json:"filings"`
	Documents  []documentEntry         `json:"documents,omitempty"`
}

func computeSHA256Hex(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

func buildStreamEntries(stats []harvest.StreamStat) []streamEntry {
	out := make([]streamEntry, 0, len(stats))
	for _, st := range stats {
		e := streamEntry{Stream: st.Stream, Pages: st.Pages, Records: st.Records, Accepted: st.Accepted}
		if st.Err != nil {
			e.Error = st.Err.Error()
		}
		out = append(out, e)
	}
	return out
}

func buildDocumentEntries(docs []harvest.Document) []documentEntry {
	out := make([]documentEntry, 0, len(docs))
	for _, d := range docs {
		e := documentEntry{
			URL:   d.Filing.DocumentURL,
			Title: d.Filing.Title,
			Kind:  string(d.Kind),
			Chars: utf8.RuneCountInString(d.Text),
			Text:  d.Text,
			Error: d.Error,
		}
		if d.Err == nil {
			e.SHA256 = computeSHA256Hex(d.Text)
		}
		out = append(out, e)
	}
	return out
}

// encodeReport marshals r, indented when prettyOut is set, with a trailing
// newline.
func encodeReport(r report, prettyOut bool) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	if prettyOut {
		return pretty.Pretty(b), nil
	}
	return append(b, '\n'), nil
}
