package harvest

import (
	"context"
	"errors"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hyperifyio/goharvest/internal/extract"
	"github.com/hyperifyio/goharvest/internal/filing"
)

// DocumentRetriever fetches raw document bytes and their content type.
type DocumentRetriever interface {
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

// Document is the extracted text of one filing. Err is set when retrieval or
// extraction failed; the rest of the batch is unaffected.
type Document struct {
	Filing filing.Filing `json:"filing"`
	Kind   extract.Kind  `json:"kind,omitempty"`
	Text   string        `json:"text,omitempty"`
	Err    error         `json:"-"`
	Error  string        `json:"error,omitempty"`
}

// ExtractOptions controls ExtractDocuments.
type ExtractOptions struct {
	IncludeTables bool
	// Workers bounds parallel document fetches. Zero means one.
	Workers int
	// MaxChars truncates each text to this many runes. Zero disables.
	MaxChars int
}

// Pipeline is the entry point used by callers: metadata collection plus
// optional full-text extraction.
type Pipeline struct {
	Fetcher   *Fetcher
	Retriever DocumentRetriever
	// Extractor defaults to extract.Default.
	Extractor extract.Extractor
}

// CollectFilings runs one harvest.
func (p *Pipeline) CollectFilings(ctx context.Context, req Request) (Result, error) {
	if p.Fetcher == nil {
		return Result{}, errors.New("pipeline: no fetcher configured")
	}
	return p.Fetcher.Collect(ctx, req)
}

// ExtractDocuments retrieves and extracts each filing's document. Results keep
// input order. On cancellation the documents finished so far are returned
// together with the context error.
func (p *Pipeline) ExtractDocuments(ctx context.Context, filings []filing.Filing, opt ExtractOptions) ([]Document, error) {
	if p.Retriever == nil {
		return nil, errors.New("pipeline: no document retriever configured")
	}
	ex := p.Extractor
	if ex == nil {
		ex = extract.Default{}
	}
	workers := opt.Workers
	if workers <= 0 {
		workers = 1
	}
	logger := zerolog.Ctx(ctx)

	docs := make([]Document, len(filings))
	done := make([]bool, len(filings))
	g := new(errgroup.Group)
	g.SetLimit(workers)
	for i, f := range filings {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			d := p.one(ctx, ex, f, opt)
			if ctx.Err() != nil {
				return nil
			}
			if d.Err != nil {
				logger.Warn().Err(d.Err).Str("url", f.DocumentURL).Msg("document skipped")
			}
			docs[i] = d
			done[i] = true
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Document, 0, len(docs))
	for i, d := range docs {
		if done[i] {
			out = append(out, d)
		}
	}
	return out, ctx.Err()
}

func (p *Pipeline) one(ctx context.Context, ex extract.Extractor, f filing.Filing, opt ExtractOptions) Document {
	d := Document{Filing: f}
	body, contentType, err := p.Retriever.Fetch(ctx, f.DocumentURL)
	if err != nil {
		return d.fail(err)
	}
	d.Kind = extract.DetectKind(f.DocumentURL, contentType, body)
	text, err := ex.Extract(body, d.Kind, opt.IncludeTables)
	if err != nil {
		return d.fail(err)
	}
	d.Text = truncateRunes(text, opt.MaxChars)
	return d
}

func (d Document) fail(err error) Document {
	d.Err = err
	d.Error = err.Error()
	return d
}

func truncateRunes(s string, max int) string {
	if max <= 0 || utf8.RuneCountInString(s) <= max {
		return s
	}
	n := 0
	for i := range s {
		if n == max {
			return s[:i]
		}
		n++
	}
	return s
}
