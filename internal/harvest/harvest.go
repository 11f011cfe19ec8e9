// Package harvest drives paginated announcement queries across exchanges and
// categories and assembles the deduplicated, filtered, capped result.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/hyperifyio/goharvest/internal/dedup"
	"github.com/hyperifyio/goharvest/internal/filing"
	"github.com/hyperifyio/goharvest/internal/titlefilter"
)

// ErrInvalidRequest wraps every reason a request cannot start.
var ErrInvalidRequest = errors.New("invalid harvest request")

// Transport issues one page query. Implementations must not retry.
type Transport interface {
	Query(ctx context.Context, q filing.PageQuery) ([]filing.Record, error)
}

// Request is one harvest run's input.
type Request struct {
	Periods   []filing.PeriodClass
	Limits    filing.Limits
	DateRange string
	Keywords  []string
}

// Stream is one (exchange, category) pagination sequence for a period class.
type Stream struct {
	Period   filing.PeriodClass `json:"period"`
	Exchange filing.Exchange    `json:"exchange"`
	Category string             `json:"category"`
}

// StreamStat reports what happened on one stream.
type StreamStat struct {
	Stream
	Pages    int   `json:"pages"`
	Records  int   `json:"records"`
	Accepted int   `json:"accepted"`
	Err      error `json:"-"`
}

// Result is the bounded output of Collect. It is returned even when the run
// was cancelled part way.
type Result struct {
	Filings    []filing.Filing
	ByExchange map[filing.Exchange]int
	Streams    []StreamStat
}

// Streams expands period classes into stream descriptors in
// (period, exchange, category) order.
func Streams(periods []filing.PeriodClass) []Stream {
	var out []Stream
	for _, p := range periods {
		cats := filing.Categories(p)
		for _, ex := range filing.Exchanges {
			for _, c := range cats {
				out = append(out, Stream{Period: p, Exchange: ex, Category: c})
			}
		}
	}
	return out
}

// Fetcher runs harvests against a Transport.
type Fetcher struct {
	Transport Transport
	// Rules defaults to titlefilter.Default().
	Rules *titlefilter.Rules
	// DocumentBase defaults to filing.DocumentBase.
	DocumentBase string
	// Concurrency > 1 runs that many streams in parallel. Output order is
	// still stream order, but which streams fill the cap first is not fixed.
	Concurrency int
}

// Collect runs one harvest. It returns an error without a result only when the
// request is invalid. On cancellation it returns the partial result together
// with the context error.
func (f *Fetcher) Collect(ctx context.Context, req Request) (Result, error) {
	periods, seDate, err := f.validate(req)
	if err != nil {
		return Result{}, err
	}
	streams := Streams(periods)
	run := &collector{
		fetcher:  f,
		req:      req,
		seDate:   seDate,
		rules:    f.rules(),
		base:     f.base(),
		buckets:  make([][]filing.Filing, len(streams)),
		stats:    make([]StreamStat, len(streams)),
		maxTotal: req.Limits.MaxTotal,
	}
	for i, s := range streams {
		run.stats[i].Stream = s
	}

	if f.Concurrency > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(f.Concurrency)
		for i := range streams {
			g.Go(func() error {
				if run.stream(gctx, i) {
					return errCapReached
				}
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := range streams {
			if run.stream(ctx, i) {
				break
			}
		}
	}

	res := run.result()
	logger := zerolog.Ctx(ctx)
	logger.Info().
		Int("filings", len(res.Filings)).
		Int("szse", res.ByExchange[filing.SZSE]).
		Int("sse", res.ByExchange[filing.SSE]).
		Int("streams", len(streams)).
		Msg("harvest complete")
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

var errCapReached = errors.New("max total reached")

func (f *Fetcher) validate(req Request) ([]filing.PeriodClass, string, error) {
	if f.Transport == nil {
		return nil, "", fmt.Errorf("%w: no transport configured", ErrInvalidRequest)
	}
	if len(req.Periods) == 0 {
		return nil, "", fmt.Errorf("%w: no period classes", ErrInvalidRequest)
	}
	var periods []filing.PeriodClass
	seen := map[filing.PeriodClass]bool{}
	for _, p := range req.Periods {
		if !p.Valid() {
			return nil, "", fmt.Errorf("%w: unknown period class %q", ErrInvalidRequest, p)
		}
		if !seen[p] {
			seen[p] = true
			periods = append(periods, p)
		}
	}
	if err := req.Limits.Validate(); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	seDate, err := filing.NormalizeDateRange(req.DateRange)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return periods, seDate, nil
}

func (f *Fetcher) rules() *titlefilter.Rules {
	if f.Rules != nil {
		return f.Rules
	}
	return titlefilter.Default()
}

func (f *Fetcher) base() string {
	if f.DocumentBase != "" {
		return f.DocumentBase
	}
	return filing.DocumentBase
}

// collector holds the shared state of one run. seen, total and buckets are
// guarded by mu; each stream writes only its own stats slot.
type collector struct {
	fetcher *Fetcher
	req     Request
	seDate  string
	rules   *titlefilter.Rules
	base    string

	mu       sync.Mutex
	seen     dedup.Set
	total    int
	maxTotal int
	buckets  [][]filing.Filing
	stats    []StreamStat
}

// stream pages through one stream and reports whether the cap was reached.
func (c *collector) stream(ctx context.Context, idx int) bool {
	st := &c.stats[idx]
	logger := zerolog.Ctx(ctx).With().
		Str("period", string(st.Period)).
		Str("exchange", string(st.Exchange)).
		Str("category", st.Category).
		Logger()

	for page := 1; page <= c.req.Limits.MaxPagesPerStream; page++ {
		if err := ctx.Err(); err != nil {
			return false
		}
		if c.full() {
			return true
		}
		recs, err := c.fetcher.Transport.Query(ctx, filing.PageQuery{
			PageNum:   page,
			PageSize:  c.req.Limits.PageSize,
			Exchange:  st.Exchange,
			Category:  st.Category,
			DateRange: c.seDate,
			SortName:  "announcementTime",
			SortType:  "desc",
		})
		st.Pages++
		if err != nil {
			// Concurrent streams are cancelled once the cap is met; that is
			// not a stream failure.
			if c.full() {
				return true
			}
			st.Err = err
			if ctx.Err() == nil {
				logger.Warn().Err(err).Int("page", page).Msg("query failed; abandoning stream")
			}
			return false
		}
		if len(recs) == 0 {
			logger.Debug().Int("page", page).Msg("empty page; stream done")
			return false
		}
		st.Records += len(recs)
		for _, rec := range recs {
			if rec.AdjunctURL == "" {
				logger.Debug().Str("title", rec.Title).Msg("record without document path dropped")
				continue
			}
			key := dedup.Key{Exchange: st.Exchange, SourcePath: rec.AdjunctURL}
			if c.seen.Seen(key) {
				continue
			}
			if !c.rules.IsRelevant(rec.Title, st.Period, c.req.Keywords) {
				continue
			}
			accepted, full := c.accept(idx, key, filing.New(c.base, rec, st.Exchange, st.Period, st.Category))
			if accepted {
				st.Accepted++
			}
			if full {
				return true
			}
		}
	}
	return false
}

// accept appends f unless the key was taken concurrently or the cap is
// already met. full reports whether the cap is met after this call.
func (c *collector) accept(idx int, key dedup.Key, f filing.Filing) (accepted, full bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.total >= c.maxTotal {
		return false, true
	}
	if !c.seen.TryMark(key) {
		return false, false
	}
	c.buckets[idx] = append(c.buckets[idx], f)
	c.total++
	return true, c.total >= c.maxTotal
}

func (c *collector) full() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total >= c.maxTotal
}

func (c *collector) result() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	res := Result{
		Filings:    make([]filing.Filing, 0, c.total),
		ByExchange: map[filing.Exchange]int{},
		Streams:    append([]StreamStat(nil), c.stats...),
	}
	for _, b := range c.buckets {
		for _, f := range b {
			res.Filings = append(res.Filings, f)
			res.ByExchange[f.Exchange]++
		}
	}
	return res
}
