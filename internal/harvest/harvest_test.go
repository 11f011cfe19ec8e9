package harvest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/hyperifyio/goharvest/internal/cninfo"
	"github.com/hyperifyio/goharvest/internal/dedup"
	"github.com/hyperifyio/goharvest/internal/filing"
)

type fakeTransport struct {
	mu    sync.Mutex
	pages map[string][][]filing.Record
	fail  map[string]int
	gen   func(q filing.PageQuery) []filing.Record
	hook  func(q filing.PageQuery)
	// block holds queries for these streams until ctx is done.
	block map[string]bool
	calls []filing.PageQuery
}

func streamKey(ex filing.Exchange, cat string) string { return string(ex) + "|" + cat }

func (f *fakeTransport) Query(ctx context.Context, q filing.PageQuery) ([]filing.Record, error) {
	f.mu.Lock()
	f.calls = append(f.calls, q)
	hook := f.hook
	f.mu.Unlock()
	if hook != nil {
		hook(q)
	}
	k := streamKey(q.Exchange, q.Category)
	if f.block[k] {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if n, ok := f.fail[k]; ok && n == q.PageNum {
		return nil, errors.New("upstream unavailable")
	}
	if f.gen != nil {
		return f.gen(q), nil
	}
	pages := f.pages[k]
	if q.PageNum-1 < len(pages) {
		return pages[q.PageNum-1], nil
	}
	return nil, nil
}

func (f *fakeTransport) callsFor(ex filing.Exchange, cat string) []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []int
	for _, c := range f.calls {
		if c.Exchange == ex && c.Category == cat {
			out = append(out, c.PageNum)
		}
	}
	return out
}

func rec(title, path string) filing.Record {
	return filing.Record{Title: title, AdjunctURL: path, SecCode: "000001", SecName: "平安银行"}
}

const (
	semiCat    = "category_bndbg_szsh"
	annualCat  = "category_ndbg_szsh"
	quarterCat = "category_sjdbg_szsh"
	semiTitle  = "2025年半年度报告"
)

func limits(pageSize, maxPages, maxTotal int) filing.Limits {
	return filing.Limits{PageSize: pageSize, MaxPagesPerStream: maxPages, MaxTotal: maxTotal}
}

func TestCollect_DedupPerExchangeAndPagination(t *testing.T) {
	ft := &fakeTransport{pages: map[string][][]filing.Record{
		streamKey(filing.SZSE, semiCat): {
			{rec(semiTitle, "p/a.PDF"), rec(semiTitle, "p/b.PDF")},
			{rec(semiTitle, "p/b.PDF"), rec("2025年半年报摘要", "p/c.PDF")},
		},
		streamKey(filing.SSE, semiCat): {
			{rec(semiTitle, "p/a.PDF")},
		},
	}}
	f := &Fetcher{Transport: ft}
	res, err := f.Collect(context.Background(), Request{
		Periods: []filing.PeriodClass{filing.Semiannual},
		Limits:  limits(30, 5, 100),
	})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(res.Filings) != 4 {
		t.Fatalf("expected 4 filings, got %d: %+v", len(res.Filings), res.Filings)
	}
	if res.ByExchange[filing.SZSE] != 3 || res.ByExchange[filing.SSE] != 1 {
		t.Fatalf("unexpected per-exchange counts: %v", res.ByExchange)
	}
	seen := map[dedup.Key]bool{}
	for _, fl := range res.Filings {
		k := dedup.Key{Exchange: fl.Exchange, SourcePath: fl.SourcePath}
		if seen[k] {
			t.Fatalf("duplicate key %v", k)
		}
		seen[k] = true
	}
	if got := ft.callsFor(filing.SZSE, semiCat); fmt.Sprint(got) != "[1 2 3]" {
		t.Fatalf("szse pages=%v, want [1 2 3]", got)
	}
	if got := ft.callsFor(filing.SSE, semiCat); fmt.Sprint(got) != "[1 2]" {
		t.Fatalf("sse pages=%v, want [1 2]", got)
	}
	if res.Filings[0].DocumentURL != filing.DocumentBase+"p/a.PDF" {
		t.Fatalf("unexpected document url %q", res.Filings[0].DocumentURL)
	}
	if res.Filings[0].Exchange != filing.SZSE || res.Filings[3].Exchange != filing.SSE {
		t.Fatalf("filings not in stream order: %+v", res.Filings)
	}
}

func TestCollect_StopsAtMaxPages(t *testing.T) {
	ft := &fakeTransport{gen: func(q filing.PageQuery) []filing.Record {
		return []filing.Record{rec(semiTitle, fmt.Sprintf("p/%s-%d.PDF", q.Exchange, q.PageNum))}
	}}
	f := &Fetcher{Transport: ft}
	res, err := f.Collect(context.Background(), Request{
		Periods: []filing.PeriodClass{filing.Semiannual},
		Limits:  limits(1, 3, 100),
	})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(res.Filings) != 6 {
		t.Fatalf("expected 6 filings, got %d", len(res.Filings))
	}
	if got := ft.callsFor(filing.SSE, semiCat); fmt.Sprint(got) != "[1 2 3]" {
		t.Fatalf("sse pages=%v", got)
	}
	for _, st := range res.Streams {
		if st.Pages != 3 || st.Accepted != 3 {
			t.Fatalf("unexpected stream stat: %+v", st)
		}
	}
}

func TestCollect_CapMidPageSkipsRemainingStreams(t *testing.T) {
	var page []filing.Record
	for i := 0; i < 5; i++ {
		page = append(page, rec(semiTitle, fmt.Sprintf("p/%d.PDF", i)))
	}
	ft := &fakeTransport{pages: map[string][][]filing.Record{
		streamKey(filing.SZSE, semiCat): {page},
		streamKey(filing.SSE, semiCat):  {page},
	}}
	f := &Fetcher{Transport: ft}
	res, err := f.Collect(context.Background(), Request{
		Periods: []filing.PeriodClass{filing.Semiannual},
		Limits:  limits(30, 10, 3),
	})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(res.Filings) != 3 {
		t.Fatalf("expected cap of 3, got %d", len(res.Filings))
	}
	if got := ft.callsFor(filing.SZSE, semiCat); len(got) != 1 {
		t.Fatalf("expected a single szse page, got %v", got)
	}
	if got := ft.callsFor(filing.SSE, semiCat); len(got) != 0 {
		t.Fatalf("sse should not be queried after cap, got %v", got)
	}
}

func TestCollect_ConcurrentRespectsCapAndUniqueness(t *testing.T) {
	titles := map[string]string{
		quarterCat: "2025年第一季度报告",
		semiCat:    semiTitle,
		annualCat:  "2024年年度报告",
	}
	ft := &fakeTransport{gen: func(q filing.PageQuery) []filing.Record {
		var out []filing.Record
		for i := 0; i < q.PageSize; i++ {
			// Paths repeat across streams so concurrent streams race on keys.
			out = append(out, rec(titles[q.Category], fmt.Sprintf("p/%d-%d.PDF", q.PageNum, i)))
		}
		return out
	}}
	f := &Fetcher{Transport: ft, Concurrency: 4}
	res, err := f.Collect(context.Background(), Request{
		Periods: []filing.PeriodClass{filing.Quarterly, filing.Semiannual, filing.Annual},
		Limits:  limits(10, 50, 37),
	})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(res.Filings) != 37 {
		t.Fatalf("expected exactly 37 filings, got %d", len(res.Filings))
	}
	seen := map[dedup.Key]bool{}
	for _, fl := range res.Filings {
		k := dedup.Key{Exchange: fl.Exchange, SourcePath: fl.SourcePath}
		if seen[k] {
			t.Fatalf("duplicate key %v", k)
		}
		seen[k] = true
	}
	if res.ByExchange[filing.SZSE]+res.ByExchange[filing.SSE] != 37 {
		t.Fatalf("per-exchange counts do not sum to total: %v", res.ByExchange)
	}
}

// Streams still waiting on a query when the cap is met end quietly.
func TestCollect_ConcurrentCapDoesNotMarkStreamsFailed(t *testing.T) {
	ft := &fakeTransport{
		pages: map[string][][]filing.Record{
			streamKey(filing.SZSE, semiCat): {{rec(semiTitle, "p/a.PDF"), rec(semiTitle, "p/b.PDF"), rec(semiTitle, "p/c.PDF")}},
		},
		block: map[string]bool{streamKey(filing.SSE, semiCat): true},
	}
	f := &Fetcher{Transport: ft, Concurrency: 2}
	res, err := f.Collect(context.Background(), Request{
		Periods: []filing.PeriodClass{filing.Semiannual},
		Limits:  limits(30, 5, 3),
	})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(res.Filings) != 3 {
		t.Fatalf("expected 3 filings, got %d", len(res.Filings))
	}
	for _, st := range res.Streams {
		if st.Err != nil {
			t.Fatalf("stream %s/%s err=%v, want nil", st.Exchange, st.Category, st.Err)
		}
	}
}

// One undecodable row is dropped by the provider client and the stream keeps
// paging.
func TestCollect_MalformedRowKeepsStream(t *testing.T) {
	var mu sync.Mutex
	var szsePages []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		column, page := r.PostForm.Get("column"), r.PostForm.Get("pageNum")
		body := `{"announcements":null}`
		if column == "szse" {
			mu.Lock()
			szsePages = append(szsePages, page)
			mu.Unlock()
			switch page {
			case "1":
				body = `{"announcements":[
					{"announcementTitle":"2025年半年度报告","adjunctUrl":"p/a.PDF","announcementTime":1755619200000},
					{"announcementTitle":"2025年半年度报告","adjunctUrl":"p/bad.PDF","announcementTime":"N/A","secCode":12}
				]}`
			case "2":
				body = `{"announcements":[{"announcementTitle":"2025年半年报","adjunctUrl":"p/b.PDF"}]}`
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	defer srv.Close()

	f := &Fetcher{Transport: &cninfo.Client{URL: srv.URL, HTTPClient: srv.Client()}}
	res, err := f.Collect(context.Background(), Request{
		Periods: []filing.PeriodClass{filing.Semiannual},
		Limits:  limits(30, 5, 100),
	})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(res.Filings) != 2 || res.Filings[0].SourcePath != "p/a.PDF" || res.Filings[1].SourcePath != "p/b.PDF" {
		t.Fatalf("unexpected filings: %+v", res.Filings)
	}
	if res.Streams[0].Err != nil {
		t.Fatalf("szse stream should not fail: %v", res.Streams[0].Err)
	}
	mu.Lock()
	defer mu.Unlock()
	if fmt.Sprint(szsePages) != "[1 2 3]" {
		t.Fatalf("szse pages=%v, want [1 2 3]", szsePages)
	}
}

func TestCollect_TransportErrorAbandonsOnlyThatStream(t *testing.T) {
	ft := &fakeTransport{
		pages: map[string][][]filing.Record{
			streamKey(filing.SZSE, semiCat): {{rec(semiTitle, "p/a.PDF")}, {rec(semiTitle, "p/b.PDF")}},
			streamKey(filing.SSE, semiCat):  {{rec(semiTitle, "p/c.PDF")}},
		},
		fail: map[string]int{streamKey(filing.SZSE, semiCat): 2},
	}
	f := &Fetcher{Transport: ft}
	res, err := f.Collect(context.Background(), Request{
		Periods: []filing.PeriodClass{filing.Semiannual},
		Limits:  limits(30, 5, 100),
	})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(res.Filings) != 2 {
		t.Fatalf("expected page 1 of szse plus sse, got %+v", res.Filings)
	}
	if got := ft.callsFor(filing.SZSE, semiCat); fmt.Sprint(got) != "[1 2]" {
		t.Fatalf("szse pages=%v", got)
	}
	if res.Streams[0].Err == nil || res.Streams[1].Err != nil {
		t.Fatalf("unexpected stream errors: %+v", res.Streams)
	}
}

func TestCollect_DropsPathlessAndIrrelevant(t *testing.T) {
	ft := &fakeTransport{pages: map[string][][]filing.Record{
		streamKey(filing.SZSE, semiCat): {{
			rec(semiTitle, ""),
			rec("英文版", "p/en.PDF"),
			rec("关于召开股东大会的通知", "p/notice.PDF"),
			rec("2025年 半年度 报告", "p/ok.PDF"),
		}},
	}}
	f := &Fetcher{Transport: ft}
	res, err := f.Collect(context.Background(), Request{
		Periods: []filing.PeriodClass{filing.Semiannual},
		Limits:  limits(30, 5, 100),
	})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(res.Filings) != 1 || res.Filings[0].SourcePath != "p/ok.PDF" {
		t.Fatalf("unexpected filings: %+v", res.Filings)
	}
}

func TestCollect_IrrelevantDoesNotBlockLaterDuplicate(t *testing.T) {
	ft := &fakeTransport{pages: map[string][][]filing.Record{
		streamKey(filing.SZSE, semiCat): {{
			rec("关于召开股东大会的通知", "p/x.PDF"),
			rec(semiTitle, "p/x.PDF"),
		}},
	}}
	f := &Fetcher{Transport: ft}
	res, err := f.Collect(context.Background(), Request{
		Periods: []filing.PeriodClass{filing.Semiannual},
		Limits:  limits(30, 5, 100),
	})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(res.Filings) != 1 || res.Filings[0].Title != semiTitle {
		t.Fatalf("expected the relevant record to be accepted, got %+v", res.Filings)
	}
}

func TestCollect_Keywords(t *testing.T) {
	ft := &fakeTransport{pages: map[string][][]filing.Record{
		streamKey(filing.SZSE, semiCat): {{
			rec("平安银行2025年半年度报告", "p/a.PDF"),
			rec("万科2025年半年度报告", "p/b.PDF"),
		}},
	}}
	f := &Fetcher{Transport: ft}
	res, err := f.Collect(context.Background(), Request{
		Periods:  []filing.PeriodClass{filing.Semiannual},
		Limits:   limits(30, 5, 100),
		Keywords: []string{"万科"},
	})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(res.Filings) != 1 || res.Filings[0].SourcePath != "p/b.PDF" {
		t.Fatalf("unexpected filings: %+v", res.Filings)
	}
}

func TestCollect_DateRangeAndStreamOrder(t *testing.T) {
	ft := &fakeTransport{}
	f := &Fetcher{Transport: ft}
	_, err := f.Collect(context.Background(), Request{
		Periods:   []filing.PeriodClass{filing.Annual, filing.Semiannual, filing.Annual},
		Limits:    limits(30, 5, 100),
		DateRange: "2025-01-01 ~ 2025-12-31",
	})
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	want := []string{
		streamKey(filing.SZSE, annualCat), streamKey(filing.SSE, annualCat),
		streamKey(filing.SZSE, semiCat), streamKey(filing.SSE, semiCat),
	}
	if len(ft.calls) != len(want) {
		t.Fatalf("expected %d calls, got %d", len(want), len(ft.calls))
	}
	for i, c := range ft.calls {
		if got := streamKey(c.Exchange, c.Category); got != want[i] {
			t.Fatalf("call %d = %s, want %s", i, got, want[i])
		}
		if c.DateRange != "2025-01-01~2025-12-31" {
			t.Fatalf("call %d date range %q", i, c.DateRange)
		}
		if c.PageNum != 1 || c.PageSize != 30 {
			t.Fatalf("call %d unexpected paging %+v", i, c)
		}
	}

	ft = &fakeTransport{}
	f = &Fetcher{Transport: ft}
	if _, err := f.Collect(context.Background(), Request{
		Periods:   []filing.PeriodClass{filing.Quarterly},
		Limits:    limits(30, 5, 100),
		DateRange: "unbounded",
	}); err != nil {
		t.Fatalf("collect: %v", err)
	}
	for _, c := range ft.calls {
		if c.DateRange != "" {
			t.Fatalf("expected empty seDate for unbounded, got %q", c.DateRange)
		}
	}
}

func TestCollect_InvalidRequest(t *testing.T) {
	ft := &fakeTransport{}
	good := Request{Periods: []filing.PeriodClass{filing.Semiannual}, Limits: limits(30, 5, 100)}
	cases := map[string]func(r *Request){
		"no periods":   func(r *Request) { r.Periods = nil },
		"bad period":   func(r *Request) { r.Periods = []filing.PeriodClass{"monthly"} },
		"zero size":    func(r *Request) { r.Limits.PageSize = 0 },
		"zero pages":   func(r *Request) { r.Limits.MaxPagesPerStream = 0 },
		"zero total":   func(r *Request) { r.Limits.MaxTotal = 0 },
		"bad date":     func(r *Request) { r.DateRange = "2025/01/01-2025/12/31" },
		"reverse date": func(r *Request) { r.DateRange = "2025-12-31~2025-01-01" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := good
			mutate(&req)
			_, err := (&Fetcher{Transport: ft}).Collect(context.Background(), req)
			if !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
		})
	}
	if _, err := (&Fetcher{}).Collect(context.Background(), good); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest without transport, got %v", err)
	}
	if len(ft.calls) != 0 {
		t.Fatalf("invalid requests must not query, got %d calls", len(ft.calls))
	}
}

func TestCollect_CancelReturnsPartial(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ft := &fakeTransport{
		pages: map[string][][]filing.Record{
			streamKey(filing.SZSE, semiCat): {{rec(semiTitle, "p/a.PDF")}, {rec(semiTitle, "p/b.PDF")}},
			streamKey(filing.SSE, semiCat):  {{rec(semiTitle, "p/c.PDF")}},
		},
		hook: func(q filing.PageQuery) {
			if q.PageNum == 1 && q.Exchange == filing.SZSE {
				cancel()
			}
		},
	}
	f := &Fetcher{Transport: ft}
	res, err := f.Collect(ctx, Request{
		Periods: []filing.PeriodClass{filing.Semiannual},
		Limits:  limits(30, 5, 100),
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(res.Filings) != 1 || res.Filings[0].SourcePath != "p/a.PDF" {
		t.Fatalf("expected the first page to survive, got %+v", res.Filings)
	}
	if len(ft.calls) != 1 {
		t.Fatalf("no queries expected after cancellation, got %d", len(ft.calls))
	}
}

func TestStreams(t *testing.T) {
	got := Streams([]filing.PeriodClass{filing.Quarterly, filing.Annual})
	want := []Stream{
		{filing.Quarterly, filing.SZSE, quarterCat},
		{filing.Quarterly, filing.SSE, quarterCat},
		{filing.Annual, filing.SZSE, annualCat},
		{filing.Annual, filing.SSE, annualCat},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d streams, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("stream %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}
