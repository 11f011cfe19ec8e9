// Package cninfo queries the CNINFO historical announcement search endpoint.
package cninfo

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/hyperifyio/goharvest/internal/filing"
)

const (
	// QueryURL is the disclosure search endpoint.
	QueryURL = "https://www.cninfo.com.cn/new/hisAnnouncement/query"
	// DefaultUserAgent is sent when Client.UserAgent is empty. The endpoint
	// rejects requests without a browser-like agent.
	DefaultUserAgent = "Mozilla/5.0"
	// DefaultReferer is sent when Client.Referer is empty.
	DefaultReferer = "https://www.cninfo.com.cn/"
	// DefaultTimeout bounds one page query.
	DefaultTimeout = 15 * time.Second

	maxResponseBytes = 16 << 20
)

// TransportError reports a failed page query: network error, non-2xx status
// or an undecodable body.
type TransportError struct {
	Op     string
	Status int
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("cninfo %s: status %d: %v", e.Op, e.Status, e.Err)
	}
	return fmt.Sprintf("cninfo %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Client implements the paginated query transport. The zero value talks to
// the production endpoint with default headers and timeout.
type Client struct {
	URL        string
	HTTPClient *http.Client
	UserAgent  string
	Referer    string
	// Timeout bounds each query. Zero means DefaultTimeout.
	Timeout time.Duration
	// Limiter, when set, paces queries. Waiting honors ctx.
	Limiter *rate.Limiter
}

// Query issues one page query and returns the normalized records. It never
// retries.
func (c *Client) Query(ctx context.Context, q filing.PageQuery) ([]filing.Record, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, &TransportError{Op: "wait", Err: err}
		}
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := c.URL
	if endpoint == "" {
		endpoint = QueryURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(Form(q).Encode()))
	if err != nil {
		return nil, &TransportError{Op: "request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	req.Header.Set("Accept", "application/json, text/javascript, */*; q=0.01")
	req.Header.Set("User-Agent", pick(c.UserAgent, DefaultUserAgent))
	req.Header.Set("Referer", pick(c.Referer, DefaultReferer))

	hc := c.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	resp, err := hc.Do(req)
	if err != nil {
		return nil, &TransportError{Op: "query", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{Op: "query", Status: resp.StatusCode, Err: fmt.Errorf("unexpected status")}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &TransportError{Op: "read", Status: resp.StatusCode, Err: err}
	}
	recs, err := DecodeRecords(body)
	if err != nil {
		return nil, &TransportError{Op: "decode", Status: resp.StatusCode, Err: err}
	}
	return recs, nil
}

// Form builds the form body for q. Empty sort fields fall back to the
// provider's announcementTime/desc ordering.
func Form(q filing.PageQuery) url.Values {
	return url.Values{
		"pageNum":   {strconv.Itoa(q.PageNum)},
		"pageSize":  {strconv.Itoa(q.PageSize)},
		"column":    {string(q.Exchange)},
		"tabName":   {"fulltext"},
		"category":  {q.Category},
		"seDate":    {q.DateRange},
		"plate":     {""},
		"stock":     {""},
		"searchkey": {""},
		"sortName":  {pick(q.SortName, "announcementTime")},
		"sortType":  {pick(q.SortType, "desc")},
		"trade":     {""},
	}
}

func pick(v, def string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return def
}
