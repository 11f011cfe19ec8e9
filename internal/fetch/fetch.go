// Package fetch retrieves filing documents over HTTP.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hyperifyio/goharvest/internal/cache"
)

const (
	// DefaultTimeout bounds one document download.
	DefaultTimeout = 30 * time.Second
	// DefaultUserAgent mimics a desktop browser; the document host rejects
	// obvious bots.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	// DefaultReferer is sent when Retriever.Referer is empty.
	DefaultReferer = "https://www.cninfo.com.cn/"

	defaultRedirectHops = 5
	maxDocumentBytes    = 256 << 20
)

// RetrievalError reports a document that could not be downloaded.
type RetrievalError struct {
	URL    string
	Status int
	Err    error
}

func (e *RetrievalError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("retrieve %s: status %d: %v", e.URL, e.Status, e.Err)
	}
	return fmt.Sprintf("retrieve %s: %v", e.URL, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// Retriever downloads documents. It never retries; a 304 answered from the
// cache counts as a single attempt.
type Retriever struct {
	HTTPClient *http.Client
	UserAgent  string
	Referer    string
	// PerRequestTimeout bounds each request. Zero means DefaultTimeout.
	PerRequestTimeout time.Duration
	// Cache, when set, stores bodies and enables conditional requests.
	Cache *cache.HTTPCache
	// BypassCache fetches fresh without conditional headers but still saves.
	BypassCache bool
	// RedirectMaxHops caps redirects. Zero means 5.
	RedirectMaxHops int
	// MaxConcurrent limits in-flight requests. Zero means unlimited.
	MaxConcurrent int

	limiter     chan struct{}
	limiterOnce sync.Once
}

// Fetch downloads url and returns the body and its content type.
func (r *Retriever) Fetch(ctx context.Context, rawURL string) ([]byte, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || !isHTTPScheme(u) {
		return nil, "", &RetrievalError{URL: rawURL, Err: fmt.Errorf("unsupported URL %q", rawURL)}
	}
	var etag, lastMod string
	if r.Cache != nil && !r.BypassCache {
		if meta, err := r.Cache.LoadMeta(ctx, rawURL); err == nil && meta != nil {
			etag, lastMod = meta.ETag, meta.LastModified
		}
	}

	if err := r.acquire(ctx); err != nil {
		return nil, "", &RetrievalError{URL: rawURL, Err: err}
	}
	defer r.release()

	res, err := r.do(ctx, rawURL, etag, lastMod)
	if err != nil {
		return nil, "", err
	}
	if res.status == http.StatusNotModified {
		body, err := r.Cache.LoadBody(ctx, rawURL)
		if err != nil {
			return nil, "", &RetrievalError{URL: rawURL, Status: res.status, Err: fmt.Errorf("cached body missing: %w", err)}
		}
		ct := res.contentType
		if meta, err := r.Cache.LoadMeta(ctx, rawURL); err == nil && meta.ContentType != "" {
			ct = meta.ContentType
		}
		zerolog.Ctx(ctx).Debug().Str("url", rawURL).Msg("document served from cache")
		return body, ct, nil
	}
	if r.Cache != nil {
		if err := r.Cache.Save(ctx, rawURL, res.contentType, res.etag, res.lastMod, res.body); err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("url", rawURL).Msg("cache save failed")
		}
	}
	return res.body, res.contentType, nil
}

type response struct {
	body        []byte
	contentType string
	etag        string
	lastMod     string
	status      int
}

func (r *Retriever) do(ctx context.Context, rawURL, etag, lastMod string) (response, error) {
	timeout := r.PerRequestTimeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return response{}, &RetrievalError{URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", pick(r.UserAgent, DefaultUserAgent))
	req.Header.Set("Referer", pick(r.Referer, DefaultReferer))
	req.Header.Set("Accept", "application/pdf,text/html;q=0.9,*/*;q=0.8")
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastMod != "" {
		req.Header.Set("If-Modified-Since", lastMod)
	}

	resp, err := r.httpClient(timeout).Do(req)
	if err != nil {
		return response{}, &RetrievalError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	out := response{
		contentType: resp.Header.Get("Content-Type"),
		etag:        resp.Header.Get("ETag"),
		lastMod:     resp.Header.Get("Last-Modified"),
		status:      resp.StatusCode,
	}
	if resp.StatusCode == http.StatusNotModified && r.Cache != nil {
		return out, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return response{}, &RetrievalError{URL: rawURL, Status: resp.StatusCode, Err: errors.New("unexpected status")}
	}
	if !isAllowedContentType(out.contentType) {
		return response{}, &RetrievalError{URL: rawURL, Status: resp.StatusCode, Err: fmt.Errorf("unsupported content type %q", out.contentType)}
	}
	out.body, err = io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes))
	if err != nil {
		return response{}, &RetrievalError{URL: rawURL, Status: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	return out, nil
}

func (r *Retriever) httpClient(timeout time.Duration) *http.Client {
	if r.HTTPClient != nil {
		// Copy so the redirect policy does not leak into the caller's client.
		base := *r.HTTPClient
		base.CheckRedirect = r.checkRedirect()
		return &base
	}
	return &http.Client{Timeout: timeout, CheckRedirect: r.checkRedirect()}
}

func (r *Retriever) checkRedirect() func(req *http.Request, via []*http.Request) error {
	max := r.RedirectMaxHops
	if max <= 0 {
		max = defaultRedirectHops
	}
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= max {
			return errors.New("too many redirects")
		}
		if !isHTTPScheme(req.URL) {
			return errors.New("redirect to unsupported scheme")
		}
		return nil
	}
}

func isHTTPScheme(u *url.URL) bool {
	if u == nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

// isAllowedContentType accepts PDF, HTML and generic binary responses. An
// absent header is allowed; the extractor sniffs the body.
func isAllowedContentType(ct string) bool {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if ct == "" {
		return true
	}
	for _, p := range []string{"application/pdf", "application/x-pdf", "text/html", "application/xhtml+xml", "application/octet-stream"} {
		if strings.HasPrefix(ct, p) {
			return true
		}
	}
	return false
}

func (r *Retriever) acquire(ctx context.Context) error {
	if r.MaxConcurrent <= 0 {
		return nil
	}
	r.limiterOnce.Do(func() {
		r.limiter = make(chan struct{}, r.MaxConcurrent)
	})
	select {
	case r.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Retriever) release() {
	if r.MaxConcurrent <= 0 || r.limiter == nil {
		return
	}
	select {
	case <-r.limiter:
	default:
	}
}

func pick(v, def string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return def
}
