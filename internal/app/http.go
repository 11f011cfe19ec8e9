package app

import (
	"net"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// newHighThroughputHTTPClient returns the client shared by the query
// transport and the document retriever. Requests are traced through otelhttp;
// without a configured provider the spans are no-ops.
func newHighThroughputHTTPClient() *http.Client {
	return &http.Client{
		Transport: otelhttp.NewTransport(newTransport()),
		Timeout:   60 * time.Second,
	}
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          0,   // no global limit
		MaxIdleConnsPerHost:   128, // large per-host pool
		MaxConnsPerHost:       0,   // unlimited
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
