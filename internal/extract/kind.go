package extract

import (
	"bytes"
	"mime"
	"net/url"
	"path"
	"strings"
)

// Kind is the document format.
type Kind string

const (
	KindUnknown Kind = ""
	KindPDF     Kind = "pdf"
	KindHTML    Kind = "html"
)

func (k Kind) String() string {
	if k == KindUnknown {
		return "unknown"
	}
	return string(k)
}

// DetectKind picks the format from the body magic, then the content type,
// then the URL suffix, and finally an HTML sniff of the body.
func DetectKind(rawURL, contentType string, body []byte) Kind {
	head := body
	if len(head) > 1024 {
		head = head[:1024]
	}
	if bytes.Contains(head, []byte("%PDF-")) {
		return KindPDF
	}
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mt {
		case "application/pdf", "application/x-pdf":
			return KindPDF
		case "text/html", "application/xhtml+xml":
			return KindHTML
		}
	}
	p := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		p = u.Path
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".pdf":
		return KindPDF
	case ".html", ".htm", ".shtml", ".xhtml":
		return KindHTML
	}
	lower := bytes.ToLower(bytes.TrimSpace(head))
	if bytes.HasPrefix(lower, []byte("<!doctype html")) || bytes.Contains(lower, []byte("<html")) {
		return KindHTML
	}
	return KindUnknown
}
