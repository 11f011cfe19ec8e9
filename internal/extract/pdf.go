package extract

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// pageSource is the slice of a PDF reader the extractors need. Pages are
// numbered from 1.
type pageSource interface {
	NumPage() int
	PageText(n int) (string, error)
	PageLayout(n int) ([]glyph, []box, error)
}

// glyph is one positioned run of text in page space.
type glyph struct {
	X, Y, W float64
	S       string
}

// PDF returns the text of every page in order, joined with "\n". Pages with
// no text layer, or whose text cannot be decoded, contribute "".
func PDF(b []byte) (string, error) {
	doc, err := openPDF(b)
	if err != nil {
		return "", err
	}
	return pageText(doc), nil
}

func pageText(src pageSource) string {
	n := src.NumPage()
	parts := make([]string, n)
	for i := 1; i <= n; i++ {
		s, err := src.PageText(i)
		if err != nil {
			continue
		}
		parts[i-1] = s
	}
	return strings.Join(parts, "\n")
}

func openPDF(b []byte) (src pageSource, err error) {
	if !bytes.Contains(b[:min(len(b), 1024)], []byte("%PDF-")) {
		return nil, &ExtractionError{Kind: KindPDF, Err: errors.New("missing %PDF header")}
	}
	defer func() {
		if r := recover(); r != nil {
			src, err = nil, &ExtractionError{Kind: KindPDF, Err: fmt.Errorf("open: %v", r)}
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return nil, &ExtractionError{Kind: KindPDF, Err: err}
	}
	return &ledongthucSource{r: r}, nil
}

type ledongthucSource struct {
	r *pdf.Reader
}

func (s *ledongthucSource) NumPage() int { return s.r.NumPage() }

func (s *ledongthucSource) PageText(n int) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("page %d: %v", n, r)
		}
	}()
	p := s.r.Page(n)
	if p.V.IsNull() {
		return "", nil
	}
	return p.GetPlainText(nil)
}

func (s *ledongthucSource) PageLayout(n int) (glyphs []glyph, boxes []box, err error) {
	defer func() {
		if r := recover(); r != nil {
			glyphs, boxes, err = nil, nil, fmt.Errorf("page %d: %v", n, r)
		}
	}()
	p := s.r.Page(n)
	if p.V.IsNull() {
		return nil, nil, nil
	}
	c := p.Content()
	for _, t := range c.Text {
		glyphs = append(glyphs, glyph{X: t.X, Y: t.Y, W: t.W, S: t.S})
	}
	for _, r := range c.Rect {
		boxes = append(boxes, newBox(r.Min.X, r.Min.Y, r.Max.X, r.Max.Y))
	}
	return glyphs, boxes, nil
}
