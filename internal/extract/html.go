package extract

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
	"golang.org/x/text/transform"
)

// HTML returns the visible text of an HTML document, one text block per
// line. Script, style and noscript contents are dropped, each block is
// trimmed and blank lines are removed. Non-UTF-8 bodies (GBK, GB18030, Big5)
// are decoded from BOM, meta tags or content sniffing.
func HTML(b []byte) (string, error) {
	enc, _, _ := charset.DetermineEncoding(b, "")
	doc, err := goquery.NewDocumentFromReader(transform.NewReader(bytes.NewReader(b), enc.NewDecoder()))
	if err != nil {
		return "", &ExtractionError{Kind: KindHTML, Err: err}
	}
	doc.Find("script, style, noscript").Remove()

	var lines []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			for _, line := range strings.Split(n.Data, "\n") {
				if s := strings.TrimSpace(line); s != "" {
					lines = append(lines, s)
				}
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range doc.Nodes {
		walk(n)
	}
	return strings.Join(lines, "\n"), nil
}
