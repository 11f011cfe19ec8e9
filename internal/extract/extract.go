// Package extract turns retrieved filing documents into plain text. PDFs get
// page text plus, optionally, the text of ruled tables; HTML gets its visible
// text one block per line.
package extract

import (
	"errors"
	"fmt"
)

// ExtractionError reports a document that could not be read at all.
// Failures inside individual pages or tables are not errors.
type ExtractionError struct {
	Kind Kind
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Kind, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// ErrUnsupportedKind is wrapped when Text is asked for a kind it cannot read.
var ErrUnsupportedKind = errors.New("unsupported document kind")

// Text extracts plain text from b. For PDFs with includeTables the table
// text is appended after the body, separated by a newline, when non-empty.
func Text(b []byte, kind Kind, includeTables bool) (string, error) {
	switch kind {
	case KindPDF:
		if includeTables {
			return PDFWithTables(b)
		}
		return PDF(b)
	case KindHTML:
		return HTML(b)
	default:
		return "", &ExtractionError{Kind: kind, Err: ErrUnsupportedKind}
	}
}

// PDFWithTables returns the page text followed by the table text.
func PDFWithTables(b []byte) (string, error) {
	doc, err := openPDF(b)
	if err != nil {
		return "", err
	}
	body := pageText(doc)
	tables := tableText(doc)
	if tables == "" {
		return body, nil
	}
	return body + "\n" + tables, nil
}

// PDFTables returns only the text of the ruled tables, "" when there are none.
func PDFTables(b []byte) (string, error) {
	doc, err := openPDF(b)
	if err != nil {
		return "", err
	}
	return tableText(doc), nil
}
