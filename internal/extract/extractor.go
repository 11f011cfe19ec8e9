package extract

// Extractor converts a retrieved document into plain text. Callers that need
// a different strategy for some formats can wrap Default.
type Extractor interface {
	Extract(b []byte, kind Kind, includeTables bool) (string, error)
}

// Default dispatches to Text.
type Default struct{}

func (Default) Extract(b []byte, kind Kind, includeTables bool) (string, error) {
	return Text(b, kind, includeTables)
}
