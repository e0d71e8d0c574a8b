package enrich

import "context"

// Snippet is a piece of supporting text about an initiative.
type Snippet struct {
	Source string
	Text   string
}

// EvidenceRetriever fetches supporting text for an initiative. Retrieval
// internals live outside this repository.
type EvidenceRetriever interface {
	Evidence(ctx context.Context, expediente string) ([]Snippet, error)
}

// NopRetriever returns no evidence.
type NopRetriever struct{}

// Evidence implements EvidenceRetriever.
func (NopRetriever) Evidence(context.Context, string) ([]Snippet, error) { return nil, nil }

