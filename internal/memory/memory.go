// Package memory defines the similarity index that real-time retrieval
// queries, plus a chromem-go backed implementation.
package memory

import "context"

// Metadata keys written alongside each indexed chunk.
const (
	MetaSourceType = "sourcetype"
	MetaSource     = "source"
	MetaTitle      = "title"
)

// Source types of indexed chunks.
const (
	SourceWork = "work"
	SourceFile = "file"
	SourceURL  = "url"
)

// Index stores embedded chunks per tenant and ranks them by similarity.
type Index interface {
	// Upsert stores items, replacing any with the same ID.
	Upsert(ctx context.Context, tenant string, items ...Item) error

	// Query returns up to k items most similar to vector, best first. Items must
	// match every key/value in filter.
	Query(ctx context.Context, tenant string, vector []float32, k int, filter map[string]string) ([]Item, error)

	// DeleteSource removes every chunk derived from one source document.
	DeleteSource(ctx context.Context, tenant, source string) error
}

// Item is one indexed chunk.
type Item struct {
	ID         string            `json:"id"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	Vector     []float32         `json:"-"`
	Similarity float32           `json:"score"`
}

// Title returns the title metadata, or the source id when untitled.
func (i Item) Title() string {
	if t := i.Metadata[MetaTitle]; t != "" {
		return t
	}
	return i.Metadata[MetaSource]
}
