// Package vector provides common interfaces for vector storage backends.
package vector

import "context"

// Document is one embeddable unit of content plus its metadata.
type Document struct {
	ID       string
	Content  string
	Metadata map[string]interface{}
}

// QueryResult is one similarity hit. Distance is backend-native (smaller is
// closer for Chroma's default space).
type QueryResult struct {
	ID       string
	Content  string
	Metadata map[string]interface{}
	Distance float64
}

// Client defines the operations recall needs from a vector store.
type Client interface {
	// AddDocuments upserts documents into the store.
	AddDocuments(ctx context.Context, docs []Document) error

	// DeleteDocuments removes documents by id. Unknown ids are ignored.
	DeleteDocuments(ctx context.Context, ids []string) error

	// Query performs a similarity search, optionally filtered by metadata.
	Query(ctx context.Context, query string, limit int, where map[string]interface{}) ([]QueryResult, error)

	// IsConnected reports whether the backing service is reachable.
	IsConnected() bool

	// Close releases resources.
	Close() error
}
