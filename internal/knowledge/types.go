// Package knowledge stores reference documents with vector embeddings and
// serves similarity search over them using PostgreSQL + pgvector.
package knowledge

import "time"

// VectorDimension is the embedding width of the documents table. The
// embedder must be configured to produce vectors of this size.
const VectorDimension = 768

// Document is a chunk of reference material.
type Document struct {
	ID        string            // unique identifier, stable across re-ingestion
	Content   string            // chunk text
	SourceRef string            // where the chunk came from (file path, URL)
	Metadata  map[string]string // optional metadata (crop, district, topic)
	CreatedAt time.Time
}

// Result is a single search hit with its cosine similarity score (0-1,
// higher is closer).
type Result struct {
	Document   Document
	Similarity float32
}

// SearchOption configures Search using the functional options pattern.
type SearchOption func(*searchConfig)

type searchConfig struct {
	topK    int
	filter  map[string]string
	timeout time.Duration
}

const (
	defaultTopK          = 3
	defaultSearchTimeout = 10 * time.Second
)

// WithTopK sets the maximum number of results. Default is 3.
func WithTopK(k int) SearchOption {
	return func(c *searchConfig) {
		if k > 0 {
			c.topK = k
		}
	}
}

// WithFilter restricts results to documents whose metadata contains the
// given key/value pair. Multiple filters combine with AND logic.
func WithFilter(key, value string) SearchOption {
	return func(c *searchConfig) {
		if c.filter == nil {
			c.filter = make(map[string]string)
		}
		c.filter[key] = value
	}
}

// WithTimeout overrides the default 10s search timeout.
func WithTimeout(d time.Duration) SearchOption {
	return func(c *searchConfig) {
		if d > 0 {
			c.timeout = d
		}
	}
}

func buildSearchConfig(opts []SearchOption) *searchConfig {
	cfg := &searchConfig{
		topK:    defaultTopK,
		timeout: defaultSearchTimeout,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
