// Package rag runs the retrieval stage of a chat turn. Retrieval failure
// is reported as a degraded result rather than an error so a turn can
// always proceed without grounding context.
package rag

import (
	"context"
	"time"

	"github.com/uzhavan/uzhavan/internal/knowledge"
	"github.com/uzhavan/uzhavan/internal/log"
)

// DefaultTopK is the number of passages retrieved per turn.
const DefaultTopK = 3

// DefaultTimeout bounds the whole retrieval stage (embedding plus vector
// search).
const DefaultTimeout = 10 * time.Second

// Searcher is the slice of the knowledge store the pipeline needs.
type Searcher interface {
	Search(ctx context.Context, query string, opts ...knowledge.SearchOption) ([]knowledge.Result, error)
}

// Passage is one retrieved grounding snippet.
type Passage struct {
	Text      string
	SourceRef string
	Score     float32
}

// Result is the outcome of a retrieval attempt.
//
// Degraded means retrieval failed and the turn proceeds without grounding;
// Reason carries the underlying error. An empty Passages slice with
// Degraded false simply means nothing relevant was indexed.
type Result struct {
	Passages []Passage
	Degraded bool
	Reason   error
}

// Pipeline retrieves grounding passages for chat turns.
type Pipeline struct {
	searcher Searcher
	topK     int
	timeout  time.Duration
	logger   log.Logger
}

// NewPipeline creates a retrieval pipeline. topK <= 0 selects DefaultTopK.
func NewPipeline(searcher Searcher, topK int, logger log.Logger) *Pipeline {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Pipeline{
		searcher: searcher,
		topK:     topK,
		timeout:  DefaultTimeout,
		logger:   logger,
	}
}

// Retrieve searches the knowledge store for passages relevant to query.
// It never returns an error: failures come back as a degraded Result so
// the caller can continue the turn ungrounded.
func (p *Pipeline) Retrieve(ctx context.Context, query string) Result {
	results, err := p.searcher.Search(ctx, query,
		knowledge.WithTopK(p.topK),
		knowledge.WithTimeout(p.timeout))
	if err != nil {
		p.logger.Warn("retrieval degraded, continuing without context", "error", err)
		return Result{Degraded: true, Reason: err}
	}

	passages := make([]Passage, 0, len(results))
	for _, r := range results {
		passages = append(passages, Passage{
			Text:      r.Document.Content,
			SourceRef: r.Document.SourceRef,
			Score:     r.Similarity,
		})
	}

	p.logger.Debug("retrieved passages", "count", len(passages))
	return Result{Passages: passages}
}
