package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uzhavan/uzhavan/internal/knowledge"
	"github.com/uzhavan/uzhavan/internal/log"
)

type fakeSearcher struct {
	results []knowledge.Result
	err     error

	gotQuery string
	gotOpts  []knowledge.SearchOption
}

func (f *fakeSearcher) Search(_ context.Context, query string, opts ...knowledge.SearchOption) ([]knowledge.Result, error) {
	f.gotQuery = query
	f.gotOpts = opts
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

func TestRetrieve(t *testing.T) {
	searcher := &fakeSearcher{
		results: []knowledge.Result{
			{Document: knowledge.Document{Content: "first", SourceRef: "a.md"}, Similarity: 0.9},
			{Document: knowledge.Document{Content: "second", SourceRef: "b.md"}, Similarity: 0.7},
		},
	}
	p := NewPipeline(searcher, 3, log.NewNop())

	res := p.Retrieve(context.Background(), "how to grow paddy")

	assert.False(t, res.Degraded)
	assert.NoError(t, res.Reason)
	require.Len(t, res.Passages, 2)
	assert.Equal(t, Passage{Text: "first", SourceRef: "a.md", Score: 0.9}, res.Passages[0])
	assert.Equal(t, "how to grow paddy", searcher.gotQuery)
}

func TestRetrieveDegradedOnError(t *testing.T) {
	searchErr := errors.New("connection refused")
	p := NewPipeline(&fakeSearcher{err: searchErr}, 3, log.NewNop())

	res := p.Retrieve(context.Background(), "anything")

	assert.True(t, res.Degraded)
	assert.ErrorIs(t, res.Reason, searchErr)
	assert.Empty(t, res.Passages)
}

func TestRetrieveEmptyIsNotDegraded(t *testing.T) {
	p := NewPipeline(&fakeSearcher{}, 3, log.NewNop())

	res := p.Retrieve(context.Background(), "unknown topic")

	assert.False(t, res.Degraded)
	assert.NoError(t, res.Reason)
	assert.Empty(t, res.Passages)
}

func TestNewPipelineDefaultTopK(t *testing.T) {
	p := NewPipeline(&fakeSearcher{}, 0, log.NewNop())
	assert.Equal(t, DefaultTopK, p.topK)

	p = NewPipeline(&fakeSearcher{}, 5, log.NewNop())
	assert.Equal(t, 5, p.topK)
}
