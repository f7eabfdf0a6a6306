package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/pgvector/pgvector-go"

	"github.com/uzhavan/uzhavan/internal/log"
)

// DB is the database surface Store needs. *pgxpool.Pool satisfies it.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store manages knowledge documents with vector search.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	db       DB
	embedder ai.Embedder
	logger   log.Logger
}

// NewStore creates a knowledge store. The embedder must produce vectors of
// VectorDimension width.
func NewStore(db DB, embedder ai.Embedder, logger log.Logger) *Store {
	return &Store{db: db, embedder: embedder, logger: logger}
}

// Add embeds a document's content and upserts it. Re-adding a document
// with the same ID replaces its content and embedding.
func (s *Store) Add(ctx context.Context, doc Document) error {
	if doc.ID == "" {
		return errors.New("document ID must not be empty")
	}
	if doc.Content == "" {
		return fmt.Errorf("document %q has empty content", doc.ID)
	}

	embedding, err := s.embed(ctx, doc.Content)
	if err != nil {
		return fmt.Errorf("embedding document %q: %w", doc.ID, err)
	}

	metadataJSON, err := json.Marshal(doc.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata for %q: %w", doc.ID, err)
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO documents (id, content, source_ref, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			source_ref = EXCLUDED.source_ref,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`,
		doc.ID, doc.Content, doc.SourceRef, embedding, metadataJSON)
	if err != nil {
		return fmt.Errorf("upserting document %q: %w", doc.ID, err)
	}

	s.logger.Debug("added document", "id", doc.ID, "source", doc.SourceRef,
		"content_length", len(doc.Content))
	return nil
}

// Search embeds the query and returns the most similar documents ordered
// by similarity descending. A timeout guards both the embedding call and
// the vector query.
func (s *Store) Search(ctx context.Context, query string, opts ...SearchOption) ([]Result, error) {
	cfg := buildSearchConfig(opts)

	queryCtx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()

	embedding, err := s.embed(queryCtx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	// Cosine distance operator; similarity = 1 - distance. The metadata
	// filter uses the JSONB containment operator with a marshaled
	// parameter, never interpolated user input.
	sql := `
		SELECT id, content, source_ref, metadata, created_at,
		       1 - (embedding <=> $1) AS similarity
		FROM documents`
	args := []any{embedding}

	if len(cfg.filter) > 0 {
		filterJSON, err := json.Marshal(cfg.filter)
		if err != nil {
			return nil, fmt.Errorf("marshaling filter: %w", err)
		}
		sql += ` WHERE metadata @> $2 ORDER BY embedding <=> $1 LIMIT $3`
		args = append(args, filterJSON, cfg.topK)
	} else {
		sql += ` ORDER BY embedding <=> $1 LIMIT $2`
		args = append(args, cfg.topK)
	}

	rows, err := s.db.Query(queryCtx, sql, args...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("vector search timeout: %w", err)
		}
		return nil, fmt.Errorf("vector search: %w", err)
	}
	defer rows.Close()

	return s.scanResults(rows)
}

// Count returns the total number of stored documents.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM documents`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting documents: %w", err)
	}
	return count, nil
}

// Delete removes a document by ID. Deleting an unknown ID is not an error.
func (s *Store) Delete(ctx context.Context, docID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM documents WHERE id = $1`, docID); err != nil {
		return fmt.Errorf("deleting document %q: %w", docID, err)
	}
	s.logger.Debug("deleted document", "id", docID)
	return nil
}

// DeleteBySource removes all chunks ingested from a source. Used before
// re-ingesting a changed file so stale chunks do not linger.
func (s *Store) DeleteBySource(ctx context.Context, sourceRef string) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM documents WHERE source_ref = $1`, sourceRef)
	if err != nil {
		return 0, fmt.Errorf("deleting documents from %q: %w", sourceRef, err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) embed(ctx context.Context, text string) (pgvector.Vector, error) {
	resp, err := s.embedder.Embed(ctx, &ai.EmbedRequest{
		Input: []*ai.Document{
			{Content: []*ai.Part{ai.NewTextPart(text)}},
		},
	})
	if err != nil {
		return pgvector.Vector{}, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return pgvector.Vector{}, errors.New("embedder returned empty embedding")
	}

	vec := resp.Embeddings[0].Embedding
	if len(vec) != VectorDimension {
		return pgvector.Vector{}, fmt.Errorf("embedder returned %d dimensions, schema expects %d",
			len(vec), VectorDimension)
	}
	return pgvector.NewVector(vec), nil
}

func (s *Store) scanResults(rows pgx.Rows) ([]Result, error) {
	results := make([]Result, 0, defaultTopK)
	for rows.Next() {
		var (
			res          Result
			metadataJSON []byte
			createdAt    pgtype.Timestamptz
		)
		if err := rows.Scan(&res.Document.ID, &res.Document.Content,
			&res.Document.SourceRef, &metadataJSON, &createdAt, &res.Similarity); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}

		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &res.Document.Metadata); err != nil {
				s.logger.Warn("unparseable document metadata",
					"document_id", res.Document.ID, "error", err)
			}
		}
		res.Document.CreatedAt = createdAt.Time
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating search results: %w", err)
	}
	return results, nil
}
