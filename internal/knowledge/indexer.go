package knowledge

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/uzhavan/uzhavan/internal/log"
)

// DefaultChunkRunes is the target chunk size for ingestion. Chunks follow
// paragraph boundaries where possible.
const DefaultChunkRunes = 1200

// indexable file extensions.
var indexableExts = map[string]struct{}{
	".md":  {},
	".txt": {},
	".csv": {},
}

// Indexer ingests reference files into the knowledge store, one document
// per chunk.
type Indexer struct {
	store  *Store
	logger log.Logger
}

// NewIndexer creates an Indexer backed by store.
func NewIndexer(store *Store, logger log.Logger) *Indexer {
	return &Indexer{store: store, logger: logger}
}

// IngestFile chunks a single file and stores each chunk. Chunks from a
// previous ingestion of the same file are removed first so stale content
// does not linger. Returns the number of chunks stored.
func (ix *Indexer) IngestFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path comes from the operator's CLI invocation
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}

	chunks := ChunkText(string(data), DefaultChunkRunes)
	if len(chunks) == 0 {
		ix.logger.Warn("skipping empty file", "path", path)
		return 0, nil
	}

	sourceRef := filepath.ToSlash(path)
	if _, err := ix.store.DeleteBySource(ctx, sourceRef); err != nil {
		return 0, err
	}

	for i, chunk := range chunks {
		doc := Document{
			ID:        fmt.Sprintf("%s#%04d", sourceRef, i),
			Content:   chunk,
			SourceRef: sourceRef,
			Metadata:  map[string]string{"source_type": "file"},
		}
		if err := ix.store.Add(ctx, doc); err != nil {
			return i, fmt.Errorf("ingesting chunk %d of %s: %w", i, path, err)
		}
	}

	ix.logger.Info("ingested file", "path", path, "chunks", len(chunks))
	return len(chunks), nil
}

// IngestDir walks a directory tree and ingests every markdown, text, and
// CSV file. Returns the total number of chunks stored.
func (ix *Indexer) IngestDir(ctx context.Context, dir string) (int, error) {
	total := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := indexableExts[strings.ToLower(filepath.Ext(path))]; !ok {
			return nil
		}

		n, err := ix.IngestFile(ctx, path)
		if err != nil {
			return err
		}
		total += n
		return nil
	})
	if err != nil {
		return total, fmt.Errorf("walking %s: %w", dir, err)
	}
	return total, nil
}

// ChunkText splits text into chunks of at most maxRunes runes, preferring
// paragraph boundaries. Blank input yields no chunks; a paragraph longer
// than maxRunes is split mid-paragraph.
func ChunkText(text string, maxRunes int) []string {
	if maxRunes <= 0 {
		maxRunes = DefaultChunkRunes
	}

	var chunks []string
	var current strings.Builder
	currentRunes := 0

	flush := func() {
		chunk := strings.TrimSpace(current.String())
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		current.Reset()
		currentRunes = 0
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		paraRunes := len([]rune(para))
		if paraRunes > maxRunes {
			flush()
			for _, piece := range splitRunes(para, maxRunes) {
				chunks = append(chunks, piece)
			}
			continue
		}

		if currentRunes > 0 && currentRunes+paraRunes+2 > maxRunes {
			flush()
		}
		if currentRunes > 0 {
			current.WriteString("\n\n")
			currentRunes += 2
		}
		current.WriteString(para)
		currentRunes += paraRunes
	}
	flush()

	return chunks
}

// splitRunes hard-splits s into pieces of at most n runes.
func splitRunes(s string, n int) []string {
	runes := []rune(s)
	var pieces []string
	for start := 0; start < len(runes); start += n {
		end := start + n
		if end > len(runes) {
			end = len(runes)
		}
		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			pieces = append(pieces, piece)
		}
	}
	return pieces
}
