package knowledge

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkText(t *testing.T) {
	t.Run("empty input yields no chunks", func(t *testing.T) {
		assert.Empty(t, ChunkText("", 100))
		assert.Empty(t, ChunkText("\n\n  \n\n", 100))
	})

	t.Run("short text is one chunk", func(t *testing.T) {
		chunks := ChunkText("Paddy needs standing water.", 100)
		require.Len(t, chunks, 1)
		assert.Equal(t, "Paddy needs standing water.", chunks[0])
	})

	t.Run("paragraphs group until the limit", func(t *testing.T) {
		a := strings.Repeat("a", 40)
		b := strings.Repeat("b", 40)
		c := strings.Repeat("c", 40)
		chunks := ChunkText(a+"\n\n"+b+"\n\n"+c, 90)
		require.Len(t, chunks, 2)
		assert.Equal(t, a+"\n\n"+b, chunks[0])
		assert.Equal(t, c, chunks[1])
	})

	t.Run("oversize paragraph split hard", func(t *testing.T) {
		long := strings.Repeat("x", 250)
		chunks := ChunkText(long, 100)
		require.Len(t, chunks, 3)
		for _, c := range chunks {
			assert.LessOrEqual(t, utf8.RuneCountInString(c), 100)
		}
		assert.Equal(t, long, strings.Join(chunks, ""))
	})

	t.Run("rune safe splitting", func(t *testing.T) {
		long := strings.Repeat("வே", 120)
		for _, c := range ChunkText(long, 100) {
			assert.True(t, utf8.ValidString(c))
		}
	})

	t.Run("no chunk exceeds the limit", func(t *testing.T) {
		text := strings.Repeat("word ", 500) + "\n\n" + strings.Repeat("term ", 500)
		for _, c := range ChunkText(text, 300) {
			assert.LessOrEqual(t, utf8.RuneCountInString(c), 300)
		}
	})
}

func TestSearchOptions(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := buildSearchConfig(nil)
		assert.Equal(t, defaultTopK, cfg.topK)
		assert.Equal(t, defaultSearchTimeout, cfg.timeout)
		assert.Nil(t, cfg.filter)
	})

	t.Run("options applied", func(t *testing.T) {
		cfg := buildSearchConfig([]SearchOption{
			WithTopK(7),
			WithFilter("source_type", "file"),
			WithFilter("crop", "paddy"),
		})
		assert.Equal(t, 7, cfg.topK)
		assert.Equal(t, map[string]string{"source_type": "file", "crop": "paddy"}, cfg.filter)
	})

	t.Run("non-positive top-k ignored", func(t *testing.T) {
		cfg := buildSearchConfig([]SearchOption{WithTopK(0)})
		assert.Equal(t, defaultTopK, cfg.topK)
	})
}
