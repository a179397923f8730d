package loader

import (
	"strings"
	"testing"
	"unicode/utf8"

	"docchat/types"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDoc() *types.Document {
	return &types.Document{
		ID:       uuid.New(),
		FileName: "guide.pdf",
		Path:     "/data/uploads/guide.pdf",
	}
}

func TestChunkerRecursive(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 40)
	pages := []types.Page{
		{Number: 1, Text: text},
		{Number: 2, Text: "   \n "},
		{Number: 3, Text: "Short closing page."},
	}

	c := NewChunker(types.ChunkRecursive, 100, 20, nil)
	chunks, err := c.Split(testDoc(), pages)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	for i, ch := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Content), 100)
		assert.Equal(t, i, ch.Index)
		assert.Equal(t, "guide.pdf", ch.Source)
		assert.Equal(t, "/data/uploads/guide.pdf", ch.Path)
		assert.NotEqual(t, 2, ch.Page, "blank page must not produce chunks")
		assert.Positive(t, ch.TokenCount)
	}
	last := chunks[len(chunks)-1]
	assert.Equal(t, 3, last.Page)
	assert.Equal(t, "Short closing page.", last.Content)
}

func TestChunkerWords(t *testing.T) {
	pages := []types.Page{{Number: 1, Text: "a b c d e f g h i j"}}

	c := NewChunker(types.ChunkWords, 4, 1, nil)
	chunks, err := c.Split(testDoc(), pages)
	require.NoError(t, err)

	var contents []string
	for _, ch := range chunks {
		contents = append(contents, ch.Content)
	}
	assert.Equal(t, []string{"a b c d", "d e f g", "g h i j"}, contents)
}

func TestChunkerNoText(t *testing.T) {
	c := NewChunker(types.ChunkRecursive, 100, 10, nil)
	chunks, err := c.Split(testDoc(), []types.Page{{Number: 1, Text: ""}})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}
