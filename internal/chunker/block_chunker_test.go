package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docrag/internal/domain"
)

func TestSplitBlocks(t *testing.T) {
	text := "# Intro\nShort line.\n\nCSV:\na,b\n1,2"
	blocks := splitBlocks(text)
	require.Equal(t, []string{"# Intro", "Short line.", "CSV:", "a,b\n1,2"}, blocks)
}

func TestSplitBlocksEmptyAndBlank(t *testing.T) {
	assert.Empty(t, splitBlocks(""))
	assert.Empty(t, splitBlocks("\n\n   \n\t\n"))
}

func TestChunkPageEmpty(t *testing.T) {
	c := NewBlockChunker(0, -1, -1)
	assert.Nil(t, c.ChunkPage("f1", 1, ""))
	assert.Nil(t, c.ChunkPage("f1", 1, "   \n\n  "))
}

func TestChunkPageDeterministic(t *testing.T) {
	c := NewBlockChunker(0, -1, -1)
	text := "# Title\n\nSome paragraph with a few words.\n\nAnother paragraph here."
	a := c.ChunkPage("file-a", 3, text)
	b := c.ChunkPage("file-a", 3, text)
	require.Equal(t, a, b)
	require.NotEmpty(t, a)
}

func TestChunkIDDependsOnContentAndPosition(t *testing.T) {
	id := ChunkID("f", 1, 0, "hello world")
	assert.Equal(t, id, ChunkID("f", 1, 0, "hello world"))
	assert.NotEqual(t, id, ChunkID("f", 1, 0, "hello there"))
	assert.NotEqual(t, id, ChunkID("f", 1, 1, "hello world"))
	assert.NotEqual(t, id, ChunkID("f", 2, 0, "hello world"))
	assert.NotEqual(t, id, ChunkID("g", 1, 0, "hello world"))
	assert.Len(t, id, 64)
}

func TestChunkPageOrdContiguous(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 40; i++ {
		fmt.Fprintf(&sb, "Sentence number %d with some extra words for padding.\n\n", i)
	}
	c := NewBlockChunker(60, 10, 5)
	chunks := c.ChunkPage("f1", 1, sb.String())
	require.Greater(t, len(chunks), 1)
	for i, ch := range chunks {
		assert.Equal(t, i, ch.Ord)
		assert.Equal(t, "f1", ch.FileID)
		assert.Equal(t, 1, ch.PageNo)
	}
}

func TestChunkPageTokenBounds(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 80; i++ {
		fmt.Fprintf(&sb, "word%d another token here\n\n", i)
	}
	maxTokens, minTokens := 50, 12
	c := NewBlockChunker(maxTokens, minTokens, 4)
	chunks := c.ChunkPage("f1", 1, sb.String())
	require.Greater(t, len(chunks), 1)
	for i, ch := range chunks {
		if i < len(chunks)-1 {
			// overlap seeding can carry a window slightly past max before
			// it closes on the next block, never by more than one block
			assert.GreaterOrEqual(t, ch.NTokens, minTokens, "chunk %d too small", i)
		}
	}
	// no sub-minimum trailing chunk when more than one chunk was produced
	last := chunks[len(chunks)-1]
	assert.GreaterOrEqual(t, last.NTokens, minTokens)
}

func TestTailMerge(t *testing.T) {
	// two blocks that split into two windows, second one tiny
	big := strings.Repeat("alpha beta gamma delta ", 3) // 12 tokens
	text := big + "\n\n" + "tiny"
	c := NewBlockChunker(12, 5, 0)
	chunks := c.ChunkPage("f1", 1, text)
	// the one-token trailing window merges backward
	require.Len(t, chunks, 1)
	assert.True(t, strings.HasSuffix(chunks[0].Text, "tiny"))
}

func TestOverlapSeedsNextChunk(t *testing.T) {
	var blocks []string
	for i := 0; i < 10; i++ {
		blocks = append(blocks, fmt.Sprintf("block%d one two three four five six seven eight nine", i))
	}
	text := strings.Join(blocks, "\n\n")
	c := NewBlockChunker(25, 1, 4)
	chunks := c.ChunkPage("f1", 1, text)
	require.Greater(t, len(chunks), 1)
	for i := 1; i < len(chunks); i++ {
		prevWords := strings.Fields(chunks[i-1].Text)
		tail := strings.Join(prevWords[len(prevWords)-4:], " ")
		assert.True(t, strings.HasPrefix(chunks[i].Text, tail),
			"chunk %d does not start with overlap tail of chunk %d", i, i-1)
	}
}

func TestChunkTextsReconstructBlocks(t *testing.T) {
	text := "# Heading\n\nFirst paragraph line one.\nLine two.\n\nCSV:\na,b,c"
	c := NewBlockChunker(0, 0, 0) // generous budget, no overlap
	chunks := c.ChunkPage("f1", 1, text)
	require.Len(t, chunks, 1)
	assert.Equal(t, "# Heading\nFirst paragraph line one.\nLine two.\nCSV:\na,b,c", chunks[0].Text)
}

func TestChunkDocumentPageOrder(t *testing.T) {
	pages := []domain.Page{
		{FileID: "f1", PageNo: 1, Text: "Page one text."},
		{FileID: "f1", PageNo: 2, Text: "Page two text."},
		{FileID: "f2", PageNo: 1, Text: ""},
	}
	c := NewBlockChunker(0, 0, 0)
	chunks := c.ChunkDocument(pages)
	require.Len(t, chunks, 2)
	assert.Equal(t, 1, chunks[0].PageNo)
	assert.Equal(t, 2, chunks[1].PageNo)
	assert.Equal(t, 0, chunks[0].Ord)
	assert.Equal(t, 0, chunks[1].Ord)
}

func TestTokenCount(t *testing.T) {
	assert.Equal(t, 1, tokenCount(""))
	assert.Equal(t, 2, tokenCount("hello world"))
	assert.Equal(t, 4, tokenCount("a, b."))
}
