package biz

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/internal/pkg/rag/textutil"
	ragopts "github.com/kart-io/sentinel-rag/pkg/options/rag"
)

func newTestChunker(size, overlap int, sentences, paragraphs bool) *Chunker {
	return NewChunker(&ragopts.ChunkingOptions{
		ChunkSize:          size,
		ChunkOverlap:       overlap,
		PreserveSentences:  sentences,
		PreserveParagraphs: paragraphs,
	})
}

func TestChunkSmallBudgetWithOverlap(t *testing.T) {
	c := newTestChunker(5, 1, true, false)
	chunks := c.Chunk("Sentence one. Sentence two. Sentence three.")

	require.Len(t, chunks, 3)
	assert.Equal(t, "Sentence one.", chunks[0].Content)
	assert.Equal(t, "one.\n\nSentence two.", chunks[1].Content)
	assert.Equal(t, "two.\n\nSentence three.", chunks[2].Content)

	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.LessOrEqual(t, ch.TokenCount, 5)
	}
	assert.Equal(t, 13, chunks[0].CharCount)
	assert.Equal(t, 3, chunks[0].TokenCount)

	// 相邻分块共享上一块末尾的字符
	for i := 1; i < len(chunks); i++ {
		prefix := strings.SplitN(chunks[i].Content, "\n\n", 2)[0]
		assert.True(t, strings.HasSuffix(chunks[i-1].Content, prefix))
	}
}

func TestChunkEmptyInput(t *testing.T) {
	c := newTestChunker(800, 200, true, false)
	assert.Empty(t, c.Chunk(""))
	assert.Empty(t, c.Chunk("   \n\t  "))
}

func TestChunkOversizedUnitEmittedWhole(t *testing.T) {
	long := strings.Repeat("word ", 40) + "end"
	c := newTestChunker(5, 0, true, false)
	chunks := c.Chunk("Short. " + long)

	require.Len(t, chunks, 2)
	assert.Equal(t, "Short.", chunks[0].Content)
	assert.Equal(t, long, chunks[1].Content)
	assert.Greater(t, chunks[1].TokenCount, 5)
}

func TestChunkNoOverlapKeepsEveryUnitOnce(t *testing.T) {
	sentences := []string{"Alpha beta gamma.", "Delta epsilon zeta!", "Eta theta iota?", "Kappa lambda mu."}
	c := newTestChunker(8, 0, true, false)
	chunks := c.Chunk(strings.Join(sentences, " "))
	require.NotEmpty(t, chunks)

	var units []string
	for _, ch := range chunks {
		units = append(units, strings.Split(ch.Content, "\n\n")...)
	}
	assert.Equal(t, sentences, units)

	require.Len(t, chunks, 3)
	for _, ch := range chunks {
		assert.LessOrEqual(t, ch.TokenCount, 8)
	}
}

func TestChunkOverlapStrippedReconstructsText(t *testing.T) {
	sentences := make([]string, 30)
	for i := range sentences {
		sentences[i] = fmt.Sprintf("Sentence number %d is here.", i)
	}
	const overlap = 3
	c := newTestChunker(20, overlap, true, false)
	chunks := c.Chunk(strings.Join(sentences, " "))
	require.Greater(t, len(chunks), 1)

	var units []string
	seeded := 0
	for i, ch := range chunks {
		content := ch.Content
		if i > 0 {
			prefix := strings.TrimSpace(textutil.Tail(chunks[i-1].Content, overlap*textutil.CharsPerToken)) + "\n\n"
			if strings.HasPrefix(content, prefix) {
				content = strings.TrimPrefix(content, prefix)
				seeded++
			}
		}
		units = append(units, strings.Split(content, "\n\n")...)
		assert.LessOrEqual(t, ch.TokenCount, 20)
	}
	assert.Equal(t, sentences, units)
	assert.Equal(t, len(chunks)-1, seeded)
}

func TestChunkDropsSeedThatExceedsBudget(t *testing.T) {
	c := newTestChunker(5, 2, true, false)
	chunks := c.Chunk("Short one. A much longer line. Tiny.")

	require.Len(t, chunks, 3)
	assert.Equal(t, "Short one.", chunks[0].Content)
	// "ort one." 作为前缀会超出预算，只保留句子本身
	assert.Equal(t, "A much longer line.", chunks[1].Content)
	assert.Equal(t, "er line.\n\nTiny.", chunks[2].Content)
}

func TestChunkWithoutSentencePreservation(t *testing.T) {
	text := "One. Two. Three."
	c := newTestChunker(1, 0, false, false)
	chunks := c.Chunk(text)
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0].Content)
}

func TestChunkParagraphs(t *testing.T) {
	c := newTestChunker(800, 0, true, true)
	chunks := c.Chunk("First paragraph.\n\n\n\nSecond paragraph. Still second.")
	require.Len(t, chunks, 1)
	assert.Equal(t, "First paragraph.\n\nSecond paragraph.\n\nStill second.", chunks[0].Content)
}

func TestChunkDeterministic(t *testing.T) {
	text := strings.Repeat("The quick brown fox jumps over the lazy dog. ", 200)
	c := newTestChunker(50, 10, true, false)
	first := c.Chunk(text)
	for i := 0; i < 3; i++ {
		assert.Equal(t, first, c.Chunk(text))
	}
	for _, ch := range first {
		assert.LessOrEqual(t, textutil.EstimateTokens(ch.Content), 50)
	}
}

func TestNewChunkerDefaults(t *testing.T) {
	c := NewChunker(nil)
	assert.Equal(t, 800, c.size)
	assert.Equal(t, 200, c.overlap)
	assert.True(t, c.preserveSentences)
}
