package retrieval

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/tutorion/internal/domain"
	"github.com/cloo-solutions/tutorion/internal/tokenizer"
)

func TestSegment_GroupsWholeLines(t *testing.T) {
	text := "a b c\nd e\nf g h i"

	chunks := Segment(text, 5, wordTokenizer)

	require.Len(t, chunks, 2)
	assert.Equal(t, "a b c\nd e", chunks[0].Text)
	assert.Equal(t, "f g h i", chunks[1].Text)
	assert.Equal(t, 0, chunks[0].Ordinal)
	assert.Equal(t, 1, chunks[1].Ordinal)
}

func TestSegment_SingleChunkWhenBudgetAllows(t *testing.T) {
	text := "\"To be or not to be\" is a famous line.\nIt was written by Shakespeare."

	chunks := Segment(text, 100, wordTokenizer)

	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0].Text)
}

func TestSegment_RespectsTokenBound(t *testing.T) {
	var lines []string
	for i := 0; i < 40; i++ {
		lines = append(lines, strings.Repeat("word ", i%7+1))
	}
	text := strings.Join(lines, "\n")

	chunks := Segment(text, 10, wordTokenizer)

	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.LessOrEqual(t, wordTokenizer.CountTokens(c.Text), 10, "chunk %d", c.Ordinal)
	}
}

func TestSegment_RespectsTokenBoundWithTiktoken(t *testing.T) {
	tok, err := tokenizer.New("gpt-4")
	require.NoError(t, err)

	lines := []string{
		"ACT III. SCENE I. A room in the castle.",
		"",
		"\"To be, or not to be, that is the question:\"",
		strings.Repeat("Whether 'tis nobler in the mind to suffer ", 12),
		"The slings and arrows of outrageous fortune,",
		"Or to take arms against a sea of troubles",
	}
	text := strings.Join(lines, "\n")
	const maxTokens = 24

	chunks := Segment(text, maxTokens, tok)

	require.Greater(t, len(chunks), 1)
	var rebuilt strings.Builder
	for _, c := range chunks {
		cost := 0
		for _, line := range strings.Split(c.Text, "\n") {
			cost += tok.CountTokens(line + "\n")
		}
		if len([]rune(c.Text)) > 1 {
			assert.LessOrEqual(t, cost, maxTokens, "chunk %d", c.Ordinal)
		}
		rebuilt.WriteString(strings.ReplaceAll(c.Text, "\n", ""))
	}
	assert.Equal(t, strings.ReplaceAll(text, "\n", ""), rebuilt.String())
}

func TestSegment_CoversTextWithoutBisection(t *testing.T) {
	text := "ACT I\nSCENE I. Elsinore. A platform before the castle.\n\nFRANCISCO at his post.\nEnter to him BERNARDO\n"

	chunks := Segment(text, 10, wordTokenizer)

	assert.Equal(t, text, strings.Join(domain.ChunkTexts(chunks), "\n"))
}

func TestSegment_BisectsOverlongLine(t *testing.T) {
	line := "one two three four five six seven"

	chunks := Segment(line, 2, wordTokenizer)

	require.Greater(t, len(chunks), 1)
	var rebuilt strings.Builder
	for _, c := range chunks {
		assert.LessOrEqual(t, wordTokenizer.CountTokens(c.Text), 2)
		rebuilt.WriteString(c.Text)
	}
	assert.Equal(t, line, rebuilt.String())
}

func TestSegment_LastPieceOpensNextChunk(t *testing.T) {
	runeCounter := TokenizerFunc(func(text string) int {
		return len([]rune(strings.TrimSuffix(text, "\n")))
	})

	chunks := Segment("abcdef\nxy", 4, runeCounter)

	// "def" opens a chunk but "xy" no longer fits next to it.
	require.Len(t, chunks, 3)
	assert.Equal(t, "abc", chunks[0].Text)
	assert.Equal(t, "def", chunks[1].Text)
	assert.Equal(t, "xy", chunks[2].Text)
}

func TestSegment_KeepsOversizedSingleRune(t *testing.T) {
	expensive := TokenizerFunc(func(text string) int {
		if strings.TrimSpace(text) == "" {
			return 0
		}
		return 10
	})

	chunks := Segment("ab", 5, expensive)

	require.Len(t, chunks, 2)
	assert.Equal(t, "a", chunks[0].Text)
	assert.Equal(t, "b", chunks[1].Text)
}

func TestSegment_Deterministic(t *testing.T) {
	text := strings.Repeat("the quick brown fox jumps over the lazy dog\n", 30)

	first := Segment(text, 17, wordTokenizer)
	second := Segment(text, 17, wordTokenizer)

	assert.Equal(t, first, second)
}

func TestSegment_DefaultBudget(t *testing.T) {
	text := strings.Repeat("w ", DefaultMaxTokens/2)

	chunks := Segment(text, 0, wordTokenizer)

	assert.Len(t, chunks, 1)
}
