package retrieval

import (
	"strings"

	"github.com/cloo-solutions/tutorion/internal/domain"
)

// DefaultMaxTokens is the chunk budget used when the config leaves it unset.
const DefaultMaxTokens = 2000

// Segment splits text into chunks of whole lines whose token count stays
// within maxTokens. Every line is charged with its trailing newline. A line
// that alone exceeds the budget is bisected at the rune midpoint until each
// piece fits; all pieces but the last become chunks of their own and the last
// one opens the next chunk. A single rune that still exceeds the budget is
// kept as is.
func Segment(text string, maxTokens int, tok Tokenizer) []domain.Chunk {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	var texts []string
	var current []string
	currentTokens := 0

	flush := func() {
		if len(current) > 0 {
			texts = append(texts, strings.Join(current, "\n"))
		}
		current = nil
		currentTokens = 0
	}

	for _, line := range strings.Split(text, "\n") {
		lineTokens := lineCost(tok, line)
		if currentTokens+lineTokens <= maxTokens {
			current = append(current, line)
			currentTokens += lineTokens
			continue
		}

		flush()
		if lineTokens > maxTokens {
			pieces := bisect(line, maxTokens, tok)
			texts = append(texts, pieces[:len(pieces)-1]...)
			line = pieces[len(pieces)-1]
			lineTokens = lineCost(tok, line)
		}
		current = []string{line}
		currentTokens = lineTokens
	}
	flush()

	return domain.ChunksFromTexts(texts)
}

func lineCost(tok Tokenizer, line string) int {
	return tok.CountTokens(line + "\n")
}

// bisect splits line in half by runes, recursively, until every piece fits
// the budget or is a single rune.
func bisect(line string, maxTokens int, tok Tokenizer) []string {
	runes := []rune(line)
	if len(runes) <= 1 || lineCost(tok, line) <= maxTokens {
		return []string{line}
	}
	mid := len(runes) / 2
	left := bisect(string(runes[:mid]), maxTokens, tok)
	right := bisect(string(runes[mid:]), maxTokens, tok)
	return append(left, right...)
}
