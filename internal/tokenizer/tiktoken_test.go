package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultModel(t *testing.T) {
	tok, err := New("")
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, tok.Model())
}

func TestNew_UnknownModel(t *testing.T) {
	_, err := New("definitely-not-a-model")
	assert.Error(t, err)
}

func TestCountTokens(t *testing.T) {
	tok, err := New("gpt-4")
	require.NoError(t, err)

	assert.Equal(t, 0, tok.CountTokens(""))
	assert.Equal(t, 2, tok.CountTokens("hello world"))

	short := tok.CountTokens("To be, or not to be")
	long := tok.CountTokens(strings.Repeat("To be, or not to be\n", 10))
	assert.Greater(t, short, 0)
	assert.Greater(t, long, short)
}
