// Package tokenizer counts tokens the way the embedding and chat models do.
package tokenizer

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// DefaultModel selects the cl100k_base encoding.
const DefaultModel = "gpt-4"

var loaderOnce sync.Once

// Tiktoken counts tokens with a BPE encoding bundled in the binary, so no
// network access is needed at runtime.
type Tiktoken struct {
	model string
	enc   *tiktoken.Tiktoken
}

// New returns a tokenizer for the encoding used by model. An empty model
// selects DefaultModel.
func New(model string) (*Tiktoken, error) {
	if model == "" {
		model = DefaultModel
	}

	loaderOnce.Do(func() {
		tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
	})

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, fmt.Errorf("failed to load encoding for model %q: %w", model, err)
	}
	return &Tiktoken{model: model, enc: enc}, nil
}

// CountTokens returns the number of tokens in text. Special-token markers in
// text are counted as ordinary text.
func (t *Tiktoken) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}

// Model returns the model name the encoding was selected for.
func (t *Tiktoken) Model() string {
	return t.model
}
