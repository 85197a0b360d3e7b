package ai

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter estimates prompt sizes with a tiktoken encoding. The numbers
// feed metrics only; Workers AI models use their own tokenizers.
type TokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter loads the named encoding (e.g. "cl100k_base"). The first call
// may download the BPE ranks unless TIKTOKEN_CACHE_DIR holds them.
func NewTokenCounter(encoding string) (*TokenCounter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("tiktoken encoding %q: %w", encoding, err)
	}
	return &TokenCounter{enc: enc}, nil
}

func (t *TokenCounter) Count(text string) int {
	if t == nil || t.enc == nil || text == "" {
		return 0
	}
	return len(t.enc.Encode(text, nil, nil))
}
