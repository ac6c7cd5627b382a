package llm

import (
	"fmt"
	"unicode/utf8"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter measures text in cl100k_base tokens. It is a close enough
// estimate for every provider to budget max_tokens and trim context.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter loads the cl100k_base encoding.
func NewTokenCounter() (*TokenCounter, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("failed to get tokenizer encoding: %w", err)
	}
	return &TokenCounter{codec: codec}, nil
}

// Count returns the number of tokens in s.
func (c *TokenCounter) Count(s string) int {
	if s == "" {
		return 0
	}
	ids, _, err := c.codec.Encode(s)
	if err != nil {
		// Fall back to a rough rune estimate.
		return utf8.RuneCountInString(s)
	}
	return len(ids)
}

// Truncate returns the longest prefix of s within maxTokens tokens.
func (c *TokenCounter) Truncate(s string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	ids, _, err := c.codec.Encode(s)
	if err != nil || len(ids) <= maxTokens {
		return s
	}
	out, err := c.codec.Decode(ids[:maxTokens])
	if err != nil {
		return s
	}
	// A cut inside a multi-byte rune decodes to a replacement character.
	for len(out) > 0 {
		r, size := utf8.DecodeLastRuneInString(out)
		if r != utf8.RuneError {
			break
		}
		out = out[:len(out)-size]
	}
	return out
}
