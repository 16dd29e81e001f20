package tokenizer

import (
	"log/slog"
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const encodingName = "cl100k_base"

// Counter estimates prompt sizes with the cl100k_base encoding. When the encoding
// cannot be loaded it falls back to a characters-per-token heuristic.
type Counter struct {
	logger *slog.Logger
	once   sync.Once
	enc    *tiktoken.Tiktoken
	load   func(string) (*tiktoken.Tiktoken, error)
}

// NewCounter constructs a Counter. The encoding is loaded on first use.
func NewCounter(logger *slog.Logger) *Counter {
	return &Counter{logger: logger.With("component", "tokenizer"), load: tiktoken.GetEncoding}
}

// Count returns the estimated token count of text.
func (c *Counter) Count(text string) int {
	if text == "" {
		return 0
	}
	c.once.Do(func() {
		enc, err := c.load(encodingName)
		if err != nil {
			c.logger.Warn("tokenizer unavailable, using heuristic estimate", "encoding", encodingName, "error", err)
			return
		}
		c.enc = enc
	})
	if c.enc == nil {
		return Estimate(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// Estimate approximates token count as one token per four characters.
func Estimate(text string) int {
	runes := utf8.RuneCountInString(text)
	if runes == 0 {
		return 0
	}
	return (runes + 3) / 4
}

// Heuristic counts tokens with Estimate only, for environments that cannot fetch the encoding.
type Heuristic struct{}

// Count implements the token counter contract.
func (Heuristic) Count(text string) int {
	return Estimate(text)
}
