// Package tokens estimates input token counts.
package tokens

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

const encodingName = "cl100k_base"

// Counter counts tokens with the cl100k_base encoding when enabled and falls
// back to a characters/4 estimate otherwise. The encoding is loaded on first
// use; a load failure pins the fallback.
type Counter struct {
	useTiktoken bool
	logger      *slog.Logger

	once sync.Once
	enc  *tiktoken.Tiktoken
}

func NewCounter(useTiktoken bool, logger *slog.Logger) *Counter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Counter{useTiktoken: useTiktoken, logger: logger}
}

// Count returns the token count of text. A nil Counter estimates.
func (c *Counter) Count(text string) int {
	if c == nil || !c.useTiktoken {
		return Estimate(len(text))
	}

	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(encodingName)
		if err != nil {
			c.logger.Error("Failed to get tiktoken encoding, estimating from length", "error", err)
			return
		}
		c.enc = enc
	})
	if c.enc == nil {
		return Estimate(len(text))
	}
	return len(c.enc.Encode(text, nil, nil))
}

// Estimate is ceil(chars/4).
func Estimate(chars int) int {
	if chars <= 0 {
		return 0
	}
	return (chars + 3) / 4
}
