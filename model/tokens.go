package model

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

type TokenCounter interface {
	Count(text string) int
}

// TiktokenCounter counts BPE tokens. TinyLlama uses its own tokenizer, the
// cl100k encoding is close enough for budgeting a prompt.
type TiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// NewTokenCounter returns a tiktoken counter, or a word based estimate when
// the encoding cannot be loaded (it is fetched on first use).
func NewTokenCounter(logger *zap.Logger) TokenCounter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		if logger != nil {
			logger.Warn("tiktoken encoding unavailable, estimating tokens from words", zap.Error(err))
		}
		return EstimateCounter{}
	}
	return &TiktokenCounter{enc: enc}
}

func (c *TiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// EstimateCounter counts one token per word plus one per non-ASCII rune.
type EstimateCounter struct{}

func (EstimateCounter) Count(text string) int {
	count := 0
	for _, r := range text {
		if r > 127 {
			count++
		}
	}
	count += len(strings.Fields(text))
	if count == 0 && len(text) > 0 {
		return 1
	}
	return count
}
