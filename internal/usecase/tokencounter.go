package usecase

import (
	"log/slog"

	"github.com/pkoukk/tiktoken-go"
)

// heuristicDivisor is the chars-per-token approximation used when no
// encoding is available. Deterministic and monotonic, which is all the
// allocator requires.
const heuristicDivisor = 4

// TokenCounter estimates token counts via tiktoken, falling back to a
// character heuristic when the encoding cannot be loaded (offline
// environments; tiktoken fetches encoding data lazily).
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	divisor  int
}

// NewTokenCounter creates a counter for the named encoding
// (e.g. "cl100k_base"). divisor is the fallback chars-per-token.
func NewTokenCounter(encodingName string, divisor int, logger *slog.Logger) *TokenCounter {
	if divisor <= 0 {
		divisor = heuristicDivisor
	}
	tc := &TokenCounter{divisor: divisor}
	if encodingName == "" {
		return tc
	}
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		logger.Warn("token encoding unavailable, using character heuristic",
			"encoding", encodingName, "error", err)
		return tc
	}
	tc.encoding = enc
	return tc
}

// CountText implements domain.TokenCounter.
func (t *TokenCounter) CountText(text string) int {
	if text == "" {
		return 0
	}
	if t.encoding != nil {
		return len(t.encoding.Encode(text, nil, nil))
	}
	n := len(text) / t.divisor
	if n == 0 {
		n = 1
	}
	return n
}

// heuristicCounter is a pure chars/divisor counter used by tests and as
// a zero-dependency default.
type heuristicCounter struct{ divisor int }

func (h heuristicCounter) CountText(text string) int {
	if text == "" {
		return 0
	}
	d := h.divisor
	if d <= 0 {
		d = heuristicDivisor
	}
	n := len(text) / d
	if n == 0 {
		n = 1
	}
	return n
}
