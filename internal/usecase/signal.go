package usecase

import (
	"strings"
	"time"
	"unicode"

	"conductor/internal/domain"
)

// recencyBreakpoints map time-since-last-access to a score. Evaluated
// in order; the first matching window wins.
var recencyBreakpoints = []struct {
	within time.Duration
	score  int
}{
	{5 * time.Minute, 100},
	{15 * time.Minute, 80},
	{time.Hour, 50},
	{4 * time.Hour, 20},
}

// frequencyScores is a saturating lookup of access count to score.
// Counts beyond the table score 100.
var frequencyScores = []int{0, 30, 45, 60, 70, 80, 85, 90, 95, 98}

// SignalScorer computes independent per-candidate signal scores from a
// request and catalog metadata. Pure: no state, no side effects.
type SignalScorer struct{}

// NewSignalScorer creates a SignalScorer.
func NewSignalScorer() *SignalScorer {
	return &SignalScorer{}
}

// Score returns the signal vector for one candidate. stats may be nil
// when the entry was never accessed; now anchors the recency decay.
func (s *SignalScorer) Score(requestText string, entry domain.CatalogEntry, stats *domain.AccessStats, now time.Time) []domain.Signal {
	var signals []domain.Signal

	kw, kwTerm := s.keywordScore(requestText, entry.TriggerTerms)
	signals = append(signals, domain.Signal{
		Kind: domain.SignalKeyword, Source: "trigger_terms", Weight: kw, MatchedTerm: kwTerm,
	})

	signals = append(signals, domain.Signal{
		Kind: domain.SignalRecency, Source: "session_history", Weight: s.recencyScore(stats, now),
	})

	signals = append(signals, domain.Signal{
		Kind: domain.SignalFrequency, Source: "session_history", Weight: s.frequencyScore(stats),
	})

	rel, relTag := s.relevanceScore(requestText, entry.Tags)
	signals = append(signals, domain.Signal{
		Kind: domain.SignalRelevance, Source: "tags", Weight: rel, MatchedTerm: relTag,
	})

	return signals
}

// keywordScore is the scaled fraction of trigger terms present in the
// lower-cased request. Multi-word terms count double: an exact phrase
// match is a stronger hint than a lone word.
func (s *SignalScorer) keywordScore(requestText string, terms []string) (int, string) {
	if len(terms) == 0 || strings.TrimSpace(requestText) == "" {
		return 0, ""
	}
	lower := strings.ToLower(requestText)

	var hits, possible int
	var firstMatch string
	for _, term := range terms {
		t := strings.ToLower(strings.TrimSpace(term))
		if t == "" {
			continue
		}
		phrase := strings.ContainsRune(t, ' ')
		weight := 1
		if phrase {
			weight = 2
		}
		possible += weight
		if containsTerm(lower, t) {
			hits += weight
			if firstMatch == "" {
				firstMatch = t
			}
		}
	}
	if possible == 0 {
		return 0, ""
	}
	return clampScore(hits * 100 / possible), firstMatch
}

// containsTerm reports whether term occurs in text on word boundaries.
// Phrases match as substrings; single words must not be embedded in a
// longer word ("api" must not match "rapid").
func containsTerm(text, term string) bool {
	if strings.ContainsRune(term, ' ') {
		return strings.Contains(text, term)
	}
	idx := 0
	for {
		i := strings.Index(text[idx:], term)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(term)
		beforeOK := start == 0 || !isWordByte(text[start-1])
		afterOK := end == len(text) || !isWordByte(text[end])
		if beforeOK && afterOK {
			return true
		}
		idx = start + 1
	}
}

func isWordByte(b byte) bool {
	return b == '_' || unicode.IsLetter(rune(b)) || unicode.IsDigit(rune(b))
}

// recencyScore decays from 100 toward 0 over fixed breakpoints.
func (s *SignalScorer) recencyScore(stats *domain.AccessStats, now time.Time) int {
	if stats == nil || stats.LastAccess.IsZero() {
		return 0
	}
	age := now.Sub(stats.LastAccess)
	if age < 0 {
		age = 0
	}
	for _, bp := range recencyBreakpoints {
		if age < bp.within {
			return bp.score
		}
	}
	return 0
}

// frequencyScore saturates after a handful of uses.
func (s *SignalScorer) frequencyScore(stats *domain.AccessStats) int {
	if stats == nil || stats.AccessCount <= 0 {
		return 0
	}
	if stats.AccessCount >= len(frequencyScores) {
		return 100
	}
	return frequencyScores[stats.AccessCount]
}

// relevanceScore measures tag overlap with the request's terms. Unlike
// the keyword signal this is tag-based, not phrase-based.
func (s *SignalScorer) relevanceScore(requestText string, tags []string) (int, string) {
	if len(tags) == 0 || strings.TrimSpace(requestText) == "" {
		return 0, ""
	}
	terms := extractTerms(requestText)
	if len(terms) == 0 {
		return 0, ""
	}

	var matched int
	var firstMatch string
	for _, tag := range tags {
		t := strings.ToLower(strings.TrimSpace(tag))
		if t == "" {
			continue
		}
		if _, ok := terms[t]; ok {
			matched++
			if firstMatch == "" {
				firstMatch = t
			}
		}
	}
	return clampScore(matched * 100 / len(tags)), firstMatch
}

// extractTerms tokenizes a request into a lower-cased word set,
// dropping short function words that never carry intent.
func extractTerms(text string) map[string]struct{} {
	terms := make(map[string]struct{})
	word := strings.Builder{}
	flush := func() {
		if word.Len() >= 3 {
			terms[word.String()] = struct{}{}
		}
		word.Reset()
	}
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_' {
			word.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()
	for _, stop := range stopWords {
		delete(terms, stop)
	}
	return terms
}

var stopWords = []string{"the", "and", "for", "with", "that", "this", "from", "into", "are", "was", "can", "you", "please"}

func clampScore(n int) int {
	if n < 0 {
		return 0
	}
	if n > 100 {
		return 100
	}
	return n
}
